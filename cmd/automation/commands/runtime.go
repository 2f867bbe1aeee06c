package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/automation/pkg/config"
	"github.com/openfroyo/automation/pkg/engine"
	"github.com/openfroyo/automation/pkg/policy"
	"github.com/openfroyo/automation/pkg/script"
	"github.com/openfroyo/automation/pkg/stores"
	"github.com/openfroyo/automation/pkg/telemetry"
)

// runtime bundles the collaborators shared by the commands.
type runtime struct {
	settings *config.Settings
	logger   zerolog.Logger
	tel      *telemetry.Telemetry
	loader   *config.Loader
	policies *policy.Engine
	store    *stores.SQLiteStore
}

type runtimeOptions struct {
	// withStore opens the SQLite store. requireStore fails when no
	// database path is known; otherwise a store is only opened for --db.
	withStore    bool
	requireStore bool
}

func newRuntime(ctx context.Context, opts runtimeOptions) (*runtime, context.Context, error) {
	settings, err := config.LoadSettings(configPath)
	if err != nil {
		return nil, ctx, err
	}

	rt := &runtime{
		settings: settings,
		logger:   log.Logger,
		loader:   config.NewLoader(),
	}

	rt.tel, err = telemetry.NewTelemetry(settings.Telemetry)
	if err != nil {
		return nil, ctx, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	ctx = rt.tel.WithContext(ctx)

	rt.policies, err = policy.NewEngine(rt.logger)
	if err != nil {
		rt.Close(ctx)
		return nil, ctx, fmt.Errorf("failed to initialize policy engine: %w", err)
	}
	if len(settings.Policies) > 0 {
		if err := rt.policies.LoadPolicies(ctx, settings.Policies); err != nil {
			rt.Close(ctx)
			return nil, ctx, err
		}
	}

	if opts.withStore {
		path := dbPath
		if path == "" && opts.requireStore {
			path = settings.Store.Path
		}
		if path != "" {
			if rt.store, err = openStore(ctx, path); err != nil {
				rt.Close(ctx)
				return nil, ctx, err
			}
		}
	}

	return rt, ctx, nil
}

func openStore(ctx context.Context, path string) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the store and flushes telemetry.
func (rt *runtime) Close(ctx context.Context) {
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			rt.logger.Warn().Err(err).Msg("Failed to close store")
		}
	}
	if rt.tel != nil {
		if err := rt.tel.Shutdown(context.WithoutCancel(ctx)); err != nil {
			rt.logger.Debug().Err(err).Msg("Telemetry shutdown failed")
		}
	}
}

// dependencies registers the collaborators providers are built against.
// Entity lookups are only available with a store.
func (rt *runtime) dependencies() *engine.DependencyContext {
	dc := engine.NewDependencyContext().
		Register(engine.DependencyHTTPClient, &http.Client{Timeout: rt.settings.HTTP.Timeout}).
		Register(engine.DependencyScripts, script.NewEvaluator(rt.settings.Script, rt.logger)).
		Register(engine.DependencyConditions, policy.NewConditions()).
		Register(engine.DependencyTelemetry, rt.tel)
	if rt.store != nil {
		dc.Register(engine.DependencyEntityRepository, rt.store)
	}
	return dc
}

// tenant returns t, or the settings default when t is empty.
func (rt *runtime) tenant(t string) string {
	if t != "" {
		return t
	}
	return rt.settings.Tenant
}

// readJSONArg decodes an inline JSON argument. "@path" reads the file at
// path and "-" reads stdin.
func readJSONArg(arg string, stdin io.Reader) ([]byte, error) {
	var content []byte
	switch {
	case arg == "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		content = b
	case strings.HasPrefix(arg, "@"):
		b, err := os.ReadFile(arg[1:])
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", arg[1:], err)
		}
		content = b
	default:
		content = []byte(arg)
	}
	if !json.Valid(content) {
		return nil, fmt.Errorf("argument is not valid JSON: %s", truncate(string(content), 60))
	}
	return content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
