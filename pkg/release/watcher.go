package release

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/openfroyo/automation/pkg/config"
	"github.com/openfroyo/automation/pkg/telemetry"
)

// Watcher recompiles a release whenever the documents of a directory change.
type Watcher struct {
	dir      string
	loader   *config.Loader
	compiler *Compiler
	debounce time.Duration
	logger   zerolog.Logger

	// OnReload, when set, is called after every reload attempt.
	OnReload func(rel *Release, err error)
}

// NewWatcher creates a watcher for dir. debounce defaults to 250ms.
func NewWatcher(dir string, loader *config.Loader, compiler *Compiler, debounce time.Duration, logger zerolog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	return &Watcher{
		dir:      dir,
		loader:   loader,
		compiler: compiler,
		debounce: debounce,
		logger:   logger.With().Str("component", "release-watcher").Str("dir", dir).Logger(),
	}
}

// Reload loads the directory and compiles it into a new release.
func (w *Watcher) Reload(ctx context.Context) (*Release, error) {
	docs, err := w.loader.LoadDocuments(ctx, []string{w.dir})
	if err != nil {
		return nil, err
	}

	id := fmt.Sprintf("%s-%s", filepath.Base(w.dir), time.Now().UTC().Format("20060102T150405.000"))
	rel, err := w.compiler.Compile(ctx, id, docs)
	if err != nil {
		return nil, err
	}

	if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
		_ = tel.Events.PublishReleaseReloaded(rel.ID, w.dir)
	}
	return rel, nil
}

// Watch compiles the directory once, then recompiles after every burst of
// changes until ctx is done. A failed reload keeps the previous release
// current. The initial compile error is returned.
func (w *Watcher) Watch(ctx context.Context) error {
	rel, err := w.Reload(ctx)
	w.notify(rel, err)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	w.logger.Info().Dur("debounce", w.debounce).Msg("Watching automation documents")

	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("Watcher error")
		case evt, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !relevant(evt) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			timerC = timer.C
		case <-timerC:
			timerC = nil
			rel, err := w.Reload(ctx)
			w.notify(rel, err)
		}
	}
}

func (w *Watcher) notify(rel *Release, err error) {
	if err != nil {
		w.logger.Error().Err(err).Msg("Reload failed")
	} else {
		w.logger.Info().Str("release", rel.ID).Int("automations", len(rel.ids)).Msg("Release reloaded")
	}
	if w.OnReload != nil {
		w.OnReload(rel, err)
	}
}

func relevant(evt fsnotify.Event) bool {
	if evt.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	if strings.HasPrefix(filepath.Base(evt.Name), ".") {
		return false
	}
	return config.IsDocumentFile(evt.Name)
}
