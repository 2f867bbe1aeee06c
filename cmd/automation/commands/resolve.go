package commands

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/openfroyo/automation/pkg/engine"
	"github.com/openfroyo/automation/pkg/providers"
)

type resolveResult struct {
	State    string           `json:"state"`
	Value    any              `json:"value,omitempty"`
	Counters map[string]int64 `json:"counters,omitempty"`
}

func newResolveCommand() *cobra.Command {
	var (
		providerArg string
		dataArg     string
		tenant      string
	)

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve a single provider",
		Long: `Resolve one provider configuration against a set of scope bindings.

--data is a JSON object: each top-level key is bound as an alias in the
scope, so {"trigger": {"total": 10}} makes "trigger.total" resolvable.
Both flags accept inline JSON, @file or - for stdin.`,
		Example: `  automation resolve \
    --provider '{"objectPathLookupText": "trigger.customer.name"}' \
    --data '{"trigger": {"customer": {"name": "Ada"}}}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, ctx, err := newRuntime(ctx, runtimeOptions{withStore: true})
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			raw, err := readJSONArg(providerArg, cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("--provider: %w", err)
			}

			bindings := map[string]any{}
			if dataArg != "" {
				data, err := readJSONArg(dataArg, cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("--data: %w", err)
				}
				if err := json.Unmarshal(data, &bindings); err != nil {
					return fmt.Errorf("--data must be a JSON object: %w", err)
				}
			}

			p, err := providers.BuildProvider(raw, "provider", rt.dependencies())
			if err != nil {
				return err
			}

			scope := engine.NewScope()
			aliases := make([]string, 0, len(bindings))
			for alias := range bindings {
				aliases = append(aliases, alias)
			}
			sort.Strings(aliases)
			for _, alias := range aliases {
				if err := scope.Push(alias, bindings[alias], "data."+alias); err != nil {
					return err
				}
			}

			pc := engine.NewProviderContext(uuid.New().String(), "resolve", rt.tenant(tenant), bindings)
			d, err := p.Resolve(ctx, pc, scope)
			if err != nil {
				return err
			}

			value, _ := d.Value()
			result := resolveResult{State: d.State().String(), Value: value, Counters: pc.Counters()}
			if len(result.Counters) == 0 {
				result.Counters = nil
			}
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}

	cmd.Flags().StringVar(&providerArg, "provider", "", "provider configuration (JSON, @file or -)")
	cmd.Flags().StringVar(&dataArg, "data", "", "scope bindings as a JSON object (JSON, @file or -)")
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant for entity lookups (defaults to the settings tenant)")
	_ = cmd.MarkFlagRequired("provider")

	return cmd
}
