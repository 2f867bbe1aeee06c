package commands

import (
	"github.com/spf13/cobra"

	"github.com/openfroyo/automation/pkg/release"
)

func newWatchCommand() *cobra.Command {
	var (
		persist bool
		metrics bool
	)

	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Recompile a directory of documents whenever it changes",
		Long: `Compile the documents of a directory into a release and recompile them
after every burst of changes. A failed reload is logged and the previous
release stays current.

With --persist every successful release is saved to the store.`,
		Example: `  # Watch and expose metrics on the configured address
  automation watch ./automations --metrics`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, ctx, err := newRuntime(ctx, runtimeOptions{withStore: persist, requireStore: persist})
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			if metrics {
				if err := rt.tel.StartMetricsServer(); err != nil {
					return err
				}
			}

			var store release.Persistence
			if rt.store != nil {
				store = rt.store
			}
			cache := release.NewCache()
			compiler := release.NewCompiler(rt.policies, cache, store, rt.logger)
			watcher := release.NewWatcher(args[0], rt.loader, compiler, rt.settings.Watch.Debounce, rt.logger)

			deps := rt.dependencies()
			watcher.OnReload = func(rel *release.Release, err error) {
				if err != nil {
					return
				}
				// Building catches providers whose collaborators are missing.
				if _, err := rel.Build(deps); err != nil {
					rt.logger.Error().Err(err).Str("release", rel.ID).Msg("Release does not build")
				}
			}

			return watcher.Watch(ctx)
		},
	}

	cmd.Flags().BoolVar(&persist, "persist", false, "save every release to the store")
	cmd.Flags().BoolVar(&metrics, "metrics", false, "serve Prometheus metrics while watching")

	return cmd
}
