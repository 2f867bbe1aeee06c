package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	dbPath     string
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "automation",
		Short: "Automation provider and expression resolution engine",
		Long: `automation compiles automation documents into releases and resolves
their providers against trigger payloads.

Documents are CUE or JSON. Each automation declares variables, triggers and
actions whose values are computed by providers: path lookups, JSON queries,
entity lookups, HTTP fetches, Starlark and Rego expressions, list operators
and boolean logic.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "settings file path (YAML)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database file (overrides the settings store path)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newResolveCommand())
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newReleaseCommand())
	rootCmd.AddCommand(newWatchCommand())

	return rootCmd
}
