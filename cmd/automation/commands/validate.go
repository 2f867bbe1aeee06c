package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/automation/pkg/config"
	"github.com/openfroyo/automation/pkg/policy"
	"github.com/openfroyo/automation/pkg/release"
)

type validateReport struct {
	Path        string                   `json:"path"`
	Valid       bool                     `json:"valid"`
	Automations []string                 `json:"automations"`
	Errors      []config.ValidationError `json:"errors,omitempty"`
	Compile     string                   `json:"compileError,omitempty"`
	Lint        *policy.Result           `json:"lint,omitempty"`
}

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <path>",
		Short: "Validate automation documents",
		Long: `Validate automation documents in a file or directory.

This command checks:
  - CUE and JSON syntax
  - Conformance to the automation schema
  - Provider shapes of every variable, condition and parameter
  - Variable dependency cycles
  - Lint policies (OPA/rego)`,
		Example: `  # Validate a directory of documents
  automation validate ./automations

  # Validate one file and print a JSON report
  automation validate --json ./automations/quote.cue`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, ctx, err := newRuntime(ctx, runtimeOptions{})
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			report := validateReport{Path: args[0]}
			parsed, err := rt.loader.Load(ctx, []string{args[0]})
			if err != nil {
				return err
			}
			report.Errors = parsed.Errors

			if !parsed.HasErrors() {
				compiler := release.NewCompiler(rt.policies, nil, nil, rt.logger)
				rel, err := compiler.Compile(ctx, "validate", parsed.Documents)
				if err != nil {
					report.Compile = err.Error()
				} else {
					report.Automations = rel.AutomationIDs()
					report.Lint = rel.Lint
				}
			}
			report.Valid = !parsed.HasErrors() && report.Compile == ""

			out := cmd.OutOrStdout()
			if jsonOutput {
				if err := writeJSON(out, report); err != nil {
					return err
				}
			} else {
				printValidateReport(cmd, report)
			}

			if !report.Valid {
				return fmt.Errorf("validation failed for %s", args[0])
			}
			return nil
		},
	}

	return cmd
}

func printValidateReport(cmd *cobra.Command, report validateReport) {
	out := cmd.OutOrStdout()
	for _, e := range report.Errors {
		fmt.Fprintf(out, "error: %s\n", e.Error())
	}
	if report.Compile != "" {
		fmt.Fprintf(out, "error: %s\n", report.Compile)
	}
	if report.Lint != nil {
		for _, w := range report.Lint.Warnings {
			fmt.Fprintf(out, "warning: %s (%s): %s\n", w.Automation, w.Policy, w.Message)
		}
	}
	if report.Valid {
		fmt.Fprintf(out, "%d automation(s) valid\n", len(report.Automations))
	}
}
