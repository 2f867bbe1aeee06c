package commands

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/spf13/cobra"

	"github.com/openfroyo/automation/pkg/engine"
	"github.com/openfroyo/automation/pkg/release"
	"github.com/openfroyo/automation/pkg/telemetry"
)

type runOutput struct {
	AutomationID string              `json:"automationId"`
	Evaluation   *release.Evaluation `json:"evaluation,omitempty"`
	Error        string              `json:"error,omitempty"`
	Code         string              `json:"code,omitempty"`
}

func newRunCommand() *cobra.Command {
	var (
		releaseDir   string
		automationID string
		triggerArg   string
		event        string
		tenant       string
		runID        string
		events       bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Evaluate an automation against trigger payloads",
		Long: `Compile the documents under --release, build the release and evaluate
one automation. The output lists the resolved variables and, for every
action, whether it is enabled and its resolved parameters.

--trigger is a JSON payload, or a JSON array of payloads evaluated as
independent runs on the worker pool. Failures are recorded in the store
when --db is given.`,
		Example: `  automation run --release ./automations --automation quote-follow-up \
    --event quote.created --trigger '{"total": 1500}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, ctx, err := newRuntime(ctx, runtimeOptions{withStore: true})
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			if events {
				var mu sync.Mutex
				errOut := cmd.ErrOrStderr()
				rt.tel.Events.Subscribe(func(e telemetry.Event) {
					mu.Lock()
					defer mu.Unlock()
					_ = json.NewEncoder(errOut).Encode(e)
				}, telemetry.FilterByType(
					telemetry.EventTypeRunStarted,
					telemetry.EventTypeRunCompleted,
					telemetry.EventTypeRunFailed,
					telemetry.EventTypeProviderFailed,
				))
			}

			raw, err := readJSONArg(triggerArg, cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("--trigger: %w", err)
			}
			payloads, err := triggerPayloads(raw)
			if err != nil {
				return err
			}

			docs, err := rt.loader.LoadDocuments(ctx, []string{releaseDir})
			if err != nil {
				return err
			}
			compiler := release.NewCompiler(rt.policies, nil, nil, rt.logger)
			rel, err := compiler.Compile(ctx, filepath.Base(releaseDir), docs)
			if err != nil {
				return err
			}
			prog, err := rel.Build(rt.dependencies())
			if err != nil {
				return err
			}

			reqs := make([]release.Request, len(payloads))
			for i, payload := range payloads {
				id := runID
				if id != "" && len(payloads) > 1 {
					id = fmt.Sprintf("%s-%d", runID, i)
				}
				reqs[i] = release.Request{
					AutomationID: automationID,
					Input: release.RunInput{
						RunID:   id,
						Tenant:  rt.tenant(tenant),
						Event:   event,
						Trigger: payload,
					},
				}
			}

			var sink release.DiagnosticSink
			if rt.store != nil {
				sink = rt.store
			}
			runner := release.NewRunner(rt.settings.Runner.Workers, sink, rt.logger)
			results := runner.Run(ctx, prog, reqs)

			outputs := make([]runOutput, len(results))
			failed := 0
			for i, res := range results {
				outputs[i] = runOutput{AutomationID: automationID, Evaluation: res.Evaluation}
				if res.Err != nil {
					failed++
					outputs[i].Error = res.Err.Error()
					outputs[i].Code = engine.Code(res.Err)
				}
			}

			var v interface{} = outputs
			if len(outputs) == 1 {
				v = outputs[0]
			}
			if err := writeJSON(cmd.OutOrStdout(), v); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d run(s) failed", failed, len(results))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&releaseDir, "release", "", "directory or file of automation documents")
	cmd.Flags().StringVar(&automationID, "automation", "", "automation id to evaluate")
	cmd.Flags().StringVar(&triggerArg, "trigger", "{}", "trigger payload (JSON, @file or -)")
	cmd.Flags().StringVar(&event, "event", "", "event name matched against triggers (empty matches any)")
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant of the run (defaults to the settings tenant)")
	cmd.Flags().StringVar(&runID, "run-id", "", "run id (random when empty)")
	cmd.Flags().BoolVar(&events, "events", false, "print run events to stderr as JSON lines")
	_ = cmd.MarkFlagRequired("release")
	_ = cmd.MarkFlagRequired("automation")

	return cmd
}

// triggerPayloads splits a JSON array into one payload per run.
func triggerPayloads(raw []byte) ([]any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("--trigger: %w", err)
	}
	if list, ok := v.([]any); ok {
		if len(list) == 0 {
			return nil, fmt.Errorf("--trigger: empty payload list")
		}
		return list, nil
	}
	return []any{v}, nil
}
