package release

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/openfroyo/automation/pkg/telemetry"
)

// DiagnosticSink receives the failures recorded by runs.
type DiagnosticSink interface {
	RecordRunDiagnostics(ctx context.Context, runID, automationID string, failures []error) error
}

// Request asks for one automation to be evaluated.
type Request struct {
	AutomationID string
	Input        RunInput
}

// Result pairs a request with its outcome.
type Result struct {
	Request    Request
	Evaluation *Evaluation
	Err        error
}

// Runner evaluates batches of runs against a program with a bounded
// worker pool. Runs are independent: one failing run never stops another.
type Runner struct {
	workers int
	sink    DiagnosticSink
	logger  zerolog.Logger
}

// NewRunner creates a runner. workers defaults to 4; sink is optional.
func NewRunner(workers int, sink DiagnosticSink, logger zerolog.Logger) *Runner {
	if workers <= 0 {
		workers = 4
	}
	return &Runner{
		workers: workers,
		sink:    sink,
		logger:  logger.With().Str("component", "runner").Logger(),
	}
}

// Run evaluates every request and returns the results in request order.
// Requests still queued when ctx is cancelled fail with the context error.
func (r *Runner) Run(ctx context.Context, prog *Program, reqs []Request) []Result {
	results := make([]Result, len(reqs))
	if len(reqs) == 0 {
		return results
	}

	workerCount := r.workers
	if len(reqs) < workerCount {
		workerCount = len(reqs)
	}

	workQueue := make(chan int, len(reqs))
	for i := range reqs {
		workQueue <- i
	}
	close(workQueue)

	tel := telemetry.FromTelemetryContext(ctx)
	pending := len(reqs)
	var mu sync.Mutex
	if tel != nil {
		tel.Metrics.SetQueuedRuns(float64(pending))
	}

	var wg sync.WaitGroup
	for w := 0; w < workerCount; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range workQueue {
				mu.Lock()
				pending--
				if tel != nil {
					tel.Metrics.SetQueuedRuns(float64(pending))
				}
				mu.Unlock()

				results[i] = r.runOne(ctx, prog, reqs[i])
			}
		}()
	}

	wg.Wait()
	return results
}

func (r *Runner) runOne(ctx context.Context, prog *Program, req Request) Result {
	res := Result{Request: req}
	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}

	eval, err := prog.Evaluate(ctx, req.AutomationID, req.Input)
	res.Evaluation = eval
	res.Err = err

	if eval == nil {
		r.logger.Error().Err(err).Str("automation", req.AutomationID).Msg("Run rejected")
		return res
	}

	event := r.logger.Debug()
	if err != nil {
		event = r.logger.Warn().Err(err)
	}
	event.Str("run_id", eval.RunID).
		Str("automation", eval.AutomationID).
		Str("status", eval.Status).
		Dur("duration", eval.Duration).
		Msg("Run finished")

	if r.sink != nil && len(eval.Failures) > 0 {
		if serr := r.sink.RecordRunDiagnostics(ctx, eval.RunID, eval.AutomationID, eval.Failures); serr != nil {
			r.logger.Error().Err(serr).Str("run_id", eval.RunID).Msg("Failed to record run diagnostics")
			if res.Err == nil {
				res.Err = fmt.Errorf("failed to record diagnostics: %w", serr)
			}
		}
	}
	return res
}
