package script

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	starlarkjson "go.starlark.net/lib/json"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// DefaultOutput is the global a transform assigns its result to.
const DefaultOutput = "result"

// ErrNoOutput is returned when a script finishes without defining its output global.
var ErrNoOutput = errors.New("script did not define its output")

// Config bounds script execution.
type Config struct {
	// Timeout caps the wall time of one run. Zero disables the cap.
	Timeout time.Duration `yaml:"timeout"`

	// MaxSteps caps the Starlark execution steps of one run. Zero disables the cap.
	MaxSteps uint64 `yaml:"max_steps"`
}

// DefaultConfig returns the limits used when none are configured.
func DefaultConfig() Config {
	return Config{
		Timeout:  5 * time.Second,
		MaxSteps: 1_000_000,
	}
}

// Evaluator compiles and runs sandboxed Starlark transforms.
// Scripts see the predeclared names input, json and struct, and nothing else
// beyond the Starlark universe.
type Evaluator struct {
	cfg    Config
	logger zerolog.Logger
}

// NewEvaluator creates a new Starlark evaluator.
func NewEvaluator(cfg Config, logger zerolog.Logger) *Evaluator {
	return &Evaluator{
		cfg:    cfg,
		logger: logger.With().Str("component", "script").Logger(),
	}
}

// Program is a compiled script. It is immutable and may be run concurrently.
type Program struct {
	name   string
	output string
	prog   *starlark.Program
}

// Name returns the name the program was compiled with.
func (p *Program) Name() string { return p.name }

// Output returns the global the program's result is read from.
func (p *Program) Output() string { return p.output }

// Result is the outcome of one run.
type Result struct {
	// Value is the converted output global.
	Value interface{}

	// Globals holds every exported global the script defined.
	Globals map[string]interface{}

	// Steps is the number of Starlark execution steps taken.
	Steps uint64

	// ExecutionTime is how long the script took to execute.
	ExecutionTime time.Duration
}

func isPredeclared(name string) bool {
	switch name {
	case "input", "json", "struct":
		return true
	}
	return false
}

// Compile parses and resolves src. Syntax errors and references to unknown
// globals are reported here rather than at run time.
func (e *Evaluator) Compile(name, src, output string) (*Program, error) {
	if output == "" {
		output = DefaultOutput
	}
	_, prog, err := starlark.SourceProgram(name+".star", src, isPredeclared)
	if err != nil {
		return nil, fmt.Errorf("failed to compile script %s: %w", name, err)
	}
	return &Program{name: name, output: output, prog: prog}, nil
}

// Run executes p with input bound to the predeclared name input.
// The run is cancelled when ctx is done, the configured timeout expires or
// the step budget is exhausted.
func (e *Evaluator) Run(ctx context.Context, p *Program, input interface{}) (*Result, error) {
	startTime := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("script %s cancelled: %w", p.name, err)
	}

	runCtx := ctx
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	starlarkInput, err := ToValue(input)
	if err != nil {
		return nil, fmt.Errorf("failed to convert input of script %s: %w", p.name, err)
	}

	thread := &starlark.Thread{
		Name: p.name,
		Print: func(_ *starlark.Thread, msg string) {
			e.logger.Debug().Str("script", p.name).Msg(msg)
		},
	}
	if e.cfg.MaxSteps > 0 {
		thread.SetMaxExecutionSteps(e.cfg.MaxSteps)
	}
	stop := context.AfterFunc(runCtx, func() {
		thread.Cancel(runCtx.Err().Error())
	})
	defer stop()

	predeclared := starlark.StringDict{
		"input":  starlarkInput,
		"json":   starlarkjson.Module,
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
	}

	globals, err := p.prog.Init(thread, predeclared)
	if err != nil {
		if ctxErr := runCtx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("script %s cancelled: %w", p.name, ctxErr)
		}
		return nil, fmt.Errorf("script %s failed: %w", p.name, err)
	}

	result := &Result{
		Globals: make(map[string]interface{}),
		Steps:   thread.ExecutionSteps(),
	}
	for name, val := range globals {
		// Skip internal variables (starting with _) and functions
		if len(name) > 0 && name[0] == '_' {
			continue
		}
		if _, ok := val.(starlark.Callable); ok {
			continue
		}
		goVal, err := FromValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert global %s of script %s: %w", name, p.name, err)
		}
		result.Globals[name] = goVal
	}

	out, ok := result.Globals[p.output]
	if !ok {
		return nil, fmt.Errorf("%w: %s does not assign %q", ErrNoOutput, p.name, p.output)
	}
	result.Value = out
	result.ExecutionTime = time.Since(startTime)

	e.logger.Trace().
		Str("script", p.name).
		Uint64("steps", result.Steps).
		Dur("duration", result.ExecutionTime).
		Msg("Script executed")

	return result, nil
}

// Evaluate compiles and runs src in one step.
func (e *Evaluator) Evaluate(ctx context.Context, name, src string, input interface{}) (*Result, error) {
	p, err := e.Compile(name, src, "")
	if err != nil {
		return nil, err
	}
	return e.Run(ctx, p, input)
}
