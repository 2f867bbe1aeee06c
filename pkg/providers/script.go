package providers

import (
	"context"

	"github.com/openfroyo/automation/pkg/engine"
	"github.com/openfroyo/automation/pkg/path"
	"github.com/openfroyo/automation/pkg/policy"
	"github.com/openfroyo/automation/pkg/script"
)

// starlarkBuilder runs a Starlark transform over a resolved input.
type starlarkBuilder struct {
	source string
	output string
	input  engine.Builder[any]
	loc    string
}

func decodeStarlark(obj map[string]any, loc string) (engine.Builder[any], error) {
	m, loc, err := params(obj, KeyStarlark, loc, "script", "input", "output")
	if err != nil {
		return nil, err
	}
	src, err := stringParam(m, "script", KeyStarlark, loc, true)
	if err != nil {
		return nil, err
	}
	output, err := stringParam(m, "output", KeyStarlark, loc, false)
	if err != nil {
		return nil, err
	}
	input, err := childParam(m, "input", KeyStarlark, loc, false)
	if err != nil {
		return nil, err
	}
	return &starlarkBuilder{source: src, output: output, input: input, loc: loc}, nil
}

func (b *starlarkBuilder) SchemaReferenceKey() string { return KeyStarlark }

// Build compiles the script. Syntax errors surface here, at release build.
func (b *starlarkBuilder) Build(dc *engine.DependencyContext) (engine.Provider[any], error) {
	eval, err := engine.Dependency[*script.Evaluator](dc, engine.DependencyScripts)
	if err != nil {
		return nil, located(err, b.loc, KeyStarlark)
	}
	prog, err := eval.Compile(b.loc, b.source, b.output)
	if err != nil {
		return nil, engine.NewConfigurationError("starlark script does not compile", err).
			WithCode(engine.ErrCodeInvalidInputData).
			WithDetail(engine.DiagLocation, b.loc).
			WithDetail(engine.DiagSchemaKey, KeyStarlark)
	}
	input, err := build(dc, b.input, KeyStarlark, "input")
	if err != nil {
		return nil, err
	}
	return instrument(&starlarkProvider{eval: eval, prog: prog, input: input}), nil
}

type starlarkProvider struct {
	eval  *script.Evaluator
	prog  *script.Program
	input engine.Provider[any]
}

func (p *starlarkProvider) SchemaReferenceKey() string { return KeyStarlark }

func (p *starlarkProvider) Resolve(ctx context.Context, pc *engine.ProviderContext, scope *engine.Scope) (engine.Data[any], error) {
	if err := engine.Checkpoint(ctx, KeyStarlark); err != nil {
		return engine.Data[any]{}, err
	}
	in, err := jsonInput(ctx, pc, scope, p.input, KeyStarlark)
	if err != nil {
		return engine.Data[any]{}, err
	}
	res, err := p.eval.Run(ctx, p.prog, in)
	if err != nil {
		if ctx.Err() != nil {
			return engine.Data[any]{}, engine.Checkpoint(ctx, KeyStarlark)
		}
		return engine.Data[any]{}, engine.NewResolutionError("starlark transform failed", err).
			WithCode(engine.ErrCodeEvaluationFailed).
			WithDetail(engine.DiagSchemaKey, KeyStarlark).
			WithDetail("script", p.prog.Name()).
			WithDiagnostics(pc.Diagnose(nil))
	}
	return dataOf(res.Value), nil
}

// regoBuilder evaluates a Rego module as a boolean condition.
type regoBuilder struct {
	module string
	query  string
	input  engine.Builder[any]
	loc    string
}

func decodeRego(obj map[string]any, loc string) (engine.Builder[any], error) {
	m, loc, err := params(obj, KeyRego, loc, "module", "query", "input")
	if err != nil {
		return nil, err
	}
	module, err := stringParam(m, "module", KeyRego, loc, true)
	if err != nil {
		return nil, err
	}
	query, err := stringParam(m, "query", KeyRego, loc, false)
	if err != nil {
		return nil, err
	}
	input, err := childParam(m, "input", KeyRego, loc, false)
	if err != nil {
		return nil, err
	}
	return &regoBuilder{module: module, query: query, input: input, loc: loc}, nil
}

func (b *regoBuilder) SchemaReferenceKey() string { return KeyRego }

// Build parses and prepares the query. Rego errors surface here.
func (b *regoBuilder) Build(dc *engine.DependencyContext) (engine.Provider[any], error) {
	conditions, err := engine.Dependency[*policy.Conditions](dc, engine.DependencyConditions)
	if err != nil {
		return nil, located(err, b.loc, KeyRego)
	}
	cond, err := conditions.Compile(b.loc, b.module, b.query)
	if err != nil {
		return nil, engine.NewConfigurationError("rego condition does not compile", err).
			WithCode(engine.ErrCodeInvalidInputData).
			WithDetail(engine.DiagLocation, b.loc).
			WithDetail(engine.DiagSchemaKey, KeyRego)
	}
	input, err := build(dc, b.input, KeyRego, "input")
	if err != nil {
		return nil, err
	}
	return instrument(&regoProvider{cond: cond, input: input}), nil
}

type regoProvider struct {
	cond  *policy.Condition
	input engine.Provider[any]
}

func (p *regoProvider) SchemaReferenceKey() string { return KeyRego }

func (p *regoProvider) Resolve(ctx context.Context, pc *engine.ProviderContext, scope *engine.Scope) (engine.Data[any], error) {
	if err := engine.Checkpoint(ctx, KeyRego); err != nil {
		return engine.Data[any]{}, err
	}
	in, err := jsonInput(ctx, pc, scope, p.input, KeyRego)
	if err != nil {
		return engine.Data[any]{}, err
	}
	allowed, err := p.cond.Allowed(ctx, in)
	if err != nil {
		if ctx.Err() != nil {
			return engine.Data[any]{}, engine.Checkpoint(ctx, KeyRego)
		}
		return engine.Data[any]{}, engine.NewResolutionError("rego condition failed", err).
			WithCode(engine.ErrCodeEvaluationFailed).
			WithDetail(engine.DiagSchemaKey, KeyRego).
			WithDetail("condition", p.cond.Name()).
			WithDiagnostics(pc.Diagnose(nil))
	}
	return engine.Present[any](allowed), nil
}

// jsonInput resolves an optional input child into generic JSON shape. Without
// a child the visible scope is used, keyed by alias.
func jsonInput(
	ctx context.Context,
	pc *engine.ProviderContext,
	scope *engine.Scope,
	input engine.Provider[any],
	schemaKey string,
) (any, error) {
	var v any
	if input == nil {
		v = scope.Snapshot()
	} else {
		var err error
		if v, err = resolveValue(ctx, pc, scope, input, schemaKey, "input"); err != nil {
			return nil, err
		}
	}
	out, err := path.ToJSONValue(v)
	if err != nil {
		return nil, engine.Annotate(withRun(err, pc), schemaKey, "input")
	}
	return out, nil
}
