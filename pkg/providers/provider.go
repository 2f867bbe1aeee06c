package providers

import (
	"context"

	"github.com/openfroyo/automation/pkg/engine"
	"github.com/openfroyo/automation/pkg/telemetry"
)

// Schema reference keys.
const (
	KeyLiteral              = "literal"
	KeyList                 = "list"
	KeyObject               = "object"
	KeyObjectPathLookupText = "objectPathLookupText"
	KeyPropertyExpression   = "propertyExpression"
	KeyJSONPath             = "jsonPath"
	KeyJSONTextLookup       = "jsonTextLookup"
	KeyJSONSet              = "jsonSet"
	KeyEntityLookup         = "entityLookup"
	KeyHTTPGet              = "httpGet"
	KeyStarlark             = "starlark"
	KeyRego                 = "rego"
	KeyAnd                  = "and"
	KeyOr                   = "or"
	KeyNot                  = "not"
	KeyCompare              = "compare"
	KeyConcat               = "concat"
	KeyLet                  = "let"
	KeyMapList              = "mapList"
	KeyFilterList           = "filterList"
	KeyIncrementCounter     = "incrementCounter"
	KeyTypeOf               = "typeOf"
)

// DefaultItemAlias is the root alias list providers bind items under when
// no itemAlias is configured.
const DefaultItemAlias = "item"

// instrumented records a span and metrics around every resolution when
// telemetry is attached to the context.
type instrumented struct {
	inner engine.Provider[any]
}

func instrument(p engine.Provider[any]) engine.Provider[any] {
	return &instrumented{inner: p}
}

func (p *instrumented) SchemaReferenceKey() string { return p.inner.SchemaReferenceKey() }

func (p *instrumented) Resolve(ctx context.Context, pc *engine.ProviderContext, scope *engine.Scope) (engine.Data[any], error) {
	var out engine.Data[any]
	err := telemetry.RecordProviderResolution(ctx, p.inner.SchemaReferenceKey(), func(ctx context.Context) error {
		d, err := p.inner.Resolve(ctx, pc, scope)
		out = d
		return err
	})
	if err != nil {
		return engine.Data[any]{}, err
	}
	return out, nil
}

// build builds a child builder, recording the parent on failure.
func build(dc *engine.DependencyContext, b engine.Builder[any], schemaKey, param string) (engine.Provider[any], error) {
	if b == nil {
		return nil, nil
	}
	p, err := b.Build(dc)
	if err != nil {
		return nil, engine.Annotate(err, schemaKey, param)
	}
	return p, nil
}

func buildAll(dc *engine.DependencyContext, bs []engine.Builder[any], schemaKey, param string) ([]engine.Provider[any], error) {
	out := make([]engine.Provider[any], len(bs))
	for i, b := range bs {
		p, err := build(dc, b, schemaKey, param)
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

// resolve resolves a child provider and appends the parent frame on failure.
func resolve(
	ctx context.Context,
	pc *engine.ProviderContext,
	scope *engine.Scope,
	p engine.Provider[any],
	schemaKey, param string,
) (engine.Data[any], error) {
	d, err := p.Resolve(ctx, pc, scope)
	if err != nil {
		return engine.Data[any]{}, engine.Annotate(err, schemaKey, param)
	}
	return d, nil
}

// resolveValue resolves a child and returns its value, nil when absent or null.
func resolveValue(
	ctx context.Context,
	pc *engine.ProviderContext,
	scope *engine.Scope,
	p engine.Provider[any],
	schemaKey, param string,
) (any, error) {
	d, err := resolve(ctx, pc, scope, p, schemaKey, param)
	if err != nil {
		return nil, err
	}
	v, _ := d.Value()
	return v, nil
}

// resolveTyped resolves a child and converts it to T.
func resolveTyped[T any](
	ctx context.Context,
	pc *engine.ProviderContext,
	scope *engine.Scope,
	p engine.Provider[any],
	schemaKey, param string,
) (engine.Data[T], error) {
	d, err := resolve(ctx, pc, scope, p, schemaKey, param)
	if err != nil {
		return engine.Data[T]{}, err
	}
	out, err := engine.ConvertData[T](d, schemaKey)
	if err != nil {
		return engine.Data[T]{}, engine.Annotate(withRun(err, pc), schemaKey, param)
	}
	return out, nil
}

// withRun attaches the run diagnostics to an engine error.
func withRun(err error, pc *engine.ProviderContext) error {
	if e, ok := err.(*engine.EngineError); ok {
		return e.WithDiagnostics(pc.Diagnose(nil))
	}
	return err
}

// dataOf wraps a resolved value, mapping nil to Null.
func dataOf(v any) engine.Data[any] {
	if v == nil {
		return engine.Null[any]()
	}
	return engine.Present(v)
}

// BuildProvider decodes raw provider JSON and builds it in one step.
func BuildProvider(raw []byte, loc string, dc *engine.DependencyContext) (engine.Provider[any], error) {
	b, err := Decode(raw, loc)
	if err != nil {
		return nil, err
	}
	return b.Build(dc)
}
