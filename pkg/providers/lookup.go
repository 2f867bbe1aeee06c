package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/openfroyo/automation/pkg/engine"
	"github.com/openfroyo/automation/pkg/path"
	"github.com/openfroyo/automation/pkg/telemetry"
)

func pathResolver(dc *engine.DependencyContext) (*path.Resolver, error) {
	return engine.OptionalDependency(dc, engine.DependencyPathResolver, path.NewResolver())
}

func parsePath(raw any, schemaKey, loc string) (*path.Path, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, invalidConfig(loc, schemaKey, fmt.Sprintf("%s expects a path string, got %s", schemaKey, jsonType(raw)))
	}
	p, err := path.Parse(s)
	if err != nil {
		return nil, located(err, loc, schemaKey)
	}
	return p, nil
}

// objectPathLookupBuilder looks a path up in the scope, falling back to an
// optional default provider when nothing is found.
type objectPathLookupBuilder struct {
	path         *path.Path
	defaultValue engine.Builder[any]
}

func decodeObjectPathLookup(obj map[string]any, loc string) (engine.Builder[any], error) {
	p, err := parsePath(obj[KeyObjectPathLookupText], KeyObjectPathLookupText, at(loc, KeyObjectPathLookupText))
	if err != nil {
		return nil, err
	}
	def, err := childParam(obj, "defaultValue", KeyObjectPathLookupText, loc, false)
	if err != nil {
		return nil, err
	}
	return &objectPathLookupBuilder{path: p, defaultValue: def}, nil
}

func (b *objectPathLookupBuilder) SchemaReferenceKey() string { return KeyObjectPathLookupText }

func (b *objectPathLookupBuilder) Build(dc *engine.DependencyContext) (engine.Provider[any], error) {
	resolver, err := pathResolver(dc)
	if err != nil {
		return nil, err
	}
	def, err := build(dc, b.defaultValue, KeyObjectPathLookupText, "defaultValue")
	if err != nil {
		return nil, err
	}
	return instrument(&objectPathLookupProvider{path: b.path, defaultValue: def, resolver: resolver}), nil
}

type objectPathLookupProvider struct {
	path         *path.Path
	defaultValue engine.Provider[any]
	resolver     *path.Resolver
}

func (p *objectPathLookupProvider) SchemaReferenceKey() string { return KeyObjectPathLookupText }

// Resolve resolves the path. Only a not-found outcome is replaced by the
// default, which is resolved lazily; every other failure propagates.
func (p *objectPathLookupProvider) Resolve(ctx context.Context, pc *engine.ProviderContext, scope *engine.Scope) (engine.Data[any], error) {
	if err := engine.Checkpoint(ctx, KeyObjectPathLookupText); err != nil {
		return engine.Data[any]{}, err
	}
	diag := pc.Diagnose(engine.Diagnostics{engine.DiagSchemaKey: KeyObjectPathLookupText})
	v, err := p.resolver.ResolveValue(ctx, scope, p.path, KeyObjectPathLookupText, diag)
	switch {
	case err == nil:
		return dataOf(v), nil
	case engine.IsNotFound(err) && p.defaultValue != nil:
		telemetry.RecordDefaultFallback(ctx, KeyObjectPathLookupText)
		return resolve(ctx, pc, scope, p.defaultValue, KeyObjectPathLookupText, "defaultValue")
	default:
		return engine.Data[any]{}, engine.Annotate(err, KeyObjectPathLookupText, "path")
	}
}

// ObjectPathLookup returns a path lookup provider built outside a document.
func ObjectPathLookup(p *path.Path, defaultValue engine.Provider[any]) engine.Provider[any] {
	return instrument(&objectPathLookupProvider{path: p, defaultValue: defaultValue, resolver: path.NewResolver()})
}

// propertyExpressionBuilder resolves a path in expression mode.
type propertyExpressionBuilder struct {
	path *path.Path
}

func decodePropertyExpression(obj map[string]any, loc string) (engine.Builder[any], error) {
	loc = at(loc, KeyPropertyExpression)
	p, err := parsePath(obj[KeyPropertyExpression], KeyPropertyExpression, loc)
	if err != nil {
		return nil, err
	}
	if !p.IsSimple() {
		return nil, invalidConfig(loc, KeyPropertyExpression, "propertyExpression requires a pointer or dotted path")
	}
	return &propertyExpressionBuilder{path: p}, nil
}

func (b *propertyExpressionBuilder) SchemaReferenceKey() string { return KeyPropertyExpression }

func (b *propertyExpressionBuilder) Build(dc *engine.DependencyContext) (engine.Provider[any], error) {
	p, err := b.build(dc)
	if err != nil {
		return nil, err
	}
	return instrument(p), nil
}

func (b *propertyExpressionBuilder) build(dc *engine.DependencyContext) (*propertyExpressionProvider, error) {
	resolver, err := pathResolver(dc)
	if err != nil {
		return nil, err
	}
	return &propertyExpressionProvider{path: b.path, resolver: resolver}, nil
}

type propertyExpressionProvider struct {
	path     *path.Path
	resolver *path.Resolver
}

func (p *propertyExpressionProvider) SchemaReferenceKey() string { return KeyPropertyExpression }

// Resolve yields the access expression as a path.Expr value.
func (p *propertyExpressionProvider) Resolve(ctx context.Context, pc *engine.ProviderContext, scope *engine.Scope) (engine.Data[any], error) {
	if err := engine.Checkpoint(ctx, KeyPropertyExpression); err != nil {
		return engine.Data[any]{}, err
	}
	expr, err := p.expr(pc, scope)
	if err != nil {
		return engine.Data[any]{}, err
	}
	return engine.Present[any](expr), nil
}

func (p *propertyExpressionProvider) expr(pc *engine.ProviderContext, scope *engine.Scope) (path.Expr, error) {
	diag := pc.Diagnose(engine.Diagnostics{engine.DiagSchemaKey: KeyPropertyExpression})
	expr, err := p.resolver.ResolveExpr(scope, p.path, KeyPropertyExpression, diag)
	if err != nil {
		return nil, engine.Annotate(err, KeyPropertyExpression, "path")
	}
	return expr, nil
}

// jsonPathBuilder evaluates a JSONPath expression over a resolved source,
// or over the visible scope when no source is given.
type jsonPathBuilder struct {
	path   *path.Path
	source engine.Builder[any]
}

func decodeJSONPath(obj map[string]any, loc string) (engine.Builder[any], error) {
	ploc := at(loc, KeyJSONPath)
	p, err := parsePath(obj[KeyJSONPath], KeyJSONPath, ploc)
	if err != nil {
		return nil, err
	}
	if p.IsSimple() {
		return nil, invalidConfig(ploc, KeyJSONPath, `jsonPath expressions start with "$"`)
	}
	src, err := childParam(obj, "source", KeyJSONPath, loc, false)
	if err != nil {
		return nil, err
	}
	return &jsonPathBuilder{path: p, source: src}, nil
}

func (b *jsonPathBuilder) SchemaReferenceKey() string { return KeyJSONPath }

func (b *jsonPathBuilder) Build(dc *engine.DependencyContext) (engine.Provider[any], error) {
	resolver, err := pathResolver(dc)
	if err != nil {
		return nil, err
	}
	src, err := build(dc, b.source, KeyJSONPath, "source")
	if err != nil {
		return nil, err
	}
	return instrument(&jsonPathProvider{path: b.path, source: src, resolver: resolver}), nil
}

type jsonPathProvider struct {
	path     *path.Path
	source   engine.Provider[any]
	resolver *path.Resolver
}

func (p *jsonPathProvider) SchemaReferenceKey() string { return KeyJSONPath }

func (p *jsonPathProvider) Resolve(ctx context.Context, pc *engine.ProviderContext, scope *engine.Scope) (engine.Data[any], error) {
	if err := engine.Checkpoint(ctx, KeyJSONPath); err != nil {
		return engine.Data[any]{}, err
	}
	diag := pc.Diagnose(engine.Diagnostics{engine.DiagSchemaKey: KeyJSONPath})
	if p.source == nil {
		v, err := p.resolver.ResolveValue(ctx, scope, p.path, KeyJSONPath, diag)
		if err != nil {
			return engine.Data[any]{}, engine.Annotate(err, KeyJSONPath, "path")
		}
		return dataOf(v), nil
	}

	src, err := resolveValue(ctx, pc, scope, p.source, KeyJSONPath, "source")
	if err != nil {
		return engine.Data[any]{}, err
	}
	v, err := p.resolver.Lookup(src, p.path)
	if err != nil {
		if _, ok := err.(*engine.EngineError); !ok {
			err = engine.NewResolutionError(fmt.Sprintf("expression %q found nothing", p.path), err).
				WithCode(engine.ErrCodePathNotFound).
				WithTitle("Path not found").
				WithDiagnostics(diag)
		}
		return engine.Data[any]{}, engine.Annotate(err, KeyJSONPath, "path")
	}
	return dataOf(v), nil
}

// jsonTextBuilder reads a gjson path out of raw JSON text.
type jsonTextBuilder struct {
	json engine.Builder[any]
	path string
}

func decodeJSONTextLookup(obj map[string]any, loc string) (engine.Builder[any], error) {
	m, loc, err := params(obj, KeyJSONTextLookup, loc, "json", "path")
	if err != nil {
		return nil, err
	}
	src, err := childParam(m, "json", KeyJSONTextLookup, loc, true)
	if err != nil {
		return nil, err
	}
	p, err := stringParam(m, "path", KeyJSONTextLookup, loc, true)
	if err != nil {
		return nil, err
	}
	return &jsonTextBuilder{json: src, path: p}, nil
}

func (b *jsonTextBuilder) SchemaReferenceKey() string { return KeyJSONTextLookup }

func (b *jsonTextBuilder) Build(dc *engine.DependencyContext) (engine.Provider[any], error) {
	src, err := build(dc, b.json, KeyJSONTextLookup, "json")
	if err != nil {
		return nil, err
	}
	return instrument(&jsonTextProvider{json: src, path: b.path}), nil
}

type jsonTextProvider struct {
	json engine.Provider[any]
	path string
}

func (p *jsonTextProvider) SchemaReferenceKey() string { return KeyJSONTextLookup }

func (p *jsonTextProvider) Resolve(ctx context.Context, pc *engine.ProviderContext, scope *engine.Scope) (engine.Data[any], error) {
	if err := engine.Checkpoint(ctx, KeyJSONTextLookup); err != nil {
		return engine.Data[any]{}, err
	}
	text, err := resolveJSONText(ctx, pc, scope, p.json, KeyJSONTextLookup, false)
	if err != nil {
		return engine.Data[any]{}, err
	}
	res := gjson.Get(text, p.path)
	if !res.Exists() {
		return engine.Data[any]{}, engine.NewResolutionError(
			fmt.Sprintf("nothing found at %q in JSON text", p.path), nil,
		).WithCode(engine.ErrCodePathNotFound).
			WithTitle("Path not found").
			WithDetail(engine.DiagPath, p.path).
			WithDetail(engine.DiagSchemaKey, KeyJSONTextLookup).
			WithDiagnostics(pc.Diagnose(nil))
	}
	return dataOf(res.Value()), nil
}

// resolveJSONText resolves a child to valid JSON text. Strings, byte slices
// and raw messages are taken as text; when allowEmpty is set a null or
// absent child yields an empty object.
func resolveJSONText(
	ctx context.Context,
	pc *engine.ProviderContext,
	scope *engine.Scope,
	child engine.Provider[any],
	schemaKey string,
	allowEmpty bool,
) (string, error) {
	v, err := resolveValue(ctx, pc, scope, child, schemaKey, "json")
	if err != nil {
		return "", err
	}
	var text string
	switch val := v.(type) {
	case nil:
		if allowEmpty {
			return "{}", nil
		}
	case string:
		text = val
	case []byte:
		text = string(val)
	case json.RawMessage:
		text = string(val)
	default:
		return "", engine.Annotate(typeError(pc, schemaKey, "JSON text", v), schemaKey, "json")
	}
	if !gjson.Valid(text) {
		return "", engine.NewResolutionError("value is not valid JSON text", nil).
			WithCode(engine.ErrCodeInvalidInputData).
			WithDetail(engine.DiagSchemaKey, schemaKey).
			WithDiagnostics(pc.Diagnose(nil))
	}
	return text, nil
}

// jsonSetBuilder writes a value into raw JSON text with sjson.
type jsonSetBuilder struct {
	json  engine.Builder[any]
	path  string
	value engine.Builder[any]
}

func decodeJSONSet(obj map[string]any, loc string) (engine.Builder[any], error) {
	m, loc, err := params(obj, KeyJSONSet, loc, "json", "path", "value")
	if err != nil {
		return nil, err
	}
	src, err := childParam(m, "json", KeyJSONSet, loc, false)
	if err != nil {
		return nil, err
	}
	p, err := stringParam(m, "path", KeyJSONSet, loc, true)
	if err != nil {
		return nil, err
	}
	val, err := childParam(m, "value", KeyJSONSet, loc, true)
	if err != nil {
		return nil, err
	}
	return &jsonSetBuilder{json: src, path: p, value: val}, nil
}

func (b *jsonSetBuilder) SchemaReferenceKey() string { return KeyJSONSet }

func (b *jsonSetBuilder) Build(dc *engine.DependencyContext) (engine.Provider[any], error) {
	src, err := build(dc, b.json, KeyJSONSet, "json")
	if err != nil {
		return nil, err
	}
	if src == nil {
		src = Literal(nil)
	}
	val, err := build(dc, b.value, KeyJSONSet, "value")
	if err != nil {
		return nil, err
	}
	return instrument(&jsonSetProvider{json: src, path: b.path, value: val}), nil
}

type jsonSetProvider struct {
	json  engine.Provider[any]
	path  string
	value engine.Provider[any]
}

func (p *jsonSetProvider) SchemaReferenceKey() string { return KeyJSONSet }

// Resolve returns the updated JSON text. Without a json parameter the value
// is written into an empty object.
func (p *jsonSetProvider) Resolve(ctx context.Context, pc *engine.ProviderContext, scope *engine.Scope) (engine.Data[any], error) {
	if err := engine.Checkpoint(ctx, KeyJSONSet); err != nil {
		return engine.Data[any]{}, err
	}
	text, err := resolveJSONText(ctx, pc, scope, p.json, KeyJSONSet, true)
	if err != nil {
		return engine.Data[any]{}, err
	}
	v, err := resolveValue(ctx, pc, scope, p.value, KeyJSONSet, "value")
	if err != nil {
		return engine.Data[any]{}, err
	}
	out, err := sjson.Set(text, p.path, v)
	if err != nil {
		return engine.Data[any]{}, engine.NewResolutionError(fmt.Sprintf("cannot set %q", p.path), err).
			WithCode(engine.ErrCodeInvalidInputData).
			WithDetail(engine.DiagPath, p.path).
			WithDetail(engine.DiagSchemaKey, KeyJSONSet).
			WithDiagnostics(pc.Diagnose(nil))
	}
	return engine.Present[any](out), nil
}
