package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/openfroyo/automation/pkg/engine"
)

// literalBuilder holds a JSON scalar or null.
type literalBuilder struct {
	value any
}

func (b *literalBuilder) SchemaReferenceKey() string { return KeyLiteral }

func (b *literalBuilder) Build(*engine.DependencyContext) (engine.Provider[any], error) {
	v := b.value
	if n, ok := v.(json.Number); ok {
		f, err := n.Float64()
		if err != nil {
			return nil, engine.NewConfigurationError(fmt.Sprintf("invalid number %q", n), err).
				WithCode(engine.ErrCodeInvalidInputData)
		}
		v = f
	}
	return &literalProvider{value: v}, nil
}

type literalProvider struct {
	value any
}

func (p *literalProvider) SchemaReferenceKey() string { return KeyLiteral }

func (p *literalProvider) Resolve(ctx context.Context, _ *engine.ProviderContext, _ *engine.Scope) (engine.Data[any], error) {
	if err := engine.Checkpoint(ctx, KeyLiteral); err != nil {
		return engine.Data[any]{}, err
	}
	return dataOf(p.value), nil
}

// Literal returns a provider that always yields v.
func Literal(v any) engine.Provider[any] {
	return &literalProvider{value: v}
}

type listBuilder struct {
	items []engine.Builder[any]
}

func (b *listBuilder) SchemaReferenceKey() string { return KeyList }

func (b *listBuilder) Build(dc *engine.DependencyContext) (engine.Provider[any], error) {
	items, err := buildAll(dc, b.items, KeyList, "items")
	if err != nil {
		return nil, err
	}
	return &listProvider{items: items}, nil
}

type listProvider struct {
	items []engine.Provider[any]
}

func (p *listProvider) SchemaReferenceKey() string { return KeyList }

func (p *listProvider) Resolve(ctx context.Context, pc *engine.ProviderContext, scope *engine.Scope) (engine.Data[any], error) {
	if err := engine.Checkpoint(ctx, KeyList); err != nil {
		return engine.Data[any]{}, err
	}
	out := make([]any, len(p.items))
	for i, item := range p.items {
		v, err := resolveValue(ctx, pc, scope, item, KeyList, strconv.Itoa(i))
		if err != nil {
			return engine.Data[any]{}, err
		}
		out[i] = v
	}
	return engine.Present[any](out), nil
}

// objectBuilder builds a map whose fields are providers.
type objectBuilder struct {
	keys   []string
	fields map[string]engine.Builder[any]
}

func decodeObject(obj map[string]any, loc string) (engine.Builder[any], error) {
	loc = at(loc, KeyObject)
	fields, ok := obj[KeyObject].(map[string]any)
	if !ok {
		return nil, invalidConfig(loc, KeyObject, fmt.Sprintf("object expects an object, got %s", jsonType(obj[KeyObject])))
	}
	b := &objectBuilder{keys: sortedKeys(fields), fields: make(map[string]engine.Builder[any], len(fields))}
	for _, k := range b.keys {
		child, err := DecodeValue(fields[k], at(loc, k))
		if err != nil {
			return nil, err
		}
		b.fields[k] = child
	}
	return b, nil
}

func (b *objectBuilder) SchemaReferenceKey() string { return KeyObject }

func (b *objectBuilder) Build(dc *engine.DependencyContext) (engine.Provider[any], error) {
	p := &objectProvider{keys: b.keys, fields: make(map[string]engine.Provider[any], len(b.fields))}
	for _, k := range b.keys {
		child, err := build(dc, b.fields[k], KeyObject, k)
		if err != nil {
			return nil, err
		}
		p.fields[k] = child
	}
	return instrument(p), nil
}

type objectProvider struct {
	keys   []string
	fields map[string]engine.Provider[any]
}

func (p *objectProvider) SchemaReferenceKey() string { return KeyObject }

// Resolve resolves fields in key order. Absent fields are omitted.
func (p *objectProvider) Resolve(ctx context.Context, pc *engine.ProviderContext, scope *engine.Scope) (engine.Data[any], error) {
	if err := engine.Checkpoint(ctx, KeyObject); err != nil {
		return engine.Data[any]{}, err
	}
	out := make(map[string]any, len(p.keys))
	for _, k := range p.keys {
		d, err := resolve(ctx, pc, scope, p.fields[k], KeyObject, k)
		if err != nil {
			return engine.Data[any]{}, err
		}
		if d.IsAbsent() {
			continue
		}
		v, _ := d.Value()
		out[k] = v
	}
	return engine.Present[any](out), nil
}

type concatBuilder struct {
	parts []engine.Builder[any]
}

func decodeConcat(obj map[string]any, loc string) (engine.Builder[any], error) {
	parts, err := childList(obj[KeyConcat], KeyConcat, at(loc, KeyConcat))
	if err != nil {
		return nil, err
	}
	return &concatBuilder{parts: parts}, nil
}

func (b *concatBuilder) SchemaReferenceKey() string { return KeyConcat }

func (b *concatBuilder) Build(dc *engine.DependencyContext) (engine.Provider[any], error) {
	parts, err := buildAll(dc, b.parts, KeyConcat, "parts")
	if err != nil {
		return nil, err
	}
	return instrument(&concatProvider{parts: parts}), nil
}

type concatProvider struct {
	parts []engine.Provider[any]
}

func (p *concatProvider) SchemaReferenceKey() string { return KeyConcat }

// Resolve joins the parts. Null and absent parts contribute nothing; objects
// and arrays are rejected.
func (p *concatProvider) Resolve(ctx context.Context, pc *engine.ProviderContext, scope *engine.Scope) (engine.Data[any], error) {
	if err := engine.Checkpoint(ctx, KeyConcat); err != nil {
		return engine.Data[any]{}, err
	}
	var b strings.Builder
	for i, part := range p.parts {
		v, err := resolveValue(ctx, pc, scope, part, KeyConcat, strconv.Itoa(i))
		if err != nil {
			return engine.Data[any]{}, err
		}
		s, ok := scalarText(v)
		if !ok {
			return engine.Data[any]{}, engine.Annotate(
				typeError(pc, KeyConcat, "scalar", v), KeyConcat, strconv.Itoa(i))
		}
		b.WriteString(s)
	}
	return engine.Present[any](b.String()), nil
}

func scalarText(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", true
	case string:
		return val, true
	case bool:
		return strconv.FormatBool(val), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32), true
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(val), true
	case fmt.Stringer:
		return val.String(), true
	}
	return "", false
}

// typeError reports that a provider obtained a value of the wrong kind.
func typeError(pc *engine.ProviderContext, schemaKey, expected string, obtained any) error {
	return engine.NewResolutionError(
		fmt.Sprintf("%s expected %s, obtained %T", schemaKey, expected, obtained), nil,
	).WithCode(engine.ErrCodeInvalidValueType).
		WithTitle("Invalid value type obtained").
		WithDetail(engine.DiagSchemaKey, schemaKey).
		WithDetail("expected", expected).
		WithDetail("obtained", fmt.Sprintf("%T", obtained)).
		WithDiagnostics(pc.Diagnose(nil))
}
