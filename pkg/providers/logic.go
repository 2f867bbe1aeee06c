package providers

import (
	"context"
	"fmt"
	"strconv"

	"github.com/openfroyo/automation/pkg/engine"
	"github.com/openfroyo/automation/pkg/path"
)

// logicalBuilder combines boolean children with and/or, short-circuiting.
type logicalBuilder struct {
	key   string
	terms []engine.Builder[any]
}

func decodeLogical(key string) func(obj map[string]any, loc string) (engine.Builder[any], error) {
	return func(obj map[string]any, loc string) (engine.Builder[any], error) {
		terms, err := childList(obj[key], key, at(loc, key))
		if err != nil {
			return nil, err
		}
		return &logicalBuilder{key: key, terms: terms}, nil
	}
}

func (b *logicalBuilder) SchemaReferenceKey() string { return b.key }

func (b *logicalBuilder) Build(dc *engine.DependencyContext) (engine.Provider[any], error) {
	terms, err := buildAll(dc, b.terms, b.key, "terms")
	if err != nil {
		return nil, err
	}
	return instrument(&logicalProvider{key: b.key, terms: terms}), nil
}

type logicalProvider struct {
	key   string
	terms []engine.Provider[any]
}

func (p *logicalProvider) SchemaReferenceKey() string { return p.key }

// Resolve evaluates terms left to right. Null and absent terms are false.
// An empty and is true, an empty or is false.
func (p *logicalProvider) Resolve(ctx context.Context, pc *engine.ProviderContext, scope *engine.Scope) (engine.Data[any], error) {
	if err := engine.Checkpoint(ctx, p.key); err != nil {
		return engine.Data[any]{}, err
	}
	isAnd := p.key == KeyAnd
	for i, term := range p.terms {
		d, err := resolveTyped[bool](ctx, pc, scope, term, p.key, strconv.Itoa(i))
		if err != nil {
			return engine.Data[any]{}, err
		}
		v := d.ValueOr(false)
		if isAnd && !v {
			return engine.Present[any](false), nil
		}
		if !isAnd && v {
			return engine.Present[any](true), nil
		}
	}
	return engine.Present[any](isAnd), nil
}

type notBuilder struct {
	term engine.Builder[any]
}

func decodeNot(obj map[string]any, loc string) (engine.Builder[any], error) {
	term, err := DecodeValue(obj[KeyNot], at(loc, KeyNot))
	if err != nil {
		return nil, err
	}
	return &notBuilder{term: term}, nil
}

func (b *notBuilder) SchemaReferenceKey() string { return KeyNot }

func (b *notBuilder) Build(dc *engine.DependencyContext) (engine.Provider[any], error) {
	term, err := build(dc, b.term, KeyNot, "term")
	if err != nil {
		return nil, err
	}
	return instrument(&notProvider{term: term}), nil
}

type notProvider struct {
	term engine.Provider[any]
}

func (p *notProvider) SchemaReferenceKey() string { return KeyNot }

func (p *notProvider) Resolve(ctx context.Context, pc *engine.ProviderContext, scope *engine.Scope) (engine.Data[any], error) {
	if err := engine.Checkpoint(ctx, KeyNot); err != nil {
		return engine.Data[any]{}, err
	}
	d, err := resolveTyped[bool](ctx, pc, scope, p.term, KeyNot, "term")
	if err != nil {
		return engine.Data[any]{}, err
	}
	return engine.Present[any](!d.ValueOr(false)), nil
}

// compareBuilder compares two resolved values with a path.Operator.
type compareBuilder struct {
	left  engine.Builder[any]
	op    path.Operator
	right engine.Builder[any]
}

func decodeCompare(obj map[string]any, loc string) (engine.Builder[any], error) {
	m, loc, err := params(obj, KeyCompare, loc, "left", "operator", "right")
	if err != nil {
		return nil, err
	}
	op, err := operatorParam(m, KeyCompare, loc)
	if err != nil {
		return nil, err
	}
	left, err := childParam(m, "left", KeyCompare, loc, true)
	if err != nil {
		return nil, err
	}
	right, err := childParam(m, "right", KeyCompare, loc, true)
	if err != nil {
		return nil, err
	}
	return &compareBuilder{left: left, op: op, right: right}, nil
}

func operatorParam(m map[string]any, schemaKey, loc string) (path.Operator, error) {
	name, err := stringParam(m, "operator", schemaKey, loc, true)
	if err != nil {
		return "", err
	}
	op, err := path.ParseOperator(name)
	if err != nil {
		return "", located(err, at(loc, "operator"), schemaKey)
	}
	return op, nil
}

func (b *compareBuilder) SchemaReferenceKey() string { return KeyCompare }

func (b *compareBuilder) Build(dc *engine.DependencyContext) (engine.Provider[any], error) {
	left, err := build(dc, b.left, KeyCompare, "left")
	if err != nil {
		return nil, err
	}
	right, err := build(dc, b.right, KeyCompare, "right")
	if err != nil {
		return nil, err
	}
	return instrument(&compareProvider{left: left, op: b.op, right: right}), nil
}

type compareProvider struct {
	left  engine.Provider[any]
	op    path.Operator
	right engine.Provider[any]
}

func (p *compareProvider) SchemaReferenceKey() string { return KeyCompare }

func (p *compareProvider) Resolve(ctx context.Context, pc *engine.ProviderContext, scope *engine.Scope) (engine.Data[any], error) {
	if err := engine.Checkpoint(ctx, KeyCompare); err != nil {
		return engine.Data[any]{}, err
	}
	l, err := resolveValue(ctx, pc, scope, p.left, KeyCompare, "left")
	if err != nil {
		return engine.Data[any]{}, err
	}
	r, err := resolveValue(ctx, pc, scope, p.right, KeyCompare, "right")
	if err != nil {
		return engine.Data[any]{}, err
	}
	ok, err := path.Compare(p.op, l, r)
	if err != nil {
		return engine.Data[any]{}, engine.Annotate(withRun(err, pc), KeyCompare, string(p.op))
	}
	return engine.Present[any](ok), nil
}

// counterBuilder increments a per-run counter on every resolution.
type counterBuilder struct {
	name string
}

func decodeIncrementCounter(obj map[string]any, loc string) (engine.Builder[any], error) {
	loc = at(loc, KeyIncrementCounter)
	name, ok := obj[KeyIncrementCounter].(string)
	if !ok || name == "" {
		return nil, invalidConfig(loc, KeyIncrementCounter, "incrementCounter expects a counter name")
	}
	return &counterBuilder{name: name}, nil
}

func (b *counterBuilder) SchemaReferenceKey() string { return KeyIncrementCounter }

func (b *counterBuilder) Build(*engine.DependencyContext) (engine.Provider[any], error) {
	return instrument(&counterProvider{name: b.name}), nil
}

type counterProvider struct {
	name string
}

func (p *counterProvider) SchemaReferenceKey() string { return KeyIncrementCounter }

// Resolve returns the counter value after incrementing it.
func (p *counterProvider) Resolve(ctx context.Context, pc *engine.ProviderContext, _ *engine.Scope) (engine.Data[any], error) {
	if err := engine.Checkpoint(ctx, KeyIncrementCounter); err != nil {
		return engine.Data[any]{}, err
	}
	return engine.Present[any](pc.Increment(p.name, 1)), nil
}

// typeOfBuilder checks the kind of a resolved value.
type typeOfBuilder struct {
	expect string
	value  engine.Builder[any]
}

var valueKinds = []string{"string", "number", "integer", "boolean", "object", "array"}

func decodeTypeOf(obj map[string]any, loc string) (engine.Builder[any], error) {
	m, loc, err := params(obj, KeyTypeOf, loc, "expect", "value")
	if err != nil {
		return nil, err
	}
	expect, err := stringParam(m, "expect", KeyTypeOf, loc, true)
	if err != nil {
		return nil, err
	}
	if !contains(valueKinds, expect) {
		return nil, invalidConfig(at(loc, "expect"), KeyTypeOf, fmt.Sprintf("unknown kind %q", expect))
	}
	value, err := childParam(m, "value", KeyTypeOf, loc, true)
	if err != nil {
		return nil, err
	}
	return &typeOfBuilder{expect: expect, value: value}, nil
}

func (b *typeOfBuilder) SchemaReferenceKey() string { return KeyTypeOf }

func (b *typeOfBuilder) Build(dc *engine.DependencyContext) (engine.Provider[any], error) {
	value, err := build(dc, b.value, KeyTypeOf, "value")
	if err != nil {
		return nil, err
	}
	return instrument(&typeOfProvider{expect: b.expect, value: value}), nil
}

type typeOfProvider struct {
	expect string
	value  engine.Provider[any]
}

func (p *typeOfProvider) SchemaReferenceKey() string { return KeyTypeOf }

// Resolve returns the value coerced to the expected kind. Null and absent
// values pass through unchanged.
func (p *typeOfProvider) Resolve(ctx context.Context, pc *engine.ProviderContext, scope *engine.Scope) (engine.Data[any], error) {
	if err := engine.Checkpoint(ctx, KeyTypeOf); err != nil {
		return engine.Data[any]{}, err
	}
	d, err := resolve(ctx, pc, scope, p.value, KeyTypeOf, "value")
	if err != nil || !d.IsPresent() {
		return d, err
	}

	var out engine.Data[any]
	switch p.expect {
	case "string":
		out, err = coerce[string](d)
	case "number":
		out, err = coerce[float64](d)
	case "integer":
		out, err = coerce[int64](d)
	case "boolean":
		out, err = coerce[bool](d)
	case "object":
		out, err = coerce[map[string]any](d)
	case "array":
		out, err = coerce[[]any](d)
	}
	if err != nil {
		return engine.Data[any]{}, engine.Annotate(withRun(err, pc), KeyTypeOf, p.expect)
	}
	return out, nil
}

func coerce[T any](d engine.Data[any]) (engine.Data[any], error) {
	t, err := engine.ConvertData[T](d, KeyTypeOf)
	if err != nil {
		return engine.Data[any]{}, err
	}
	return t.Any(), nil
}
