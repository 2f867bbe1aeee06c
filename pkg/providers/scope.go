package providers

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"sync"

	"github.com/openfroyo/automation/pkg/engine"
	"github.com/openfroyo/automation/pkg/path"
)

// parallelWorkers bounds the goroutines one parallel mapList resolution uses.
const parallelWorkers = 8

// aliasParam reads an alias name. Aliases follow the path segment grammar
// so that they can be addressed as the first segment of a path.
func aliasParam(m map[string]any, key, schemaKey, loc string, required bool) (string, error) {
	alias, err := stringParam(m, key, schemaKey, loc, required)
	if err != nil || alias == "" {
		return alias, err
	}
	p, err := path.Parse(alias)
	if err != nil {
		return "", located(err, at(loc, key), schemaKey)
	}
	if len(p.Segments()) != 1 || p.Form() != path.FormDotted {
		return "", invalidConfig(at(loc, key), schemaKey, fmt.Sprintf("alias %q must be a single identifier", alias))
	}
	return alias, nil
}

// itemBinding describes how a list provider binds the current item.
type itemBinding struct {
	alias    string
	explicit bool
	owner    string
}

// bind pushes value into scope. An author-named alias must be free; the
// default alias is disambiguated as item, item1, item2, ...
func (b itemBinding) bind(scope *engine.Scope, value any) (string, error) {
	if b.explicit {
		return b.alias, scope.Push(b.alias, value, b.owner)
	}
	return scope.PushWithGeneratedAlias(b.alias, value, b.owner)
}

func decodeItemBinding(m map[string]any, schemaKey, loc string) (itemBinding, error) {
	alias, err := aliasParam(m, "itemAlias", schemaKey, loc, false)
	if err != nil {
		return itemBinding{}, err
	}
	b := itemBinding{alias: alias, explicit: alias != "", owner: schemaKey + ".itemAlias"}
	if !b.explicit {
		b.alias = DefaultItemAlias
	}
	return b, nil
}

// listItems converts a resolved list into its items and static element type.
// Null and absent lists have no items.
func listItems(pc *engine.ProviderContext, schemaKey string, d engine.Data[any]) ([]any, reflect.Type, error) {
	v, ok := d.Value()
	if !ok || v == nil {
		return nil, nil, nil
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer && !rv.IsNil() {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, nil, typeError(pc, schemaKey, "array", v)
	}
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, rv.Type().Elem(), nil
}

// letBuilder binds a value under an explicit alias while resolving a body.
type letBuilder struct {
	alias string
	value engine.Builder[any]
	body  engine.Builder[any]
}

func decodeLet(obj map[string]any, loc string) (engine.Builder[any], error) {
	m, loc, err := params(obj, KeyLet, loc, "alias", "value", "in")
	if err != nil {
		return nil, err
	}
	alias, err := aliasParam(m, "alias", KeyLet, loc, true)
	if err != nil {
		return nil, err
	}
	value, err := childParam(m, "value", KeyLet, loc, true)
	if err != nil {
		return nil, err
	}
	body, err := childParam(m, "in", KeyLet, loc, true)
	if err != nil {
		return nil, err
	}
	return &letBuilder{alias: alias, value: value, body: body}, nil
}

func (b *letBuilder) SchemaReferenceKey() string { return KeyLet }

func (b *letBuilder) Build(dc *engine.DependencyContext) (engine.Provider[any], error) {
	value, err := build(dc, b.value, KeyLet, "value")
	if err != nil {
		return nil, err
	}
	body, err := build(dc, b.body, KeyLet, "in")
	if err != nil {
		return nil, err
	}
	return instrument(&letProvider{alias: b.alias, value: value, body: body}), nil
}

type letProvider struct {
	alias string
	value engine.Provider[any]
	body  engine.Provider[any]
}

func (p *letProvider) SchemaReferenceKey() string { return KeyLet }

func (p *letProvider) Resolve(ctx context.Context, pc *engine.ProviderContext, scope *engine.Scope) (engine.Data[any], error) {
	if err := engine.Checkpoint(ctx, KeyLet); err != nil {
		return engine.Data[any]{}, err
	}
	v, err := resolveValue(ctx, pc, scope, p.value, KeyLet, "value")
	if err != nil {
		return engine.Data[any]{}, err
	}

	mark := scope.Mark()
	defer scope.Unwind(mark)
	if err := scope.Push(p.alias, v, KeyLet+".alias"); err != nil {
		return engine.Data[any]{}, engine.Annotate(withRun(err, pc), KeyLet, "alias")
	}
	return resolve(ctx, pc, scope, p.body, KeyLet, "in")
}

// mapListBuilder resolves a selector once per list item.
type mapListBuilder struct {
	list     engine.Builder[any]
	item     itemBinding
	selector engine.Builder[any]
	parallel bool
}

func decodeMapList(obj map[string]any, loc string) (engine.Builder[any], error) {
	m, loc, err := params(obj, KeyMapList, loc, "list", "itemAlias", "select", "parallel")
	if err != nil {
		return nil, err
	}
	list, err := childParam(m, "list", KeyMapList, loc, true)
	if err != nil {
		return nil, err
	}
	item, err := decodeItemBinding(m, KeyMapList, loc)
	if err != nil {
		return nil, err
	}
	selector, err := childParam(m, "select", KeyMapList, loc, true)
	if err != nil {
		return nil, err
	}
	parallel, err := boolParam(m, "parallel", KeyMapList, loc)
	if err != nil {
		return nil, err
	}
	return &mapListBuilder{list: list, item: item, selector: selector, parallel: parallel}, nil
}

func (b *mapListBuilder) SchemaReferenceKey() string { return KeyMapList }

func (b *mapListBuilder) Build(dc *engine.DependencyContext) (engine.Provider[any], error) {
	list, err := build(dc, b.list, KeyMapList, "list")
	if err != nil {
		return nil, err
	}
	selector, err := build(dc, b.selector, KeyMapList, "select")
	if err != nil {
		return nil, err
	}
	return instrument(&mapListProvider{list: list, item: b.item, selector: selector, parallel: b.parallel}), nil
}

type mapListProvider struct {
	list     engine.Provider[any]
	item     itemBinding
	selector engine.Provider[any]
	parallel bool
}

func (p *mapListProvider) SchemaReferenceKey() string { return KeyMapList }

func (p *mapListProvider) Resolve(ctx context.Context, pc *engine.ProviderContext, scope *engine.Scope) (engine.Data[any], error) {
	if err := engine.Checkpoint(ctx, KeyMapList); err != nil {
		return engine.Data[any]{}, err
	}
	d, err := resolve(ctx, pc, scope, p.list, KeyMapList, "list")
	if err != nil {
		return engine.Data[any]{}, err
	}
	items, _, err := listItems(pc, KeyMapList, d)
	if err != nil {
		return engine.Data[any]{}, engine.Annotate(err, KeyMapList, "list")
	}

	out := make([]any, len(items))
	if !p.parallel || len(items) < 2 {
		for i, item := range items {
			if out[i], err = p.resolveItem(ctx, pc, scope, i, item); err != nil {
				return engine.Data[any]{}, err
			}
		}
		return engine.Present[any](out), nil
	}

	if err := p.resolveParallel(ctx, pc, scope, items, out); err != nil {
		return engine.Data[any]{}, err
	}
	return engine.Present[any](out), nil
}

// resolveItem binds item and resolves the selector. The binding is
// released on every exit path.
func (p *mapListProvider) resolveItem(
	ctx context.Context,
	pc *engine.ProviderContext,
	scope *engine.Scope,
	i int,
	item any,
) (any, error) {
	mark := scope.Mark()
	defer scope.Unwind(mark)

	if _, err := p.item.bind(scope, item); err != nil {
		return nil, engine.Annotate(withRun(err, pc), KeyMapList, "itemAlias")
	}
	return resolveValue(ctx, pc, scope, p.selector, KeyMapList, "select["+strconv.Itoa(i)+"]")
}

// resolveParallel fans items out over a bounded worker pool. Every item gets
// its own fork of scope. The first failure cancels the remaining items and
// the failure of the lowest index is reported.
func (p *mapListProvider) resolveParallel(
	ctx context.Context,
	pc *engine.ProviderContext,
	scope *engine.Scope,
	items []any,
	out []any,
) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workerCount := parallelWorkers
	if len(items) < workerCount {
		workerCount = len(items)
	}

	workQueue := make(chan int, len(items))
	for i := range items {
		workQueue <- i
	}
	close(workQueue)

	errs := make([]error, len(items))
	var wg sync.WaitGroup
	for w := 0; w < workerCount; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range workQueue {
				v, err := p.resolveItem(ctx, pc, scope.Fork(), i, items[i])
				if err != nil {
					errs[i] = err
					cancel()
					continue
				}
				out[i] = v
			}
		}()
	}
	wg.Wait()

	var cancelled error
	for _, err := range errs {
		switch {
		case err == nil:
		case engine.HasCode(err, engine.ErrCodeCancelled):
			if cancelled == nil {
				cancelled = err
			}
		default:
			return err
		}
	}
	return cancelled
}

// filterListBuilder keeps the items that satisfy a comparison on one of
// their properties.
type filterListBuilder struct {
	list     engine.Builder[any]
	item     itemBinding
	property *propertyExpressionBuilder
	op       path.Operator
	value    engine.Builder[any]
}

func decodeFilterList(obj map[string]any, loc string) (engine.Builder[any], error) {
	m, loc, err := params(obj, KeyFilterList, loc, "list", "itemAlias", "where")
	if err != nil {
		return nil, err
	}
	list, err := childParam(m, "list", KeyFilterList, loc, true)
	if err != nil {
		return nil, err
	}
	item, err := decodeItemBinding(m, KeyFilterList, loc)
	if err != nil {
		return nil, err
	}
	where, wloc, err := params(m, "where", loc, "property", "operator", "value")
	if err != nil {
		return nil, err
	}
	prop, err := parsePath(where["property"], KeyFilterList, at(wloc, "property"))
	if err != nil {
		return nil, err
	}
	if !prop.IsSimple() {
		return nil, invalidConfig(at(wloc, "property"), KeyFilterList, "where.property requires a pointer or dotted path")
	}
	op, err := operatorParam(where, KeyFilterList, wloc)
	if err != nil {
		return nil, err
	}
	value, err := childParam(where, "value", KeyFilterList, wloc, true)
	if err != nil {
		return nil, err
	}
	return &filterListBuilder{
		list:     list,
		item:     item,
		property: &propertyExpressionBuilder{path: prop},
		op:       op,
		value:    value,
	}, nil
}

func (b *filterListBuilder) SchemaReferenceKey() string { return KeyFilterList }

func (b *filterListBuilder) Build(dc *engine.DependencyContext) (engine.Provider[any], error) {
	list, err := build(dc, b.list, KeyFilterList, "list")
	if err != nil {
		return nil, err
	}
	prop, err := b.property.build(dc)
	if err != nil {
		return nil, engine.Annotate(err, KeyFilterList, "where.property")
	}
	value, err := build(dc, b.value, KeyFilterList, "where.value")
	if err != nil {
		return nil, err
	}
	return instrument(&filterListProvider{list: list, item: b.item, property: prop, op: b.op, value: value}), nil
}

type filterListProvider struct {
	list     engine.Provider[any]
	item     itemBinding
	property *propertyExpressionProvider
	op       path.Operator
	value    engine.Provider[any]
}

func (p *filterListProvider) SchemaReferenceKey() string { return KeyFilterList }

// Resolve compiles the predicate once against a placeholder for the item
// and applies it to every item. Items lacking the property do not match.
func (p *filterListProvider) Resolve(ctx context.Context, pc *engine.ProviderContext, scope *engine.Scope) (engine.Data[any], error) {
	if err := engine.Checkpoint(ctx, KeyFilterList); err != nil {
		return engine.Data[any]{}, err
	}
	d, err := resolve(ctx, pc, scope, p.list, KeyFilterList, "list")
	if err != nil {
		return engine.Data[any]{}, err
	}
	items, elemType, err := listItems(pc, KeyFilterList, d)
	if err != nil {
		return engine.Data[any]{}, engine.Annotate(err, KeyFilterList, "list")
	}
	want, err := resolveValue(ctx, pc, scope, p.value, KeyFilterList, "where.value")
	if err != nil {
		return engine.Data[any]{}, err
	}

	alias, pred, err := p.compile(pc, scope, elemType, want)
	if err != nil {
		return engine.Data[any]{}, err
	}

	out := make([]any, 0, len(items))
	for _, item := range items {
		if err := engine.Checkpoint(ctx, KeyFilterList); err != nil {
			return engine.Data[any]{}, err
		}
		ok, err := pred(path.Env{alias: item})
		if err != nil {
			if engine.IsNotFound(err) {
				continue
			}
			return engine.Data[any]{}, engine.Annotate(withRun(err, pc), KeyFilterList, "where")
		}
		if ok {
			out = append(out, item)
		}
	}
	return engine.Present[any](out), nil
}

func (p *filterListProvider) compile(
	pc *engine.ProviderContext,
	scope *engine.Scope,
	elemType reflect.Type,
	want any,
) (string, path.Predicate, error) {
	mark := scope.Mark()
	defer scope.Unwind(mark)

	alias, err := p.item.bind(scope, &path.Param{Type: elemType})
	if err != nil {
		return "", nil, engine.Annotate(withRun(err, pc), KeyFilterList, "itemAlias")
	}
	expr, err := p.property.expr(pc, scope)
	if err != nil {
		return "", nil, engine.Annotate(err, KeyFilterList, "where.property")
	}
	pred, err := path.CompilePredicate(path.Binary{Op: p.op, Left: expr, Right: path.Constant{Value: want}})
	if err != nil {
		return "", nil, engine.Annotate(err, KeyFilterList, "where")
	}
	return alias, pred, nil
}
