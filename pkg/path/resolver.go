package path

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"unicode"

	"github.com/tidwall/gjson"

	"github.com/openfroyo/automation/pkg/engine"
)

// Resolver walks parsed paths against the values bound in a Scope.
//
// Traversal is strictly left to right and stops at the first segment that
// cannot be resolved. Struct fields are addressed by their json tag, or by
// the camelCase form of the Go field name; map keys and raw JSON members by
// their exact key. A segment that matches a property only when case is
// ignored is a syntax error, not a not-found error.
type Resolver struct{}

// NewResolver creates a resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// ResolveValue resolves p to a materialized value (data mode).
func (r *Resolver) ResolveValue(
	ctx context.Context,
	scope *engine.Scope,
	p *Path,
	providerType string,
	diag engine.Diagnostics,
) (any, error) {
	diag = diag.With(engine.DiagPath, p.raw)
	if p.form == FormExpression {
		return r.evaluateExpression(ctx, scope, p, diag)
	}
	root, err := scope.GetValue(p.Root(), providerType, diag)
	if err != nil {
		return nil, err
	}
	c, err := r.walk(rootCursor(p.Root(), root), p, diag)
	if err != nil {
		return nil, err
	}
	return c.materialize(), nil
}

// ResolveExpr resolves p to an access expression rooted at the alias
// parameter (expression mode). Aliases bound to a *Param placeholder are
// walked by type only; aliases bound to values are validated against them.
func (r *Resolver) ResolveExpr(
	scope *engine.Scope,
	p *Path,
	providerType string,
	diag engine.Diagnostics,
) (Expr, error) {
	diag = diag.With(engine.DiagPath, p.raw)
	if !p.IsSimple() {
		return nil, engine.NewConfigurationError(
			fmt.Sprintf("path %q is an expression and cannot produce an access expression", p.raw), nil,
		).WithCode(engine.ErrCodeInvalidInputData).WithDiagnostics(diag)
	}
	root, err := scope.GetValue(p.Root(), providerType, diag)
	if err != nil {
		return nil, err
	}
	c, err := r.walk(rootCursor(p.Root(), root), p, diag)
	if err != nil {
		return nil, err
	}
	return c.expr, nil
}

// Lookup walks the segments of p below its alias, starting at root.
func (r *Resolver) Lookup(root any, p *Path) (any, error) {
	if !p.IsSimple() {
		data, err := ToJSONValue(root)
		if err != nil {
			return nil, err
		}
		return p.evaluate(context.Background(), data)
	}
	c, err := r.walk(rootCursor(p.Root(), root), p, nil)
	if err != nil {
		return nil, err
	}
	return c.materialize(), nil
}

type cursor struct {
	expr  Expr
	typ   reflect.Type
	val   reflect.Value
	known bool
	json  *gjson.Result
}

func rootCursor(alias string, bound any) cursor {
	switch p := bound.(type) {
	case *Param:
		param := *p
		param.Name = alias
		return cursor{expr: param, typ: p.Type}
	case Param:
		p.Name = alias
		return cursor{expr: p, typ: p.Type}
	}
	return cursor{
		expr:  Param{Name: alias, Type: reflect.TypeOf(bound), Bound: bound, HasBound: true},
		typ:   reflect.TypeOf(bound),
		val:   reflect.ValueOf(bound),
		known: true,
	}
}

func (c cursor) materialize() any {
	if c.json != nil {
		return c.json.Value()
	}
	if !c.val.IsValid() {
		return nil
	}
	return c.val.Interface()
}

func (r *Resolver) walk(c cursor, p *Path, diag engine.Diagnostics) (cursor, error) {
	for i, seg := range p.segments[1:] {
		var err error
		if c.known {
			c, err = stepValue(c, seg)
		} else {
			c, err = stepType(c, seg)
		}
		if err != nil {
			return cursor{}, decorate(err, p, seg, i+1, diag)
		}
	}
	return c, nil
}

// stepValue advances a cursor whose runtime value is known.
func stepValue(c cursor, seg string) (cursor, error) {
	if c.json == nil && c.val.IsValid() && c.val.CanInterface() {
		if res, ok := asJSON(c.val.Interface()); ok {
			c.json = &res
		}
	}
	if c.json != nil {
		return stepJSON(c, seg)
	}

	v := indirect(c.val)
	if !v.IsValid() {
		return cursor{}, errNotFound
	}

	switch v.Kind() {
	case reflect.Struct:
		f, err := findField(v.Type(), seg)
		if err != nil {
			return cursor{}, err
		}
		fv, ferr := v.FieldByIndexErr(f.Index)
		if ferr != nil {
			return cursor{}, errNotFound
		}
		return cursor{
			expr:  MemberAccess{Base: c.expr, Field: f.Name, Segment: seg, Index: f.Index},
			typ:   f.Type,
			val:   fv,
			known: true,
		}, nil

	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return cursor{}, errNotFound
		}
		key := reflect.ValueOf(seg).Convert(v.Type().Key())
		mv := v.MapIndex(key)
		if !mv.IsValid() {
			for _, k := range v.MapKeys() {
				if strings.EqualFold(k.String(), seg) {
					return cursor{}, casingError(seg, k.String())
				}
			}
			return cursor{}, errNotFound
		}
		return cursor{
			expr:  KeyAccess{Base: c.expr, Key: seg},
			typ:   v.Type().Elem(),
			val:   mv,
			known: true,
		}, nil

	case reflect.Slice, reflect.Array:
		idx, ok := index(seg)
		if !ok || idx >= v.Len() {
			return cursor{}, errNotFound
		}
		return cursor{
			expr:  IndexAccess{Base: c.expr, Index: idx},
			typ:   v.Type().Elem(),
			val:   v.Index(idx),
			known: true,
		}, nil
	}
	return cursor{}, errNotFound
}

// stepJSON advances through raw JSON.
func stepJSON(c cursor, seg string) (cursor, error) {
	res := *c.json
	child := res.Get(gjsonKey(seg))
	if !child.Exists() {
		if res.IsObject() {
			var casing error
			res.ForEach(func(k, _ gjson.Result) bool {
				if strings.EqualFold(k.String(), seg) {
					casing = casingError(seg, k.String())
					return false
				}
				return true
			})
			if casing != nil {
				return cursor{}, casing
			}
		}
		return cursor{}, errNotFound
	}

	next := cursor{json: &child, known: true}
	if idx, ok := index(seg); ok && res.IsArray() {
		next.expr = IndexAccess{Base: c.expr, Index: idx}
	} else {
		next.expr = KeyAccess{Base: c.expr, Key: seg}
	}
	return next, nil
}

// stepType advances a cursor for which only the static type is known, as
// for a parameter placeholder whose value arrives at evaluation time.
func stepType(c cursor, seg string) (cursor, error) {
	t := c.typ
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	if t == nil || t.Kind() == reflect.Interface || t == rawMessageType {
		if idx, ok := index(seg); ok {
			return cursor{expr: IndexAccess{Base: c.expr, Index: idx}}, nil
		}
		return cursor{expr: KeyAccess{Base: c.expr, Key: seg}}, nil
	}

	switch t.Kind() {
	case reflect.Struct:
		f, err := findField(t, seg)
		if err != nil {
			return cursor{}, err
		}
		return cursor{
			expr: MemberAccess{Base: c.expr, Field: f.Name, Segment: seg, Index: f.Index},
			typ:  f.Type,
		}, nil
	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			return cursor{}, errNotFound
		}
		return cursor{expr: KeyAccess{Base: c.expr, Key: seg}, typ: t.Elem()}, nil
	case reflect.Slice, reflect.Array:
		idx, ok := index(seg)
		if !ok {
			return cursor{}, errNotFound
		}
		return cursor{expr: IndexAccess{Base: c.expr, Index: idx}, typ: t.Elem()}, nil
	}
	return cursor{}, errNotFound
}

var rawMessageType = reflect.TypeFor[json.RawMessage]()

// findField returns the exported field of t addressed by seg.
func findField(t reflect.Type, seg string) (reflect.StructField, error) {
	for _, f := range reflect.VisibleFields(t) {
		if !f.IsExported() || f.Anonymous {
			continue
		}
		name, ok := PropertyName(f)
		if !ok {
			continue
		}
		if name == seg {
			return f, nil
		}
		if strings.EqualFold(name, seg) {
			return reflect.StructField{}, casingError(seg, name)
		}
	}
	return reflect.StructField{}, errNotFound
}

// PropertyName returns the path segment that addresses f: its json tag name
// when set, otherwise the camelCase form of the field name. Fields tagged
// json:"-" are not addressable.
func PropertyName(f reflect.StructField) (string, bool) {
	tag := f.Tag.Get("json")
	if tag == "-" {
		return "", false
	}
	if name, _, _ := strings.Cut(tag, ","); name != "" {
		return name, true
	}
	return CamelCase(f.Name), true
}

// CamelCase lowercases the leading run of capitals of an exported Go name:
// Simple -> simple, ID -> id, URLPath -> urlPath.
func CamelCase(name string) string {
	runes := []rune(name)
	for i := range runes {
		if !unicode.IsUpper(runes[i]) {
			break
		}
		if i > 0 && i+1 < len(runes) && !unicode.IsUpper(runes[i+1]) {
			break
		}
		runes[i] = unicode.ToLower(runes[i])
	}
	return string(runes)
}

func index(seg string) (int, bool) {
	if !isIndex(seg) {
		return 0, false
	}
	n, err := strconv.Atoi(seg)
	return n, err == nil
}

// errNotFound is a marker decorated by walk with the path and segment.
var errNotFound = engine.NewResolutionError("not found", nil).WithCode(engine.ErrCodePathNotFound)

func casingError(seg, actual string) error {
	return engine.NewConfigurationError(
		fmt.Sprintf("segment %q does not match the casing of %q", seg, actual), nil,
	).WithCode(engine.ErrCodePathSyntax).WithDetail("expected", actual)
}

func decorate(err error, p *Path, seg string, position int, diag engine.Diagnostics) error {
	if err == errNotFound {
		return engine.NewResolutionError(
			fmt.Sprintf("path %q: nothing found at segment %q", p.raw, seg), nil,
		).WithCode(engine.ErrCodePathNotFound).
			WithTitle("Path not found").
			WithDetail(engine.DiagPath, p.raw).
			WithDetail(engine.DiagSegment, seg).
			WithDetail("position", position).
			WithDiagnostics(diag)
	}
	if e, ok := err.(*engine.EngineError); ok && e.Code == engine.ErrCodePathSyntax {
		out := syntaxError(p.raw, seg, e.Message)
		out.WithDetail("position", position).WithDiagnostics(diag)
		for k, v := range e.Details {
			out.WithDetail(k, v)
		}
		return out
	}
	return err
}

func (r *Resolver) evaluateExpression(
	ctx context.Context,
	scope *engine.Scope,
	p *Path,
	diag engine.Diagnostics,
) (any, error) {
	snapshot := make(map[string]any)
	for alias, v := range scope.Snapshot() {
		switch v.(type) {
		case *Param, Param:
			continue
		}
		snapshot[alias] = v
	}
	data, err := ToJSONValue(snapshot)
	if err != nil {
		return nil, err
	}
	v, err := p.evaluate(ctx, data)
	if err != nil {
		return nil, engine.NewResolutionError(fmt.Sprintf("expression %q found nothing", p.raw), err).
			WithCode(engine.ErrCodePathNotFound).
			WithTitle("Path not found").
			WithDiagnostics(diag)
	}
	return v, nil
}

// ToJSONValue converts v into the generic JSON shape (maps, slices, float64,
// string, bool, nil) by encoding and decoding it.
func ToJSONValue(v any) (any, error) {
	if res, ok := asJSON(v); ok {
		return res.Value(), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, engine.NewResolutionError("value cannot be represented as JSON", err).
			WithCode(engine.ErrCodeInvalidInputData)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, engine.NewResolutionError("value cannot be represented as JSON", err).
			WithCode(engine.ErrCodeInvalidInputData)
	}
	return out, nil
}
