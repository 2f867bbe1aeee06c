package path

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/openfroyo/automation/pkg/engine"
)

// Env supplies parameter values when an expression is evaluated.
type Env map[string]any

// Expr is a node of the closed access-expression tree produced by
// expression-mode resolution.
type Expr interface {
	fmt.Stringer

	// Eval evaluates the expression against env.
	Eval(env Env) (any, error)

	exprNode()
}

// Param is an alias parameter. When the alias was bound to a concrete value
// at resolution time, Bound holds it and is used if env has no entry.
type Param struct {
	Name     string
	Type     reflect.Type
	Bound    any
	HasBound bool
}

// Constant is a literal value.
type Constant struct {
	Value any
}

// MemberAccess reads a struct field. Field is the Go field name and Segment
// the camelCase path segment that selected it.
type MemberAccess struct {
	Base    Expr
	Field   string
	Segment string
	Index   []int
}

// KeyAccess reads a map key or a raw JSON object member.
type KeyAccess struct {
	Base Expr
	Key  string
}

// IndexAccess reads a slice, array or raw JSON array element.
type IndexAccess struct {
	Base  Expr
	Index int
}

// Binary compares two operands.
type Binary struct {
	Op    Operator
	Left  Expr
	Right Expr
}

func (Param) exprNode()        {}
func (Constant) exprNode()     {}
func (MemberAccess) exprNode() {}
func (KeyAccess) exprNode()    {}
func (IndexAccess) exprNode()  {}
func (Binary) exprNode()       {}

func (p Param) String() string    { return p.Name }
func (c Constant) String() string { return fmt.Sprintf("%#v", c.Value) }
func (m MemberAccess) String() string {
	return m.Base.String() + "." + m.Field
}
func (k KeyAccess) String() string   { return fmt.Sprintf("%s[%q]", k.Base, k.Key) }
func (i IndexAccess) String() string { return fmt.Sprintf("%s[%d]", i.Base, i.Index) }
func (b Binary) String() string      { return fmt.Sprintf("(%s %s %s)", b.Left, b.Op, b.Right) }

// Eval looks the parameter up in env, falling back to the bound value.
func (p Param) Eval(env Env) (any, error) {
	if v, ok := env[p.Name]; ok {
		return v, nil
	}
	if p.HasBound {
		return p.Bound, nil
	}
	return nil, engine.NewResolutionError(fmt.Sprintf("parameter %q has no value", p.Name), nil).
		WithCode(engine.ErrCodeParameterMissing).
		WithDetail(engine.DiagAlias, p.Name)
}

// Eval returns the constant.
func (c Constant) Eval(Env) (any, error) { return c.Value, nil }

// Eval reads the field from the evaluated base.
func (m MemberAccess) Eval(env Env) (any, error) {
	base, err := m.Base.Eval(env)
	if err != nil {
		return nil, err
	}
	return m.access(base)
}

func (m MemberAccess) access(base any) (any, error) {
	rv := indirect(reflect.ValueOf(base))
	if !rv.IsValid() || rv.Kind() != reflect.Struct {
		return nil, evalNotFound(m, m.Segment)
	}
	index := m.Index
	if index == nil || !fieldIndexValid(rv.Type(), index, m.Field) {
		f, ok := rv.Type().FieldByName(m.Field)
		if !ok {
			return nil, evalNotFound(m, m.Segment)
		}
		index = f.Index
	}
	// Promoted fields reached through a nil embedded pointer are absent.
	fv, err := rv.FieldByIndexErr(index)
	if err != nil || !fv.IsValid() {
		return nil, evalNotFound(m, m.Segment)
	}
	return fv.Interface(), nil
}

// Eval reads the key from the evaluated base.
func (k KeyAccess) Eval(env Env) (any, error) {
	base, err := k.Base.Eval(env)
	if err != nil {
		return nil, err
	}
	return k.access(base)
}

func (k KeyAccess) access(base any) (any, error) {
	if res, ok := asJSON(base); ok {
		child := res.Get(gjsonKey(k.Key))
		if !child.Exists() {
			return nil, evalNotFound(k, k.Key)
		}
		return child.Value(), nil
	}
	rv := indirect(reflect.ValueOf(base))
	if !rv.IsValid() || rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, evalNotFound(k, k.Key)
	}
	v := rv.MapIndex(reflect.ValueOf(k.Key).Convert(rv.Type().Key()))
	if !v.IsValid() {
		return nil, evalNotFound(k, k.Key)
	}
	return v.Interface(), nil
}

// Eval reads the element from the evaluated base.
func (i IndexAccess) Eval(env Env) (any, error) {
	base, err := i.Base.Eval(env)
	if err != nil {
		return nil, err
	}
	return i.access(base)
}

func (i IndexAccess) access(base any) (any, error) {
	seg := strconv.Itoa(i.Index)
	if res, ok := asJSON(base); ok {
		child := res.Get(seg)
		if !res.IsArray() || !child.Exists() {
			return nil, evalNotFound(i, seg)
		}
		return child.Value(), nil
	}
	rv := indirect(reflect.ValueOf(base))
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) || i.Index >= rv.Len() {
		return nil, evalNotFound(i, seg)
	}
	return rv.Index(i.Index).Interface(), nil
}

// Eval evaluates both operands and compares them.
func (b Binary) Eval(env Env) (any, error) {
	left, err := b.Left.Eval(env)
	if err != nil {
		return nil, err
	}
	right, err := b.Right.Eval(env)
	if err != nil {
		return nil, err
	}
	return Compare(b.Op, left, right)
}

// Func is a compiled expression.
type Func func(env Env) (any, error)

// Predicate is a compiled boolean expression.
type Predicate func(env Env) (bool, error)

// Compile turns an expression into a tree of closures so that repeated
// evaluation does not dispatch on node types.
func Compile(e Expr) (Func, error) {
	switch n := e.(type) {
	case Param:
		return n.Eval, nil
	case Constant:
		v := n.Value
		return func(Env) (any, error) { return v, nil }, nil
	case MemberAccess:
		base, err := Compile(n.Base)
		if err != nil {
			return nil, err
		}
		return func(env Env) (any, error) {
			v, err := base(env)
			if err != nil {
				return nil, err
			}
			return n.access(v)
		}, nil
	case KeyAccess:
		base, err := Compile(n.Base)
		if err != nil {
			return nil, err
		}
		return func(env Env) (any, error) {
			v, err := base(env)
			if err != nil {
				return nil, err
			}
			return n.access(v)
		}, nil
	case IndexAccess:
		base, err := Compile(n.Base)
		if err != nil {
			return nil, err
		}
		return func(env Env) (any, error) {
			v, err := base(env)
			if err != nil {
				return nil, err
			}
			return n.access(v)
		}, nil
	case Binary:
		left, err := Compile(n.Left)
		if err != nil {
			return nil, err
		}
		right, err := Compile(n.Right)
		if err != nil {
			return nil, err
		}
		op := n.Op
		return func(env Env) (any, error) {
			l, err := left(env)
			if err != nil {
				return nil, err
			}
			r, err := right(env)
			if err != nil {
				return nil, err
			}
			return Compare(op, l, r)
		}, nil
	default:
		return nil, engine.NewConfigurationError(fmt.Sprintf("cannot compile expression of type %T", e), nil).
			WithCode(engine.ErrCodeInvalidInputData)
	}
}

// CompilePredicate compiles an expression that must evaluate to a bool.
func CompilePredicate(e Expr) (Predicate, error) {
	fn, err := Compile(e)
	if err != nil {
		return nil, err
	}
	return func(env Env) (bool, error) {
		v, err := fn(env)
		if err != nil {
			return false, err
		}
		b, ok := v.(bool)
		if !ok {
			return false, engine.NewResolutionError(
				fmt.Sprintf("predicate %s produced %T, want bool", e, v), nil,
			).WithCode(engine.ErrCodeInvalidValueType)
		}
		return b, nil
	}, nil
}

func evalNotFound(e Expr, segment string) error {
	return engine.NewResolutionError(fmt.Sprintf("%s: nothing found at %q", e, segment), nil).
		WithCode(engine.ErrCodePathNotFound).
		WithDetail(engine.DiagPath, e.String()).
		WithDetail(engine.DiagSegment, segment)
}

func indirect(rv reflect.Value) reflect.Value {
	for rv.IsValid() && (rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface) {
		if rv.IsNil() {
			return reflect.Value{}
		}
		rv = rv.Elem()
	}
	return rv
}

// fieldIndexValid reports whether index addresses the field called name in
// t, stepping through embedded pointers.
func fieldIndexValid(t reflect.Type, index []int, name string) bool {
	var f reflect.StructField
	for i, x := range index {
		if i > 0 {
			t = f.Type
			if t.Kind() == reflect.Pointer {
				t = t.Elem()
			}
		}
		if t.Kind() != reflect.Struct || x < 0 || x >= t.NumField() {
			return false
		}
		f = t.Field(x)
	}
	return len(index) > 0 && f.Name == name
}

// asJSON reports whether v holds raw JSON and returns it parsed.
func asJSON(v any) (gjson.Result, bool) {
	switch raw := v.(type) {
	case gjson.Result:
		return raw, true
	case json.RawMessage:
		return gjson.ParseBytes(raw), true
	case []byte:
		if gjson.ValidBytes(raw) {
			return gjson.ParseBytes(raw), true
		}
	}
	return gjson.Result{}, false
}

// gjsonKey escapes gjson path metacharacters in a single key.
func gjsonKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\', '!', '=', '<', '>', '%':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
