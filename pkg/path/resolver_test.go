package path

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/openfroyo/automation/pkg/engine"
)

type simple struct {
	X int
	Y int `json:"-"`
}

type rootObject struct {
	Simple   simple
	Customer *customer `json:"customer"`
	Lines    []line
	Tags     map[string]string
	Raw      json.RawMessage
	internal string
}

type customer struct {
	ID    string
	Email string `json:"emailAddress,omitempty"`
}

type line struct {
	Amount float64
}

func newScope(t *testing.T, alias string, v any) *engine.Scope {
	t.Helper()
	scope := engine.NewScope()
	if err := scope.Push(alias, v, "test"); err != nil {
		t.Fatalf("Push error: %v", err)
	}
	return scope
}

func testRoot() rootObject {
	return rootObject{
		Simple:   simple{X: 42, Y: 7},
		Customer: &customer{ID: "c-1", Email: "c@example.com"},
		Lines:    []line{{Amount: 10}, {Amount: 25.5}},
		Tags:     map[string]string{"region": "eu", "Tier": "gold"},
		Raw:      json.RawMessage(`{"source":{"channel":"web","Kind":"x"},"items":[{"sku":"a"},{"sku":"b"}]}`),
		internal: "hidden",
	}
}

func TestResolver_Scenario(t *testing.T) {
	r := NewResolver()
	scope := newScope(t, "a", testRoot())
	ctx := context.Background()

	v, err := r.ResolveValue(ctx, scope, MustParse("#/a/simple/x"), "test", nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if v != 42 {
		t.Errorf("Expected 42, got %v", v)
	}

	expr, err := r.ResolveExpr(scope, MustParse("#/a/simple/x"), "test", nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !strings.HasSuffix(expr.String(), ".Simple.X") {
		t.Errorf("Expected expression ending in .Simple.X, got %s", expr)
	}

	if _, err := Parse("#/a/Simple/x"); !errors.Is(err, engine.ErrPathSyntax) {
		t.Errorf("Expected syntax error for wrong case, got: %v", err)
	}

	_, err = r.ResolveValue(ctx, scope, MustParse("#/a/simple/y"), "test", nil)
	if !errors.Is(err, engine.ErrPathNotFound) {
		t.Errorf("Expected not found for json:\"-\" field, got: %v", err)
	}
}

func TestResolver_ResolveValue(t *testing.T) {
	r := NewResolver()
	scope := newScope(t, "a", testRoot())

	tests := []struct {
		path string
		want any
	}{
		{"a.customer.id", "c-1"},
		{"a.customer.emailAddress", "c@example.com"},
		{"a.lines[1].amount", 25.5},
		{"#/a/lines/0/amount", 10.0},
		{"a.tags.region", "eu"},
		{"a.raw.source.channel", "web"},
		{"a.raw.items[1].sku", "b"},
		{"a.simple", simple{X: 42, Y: 7}},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := r.ResolveValue(context.Background(), scope, MustParse(tt.path), "test", nil)
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Got %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestResolver_NotFound(t *testing.T) {
	r := NewResolver()
	root := testRoot()
	root.Customer = nil
	scope := newScope(t, "a", root)

	tests := []struct {
		path    string
		segment string
	}{
		{"a.simple.y", "y"},
		{"a.missing", "missing"},
		{"a.customer.id", "id"},
		{"a.lines[5].amount", "5"},
		{"a.lines.first", "first"},
		{"a.simple.x.deeper", "deeper"},
		{"a.tags.country", "country"},
		{"a.raw.source.missing", "missing"},
		{"a.raw.items[9]", "9"},
		{"a.internal", "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			_, err := r.ResolveValue(context.Background(), scope, MustParse(tt.path), "objectPathLookupText", engine.Diagnostics{engine.DiagTenant: "acme"})
			if !errors.Is(err, engine.ErrPathNotFound) {
				t.Fatalf("Expected not found, got: %v", err)
			}
			var e *engine.EngineError
			errors.As(err, &e)
			if e.Details[engine.DiagPath] != tt.path {
				t.Errorf("Expected full path in details, got %v", e.Details[engine.DiagPath])
			}
			if e.Details[engine.DiagSegment] != tt.segment {
				t.Errorf("Expected failing segment %q, got %v", tt.segment, e.Details[engine.DiagSegment])
			}
			if e.Details[engine.DiagTenant] != "acme" {
				t.Errorf("Expected diagnostics to be attached, got %v", e.Details)
			}
		})
	}
}

func TestResolver_CasingMismatchIsSyntaxError(t *testing.T) {
	r := NewResolver()
	scope := newScope(t, "a", testRoot())

	for _, raw := range []string{"a.simPle.x", "a.tags.tier", "a.raw.source.kind", "a.customer.emailaddress"} {
		t.Run(raw, func(t *testing.T) {
			_, err := r.ResolveValue(context.Background(), scope, MustParse(raw), "test", nil)
			if !errors.Is(err, engine.ErrPathSyntax) {
				t.Fatalf("Expected syntax error, got: %v", err)
			}
		})
	}
}

func TestResolver_AliasMissing(t *testing.T) {
	r := NewResolver()
	_, err := r.ResolveValue(context.Background(), engine.NewScope(), MustParse("#/quote/total"), "objectPathLookupText", nil)
	if !errors.Is(err, engine.ErrParameterMissing) {
		t.Fatalf("Expected parameter missing, got: %v", err)
	}
	if errors.Is(err, engine.ErrPathNotFound) {
		t.Error("Missing alias must not be fallback-eligible")
	}
}

func TestResolver_NullLeafAndAliasOnly(t *testing.T) {
	r := NewResolver()
	scope := newScope(t, "trigger", map[string]any{"note": nil})

	v, err := r.ResolveValue(context.Background(), scope, MustParse("trigger.note"), "test", nil)
	if err != nil || v != nil {
		t.Errorf("Expected nil leaf, got %v (%v)", v, err)
	}
	v, err = r.ResolveValue(context.Background(), scope, MustParse("trigger"), "test", nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if _, ok := v.(map[string]any); !ok {
		t.Errorf("Expected bound map, got %T", v)
	}
	_, err = r.ResolveValue(context.Background(), scope, MustParse("trigger.note.text"), "test", nil)
	if !errors.Is(err, engine.ErrPathNotFound) {
		t.Errorf("Expected not found past a null, got: %v", err)
	}
}

func TestResolver_ResolveExpr_Param(t *testing.T) {
	r := NewResolver()
	scope := engine.NewScope()
	_ = scope.Push("item", &Param{Type: reflect.TypeFor[line]()}, "filterList")

	expr, err := r.ResolveExpr(scope, MustParse("item.amount"), "filterList", nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if expr.String() != "item.Amount" {
		t.Errorf("Unexpected expression %s", expr)
	}

	pred, err := CompilePredicate(Binary{Op: OpGreaterThan, Left: expr, Right: Constant{Value: 15}})
	if err != nil {
		t.Fatalf("Compile error: %v", err)
	}
	for _, tt := range []struct {
		item line
		want bool
	}{{line{Amount: 10}, false}, {line{Amount: 25.5}, true}} {
		got, err := pred(Env{"item": tt.item})
		if err != nil || got != tt.want {
			t.Errorf("pred(%v) = %v (%v), want %v", tt.item, got, err, tt.want)
		}
	}

	if _, err := r.ResolveExpr(scope, MustParse("item.price"), "filterList", nil); !errors.Is(err, engine.ErrPathNotFound) {
		t.Errorf("Expected typed walk to reject unknown field, got: %v", err)
	}
	if _, err := r.ResolveExpr(scope, MustParse("item.aMount"), "filterList", nil); !errors.Is(err, engine.ErrPathSyntax) {
		t.Errorf("Expected typed walk to reject wrong casing, got: %v", err)
	}
}

func TestResolver_ResolveExpr_DynamicMap(t *testing.T) {
	r := NewResolver()
	scope := engine.NewScope()
	_ = scope.Push("item", &Param{}, "filterList")

	expr, err := r.ResolveExpr(scope, MustParse("item.lines[0].sku"), "filterList", nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if expr.String() != `item["lines"][0]["sku"]` {
		t.Errorf("Unexpected expression %s", expr)
	}

	fn, _ := Compile(expr)
	got, err := fn(Env{"item": map[string]any{"lines": []any{map[string]any{"sku": "a-1"}}}})
	if err != nil || got != "a-1" {
		t.Errorf("Got %v (%v)", got, err)
	}
	_, err = fn(Env{"item": map[string]any{"lines": []any{}}})
	if !errors.Is(err, engine.ErrPathNotFound) {
		t.Errorf("Expected not found at evaluation time, got: %v", err)
	}
}

func TestResolver_ExpressionPath(t *testing.T) {
	r := NewResolver()
	scope := engine.NewScope()
	_ = scope.Push("quote", map[string]any{
		"lines": []any{
			map[string]any{"sku": "a", "amount": 5.0},
			map[string]any{"sku": "b", "amount": 50.0},
		},
	}, "test")
	_ = scope.Push("item", &Param{}, "placeholder")

	v, err := r.ResolveValue(context.Background(), scope, MustParse("$.quote.lines[?(@.amount > 10)].sku"), "jsonPath", nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !reflect.DeepEqual(v, []any{"b"}) {
		t.Errorf("Got %#v", v)
	}

	_, err = r.ResolveValue(context.Background(), scope, MustParse("$.quote.missing"), "jsonPath", nil)
	if !errors.Is(err, engine.ErrPathNotFound) {
		t.Errorf("Expected not found, got: %v", err)
	}

	if _, err := r.ResolveExpr(scope, MustParse("$.quote"), "test", nil); !engine.IsConfiguration(err) {
		t.Errorf("Expected configuration error for expression in expression mode, got: %v", err)
	}
}

func TestResolver_Lookup(t *testing.T) {
	r := NewResolver()
	v, err := r.Lookup(testRoot(), MustParse("root.customer.id"))
	if err != nil || v != "c-1" {
		t.Errorf("Got %v (%v)", v, err)
	}
}

func TestCamelCase(t *testing.T) {
	tests := map[string]string{
		"Simple":   "simple",
		"X":        "x",
		"ID":       "id",
		"URLPath":  "urlPath",
		"EntityID": "entityID",
		"already":  "already",
	}
	for in, want := range tests {
		if got := CamelCase(in); got != want {
			t.Errorf("CamelCase(%q) = %q, want %q", in, got, want)
		}
	}
}

type Vendor struct {
	Name string
}

type supplied struct {
	*Vendor
	Qty int
}

func TestMemberAccess_PromotedFields(t *testing.T) {
	field := reflect.VisibleFields(reflect.TypeOf(supplied{}))[1]
	if field.Name != "Name" {
		t.Fatalf("Expected promoted Name field, got %s", field.Name)
	}
	expr := MemberAccess{Base: Param{Name: "item"}, Field: "Name", Segment: "name", Index: field.Index}

	v, err := expr.Eval(Env{"item": supplied{Vendor: &Vendor{Name: "acme"}}})
	if err != nil || v != "acme" {
		t.Errorf("Expected acme, got %v (%v)", v, err)
	}

	if _, err := expr.Eval(Env{"item": supplied{Qty: 2}}); !errors.Is(err, engine.ErrPathNotFound) {
		t.Errorf("Expected not found through nil embedded pointer, got %v", err)
	}

	stale := MemberAccess{Base: Param{Name: "item"}, Field: "Name", Segment: "name", Index: []int{5, 0}}
	if v, err := stale.Eval(Env{"item": supplied{Vendor: &Vendor{Name: "acme"}}}); err != nil || v != "acme" {
		t.Errorf("Expected lookup by name for a stale index, got %v (%v)", v, err)
	}
}
