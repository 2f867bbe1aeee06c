package providers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/openfroyo/automation/pkg/engine"
	"github.com/openfroyo/automation/pkg/path"
)

type simple struct {
	X int
}

type quote struct {
	Simple simple
	Tags   map[string]string
	Lines  []quoteLine `json:"lines"`
}

type quoteLine struct {
	Sku    string
	Amount float64
}

func scopeWith(t *testing.T, bindings map[string]any) *engine.Scope {
	t.Helper()
	scope := engine.NewScope()
	for alias, v := range bindings {
		if err := scope.Push(alias, v, "test"); err != nil {
			t.Fatalf("Push error: %v", err)
		}
	}
	return scope
}

func TestPropertyExpression(t *testing.T) {
	scope := scopeWith(t, map[string]any{"a": quote{Simple: simple{X: 42}}})

	d := mustResolve(t, `{"propertyExpression": "#/a/simple/x"}`, scope, nil)
	v, ok := d.Value()
	if !ok {
		t.Fatalf("Expected a present value, got %s", d)
	}
	expr, ok := v.(path.Expr)
	if !ok {
		t.Fatalf("Expected path.Expr, got %T", v)
	}
	if expr.String() != "a.Simple.X" {
		t.Errorf("Expected a.Simple.X, got %s", expr)
	}

	fn, err := path.Compile(expr)
	if err != nil {
		t.Fatalf("Compile error: %v", err)
	}
	got, err := fn(path.Env{"a": quote{Simple: simple{X: 7}}})
	if err != nil {
		t.Fatalf("Eval error: %v", err)
	}
	if got != 7 {
		t.Errorf("Expected 7 from env, got %v", got)
	}
}

func TestObjectPathLookup(t *testing.T) {
	bindings := map[string]any{
		"a": quote{
			Simple: simple{X: 42},
			Tags:   map[string]string{"Tier": "gold"},
			Lines:  []quoteLine{{Sku: "a", Amount: 10}, {Sku: "b", Amount: 25}},
		},
		"trigger": map[string]any{"region": "eu"},
	}

	tests := []struct {
		name         string
		raw          string
		want         any
		wantCode     string
		wantFallback int64
	}{
		{name: "pointer", raw: `{"objectPathLookupText": "#/a/simple/x"}`, want: 42},
		{name: "dotted index", raw: `{"objectPathLookupText": "a.lines[1].sku"}`, want: "b"},
		{name: "map key", raw: `{"objectPathLookupText": "trigger.region"}`, want: "eu"},
		{
			name:         "default on not found",
			raw:          `{"objectPathLookupText": "trigger.channel", "defaultValue": {"incrementCounter": "fallbacks"}}`,
			want:         int64(1),
			wantFallback: 1,
		},
		{
			name: "default unused when found",
			raw:  `{"objectPathLookupText": "trigger.region", "defaultValue": {"incrementCounter": "fallbacks"}}`,
			want: "eu",
		},
		{
			name:     "not found without default",
			raw:      `{"objectPathLookupText": "a.lines[5]"}`,
			wantCode: engine.ErrCodePathNotFound,
		},
		{
			name:     "casing mismatch is not defaulted",
			raw:      `{"objectPathLookupText": "a.tags.tier", "defaultValue": "x"}`,
			wantCode: engine.ErrCodePathSyntax,
		},
		{
			name:     "unbound alias is not defaulted",
			raw:      `{"objectPathLookupText": "order.id", "defaultValue": "x"}`,
			wantCode: engine.ErrCodeParameterMissing,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := BuildProvider([]byte(tt.raw), "v", newDeps())
			if err != nil {
				t.Fatalf("BuildProvider error: %v", err)
			}
			pc := newRun()
			d, err := p.Resolve(context.Background(), pc, scopeWith(t, bindings))
			if tt.wantCode != "" {
				if code := engine.Code(err); code != tt.wantCode {
					t.Fatalf("Expected code %s, got %s (%v)", tt.wantCode, code, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve error: %v", err)
			}
			if v, _ := d.Value(); v != tt.want {
				t.Errorf("Expected %v (%T), got %v (%T)", tt.want, tt.want, v, v)
			}
			if got := pc.Counter("fallbacks"); got != tt.wantFallback {
				t.Errorf("Expected %d fallbacks, got %d", tt.wantFallback, got)
			}
		})
	}
}

func TestObjectPathLookup_ErrorTrace(t *testing.T) {
	_, err := resolveRaw(t, `{"not": {"objectPathLookupText": "a.missing"}}`,
		scopeWith(t, map[string]any{"a": map[string]any{}}), nil)
	var e *engine.EngineError
	if !errors.As(err, &e) {
		t.Fatalf("Expected engine error, got %v", err)
	}
	if e.Location() != "not.term > objectPathLookupText.path" {
		t.Errorf("Unexpected location %q", e.Location())
	}
	if e.Details[engine.DiagRunID] != "run-1" {
		t.Errorf("Expected run diagnostics, got %v", e.Details)
	}
	if e.Details[engine.DiagSegment] != "missing" {
		t.Errorf("Expected failing segment, got %v", e.Details[engine.DiagSegment])
	}
}

func TestJSONPath(t *testing.T) {
	scope := scopeWith(t, map[string]any{
		"order": map[string]any{"lines": []any{map[string]any{"sku": "a"}, map[string]any{"sku": "b"}}},
		"raw":   json.RawMessage(`{"items":[{"id":1},{"id":2}]}`),
	})

	tests := []struct {
		name     string
		raw      string
		want     any
		wantCode string
	}{
		{name: "scope", raw: `{"jsonPath": "$.order.lines[1].sku"}`, want: "b"},
		{name: "source", raw: `{"jsonPath": "$.items[1].id", "source": {"objectPathLookupText": "raw"}}`, want: float64(2)},
		{name: "missing", raw: `{"jsonPath": "$.order.customer"}`, wantCode: engine.ErrCodePathNotFound},
		{
			name:     "missing in source",
			raw:      `{"jsonPath": "$.nothing", "source": {"object": {"a": 1}}}`,
			wantCode: engine.ErrCodePathNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := resolveRaw(t, tt.raw, scope, nil)
			if tt.wantCode != "" {
				if code := engine.Code(err); code != tt.wantCode {
					t.Fatalf("Expected code %s, got %s (%v)", tt.wantCode, code, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve error: %v", err)
			}
			if v, _ := d.Value(); v != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, v)
			}
		})
	}
}

func TestJSONText(t *testing.T) {
	scope := scopeWith(t, map[string]any{
		"payload": `{"customer":{"name":"Ada","tags":["a","b"]}}`,
	})

	tests := []struct {
		name     string
		raw      string
		want     any
		wantCode string
	}{
		{
			name: "lookup",
			raw:  `{"jsonTextLookup": {"json": {"objectPathLookupText": "payload"}, "path": "customer.name"}}`,
			want: "Ada",
		},
		{
			name: "lookup count",
			raw:  `{"jsonTextLookup": {"json": {"objectPathLookupText": "payload"}, "path": "customer.tags.#"}}`,
			want: float64(2),
		},
		{
			name:     "lookup missing",
			raw:      `{"jsonTextLookup": {"json": {"objectPathLookupText": "payload"}, "path": "customer.age"}}`,
			wantCode: engine.ErrCodePathNotFound,
		},
		{
			name:     "lookup invalid text",
			raw:      `{"jsonTextLookup": {"json": "{not json", "path": "a"}}`,
			wantCode: engine.ErrCodeInvalidInputData,
		},
		{
			name:     "lookup wrong type",
			raw:      `{"jsonTextLookup": {"json": 12, "path": "a"}}`,
			wantCode: engine.ErrCodeInvalidValueType,
		},
		{
			name: "set into empty",
			raw:  `{"jsonSet": {"path": "customer.tier", "value": "gold"}}`,
			want: `{"customer":{"tier":"gold"}}`,
		},
		{
			name: "set into existing",
			raw:  `{"jsonSet": {"json": {"objectPathLookupText": "payload"}, "path": "customer.name", "value": "Grace"}}`,
			want: `{"customer":{"name":"Grace","tags":["a","b"]}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := resolveRaw(t, tt.raw, scope, nil)
			if tt.wantCode != "" {
				if code := engine.Code(err); code != tt.wantCode {
					t.Fatalf("Expected code %s, got %s (%v)", tt.wantCode, code, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve error: %v", err)
			}
			if v, _ := d.Value(); v != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, v)
			}
		})
	}
}
