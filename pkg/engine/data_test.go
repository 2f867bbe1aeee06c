package engine

import (
	"context"
	"encoding/json"
	"math"
	"testing"
)

func TestData_States(t *testing.T) {
	tests := []struct {
		name    string
		data    Data[any]
		state   DataState
		present bool
		empty   bool
	}{
		{name: "absent", data: Absent[any](), state: StateAbsent},
		{name: "null", data: Null[any](), state: StateNull},
		{name: "present", data: Present[any](42), state: StatePresent, present: true},
		{name: "empty string", data: Present[any](""), state: StatePresent, present: true, empty: true},
		{name: "empty list", data: Present[any]([]any{}), state: StatePresent, present: true, empty: true},
		{name: "empty map", data: Present[any](map[string]any{}), state: StatePresent, present: true, empty: true},
		{name: "zero number is not empty", data: Present[any](0), state: StatePresent, present: true},
		{name: "of nil", data: Of[any](nil), state: StateNull},
		{name: "of nil map", data: Of[any](map[string]any(nil)), state: StateNull},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.data.State() != tt.state {
				t.Errorf("State() = %s, want %s", tt.data.State(), tt.state)
			}
			if tt.data.IsPresent() != tt.present {
				t.Errorf("IsPresent() = %v, want %v", tt.data.IsPresent(), tt.present)
			}
			if tt.data.IsEmpty() != tt.empty {
				t.Errorf("IsEmpty() = %v, want %v", tt.data.IsEmpty(), tt.empty)
			}
		})
	}
}

func TestData_ValueOr(t *testing.T) {
	if got := Absent[string]().ValueOr("fallback"); got != "fallback" {
		t.Errorf("Expected fallback, got %s", got)
	}
	if got := Present("x").ValueOr("fallback"); got != "x" {
		t.Errorf("Expected x, got %s", got)
	}
}

func TestData_MarshalJSON(t *testing.T) {
	payload := map[string]Data[any]{
		"absent":  Absent[any](),
		"null":    Null[any](),
		"present": Present[any]([]any{"a"}),
	}
	b, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	want := `{"absent":null,"null":null,"present":["a"]}`
	if string(b) != want {
		t.Errorf("Got %s, want %s", b, want)
	}
}

func TestConvert(t *testing.T) {
	if v, ok := Convert[int](float64(3)); !ok || v != 3 {
		t.Errorf("Expected 3, got %v (%v)", v, ok)
	}
	if _, ok := Convert[int](3.5); ok {
		t.Error("Expected lossy conversion to fail")
	}
	if _, ok := Convert[uint](float64(-1)); ok {
		t.Error("Expected negative to uint to fail")
	}
	if v, ok := Convert[float64](int64(7)); !ok || v != 7 {
		t.Errorf("Expected 7, got %v", v)
	}
	if _, ok := Convert[string](12); ok {
		t.Error("Expected number to string to fail")
	}
	if _, ok := Convert[bool](nil); ok {
		t.Error("Expected nil to bool to fail")
	}
}

func TestConvert_IntegerRange(t *testing.T) {
	tests := []struct {
		name string
		conv func() (any, bool)
		want any
		ok   bool
	}{
		{"float beyond int64", func() (any, bool) { return Convert[int64](1e20) }, nil, false},
		{"float below int64", func() (any, bool) { return Convert[int64](-1e20) }, nil, false},
		{"two to the 63", func() (any, bool) { return Convert[int64](float64(math.MaxInt64)) }, nil, false},
		{"min int64", func() (any, bool) { return Convert[int64](float64(math.MinInt64)) }, int64(math.MinInt64), true},
		{"int8 overflow", func() (any, bool) { return Convert[int8](float64(200)) }, nil, false},
		{"infinity", func() (any, bool) { return Convert[int64](math.Inf(1)) }, nil, false},
		{"nan", func() (any, bool) { return Convert[int64](math.NaN()) }, nil, false},
		{"uint beyond uint64", func() (any, bool) { return Convert[uint64](1e20) }, nil, false},
		{"large uint64 to int64", func() (any, bool) { return Convert[int64](uint64(math.MaxUint64)) }, nil, false},
		{"uint64 kept exact", func() (any, bool) { return Convert[int64](uint64(1<<62 + 1)) }, int64(1<<62 + 1), true},
		{"negative int to uint", func() (any, bool) { return Convert[uint32](-1) }, nil, false},
		{"uint16", func() (any, bool) { return Convert[uint16](float64(65535)) }, uint16(65535), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, ok := tt.conv()
			if ok != tt.ok {
				t.Fatalf("Expected ok=%v, got %v (value %v)", tt.ok, ok, v)
			}
			if ok && v != tt.want {
				t.Errorf("Expected %v (%T), got %v (%T)", tt.want, tt.want, v, v)
			}
		})
	}
}

type fixedProvider struct {
	value Data[any]
}

func (p fixedProvider) SchemaReferenceKey() string { return "fixed" }

func (p fixedProvider) Resolve(context.Context, *ProviderContext, *Scope) (Data[any], error) {
	return p.value, nil
}

func TestAs_InvalidValueType(t *testing.T) {
	pc := NewProviderContext("run-1", "auto-1", "acme", nil)

	b, err := As[bool](fixedProvider{value: Present[any](true)}).Resolve(context.Background(), pc, NewScope())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if v, _ := b.Value(); !v {
		t.Error("Expected true")
	}

	_, err = As[bool](fixedProvider{value: Present[any]("yes")}).Resolve(context.Background(), pc, NewScope())
	if !HasCode(err, ErrCodeInvalidValueType) {
		t.Fatalf("Expected invalid value type error, got: %v", err)
	}
	e := err.(*EngineError)
	if e.Details["obtained"] != "string" || e.Details[DiagRunID] != "run-1" {
		t.Errorf("Unexpected details: %v", e.Details)
	}

	n, err := As[bool](fixedProvider{value: Null[any]()}).Resolve(context.Background(), pc, NewScope())
	if err != nil || !n.IsNull() {
		t.Errorf("Expected null to pass through, got %v (%v)", n, err)
	}
}

func TestProviderContext_Counters(t *testing.T) {
	pc := NewProviderContext("run-1", "auto-1", "", nil)
	pc.Increment("sent", 1)
	pc.Increment("sent", 2)
	if got := pc.Counter("sent"); got != 3 {
		t.Errorf("Expected 3, got %d", got)
	}
	if got := pc.Counter("other"); got != 0 {
		t.Errorf("Expected 0, got %d", got)
	}
}

func TestDependencyContext(t *testing.T) {
	dc := NewDependencyContext().Register("name", "value")

	v, err := Dependency[string](dc, "name")
	if err != nil || v != "value" {
		t.Fatalf("Expected value, got %q (%v)", v, err)
	}
	if _, err := Dependency[int](dc, "name"); !HasCode(err, ErrCodeDependencyMissing) {
		t.Errorf("Expected dependency missing for wrong type, got: %v", err)
	}
	if _, err := Dependency[string](dc, "other"); !IsConfiguration(err) {
		t.Errorf("Expected configuration error, got: %v", err)
	}
	if v, _ := OptionalDependency(dc, "other", "def"); v != "def" {
		t.Errorf("Expected default, got %q", v)
	}
}
