package engine

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// DataState distinguishes the three outcomes a provider can produce.
type DataState uint8

const (
	// StateAbsent means there is no value at all, e.g. an optional parameter
	// that was never configured.
	StateAbsent DataState = iota

	// StateNull means a value was produced and it is explicitly empty (JSON null).
	StateNull

	// StatePresent means a value was produced.
	StatePresent
)

func (s DataState) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateNull:
		return "null"
	case StatePresent:
		return "present"
	default:
		return fmt.Sprintf("DataState(%d)", uint8(s))
	}
}

// Data is the immutable result of resolving a provider.
type Data[T any] struct {
	value T
	state DataState
}

// Absent returns a Data with no value at all.
func Absent[T any]() Data[T] {
	return Data[T]{state: StateAbsent}
}

// Null returns a Data that is present but explicitly has no value.
func Null[T any]() Data[T] {
	return Data[T]{state: StateNull}
}

// Present wraps v.
func Present[T any](v T) Data[T] {
	return Data[T]{value: v, state: StatePresent}
}

// Of wraps v, mapping a nil interface, pointer, map or slice to Null.
func Of[T any](v T) Data[T] {
	if isNil(v) {
		return Null[T]()
	}
	return Present(v)
}

// State returns the data state.
func (d Data[T]) State() DataState { return d.state }

// IsAbsent reports whether no value was produced at all.
func (d Data[T]) IsAbsent() bool { return d.state == StateAbsent }

// IsNull reports whether the value is explicitly null.
func (d Data[T]) IsNull() bool { return d.state == StateNull }

// IsPresent reports whether a value was produced.
func (d Data[T]) IsPresent() bool { return d.state == StatePresent }

// IsEmpty reports whether the value is present but empty: an empty string,
// slice, map or array.
func (d Data[T]) IsEmpty() bool {
	if d.state != StatePresent {
		return false
	}
	rv := reflect.ValueOf(any(d.value))
	switch rv.Kind() {
	case reflect.String, reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	}
	return false
}

// Value returns the wrapped value and whether it is present.
func (d Data[T]) Value() (T, bool) {
	return d.value, d.state == StatePresent
}

// ValueOr returns the wrapped value, or def when it is not present.
func (d Data[T]) ValueOr(def T) T {
	if d.state != StatePresent {
		return def
	}
	return d.value
}

// Any erases the type parameter.
func (d Data[T]) Any() Data[any] {
	return Data[any]{value: d.value, state: d.state}
}

func (d Data[T]) String() string {
	if d.state != StatePresent {
		return d.state.String()
	}
	return fmt.Sprintf("%v", d.value)
}

// MarshalJSON encodes absent and null data as JSON null.
func (d Data[T]) MarshalJSON() ([]byte, error) {
	if d.state != StatePresent {
		return []byte("null"), nil
	}
	return json.Marshal(d.value)
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
