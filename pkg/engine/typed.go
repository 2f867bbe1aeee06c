package engine

import (
	"context"
	"fmt"
	"math"
	"reflect"
)

// Convert converts a resolved value to T. Numeric values convert between
// numeric kinds when no precision is lost.
func Convert[T any](v any) (T, bool) {
	var zero T
	if typed, ok := v.(T); ok {
		return typed, true
	}
	if v == nil {
		return zero, false
	}
	target := reflect.TypeFor[T]()
	rv := reflect.ValueOf(v)
	if isNumber(rv.Kind()) && isNumber(target.Kind()) {
		out := reflect.New(target).Elem()
		switch {
		case isInt(target.Kind()):
			n, ok := toInt(rv)
			if !ok || out.OverflowInt(n) {
				return zero, false
			}
			out.SetInt(n)
		case isUint(target.Kind()):
			n, ok := toUint(rv)
			if !ok || out.OverflowUint(n) {
				return zero, false
			}
			out.SetUint(n)
		default:
			f, _ := toFloat(rv)
			out.SetFloat(f)
		}
		return out.Interface().(T), true
	}
	if rv.Type().ConvertibleTo(target) && rv.Kind() == target.Kind() {
		return rv.Convert(target).Interface().(T), true
	}
	return zero, false
}

// ConvertData converts present data to T, failing with an invalid value type
// error that names the obtained type.
func ConvertData[T any](d Data[any], schemaKey string) (Data[T], error) {
	switch d.State() {
	case StateAbsent:
		return Absent[T](), nil
	case StateNull:
		return Null[T](), nil
	}
	v, _ := d.Value()
	typed, ok := Convert[T](v)
	if !ok {
		return Data[T]{}, NewResolutionError(
			fmt.Sprintf("expected %v, obtained %T", reflect.TypeFor[T](), v), nil,
		).WithCode(ErrCodeInvalidValueType).
			WithTitle("Invalid value type obtained").
			WithDetail(DiagSchemaKey, schemaKey).
			WithDetail("expected", reflect.TypeFor[T]().String()).
			WithDetail("obtained", fmt.Sprintf("%T", v))
	}
	return Present(typed), nil
}

type typedProvider[T any] struct {
	inner Provider[any]
}

// As views an untyped provider as a Provider[T].
func As[T any](p Provider[any]) Provider[T] {
	return typedProvider[T]{inner: p}
}

func (p typedProvider[T]) SchemaReferenceKey() string { return p.inner.SchemaReferenceKey() }

func (p typedProvider[T]) Resolve(ctx context.Context, pc *ProviderContext, scope *Scope) (Data[T], error) {
	d, err := p.inner.Resolve(ctx, pc, scope)
	if err != nil {
		return Data[T]{}, err
	}
	out, err := ConvertData[T](d, p.inner.SchemaReferenceKey())
	if e, ok := err.(*EngineError); ok {
		return Data[T]{}, e.WithDiagnostics(pc.Diagnose(nil))
	}
	return out, err
}

func isNumber(k reflect.Kind) bool {
	return isInt(k) || isUint(k) || k == reflect.Float32 || k == reflect.Float64
}

func isInt(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	}
	return false
}

func isUint(k reflect.Kind) bool {
	switch k {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

// Float bounds of the 64-bit integer ranges. Both are exact powers of two.
const (
	minInt64Float  = -(1 << 63)
	maxInt64Float  = 1 << 63
	maxUint64Float = 1 << 64
)

// toInt returns rv as an int64 when it holds an integral value in range.
func toInt(rv reflect.Value) (int64, bool) {
	switch {
	case isInt(rv.Kind()):
		return rv.Int(), true
	case isUint(rv.Kind()):
		u := rv.Uint()
		return int64(u), u <= math.MaxInt64
	}
	f := rv.Float()
	if f != math.Trunc(f) || f < minInt64Float || f >= maxInt64Float {
		return 0, false
	}
	return int64(f), true
}

// toUint returns rv as a uint64 when it holds a non-negative integral value
// in range.
func toUint(rv reflect.Value) (uint64, bool) {
	switch {
	case isInt(rv.Kind()):
		n := rv.Int()
		return uint64(n), n >= 0
	case isUint(rv.Kind()):
		return rv.Uint(), true
	}
	f := rv.Float()
	if f != math.Trunc(f) || f < 0 || f >= maxUint64Float {
		return 0, false
	}
	return uint64(f), true
}

func toFloat(rv reflect.Value) (float64, bool) {
	switch {
	case isInt(rv.Kind()):
		return float64(rv.Int()), true
	case isUint(rv.Kind()):
		return float64(rv.Uint()), true
	case rv.Kind() == reflect.Float32 || rv.Kind() == reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}
