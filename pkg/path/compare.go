package path

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/openfroyo/automation/pkg/engine"
)

// Operator is a comparison operator usable in conditions and list filters.
type Operator string

const (
	OpEquals             Operator = "equals"
	OpNotEquals          Operator = "notEquals"
	OpGreaterThan        Operator = "greaterThan"
	OpGreaterThanOrEqual Operator = "greaterThanOrEqual"
	OpLessThan           Operator = "lessThan"
	OpLessThanOrEqual    Operator = "lessThanOrEqual"
	OpContains           Operator = "contains"
	OpStartsWith         Operator = "startsWith"
	OpEndsWith           Operator = "endsWith"
	OpIn                 Operator = "in"
)

var operators = map[Operator]bool{
	OpEquals: true, OpNotEquals: true,
	OpGreaterThan: true, OpGreaterThanOrEqual: true,
	OpLessThan: true, OpLessThanOrEqual: true,
	OpContains: true, OpStartsWith: true, OpEndsWith: true,
	OpIn: true,
}

// ParseOperator validates an operator name.
func ParseOperator(name string) (Operator, error) {
	op := Operator(name)
	if !operators[op] {
		return "", engine.NewConfigurationError(fmt.Sprintf("unknown operator %q", name), nil).
			WithCode(engine.ErrCodeInvalidInputData).
			WithDetail("operator", name)
	}
	return op, nil
}

// Compare applies op to left and right. Numbers of any Go numeric type
// compare by value.
func Compare(op Operator, left, right any) (bool, error) {
	switch op {
	case OpEquals:
		return equal(left, right), nil
	case OpNotEquals:
		return !equal(left, right), nil
	case OpGreaterThan, OpGreaterThanOrEqual, OpLessThan, OpLessThanOrEqual:
		c, err := order(left, right)
		if err != nil {
			return false, err
		}
		switch op {
		case OpGreaterThan:
			return c > 0, nil
		case OpGreaterThanOrEqual:
			return c >= 0, nil
		case OpLessThan:
			return c < 0, nil
		default:
			return c <= 0, nil
		}
	case OpContains:
		if s, ok := left.(string); ok {
			sub, ok := right.(string)
			if !ok {
				return false, operandError(op, right)
			}
			return strings.Contains(s, sub), nil
		}
		return member(right, left)
	case OpIn:
		return member(left, right)
	case OpStartsWith, OpEndsWith:
		s, ok := left.(string)
		if !ok {
			return false, operandError(op, left)
		}
		affix, ok := right.(string)
		if !ok {
			return false, operandError(op, right)
		}
		if op == OpStartsWith {
			return strings.HasPrefix(s, affix), nil
		}
		return strings.HasSuffix(s, affix), nil
	default:
		return false, engine.NewConfigurationError(fmt.Sprintf("unknown operator %q", op), nil).
			WithCode(engine.ErrCodeInvalidInputData)
	}
}

func equal(a, b any) bool {
	if fa, ok := number(a); ok {
		fb, ok := number(b)
		return ok && fa == fb
	}
	return reflect.DeepEqual(a, b)
}

func order(a, b any) (int, error) {
	if fa, ok := number(a); ok {
		fb, ok := number(b)
		if !ok {
			return 0, operandError(OpGreaterThan, b)
		}
		switch {
		case fa < fb:
			return -1, nil
		case fa > fb:
			return 1, nil
		}
		return 0, nil
	}
	sa, ok := a.(string)
	if !ok {
		return 0, operandError(OpGreaterThan, a)
	}
	sb, ok := b.(string)
	if !ok {
		return 0, operandError(OpGreaterThan, b)
	}
	return strings.Compare(sa, sb), nil
}

// member reports whether needle is an element of the list haystack.
func member(needle, haystack any) (bool, error) {
	rv := reflect.ValueOf(haystack)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return false, operandError(OpIn, haystack)
	}
	for i := 0; i < rv.Len(); i++ {
		if equal(needle, rv.Index(i).Interface()) {
			return true, nil
		}
	}
	return false, nil
}

func number(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

func operandError(op Operator, v any) error {
	return engine.NewResolutionError(fmt.Sprintf("operator %s cannot be applied to %T", op, v), nil).
		WithCode(engine.ErrCodeInvalidValueType).
		WithDetail("operator", string(op)).
		WithDetail("obtained", fmt.Sprintf("%T", v))
}
