package providers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/openfroyo/automation/pkg/engine"
)

// shape describes one recognised object form. An object is decoded by the
// single shape whose key it contains; any other key must be a companion.
type shape struct {
	companions []string
	decode     func(obj map[string]any, loc string) (engine.Builder[any], error)
}

var shapes map[string]shape

func init() {
	shapes = map[string]shape{
		KeyObject:               {decode: decodeObject},
		KeyObjectPathLookupText: {companions: []string{"defaultValue"}, decode: decodeObjectPathLookup},
		KeyPropertyExpression:   {decode: decodePropertyExpression},
		KeyJSONPath:             {companions: []string{"source"}, decode: decodeJSONPath},
		KeyJSONTextLookup:       {decode: decodeJSONTextLookup},
		KeyJSONSet:              {decode: decodeJSONSet},
		KeyEntityLookup:         {decode: decodeEntityLookup},
		KeyHTTPGet:              {decode: decodeHTTPGet},
		KeyStarlark:             {decode: decodeStarlark},
		KeyRego:                 {decode: decodeRego},
		KeyAnd:                  {decode: decodeLogical(KeyAnd)},
		KeyOr:                   {decode: decodeLogical(KeyOr)},
		KeyNot:                  {decode: decodeNot},
		KeyCompare:              {decode: decodeCompare},
		KeyConcat:               {decode: decodeConcat},
		KeyLet:                  {decode: decodeLet},
		KeyMapList:              {decode: decodeMapList},
		KeyFilterList:           {decode: decodeFilterList},
		KeyIncrementCounter:     {decode: decodeIncrementCounter},
		KeyTypeOf:               {decode: decodeTypeOf},
	}
}

// Keys returns every recognised shape key in sorted order.
func Keys() []string {
	keys := make([]string, 0, len(shapes))
	for k := range shapes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Decode decodes raw provider JSON into a builder tree. loc is the location
// of raw within its document and is reported on configuration errors.
func Decode(raw []byte, loc string) (engine.Builder[any], error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, engine.NewConfigurationError("provider is not valid JSON", err).
			WithCode(engine.ErrCodeInvalidInputData).
			WithDetail(engine.DiagLocation, loc)
	}
	if dec.More() {
		return nil, engine.NewConfigurationError("unexpected data after provider JSON", nil).
			WithCode(engine.ErrCodeInvalidInputData).
			WithDetail(engine.DiagLocation, loc)
	}
	return DecodeValue(v, loc)
}

// DecodeValue decodes an already unmarshalled JSON value. Scalars and null
// become literals, arrays become lists, and objects are matched against the
// shape table.
func DecodeValue(v any, loc string) (engine.Builder[any], error) {
	switch val := v.(type) {
	case nil, bool, string, float64, json.Number,
		int, int32, int64, uint, uint32, uint64, float32:
		return &literalBuilder{value: val}, nil
	case []any:
		items := make([]engine.Builder[any], len(val))
		for i, item := range val {
			b, err := DecodeValue(item, atIndex(loc, i))
			if err != nil {
				return nil, err
			}
			items[i] = b
		}
		return &listBuilder{items: items}, nil
	case map[string]any:
		return decodeShape(val, loc)
	default:
		return nil, engine.NewConfigurationError(fmt.Sprintf("unsupported provider value of type %T", v), nil).
			WithCode(engine.ErrCodeInvalidInputData).
			WithDetail(engine.DiagLocation, loc)
	}
}

func decodeShape(obj map[string]any, loc string) (engine.Builder[any], error) {
	keys := sortedKeys(obj)

	var primary []string
	for _, k := range keys {
		if _, ok := shapes[k]; ok {
			primary = append(primary, k)
		}
	}
	switch len(primary) {
	case 0:
		return nil, shapeError(loc, "object matches no provider shape", keys)
	case 1:
	default:
		return nil, shapeError(loc, fmt.Sprintf("object matches several provider shapes: %s", strings.Join(primary, ", ")), keys)
	}

	key := primary[0]
	s := shapes[key]
	for _, k := range keys {
		if k == key || contains(s.companions, k) {
			continue
		}
		return nil, shapeError(loc, fmt.Sprintf("%q is not allowed next to %q", k, key), keys)
	}
	return s.decode(obj, loc)
}

func shapeError(loc, msg string, keys []string) error {
	return engine.NewConfigurationError(msg, nil).
		WithCode(engine.ErrCodeUnrecognizedShape).
		WithTitle("Unrecognized provider shape").
		WithDetail(engine.DiagLocation, loc).
		WithDetail("keys", keys)
}

// invalidConfig reports a recognised shape whose content is malformed.
func invalidConfig(loc, schemaKey, msg string) *engine.EngineError {
	return engine.NewConfigurationError(msg, nil).
		WithCode(engine.ErrCodeInvalidInputData).
		WithDetail(engine.DiagLocation, loc).
		WithDetail(engine.DiagSchemaKey, schemaKey)
}

// located adds the document location to a configuration error raised by a
// collaborator such as the path parser.
func located(err error, loc, schemaKey string) error {
	e, ok := err.(*engine.EngineError)
	if !ok {
		return invalidConfig(loc, schemaKey, err.Error())
	}
	return e.Clone().
		WithDetail(engine.DiagLocation, loc).
		WithDetail(engine.DiagSchemaKey, schemaKey)
}

// params reads the object stored under key and rejects unknown members.
func params(obj map[string]any, key, loc string, allowed ...string) (map[string]any, string, error) {
	loc = at(loc, key)
	m, ok := obj[key].(map[string]any)
	if !ok {
		return nil, loc, invalidConfig(loc, key, fmt.Sprintf("%s expects an object, got %s", key, jsonType(obj[key])))
	}
	for _, k := range sortedKeys(m) {
		if !contains(allowed, k) {
			return nil, loc, shapeError(loc, fmt.Sprintf("unknown %s parameter %q", key, k), sortedKeys(m))
		}
	}
	return m, loc, nil
}

func stringParam(m map[string]any, key, schemaKey, loc string, required bool) (string, error) {
	v, ok := m[key]
	if !ok {
		if required {
			return "", invalidConfig(loc, schemaKey, fmt.Sprintf("%s requires %q", schemaKey, key))
		}
		return "", nil
	}
	s, ok := v.(string)
	if !ok || (required && s == "") {
		return "", invalidConfig(at(loc, key), schemaKey, fmt.Sprintf("%q must be a non-empty string", key))
	}
	return s, nil
}

func boolParam(m map[string]any, key, schemaKey, loc string) (bool, error) {
	v, ok := m[key]
	if !ok {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, invalidConfig(at(loc, key), schemaKey, fmt.Sprintf("%q must be a boolean", key))
	}
	return b, nil
}

func childParam(m map[string]any, key, schemaKey, loc string, required bool) (engine.Builder[any], error) {
	v, ok := m[key]
	if !ok {
		if required {
			return nil, invalidConfig(loc, schemaKey, fmt.Sprintf("%s requires %q", schemaKey, key))
		}
		return nil, nil
	}
	return DecodeValue(v, at(loc, key))
}

func childList(v any, schemaKey, loc string) ([]engine.Builder[any], error) {
	list, ok := v.([]any)
	if !ok {
		return nil, invalidConfig(loc, schemaKey, fmt.Sprintf("%s expects an array, got %s", schemaKey, jsonType(v)))
	}
	out := make([]engine.Builder[any], len(list))
	for i, item := range list {
		b, err := DecodeValue(item, atIndex(loc, i))
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

func at(loc, key string) string {
	if loc == "" {
		return key
	}
	return loc + "." + key
}

func atIndex(loc string, i int) string {
	return fmt.Sprintf("%s[%d]", loc, i)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func jsonType(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case float64, json.Number:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}
