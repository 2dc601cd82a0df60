// Package docval implements the JSON value model shared by documents, queries
// and updates.
//
// A value is one of nil, bool, float64, string, []any or map[string]any.
// Everything entering the store goes through [Normalize] so the rest of the
// code only has to deal with these six shapes.
package docval

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

// ErrInvalidDocument is returned when a draft or stored record does not have
// a valid document shape.
var ErrInvalidDocument = errors.New("invalid document")

const (
	// IDField is the mandatory identifier field of every document.
	IDField = "_id"
	// DeletedField marks a log record as a tombstone.
	DeletedField = "$deleted"
	// OperatorPrefix starts every query operator and update modifier.
	OperatorPrefix = "$"
	// PathSeparator splits field paths.
	PathSeparator = "."
)

// IsOperator reports whether key is reserved for operators.
func IsOperator(key string) bool {
	return strings.HasPrefix(key, OperatorPrefix)
}

// Normalize returns a deep copy of v restricted to the JSON value model.
//
// All Go integer and float kinds and json.Number become float64. Typed slices
// and maps of supported element types are converted too. Strings and field
// names must be valid UTF-8. Anything else is rejected.
func Normalize(v any) (any, error) {
	return normalize(v, "")
}

func normalize(v any, path string) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case bool:
		return t, nil
	case string:
		if !utf8.ValidString(t) {
			return nil, fmt.Errorf("%w: %s: string is not valid UTF-8", ErrInvalidDocument, describe(path))
		}
		return t, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			if !utf8.ValidString(k) {
				return nil, fmt.Errorf("%w: %s: field name %q is not valid UTF-8", ErrInvalidDocument, describe(path), k)
			}
			n, err := normalize(e, join(path, k))
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			n, err := normalize(e, join(path, fmt.Sprint(i)))
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case []string:
		out := make([]any, len(t))
		for i, e := range t {
			n, err := normalize(e, join(path, fmt.Sprint(i)))
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case []map[string]any:
		out := make([]any, len(t))
		for i, e := range t {
			n, err := normalize(e, join(path, fmt.Sprint(i)))
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidDocument, describe(path), err)
		}
		return f, nil
	}
	if f, ok := ToNumber(v); ok {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%w: %s: %v is not representable in JSON", ErrInvalidDocument, describe(path), f)
		}
		return f, nil
	}
	return nil, fmt.Errorf("%w: %s: unsupported value of type %T", ErrInvalidDocument, describe(path), v)
}

// ToNumber converts any Go numeric kind to float64.
func ToNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Clone deep-copies a normalized value.
func Clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneObject(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Clone(e)
		}
		return out
	default:
		return v
	}
}

// CloneObject deep-copies an object. A nil object stays nil.
func CloneObject(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = Clone(v)
	}
	return out
}

// Equal reports deep equality.
//
// Arrays are equal when they have the same length and equal elements in order;
// objects when they have the same key set and equal values. Numbers compare by
// value regardless of their Go kind.
func Equal(a, b any) bool {
	switch x := a.(type) {
	case nil:
		return b == nil
	case map[string]any:
		y, ok := b.(map[string]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, xv := range x {
			yv, ok := y[k]
			if !ok || !Equal(xv, yv) {
				return false
			}
		}
		return true
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case string:
		y, ok := b.(string)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	}
	if xf, ok := ToNumber(a); ok {
		yf, ok := ToNumber(b)
		return ok && xf == yf
	}
	return false
}

// ValidateFields checks the field names of a draft.
//
// No key at any depth may start with the operator prefix. Top level keys may
// not contain the path separator.
func ValidateFields(doc map[string]any) error {
	for k, v := range doc {
		if strings.Contains(k, PathSeparator) {
			return fmt.Errorf("%w: field name %q contains %q", ErrInvalidDocument, k, PathSeparator)
		}
		if err := validateKeys(k, k, v); err != nil {
			return err
		}
	}
	return nil
}

// ValidateValue checks that no object key inside v, at any depth, starts with
// the operator prefix. path is used in error messages.
func ValidateValue(path string, v any) error {
	return validateKeys(path, "", v)
}

func validateKeys(path, key string, v any) error {
	if IsOperator(key) {
		return fmt.Errorf("%w: field name %q starts with %q", ErrInvalidDocument, path, OperatorPrefix)
	}
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			if err := validateKeys(join(path, k), k, e); err != nil {
				return err
			}
		}
	case []any:
		for i, e := range t {
			if err := validateKeys(join(path, fmt.Sprint(i)), "", e); err != nil {
				return err
			}
		}
	}
	return nil
}

// TypeName returns the JSON type name of a normalized value.
func TypeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + PathSeparator + key
}

func describe(path string) string {
	if path == "" {
		return "value"
	}
	return fmt.Sprintf("field %q", path)
}
