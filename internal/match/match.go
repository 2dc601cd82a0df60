// Package match evaluates queries against documents.
//
// A query is a partial document: every field constraint must hold for the
// document to match. A constraint is either a literal compared by deep
// equality, a nested partial query applied to a sub-object, or an operator
// object such as {"$gt": 3}. The logical operators $not, $or and $and combine
// whole queries. A literal never matches a field missing from the document,
// not even null.
//
// Matching is a direct recursive walk over the query. [Prepare] checks a query
// once and compiles its patterns before it is matched against many documents.
package match

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/maruel/leafdb/internal/docval"
)

// ErrInvalidQuery is returned when a query is not an object or uses an
// operator incorrectly.
var ErrInvalidQuery = errors.New("invalid query")

// Logical operators.
const (
	OpNot = "$not"
	OpOr  = "$or"
	OpAnd = "$and"
)

// Field operators. Aliases are listed in aliases.
const (
	OpGt       = "$gt"
	OpGte      = "$gte"
	OpLt       = "$lt"
	OpLte      = "$lte"
	OpRegex    = "$regex"
	OpSize     = "$size"
	OpIncludes = "$includes"
)

var aliases = map[string]string{
	"$regexp": OpRegex,
	"$length": OpSize,
	"$has":    OpIncludes,
}

// canonical returns the canonical spelling of a field operator, or "" when op
// is not one.
func canonical(op string) string {
	switch op {
	case OpGt, OpGte, OpLt, OpLte, OpRegex, OpSize, OpIncludes:
		return op
	}
	return aliases[op]
}

func isLogical(key string) bool {
	return key == OpNot || key == OpOr || key == OpAnd
}

// Match reports whether doc satisfies query.
//
// A nil or empty query matches every document. Type mismatches between the
// document and the query evaluate to false; malformed operator usage returns
// an error wrapping ErrInvalidQuery.
func Match(doc map[string]any, query map[string]any) (bool, error) {
	return matchQuery(doc, query)
}

// Prepare checks query for structural errors and returns a copy ready for
// repeated matching: literals and $includes operands are normalized and $regex
// patterns are compiled.
//
// Match only reports errors on the branches it evaluates; Prepare walks the
// whole tree so callers can reject a query before scanning any document.
func Prepare(query map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(query))
	for key, rule := range query {
		if isLogical(key) {
			subs, err := subQueries(key, rule)
			if err != nil {
				return nil, err
			}
			prepared := make([]any, len(subs))
			for i, sub := range subs {
				if prepared[i], err = Prepare(sub); err != nil {
					return nil, err
				}
			}
			if key == OpNot {
				out[key] = prepared[0]
			} else {
				out[key] = prepared
			}
			continue
		}
		if docval.IsOperator(key) {
			return nil, fmt.Errorf("%w: unknown operator %q", ErrInvalidQuery, key)
		}
		r, err := prepareRule(key, rule)
		if err != nil {
			return nil, err
		}
		out[key] = r
	}
	return out, nil
}

func prepareRule(key string, rule any) (any, error) {
	obj, ok := rule.(map[string]any)
	if !ok {
		v, err := docval.Normalize(rule)
		if err != nil {
			return nil, fmt.Errorf("%w: field %q: %w", ErrInvalidQuery, key, err)
		}
		return v, nil
	}
	kind, err := ruleKind(key, obj)
	if err != nil {
		return nil, err
	}
	if kind == ruleNested {
		return Prepare(obj)
	}
	out := make(map[string]any, len(obj))
	for op, operand := range obj {
		switch canonical(op) {
		case OpRegex:
			re, err := compile(key, operand)
			if err != nil {
				return nil, err
			}
			out[op] = re
		case OpIncludes:
			v, err := docval.Normalize(operand)
			if err != nil {
				return nil, fmt.Errorf("%w: field %q: %w", ErrInvalidQuery, key, err)
			}
			out[op] = v
		default:
			if err := checkOperand(key, canonical(op), operand); err != nil {
				return nil, err
			}
			out[op] = operand
		}
	}
	return out, nil
}

func matchQuery(doc, query map[string]any) (bool, error) {
	if sub, ok := query[OpNot]; ok {
		q, ok := sub.(map[string]any)
		if !ok {
			return false, fmt.Errorf("%w: %s expects a query object, got %s", ErrInvalidQuery, OpNot, docval.TypeName(sub))
		}
		m, err := matchQuery(doc, q)
		return !m, err
	}
	if sub, ok := query[OpOr]; ok {
		subs, err := subQueries(OpOr, sub)
		if err != nil {
			return false, err
		}
		for _, q := range subs {
			m, err := matchQuery(doc, q)
			if err != nil || m {
				return m, err
			}
		}
		return false, nil
	}
	if sub, ok := query[OpAnd]; ok {
		subs, err := subQueries(OpAnd, sub)
		if err != nil {
			return false, err
		}
		for _, q := range subs {
			m, err := matchQuery(doc, q)
			if err != nil || !m {
				return false, err
			}
		}
		return true, nil
	}
	for key, rule := range query {
		if docval.IsOperator(key) {
			return false, fmt.Errorf("%w: unknown operator %q", ErrInvalidQuery, key)
		}
		value, present := doc[key]
		m, err := matchField(key, value, present, rule)
		if err != nil || !m {
			return false, err
		}
	}
	return true, nil
}

// subQueries decodes the operand of a logical operator.
func subQueries(op string, v any) ([]map[string]any, error) {
	if op == OpNot {
		q, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s expects a query object, got %s", ErrInvalidQuery, op, docval.TypeName(v))
		}
		return []map[string]any{q}, nil
	}
	switch t := v.(type) {
	case []map[string]any:
		return t, nil
	case []any:
		out := make([]map[string]any, len(t))
		for i, e := range t {
			q, ok := e.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: %s element %d is %s, not a query object", ErrInvalidQuery, op, i, docval.TypeName(e))
			}
			out[i] = q
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %s expects an array of queries, got %s", ErrInvalidQuery, op, docval.TypeName(v))
	}
}

type ruleType int

const (
	ruleNested ruleType = iota
	ruleOperators
)

// ruleKind classifies an object rule: either operators applied to the field
// value, or a nested query applied to the sub-document.
func ruleKind(key string, rule map[string]any) (ruleType, error) {
	var ops, logical, plain int
	for k := range rule {
		switch {
		case canonical(k) != "":
			ops++
		case isLogical(k):
			logical++
		case docval.IsOperator(k):
			return 0, fmt.Errorf("%w: unknown operator %q on field %q", ErrInvalidQuery, k, key)
		default:
			plain++
		}
	}
	if ops == 0 {
		return ruleNested, nil
	}
	if logical != 0 || plain != 0 {
		return 0, fmt.Errorf("%w: field %q mixes operators with other keys", ErrInvalidQuery, key)
	}
	return ruleOperators, nil
}

// matchField evaluates one field constraint. A literal never matches a
// missing field, not even null.
func matchField(key string, value any, present bool, rule any) (bool, error) {
	obj, ok := rule.(map[string]any)
	if !ok {
		want, err := docval.Normalize(rule)
		if err != nil {
			return false, fmt.Errorf("%w: field %q: %w", ErrInvalidQuery, key, err)
		}
		return present && docval.Equal(value, want), nil
	}
	kind, err := ruleKind(key, obj)
	if err != nil {
		return false, err
	}
	if kind == ruleOperators {
		for op, operand := range obj {
			m, err := apply(key, canonical(op), value, operand)
			if err != nil || !m {
				return false, err
			}
		}
		return true, nil
	}
	sub, ok := value.(map[string]any)
	if !ok {
		return false, nil
	}
	return matchQuery(sub, obj)
}

func apply(key, op string, value, operand any) (bool, error) {
	switch op {
	case OpGt, OpGte, OpLt, OpLte:
		v, ok := docval.ToNumber(value)
		if !ok {
			return false, nil
		}
		o, ok := docval.ToNumber(operand)
		if !ok {
			return false, nil
		}
		switch op {
		case OpGt:
			return v > o, nil
		case OpGte:
			return v >= o, nil
		case OpLt:
			return v < o, nil
		default:
			return v <= o, nil
		}
	case OpRegex:
		re, err := compile(key, operand)
		if err != nil {
			return false, err
		}
		s, ok := value.(string)
		return ok && re.MatchString(s), nil
	case OpSize:
		if err := checkOperand(key, op, operand); err != nil {
			return false, err
		}
		arr, ok := value.([]any)
		if !ok {
			return false, nil
		}
		n, _ := docval.ToNumber(operand)
		return float64(len(arr)) == n, nil
	case OpIncludes:
		arr, ok := value.([]any)
		if !ok {
			return false, nil
		}
		want, err := docval.Normalize(operand)
		if err != nil {
			return false, fmt.Errorf("%w: field %q: %w", ErrInvalidQuery, key, err)
		}
		for _, e := range arr {
			if docval.Equal(e, want) {
				return true, nil
			}
		}
		return false, nil
	}
	return false, fmt.Errorf("%w: unknown operator %q on field %q", ErrInvalidQuery, op, key)
}

// checkOperand rejects operands that can never be valid for op.
func checkOperand(key, op string, operand any) error {
	switch op {
	case OpRegex:
		_, err := compile(key, operand)
		return err
	case OpSize:
		if _, ok := docval.ToNumber(operand); !ok {
			return fmt.Errorf("%w: %s on field %q expects a number, got %s", ErrInvalidQuery, op, key, docval.TypeName(operand))
		}
	}
	return nil
}

func compile(key string, operand any) (*regexp.Regexp, error) {
	switch t := operand.(type) {
	case *regexp.Regexp:
		if t == nil {
			break
		}
		return t, nil
	case string:
		re, err := regexp.Compile(t)
		if err != nil {
			return nil, fmt.Errorf("%w: %s on field %q: %w", ErrInvalidQuery, OpRegex, key, err)
		}
		return re, nil
	}
	return nil, fmt.Errorf("%w: %s on field %q expects a pattern, got %s", ErrInvalidQuery, OpRegex, key, docval.TypeName(operand))
}
