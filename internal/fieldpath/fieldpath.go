// Package fieldpath applies update modifiers and projections addressed by
// dotted field paths such as "a.b.0.c".
//
// A numeric segment indexes an array when the value at that point is an
// array; otherwise every segment is an object key.
package fieldpath

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/maruel/leafdb/internal/docval"
)

var (
	// ErrInvalidUpdate is returned for malformed updates.
	ErrInvalidUpdate = errors.New("invalid update")
	// ErrInvalidProjection is returned for malformed projections.
	ErrInvalidProjection = errors.New("invalid projection")
)

// Modifiers.
const (
	OpAdd  = "$add"
	OpSet  = "$set"
	OpPush = "$push"
)

// modifiers lists the supported modifiers in application order.
var modifiers = []string{OpSet, OpAdd, OpPush}

// Split splits a field path into its segments.
func Split(path string) []string {
	return strings.Split(path, docval.PathSeparator)
}

func checkPath(path string) error {
	if path == "" {
		return errors.New("empty field path")
	}
	if !utf8.ValidString(path) {
		return fmt.Errorf("field path %q is not valid UTF-8", path)
	}
	for _, seg := range Split(path) {
		if seg == "" {
			return fmt.Errorf("field path %q has an empty segment", path)
		}
		if docval.IsOperator(seg) {
			return fmt.Errorf("field path %q has a segment starting with %q", path, docval.OperatorPrefix)
		}
	}
	return nil
}

// IsModifier reports whether update is a modifier object rather than a
// replacement document.
//
// An update whose keys all start with "$" is a modifier; one with no such key
// is a replacement. Mixing both, or using an unknown modifier, is an error.
func IsModifier(update map[string]any) (bool, error) {
	var ops, plain int
	for k := range update {
		if !docval.IsOperator(k) {
			plain++
			continue
		}
		if !slices.Contains(modifiers, k) {
			return false, fmt.Errorf("%w: unknown modifier %q", ErrInvalidUpdate, k)
		}
		ops++
	}
	if ops != 0 && plain != 0 {
		return false, fmt.Errorf("%w: cannot mix modifiers and fields", ErrInvalidUpdate)
	}
	return ops != 0, nil
}

// Modifier is a validated, normalized modifier object.
type Modifier map[string]map[string]any

// ParseModifier validates a modifier object and normalizes its values.
func ParseModifier(update map[string]any) (Modifier, error) {
	isMod, err := IsModifier(update)
	if err != nil {
		return nil, err
	}
	if !isMod {
		return nil, fmt.Errorf("%w: not a modifier", ErrInvalidUpdate)
	}
	m := make(Modifier, len(update))
	for op, raw := range update {
		fields, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s expects an object of field paths, got %s", ErrInvalidUpdate, op, docval.TypeName(raw))
		}
		norm := make(map[string]any, len(fields))
		for path, v := range fields {
			if err := checkPath(path); err != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrInvalidUpdate, op, err)
			}
			if op == OpSet && (path == docval.IDField || strings.HasPrefix(path, docval.IDField+docval.PathSeparator)) {
				return nil, fmt.Errorf("%w: cannot %s %q", ErrInvalidUpdate, op, docval.IDField)
			}
			n, err := docval.Normalize(v)
			if err != nil {
				return nil, fmt.Errorf("%w: %s %q: %w", ErrInvalidUpdate, op, path, err)
			}
			if err := docval.ValidateValue(path, n); err != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrInvalidUpdate, op, err)
			}
			norm[path] = n
		}
		m[op] = norm
	}
	return m, nil
}

// Apply returns a copy of doc with the modifier applied.
//
// $set runs first, then $add, then $push; within one modifier, paths are
// applied in lexical order so a parent path is set before its children.
func (m Modifier) Apply(doc map[string]any) (map[string]any, error) {
	out := docval.CloneObject(doc)
	if out == nil {
		out = map[string]any{}
	}
	for _, op := range modifiers {
		fields := m[op]
		paths := make([]string, 0, len(fields))
		for p := range fields {
			paths = append(paths, p)
		}
		slices.Sort(paths)
		for _, p := range paths {
			// Each application gets its own copy so values are never shared
			// between documents updated by the same modifier.
			v := docval.Clone(fields[p])
			var err error
			switch op {
			case OpSet:
				err = set(out, Split(p), p, v)
			case OpAdd:
				add(out, Split(p), v)
			case OpPush:
				push(out, Split(p), v)
			}
			if err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// index parses seg as an array index below n. Only canonical decimal
// indices are accepted: "1" but not "+1", "01" or "1e0".
func index(seg string, n int) (int, bool) {
	if seg == "" || len(seg) > 1 && seg[0] == '0' {
		return 0, false
	}
	for _, c := range []byte(seg) {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	i, err := strconv.Atoi(seg)
	return i, err == nil && i < n
}

func set(node any, segs []string, path string, value any) error {
	seg, last := segs[0], len(segs) == 1
	switch n := node.(type) {
	case map[string]any:
		if last {
			n[seg] = value
			return nil
		}
		next := n[seg]
		if next == nil {
			next = map[string]any{}
			n[seg] = next
		}
		return set(next, segs[1:], path, value)
	case []any:
		i, ok := index(seg, len(n))
		if !ok {
			return fmt.Errorf("%w: cannot set %q: index %q out of range for array of length %d", ErrInvalidUpdate, path, seg, len(n))
		}
		if last {
			n[i] = value
			return nil
		}
		if n[i] == nil {
			n[i] = map[string]any{}
		}
		return set(n[i], segs[1:], path, value)
	default:
		return fmt.Errorf("%w: cannot set %q: %q is a %s", ErrInvalidUpdate, path, seg, docval.TypeName(node))
	}
}

// lookup finds the value at segs without creating anything. It returns a
// setter to replace it in its container.
func lookup(node any, segs []string) (any, func(any), bool) {
	seg, last := segs[0], len(segs) == 1
	switch n := node.(type) {
	case map[string]any:
		v, ok := n[seg]
		if !ok {
			return nil, nil, false
		}
		if last {
			return v, func(nv any) { n[seg] = nv }, true
		}
		return lookup(v, segs[1:])
	case []any:
		i, ok := index(seg, len(n))
		if !ok {
			return nil, nil, false
		}
		if last {
			return n[i], func(nv any) { n[i] = nv }, true
		}
		return lookup(n[i], segs[1:])
	default:
		return nil, nil, false
	}
}

func add(doc map[string]any, segs []string, delta any) {
	cur, setter, ok := lookup(doc, segs)
	if !ok {
		return
	}
	c, ok := docval.ToNumber(cur)
	if !ok {
		return
	}
	d, ok := docval.ToNumber(delta)
	if !ok {
		return
	}
	setter(c + d)
}

func push(doc map[string]any, segs []string, value any) {
	cur, setter, ok := lookup(doc, segs)
	if !ok {
		return
	}
	arr, ok := cur.([]any)
	if !ok {
		return
	}
	setter(append(arr, value))
}

type projNode struct {
	leaf bool
	kids map[string]*projNode
}

// Project returns a new document holding only the given field paths.
//
// A nil fields returns doc itself; an empty non-nil fields returns an empty
// document. Missing paths are skipped. When a path crosses an array by index,
// the projected array holds only the selected elements, in order.
func Project(doc map[string]any, fields []string) (map[string]any, error) {
	if fields == nil {
		return doc, nil
	}
	root := &projNode{}
	for _, f := range fields {
		if f == "" {
			return nil, fmt.Errorf("%w: empty field path", ErrInvalidProjection)
		}
		if docval.IsOperator(f) {
			return nil, fmt.Errorf("%w: field path %q starts with %q", ErrInvalidProjection, f, docval.OperatorPrefix)
		}
		n := root
		for _, seg := range Split(f) {
			if seg == "" {
				return nil, fmt.Errorf("%w: field path %q has an empty segment", ErrInvalidProjection, f)
			}
			if n.kids == nil {
				n.kids = map[string]*projNode{}
			}
			kid := n.kids[seg]
			if kid == nil {
				kid = &projNode{}
				n.kids[seg] = kid
			}
			n = kid
		}
		n.leaf = true
	}
	if out, ok := pick(doc, root); ok {
		return out.(map[string]any), nil
	}
	return map[string]any{}, nil
}

func pick(v any, n *projNode) (any, bool) {
	if n.leaf {
		return docval.Clone(v), true
	}
	switch t := v.(type) {
	case map[string]any:
		out := map[string]any{}
		for k, kid := range n.kids {
			cv, ok := t[k]
			if !ok {
				continue
			}
			if pv, ok := pick(cv, kid); ok {
				out[k] = pv
			}
		}
		return out, len(out) != 0
	case []any:
		var out []any
		for i, e := range t {
			kid := n.kids[strconv.Itoa(i)]
			if kid == nil {
				continue
			}
			if pv, ok := pick(e, kid); ok {
				out = append(out, pv)
			}
		}
		return out, len(out) != 0
	}
	return nil, false
}
