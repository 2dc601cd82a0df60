// Package memidx holds the live documents of a store, keyed by identifier.
//
// The index does no I/O and no locking. Iteration follows insertion order; an
// overwrite keeps the original position.
package memidx

import (
	"iter"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Index maps identifiers to documents.
type Index struct {
	docs *orderedmap.OrderedMap[string, map[string]any]
}

// New returns an empty index.
func New() *Index {
	return &Index{docs: orderedmap.New[string, map[string]any]()}
}

// Get returns the stored document, or nil and false.
//
// The returned map is the stored value, not a copy.
func (x *Index) Get(id string) (map[string]any, bool) {
	return x.docs.Get(id)
}

// Set inserts or overwrites doc under id and returns it.
func (x *Index) Set(id string, doc map[string]any) map[string]any {
	x.docs.Set(id, doc)
	return doc
}

// Has reports whether id is present.
func (x *Index) Has(id string) bool {
	_, ok := x.docs.Get(id)
	return ok
}

// Delete removes id and reports whether it was present.
func (x *Index) Delete(id string) bool {
	_, ok := x.docs.Delete(id)
	return ok
}

// Len returns the number of documents.
func (x *Index) Len() int {
	return x.docs.Len()
}

// All iterates over the documents in insertion order.
//
// The sequence is a snapshot: mutating the index while iterating does not
// affect it.
func (x *Index) All() iter.Seq2[string, map[string]any] {
	type entry struct {
		id  string
		doc map[string]any
	}
	snap := make([]entry, 0, x.docs.Len())
	for pair := x.docs.Oldest(); pair != nil; pair = pair.Next() {
		snap = append(snap, entry{pair.Key, pair.Value})
	}
	return func(yield func(string, map[string]any) bool) {
		for _, e := range snap {
			if !yield(e.id, e.doc) {
				return
			}
		}
	}
}

// Flush removes every document.
func (x *Index) Flush() {
	x.docs = orderedmap.New[string, map[string]any]()
}
