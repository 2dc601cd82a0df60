package leafdb

import (
	"fmt"

	"github.com/maruel/leafdb/internal/docval"
	"github.com/maruel/leafdb/internal/fieldpath"
	"github.com/maruel/leafdb/internal/match"
)

// Get returns a copy of the document with the given identifier, or nil.
func (s *Store) Get(id string) Document {
	doc, ok := s.idx.Get(id)
	if !ok {
		return nil
	}
	return docval.CloneObject(doc)
}

// Has reports whether a document with the given identifier exists.
func (s *Store) Has(id string) bool {
	return s.idx.Has(id)
}

// Find returns copies of the documents matching q, in insertion order.
func (s *Store) Find(q Query) ([]Document, error) {
	var out []Document
	err := s.each(q, func(_ string, doc Document) bool {
		out = append(out, docval.CloneObject(doc))
		return true
	})
	return out, err
}

// FindOne returns a copy of the first document matching q, or nil.
func (s *Store) FindOne(q Query) (Document, error) {
	var out Document
	err := s.each(q, func(_ string, doc Document) bool {
		out = docval.CloneObject(doc)
		return false
	})
	return out, err
}

// Count returns the number of documents matching q.
func (s *Store) Count(q Query) (int, error) {
	n := 0
	err := s.each(q, func(string, Document) bool {
		n++
		return true
	})
	return n, err
}

// each calls fn with every stored document matching q until fn returns false.
// The query is checked and compiled once before any document is scanned.
func (s *Store) each(q Query, fn func(id string, doc Document) bool) error {
	q, err := match.Prepare(q)
	if err != nil {
		return err
	}
	for id, doc := range s.idx.All() {
		ok, err := match.Match(doc, q)
		if err != nil {
			return err
		}
		if ok && !fn(id, doc) {
			return nil
		}
	}
	return nil
}

// prepare turns a draft into a document, assigning an identifier if needed.
func prepare(draft Document) (string, Document, error) {
	v, err := docval.Normalize(draft)
	if err != nil {
		return "", nil, err
	}
	doc, _ := v.(map[string]any)
	if doc == nil {
		doc = Document{}
	}
	if err := docval.ValidateFields(doc); err != nil {
		return "", nil, err
	}
	switch id := doc[docval.IDField].(type) {
	case nil:
		doc[docval.IDField] = NewID()
	case string:
		if id == "" {
			return "", nil, fmt.Errorf("%w: %q must not be empty", ErrInvalidDocument, docval.IDField)
		}
	default:
		return "", nil, fmt.Errorf("%w: %q must be a string, got %s", ErrInvalidDocument, docval.IDField, docval.TypeName(id))
	}
	return doc[docval.IDField].(string), doc, nil
}

// Insert stores a draft and returns the stored document.
//
// An identifier is generated when the draft has none. When the log append
// fails the document stays in memory and the error wraps ErrIO.
func (s *Store) Insert(draft Document) (Document, error) {
	if err := s.writable(); err != nil {
		return nil, err
	}
	id, doc, err := prepare(draft)
	if err != nil {
		return nil, err
	}
	if s.idx.Has(id) {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateID, id)
	}
	s.idx.Set(id, doc)
	if err := s.persist(doc); err != nil {
		return docval.CloneObject(doc), err
	}
	return docval.CloneObject(doc), nil
}

// InsertMany stores several drafts and returns the stored documents.
//
// In strict mode the whole batch is validated first, including identifiers
// duplicated inside the batch, and nothing is stored if any draft is invalid.
// Otherwise invalid drafts are logged and skipped.
func (s *Store) InsertMany(drafts []Document) ([]Document, error) {
	if err := s.writable(); err != nil {
		return nil, err
	}
	type entry struct {
		id  string
		doc Document
	}
	batch := make([]entry, 0, len(drafts))
	seen := make(map[string]struct{}, len(drafts))
	for i, draft := range drafts {
		id, doc, err := prepare(draft)
		if err == nil {
			if _, dup := seen[id]; dup || s.idx.Has(id) {
				err = fmt.Errorf("%w: %q", ErrDuplicateID, id)
			}
		}
		if err != nil {
			if s.strict {
				return nil, fmt.Errorf("document %d: %w", i, err)
			}
			s.log.Warn("Skipping invalid document", "index", i, "err", err)
			continue
		}
		seen[id] = struct{}{}
		batch = append(batch, entry{id, doc})
	}
	out := make([]Document, 0, len(batch))
	for _, e := range batch {
		s.idx.Set(e.id, e.doc)
		out = append(out, docval.CloneObject(e.doc))
		if err := s.persist(e.doc); err != nil {
			return out, err
		}
	}
	return out, nil
}

// updater returns a function computing the new value of a document.
func updater(u Document) (func(id string, doc Document) (Document, error), error) {
	isMod, err := fieldpath.IsModifier(u)
	if err != nil {
		return nil, err
	}
	if isMod {
		m, err := fieldpath.ParseModifier(u)
		if err != nil {
			return nil, err
		}
		return func(id string, doc Document) (Document, error) {
			nd, err := m.Apply(doc)
			if err != nil {
				return nil, err
			}
			nd[docval.IDField] = id
			return nd, nil
		}, nil
	}
	v, err := docval.Normalize(u)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidUpdate, err)
	}
	repl, _ := v.(map[string]any)
	if repl == nil {
		repl = Document{}
	}
	delete(repl, docval.IDField)
	if err := docval.ValidateFields(repl); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidUpdate, err)
	}
	return func(id string, _ Document) (Document, error) {
		nd := docval.CloneObject(repl)
		nd[docval.IDField] = id
		return nd, nil
	}, nil
}

// Update applies u to every document matching q and returns the new values.
//
// u is either a replacement document or a modifier object; the identifier of
// each document is kept whatever u contains. Every new value is computed
// before any is stored, so a failing update changes nothing.
func (s *Store) Update(q Query, u Document) ([]Document, error) {
	if err := s.writable(); err != nil {
		return nil, err
	}
	fn, err := updater(u)
	if err != nil {
		return nil, err
	}
	type entry struct {
		id  string
		doc Document
	}
	var targets []entry
	if err := s.each(q, func(id string, doc Document) bool {
		targets = append(targets, entry{id, doc})
		return true
	}); err != nil {
		return nil, err
	}
	for i, t := range targets {
		nd, err := fn(t.id, t.doc)
		if err != nil {
			return nil, fmt.Errorf("document %q: %w", t.id, err)
		}
		targets[i].doc = nd
	}
	out := make([]Document, 0, len(targets))
	for _, t := range targets {
		s.idx.Set(t.id, t.doc)
		out = append(out, docval.CloneObject(t.doc))
		if err := s.persist(t.doc); err != nil {
			return out, err
		}
	}
	return out, nil
}

// UpdateID applies u to the document with the given identifier.
//
// It returns ErrNotFound when there is no such document.
func (s *Store) UpdateID(id string, u Document) (Document, error) {
	if err := s.writable(); err != nil {
		return nil, err
	}
	fn, err := updater(u)
	if err != nil {
		return nil, err
	}
	doc, ok := s.idx.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	nd, err := fn(id, doc)
	if err != nil {
		return nil, err
	}
	s.idx.Set(id, nd)
	return docval.CloneObject(nd), s.persist(nd)
}

// Delete removes every document matching q and returns how many were
// removed. Each removal appends a tombstone to the log.
func (s *Store) Delete(q Query) (int, error) {
	if err := s.writable(); err != nil {
		return 0, err
	}
	var ids []string
	if err := s.each(q, func(id string, _ Document) bool {
		ids = append(ids, id)
		return true
	}); err != nil {
		return 0, err
	}
	for i, id := range ids {
		s.idx.Delete(id)
		if err := s.persist(tombstone(id)); err != nil {
			return i + 1, err
		}
	}
	return len(ids), nil
}

// DeleteID removes the document with the given identifier and reports
// whether it existed.
func (s *Store) DeleteID(id string) (bool, error) {
	if err := s.writable(); err != nil {
		return false, err
	}
	if !s.idx.Delete(id) {
		return false, nil
	}
	return true, s.persist(tombstone(id))
}
