package leafdb

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/maruel/leafdb/internal/docval"
	"github.com/maruel/leafdb/internal/logfile"
	"github.com/maruel/leafdb/internal/memidx"
)

// record is one decoded log line.
type record struct {
	id      string
	doc     Document
	deleted bool
}

// decodeRecord parses and shape-checks a log line.
func decodeRecord(line string) (*record, error) {
	var v any
	if err := json.Unmarshal([]byte(line), &v); err != nil {
		return nil, err
	}
	doc, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: record is %s, not an object", ErrInvalidDocument, docval.TypeName(v))
	}
	id, ok := doc[docval.IDField].(string)
	if !ok || id == "" {
		return nil, fmt.Errorf("%w: record has no %q string", ErrInvalidDocument, docval.IDField)
	}
	if del, ok := doc[docval.DeletedField]; ok {
		if del != true {
			return nil, fmt.Errorf("%w: %q must be true, got %v", ErrInvalidDocument, docval.DeletedField, del)
		}
		return &record{id: id, deleted: true}, nil
	}
	if err := docval.ValidateFields(doc); err != nil {
		return nil, err
	}
	return &record{id: id, doc: doc}, nil
}

// replay applies lines to idx in order. Blank lines are skipped.
//
// In strict mode replay stops at the first corrupt line and returns it as the
// error too.
func replay(lines []string, strict bool, idx *memidx.Index) ([]*CorruptRecordError, error) {
	var corrupt []*CorruptRecordError
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		r, err := decodeRecord(line)
		if err != nil {
			c := &CorruptRecordError{Line: i + 1, Raw: line, Err: err}
			corrupt = append(corrupt, c)
			if strict {
				return corrupt, c
			}
			continue
		}
		if r.deleted {
			idx.Delete(r.id)
		} else {
			idx.Set(r.id, r.doc)
		}
	}
	return corrupt, nil
}

// Load replays the log file at path without modifying it.
//
// It returns the surviving documents in log order and the corrupt lines. A
// missing file loads as empty. In strict mode the first corrupt line aborts
// the load.
func Load(path string, strict bool) ([]Document, []*CorruptRecordError, error) {
	c, err := logfile.Read(path)
	if err != nil {
		return nil, nil, ioError(err)
	}
	idx := memidx.New()
	corrupt, err := replay(c.Lines, strict, idx)
	if err != nil {
		return nil, corrupt, err
	}
	docs := make([]Document, 0, idx.Len())
	for _, doc := range idx.All() {
		docs = append(docs, doc)
	}
	return docs, corrupt, nil
}

// encode serializes a document or tombstone as a single log line.
func encode(doc Document) ([]byte, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}
	return b, nil
}

func tombstone(id string) Document {
	return Document{docval.IDField: id, docval.DeletedField: true}
}
