package leafdb

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/maruel/leafdb/internal/docval"
	"github.com/maruel/leafdb/internal/fieldpath"
	"github.com/maruel/leafdb/internal/logfile"
	"github.com/maruel/leafdb/internal/memidx"
)

// Ext is the extension of log files.
const Ext = ".jsonl"

// Document is a JSON object with a string "_id" field.
//
// Values are nil, bool, float64, string, []any or map[string]any. Other Go
// numeric kinds are accepted on input and stored as float64.
type Document = map[string]any

// Query is a partial document, possibly with operators. A nil or empty query
// matches every document.
type Query = map[string]any

// Options configures a Store.
type Options struct {
	// Dir is the directory holding the log file. Leave both Dir and Name
	// empty for an in-memory store.
	Dir string
	// Name is the store name; the log file is Dir/Name.jsonl.
	Name string
	// Strict makes Open fail on the first corrupt line and InsertMany reject
	// the whole batch on the first invalid document.
	Strict bool
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Store is a document store. It is not safe for concurrent use.
type Store struct {
	path   string
	strict bool
	log    *slog.Logger
	idx    *memidx.Index
	file   *logfile.File
}

// New returns a store configured by opts.
//
// A persistent store must be opened with [Store.Open] before mutating it. An
// in-memory store is usable right away.
func New(opts *Options) (*Store, error) {
	if opts == nil {
		opts = &Options{}
	}
	s := &Store{strict: opts.Strict, log: opts.Logger, idx: memidx.New()}
	if s.log == nil {
		s.log = slog.Default()
	}
	switch {
	case opts.Dir == "" && opts.Name == "":
	case opts.Dir == "" || opts.Name == "":
		return nil, errors.New("both dir and name are required for a persistent store")
	case filepath.Base(opts.Name) != opts.Name:
		return nil, fmt.Errorf("invalid store name %q", opts.Name)
	default:
		s.path = filepath.Join(opts.Dir, opts.Name+Ext)
	}
	return s, nil
}

// Path returns the log file path, or "" for an in-memory store.
func (s *Store) Path() string {
	return s.path
}

// Len returns the number of live documents.
func (s *Store) Len() int {
	return s.idx.Len()
}

// Open loads the log file and compacts it.
//
// The log is replayed front to back into a fresh memory index, then rewritten
// to hold only the surviving documents. The rewrite is skipped when the file
// already has exactly that content. Opening an open store reloads it.
//
// Corrupt lines are skipped and returned. In strict mode the first one aborts
// the load, leaving the store closed and the file untouched.
func (s *Store) Open() ([]*CorruptRecordError, error) {
	if s.path == "" {
		return nil, fmt.Errorf("%w: open", ErrMode)
	}
	if err := s.closeFile(); err != nil {
		return nil, err
	}
	s.idx.Flush()
	f, err := logfile.Open(s.path)
	if err != nil {
		return nil, ioError(err)
	}
	c, err := f.ReadAll()
	if err != nil {
		_ = f.Close()
		return nil, ioError(err)
	}
	corrupt, err := replay(c.Lines, s.strict, s.idx)
	for _, e := range corrupt {
		s.log.Warn("Dropping corrupt record", "path", f.Path(), "line", e.Line, "err", e.Err)
	}
	if err != nil {
		s.idx.Flush()
		_ = f.Close()
		return corrupt, err
	}
	lines := make([][]byte, 0, s.idx.Len())
	for _, doc := range s.idx.All() {
		b, err := encode(doc)
		if err != nil {
			_ = f.Close()
			return corrupt, err
		}
		lines = append(lines, b)
	}
	sum, size := logfile.Digest(lines)
	compacted := sum != c.Sum || size != c.Size
	if compacted {
		if err := f.Overwrite(lines); err != nil {
			_ = f.Close()
			return corrupt, ioError(err)
		}
	}
	s.file = f
	s.log.Info("Loaded store", "path", f.Path(), "docs", s.idx.Len(), "corrupt", len(corrupt), "compacted", compacted)
	return corrupt, nil
}

// Close releases the log file. The documents stay readable in memory.
// Closing a closed store is a no-op.
func (s *Store) Close() error {
	if s.path == "" {
		return fmt.Errorf("%w: close", ErrMode)
	}
	return s.closeFile()
}

func (s *Store) closeFile() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	if err != nil {
		return ioError(err)
	}
	return nil
}

// writable returns ErrClosed when a persistent store is not open.
func (s *Store) writable() error {
	if s.path != "" && s.file == nil {
		return ErrClosed
	}
	return nil
}

// persist appends doc to the log. It is a no-op for an in-memory store.
func (s *Store) persist(doc Document) error {
	if s.file == nil {
		return nil
	}
	b, err := encode(doc)
	if err != nil {
		return err
	}
	if err := s.file.Append(b); err != nil {
		s.log.Error("Failed to append record", "path", s.file.Path(), "id", doc[docval.IDField], "err", err)
		return ioError(err)
	}
	return nil
}

// Drop deletes every document and empties the log file.
func (s *Store) Drop() error {
	if err := s.writable(); err != nil {
		return err
	}
	n := s.idx.Len()
	s.idx.Flush()
	if s.file != nil {
		if err := s.file.Truncate(); err != nil {
			return ioError(err)
		}
	}
	s.log.Info("Dropped store", "path", s.path, "docs", n)
	return nil
}

// Project returns a copy of doc holding only the given field paths.
//
// A nil fields returns doc unchanged; an empty non-nil fields returns an
// empty document.
func Project(doc Document, fields []string) (Document, error) {
	return fieldpath.Project(doc, fields)
}
