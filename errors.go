package leafdb

import (
	"errors"
	"fmt"

	"github.com/maruel/leafdb/internal/docval"
	"github.com/maruel/leafdb/internal/fieldpath"
	"github.com/maruel/leafdb/internal/match"
)

// Error kinds. Use errors.Is to branch on them.
var (
	// ErrMode is returned by Open and Close on an in-memory store.
	ErrMode = errors.New("operation requires a persistent store")
	// ErrClosed is returned by mutations on a persistent store that is not
	// open.
	ErrClosed = errors.New("store is not open")
	// ErrDuplicateID is returned when inserting an identifier already present.
	ErrDuplicateID = errors.New("duplicate identifier")
	// ErrNotFound is returned by UpdateID for an unknown identifier.
	ErrNotFound = errors.New("document not found")
	// ErrCorruptRecord is wrapped by every *CorruptRecordError.
	ErrCorruptRecord = errors.New("corrupt record")
	// ErrIO wraps filesystem failures.
	ErrIO = errors.New("i/o error")

	ErrInvalidDocument   = docval.ErrInvalidDocument
	ErrInvalidQuery      = match.ErrInvalidQuery
	ErrInvalidUpdate     = fieldpath.ErrInvalidUpdate
	ErrInvalidProjection = fieldpath.ErrInvalidProjection
)

// CorruptRecordError describes a log line that could not be replayed.
type CorruptRecordError struct {
	// Line is the 1-based line number in the log file.
	Line int
	// Raw is the line as read.
	Raw string
	// Err is the parse or shape failure.
	Err error
}

func (e *CorruptRecordError) Error() string {
	return fmt.Sprintf("corrupt record at line %d: %v", e.Line, e.Err)
}

func (e *CorruptRecordError) Unwrap() []error {
	return []error{ErrCorruptRecord, e.Err}
}

func ioError(err error) error {
	return fmt.Errorf("%w: %w", ErrIO, err)
}
