// Package logfile wraps the single append-only JSONL file backing a store.
package logfile

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
)

// File is an open log file. It is not safe for concurrent use.
type File struct {
	path string
	f    *os.File
}

// Contents is the result of [File.ReadAll].
type Contents struct {
	// Lines holds every line without its terminator, blank ones included.
	Lines []string
	// Sum is the xxhash of the raw file bytes.
	Sum uint64
	// Size is the raw file size.
	Size int64
}

// Open opens path for appending, creating it and its parent directories if
// needed.
func Open(path string) (*File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	l := &File{path: path}
	if err := l.reopen(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *File) reopen() error {
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", l.path, err)
	}
	l.f = f
	return nil
}

// Path returns the file path.
func (l *File) Path() string {
	return l.path
}

// ReadAll reads every line currently in the file.
func (l *File) ReadAll() (*Contents, error) {
	return Read(l.path)
}

// Read reads every line of the log file at path without opening it for
// writing. A missing file reads as empty.
func Read(path string) (*Contents, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Contents{Sum: xxhash.Sum64(nil)}, nil
		}
		return nil, fmt.Errorf("failed to read log file %s: %w", path, err)
	}
	c := &Contents{Sum: xxhash.Sum64(data), Size: int64(len(data))}
	for len(data) != 0 {
		line, rest, _ := bytes.Cut(data, []byte{'\n'})
		c.Lines = append(c.Lines, string(bytes.TrimSuffix(line, []byte{'\r'})))
		data = rest
	}
	return c, nil
}

// Append writes line followed by a newline at the end of the file.
func (l *File) Append(line []byte) error {
	if l.f == nil {
		return fmt.Errorf("failed to append to %s: %w", l.path, os.ErrClosed)
	}
	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	if _, err := l.f.Write(buf); err != nil {
		return fmt.Errorf("failed to append to %s: %w", l.path, err)
	}
	return nil
}

// Overwrite replaces the whole file with lines.
//
// The new content is written to a sibling temporary file, synced, and renamed
// over the log, so a crash leaves either the old or the new file in place.
func (l *File) Overwrite(lines [][]byte) error {
	tmp := l.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmp, err)
	}
	ok := false
	defer func() {
		if !ok {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()
	w := bufio.NewWriter(f)
	for _, line := range lines {
		if _, err := w.Write(line); err != nil {
			return fmt.Errorf("failed to write line: %w", err)
		}
		if err := w.WriteByte('\n'); err != nil {
			return fmt.Errorf("failed to write newline: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush writer: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmp, err)
	}
	ok = true
	// Windows refuses to rename over an open file.
	if err := l.closeHandle(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, l.path); err != nil {
		_ = os.Remove(tmp)
		return errors.Join(fmt.Errorf("failed to replace %s: %w", l.path, err), l.reopen())
	}
	return l.reopen()
}

// Truncate deletes the file and recreates it empty.
func (l *File) Truncate() error {
	if err := l.closeHandle(); err != nil {
		return err
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Join(fmt.Errorf("failed to delete %s: %w", l.path, err), l.reopen())
	}
	return l.reopen()
}

// Close releases the file handle. Closing twice is a no-op.
func (l *File) Close() error {
	return l.closeHandle()
}

func (l *File) closeHandle() error {
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	if err != nil {
		return fmt.Errorf("failed to close %s: %w", l.path, err)
	}
	return nil
}

// Digest returns the xxhash and size of the bytes [File.Overwrite] would write
// for lines.
func Digest(lines [][]byte) (uint64, int64) {
	d := xxhash.New()
	var n int64
	for _, line := range lines {
		_, _ = d.Write(line)
		_, _ = d.Write([]byte{'\n'})
		n += int64(len(line)) + 1
	}
	return d.Sum64(), n
}
