package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/maruel/leafdb"
)

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Reload the log file read-only whenever it changes",
		Long: `Watch the log file and replay it read-only each time it changes, logging the
number of documents and corrupt lines. The file is never rewritten. Stops on
SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.newStore()
			if err != nil {
				return err
			}
			return watchLog(cmd.Context(), s.Path(), rootOpts.cfg.Strict, func(docs []leafdb.Document, corrupt []*leafdb.CorruptRecordError, err error) {
				if err != nil {
					slog.WarnContext(cmd.Context(), "Failed to load log", "path", s.Path(), "err", err)
					return
				}
				slog.InfoContext(cmd.Context(), "Loaded log", "path", s.Path(), "docs", len(docs), "corrupt", len(corrupt))
			})
		},
	}
}

// loadFunc receives the result of each replay.
type loadFunc func(docs []leafdb.Document, corrupt []*leafdb.CorruptRecordError, err error)

// watchLog calls fn with a read-only replay of the log at path, then again each
// time the file changes, until ctx is done.
//
// The parent directory is watched rather than the file, since compaction
// replaces the file by renaming a new one over it.
func watchLog(ctx context.Context, path string, strict bool, fn loadFunc) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = w.Close() }()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	load := func() {
		docs, corrupt, err := leafdb.Load(path, strict)
		fn(docs, corrupt, err)
	}
	load()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				load()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.WarnContext(ctx, "Error watching log", "path", path, "err", err)
		}
	}
}
