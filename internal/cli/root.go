// Package cli implements the leafdb command line.
package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/maruel/leafdb"
	"github.com/maruel/leafdb/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Dir        string
	Name       string
	Strict     bool
	LogLevel   string

	// Level, when set, follows the resolved log level.
	Level *slog.LevelVar

	cfg *config.Config
}

// NewRootCommand creates the root command. level may be nil.
func NewRootCommand(level *slog.LevelVar) *cobra.Command {
	opts := &RootOptions{Level: level}
	def := config.Default()

	cmd := &cobra.Command{
		Use:   "leafdb",
		Short: "Inspect and edit a leafdb document store",
		Long: `leafdb manages an embedded JSON document store backed by an append-only
JSONL log file. Each command opens the store, which replays and compacts the
log, runs, then closes it.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.resolve(cmd)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "YAML configuration file")
	cmd.PersistentFlags().StringVar(&opts.Dir, "dir", def.Dir, "directory holding the log file")
	cmd.PersistentFlags().StringVar(&opts.Name, "name", def.Name, "store name")
	cmd.PersistentFlags().BoolVar(&opts.Strict, "strict", def.Strict, "fail on corrupt log lines and invalid batch documents")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", def.LogLevel, "log level (debug, info, warn, error)")

	cmd.AddCommand(NewOpenCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewFindCommand(opts))
	cmd.AddCommand(NewCountCommand(opts))
	cmd.AddCommand(NewInsertCommand(opts))
	cmd.AddCommand(NewUpdateCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewDropCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewConfigSchemaCommand(opts))

	return cmd
}

// resolve loads the configuration file, then applies the flags explicitly set
// on the command line over it.
func (o *RootOptions) resolve(cmd *cobra.Command) error {
	cfg := config.Default()
	if o.ConfigPath != "" {
		var err error
		if cfg, err = config.Load(o.ConfigPath); err != nil {
			return err
		}
	}
	flags := cmd.Flags()
	if flags.Changed("dir") {
		cfg.Dir = o.Dir
	}
	if flags.Changed("name") {
		cfg.Name = o.Name
	}
	if flags.Changed("strict") {
		cfg.Strict = o.Strict
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = o.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if o.Level != nil {
		l, _ := cfg.Level()
		o.Level.Set(l)
	}
	o.cfg = cfg
	return nil
}

// newStore returns the configured store without opening it.
func (o *RootOptions) newStore() (*leafdb.Store, error) {
	return leafdb.New(&leafdb.Options{
		Dir:    o.cfg.Dir,
		Name:   o.cfg.Name,
		Strict: o.cfg.Strict,
		Logger: slog.Default(),
	})
}

// withStore opens the store, runs fn and closes the store.
func (o *RootOptions) withStore(fn func(s *leafdb.Store) error) error {
	s, err := o.newStore()
	if err != nil {
		return err
	}
	if _, err := s.Open(); err != nil {
		return err
	}
	if err := fn(s); err != nil {
		_ = s.Close()
		return err
	}
	return s.Close()
}
