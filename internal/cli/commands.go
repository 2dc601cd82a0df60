package cli

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/maruel/leafdb"
	"github.com/maruel/leafdb/internal/config"
)

// NewOpenCommand creates the open command.
func NewOpenCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "open",
		Short: "Replay and compact the log, printing corrupt lines",
		Long: `Replay the log file, drop corrupt lines and deleted documents, and rewrite
the file with the surviving documents. Corrupt lines are printed as JSON
objects. In strict mode the first corrupt line is an error and the file is left
untouched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.newStore()
			if err != nil {
				return err
			}
			corrupt, err := s.Open()
			if werr := writeCorrupt(cmd.OutOrStdout(), corrupt); werr != nil {
				err = errors.Join(err, werr)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%d documents, %d corrupt lines\n", s.Len(), len(corrupt))
			return s.Close()
		},
	}
}

func writeCorrupt(w io.Writer, corrupt []*leafdb.CorruptRecordError) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, c := range corrupt {
		v := struct {
			Line  int    `json:"line"`
			Raw   string `json:"raw"`
			Error string `json:"error"`
		}{c.Line, c.Raw, c.Err.Error()}
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to write corrupt record: %w", err)
		}
	}
	return nil
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Print the document with the given identifier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withStore(func(s *leafdb.Store) error {
				doc := s.Get(args[0])
				if doc == nil {
					return fmt.Errorf("%w: %q", leafdb.ErrNotFound, args[0])
				}
				return writeDocs(cmd.OutOrStdout(), doc)
			})
		},
	}
}

// NewFindCommand creates the find command.
func NewFindCommand(rootOpts *RootOptions) *cobra.Command {
	var fields []string
	cmd := &cobra.Command{
		Use:   "find [query]",
		Short: "Print the documents matching a JSON query",
		Long: `Print the documents matching a JSON query as JSON lines. Without a query,
every document is printed. --fields restricts the output to the given dotted
field paths.`,
		Example: `  leafdb find '{"age": {"$gte": 18}}' --fields _id,address.city`,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := queryArg(args)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("fields") {
				fields = nil
			}
			return rootOpts.withStore(func(s *leafdb.Store) error {
				docs, err := s.Find(q)
				if err != nil {
					return err
				}
				for i, d := range docs {
					if docs[i], err = leafdb.Project(d, fields); err != nil {
						return err
					}
				}
				return writeDocs(cmd.OutOrStdout(), docs...)
			})
		},
	}
	cmd.Flags().StringSliceVar(&fields, "fields", nil, "comma separated field paths to print")
	return cmd
}

func queryArg(args []string) (leafdb.Query, error) {
	if len(args) == 0 {
		return nil, nil
	}
	return parseObject("query", args[0])
}

// NewCountCommand creates the count command.
func NewCountCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "count [query]",
		Short: "Print the number of documents matching a JSON query",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := queryArg(args)
			if err != nil {
				return err
			}
			return rootOpts.withStore(func(s *leafdb.Store) error {
				n, err := s.Count(q)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), n)
				return err
			})
		},
	}
}

// NewInsertCommand creates the insert command.
func NewInsertCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "insert [document...]",
		Short: "Insert JSON documents",
		Long: `Insert the JSON documents given as arguments, or read one document per line
from stdin when there are none. Documents without "_id" get a generated one.
The stored documents are printed as JSON lines.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var drafts []leafdb.Document
			var err error
			if len(args) == 0 {
				drafts, err = readDrafts(cmd.InOrStdin())
			} else {
				for i, a := range args {
					d, err := parseObject(fmt.Sprintf("document %d", i), a)
					if err != nil {
						return err
					}
					drafts = append(drafts, d)
				}
			}
			if err != nil {
				return err
			}
			return rootOpts.withStore(func(s *leafdb.Store) error {
				docs, err := s.InsertMany(drafts)
				if werr := writeDocs(cmd.OutOrStdout(), docs...); werr != nil {
					return errors.Join(err, werr)
				}
				return err
			})
		},
	}
}

func readDrafts(r io.Reader) ([]leafdb.Document, error) {
	var drafts []leafdb.Document
	scanner := bufio.NewScanner(r)
	scanner.Buffer(nil, 64<<20)
	for n := 1; scanner.Scan(); n++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		d, err := parseObject(fmt.Sprintf("line %d", n), line)
		if err != nil {
			return nil, err
		}
		drafts = append(drafts, d)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read stdin: %w", err)
	}
	return drafts, nil
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "update <query> <update>",
		Short:   "Update the documents matching a JSON query",
		Long:    `Apply a replacement document or a modifier object ($set, $add, $push) to every document matching the query. The updated documents are printed as JSON lines.`,
		Example: `  leafdb update '{"_id": "a"}' '{"$add": {"visits": 1}}'`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := parseObject("query", args[0])
			if err != nil {
				return err
			}
			u, err := parseObject("update", args[1])
			if err != nil {
				return err
			}
			return rootOpts.withStore(func(s *leafdb.Store) error {
				docs, err := s.Update(q, u)
				if werr := writeDocs(cmd.OutOrStdout(), docs...); werr != nil {
					return errors.Join(err, werr)
				}
				return err
			})
		},
	}
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <query>",
		Short: "Delete the documents matching a JSON query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := parseObject("query", args[0])
			if err != nil {
				return err
			}
			return rootOpts.withStore(func(s *leafdb.Store) error {
				n, err := s.Delete(q)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), n)
				return err
			})
		},
	}
}

// NewDropCommand creates the drop command.
func NewDropCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "drop",
		Short: "Delete every document and empty the log file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withStore(func(s *leafdb.Store) error {
				return s.Drop()
			})
		},
	}
}

// NewConfigSchemaCommand creates the config-schema command.
func NewConfigSchemaCommand(*RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config-schema",
		Short: "Print the JSON Schema of the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := json.MarshalIndent(config.Schema(), "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal schema: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\n", b)
			return err
		},
	}
}
