package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/erpdb/internal/backup"
	"github.com/mesh-intelligence/erpdb/internal/export"
	"github.com/mesh-intelligence/erpdb/internal/session"
	"github.com/mesh-intelligence/erpdb/pkg/types"
)

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List the pending edits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *session.Session) error {
				entries := s.Ledger().Entries()
				return a.output(cmd, entries, func(w io.Writer) {
					if len(entries) == 0 {
						fmt.Fprintln(w, "no pending edits")
						return
					}
					for _, e := range entries {
						fmt.Fprintf(w, "%-13s %s  %s\n", e.Kind, shortID(e.Identity), describeEntry(e))
					}
				})
			})
		},
	}
}

func describeEntry(e types.Entry) string {
	switch e.Kind {
	case types.KindFieldUpdate:
		return fmt.Sprintf("%s = %q", e.Field, e.Text())
	case types.KindReassignment:
		if e.Path != nil {
			return "-> " + e.Path.String()
		}
	case types.KindImageUpdate:
		return e.Text()
	case types.KindCreation:
		if e.Record != nil {
			return e.Record.ERPName().FullName
		}
	}
	return ""
}

func newSaveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "save",
		Short: "Commit the pending edits to the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts []session.Option
			if a.cfg.Backup.Bucket != "" {
				client, err := backup.NewClient(cmd.Context(), a.cfg.Backup)
				if err != nil {
					return system(err)
				}
				opts = append(opts, session.WithCommitHook(backup.New(client, a.cfg.Backup, a.logger).Hook()))
			}
			return a.withSession(cmd, func(ctx context.Context, s *session.Session) error {
				if !s.Ledger().IsDirty() {
					return a.output(cmd, map[string]any{"entries": 0}, func(w io.Writer) {
						fmt.Fprintln(w, "nothing to save")
					})
				}
				res, err := s.Commit(ctx)
				if err != nil {
					return err
				}
				for _, w := range res.Warnings {
					a.logger.Warn("after-commit step failed", zap.Error(w))
				}
				return a.output(cmd, res, func(w io.Writer) {
					fmt.Fprintf(w, "saved %d edit(s): %d updated, %d created, %d deleted; %d records in %s\n",
						res.Entries, res.Updated, res.Created, res.Deleted, res.Records, durationString(res.Duration))
					for _, warn := range res.Warnings {
						fmt.Fprintf(w, "warning: %v\n", warn)
					}
				})
			}, opts...)
		},
	}
}

func newReloadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Discard every pending edit and read the database again",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// The journal may be stale, so it goes before the session opens.
			if err := session.DiscardJournal(a.cfg.Database); err != nil {
				return system(err)
			}
			return a.withSession(cmd, func(ctx context.Context, s *session.Session) error {
				n := s.Store().Len()
				return a.output(cmd, map[string]any{"records": n}, func(w io.Writer) {
					fmt.Fprintf(w, "reloaded %d records\n", n)
				})
			})
		},
	}
}

func newExportCmd(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "export <path>",
		Short: "Write the committed database as csv, xlsx, sqlite or json",
		Long: "Write the committed database to path. The format defaults to the\n" +
			"file extension. Pending edits are not exported.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			name := format
			if name == "" {
				name = strings.TrimPrefix(filepath.Ext(path), ".")
			}
			f, err := export.ParseFormat(name)
			if err != nil {
				return err
			}
			return a.withSession(cmd, func(ctx context.Context, s *session.Session) error {
				if err := s.Export(ctx, f, path); err != nil {
					return err
				}
				n := s.Store().Len()
				return a.output(cmd, map[string]any{"path": path, "format": f, "records": n}, func(w io.Writer) {
					fmt.Fprintf(w, "exported %d records to %s\n", n, path)
				})
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "", fmt.Sprintf("output format %v", export.Formats))
	return cmd
}

func newImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.xlsx>",
		Short: "Stage the rows of a spreadsheet as new items",
		Long: "Read the first sheet of an xlsx workbook and stage each row as a new\n" +
			"item. The header row names the columns. Rows that fail validation are\n" +
			"skipped and reported. Run save to commit.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *session.Session) error {
				n, err := s.ImportXLSX(args[0])
				if perr := a.output(cmd, map[string]any{"path": args[0], "staged": n}, func(w io.Writer) {
					fmt.Fprintf(w, "staged %d item(s) from %s\n", n, args[0])
				}); perr != nil {
					return perr
				}
				return err
			})
		},
	}
}
