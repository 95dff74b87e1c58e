package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/erpdb/internal/session"
	"github.com/mesh-intelligence/erpdb/pkg/types"
)

// staged wraps a single-item edit command: it resolves the identity, applies
// fn and reports the number of pending edits.
func (a *app) staged(fn func(ctx context.Context, s *session.Session, id string, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return a.withSession(cmd, func(ctx context.Context, s *session.Session) error {
			id, err := s.ResolveID(args[0])
			if err != nil {
				return err
			}
			if err := fn(ctx, s, id, args[1:]); err != nil {
				return err
			}
			n := s.Ledger().Len()
			return a.output(cmd, map[string]any{"identity": id, "pending": n}, func(w io.Writer) {
				fmt.Fprintf(w, "%s staged (%d pending)\n", shortID(id), n)
			})
		})
	}
}

func newSetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "set <id> <field> <value>",
		Short: "Stage a new value for one field",
		Long: "Stage a new value for one field. A field holding a number or boolean\n" +
			"keeps its type when the value parses as one; quote the value to store text.",
		Args: cobra.ExactArgs(3),
		RunE: a.staged(func(ctx context.Context, s *session.Session, id string, args []string) error {
			if args[0] == types.ColumnERPName {
				return s.Rename(id, args[1])
			}
			return s.SetText(id, args[0], args[1])
		}),
	}
}

func newNameCmd(a *app) *cobra.Command {
	var hyphenate bool
	cmd := &cobra.Command{
		Use:   "name <id> <Type_PartNumber_Details>",
		Short: "Stage a new ERP name",
		Args:  cobra.ExactArgs(2),
		RunE: a.staged(func(ctx context.Context, s *session.Session, id string, args []string) error {
			name := types.ParseERPName(args[0])
			if hyphenate {
				name = name.HyphenateUnderscores()
			}
			return s.SetField(id, types.ColumnERPName, name)
		}),
	}
	cmd.Flags().BoolVar(&hyphenate, "hyphenate", false, "replace underscores inside the details part with hyphens")
	return cmd
}

func newMoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "move <id> <category> <subcategory> <sub-subcategory>",
		Short: "Stage a move to another Sub-subcategory",
		Args:  cobra.ExactArgs(4),
		RunE: a.staged(func(ctx context.Context, s *session.Session, id string, args []string) error {
			return s.Move(id, parsePath(args))
		}),
	}
}

func newImageCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "image <id> <path-or-url>",
		Short: "Fetch, normalize and stage an item image",
		Args:  cobra.ExactArgs(2),
		RunE: a.staged(func(ctx context.Context, s *session.Session, id string, args []string) error {
			_, err := s.SetImage(ctx, id, args[0])
			return err
		}),
	}
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Stage the removal of an item",
		Args:  cobra.ExactArgs(1),
		RunE: a.staged(func(ctx context.Context, s *session.Session, id string, args []string) error {
			return s.Delete(id)
		}),
	}
}

func newResetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <id> [field]",
		Short: "Discard the pending edits of an item or of one of its fields",
		Args:  cobra.RangeArgs(1, 2),
		RunE: a.staged(func(ctx context.Context, s *session.Session, id string, args []string) error {
			field := ""
			if len(args) > 0 {
				field = args[0]
			}
			return s.Reset(id, field)
		}),
	}
}

func newAddCmd(a *app) *cobra.Command {
	var name string
	var category []string
	var fields []string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Stage a new item",
		Long: "Stage a new item. --category takes the three path components\n" +
			"separated by commas; an item without a category stays unplaced.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(category) != 0 && len(category) != 3 {
				return types.Invalid("", "", fmt.Errorf("--category needs three components, got %d", len(category)))
			}
			extra := make(map[string]string, len(fields))
			for _, f := range fields {
				k, v, ok := strings.Cut(f, "=")
				if !ok {
					return types.Invalid("", f, types.ErrInvalidField)
				}
				extra[k] = v
			}
			draft, err := types.NewDraft(parsePath(category), types.ParseERPName(name), extra)
			if err != nil {
				return types.Invalid("", "", err)
			}
			return a.withSession(cmd, func(ctx context.Context, s *session.Session) error {
				id, err := s.Add(draft)
				if err != nil {
					return err
				}
				return a.output(cmd, map[string]any{"identity": id}, func(w io.Writer) {
					fmt.Fprintln(w, id)
				})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "ERP name as Type_PartNumber_Details")
	cmd.Flags().StringSliceVar(&category, "category", nil, "category,subcategory,sub-subcategory")
	cmd.Flags().StringArrayVar(&fields, "field", nil, "extra column as Column=value (repeatable)")
	return cmd
}

func newCleanCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Stage bulk cleanups of persisted values",
	}
	run := func(op string, prefix *string) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *session.Session) error {
				p := ""
				if prefix != nil {
					p = *prefix
				}
				n, err := s.Clean(op, p)
				if err != nil {
					return err
				}
				return a.output(cmd, map[string]any{"staged": n}, func(w io.Writer) {
					fmt.Fprintf(w, "%d value(s) staged\n", n)
				})
			})
		}
	}

	var prefix string
	prefixCmd := &cobra.Command{
		Use:   "prefix",
		Short: "Strip a leading word such as a supplier code from every value",
		Args:  cobra.NoArgs,
		RunE:  run(session.CleanPrefix, &prefix),
	}
	prefixCmd.Flags().StringVar(&prefix, "prefix", session.DefaultCleanPrefix, "prefix to remove")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "multiline",
			Short: "Collapse line breaks inside values to single spaces",
			Args:  cobra.NoArgs,
			RunE:  run(session.CleanMultiline, nil),
		},
		prefixCmd,
	)
	return cmd
}
