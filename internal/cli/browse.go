package cli

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/erpdb/internal/session"
	"github.com/mesh-intelligence/erpdb/pkg/types"
)

// shortID is the identity prefix shown in listings; any unique prefix is
// accepted back by the commands.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func newTreeCmd(a *app) *cobra.Command {
	var showAll bool
	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Print the category tree with its items",
		Long: "Print the hierarchy and the items under the saved column and filter\n" +
			"settings, including pending edits. Empty categories are hidden unless --all.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *session.Session) error {
				nodes, err := s.Project(showAll)
				if err != nil {
					return err
				}
				if a.flags.jsonMode {
					return printJSON(cmd.OutOrStdout(), map[string]any{
						"columns": s.Columns(),
						"nodes":   nodes,
					})
				}
				w := cmd.OutOrStdout()
				for _, n := range nodes {
					writeTree(w, n, 0)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&showAll, "all", false, "include categories without matching items")
	return cmd
}

func writeTree(w io.Writer, n *types.TreeNode, depth int) {
	indent := strings.Repeat("  ", depth)
	if n.Kind != types.NodeItem {
		fmt.Fprintf(w, "%s%s\n", indent, n.Name)
		for _, c := range n.Children {
			writeTree(w, c, depth+1)
		}
		return
	}
	cells := make([]string, 0, len(n.Fields))
	for _, f := range n.Fields {
		if types.IsPathColumn(f.Column) || f.Value == "" {
			continue
		}
		cells = append(cells, f.Value)
	}
	fmt.Fprintf(w, "%s%s  %s\n", indent, shortID(n.Identity), strings.Join(cells, " | "))
}

func newShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Display one item with its pending edits applied",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *session.Session) error {
				id, err := s.ResolveID(args[0])
				if err != nil {
					return err
				}
				rec, err := s.Ledger().ResolvedRecord(id)
				if err != nil {
					return err
				}
				pending := s.Ledger().Pending(id)
				v := map[string]any{
					"identity": id,
					"record":   rec,
					"pending":  pending,
					"deleted":  s.Ledger().IsDeleted(id),
				}
				return a.output(cmd, v, func(w io.Writer) {
					fmt.Fprintf(w, "ID:  %s\n", id)
					if s.Ledger().IsDeleted(id) {
						fmt.Fprintln(w, "(staged for deletion)")
					}
					width := 0
					for _, c := range rec.Columns {
						width = max(width, len(c))
					}
					for _, c := range rec.Columns {
						fmt.Fprintf(w, "%-*s  %s\n", width, c, rec.Text(c))
					}
					if len(pending) > 0 {
						fmt.Fprintf(w, "\n%d pending edit(s)\n", len(pending))
					}
				})
			})
		},
	}
}

func newColumnsCmd(a *app) *cobra.Command {
	var show, hide, order []string
	cmd := &cobra.Command{
		Use:   "columns",
		Short: "List columns or change their visibility and order",
		Long: "Without flags, list every column and whether it is displayed.\n" +
			"--show and --hide change visibility; --order sets the display order.\n" +
			"Changes are written to the settings file.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *session.Session) error {
				all := s.Store().AllColumns()
				v := &s.Settings().View
				changed := len(show) > 0 || len(hide) > 0 || cmd.Flags().Changed("order")
				if changed {
					for _, c := range slices.Concat(show, hide, order) {
						if !slices.Contains(all, c) {
							return types.Invalid("", c, types.ErrInvalidField)
						}
					}
					visible := v.Columns(all)
					for _, c := range show {
						if !slices.Contains(visible, c) {
							visible = append(visible, c)
						}
					}
					visible = slices.DeleteFunc(visible, func(c string) bool { return slices.Contains(hide, c) })
					v.VisibleColumns = visible
					if cmd.Flags().Changed("order") {
						v.ColumnOrder = order
					}
					if err := s.SaveView(); err != nil {
						return err
					}
				}
				displayed := v.Columns(all)
				return a.output(cmd, map[string]any{"columns": all, "visible": displayed}, func(w io.Writer) {
					for _, c := range displayed {
						fmt.Fprintf(w, "* %s\n", c)
					}
					for _, c := range all {
						if !slices.Contains(displayed, c) {
							fmt.Fprintf(w, "  %s\n", c)
						}
					}
				})
			})
		},
	}
	cmd.Flags().StringSliceVar(&show, "show", nil, "columns to display")
	cmd.Flags().StringSliceVar(&hide, "hide", nil, "columns to hide")
	cmd.Flags().StringSliceVar(&order, "order", nil, "display order (unlisted columns follow)")
	return cmd
}

func newCategoriesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "categories [category [subcategory]]",
		Short: "List the children of a hierarchy node",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *session.Session) error {
				if !s.Taxonomy().HasPrefix(args...) {
					return types.Invalid("", "", fmt.Errorf("%s: %w", strings.Join(args, " / "), types.ErrUnknownPath))
				}
				names := s.Taxonomy().ChildrenOf(args...)
				return a.output(cmd, names, func(w io.Writer) {
					for _, n := range names {
						fmt.Fprintln(w, n)
					}
				})
			})
		},
	}
}
