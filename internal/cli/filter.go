package cli

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/erpdb/internal/session"
	"github.com/mesh-intelligence/erpdb/pkg/types"
)

func newFilterCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "filter",
		Short: "Manage the saved column filters",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "set <column> <contains|equals|starts_with|ends_with> <value>",
			Short: "Filter the tree on one column",
			Args:  cobra.ExactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withSession(cmd, func(ctx context.Context, s *session.Session) error {
					col, value := args[0], args[2]
					op := types.FilterOp(args[1]).Normalize()
					if !op.Valid() {
						return types.Invalid("", col, fmt.Errorf("%w: %q", types.ErrInvalidFilter, args[1]))
					}
					if !types.IsPathColumn(col) && !slices.Contains(s.Store().AllColumns(), col) {
						return types.Invalid("", col, types.ErrInvalidField)
					}
					v := &s.Settings().View
					if v.ActiveFilters == nil {
						v.ActiveFilters = make(map[string]types.Predicate)
					}
					v.ActiveFilters[col] = types.Predicate{Op: op, Value: value}
					return s.SaveView()
				})
			},
		},
		&cobra.Command{
			Use:   "clear [column...]",
			Short: "Remove filters; all of them when no column is named",
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withSession(cmd, func(ctx context.Context, s *session.Session) error {
					v := &s.Settings().View
					if len(args) == 0 {
						v.ActiveFilters = nil
					}
					for _, col := range args {
						delete(v.ActiveFilters, col)
					}
					return s.SaveView()
				})
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List the active filters",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withSession(cmd, func(ctx context.Context, s *session.Session) error {
					filters := s.Settings().View.Filters()
					return a.output(cmd, filters, func(w io.Writer) {
						for _, col := range slices.Sorted(maps.Keys(filters)) {
							p := filters[col]
							fmt.Fprintf(w, "%s %s %q\n", col, p.Op, p.Value)
						}
					})
				})
			},
		},
	)
	return cmd
}

func newViewCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "view",
		Short: "Manage the saved view settings",
	}

	var model, prompt string
	var params []string
	save := &cobra.Command{
		Use:   "save",
		Short: "Write the view settings, optionally selecting a model and prompt",
		Long: "Write the settings file. --model and --prompt set the defaults used by\n" +
			"the suggest commands; --param key=value stores a generation option for\n" +
			"the selected model.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *session.Session) error {
				ai := &s.Settings().View.AI
				if model != "" {
					ai.SelectedModel = model
				}
				if prompt != "" {
					if !s.Prompts().Exists(prompt) {
						return types.Invalid("", "", fmt.Errorf("unknown prompt %q", prompt))
					}
					ai.SelectedPrompt = prompt
				}
				if len(params) > 0 {
					target := ai.SelectedModel
					if target == "" {
						target = a.cfg.Provider.Model
					}
					parsed, err := parseParams(params)
					if err != nil {
						return err
					}
					if ai.ModelParameters == nil {
						ai.ModelParameters = make(map[string]map[string]any)
					}
					if ai.ModelParameters[target] == nil {
						ai.ModelParameters[target] = make(map[string]any)
					}
					maps.Copy(ai.ModelParameters[target], parsed)
				}
				return s.SaveView()
			})
		},
	}
	save.Flags().StringVar(&model, "model", "", "model used by suggest")
	save.Flags().StringVar(&prompt, "prompt", "", "prompt template used by suggest")
	save.Flags().StringArrayVar(&params, "param", nil, "generation option key=value (repeatable)")
	cmd.AddCommand(save)
	return cmd
}

// parseParams turns key=value pairs into generation options. Numbers and
// booleans keep their type.
func parseParams(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, types.Invalid("", "", fmt.Errorf("parameter %q is not key=value", p))
		}
		v = strings.TrimSpace(v)
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			out[k] = f
		} else if b, err := strconv.ParseBool(v); err == nil {
			out[k] = b
		} else {
			out[k] = v
		}
	}
	return out, nil
}
