package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/erpdb/internal/session"
	"github.com/mesh-intelligence/erpdb/internal/suggest"
	"github.com/mesh-intelligence/erpdb/pkg/types"
)

func suggestFlags(cmd *cobra.Command, opts *session.SuggestOptions) {
	cmd.Flags().StringVar(&opts.Prompt, "prompt", "", "prompt template name (default: selected prompt)")
	cmd.Flags().StringVar(&opts.Model, "model", "", "model name (default: selected model, then provider.model)")
	cmd.Flags().IntVar(&opts.Count, "count", 0, "number of candidates (default: provider.candidates)")
}

func newSuggestCmd(a *app) *cobra.Command {
	var opts session.SuggestOptions
	var apply bool
	cmd := &cobra.Command{
		Use:   "suggest <id>",
		Short: "Ask the local model for ERP name candidates",
		Long: "Print candidate ERP names for one item. Nothing is staged unless\n" +
			"--apply is given, which stages the first candidate.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *session.Session) error {
				id, err := s.ResolveID(args[0])
				if err != nil {
					return err
				}
				names, err := s.Suggest(ctx, id, a.provider(), opts)
				if err != nil {
					return err
				}
				if apply {
					if err := s.Rename(id, names[0]); err != nil {
						return err
					}
				}
				return a.output(cmd, map[string]any{"identity": id, "candidates": names, "applied": apply}, func(w io.Writer) {
					for i, n := range names {
						fmt.Fprintf(w, "%d. %s\n", i+1, n)
					}
					if apply {
						fmt.Fprintf(w, "staged %s for %s\n", names[0], shortID(id))
					}
				})
			})
		},
	}
	suggestFlags(cmd, &opts)
	cmd.Flags().BoolVar(&apply, "apply", false, "stage the first candidate")
	return cmd
}

func newSuggestBatchCmd(a *app) *cobra.Command {
	var opts session.SuggestOptions
	var all bool
	cmd := &cobra.Command{
		Use:   "suggest-batch [id...]",
		Short: "Stage a suggested ERP name for many items",
		Long: "Run the model over each item in turn and stage its first candidate.\n" +
			"--all selects every item. An interrupt stops the batch after the\n" +
			"current item; names staged so far are kept.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !all {
				return types.Invalid("", "", fmt.Errorf("name at least one item or pass --all"))
			}
			return a.withSession(cmd, func(ctx context.Context, s *session.Session) error {
				var ids []string
				if all {
					for _, r := range s.Store().All() {
						if !s.Ledger().IsDeleted(r.ID) {
							ids = append(ids, r.ID)
						}
					}
				} else {
					var err error
					if ids, err = resolveIDs(s, args); err != nil {
						return err
					}
				}

				interrupt := make(chan os.Signal, 1)
				signal.Notify(interrupt, os.Interrupt)
				defer signal.Stop(interrupt)
				done := make(chan struct{})
				defer close(done)
				go func() {
					select {
					case <-interrupt:
						s.StopBatch()
					case <-done:
					}
				}()

				res, err := s.SuggestBatch(ctx, ids, a.provider(), opts)
				if perr := a.output(cmd, res, func(w io.Writer) {
					fmt.Fprintf(w, "applied %d of %d", res.Applied, res.Total)
					if res.Stopped {
						fmt.Fprint(w, " (stopped)")
					}
					fmt.Fprintln(w)
				}); perr != nil {
					return perr
				}
				return err
			})
		},
	}
	suggestFlags(cmd, &opts)
	cmd.Flags().BoolVar(&all, "all", false, "run over every item")
	return cmd
}

func newSuggestCategoryCmd(a *app) *cobra.Command {
	var apply, ai bool
	var opts session.SuggestOptions
	cmd := &cobra.Command{
		Use:   "suggest-category <id>",
		Short: "Propose a Sub-subcategory for an item from similar items",
		Long: "Propose a placement from items of the same type, then from items with\n" +
			"similar names. With --ai the model is asked when neither applies; its\n" +
			"answer is checked against the hierarchy.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *session.Session) error {
				id, err := s.ResolveID(args[0])
				if err != nil {
					return err
				}
				var gen suggest.Generator
				if ai {
					gen = a.provider()
				}
				sug, ok, err := s.SuggestCategory(ctx, id, gen, opts)
				if err != nil {
					return err
				}
				if !ok {
					return a.output(cmd, map[string]any{"identity": id, "found": false}, func(w io.Writer) {
						fmt.Fprintln(w, "no suggestion")
					})
				}
				if apply {
					if err := s.Move(id, sug.Path); err != nil {
						return err
					}
				}
				return a.output(cmd, map[string]any{"identity": id, "found": true, "suggestion": sug, "applied": apply}, func(w io.Writer) {
					fmt.Fprintf(w, "%s (%s, %.0f%%)\n", sug.Path, sug.Source, sug.Confidence*100)
				})
			})
		},
	}
	cmd.Flags().BoolVar(&apply, "apply", false, "stage the move")
	cmd.Flags().BoolVar(&ai, "ai", false, "ask the model when no similar item exists")
	cmd.Flags().StringVar(&opts.Model, "model", "", "model name (default: selected model, then provider.model)")
	return cmd
}

func newModelsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the models offered by the local provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			models, err := a.provider().Models(cmd.Context())
			if err != nil {
				return err
			}
			return a.output(cmd, models, func(w io.Writer) {
				for _, m := range models {
					fmt.Fprintln(w, m)
				}
			})
		},
	}
}
