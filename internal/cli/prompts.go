package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/erpdb/internal/settings"
)

// newPromptsCmd manages prompts.json directly; it does not need the database.
func newPromptsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prompts",
		Short: "Manage the prompt template library",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List the prompt templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := settings.LoadLibrary(a.cfg.Prompts)
			if err != nil {
				return err
			}
			all := make(map[string]settings.Prompt)
			for _, n := range lib.Names() {
				all[n], _ = lib.Get(n)
			}
			return a.output(cmd, all, func(w io.Writer) {
				for _, n := range lib.Names() {
					p := all[n]
					fmt.Fprintf(w, "%s\t%s\n", n, p.Description)
				}
			})
		},
	}

	var description string
	save := &cobra.Command{
		Use:   "save <name> <template>",
		Short: "Add or replace a prompt template",
		Long: "Add or replace a prompt. {Column} placeholders in the template are\n" +
			"replaced with the item's values, e.g. {Manufacturer}.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := settings.LoadLibrary(a.cfg.Prompts)
			if err != nil {
				return err
			}
			return lib.Save(args[0], description, args[1])
		},
	}
	save.Flags().StringVar(&description, "description", "", "short description")

	del := &cobra.Command{
		Use:   "delete <name>",
		Short: "Remove a prompt template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := settings.LoadLibrary(a.cfg.Prompts)
			if err != nil {
				return err
			}
			return lib.Delete(args[0])
		},
	}

	cmd.AddCommand(list, save, del)
	return cmd
}
