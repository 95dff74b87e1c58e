// Package cli implements the erpdb command-line interface.
//
// Each invocation opens the session, runs one command and closes it again.
// Pending edits survive between invocations in the session journal, so
// "erpdb set" followed by "erpdb save" commits the staged value.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/erpdb/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// rootFlags holds global flag values accessible to all subcommands.
type rootFlags struct {
	configDir string
	dataDir   string
	jsonMode  bool
}

// app carries the state shared by the commands of one invocation.
type app struct {
	flags  rootFlags
	cfg    types.Config
	logger *zap.Logger
}

// NewRootCmd creates the top-level "erpdb" command with global flags and all
// subcommands registered.
func NewRootCmd() *cobra.Command {
	a := &app{logger: zap.NewNop()}
	root := &cobra.Command{
		Use:   "erpdb",
		Short: "Edit a hierarchical parts database",
		Long: "erpdb browses and edits a JSON parts database organized by a\n" +
			"three-level category hierarchy. Edits are staged and written by save.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return a.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.logger.Sync()
		},
	}

	root.PersistentFlags().StringVar(&a.flags.configDir, "config-dir", "", "configuration directory (default: platform config dir)")
	root.PersistentFlags().StringVar(&a.flags.dataDir, "data-dir", "", "data directory (default: current directory)")
	root.PersistentFlags().BoolVar(&a.flags.jsonMode, "json", false, "output as JSON")

	root.AddCommand(
		newVersionCmd(),
		newTreeCmd(a),
		newShowCmd(a),
		newColumnsCmd(a),
		newCategoriesCmd(a),
		newFilterCmd(a),
		newViewCmd(a),
		newSetCmd(a),
		newNameCmd(a),
		newMoveCmd(a),
		newImageCmd(a),
		newDeleteCmd(a),
		newAddCmd(a),
		newResetCmd(a),
		newStatusCmd(a),
		newSaveCmd(a),
		newReloadCmd(a),
		newExportCmd(a),
		newImportCmd(a),
		newCleanCmd(a),
		newSuggestCmd(a),
		newSuggestBatchCmd(a),
		newSuggestCategoryCmd(a),
		newModelsCmd(a),
		newPromptsCmd(a),
	)
	return root
}

// Execute runs the root command and exits with the appropriate code.
func Execute() {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		report(os.Stderr, err)
		os.Exit(exitCode(err))
	}
	os.Exit(exitSuccess)
}

// sysError marks failures of the environment rather than of the input.
type sysError struct{ err error }

func (e *sysError) Error() string { return e.err.Error() }
func (e *sysError) Unwrap() error { return e.err }

func system(err error) error {
	if err == nil {
		return nil
	}
	return &sysError{err: err}
}

// exitCode maps an error onto the process exit status. Commit and provider
// failures are system errors; bad input, unreadable documents and usage
// mistakes are user errors.
func exitCode(err error) int {
	var se *sysError
	switch {
	case err == nil:
		return exitSuccess
	case errors.As(err, &se), errors.Is(err, types.ErrCommit), errors.Is(err, types.ErrProvider):
		return exitSysError
	default:
		return exitUserError
	}
}

func report(w io.Writer, err error) {
	fmt.Fprintln(w, "erpdb:", err)
}
