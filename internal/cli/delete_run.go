package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/runlog/internal/store"
)

// NewDeleteRunCommand creates the delete-run command.
func NewDeleteRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-run <run-id>",
		Short: "Delete a run and all of its events",
		Long: `Delete a run and, with it, every event recorded for it.

This is an administrative operation; it is not exposed as a query tool.

Example:
  runlog delete-run 0190f8a4-0000-7000-8000-000000000001 --db ./runlog.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.close()

			runID := args[0]
			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			removed, err := a.store.DeleteRun(cmd.Context(), runID)
			if errors.Is(err, store.ErrRunNotFound) {
				if werr := out.Error("not_found", err.Error()); werr != nil {
					return werr
				}
				return WrapExitError(ExitFailure, "delete run", err)
			}
			if err != nil {
				return WrapExitError(ExitCommandError, "delete run", err)
			}

			data := map[string]any{"run_id": runID, "events_removed": removed}
			return out.Success(data, func(w io.Writer) {
				fmt.Fprintf(w, "Deleted run %s (%d events)\n", runID, removed)
			})
		},
	}
}
