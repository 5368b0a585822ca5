package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/runlog/internal/tools"
)

// CallOptions holds flags for the call command.
type CallOptions struct {
	*RootOptions
	Args string
}

// NewCallCommand creates the call command.
func NewCallCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CallOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "call <tool>",
		Short: "Call one query tool",
		Long: `Call one query tool and print its response.

The response always carries a status: "ok" with a result and its metadata,
or "error" with a code and, for invalid parameters, the offending field.

Example:
  runlog call filter_events --args '{"run_id":"...","types":["TradeExecution"]}'
  runlog call list_runs`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return callTool(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Args, "args", "{}", "tool arguments as JSON")

	return cmd
}

func callTool(opts *CallOptions, name string, cmd *cobra.Command) error {
	if !json.Valid([]byte(opts.Args)) {
		return NewExitError(ExitCommandError, "invalid --args JSON")
	}

	a, err := openApp(opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.close()

	resp := a.surface.Call(cmd.Context(), name, json.RawMessage(opts.Args))
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if err := out.JSON(resp); err != nil {
		return WrapExitError(ExitCommandError, "failed to write response", err)
	}
	if resp.Status != tools.StatusOK {
		return NewExitError(ExitFailure, fmt.Sprintf("%s: %s", resp.Error.Code, resp.Error.Message))
	}
	return nil
}
