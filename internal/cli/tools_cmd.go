package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// NewToolsCommand creates the tools command.
func NewToolsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the query tools and their parameter schemas",
		Long: `List every query tool an agent may call, with its description.
With --format json the full JSON Schema of each tool is included.

Example:
  runlog tools --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.close()

			defs := a.surface.Definitions()
			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			return out.Success(defs, func(w io.Writer) {
				for _, d := range defs {
					fmt.Fprintf(w, "%s\n  %s\n", d.Name, d.Description)
				}
			})
		},
	}
}
