package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// newVersionCommand creates the "version" cobra command. It needs no
// configuration, so it is not wrapped by app.setup.
func newVersionCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			if a.flags.jsonOutput {
				printJSON(out, map[string]string{
					"version": Version,
					"commit":  Commit,
					"date":    Date,
					"go":      runtime.Version(),
				})
				return nil
			}
			fmt.Fprintf(out, "corpusprep %s\n", versionString())
			return nil
		},
	}
}
