package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/shinji-kodama/corpusprep/internal/bootstrap"
	"github.com/shinji-kodama/corpusprep/internal/model"
)

// planFlags holds the flag values for the plan command.
type planFlags struct {
	format string // --format: text, yaml or json
}

// newPlanCommand creates the "plan" cobra command. It prints the steps and
// commands a run would execute without executing anything.
func newPlanCommand(a *app) *cobra.Command {
	flags := &planFlags{}

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the bootstrap steps without running them",
		Long: `Print the ordered bootstrap steps and the commands each would run,
resolved against the current configuration.

Examples:
  corpusprep plan
  corpusprep plan --sandbox
  corpusprep plan --format yaml`,

		Args: cobra.NoArgs,

		RunE: a.wrap(func(cmd *cobra.Command) error {
			return runPlan(a, flags)
		}),
	}

	cmd.Flags().StringVar(&flags.format, "format", "text", "Output format: text, yaml, json")

	return cmd
}

func runPlan(a *app, flags *planFlags) error {
	format := strings.ToLower(flags.format)
	if a.flags.jsonOutput {
		format = "json"
	}

	steps, err := bootstrap.Plan(a.cfg, a.cfg.Sandbox.Enabled)
	if err != nil {
		return model.WrapCLIError(model.ExitConfigError, "invalid configuration", err)
	}

	switch format {
	case "text":
		printPlanText(a.stdout, steps)
	case "json":
		printJSON(a.stdout, map[string]any{"steps": steps})
	case "yaml":
		enc := yaml.NewEncoder(a.stdout)
		enc.SetIndent(2)
		if err := enc.Encode(map[string]any{"steps": steps}); err != nil {
			return model.WrapCLIError(model.ExitGeneralError, "failed to encode plan", err)
		}
		if err := enc.Close(); err != nil {
			return model.WrapCLIError(model.ExitGeneralError, "failed to encode plan", err)
		}
	default:
		return model.NewCLIError(model.ExitGeneralError,
			fmt.Sprintf("invalid format %q: valid values are text, yaml, json", flags.format))
	}
	return nil
}

func printPlanText(w io.Writer, steps []bootstrap.PlannedStep) {
	for i, s := range steps {
		fmt.Fprintf(w, "%d. %s\n", i+1, s.Name)
		fmt.Fprintf(w, "   %s\n", s.Description)
		for _, c := range s.Commands {
			fmt.Fprintf(w, "   $ %s\n", c)
		}
	}
}
