package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/corpusprep/internal/docker"
	"github.com/shinji-kodama/corpusprep/internal/model"
)

// pruneFlags holds the flag values for the prune command.
type pruneFlags struct {
	// dryRun lists leftover sandboxes without removing them.
	dryRun bool
}

// newPruneCommand creates the "prune" cobra command.
func newPruneCommand(a *app) *cobra.Command {
	flags := &pruneFlags{}

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove sandbox containers left behind by interrupted runs",
		Long: `Find every container created by a sandboxed run, using Docker labels
only, and force-remove it.

A normal run removes its container when it finishes; containers remain only
when the process was killed.

Examples:
  corpusprep prune --dry-run
  corpusprep prune`,

		Args: cobra.NoArgs,

		RunE: a.wrap(func(cmd *cobra.Command) error {
			return runPrune(cmd.Context(), a, flags)
		}),
	}

	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "List leftover sandboxes without removing them")

	return cmd
}

func runPrune(ctx context.Context, a *app, flags *pruneFlags) error {
	cli, err := docker.NewClient()
	if err != nil {
		return err
	}
	defer func() { _ = cli.Close() }()

	if err := cli.Ping(ctx); err != nil {
		return err
	}

	sandboxes, err := docker.ListSandboxes(ctx, cli)
	if err != nil {
		return err
	}
	a.logger.Debug("found sandbox containers", "count", len(sandboxes))

	removed := make([]model.SandboxInfo, 0, len(sandboxes))
	if !flags.dryRun {
		for _, sb := range sandboxes {
			if err := docker.RemoveContainer(ctx, cli, sb.ContainerID); err != nil {
				// Report what was removed before the failure.
				printPruneResult(a, removed, false)
				return err
			}
			a.logger.Info("removed sandbox container", "container", sb.ContainerName, "run_id", sb.RunID)
			removed = append(removed, sb)
		}
	} else {
		removed = sandboxes
	}

	printPruneResult(a, removed, flags.dryRun)
	return nil
}

func printPruneResult(a *app, sandboxes []model.SandboxInfo, dryRun bool) {
	if a.flags.jsonOutput {
		printJSON(a.stdout, map[string]any{
			"dryRun":    dryRun,
			"sandboxes": sandboxes,
		})
		return
	}
	printSandboxTable(a.stdout, sandboxes, dryRun)
}

func printSandboxTable(w io.Writer, sandboxes []model.SandboxInfo, dryRun bool) {
	if len(sandboxes) == 0 {
		fmt.Fprintln(w, "No sandbox containers found.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tRUN ID\tSTATE\tCREATED\tWORKDIR")
	for _, sb := range sandboxes {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			sb.ContainerName, sb.RunID, sb.State, sb.CreatedAt.Local().Format(time.DateTime), sb.WorkDir)
	}
	_ = tw.Flush()

	verb := "Removed"
	if dryRun {
		verb = "Would remove"
	}
	fmt.Fprintf(w, "%s %d sandbox container(s).\n", verb, len(sandboxes))
}
