package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/shinji-kodama/corpusprep/internal/archive"
	"github.com/shinji-kodama/corpusprep/internal/bootstrap"
	"github.com/shinji-kodama/corpusprep/internal/config"
	"github.com/shinji-kodama/corpusprep/internal/docker"
	"github.com/shinji-kodama/corpusprep/internal/executor"
	"github.com/shinji-kodama/corpusprep/internal/fetch"
	"github.com/shinji-kodama/corpusprep/internal/model"
)

// runFlags holds the flag values for the run command.
type runFlags struct {
	from         string // --from: first step to run
	only         string // --only: the single step to run
	recreateVenv bool   // --recreate-venv: replace an existing venv
	report       string // --report: write the run report to this file
}

// newRunCommand creates the "run" cobra command.
func newRunCommand(a *app) *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the bootstrap sequence (the default command)",
		Long: `Run the bootstrap steps in order, aborting on the first failure.

A failing command's own exit status becomes corpusprep's exit status.
Steps before --from, or other than --only, are reported as skipped.

Examples:
  corpusprep run
  corpusprep run --from fetch-archive
  corpusprep run --only download-model
  corpusprep run --recreate-venv --report run.json
  corpusprep run --sandbox --json`,

		Args: cobra.NoArgs,

		RunE: a.wrap(func(cmd *cobra.Command) error {
			return runBootstrap(cmd.Context(), a, flags)
		}),
	}

	cmd.Flags().StringVar(&flags.from, "from", "", "Start at this step; earlier steps are skipped")
	cmd.Flags().StringVar(&flags.only, "only", "", "Run only this step")
	cmd.Flags().BoolVar(&flags.recreateVenv, "recreate-venv", false, "Remove and recreate an existing virtual environment")
	cmd.Flags().StringVar(&flags.report, "report", "", "Write the JSON run report to this file")

	return cmd
}

// runBootstrap is the main orchestration function for the run command.
func runBootstrap(ctx context.Context, a *app, flags *runFlags) error {
	cfg := a.cfg
	logger := a.logger

	// Step 1: Validate step selection flags.
	var from, only model.StepName
	if flags.from != "" {
		name, err := model.ParseStepName(flags.from)
		if err != nil {
			return model.WrapCLIError(model.ExitGeneralError, "invalid --from", err)
		}
		from = name
	}
	if flags.only != "" {
		name, err := model.ParseStepName(flags.only)
		if err != nil {
			return model.WrapCLIError(model.ExitGeneralError, "invalid --only", err)
		}
		only = name
	}

	runID := uuid.NewString()
	logger = logger.With("run_id", runID)

	workDir, err := cfg.AbsWorkDir()
	if err != nil {
		return model.WrapCLIError(model.ExitConfigError, "failed to resolve work_dir", err)
	}

	// Step 2: Pick where commands run. Subprocess stdout goes to stderr in
	// --json mode so stdout carries only the report.
	childOut := a.stdout
	if a.flags.jsonOutput {
		childOut = a.stderr
	}

	var exec executor.Executor
	if cfg.Sandbox.Enabled {
		sb, closeSandbox, err := openSandbox(ctx, a, cfg, workDir, runID, childOut)
		if err != nil {
			return err
		}
		defer closeSandbox()
		exec = sb
	} else {
		exec = &executor.Host{Stdout: childOut, Stderr: a.stderr, Dir: workDir, Logger: logger}
	}

	// Step 3: Build the step list.
	downloader := fetch.New(&http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}, logger)
	downloader.ProgressInterval = cfg.Dataset.ProgressInterval

	steps, err := bootstrap.Steps(cfg, bootstrap.Deps{
		Exec:         exec,
		Fetcher:      downloader,
		Extractor:    &archive.Extractor{Logger: logger},
		Logger:       logger,
		RecreateVenv: flags.recreateVenv,
		Sandboxed:    cfg.Sandbox.Enabled,
	})
	if err != nil {
		return model.WrapCLIError(model.ExitConfigError, "invalid configuration", err)
	}

	progress := newProgress(a.stderr, steps)
	runner, err := bootstrap.NewRunner(steps, bootstrap.Options{
		From:     from,
		Only:     only,
		RunID:    runID,
		OnStart:  progress.start,
		OnFinish: progress.finish,
		Logger:   logger,
	})
	if err != nil {
		return model.WrapCLIError(model.ExitGeneralError, "invalid step selection", err)
	}

	// Step 4: Run, then report regardless of the outcome.
	report, runErr := runner.Run(ctx)

	if flags.report != "" {
		if err := writeReport(flags.report, report); err != nil {
			logger.Error("failed to write run report", "path", flags.report, "err", err)
		}
	}

	if a.flags.jsonOutput {
		printJSON(a.stdout, report)
	} else {
		progress.summary(report)
	}

	return runErr
}

// openSandbox connects to Docker and starts the sandbox container. The
// returned function removes the container and closes the client.
func openSandbox(ctx context.Context, a *app, cfg *config.Config, workDir, runID string, stdout io.Writer) (*docker.Sandbox, func(), error) {
	cli, err := docker.NewClient()
	if err != nil {
		return nil, nil, err
	}
	if err := cli.Ping(ctx); err != nil {
		_ = cli.Close()
		return nil, nil, err
	}

	sb, err := docker.StartSandbox(ctx, cli, docker.SandboxOptions{
		Image:     cfg.Sandbox.Image,
		HostDir:   workDir,
		MountPath: cfg.Sandbox.Mount,
		RunID:     runID,
		Pull:      cfg.Sandbox.Pull,
		Stdout:    stdout,
		Stderr:    a.stderr,
		Logger:    a.logger,
	})
	if err != nil {
		_ = cli.Close()
		return nil, nil, err
	}

	return sb, func() {
		if err := sb.Close(); err != nil {
			a.logger.Warn("failed to remove sandbox container; run `corpusprep prune`", "container", sb.Name(), "err", err)
		}
		_ = cli.Close()
	}, nil
}

// writeReport writes report as indented JSON, creating parent directories.
func writeReport(path string, report *model.RunReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// printJSON writes v as indented JSON followed by a newline.
func printJSON(w io.Writer, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(w, "{\"error\": %q}\n", err.Error())
		return
	}
	fmt.Fprintln(w, string(data))
}
