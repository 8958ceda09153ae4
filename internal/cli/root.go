// Package cli implements the cobra-based CLI commands for corpusprep.
//
// Each subcommand (run, plan, preprocess, prune, version) is defined in its
// own file within this package. This file defines the root command, which
// owns the global flags and, when invoked without a subcommand, runs the
// full bootstrap exactly like `corpusprep run`.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/corpusprep/internal/config"
	"github.com/shinji-kodama/corpusprep/internal/model"
	"github.com/shinji-kodama/corpusprep/internal/telemetry"
)

// Version, Commit and Date are set at build time via ldflags, injected from
// the main package.
var (
	// Version is the semantic version of the binary (e.g., "1.0.0").
	Version = "dev"

	// Commit is the Git commit hash the binary was built from.
	Commit = "none"

	// Date is the build timestamp.
	Date = "unknown"
)

// shutdownTimeout bounds flushing of buffered spans on exit.
const shutdownTimeout = 5 * time.Second

// globalFlags holds the persistent flags shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
	logFile    string
	jsonOutput bool
	sandbox    bool
}

// app is the state a command needs once configuration is loaded. It is
// populated by setup at the start of each command and released by teardown.
type app struct {
	flags globalFlags

	cfg     *config.Config
	logger  *slog.Logger
	closers []io.Closer
	tracing *telemetry.Provider

	stdout io.Writer
	stderr io.Writer
}

// NewRootCommand creates and configures the root cobra command.
// This is the entry point for the entire CLI application.
func NewRootCommand() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "corpusprep",
		Short: "Provision the environment and data for the email anonymization pipeline",
		Long: `corpusprep prepares a machine for the email anonymization pipeline.

Without a subcommand it runs the full bootstrap sequence, stopping at the
first failure:

  system-packages       install python3-venv and python3-pip
  create-venv           create the project virtual environment
  upgrade-tooling       upgrade pip, setuptools and wheel
  install-requirements  pip install -r requirements.txt
  download-model        download the spaCy language model
  fetch-archive         download the Enron mail archive
  ensure-target         create the extraction directory
  extract-archive       extract the archive
  cleanup-archive       delete the downloaded archive

Examples:
  corpusprep
  corpusprep --sandbox
  corpusprep run --from fetch-archive
  corpusprep plan --format yaml
  corpusprep preprocess --workers 8`,

		Args: cobra.NoArgs,

		// SilenceUsage prevents cobra from printing usage on every error.
		SilenceUsage: true,

		// SilenceErrors leaves error output to Execute (text or JSON).
		SilenceErrors: true,

		Version: versionString(),

		RunE: a.wrap(func(cmd *cobra.Command) error {
			return runBootstrap(cmd.Context(), a, &runFlags{})
		}),
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&a.flags.configPath, "config", "c", "", "Config file (YAML, TOML, JSON or JSONC)")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&a.flags.logFormat, "log-format", "", "Log format: text, json")
	pf.StringVar(&a.flags.logFile, "log-file", "", "Also write debug logs to this rotated file")
	pf.BoolVar(&a.flags.jsonOutput, "json", false, "Output in JSON format")
	pf.BoolVar(&a.flags.sandbox, "sandbox", false, "Run commands inside a Docker container")

	rootCmd.AddCommand(newRunCommand(a))
	rootCmd.AddCommand(newPlanCommand(a))
	rootCmd.AddCommand(newPreprocessCommand(a))
	rootCmd.AddCommand(newPruneCommand(a))
	rootCmd.AddCommand(newVersionCommand(a))

	return rootCmd
}

// wrap loads configuration and telemetry before fn and releases them after,
// whether or not fn fails.
func (a *app) wrap(fn func(cmd *cobra.Command) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		a.stdout = cmd.OutOrStdout()
		a.stderr = cmd.ErrOrStderr()

		if err := a.setup(cmd.Context()); err != nil {
			return err
		}
		defer a.teardown()

		return fn(cmd)
	}
}

// setup loads configuration, applies flag overrides, and builds the logger
// and the tracer provider.
func (a *app) setup(ctx context.Context) error {
	cfg, err := config.Load(a.flags.configPath)
	if err != nil {
		return model.WrapCLIError(model.ExitConfigError, "failed to load configuration", err)
	}

	// Flags win over file and environment values.
	if a.flags.logLevel != "" {
		cfg.Telemetry.LogLevel = a.flags.logLevel
	}
	if a.flags.logFormat != "" {
		cfg.Telemetry.LogFormat = a.flags.logFormat
	}
	if a.flags.logFile != "" {
		cfg.Telemetry.LogFile = a.flags.logFile
	}
	if a.flags.sandbox {
		cfg.Sandbox.Enabled = true
	}

	if err := cfg.Validate(); err != nil {
		return model.WrapCLIError(model.ExitConfigError, "invalid configuration", err)
	}

	logFile := cfg.Telemetry.LogFile
	if logFile != "" && !filepath.IsAbs(logFile) {
		logFile = cfg.Path(logFile)
	}
	logger, closer, err := telemetry.NewLogger(telemetry.LoggerOptions{
		Level:  cfg.Telemetry.LogLevel,
		Format: cfg.Telemetry.LogFormat,
		Output: a.stderr,
		File:   logFile,
	})
	if err != nil {
		return model.WrapCLIError(model.ExitConfigError, "invalid logging configuration", err)
	}
	a.closers = append(a.closers, closer)

	provider, err := telemetry.InitTracing(ctx, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPInsecure)
	if err != nil {
		_ = closer.Close()
		a.closers = nil
		return model.WrapCLIError(model.ExitConfigError, "failed to initialise tracing", err)
	}

	a.cfg = cfg
	a.logger = logger
	a.tracing = provider
	logger.Debug("configuration loaded",
		"config", a.flags.configPath,
		"work_dir", cfg.WorkDir,
		"sandbox", cfg.Sandbox.Enabled,
	)
	return nil
}

// teardown flushes spans and closes the log file.
func (a *app) teardown() {
	if a.tracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.tracing.Shutdown(ctx); err != nil {
			a.logger.Warn("failed to flush traces", "err", err)
		}
		cancel()
		a.tracing = nil
	}
	for _, c := range a.closers {
		_ = c.Close()
	}
	a.closers = nil
}

// Execute runs the root command and exits with the code its error maps to.
// SIGINT and SIGTERM cancel the command's context.
func Execute(rootCmd *cobra.Command) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err == nil {
		return
	}

	jsonOutput, _ := rootCmd.PersistentFlags().GetBool("json")
	printError(rootCmd.ErrOrStderr(), jsonOutput, err)
	os.Exit(int(ExitCodeFor(err)))
}

// ExitCodeFor translates an error returned by a command into the process
// exit code:
//   - an interrupted run exits 130
//   - a failed step exits with its subprocess's status, or 1
//   - a CLIError exits with its own code
//   - anything else exits 1
func ExitCodeFor(err error) model.ExitCode {
	if err == nil {
		return model.ExitSuccess
	}

	if errors.Is(err, context.Canceled) {
		return model.ExitInterrupted
	}

	var stepErr *model.StepError
	if errors.As(err, &stepErr) {
		if stepErr.ExitCode > 0 {
			return model.ExitCode(stepErr.ExitCode)
		}
		return model.ExitGeneralError
	}

	var cliErr *model.CLIError
	if errors.As(err, &cliErr) {
		return cliErr.Code
	}

	return model.ExitGeneralError
}

// printError writes err to w as "Error: ..." text or, with --json, as a
// JSON error object. Errors go to stderr in both modes because stdout is
// reserved for command output.
func printError(w io.Writer, jsonOutput bool, err error) {
	message, detail := err.Error(), ""
	var cliErr *model.CLIError
	if errors.As(err, &cliErr) {
		message = cliErr.Message
		if cliErr.Err != nil {
			detail = cliErr.Err.Error()
		}
	}

	if !jsonOutput {
		if detail != "" {
			fmt.Fprintf(w, "Error: %s: %s\n", message, detail)
		} else {
			fmt.Fprintf(w, "Error: %s\n", message)
		}
		return
	}

	errObj := map[string]any{
		"message": message,
		"code":    int(ExitCodeFor(err)),
	}
	if detail != "" {
		errObj["detail"] = detail
	}
	var stepErr *model.StepError
	if errors.As(err, &stepErr) {
		errObj["step"] = stepErr.Step
	}

	data, _ := json.MarshalIndent(map[string]any{"error": errObj}, "", "  ")
	fmt.Fprintln(w, string(data))
}

func versionString() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date)
}
