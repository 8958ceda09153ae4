package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/shinji-kodama/corpusprep/internal/model"
	"github.com/shinji-kodama/corpusprep/internal/preprocess"
	"github.com/shinji-kodama/corpusprep/internal/telemetry"
)

// preprocessFlags holds the flag values for the preprocess command. Empty
// values fall back to the preprocess section of the configuration.
type preprocessFlags struct {
	input   string
	output  string
	workers int
}

// newPreprocessCommand creates the "preprocess" cobra command.
func newPreprocessCommand(a *app) *cobra.Command {
	flags := &preprocessFlags{}

	cmd := &cobra.Command{
		Use:   "preprocess",
		Short: "Clean and anonymize the extracted maildir into JSONL",
		Long: `Walk the extracted maildir, keep the author's own text of every message,
mask personal data and write one {"sender", "text"} JSON object per line.

Files that are not valid messages are skipped; messages with no text left
after cleaning are dropped.

Examples:
  corpusprep preprocess
  corpusprep preprocess --input data/maildir --output out/enron.jsonl --workers 8`,

		Args: cobra.NoArgs,

		RunE: a.wrap(func(cmd *cobra.Command) error {
			if !cmd.Flags().Changed("workers") {
				flags.workers = a.cfg.Preprocess.Workers
			}
			return runPreprocess(cmd, a, flags)
		}),
	}

	cmd.Flags().StringVar(&flags.input, "input", "", "Maildir to read (default: preprocess.input)")
	cmd.Flags().StringVar(&flags.output, "output", "", "JSONL file to write (default: preprocess.output)")
	cmd.Flags().IntVar(&flags.workers, "workers", 0, "Parallel parsers; 0 uses one per CPU")

	return cmd
}

func runPreprocess(cmd *cobra.Command, a *app, flags *preprocessFlags) error {
	cfg := a.cfg

	input := flags.input
	if input == "" {
		input = cfg.Preprocess.Input
	}
	output := flags.output
	if output == "" {
		output = cfg.Preprocess.Output
	}
	if flags.workers < 0 {
		return model.NewCLIError(model.ExitGeneralError, "--workers must not be negative")
	}

	ctx, span := telemetry.Tracer().Start(cmd.Context(), "corpusprep.preprocess")
	defer span.End()

	p := &preprocess.Pipeline{
		Input:    cfg.Path(input),
		Output:   cfg.Path(output),
		Workers:  flags.workers,
		Redactor: preprocess.NewRedactor(cfg.Preprocess.Replacement),
		Logger:   a.logger,
	}
	summary, err := p.Run(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if ctx.Err() != nil {
			return err
		}
		return model.WrapCLIError(model.ExitGeneralError, "preprocessing failed", err)
	}
	span.SetAttributes(
		attribute.Int("preprocess.files", summary.Files),
		attribute.Int("preprocess.written", summary.Written),
		attribute.Int("preprocess.unparsable", summary.Unparsable),
	)

	if a.flags.jsonOutput {
		printJSON(a.stdout, map[string]any{"output": p.Output, "summary": summary})
		return nil
	}

	fmt.Fprintf(a.stdout, "Wrote %d records to %s\n", summary.Written, p.Output)
	fmt.Fprintf(a.stdout, "  files: %d, unparsable: %d, empty after cleaning: %d\n",
		summary.Files, summary.Unparsable, summary.Empty)
	if len(summary.Redactions) > 0 {
		fmt.Fprintf(a.stdout, "  redacted: %s\n", formatCounts(summary.Redactions))
	}
	return nil
}

// formatCounts renders counts as "A=1, B=2" sorted by key.
func formatCounts(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
	}
	return strings.Join(parts, ", ")
}
