// Package bootstrap implements the Bootstrap Runner: an ordered list of
// steps executed one at a time, stopping at the first failure.
//
// There is no rollback and no retry. Whatever a failed step left behind
// stays on disk; re-running picks up from a state every step tolerates
// (an existing venv is kept, an existing archive is overwritten, an
// existing extraction directory is reused).
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/shinji-kodama/corpusprep/internal/executor"
	"github.com/shinji-kodama/corpusprep/internal/model"
	"github.com/shinji-kodama/corpusprep/internal/telemetry"
)

// Outcome is what a successful step action reports back.
type Outcome struct {
	// Skipped means the action found nothing to do.
	Skipped bool
	// Detail is a short note for the report, e.g. "2 packages".
	Detail string
}

// Action performs a step. A non-nil error fails the step and the run.
type Action func(ctx context.Context) (Outcome, error)

// Step is one entry of the bootstrap sequence.
type Step struct {
	Name model.StepName

	// Description says what the step does, in one line.
	Description string

	// Commands lists the external commands or host operations the step
	// performs, rendered for display by `corpusprep plan`.
	Commands []string

	Action Action
}

// Options configures a Runner.
type Options struct {
	// From starts the run at the named step; earlier steps are skipped.
	From model.StepName

	// Only runs just the named step. Mutually exclusive with From.
	Only model.StepName

	// RunID identifies the run in the report, logs and spans.
	RunID string

	// OnStart is called before a selected step's action runs.
	OnStart func(Step)

	// OnFinish is called once per step, in order, with its final result,
	// including steps that were skipped or never attempted.
	OnFinish func(model.StepResult)

	Logger *slog.Logger

	// Now returns the current time. nil uses time.Now.
	Now func() time.Time
}

// Runner executes a fixed sequence of steps.
type Runner struct {
	steps []Step
	opts  Options
}

// NewRunner validates opts against steps and returns a Runner.
func NewRunner(steps []Step, opts Options) (*Runner, error) {
	seen := make(map[model.StepName]bool, len(steps))
	for _, s := range steps {
		if s.Action == nil {
			return nil, fmt.Errorf("step %s has no action", s.Name)
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("duplicate step %s", s.Name)
		}
		seen[s.Name] = true
	}

	if opts.From != "" && opts.Only != "" {
		return nil, errors.New("--from and --only cannot be combined")
	}
	if opts.From != "" && !seen[opts.From] {
		return nil, fmt.Errorf("unknown step %q for --from", opts.From)
	}
	if opts.Only != "" && !seen[opts.Only] {
		return nil, fmt.Errorf("unknown step %q for --only", opts.Only)
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Runner{steps: steps, opts: opts}, nil
}

// Steps returns the runner's steps in execution order.
func (r *Runner) Steps() []Step {
	return r.steps
}

// Run executes the selected steps in order. It always returns a report with
// one result per step. When a step fails, every later step is recorded as
// pending and the returned error is a *model.StepError.
func (r *Runner) Run(ctx context.Context) (*model.RunReport, error) {
	report := &model.RunReport{
		RunID:     r.opts.RunID,
		StartedAt: r.opts.Now().UTC(),
		Steps:     make([]model.StepResult, 0, len(r.steps)),
	}

	ctx, span := telemetry.Tracer().Start(ctx, "corpusprep.bootstrap",
		trace.WithAttributes(attribute.String("run.id", r.opts.RunID)),
	)
	defer span.End()

	logger := r.opts.Logger.With("run_id", r.opts.RunID)
	logger.InfoContext(ctx, "bootstrap started", "steps", len(r.steps))

	var failure *model.StepError
	for i, step := range r.steps {
		var res model.StepResult
		switch {
		case failure != nil:
			res = model.StepResult{Name: step.Name, Status: model.StatusPending}
		case !r.selected(i):
			res = model.StepResult{Name: step.Name, Status: model.StatusSkipped, Detail: "not selected"}
		default:
			res, failure = r.runStep(ctx, logger, step)
		}

		report.Steps = append(report.Steps, res)
		if r.opts.OnFinish != nil {
			r.opts.OnFinish(res)
		}
	}

	report.FinishedAt = r.opts.Now().UTC()
	report.Status = model.StatusOK
	if failure != nil {
		report.Status = model.StatusFailed
	}

	span.SetAttributes(attribute.String("bootstrap.status", report.Status.String()))
	if failure != nil {
		span.SetStatus(codes.Error, failure.Error())
		logger.ErrorContext(ctx, "bootstrap failed", "step", failure.Step, "err", failure.Err)
		return report, failure
	}

	span.SetStatus(codes.Ok, "")
	logger.InfoContext(ctx, "bootstrap completed", "duration", report.Duration())
	return report, nil
}

func (r *Runner) runStep(ctx context.Context, logger *slog.Logger, step Step) (model.StepResult, *model.StepError) {
	ctx, span := telemetry.Tracer().Start(ctx, "step "+step.Name.String(),
		trace.WithAttributes(attribute.String("step.name", step.Name.String())),
	)
	defer span.End()

	logger = logger.With("step", step.Name)
	if r.opts.OnStart != nil {
		r.opts.OnStart(step)
	}
	logger.InfoContext(ctx, "step started")

	start := r.opts.Now()
	var (
		out Outcome
		err error
	)
	// An interrupt between steps fails the next step without running it.
	if err = ctx.Err(); err == nil {
		out, err = step.Action(ctx)
	}
	elapsed := r.opts.Now().Sub(start)

	res := model.StepResult{
		Name:       step.Name,
		Detail:     out.Detail,
		DurationMs: elapsed.Milliseconds(),
	}

	if err != nil {
		code := 0
		var exitErr *executor.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.Code
		}

		res.Status = model.StatusFailed
		res.Error = err.Error()
		res.ExitCode = code

		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.ErrorContext(ctx, "step failed", "err", err, "exit_code", code, "duration", elapsed)
		return res, &model.StepError{Step: step.Name, ExitCode: code, Err: err}
	}

	res.Status = model.StatusOK
	if out.Skipped {
		res.Status = model.StatusSkipped
	}
	span.SetAttributes(attribute.String("step.status", res.Status.String()))
	logger.InfoContext(ctx, "step finished", "status", res.Status, "detail", out.Detail, "duration", elapsed)
	return res, nil
}

// selected reports whether the step at index i runs under --from/--only.
func (r *Runner) selected(i int) bool {
	name := r.steps[i].Name
	switch {
	case r.opts.Only != "":
		return name == r.opts.Only
	case r.opts.From != "":
		for j := 0; j <= i; j++ {
			if r.steps[j].Name == r.opts.From {
				return true
			}
		}
		return false
	default:
		return true
	}
}
