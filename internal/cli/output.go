package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/shinji-kodama/corpusprep/internal/bootstrap"
	"github.com/shinji-kodama/corpusprep/internal/model"
)

// statusColors maps step statuses to ANSI palette colors.
var statusColors = map[model.StepStatus]lipgloss.Color{
	model.StatusOK:      lipgloss.Color("2"),
	model.StatusFailed:  lipgloss.Color("1"),
	model.StatusSkipped: lipgloss.Color("3"),
	model.StatusPending: lipgloss.Color("8"),
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// progress prints one line when a step starts and one when it finishes.
type progress struct {
	w     io.Writer
	color bool
	total int
	index map[model.StepName]int
}

func newProgress(w io.Writer, steps []bootstrap.Step) *progress {
	index := make(map[model.StepName]int, len(steps))
	for i, s := range steps {
		index[s.Name] = i + 1
	}
	return &progress{w: w, color: isTerminal(w), total: len(steps), index: index}
}

func (p *progress) paint(c lipgloss.Color, bold bool, text string) string {
	if !p.color {
		return text
	}
	return lipgloss.NewStyle().Foreground(c).Bold(bold).Render(text)
}

func (p *progress) start(step bootstrap.Step) {
	header := fmt.Sprintf("==> [%d/%d] %s", p.index[step.Name], p.total, step.Name)
	fmt.Fprintf(p.w, "%s: %s\n", p.paint(lipgloss.Color("6"), true, header), step.Description)
}

func (p *progress) finish(res model.StepResult) {
	// Steps that never started only appear in the summary.
	if res.Status == model.StatusPending || res.Detail == "not selected" {
		return
	}

	line := fmt.Sprintf("    %-7s %s", p.paint(statusColors[res.Status], true, res.Status.String()), res.Name)
	if res.DurationMs > 0 {
		line += fmt.Sprintf(" (%s)", formatDuration(time.Duration(res.DurationMs)*time.Millisecond))
	}
	if res.Detail != "" {
		line += ": " + res.Detail
	}
	if res.Error != "" {
		line += ": " + res.Error
	}
	fmt.Fprintln(p.w, line)
}

// summary prints the final outcome of a run.
func (p *progress) summary(report *model.RunReport) {
	if report == nil {
		return
	}
	elapsed := formatDuration(report.Duration())

	failed := report.Failed()
	if failed == nil {
		fmt.Fprintf(p.w, "%s in %s\n", p.paint(statusColors[model.StatusOK], true, "bootstrap complete"), elapsed)
		return
	}

	pending := 0
	for _, s := range report.Steps {
		if s.Status == model.StatusPending {
			pending++
		}
	}
	fmt.Fprintf(p.w, "%s at %s after %s (%d later steps not run)\n",
		p.paint(statusColors[model.StatusFailed], true, "bootstrap failed"), failed.Name, elapsed, pending)
}

// formatDuration rounds d for display.
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	case d < time.Minute:
		return d.Round(100 * time.Millisecond).String()
	default:
		return d.Round(time.Second).String()
	}
}
