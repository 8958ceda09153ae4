package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// StderrTailSize is how much trailing stderr output is kept for the error
// message of a failed command. The full output is still streamed live.
const StderrTailSize = 4 << 10

const waitDelay = 5 * time.Second

// Host runs commands as child processes of corpusprep.
//
// Output is streamed to Stdout/Stderr as the command runs, so the user sees
// apt and pip progress exactly as they would in a terminal.
type Host struct {
	// Stdout and Stderr receive the child's output. nil discards it.
	Stdout io.Writer
	Stderr io.Writer

	// Dir is the default working directory for commands without one.
	Dir string

	// Logger receives a debug line per command. nil uses slog.Default().
	Logger *slog.Logger
}

// NewHost creates a Host executor streaming to the given writers.
func NewHost(stdout, stderr io.Writer) *Host {
	return &Host{Stdout: stdout, Stderr: stderr}
}

// Run executes cmd and waits for it to finish.
func (h *Host) Run(ctx context.Context, cmd Command) error {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// #nosec G204 -- commands are built from configuration, not from
	// untrusted input.
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	if c.Dir == "" {
		c.Dir = h.Dir
	}
	if len(cmd.Env) > 0 {
		c.Env = MergeEnv(os.Environ(), cmd.Env)
	}

	// Grandchildren holding the output pipes must not block Wait forever
	// after a cancellation.
	c.WaitDelay = waitDelay

	tail := NewTailBuffer(StderrTailSize)
	c.Stdout = writerOrDiscard(h.Stdout)
	c.Stderr = io.MultiWriter(writerOrDiscard(h.Stderr), tail)

	logger.DebugContext(ctx, "running command", "cmd", cmd.String(), "dir", c.Dir)

	err := c.Run()
	if err == nil {
		return nil
	}

	// A killed process reports "signal: killed"; surface the cancellation
	// instead so callers can tell an interrupt from a real failure.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", cmd.String(), ctxErr)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{
			Command: cmd.String(),
			Code:    exitErr.ExitCode(),
			Stderr:  tail.String(),
			Err:     err,
		}
	}

	// Typically exec.ErrNotFound: the program is not installed.
	return fmt.Errorf("running %s: %w", cmd.String(), err)
}

// MergeEnv returns base with the entries of overrides added, replacing any
// existing entry with the same key.
func MergeEnv(base []string, overrides map[string]string) []string {
	out := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, replaced := overrides[key]; replaced {
			continue
		}
		out = append(out, kv)
	}
	return append(out, Command{Env: overrides}.EnvList()...)
}

func writerOrDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}

// TailBuffer keeps the last max bytes written to it. It is safe for
// concurrent use, since stdout and stderr copiers may share one.
type TailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

// NewTailBuffer returns a TailBuffer holding at most max bytes.
func NewTailBuffer(max int) *TailBuffer {
	return &TailBuffer{max: max}
}

func (t *TailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *TailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
