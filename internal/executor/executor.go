// Package executor runs the external commands the bootstrap sequence is made
// of (package manager, python, pip).
//
// Commands are described by the Command value and executed through the
// Executor interface, so the same step definitions can run directly on the
// host (Host) or inside a Docker sandbox (see internal/docker).
package executor

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/kballard/go-shellquote"
)

// Command describes one external process invocation.
type Command struct {
	// Name is the program to run. It is resolved through PATH unless it
	// contains a path separator.
	Name string

	// Args are the program arguments, not including Name.
	Args []string

	// Dir is the working directory. Empty means the executor's default.
	Dir string

	// Env holds variables added to (or replacing entries of) the inherited
	// environment.
	Env map[string]string
}

// String renders the command as a single line that a POSIX shell would
// parse back into the same argument vector. Used in logs, error messages
// and `corpusprep plan`.
func (c Command) String() string {
	return shellquote.Join(append([]string{c.Name}, c.Args...)...)
}

// EnvList returns Env as sorted KEY=VALUE pairs.
func (c Command) EnvList() []string {
	keys := make([]string, 0, len(c.Env))
	for k := range c.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+c.Env[k])
	}
	return out
}

// Executor runs commands to completion. Run blocks until the process exits
// or ctx is cancelled. A process that exits non-zero yields an *ExitError.
type Executor interface {
	Run(ctx context.Context, cmd Command) error
}

// PathMapper is implemented by executors whose processes see the filesystem
// at a different location than the host (the Docker sandbox bind mount).
// MapPath converts a host path into the path the executed process must use.
type PathMapper interface {
	MapPath(hostPath string) string
}

// MapPath converts hostPath for e, returning it unchanged when e does not
// implement PathMapper.
func MapPath(e Executor, hostPath string) string {
	if m, ok := e.(PathMapper); ok {
		return m.MapPath(hostPath)
	}
	return hostPath
}

// ExitError reports a command that ran and exited with a non-zero status.
type ExitError struct {
	// Command is the rendered command line.
	Command string

	// Code is the process exit status.
	Code int

	// Stderr holds the tail of the command's standard error output.
	Stderr string

	// Err is the underlying error from the process runner, if any.
	Err error
}

// Error satisfies the error interface.
func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with status %d", e.Command, e.Code)
	if e.Stderr != "" {
		msg = fmt.Sprintf("%s: %s", msg, lastLine(e.Stderr))
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ExitError) Unwrap() error {
	return e.Err
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
