package model

import (
	"fmt"
	"strings"
	"time"
)

// StepName identifies one stage of the bootstrap sequence. The set of names
// is closed and the order in which they run is fixed (see AllSteps).
type StepName string

const (
	// StepSystemPackages refreshes the OS package index and installs the
	// system packages the Python tooling depends on.
	StepSystemPackages StepName = "system-packages"

	// StepCreateVenv creates the Python virtual environment.
	StepCreateVenv StepName = "create-venv"

	// StepUpgradeTooling upgrades pip, setuptools and wheel inside the venv.
	StepUpgradeTooling StepName = "upgrade-tooling"

	// StepInstallRequirements installs the requirements manifest into the venv.
	StepInstallRequirements StepName = "install-requirements"

	// StepDownloadModel fetches the pretrained language model through the
	// installed package's own download command.
	StepDownloadModel StepName = "download-model"

	// StepFetchArchive downloads the corpus archive over HTTP(S).
	StepFetchArchive StepName = "fetch-archive"

	// StepEnsureTarget creates the extraction directory if it is missing.
	StepEnsureTarget StepName = "ensure-target"

	// StepExtractArchive unpacks the archive into the extraction directory.
	StepExtractArchive StepName = "extract-archive"

	// StepCleanupArchive deletes the downloaded archive file.
	StepCleanupArchive StepName = "cleanup-archive"
)

// AllSteps returns every step name in execution order.
func AllSteps() []StepName {
	return []StepName{
		StepSystemPackages,
		StepCreateVenv,
		StepUpgradeTooling,
		StepInstallRequirements,
		StepDownloadModel,
		StepFetchArchive,
		StepEnsureTarget,
		StepExtractArchive,
		StepCleanupArchive,
	}
}

// String returns the string representation of StepName.
func (s StepName) String() string {
	return string(s)
}

// IsValid reports whether s is one of the known step names.
func (s StepName) IsValid() bool {
	for _, name := range AllSteps() {
		if s == name {
			return true
		}
	}
	return false
}

// ParseStepName converts a user-supplied string (e.g. the --from flag) into
// a StepName. Matching is case-insensitive and underscores are accepted in
// place of hyphens.
func ParseStepName(s string) (StepName, error) {
	name := StepName(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-"))
	if !name.IsValid() {
		valid := make([]string, 0, len(AllSteps()))
		for _, n := range AllSteps() {
			valid = append(valid, n.String())
		}
		return "", fmt.Errorf("invalid step name: %q (valid: %s)", s, strings.Join(valid, ", "))
	}
	return name, nil
}

// StepStatus is the outcome of a single step, or of a whole run.
type StepStatus string

const (
	// StatusOK means the step ran and succeeded.
	StatusOK StepStatus = "ok"

	// StatusFailed means the step ran and failed. At most one step per run
	// can be in this state, because the run stops at the first failure.
	StatusFailed StepStatus = "failed"

	// StatusSkipped means the step decided there was nothing to do (for
	// example the venv already exists) or was excluded by --from/--only.
	StatusSkipped StepStatus = "skipped"

	// StatusPending means the step was never attempted because an earlier
	// step failed.
	StatusPending StepStatus = "pending"
)

// String returns the string representation of StepStatus.
func (s StepStatus) String() string {
	return string(s)
}

// IsValid reports whether s is one of the predefined statuses.
func (s StepStatus) IsValid() bool {
	switch s {
	case StatusOK, StatusFailed, StatusSkipped, StatusPending:
		return true
	default:
		return false
	}
}

// StepResult records what happened to one step during a run.
type StepResult struct {
	// Name is the step this result belongs to.
	Name StepName `json:"name"`

	// Status is the step outcome.
	Status StepStatus `json:"status"`

	// Detail is a short human-readable note such as "2 packages" or
	// "virtual environment already present".
	Detail string `json:"detail,omitempty"`

	// DurationMs is the wall-clock time the step took, in milliseconds.
	// Zero for steps that were not attempted.
	DurationMs int64 `json:"durationMs"`

	// Error is the failure message for StatusFailed.
	Error string `json:"error,omitempty"`

	// ExitCode is the exit status of the failing subprocess, if the step
	// failed because a command exited non-zero.
	ExitCode int `json:"exitCode,omitempty"`
}

// RunReport is the aggregate result of one bootstrap run. It is printed by
// `corpusprep run --json` and optionally written with --report.
type RunReport struct {
	// RunID uniquely identifies the run. It is also attached to sandbox
	// containers as a label.
	RunID string `json:"runId"`

	// Status is StatusOK when every selected step succeeded or skipped,
	// StatusFailed otherwise.
	Status StepStatus `json:"status"`

	// StartedAt and FinishedAt bound the run in UTC.
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`

	// Steps holds one entry per step, in execution order.
	Steps []StepResult `json:"steps"`
}

// Failed returns the result of the failing step, or nil if the run did not
// fail.
func (r *RunReport) Failed() *StepResult {
	for i := range r.Steps {
		if r.Steps[i].Status == StatusFailed {
			return &r.Steps[i]
		}
	}
	return nil
}

// Result looks up the result for a step by name.
func (r *RunReport) Result(name StepName) (StepResult, bool) {
	for _, res := range r.Steps {
		if res.Name == name {
			return res, true
		}
	}
	return StepResult{}, false
}

// Duration returns the total wall-clock time of the run.
func (r *RunReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// SandboxInfo describes a sandbox container created by a previous run.
// It is reconstructed from Docker container labels; nothing is stored on disk.
type SandboxInfo struct {
	// ContainerID is the Docker container identifier.
	ContainerID string `json:"containerId"`

	// ContainerName is the human-readable Docker container name.
	ContainerName string `json:"containerName"`

	// RunID is the bootstrap run that created the container.
	RunID string `json:"runId"`

	// WorkDir is the host directory bind-mounted into the container.
	WorkDir string `json:"workDir"`

	// Image is the image the container was created from.
	Image string `json:"image"`

	// State is the Docker container state ("running", "exited", ...).
	State string `json:"state"`

	// CreatedAt is when the sandbox was created.
	CreatedAt time.Time `json:"createdAt"`
}

// ExitCode defines the process exit codes of the corpusprep binary.
// A failing subprocess step does not use these: its own exit status is
// propagated instead (see StepError).
type ExitCode int

const (
	// ExitSuccess indicates the command completed successfully.
	ExitSuccess ExitCode = 0

	// ExitGeneralError indicates an unspecified error, including a step
	// failure that did not come from a subprocess exit status.
	ExitGeneralError ExitCode = 1

	// ExitConfigError indicates the configuration could not be loaded or
	// failed validation.
	ExitConfigError ExitCode = 2

	// ExitSandboxUnavailable indicates the Docker daemon needed for
	// --sandbox is not reachable.
	ExitSandboxUnavailable ExitCode = 3

	// ExitInterrupted indicates the run was cancelled by SIGINT/SIGTERM.
	ExitInterrupted ExitCode = 130
)

// CLIError is a custom error type that carries an exit code.
// This allows the CLI layer to translate domain errors into
// appropriate process exit codes.
type CLIError struct {
	// Code is the exit code to return to the OS.
	Code ExitCode

	// Message is the human-readable error description.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error satisfies the error interface. It returns the human-readable
// error message, optionally including the underlying error.
func (e *CLIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *CLIError) Unwrap() error {
	return e.Err
}

// NewCLIError creates a new CLIError with the given exit code and message.
func NewCLIError(code ExitCode, message string) *CLIError {
	return &CLIError{Code: code, Message: message}
}

// WrapCLIError creates a new CLIError that wraps an existing error.
func WrapCLIError(code ExitCode, message string, err error) *CLIError {
	return &CLIError{Code: code, Message: message, Err: err}
}

// StepError is returned by the bootstrap runner when a step fails. It is the
// only error class the runner produces.
type StepError struct {
	// Step is the failing step.
	Step StepName

	// ExitCode is the exit status of the failing subprocess, or 0 when the
	// step failed for another reason (network, filesystem, cancellation).
	ExitCode int

	// Err is the underlying failure.
	Err error
}

// Error satisfies the error interface.
func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed: %v", e.Step, e.Err)
}

// Unwrap returns the underlying error.
func (e *StepError) Unwrap() error {
	return e.Err
}
