package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestAllSteps_Order pins the execution order of the bootstrap sequence.
func TestAllSteps_Order(t *testing.T) {
	assert.Equal(t, []StepName{
		"system-packages",
		"create-venv",
		"upgrade-tooling",
		"install-requirements",
		"download-model",
		"fetch-archive",
		"ensure-target",
		"extract-archive",
		"cleanup-archive",
	}, AllSteps())
}

// TestParseStepName verifies flag-value parsing, including normalization.
func TestParseStepName(t *testing.T) {
	tests := []struct {
		input    string
		expected StepName
		hasError bool
	}{
		{"fetch-archive", StepFetchArchive, false},
		{"FETCH-ARCHIVE", StepFetchArchive, false},
		{"fetch_archive", StepFetchArchive, false},
		{"  create-venv ", StepCreateVenv, false},
		{"download", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result, err := ParseStepName(tt.input)
			if tt.hasError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

// TestStepStatus_IsValid checks that only defined status values pass validation.
func TestStepStatus_IsValid(t *testing.T) {
	assert.True(t, StatusOK.IsValid())
	assert.True(t, StatusFailed.IsValid())
	assert.True(t, StatusSkipped.IsValid())
	assert.True(t, StatusPending.IsValid())
	assert.False(t, StepStatus("running").IsValid())
	assert.False(t, StepStatus("").IsValid())
}

func TestRunReport_FailedAndResult(t *testing.T) {
	report := &RunReport{
		Steps: []StepResult{
			{Name: StepSystemPackages, Status: StatusOK},
			{Name: StepCreateVenv, Status: StatusFailed, Error: "boom", ExitCode: 2},
			{Name: StepUpgradeTooling, Status: StatusPending},
		},
	}

	failed := report.Failed()
	require.NotNil(t, failed)
	assert.Equal(t, StepCreateVenv, failed.Name)
	assert.Equal(t, 2, failed.ExitCode)

	res, ok := report.Result(StepUpgradeTooling)
	require.True(t, ok)
	assert.Equal(t, StatusPending, res.Status)

	_, ok = report.Result(StepCleanupArchive)
	assert.False(t, ok)

	assert.Nil(t, (&RunReport{Steps: []StepResult{{Name: StepSystemPackages, Status: StatusOK}}}).Failed())
}

func TestRunReport_Duration(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	report := &RunReport{StartedAt: start}
	assert.Zero(t, report.Duration(), "unfinished run has no duration")

	report.FinishedAt = start.Add(90 * time.Second)
	assert.Equal(t, 90*time.Second, report.Duration())
}

// TestCLIError verifies message formatting and unwrapping behaviour.
func TestCLIError(t *testing.T) {
	plain := NewCLIError(ExitConfigError, "bad config")
	assert.Equal(t, "bad config", plain.Error())
	assert.Nil(t, plain.Unwrap())

	cause := errors.New("file not found")
	wrapped := WrapCLIError(ExitGeneralError, "loading", cause)
	assert.Equal(t, "loading: file not found", wrapped.Error())
	assert.True(t, errors.Is(wrapped, cause))
	assert.Equal(t, ExitGeneralError, wrapped.Code)
}

// TestStepError verifies that StepError is discoverable through wrapping.
func TestStepError(t *testing.T) {
	cause := errors.New("exit status 100")
	err := error(&StepError{Step: StepInstallRequirements, ExitCode: 100, Err: cause})
	assert.Equal(t, "step install-requirements failed: exit status 100", err.Error())

	outer := WrapCLIError(ExitGeneralError, "bootstrap failed", err)

	var stepErr *StepError
	require.True(t, errors.As(outer, &stepErr))
	assert.Equal(t, 100, stepErr.ExitCode)
	assert.True(t, errors.Is(outer, cause))
}
