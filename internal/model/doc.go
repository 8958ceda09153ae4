// Package model defines the domain types and value objects for the
// corpusprep CLI.
//
// This package contains pure data structures with no external dependencies:
// step names and statuses, the per-run report, sandbox container metadata,
// and the error types that carry process exit codes (CLIError, StepError).
package model
