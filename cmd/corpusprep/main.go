// Package main is the entry point for the corpusprep CLI.
//
// corpusprep provisions a machine for the email anonymization pipeline:
// system packages, a Python virtual environment with its dependencies, the
// spaCy model, and the extracted Enron mail corpus. All functionality lives
// in internal/cli.
//
// Build-time variables (version, commit, date) are injected via ldflags.
// During development they default to "dev", "none", and "unknown".
package main

import (
	"github.com/shinji-kodama/corpusprep/internal/cli"
)

// version, commit, and date are set at build time via
// -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cli.Version = version
	cli.Commit = commit
	cli.Date = date

	rootCmd := cli.NewRootCommand()
	cli.Execute(rootCmd)
}
