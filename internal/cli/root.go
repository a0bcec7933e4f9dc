// Package cli is the clover command line: run, ingest, serve and migrate.
package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "clover",
	Short: "Reconcile snapshot exports into canonical entity state",
	Long: `clover reads periodic snapshot exports, resolves one canonical state per
business key, records every accepted transition in an append-only history
and writes the result to a destination store.

Runs are dry-run by default. Use --mode incremental or --mode full-resync
to write.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// ExitError carries the process exit code for an error.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

func exitError(code int, err error) error {
	return &ExitError{Code: code, Err: err}
}

// ExitCode maps an Execute error to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exit *ExitError
	if errors.As(err, &exit) {
		return exit.Code
	}
	return 1
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("env-file", "", "Load environment variables from this file (default .env when present)")
	rootCmd.PersistentFlags().String("config", "", "Read settings from this YAML file (default ./clover.yaml when present)")
}
