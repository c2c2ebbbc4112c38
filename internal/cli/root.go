// Package cli provides CLI commands for the conformance harness.
package cli

import (
	"errors"

	"github.com/LeonWang0735/s3s-conformance/internal/backend"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "dev"
	// Commit is set at build time.
	Commit = "unknown"
)

// errRunFailed marks a completed run in which at least one backend failed.
var errRunFailed = errors.New("one or more backends failed")

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "s3s-conformance",
		Short: "Cross-backend S3 conformance harness",
		Long: "s3s-conformance launches object-storage backends, waits for them to become\n" +
			"reachable, runs the same client-side scenario against each, and reports\n" +
			"whether they behave equivalently.",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(NewRunCmd())
	rootCmd.AddCommand(NewBackendsCmd())
	rootCmd.AddCommand(NewHistoryCmd())
	rootCmd.AddCommand(NewVersionCmd())

	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// ExitCode maps an Execute error to the process exit code: 2 for
// configuration errors caught before any launch, 1 for everything else.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ce *backend.ConfigError
	if errors.As(err, &ce) {
		return 2
	}
	return 1
}
