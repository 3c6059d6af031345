package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/gatekeeper/pkg/cli"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "gatekeeper",
	Short: "Gatekeeper - distributed tier-aware admission control",
	Long: `Gatekeeper decides, for every request, whether a client may proceed.

Each client is limited by the token bucket of its tier. Buckets live in a
shared store so every instance enforces the same quota:
  - Atomic refill-and-debit in Redis (Lua), SQLite or memory
  - Circuit breaker and fail-open/fail-closed policy when the store is down
  - Local approximation cache to skip store round trips
  - Daily violation counters and abuse alerts`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	err := rootCmd.Execute()
	if err != nil && !errors.Is(err, cli.ErrRejected) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return cli.ExitCode(err)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "gatekeeper.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
