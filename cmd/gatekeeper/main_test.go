package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// executeCommand runs the root command with args and returns stdout, stderr
// and the command error. Flags are reset to their defaults first since they
// are bound to package variables that outlive a single run.
func executeCommand(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	resetFlags(rootCmd)

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.PersistentFlags().VisitAll(reset)
	cmd.Flags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

// writeConfig writes a config file with a two-token free tier that never
// refills, so the third check of a client is always rejected.
func writeConfig(t *testing.T, storage string) string {
	t.Helper()

	dir := t.TempDir()
	if storage == "" {
		storage = "backend: memory"
	}
	if storage == "sqlite" {
		storage = "backend: sqlite\n    sqlite:\n      path: " + filepath.Join(dir, "gatekeeper.db")
	}

	content := `limits:
  default_tier: free
  tiers:
    - name: free
      capacity: 2
      refill_rate_per_second: 0
    - name: premium
      capacity: 100
      refill_rate_per_second: 10
      abuse_daily_threshold: 500
  abuse:
    daily_threshold: 5
  storage:
    ` + storage + `
telemetry:
  logging:
    level: error
`
	path := filepath.Join(dir, "gatekeeper.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}
