package main

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mercator-hq/gatekeeper/pkg/cli"
	"mercator-hq/gatekeeper/pkg/config"
	"mercator-hq/gatekeeper/pkg/limits/storage"
	"mercator-hq/gatekeeper/pkg/server"
)

// ============================================================================
// version
// ============================================================================

func TestVersionCommand(t *testing.T) {
	stdout, _, err := executeCommand(t, "version")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	for _, want := range []string{"Gatekeeper " + Version, "Git Commit:", "Go Version:"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("Expected output to contain %q, got %q", want, stdout)
		}
	}
}

func TestVersionCommandShort(t *testing.T) {
	stdout, _, err := executeCommand(t, "version", "--short")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if stdout != Version+"\n" {
		t.Errorf("Expected %q, got %q", Version+"\n", stdout)
	}
}

// ============================================================================
// validate
// ============================================================================

func TestValidateCommand(t *testing.T) {
	path := writeConfig(t, "")

	stdout, _, err := executeCommand(t, "validate", "--config", path)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	for _, want := range []string{"Configuration valid", "TIER", "CAPACITY", "free", "premium", "500"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("Expected output to contain %q, got:\n%s", want, stdout)
		}
	}
}

func TestValidateCommandJSON(t *testing.T) {
	path := writeConfig(t, "")

	stdout, _, err := executeCommand(t, "validate", "--config", path, "--format", "json")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	var rows []tierRow
	if err := json.Unmarshal([]byte(stdout), &rows); err != nil {
		t.Fatalf("Expected JSON tier table, got %q: %v", stdout, err)
	}
	if len(rows) != 2 {
		t.Fatalf("Expected 2 tiers, got %d", len(rows))
	}

	// Lowest quota first
	if rows[0].Name != "free" || !rows[0].Default {
		t.Errorf("Expected free to be first and default, got %+v", rows[0])
	}
	if rows[0].AbuseDailyThreshold != 5 {
		t.Errorf("Expected free to inherit the global threshold 5, got %d", rows[0].AbuseDailyThreshold)
	}
	if rows[1].Name != "premium" || rows[1].Default {
		t.Errorf("Expected premium second and not default, got %+v", rows[1])
	}
	if rows[1].IdleTTL != "10s" {
		t.Errorf("Expected premium idle TTL 10s, got %s", rows[1].IdleTTL)
	}
}

func TestValidateCommandMissingFile(t *testing.T) {
	_, _, err := executeCommand(t, "validate", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("Expected error for missing config file")
	}

	var cfgErr *cli.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Errorf("Expected ConfigError, got %T", err)
	}
	if code := cli.ExitCode(err); code != cli.ExitConfig {
		t.Errorf("Expected exit code %d, got %d", cli.ExitConfig, code)
	}
}

// ============================================================================
// check
// ============================================================================

func TestCheckCommandDrainsBucket(t *testing.T) {
	path := writeConfig(t, "")

	stdout, _, err := executeCommand(t, "check", "--config", path, "--client", "acme", "--repeat", "3", "--format", "json")
	if !errors.Is(err, cli.ErrRejected) {
		t.Fatalf("Expected ErrRejected after draining the bucket, got %v", err)
	}
	if code := cli.ExitCode(err); code != cli.ExitRejected {
		t.Errorf("Expected exit code %d, got %d", cli.ExitRejected, code)
	}

	var results []server.CheckResponse
	if err := json.Unmarshal([]byte(stdout), &results); err != nil {
		t.Fatalf("Expected JSON results, got %q: %v", stdout, err)
	}
	if len(results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(results))
	}

	for i, want := range []bool{true, true, false} {
		if results[i].Allowed != want {
			t.Errorf("Check %d: expected allowed=%v, got %v", i+1, want, results[i].Allowed)
		}
	}
	if results[1].Remaining != 0 {
		t.Errorf("Expected 0 remaining after second check, got %d", results[1].Remaining)
	}
	if results[2].Tier != "free" || results[2].Source != "store" {
		t.Errorf("Expected free tier from store, got %s from %s", results[2].Tier, results[2].Source)
	}
}

func TestCheckCommandAdmitted(t *testing.T) {
	path := writeConfig(t, "")

	stdout, _, err := executeCommand(t, "check", "--config", path, "--client", "acme", "--tier", "premium")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if !strings.Contains(stdout, "ALLOWED") || !strings.Contains(stdout, "premium") {
		t.Errorf("Expected a text table for the premium tier, got:\n%s", stdout)
	}
	if !strings.Contains(stdout, "99") {
		t.Errorf("Expected 99 remaining, got:\n%s", stdout)
	}
}

func TestCheckCommandLevels(t *testing.T) {
	path := writeConfig(t, "")

	// The endpoint level uses the free tier and runs out before the
	// premium account level.
	stdout, _, err := executeCommand(t, "check", "--config", path,
		"--client", "acme", "--tier", "premium", "--levels",
		"--endpoint", "/v1/orders", "--endpoint-tier", "free",
		"--repeat", "3", "--format", "json")
	if !errors.Is(err, cli.ErrRejected) {
		t.Fatalf("Expected ErrRejected, got %v", err)
	}

	var results []server.CheckResponse
	if err := json.Unmarshal([]byte(stdout), &results); err != nil {
		t.Fatalf("Expected JSON results, got %q: %v", stdout, err)
	}
	if last := results[len(results)-1]; last.Level != "endpoint" {
		t.Errorf("Expected rejection at the endpoint level, got %q", last.Level)
	}
}

func TestCheckCommandErrors(t *testing.T) {
	path := writeConfig(t, "")

	tests := []struct {
		name string
		args []string
	}{
		{"missing client", []string{"check", "--config", path}},
		{"zero repeat", []string{"check", "--config", path, "--client", "acme", "--repeat", "0"}},
		{"bad format", []string{"check", "--config", path, "--client", "acme", "--format", "xml"}},
		{"endpoint tier without endpoint", []string{"check", "--config", path, "--client", "acme", "--levels", "--endpoint-tier", "free"}},
		{"negative tokens", []string{"check", "--config", path, "--client", "acme", "--tokens", "-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := executeCommand(t, tt.args...)
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if errors.Is(err, cli.ErrRejected) {
				t.Errorf("Expected a usage or command error, got rejection")
			}
		})
	}
}

// ============================================================================
// violations
// ============================================================================

func TestViolationsCommand(t *testing.T) {
	path := writeConfig(t, "sqlite")

	// Two admits, then two rejections recorded as violations.
	_, _, err := executeCommand(t, "check", "--config", path, "--client", "acme", "--repeat", "4")
	if !errors.Is(err, cli.ErrRejected) {
		t.Fatalf("Expected ErrRejected, got %v", err)
	}

	stdout, _, err := executeCommand(t, "violations", "acme", "--config", path, "--format", "json")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	var report violationsReport
	if err := json.Unmarshal([]byte(stdout), &report); err != nil {
		t.Fatalf("Expected JSON report, got %q: %v", stdout, err)
	}
	if report.Count != 2 {
		t.Errorf("Expected 2 violations, got %d", report.Count)
	}
	if report.Threshold != 5 {
		t.Errorf("Expected threshold 5, got %d", report.Threshold)
	}
	if report.Day != time.Now().UTC().Format("2006-01-02") {
		t.Errorf("Expected today, got %s", report.Day)
	}
}

func TestViolationsCommandTierThreshold(t *testing.T) {
	path := writeConfig(t, "")

	stdout, _, err := executeCommand(t, "violations", "acme", "--config", path, "--tier", "premium", "--day", "2026-03-02")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	for _, want := range []string{"CLIENT", "acme", "2026-03-02", "500"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("Expected output to contain %q, got:\n%s", want, stdout)
		}
	}
}

func TestViolationsCommandErrors(t *testing.T) {
	path := writeConfig(t, "")

	if _, _, err := executeCommand(t, "violations", "--config", path); err == nil {
		t.Error("Expected error without a client argument")
	}

	_, _, err := executeCommand(t, "violations", "acme", "--config", path, "--day", "03/02/2026")
	if cli.ExitCode(err) != cli.ExitConfig {
		t.Errorf("Expected config error for a malformed day, got %v", err)
	}
}

// ============================================================================
// bench
// ============================================================================

func TestBenchCommand(t *testing.T) {
	path := writeConfig(t, "")

	stdout, stderr, err := executeCommand(t, "bench", "--config", path,
		"--clients", "1", "--requests", "5", "--concurrency", "2", "--format", "json")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	var results benchResults
	if err := json.Unmarshal([]byte(stdout), &results); err != nil {
		t.Fatalf("Expected JSON results, got %q: %v", stdout, err)
	}
	if results.Total != 5 {
		t.Errorf("Expected 5 total, got %d", results.Total)
	}
	if results.Admitted != 2 || results.Rejected != 3 {
		t.Errorf("Expected 2 admitted and 3 rejected, got %d and %d", results.Admitted, results.Rejected)
	}
	if results.Failed != 0 || results.Degraded != 0 {
		t.Errorf("Expected no failed or degraded checks, got %d and %d", results.Failed, results.Degraded)
	}
	if results.Latency.Max < results.Latency.Min {
		t.Errorf("Expected max >= min, got %s < %s", results.Latency.Max, results.Latency.Min)
	}

	if stderr == "" {
		t.Error("Expected progress on stderr")
	}
}

func TestBenchCommandInvalidFlags(t *testing.T) {
	path := writeConfig(t, "")

	_, _, err := executeCommand(t, "bench", "--config", path, "--concurrency", "0")
	if cli.ExitCode(err) != cli.ExitConfig {
		t.Errorf("Expected config error, got %v", err)
	}
}

func TestCalculatePercentiles(t *testing.T) {
	latencies := make([]time.Duration, 0, 100)
	// Reverse order to exercise sorting
	for i := 100; i >= 1; i-- {
		latencies = append(latencies, time.Duration(i)*time.Millisecond)
	}

	stats := calculatePercentiles(latencies)

	tests := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"min", stats.Min, time.Millisecond},
		{"mean", stats.Mean, 50500 * time.Microsecond},
		{"median", stats.Median, 51 * time.Millisecond},
		{"p95", stats.P95, 96 * time.Millisecond},
		{"p99", stats.P99, 100 * time.Millisecond},
		{"max", stats.Max, 100 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, tt.got)
			}
		})
	}

	if latencies[0] != 100*time.Millisecond {
		t.Error("Expected input slice to be left unsorted")
	}
}

func TestCalculatePercentilesEmpty(t *testing.T) {
	if stats := calculatePercentiles(nil); stats != (latencyStats{}) {
		t.Errorf("Expected zero stats, got %+v", stats)
	}
}

// ============================================================================
// run
// ============================================================================

func TestRunCommandFlags(t *testing.T) {
	for _, name := range []string{"listen", "log-level", "dry-run"} {
		if runCmd.Flags().Lookup(name) == nil {
			t.Errorf("Expected run to have --%s flag", name)
		}
	}
}

func TestWaitForServerReady(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Server.ListenAddress = "127.0.0.1:0"

	coordinator, err := newCoordinator(&cfg.Limits, storage.NewMemoryStore())
	if err != nil {
		t.Fatalf("Failed to create coordinator: %v", err)
	}

	newServer := func() *server.Server {
		srv, err := server.NewServer(&cfg.Server, &cfg.Telemetry, server.Dependencies{Limiter: coordinator})
		if err != nil {
			t.Fatalf("Failed to create server: %v", err)
		}
		return srv
	}

	t.Run("start error", func(t *testing.T) {
		errChan := make(chan error, 1)
		errChan <- errors.New("listen failed")

		if err := waitForServerReady(newServer(), errChan, time.Second); err == nil || err.Error() != "listen failed" {
			t.Errorf("Expected start error, got %v", err)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		err := waitForServerReady(newServer(), make(chan error), 20*time.Millisecond)
		if err == nil || !strings.Contains(err.Error(), "timed out") {
			t.Errorf("Expected timeout error, got %v", err)
		}
	})

	t.Run("ready", func(t *testing.T) {
		srv := newServer()
		ctx, cancel := context.WithCancel(context.Background())

		errChan := make(chan error, 1)
		go func() { errChan <- srv.Start(ctx) }()

		if err := waitForServerReady(srv, errChan, 5*time.Second); err != nil {
			t.Fatalf("Expected server to become ready, got %v", err)
		}
		if srv.Addr() == nil {
			t.Error("Expected a bound address")
		}

		cancel()
		if err := <-errChan; err != nil {
			t.Errorf("Expected clean shutdown, got %v", err)
		}
	})
}
