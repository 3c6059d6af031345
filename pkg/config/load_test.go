package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadConfig_ValidFile(t *testing.T) {
	path := writeConfig(t, `
server:
  listen_address: "0.0.0.0:9090"
  read_timeout: "2s"

limits:
  tiers:
    - name: free
      capacity: 100
      refill_rate_per_second: 1
    - name: Premium
      capacity: 1000
      refill_rate_per_second: 10
      abuse_daily_threshold: 500
  failure_policy: closed
  store_timeout: 20ms
  circuit_breaker:
    failure_threshold: 3
    cool_down: 10s
  local_cache:
    enabled: true
    threshold: 5
  storage:
    backend: redis
    redis:
      addrs: ["redis-0:6379", "redis-1:6379"]

telemetry:
  logging:
    level: debug
    format: text
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Server.ListenAddress != "0.0.0.0:9090" {
		t.Errorf("expected listen address %q, got %q", "0.0.0.0:9090", cfg.Server.ListenAddress)
	}
	if cfg.Server.ReadTimeout != 2*time.Second {
		t.Errorf("expected read timeout %v, got %v", 2*time.Second, cfg.Server.ReadTimeout)
	}
	if len(cfg.Limits.Tiers) != 2 {
		t.Fatalf("expected 2 tiers, got %d", len(cfg.Limits.Tiers))
	}
	if cfg.Limits.Tiers[1].AbuseDailyThreshold != 500 {
		t.Errorf("expected premium abuse threshold 500, got %d", cfg.Limits.Tiers[1].AbuseDailyThreshold)
	}
	if cfg.Limits.FailurePolicy != "closed" {
		t.Errorf("expected failure policy closed, got %q", cfg.Limits.FailurePolicy)
	}
	if cfg.Limits.StoreTimeout != 20*time.Millisecond {
		t.Errorf("expected store timeout 20ms, got %v", cfg.Limits.StoreTimeout)
	}
	if cfg.Limits.CircuitBreaker.FailureThreshold != 3 {
		t.Errorf("expected failure threshold 3, got %d", cfg.Limits.CircuitBreaker.FailureThreshold)
	}
	if !cfg.Limits.LocalCache.Enabled || cfg.Limits.LocalCache.Threshold != 5 {
		t.Errorf("expected local cache enabled with threshold 5, got %+v", cfg.Limits.LocalCache)
	}
	if len(cfg.Limits.Storage.Redis.Addrs) != 2 {
		t.Errorf("expected 2 redis addrs, got %v", cfg.Limits.Storage.Redis.Addrs)
	}
	if cfg.Telemetry.Logging.Level != "debug" {
		t.Errorf("expected logging level %q, got %q", "debug", cfg.Telemetry.Logging.Level)
	}
}

func TestLoadConfig_DefaultsPreserved(t *testing.T) {
	path := writeConfig(t, `
server:
  listen_address: "127.0.0.1:8080"
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if len(cfg.Limits.Tiers) != len(DefaultTiers()) {
		t.Errorf("expected default tier table, got %d tiers", len(cfg.Limits.Tiers))
	}
	if !cfg.Limits.Abuse.Enabled {
		t.Error("expected abuse tracking enabled by default")
	}
	if !cfg.Telemetry.Metrics.Enabled {
		t.Error("expected metrics enabled by default")
	}
	if !cfg.Telemetry.Health.Enabled {
		t.Error("expected health endpoints enabled by default")
	}
	if cfg.Limits.StoreTimeout != DefaultStoreTimeout {
		t.Errorf("expected store timeout %v, got %v", DefaultStoreTimeout, cfg.Limits.StoreTimeout)
	}
	if cfg.Limits.Retention.Schedule != "" {
		t.Errorf("expected retention disabled unless configured, got %q", cfg.Limits.Retention.Schedule)
	}
}

func TestLoadConfig_ExplicitFalseOverridesDefault(t *testing.T) {
	path := writeConfig(t, `
limits:
  abuse:
    enabled: false
telemetry:
  metrics:
    enabled: false
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Limits.Abuse.Enabled {
		t.Error("expected abuse tracking disabled")
	}
	if cfg.Telemetry.Metrics.Enabled {
		t.Error("expected metrics disabled")
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "malformed yaml",
			content: "server: [",
			wantErr: "failed to parse",
		},
		{
			name:    "unknown field",
			content: "limits:\n  teirs: []\n",
			wantErr: "failed to parse",
		},
		{
			name: "invalid tier",
			content: `
limits:
  tiers:
    - name: free
      capacity: 0
      refill_rate_per_second: 1
`,
			wantErr: "limits.tiers",
		},
		{
			name:    "invalid failure policy",
			content: "limits:\n  failure_policy: maybe\n",
			wantErr: "limits.failure_policy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

func TestParse_EmptyDocument(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("expected empty document to parse, got %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("expected defaults to validate, got %v", err)
	}
}

func TestLoadConfigWithEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  listen_address: "127.0.0.1:8080"
limits:
  failure_policy: open
`)

	t.Setenv("GATEKEEPER_SERVER_LISTEN_ADDRESS", "0.0.0.0:7070")
	t.Setenv("GATEKEEPER_LIMITS_FAILURE_POLICY", "closed")
	t.Setenv("GATEKEEPER_LIMITS_STORE_TIMEOUT", "75ms")
	t.Setenv("GATEKEEPER_LIMITS_LOCAL_CACHE_ENABLED", "true")
	t.Setenv("GATEKEEPER_LIMITS_STORAGE_BACKEND", "redis")
	t.Setenv("GATEKEEPER_LIMITS_STORAGE_REDIS_ADDRS", "a:6379, b:6379")
	t.Setenv("GATEKEEPER_TELEMETRY_LOGGING_LEVEL", "warn")
	t.Setenv("GATEKEEPER_SERVER_READ_TIMEOUT", "not-a-duration")

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Server.ListenAddress != "0.0.0.0:7070" {
		t.Errorf("expected env listen address, got %q", cfg.Server.ListenAddress)
	}
	if cfg.Limits.FailurePolicy != "closed" {
		t.Errorf("expected env failure policy, got %q", cfg.Limits.FailurePolicy)
	}
	if cfg.Limits.StoreTimeout != 75*time.Millisecond {
		t.Errorf("expected env store timeout, got %v", cfg.Limits.StoreTimeout)
	}
	if !cfg.Limits.LocalCache.Enabled {
		t.Error("expected env to enable local cache")
	}
	if got := cfg.Limits.Storage.Redis.Addrs; len(got) != 2 || got[1] != "b:6379" {
		t.Errorf("expected env redis addrs [a:6379 b:6379], got %v", got)
	}
	if cfg.Telemetry.Logging.Level != "warn" {
		t.Errorf("expected env log level, got %q", cfg.Telemetry.Logging.Level)
	}
	if cfg.Server.ReadTimeout != DefaultReadTimeout {
		t.Errorf("expected malformed env value ignored, got %v", cfg.Server.ReadTimeout)
	}
}

func TestLoadConfigWithEnvOverrides_InvalidOverride(t *testing.T) {
	path := writeConfig(t, "server:\n  listen_address: \"127.0.0.1:8080\"\n")
	t.Setenv("GATEKEEPER_LIMITS_STORAGE_BACKEND", "etcd")

	if _, err := LoadConfigWithEnvOverrides(path); err == nil {
		t.Error("expected validation error for invalid env override")
	}
}
