package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "GATEKEEPER_"

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any errors.
// The configuration is not modified by environment variables; use LoadConfigWithEnvOverrides
// for that functionality.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML on top of the defaults. Unknown fields are rejected
// so that a misspelled key does not silently fall back to a default.
func Parse(data []byte) (*Config, error) {
	cfg := NewDefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	ApplyDefaults(cfg)
	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention GATEKEEPER_SECTION_FIELD (e.g., GATEKEEPER_SERVER_LISTEN_ADDRESS).
// Environment variables always take precedence over file-based configuration.
//
// The loading sequence is:
// 1. Load YAML from file
// 2. Apply default values
// 3. Apply environment variable overrides
// 4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Malformed values are ignored and leave the file value in place.
func applyEnvOverrides(cfg *Config) {
	// Server overrides
	envString("SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	envDuration("SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	envDuration("SERVER_IDLE_TIMEOUT", &cfg.Server.IdleTimeout)
	envDuration("SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	envInt("SERVER_MAX_HEADER_BYTES", &cfg.Server.MaxHeaderBytes)
	envBool("SERVER_TLS_ENABLED", &cfg.Server.TLS.Enabled)
	envString("SERVER_TLS_CERT_FILE", &cfg.Server.TLS.CertFile)
	envString("SERVER_TLS_KEY_FILE", &cfg.Server.TLS.KeyFile)
	envString("SERVER_TLS_MTLS_CLIENT_CA_FILE", &cfg.Server.TLS.MTLS.ClientCAFile)

	// Limits overrides
	envString("LIMITS_DEFAULT_TIER", &cfg.Limits.DefaultTier)
	envString("LIMITS_FAILURE_POLICY", &cfg.Limits.FailurePolicy)
	envInt64("LIMITS_FAIL_OPEN_REMAINING", &cfg.Limits.FailOpenRemaining)
	envDuration("LIMITS_STORE_TIMEOUT", &cfg.Limits.StoreTimeout)
	envString("LIMITS_KEY_PREFIX", &cfg.Limits.KeyPrefix)
	envBool("LIMITS_WATCH", &cfg.Limits.Watch)
	envInt("LIMITS_CIRCUIT_BREAKER_FAILURE_THRESHOLD", &cfg.Limits.CircuitBreaker.FailureThreshold)
	envDuration("LIMITS_CIRCUIT_BREAKER_COOL_DOWN", &cfg.Limits.CircuitBreaker.CoolDown)
	envBool("LIMITS_LOCAL_CACHE_ENABLED", &cfg.Limits.LocalCache.Enabled)
	envInt64("LIMITS_LOCAL_CACHE_THRESHOLD", &cfg.Limits.LocalCache.Threshold)
	envDuration("LIMITS_LOCAL_CACHE_TTL", &cfg.Limits.LocalCache.TTL)
	envBool("LIMITS_ABUSE_ENABLED", &cfg.Limits.Abuse.Enabled)
	envInt64("LIMITS_ABUSE_DAILY_THRESHOLD", &cfg.Limits.Abuse.DailyThreshold)
	envDuration("LIMITS_ABUSE_TTL", &cfg.Limits.Abuse.TTL)
	envString("LIMITS_RETENTION_SCHEDULE", &cfg.Limits.Retention.Schedule)

	// Storage overrides
	envString("LIMITS_STORAGE_BACKEND", &cfg.Limits.Storage.Backend)
	if val := os.Getenv(EnvPrefix + "LIMITS_STORAGE_REDIS_ADDRS"); val != "" {
		cfg.Limits.Storage.Redis.Addrs = splitList(val)
	}
	envString("LIMITS_STORAGE_REDIS_USERNAME", &cfg.Limits.Storage.Redis.Username)
	envString("LIMITS_STORAGE_REDIS_PASSWORD", &cfg.Limits.Storage.Redis.Password)
	envInt("LIMITS_STORAGE_REDIS_DB", &cfg.Limits.Storage.Redis.DB)
	envInt("LIMITS_STORAGE_REDIS_POOL_SIZE", &cfg.Limits.Storage.Redis.PoolSize)
	envString("LIMITS_STORAGE_SQLITE_PATH", &cfg.Limits.Storage.SQLite.Path)
	envDuration("LIMITS_STORAGE_SQLITE_BUSY_TIMEOUT", &cfg.Limits.Storage.SQLite.BusyTimeout)
	envInt("LIMITS_STORAGE_MEMORY_MAX_ENTRIES", &cfg.Limits.Storage.Memory.MaxEntries)

	// Telemetry overrides
	envString("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	envString("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	envBool("TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	envString("TELEMETRY_METRICS_PATH", &cfg.Telemetry.Metrics.Path)
	envBool("TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	envString("TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
	envFloat("TELEMETRY_TRACING_SAMPLE_RATIO", &cfg.Telemetry.Tracing.SampleRatio)
	envBool("TELEMETRY_HEALTH_ENABLED", &cfg.Telemetry.Health.Enabled)
}

func envString(name string, dst *string) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		*dst = val
	}
}

func envDuration(name string, dst *time.Duration) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}

func envInt(name string, dst *int) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

func envInt64(name string, dst *int64) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			*dst = i
		}
	}
}

func envFloat(name string, dst *float64) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(name string, dst *bool) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func splitList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
