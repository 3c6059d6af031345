package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"mercator-hq/gatekeeper/pkg/limits/tier"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "server.listen_address").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateLimits(&cfg.Limits)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

// validateServer validates HTTP server configuration.
func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: "listen address is required",
		})
	} else if _, _, err := net.SplitHostPort(cfg.ListenAddress); err != nil {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: fmt.Sprintf("invalid host:port: %v", err),
		})
	}

	if cfg.ReadTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.read_timeout", Message: "read timeout must be positive"})
	}
	if cfg.WriteTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.write_timeout", Message: "write timeout must be positive"})
	}
	if cfg.IdleTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.idle_timeout", Message: "idle timeout must be positive"})
	}
	if cfg.ShutdownTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.shutdown_timeout", Message: "shutdown timeout must be positive"})
	}
	if cfg.MaxHeaderBytes < 0 {
		errs = append(errs, FieldError{Field: "server.max_header_bytes", Message: "max header bytes must be non-negative"})
	}
	if cfg.MaxHeaderBytes > 10*1024*1024 { // 10MB is excessive
		errs = append(errs, FieldError{Field: "server.max_header_bytes", Message: "max header bytes exceeds reasonable limit (10MB)"})
	}

	errs = append(errs, validateTLS(&cfg.TLS)...)

	return errs
}

// validateTLS validates server TLS configuration. Files are only checked
// for presence in the config; the server reports unreadable files at start.
func validateTLS(cfg *TLSConfig) []FieldError {
	if !cfg.Enabled {
		return nil
	}

	var errs []FieldError

	if cfg.CertFile == "" {
		errs = append(errs, FieldError{Field: "server.tls.cert_file", Message: "cert file is required when TLS is enabled"})
	}
	if cfg.KeyFile == "" {
		errs = append(errs, FieldError{Field: "server.tls.key_file", Message: "key file is required when TLS is enabled"})
	}

	switch cfg.MinVersion {
	case "1.2", "1.3":
	default:
		errs = append(errs, FieldError{
			Field:   "server.tls.min_version",
			Message: fmt.Sprintf("unsupported TLS version %q (must be 1.2 or 1.3)", cfg.MinVersion),
		})
	}

	if cfg.ReloadInterval <= 0 {
		errs = append(errs, FieldError{Field: "server.tls.reload_interval", Message: "reload interval must be positive"})
	}

	if cfg.MTLS.Enabled {
		if cfg.MTLS.ClientCAFile == "" {
			errs = append(errs, FieldError{Field: "server.tls.mtls.client_ca_file", Message: "client CA file is required when mTLS is enabled"})
		}

		switch cfg.MTLS.ClientAuthType {
		case "require", "request", "verify_if_given":
		default:
			errs = append(errs, FieldError{
				Field:   "server.tls.mtls.client_auth_type",
				Message: fmt.Sprintf("invalid client auth type %q (must be require, request or verify_if_given)", cfg.MTLS.ClientAuthType),
			})
		}

		switch cfg.MTLS.IdentitySource {
		case "subject.CN", "subject.OU", "subject.O", "SAN":
		default:
			errs = append(errs, FieldError{
				Field:   "server.tls.mtls.identity_source",
				Message: fmt.Sprintf("invalid identity source %q (must be subject.CN, subject.OU, subject.O or SAN)", cfg.MTLS.IdentitySource),
			})
		}
	}

	return errs
}

// validateLimits validates admission control configuration.
func validateLimits(cfg *LimitsConfig) []FieldError {
	var errs []FieldError

	if _, err := BuildRegistry(cfg); err != nil {
		errs = append(errs, FieldError{
			Field:   "limits.tiers",
			Message: err.Error(),
		})
	}

	switch cfg.FailurePolicy {
	case "open", "closed":
	default:
		errs = append(errs, FieldError{
			Field:   "limits.failure_policy",
			Message: fmt.Sprintf("invalid failure policy %q (must be open or closed)", cfg.FailurePolicy),
		})
	}

	if cfg.FailOpenRemaining < 0 {
		errs = append(errs, FieldError{Field: "limits.fail_open_remaining", Message: "must be non-negative"})
	}
	if cfg.StoreTimeout <= 0 {
		errs = append(errs, FieldError{Field: "limits.store_timeout", Message: "store timeout must be positive"})
	}
	if strings.ContainsAny(cfg.KeyPrefix, "{} ") {
		errs = append(errs, FieldError{Field: "limits.key_prefix", Message: "key prefix cannot contain braces or spaces"})
	}

	// Circuit breaker
	if cfg.CircuitBreaker.FailureThreshold < 1 {
		errs = append(errs, FieldError{Field: "limits.circuit_breaker.failure_threshold", Message: "must be at least 1"})
	}
	if cfg.CircuitBreaker.CoolDown <= 0 {
		errs = append(errs, FieldError{Field: "limits.circuit_breaker.cool_down", Message: "cool-down must be positive"})
	}

	// Local cache
	if cfg.LocalCache.Enabled {
		if cfg.LocalCache.Threshold < 1 {
			errs = append(errs, FieldError{Field: "limits.local_cache.threshold", Message: "must be at least 1"})
		}
		if cfg.LocalCache.TTL <= 0 {
			errs = append(errs, FieldError{Field: "limits.local_cache.ttl", Message: "ttl must be positive"})
		}
		if cfg.LocalCache.MaxEntries < 1 {
			errs = append(errs, FieldError{Field: "limits.local_cache.max_entries", Message: "must be at least 1"})
		}
	}

	// Abuse
	if cfg.Abuse.Enabled {
		if cfg.Abuse.DailyThreshold < 1 {
			errs = append(errs, FieldError{Field: "limits.abuse.daily_threshold", Message: "must be at least 1"})
		}
		if cfg.Abuse.TTL < 24*time.Hour {
			errs = append(errs, FieldError{Field: "limits.abuse.ttl", Message: "ttl must cover at least one day"})
		}
		if cfg.Abuse.QueueSize < 1 {
			errs = append(errs, FieldError{Field: "limits.abuse.queue_size", Message: "must be at least 1"})
		}
		if cfg.Abuse.Workers < 1 {
			errs = append(errs, FieldError{Field: "limits.abuse.workers", Message: "must be at least 1"})
		}
	}

	errs = append(errs, validateStorage(&cfg.Storage)...)

	if cfg.Retention.Schedule != "" {
		if _, err := cron.ParseStandard(cfg.Retention.Schedule); err != nil {
			errs = append(errs, FieldError{
				Field:   "limits.retention.schedule",
				Message: fmt.Sprintf("invalid cron expression: %v", err),
			})
		}
	}

	return errs
}

// validateStorage validates store configuration.
func validateStorage(cfg *StorageConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case "redis":
		if len(cfg.Redis.Addrs) == 0 {
			errs = append(errs, FieldError{Field: "limits.storage.redis.addrs", Message: "at least one address is required"})
		}
		for i, addr := range cfg.Redis.Addrs {
			if _, _, err := net.SplitHostPort(addr); err != nil {
				errs = append(errs, FieldError{
					Field:   fmt.Sprintf("limits.storage.redis.addrs[%d]", i),
					Message: fmt.Sprintf("invalid host:port %q", addr),
				})
			}
		}
		if cfg.Redis.DB < 0 {
			errs = append(errs, FieldError{Field: "limits.storage.redis.db", Message: "must be non-negative"})
		}
		if len(cfg.Redis.Addrs) > 1 && cfg.Redis.DB != 0 {
			errs = append(errs, FieldError{Field: "limits.storage.redis.db", Message: "cluster mode supports only db 0"})
		}
		if cfg.Redis.PoolSize < 0 {
			errs = append(errs, FieldError{Field: "limits.storage.redis.pool_size", Message: "must be non-negative"})
		}
	case "sqlite":
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{Field: "limits.storage.sqlite.path", Message: "path is required"})
		}
		if cfg.SQLite.BusyTimeout < 0 {
			errs = append(errs, FieldError{Field: "limits.storage.sqlite.busy_timeout", Message: "must be non-negative"})
		}
	case "memory":
		if cfg.Memory.MaxEntries < 0 {
			errs = append(errs, FieldError{Field: "limits.storage.memory.max_entries", Message: "must be non-negative"})
		}
		if cfg.Memory.CleanupInterval < 0 {
			errs = append(errs, FieldError{Field: "limits.storage.memory.cleanup_interval", Message: "must be non-negative"})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "limits.storage.backend",
			Message: fmt.Sprintf("invalid backend %q (must be redis, sqlite, or memory)", cfg.Backend),
		})
	}

	return errs
}

// validateTelemetry validates telemetry configuration.
func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid log level %q (must be debug, info, warn, or error)", cfg.Logging.Level),
		})
	}

	switch strings.ToLower(cfg.Logging.Format) {
	case "json", "text", "console":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid log format %q (must be json, text, or console)", cfg.Logging.Format),
		})
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{Field: "telemetry.metrics.path", Message: "path must start with /"})
	}

	if cfg.Tracing.Enabled {
		switch cfg.Tracing.Sampler {
		case "always", "never", "ratio":
		default:
			errs = append(errs, FieldError{
				Field:   "telemetry.tracing.sampler",
				Message: fmt.Sprintf("invalid sampler %q (must be always, never, or ratio)", cfg.Tracing.Sampler),
			})
		}
		if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
			errs = append(errs, FieldError{Field: "telemetry.tracing.sample_ratio", Message: "must be between 0.0 and 1.0"})
		}
		if cfg.Tracing.Endpoint == "" {
			errs = append(errs, FieldError{Field: "telemetry.tracing.endpoint", Message: "endpoint is required when tracing is enabled"})
		}
	}

	if cfg.Health.Enabled {
		if !strings.HasPrefix(cfg.Health.LivenessPath, "/") {
			errs = append(errs, FieldError{Field: "telemetry.health.liveness_path", Message: "path must start with /"})
		}
		if !strings.HasPrefix(cfg.Health.ReadinessPath, "/") {
			errs = append(errs, FieldError{Field: "telemetry.health.readiness_path", Message: "path must start with /"})
		}
	}

	return errs
}

// BuildRegistry builds the tier registry described by cfg.
func BuildRegistry(cfg *LimitsConfig) (*tier.Registry, error) {
	tiers := make([]tier.Config, 0, len(cfg.Tiers))
	for _, t := range cfg.Tiers {
		tiers = append(tiers, tier.Config{
			Name:                tier.Normalize(t.Name),
			Capacity:            t.Capacity,
			RefillRatePerSecond: t.RefillRatePerSecond,
			AbuseDailyThreshold: t.AbuseDailyThreshold,
		})
	}
	return tier.NewRegistry(tiers, tier.Normalize(cfg.DefaultTier))
}
