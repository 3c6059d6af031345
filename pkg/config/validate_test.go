package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestValidate_Defaults(t *testing.T) {
	if err := Validate(NewTestConfig().Build()); err != nil {
		t.Errorf("expected default configuration to be valid, got %v", err)
	}
}

func TestValidate_Fields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"empty listen address", func(c *Config) { c.Server.ListenAddress = "" }, "server.listen_address"},
		{"listen address without port", func(c *Config) { c.Server.ListenAddress = "localhost" }, "server.listen_address"},
		{"negative read timeout", func(c *Config) { c.Server.ReadTimeout = -time.Second }, "server.read_timeout"},
		{"huge headers", func(c *Config) { c.Server.MaxHeaderBytes = 11 * 1024 * 1024 }, "server.max_header_bytes"},
		{"tls without cert", func(c *Config) {
			c.Server.TLS.Enabled = true
			c.Server.TLS.KeyFile = "key.pem"
		}, "server.tls.cert_file"},
		{"tls 1.1", func(c *Config) {
			c.Server.TLS = TLSConfig{Enabled: true, CertFile: "c.pem", KeyFile: "k.pem", MinVersion: "1.1", ReloadInterval: time.Minute}
		}, "server.tls.min_version"},
		{"mtls without ca", func(c *Config) {
			c.Server.TLS.Enabled = true
			c.Server.TLS.CertFile = "c.pem"
			c.Server.TLS.KeyFile = "k.pem"
			c.Server.TLS.MTLS.Enabled = true
		}, "server.tls.mtls.client_ca_file"},
		{"mtls bad identity source", func(c *Config) {
			c.Server.TLS.Enabled = true
			c.Server.TLS.CertFile = "c.pem"
			c.Server.TLS.KeyFile = "k.pem"
			c.Server.TLS.MTLS = MTLSConfig{Enabled: true, ClientCAFile: "ca.pem", ClientAuthType: "require", IdentitySource: "email"}
		}, "server.tls.mtls.identity_source"},
		{"no tiers", func(c *Config) { c.Limits.Tiers = []TierConfig{} }, "limits.tiers"},
		{"duplicate tiers", func(c *Config) {
			c.Limits.Tiers = []TierConfig{
				{Name: "free", Capacity: 1, RefillRatePerSecond: 1},
				{Name: "FREE", Capacity: 2, RefillRatePerSecond: 1},
			}
		}, "limits.tiers"},
		{"negative refill", func(c *Config) {
			c.Limits.Tiers = []TierConfig{{Name: "free", Capacity: 1, RefillRatePerSecond: -1}}
		}, "limits.tiers"},
		{"default tier not lowest", func(c *Config) { c.Limits.DefaultTier = "enterprise" }, "limits.tiers"},
		{"default tier unknown", func(c *Config) { c.Limits.DefaultTier = "gold" }, "limits.tiers"},
		{"bad failure policy", func(c *Config) { c.Limits.FailurePolicy = "sometimes" }, "limits.failure_policy"},
		{"negative fail open remaining", func(c *Config) { c.Limits.FailOpenRemaining = -1 }, "limits.fail_open_remaining"},
		{"zero store timeout", func(c *Config) { c.Limits.StoreTimeout = 0 }, "limits.store_timeout"},
		{"brace in prefix", func(c *Config) { c.Limits.KeyPrefix = "gk{x}" }, "limits.key_prefix"},
		{"zero breaker threshold", func(c *Config) { c.Limits.CircuitBreaker.FailureThreshold = 0 }, "limits.circuit_breaker.failure_threshold"},
		{"zero cool down", func(c *Config) { c.Limits.CircuitBreaker.CoolDown = 0 }, "limits.circuit_breaker.cool_down"},
		{"zero cache threshold", func(c *Config) {
			c.Limits.LocalCache.Enabled = true
			c.Limits.LocalCache.Threshold = 0
		}, "limits.local_cache.threshold"},
		{"short abuse ttl", func(c *Config) { c.Limits.Abuse.TTL = time.Hour }, "limits.abuse.ttl"},
		{"zero abuse workers", func(c *Config) { c.Limits.Abuse.Workers = 0 }, "limits.abuse.workers"},
		{"unknown backend", func(c *Config) { c.Limits.Storage.Backend = "etcd" }, "limits.storage.backend"},
		{"bad redis addr", func(c *Config) {
			c.Limits.Storage.Backend = "redis"
			c.Limits.Storage.Redis.Addrs = []string{"redis"}
		}, "limits.storage.redis.addrs[0]"},
		{"cluster with db", func(c *Config) {
			c.Limits.Storage.Backend = "redis"
			c.Limits.Storage.Redis.Addrs = []string{"a:6379", "b:6379"}
			c.Limits.Storage.Redis.DB = 2
		}, "limits.storage.redis.db"},
		{"empty sqlite path", func(c *Config) {
			c.Limits.Storage.Backend = "sqlite"
			c.Limits.Storage.SQLite.Path = ""
		}, "limits.storage.sqlite.path"},
		{"bad cron", func(c *Config) { c.Limits.Retention.Schedule = "every now and then" }, "limits.retention.schedule"},
		{"bad log level", func(c *Config) { c.Telemetry.Logging.Level = "verbose" }, "telemetry.logging.level"},
		{"bad log format", func(c *Config) { c.Telemetry.Logging.Format = "xml" }, "telemetry.logging.format"},
		{"metrics path", func(c *Config) { c.Telemetry.Metrics.Path = "metrics" }, "telemetry.metrics.path"},
		{"tracing without endpoint", func(c *Config) { c.Telemetry.Tracing.Enabled = true }, "telemetry.tracing.endpoint"},
		{"tracing ratio", func(c *Config) {
			c.Telemetry.Tracing.Enabled = true
			c.Telemetry.Tracing.Endpoint = "localhost:4317"
			c.Telemetry.Tracing.SampleRatio = 1.5
		}, "telemetry.tracing.sample_ratio"},
		{"readiness path", func(c *Config) { c.Telemetry.Health.ReadinessPath = "ready" }, "telemetry.health.readiness_path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewTestConfig().Build()
			tt.mutate(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatalf("expected validation error for %s", tt.field)
			}

			var verr ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %T", err)
			}

			found := false
			for _, fe := range verr.Errors {
				if fe.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("expected error for field %q, got %v", tt.field, verr.Errors)
			}
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := NewTestConfig().
		WithListenAddress("").
		WithFailurePolicy("sideways").
		WithBackend("etcd").
		WithLogLevel("loud").
		Build()

	err := Validate(cfg)
	var verr ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(verr.Errors) != 4 {
		t.Errorf("expected 4 errors, got %d: %v", len(verr.Errors), verr.Errors)
	}
	if !strings.Contains(err.Error(), "with 4 errors") {
		t.Errorf("expected aggregated message, got %q", err.Error())
	}
}

func TestValidationError_SingleError(t *testing.T) {
	err := ValidationError{Errors: []FieldError{{Field: "server.listen_address", Message: "listen address is required"}}}
	want := "configuration validation failed: server.listen_address: listen address is required"
	if err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}
}

func TestBuildRegistry(t *testing.T) {
	cfg := NewTestConfig().WithTiers(
		TierConfig{Name: " Premium ", Capacity: 1000, RefillRatePerSecond: 10, AbuseDailyThreshold: 50},
		TierConfig{Name: "free", Capacity: 100, RefillRatePerSecond: 1},
	).Build()

	reg, err := BuildRegistry(&cfg.Limits)
	if err != nil {
		t.Fatalf("BuildRegistry failed: %v", err)
	}

	premium, known := reg.Resolve("PREMIUM")
	if !known {
		t.Fatal("expected premium to resolve")
	}
	if premium.AbuseDailyThreshold != 50 {
		t.Errorf("expected abuse threshold 50, got %d", premium.AbuseDailyThreshold)
	}
	if reg.Default().Name != "free" {
		t.Errorf("expected free as default, got %q", reg.Default().Name)
	}
}
