package config

import "time"

// Default values for configuration fields.
const (
	// Server defaults
	DefaultListenAddress   = "127.0.0.1:8080"
	DefaultReadTimeout     = 5 * time.Second
	DefaultWriteTimeout    = 5 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 15 * time.Second
	DefaultMaxHeaderBytes  = 1048576 // 1MB

	// TLS defaults
	DefaultTLSMinVersion      = "1.3"
	DefaultTLSReloadInterval  = 5 * time.Minute
	DefaultMTLSClientAuthType = "require"
	DefaultMTLSIdentitySource = "subject.CN"

	// Limits defaults
	DefaultFailurePolicy = "open"
	DefaultStoreTimeout  = 50 * time.Millisecond
	DefaultKeyPrefix     = "gatekeeper"

	// Circuit breaker defaults
	DefaultBreakerFailureThreshold = 5
	DefaultBreakerCoolDown         = 5 * time.Second

	// Local cache defaults
	DefaultLocalCacheEnabled    = false
	DefaultLocalCacheThreshold  = int64(10)
	DefaultLocalCacheTTL        = time.Minute
	DefaultLocalCacheMaxEntries = 100000

	// Abuse defaults
	DefaultAbuseEnabled        = true
	DefaultAbuseDailyThreshold = int64(100)
	DefaultAbuseTTL            = 72 * time.Hour
	DefaultAbuseQueueSize      = 1024
	DefaultAbuseWorkers        = 2

	// Storage defaults
	DefaultStorageBackend        = "memory"
	DefaultRedisAddr             = "localhost:6379"
	DefaultRedisDialTimeout      = time.Second
	DefaultRedisReadTimeout      = 500 * time.Millisecond
	DefaultRedisWriteTimeout     = 500 * time.Millisecond
	DefaultSQLitePath            = "data/gatekeeper.db"
	DefaultSQLiteBusyTimeout     = 5 * time.Second
	DefaultMemoryMaxEntries      = 100000
	DefaultMemoryCleanupInterval = time.Minute
	DefaultRetentionSchedule     = "*/5 * * * *"

	// Telemetry defaults
	DefaultLoggingLevel       = "info"
	DefaultLoggingFormat      = "json"
	DefaultMetricsEnabled     = true
	DefaultPrometheusPath     = "/metrics"
	DefaultTracingEnabled     = false
	DefaultTracingSampler     = "ratio"
	DefaultTracingSampleRatio = 0.1
	DefaultTracingService     = "gatekeeper"
	DefaultOTLPInsecure       = true
	DefaultOTLPTimeout        = 10 * time.Second
	DefaultHealthEnabled      = true
	DefaultLivenessPath       = "/health"
	DefaultReadinessPath      = "/ready"
	DefaultHealthCheckTimeout = time.Second
)

// DefaultTiers returns the tier table used when none is configured.
func DefaultTiers() []TierConfig {
	return []TierConfig{
		{Name: "free", Capacity: 60, RefillRatePerSecond: 1},
		{Name: "basic", Capacity: 300, RefillRatePerSecond: 5},
		{Name: "premium", Capacity: 1000, RefillRatePerSecond: 20},
		{Name: "enterprise", Capacity: 5000, RefillRatePerSecond: 100},
	}
}

// NewDefaultConfig returns a Config with every default applied, including
// boolean switches whose default is true. YAML decoding into this value
// leaves unset fields at their defaults.
func NewDefaultConfig() *Config {
	cfg := &Config{}
	cfg.Limits.LocalCache.Enabled = DefaultLocalCacheEnabled
	cfg.Limits.Abuse.Enabled = DefaultAbuseEnabled
	cfg.Telemetry.Metrics.Enabled = DefaultMetricsEnabled
	cfg.Telemetry.Tracing.Enabled = DefaultTracingEnabled
	cfg.Telemetry.Tracing.OTLP.Insecure = DefaultOTLPInsecure
	cfg.Telemetry.Health.Enabled = DefaultHealthEnabled
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.MaxHeaderBytes == 0 {
		cfg.Server.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if cfg.Server.TLS.MinVersion == "" {
		cfg.Server.TLS.MinVersion = DefaultTLSMinVersion
	}
	if cfg.Server.TLS.ReloadInterval == 0 {
		cfg.Server.TLS.ReloadInterval = DefaultTLSReloadInterval
	}
	if cfg.Server.TLS.MTLS.ClientAuthType == "" {
		cfg.Server.TLS.MTLS.ClientAuthType = DefaultMTLSClientAuthType
	}
	if cfg.Server.TLS.MTLS.IdentitySource == "" {
		cfg.Server.TLS.MTLS.IdentitySource = DefaultMTLSIdentitySource
	}

	applyLimitsDefaults(&cfg.Limits)
	applyTelemetryDefaults(&cfg.Telemetry)
}

func applyLimitsDefaults(cfg *LimitsConfig) {
	if len(cfg.Tiers) == 0 {
		cfg.Tiers = DefaultTiers()
	}
	if cfg.FailurePolicy == "" {
		cfg.FailurePolicy = DefaultFailurePolicy
	}
	if cfg.StoreTimeout == 0 {
		cfg.StoreTimeout = DefaultStoreTimeout
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}

	// Circuit breaker defaults
	if cfg.CircuitBreaker.FailureThreshold == 0 {
		cfg.CircuitBreaker.FailureThreshold = DefaultBreakerFailureThreshold
	}
	if cfg.CircuitBreaker.CoolDown == 0 {
		cfg.CircuitBreaker.CoolDown = DefaultBreakerCoolDown
	}

	// Local cache defaults
	if cfg.LocalCache.Threshold == 0 {
		cfg.LocalCache.Threshold = DefaultLocalCacheThreshold
	}
	if cfg.LocalCache.TTL == 0 {
		cfg.LocalCache.TTL = DefaultLocalCacheTTL
	}
	if cfg.LocalCache.MaxEntries == 0 {
		cfg.LocalCache.MaxEntries = DefaultLocalCacheMaxEntries
	}

	// Abuse defaults
	if cfg.Abuse.DailyThreshold == 0 {
		cfg.Abuse.DailyThreshold = DefaultAbuseDailyThreshold
	}
	if cfg.Abuse.TTL == 0 {
		cfg.Abuse.TTL = DefaultAbuseTTL
	}
	if cfg.Abuse.QueueSize == 0 {
		cfg.Abuse.QueueSize = DefaultAbuseQueueSize
	}
	if cfg.Abuse.Workers == 0 {
		cfg.Abuse.Workers = DefaultAbuseWorkers
	}

	// Storage defaults
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = DefaultStorageBackend
	}
	if len(cfg.Storage.Redis.Addrs) == 0 {
		cfg.Storage.Redis.Addrs = []string{DefaultRedisAddr}
	}
	if cfg.Storage.Redis.DialTimeout == 0 {
		cfg.Storage.Redis.DialTimeout = DefaultRedisDialTimeout
	}
	if cfg.Storage.Redis.ReadTimeout == 0 {
		cfg.Storage.Redis.ReadTimeout = DefaultRedisReadTimeout
	}
	if cfg.Storage.Redis.WriteTimeout == 0 {
		cfg.Storage.Redis.WriteTimeout = DefaultRedisWriteTimeout
	}
	if cfg.Storage.SQLite.Path == "" {
		cfg.Storage.SQLite.Path = DefaultSQLitePath
	}
	if cfg.Storage.SQLite.BusyTimeout == 0 {
		cfg.Storage.SQLite.BusyTimeout = DefaultSQLiteBusyTimeout
	}
	if cfg.Storage.Memory.MaxEntries == 0 {
		cfg.Storage.Memory.MaxEntries = DefaultMemoryMaxEntries
	}
	if cfg.Storage.Memory.CleanupInterval == 0 {
		cfg.Storage.Memory.CleanupInterval = DefaultMemoryCleanupInterval
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLoggingFormat
	}

	// Metrics defaults
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultPrometheusPath
	}

	// Tracing defaults
	if cfg.Tracing.Sampler == "" {
		cfg.Tracing.Sampler = DefaultTracingSampler
	}
	if cfg.Tracing.SampleRatio == 0 {
		cfg.Tracing.SampleRatio = DefaultTracingSampleRatio
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = DefaultTracingService
	}
	if cfg.Tracing.OTLP.Timeout == 0 {
		cfg.Tracing.OTLP.Timeout = DefaultOTLPTimeout
	}

	// Health defaults
	if cfg.Health.LivenessPath == "" {
		cfg.Health.LivenessPath = DefaultLivenessPath
	}
	if cfg.Health.ReadinessPath == "" {
		cfg.Health.ReadinessPath = DefaultReadinessPath
	}
	if cfg.Health.CheckTimeout == 0 {
		cfg.Health.CheckTimeout = DefaultHealthCheckTimeout
	}
}
