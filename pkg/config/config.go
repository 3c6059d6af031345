package config

import "time"

// Config is the root configuration structure for Gatekeeper.
// It contains the admission control settings, the HTTP server and the
// observability stack.
type Config struct {
	// Server contains HTTP server configuration including listen address,
	// timeouts, and header limits.
	Server ServerConfig `yaml:"server"`

	// Limits contains the tier table, failure handling, circuit breaker,
	// local cache, abuse detection, and storage settings.
	Limits LimitsConfig `yaml:"limits"`

	// Telemetry contains configuration for observability including logging,
	// metrics, tracing, and health endpoints.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains configuration for the HTTP server.
type ServerConfig struct {
	// ListenAddress is the address and port for the server to listen on.
	// Format: "host:port" (e.g., "127.0.0.1:8080", "0.0.0.0:8080").
	// Default: "127.0.0.1:8080"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire request.
	// Default: 5s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the
	// response.
	// Default: 5s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request
	// when keep-alives are enabled.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for in-flight requests
	// during graceful shutdown.
	// Default: 15s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxHeaderBytes limits the size of request headers.
	// Default: 1048576 (1MB)
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// TLS configures HTTPS for the admission API.
	TLS TLSConfig `yaml:"tls"`
}

// TLSConfig configures TLS for the server.
type TLSConfig struct {
	// Enabled serves HTTPS instead of HTTP.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// CertFile is the path to the PEM-encoded certificate chain.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded private key.
	KeyFile string `yaml:"key_file"`

	// MinVersion is the lowest accepted protocol version: "1.2" or "1.3".
	// Default: "1.3"
	MinVersion string `yaml:"min_version"`

	// CipherSuites restricts TLS 1.2 cipher suites by name. Empty uses the
	// Go defaults.
	CipherSuites []string `yaml:"cipher_suites"`

	// ReloadInterval is how often the certificate files are checked for
	// changes, so renewed certificates are picked up without a restart.
	// Default: 5m
	ReloadInterval time.Duration `yaml:"reload_interval"`

	// MTLS configures client certificate authentication.
	MTLS MTLSConfig `yaml:"mtls"`
}

// MTLSConfig configures client certificate authentication.
type MTLSConfig struct {
	// Enabled requests client certificates.
	Enabled bool `yaml:"enabled"`

	// ClientCAFile is the PEM-encoded CA bundle client certificates are
	// verified against.
	ClientCAFile string `yaml:"client_ca_file"`

	// ClientAuthType is one of "require", "request" or "verify_if_given".
	// Default: "require"
	ClientAuthType string `yaml:"client_auth_type"`

	// IdentitySource selects the certificate field used as client id when a
	// check omits one: "subject.CN", "subject.OU", "subject.O" or "SAN".
	// Default: "subject.CN"
	IdentitySource string `yaml:"identity_source"`
}

// LimitsConfig contains admission control configuration.
type LimitsConfig struct {
	// Tiers is the tier table. Every tier needs a positive capacity and a
	// non-negative refill rate.
	Tiers []TierConfig `yaml:"tiers"`

	// DefaultTier is the tier used for unknown tier names. It must be the
	// lowest tier. Empty selects the lowest tier automatically.
	DefaultTier string `yaml:"default_tier"`

	// FailurePolicy decides the outcome when the store cannot answer.
	// Options: "open", "closed"
	// Default: "open"
	FailurePolicy string `yaml:"failure_policy"`

	// FailOpenRemaining is the remaining count reported on degraded admits.
	// Default: 0
	FailOpenRemaining int64 `yaml:"fail_open_remaining"`

	// StoreTimeout bounds each store round trip.
	// Default: 50ms
	StoreTimeout time.Duration `yaml:"store_timeout"`

	// KeyPrefix namespaces every key written to the store.
	// Default: "gatekeeper"
	KeyPrefix string `yaml:"key_prefix"`

	// CircuitBreaker configures the breaker around the store.
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`

	// LocalCache configures the per-instance approximation cache.
	LocalCache LocalCacheConfig `yaml:"local_cache"`

	// Abuse configures daily violation tracking.
	Abuse AbuseConfig `yaml:"abuse"`

	// Storage selects and configures the shared store.
	Storage StorageConfig `yaml:"storage"`

	// Retention configures pruning of expired state for stores without
	// native key expiry.
	Retention RetentionConfig `yaml:"retention"`

	// Watch reloads the tier table when the configuration file changes.
	// Default: false
	Watch bool `yaml:"watch"`
}

// TierConfig is one entry of the tier table.
type TierConfig struct {
	// Name is the tier identifier (e.g., "free", "premium"). Case-insensitive.
	Name string `yaml:"name"`

	// Capacity is the maximum number of tokens the bucket holds.
	Capacity int64 `yaml:"capacity"`

	// RefillRatePerSecond is the number of tokens added per second.
	RefillRatePerSecond float64 `yaml:"refill_rate_per_second"`

	// AbuseDailyThreshold overrides limits.abuse.daily_threshold for this
	// tier. Zero uses the global threshold.
	AbuseDailyThreshold int64 `yaml:"abuse_daily_threshold"`
}

// CircuitBreakerConfig contains circuit breaker configuration.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive store failures that
	// opens the circuit.
	// Default: 5
	FailureThreshold int `yaml:"failure_threshold"`

	// CoolDown is how long the circuit stays open before a probe.
	// Default: 5s
	CoolDown time.Duration `yaml:"cool_down"`
}

// LocalCacheConfig contains local approximation cache configuration.
type LocalCacheConfig struct {
	// Enabled controls whether small requests may be admitted locally.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Threshold is the number of requests admitted locally per
	// authoritative answer.
	// Default: 10
	Threshold int64 `yaml:"threshold"`

	// TTL is how long an authoritative answer stays usable.
	// Default: 1m
	TTL time.Duration `yaml:"ttl"`

	// MaxEntries bounds the number of cached clients.
	// Default: 100000
	MaxEntries int `yaml:"max_entries"`
}

// AbuseConfig contains violation tracking configuration.
type AbuseConfig struct {
	// Enabled controls whether rejections are counted.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// DailyThreshold is the per-client daily violation count that raises
	// an alert.
	// Default: 100
	DailyThreshold int64 `yaml:"daily_threshold"`

	// TTL is how long a daily counter is kept.
	// Default: 72h
	TTL time.Duration `yaml:"ttl"`

	// QueueSize bounds pending violation notifications.
	// Default: 1024
	QueueSize int `yaml:"queue_size"`

	// Workers is the number of goroutines recording violations.
	// Default: 2
	Workers int `yaml:"workers"`
}

// StorageConfig configures the shared bucket store.
type StorageConfig struct {
	// Backend selects the store.
	// Options: "redis", "sqlite", "memory"
	// Default: "memory"
	Backend string `yaml:"backend"`

	// Redis contains Redis configuration.
	Redis RedisConfig `yaml:"redis"`

	// SQLite contains SQLite configuration.
	SQLite SQLiteConfig `yaml:"sqlite"`

	// Memory contains in-process store configuration.
	Memory MemoryConfig `yaml:"memory"`
}

// RedisConfig contains Redis connection configuration. More than one
// address selects a cluster client.
type RedisConfig struct {
	// Addrs is the list of Redis addresses.
	// Default: ["localhost:6379"]
	Addrs []string `yaml:"addrs"`

	// Username for Redis ACL authentication.
	Username string `yaml:"username"`

	// Password for Redis authentication.
	// This should typically be loaded from an environment variable.
	Password string `yaml:"password"`

	// DB is the database number (single-node only).
	// Default: 0
	DB int `yaml:"db"`

	// DialTimeout is the connection timeout.
	// Default: 1s
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// ReadTimeout is the socket read timeout.
	// Default: 500ms
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the socket write timeout.
	// Default: 500ms
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// PoolSize is the maximum number of connections per node.
	// Default: 0 (go-redis default)
	PoolSize int `yaml:"pool_size"`
}

// SQLiteConfig contains SQLite store configuration.
type SQLiteConfig struct {
	// Path is the database file path.
	// Default: "data/gatekeeper.db"
	Path string `yaml:"path"`

	// BusyTimeout is how long a writer waits for the database lock.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// MemoryConfig contains in-process store configuration.
type MemoryConfig struct {
	// MaxEntries bounds the number of buckets and counters.
	// Default: 100000
	MaxEntries int `yaml:"max_entries"`

	// CleanupInterval is how often expired entries are swept.
	// Default: 1m
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// RetentionConfig contains pruning configuration.
type RetentionConfig struct {
	// Schedule is a cron expression. Empty disables pruning; SQLite
	// deployments usually want DefaultRetentionSchedule.
	// Default: ""
	Schedule string `yaml:"schedule"`
}

// TelemetryConfig contains observability configuration.
type TelemetryConfig struct {
	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing contains distributed tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`

	// Health contains health check configuration.
	Health HealthConfig `yaml:"health"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text", "console"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`

	// RedactClientIDs masks client identifiers in log output. Client
	// identifiers are often API keys.
	// Default: false
	RedactClientIDs bool `yaml:"redact_client_ids"`
}

// MetricsConfig contains metrics collection configuration.
type MetricsConfig struct {
	// Enabled controls whether the Prometheus endpoint is served.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path for the Prometheus metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether distributed tracing is active.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Sampler determines the sampling strategy.
	// Options: "always", "never", "ratio"
	// Default: "ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of traces to sample (0.0 to 1.0).
	// Only used when Sampler is "ratio".
	// Default: 0.1
	SampleRatio float64 `yaml:"sample_ratio"`

	// Endpoint is the OTLP gRPC collector endpoint.
	// Example: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// ServiceName is the service name in traces.
	// Default: "gatekeeper"
	ServiceName string `yaml:"service_name"`

	// OTLP contains OTLP exporter specific configuration.
	OTLP OTLPConfig `yaml:"otlp"`
}

// OTLPConfig contains OTLP exporter configuration.
type OTLPConfig struct {
	// Insecure disables TLS for the OTLP connection.
	// Default: true
	Insecure bool `yaml:"insecure"`

	// Timeout is the timeout for OTLP exports.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}

// HealthConfig contains health check endpoint configuration.
type HealthConfig struct {
	// Enabled controls whether health check endpoints are enabled.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// LivenessPath is the path for the liveness probe endpoint.
	// Default: "/health"
	LivenessPath string `yaml:"liveness_path"`

	// ReadinessPath is the path for the readiness probe endpoint.
	// Default: "/ready"
	ReadinessPath string `yaml:"readiness_path"`

	// CheckTimeout bounds the store ping during readiness checks.
	// Default: 1s
	CheckTimeout time.Duration `yaml:"check_timeout"`
}
