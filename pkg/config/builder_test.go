package config

import "time"

// ConfigBuilder provides a fluent API for building Config instances in tests.
// It starts with default values and allows selective overrides.
type ConfigBuilder struct {
	cfg *Config
}

// NewTestConfig creates a new ConfigBuilder whose configuration is valid
// and uses the memory store.
func NewTestConfig() *ConfigBuilder {
	return &ConfigBuilder{cfg: NewDefaultConfig()}
}

// Build returns the built Config instance.
func (b *ConfigBuilder) Build() *Config {
	return b.cfg
}

// WithListenAddress sets the server listen address.
func (b *ConfigBuilder) WithListenAddress(addr string) *ConfigBuilder {
	b.cfg.Server.ListenAddress = addr
	return b
}

// WithTiers replaces the tier table.
func (b *ConfigBuilder) WithTiers(tiers ...TierConfig) *ConfigBuilder {
	b.cfg.Limits.Tiers = tiers
	return b
}

// WithFailurePolicy sets the failure policy.
func (b *ConfigBuilder) WithFailurePolicy(policy string) *ConfigBuilder {
	b.cfg.Limits.FailurePolicy = policy
	return b
}

// WithBackend sets the storage backend.
func (b *ConfigBuilder) WithBackend(backend string) *ConfigBuilder {
	b.cfg.Limits.Storage.Backend = backend
	return b
}

// WithStoreTimeout sets the store timeout.
func (b *ConfigBuilder) WithStoreTimeout(d time.Duration) *ConfigBuilder {
	b.cfg.Limits.StoreTimeout = d
	return b
}

// WithLogLevel sets the logging level.
func (b *ConfigBuilder) WithLogLevel(level string) *ConfigBuilder {
	b.cfg.Telemetry.Logging.Level = level
	return b
}
