package main

import (
	"fmt"
	"io"
	"log/slog"

	"mercator-hq/gatekeeper/pkg/cli"
	"mercator-hq/gatekeeper/pkg/config"
	"mercator-hq/gatekeeper/pkg/limits"
	"mercator-hq/gatekeeper/pkg/limits/abuse"
	"mercator-hq/gatekeeper/pkg/limits/circuit"
	"mercator-hq/gatekeeper/pkg/limits/localcache"
	"mercator-hq/gatekeeper/pkg/limits/storage"
	"mercator-hq/gatekeeper/pkg/telemetry/logging"
)

// loadConfig loads the file named by --config with environment overrides.
// Commands other than run use it so they never touch the singleton.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return nil, cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg, nil
}

// newLogger builds the process logger. --verbose forces debug level.
func newLogger(cfg config.LoggingConfig, w io.Writer) (*slog.Logger, error) {
	level := cfg.Level
	if verbose {
		level = "debug"
	}

	logger, err := logging.New(logging.Config{
		Level:           level,
		Format:          cfg.Format,
		AddSource:       cfg.AddSource,
		RedactClientIDs: cfg.RedactClientIDs,
		Writer:          w,
	})
	if err != nil {
		return nil, cli.NewConfigError("telemetry.logging", err.Error())
	}
	return logger, nil
}

// openStore opens the configured backend.
func openStore(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Backend {
	case "redis":
		store, err := storage.NewRedisStore(storage.RedisConfig{
			Addrs:        cfg.Redis.Addrs,
			Username:     cfg.Redis.Username,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
			PoolSize:     cfg.Redis.PoolSize,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis store: %w", err)
		}
		return store, nil

	case "sqlite":
		store, err := storage.NewSQLiteStoreWithConfig(storage.SQLiteStoreConfig{
			Path:        cfg.SQLite.Path,
			BusyTimeout: cfg.SQLite.BusyTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create sqlite store: %w", err)
		}
		return store, nil

	case "memory", "":
		return storage.NewMemoryStoreWithConfig(storage.MemoryStoreConfig{
			MaxEntries:      cfg.Memory.MaxEntries,
			CleanupInterval: cfg.Memory.CleanupInterval,
		}), nil

	default:
		return nil, cli.NewConfigError("limits.storage.backend", fmt.Sprintf("unsupported backend %q", cfg.Backend))
	}
}

// newCoordinator builds a coordinator for cfg around store. The local cache
// is attached when enabled.
func newCoordinator(cfg *config.LimitsConfig, store storage.BucketStore, opts ...limits.Option) (*limits.Coordinator, error) {
	reg, err := config.BuildRegistry(cfg)
	if err != nil {
		return nil, cli.NewConfigError("limits.tiers", err.Error())
	}

	if cfg.LocalCache.Enabled {
		opts = append(opts, limits.WithLocalCache(localcache.New(localcache.Config{
			Threshold:  cfg.LocalCache.Threshold,
			TTL:        cfg.LocalCache.TTL,
			MaxEntries: cfg.LocalCache.MaxEntries,
		})))
	}

	return limits.New(limits.Config{
		Registry: reg,
		Store:    store,
		Breaker: circuit.Config{
			FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
			CoolDown:         cfg.CircuitBreaker.CoolDown,
		},
		FailurePolicy:     limits.FailurePolicy(cfg.FailurePolicy),
		FailOpenRemaining: cfg.FailOpenRemaining,
		StoreTimeout:      cfg.StoreTimeout,
		KeyPrefix:         cfg.KeyPrefix,
	}, opts...)
}

// newTracker builds the violation tracker. Close it to stop its workers.
func newTracker(cfg *config.LimitsConfig, store storage.ViolationStore, opts ...abuse.Option) *abuse.Tracker {
	return abuse.New(abuse.Config{
		DailyThreshold: cfg.Abuse.DailyThreshold,
		TTL:            cfg.Abuse.TTL,
		KeyPrefix:      cfg.KeyPrefix,
		QueueSize:      cfg.Abuse.QueueSize,
		Workers:        cfg.Abuse.Workers,
	}, store, opts...)
}

// writeOutput formats data in the --format of the calling command.
func writeOutput(w io.Writer, format string, data interface{}) error {
	f, err := cli.ParseOutputFormat(format)
	if err != nil {
		return err
	}
	return cli.NewFormatter(f).FormatTo(w, data)
}
