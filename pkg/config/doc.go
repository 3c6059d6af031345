// Package config provides configuration management for Gatekeeper.
//
// This package handles loading, validating, and reloading configuration
// from YAML files with environment variable overrides.
//
// # Configuration Loading
//
// Configuration can be loaded in two ways:
//
//  1. From a YAML file only:
//     cfg, err := config.LoadConfig("gatekeeper.yaml")
//
//  2. From a YAML file with environment variable overrides:
//     cfg, err := config.LoadConfigWithEnvOverrides("gatekeeper.yaml")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention GATEKEEPER_SECTION_FIELD.
// For example:
//
//   - GATEKEEPER_SERVER_LISTEN_ADDRESS overrides server.listen_address
//   - GATEKEEPER_LIMITS_FAILURE_POLICY overrides limits.failure_policy
//   - GATEKEEPER_LIMITS_STORAGE_REDIS_ADDRS overrides limits.storage.redis.addrs (comma-separated)
//
// # Configuration Precedence
//
//  1. Default values (defined in defaults.go)
//  2. Values from YAML file
//  3. Environment variable overrides
//  4. Validation (fails fast, reports every error)
//
// # Tier Table
//
// The tier table lives under limits.tiers. BuildRegistry turns it into an
// immutable tier.Registry; FileWatcher rebuilds it when the file changes so
// the running coordinator can swap registries without a restart:
//
//	watcher, _ := config.NewFileWatcher(path, 0)
//	go watcher.Watch(ctx, func(cfg *config.Config) {
//	    if reg, err := config.BuildRegistry(&cfg.Limits); err == nil {
//	        coordinator.SetRegistry(reg)
//	    }
//	})
//
// # Example Configuration
//
//	server:
//	  listen_address: "0.0.0.0:8080"
//
//	limits:
//	  tiers:
//	    - name: free
//	      capacity: 60
//	      refill_rate_per_second: 1
//	    - name: premium
//	      capacity: 1000
//	      refill_rate_per_second: 20
//	  failure_policy: open
//	  storage:
//	    backend: redis
//	    redis:
//	      addrs: ["redis:6379"]
//
//	telemetry:
//	  logging:
//	    level: info
//	    format: json
package config
