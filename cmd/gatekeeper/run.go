package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"mercator-hq/gatekeeper/pkg/cli"
	"mercator-hq/gatekeeper/pkg/config"
	"mercator-hq/gatekeeper/pkg/limits"
	"mercator-hq/gatekeeper/pkg/limits/abuse"
	"mercator-hq/gatekeeper/pkg/limits/retention"
	"mercator-hq/gatekeeper/pkg/limits/storage"
	"mercator-hq/gatekeeper/pkg/server"
	"mercator-hq/gatekeeper/pkg/telemetry/health"
	"mercator-hq/gatekeeper/pkg/telemetry/metrics"
	"mercator-hq/gatekeeper/pkg/telemetry/tracing"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the Gatekeeper server",
	Long: `Start the Gatekeeper server with the specified configuration.

The server listens on the configured address and answers admission checks
from the shared token bucket store. It stops gracefully on SIGINT or SIGTERM.

Examples:
  # Start with default config
  gatekeeper run

  # Start with custom config
  gatekeeper run --config /etc/gatekeeper/gatekeeper.yaml

  # Override listen address
  gatekeeper run --listen 0.0.0.0:8080

  # Validate config without starting server
  gatekeeper run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting server")
}

func runServer(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	// Load configuration
	if err := config.Initialize(cfgFile); err != nil {
		return cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}
	cfg := config.GetConfig()

	// Apply flag overrides
	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if err := config.Validate(cfg); err != nil {
		return cli.NewConfigError("", err.Error())
	}

	logger, err := newLogger(cfg.Telemetry.Logging, os.Stdout)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	if runFlags.dryRun {
		fmt.Fprintln(out, "✓ Configuration valid")
		return nil
	}

	printBanner(out, cfg)

	ctx, stop := cli.SetupSignalHandler(context.Background())
	defer stop()

	// Tracing
	tracer, err := tracing.New(cfg.Telemetry.Tracing, Version)
	if err != nil {
		return cli.NewCommandError("run", fmt.Errorf("failed to initialize tracing: %w", err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("tracer shutdown failed", "error", err)
		}
	}()
	if tracer.Enabled() {
		fmt.Fprintf(out, "✓ Tracing enabled (%s)\n", cfg.Telemetry.Tracing.Endpoint)
	}

	// Metrics
	collector := metrics.NewCollector(prometheus.NewRegistry())

	// Store
	store, err := openStore(cfg.Limits.Storage)
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer store.Close()
	fmt.Fprintf(out, "✓ Store initialized (%s)\n", backendName(cfg.Limits.Storage.Backend))

	opts := []limits.Option{
		limits.WithMetrics(limits.NewMetrics(collector.Registry())),
		limits.WithTracer(tracer.Tracer()),
		limits.WithLogger(logger),
	}

	// Violation tracking
	var tracker *abuse.Tracker
	if cfg.Limits.Abuse.Enabled {
		tracker = newTracker(&cfg.Limits, store,
			abuse.WithLogger(logger),
			abuse.WithMetrics(abuse.NewMetrics(collector.Registry())),
		)
		defer tracker.Close()
		opts = append(opts, limits.WithViolationNotifier(tracker))
		fmt.Fprintf(out, "✓ Violation tracking enabled (threshold %d/day)\n", cfg.Limits.Abuse.DailyThreshold)
	}

	coordinator, err := newCoordinator(&cfg.Limits, store, opts...)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "✓ Tiers loaded (%d tiers, default %s)\n", coordinator.Registry().Len(), coordinator.Registry().Default().Name)

	// Retention for stores without native expiry
	if cleaner, ok := store.(storage.Cleaner); ok && cfg.Limits.Retention.Schedule != "" {
		scheduler := retention.NewScheduler(retention.NewPruner(cleaner), cfg.Limits.Retention.Schedule)
		if err := scheduler.Start(ctx); err != nil {
			slog.Warn("failed to start retention scheduler", "error", err)
		} else {
			defer scheduler.Stop()
			if next := scheduler.NextRun(); next != nil {
				slog.Debug("retention scheduler started", "next_run", next)
			}
		}
	}

	// Tier table reload
	if cfg.Limits.Watch {
		watcher, err := config.NewFileWatcher(cfgFile, 0)
		if err != nil {
			return cli.NewCommandError("run", fmt.Errorf("failed to watch config: %w", err))
		}
		defer watcher.Stop()

		go func() {
			err := watcher.Watch(ctx, func(next *config.Config) {
				reg, err := config.BuildRegistry(&next.Limits)
				if err != nil {
					slog.Error("tier table rejected", "error", err)
					return
				}
				coordinator.SetRegistry(reg)
				config.SetConfig(next)
				slog.Info("tier table reloaded", "tiers", reg.Len())
			})
			if err != nil {
				slog.Error("config watcher failed", "error", err)
			}
		}()
	}

	// Health checks
	checker := health.New(cfg.Telemetry.Health.CheckTimeout)
	checker.RegisterCheck("store", health.StoreCheck(store))
	checker.RegisterCheck("circuit", health.BreakerCheck(coordinator.Breaker()))

	deps := server.Dependencies{
		Limiter: coordinator,
		Health:  checker,
		Metrics: collector,
		Tracer:  tracer,
		Logger:  logger,
		Build: server.BuildInfo{
			Version:   Version,
			Commit:    GitCommit,
			BuildTime: BuildDate,
		},
	}
	if tracker != nil {
		deps.Violations = tracker
	}

	srv, err := server.NewServer(&cfg.Server, &cfg.Telemetry, deps)
	if err != nil {
		return cli.NewCommandError("run", err)
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start(ctx)
	}()

	if err := waitForServerReady(srv, errChan, 5*time.Second); err != nil {
		return cli.NewCommandError("run", fmt.Errorf("server failed to start: %w", err))
	}

	addr := srv.Addr().String()
	scheme := "http"
	if cfg.Server.TLS.Enabled {
		scheme = "https"
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "✓ Server listening on %s://%s\n", scheme, addr)
	if cfg.Telemetry.Health.Enabled {
		fmt.Fprintf(out, "✓ Health endpoint: %s://%s%s\n", scheme, addr, cfg.Telemetry.Health.ReadinessPath)
	}
	if cfg.Telemetry.Metrics.Enabled {
		fmt.Fprintf(out, "✓ Metrics endpoint: %s://%s%s\n", scheme, addr, cfg.Telemetry.Metrics.Path)
	}
	fmt.Fprintln(out, "\nPress Ctrl+C to stop")

	if err := <-errChan; err != nil {
		return cli.NewCommandError("run", err)
	}

	fmt.Fprintln(out, "✓ Server stopped")
	return nil
}

func printBanner(w io.Writer, cfg *config.Config) {
	fmt.Fprintf(w, "Gatekeeper v%s\n", Version)
	fmt.Fprintf(w, "Loading configuration from: %s\n", cfgFile)
	fmt.Fprintln(w, "✓ Configuration loaded")

	slog.Debug("limits configured",
		"failure_policy", cfg.Limits.FailurePolicy,
		"backend", backendName(cfg.Limits.Storage.Backend),
		"local_cache", cfg.Limits.LocalCache.Enabled,
		"watch", cfg.Limits.Watch,
	)
}

// waitForServerReady waits until srv has bound its listener, Start has
// failed, or timeout has passed.
func waitForServerReady(srv *server.Server, errChan <-chan error, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if srv.Addr() != nil {
			return nil
		}

		select {
		case err := <-errChan:
			if err == nil {
				err = fmt.Errorf("server stopped before it was ready")
			}
			return err
		case <-deadline.C:
			return fmt.Errorf("timed out after %s", timeout)
		case <-ticker.C:
		}
	}
}

func backendName(backend string) string {
	if backend == "" {
		return "memory"
	}
	return backend
}
