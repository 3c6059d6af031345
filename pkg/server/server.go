package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"mercator-hq/gatekeeper/pkg/config"
	"mercator-hq/gatekeeper/pkg/limits"
	"mercator-hq/gatekeeper/pkg/server/middleware"
	"mercator-hq/gatekeeper/pkg/server/tlsconfig"
	"mercator-hq/gatekeeper/pkg/telemetry/health"
	"mercator-hq/gatekeeper/pkg/telemetry/metrics"
	"mercator-hq/gatekeeper/pkg/telemetry/tracing"
)

// Limiter makes admission decisions. *limits.Coordinator implements it.
type Limiter interface {
	Check(ctx context.Context, req limits.Request) (*limits.Result, error)
	CheckLevels(ctx context.Context, req limits.LevelRequest) (*limits.Result, error)
}

// ViolationReader reads daily violation counters. *abuse.Tracker implements it.
type ViolationReader interface {
	DailyViolationCount(ctx context.Context, clientID string, day time.Time) (int64, error)
}

// BuildInfo is reported on the version endpoint.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// Dependencies are the components the server exposes. Limiter is required;
// a nil optional component disables its routes.
type Dependencies struct {
	Limiter    Limiter
	Violations ViolationReader
	Health     *health.Checker
	Metrics    *metrics.Collector
	Tracer     *tracing.Tracer
	Logger     *slog.Logger
	Build      BuildInfo
}

// Server is the Gatekeeper HTTP server.
type Server struct {
	config     *config.ServerConfig
	telemetry  *config.TelemetryConfig
	deps       Dependencies
	logger     *slog.Logger
	httpServer *http.Server
	addr       net.Addr

	shutdownOnce sync.Once
	mu           sync.RWMutex
	isRunning    bool
}

// NewServer creates a server. It does not listen until Start is called.
func NewServer(cfg *config.ServerConfig, telemetry *config.TelemetryConfig, deps Dependencies) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("server config is required")
	}
	if deps.Limiter == nil {
		return nil, fmt.Errorf("limiter is required")
	}
	if telemetry == nil {
		telemetry = &config.TelemetryConfig{}
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		config:    cfg,
		telemetry: telemetry,
		deps:      deps,
		logger:    logger.With("component", "server"),
	}, nil
}

// Start listens on the configured address and serves until ctx is done,
// then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}

	tlsCfg, err := s.tlsConfig(ctx)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	ln, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddress, err)
	}
	if tlsCfg != nil {
		ln = tls.NewListener(ln, tlsCfg)
	}

	s.httpServer = &http.Server{
		Handler:        s.setupRoutes(),
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
		BaseContext:    func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	s.addr = ln.Addr()
	s.isRunning = true
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting gatekeeper server",
			"address", ln.Addr().String(),
			"tls_enabled", tlsCfg != nil,
			"mtls_enabled", tlsCfg != nil && s.config.TLS.MTLS.Enabled,
		)

		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case err := <-errChan:
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		return err
	}
}

// tlsConfig loads the server certificate and returns the listener TLS
// config, or nil when TLS is disabled. Certificates are reloaded until ctx
// is done.
func (s *Server) tlsConfig(ctx context.Context) (*tls.Config, error) {
	if !s.config.TLS.Enabled {
		return nil, nil
	}

	reloader := tlsconfig.NewReloader(s.config.TLS.CertFile, s.config.TLS.KeyFile, s.config.TLS.ReloadInterval, s.logger)
	if err := reloader.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
	}

	tlsCfg, err := tlsconfig.Build(s.config.TLS, reloader)
	if err != nil {
		return nil, fmt.Errorf("failed to configure TLS: %w", err)
	}
	return tlsCfg, nil
}

// Shutdown gracefully shuts down the server, waiting up to the configured
// shutdown timeout for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.RLock()
		running := s.isRunning
		s.mu.RUnlock()
		if !running {
			return
		}

		timeout := s.config.ShutdownTimeout
		if timeout <= 0 {
			timeout = config.DefaultShutdownTimeout
		}
		s.logger.Info("initiating graceful shutdown", "timeout", timeout.String())

		shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("error during server shutdown", "error", err)
			shutdownErr = fmt.Errorf("server shutdown error: %w", err)
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()

		s.logger.Info("gatekeeper server stopped")
	})

	return shutdownErr
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Addr returns the address the server listens on, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// Handler returns the configured HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// setupRoutes configures HTTP routes and the middleware chain.
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	s.handle(mux, "POST /v1/check", http.HandlerFunc(s.handleCheck))
	s.handle(mux, "POST /v1/check/levels", http.HandlerFunc(s.handleCheckLevels))
	if s.deps.Violations != nil {
		s.handle(mux, "GET /v1/violations/{client}", http.HandlerFunc(s.handleViolations))
	}

	if s.telemetry.Health.Enabled && s.deps.Health != nil {
		s.handle(mux, "GET "+s.telemetry.Health.LivenessPath, s.deps.Health.LivenessHandler())
		s.handle(mux, "GET "+s.telemetry.Health.ReadinessPath, s.deps.Health.ReadinessHandler())
	}
	s.handle(mux, "GET /version", health.VersionHandler(s.deps.Build.Version, s.deps.Build.Commit, s.deps.Build.BuildTime))

	if s.telemetry.Metrics.Enabled && s.deps.Metrics != nil {
		mux.Handle("GET "+s.telemetry.Metrics.Path, s.deps.Metrics.Handler())
	}

	var handler http.Handler = mux

	if s.deps.Tracer != nil && s.deps.Tracer.Enabled() {
		handler = tracing.HTTPMiddleware(s.deps.Tracer, handler)
	}

	handler = middleware.Logging(s.logger)(handler)
	handler = middleware.RequestID(handler)

	// Recovery middleware (outermost)
	handler = middleware.Recovery(s.logger)(handler)

	return handler
}

// handle registers h under pattern, recording request metrics with the
// pattern as route label.
func (s *Server) handle(mux *http.ServeMux, pattern string, h http.Handler) {
	var httpMetrics *metrics.HTTPMetrics
	if s.deps.Metrics != nil {
		httpMetrics = s.deps.Metrics.HTTP()
	}
	mux.Handle(pattern, middleware.Metrics(httpMetrics, pattern)(h))
}
