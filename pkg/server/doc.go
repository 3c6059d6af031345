// Package server provides the HTTP server exposing the Gatekeeper check API.
//
// The server is a thin adapter: it decodes requests, calls the coordinator
// and maps results onto HTTP. All admission logic lives in pkg/limits.
//
// # Basic Usage
//
//	coordinator, _ := limits.New(limits.Config{Registry: reg, Store: store})
//
//	srv, err := server.NewServer(&cfg.Server, &cfg.Telemetry, server.Dependencies{
//	    Limiter:    coordinator,
//	    Violations: tracker,
//	    Health:     checker,
//	    Metrics:    collector,
//	})
//	if err != nil {
//	    return err
//	}
//	return srv.Start(ctx) // blocks until ctx is cancelled
//
// # Routes
//
//   - POST /v1/check - Check one client against its account bucket
//   - POST /v1/check/levels - Check endpoint, account and global buckets
//   - GET /v1/violations/{client}?day=YYYY-MM-DD - Daily violation count
//   - GET /health - Liveness probe (telemetry.health.liveness_path)
//   - GET /ready - Readiness probe: store ping and circuit state
//   - GET /version - Build information
//   - GET /metrics - Prometheus exposition (telemetry.metrics.path)
//
// Check answers are 200 when admitted and 429 when rejected:
//
//	HTTP/1.1 429 Too Many Requests
//	X-RateLimit-Limit: 60
//	X-RateLimit-Remaining: 0
//	X-RateLimit-Reset: 1772447460
//	Retry-After: 1
//
//	{"allowed":false,"remaining":0,"limit":60,"reset_at":"2026-03-02T10:31:00Z",
//	 "retry_after_seconds":1,"tier":"free","level":"account","source":"store"}
//
// # Middleware Chain
//
// Requests pass through the following middleware (outermost first):
//  1. Recovery: Recovers from panics and returns 500 error
//  2. RequestID: Assigns the request ID used in logs
//  3. Logging: Logs request/response details
//  4. Tracing: Continues the caller's trace (when enabled)
//  5. Metrics: Per-route request metrics
//
// # Graceful Shutdown
//
// Start returns after ctx is cancelled and in-flight requests finished or
// server.shutdown_timeout elapsed.
package server
