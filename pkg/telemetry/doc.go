// Package telemetry groups the observability packages of Gatekeeper.
//
// # Components
//
//   - logging: slog construction with request, client, tier and endpoint
//     fields taken from the context, and optional client id masking
//   - metrics: the Prometheus registry, HTTP request metrics and the
//     exposition handler
//   - tracing: OpenTelemetry tracer with an OTLP/gRPC exporter, noop when
//     disabled
//   - health: liveness and readiness checks (store ping, breaker state)
//
// # Wiring
//
// The run command builds each component from the telemetry section of the
// configuration and hands them to the coordinator and the server:
//
//	logger, _ := logging.New(logging.Config{Level: "info", Format: "json"})
//	collector := metrics.NewCollector(prometheus.NewRegistry())
//	tracer, _ := tracing.New(cfg.Telemetry.Tracing, version)
//	defer tracer.Shutdown(context.Background())
//
//	coordinator, _ := limits.New(limitsCfg,
//	    limits.WithLogger(logger),
//	    limits.WithMetrics(limits.NewMetrics(collector.Registry())),
//	    limits.WithTracer(tracer.Tracer()),
//	)
//
// Admission metrics are registered on the collector's registry so one
// scrape of the metrics path returns both HTTP and admission series.
package telemetry
