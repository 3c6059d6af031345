// Package tracing configures OpenTelemetry tracing for Gatekeeper.
//
// When telemetry.tracing.enabled is false, New returns a noop tracer and no
// exporter is created. Otherwise spans are exported over OTLP/gRPC and the
// tracer provider is installed globally; the coordinator's limits.Check and
// limits.CheckLevels spans use it.
//
//	tracer, err := tracing.New(cfg.Telemetry.Tracing, version)
//	if err != nil {
//	    return err
//	}
//	defer tracer.Shutdown(context.Background())
//
//	handler = tracing.HTTPMiddleware(tracer, handler)
package tracing
