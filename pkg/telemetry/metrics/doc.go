// Package metrics exposes Gatekeeper's Prometheus registry.
//
// Component packages define their own metrics against a
// prometheus.Registerer (limits.NewMetrics, abuse.NewMetrics). This package
// owns the registry they share, adds runtime and HTTP metrics, and serves
// the exposition endpoint:
//
//	collector := metrics.NewCollector(nil)
//	limitsMetrics := limits.NewMetrics(collector.Registry())
//	mux.Handle("/metrics", collector.Handler())
package metrics
