package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Namespace prefixes every Gatekeeper metric.
const Namespace = "gatekeeper"

// Collector owns the Prometheus registry served on the metrics endpoint.
// Component metrics (limits, abuse) register on Registry(); the collector
// itself adds runtime collectors and HTTP request metrics.
type Collector struct {
	registry *prometheus.Registry
	http     *HTTPMetrics
}

// NewCollector creates a collector. A nil registry creates a fresh one.
func NewCollector(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Collector{
		registry: registry,
		http:     NewHTTPMetrics(registry),
	}
}

// Registry returns the registry component metrics should register on.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// HTTP returns the HTTP request metrics.
func (c *Collector) HTTP() *HTTPMetrics {
	return c.http
}
