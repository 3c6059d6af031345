package abuse

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus metrics for violation tracking.
type Metrics struct {
	violations *prometheus.CounterVec
	alerts     *prometheus.CounterVec
	dropped    prometheus.Counter
	errors     prometheus.Counter
}

// NewMetrics registers violation tracking metrics with reg.
// A nil reg uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		violations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_abuse_violations_recorded_total",
				Help: "Total number of violations recorded in the shared store",
			},
			[]string{"tier"},
		),

		alerts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_abuse_alerts_total",
				Help: "Total number of abuse alerts raised",
			},
			[]string{"tier"},
		),

		dropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gatekeeper_abuse_notifications_dropped_total",
				Help: "Total number of violation notifications dropped because the queue was full",
			},
		),

		errors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gatekeeper_abuse_record_errors_total",
				Help: "Total number of violations that could not be recorded",
			},
		),
	}
}

func (m *Metrics) recordViolation(tierName string) {
	if m != nil {
		m.violations.WithLabelValues(tierName).Inc()
	}
}

func (m *Metrics) recordAlert(tierName string) {
	if m != nil {
		m.alerts.WithLabelValues(tierName).Inc()
	}
}

func (m *Metrics) recordDropped() {
	if m != nil {
		m.dropped.Inc()
	}
}

func (m *Metrics) recordError() {
	if m != nil {
		m.errors.Inc()
	}
}
