package limits

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"mercator-hq/gatekeeper/pkg/limits/circuit"
)

// Metrics contains Prometheus metrics for admission control.
//
// Label values are limited to configured tiers and fixed enums. Client IDs
// and endpoints are caller input and never become labels.
type Metrics struct {
	// Decisions
	checks     *prometheus.CounterVec
	degraded   *prometheus.CounterVec
	circuitOff *prometheus.CounterVec
	timeouts   prometheus.Counter
	unknown    prometheus.Counter

	// Breaker
	circuitState       prometheus.Gauge
	circuitTransitions *prometheus.CounterVec

	// Latency
	checkDuration *prometheus.HistogramVec
	storeDuration *prometheus.HistogramVec
}

// NewMetrics registers admission control metrics with reg.
// A nil reg uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		checks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_checks_total",
				Help: "Total number of rate limit decisions",
			},
			[]string{"tier", "level", "result", "source"},
		),

		degraded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_degraded_decisions_total",
				Help: "Total number of decisions made without the store",
			},
			[]string{"tier", "reason", "policy"},
		),

		circuitOff: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_circuit_open_total",
				Help: "Total number of checks short-circuited by an open breaker",
			},
			[]string{"tier"},
		),

		timeouts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gatekeeper_check_timeouts_total",
				Help: "Total number of checks abandoned because the caller's context ended",
			},
		),

		unknown: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gatekeeper_unknown_tier_total",
				Help: "Total number of checks with an unknown tier",
			},
		),

		circuitState: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatekeeper_circuit_state",
				Help: "Current breaker state (0=closed, 1=open, 2=half_open)",
			},
		),

		circuitTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_circuit_transitions_total",
				Help: "Total number of breaker state transitions",
			},
			[]string{"from", "to"},
		),

		checkDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatekeeper_check_duration_seconds",
				Help:    "Duration of rate limit checks in seconds",
				Buckets: prometheus.ExponentialBuckets(0.000001, 2, 20), // 1µs to ~0.5s
			},
			[]string{"source"},
		),

		storeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatekeeper_store_duration_seconds",
				Help:    "Duration of store round trips in seconds",
				Buckets: prometheus.ExponentialBuckets(0.00005, 2, 14), // 50µs to ~0.4s
			},
			[]string{"result"},
		),
	}
}

// RecordDecision records a decision and its latency.
func (m *Metrics) RecordDecision(res *Result, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "allowed"
	if !res.Allowed {
		result = "rejected"
	}
	m.checks.WithLabelValues(string(res.Tier), string(res.Level), result, string(res.Source)).Inc()
	m.checkDuration.WithLabelValues(string(res.Source)).Observe(elapsed.Seconds())
}

// RecordDegraded records a decision made without the store.
func (m *Metrics) RecordDegraded(tierName, reason string, policy FailurePolicy) {
	if m == nil {
		return
	}
	m.degraded.WithLabelValues(tierName, reason, string(policy)).Inc()
	if reason == reasonCircuitOpen {
		m.circuitOff.WithLabelValues(tierName).Inc()
	}
}

// RecordStoreCall records a store round trip.
func (m *Metrics) RecordStoreCall(err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.storeDuration.WithLabelValues(result).Observe(elapsed.Seconds())
}

// RecordTimeout records a check abandoned by its caller.
func (m *Metrics) RecordTimeout() {
	if m != nil {
		m.timeouts.Inc()
	}
}

// RecordUnknownTier records a check with an unknown tier.
func (m *Metrics) RecordUnknownTier() {
	if m != nil {
		m.unknown.Inc()
	}
}

// RecordCircuitTransition records a breaker state change.
func (m *Metrics) RecordCircuitTransition(from, to circuit.State) {
	if m == nil {
		return
	}
	m.circuitState.Set(float64(to))
	m.circuitTransitions.WithLabelValues(from.String(), to.String()).Inc()
}
