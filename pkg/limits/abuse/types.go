package abuse

import (
	"context"
	"log/slog"
	"time"

	"mercator-hq/gatekeeper/pkg/limits/tier"
)

// DayLayout is the layout of the day component in violation keys.
const DayLayout = "2006-01-02"

// Violation is one rejected request.
type Violation struct {
	// ClientID identifies the rejected client.
	ClientID string

	// Tier is the resolved tier of the rejected request. Its
	// AbuseDailyThreshold, when set, overrides the global threshold.
	Tier tier.Config

	// Endpoint is the endpoint of the rejected request, if any.
	Endpoint string

	// At is when the rejection happened.
	At time.Time
}

// Alert is raised once per client per day when the violation count reaches
// the threshold.
type Alert struct {
	// ID uniquely identifies the alert.
	ID string `json:"id"`

	// ClientID is the flagged client.
	ClientID string `json:"client_id"`

	// Tier is the client's tier at the time of the alert.
	Tier tier.Tier `json:"tier"`

	// Endpoint is the endpoint of the violation that crossed the threshold.
	Endpoint string `json:"endpoint,omitempty"`

	// Day is the UTC day, formatted with DayLayout.
	Day string `json:"day"`

	// Count is the violation count that triggered the alert.
	Count int64 `json:"count"`

	// Threshold is the threshold that was reached.
	Threshold int64 `json:"threshold"`

	// RaisedAt is when the alert was raised.
	RaisedAt time.Time `json:"raised_at"`
}

// AlertSink receives abuse alerts.
type AlertSink interface {
	Alert(ctx context.Context, alert Alert) error
}

// SinkFunc adapts a function to AlertSink.
type SinkFunc func(ctx context.Context, alert Alert) error

// Alert implements AlertSink.
func (f SinkFunc) Alert(ctx context.Context, alert Alert) error {
	return f(ctx, alert)
}

// LogSink writes alerts to a structured logger at WARN level.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink. A nil logger uses slog.Default().
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Alert implements AlertSink.
func (s *LogSink) Alert(ctx context.Context, alert Alert) error {
	s.logger.WarnContext(ctx, "abuse threshold reached",
		"alert_id", alert.ID,
		"client_id", alert.ClientID,
		"tier", alert.Tier,
		"endpoint", alert.Endpoint,
		"day", alert.Day,
		"count", alert.Count,
		"threshold", alert.Threshold,
	)
	return nil
}

// MultiSink fans an alert out to several sinks and returns the first error.
type MultiSink []AlertSink

// Alert implements AlertSink.
func (m MultiSink) Alert(ctx context.Context, alert Alert) error {
	var first error
	for _, s := range m {
		if err := s.Alert(ctx, alert); err != nil && first == nil {
			first = err
		}
	}
	return first
}
