package abuse

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"mercator-hq/gatekeeper/pkg/limits/storage"
)

// Config configures a Tracker.
type Config struct {
	// DailyThreshold is the per-client daily violation count that raises an
	// alert. Tiers may override it. Default: 100
	DailyThreshold int64

	// TTL is the lifetime of a daily counter. Default: 72 hours
	TTL time.Duration

	// KeyPrefix namespaces counter keys. Default: "gatekeeper"
	KeyPrefix string

	// QueueSize bounds pending notifications. Default: 1024
	QueueSize int

	// Workers is the number of goroutines draining the queue. Default: 2
	Workers int

	// RecordTimeout bounds each store call made by a worker. Default: 1 second
	RecordTimeout time.Duration

	// Now overrides the clock. Default: time.Now
	Now func() time.Time
}

// Tracker records violations and raises alerts. Safe for concurrent use.
type Tracker struct {
	cfg     Config
	store   storage.ViolationStore
	sink    AlertSink
	metrics *Metrics
	logger  *slog.Logger

	queue     chan Violation
	wg        sync.WaitGroup
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithSink sets the alert sink. Default: a LogSink on the tracker's logger.
func WithSink(sink AlertSink) Option {
	return func(t *Tracker) {
		t.sink = sink
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		t.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(t *Tracker) {
		t.metrics = m
	}
}

// New creates a tracker and starts its workers. Call Close to stop them.
func New(cfg Config, store storage.ViolationStore, opts ...Option) *Tracker {
	if cfg.DailyThreshold <= 0 {
		cfg.DailyThreshold = 100
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 72 * time.Hour
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "gatekeeper"
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.RecordTimeout <= 0 {
		cfg.RecordTimeout = time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	t := &Tracker{
		cfg:   cfg,
		store: store,
		queue: make(chan Violation, cfg.QueueSize),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = slog.Default().With("component", "abuse_tracker")
	}
	if t.sink == nil {
		t.sink = NewLogSink(t.logger)
	}

	for i := 0; i < cfg.Workers; i++ {
		t.wg.Add(1)
		go t.worker()
	}

	return t
}

// RecordViolation records one violation for clientID at now against the
// global threshold and returns the client's count for that day.
func (t *Tracker) RecordViolation(ctx context.Context, clientID string, now time.Time) (int64, error) {
	return t.Record(ctx, Violation{ClientID: clientID, At: now})
}

// Record records v and raises an alert once the day's count has reached the
// applicable threshold. A per-day marker in the store makes the alert fire
// once per client per day across all instances, even when the violation
// that reached the threshold was lost to a timeout or the threshold was
// lowered after the count passed it.
func (t *Tracker) Record(ctx context.Context, v Violation) (int64, error) {
	if v.ClientID == "" {
		return 0, fmt.Errorf("client id cannot be empty")
	}
	if v.At.IsZero() {
		v.At = t.cfg.Now()
	}

	day := v.At.UTC().Format(DayLayout)
	count, err := t.store.IncrementViolation(ctx, t.key(v.ClientID, day), t.cfg.TTL)
	if err != nil {
		t.metrics.recordError()
		return 0, fmt.Errorf("failed to record violation for %s: %w", v.ClientID, err)
	}
	t.metrics.recordViolation(v.Tier.Name.String())

	threshold := t.Threshold(v)
	if count < threshold {
		return count, nil
	}

	first, err := t.store.MarkOnce(ctx, t.key(v.ClientID, day)+":alerted", t.cfg.TTL)
	if err != nil {
		t.metrics.recordError()
		t.logger.Warn("failed to mark abuse alert, will retry on the next violation",
			"client_id", v.ClientID,
			"day", day,
			"error", err,
		)
		return count, nil
	}
	if first {
		t.raise(ctx, v, day, count, threshold)
	}

	return count, nil
}

// DailyViolationCount returns the violation count of clientID for the UTC
// day containing day.
func (t *Tracker) DailyViolationCount(ctx context.Context, clientID string, day time.Time) (int64, error) {
	if clientID == "" {
		return 0, fmt.Errorf("client id cannot be empty")
	}
	count, err := t.store.ViolationCount(ctx, t.key(clientID, day.UTC().Format(DayLayout)))
	if err != nil {
		return 0, fmt.Errorf("failed to read violations for %s: %w", clientID, err)
	}
	return count, nil
}

// Threshold returns the alert threshold that applies to v.
func (t *Tracker) Threshold(v Violation) int64 {
	if v.Tier.AbuseDailyThreshold > 0 {
		return v.Tier.AbuseDailyThreshold
	}
	return t.cfg.DailyThreshold
}

// Notify queues v for recording without blocking. It returns false if the
// queue is full or the tracker is closed.
func (t *Tracker) Notify(v Violation) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return false
	}

	select {
	case t.queue <- v:
		return true
	default:
		t.metrics.recordDropped()
		t.logger.Warn("violation queue full, dropping notification",
			"client_id", v.ClientID,
			"queue_size", t.cfg.QueueSize,
		)
		return false
	}
}

// Close stops accepting notifications, drains the queue and waits for the
// workers. Close is idempotent.
func (t *Tracker) Close() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		close(t.queue)
		t.mu.Unlock()

		t.wg.Wait()
	})
	return nil
}

func (t *Tracker) worker() {
	defer t.wg.Done()

	for v := range t.queue {
		ctx, cancel := context.WithTimeout(context.Background(), t.cfg.RecordTimeout)
		if _, err := t.Record(ctx, v); err != nil {
			t.logger.Warn("failed to record violation",
				"client_id", v.ClientID,
				"error", err,
			)
		}
		cancel()
	}
}

func (t *Tracker) raise(ctx context.Context, v Violation, day string, count, threshold int64) {
	alert := Alert{
		ID:        uuid.New().String(),
		ClientID:  v.ClientID,
		Tier:      v.Tier.Name,
		Endpoint:  v.Endpoint,
		Day:       day,
		Count:     count,
		Threshold: threshold,
		RaisedAt:  t.cfg.Now(),
	}

	t.metrics.recordAlert(v.Tier.Name.String())

	if err := t.sink.Alert(ctx, alert); err != nil {
		t.logger.Error("failed to deliver abuse alert",
			"alert_id", alert.ID,
			"client_id", alert.ClientID,
			"error", err,
		)
	}
}

func (t *Tracker) key(clientID, day string) string {
	return t.cfg.KeyPrefix + ":viol:" + clientID + ":" + day
}
