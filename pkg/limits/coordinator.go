package limits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/gatekeeper/pkg/limits/abuse"
	"mercator-hq/gatekeeper/pkg/limits/circuit"
	"mercator-hq/gatekeeper/pkg/limits/localcache"
	"mercator-hq/gatekeeper/pkg/limits/storage"
	"mercator-hq/gatekeeper/pkg/limits/tier"
)

const (
	reasonCircuitOpen      = "circuit_open"
	reasonStoreTimeout     = "store_timeout"
	reasonStoreUnavailable = "store_unavailable"

	// maxTrackedUnknownTiers bounds the set of unknown tier names that have
	// been logged, so arbitrary client input cannot grow it without limit.
	maxTrackedUnknownTiers = 1024
)

// ViolationNotifier receives rejected requests. Notify must not block.
type ViolationNotifier interface {
	Notify(v abuse.Violation) bool
}

// Config configures a Coordinator.
type Config struct {
	// Registry resolves tier names. Required.
	Registry *tier.Registry

	// Store performs atomic bucket accounting. Required.
	Store storage.BucketStore

	// Breaker configures the circuit breaker around Store. The coordinator
	// installs its own state change hook in front of any given one.
	Breaker circuit.Config

	// FailurePolicy decides the outcome when the store cannot answer.
	// Default: FailOpen
	FailurePolicy FailurePolicy

	// FailOpenRemaining is the remaining count reported on degraded admits,
	// capped at the tier capacity. Default: 0
	FailOpenRemaining int64

	// FailClosedRetryAfter is the RetryAfter reported on degraded rejections.
	// Default: 1 second
	FailClosedRetryAfter time.Duration

	// StoreTimeout bounds each store round trip. Default: 50 milliseconds
	StoreTimeout time.Duration

	// KeyPrefix namespaces bucket keys. Default: "gatekeeper"
	KeyPrefix string
}

// Coordinator makes admission decisions. Create one with New.
type Coordinator struct {
	cfg      Config
	registry atomic.Pointer[tier.Registry]
	store    storage.BucketStore
	breaker  *circuit.Breaker
	cache    *localcache.Cache
	notifier ViolationNotifier
	metrics  *Metrics
	tracer   trace.Tracer
	logger   *slog.Logger
	now      func() time.Time
	keys     keyBuilder

	unknownTiers     sync.Map
	unknownTierCount atomic.Int64
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLocalCache enables the local approximation cache.
func WithLocalCache(cache *localcache.Cache) Option {
	return func(c *Coordinator) {
		c.cache = cache
	}
}

// WithViolationNotifier sets the receiver of rejections.
func WithViolationNotifier(n ViolationNotifier) Option {
	return func(c *Coordinator) {
		c.notifier = n
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithTracer sets the tracer. Default: the global tracer provider.
func WithTracer(t trace.Tracer) Option {
	return func(c *Coordinator) {
		c.tracer = t
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// WithClock overrides the clock used for bucket timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// New creates a Coordinator.
func New(cfg Config, opts ...Option) (*Coordinator, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("tier registry is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("bucket store is required")
	}
	policy, err := ParseFailurePolicy(string(cfg.FailurePolicy))
	if err != nil {
		return nil, err
	}
	cfg.FailurePolicy = policy
	if cfg.FailOpenRemaining < 0 {
		return nil, fmt.Errorf("fail-open remaining cannot be negative, got %d", cfg.FailOpenRemaining)
	}
	if cfg.FailClosedRetryAfter <= 0 {
		cfg.FailClosedRetryAfter = time.Second
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 50 * time.Millisecond
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "gatekeeper"
	}

	c := &Coordinator{
		cfg:   cfg,
		store: cfg.Store,
		keys:  keyBuilder{prefix: cfg.KeyPrefix},
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default().With("component", "rate_limit_coordinator")
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer("mercator-hq/gatekeeper/pkg/limits")
	}
	c.registry.Store(cfg.Registry)

	breakerCfg := cfg.Breaker
	userHook := breakerCfg.OnStateChange
	breakerCfg.OnStateChange = func(from, to circuit.State) {
		c.onBreakerStateChange(from, to)
		if userHook != nil {
			userHook(from, to)
		}
	}
	if breakerCfg.Now == nil {
		breakerCfg.Now = c.now
	}
	c.breaker = circuit.New(breakerCfg)

	return c, nil
}

// Check decides whether to admit req against the client's account bucket.
//
// Store failures and an open breaker never produce an error; they are
// resolved by the failure policy and reported through Result.Source.
//
// Returns:
//   - ErrInvalidRequest for an empty client id or negative token count
//   - ErrCheckTimeout if ctx ended while waiting on the store
func (c *Coordinator) Check(ctx context.Context, req Request) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	ctx, span := c.tracer.Start(ctx, "limits.Check", trace.WithAttributes(
		attribute.String("gatekeeper.client_id", req.ClientID),
		attribute.String("gatekeeper.tier", req.Tier),
		attribute.String("gatekeeper.endpoint", req.Endpoint),
		attribute.Int64("gatekeeper.tokens", req.tokens()),
	))
	defer span.End()

	cfg := c.resolveTier(ctx, req.Tier)
	res, err := c.checkLevel(ctx, req, cfg, LevelAccount)
	endSpan(span, res, err)
	return res, err
}

// SetRegistry atomically replaces the tier registry. Checks already in
// flight finish with the registry they resolved.
func (c *Coordinator) SetRegistry(reg *tier.Registry) {
	if reg != nil {
		c.registry.Store(reg)
	}
}

// Registry returns the current tier registry.
func (c *Coordinator) Registry() *tier.Registry {
	return c.registry.Load()
}

// Breaker returns the coordinator's circuit breaker.
func (c *Coordinator) Breaker() *circuit.Breaker {
	return c.breaker
}

// FailurePolicy returns the configured failure policy.
func (c *Coordinator) FailurePolicy() FailurePolicy {
	return c.cfg.FailurePolicy
}

// checkLevel runs one bucket check: local cache, then store through the
// breaker, then the failure policy.
func (c *Coordinator) checkLevel(ctx context.Context, req Request, cfg tier.Config, level Level) (*Result, error) {
	start := time.Now()
	now := c.now()
	tokens := req.tokens()
	key := c.keys.forLevel(level, req.ClientID, req.Endpoint)

	if c.cache != nil {
		if ok, approx := c.cache.TryAdmit(key, tokens); ok {
			res := &Result{
				Allowed:   true,
				Remaining: approx,
				Limit:     cfg.Capacity,
				ResetAt:   resetAt(cfg, float64(approx), now),
				Tier:      cfg.Name,
				Level:     level,
				Source:    SourceLocal,
			}
			c.metrics.RecordDecision(res, time.Since(start))
			return res, nil
		}
	}

	// Tokens admitted locally since the last store answer are debited with
	// this request. A claim that could never fit the bucket stays owed.
	var claimed int64
	if c.cache != nil {
		claimed = c.cache.Claim(key)
		if tokens+claimed > cfg.Capacity {
			c.cache.Release(key, claimed)
			claimed = 0
		}
	}
	requested := tokens + claimed

	var decision storage.Decision
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		storeCtx, cancel := context.WithTimeout(ctx, c.cfg.StoreTimeout)
		defer cancel()

		callStart := time.Now()
		var err error
		decision, err = c.store.CheckAndDebit(storeCtx, key, cfg, requested, now)
		c.metrics.RecordStoreCall(err, time.Since(callStart))
		return err
	})

	if err != nil {
		if c.cache != nil {
			c.cache.Release(key, claimed)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			c.metrics.RecordTimeout()
			return nil, &CheckError{Op: "check", Key: key, Err: fmt.Errorf("%w: %w", ErrCheckTimeout, ctxErr)}
		}
		res := c.degrade(ctx, req, cfg, level, key, err, now)
		c.metrics.RecordDecision(res, time.Since(start))
		return res, nil
	}

	remaining := decision.Remaining
	if c.cache != nil {
		if decision.Allowed {
			c.cache.RecordAuthoritative(key, decision.Remaining, claimed)
		} else {
			c.cache.Release(key, claimed)
			c.cache.RecordAuthoritative(key, decision.Remaining, 0)
			remaining = max(remaining-claimed, 0)
		}
	}

	res := &Result{
		Allowed:   decision.Allowed,
		Remaining: remaining,
		Limit:     decision.Capacity,
		ResetAt:   resetAt(cfg, decision.Tokens, now),
		Tier:      cfg.Name,
		Level:     level,
		Source:    SourceStore,
	}
	if !decision.Allowed {
		res.RetryAfter = retryAfter(cfg, decision.Tokens, requested)
		c.notifyViolation(req, cfg, now)
	}

	c.logger.DebugContext(ctx, "rate limit decision",
		"client_id", req.ClientID,
		"tier", cfg.Name,
		"level", level,
		"allowed", res.Allowed,
		"remaining", res.Remaining,
	)
	c.metrics.RecordDecision(res, time.Since(start))
	return res, nil
}

// degrade builds the result for a check the store could not answer.
func (c *Coordinator) degrade(ctx context.Context, req Request, cfg tier.Config, level Level, key string, cause error, now time.Time) *Result {
	reason := reasonStoreUnavailable
	switch {
	case errors.Is(cause, circuit.ErrOpen):
		reason = reasonCircuitOpen
	case errors.Is(cause, storage.ErrStoreTimeout):
		reason = reasonStoreTimeout
	}

	res := &Result{
		Limit:  cfg.Capacity,
		Tier:   cfg.Name,
		Level:  level,
		Reason: reason,
	}

	switch c.cfg.FailurePolicy {
	case FailClosed:
		res.Allowed = false
		res.Source = SourceFailClosed
		res.ResetAt = now.Add(c.cfg.FailClosedRetryAfter)
		res.RetryAfter = c.cfg.FailClosedRetryAfter
	default:
		res.Allowed = true
		res.Source = SourceFailOpen
		res.Remaining = min(c.cfg.FailOpenRemaining, cfg.Capacity)
		res.ResetAt = now
	}

	c.metrics.RecordDegraded(string(cfg.Name), reason, c.cfg.FailurePolicy)

	// Short-circuits repeat for the whole outage; the transition is logged
	// at WARN by onBreakerStateChange.
	logLevel := slog.LevelWarn
	if reason == reasonCircuitOpen {
		logLevel = slog.LevelDebug
	}
	c.logger.Log(ctx, logLevel, "rate limit store unavailable, applying failure policy",
		"policy", c.cfg.FailurePolicy,
		"reason", reason,
		"key", key,
		"client_id", req.ClientID,
		"tier", cfg.Name,
		"error", cause,
	)

	return res
}

func (c *Coordinator) resolveTier(ctx context.Context, name string) tier.Config {
	cfg, known := c.registry.Load().Resolve(name)
	if known {
		return cfg
	}

	c.metrics.RecordUnknownTier()

	if c.unknownTierCount.Load() >= maxTrackedUnknownTiers {
		return cfg
	}
	if _, seen := c.unknownTiers.LoadOrStore(name, struct{}{}); !seen {
		c.unknownTierCount.Add(1)
		c.logger.WarnContext(ctx, "unknown tier, using default tier",
			"tier", name,
			"default_tier", cfg.Name,
		)
	}
	return cfg
}

func (c *Coordinator) notifyViolation(req Request, cfg tier.Config, now time.Time) {
	if c.notifier == nil {
		return
	}
	c.notifier.Notify(abuse.Violation{
		ClientID: req.ClientID,
		Tier:     cfg,
		Endpoint: req.Endpoint,
		At:       now,
	})
}

func (c *Coordinator) onBreakerStateChange(from, to circuit.State) {
	c.metrics.RecordCircuitTransition(from, to)

	if c.cache != nil && to == circuit.Closed {
		// Local budgets granted before the outage are stale.
		c.cache.Purge()
	}

	logLevel := slog.LevelWarn
	if to == circuit.Closed {
		logLevel = slog.LevelInfo
	}
	c.logger.Log(context.Background(), logLevel, "rate limit store circuit breaker changed state",
		"from", from.String(),
		"to", to.String(),
		"policy", c.cfg.FailurePolicy,
	)
}

// resetAt is when a bucket holding tokens will be full again. Buckets that
// never refill reset when their state expires.
func resetAt(cfg tier.Config, tokens float64, now time.Time) time.Time {
	missing := float64(cfg.Capacity) - tokens
	if missing <= 0 {
		return now
	}
	if cfg.RefillRatePerSecond <= 0 {
		return now.Add(cfg.IdleTTL())
	}
	return now.Add(secondsToDuration(missing / cfg.RefillRatePerSecond))
}

// retryAfter is the time until requested tokens will have refilled.
func retryAfter(cfg tier.Config, tokens float64, requested int64) time.Duration {
	deficit := float64(requested) - tokens
	if deficit <= 0 {
		return 0
	}
	if cfg.RefillRatePerSecond <= 0 || requested > cfg.Capacity {
		return cfg.IdleTTL()
	}
	return secondsToDuration(deficit / cfg.RefillRatePerSecond)
}

func secondsToDuration(secs float64) time.Duration {
	return time.Duration(math.Ceil(secs * float64(time.Second)))
}

func endSpan(span trace.Span, res *Result, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetAttributes(
		attribute.Bool("gatekeeper.allowed", res.Allowed),
		attribute.Int64("gatekeeper.remaining", res.Remaining),
		attribute.String("gatekeeper.source", string(res.Source)),
		attribute.String("gatekeeper.level", string(res.Level)),
	)
	if res.Reason != "" {
		span.SetAttributes(attribute.String("gatekeeper.degraded_reason", res.Reason))
	}
}
