package storage

import (
	"math"
	"time"

	"mercator-hq/gatekeeper/pkg/limits/tier"
)

// Apply runs one refill-and-debit step on state and returns the state to
// persist along with the decision. A nil state is a new, full bucket.
//
// The persisted LastRefillAt never moves backwards: when now is earlier than
// the stored timestamp (clock skew between instances) no refill happens and
// the stored timestamp is kept, so the same interval cannot be refilled twice.
func Apply(state *BucketState, cfg tier.Config, requested int64, now time.Time) (BucketState, Decision) {
	capacity := float64(cfg.Capacity)

	var next BucketState
	if state == nil {
		next = BucketState{Tokens: capacity, LastRefillAt: now}
	} else {
		next = *state
	}

	elapsed := now.Sub(next.LastRefillAt).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	next.Tokens = clampTokens(next.Tokens+elapsed*cfg.RefillRatePerSecond, capacity)

	allowed := false
	if next.Tokens >= float64(requested) {
		next.Tokens -= float64(requested)
		allowed = true
	}

	if now.After(next.LastRefillAt) {
		next.LastRefillAt = now
	}

	return next, Decision{
		Allowed:   allowed,
		Tokens:    next.Tokens,
		Remaining: int64(math.Floor(next.Tokens)),
		Capacity:  cfg.Capacity,
	}
}

func clampTokens(tokens, capacity float64) float64 {
	if math.IsNaN(tokens) || tokens < 0 {
		return 0
	}
	if tokens > capacity {
		return capacity
	}
	return tokens
}
