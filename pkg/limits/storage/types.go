package storage

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"mercator-hq/gatekeeper/pkg/limits/tier"
)

var (
	// ErrStoreUnavailable indicates the store could not complete the operation.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrStoreTimeout indicates the store did not answer within the deadline.
	// It also matches ErrStoreUnavailable.
	ErrStoreTimeout = fmt.Errorf("%w: timeout", ErrStoreUnavailable)
)

// BucketStore performs atomic token bucket accounting.
// Implementations must be safe for concurrent use.
type BucketStore interface {
	// CheckAndDebit refills the bucket for key up to now and debits requested
	// tokens if enough are available. The whole read-refill-debit-write runs
	// as one atomic unit. A missing bucket starts full. On error no tokens
	// have been debited.
	CheckAndDebit(ctx context.Context, key string, cfg tier.Config, requested int64, now time.Time) (Decision, error)

	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}

// ViolationStore keeps expiring counters for rejected requests.
type ViolationStore interface {
	// IncrementViolation atomically increments the counter for key, refreshes
	// its TTL and returns the new count.
	IncrementViolation(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// ViolationCount returns the current count for key, or zero if absent.
	ViolationCount(ctx context.Context, key string) (int64, error)

	// MarkOnce atomically creates key with ttl unless it already exists and
	// reports whether this call created it.
	MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Store is a store that serves both bucket and violation state.
type Store interface {
	BucketStore
	ViolationStore
}

// Cleaner is implemented by stores without native key expiry.
// Cleanup removes every entry whose TTL has passed at now and returns the
// number of entries removed.
type Cleaner interface {
	Cleanup(ctx context.Context, now time.Time) (int, error)
}

// BucketState is the persisted state of one token bucket.
type BucketState struct {
	// Tokens is the number of available tokens, 0 <= Tokens <= capacity.
	Tokens float64

	// LastRefillAt is the time of the last mutation.
	LastRefillAt time.Time
}

// Decision is the outcome of CheckAndDebit.
type Decision struct {
	// Allowed reports whether the requested tokens were debited.
	Allowed bool

	// Tokens is the exact token count after the operation.
	Tokens float64

	// Remaining is floor(Tokens).
	Remaining int64

	// Capacity is the bucket capacity used for the operation.
	Capacity int64
}

// classifyError wraps a backend error in the store taxonomy, keeping the
// original error in the chain.
func classifyError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", op, ErrStoreTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%s: %w: %w", op, ErrStoreTimeout, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

func validateCheck(key string, cfg tier.Config, requested int64) error {
	if key == "" {
		return fmt.Errorf("key cannot be empty")
	}
	if cfg.Capacity <= 0 {
		return fmt.Errorf("capacity must be positive, got %d", cfg.Capacity)
	}
	if requested <= 0 {
		return fmt.Errorf("requested tokens must be positive, got %d", requested)
	}
	return nil
}
