package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mercator-hq/gatekeeper/pkg/limits/tier"
)

// MemoryStore implements Store using process memory.
// It is atomic within one process only and suits single-instance deployments
// and tests. All data is lost when the process exits.
type MemoryStore struct {
	// buckets maps bucket key to state.
	buckets map[string]*memoryBucket

	// violations maps violation key to counter.
	violations map[string]*memoryCounter

	// mu protects buckets and violations.
	mu sync.Mutex

	// maxEntries bounds buckets and violations independently.
	maxEntries int

	cleanupInterval time.Duration
	now             func() time.Time
	done            chan struct{}
	closeOnce       sync.Once
}

type memoryBucket struct {
	state     BucketState
	expiresAt time.Time
}

type memoryCounter struct {
	count     int64
	expiresAt time.Time
}

// MemoryStoreConfig configures the memory store.
type MemoryStoreConfig struct {
	// MaxEntries is the maximum number of buckets (and, separately, violation
	// counters) to keep. The entry closest to expiry is evicted first.
	// Default: 100,000
	MaxEntries int

	// CleanupInterval is how often expired entries are removed.
	// Zero disables the background loop; Cleanup can still be called.
	CleanupInterval time.Duration

	// Now overrides the clock used for violation expiry. Default: time.Now
	Now func() time.Time
}

// NewMemoryStore creates a memory store with default settings.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithConfig(MemoryStoreConfig{CleanupInterval: time.Minute})
}

// NewMemoryStoreWithConfig creates a memory store with custom configuration.
func NewMemoryStoreWithConfig(cfg MemoryStoreConfig) *MemoryStore {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 100000
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	m := &MemoryStore{
		buckets:         make(map[string]*memoryBucket),
		violations:      make(map[string]*memoryCounter),
		maxEntries:      cfg.MaxEntries,
		cleanupInterval: cfg.CleanupInterval,
		now:             cfg.Now,
		done:            make(chan struct{}),
	}

	if m.cleanupInterval > 0 {
		go m.cleanupLoop()
	}

	return m
}

// CheckAndDebit implements BucketStore.
func (m *MemoryStore) CheckAndDebit(ctx context.Context, key string, cfg tier.Config, requested int64, now time.Time) (Decision, error) {
	if err := validateCheck(key, cfg, requested); err != nil {
		return Decision{}, err
	}
	if err := ctx.Err(); err != nil {
		return Decision{}, classifyError("check", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var current *BucketState
	entry, exists := m.buckets[key]
	if exists && now.Before(entry.expiresAt) {
		current = &entry.state
	}

	next, decision := Apply(current, cfg, requested, now)

	if !exists {
		if len(m.buckets) >= m.maxEntries {
			evictSoonestLocked(m.buckets, func(b *memoryBucket) time.Time { return b.expiresAt })
		}
		entry = &memoryBucket{}
		m.buckets[key] = entry
	}
	entry.state = next
	entry.expiresAt = now.Add(cfg.IdleTTL())

	return decision, nil
}

// IncrementViolation implements ViolationStore.
func (m *MemoryStore) IncrementViolation(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if key == "" {
		return 0, fmt.Errorf("key cannot be empty")
	}
	if err := ctx.Err(); err != nil {
		return 0, classifyError("increment violation", err)
	}

	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	c, exists := m.violations[key]
	if !exists || !now.Before(c.expiresAt) {
		if !exists && len(m.violations) >= m.maxEntries {
			evictSoonestLocked(m.violations, func(c *memoryCounter) time.Time { return c.expiresAt })
		}
		c = &memoryCounter{}
		m.violations[key] = c
	}
	c.count++
	c.expiresAt = now.Add(ttl)

	return c.count, nil
}

// MarkOnce implements ViolationStore. Markers share the violation map and
// its expiry.
func (m *MemoryStore) MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, fmt.Errorf("key cannot be empty")
	}
	if err := ctx.Err(); err != nil {
		return false, classifyError("mark", err)
	}

	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	c, exists := m.violations[key]
	if exists && now.Before(c.expiresAt) {
		return false, nil
	}
	if !exists && len(m.violations) >= m.maxEntries {
		evictSoonestLocked(m.violations, func(c *memoryCounter) time.Time { return c.expiresAt })
	}
	m.violations[key] = &memoryCounter{count: 1, expiresAt: now.Add(ttl)}
	return true, nil
}

// ViolationCount implements ViolationStore.
func (m *MemoryStore) ViolationCount(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, classifyError("violation count", err)
	}

	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	c, exists := m.violations[key]
	if !exists || !now.Before(c.expiresAt) {
		return 0, nil
	}
	return c.count, nil
}

// Bucket returns the stored state for key, ignoring expiry.
// It is intended for inspection and tests.
func (m *MemoryStore) Bucket(key string) (BucketState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.buckets[key]
	if !ok {
		return BucketState{}, false
	}
	return entry.state, true
}

// Cleanup implements Cleaner.
func (m *MemoryStore) Cleanup(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	deleted := 0
	for key, b := range m.buckets {
		if !now.Before(b.expiresAt) {
			delete(m.buckets, key)
			deleted++
		}
	}
	for key, c := range m.violations {
		if !now.Before(c.expiresAt) {
			delete(m.violations, key)
			deleted++
		}
	}

	return deleted, nil
}

// Size returns the number of stored buckets.
func (m *MemoryStore) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}

// Ping implements BucketStore. The memory store is always reachable.
func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close stops the cleanup loop. Close is idempotent.
func (m *MemoryStore) Close() error {
	m.closeOnce.Do(func() {
		close(m.done)
	})
	return nil
}

// evictSoonestLocked removes the entry that expires first.
// Caller must hold the write lock.
func evictSoonestLocked[V any](entries map[string]V, expiresAt func(V) time.Time) {
	var (
		soonestKey  string
		soonestTime time.Time
		found       bool
	)

	for key, v := range entries {
		if t := expiresAt(v); !found || t.Before(soonestTime) {
			soonestKey = key
			soonestTime = t
			found = true
		}
	}

	if found {
		delete(entries, soonestKey)
	}
}

// cleanupLoop runs periodic cleanup of expired entries.
func (m *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = m.Cleanup(context.Background(), m.now())
		case <-m.done:
			return
		}
	}
}
