package localcache

import (
	"container/list"
	"sync"
	"time"
)

// Config configures a Cache.
type Config struct {
	// Threshold is the maximum number of tokens admitted locally per key
	// that the store has not been charged for yet. Default: 10
	Threshold int64

	// TTL is how long a local budget stays valid. Default: 1 minute
	TTL time.Duration

	// MaxEntries bounds the number of keys tracked. Default: 100,000
	MaxEntries int

	// Now overrides the clock. Default: time.Now
	Now func() time.Time
}

// Cache is a bounded map of per-key local budgets. Safe for concurrent use.
type Cache struct {
	cfg Config

	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List
}

type entry struct {
	key string

	// pending is the number of tokens admitted locally that no store call has
	// been charged for yet.
	pending int64

	// charging is the number of locally admitted tokens claimed by a store
	// call still in flight.
	charging int64

	// threshold is the local budget for this window. pending+charging never
	// exceeds it through TryAdmit.
	threshold int64

	// remaining is the store's remaining count at the start of the window.
	remaining int64

	expiresAt time.Time
}

// New creates a cache.
func New(cfg Config) *Cache {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 10
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Minute
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 100000
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Cache{
		cfg:     cfg,
		entries: make(map[string]*list.Element),
		lru:     list.New(),
	}
}

// TryAdmit admits tokens for key from the local budget. It returns false when
// the key has no live entry or its budget cannot cover tokens; the caller
// must then go to the store. On success it also returns an approximate
// remaining count: the store's last answer minus local admits not yet
// charged.
func (c *Cache) TryAdmit(key string, tokens int64) (bool, int64) {
	if tokens <= 0 {
		return false, 0
	}

	now := c.cfg.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return false, 0
	}
	e := elem.Value.(*entry)

	if !now.Before(e.expiresAt) {
		// An expired entry still carries its uncharged tokens until the
		// next store call settles them.
		if e.owed() == 0 {
			c.removeLocked(elem)
		}
		return false, 0
	}
	if e.owed()+tokens > e.threshold {
		return false, 0
	}

	e.pending += tokens
	c.lru.MoveToFront(elem)

	approx := e.remaining - e.owed()
	if approx < 0 {
		approx = 0
	}
	return true, approx
}

// Claim hands the tokens admitted locally for key to a store call. The
// caller adds the result to the tokens it debits, then reports the outcome
// with RecordAuthoritative (charged) or Release (not charged).
func (c *Cache) Claim(key string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return 0
	}
	e := elem.Value.(*entry)

	n := e.pending
	e.pending = 0
	e.charging += n
	return n
}

// Release returns claimed tokens that the store did not debit, so the next
// store call charges them again.
func (c *Cache) Release(key string, claimed int64) {
	if claimed <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return
	}
	e := elem.Value.(*entry)

	if claimed > e.charging {
		claimed = e.charging
	}
	e.charging -= claimed
	e.pending += claimed
}

// RecordAuthoritative starts a new local window for key from the store's
// remaining count. charged is the number of claimed tokens the store
// debited along with the request; tokens still owed keep counting against
// the new window's budget.
func (c *Cache) RecordAuthoritative(key string, remaining, charged int64) {
	if remaining < 0 {
		remaining = 0
	}
	threshold := c.cfg.Threshold
	if remaining < threshold {
		threshold = remaining
	}

	now := c.cfg.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		e := elem.Value.(*entry)
		e.charging -= charged
		if e.charging < 0 {
			e.charging = 0
		}
		e.threshold = threshold
		e.remaining = remaining
		e.expiresAt = now.Add(c.cfg.TTL)
		c.lru.MoveToFront(elem)
		return
	}

	elem := c.lru.PushFront(&entry{
		key:       key,
		threshold: threshold,
		remaining: remaining,
		expiresAt: now.Add(c.cfg.TTL),
	})
	c.entries[key] = elem

	for len(c.entries) > c.cfg.MaxEntries {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest)
	}
}

// Owed returns the number of tokens admitted locally for key that the store
// has not been charged for.
func (c *Cache) Owed(key string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		return elem.Value.(*entry).owed()
	}
	return 0
}

// Invalidate drops the local budget for key.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.removeLocked(elem)
	}
}

// Purge drops all entries.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*list.Element)
	c.lru.Init()
}

// Len returns the number of tracked keys, including expired ones not yet
// removed.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Threshold returns the configured local budget.
func (c *Cache) Threshold() int64 {
	return c.cfg.Threshold
}

func (e *entry) owed() int64 {
	return e.pending + e.charging
}

func (c *Cache) removeLocked(elem *list.Element) {
	e := c.lru.Remove(elem).(*entry)
	delete(c.entries, e.key)
}
