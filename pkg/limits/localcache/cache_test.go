package localcache

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCache(threshold int64) (*Cache, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	return New(Config{Threshold: threshold, TTL: time.Minute, Now: clock.Now}), clock
}

func TestCache_ColdStartGoesToStore(t *testing.T) {
	c, _ := newTestCache(10)

	if ok, _ := c.TryAdmit("client", 1); ok {
		t.Error("Expected no local admit before any authoritative answer")
	}
}

func TestCache_AdmitsUpToThreshold(t *testing.T) {
	c, _ := newTestCache(3)
	c.RecordAuthoritative("client", 50, 0)

	for i := 1; i <= 3; i++ {
		ok, approx := c.TryAdmit("client", 1)
		if !ok {
			t.Fatalf("Expected local admit %d", i)
		}
		if approx != int64(50-i) {
			t.Errorf("Expected approximate remaining %d, got %d", 50-i, approx)
		}
	}

	if ok, _ := c.TryAdmit("client", 1); ok {
		t.Error("Expected store check after threshold is used up")
	}
}

func TestCache_ThresholdCappedByRemaining(t *testing.T) {
	c, _ := newTestCache(10)

	c.RecordAuthoritative("client", 2, 0)
	admitted := 0
	for i := 0; i < 10; i++ {
		if ok, _ := c.TryAdmit("client", 1); ok {
			admitted++
		}
	}
	if admitted != 2 {
		t.Errorf("Expected 2 local admits for remaining 2, got %d", admitted)
	}

	c.RecordAuthoritative("client", 0, 0)
	if ok, _ := c.TryAdmit("client", 1); ok {
		t.Error("Expected no local admit for an exhausted client")
	}
}

func TestCache_MultiTokenRequests(t *testing.T) {
	c, _ := newTestCache(10)
	c.RecordAuthoritative("client", 100, 0)

	if ok, _ := c.TryAdmit("client", 7); !ok {
		t.Fatal("Expected 7 tokens to fit in local budget 10")
	}
	if ok, _ := c.TryAdmit("client", 4); ok {
		t.Error("Expected 4 more tokens to exceed local budget")
	}
	if ok, _ := c.TryAdmit("client", 3); !ok {
		t.Error("Expected 3 more tokens to fit exactly")
	}
	if ok, _ := c.TryAdmit("client", 0); ok {
		t.Error("Expected zero-token request to be refused")
	}
}

func TestCache_TTLExpiry(t *testing.T) {
	c, clock := newTestCache(10)
	c.RecordAuthoritative("client", 100, 0)

	clock.Advance(59 * time.Second)
	if ok, _ := c.TryAdmit("client", 1); !ok {
		t.Fatal("Expected local admit within TTL")
	}

	clock.Advance(time.Second)
	if ok, _ := c.TryAdmit("client", 1); ok {
		t.Error("Expected store check after TTL")
	}
	if c.Owed("client") != 1 {
		t.Errorf("Expected expired entry to keep 1 owed token, got %d", c.Owed("client"))
	}

	c.RecordAuthoritative("client", 99, c.Claim("client"))
	clock.Advance(time.Minute)
	if ok, _ := c.TryAdmit("client", 1); ok {
		t.Error("Expected store check after TTL")
	}
	if c.Len() != 0 {
		t.Errorf("Expected settled expired entry removed, got %d entries", c.Len())
	}
}

// ============================================================================
// Owed Tokens
// ============================================================================

func TestCache_ClaimChargesLocalAdmits(t *testing.T) {
	c, _ := newTestCache(3)
	c.RecordAuthoritative("client", 50, 0)

	for i := 0; i < 3; i++ {
		c.TryAdmit("client", 1)
	}

	claimed := c.Claim("client")
	if claimed != 3 {
		t.Fatalf("Expected 3 claimed tokens, got %d", claimed)
	}
	if c.Claim("client") != 0 {
		t.Error("Expected a second claim to find nothing new")
	}

	// Local admits while the claim is in flight still count against the budget.
	if ok, _ := c.TryAdmit("client", 1); ok {
		t.Error("Expected budget to include claimed tokens")
	}

	c.RecordAuthoritative("client", 46, claimed)
	if c.Owed("client") != 0 {
		t.Errorf("Expected nothing owed after the store charged the claim, got %d", c.Owed("client"))
	}
	ok, approx := c.TryAdmit("client", 1)
	if !ok {
		t.Fatal("Expected a new local window after the claim was charged")
	}
	if approx != 45 {
		t.Errorf("Expected approximate remaining 45, got %d", approx)
	}
}

func TestCache_ReleaseKeepsTokensOwed(t *testing.T) {
	c, _ := newTestCache(5)
	c.RecordAuthoritative("client", 5, 0)

	for i := 0; i < 5; i++ {
		c.TryAdmit("client", 1)
	}

	claimed := c.Claim("client")
	c.Release("client", claimed)
	c.RecordAuthoritative("client", 5, 0)

	if c.Owed("client") != 5 {
		t.Errorf("Expected 5 owed tokens after release, got %d", c.Owed("client"))
	}
	if ok, _ := c.TryAdmit("client", 1); ok {
		t.Error("Expected no local admit while owed tokens fill the budget")
	}
	if c.Claim("client") != 5 {
		t.Error("Expected released tokens to be claimed again")
	}
}

func TestCache_ClaimUnknownKey(t *testing.T) {
	c, _ := newTestCache(5)

	if n := c.Claim("missing"); n != 0 {
		t.Errorf("Expected 0 claimed for unknown key, got %d", n)
	}
	c.Release("missing", 3)
	if c.Len() != 0 {
		t.Errorf("Expected release of unknown key to be a no-op, got %d entries", c.Len())
	}
}

func TestCache_RecordResetsWindow(t *testing.T) {
	c, clock := newTestCache(2)
	c.RecordAuthoritative("client", 100, 0)
	c.TryAdmit("client", 1)
	c.TryAdmit("client", 1)

	clock.Advance(30 * time.Second)
	c.RecordAuthoritative("client", 90, c.Claim("client"))

	ok, approx := c.TryAdmit("client", 1)
	if !ok {
		t.Fatal("Expected new window after authoritative answer")
	}
	if approx != 89 {
		t.Errorf("Expected approximate remaining 89, got %d", approx)
	}

	clock.Advance(45 * time.Second)
	if ok, _ := c.TryAdmit("client", 1); !ok {
		t.Error("Expected TTL to restart from the last authoritative answer")
	}
}

func TestCache_KeysAreIndependent(t *testing.T) {
	c, _ := newTestCache(1)
	c.RecordAuthoritative("a", 10, 0)

	if ok, _ := c.TryAdmit("b", 1); ok {
		t.Error("Expected key b to have no local budget")
	}
	if ok, _ := c.TryAdmit("a", 1); !ok {
		t.Error("Expected key a to have local budget")
	}
}

func TestCache_LRUEviction(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := New(Config{Threshold: 5, MaxEntries: 2, Now: clock.Now})

	c.RecordAuthoritative("a", 10, 0)
	c.RecordAuthoritative("b", 10, 0)
	c.TryAdmit("a", 1) // a is now most recently used
	c.RecordAuthoritative("c", 10, 0)

	if c.Len() != 2 {
		t.Fatalf("Expected 2 entries, got %d", c.Len())
	}
	if ok, _ := c.TryAdmit("b", 1); ok {
		t.Error("Expected least recently used key b to be evicted")
	}
	if ok, _ := c.TryAdmit("a", 1); !ok {
		t.Error("Expected key a to survive eviction")
	}
}

func TestCache_InvalidateAndPurge(t *testing.T) {
	c, _ := newTestCache(5)
	c.RecordAuthoritative("a", 10, 0)
	c.RecordAuthoritative("b", 10, 0)

	c.Invalidate("a")
	if ok, _ := c.TryAdmit("a", 1); ok {
		t.Error("Expected invalidated key to go to the store")
	}

	c.Purge()
	if c.Len() != 0 {
		t.Errorf("Expected empty cache after purge, got %d", c.Len())
	}
}

func TestCache_ConcurrentAdmitsBounded(t *testing.T) {
	c, _ := newTestCache(10)
	c.RecordAuthoritative("hot", 1000, 0)

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := c.TryAdmit("hot", 1); ok {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	if admitted.Load() != 10 {
		t.Errorf("Expected exactly 10 local admits, got %d", admitted.Load())
	}
}

func TestCache_Defaults(t *testing.T) {
	c := New(Config{})
	if c.Threshold() != 10 {
		t.Errorf("Expected default threshold 10, got %d", c.Threshold())
	}
	if c.cfg.TTL != time.Minute {
		t.Errorf("Expected default TTL 1m, got %v", c.cfg.TTL)
	}
}
