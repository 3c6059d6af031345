package tier

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func testTiers() []Config {
	return []Config{
		{Name: Premium, Capacity: 1000, RefillRatePerSecond: 100},
		{Name: Free, Capacity: 10, RefillRatePerSecond: 1},
		{Name: Basic, Capacity: 100, RefillRatePerSecond: 10},
		{Name: Enterprise, Capacity: 10000, RefillRatePerSecond: 1000, AbuseDailyThreshold: 5000},
	}
}

func TestRegistry_ResolveKnown(t *testing.T) {
	reg, err := NewRegistry(testTiers(), "")
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	tests := []struct {
		name     string
		capacity int64
	}{
		{"free", 10},
		{"basic", 100},
		{"PREMIUM", 1000},
		{"  enterprise ", 10000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, known := reg.Resolve(tt.name)
			if !known {
				t.Errorf("Expected tier %q to be known", tt.name)
			}
			if cfg.Capacity != tt.capacity {
				t.Errorf("Expected capacity %d, got %d", tt.capacity, cfg.Capacity)
			}
		})
	}
}

func TestRegistry_UnknownResolvesToLowest(t *testing.T) {
	reg, err := NewRegistry(testTiers(), "")
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	for _, name := range []string{"bogus", "", "platinum"} {
		cfg, known := reg.Resolve(name)
		if known {
			t.Errorf("Expected %q to be unknown", name)
		}
		if cfg.Name != Free {
			t.Errorf("Expected %q to resolve to free, got %s", name, cfg.Name)
		}
		if cfg.Capacity != 10 {
			t.Errorf("Expected fallback capacity 10, got %d", cfg.Capacity)
		}
	}
}

func TestRegistry_LowestBreaksTiesOnRefillRate(t *testing.T) {
	reg, err := NewRegistry([]Config{
		{Name: "a", Capacity: 5, RefillRatePerSecond: 2},
		{Name: "b", Capacity: 5, RefillRatePerSecond: 0.5},
	}, "")
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	if got := reg.Default().Name; got != "b" {
		t.Errorf("Expected fallback b, got %s", got)
	}
}

func TestRegistry_ExplicitDefault(t *testing.T) {
	tiers := append(testTiers(), Config{Name: "trial", Capacity: 5, RefillRatePerSecond: 0.5})

	reg, err := NewRegistry(tiers, "trial")
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	if reg.Default().Name != "trial" {
		t.Errorf("Expected default trial, got %s", reg.Default().Name)
	}

	if _, err := NewRegistry(testTiers(), "premium"); err == nil {
		t.Error("Expected error for default tier above the lowest tier")
	}

	_, err = NewRegistry(testTiers(), "missing")
	if !errors.Is(err, ErrUnknownTier) {
		t.Errorf("Expected ErrUnknownTier, got %v", err)
	}
}

func TestRegistry_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		tiers []Config
	}{
		{"empty", nil},
		{"zero capacity", []Config{{Name: Free, Capacity: 0, RefillRatePerSecond: 1}}},
		{"negative rate", []Config{{Name: Free, Capacity: 1, RefillRatePerSecond: -1}}},
		{"missing name", []Config{{Capacity: 1, RefillRatePerSecond: 1}}},
		{"duplicate", []Config{
			{Name: Free, Capacity: 1, RefillRatePerSecond: 1},
			{Name: "FREE", Capacity: 2, RefillRatePerSecond: 1},
		}},
		{"negative abuse threshold", []Config{{Name: Free, Capacity: 1, AbuseDailyThreshold: -1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRegistry(tt.tiers, ""); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

func TestRegistry_TiersOrdered(t *testing.T) {
	reg, err := NewRegistry(testTiers(), "")
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	tiers := reg.Tiers()
	want := []Tier{Free, Basic, Premium, Enterprise}
	if len(tiers) != len(want) {
		t.Fatalf("Expected %d tiers, got %d", len(want), len(tiers))
	}
	for i, name := range want {
		if tiers[i].Name != name {
			t.Errorf("Position %d: expected %s, got %s", i, name, tiers[i].Name)
		}
	}

	// Mutating the returned slice must not affect the registry.
	tiers[0].Capacity = 1 << 40
	if cfg, _ := reg.Resolve("bogus"); cfg.Capacity != 10 {
		t.Errorf("Registry was mutated through Tiers(), fallback capacity %d", cfg.Capacity)
	}
}

func TestRegistry_ConcurrentResolve(t *testing.T) {
	reg, err := NewRegistry(testTiers(), "")
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				reg.Resolve("premium")
				reg.Resolve("bogus")
			}
		}()
	}
	wg.Wait()
}

func TestConfig_IdleTTL(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want time.Duration
	}{
		{"time to full", Config{Capacity: 100, RefillRatePerSecond: 10}, 10 * time.Second},
		{"rounds up", Config{Capacity: 10, RefillRatePerSecond: 3}, 4 * time.Second},
		{"at least one second", Config{Capacity: 1, RefillRatePerSecond: 100}, time.Second},
		{"no refill", Config{Capacity: 3, RefillRatePerSecond: 0}, DefaultIdleTTL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.IdleTTL(); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}
