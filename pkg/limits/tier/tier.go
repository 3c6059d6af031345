package tier

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Tier is a named quota class.
type Tier string

const (
	// Free is the entry tier with the smallest quota.
	Free Tier = "free"

	// Basic is the paid entry tier.
	Basic Tier = "basic"

	// Premium is the high-volume tier.
	Premium Tier = "premium"

	// Enterprise is the contract tier.
	Enterprise Tier = "enterprise"
)

// ErrUnknownTier is reported when a tier name is not in the registry.
// Resolve never returns it; callers use the known flag instead.
var ErrUnknownTier = errors.New("unknown tier")

// DefaultIdleTTL bounds the lifetime of bucket state for tiers that never
// refill, where time-to-full is undefined.
const DefaultIdleTTL = 24 * time.Hour

// Normalize lower-cases and trims a tier name.
func Normalize(name string) Tier {
	return Tier(strings.ToLower(strings.TrimSpace(name)))
}

// String returns the tier name.
func (t Tier) String() string {
	return string(t)
}

// Config holds the bucket parameters for one tier.
type Config struct {
	// Name is the tier name.
	Name Tier

	// Capacity is the bucket size, i.e. the maximum burst.
	Capacity int64

	// RefillRatePerSecond is the number of tokens added per second.
	// Zero means the bucket never refills.
	RefillRatePerSecond float64

	// AbuseDailyThreshold overrides the global abuse alert threshold for
	// clients in this tier. Zero means use the global threshold.
	AbuseDailyThreshold int64
}

// Validate checks the tier parameters.
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("tier name cannot be empty")
	}
	if c.Capacity <= 0 {
		return fmt.Errorf("tier %q: capacity must be positive, got %d", c.Name, c.Capacity)
	}
	if c.RefillRatePerSecond < 0 || math.IsNaN(c.RefillRatePerSecond) || math.IsInf(c.RefillRatePerSecond, 0) {
		return fmt.Errorf("tier %q: refill rate must be a finite non-negative number, got %v", c.Name, c.RefillRatePerSecond)
	}
	if c.AbuseDailyThreshold < 0 {
		return fmt.Errorf("tier %q: abuse threshold cannot be negative, got %d", c.Name, c.AbuseDailyThreshold)
	}
	return nil
}

// IdleTTL returns how long bucket state may sit untouched before it is
// reclaimed: the time to refill from empty to full, rounded up to a whole
// second. Tiers without refill use DefaultIdleTTL.
func (c Config) IdleTTL() time.Duration {
	if c.RefillRatePerSecond <= 0 {
		return DefaultIdleTTL
	}
	secs := math.Ceil(float64(c.Capacity) / c.RefillRatePerSecond)
	if secs < 1 {
		secs = 1
	}
	return time.Duration(secs) * time.Second
}

// lower reports whether c grants less quota than other.
// Capacity decides first, then refill rate, then name for a stable order.
func (c Config) lower(other Config) bool {
	if c.Capacity != other.Capacity {
		return c.Capacity < other.Capacity
	}
	if c.RefillRatePerSecond != other.RefillRatePerSecond {
		return c.RefillRatePerSecond < other.RefillRatePerSecond
	}
	return c.Name < other.Name
}
