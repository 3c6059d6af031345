package tier

import (
	"fmt"
	"sort"
)

// Registry maps tier names to bucket parameters.
// A Registry is immutable after NewRegistry returns.
type Registry struct {
	tiers    map[Tier]Config
	ordered  []Config
	fallback Config
}

// NewRegistry builds a registry from a tier table.
//
// Tier names are normalized. Duplicate names and invalid parameters are
// rejected. If defaultTier is empty the lowest tier (smallest capacity, then
// smallest refill rate) becomes the fallback. A named default must exist and
// must not grant more than the lowest tier.
func NewRegistry(tiers []Config, defaultTier Tier) (*Registry, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("at least one tier must be configured")
	}

	r := &Registry{
		tiers: make(map[Tier]Config, len(tiers)),
	}

	for _, cfg := range tiers {
		cfg.Name = Normalize(string(cfg.Name))
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		if _, exists := r.tiers[cfg.Name]; exists {
			return nil, fmt.Errorf("duplicate tier %q", cfg.Name)
		}
		r.tiers[cfg.Name] = cfg
		r.ordered = append(r.ordered, cfg)
	}

	sort.Slice(r.ordered, func(i, j int) bool {
		return r.ordered[i].lower(r.ordered[j])
	})
	lowest := r.ordered[0]

	if defaultTier == "" {
		r.fallback = lowest
		return r, nil
	}

	def, ok := r.tiers[Normalize(string(defaultTier))]
	if !ok {
		return nil, fmt.Errorf("default tier %q: %w", defaultTier, ErrUnknownTier)
	}
	if def.Capacity > lowest.Capacity || def.RefillRatePerSecond > lowest.RefillRatePerSecond {
		return nil, fmt.Errorf("default tier %q grants more than the lowest tier %q", def.Name, lowest.Name)
	}
	r.fallback = def
	return r, nil
}

// Resolve returns the parameters for the named tier. Unknown names resolve to
// the default tier with known set to false. Resolve has no side effects.
func (r *Registry) Resolve(name string) (Config, bool) {
	if cfg, ok := r.tiers[Normalize(name)]; ok {
		return cfg, true
	}
	return r.fallback, false
}

// Default returns the fallback tier.
func (r *Registry) Default() Config {
	return r.fallback
}

// Tiers returns all tiers ordered from lowest to highest quota.
func (r *Registry) Tiers() []Config {
	out := make([]Config, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Len returns the number of configured tiers.
func (r *Registry) Len() int {
	return len(r.tiers)
}
