// Package tier provides the tier policy registry.
//
// A tier is a named quota class (free, basic, premium, enterprise) that maps
// to token bucket parameters: a capacity (maximum burst) and a refill rate in
// tokens per second. The registry is built once from configuration and is
// immutable afterwards, so it is safe for concurrent reads without locking.
//
// # Fallback
//
// Resolve is total. An unknown or empty tier name resolves to the default
// tier, which is the lowest configured tier unless a default is named
// explicitly. An unrecognized tier never grants more quota than the lowest
// tier.
//
//	reg, err := tier.NewRegistry([]tier.Config{
//	    {Name: tier.Free, Capacity: 10, RefillRatePerSecond: 1},
//	    {Name: tier.Premium, Capacity: 100, RefillRatePerSecond: 10},
//	}, "")
//	cfg, known := reg.Resolve("bogus") // cfg.Name == tier.Free, known == false
//
// Hot reload builds a new Registry and swaps the pointer; existing Registry
// values are never mutated.
package tier
