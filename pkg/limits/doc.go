// Package limits provides tier-aware admission control for distributed
// services.
//
// # Overview
//
// The Coordinator decides, for every unit of work identified by a client,
// whether to admit or reject it against the client's tier quota. Quota is
// held in token buckets in a store shared by every service instance, so the
// decision stays correct when many instances check the same client at once.
//
// A check runs these steps:
//
//  1. Resolve the tier through the tier.Registry (unknown tiers fall back to
//     the lowest tier).
//  2. Try the process-local approximation cache. A hit admits without a
//     network round trip.
//  3. Otherwise call the store's atomic CheckAndDebit through the circuit
//     breaker, bounded by StoreTimeout.
//  4. If the breaker is open or the store fails, apply the FailurePolicy:
//     admit (open, the default) or reject (closed). The degradation is
//     logged and counted, never returned as an error.
//  5. On a store answer, refresh the local cache and build the Result.
//  6. On rejection, hand the violation to the abuse tracker without
//     blocking.
//
// # Architecture
//
//   - tier: tier policy registry
//   - storage: atomic bucket stores (Redis, SQLite, memory) and violation counters
//   - circuit: store-failure circuit breaker
//   - localcache: L1 approximation cache
//   - abuse: violation tracking and abuse alerts
//   - retention: scheduled cleanup for stores without native expiry
//
// # Usage
//
//	coord, err := limits.New(limits.Config{
//	    Registry: registry,
//	    Store:    store,
//	}, limits.WithViolationNotifier(tracker))
//
//	res, err := coord.Check(ctx, limits.Request{
//	    ClientID: "api-key-123",
//	    Tier:     "premium",
//	    Endpoint: "/v1/chat",
//	})
//	if err != nil {
//	    // ErrInvalidRequest or ErrCheckTimeout only
//	}
//	if !res.Allowed {
//	    // reject with 429 and res.RetryAfter
//	}
//
// # Keys
//
// Bucket keys are {prefix}:acct:{client}, {prefix}:ep:{client}:endpoint and
// {prefix}:global. The braces are Redis Cluster hash tags, so all keys of
// one client live in the same slot.
//
// # Thread Safety
//
// A Coordinator is safe for concurrent use. Its breaker and local cache are
// owned by the instance; separate Coordinators never share them.
package limits
