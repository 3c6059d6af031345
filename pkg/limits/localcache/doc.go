// Package localcache provides the process-local approximation cache (L1)
// that sits in front of the shared bucket store.
//
// After every authoritative store answer the cache grants a client a small
// local budget: min(Threshold, remaining) tokens that may be admitted
// without a store round trip until TTL expires. When the local budget is
// used up or expires, the next request goes to the store.
//
// Locally admitted tokens are owed to the store. The next store call for the
// key claims them and debits them together with its own request:
//
//	claimed := cache.Claim(key)
//	decision, err := store.CheckAndDebit(ctx, key, cfg, tokens+claimed, now)
//	switch {
//	case err != nil:
//		cache.Release(key, claimed)
//	case decision.Allowed:
//		cache.RecordAuthoritative(key, decision.Remaining, claimed)
//	default:
//		cache.Release(key, claimed)
//		cache.RecordAuthoritative(key, decision.Remaining, 0)
//	}
//
// Tokens the store did not debit stay owed and count against the next
// window's budget, so the uncharged over-admission per key never exceeds
// Threshold tokens per process. A key without an entry (first request,
// after eviction, after restart) is never admitted locally, and a key whose
// last store answer left zero tokens gets no local budget.
//
// The cache is bounded; least recently used entries are evicted first, and
// an evicted entry's owed tokens are forgotten.
package localcache
