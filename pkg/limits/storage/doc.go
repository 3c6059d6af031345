// Package storage provides the token bucket and violation counter stores.
//
// # Overview
//
// Every store implements an atomic read-refill-debit-write primitive,
// CheckAndDebit, against a per-key token bucket. Concurrent callers for the
// same key, in this process or in other processes sharing the store, are
// serialized by the store itself:
//
//   - Redis: a single server-side Lua script (EVALSHA with EVAL fallback)
//   - SQLite: a BEGIN IMMEDIATE transaction per check
//   - Memory: a mutex, for single-instance deployments and tests
//
// The refill arithmetic lives in Apply and is shared by the Memory and
// SQLite stores; the Redis script mirrors it.
//
// # Usage
//
//	store, err := storage.NewRedisStore(storage.RedisConfig{Addrs: []string{"localhost:6379"}})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	d, err := store.CheckAndDebit(ctx, "gatekeeper:acct:client-1", cfg, 1, time.Now())
//	if errors.Is(err, storage.ErrStoreUnavailable) {
//	    // caller decides between fail-open and fail-closed
//	}
//
// # Failure Semantics
//
// A store never approximates. Connection errors, script errors and timeouts
// are returned wrapped in ErrStoreUnavailable (timeouts additionally match
// ErrStoreTimeout). A failed call has not debited any tokens.
//
// # Thread Safety
//
// All stores are safe for concurrent use.
package storage
