package storage

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"mercator-hq/gatekeeper/pkg/limits/tier"
)

//go:embed token_bucket.lua
var tokenBucketLua string

var tokenBucketScript = redis.NewScript(tokenBucketLua)

// RedisStore implements Store on Redis.
//
// CheckAndDebit runs a Lua script that reads, refills, debits, writes and
// sets the idle TTL of a bucket hash in one server-side step. Redis executes
// scripts atomically, so callers on any number of instances are serialized
// per key. Timestamps are passed in by the caller in milliseconds; the
// script never reads the server clock.
type RedisStore struct {
	client    redis.UniversalClient
	ownClient bool
}

// RedisConfig configures the Redis client.
type RedisConfig struct {
	// Addrs lists host:port addresses. One address connects to a single
	// node; several connect to a cluster.
	Addrs []string

	// Username and Password authenticate the connection.
	Username string
	Password string

	// DB selects the database on single-node deployments.
	DB int

	// DialTimeout bounds connection establishment. Default: 1 second
	DialTimeout time.Duration

	// ReadTimeout and WriteTimeout bound socket operations.
	// Default: 100 milliseconds
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// PoolSize is the maximum number of connections per node.
	// Default: go-redis default (10 per CPU)
	PoolSize int
}

// NewRedisStore creates a Redis store with its own client. The client is
// closed by Close. No connection is made until the first call.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if len(cfg.Addrs) == 0 {
		return nil, fmt.Errorf("at least one redis address is required")
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 100 * time.Millisecond
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 100 * time.Millisecond
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:                 cfg.Addrs,
		Username:              cfg.Username,
		Password:              cfg.Password,
		DB:                    cfg.DB,
		DialTimeout:           cfg.DialTimeout,
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		PoolSize:              cfg.PoolSize,
		ContextTimeoutEnabled: true,
	})

	return &RedisStore{client: client, ownClient: true}, nil
}

// NewRedisStoreFromClient wraps an existing client. Close does not close it.
func NewRedisStoreFromClient(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// CheckAndDebit implements BucketStore.
func (r *RedisStore) CheckAndDebit(ctx context.Context, key string, cfg tier.Config, requested int64, now time.Time) (Decision, error) {
	if err := validateCheck(key, cfg, requested); err != nil {
		return Decision{}, err
	}

	raw, err := tokenBucketScript.Run(ctx, r.client, []string{key},
		cfg.Capacity,
		strconv.FormatFloat(cfg.RefillRatePerSecond, 'f', -1, 64),
		requested,
		now.UnixMilli(),
		cfg.IdleTTL().Milliseconds(),
	).Result()
	if err != nil {
		return Decision{}, classifyError("token bucket script", err)
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) != 2 {
		return Decision{}, classifyError("token bucket script", fmt.Errorf("unexpected result %v", raw))
	}

	allowed, ok := values[0].(int64)
	if !ok {
		return Decision{}, classifyError("token bucket script", fmt.Errorf("unexpected allowed value %v", values[0]))
	}
	tokens, err := parseTokens(values[1])
	if err != nil {
		return Decision{}, classifyError("token bucket script", err)
	}

	return Decision{
		Allowed:   allowed == 1,
		Tokens:    tokens,
		Remaining: int64(tokens),
		Capacity:  cfg.Capacity,
	}, nil
}

// IncrementViolation implements ViolationStore.
func (r *RedisStore) IncrementViolation(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if key == "" {
		return 0, fmt.Errorf("key cannot be empty")
	}

	var incr *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return 0, classifyError("increment violation", err)
	}
	return incr.Val(), nil
}

// MarkOnce implements ViolationStore with SET NX.
func (r *RedisStore) MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, fmt.Errorf("key cannot be empty")
	}

	created, err := r.client.SetNX(ctx, key, 1, ttl).Result()
	if err != nil {
		return false, classifyError("mark", err)
	}
	return created, nil
}

// ViolationCount implements ViolationStore.
func (r *RedisStore) ViolationCount(ctx context.Context, key string) (int64, error) {
	n, err := r.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, classifyError("violation count", err)
	}
	return n, nil
}

// Ping implements BucketStore.
func (r *RedisStore) Ping(ctx context.Context) error {
	return classifyError("ping", r.client.Ping(ctx).Err())
}

// Close closes the client if the store created it.
func (r *RedisStore) Close() error {
	if !r.ownClient {
		return nil
	}
	return r.client.Close()
}

func parseTokens(v interface{}) (float64, error) {
	switch val := v.(type) {
	case string:
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid token count %q: %w", val, err)
		}
		return f, nil
	case int64:
		return float64(val), nil
	default:
		return 0, fmt.Errorf("unexpected token count type %T", v)
	}
}
