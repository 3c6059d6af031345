package limits

import (
	"errors"
	"fmt"
	"math"
	"time"

	"mercator-hq/gatekeeper/pkg/limits/tier"
)

var (
	// ErrInvalidRequest is returned for malformed check requests.
	ErrInvalidRequest = errors.New("invalid rate limit request")

	// ErrCheckTimeout is returned when the caller's context is cancelled or
	// expires while the check waits on the store. No tokens were accounted
	// for the request.
	ErrCheckTimeout = errors.New("rate limit check timed out")
)

// CheckError describes a failed check.
type CheckError struct {
	// Op is the operation that failed.
	Op string

	// Key is the bucket key involved, if any.
	Key string

	// Err is the underlying error.
	Err error
}

func (e *CheckError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CheckError) Unwrap() error {
	return e.Err
}

// Request is the input of a check.
type Request struct {
	// ClientID identifies the client. Required.
	ClientID string `json:"client_id"`

	// Tier is the client's tier name. Unknown or empty names resolve to the
	// default tier.
	Tier string `json:"tier"`

	// Endpoint is the endpoint being called. Used for metrics and for the
	// endpoint level of CheckLevels.
	Endpoint string `json:"endpoint,omitempty"`

	// Tokens is the number of tokens requested. Zero means 1.
	Tokens int64 `json:"tokens,omitempty"`
}

func (r Request) validate() error {
	if r.ClientID == "" {
		return fmt.Errorf("%w: client id is required", ErrInvalidRequest)
	}
	if r.Tokens < 0 {
		return fmt.Errorf("%w: requested tokens must be positive, got %d", ErrInvalidRequest, r.Tokens)
	}
	return nil
}

func (r Request) tokens() int64 {
	if r.Tokens == 0 {
		return 1
	}
	return r.Tokens
}

// Source tells where a decision came from.
type Source string

const (
	// SourceStore is an authoritative answer from the shared store.
	SourceStore Source = "store"

	// SourceLocal is an optimistic admit from the local cache.
	SourceLocal Source = "local"

	// SourceFailOpen is an admit because the store was unavailable.
	SourceFailOpen Source = "fail_open"

	// SourceFailClosed is a rejection because the store was unavailable.
	SourceFailClosed Source = "fail_closed"
)

// Degraded reports whether the decision was made without the store.
func (s Source) Degraded() bool {
	return s == SourceFailOpen || s == SourceFailClosed
}

// Level is the scope of a bucket in a multi-level check.
type Level string

const (
	// LevelEndpoint limits one client on one endpoint.
	LevelEndpoint Level = "endpoint"

	// LevelAccount limits one client across endpoints.
	LevelAccount Level = "account"

	// LevelGlobal limits all clients together.
	LevelGlobal Level = "global"
)

// Result is the outcome of a check.
type Result struct {
	// Allowed reports whether the request is admitted.
	Allowed bool `json:"allowed"`

	// Remaining is the number of whole tokens left.
	Remaining int64 `json:"remaining"`

	// Limit is the bucket capacity.
	Limit int64 `json:"limit"`

	// ResetAt is when the bucket will be full again.
	ResetAt time.Time `json:"reset_at"`

	// RetryAfter is how long until the requested tokens will have refilled.
	// Set only when Allowed is false.
	RetryAfter time.Duration `json:"retry_after,omitempty"`

	// Tier is the resolved tier.
	Tier tier.Tier `json:"tier"`

	// Level is the bucket scope that produced this result.
	Level Level `json:"level"`

	// Source tells where the decision came from.
	Source Source `json:"source"`

	// Reason explains a degraded decision: circuit_open, store_timeout or
	// store_unavailable.
	Reason string `json:"reason,omitempty"`
}

// RetryAfterSeconds returns RetryAfter rounded up to whole seconds, or zero
// when the request was allowed.
func (r *Result) RetryAfterSeconds() int64 {
	if r.Allowed || r.RetryAfter <= 0 {
		return 0
	}
	return int64(math.Ceil(r.RetryAfter.Seconds()))
}

// FailurePolicy decides the outcome of a check when the store cannot answer.
type FailurePolicy string

const (
	// FailOpen admits requests while the store is unavailable.
	FailOpen FailurePolicy = "open"

	// FailClosed rejects requests while the store is unavailable.
	FailClosed FailurePolicy = "closed"
)

// ParseFailurePolicy parses a policy name. Empty means FailOpen.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(s) {
	case "", FailOpen:
		return FailOpen, nil
	case FailClosed:
		return FailClosed, nil
	default:
		return "", fmt.Errorf("unknown failure policy %q (expected open or closed)", s)
	}
}
