package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"mercator-hq/gatekeeper/pkg/limits"
	"mercator-hq/gatekeeper/pkg/telemetry/logging"
)

// Rate limit response headers.
const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderTier       = "X-RateLimit-Tier"
	HeaderDegraded   = "X-RateLimit-Degraded"
	HeaderRetryAfter = "Retry-After"

	// DefaultClientHeader and DefaultTierHeader are read by HeaderRequest.
	DefaultClientHeader = "X-Client-ID"
	DefaultTierHeader   = "X-Client-Tier"
)

// Checker makes admission decisions. *limits.Coordinator implements it.
type Checker interface {
	Check(ctx context.Context, req limits.Request) (*limits.Result, error)
}

// RequestFunc builds the check request for an HTTP request. Returning false
// lets the request through without a check.
type RequestFunc func(r *http.Request) (limits.Request, bool)

// HeaderRequest returns a RequestFunc that reads the client ID and tier from
// the given headers. The endpoint is the ServeMux pattern that matched the
// request, so /items/1 and /items/2 share the "GET /items/{id}" bucket; when
// no pattern matched yet (middleware outside the mux) it is the URL path.
// Requests without a client ID are not checked. Empty header names select
// the defaults.
func HeaderRequest(clientHeader, tierHeader string) RequestFunc {
	if clientHeader == "" {
		clientHeader = DefaultClientHeader
	}
	if tierHeader == "" {
		tierHeader = DefaultTierHeader
	}

	return func(r *http.Request) (limits.Request, bool) {
		clientID := r.Header.Get(clientHeader)
		if clientID == "" {
			return limits.Request{}, false
		}
		endpoint := r.Pattern
		if endpoint == "" {
			endpoint = r.URL.Path
		}
		return limits.Request{
			ClientID: clientID,
			Tier:     r.Header.Get(tierHeader),
			Endpoint: endpoint,
		}, true
	}
}

// RateLimit puts admission control in front of next. Admitted requests carry
// the X-RateLimit-* headers; rejected ones are answered with 429 and a
// Retry-After header.
//
// A degraded admit (fail-open) is forwarded like any other admit with the
// X-RateLimit-Degraded header set to the reason.
//
// Example usage:
//
//	handler = RateLimit(coordinator, HeaderRequest("", ""), logger)(handler)
func RateLimit(checker Checker, requestFn RequestFunc, logger *slog.Logger) func(http.Handler) http.Handler {
	if requestFn == nil {
		requestFn = HeaderRequest("", "")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req, ok := requestFn(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			ctx := logging.WithClientID(r.Context(), req.ClientID)
			ctx = logging.WithEndpoint(ctx, req.Endpoint)

			res, err := checker.Check(ctx, req)
			if err != nil {
				WriteCheckError(w, err)
				if !errors.Is(err, limits.ErrInvalidRequest) {
					logger.WarnContext(ctx, "rate limit check failed", "error", err)
				}
				return
			}

			WriteHeaders(w, res)
			if !res.Allowed {
				WriteError(w, http.StatusTooManyRequests, ErrorTypeRateLimitExceeded, "Rate limit exceeded")
				return
			}

			ctx = logging.WithTier(ctx, res.Tier.String())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WriteHeaders maps a check result onto the standard rate limit headers.
// Retry-After is set only on rejections.
func WriteHeaders(w http.ResponseWriter, res *limits.Result) {
	h := w.Header()
	h.Set(HeaderLimit, strconv.FormatInt(res.Limit, 10))
	h.Set(HeaderRemaining, strconv.FormatInt(res.Remaining, 10))
	if !res.ResetAt.IsZero() {
		h.Set(HeaderReset, strconv.FormatInt(res.ResetAt.Unix(), 10))
	}
	if res.Tier != "" {
		h.Set(HeaderTier, res.Tier.String())
	}
	if res.Source.Degraded() {
		h.Set(HeaderDegraded, res.Reason)
	}
	if secs := res.RetryAfterSeconds(); secs > 0 {
		h.Set(HeaderRetryAfter, strconv.FormatInt(secs, 10))
	}
}

// WriteCheckError answers a failed check: 400 for invalid requests, 503 when
// the check timed out and 500 otherwise.
func WriteCheckError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, limits.ErrInvalidRequest):
		WriteError(w, http.StatusBadRequest, ErrorTypeInvalidRequest, err.Error())
	case errors.Is(err, limits.ErrCheckTimeout):
		WriteError(w, http.StatusServiceUnavailable, ErrorTypeServiceUnavailable, "Rate limit check timed out")
	default:
		WriteError(w, http.StatusInternalServerError, ErrorTypeServerError, "Rate limit check failed")
	}
}
