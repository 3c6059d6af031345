package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"mercator-hq/gatekeeper/pkg/limits"
	"mercator-hq/gatekeeper/pkg/limits/abuse"
	"mercator-hq/gatekeeper/pkg/server/middleware"
	"mercator-hq/gatekeeper/pkg/server/tlsconfig"
	"mercator-hq/gatekeeper/pkg/telemetry/logging"
)

// maxBodyBytes bounds check request bodies.
const maxBodyBytes = 64 << 10

// CheckResponse is the body of a check answer.
type CheckResponse struct {
	Allowed           bool      `json:"allowed"`
	Remaining         int64     `json:"remaining"`
	Limit             int64     `json:"limit"`
	ResetAt           time.Time `json:"reset_at"`
	RetryAfterSeconds int64     `json:"retry_after_seconds,omitempty"`
	Tier              string    `json:"tier"`
	Level             string    `json:"level"`
	Source            string    `json:"source"`
	Reason            string    `json:"reason,omitempty"`
}

// NewCheckResponse converts a check result into its wire form.
func NewCheckResponse(res *limits.Result) CheckResponse {
	return CheckResponse{
		Allowed:           res.Allowed,
		Remaining:         res.Remaining,
		Limit:             res.Limit,
		ResetAt:           res.ResetAt.UTC(),
		RetryAfterSeconds: res.RetryAfterSeconds(),
		Tier:              res.Tier.String(),
		Level:             string(res.Level),
		Source:            string(res.Source),
		Reason:            res.Reason,
	}
}

// ViolationsResponse is the body of a violation count answer.
type ViolationsResponse struct {
	ClientID string `json:"client_id"`
	Day      string `json:"day"`
	Count    int64  `json:"count"`
}

// handleCheck answers POST /v1/check.
//
// Request:
//
//	{"client_id": "acme", "tier": "premium", "endpoint": "/v1/orders", "tokens": 1}
//
// The answer is 200 when admitted and 429 when rejected, both with a
// CheckResponse body and the X-RateLimit-* headers.
func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req limits.Request
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, middleware.ErrorTypeInvalidRequest, err.Error())
		return
	}
	req.ClientID = s.clientID(r, req.ClientID)

	ctx := logging.WithClientID(r.Context(), req.ClientID)
	ctx = logging.WithEndpoint(ctx, req.Endpoint)

	res, err := s.deps.Limiter.Check(ctx, req)
	s.writeCheck(w, r.WithContext(ctx), res, err)
}

// handleCheckLevels answers POST /v1/check/levels.
//
// Request:
//
//	{"client_id": "acme", "tier": "premium", "endpoint": "/v1/orders",
//	 "endpoint_tier": "free", "global_tier": "enterprise"}
func (s *Server) handleCheckLevels(w http.ResponseWriter, r *http.Request) {
	var req limits.LevelRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, middleware.ErrorTypeInvalidRequest, err.Error())
		return
	}
	req.ClientID = s.clientID(r, req.ClientID)

	ctx := logging.WithClientID(r.Context(), req.ClientID)
	ctx = logging.WithEndpoint(ctx, req.Endpoint)

	res, err := s.deps.Limiter.CheckLevels(ctx, req)
	s.writeCheck(w, r.WithContext(ctx), res, err)
}

// clientID returns the client id of a check. With mutual TLS enabled, a
// check that omits it is attributed to the verified client certificate.
func (s *Server) clientID(r *http.Request, fromBody string) string {
	if fromBody != "" || !s.config.TLS.Enabled || !s.config.TLS.MTLS.Enabled {
		return fromBody
	}
	return tlsconfig.ClientIdentity(r, s.config.TLS.MTLS.IdentitySource)
}

func (s *Server) writeCheck(w http.ResponseWriter, r *http.Request, res *limits.Result, err error) {
	if err != nil {
		if !errors.Is(err, limits.ErrInvalidRequest) {
			s.logger.WarnContext(r.Context(), "rate limit check failed", "error", err)
		}
		middleware.WriteCheckError(w, err)
		return
	}

	middleware.WriteHeaders(w, res)

	code := http.StatusOK
	if !res.Allowed {
		code = http.StatusTooManyRequests
	}
	writeJSON(w, code, NewCheckResponse(res))
}

// handleViolations answers GET /v1/violations/{client}?day=YYYY-MM-DD.
// The day defaults to today in UTC.
func (s *Server) handleViolations(w http.ResponseWriter, r *http.Request) {
	clientID := r.PathValue("client")
	if clientID == "" {
		middleware.WriteError(w, http.StatusBadRequest, middleware.ErrorTypeInvalidRequest, "client id is required")
		return
	}

	day := time.Now().UTC()
	if v := r.URL.Query().Get("day"); v != "" {
		parsed, err := time.Parse(abuse.DayLayout, v)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrorTypeInvalidRequest,
				fmt.Sprintf("invalid day %q, expected YYYY-MM-DD", v))
			return
		}
		day = parsed
	}

	ctx := logging.WithClientID(r.Context(), clientID)
	count, err := s.deps.Violations.DailyViolationCount(ctx, clientID, day)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to read violation count", "error", err)
		middleware.WriteError(w, http.StatusServiceUnavailable, middleware.ErrorTypeServiceUnavailable,
			"violation store unavailable")
		return
	}

	writeJSON(w, http.StatusOK, ViolationsResponse{
		ClientID: clientID,
		Day:      day.Format(abuse.DayLayout),
		Count:    count,
	})
}

// decodeJSON decodes a single JSON object, rejecting unknown fields and
// bodies larger than maxBodyBytes.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		return fmt.Errorf("unsupported content type %q", ct)
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("request body is empty")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	if dec.More() {
		return fmt.Errorf("request body must contain a single JSON object")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
