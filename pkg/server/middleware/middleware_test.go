package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"mercator-hq/gatekeeper/pkg/limits"
	"mercator-hq/gatekeeper/pkg/limits/storage"
	"mercator-hq/gatekeeper/pkg/limits/tier"
	"mercator-hq/gatekeeper/pkg/telemetry/logging"
	"mercator-hq/gatekeeper/pkg/telemetry/metrics"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
})

// ==================== Request ID ====================

func TestRequestID(t *testing.T) {
	var seen string
	wrapped := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logging.GetRequestID(r.Context())
	}))

	t.Run("generates request ID when not provided", func(t *testing.T) {
		w := httptest.NewRecorder()
		wrapped.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

		got := w.Header().Get(RequestIDHeader)
		if len(got) != 36 {
			t.Errorf("Expected a UUID request ID, got %q", got)
		}
		if seen != got {
			t.Errorf("Expected context request ID %q, got %q", got, seen)
		}
	})

	t.Run("uses provided request ID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set(RequestIDHeader, "custom-request-id-12345")
		w := httptest.NewRecorder()
		wrapped.ServeHTTP(w, req)

		if got := w.Header().Get(RequestIDHeader); got != "custom-request-id-12345" {
			t.Errorf("Request ID = %v, want custom-request-id-12345", got)
		}
	})

	t.Run("replaces oversized request ID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set(RequestIDHeader, strings.Repeat("x", maxRequestIDLength+1))
		w := httptest.NewRecorder()
		wrapped.ServeHTTP(w, req)

		if got := w.Header().Get(RequestIDHeader); len(got) != 36 {
			t.Errorf("Expected oversized ID to be replaced, got %q", got)
		}
	})

	t.Run("generates unique IDs for different requests", func(t *testing.T) {
		w1 := httptest.NewRecorder()
		wrapped.ServeHTTP(w1, httptest.NewRequest(http.MethodGet, "/test", nil))
		w2 := httptest.NewRecorder()
		wrapped.ServeHTTP(w2, httptest.NewRequest(http.MethodGet, "/test", nil))

		if w1.Header().Get(RequestIDHeader) == w2.Header().Get(RequestIDHeader) {
			t.Error("Request IDs should be unique")
		}
	})
}

// ==================== Logging ====================

func TestLogging(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantLevel string
	}{
		{"success logs at debug", http.StatusOK, "DEBUG"},
		{"client error logs at warn", http.StatusTooManyRequests, "WARN"},
		{"server error logs at error", http.StatusInternalServerError, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(logging.NewContextHandler(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

			handler := RequestID(Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})))

			req := httptest.NewRequest(http.MethodPost, "/v1/check", nil)
			req.Header.Set(RequestIDHeader, "req-1")
			handler.ServeHTTP(httptest.NewRecorder(), req)

			var entry map[string]any
			if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
				t.Fatalf("Expected one JSON log line, got %q: %v", buf.String(), err)
			}
			if entry["level"] != tt.wantLevel {
				t.Errorf("Expected level %s, got %v", tt.wantLevel, entry["level"])
			}
			if entry["status"] != float64(tt.status) {
				t.Errorf("Expected status %d, got %v", tt.status, entry["status"])
			}
			if entry["request_id"] != "req-1" {
				t.Errorf("Expected request_id req-1, got %v", entry["request_id"])
			}
		})
	}
}

func TestResponseWriter_DefaultsToOK(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := newResponseWriter(rec)
	_, _ = rw.Write([]byte("body"))
	rw.WriteHeader(http.StatusTeapot)

	if rw.statusCode != http.StatusOK {
		t.Errorf("Expected status 200 after implicit write, got %d", rw.statusCode)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("Expected recorder status 200, got %d", rec.Code)
	}
	if newResponseWriter(rw) != rw {
		t.Error("Expected an already wrapped writer to be reused")
	}
}

// ==================== Recovery ====================

func TestRecovery(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	panicking := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	w := httptest.NewRecorder()
	Recovery(logger)(panicking).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", w.Code)
	}

	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Expected JSON error body: %v", err)
	}
	if resp.Error.Type != ErrorTypeServerError {
		t.Errorf("Expected error type %s, got %s", ErrorTypeServerError, resp.Error.Type)
	}
	if strings.Contains(resp.Error.Message, "boom") {
		t.Error("Panic value should not be exposed to clients")
	}
	if !strings.Contains(buf.String(), "boom") {
		t.Error("Expected panic to be logged")
	}
}

func TestRecovery_PassesThrough(t *testing.T) {
	w := httptest.NewRecorder()
	Recovery(nil)(okHandler).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}

// ==================== Rate Limit ====================

type fakeChecker struct {
	res *limits.Result
	err error
	got limits.Request
}

func (f *fakeChecker) Check(ctx context.Context, req limits.Request) (*limits.Result, error) {
	f.got = req
	return f.res, f.err
}

func newCoordinator(t *testing.T, capacity int64) *limits.Coordinator {
	t.Helper()
	reg, err := tier.NewRegistry([]tier.Config{{Name: tier.Free, Capacity: capacity}}, "")
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	c, err := limits.New(limits.Config{Registry: reg, Store: storage.NewMemoryStore()})
	if err != nil {
		t.Fatalf("failed to create coordinator: %v", err)
	}
	return c
}

func TestRateLimit_RejectsAfterCapacity(t *testing.T) {
	handler := RateLimit(newCoordinator(t, 2), HeaderRequest("", ""), nil)(okHandler)

	codes := make([]int, 0, 3)
	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/resource", nil)
		req.Header.Set(DefaultClientHeader, "client-1")
		req.Header.Set(DefaultTierHeader, "free")
		last = httptest.NewRecorder()
		handler.ServeHTTP(last, req)
		codes = append(codes, last.Code)
	}

	want := []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}
	for i := range want {
		if codes[i] != want[i] {
			t.Errorf("Request %d: expected status %d, got %d", i+1, want[i], codes[i])
		}
	}

	if got := last.Header().Get(HeaderLimit); got != "2" {
		t.Errorf("Expected %s 2, got %q", HeaderLimit, got)
	}
	if got := last.Header().Get(HeaderRemaining); got != "0" {
		t.Errorf("Expected %s 0, got %q", HeaderRemaining, got)
	}
	if got := last.Header().Get(HeaderRetryAfter); got == "" {
		t.Errorf("Expected %s on rejection", HeaderRetryAfter)
	}
	if !strings.Contains(last.Body.String(), ErrorTypeRateLimitExceeded) {
		t.Errorf("Expected rate limit error body, got %s", last.Body.String())
	}
}

func TestRateLimit_SkipsRequestsWithoutClient(t *testing.T) {
	checker := &fakeChecker{err: fmt.Errorf("should not be called")}
	w := httptest.NewRecorder()
	RateLimit(checker, nil, nil)(okHandler).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/open", nil))

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if checker.got.ClientID != "" {
		t.Error("Expected no check for a request without client ID")
	}
}

func TestRateLimit_CheckErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"invalid request", fmt.Errorf("%w: bad", limits.ErrInvalidRequest), http.StatusBadRequest},
		{"timeout", fmt.Errorf("%w: %w", limits.ErrCheckTimeout, context.Canceled), http.StatusServiceUnavailable},
		{"other", fmt.Errorf("unexpected"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := &fakeChecker{err: tt.err}
			req := httptest.NewRequest(http.MethodGet, "/v1/resource", nil)
			req.Header.Set(DefaultClientHeader, "client-1")
			w := httptest.NewRecorder()

			RateLimit(checker, nil, nil)(okHandler).ServeHTTP(w, req)

			if w.Code != tt.wantCode {
				t.Errorf("Expected status %d, got %d", tt.wantCode, w.Code)
			}
		})
	}
}

func TestHeaderRequest(t *testing.T) {
	fn := HeaderRequest("X-Api-Client", "X-Api-Tier")

	req := httptest.NewRequest(http.MethodGet, "/v1/items", nil)
	req.Header.Set("X-Api-Client", "acme")
	req.Header.Set("X-Api-Tier", "premium")

	got, ok := fn(req)
	if !ok {
		t.Fatal("Expected request to be checked")
	}
	if got.ClientID != "acme" || got.Tier != "premium" || got.Endpoint != "/v1/items" {
		t.Errorf("Unexpected request: %+v", got)
	}
}

func TestHeaderRequest_UsesRoutePattern(t *testing.T) {
	var got []string
	mux := http.NewServeMux()
	mux.Handle("GET /v1/items/{id}", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, _ := HeaderRequest("", "")(r)
		got = append(got, req.Endpoint)
	}))

	for _, path := range []string{"/v1/items/1", "/v1/items/2", "/v1/items/abc"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set(DefaultClientHeader, "acme")
		mux.ServeHTTP(httptest.NewRecorder(), req)
	}

	if len(got) != 3 {
		t.Fatalf("Expected 3 requests, got %d", len(got))
	}
	for _, endpoint := range got {
		if endpoint != "GET /v1/items/{id}" {
			t.Errorf("Expected route pattern as endpoint, got %q", endpoint)
		}
	}
}

func TestWriteHeaders(t *testing.T) {
	resetAt := time.Unix(1700000000, 0)

	t.Run("admitted", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteHeaders(w, &limits.Result{Allowed: true, Limit: 100, Remaining: 42, ResetAt: resetAt, Tier: tier.Premium, Source: limits.SourceStore})

		if w.Header().Get(HeaderRemaining) != "42" {
			t.Errorf("Expected remaining 42, got %q", w.Header().Get(HeaderRemaining))
		}
		if w.Header().Get(HeaderReset) != "1700000000" {
			t.Errorf("Expected reset 1700000000, got %q", w.Header().Get(HeaderReset))
		}
		if w.Header().Get(HeaderTier) != "premium" {
			t.Errorf("Expected tier premium, got %q", w.Header().Get(HeaderTier))
		}
		if w.Header().Get(HeaderRetryAfter) != "" {
			t.Error("Retry-After should not be set on admit")
		}
		if w.Header().Get(HeaderDegraded) != "" {
			t.Error("Degraded header should not be set for store decisions")
		}
	})

	t.Run("rejected rounds retry after up", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteHeaders(w, &limits.Result{Limit: 10, RetryAfter: 1500 * time.Millisecond, ResetAt: resetAt, Source: limits.SourceStore})

		if got := w.Header().Get(HeaderRetryAfter); got != "2" {
			t.Errorf("Expected Retry-After 2, got %q", got)
		}
	})

	t.Run("degraded admit", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteHeaders(w, &limits.Result{Allowed: true, Limit: 10, Source: limits.SourceFailOpen, Reason: "circuit_open"})

		if got := w.Header().Get(HeaderDegraded); got != "circuit_open" {
			t.Errorf("Expected degraded reason circuit_open, got %q", got)
		}
		if w.Header().Get(HeaderReset) != "" {
			t.Error("Reset should be omitted for a zero reset time")
		}
	})
}

// ==================== Metrics ====================

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewHTTPMetrics(reg)

	handler := Metrics(m, "POST /v1/check")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	for i := 0; i < 3; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/check", nil))
	}

	expected := `
# HELP gatekeeper_http_requests_total Total number of HTTP requests served
# TYPE gatekeeper_http_requests_total counter
gatekeeper_http_requests_total{code="429",route="POST /v1/check"} 3
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "gatekeeper_http_requests_total"); err != nil {
		t.Errorf("Unexpected metrics: %v", err)
	}
}

func TestMetrics_NilIsPassThrough(t *testing.T) {
	w := httptest.NewRecorder()
	Metrics(nil, "GET /")(okHandler).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}
