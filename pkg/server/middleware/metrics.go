package middleware

import (
	"net/http"

	"mercator-hq/gatekeeper/pkg/telemetry/metrics"
)

// Metrics records request count, latency and in-flight requests under the
// given route label. Use the route pattern, not the raw path, so client IDs
// in paths do not explode label cardinality.
func Metrics(m *metrics.HTTPMetrics, route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			done := m.Start(route)
			rw := newResponseWriter(w)
			defer func() { done(rw.statusCode) }()

			next.ServeHTTP(rw, r)
		})
	}
}
