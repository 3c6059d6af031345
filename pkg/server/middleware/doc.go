// Package middleware provides net/http middleware for the Gatekeeper server
// and for services that embed the coordinator.
//
// # Chain
//
// The server applies, outermost first:
//
//	Recovery -> RequestID -> Logging -> tracing -> routes
//
// and wraps every route in Metrics with the route pattern as label.
//
// # Rate Limiting Other Services
//
// RateLimit puts a Checker (usually *limits.Coordinator) in front of any
// handler:
//
//	handler = middleware.RateLimit(coordinator, middleware.HeaderRequest("", ""), logger)(handler)
//
// Responses carry the standard headers:
//
//	X-RateLimit-Limit: 1000
//	X-RateLimit-Remaining: 998
//	X-RateLimit-Reset: 1772447400
//	X-RateLimit-Tier: premium
//	Retry-After: 3            (rejections only)
//	X-RateLimit-Degraded: circuit_open   (decisions made without the store)
//
// Rejected requests are answered with 429 and an ErrorResponse body.
package middleware
