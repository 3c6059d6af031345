// Package health provides liveness and readiness probes.
//
// Liveness only reports that the process runs. Readiness runs the registered
// checks concurrently, each bounded by the checker timeout:
//
//	checker := health.New(time.Second)
//	checker.RegisterCheck("store", health.StoreCheck(store))
//	checker.RegisterCheck("circuit", health.BreakerCheck(coordinator.Breaker()))
//
//	mux.HandleFunc("/health", checker.LivenessHandler())
//	mux.HandleFunc("/ready", checker.ReadinessHandler())
//
// The readiness endpoint answers 503 while the circuit around the store is
// open. Admission checks keep working in that state under the configured
// failure policy; readiness only tells load balancers that this instance
// cannot reach the store.
package health
