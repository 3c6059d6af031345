// Package circuit provides a process-local circuit breaker for store calls.
//
// The breaker has three states:
//
//   - Closed: calls pass through. Consecutive failures are counted and the
//     breaker opens when the count reaches FailureThreshold.
//   - Open: calls fail immediately with ErrOpen. After CoolDown the breaker
//     moves to HalfOpen.
//   - HalfOpen: one probe call is let through. Success closes the breaker
//     and resets the failure count. Failure, including a timeout, re-opens it
//     at once with a fresh cool-down.
//
// A call whose caller context was cancelled or hit its deadline is neither a
// success nor a failure; it only releases its probe slot. Results of calls
// that started before the last state change are ignored.
//
// State is owned by the Breaker value. Each instance of a service keeps its
// own breaker and detects store health independently.
package circuit
