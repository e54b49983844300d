// Package resilience implements failure isolation for stage calls: a
// three-state circuit breaker per external capability, a registry that shares
// breakers across concurrent runs, and a bounded retry policy with capped
// exponential backoff.
//
// The two compose as RetryPolicy -> Breaker -> call. Only retryable capability
// errors consume retry budget; an open circuit returns immediately so a
// degraded dependency is not hammered.
package resilience
