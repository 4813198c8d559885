package vigil

import "time"

// Pattern: Factory Function — each preset produces a ready-made config
// bundle for a common dependency class, avoiding boilerplate.

// StandardHTTPRetry returns the retry configuration for a typical HTTP
// dependency: 3 attempts of exponential backoff from 100ms with a 2s
// per-attempt timeout.
func StandardHTTPRetry() RetryConfig {
	return DefaultRetryConfig(
		WithMaxAttempts(3),
		WithBaseDelay(100*time.Millisecond),
		WithTimeoutPerAttempt(2*time.Second),
	)
}

// AggressiveHTTPRetry returns retry configuration for latency-sensitive
// HTTP calls: 5 attempts of adaptive backoff from 50ms capped at 5s, 1s
// per-attempt timeout.
func AggressiveHTTPRetry() RetryConfig {
	return DefaultRetryConfig(
		WithStrategy(StrategyAdaptive),
		WithMaxAttempts(5),
		WithBaseDelay(50*time.Millisecond),
		WithMaxDelay(5*time.Second),
		WithTimeoutPerAttempt(time.Second),
	)
}

// DatabaseRetry returns retry configuration for database queries: 3
// attempts of linear backoff from 50ms with a 5s per-attempt timeout.
// Validation-classified failures still short-circuit.
func DatabaseRetry() RetryConfig {
	return DefaultRetryConfig(
		WithStrategy(StrategyLinear),
		WithMaxAttempts(3),
		WithBaseDelay(50*time.Millisecond),
		WithTimeoutPerAttempt(5*time.Second),
	)
}

// ExternalAPIBreaker returns breaker configuration for third-party APIs:
// open after 5 failures, 30s cooldown, 2 probe successes to close.
func ExternalAPIBreaker() CircuitBreakerConfig {
	return DefaultCircuitBreakerConfig(
		FailureThreshold(5),
		SuccessThreshold(2),
		OpenTimeout(30*time.Second),
	)
}

// DatabaseBreaker returns breaker configuration for database targets:
// open after 3 failures, 10s cooldown, single half-open probe.
func DatabaseBreaker() CircuitBreakerConfig {
	return DefaultCircuitBreakerConfig(
		FailureThreshold(3),
		SuccessThreshold(1),
		OpenTimeout(10*time.Second),
		HalfOpenMaxCalls(1),
	)
}
