package vigil

import "time"

// ---------------------------------------------------------------------------
// Runtime configuration
// ---------------------------------------------------------------------------.

// Strategy names the backoff algorithm used between attempts.
type Strategy string

// Backoff strategies.
const (
	StrategyExponential Strategy = "exponential_backoff"
	StrategyLinear      Strategy = "linear_backoff"
	StrategyFixed       Strategy = "fixed_delay"
	StrategyImmediate   Strategy = "immediate"
	StrategyAdaptive    Strategy = "adaptive"
)

type (
	// RetryConfig drives a single Execute call. The zero value is not
	// usable; start from [DefaultRetryConfig] or a preset.
	RetryConfig struct {
		// Strategy selects the backoff algorithm.
		Strategy Strategy
		// MaxAttempts bounds the attempt loop (1 = no retries).
		MaxAttempts int
		// BaseDelay is the backoff starting point.
		BaseDelay time.Duration
		// MaxDelay clamps every computed delay. 0 means no cap.
		MaxDelay time.Duration
		// BackoffMultiplier is the exponential growth factor.
		BackoffMultiplier float64
		// Jitter perturbs delays by ±JitterFraction to avoid retry storms.
		// Disable for reproducible tests.
		Jitter bool
		// JitterFraction is the half-width of the jitter band relative to
		// the computed delay. Defaults to 0.1 when Jitter is on and the
		// fraction is zero.
		JitterFraction float64
		// TimeoutPerAttempt bounds each individual attempt. 0 disables.
		TimeoutPerAttempt time.Duration
		// RetryableCategories extends retry eligibility beyond the
		// classifier's verdict for the listed categories. The fixed
		// deny-list still wins.
		RetryableCategories []Category
		// RetryableStatusCodes extends retry eligibility for failures
		// carrying one of these status codes.
		RetryableStatusCodes []int
		// IdempotencyKey, when set, de-duplicates concurrent executions
		// sharing the key: only one invokes the operation, the rest await
		// its shared result.
		IdempotencyKey string
	}

	// RetryOption mutates a RetryConfig.
	RetryOption func(*RetryConfig)

	// CircuitBreakerConfig configures a named breaker.
	CircuitBreakerConfig struct {
		// FailureThreshold is the consecutive-failure count that opens a
		// closed breaker.
		FailureThreshold int
		// SuccessThreshold is the probe-success count that closes a
		// half-open breaker.
		SuccessThreshold int
		// Timeout is how long an open breaker rejects calls before
		// allowing a half-open probe.
		Timeout time.Duration
		// MonitorWindow bounds the rolling outcome history used for the
		// failure-rate and latency metrics.
		MonitorWindow time.Duration
		// HalfOpenMaxCalls caps concurrent probes while half-open.
		HalfOpenMaxCalls int
		// IsFailure decides whether an error counts toward
		// FailureThreshold. nil counts every error. Expected domain
		// errors (a not-found on a lookup, say) can be excluded so they
		// never trip the breaker; excluded errors count as successes.
		IsFailure func(err error) bool
	}

	// CircuitBreakerOption mutates a CircuitBreakerConfig.
	CircuitBreakerOption func(*CircuitBreakerConfig)
)

// DefaultRetryConfig returns the baseline retry configuration: 3 attempts
// of exponential backoff from 100ms, capped at 30s, with jitter.
func DefaultRetryConfig(opts ...RetryOption) RetryConfig {
	cfg := RetryConfig{
		Strategy:          StrategyExponential,
		MaxAttempts:       3,
		BaseDelay:         100 * time.Millisecond,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
		JitterFraction:    0.1,
	}
	for _, o := range opts {
		o(&cfg)
	}

	return cfg
}

// WithStrategy selects the backoff strategy.
func WithStrategy(s Strategy) RetryOption {
	return func(cfg *RetryConfig) { cfg.Strategy = s }
}

// WithMaxAttempts bounds the attempt loop.
func WithMaxAttempts(n int) RetryOption {
	return func(cfg *RetryConfig) { cfg.MaxAttempts = n }
}

// WithBaseDelay sets the backoff starting point.
func WithBaseDelay(d time.Duration) RetryOption {
	return func(cfg *RetryConfig) { cfg.BaseDelay = d }
}

// WithMaxDelay clamps computed delays.
func WithMaxDelay(d time.Duration) RetryOption {
	return func(cfg *RetryConfig) { cfg.MaxDelay = d }
}

// WithBackoffMultiplier sets the exponential growth factor.
func WithBackoffMultiplier(m float64) RetryOption {
	return func(cfg *RetryConfig) { cfg.BackoffMultiplier = m }
}

// WithJitter toggles delay jitter.
func WithJitter(enabled bool) RetryOption {
	return func(cfg *RetryConfig) { cfg.Jitter = enabled }
}

// WithTimeoutPerAttempt bounds each individual attempt.
func WithTimeoutPerAttempt(d time.Duration) RetryOption {
	return func(cfg *RetryConfig) { cfg.TimeoutPerAttempt = d }
}

// WithIdempotencyKey marks the execution as de-duplicable under key.
func WithIdempotencyKey(key string) RetryOption {
	return func(cfg *RetryConfig) { cfg.IdempotencyKey = key }
}

// WithRetryableCategories extends retry eligibility to the listed
// categories.
func WithRetryableCategories(cats ...Category) RetryOption {
	return func(cfg *RetryConfig) {
		cfg.RetryableCategories = append(cfg.RetryableCategories, cats...)
	}
}

// WithRetryableStatusCodes extends retry eligibility to the listed codes.
func WithRetryableStatusCodes(codes ...int) RetryOption {
	return func(cfg *RetryConfig) {
		cfg.RetryableStatusCodes = append(cfg.RetryableStatusCodes, codes...)
	}
}

// DefaultCircuitBreakerConfig returns the baseline breaker configuration.
func DefaultCircuitBreakerConfig(opts ...CircuitBreakerOption) CircuitBreakerConfig {
	cfg := CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
		MonitorWindow:    time.Minute,
		HalfOpenMaxCalls: 1,
	}
	for _, o := range opts {
		o(&cfg)
	}

	return cfg
}

// FailureThreshold sets the consecutive failures before opening.
func FailureThreshold(n int) CircuitBreakerOption {
	return func(cfg *CircuitBreakerConfig) { cfg.FailureThreshold = n }
}

// SuccessThreshold sets the probe successes needed to close from half-open.
func SuccessThreshold(n int) CircuitBreakerOption {
	return func(cfg *CircuitBreakerConfig) { cfg.SuccessThreshold = n }
}

// OpenTimeout sets how long the breaker stays open before probing.
func OpenTimeout(d time.Duration) CircuitBreakerOption {
	return func(cfg *CircuitBreakerConfig) { cfg.Timeout = d }
}

// MonitorWindow bounds the rolling outcome history.
func MonitorWindow(d time.Duration) CircuitBreakerOption {
	return func(cfg *CircuitBreakerConfig) { cfg.MonitorWindow = d }
}

// HalfOpenMaxCalls caps concurrent half-open probes.
func HalfOpenMaxCalls(n int) CircuitBreakerOption {
	return func(cfg *CircuitBreakerConfig) { cfg.HalfOpenMaxCalls = n }
}

// FailurePredicate sets the check deciding which errors count toward the
// failure threshold.
func FailurePredicate(f func(err error) bool) CircuitBreakerOption {
	return func(cfg *CircuitBreakerConfig) { cfg.IsFailure = f }
}

// normalize fills unset RetryConfig fields with safe values so a partially
// populated config (e.g. decoded from a file) behaves predictably.
func (cfg *RetryConfig) normalize() {
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyExponential
	}

	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	if cfg.BackoffMultiplier <= 0 {
		cfg.BackoffMultiplier = 2.0
	}

	if cfg.Jitter && cfg.JitterFraction <= 0 {
		cfg.JitterFraction = 0.1
	}
}
