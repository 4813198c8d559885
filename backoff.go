package vigil

import (
	"math"
	"math/rand/v2"
	"time"
)

// ---------------------------------------------------------------------------
// Backoff calculation
// ---------------------------------------------------------------------------.

// Delay computes the wait before retry attempt number attempt (1-based).
// lastDelay is the previously computed delay (0 before the first retry) and
// derr the classification of the failure that triggered the retry; both may
// be zero values for the non-adaptive strategies. Pure apart from jitter,
// which is skipped when cfg.Jitter is false.
func Delay(attempt int, cfg RetryConfig, lastDelay time.Duration, derr *DetailedError) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	multiplier := cfg.BackoffMultiplier
	if derr != nil && derr.BackoffMultiplier > 0 {
		multiplier = derr.BackoffMultiplier
	}

	var delay time.Duration

	switch cfg.Strategy {
	case StrategyImmediate:
		return 0

	case StrategyFixed:
		delay = cfg.BaseDelay

	case StrategyLinear:
		delay = cfg.BaseDelay * time.Duration(attempt)

	case StrategyAdaptive:
		delay = adaptiveDelay(attempt, cfg, multiplier, lastDelay, derr)

	case StrategyExponential:
		fallthrough
	default:
		delay = exponential(cfg.BaseDelay, multiplier, attempt)
	}

	if cfg.Jitter && delay > 0 {
		// Uniform offset in ±(delay × fraction).
		span := float64(delay) * cfg.JitterFraction
		delay = durationFromFloat(float64(delay) + (rand.Float64()*2-1)*span)
	}

	return clampDelay(delay, cfg.MaxDelay)
}

// exponential returns base * multiplier^(attempt-1), saturating at the
// maximum duration for large attempt numbers.
func exponential(base time.Duration, multiplier float64, attempt int) time.Duration {
	return durationFromFloat(float64(base) * math.Pow(multiplier, float64(attempt-1)))
}

// durationFromFloat converts a computed delay to time.Duration without the
// wraparound an out-of-range float conversion would produce.
func durationFromFloat(f float64) time.Duration {
	if f >= float64(math.MaxInt64) {
		return math.MaxInt64
	}

	if f <= 0 || math.IsNaN(f) {
		return 0
	}

	return time.Duration(f)
}

// adaptiveDelay widens or narrows the exponential delay by error
// characteristics. The multiplier ordering is load-bearing for
// compatibility with existing tuning: base adjustment, then exponential
// expansion, then post adjustment on the computed delay.
func adaptiveDelay(
	attempt int,
	cfg RetryConfig,
	multiplier float64,
	lastDelay time.Duration,
	derr *DetailedError,
) time.Duration {
	base := float64(cfg.BaseDelay)

	var cat Category
	if derr != nil {
		cat = derr.Category
	}

	// Base adjustment by category.
	switch cat {
	case CategoryServerError, CategoryTimeout:
		base *= 2
	case CategoryRateLimit:
		base *= 5
	case CategoryClientError, CategoryValidation:
		base *= 0.5
	}

	delay := float64(exponential(time.Duration(base), multiplier, attempt))

	// Post adjustment on the already-computed delay.
	repeated := lastDelay > 0 && (cat == CategoryRateLimit || cat == CategoryServerError)
	if repeated {
		delay *= 1.5
	}

	if cat == CategoryAuthentication || cat == CategoryToken {
		delay *= 0.7
	}

	if derr != nil && derr.Severity == SeverityCritical {
		delay *= 2
	}

	return durationFromFloat(delay)
}

// clampDelay bounds delay to [0, max]; max == 0 means uncapped.
func clampDelay(delay, max time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}

	if max > 0 && delay > max {
		return max
	}

	return delay
}
