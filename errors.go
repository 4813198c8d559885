package vigil

import "errors"

// ---------------------------------------------------------------------------
// Engine error identities
// ---------------------------------------------------------------------------.

type (
	// EngineError identifies errors produced by the resilience engine
	// itself, as opposed to errors from the wrapped operation.
	//nolint:iface // exported for use in tests and consumer error
	// classification.
	EngineError interface {
		error
		// IsEngine reports whether this error originates from the
		// resilience engine.
		IsEngine() bool
	}

	// engineError is the concrete type backing all sentinel errors.
	engineError string
)

// Sentinel engine errors.
var (
	// ErrCircuitOpen is returned when a circuit breaker rejects a call in
	// the open state. It is never retryable at the executor layer.
	ErrCircuitOpen error = engineError("circuit breaker is open")
	// ErrAttemptTimeout is returned when a single attempt exceeds the
	// per-attempt timeout.
	ErrAttemptTimeout error = engineError("attempt timed out")
	// ErrRetriesExhausted is returned when all retry attempts have been
	// used without success.
	ErrRetriesExhausted error = engineError("retries exhausted")
	// ErrUnknownBreaker is returned when a named circuit breaker does not
	// exist in the executor's registry.
	ErrUnknownBreaker error = engineError("unknown circuit breaker")
	// ErrUnknownStrategy is returned when a named recovery strategy is not
	// registered.
	ErrUnknownStrategy error = engineError("unknown recovery strategy")
	// ErrRetryVetoed is returned when a caller-supplied error callback
	// stops further attempts.
	ErrRetryVetoed error = engineError("retry vetoed by error callback")
)

func (e engineError) Error() string { return string(e) }

// IsEngine reports whether the error is a resilience engine error.
func (engineError) IsEngine() bool { return true }

// IsCircuitOpen reports whether err is, or wraps, a circuit-open rejection.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}
