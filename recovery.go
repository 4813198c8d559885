package vigil

import "context"

// ---------------------------------------------------------------------------
// Recovery strategies
// ---------------------------------------------------------------------------.

// RecoveryStrategy attempts to remediate a classified failure, e.g. by
// refreshing a token or tripping a breaker. Strategies are registered by
// name and resolved at runtime from the DetailedError's suggestion list.
type RecoveryStrategy interface {
	// Recover attempts remediation for the classified failure. A nil
	// return counts as a recovery success.
	Recover(ctx context.Context, derr *DetailedError) error
}

// RecoveryFunc adapts an ordinary function into a [RecoveryStrategy].
type RecoveryFunc func(ctx context.Context, derr *DetailedError) error

// Recover calls the underlying function.
func (f RecoveryFunc) Recover(ctx context.Context, derr *DetailedError) error {
	return f(ctx, derr)
}

// Built-in recovery strategy names. "refresh_token" is intentionally not
// shipped: token refresh needs the caller's credential machinery, so the
// name resolves only once a caller registers an implementation.
const (
	StrategyRetryWithBackoff = "retry_with_backoff"
	StrategyCircuitBreak     = "circuit_break"
	StrategySecurityAlert    = "security_alert"
	StrategyValidateInput    = "validate_input"
	StrategyRefreshToken     = "refresh_token"
)

// builtinStrategies returns the strategies every Handler starts with.
// retry_with_backoff and validate_input are advisory: the retry loop and
// the caller's input layer do the actual work, the strategy only marks the
// suggestion as acknowledged in the recovery counters.
func builtinStrategies(hooks *Hooks) map[string]RecoveryStrategy {
	return map[string]RecoveryStrategy{
		StrategyRetryWithBackoff: RecoveryFunc(func(context.Context, *DetailedError) error {
			return nil
		}),
		StrategyValidateInput: RecoveryFunc(func(context.Context, *DetailedError) error {
			return nil
		}),
		StrategySecurityAlert: RecoveryFunc(func(_ context.Context, derr *DetailedError) error {
			hooks.emitSecurityAlert(derr)
			return nil
		}),
	}
}
