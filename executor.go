package vigil

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ---------------------------------------------------------------------------
// Executor — the attempt-loop orchestrator
// ---------------------------------------------------------------------------.

type (
	// Operation is the unreliable call protected by the engine. It must
	// honor cancellation of the supplied context.
	Operation[T any] func(ctx context.Context) (T, error)

	// RetryResult summarises one finished execution.
	RetryResult[T any] struct {
		// Value is the operation's payload, zero unless Success.
		Value T
		// Success reports whether any attempt succeeded.
		Success bool
		// Attempts is the number of attempts consumed.
		Attempts int
		// Elapsed is the total wall time including backoff waits.
		Elapsed time.Duration
		// LastError is the final classified failure's message, empty on
		// success.
		LastError string
		// Strategy echoes the backoff strategy used.
		Strategy Strategy
		// CircuitRejected reports that a circuit-open rejection ended the
		// execution.
		CircuitRejected bool
		// Deduplicated reports that this result was shared among
		// concurrent executions with the same idempotency key.
		Deduplicated bool
	}

	// ErrorCallback is consulted between attempts. Returning false vetoes
	// further retries.
	ErrorCallback func(ctx context.Context, attempt int, derr *DetailedError) bool

	// ExecOption configures a single Execute call.
	ExecOption func(*execSettings)

	execSettings struct {
		breakerName string
		callback    ErrorCallback
		errCtx      *ErrorContext
	}

	// Executor owns the engine's shared state: the breaker registry, the
	// idempotency in-flight group, the error handler and the cumulative
	// retry metrics. Construct one per process (or per tenant) and pass
	// it to call sites; there is no hidden global state.
	Executor struct {
		handler *Handler
		clock   Clock
		hooks   *Hooks

		mu       sync.Mutex
		breakers map[string]*CircuitBreaker

		inflight singleflight.Group
		metrics  *retryMetrics
	}

	// ExecutorOption configures an Executor.
	ExecutorOption func(*Executor)
)

// ThroughCircuitBreaker routes the execution through the named breaker,
// creating it lazily with the default configuration when unknown.
func ThroughCircuitBreaker(name string) ExecOption {
	return func(s *execSettings) { s.breakerName = name }
}

// WithErrorCallback installs a per-call veto callback consulted before each
// retry.
func WithErrorCallback(cb ErrorCallback) ExecOption {
	return func(s *execSettings) { s.callback = cb }
}

// WithContext attaches the caller's context snapshot to every
// classification made during the execution.
func WithContext(ec *ErrorContext) ExecOption {
	return func(s *execSettings) { s.errCtx = ec }
}

// WithExecutorHandler sets the error handler (and thereby the classifier).
func WithExecutorHandler(h *Handler) ExecutorOption {
	return func(ex *Executor) { ex.handler = h }
}

// WithExecutorClock sets the clock used for timing and backoff sleeps.
func WithExecutorClock(c Clock) ExecutorOption {
	return func(ex *Executor) { ex.clock = c }
}

// WithExecutorHooks sets the lifecycle hooks shared by the executor and
// the breakers it creates.
func WithExecutorHooks(h *Hooks) ExecutorOption {
	return func(ex *Executor) { ex.hooks = h }
}

// NewExecutor creates an executor with its own registries.
func NewExecutor(opts ...ExecutorOption) *Executor {
	ex := &Executor{
		clock:    RealClock{},
		breakers: make(map[string]*CircuitBreaker),
	}
	for _, o := range opts {
		o(ex)
	}

	if ex.handler == nil {
		ex.handler = NewHandler(nil, WithHandlerClock(ex.clock), WithHandlerHooks(ex.hooks))
	}

	ex.metrics = newRetryMetrics(ex.clock)

	// circuit_break recovery trips the breaker named in the error
	// context's "circuit_breaker" metadata entry.
	ex.handler.AddRecoveryStrategy(StrategyCircuitBreak, RecoveryFunc(
		func(_ context.Context, derr *DetailedError) error {
			if derr.Context == nil {
				return ErrUnknownBreaker
			}

			name, ok := derr.Context.Metadata["circuit_breaker"]
			if !ok {
				return ErrUnknownBreaker
			}

			return ex.TripCircuitBreaker(name)
		}))

	return ex
}

// Handler returns the executor's error handler for direct classification,
// pattern management and metrics reports.
func (ex *Executor) Handler() *Handler { return ex.handler }

// Metrics returns a snapshot of the cumulative retry metrics.
func (ex *Executor) Metrics() RetryMetrics { return ex.metrics.snapshot() }

// ---------------------------------------------------------------------------
// Circuit breaker registry
// ---------------------------------------------------------------------------.

// AddCircuitBreaker registers a breaker for the named target. An optional
// health check starts polling immediately and runs for the process
// lifetime. Replaces any existing breaker with the same name.
func (ex *Executor) AddCircuitBreaker(name string, cfg CircuitBreakerConfig, check ...HealthCheck) *CircuitBreaker {
	cb := NewCircuitBreaker(name, cfg, ex.clock, ex.hooks)

	ex.mu.Lock()
	ex.breakers[name] = cb
	ex.mu.Unlock()

	if len(check) > 0 && check[0] != nil {
		cb.StartHealthCheck(context.Background(), check[0])
	}

	return cb
}

// breaker resolves name, creating a default-configured breaker on first
// use.
func (ex *Executor) breaker(name string) *CircuitBreaker {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	cb, ok := ex.breakers[name]
	if !ok {
		cb = NewCircuitBreaker(name, DefaultCircuitBreakerConfig(), ex.clock, ex.hooks)
		ex.breakers[name] = cb
	}

	return cb
}

// CircuitBreakerStatus returns the named breaker's snapshot.
func (ex *Executor) CircuitBreakerStatus(name string) (CircuitBreakerStatus, error) {
	ex.mu.Lock()
	cb, ok := ex.breakers[name]
	ex.mu.Unlock()

	if !ok {
		return CircuitBreakerStatus{}, fmt.Errorf("%w: %s", ErrUnknownBreaker, name)
	}

	return cb.Status(), nil
}

// AllCircuitBreakerStatus snapshots every registered breaker, keyed by
// name.
func (ex *Executor) AllCircuitBreakerStatus() map[string]CircuitBreakerStatus {
	ex.mu.Lock()
	breakers := make([]*CircuitBreaker, 0, len(ex.breakers))
	for _, cb := range ex.breakers {
		breakers = append(breakers, cb)
	}
	ex.mu.Unlock()

	out := make(map[string]CircuitBreakerStatus, len(breakers))
	for _, cb := range breakers {
		out[cb.Name()] = cb.Status()
	}

	return out
}

// ResetCircuitBreaker forces the named breaker closed.
func (ex *Executor) ResetCircuitBreaker(name string) error {
	ex.mu.Lock()
	cb, ok := ex.breakers[name]
	ex.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBreaker, name)
	}

	cb.Reset()

	return nil
}

// ResetAllCircuitBreakers forces every registered breaker closed.
func (ex *Executor) ResetAllCircuitBreakers() {
	for name := range ex.AllCircuitBreakerStatus() {
		//nolint:errcheck // name came from the registry snapshot
		_ = ex.ResetCircuitBreaker(name)
	}
}

// TripCircuitBreaker forces the named breaker open for a full timeout
// window.
func (ex *Executor) TripCircuitBreaker(name string) error {
	ex.mu.Lock()
	cb, ok := ex.breakers[name]
	ex.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBreaker, name)
	}

	cb.Trip()

	return nil
}

// ---------------------------------------------------------------------------
// Execute — the attempt loop
// ---------------------------------------------------------------------------.

// Execute runs op under cfg: attempts are strictly sequential, each bounded
// by the per-attempt timeout and optionally routed through a named circuit
// breaker; failures are classified to decide retry eligibility and backoff.
// Concurrent executions sharing cfg.IdempotencyKey are de-duplicated: only
// one invokes op, the rest receive its shared result.
//
// The returned error is nil exactly when the result reports success.
func Execute[T any](
	ctx context.Context,
	ex *Executor,
	op Operation[T],
	cfg RetryConfig,
	opts ...ExecOption,
) (RetryResult[T], error) {
	cfg.normalize()

	var settings execSettings
	for _, o := range opts {
		o(&settings)
	}

	if cfg.IdempotencyKey == "" {
		return executeAttempts(ctx, ex, op, cfg, settings)
	}

	type pair struct {
		res RetryResult[T]
		err error
	}

	// The in-flight registry entry is owned by the singleflight group: it
	// is inserted before the first caller starts work and removed once
	// that call completes, success or failure.
	ch := ex.inflight.DoChan(cfg.IdempotencyKey, func() (any, error) {
		res, err := executeAttempts(ctx, ex, op, cfg, settings)
		return pair{res: res, err: err}, nil
	})

	select {
	case <-ctx.Done():
		var res RetryResult[T]

		res.Strategy = cfg.Strategy
		res.LastError = ctx.Err().Error()

		return res, ctx.Err() //nolint:wrapcheck // preserving context error identity

	case sfRes := <-ch:
		p := sfRes.Val.(pair) //nolint:forcetypeassert // group only stores pair

		if sfRes.Shared {
			p.res.Deduplicated = true

			ex.metrics.recordDedupHit()
			ex.hooks.emitDedupShared(cfg.IdempotencyKey)
		}

		return p.res, p.err
	}
}

// executeAttempts is the sequential attempt loop behind Execute.
func executeAttempts[T any](
	ctx context.Context,
	ex *Executor,
	op Operation[T],
	cfg RetryConfig,
	settings execSettings,
) (RetryResult[T], error) {
	start := ex.clock.Now()

	result := RetryResult[T]{Strategy: cfg.Strategy}

	var cb *CircuitBreaker
	if settings.breakerName != "" {
		cb = ex.breaker(settings.breakerName)
	}

	var (
		lastDelay time.Duration
		lastDerr  *DetailedError
		finalErr  error
	)

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		result.Attempts = attempt

		value, err := runAttempt(ctx, ex, op, cfg, cb, attempt)
		if err == nil {
			result.Value = value
			result.Success = true
			result.Elapsed = ex.clock.Since(start)

			ex.recordOutcome(result.Attempts, result.Elapsed, cfg.Strategy, "", true, false)

			return result, nil
		}

		if IsCircuitOpen(err) {
			// Circuit rejections are never retried at this layer; the
			// breaker's own timeout governs when calls flow again.
			result.CircuitRejected = true
			lastDerr = ex.handler.Handle(ctx, err, settings.errCtx, false)
			finalErr = err

			break
		}

		derr := ex.handler.Handle(ctx, err, settings.errCtx, false)
		lastDerr = derr
		finalErr = derr

		if !retryEligible(derr, cfg) {
			break
		}

		if attempt >= maxAttemptsFor(derr, cfg) {
			finalErr = fmt.Errorf("%w: %w", ErrRetriesExhausted, derr)
			break
		}

		if settings.callback != nil && !settings.callback(ctx, attempt, derr) {
			finalErr = fmt.Errorf("%w: %w", ErrRetryVetoed, derr)
			break
		}

		delay := Delay(attempt, cfg, lastDelay, derr)
		lastDelay = delay

		ex.hooks.emitRetry(attempt, delay, err)

		if delay > 0 {
			timer := ex.clock.NewTimer(delay)
			select {
			case <-timer.C():
			case <-ctx.Done():
				timer.Stop()

				result.Elapsed = ex.clock.Since(start)
				result.LastError = ctx.Err().Error()

				ex.recordOutcome(result.Attempts, result.Elapsed, cfg.Strategy, categoryOf(lastDerr), false, false)

				return result, ctx.Err() //nolint:wrapcheck // preserving context error identity
			}
		}
	}

	result.Elapsed = ex.clock.Since(start)

	if finalErr != nil {
		result.LastError = finalErr.Error()
	}

	ex.recordOutcome(result.Attempts, result.Elapsed, cfg.Strategy, categoryOf(lastDerr), false, result.CircuitRejected)

	return result, finalErr
}

// runAttempt invokes op once, through the breaker when present, bounded by
// the per-attempt timeout.
func runAttempt[T any](
	ctx context.Context,
	ex *Executor,
	op Operation[T],
	cfg RetryConfig,
	cb *CircuitBreaker,
	attempt int,
) (T, error) {
	var zero T

	if cb == nil {
		return attemptWithTimeout(ctx, ex, op, cfg.TimeoutPerAttempt, attempt)
	}

	if err := cb.Allow(); err != nil {
		return zero, err
	}

	callStart := ex.clock.Now()
	value, err := attemptWithTimeout(ctx, ex, op, cfg.TimeoutPerAttempt, attempt)
	latency := ex.clock.Since(callStart)

	cb.RecordOutcome(err, latency)

	return value, err
}

// attemptWithTimeout bounds a single attempt. A timeout produces
// ErrAttemptTimeout, classified like any other failure; parent cancellation
// keeps its own error identity.
func attemptWithTimeout[T any](
	ctx context.Context,
	ex *Executor,
	op Operation[T],
	timeout time.Duration,
	attempt int,
) (T, error) {
	var zero T

	if ctx.Err() != nil {
		return zero, ctx.Err() //nolint:wrapcheck // preserving context error identity
	}

	if timeout <= 0 {
		return op(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		val T
		err error
	}

	ch := make(chan result, 1)

	go func() {
		v, err := op(attemptCtx)
		ch <- result{val: v, err: err}
	}()

	select {
	case r := <-ch:
		return r.val, r.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err() //nolint:wrapcheck // preserving context error identity
		}

		ex.hooks.emitAttemptTimeout(attempt)

		return zero, ErrAttemptTimeout
	}
}

// retryEligible combines the classifier's verdict with the config
// allow-lists; the fixed category deny-list always wins.
func retryEligible(derr *DetailedError, cfg RetryConfig) bool {
	if derr.Category.DeniesRetry() {
		return false
	}

	if derr.Retryable {
		return true
	}

	for _, cat := range cfg.RetryableCategories {
		if cat == derr.Category {
			return true
		}
	}

	if codeStr, ok := derr.Metadata["status_code"]; ok {
		if code, err := strconv.Atoi(codeStr); err == nil {
			for _, allowed := range cfg.RetryableStatusCodes {
				if code == allowed {
					return true
				}
			}
		}
	}

	return false
}

// maxAttemptsFor applies a matched pattern's retry cap on top of the
// config's attempt bound.
func maxAttemptsFor(derr *DetailedError, cfg RetryConfig) int {
	limit := cfg.MaxAttempts
	if derr.MaxRetries > 0 && derr.MaxRetries+1 < limit {
		limit = derr.MaxRetries + 1
	}

	return limit
}

func (ex *Executor) recordOutcome(
	attempts int,
	elapsed time.Duration,
	strategy Strategy,
	category Category,
	success, circuitRejected bool,
) {
	ex.metrics.recordExecution(executionOutcome{
		strategy:        strategy,
		category:        category,
		attempts:        attempts,
		elapsed:         elapsed,
		success:         success,
		circuitRejected: circuitRejected,
	})
}

func categoryOf(derr *DetailedError) Category {
	if derr == nil {
		return ""
	}

	return derr.Category
}
