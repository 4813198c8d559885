package vigil

import (
	"context"
	"sync"
	"time"
)

// ---------------------------------------------------------------------------
// Circuit breaker
// ---------------------------------------------------------------------------.

// CircuitState is the breaker's position in its state machine.
type CircuitState string

// Circuit breaker states.
const (
	StateClosed   CircuitState = "closed"
	StateOpen     CircuitState = "open"
	StateHalfOpen CircuitState = "half_open"
)

type (
	// outcomeRecord is one entry in the rolling call history.
	outcomeRecord struct {
		at      time.Time
		latency time.Duration
		success bool
	}

	// CircuitBreakerStatus is a read-only snapshot for dashboards and
	// health endpoints.
	CircuitBreakerStatus struct {
		Name        string       `json:"name"`
		State       CircuitState `json:"state"`
		Failures    int          `json:"failures"`
		Successes   int          `json:"successes"`
		NextAttempt time.Time    `json:"next_attempt,omitzero"`
		// FailureRate is the failed fraction of calls inside the monitor
		// window, in [0, 1].
		FailureRate float64 `json:"failure_rate"`
		// AvgLatency is the mean call latency inside the monitor window.
		AvgLatency  time.Duration `json:"avg_latency"`
		WindowCalls int           `json:"window_calls"`
	}

	// CircuitBreaker bounds repeated calls to a failing dependency.
	// Created once per protected target and reused across calls; never
	// destroyed during process lifetime, though Reset forces it closed.
	//
	// Pattern: Circuit Breaker — fast-fails calls to an unhealthy
	// downstream and auto-recovers via half-open probes. All state
	// transitions happen under a single mutex so concurrent callers
	// observe exactly one transition decision per event; the mutex is
	// never held across the protected operation itself.
	CircuitBreaker struct {
		name  string
		cfg   CircuitBreakerConfig
		clock Clock
		hooks *Hooks

		mu            sync.Mutex
		state         CircuitState
		failures      int
		successes     int // meaningful only while half-open
		halfOpenCalls int // in-flight probes
		nextAttempt   time.Time
		history       []outcomeRecord
	}
)

// NewCircuitBreaker creates a closed breaker for the named target.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig, clock Clock, hooks *Hooks) *CircuitBreaker {
	if clock == nil {
		clock = RealClock{}
	}

	return &CircuitBreaker{
		name:  name,
		cfg:   cfg,
		clock: clock,
		hooks: hooks,
		state: StateClosed,
	}
}

// Name returns the protected target's name.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Allow decides whether a call may proceed. It returns nil when the call is
// admitted and ErrCircuitOpen otherwise. An open breaker whose timeout has
// elapsed transitions to half-open before admitting the probing call.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil

	case StateOpen:
		if cb.clock.Now().Before(cb.nextAttempt) {
			cb.hooks.emitCircuitReject(cb.name)
			return ErrCircuitOpen
		}

		// Timeout elapsed: this call becomes the first half-open probe.
		cb.state = StateHalfOpen
		cb.successes = 0
		cb.halfOpenCalls = 1
		cb.hooks.emitCircuitHalfOpen(cb.name)

		return nil

	case StateHalfOpen:
		if cb.halfOpenCalls >= cb.cfg.HalfOpenMaxCalls {
			cb.hooks.emitCircuitReject(cb.name)
			return ErrCircuitOpen
		}

		cb.halfOpenCalls++

		return nil

	default:
		return nil
	}
}

// RecordOutcome records a finished call, consulting the configured failure
// predicate: a nil err, or an err the predicate excludes, counts as a
// success.
func (cb *CircuitBreaker) RecordOutcome(err error, latency time.Duration) {
	if err != nil && cb.isFailure(err) {
		cb.RecordFailure(latency)
		return
	}

	cb.RecordSuccess(latency)
}

func (cb *CircuitBreaker) isFailure(err error) bool {
	if cb.cfg.IsFailure == nil {
		return true
	}

	return cb.cfg.IsFailure(err)
}

// RecordSuccess records a successful call with its latency.
func (cb *CircuitBreaker) RecordSuccess(latency time.Duration) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.record(true, latency)

	switch cb.state {
	case StateClosed:
		cb.failures = 0

	case StateHalfOpen:
		if cb.halfOpenCalls > 0 {
			cb.halfOpenCalls--
		}

		cb.successes++
		if cb.successes >= cb.cfg.SuccessThreshold {
			cb.state = StateClosed
			cb.failures = 0
			cb.successes = 0
			cb.halfOpenCalls = 0
			cb.hooks.emitCircuitClose(cb.name)
		}

	case StateOpen:
		// A success can only arrive here from a call admitted before the
		// breaker opened. It does not affect the open state.
	}
}

// RecordFailure records a failed call with its latency.
func (cb *CircuitBreaker) RecordFailure(latency time.Duration) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.record(false, latency)

	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.open()
		}

	case StateHalfOpen:
		// A single probe failure reopens immediately.
		cb.open()

	case StateOpen:
		// Late failure from a pre-open call; the timeout window stands.
	}
}

// open transitions to OPEN and starts a fresh timeout window.
// Caller holds cb.mu.
func (cb *CircuitBreaker) open() {
	cb.state = StateOpen
	cb.successes = 0
	cb.halfOpenCalls = 0
	cb.nextAttempt = cb.clock.Now().Add(cb.cfg.Timeout)
	cb.hooks.emitCircuitOpen(cb.name)
}

// record appends an outcome and prunes entries older than the monitor
// window. Caller holds cb.mu.
func (cb *CircuitBreaker) record(success bool, latency time.Duration) {
	now := cb.clock.Now()
	cb.history = append(cb.history, outcomeRecord{at: now, latency: latency, success: success})

	cutoff := now.Add(-cb.cfg.MonitorWindow)

	firstLive := 0
	for firstLive < len(cb.history) && cb.history[firstLive].at.Before(cutoff) {
		firstLive++
	}

	if firstLive > 0 {
		cb.history = append(cb.history[:0], cb.history[firstLive:]...)
	}
}

// Call executes op through the breaker: rejected immediately with
// ErrCircuitOpen when the breaker disallows it, otherwise the outcome and
// latency are recorded. The breaker's mutex is not held while op runs.
func (cb *CircuitBreaker) Call(ctx context.Context, op func(context.Context) error) error {
	if err := cb.Allow(); err != nil {
		return err
	}

	start := cb.clock.Now()
	err := op(ctx)
	latency := cb.clock.Since(start)

	cb.RecordOutcome(err, latency)

	return err
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return cb.state
}

// Status builds a read-only snapshot including windowed failure rate and
// average latency.
func (cb *CircuitBreaker) Status() CircuitBreakerStatus {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	status := CircuitBreakerStatus{
		Name:        cb.name,
		State:       cb.state,
		Failures:    cb.failures,
		Successes:   cb.successes,
		WindowCalls: len(cb.history),
	}

	if cb.state == StateOpen {
		status.NextAttempt = cb.nextAttempt
	}

	if len(cb.history) == 0 {
		return status
	}

	var (
		failed       int
		totalLatency time.Duration
	)

	for _, rec := range cb.history {
		if !rec.success {
			failed++
		}

		totalLatency += rec.latency
	}

	status.FailureRate = float64(failed) / float64(len(cb.history))
	status.AvgLatency = totalLatency / time.Duration(len(cb.history))

	return status
}

// Reset forces the breaker closed with all counters cleared. Intended for
// operational recovery tooling.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	wasOpen := cb.state != StateClosed

	cb.state = StateClosed
	cb.failures = 0
	cb.successes = 0
	cb.halfOpenCalls = 0
	cb.nextAttempt = time.Time{}
	cb.history = nil

	if wasOpen {
		cb.hooks.emitCircuitClose(cb.name)
	}
}

// Trip forces the breaker open for a full timeout window. Used by the
// circuit_break recovery strategy and operational tooling.
func (cb *CircuitBreaker) Trip() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateOpen {
		cb.open()
	}
}

// HealthCheck reports whether the protected dependency currently looks
// healthy. Implementations should be cheap; they run on a poll loop.
type HealthCheck func(ctx context.Context) bool

// StartHealthCheck launches a poll loop that runs check at a quarter of the
// open timeout. While the breaker is open, a healthy report advances the
// next-attempt time to now, shortening the wait before the next half-open
// probe without closing the circuit. The loop stops when ctx is done.
func (cb *CircuitBreaker) StartHealthCheck(ctx context.Context, check HealthCheck) {
	if check == nil {
		return
	}

	interval := cb.cfg.Timeout / 4
	if interval <= 0 {
		interval = time.Second
	}

	go func() {
		ticker := cb.clock.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C():
			}

			if cb.State() != StateOpen {
				continue
			}

			if !check(ctx) {
				continue
			}

			cb.mu.Lock()
			if cb.state == StateOpen {
				cb.nextAttempt = cb.clock.Now()
			}
			cb.mu.Unlock()
		}
	}()
}
