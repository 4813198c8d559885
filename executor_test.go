package vigil

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func quietHandler(opts ...HandlerOption) *Handler {
	opts = append(opts, WithHandlerLogger(slog.New(slog.DiscardHandler)))
	return NewHandler(nil, opts...)
}

func newTestExecutor(clk Clock) *Executor {
	return NewExecutor(
		WithExecutorClock(clk),
		WithExecutorHandler(quietHandler(WithHandlerClock(clk))),
	)
}

func noJitterRetry(maxAttempts int) RetryConfig {
	return RetryConfig{
		Strategy:          StrategyExponential,
		MaxAttempts:       maxAttempts,
		BaseDelay:         time.Second,
		MaxDelay:          time.Minute,
		BackoffMultiplier: 2.0,
		Jitter:            false,
	}
}

func TestExecuteSuccessFirstAttempt(t *testing.T) {
	t.Parallel()

	ex := newTestExecutor(newFakeClock())

	result, err := Execute(context.Background(), ex,
		func(context.Context) (string, error) { return "ok", nil },
		noJitterRetry(3))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if !result.Success || result.Attempts != 1 || result.Value != "ok" {
		t.Fatalf("result = %+v, want success on first attempt", result)
	}
}

func TestExecuteRetryExhaustion(t *testing.T) {
	t.Parallel()

	ex := newTestExecutor(newFakeClock())

	calls := 0
	result, err := Execute(context.Background(), ex,
		func(context.Context) (string, error) {
			calls++
			return "", errors.New("connection refused")
		},
		noJitterRetry(3))

	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("err = %v, want ErrRetriesExhausted", err)
	}

	if result.Success || result.Attempts != 3 || calls != 3 {
		t.Fatalf("result = %+v calls = %d, want 3 failed attempts", result, calls)
	}

	if result.LastError == "" {
		t.Error("failed result should carry the last error message")
	}
}

func TestExecuteEventualSuccessWithObservedDelays(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	ex := newTestExecutor(clk)

	calls := 0
	result, err := Execute(context.Background(), ex,
		func(context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", errors.New("network unreachable")
			}

			return "recovered", nil
		},
		noJitterRetry(3))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if !result.Success || result.Attempts != 3 {
		t.Fatalf("result = %+v, want success on attempt 3", result)
	}

	// base 1s, multiplier 2: the two backoff sleeps must be 1s then 2s.
	delays := clk.timerDurations()
	if len(delays) != 2 || delays[0] != time.Second || delays[1] != 2*time.Second {
		t.Fatalf("observed delays = %v, want [1s 2s]", delays)
	}
}

func TestExecuteNonRetryableShortCircuit(t *testing.T) {
	t.Parallel()

	ex := newTestExecutor(newFakeClock())

	calls := 0
	result, err := Execute(context.Background(), ex,
		func(context.Context) (string, error) {
			calls++
			return "", errors.New("validation failed: bad payload")
		},
		noJitterRetry(5))

	if err == nil {
		t.Fatal("expected classified failure")
	}

	if calls != 1 || result.Attempts != 1 {
		t.Fatalf("attempts = %d calls = %d, want exactly one", result.Attempts, calls)
	}

	var derr *DetailedError
	if !errors.As(err, &derr) || derr.Category != CategoryValidation {
		t.Fatalf("err = %v, want validation classification", err)
	}
}

func TestExecutePatternRetryCap(t *testing.T) {
	t.Parallel()

	ex := newTestExecutor(newFakeClock())

	// The server_error pattern caps retries at 3 even though the config
	// allows 10 attempts.
	calls := 0
	result, _ := Execute(context.Background(), ex,
		func(context.Context) (string, error) {
			calls++
			return "", errors.New("bad gateway")
		},
		noJitterRetry(10))

	if calls != 4 || result.Attempts != 4 {
		t.Fatalf("attempts = %d, want pattern cap of 3 retries", result.Attempts)
	}
}

func TestExecuteUnknownFailureRetriedOnce(t *testing.T) {
	t.Parallel()

	ex := newTestExecutor(newFakeClock())

	// Unclassified failures get exactly one conservative retry, not the
	// whole attempt budget.
	calls := 0
	result, err := Execute(context.Background(), ex,
		func(context.Context) (string, error) {
			calls++
			return "", errors.New("zorblax misalignment")
		},
		noJitterRetry(5))

	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("err = %v, want ErrRetriesExhausted", err)
	}

	if calls != 2 || result.Attempts != 2 {
		t.Fatalf("attempts = %d calls = %d, want 2", result.Attempts, calls)
	}
}

func TestExecuteStatusCodeAllowList(t *testing.T) {
	t.Parallel()

	ex := newTestExecutor(newFakeClock())

	cfg := noJitterRetry(3)
	cfg.RetryableStatusCodes = []int{404}

	calls := 0
	_, err := Execute(context.Background(), ex,
		func(context.Context) (string, error) {
			calls++
			return "", &statusErr{code: 404, msg: "thing not found"}
		},
		cfg)
	if err == nil {
		t.Fatal("expected failure")
	}

	// resource_not_found is normally non-retryable; the allow-list makes
	// it eligible again.
	if calls != 3 {
		t.Fatalf("calls = %d, want 3 with allow-listed status", calls)
	}
}

func TestExecuteDenyListBeatsAllowList(t *testing.T) {
	t.Parallel()

	ex := newTestExecutor(newFakeClock())

	cfg := noJitterRetry(3)
	cfg.RetryableCategories = []Category{CategoryAuthentication}

	calls := 0
	_, err := Execute(context.Background(), ex,
		func(context.Context) (string, error) {
			calls++
			return "", errors.New("authentication failed")
		},
		cfg)
	if err == nil {
		t.Fatal("expected failure")
	}

	if calls != 1 {
		t.Fatalf("calls = %d, identity failures must never retry", calls)
	}
}

func TestExecuteErrorCallbackVeto(t *testing.T) {
	t.Parallel()

	ex := newTestExecutor(newFakeClock())

	vetoed := 0
	result, err := Execute(context.Background(), ex,
		func(context.Context) (string, error) {
			return "", errors.New("connection refused")
		},
		noJitterRetry(5),
		WithErrorCallback(func(_ context.Context, _ int, _ *DetailedError) bool {
			vetoed++
			return false
		}))

	if !errors.Is(err, ErrRetryVetoed) {
		t.Fatalf("err = %v, want ErrRetryVetoed", err)
	}

	if result.Attempts != 1 || vetoed != 1 {
		t.Fatalf("attempts = %d vetoes = %d, want single attempt", result.Attempts, vetoed)
	}
}

func TestExecutePerAttemptTimeout(t *testing.T) {
	t.Parallel()

	ex := newTestExecutor(RealClock{})

	cfg := noJitterRetry(2)
	cfg.BaseDelay = time.Millisecond
	cfg.TimeoutPerAttempt = 10 * time.Millisecond

	calls := 0
	result, err := Execute(context.Background(), ex,
		func(ctx context.Context) (string, error) {
			calls++
			<-ctx.Done()
			return "", ctx.Err()
		},
		cfg)

	if err == nil {
		t.Fatal("expected timeout failure")
	}

	if calls != 2 || result.Attempts != 2 {
		t.Fatalf("attempts = %d, want timeouts to be retried", result.Attempts)
	}

	var derr *DetailedError
	if !errors.As(err, &derr) || derr.Category != CategoryTimeout {
		t.Fatalf("err = %v, want timeout classification", err)
	}
}

func TestExecuteThroughCircuitBreaker(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	ex := newTestExecutor(clk)
	ex.AddCircuitBreaker("upstream", DefaultCircuitBreakerConfig(
		FailureThreshold(2),
		OpenTimeout(5*time.Second),
	))

	cfg := noJitterRetry(1)

	fail := func(context.Context) (int, error) { return 0, errors.New("service unavailable") }

	for range 2 {
		//nolint:errcheck // tripping the breaker
		_, _ = Execute(context.Background(), ex, fail, cfg, ThroughCircuitBreaker("upstream"))
	}

	invoked := false
	result, err := Execute(context.Background(), ex,
		func(context.Context) (int, error) {
			invoked = true
			return 1, nil
		},
		cfg, ThroughCircuitBreaker("upstream"))

	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}

	if invoked {
		t.Fatal("operation must not run while the breaker is open")
	}

	if !result.CircuitRejected {
		t.Error("result should flag the circuit rejection")
	}

	status, serr := ex.CircuitBreakerStatus("upstream")
	if serr != nil || status.State != StateOpen {
		t.Fatalf("status = %+v err = %v, want open breaker", status, serr)
	}
}

func TestExecuteCircuitOpenNotRetried(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	ex := newTestExecutor(clk)
	ex.AddCircuitBreaker("upstream", DefaultCircuitBreakerConfig(FailureThreshold(1)))

	cfg := noJitterRetry(1)

	//nolint:errcheck // tripping the breaker
	_, _ = Execute(context.Background(), ex,
		func(context.Context) (int, error) { return 0, errors.New("boom") },
		cfg, ThroughCircuitBreaker("upstream"))

	// Even with retries budgeted, a rejection ends the execution at once.
	result, err := Execute(context.Background(), ex,
		func(context.Context) (int, error) { return 1, nil },
		noJitterRetry(5), ThroughCircuitBreaker("upstream"))

	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}

	if result.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", result.Attempts)
	}
}

func TestExecuteBreakerRecoveryLifecycle(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	ex := newTestExecutor(clk)
	ex.AddCircuitBreaker("upstream", DefaultCircuitBreakerConfig(
		FailureThreshold(2),
		SuccessThreshold(1),
		OpenTimeout(5*time.Second),
	))

	cfg := noJitterRetry(1)
	fail := func(context.Context) (int, error) { return 0, errors.New("service unavailable") }
	succeed := func(context.Context) (int, error) { return 7, nil }

	for range 2 {
		//nolint:errcheck // tripping the breaker
		_, _ = Execute(context.Background(), ex, fail, cfg, ThroughCircuitBreaker("upstream"))
	}

	clk.Advance(6 * time.Second)

	result, err := Execute(context.Background(), ex, succeed, cfg, ThroughCircuitBreaker("upstream"))
	if err != nil {
		t.Fatalf("probe failed: %v", err)
	}

	if !result.Success || result.Value != 7 {
		t.Fatalf("result = %+v, want successful probe", result)
	}

	status, _ := ex.CircuitBreakerStatus("upstream")
	if status.State != StateClosed {
		t.Fatalf("state = %s, want closed after recovery", status.State)
	}
}

func TestExecuteIdempotentDeduplication(t *testing.T) {
	t.Parallel()

	ex := newTestExecutor(RealClock{})

	var calls atomic.Int64

	release := make(chan struct{})

	cfg := noJitterRetry(1)
	cfg.IdempotencyKey = "order-42"

	const workers = 3

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []RetryResult[string]
	)

	for range workers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			result, err := Execute(context.Background(), ex,
				func(context.Context) (string, error) {
					calls.Add(1)
					<-release
					return "shared", nil
				},
				cfg)
			if err != nil {
				t.Errorf("Execute() error = %v", err)
			}

			mu.Lock()
			results = append(results, result)
			mu.Unlock()
		}()
	}

	// Let all workers join the in-flight call before releasing it.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("operation invoked %d times, want exactly once", got)
	}

	shared := 0
	for _, result := range results {
		if result.Value != "shared" {
			t.Errorf("result value = %q, want shared payload", result.Value)
		}

		if result.Deduplicated {
			shared++
		}
	}

	if shared != workers {
		t.Errorf("deduplicated results = %d, want %d", shared, workers)
	}

	// The registry entry is removed once the call completes: a later
	// execution with the same key invokes the operation again.
	_, err := Execute(context.Background(), ex,
		func(context.Context) (string, error) {
			calls.Add(1)
			return "fresh", nil
		},
		cfg)
	if err != nil {
		t.Fatalf("follow-up Execute() error = %v", err)
	}

	if got := calls.Load(); got != 2 {
		t.Fatalf("operation invoked %d times after completion, want 2", got)
	}
}

func TestExecuteMetrics(t *testing.T) {
	t.Parallel()

	ex := newTestExecutor(newFakeClock())

	//nolint:errcheck // generating metric traffic
	_, _ = Execute(context.Background(), ex,
		func(context.Context) (string, error) { return "ok", nil },
		noJitterRetry(3))

	//nolint:errcheck // generating metric traffic
	_, _ = Execute(context.Background(), ex,
		func(context.Context) (string, error) { return "", errors.New("connection refused") },
		noJitterRetry(2))

	m := ex.Metrics()

	if m.TotalExecutions != 2 {
		t.Errorf("executions = %d, want 2", m.TotalExecutions)
	}

	if m.TotalAttempts != 3 {
		t.Errorf("attempts = %d, want 3", m.TotalAttempts)
	}

	if m.Successes != 1 || m.Failures != 1 {
		t.Errorf("successes/failures = %d/%d, want 1/1", m.Successes, m.Failures)
	}

	if m.FailedRetries != 1 {
		t.Errorf("failed retries = %d, want 1", m.FailedRetries)
	}

	if got := m.ByStrategy[StrategyExponential]; got != 2 {
		t.Errorf("strategy count = %d, want 2", got)
	}

	if got := m.ByCategory[CategoryConnection]; got != 1 {
		t.Errorf("connection failures = %d, want 1", got)
	}
}

func TestResetAllCircuitBreakers(t *testing.T) {
	t.Parallel()

	ex := newTestExecutor(newFakeClock())
	ex.AddCircuitBreaker("a", DefaultCircuitBreakerConfig(FailureThreshold(1)))
	ex.AddCircuitBreaker("b", DefaultCircuitBreakerConfig(FailureThreshold(1)))

	if err := ex.TripCircuitBreaker("a"); err != nil {
		t.Fatal(err)
	}

	if err := ex.TripCircuitBreaker("b"); err != nil {
		t.Fatal(err)
	}

	ex.ResetAllCircuitBreakers()

	for name, status := range ex.AllCircuitBreakerStatus() {
		if status.State != StateClosed {
			t.Errorf("breaker %s state = %s, want closed", name, status.State)
		}
	}
}

func TestCircuitBreakerStatusUnknownName(t *testing.T) {
	t.Parallel()

	ex := newTestExecutor(newFakeClock())

	if _, err := ex.CircuitBreakerStatus("nope"); !errors.Is(err, ErrUnknownBreaker) {
		t.Fatalf("err = %v, want ErrUnknownBreaker", err)
	}

	if err := ex.ResetCircuitBreaker("nope"); !errors.Is(err, ErrUnknownBreaker) {
		t.Fatalf("err = %v, want ErrUnknownBreaker", err)
	}
}

func TestLazyBreakerCreation(t *testing.T) {
	t.Parallel()

	ex := newTestExecutor(newFakeClock())

	//nolint:errcheck // breaker is created as a side effect
	_, _ = Execute(context.Background(), ex,
		func(context.Context) (string, error) { return "ok", nil },
		noJitterRetry(1), ThroughCircuitBreaker("lazy"))

	if _, err := ex.CircuitBreakerStatus("lazy"); err != nil {
		t.Fatalf("lazily created breaker missing: %v", err)
	}
}

func TestDoConvenience(t *testing.T) {
	t.Parallel()

	result, err := Do(context.Background(),
		func(context.Context) (int, error) { return 9, nil })
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}

	if result.Value != 9 || !result.Success {
		t.Fatalf("result = %+v, want success", result)
	}
}
