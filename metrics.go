package vigil

import (
	"sync"
	"time"
)

// ---------------------------------------------------------------------------
// Retry metrics
// ---------------------------------------------------------------------------.

type (
	// RetryMetrics is the cumulative view of all executions through one
	// Executor. Counters are monotonic; the struct is read-only to
	// external collaborators and mutated only by the owning executor
	// under its lock.
	RetryMetrics struct {
		TotalExecutions   uint64 `json:"total_executions"`
		TotalAttempts     uint64 `json:"total_attempts"`
		Successes         uint64 `json:"successes"`
		Failures          uint64 `json:"failures"`
		SuccessfulRetries uint64 `json:"successful_retries"`
		FailedRetries     uint64 `json:"failed_retries"`
		CircuitRejections uint64 `json:"circuit_rejections"`
		DedupHits         uint64 `json:"dedup_hits"`

		ByStrategy map[Strategy]uint64 `json:"by_strategy"`
		ByCategory map[Category]uint64 `json:"by_category"`

		AvgDuration time.Duration `json:"avg_duration"`
		MaxDuration time.Duration `json:"max_duration"`
		LastUpdated time.Time     `json:"last_updated"`
	}

	// retryMetrics is the executor-owned mutable counterpart.
	retryMetrics struct {
		mu    sync.Mutex
		m     RetryMetrics
		clock Clock
	}
)

func newRetryMetrics(clock Clock) *retryMetrics {
	return &retryMetrics{
		m: RetryMetrics{
			ByStrategy: make(map[Strategy]uint64),
			ByCategory: make(map[Category]uint64),
		},
		clock: clock,
	}
}

// recordExecution folds one finished execution into the counters.
func (rm *retryMetrics) recordExecution(res executionOutcome) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	m := &rm.m

	m.TotalExecutions++
	m.TotalAttempts += uint64(res.attempts)
	m.ByStrategy[res.strategy]++

	if res.success {
		m.Successes++
		if res.attempts > 1 {
			m.SuccessfulRetries++
		}
	} else {
		m.Failures++
		if res.attempts > 1 {
			m.FailedRetries++
		}
	}

	if res.circuitRejected {
		m.CircuitRejections++
	}

	if res.category != "" {
		m.ByCategory[res.category]++
	}

	if res.elapsed > m.MaxDuration {
		m.MaxDuration = res.elapsed
	}

	// Running average over all executions.
	n := time.Duration(m.TotalExecutions)
	m.AvgDuration += (res.elapsed - m.AvgDuration) / n

	m.LastUpdated = rm.clock.Now()
}

func (rm *retryMetrics) recordDedupHit() {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.m.DedupHits++
	rm.m.LastUpdated = rm.clock.Now()
}

// snapshot clones the counters for external readers.
func (rm *retryMetrics) snapshot() RetryMetrics {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	out := rm.m

	out.ByStrategy = make(map[Strategy]uint64, len(rm.m.ByStrategy))
	for k, v := range rm.m.ByStrategy {
		out.ByStrategy[k] = v
	}

	out.ByCategory = make(map[Category]uint64, len(rm.m.ByCategory))
	for k, v := range rm.m.ByCategory {
		out.ByCategory[k] = v
	}

	return out
}

// executionOutcome is the per-execution summary fed into the counters.
type executionOutcome struct {
	strategy        Strategy
	category        Category
	attempts        int
	elapsed         time.Duration
	success         bool
	circuitRejected bool
}
