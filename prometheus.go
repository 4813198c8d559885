package vigil

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// NewPrometheusHooks builds a [Hooks] value whose callbacks export engine
// events as Prometheus metrics registered with reg. Combine with your own
// hooks by copying fields; a Hooks value must be fully assembled before it
// is shared with an Executor.
//
// Pattern: Adapter — bridges the engine's observer hooks to
// prometheus/client_golang without the engine importing it elsewhere.
func NewPrometheusHooks(namespace string, reg prometheus.Registerer) *Hooks {
	factory := promauto.With(reg)

	retries := factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "vigil",
		Name:      "retries_total",
		Help:      "Retry attempts scheduled after a failed attempt.",
	})

	retryDelay := factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "vigil",
		Name:      "retry_delay_seconds",
		Help:      "Backoff delay before each retry attempt.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	transitions := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "vigil",
		Name:      "circuit_transitions_total",
		Help:      "Circuit breaker state transitions.",
	}, []string{"breaker", "state"})

	rejections := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "vigil",
		Name:      "circuit_rejections_total",
		Help:      "Calls rejected by an open circuit breaker.",
	}, []string{"breaker"})

	classified := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "vigil",
		Name:      "errors_classified_total",
		Help:      "Failures classified, by category and severity.",
	}, []string{"category", "severity"})

	recoveries := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "vigil",
		Name:      "recovery_attempts_total",
		Help:      "Recovery strategy invocations, by strategy and outcome.",
	}, []string{"strategy", "outcome"})

	attemptTimeouts := factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "vigil",
		Name:      "attempt_timeouts_total",
		Help:      "Attempts that exceeded the per-attempt timeout.",
	})

	dedupShared := factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "vigil",
		Name:      "dedup_shared_total",
		Help:      "Executions that awaited an in-flight idempotent call.",
	})

	return &Hooks{
		OnRetry: func(_ int, delay time.Duration, _ error) {
			retries.Inc()
			retryDelay.Observe(delay.Seconds())
		},
		OnClassified: func(derr *DetailedError) {
			classified.WithLabelValues(string(derr.Category), derr.Severity.String()).Inc()
		},
		OnRecovery: func(strategy string, err error) {
			outcome := "success"
			if err != nil {
				outcome = "failure"
			}
			recoveries.WithLabelValues(strategy, outcome).Inc()
		},
		OnCircuitOpen: func(name string) {
			transitions.WithLabelValues(name, string(StateOpen)).Inc()
		},
		OnCircuitClose: func(name string) {
			transitions.WithLabelValues(name, string(StateClosed)).Inc()
		},
		OnCircuitHalfOpen: func(name string) {
			transitions.WithLabelValues(name, string(StateHalfOpen)).Inc()
		},
		OnCircuitReject: func(name string) {
			rejections.WithLabelValues(name).Inc()
		},
		OnAttemptTimeout: func(int) {
			attemptTimeouts.Inc()
		},
		OnDedupShared: func(string) {
			dedupShared.Inc()
		},
	}
}
