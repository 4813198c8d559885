// Package vigil is an adaptive retry and circuit-breaker engine for calls
// to unreliable dependencies.
//
// The central type is Executor, which runs an operation through the
// Execute attempt loop: failures are classified into a structured taxonomy
// by a Classifier, retry delays are derived from the configured backoff
// strategy, and per-target CircuitBreaker instances fast-fail calls to
// unhealthy dependencies. Concurrent idempotent calls sharing a key are
// de-duplicated while in flight. Every execution feeds cumulative retry,
// circuit and error metrics that external collaborators can poll.
package vigil
