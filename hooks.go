package vigil

import "time"

// Hooks holds optional callback functions for engine lifecycle events. All
// fields are nil by default; callers set only the hooks they care about.
// Once constructed, a Hooks value must not be mutated — emit methods read
// the function fields without synchronisation, which is safe as long as the
// struct is read-only after initialisation.
//
// Pattern: Observer — decouples engine event emission from consumers
// (logging, metrics, alerting) without the engine knowing about observers.
type Hooks struct {
	OnRetry           func(attempt int, delay time.Duration, err error)
	OnClassified      func(derr *DetailedError)
	OnRecovery        func(strategy string, err error)
	OnCircuitOpen     func(name string)
	OnCircuitClose    func(name string)
	OnCircuitHalfOpen func(name string)
	OnCircuitReject   func(name string)
	OnAttemptTimeout  func(attempt int)
	OnDedupShared     func(key string)
	OnSecurityAlert   func(derr *DetailedError)
}

func (h *Hooks) emitRetry(attempt int, delay time.Duration, err error) {
	if h != nil && h.OnRetry != nil {
		h.OnRetry(attempt, delay, err)
	}
}

func (h *Hooks) emitClassified(derr *DetailedError) {
	if h != nil && h.OnClassified != nil {
		h.OnClassified(derr)
	}
}

func (h *Hooks) emitRecovery(strategy string, err error) {
	if h != nil && h.OnRecovery != nil {
		h.OnRecovery(strategy, err)
	}
}

func (h *Hooks) emitCircuitOpen(name string) {
	if h != nil && h.OnCircuitOpen != nil {
		h.OnCircuitOpen(name)
	}
}

func (h *Hooks) emitCircuitClose(name string) {
	if h != nil && h.OnCircuitClose != nil {
		h.OnCircuitClose(name)
	}
}

func (h *Hooks) emitCircuitHalfOpen(name string) {
	if h != nil && h.OnCircuitHalfOpen != nil {
		h.OnCircuitHalfOpen(name)
	}
}

func (h *Hooks) emitCircuitReject(name string) {
	if h != nil && h.OnCircuitReject != nil {
		h.OnCircuitReject(name)
	}
}

func (h *Hooks) emitAttemptTimeout(attempt int) {
	if h != nil && h.OnAttemptTimeout != nil {
		h.OnAttemptTimeout(attempt)
	}
}

func (h *Hooks) emitDedupShared(key string) {
	if h != nil && h.OnDedupShared != nil {
		h.OnDedupShared(key)
	}
}

func (h *Hooks) emitSecurityAlert(derr *DetailedError) {
	if h != nil && h.OnSecurityAlert != nil {
		h.OnSecurityAlert(derr)
	}
}
