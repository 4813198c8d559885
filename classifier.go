package vigil

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	cerrors "github.com/cockroachdb/errors"
)

// ---------------------------------------------------------------------------
// Classifier — ordered pattern matching over raw failures
// ---------------------------------------------------------------------------.

// Classifier turns raw errors into DetailedError values by matching them
// against an ordered pattern list. The first matching pattern wins; an
// unmatched failure falls back to a generic "unknown" classification.
//
// Pattern list updates use copy-on-write so Classify never blocks on a
// concurrent AddPattern / RemovePattern.
type Classifier struct {
	clock Clock // nil falls back to the real clock

	mu       sync.Mutex
	patterns []*Pattern
}

// NewClassifier creates a classifier loaded with the built-in patterns.
func NewClassifier(custom ...*Pattern) *Classifier {
	c := &Classifier{patterns: defaultPatterns()}
	for i := len(custom) - 1; i >= 0; i-- {
		c.AddPattern(custom[i])
	}

	return c
}

// setClock shares the owning handler's time source so classification
// timestamps and metric windows agree.
func (c *Classifier) setClock(clk Clock) {
	c.clock = clk
}

func (c *Classifier) now() time.Time {
	if c.clock == nil {
		return time.Now()
	}

	return c.clock.Now()
}

// AddPattern inserts p at the front of the pattern list so it takes
// priority over the built-ins.
func (c *Classifier) AddPattern(p *Pattern) {
	c.mu.Lock()
	defer c.mu.Unlock()

	updated := make([]*Pattern, 0, len(c.patterns)+1)
	updated = append(updated, p)
	updated = append(updated, c.patterns...)
	c.patterns = updated
}

// RemovePattern deletes the first pattern with the given name. It reports
// whether a pattern was removed.
func (c *Classifier) RemovePattern(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, p := range c.patterns {
		if p.Name != name {
			continue
		}

		updated := make([]*Pattern, 0, len(c.patterns)-1)
		updated = append(updated, c.patterns[:i]...)
		updated = append(updated, c.patterns[i+1:]...)
		c.patterns = updated

		return true
	}

	return false
}

// Patterns returns the current pattern list snapshot, front first.
func (c *Classifier) Patterns() []*Pattern {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*Pattern, len(c.patterns))
	copy(out, c.patterns)

	return out
}

// Classify matches err against the pattern list and builds the enriched
// DetailedError. ctx may be nil. Classification is pure apart from the
// fresh error code generated per call.
func (c *Classifier) Classify(err error, ctx *ErrorContext) *DetailedError {
	info := normalizeFailure(err)

	c.mu.Lock()
	patterns := c.patterns
	c.mu.Unlock()

	metadata := map[string]string{"failure_kind": info.Kind}
	if info.StatusCode != 0 {
		metadata["status_code"] = strconv.Itoa(info.StatusCode)
	}

	for _, p := range patterns {
		if !p.Matches(err, info) {
			continue
		}

		return &DetailedError{
			Code:               newErrorCode(p.Category),
			Message:            err.Error(),
			UserMessage:        p.UserMessage,
			Category:           p.Category,
			Severity:           p.Severity,
			Action:             p.Action,
			Retryable:          p.Retryable,
			Timestamp:          c.now(),
			PatternName:        p.Name,
			MaxRetries:         p.MaxRetries,
			BackoffMultiplier:  p.BackoffMultiplier,
			RecoveryStrategies: append([]string(nil), p.RecoveryStrategies...),
			Context:            ctx,
			Metadata:           metadata,
			cause:              wrapCause(err),
		}
	}

	// Unmatched failures are retried once conservatively: retryable with
	// medium severity and a single-retry cap, runtime type recorded for
	// later pattern authoring.
	return &DetailedError{
		Code:        newErrorCode(CategoryUnknown),
		Message:     err.Error(),
		UserMessage: "An unexpected error occurred, please try again.",
		Category:    CategoryUnknown,
		Severity:    SeverityMedium,
		Action:      ActionRetry,
		Retryable:   true,
		MaxRetries:  1,
		Timestamp:   c.now(),
		PatternName: "unknown",
		Context:     ctx,
		Metadata:    metadata,
		cause:       wrapCause(err),
	}
}

// normalizeFailure derives the predicate descriptor from a raw error.
func normalizeFailure(err error) FailureInfo {
	if err == nil {
		return FailureInfo{}
	}

	info := FailureInfo{
		Message: strings.ToLower(err.Error()),
		Kind:    fmt.Sprintf("%T", cerrors.UnwrapAll(err)),
	}

	var sc StatusCoder
	if cerrors.As(err, &sc) {
		info.StatusCode = sc.HTTPStatusCode()
	}

	return info
}
