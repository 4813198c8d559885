package vigil

import (
	"fmt"
	"strings"
	"time"

	cerrors "github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// DetailedError — the enriched failure object
// ---------------------------------------------------------------------------.

type (
	// ErrorContext is the caller-side snapshot attached to a classified
	// failure: which operation failed, for whom, and on which endpoint.
	ErrorContext struct {
		Operation string            `json:"operation,omitempty"`
		Endpoint  string            `json:"endpoint,omitempty"`
		UserID    string            `json:"user_id,omitempty"`
		SessionID string            `json:"session_id,omitempty"`
		RequestID string            `json:"request_id,omitempty"`
		Metadata  map[string]string `json:"metadata,omitempty"`
	}

	// DetailedError is the structured result of classifying a raw failure.
	// It is created once per failure occurrence and must not be mutated
	// afterwards; the retry loop and external audit collaborators both
	// read it.
	DetailedError struct {
		// Code is a locally-traceable identifier for this occurrence,
		// derived from a random suffix. Not globally unique by contract.
		Code string `json:"code"`
		// Message is the technical description, safe for logs only.
		Message string `json:"message"`
		// UserMessage is the non-technical text safe to surface to users.
		UserMessage string `json:"user_message"`

		Category  Category  `json:"category"`
		Severity  Severity  `json:"severity"`
		Action    Action    `json:"action"`
		Retryable bool      `json:"retryable"`
		Timestamp time.Time `json:"timestamp"`

		// PatternName records which rule matched; "unknown" when none did.
		PatternName string `json:"pattern_name"`
		// MaxRetries and BackoffMultiplier carry the matched pattern's
		// overrides (0 means "use the config value").
		MaxRetries        int     `json:"max_retries,omitempty"`
		BackoffMultiplier float64 `json:"backoff_multiplier,omitempty"`

		// RecoveryStrategies lists named strategies to attempt, in order.
		RecoveryStrategies []string `json:"recovery_strategies,omitempty"`

		// Context is the caller-supplied snapshot, nil when not provided.
		Context *ErrorContext `json:"context,omitempty"`
		// Metadata carries free-form classification detail such as the
		// failure's runtime type.
		Metadata map[string]string `json:"metadata,omitempty"`

		// cause is the original failure wrapped with a captured stack.
		cause error
	}
)

// newErrorCode builds a short traceable code such as "VGL-RATE_LIMIT-1a2b3c4d".
func newErrorCode(cat Category) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("VGL-%s-%s", strings.ToUpper(string(cat)), suffix)
}

// Error implements the error interface with the technical message.
func (d *DetailedError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", d.Code, d.Category, d.Message)
}

// Unwrap exposes the original failure for errors.Is / errors.As.
func (d *DetailedError) Unwrap() error { return d.cause }

// Cause returns the original failure, stack-wrapped.
func (d *DetailedError) Cause() error { return d.cause }

// StackTrace renders the captured stack of the original failure. Empty for
// a nil cause.
func (d *DetailedError) StackTrace() string {
	if d.cause == nil {
		return ""
	}

	return fmt.Sprintf("%+v", d.cause)
}

// wrapCause attaches a stack snapshot to the raw failure exactly once.
// cockroachdb/errors keeps the first stack if the error already carries one.
func wrapCause(err error) error {
	if err == nil {
		return nil
	}

	return cerrors.WithStack(err)
}
