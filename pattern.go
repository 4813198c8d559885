package vigil

import (
	"errors"
	"net"
	"os"
	"strings"
	"syscall"
)

// ---------------------------------------------------------------------------
// Classification patterns
// ---------------------------------------------------------------------------.

type (
	// FailureInfo is the normalized descriptor a Pattern's predicates
	// inspect. It is derived once per classification from the raw error so
	// predicates stay plain functions without reflection.
	FailureInfo struct {
		// Message is the lower-cased error text, including wrapped causes.
		Message string
		// StatusCode is the HTTP-ish status code carried by the failure,
		// or 0 when the failure carries none.
		StatusCode int
		// Kind is the concrete runtime type of the failure.
		Kind string
	}

	// Pattern is an immutable classification rule. The first pattern whose
	// predicates match a failure decides its category, severity, retry
	// eligibility and recovery strategy suggestions.
	//
	// Pattern: Strategy — an ordered list of predicate+verdict records
	// evaluated sequentially; custom patterns are prepended for priority.
	Pattern struct {
		// Name identifies the pattern in DetailedError metadata.
		Name string
		// Category assigned on match.
		Category Category
		// Severity assigned on match.
		Severity Severity
		// Action recommended on match.
		Action Action
		// Retryable marks matched failures as eligible for retry.
		Retryable bool
		// MaxRetries caps attempts for failures matched by this pattern.
		// 0 defers to the executor's RetryConfig.
		MaxRetries int
		// BackoffMultiplier overrides the config multiplier when > 0.
		BackoffMultiplier float64
		// UserMessage is the non-technical text surfaced to end users.
		UserMessage string
		// RecoveryStrategies lists named strategies to run, in order.
		RecoveryStrategies []string

		// Substrings match when any entry occurs in FailureInfo.Message.
		Substrings []string
		// StatusCodes match when FailureInfo.StatusCode equals any entry.
		StatusCodes []int
		// Match, when non-nil, is consulted with the raw error. It runs
		// in addition to the declarative matchers; any single hit wins.
		Match func(err error) bool
	}
)

// StatusCoder is implemented by failures that carry an HTTP-style status
// code, such as httpx.StatusError.
type StatusCoder interface {
	HTTPStatusCode() int
}

// Matches reports whether the pattern applies to the given failure.
func (p *Pattern) Matches(err error, info FailureInfo) bool {
	for _, sub := range p.Substrings {
		if strings.Contains(info.Message, sub) {
			return true
		}
	}

	if info.StatusCode != 0 {
		for _, code := range p.StatusCodes {
			if info.StatusCode == code {
				return true
			}
		}
	}

	if p.Match != nil && p.Match(err) {
		return true
	}

	return false
}

// defaultPatterns returns the built-in rule set, ordered from most to least
// specific. Categories that must never be retried come before the broad
// network/timeout rules so a "token expired" connection error is not
// misfiled as transient.
func defaultPatterns() []*Pattern {
	return []*Pattern{
		{
			Name:        "circuit_open",
			Category:    CategorySystem,
			Severity:    SeverityHigh,
			Action:      ActionDegrade,
			Retryable:   false,
			UserMessage: "The service is temporarily unavailable, please try again shortly.",
			Match: func(err error) bool {
				return errors.Is(err, ErrCircuitOpen)
			},
		},
		{
			Name:               "security_violation",
			Category:           CategorySecurity,
			Severity:           SeverityCritical,
			Action:             ActionAlert,
			Retryable:          false,
			UserMessage:        "The request was blocked for security reasons.",
			RecoveryStrategies: []string{"security_alert"},
			Substrings:         []string{"security violation", "signature mismatch", "tampered", "injection"},
		},
		{
			Name:               "token_expired",
			Category:           CategoryToken,
			Severity:           SeverityMedium,
			Action:             ActionFailFast,
			Retryable:          false,
			UserMessage:        "Your session has expired, please sign in again.",
			RecoveryStrategies: []string{"refresh_token"},
			Substrings:         []string{"token expired", "token invalid", "jwt", "refresh token"},
		},
		{
			Name:        "authentication_failed",
			Category:    CategoryAuthentication,
			Severity:    SeverityHigh,
			Action:      ActionFailFast,
			Retryable:   false,
			UserMessage: "Authentication failed, please check your credentials.",
			Substrings:  []string{"unauthorized", "authentication failed", "invalid credentials", "login failed"},
			StatusCodes: []int{401},
		},
		{
			Name:        "authorization_denied",
			Category:    CategoryAuthorization,
			Severity:    SeverityHigh,
			Action:      ActionFailFast,
			Retryable:   false,
			UserMessage: "You do not have permission to perform this action.",
			Substrings:  []string{"forbidden", "permission denied", "access denied"},
			StatusCodes: []int{403},
		},
		{
			Name:               "rate_limited",
			Category:           CategoryRateLimit,
			Severity:           SeverityMedium,
			Action:             ActionRetryWithBackoff,
			Retryable:          true,
			MaxRetries:         5,
			BackoffMultiplier:  2.5,
			UserMessage:        "Too many requests, please wait and try again.",
			RecoveryStrategies: []string{"retry_with_backoff"},
			Substrings:         []string{"rate limit", "too many requests", "quota exceeded", "throttled"},
			StatusCodes:        []int{429},
		},
		{
			Name:        "resource_not_found",
			Category:    CategoryResourceNotFound,
			Severity:    SeverityLow,
			Action:      ActionFailFast,
			Retryable:   false,
			UserMessage: "The requested resource could not be found.",
			Substrings:  []string{"not found", "does not exist"},
			StatusCodes: []int{404, 410},
		},
		{
			Name:        "validation_failed",
			Category:    CategoryValidation,
			Severity:    SeverityLow,
			Action:      ActionFailFast,
			Retryable:   false,
			UserMessage: "The submitted data is invalid, please review and retry.",
			RecoveryStrategies: []string{
				"validate_input",
			},
			Substrings:  []string{"validation", "invalid input", "invalid value", "constraint violation", "bad request"},
			StatusCodes: []int{400, 422},
		},
		{
			Name:        "parse_failure",
			Category:    CategoryParsing,
			Severity:    SeverityMedium,
			Action:      ActionFailFast,
			Retryable:   false,
			UserMessage: "A response could not be processed.",
			Substrings:  []string{"parse error", "unmarshal", "unexpected token", "malformed", "invalid character"},
		},
		{
			Name:               "server_error",
			Category:           CategoryServerError,
			Severity:           SeverityHigh,
			Action:             ActionRetryWithBackoff,
			Retryable:          true,
			MaxRetries:         3,
			UserMessage:        "The service is having trouble, please try again shortly.",
			RecoveryStrategies: []string{"retry_with_backoff", "circuit_break"},
			Substrings:         []string{"internal server error", "bad gateway", "service unavailable", "gateway timeout"},
			StatusCodes:        []int{500, 502, 503, 504},
		},
		{
			Name:        "dns_failure",
			Category:    CategoryDNS,
			Severity:    SeverityHigh,
			Action:      ActionRetryWithBackoff,
			Retryable:   true,
			UserMessage: "A network name could not be resolved, please try again.",
			Substrings:  []string{"no such host", "dns", "name resolution"},
			Match: func(err error) bool {
				var dnsErr *net.DNSError
				return errors.As(err, &dnsErr)
			},
		},
		{
			Name:        "tls_failure",
			Category:    CategoryTLS,
			Severity:    SeverityHigh,
			Action:      ActionAlert,
			Retryable:   false,
			UserMessage: "A secure connection could not be established.",
			Substrings:  []string{"tls", "x509", "certificate", "handshake failure"},
		},
		{
			Name:               "connection_refused",
			Category:           CategoryConnection,
			Severity:           SeverityHigh,
			Action:             ActionCircuitBreak,
			Retryable:          true,
			RecoveryStrategies: []string{"retry_with_backoff", "circuit_break"},
			UserMessage:        "The service is unreachable, please try again shortly.",
			Substrings:         []string{"connection refused", "connection reset", "broken pipe", "connection closed"},
			Match: func(err error) bool {
				return errors.Is(err, syscall.ECONNREFUSED) ||
					errors.Is(err, syscall.ECONNRESET) ||
					errors.Is(err, syscall.EPIPE)
			},
		},
		{
			Name:               "timeout",
			Category:           CategoryTimeout,
			Severity:           SeverityMedium,
			Action:             ActionRetryWithBackoff,
			Retryable:          true,
			RecoveryStrategies: []string{"retry_with_backoff"},
			UserMessage:        "The operation took too long, please try again.",
			Substrings:         []string{"timeout", "timed out", "deadline exceeded"},
			Match: func(err error) bool {
				if errors.Is(err, ErrAttemptTimeout) || errors.Is(err, os.ErrDeadlineExceeded) {
					return true
				}
				var netErr net.Error
				return errors.As(err, &netErr) && netErr.Timeout()
			},
		},
		{
			Name:               "network_failure",
			Category:           CategoryNetwork,
			Severity:           SeverityMedium,
			Action:             ActionRetryWithBackoff,
			Retryable:          true,
			RecoveryStrategies: []string{"retry_with_backoff"},
			UserMessage:        "A network problem occurred, please try again.",
			Substrings:         []string{"network", "unreachable", "socket", "eof"},
			Match: func(err error) bool {
				var opErr *net.OpError
				return errors.As(err, &opErr)
			},
		},
		{
			Name:        "business_rule",
			Category:    CategoryBusinessRule,
			Severity:    SeverityLow,
			Action:      ActionFailFast,
			Retryable:   false,
			UserMessage: "The operation is not allowed in the current state.",
			Substrings:  []string{"business rule", "precondition", "conflict", "already exists"},
			StatusCodes: []int{409, 412},
		},
		{
			Name:        "system_failure",
			Category:    CategorySystem,
			Severity:    SeverityCritical,
			Action:      ActionAlert,
			Retryable:   false,
			UserMessage: "An internal error occurred.",
			Substrings:  []string{"out of memory", "disk full", "no space left", "panic"},
		},
	}
}
