package vigil

// ---------------------------------------------------------------------------
// Failure taxonomy: category, severity, recommended action
// ---------------------------------------------------------------------------.

type (
	// Category labels the root cause of a classified failure. Retry
	// eligibility and user messaging are decided per category.
	Category string

	// Severity ranks how urgently a classified failure needs attention.
	Severity int

	// Action is the handling a classification recommends to the caller.
	Action string
)

// Failure categories.
const (
	CategoryNetwork          Category = "network"
	CategoryTimeout          Category = "timeout"
	CategoryConnection       Category = "connection"
	CategoryDNS              Category = "dns"
	CategoryTLS              Category = "tls"
	CategoryAuthentication   Category = "authentication"
	CategoryAuthorization    Category = "authorization"
	CategoryToken            Category = "token"
	CategoryClientError      Category = "client_error"
	CategoryServerError      Category = "server_error"
	CategoryRateLimit        Category = "rate_limit"
	CategoryValidation       Category = "validation"
	CategoryParsing          Category = "parsing"
	CategoryBusinessRule     Category = "business_rule"
	CategoryResourceNotFound Category = "resource_not_found"
	CategorySystem           Category = "system"
	CategorySecurity         Category = "security"
	CategoryUnknown          Category = "unknown"
)

// Severity levels, ordered from least to most urgent.
const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// Recommended actions.
const (
	ActionRetry            Action = "retry"
	ActionRetryWithBackoff Action = "retry_with_backoff"
	ActionCircuitBreak     Action = "circuit_break"
	ActionFailFast         Action = "fail_fast"
	ActionDegrade          Action = "degrade"
	ActionAlert            Action = "alert"
)

// String returns the severity as a human-readable string.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler so severities render as
// their names in JSON reports.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// nonRetryableCategories always short-circuit the retry loop regardless of
// what the classifier reported. Identity and input failures never heal by
// repeating the call.
var nonRetryableCategories = map[Category]struct{}{
	CategoryAuthentication: {},
	CategoryAuthorization:  {},
	CategoryValidation:     {},
	CategorySecurity:       {},
}

// DeniesRetry reports whether the category is on the fixed deny-list that
// overrides any per-pattern or per-config retry eligibility.
func (c Category) DeniesRetry() bool {
	_, ok := nonRetryableCategories[c]
	return ok
}
