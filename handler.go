package vigil

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// LevelCritical is the slog level used for critical-severity failures, one
// step above slog.LevelError.
const LevelCritical = slog.LevelError + 4

// defaultMaxHistory bounds the in-memory error history.
const defaultMaxHistory = 1000

// ---------------------------------------------------------------------------
// Error metrics
// ---------------------------------------------------------------------------.

type (
	// ErrorMetric aggregates occurrences of one category/severity pair.
	ErrorMetric struct {
		Category          Category  `json:"category"`
		Severity          Severity  `json:"severity"`
		Count             uint64    `json:"count"`
		FirstSeen         time.Time `json:"first_seen"`
		LastSeen          time.Time `json:"last_seen"`
		AffectedUsers     int       `json:"affected_users"`
		AffectedEndpoints int       `json:"affected_endpoints"`
		RecoveryAttempts  uint64    `json:"recovery_attempts"`
		RecoverySuccesses uint64    `json:"recovery_successes"`

		users     map[string]struct{}
		endpoints map[string]struct{}
	}

	// CategoryCount pairs a category with its occurrence count for the
	// top-categories ranking.
	CategoryCount struct {
		Category Category `json:"category"`
		Count    uint64   `json:"count"`
	}

	// ErrorMetricsReport is the observability export built on demand for
	// a requested window.
	ErrorMetricsReport struct {
		Window          time.Duration       `json:"window"`
		GeneratedAt     time.Time           `json:"generated_at"`
		TotalErrors     uint64              `json:"total_errors"`
		ByCategory      map[Category]uint64 `json:"by_category"`
		BySeverity      map[string]uint64   `json:"by_severity"`
		TopCategories   []CategoryCount     `json:"top_categories"`
		RecoveryRates   map[string]float64  `json:"recovery_rates"`
		Recommendations []string            `json:"recommendations"`
	}
)

// ---------------------------------------------------------------------------
// Handler
// ---------------------------------------------------------------------------.

type (
	// Handler wraps the classifier with bookkeeping: per category/severity
	// metrics, a bounded error history, named recovery strategies and
	// severity-mapped structured logging.
	Handler struct {
		classifier *Classifier
		logger     *slog.Logger
		hooks      *Hooks
		clock      Clock
		maxHistory int

		mu         sync.Mutex
		metrics    map[string]*ErrorMetric
		history    []*DetailedError
		strategies map[string]RecoveryStrategy
	}

	// HandlerOption configures a Handler.
	HandlerOption func(*Handler)
)

// WithHandlerLogger sets the slog logger. Defaults to slog.Default.
func WithHandlerLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) { h.logger = l }
}

// WithHandlerHooks sets the lifecycle hooks.
func WithHandlerHooks(hooks *Hooks) HandlerOption {
	return func(h *Handler) { h.hooks = hooks }
}

// WithHandlerClock sets the clock used for metric timestamps.
func WithHandlerClock(c Clock) HandlerOption {
	return func(h *Handler) { h.clock = c }
}

// WithMaxHistory bounds the in-memory error history.
func WithMaxHistory(n int) HandlerOption {
	return func(h *Handler) { h.maxHistory = n }
}

// NewHandler creates a handler around the given classifier. A nil
// classifier gets the built-in pattern set.
func NewHandler(classifier *Classifier, opts ...HandlerOption) *Handler {
	if classifier == nil {
		classifier = NewClassifier()
	}

	h := &Handler{
		classifier: classifier,
		clock:      RealClock{},
		maxHistory: defaultMaxHistory,
		metrics:    make(map[string]*ErrorMetric),
	}
	for _, o := range opts {
		o(h)
	}

	if h.logger == nil {
		h.logger = slog.Default()
	}

	// Classification timestamps must come from the same source as the
	// metric windows in MetricsReport.
	h.classifier.setClock(h.clock)

	h.strategies = builtinStrategies(h.hooks)

	return h
}

// Classifier returns the underlying classifier for pattern management.
func (h *Handler) Classifier() *Classifier { return h.classifier }

// AddRecoveryStrategy registers (or replaces) a named strategy at runtime.
func (h *Handler) AddRecoveryStrategy(name string, s RecoveryStrategy) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.strategies[name] = s
}

// Handle classifies err, records metrics and history, optionally runs the
// suggested recovery strategies, and logs at a severity-appropriate level.
// errCtx may be nil.
func (h *Handler) Handle(ctx context.Context, err error, errCtx *ErrorContext, attemptRecovery bool) *DetailedError {
	derr := h.classifier.Classify(err, errCtx)
	h.hooks.emitClassified(derr)

	h.recordError(derr)

	if attemptRecovery && derr.Retryable {
		h.runRecovery(ctx, derr)
	}

	h.log(ctx, derr)

	return derr
}

// recordError folds the occurrence into the metric table and history.
func (h *Handler) recordError(derr *DetailedError) {
	h.mu.Lock()
	defer h.mu.Unlock()

	key := metricKey(derr.Category, derr.Severity)

	metric, ok := h.metrics[key]
	if !ok {
		metric = &ErrorMetric{
			Category:  derr.Category,
			Severity:  derr.Severity,
			FirstSeen: derr.Timestamp,
			users:     make(map[string]struct{}),
			endpoints: make(map[string]struct{}),
		}
		h.metrics[key] = metric
	}

	metric.Count++
	metric.LastSeen = derr.Timestamp

	if derr.Context != nil {
		if derr.Context.UserID != "" {
			metric.users[derr.Context.UserID] = struct{}{}
			metric.AffectedUsers = len(metric.users)
		}

		if derr.Context.Endpoint != "" {
			metric.endpoints[derr.Context.Endpoint] = struct{}{}
			metric.AffectedEndpoints = len(metric.endpoints)
		}
	}

	h.history = append(h.history, derr)
	if len(h.history) > h.maxHistory {
		h.history = h.history[len(h.history)-h.maxHistory:]
	}
}

// runRecovery invokes each suggested strategy in order. Individual strategy
// failures are recorded but never abort the sequence.
func (h *Handler) runRecovery(ctx context.Context, derr *DetailedError) {
	key := metricKey(derr.Category, derr.Severity)

	for _, name := range derr.RecoveryStrategies {
		h.mu.Lock()
		strategy, ok := h.strategies[name]
		h.mu.Unlock()

		var recErr error
		if ok {
			recErr = strategy.Recover(ctx, derr)
		} else {
			recErr = fmt.Errorf("%w: %s", ErrUnknownStrategy, name)
		}

		h.hooks.emitRecovery(name, recErr)

		h.mu.Lock()
		if metric, found := h.metrics[key]; found {
			metric.RecoveryAttempts++
			if recErr == nil {
				metric.RecoverySuccesses++
			}
		}
		h.mu.Unlock()

		if recErr != nil {
			h.logger.LogAttrs(ctx, slog.LevelWarn, "recovery strategy failed",
				slog.String("strategy", name),
				slog.String("error_code", derr.Code),
				slog.Any("error", recErr),
			)
		}
	}
}

// log emits the classified failure at a level derived from its severity.
// High and critical severities include the captured stack.
func (h *Handler) log(ctx context.Context, derr *DetailedError) {
	attrs := []slog.Attr{
		slog.String("error_code", derr.Code),
		slog.String("category", string(derr.Category)),
		slog.String("severity", derr.Severity.String()),
		slog.String("pattern", derr.PatternName),
		slog.Bool("retryable", derr.Retryable),
	}

	if derr.Context != nil {
		if derr.Context.Operation != "" {
			attrs = append(attrs, slog.String("operation", derr.Context.Operation))
		}

		if derr.Context.Endpoint != "" {
			attrs = append(attrs, slog.String("endpoint", derr.Context.Endpoint))
		}

		if derr.Context.RequestID != "" {
			attrs = append(attrs, slog.String("request_id", derr.Context.RequestID))
		}
	}

	level := slog.LevelInfo

	switch derr.Severity {
	case SeverityLow:
		level = slog.LevelInfo
	case SeverityMedium:
		level = slog.LevelWarn
	case SeverityHigh:
		level = slog.LevelError
	case SeverityCritical:
		level = LevelCritical
	}

	if derr.Severity >= SeverityHigh {
		attrs = append(attrs, slog.String("stack", derr.StackTrace()))
	}

	h.logger.LogAttrs(ctx, level, derr.Message, attrs...)
}

// MetricsReport builds category/severity breakdowns, top categories,
// recovery rates and qualitative recommendations over the requested window.
func (h *Handler) MetricsReport(window time.Duration) *ErrorMetricsReport {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.clock.Now()
	cutoff := now.Add(-window)

	report := &ErrorMetricsReport{
		Window:        window,
		GeneratedAt:   now,
		ByCategory:    make(map[Category]uint64),
		BySeverity:    make(map[string]uint64),
		RecoveryRates: make(map[string]float64),
	}

	for _, derr := range h.history {
		if derr.Timestamp.Before(cutoff) {
			continue
		}

		report.TotalErrors++
		report.ByCategory[derr.Category]++
		report.BySeverity[derr.Severity.String()]++
	}

	for key, metric := range h.metrics {
		if metric.RecoveryAttempts == 0 {
			continue
		}

		report.RecoveryRates[key] = float64(metric.RecoverySuccesses) / float64(metric.RecoveryAttempts)
	}

	for cat, count := range report.ByCategory {
		report.TopCategories = append(report.TopCategories, CategoryCount{Category: cat, Count: count})
	}

	sort.Slice(report.TopCategories, func(i, j int) bool {
		if report.TopCategories[i].Count != report.TopCategories[j].Count {
			return report.TopCategories[i].Count > report.TopCategories[j].Count
		}

		return report.TopCategories[i].Category < report.TopCategories[j].Category
	})

	report.Recommendations = recommendations(report)

	return report
}

// recommendationThreshold is the windowed count above which a category is
// considered noisy enough to flag.
const recommendationThreshold = 10

// recommendations derives qualitative advice from simple frequency
// thresholds over the report window.
func recommendations(report *ErrorMetricsReport) []string {
	var out []string

	if report.ByCategory[CategoryNetwork]+report.ByCategory[CategoryConnection] > recommendationThreshold {
		out = append(out, "high network error rate - check connectivity to upstream dependencies")
	}

	if report.ByCategory[CategoryTimeout] > recommendationThreshold {
		out = append(out, "high timeout rate - review per-attempt timeouts and upstream latency")
	}

	if report.ByCategory[CategoryRateLimit] > recommendationThreshold {
		out = append(out, "frequent rate limiting - reduce request rate or request a higher quota")
	}

	if report.ByCategory[CategoryAuthentication]+report.ByCategory[CategoryToken] > recommendationThreshold {
		out = append(out, "recurring authentication failures - check credential configuration and token refresh")
	}

	if report.BySeverity[SeverityCritical.String()] > 0 {
		out = append(out, "critical errors present - inspect logs with the attached stack traces")
	}

	for key, rate := range report.RecoveryRates {
		if rate < 0.5 {
			out = append(out, "low recovery success rate for "+key+" - review registered recovery strategies")
		}
	}

	sort.Strings(out)

	return out
}

// metricKey builds the category_severity metric table key.
func metricKey(cat Category, sev Severity) string {
	return string(cat) + "_" + sev.String()
}
