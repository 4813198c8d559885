package vigil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Profile files — named retry/breaker configurations
// ---------------------------------------------------------------------------.

type (
	// profileFile is the top-level file structure.
	profileFile struct {
		Profiles map[string]ProfileConfig `json:"profiles" yaml:"profiles"`
	}

	// ProfileConfig holds the decoded configuration for one named
	// profile. Export it to embed in your own app config structs, then
	// call [Build] to obtain runtime configs.
	ProfileConfig struct {
		// Retry configures the attempt loop.
		// Optional. Example: {"strategy": "exponential_backoff",
		// "max_attempts": 3, "base_delay": "100ms"}.
		Retry *RetryFileConfig `json:"retry,omitempty" yaml:"retry,omitempty"`
		// CircuitBreaker configures the breaker guarding the target.
		// Optional. Example: {"failure_threshold": 5, "timeout": "30s"}.
		CircuitBreaker *BreakerFileConfig `json:"circuit_breaker,omitempty" yaml:"circuit_breaker,omitempty"`
	}

	// RetryFileConfig is the on-disk shape of [RetryConfig]. Durations
	// are strings parsed via time.ParseDuration.
	RetryFileConfig struct {
		Strategy             *string  `json:"strategy,omitempty" yaml:"strategy,omitempty"`
		MaxAttempts          *int     `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`
		BaseDelay            *string  `json:"base_delay,omitempty" yaml:"base_delay,omitempty"`
		MaxDelay             *string  `json:"max_delay,omitempty" yaml:"max_delay,omitempty"`
		BackoffMultiplier    *float64 `json:"backoff_multiplier,omitempty" yaml:"backoff_multiplier,omitempty"`
		Jitter               *bool    `json:"jitter,omitempty" yaml:"jitter,omitempty"`
		JitterFraction       *float64 `json:"jitter_fraction,omitempty" yaml:"jitter_fraction,omitempty"`
		TimeoutPerAttempt    *string  `json:"timeout_per_attempt,omitempty" yaml:"timeout_per_attempt,omitempty"`
		RetryableStatusCodes []int    `json:"retryable_status_codes,omitempty" yaml:"retryable_status_codes,omitempty"`
	}

	// BreakerFileConfig is the on-disk shape of [CircuitBreakerConfig].
	BreakerFileConfig struct {
		FailureThreshold *int    `json:"failure_threshold,omitempty" yaml:"failure_threshold,omitempty"`
		SuccessThreshold *int    `json:"success_threshold,omitempty" yaml:"success_threshold,omitempty"`
		Timeout          *string `json:"timeout,omitempty" yaml:"timeout,omitempty"`
		MonitorWindow    *string `json:"monitor_window,omitempty" yaml:"monitor_window,omitempty"`
		HalfOpenMaxCalls *int    `json:"half_open_max_calls,omitempty" yaml:"half_open_max_calls,omitempty"`
	}

	// Profiles is the validated result of loading a profile file.
	Profiles struct {
		configs map[string]ProfileConfig
	}
)

// LoadProfiles reads named profiles from a JSON or YAML file (chosen by
// extension) and validates them eagerly so malformed durations surface at
// load time rather than first use.
func LoadProfiles(path string) (*Profiles, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("vigil: read profiles: %w", err)
	}

	var file profileFile

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &file)
	default:
		err = json.Unmarshal(data, &file)
	}

	if err != nil {
		return nil, fmt.Errorf("vigil: parse profiles: %w", err)
	}

	for name, pc := range file.Profiles {
		if _, _, buildErr := pc.Build(); buildErr != nil {
			return nil, fmt.Errorf("vigil: profile %q: %w", name, buildErr)
		}
	}

	return &Profiles{configs: file.Profiles}, nil
}

// Names lists the loaded profile names.
func (p *Profiles) Names() []string {
	out := make([]string, 0, len(p.configs))
	for name := range p.configs {
		out = append(out, name)
	}

	return out
}

// Get builds the runtime configs for a named profile. Unknown names return
// the defaults so call sites degrade gracefully when a profile is removed
// from the file.
func (p *Profiles) Get(name string) (RetryConfig, CircuitBreakerConfig) {
	pc, ok := p.configs[name]
	if !ok {
		return DefaultRetryConfig(), DefaultCircuitBreakerConfig()
	}

	// Validated at load time.
	retry, breaker, _ := pc.Build()

	return retry, breaker
}

// Build converts the file shape into runtime configs, applying defaults
// for absent fields.
func (pc *ProfileConfig) Build() (RetryConfig, CircuitBreakerConfig, error) {
	retry := DefaultRetryConfig()
	breaker := DefaultCircuitBreakerConfig()

	if pc.Retry != nil {
		if err := pc.Retry.apply(&retry); err != nil {
			return retry, breaker, fmt.Errorf("retry: %w", err)
		}
	}

	if pc.CircuitBreaker != nil {
		if err := pc.CircuitBreaker.apply(&breaker); err != nil {
			return retry, breaker, fmt.Errorf("circuit_breaker: %w", err)
		}
	}

	return retry, breaker, nil
}

func (rc *RetryFileConfig) apply(cfg *RetryConfig) error {
	if rc.Strategy != nil {
		strategy, err := parseStrategy(*rc.Strategy)
		if err != nil {
			return err
		}

		cfg.Strategy = strategy
	}

	if rc.MaxAttempts != nil {
		cfg.MaxAttempts = *rc.MaxAttempts
	}

	if err := parseDurationInto(rc.BaseDelay, &cfg.BaseDelay, "base_delay"); err != nil {
		return err
	}

	if err := parseDurationInto(rc.MaxDelay, &cfg.MaxDelay, "max_delay"); err != nil {
		return err
	}

	if rc.BackoffMultiplier != nil {
		cfg.BackoffMultiplier = *rc.BackoffMultiplier
	}

	if rc.Jitter != nil {
		cfg.Jitter = *rc.Jitter
	}

	if rc.JitterFraction != nil {
		cfg.JitterFraction = *rc.JitterFraction
	}

	if err := parseDurationInto(rc.TimeoutPerAttempt, &cfg.TimeoutPerAttempt, "timeout_per_attempt"); err != nil {
		return err
	}

	if len(rc.RetryableStatusCodes) > 0 {
		cfg.RetryableStatusCodes = append([]int(nil), rc.RetryableStatusCodes...)
	}

	return nil
}

func (bc *BreakerFileConfig) apply(cfg *CircuitBreakerConfig) error {
	if bc.FailureThreshold != nil {
		cfg.FailureThreshold = *bc.FailureThreshold
	}

	if bc.SuccessThreshold != nil {
		cfg.SuccessThreshold = *bc.SuccessThreshold
	}

	if err := parseDurationInto(bc.Timeout, &cfg.Timeout, "timeout"); err != nil {
		return err
	}

	if err := parseDurationInto(bc.MonitorWindow, &cfg.MonitorWindow, "monitor_window"); err != nil {
		return err
	}

	if bc.HalfOpenMaxCalls != nil {
		cfg.HalfOpenMaxCalls = *bc.HalfOpenMaxCalls
	}

	return nil
}

func parseDurationInto(src *string, dst *time.Duration, field string) error {
	if src == nil {
		return nil
	}

	d, err := time.ParseDuration(*src)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}

	*dst = d

	return nil
}

func parseStrategy(name string) (Strategy, error) {
	switch Strategy(name) {
	case StrategyExponential, StrategyLinear, StrategyFixed, StrategyImmediate, StrategyAdaptive:
		return Strategy(name), nil
	default:
		return "", fmt.Errorf("unknown backoff strategy: %q", name)
	}
}
