// Package config loads the search configuration from YAML with environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"threshold-lab/internal/domain"
	"threshold-lab/internal/evaluator"
	"threshold-lab/internal/scoring"
	"threshold-lab/internal/tracker"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "THRESHOLD_LAB_"

// Evaluator kinds.
const (
	EvaluatorSynthetic = "synthetic"
	EvaluatorWS        = "ws"
	EvaluatorHTTP      = "http"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the full configuration of a search run.
type Config struct {
	RunID      string           `yaml:"run_id"`
	Search     SearchSection    `yaml:"search"`
	Promotion  PromotionSection `yaml:"promotion"`
	Scheduler  SchedulerSection `yaml:"scheduler"`
	Evaluator  EvaluatorSection `yaml:"evaluator"`
	Redis      RedisSection     `yaml:"redis"`
	Postgres   DSNSection       `yaml:"postgres"`
	ClickHouse DSNSection       `yaml:"clickhouse"`
	Output     OutputSection    `yaml:"output"`
	Metrics    MetricsSection   `yaml:"metrics"`
	Log        LogSection       `yaml:"log"`
}

// VariableSpec declares one queued variable. Min/Max are optional; they are
// normally supplied by the baseline evaluation.
type VariableSpec struct {
	Name           string   `yaml:"name"`
	Category       string   `yaml:"category"`
	Min            *float64 `yaml:"min"`
	Max            *float64 `yaml:"max"`
	MedianPositive *float64 `yaml:"median_positive"`
	MedianNegative *float64 `yaml:"median_negative"`
}

// Variable converts the spec to a domain variable.
func (v VariableSpec) Variable() domain.Variable {
	cat := domain.CategoryOutput
	if v.Category == string(domain.CategoryAuxiliary) {
		cat = domain.CategoryAuxiliary
	}
	return domain.Variable{
		Name:           v.Name,
		Category:       cat,
		Min:            v.Min,
		Max:            v.Max,
		MedianPositive: v.MedianPositive,
		MedianNegative: v.MedianNegative,
	}
}

// SearchSection describes what is searched.
type SearchSection struct {
	Variables       []VariableSpec                `yaml:"variables"`
	Formula         domain.Formula                `yaml:"formula"`
	Combinations    []domain.ParameterCombination `yaml:"combinations"`
	DateRange       domain.DateRange              `yaml:"date_range"`
	SelectedMetrics []string                      `yaml:"selected_metrics"`
	Filters         scoring.Filters               `yaml:"filters"`
	RequestedCount  int                           `yaml:"requested_count"`
	StepDivisors    []int                         `yaml:"step_divisors"`
	// BaselineFromEvaluator runs a baseline evaluation for statistics instead
	// of using the variables' configured min/max.
	BaselineFromEvaluator bool `yaml:"baseline_from_evaluator"`
}

// Queue returns the variable queue.
func (s SearchSection) Queue() []domain.Variable {
	out := make([]domain.Variable, len(s.Variables))
	for i, v := range s.Variables {
		out[i] = v.Variable()
	}
	return out
}

// PromotionSection configures the best-value tracker.
type PromotionSection struct {
	Mode             string  `yaml:"mode"`
	ThresholdPercent float64 `yaml:"threshold_percent"`
}

// SchedulerSection configures acknowledgment polling.
type SchedulerSection struct {
	PollInterval    time.Duration `yaml:"poll_interval"`
	MaxPollAttempts int           `yaml:"max_poll_attempts"`
	JobTimeout      time.Duration `yaml:"job_timeout"`
}

// PeakSpec is one variable of the synthetic evaluator's landscape.
type PeakSpec struct {
	Min    float64      `yaml:"min"`
	Max    float64      `yaml:"max"`
	Target domain.Bound `yaml:"target"`
	Weight float64      `yaml:"weight"`
}

// EvaluatorSection selects and tunes the evaluator.
type EvaluatorSection struct {
	Kind     string `yaml:"kind"`
	Endpoint string `yaml:"endpoint"`

	RatePerSecond      float64       `yaml:"rate_per_second"`
	Burst              int           `yaml:"burst"`
	BreakerFailures    uint32        `yaml:"breaker_failures"`
	BreakerOpenTimeout time.Duration `yaml:"breaker_open_timeout"`
	AckTimeout         time.Duration `yaml:"ack_timeout"`
	ReadTimeout        time.Duration `yaml:"read_timeout"`
	PingInterval       time.Duration `yaml:"ping_interval"`
	CacheTTL           time.Duration `yaml:"cache_ttl"`

	SyntheticPeaks map[string]PeakSpec `yaml:"synthetic_peaks"`
}

// RedisSection configures the evaluation cache. Empty Addr disables it.
type RedisSection struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DSNSection holds a database DSN.
type DSNSection struct {
	DSN string `yaml:"dsn"`
}

// OutputSection configures report files.
type OutputSection struct {
	Dir string `yaml:"dir"`
}

// MetricsSection configures the Prometheus endpoint. Empty Addr disables it.
type MetricsSection struct {
	Addr string `yaml:"addr"`
}

// LogSection configures zerolog.
type LogSection struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Search.RequestedCount == 0 {
		c.Search.RequestedCount = 5
	}
	if len(c.Search.StepDivisors) == 0 {
		c.Search.StepDivisors = []int{domain.StepDivisorRound1, domain.StepDivisorRound2, domain.StepDivisorRound3}
	}
	if c.Promotion.Mode == "" {
		c.Promotion.Mode = string(tracker.ModeMultiRound)
	}
	if c.Promotion.ThresholdPercent == 0 {
		c.Promotion.ThresholdPercent = 100
	}
	if c.Scheduler.PollInterval == 0 {
		c.Scheduler.PollInterval = 500 * time.Millisecond
	}
	if c.Scheduler.MaxPollAttempts == 0 {
		c.Scheduler.MaxPollAttempts = 20
	}
	if c.Evaluator.Kind == "" {
		c.Evaluator.Kind = EvaluatorSynthetic
	}
	if c.Evaluator.BreakerFailures == 0 {
		c.Evaluator.BreakerFailures = 3
	}
	if c.Evaluator.BreakerOpenTimeout == 0 {
		c.Evaluator.BreakerOpenTimeout = 60 * time.Second
	}
	if c.Evaluator.CacheTTL == 0 {
		c.Evaluator.CacheTTL = 24 * time.Hour
	}
	if c.Output.Dir == "" {
		c.Output.Dir = "out"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Load reads the YAML file at path (if present), loads envFile into the
// process environment (if present), applies THRESHOLD_LAB_* overrides and
// fills defaults. It does not validate.
func Load(path, envFile string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
			}
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func applyEnvOverrides(c *Config) error {
	str := func(name string, dst *string) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}
	str("RUN_ID", &c.RunID)
	str("EVALUATOR_KIND", &c.Evaluator.Kind)
	str("EVALUATOR_ENDPOINT", &c.Evaluator.Endpoint)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)
	str("POSTGRES_DSN", &c.Postgres.DSN)
	str("CLICKHOUSE_DSN", &c.ClickHouse.DSN)
	str("OUTPUT_DIR", &c.Output.Dir)
	str("METRICS_ADDR", &c.Metrics.Addr)
	str("LOG_LEVEL", &c.Log.Level)

	if v := os.Getenv(EnvPrefix + "POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sPOLL_INTERVAL: %w", EnvPrefix, err)
		}
		c.Scheduler.PollInterval = d
	}
	if v := os.Getenv(EnvPrefix + "JOB_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sJOB_TIMEOUT: %w", EnvPrefix, err)
		}
		c.Scheduler.JobTimeout = d
	}
	if v := os.Getenv(EnvPrefix + "RATE_PER_SECOND"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%sRATE_PER_SECOND: %w", EnvPrefix, err)
		}
		c.Evaluator.RatePerSecond = f
	}
	if v := os.Getenv(EnvPrefix + "REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sREDIS_DB: %w", EnvPrefix, err)
		}
		c.Redis.DB = n
	}
	return nil
}

// Validate checks the configuration for a search run.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	s := c.Search
	if len(s.Variables) == 0 {
		fail("search.variables is empty")
	}
	seen := make(map[string]bool)
	for i, v := range s.Variables {
		if v.Name == "" {
			fail("search.variables[%d] has no name", i)
		}
		if seen[v.Name] {
			fail("search.variables[%d] duplicates %q", i, v.Name)
		}
		seen[v.Name] = true
	}
	if len(s.SelectedMetrics) == 0 {
		fail("search.selected_metrics is empty")
	}
	if len(s.Combinations) == 0 {
		fail("search.combinations is empty")
	}
	if s.RequestedCount < 1 {
		fail("search.requested_count must be >= 1, got %d", s.RequestedCount)
	}
	if len(s.StepDivisors) != domain.RoundsPerVariable {
		fail("search.step_divisors needs %d entries, got %d", domain.RoundsPerVariable, len(s.StepDivisors))
	}
	for i, d := range s.StepDivisors {
		if d <= 0 {
			fail("search.step_divisors[%d] must be positive, got %d", i, d)
		}
	}
	if !s.DateRange.Valid() {
		fail("search.date_range start is after end")
	}
	for name, r := range map[string]*scoring.Range{
		"hold_rate":   s.Filters.HoldRate,
		"profit_rate": s.Filters.ProfitRate,
		"loss_rate":   s.Filters.LossRate,
	} {
		if r == nil {
			continue
		}
		if r.Min < 0 || r.Max > 100 || r.Min > r.Max {
			fail("search.filters.%s must satisfy 0 <= min <= max <= 100", name)
		}
	}
	if _, err := tracker.ParseMode(c.Promotion.Mode); err != nil {
		fail("promotion.mode: %v", err)
	}

	switch c.Evaluator.Kind {
	case EvaluatorSynthetic:
	case EvaluatorWS, EvaluatorHTTP:
		if c.Evaluator.Endpoint == "" {
			fail("evaluator.endpoint is required for kind %q", c.Evaluator.Kind)
		}
	default:
		fail("evaluator.kind %q is not one of synthetic, ws, http", c.Evaluator.Kind)
	}
	if c.Evaluator.ReadTimeout < 0 || c.Evaluator.PingInterval < 0 {
		fail("evaluator.read_timeout and evaluator.ping_interval must not be negative")
	}
	if c.Evaluator.ReadTimeout > 0 && c.Evaluator.PingInterval >= c.Evaluator.ReadTimeout {
		fail("evaluator.ping_interval %s must be shorter than evaluator.read_timeout %s",
			c.Evaluator.PingInterval, c.Evaluator.ReadTimeout)
	}
	if c.Scheduler.JobTimeout < 0 {
		fail("scheduler.job_timeout must not be negative")
	}

	return errors.Join(errs...)
}

// Divisors returns the step divisors as a fixed array. Call after Validate.
func (s SearchSection) Divisors() [domain.RoundsPerVariable]int {
	var out [domain.RoundsPerVariable]int
	copy(out[:], s.StepDivisors)
	return out
}

// GuardConfig returns the breaker and rate-limit settings.
func (e EvaluatorSection) GuardConfig() evaluator.GuardConfig {
	return evaluator.GuardConfig{
		Name:                e.Kind,
		ConsecutiveFailures: e.BreakerFailures,
		OpenTimeout:         e.BreakerOpenTimeout,
		RatePerSecond:       e.RatePerSecond,
		Burst:               e.Burst,
	}
}

// Peaks returns the synthetic landscape.
func (e EvaluatorSection) Peaks() map[string]evaluator.Peak {
	out := make(map[string]evaluator.Peak, len(e.SyntheticPeaks))
	for name, p := range e.SyntheticPeaks {
		out[name] = evaluator.Peak{Min: p.Min, Max: p.Max, Target: p.Target, Weight: p.Weight}
	}
	return out
}
