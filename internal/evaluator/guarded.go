package evaluator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"threshold-lab/internal/domain"
	"threshold-lab/internal/observability"
)

// GuardConfig configures the circuit breaker and submission rate limit.
type GuardConfig struct {
	// Name identifies the breaker in logs.
	Name string
	// ConsecutiveFailures trips the breaker. Default 3.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before a trial request. Default 60s.
	OpenTimeout time.Duration
	// RatePerSecond limits submissions. 0 disables throttling.
	RatePerSecond float64
	// Burst is the limiter burst. Default 1.
	Burst int
	// Metrics, when set, exposes whether the breaker is open.
	Metrics *observability.Metrics
}

// DefaultGuardConfig returns the default guard configuration.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		Name:                "evaluator",
		ConsecutiveFailures: 3,
		OpenTimeout:         60 * time.Second,
		Burst:               1,
	}
}

// Guarded wraps an Evaluator with a circuit breaker and a rate limiter.
// Only infrastructure failures count against the breaker; rejected jobs and
// cancelled submissions do not. Once the breaker opens, every Submit fails
// with ErrInfrastructure so the search aborts instead of burning through the
// rest of the queue against a dead evaluator.
type Guarded struct {
	inner   Evaluator
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewGuarded creates a guarded evaluator.
func NewGuarded(inner Evaluator, cfg GuardConfig, logger zerolog.Logger) *Guarded {
	def := DefaultGuardConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = def.ConsecutiveFailures
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}

	g := &Guarded{
		inner:   inner,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		logger:  logger,
	}

	threshold := cfg.ConsecutiveFailures
	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    cfg.Name,
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: countsAsHealthy,
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("evaluator breaker state change")
			cfg.Metrics.SetBreakerOpen(to == gobreaker.StateOpen)
		},
	})
	return g
}

// Submit implements Evaluator.
func (g *Guarded) Submit(ctx context.Context, job domain.EvaluationJob) (*Ticket, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	out, err := g.breaker.Execute(func() (interface{}, error) {
		return g.inner.Submit(ctx, job)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: breaker %s: %v", ErrInfrastructure, g.breaker.Name(), err)
		}
		return nil, err
	}
	return out.(*Ticket), nil
}

// countsAsHealthy reports whether a submission outcome leaves the breaker's
// failure count untouched.
func countsAsHealthy(err error) bool {
	return err == nil ||
		errors.Is(err, ErrEvaluationFailed) ||
		errors.Is(err, context.Canceled)
}

// State returns the breaker state.
func (g *Guarded) State() gobreaker.State {
	return g.breaker.State()
}

var _ Evaluator = (*Guarded)(nil)
