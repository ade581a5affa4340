// Package search runs the three-round coordinate refinement over a queue of
// variables and reports the best formulas found.
package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"threshold-lab/internal/domain"
	"threshold-lab/internal/evaluator"
	"threshold-lab/internal/observability"
	"threshold-lab/internal/scheduler"
	"threshold-lab/internal/scoring"
	"threshold-lab/internal/statistics"
	"threshold-lab/internal/tracker"
)

var (
	// ErrCancelled is returned with the partial outcome of a cancelled search.
	ErrCancelled = scheduler.ErrCancelled

	// ErrAborted wraps the infrastructure error that stopped a search.
	ErrAborted = errors.New("search aborted")

	// ErrInvalidInput is returned before anything runs.
	ErrInvalidInput = errors.New("invalid search input")
)

// DefaultStepDivisors are the coarse-to-fine divisors of the three rounds.
var DefaultStepDivisors = [domain.RoundsPerVariable]int{
	domain.StepDivisorRound1,
	domain.StepDivisorRound2,
	domain.StepDivisorRound3,
}

// Runner executes one round's jobs in order.
type Runner interface {
	Run(ctx context.Context, jobs []domain.EvaluationJob, hooks scheduler.Hooks) (scheduler.Batch, error)
}

// Input is the configuration snapshot of one search.
type Input struct {
	RunID string
	// Queue is the ordered list of variables to refine. Statistics on a
	// variable are used only when the baseline snapshot has none for it.
	Queue          []domain.Variable
	Formula        domain.Formula
	Combinations   []domain.ParameterCombination
	DateRange      domain.DateRange
	Scoring        scoring.Request
	RequestedCount int
	// StepDivisors overrides DefaultStepDivisors when all three are positive.
	StepDivisors [domain.RoundsPerVariable]int
}

func (in Input) validate() error {
	switch {
	case len(in.Queue) == 0:
		return fmt.Errorf("%w: empty variable queue", ErrInvalidInput)
	case len(in.Combinations) == 0:
		return fmt.Errorf("%w: no parameter combinations", ErrInvalidInput)
	case len(in.Scoring.SelectedMetrics) == 0:
		return fmt.Errorf("%w: no selected metrics", ErrInvalidInput)
	case in.RequestedCount < 1:
		return fmt.Errorf("%w: requested count %d", ErrInvalidInput, in.RequestedCount)
	}
	seen := make(map[string]bool, len(in.Queue))
	for _, v := range in.Queue {
		if v.Name == "" {
			return fmt.Errorf("%w: unnamed variable", ErrInvalidInput)
		}
		if seen[v.Name] {
			return fmt.Errorf("%w: duplicate variable %s", ErrInvalidInput, v.Name)
		}
		seen[v.Name] = true
	}
	return nil
}

func (in Input) divisors() [domain.RoundsPerVariable]int {
	for _, d := range in.StepDivisors {
		if d <= 0 {
			return DefaultStepDivisors
		}
	}
	return in.StepDivisors
}

// Hooks observe a running search.
type Hooks struct {
	OnRoundComplete    func(domain.RoundRecord)
	OnVariableComplete func(domain.VariableOutcome)
	// OnRoundResults receives every result a round produced, after scoring.
	OnRoundResults func(variable string, roundIndex int, results []*domain.EvaluationResult)
}

// Options configures a Controller.
type Options struct {
	Runner Runner
	// Statistics supplies the baseline snapshot. Nil uses the statistics
	// carried by the queued variables, with no initial score.
	Statistics statistics.Provider
	// Tracker receives the global best on finalize. Nil skips promotion.
	Tracker *tracker.Tracker
	// IsCancelled is checked before each round, in addition to ctx.
	IsCancelled func() bool
	Hooks       Hooks

	Logger  zerolog.Logger
	Metrics *observability.Metrics
	Now     func() time.Time
}

// Controller runs coordinate searches. It holds no per-search state; every
// Run owns its own session.
type Controller struct {
	opts Options
}

// New creates a controller.
func New(opts Options) *Controller {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	opts.Logger = opts.Logger.With().Str("component", "search").Logger()
	return &Controller{opts: opts}
}

// Run executes the search described by in.
//
// The outcome is always returned, possibly partial. The error is nil on
// completion, wraps ErrCancelled when cancelled, and wraps both ErrAborted and
// evaluator.ErrInfrastructure when the evaluator or statistics provider became
// unavailable.
func (c *Controller) Run(ctx context.Context, in Input) (*domain.SearchOutcome, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if c.opts.Runner == nil {
		return nil, fmt.Errorf("%w: no runner", ErrInvalidInput)
	}

	s := newSession(c, in)
	s.log.Info().
		Int("variables", len(in.Queue)).
		Int("combinations", len(in.Combinations)).
		Str("formula", in.Formula.Text()).
		Msg("search started")

	s.run(ctx)

	out := s.outcome()
	c.opts.Metrics.RecordSearchRun(string(out.Status), out.CompletedAt.Sub(out.StartedAt))

	ev := s.log.Info()
	if s.err != nil {
		ev = s.log.Warn().Err(s.err)
	}
	ev.Str("status", string(out.Status)).
		Int("jobs", out.JobsRun).
		Int("top", len(out.Top)).
		Str("best_formula", out.BestFormula.Text()).
		Msg("search finished")

	return out, s.err
}

func (c *Controller) cancelled(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	return c.opts.IsCancelled != nil && c.opts.IsCancelled()
}

// classify maps an error that escaped a round or the baseline to the session's
// terminal error, or nil when the search may continue.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, scheduler.ErrCancelled), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		if errors.Is(err, scheduler.ErrCancelled) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	case evaluator.IsInfrastructure(err):
		return fmt.Errorf("%w: %w", ErrAborted, err)
	}
	return nil
}
