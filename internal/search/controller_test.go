package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threshold-lab/internal/domain"
	"threshold-lab/internal/evaluator"
	"threshold-lab/internal/scheduler"
	"threshold-lab/internal/scoring"
	"threshold-lab/internal/statistics"
	"threshold-lab/internal/tracker"
)

// scripted is an evaluator whose score is decided per call by fn.
type scripted struct {
	mu    sync.Mutex
	calls []domain.EvaluationJob
	fn    func(call int, job domain.EvaluationJob) (float64, error)
}

func (s *scripted) evaluate(_ context.Context, job domain.EvaluationJob) (*domain.EvaluationResult, error) {
	s.mu.Lock()
	call := len(s.calls)
	s.calls = append(s.calls, job)
	s.mu.Unlock()

	score, err := s.fn(call, job)
	if err != nil {
		return nil, err
	}

	stats := make(map[string]domain.VariableStats)
	for _, c := range job.Formula.Conditions {
		stats[c.Variable] = domain.VariableStats{Min: domain.Float(c.Bound.Lower), Max: domain.Float(c.Bound.Upper)}
	}
	return &domain.EvaluationResult{
		Statistics:    map[string]float64{"profit": score},
		OpDays:        1,
		VariableStats: stats,
	}, nil
}

func (s *scripted) jobs() []domain.EvaluationJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.EvaluationJob(nil), s.calls...)
}

func variable(name string, min, max float64) domain.Variable {
	return domain.Variable{Name: name, Category: domain.CategoryOutput, Min: domain.Float(min), Max: domain.Float(max)}
}

func baseInput(queue ...domain.Variable) Input {
	return Input{
		RunID:          "run-1",
		Queue:          queue,
		Combinations:   []domain.ParameterCombination{{HoldingDays: 1}},
		Scoring:        scoring.Request{SelectedMetrics: []string{"profit"}},
		RequestedCount: 3,
	}
}

func newController(ev *scripted, opts Options) *Controller {
	opts.Runner = scheduler.New(evaluator.Func(ev.evaluate), scheduler.Options{
		PollInterval: time.Millisecond,
		Logger:       zerolog.Nop(),
	})
	opts.Logger = zerolog.Nop()
	return New(opts)
}

func boundOf(t *testing.T, f domain.Formula, name string) domain.Bound {
	t.Helper()
	b, ok := f.Bound(name)
	require.True(t, ok, "formula %q has no condition for %s", f.Text(), name)
	return b
}

func TestRun_StopsAtRoundTwoWhenRoundTwoDoesNotImprove(t *testing.T) {
	ev := &scripted{fn: func(call int, job domain.EvaluationJob) (float64, error) {
		if call >= 9 {
			return 10, nil
		}
		if b, _ := job.Formula.Bound("x"); b == (domain.Bound{Lower: -80, Upper: 80}) {
			return 60, nil
		}
		return 50, nil
	}}

	out, err := newController(ev, Options{}).Run(context.Background(), baseInput(variable("x", -100, 100)))
	require.NoError(t, err)

	require.Len(t, out.Rounds, 2)
	assert.Equal(t, 10, out.Rounds[0].StepDivisor)
	assert.Equal(t, 20, out.Rounds[1].StepDivisor)
	assert.True(t, out.Rounds[0].Improved)
	assert.False(t, out.Rounds[1].Improved)
	assert.Equal(t, 9, out.Rounds[0].JobCount)
	assert.Equal(t, 80.0, *out.Rounds[1].BaselineMax, "round 2 sweeps the round-1 best")
	assert.Len(t, ev.jobs(), 18)

	assert.Equal(t, domain.Bound{Lower: -80, Upper: 80}, boundOf(t, out.BestFormula, "x"))
	require.Len(t, out.Variables, 1)
	assert.Equal(t, domain.VariableImproved, out.Variables[0].Status)
	assert.Equal(t, 2, out.Variables[0].RoundsRun)
	assert.Equal(t, 60.0, *out.BestScore)
	assert.Equal(t, domain.RunCompleted, out.Status)
}

func TestRun_JobOrdering(t *testing.T) {
	ev := &scripted{fn: func(int, domain.EvaluationJob) (float64, error) { return 0, nil }}
	in := baseInput(variable("x", -100, 100))
	in.Combinations = []domain.ParameterCombination{{HoldingDays: 1}, {HoldingDays: 2}}

	_, err := newController(ev, Options{Statistics: statistics.Static{Score: domain.Float(1)}}).Run(context.Background(), in)
	require.NoError(t, err)

	jobs := ev.jobs()
	require.Len(t, jobs, 18)
	for i, job := range jobs {
		assert.Equal(t, i, job.Index)
		assert.Equal(t, job.FormulaIndex*2+job.CombinationIndex, job.Index)
	}
	assert.Equal(t, domain.Bound{Lower: -100, Upper: 100}, boundOf(t, jobs[0].Formula, "x"))
	assert.Equal(t, 2, jobs[1].Combination.HoldingDays)
}

func TestRun_NeverImprovingVariableIsStripped(t *testing.T) {
	ev := &scripted{fn: func(int, domain.EvaluationJob) (float64, error) { return 5, nil }}

	in := baseInput(variable("x", -100, 100), variable("y", 0, 10))
	in.Formula = domain.Formula{SortMode: "desc"}.
		WithBound("x", domain.Bound{Lower: -50, Upper: 50}).
		WithBound("z", domain.Bound{Lower: 1, Upper: 2})

	stats := statistics.Static{
		Score: domain.Float(100),
		Stats: map[string]domain.VariableStats{
			"x": {Min: domain.Float(-100), Max: domain.Float(100)},
			"y": {Min: domain.Float(0), Max: domain.Float(10)},
		},
	}

	var order []string
	out, err := newController(ev, Options{
		Statistics: stats,
		Hooks: Hooks{OnVariableComplete: func(o domain.VariableOutcome) {
			order = append(order, o.Variable)
		}},
	}).Run(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, []string{"x", "y"}, order)
	var yJobs int
	for _, job := range ev.jobs() {
		if _, ok := job.Formula.Bound("y"); !ok {
			continue
		}
		yJobs++
		_, hasX := job.Formula.Bound("x")
		assert.False(t, hasX, "x must be stripped before y's round 1: %s", job.Formula.Text())
		assert.Equal(t, domain.Bound{Lower: 1, Upper: 2}, boundOf(t, job.Formula, "z"))
		assert.Equal(t, "desc", job.Formula.SortMode)
	}
	assert.Positive(t, yJobs)

	require.Len(t, out.Variables, 2)
	assert.Equal(t, domain.VariableNoImprovement, out.Variables[0].Status)
	assert.Equal(t, 1, out.Variables[0].RoundsRun)
	assert.Equal(t, "z >= 1.00 AND z <= 2.00 | sort=desc", out.BestFormula.Text())
	assert.Equal(t, 100.0, *out.BestScore)
	assert.NotEmpty(t, out.Top, "rankings survive even without improvement")
}

func TestRun_TiesCountAsImproved(t *testing.T) {
	ev := &scripted{fn: func(int, domain.EvaluationJob) (float64, error) { return 50.004, nil }}

	out, err := newController(ev, Options{
		Statistics: statistics.Static{
			Score: domain.Float(49.996),
			Stats: map[string]domain.VariableStats{"x": {Min: domain.Float(-100), Max: domain.Float(100)}},
		},
	}).Run(context.Background(), baseInput(variable("x", 0, 0)))
	require.NoError(t, err)

	require.Len(t, out.Rounds, 3)
	assert.Equal(t, []int{10, 20, 40}, []int{out.Rounds[0].StepDivisor, out.Rounds[1].StepDivisor, out.Rounds[2].StepDivisor})
	for _, r := range out.Rounds {
		assert.True(t, r.Improved)
	}
	assert.Equal(t, 3, out.Variables[0].RoundsRun)
}

func TestRun_SkipsVariableWithoutStatistics(t *testing.T) {
	ev := &scripted{fn: func(int, domain.EvaluationJob) (float64, error) { return 1, nil }}
	in := baseInput(domain.Variable{Name: "a"}, variable("b", 0, 10), domain.Variable{Name: "c"})

	out, err := newController(ev, Options{}).Run(context.Background(), in)
	require.NoError(t, err)

	require.Len(t, out.Variables, 3)
	assert.Equal(t, domain.VariableSkipped, out.Variables[0].Status)
	assert.Equal(t, domain.VariableImproved, out.Variables[1].Status)
	assert.Equal(t, domain.VariableSkipped, out.Variables[2].Status)
	assert.Zero(t, out.Variables[0].RoundsRun)
	for _, job := range ev.jobs() {
		_, hasA := job.Formula.Bound("a")
		assert.False(t, hasA)
	}
	assert.Equal(t, domain.RunCompleted, out.Status)
}

func TestRun_GenerationEmptyIsNotImproved(t *testing.T) {
	ev := &scripted{fn: func(int, domain.EvaluationJob) (float64, error) { return 1, nil }}
	in := baseInput(variable("x", 10, -10))

	out, err := newController(ev, Options{}).Run(context.Background(), in)
	require.NoError(t, err)

	require.Len(t, out.Rounds, 1)
	assert.NotEmpty(t, out.Rounds[0].Err)
	assert.Equal(t, domain.VariableNoImprovement, out.Variables[0].Status)
	assert.Empty(t, ev.jobs())
}

func TestRun_InfrastructureErrorAbortsWithPartialRanking(t *testing.T) {
	ev := &scripted{fn: func(call int, job domain.EvaluationJob) (float64, error) {
		if call == 4 {
			return 0, fmt.Errorf("%w: price data gone", evaluator.ErrInfrastructure)
		}
		return float64(call), nil
	}}

	out, err := newController(ev, Options{}).Run(context.Background(), baseInput(variable("x", -100, 100), variable("y", 0, 10)))

	require.Error(t, err)
	assert.ErrorIs(t, err, evaluator.ErrInfrastructure)
	assert.ErrorIs(t, err, ErrAborted)
	require.NotNil(t, out)
	assert.Equal(t, domain.RunAborted, out.Status)
	require.Len(t, out.Top, 3)
	assert.Equal(t, 3.0, out.Top[0].Score)
	assert.Len(t, ev.jobs(), 5)
	require.Len(t, out.Variables, 1, "y never started")
	assert.Contains(t, out.Variables[0].Message, "interrupted")
	assert.NotEmpty(t, out.AbortReason)
}

func TestRun_BaselineFailureAborts(t *testing.T) {
	ev := &scripted{fn: func(int, domain.EvaluationJob) (float64, error) {
		return 0, evaluator.Failed("", "no data")
	}}
	runner := scheduler.New(evaluator.Func(ev.evaluate), scheduler.Options{Logger: zerolog.Nop()})
	provider := &statistics.EvaluatorProvider{
		Runner:       runner,
		Combinations: []domain.ParameterCombination{{}},
		Request:      scoring.Request{SelectedMetrics: []string{"profit"}},
		Logger:       zerolog.Nop(),
	}

	out, err := New(Options{Runner: runner, Statistics: provider, Logger: zerolog.Nop()}).
		Run(context.Background(), baseInput(variable("x", -100, 100)))

	assert.ErrorIs(t, err, evaluator.ErrInfrastructure)
	assert.Equal(t, domain.RunAborted, out.Status)
	assert.Empty(t, out.Rounds)
	assert.Empty(t, out.Top)
}

func TestRun_CancelledBetweenRounds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ev := &scripted{fn: func(call int, _ domain.EvaluationJob) (float64, error) { return float64(call), nil }}
	out, err := newController(ev, Options{
		Hooks: Hooks{OnRoundComplete: func(domain.RoundRecord) { cancel() }},
	}).Run(ctx, baseInput(variable("x", -100, 100), variable("y", 0, 10)))

	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, domain.RunCancelled, out.Status)
	assert.Len(t, out.Rounds, 1)
	assert.Len(t, ev.jobs(), 9)
	require.Len(t, out.Variables, 1)
	assert.Equal(t, domain.VariableImproved, out.Variables[0].Status)
	assert.Len(t, out.Top, 3)
}

func TestRun_CancelledMidRound(t *testing.T) {
	calls := 0
	ev := &scripted{fn: func(int, domain.EvaluationJob) (float64, error) {
		calls++
		return 1, nil
	}}
	runner := scheduler.New(evaluator.Func(ev.evaluate), scheduler.Options{
		Logger:      zerolog.Nop(),
		IsCancelled: func() bool { return calls >= 3 },
	})

	out, err := New(Options{Runner: runner, Logger: zerolog.Nop()}).
		Run(context.Background(), baseInput(variable("x", -100, 100)))

	assert.True(t, errors.Is(err, ErrCancelled))
	assert.Equal(t, domain.RunCancelled, out.Status)
	assert.Equal(t, 3, out.JobsRun)
}

func TestRun_FinalizeMergesAcrossVariablesAndPromotes(t *testing.T) {
	ev := &scripted{fn: func(call int, job domain.EvaluationJob) (float64, error) {
		if _, ok := job.Formula.Bound("y"); ok {
			return 100 + float64(call), nil
		}
		return float64(call), nil
	}}
	tr := tracker.New(tracker.ModeMultiRound, 100)

	out, err := newController(ev, Options{Tracker: tr}).Run(context.Background(), baseInput(variable("x", -100, 100), variable("y", 0, 10)))
	require.NoError(t, err)

	require.Len(t, out.Top, 3)
	for i := 1; i < len(out.Top); i++ {
		assert.GreaterOrEqual(t, out.Top[i-1].Score, out.Top[i].Score)
		assert.Equal(t, i+1, out.Top[i].Rank)
	}
	_, hasY := out.Top[0].Result.Formula.Bound("y")
	assert.True(t, hasY)
	assert.True(t, out.Promoted)
	require.NotNil(t, tr.LastBest())
	assert.Equal(t, out.Top[0].Score, *tr.LastBest())
	assert.Equal(t, tr.LastBest(), out.LastBest)
	assert.Equal(t, tr.LockedBest(), out.LockedBest)

	run := out.Run()
	assert.Equal(t, out.LastBest, run.LastBest)
	assert.Equal(t, out.LockedBest, run.LockedBest)
}

func TestRun_InvalidInput(t *testing.T) {
	c := New(Options{Runner: scheduler.New(evaluator.NewSynthetic(nil), scheduler.Options{}), Logger: zerolog.Nop()})

	_, err := c.Run(context.Background(), Input{})
	assert.ErrorIs(t, err, ErrInvalidInput)

	in := baseInput(variable("x", 0, 1), variable("x", 0, 1))
	_, err = c.Run(context.Background(), in)
	assert.ErrorIs(t, err, ErrInvalidInput)
}
