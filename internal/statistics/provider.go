// Package statistics supplies the baseline variable statistics a search starts from.
package statistics

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"threshold-lab/internal/domain"
	"threshold-lab/internal/evaluator"
	"threshold-lab/internal/scheduler"
	"threshold-lab/internal/scoring"
)

// Provider returns the statistics snapshot for formula: the score it achieves
// and the min/max/median of every variable observed under it.
type Provider interface {
	Baseline(ctx context.Context, formula domain.Formula) (domain.Snapshot, error)
}

// Static is a fixed snapshot, e.g. from a previous run.
type Static domain.Snapshot

// Baseline implements Provider.
func (s Static) Baseline(context.Context, domain.Formula) (domain.Snapshot, error) {
	return domain.Snapshot(s).Clone(), nil
}

// Runner is the part of the scheduler the provider needs.
type Runner interface {
	Run(ctx context.Context, jobs []domain.EvaluationJob, hooks scheduler.Hooks) (scheduler.Batch, error)
}

// EvaluatorProvider evaluates the formula over every parameter combination and
// derives the snapshot from the results.
type EvaluatorProvider struct {
	Runner       Runner
	Combinations []domain.ParameterCombination
	DateRange    domain.DateRange
	Request      scoring.Request
	Logger       zerolog.Logger
}

// Baseline implements Provider. It fails with evaluator.ErrInfrastructure when
// no job produced a result, since no search can start without baseline data.
func (p *EvaluatorProvider) Baseline(ctx context.Context, formula domain.Formula) (domain.Snapshot, error) {
	jobs := make([]domain.EvaluationJob, len(p.Combinations))
	for i, combo := range p.Combinations {
		jobs[i] = domain.EvaluationJob{
			Index:            i,
			CombinationIndex: i,
			Formula:          formula.Clone(),
			Combination:      combo,
			DateRange:        p.DateRange,
		}
	}

	batch, err := p.Runner.Run(ctx, jobs, scheduler.Hooks{})
	if err != nil {
		if errors.Is(err, scheduler.ErrCancelled) {
			return domain.Snapshot{}, err
		}
		return domain.Snapshot{}, fmt.Errorf("baseline evaluation: %w", err)
	}
	if len(batch.Results) == 0 {
		return domain.Snapshot{}, fmt.Errorf("%w: baseline evaluation produced no results (%d failed)",
			evaluator.ErrInfrastructure, len(batch.Failures))
	}

	snap := domain.Snapshot{Stats: MergeStats(batch.Results)}
	if top := scoring.Aggregate(batch.Results, p.Request); len(top) > 0 {
		snap.Score = domain.Float(top[0].Score)
	}

	p.Logger.Info().
		Int("results", len(batch.Results)).
		Int("failed", len(batch.Failures)).
		Int("variables", len(snap.Stats)).
		Msg("baseline statistics captured")
	return snap, nil
}

// MergeStats combines per-result variable statistics: the widest min/max and
// the median of the reported medians.
func MergeStats(results []*domain.EvaluationResult) map[string]domain.VariableStats {
	type acc struct {
		min, max *float64
		pos, neg []float64
	}
	accs := make(map[string]*acc)

	for _, r := range results {
		for name, s := range r.VariableStats {
			a := accs[name]
			if a == nil {
				a = &acc{}
				accs[name] = a
			}
			if s.Min != nil && (a.min == nil || *s.Min < *a.min) {
				a.min = domain.Float(*s.Min)
			}
			if s.Max != nil && (a.max == nil || *s.Max > *a.max) {
				a.max = domain.Float(*s.Max)
			}
			if s.MedianPositive != nil {
				a.pos = append(a.pos, *s.MedianPositive)
			}
			if s.MedianNegative != nil {
				a.neg = append(a.neg, *s.MedianNegative)
			}
		}
	}

	out := make(map[string]domain.VariableStats, len(accs))
	for name, a := range accs {
		out[name] = domain.VariableStats{
			Min:            a.min,
			Max:            a.max,
			MedianPositive: median(a.pos),
			MedianNegative: median(a.neg),
		}
	}
	return out
}

func median(vals []float64) *float64 {
	if len(vals) == 0 {
		return nil
	}
	s := append([]float64(nil), vals...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return domain.Float(s[n/2])
	}
	return domain.Float((s[n/2-1] + s[n/2]) / 2)
}
