package reporting

import (
	"context"
	"fmt"
	"time"

	"threshold-lab/internal/domain"
	"threshold-lab/internal/storage"
)

// Generator builds reports from a live outcome or from persisted runs.
type Generator struct {
	stores storage.Stores
	now    func() time.Time // Injectable clock for deterministic output
}

// NewGenerator creates a report generator reading from stores. Stores may be
// empty when only FromOutcome is used.
func NewGenerator(stores storage.Stores) *Generator {
	return &Generator{
		stores: stores,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// FromOutcome builds a report for a search that just finished.
func (g *Generator) FromOutcome(out *domain.SearchOutcome) *Report {
	rounds := make([]*domain.RoundRecord, len(out.Rounds))
	for i := range out.Rounds {
		rounds[i] = &out.Rounds[i]
	}
	variables := make([]*domain.VariableOutcome, len(out.Variables))
	for i := range out.Variables {
		variables[i] = &out.Variables[i]
	}
	return g.build(out.Run(), out.TopResults(), variables, rounds)
}

// Generate rebuilds the report of a persisted run.
func (g *Generator) Generate(ctx context.Context, runID string) (*Report, error) {
	if g.stores.Runs == nil {
		return nil, fmt.Errorf("%w: no run store", storage.ErrInvalidInput)
	}

	run, err := g.stores.Runs.GetByID(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}

	var (
		top       []*domain.TopResult
		variables []*domain.VariableOutcome
		rounds    []*domain.RoundRecord
	)
	if g.stores.TopResults != nil {
		if top, err = g.stores.TopResults.GetByRunID(ctx, runID); err != nil {
			return nil, fmt.Errorf("load top results: %w", err)
		}
	}
	if g.stores.Variables != nil {
		if variables, err = g.stores.Variables.GetByRunID(ctx, runID); err != nil {
			return nil, fmt.Errorf("load variable outcomes: %w", err)
		}
	}
	if g.stores.Rounds != nil {
		if rounds, err = g.stores.Rounds.GetByRunID(ctx, runID); err != nil {
			return nil, fmt.Errorf("load rounds: %w", err)
		}
	}

	return g.build(*run, top, variables, rounds), nil
}

func (g *Generator) build(run domain.SearchRun, top []*domain.TopResult, variables []*domain.VariableOutcome, rounds []*domain.RoundRecord) *Report {
	r := &Report{
		GeneratedAt: g.now(),
		Run:         run,
	}
	if !run.CompletedAt.IsZero() && !run.StartedAt.IsZero() {
		r.Summary.Duration = run.CompletedAt.Sub(run.StartedAt)
	}

	for _, t := range top {
		r.Top = append(r.Top, TopRow{
			Rank:        t.Rank,
			Score:       t.Score,
			MetricSum:   t.MetricSum,
			OpDays:      t.OpDays,
			Formula:     t.FormulaText,
			Combination: t.CombinationKey,
			TradeCount:  t.TradeCount,
			HoldRate:    t.HoldRate,
			ProfitRate:  t.ProfitRate,
			LossRate:    t.LossRate,
		})
	}

	for _, v := range variables {
		switch v.Status {
		case domain.VariableImproved:
			r.Summary.VariablesImproved++
		case domain.VariableSkipped:
			r.Summary.VariablesSkipped++
		default:
			r.Summary.VariablesNoImprovement++
		}
		r.Variables = append(r.Variables, VariableRow{
			Position:  v.Position,
			Variable:  v.Variable,
			Status:    v.Status,
			BestBound: boundText(v.BestBound),
			BestScore: v.BestScore,
			RoundsRun: v.RoundsRun,
			Message:   v.Message,
		})
	}

	for _, rr := range rounds {
		r.Summary.RoundsRun++
		if rr.Improved {
			r.Summary.RoundsImproved++
		}
		r.Rounds = append(r.Rounds, RoundRow{
			Variable:    rr.Variable,
			RoundIndex:  rr.RoundIndex,
			StepDivisor: rr.StepDivisor,
			JobCount:    rr.JobCount,
			BestBound:   boundText(rr.BestBound),
			BestScore:   rr.BestScore,
			PrevScore:   rr.PrevScore,
			Improved:    rr.Improved,
			Err:         rr.Err,
		})
	}

	return r
}

func boundText(b *domain.Bound) string {
	if b == nil {
		return "-"
	}
	return b.String()
}

func scoreText(s *float64) string {
	if s == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *s)
}
