package search

import (
	"context"

	"threshold-lab/internal/bounds"
	"threshold-lab/internal/domain"
	"threshold-lab/internal/idhash"
	"threshold-lab/internal/scheduler"
	"threshold-lab/internal/scoring"
)

// buildJobs expands the bounds into one job per (formula, combination), with
// Index = formulaIndex*len(combinations) + combinationIndex.
func buildJobs(carried domain.Formula, variable string, bs []domain.Bound, combos []domain.ParameterCombination, dr domain.DateRange) []domain.EvaluationJob {
	jobs := make([]domain.EvaluationJob, 0, len(bs)*len(combos))
	for fi, b := range bs {
		formula := carried.WithBound(variable, b)
		for ci, combo := range combos {
			jobs = append(jobs, domain.EvaluationJob{
				ID:               idhash.ComputeJobID(formula, combo, dr),
				Index:            fi*len(combos) + ci,
				FormulaIndex:     fi,
				CombinationIndex: ci,
				Formula:          formula,
				Combination:      combo,
				DateRange:        dr,
			})
		}
	}
	return jobs
}

// runRound generates bounds for the current round, evaluates them and ranks
// the results. Errors that end the whole search are recorded on the session;
// any other error is returned on the result and treated as not improved.
func (s *session) runRound(ctx context.Context) roundResult {
	p := s.cur
	idx := s.state.CurrentRoundIndex
	divisor := s.divisors[idx-1]

	r := roundResult{record: domain.RoundRecord{
		RunID:       s.in.RunID,
		Variable:    p.variable.Name,
		RoundIndex:  idx,
		StepDivisor: divisor,
		BaselineMin: copyFloat(p.next.Min),
		BaselineMax: copyFloat(p.next.Max),
		StartedAt:   s.c.opts.Now(),
	}}

	bs, err := bounds.Generate(p.next, divisor, s.in.RequestedCount)
	if err != nil {
		r.err = err
		return r
	}

	jobs := buildJobs(s.state.GlobalBestFormula, p.variable.Name, bs, s.in.Combinations, s.in.DateRange)
	r.record.JobCount = len(jobs)

	s.log.Debug().
		Str("variable", p.variable.Name).
		Int("round", idx).
		Int("bounds", len(bs)).
		Int("jobs", len(jobs)).
		Msg("running round")

	batch, err := s.c.opts.Runner.Run(ctx, jobs, scheduler.Hooks{})
	s.jobsRun += batch.Executed

	// Partial results still count toward the final ranking.
	r.top = scoring.Aggregate(batch.Results, s.in.Scoring)
	if len(r.top) > 0 {
		s.roundTops = append(s.roundTops, r.top)
	}
	if h := s.c.opts.Hooks.OnRoundResults; h != nil && len(batch.Results) > 0 {
		h(p.variable.Name, idx, batch.Results)
	}

	if term := classify(err); term != nil {
		s.stop(term)
		p.roundsRun++
		r.record.Err = term.Error()
		s.recordRound(&r, "error")
		return r
	}
	r.err = err
	return r
}
