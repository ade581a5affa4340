package domain

import "time"

// SearchRun is the persisted summary of one search.
type SearchRun struct {
	RunID          string    `json:"run_id"`
	Status         RunStatus `json:"status"`
	StartedAt      time.Time `json:"started_at"`
	CompletedAt    time.Time `json:"completed_at"`
	InitialFormula string    `json:"initial_formula"`
	BestFormula    string    `json:"best_formula"`
	BestScore      *float64  `json:"best_score,omitempty"`
	LastBest       *float64  `json:"last_best,omitempty"`
	LockedBest     *float64  `json:"locked_best,omitempty"`
	JobsRun        int       `json:"jobs_run"`
	Promoted       bool      `json:"promoted"`
	AbortReason    string    `json:"abort_reason,omitempty"`
}

// TopResult is one persisted entry of a run's final ranking.
type TopResult struct {
	RunID          string  `json:"run_id"`
	Rank           int     `json:"rank"`
	Score          float64 `json:"score"`
	MetricSum      float64 `json:"metric_sum"`
	OpDays         int     `json:"op_days"`
	JobID          string  `json:"job_id"`
	FormulaText    string  `json:"formula"`
	CombinationKey string  `json:"combination"`
	TradeCount     int     `json:"trade_count"`
	HoldRate       float64 `json:"hold_rate"`
	ProfitRate     float64 `json:"profit_rate"`
	LossRate       float64 `json:"loss_rate"`
}

// EvaluationRecord is one scored job, kept for analytics.
// MetricSum and AggregateScore are zero for results the aggregator dropped.
type EvaluationRecord struct {
	RunID          string    `json:"run_id"`
	Variable       string    `json:"variable"`
	RoundIndex     int       `json:"round_index"`
	JobID          string    `json:"job_id"`
	JobIndex       int       `json:"job_index"`
	FormulaText    string    `json:"formula"`
	CombinationKey string    `json:"combination"`
	MetricSum      float64   `json:"metric_sum"`
	AggregateScore float64   `json:"aggregate_score"`
	OpDays         int       `json:"op_days"`
	TradeCount     int       `json:"trade_count"`
	HoldRate       float64   `json:"hold_rate"`
	ProfitRate     float64   `json:"profit_rate"`
	LossRate       float64   `json:"loss_rate"`
	RecordedAt     time.Time `json:"recorded_at"`
}

// Run returns the persisted summary of o.
func (o *SearchOutcome) Run() SearchRun {
	run := SearchRun{
		RunID:          o.RunID,
		Status:         o.Status,
		StartedAt:      o.StartedAt,
		CompletedAt:    o.CompletedAt,
		InitialFormula: o.Initial.Text(),
		BestFormula:    o.BestFormula.Text(),
		JobsRun:        o.JobsRun,
		Promoted:       o.Promoted,
		AbortReason:    o.AbortReason,
	}
	if o.BestScore != nil {
		run.BestScore = Float(*o.BestScore)
	}
	if o.LastBest != nil {
		run.LastBest = Float(*o.LastBest)
	}
	if o.LockedBest != nil {
		run.LockedBest = Float(*o.LockedBest)
	}
	return run
}

// TopResults returns the final ranking of o as persisted rows.
func (o *SearchOutcome) TopResults() []*TopResult {
	out := make([]*TopResult, 0, len(o.Top))
	for _, rr := range o.Top {
		t := &TopResult{
			RunID:       o.RunID,
			Rank:        rr.Rank,
			Score:       rr.Score,
			MetricSum:   rr.MetricSum,
			OpDays:      rr.OpDays,
			FormulaText: rr.FormulaText(),
		}
		if r := rr.Result; r != nil {
			t.JobID = r.JobID
			t.CombinationKey = r.Combination.Key()
			t.TradeCount = r.TradeCount
			t.HoldRate = r.HoldRate
			t.ProfitRate = r.ProfitRate
			t.LossRate = r.LossRate
		}
		out = append(out, t)
	}
	return out
}

// NewEvaluationRecord flattens a result of the given round.
func NewEvaluationRecord(runID, variable string, roundIndex int, r *EvaluationResult, at time.Time) *EvaluationRecord {
	return &EvaluationRecord{
		RunID:          runID,
		Variable:       variable,
		RoundIndex:     roundIndex,
		JobID:          r.JobID,
		JobIndex:       r.JobIndex,
		FormulaText:    r.Formula.Text(),
		CombinationKey: r.Combination.Key(),
		MetricSum:      r.MetricSum,
		AggregateScore: r.AggregateScore,
		OpDays:         r.OpDays,
		TradeCount:     r.TradeCount,
		HoldRate:       r.HoldRate,
		ProfitRate:     r.ProfitRate,
		LossRate:       r.LossRate,
		RecordedAt:     at,
	}
}
