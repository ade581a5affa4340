package domain

import "time"

// EvaluationJob is one (formula, parameter combination, date range) submission.
// Within a round Index = FormulaIndex*combinationCount + CombinationIndex.
type EvaluationJob struct {
	ID               string               `json:"job_id"`
	Index            int                  `json:"index"`
	FormulaIndex     int                  `json:"formula_index"`
	CombinationIndex int                  `json:"combination_index"`
	Formula          Formula              `json:"formula"`
	Combination      ParameterCombination `json:"combination"`
	DateRange        DateRange            `json:"date_range"`
}

// DayStat is the evaluator's statistics for one trading date.
type DayStat struct {
	Date    time.Time          `json:"date"`
	Metrics map[string]float64 `json:"metrics"`
}

// EvaluationResult is what the evaluator returns for a completed job.
// Statistics holds the aggregate metric values keyed by metric name; Days holds
// the raw per-date breakdown. Rates are percentages in [0, 100].
type EvaluationResult struct {
	JobID            string               `json:"job_id"`
	JobIndex         int                  `json:"job_index"`
	FormulaIndex     int                  `json:"formula_index"`
	CombinationIndex int                  `json:"combination_index"`
	Formula          Formula              `json:"formula"`
	Combination      ParameterCombination `json:"combination"`

	Statistics map[string]float64 `json:"statistics"`
	Days       []DayStat          `json:"days,omitempty"`

	OpDays     int     `json:"op_days"`
	TradeCount int     `json:"trade_count"`
	HoldRate   float64 `json:"hold_rate"`
	ProfitRate float64 `json:"profit_rate"`
	LossRate   float64 `json:"loss_rate"`

	// VariableStats is the per-variable statistics snapshot observed under this formula.
	VariableStats map[string]VariableStats `json:"variable_stats,omitempty"`

	// Derived by the score aggregator.
	MetricSum      float64 `json:"metric_sum"`
	AggregateScore float64 `json:"aggregate_score"`
}

// Attach copies job identity onto the result. Evaluators may return results
// without identity fields; the scheduler always attaches them.
func (r *EvaluationResult) Attach(job EvaluationJob) {
	r.JobID = job.ID
	r.JobIndex = job.Index
	r.FormulaIndex = job.FormulaIndex
	r.CombinationIndex = job.CombinationIndex
	r.Formula = job.Formula.Clone()
	r.Combination = job.Combination
}

// RankedResult is a result that survived filtering, with its rank (1-based).
type RankedResult struct {
	Rank      int               `json:"rank"`
	Score     float64           `json:"score"`
	MetricSum float64           `json:"metric_sum"`
	OpDays    int               `json:"op_days"`
	Result    *EvaluationResult `json:"result"`
}

// FormulaText returns the canonical text of the ranked result's formula.
func (r RankedResult) FormulaText() string {
	if r.Result == nil {
		return ""
	}
	return r.Result.Formula.Text()
}
