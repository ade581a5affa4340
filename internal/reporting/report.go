package reporting

import (
	"time"

	"threshold-lab/internal/domain"
)

// Report is the rendered view of one search run.
type Report struct {
	GeneratedAt time.Time

	Run     domain.SearchRun
	Summary Summary

	// Top is the final ranking, rank ASC.
	Top []TopRow

	// Variables follows queue order.
	Variables []VariableRow

	// Rounds follows execution order.
	Rounds []RoundRow
}

// Summary counts what happened to the queue.
type Summary struct {
	VariablesImproved      int
	VariablesNoImprovement int
	VariablesSkipped       int
	RoundsRun              int
	RoundsImproved         int
	Duration               time.Duration
}

// TopRow is one row of the top results table.
type TopRow struct {
	Rank        int
	Score       float64
	MetricSum   float64
	OpDays      int
	Formula     string
	Combination string
	TradeCount  int
	HoldRate    float64
	ProfitRate  float64
	LossRate    float64
}

// VariableRow is one row of the per-variable log.
type VariableRow struct {
	Position  int
	Variable  string
	Status    domain.VariableStatus
	BestBound string // "-" when none
	BestScore *float64
	RoundsRun int
	Message   string
}

// RoundRow is one row of the round log.
type RoundRow struct {
	Variable    string
	RoundIndex  int
	StepDivisor int
	JobCount    int
	BestBound   string
	BestScore   *float64
	PrevScore   *float64
	Improved    bool
	Err         string
}
