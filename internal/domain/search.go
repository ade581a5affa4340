package domain

import "time"

// Step divisors of the three refinement rounds, coarse to fine.
const (
	StepDivisorRound1 = 10
	StepDivisorRound2 = 20
	StepDivisorRound3 = 40

	// RoundsPerVariable is the number of refinement rounds per variable.
	RoundsPerVariable = 3

	// TopK is the size of every ranked result list.
	TopK = 3
)

// RoundRecord describes one refinement round of one variable.
type RoundRecord struct {
	RunID       string    `json:"run_id"`
	Variable    string    `json:"variable"`
	RoundIndex  int       `json:"round_index"`
	StepDivisor int       `json:"step_divisor"`
	BaselineMin *float64  `json:"baseline_min,omitempty"`
	BaselineMax *float64  `json:"baseline_max,omitempty"`
	JobCount    int       `json:"job_count"`
	BestBound   *Bound    `json:"best_bound,omitempty"`
	BestScore   *float64  `json:"best_score,omitempty"`
	PrevScore   *float64  `json:"prev_score,omitempty"`
	Improved    bool      `json:"improved"`
	Err         string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// VariableStatus is the terminal state of a variable's search.
type VariableStatus string

// Variable status constants.
const (
	VariableImproved      VariableStatus = "IMPROVED"
	VariableNoImprovement VariableStatus = "NO_IMPROVEMENT"
	VariableSkipped       VariableStatus = "SKIPPED"
)

// VariableOutcome is the per-variable log entry: best condition found, or none.
type VariableOutcome struct {
	RunID       string         `json:"run_id"`
	Variable    string         `json:"variable"`
	Position    int            `json:"position"`
	Status      VariableStatus `json:"status"`
	BestBound   *Bound         `json:"best_bound,omitempty"`
	BestScore   *float64       `json:"best_score,omitempty"`
	BestFormula *Formula       `json:"best_formula,omitempty"`
	RoundsRun   int            `json:"rounds_run"`
	Message     string         `json:"message"`
}

// Snapshot is the evaluation-statistics snapshot a variable's search starts from:
// the score in effect and the per-variable statistics.
type Snapshot struct {
	Score *float64                 `json:"score,omitempty"`
	Stats map[string]VariableStats `json:"stats"`
}

// Clone returns a deep copy of s.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{Stats: make(map[string]VariableStats, len(s.Stats))}
	if s.Score != nil {
		out.Score = Float(*s.Score)
	}
	for k, v := range s.Stats {
		out.Stats[k] = v
	}
	return out
}

// SearchState is the coordinate search's mutable state. It is owned by the
// search controller; collaborators only ever see copies.
type SearchState struct {
	ParameterQueue          []Variable
	CurrentParameterIndex   int
	CurrentRoundIndex       int
	GlobalBestFormula       Formula
	GlobalBestScore         *float64
	PerParameterBestFormula map[string]Formula
}

// RunStatus is the terminal state of a search run.
type RunStatus string

// Run status constants.
const (
	RunRunning   RunStatus = "RUNNING"
	RunCompleted RunStatus = "COMPLETED"
	RunCancelled RunStatus = "CANCELLED"
	RunAborted   RunStatus = "ABORTED"
)

// SearchOutcome is what a search hands to result sinks. LastBest and
// LockedBest hold the promotion tracker state once the run finished.
type SearchOutcome struct {
	RunID       string            `json:"run_id"`
	Status      RunStatus         `json:"status"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt time.Time         `json:"completed_at"`
	Initial     Formula           `json:"initial_formula"`
	BestFormula Formula           `json:"best_formula"`
	BestScore   *float64          `json:"best_score,omitempty"`
	LastBest    *float64          `json:"last_best,omitempty"`
	LockedBest  *float64          `json:"locked_best,omitempty"`
	Top         []RankedResult    `json:"top"`
	Variables   []VariableOutcome `json:"variables"`
	Rounds      []RoundRecord     `json:"rounds"`
	JobsRun     int               `json:"jobs_run"`
	Promoted    bool              `json:"promoted"`
	AbortReason string            `json:"abort_reason,omitempty"`
}
