package storage

import (
	"context"

	"threshold-lab/internal/domain"
)

// RunStore provides access to search_runs storage.
type RunStore interface {
	// Insert adds a run summary. Returns ErrDuplicateKey if run_id exists.
	Insert(ctx context.Context, r *domain.SearchRun) error

	// GetByID retrieves a run by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, runID string) (*domain.SearchRun, error)

	// GetRecent retrieves up to limit runs, newest started_at first.
	GetRecent(ctx context.Context, limit int) ([]*domain.SearchRun, error)
}

// RoundStore provides access to round_records storage.
type RoundStore interface {
	// InsertBulk adds a run's rounds atomically. Fails entire batch on duplicate
	// (run_id, variable, round_index).
	InsertBulk(ctx context.Context, rounds []*domain.RoundRecord) error

	// GetByRunID retrieves a run's rounds ordered by started_at, then round_index.
	GetByRunID(ctx context.Context, runID string) ([]*domain.RoundRecord, error)
}

// VariableOutcomeStore provides access to variable_outcomes storage.
type VariableOutcomeStore interface {
	// InsertBulk adds a run's outcomes atomically. Fails entire batch on duplicate
	// (run_id, variable).
	InsertBulk(ctx context.Context, outcomes []*domain.VariableOutcome) error

	// GetByRunID retrieves a run's outcomes ordered by queue position.
	GetByRunID(ctx context.Context, runID string) ([]*domain.VariableOutcome, error)
}

// TopResultStore provides access to top_results storage.
type TopResultStore interface {
	// InsertBulk adds a run's ranking atomically. Fails entire batch on duplicate (run_id, rank).
	InsertBulk(ctx context.Context, results []*domain.TopResult) error

	// GetByRunID retrieves a run's ranking ordered by rank ASC.
	GetByRunID(ctx context.Context, runID string) ([]*domain.TopResult, error)
}

// EvaluationResultStore provides access to evaluation_results analytics storage.
type EvaluationResultStore interface {
	// InsertBulk adds records. Fails entire batch on duplicate (run_id, variable, round_index, job_id).
	InsertBulk(ctx context.Context, records []*domain.EvaluationRecord) error

	// GetByRunID retrieves a run's records ordered by recorded_at, then job_index.
	GetByRunID(ctx context.Context, runID string) ([]*domain.EvaluationRecord, error)

	// GetBestByRunID retrieves the limit highest-scoring records of a run.
	GetBestByRunID(ctx context.Context, runID string, limit int) ([]*domain.EvaluationRecord, error)
}

// Stores groups the stores a search publishes to. Nil members are skipped.
type Stores struct {
	Runs        RunStore
	Rounds      RoundStore
	Variables   VariableOutcomeStore
	TopResults  TopResultStore
	Evaluations EvaluationResultStore
}
