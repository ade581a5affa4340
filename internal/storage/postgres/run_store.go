package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"threshold-lab/internal/domain"
	"threshold-lab/internal/storage"
)

// RunStore implements storage.RunStore using PostgreSQL.
type RunStore struct {
	pool *Pool
}

// NewRunStore creates a new RunStore.
func NewRunStore(pool *Pool) *RunStore {
	return &RunStore{pool: pool}
}

// Compile-time interface check.
var _ storage.RunStore = (*RunStore)(nil)

const runColumns = `
	run_id, status, started_at, completed_at,
	initial_formula, best_formula, best_score,
	last_best, locked_best,
	jobs_run, promoted, abort_reason`

// Insert adds a run summary. Returns ErrDuplicateKey if run_id exists.
func (s *RunStore) Insert(ctx context.Context, r *domain.SearchRun) (err error) {
	defer func(start time.Time) { s.pool.observe("insert_run", start, err) }(time.Now())

	if r == nil || r.RunID == "" {
		return storage.ErrInvalidInput
	}

	query := `INSERT INTO search_runs (` + runColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err = s.pool.Exec(ctx, query,
		r.RunID, string(r.Status), r.StartedAt, r.CompletedAt,
		r.InitialFormula, r.BestFormula, r.BestScore,
		r.LastBest, r.LockedBest,
		r.JobsRun, r.Promoted, r.AbortReason,
	)
	if err != nil {
		if uniqueViolation(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert search run: %w", err)
	}
	return nil
}

// GetByID retrieves a run by its ID. Returns ErrNotFound if not exists.
func (s *RunStore) GetByID(ctx context.Context, runID string) (_ *domain.SearchRun, err error) {
	defer func(start time.Time) { s.pool.observe("get_run", start, err) }(time.Now())

	row := s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM search_runs WHERE run_id = $1`, runID)
	r, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get search run by id: %w", err)
	}
	return r, nil
}

// GetRecent retrieves up to limit runs, newest started_at first.
func (s *RunStore) GetRecent(ctx context.Context, limit int) (_ []*domain.SearchRun, err error) {
	defer func(start time.Time) { s.pool.observe("recent_runs", start, err) }(time.Now())

	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `SELECT `+runColumns+`
		FROM search_runs
		ORDER BY started_at DESC, run_id ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent search runs: %w", err)
	}
	defer rows.Close()

	var result []*domain.SearchRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan search run: %w", err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search runs: %w", err)
	}
	return result, nil
}

func scanRun(row pgx.Row) (*domain.SearchRun, error) {
	var (
		r      domain.SearchRun
		status string
	)
	err := row.Scan(
		&r.RunID, &status, &r.StartedAt, &r.CompletedAt,
		&r.InitialFormula, &r.BestFormula, &r.BestScore,
		&r.LastBest, &r.LockedBest,
		&r.JobsRun, &r.Promoted, &r.AbortReason,
	)
	if err != nil {
		return nil, err
	}
	r.Status = domain.RunStatus(status)
	r.StartedAt = r.StartedAt.UTC()
	r.CompletedAt = r.CompletedAt.UTC()
	return &r, nil
}
