package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"threshold-lab/internal/domain"
	"threshold-lab/internal/storage"
)

// RoundStore implements storage.RoundStore using PostgreSQL.
type RoundStore struct {
	pool *Pool
}

// NewRoundStore creates a new RoundStore.
func NewRoundStore(pool *Pool) *RoundStore {
	return &RoundStore{pool: pool}
}

// Compile-time interface check.
var _ storage.RoundStore = (*RoundStore)(nil)

const roundColumns = `
	run_id, variable, round_index, step_divisor,
	baseline_min, baseline_max, job_count,
	best_lower, best_upper, best_score, prev_score,
	improved, error, started_at, completed_at`

// InsertBulk adds rounds atomically. Fails entire batch on any duplicate.
func (s *RoundStore) InsertBulk(ctx context.Context, rounds []*domain.RoundRecord) (err error) {
	if len(rounds) == 0 {
		return nil
	}
	defer func(start time.Time) { s.pool.observe("insert_rounds", start, err) }(time.Now())

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `INSERT INTO round_records (` + roundColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	for _, r := range rounds {
		if r == nil || r.RunID == "" || r.Variable == "" {
			return storage.ErrInvalidInput
		}
		var lower, upper *float64
		if r.BestBound != nil {
			lower, upper = &r.BestBound.Lower, &r.BestBound.Upper
		}
		_, err := tx.Exec(ctx, query,
			r.RunID, r.Variable, r.RoundIndex, r.StepDivisor,
			r.BaselineMin, r.BaselineMax, r.JobCount,
			lower, upper, r.BestScore, r.PrevScore,
			r.Improved, r.Err, r.StartedAt, r.CompletedAt,
		)
		if err != nil {
			if uniqueViolation(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert round record in bulk: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetByRunID retrieves a run's rounds ordered by started_at, then round_index.
func (s *RoundStore) GetByRunID(ctx context.Context, runID string) (_ []*domain.RoundRecord, err error) {
	defer func(start time.Time) { s.pool.observe("get_rounds", start, err) }(time.Now())

	rows, err := s.pool.Query(ctx, `SELECT `+roundColumns+`
		FROM round_records
		WHERE run_id = $1
		ORDER BY started_at ASC, round_index ASC, variable ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("query round records: %w", err)
	}
	defer rows.Close()

	var result []*domain.RoundRecord
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, fmt.Errorf("scan round record: %w", err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate round records: %w", err)
	}
	return result, nil
}

func scanRound(row pgx.Row) (*domain.RoundRecord, error) {
	var (
		r            domain.RoundRecord
		lower, upper *float64
	)
	err := row.Scan(
		&r.RunID, &r.Variable, &r.RoundIndex, &r.StepDivisor,
		&r.BaselineMin, &r.BaselineMax, &r.JobCount,
		&lower, &upper, &r.BestScore, &r.PrevScore,
		&r.Improved, &r.Err, &r.StartedAt, &r.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	if lower != nil && upper != nil {
		r.BestBound = &domain.Bound{Lower: *lower, Upper: *upper}
	}
	r.StartedAt = r.StartedAt.UTC()
	r.CompletedAt = r.CompletedAt.UTC()
	return &r, nil
}
