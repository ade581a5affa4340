package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"threshold-lab/internal/domain"
	"threshold-lab/internal/storage"
)

// VariableOutcomeStore implements storage.VariableOutcomeStore using PostgreSQL.
// The best formula is kept as JSONB so it can be restored with its sort mode.
type VariableOutcomeStore struct {
	pool *Pool
}

// NewVariableOutcomeStore creates a new VariableOutcomeStore.
func NewVariableOutcomeStore(pool *Pool) *VariableOutcomeStore {
	return &VariableOutcomeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.VariableOutcomeStore = (*VariableOutcomeStore)(nil)

const outcomeColumns = `
	run_id, variable, position, status,
	best_lower, best_upper, best_score, best_formula,
	rounds_run, message`

// InsertBulk adds outcomes atomically. Fails entire batch on any duplicate.
func (s *VariableOutcomeStore) InsertBulk(ctx context.Context, outcomes []*domain.VariableOutcome) (err error) {
	if len(outcomes) == 0 {
		return nil
	}
	defer func(start time.Time) { s.pool.observe("insert_variable_outcomes", start, err) }(time.Now())

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `INSERT INTO variable_outcomes (` + outcomeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	for _, o := range outcomes {
		if o == nil || o.RunID == "" || o.Variable == "" {
			return storage.ErrInvalidInput
		}
		var lower, upper *float64
		if o.BestBound != nil {
			lower, upper = &o.BestBound.Lower, &o.BestBound.Upper
		}
		var formula []byte
		if o.BestFormula != nil {
			formula, err = json.Marshal(o.BestFormula)
			if err != nil {
				return fmt.Errorf("marshal best formula: %w", err)
			}
		}
		_, err := tx.Exec(ctx, query,
			o.RunID, o.Variable, o.Position, string(o.Status),
			lower, upper, o.BestScore, formula,
			o.RoundsRun, o.Message,
		)
		if err != nil {
			if uniqueViolation(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert variable outcome in bulk: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetByRunID retrieves a run's outcomes ordered by queue position.
func (s *VariableOutcomeStore) GetByRunID(ctx context.Context, runID string) (_ []*domain.VariableOutcome, err error) {
	defer func(start time.Time) { s.pool.observe("get_variable_outcomes", start, err) }(time.Now())

	rows, err := s.pool.Query(ctx, `SELECT `+outcomeColumns+`
		FROM variable_outcomes
		WHERE run_id = $1
		ORDER BY position ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("query variable outcomes: %w", err)
	}
	defer rows.Close()

	var result []*domain.VariableOutcome
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, fmt.Errorf("scan variable outcome: %w", err)
		}
		result = append(result, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate variable outcomes: %w", err)
	}
	return result, nil
}

func scanOutcome(row pgx.Row) (*domain.VariableOutcome, error) {
	var (
		o            domain.VariableOutcome
		status       string
		lower, upper *float64
		formula      []byte
	)
	err := row.Scan(
		&o.RunID, &o.Variable, &o.Position, &status,
		&lower, &upper, &o.BestScore, &formula,
		&o.RoundsRun, &o.Message,
	)
	if err != nil {
		return nil, err
	}
	o.Status = domain.VariableStatus(status)
	if lower != nil && upper != nil {
		o.BestBound = &domain.Bound{Lower: *lower, Upper: *upper}
	}
	if len(formula) > 0 {
		var f domain.Formula
		if err := json.Unmarshal(formula, &f); err != nil {
			return nil, fmt.Errorf("unmarshal best formula: %w", err)
		}
		o.BestFormula = &f
	}
	return &o, nil
}
