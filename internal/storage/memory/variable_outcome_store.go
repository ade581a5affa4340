package memory

import (
	"context"
	"sort"
	"sync"

	"threshold-lab/internal/domain"
	"threshold-lab/internal/storage"
)

// VariableOutcomeStore is an in-memory implementation of storage.VariableOutcomeStore.
type VariableOutcomeStore struct {
	mu   sync.RWMutex
	data map[string]*domain.VariableOutcome // keyed by run_id|variable
}

// NewVariableOutcomeStore creates a new in-memory variable outcome store.
func NewVariableOutcomeStore() *VariableOutcomeStore {
	return &VariableOutcomeStore{
		data: make(map[string]*domain.VariableOutcome),
	}
}

// InsertBulk adds outcomes atomically. Fails entire batch on any duplicate.
func (s *VariableOutcomeStore) InsertBulk(_ context.Context, outcomes []*domain.VariableOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(outcomes))
	for _, o := range outcomes {
		if o == nil || o.RunID == "" || o.Variable == "" {
			return storage.ErrInvalidInput
		}
		key := o.RunID + "|" + o.Variable
		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	for _, o := range outcomes {
		rec := *o
		s.data[o.RunID+"|"+o.Variable] = &rec
	}
	return nil
}

// GetByRunID retrieves a run's outcomes ordered by queue position.
func (s *VariableOutcomeStore) GetByRunID(_ context.Context, runID string) ([]*domain.VariableOutcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.VariableOutcome
	for _, o := range s.data {
		if o.RunID == runID {
			rec := *o
			result = append(result, &rec)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Position < result[j].Position
	})
	return result, nil
}

var _ storage.VariableOutcomeStore = (*VariableOutcomeStore)(nil)
