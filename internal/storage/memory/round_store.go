package memory

import (
	"context"
	"sort"
	"sync"

	"threshold-lab/internal/domain"
	"threshold-lab/internal/storage"
)

type roundKey struct {
	runID      string
	variable   string
	roundIndex int
}

// RoundStore is an in-memory implementation of storage.RoundStore.
type RoundStore struct {
	mu   sync.RWMutex
	data map[roundKey]*domain.RoundRecord
}

// NewRoundStore creates a new in-memory round store.
func NewRoundStore() *RoundStore {
	return &RoundStore{
		data: make(map[roundKey]*domain.RoundRecord),
	}
}

func keyOfRound(r *domain.RoundRecord) roundKey {
	return roundKey{runID: r.RunID, variable: r.Variable, roundIndex: r.RoundIndex}
}

// InsertBulk adds rounds atomically. Fails entire batch on any duplicate.
func (s *RoundStore) InsertBulk(_ context.Context, rounds []*domain.RoundRecord) error {
	if len(rounds) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[roundKey]struct{}, len(rounds))
	for _, r := range rounds {
		if r == nil || r.RunID == "" || r.Variable == "" {
			return storage.ErrInvalidInput
		}
		key := keyOfRound(r)
		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	for _, r := range rounds {
		rec := *r
		s.data[keyOfRound(r)] = &rec
	}
	return nil
}

// GetByRunID retrieves a run's rounds ordered by started_at, then round_index.
func (s *RoundStore) GetByRunID(_ context.Context, runID string) ([]*domain.RoundRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.RoundRecord
	for _, r := range s.data {
		if r.RunID == runID {
			rec := *r
			result = append(result, &rec)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].StartedAt.Equal(result[j].StartedAt) {
			return result[i].StartedAt.Before(result[j].StartedAt)
		}
		if result[i].RoundIndex != result[j].RoundIndex {
			return result[i].RoundIndex < result[j].RoundIndex
		}
		return result[i].Variable < result[j].Variable
	})
	return result, nil
}

var _ storage.RoundStore = (*RoundStore)(nil)
