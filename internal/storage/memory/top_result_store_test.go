package memory

import (
	"context"
	"errors"
	"testing"

	"threshold-lab/internal/domain"
	"threshold-lab/internal/storage"
)

func TestTopResultStore_InsertBulkAndGet(t *testing.T) {
	store := NewTopResultStore()
	ctx := context.Background()

	results := []*domain.TopResult{
		{RunID: "run1", Rank: 2, Score: 48.08},
		{RunID: "run1", Rank: 1, Score: 50},
		{RunID: "run1", Rank: 3, Score: 45.87},
	}
	if err := store.InsertBulk(ctx, results); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	got, err := store.GetByRunID(ctx, "run1")
	if err != nil {
		t.Fatalf("GetByRunID failed: %v", err)
	}
	if len(got) != 3 || got[0].Score != 50 || got[2].Rank != 3 {
		t.Errorf("unexpected ranking: %+v", got)
	}
}

func TestTopResultStore_InvalidRank(t *testing.T) {
	store := NewTopResultStore()
	err := store.InsertBulk(context.Background(), []*domain.TopResult{{RunID: "run1", Rank: 0}})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}
