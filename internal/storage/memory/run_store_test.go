package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"threshold-lab/internal/domain"
	"threshold-lab/internal/storage"
)

func TestRunStore_InsertAndGet(t *testing.T) {
	store := NewRunStore()
	ctx := context.Background()

	run := &domain.SearchRun{
		RunID:       "run1",
		Status:      domain.RunCompleted,
		BestFormula: "x >= -80.00 AND x <= 80.00",
		BestScore:   domain.Float(60),
		JobsRun:     18,
	}

	if err := store.Insert(ctx, run); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := store.GetByID(ctx, "run1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.JobsRun != 18 || got.Status != domain.RunCompleted {
		t.Errorf("unexpected run: %+v", got)
	}
	if got.BestScore == nil || *got.BestScore != 60 {
		t.Errorf("BestScore mismatch: got %v", got.BestScore)
	}
}

func TestRunStore_DuplicateKey(t *testing.T) {
	store := NewRunStore()
	ctx := context.Background()

	run := &domain.SearchRun{RunID: "run1"}
	if err := store.Insert(ctx, run); err != nil {
		t.Fatalf("First insert failed: %v", err)
	}
	if err := store.Insert(ctx, run); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestRunStore_NotFoundAndInvalid(t *testing.T) {
	store := NewRunStore()
	ctx := context.Background()

	if _, err := store.GetByID(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if err := store.Insert(ctx, &domain.SearchRun{}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}

func TestRunStore_GetRecent(t *testing.T) {
	store := NewRunStore()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		run := &domain.SearchRun{RunID: id, StartedAt: base.Add(time.Duration(i) * time.Hour)}
		if err := store.Insert(ctx, run); err != nil {
			t.Fatalf("Insert %s failed: %v", id, err)
		}
	}

	got, err := store.GetRecent(ctx, 2)
	if err != nil {
		t.Fatalf("GetRecent failed: %v", err)
	}
	if len(got) != 2 || got[0].RunID != "c" || got[1].RunID != "b" {
		t.Errorf("unexpected order: %v, %v", got[0].RunID, got[1].RunID)
	}
}

func TestRunStore_ReturnsIndependentCopies(t *testing.T) {
	store := NewRunStore()
	ctx := context.Background()

	run := &domain.SearchRun{
		RunID:      "run1",
		BestScore:  domain.Float(60),
		LastBest:   domain.Float(58),
		LockedBest: domain.Float(55),
	}
	if err := store.Insert(ctx, run); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	*run.LastBest = 1

	recent, err := store.GetRecent(ctx, 1)
	if err != nil {
		t.Fatalf("GetRecent failed: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("expected 1 run, got %d", len(recent))
	}
	*recent[0].LockedBest = 2
	recent[0].JobsRun = 99

	got, err := store.GetByID(ctx, "run1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.LastBest == nil || *got.LastBest != 58 {
		t.Errorf("LastBest mismatch: got %v", got.LastBest)
	}
	if got.LockedBest == nil || *got.LockedBest != 55 {
		t.Errorf("LockedBest mismatch: got %v", got.LockedBest)
	}
	if got.JobsRun != 0 {
		t.Errorf("JobsRun leaked from returned copy: %d", got.JobsRun)
	}
}
