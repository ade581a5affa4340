package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threshold-lab/internal/config"
	"threshold-lab/internal/domain"
	"threshold-lab/internal/sink"
	"threshold-lab/internal/storage/memory"
	"threshold-lab/internal/tracker"
)

const syntheticYAML = `
run_id: e2e
search:
  variables:
    - name: rsi
      min: 0
      max: 100
  formula:
    sort_mode: desc
  combinations:
    - holding_days: 2
  date_range:
    start: 2024-01-01T00:00:00Z
    end: 2024-03-31T00:00:00Z
  selected_metrics: [profit]
  requested_count: 5
scheduler:
  poll_interval: 1ms
evaluator:
  kind: synthetic
  synthetic_peaks:
    rsi:
      min: 0
      max: 100
      target: {lower: 30, upper: 70}
      weight: 1
`

func TestRunSearch_SyntheticInMemory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "search.yaml")
	require.NoError(t, os.WriteFile(path, []byte(syntheticYAML), 0o600))

	cfg, err := config.Load(path, "")
	require.NoError(t, err)
	cfg.Output.Dir = filepath.Join(dir, "out")
	require.NoError(t, cfg.Validate())

	require.NoError(t, runSearch(context.Background(), cfg, true))

	runDir := filepath.Join(cfg.Output.Dir, "e2e")
	for _, name := range []string{sink.ReportFile, sink.TopCSVFile, sink.VariablesFile, sink.OutcomeFile} {
		assert.FileExists(t, filepath.Join(runDir, name))
	}

	data, err := os.ReadFile(filepath.Join(runDir, sink.OutcomeFile))
	require.NoError(t, err)
	var out domain.SearchOutcome
	require.NoError(t, json.Unmarshal(data, &out))

	assert.Equal(t, "e2e", out.RunID)
	assert.Equal(t, domain.RunCompleted, out.Status)
	assert.NotEmpty(t, out.Top)
	_, ok := out.BestFormula.Bound("rsi")
	assert.True(t, ok, "best formula should bound the refined variable")
}

func TestRestoreTracker_UsesPersistedState(t *testing.T) {
	ctx := context.Background()
	runs := memory.NewRunStore()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, runs.Insert(ctx, &domain.SearchRun{
		RunID: "older", Status: domain.RunCompleted, StartedAt: base,
		BestScore: domain.Float(40), LastBest: domain.Float(40), LockedBest: domain.Float(38),
	}))
	// The newest run scored below the locked best, so its tracker state differs
	// from its own best score.
	require.NoError(t, runs.Insert(ctx, &domain.SearchRun{
		RunID: "latest", Status: domain.RunCompleted, StartedAt: base.Add(time.Hour),
		BestScore: domain.Float(30), LastBest: domain.Float(40), LockedBest: domain.Float(44),
	}))
	require.NoError(t, runs.Insert(ctx, &domain.SearchRun{
		RunID: "no-tracker", Status: domain.RunAborted, StartedAt: base.Add(2 * time.Hour),
	}))

	best := tracker.New(tracker.ModeSingleShot, 100)
	restoreTracker(ctx, best, runs, zerolog.Nop())

	require.NotNil(t, best.LastBest())
	require.NotNil(t, best.LockedBest())
	assert.Equal(t, 40.0, *best.LastBest())
	assert.Equal(t, 44.0, *best.LockedBest())
}

func TestRestoreTracker_EmptyHistory(t *testing.T) {
	best := tracker.New(tracker.ModeMultiRound, 105)
	restoreTracker(context.Background(), best, memory.NewRunStore(), zerolog.Nop())
	assert.Nil(t, best.LastBest())
	assert.Nil(t, best.LockedBest())
}
