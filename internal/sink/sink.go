// Package sink publishes finished searches to stores and report files.
package sink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"threshold-lab/internal/domain"
	"threshold-lab/internal/reporting"
	"threshold-lab/internal/storage"
)

// Output file names written by FileSink.
const (
	ReportFile    = "report.md"
	TopCSVFile    = "top3.csv"
	VariablesFile = "variables.csv"
	OutcomeFile   = "outcome.json"
)

// Sink receives the outcome of every search, complete or partial.
type Sink interface {
	Publish(ctx context.Context, out *domain.SearchOutcome) error
}

// Multi publishes to every sink in order. A failing sink does not stop the
// others; all errors are joined.
type Multi []Sink

// Publish implements Sink.
func (m Multi) Publish(ctx context.Context, out *domain.SearchOutcome) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, out); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StoreSink writes the run summary, rounds, variable outcomes and ranking.
type StoreSink struct {
	stores storage.Stores
	logger zerolog.Logger
}

// NewStoreSink creates a sink over stores. Nil stores are skipped.
func NewStoreSink(stores storage.Stores, logger zerolog.Logger) *StoreSink {
	return &StoreSink{stores: stores, logger: logger.With().Str("component", "store_sink").Logger()}
}

// Publish implements Sink. The run row is written first so a reader never
// sees results without their run.
func (s *StoreSink) Publish(ctx context.Context, out *domain.SearchOutcome) error {
	if s.stores.Runs != nil {
		run := out.Run()
		if err := s.stores.Runs.Insert(ctx, &run); err != nil {
			return fmt.Errorf("store run %s: %w", out.RunID, err)
		}
	}

	if s.stores.Rounds != nil && len(out.Rounds) > 0 {
		rounds := make([]*domain.RoundRecord, len(out.Rounds))
		for i := range out.Rounds {
			rounds[i] = &out.Rounds[i]
		}
		if err := s.stores.Rounds.InsertBulk(ctx, rounds); err != nil {
			return fmt.Errorf("store rounds: %w", err)
		}
	}

	if s.stores.Variables != nil && len(out.Variables) > 0 {
		outcomes := make([]*domain.VariableOutcome, len(out.Variables))
		for i := range out.Variables {
			outcomes[i] = &out.Variables[i]
		}
		if err := s.stores.Variables.InsertBulk(ctx, outcomes); err != nil {
			return fmt.Errorf("store variable outcomes: %w", err)
		}
	}

	if s.stores.TopResults != nil && len(out.Top) > 0 {
		if err := s.stores.TopResults.InsertBulk(ctx, out.TopResults()); err != nil {
			return fmt.Errorf("store top results: %w", err)
		}
	}

	s.logger.Info().
		Str("run_id", out.RunID).
		Int("rounds", len(out.Rounds)).
		Int("variables", len(out.Variables)).
		Int("top", len(out.Top)).
		Msg("outcome stored")
	return nil
}

// FileSink writes report.md, top3.csv, variables.csv and outcome.json into Dir.
type FileSink struct {
	dir    string
	gen    *reporting.Generator
	logger zerolog.Logger
}

// NewFileSink creates a sink writing into dir.
func NewFileSink(dir string, gen *reporting.Generator, logger zerolog.Logger) *FileSink {
	if gen == nil {
		gen = reporting.NewGenerator(storage.Stores{})
	}
	return &FileSink{dir: dir, gen: gen, logger: logger.With().Str("component", "file_sink").Logger()}
}

// Publish implements Sink.
func (f *FileSink) Publish(_ context.Context, out *domain.SearchOutcome) error {
	if err := os.MkdirAll(f.dir, 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	report := f.gen.FromOutcome(out)

	topCSV, err := reporting.RenderTopCSV(report)
	if err != nil {
		return fmt.Errorf("render top csv: %w", err)
	}
	varsCSV, err := reporting.RenderVariablesCSV(report)
	if err != nil {
		return fmt.Errorf("render variables csv: %w", err)
	}
	outcomeJSON, err := reporting.RenderJSON(out)
	if err != nil {
		return fmt.Errorf("render outcome json: %w", err)
	}

	files := []struct {
		name string
		data []byte
	}{
		{ReportFile, []byte(reporting.RenderMarkdown(report))},
		{TopCSVFile, []byte(topCSV)},
		{VariablesFile, []byte(varsCSV)},
		{OutcomeFile, outcomeJSON},
	}
	for _, file := range files {
		path := filepath.Join(f.dir, file.name)
		if err := os.WriteFile(path, file.data, 0644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}

	f.logger.Info().Str("run_id", out.RunID).Str("dir", f.dir).Msg("reports written")
	return nil
}

// EvaluationRecorder persists every scored result of a running search. Its
// Record method matches search.Hooks.OnRoundResults. Write failures are
// logged and counted; they never stop the search.
type EvaluationRecorder struct {
	ctx    context.Context
	store  storage.EvaluationResultStore
	runID  string
	now    func() time.Time
	logger zerolog.Logger

	mu       sync.Mutex
	written  int
	failures int
}

// NewEvaluationRecorder creates a recorder for runID.
func NewEvaluationRecorder(ctx context.Context, store storage.EvaluationResultStore, runID string, logger zerolog.Logger) *EvaluationRecorder {
	return &EvaluationRecorder{
		ctx:    ctx,
		store:  store,
		runID:  runID,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With().Str("component", "evaluation_recorder").Logger(),
	}
}

// WithClock sets a custom clock function for deterministic output.
func (r *EvaluationRecorder) WithClock(now func() time.Time) *EvaluationRecorder {
	r.now = now
	return r
}

// Record writes the results of one round.
func (r *EvaluationRecorder) Record(variable string, roundIndex int, results []*domain.EvaluationResult) {
	at := r.now()
	records := make([]*domain.EvaluationRecord, 0, len(results))
	for _, res := range results {
		records = append(records, domain.NewEvaluationRecord(r.runID, variable, roundIndex, res, at))
	}

	// The search context may already be cancelled; partial results are still kept.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), 30*time.Second)
	defer cancel()

	err := r.store.InsertBulk(ctx, records)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.failures++
		r.logger.Warn().Err(err).
			Str("variable", variable).
			Int("round", roundIndex).
			Int("records", len(records)).
			Msg("failed to record evaluation results")
		return
	}
	r.written += len(records)
}

// Stats returns how many records were written and how many batches failed.
func (r *EvaluationRecorder) Stats() (written, failures int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written, r.failures
}
