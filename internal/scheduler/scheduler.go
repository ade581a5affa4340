// Package scheduler runs evaluation jobs one at a time against an evaluator,
// waiting for each job's completion acknowledgment before starting the next.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"threshold-lab/internal/domain"
	"threshold-lab/internal/evaluator"
	"threshold-lab/internal/observability"
)

// ErrCancelled is returned when the batch stopped because of cancellation.
// Neither completion hook runs in that case.
var ErrCancelled = errors.New("scheduler: cancelled")

// Default polling configuration.
const (
	DefaultPollInterval    = 500 * time.Millisecond
	DefaultMaxPollAttempts = 20
)

// Options configures a Scheduler.
type Options struct {
	// PollInterval is the delay between acknowledgment checks.
	PollInterval time.Duration
	// MaxPollAttempts is the number of checks in one polling window. When a
	// window elapses without an acknowledgment the scheduler logs and starts
	// another window; it never fails the job on its own.
	MaxPollAttempts int
	// JobTimeout, when positive, fails a job whose acknowledgment has not
	// arrived after this long. Zero waits indefinitely.
	JobTimeout time.Duration
	// IsCancelled is polled before each job, in addition to ctx.
	IsCancelled func() bool

	Logger  zerolog.Logger
	Metrics *observability.Metrics
}

// Hooks are invoked as the batch progresses.
type Hooks struct {
	// OnEachComplete runs after every job that was started, with either its
	// result or its failure.
	OnEachComplete func(job domain.EvaluationJob, result *domain.EvaluationResult, err error)
	// OnAllComplete runs once when every job has been executed.
	OnAllComplete func(results []*domain.EvaluationResult)
}

// JobFailure records a job that failed without aborting the batch.
type JobFailure struct {
	Job domain.EvaluationJob
	Err error
}

// Batch is what a run collected. Results are in job order.
type Batch struct {
	Results  []*domain.EvaluationResult
	Failures []JobFailure
	Executed int
}

// Scheduler executes jobs strictly in order.
type Scheduler struct {
	eval evaluator.Evaluator
	opts Options
}

// New creates a scheduler for eval.
func New(eval evaluator.Evaluator, opts Options) *Scheduler {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.MaxPollAttempts <= 0 {
		opts.MaxPollAttempts = DefaultMaxPollAttempts
	}
	opts.Logger = opts.Logger.With().Str("component", "scheduler").Logger()
	return &Scheduler{eval: eval, opts: opts}
}

// Run executes jobs in order. Cancellation is checked before each job; once
// observed, Run returns the partial batch and ErrCancelled without invoking
// any further hooks. Job failures are logged and skipped. An infrastructure
// error stops the batch and is returned wrapped.
func (s *Scheduler) Run(ctx context.Context, jobs []domain.EvaluationJob, hooks Hooks) (Batch, error) {
	var batch Batch

	for _, job := range jobs {
		if s.cancelled(ctx) {
			s.opts.Logger.Info().
				Int("executed", batch.Executed).
				Int("remaining", len(jobs)-batch.Executed).
				Msg("batch cancelled")
			return batch, ErrCancelled
		}

		result, err := s.execute(ctx, job)
		batch.Executed++

		if err != nil {
			if errors.Is(err, ErrCancelled) {
				return batch, err
			}
			if evaluator.IsInfrastructure(err) {
				s.opts.Logger.Error().Err(err).Str("job_id", job.ID).Int("index", job.Index).Msg("evaluator unavailable, aborting batch")
				return batch, err
			}
			s.opts.Logger.Warn().Err(err).Str("job_id", job.ID).Int("index", job.Index).Msg("job failed")
			batch.Failures = append(batch.Failures, JobFailure{Job: job, Err: err})
		} else {
			batch.Results = append(batch.Results, result)
		}

		if hooks.OnEachComplete != nil {
			hooks.OnEachComplete(job, result, err)
		}
	}

	if hooks.OnAllComplete != nil {
		hooks.OnAllComplete(batch.Results)
	}
	return batch, nil
}

func (s *Scheduler) cancelled(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	return s.opts.IsCancelled != nil && s.opts.IsCancelled()
}

// execute submits one job and waits for its acknowledgment.
func (s *Scheduler) execute(ctx context.Context, job domain.EvaluationJob) (*domain.EvaluationResult, error) {
	start := time.Now()

	ticket, err := s.eval.Submit(ctx, job)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		}
		s.opts.Metrics.RecordJob("failed", time.Since(start))
		return nil, err
	}
	s.opts.Metrics.RecordSubmitted()

	comp, err := s.await(ctx, job, ticket, start)
	if err != nil {
		return nil, err
	}

	switch {
	case comp.Err != nil:
		s.opts.Metrics.RecordJob("failed", time.Since(start))
		return nil, comp.Err
	case comp.Result == nil:
		s.opts.Metrics.RecordJob("failed", time.Since(start))
		return nil, evaluator.Failed(job.ID, "no result")
	}

	s.opts.Metrics.RecordJob("ok", time.Since(start))
	comp.Result.Attach(job)
	return comp.Result, nil
}

// await polls the ticket in windows of MaxPollAttempts checks.
func (s *Scheduler) await(ctx context.Context, job domain.EvaluationJob, ticket *evaluator.Ticket, start time.Time) (evaluator.Completion, error) {
	select {
	case comp := <-ticket.Done():
		return comp, nil
	default:
	}

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	attempts := 0
	windows := 0
	for {
		select {
		case comp := <-ticket.Done():
			return comp, nil
		case <-ctx.Done():
			ticket.Abandon()
			return evaluator.Completion{}, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		case <-ticker.C:
		}

		if s.opts.JobTimeout > 0 && time.Since(start) >= s.opts.JobTimeout {
			ticket.Abandon()
			s.opts.Metrics.RecordJob("timeout", time.Since(start))
			return evaluator.Completion{}, evaluator.Failed(job.ID, "no acknowledgment after %s", s.opts.JobTimeout)
		}

		attempts++
		if attempts < s.opts.MaxPollAttempts {
			continue
		}
		attempts = 0
		windows++
		s.opts.Metrics.RecordPollWindowExpired()
		s.opts.Logger.Warn().
			Str("job_id", job.ID).
			Int("index", job.Index).
			Int("windows", windows).
			Dur("waited", time.Since(start)).
			Msg("no acknowledgment yet, polling again")
	}
}
