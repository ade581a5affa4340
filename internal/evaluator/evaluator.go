// Package evaluator defines the contract of the external trading-rule evaluator
// and decorators that guard, throttle and cache it.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"threshold-lab/internal/domain"
)

var (
	// ErrEvaluationFailed marks a single job failure. The batch continues.
	ErrEvaluationFailed = errors.New("evaluation failed")

	// ErrInfrastructure marks an evaluator or data source that is fundamentally
	// unavailable. The whole search aborts.
	ErrInfrastructure = errors.New("evaluator infrastructure unavailable")
)

// FailedError is a typed job failure carrying the evaluator's message.
type FailedError struct {
	JobID   string
	Message string
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("evaluation of job %s failed: %s", e.JobID, e.Message)
}

// Unwrap makes errors.Is(err, ErrEvaluationFailed) hold.
func (e *FailedError) Unwrap() error {
	return ErrEvaluationFailed
}

// Failed returns a *FailedError for job.
func Failed(jobID, format string, args ...any) error {
	return &FailedError{JobID: jobID, Message: fmt.Sprintf(format, args...)}
}

// Completion is the out-of-band acknowledgment that a job has finished.
// Exactly one of Result and Err is set.
type Completion struct {
	JobID  string
	Result *domain.EvaluationResult
	Err    error
}

// Ticket tracks one submitted job until its completion arrives.
type Ticket struct {
	JobID string

	done chan Completion
	once sync.Once

	abandoned   chan struct{}
	abandonOnce sync.Once
}

// NewTicket creates a pending ticket for jobID.
func NewTicket(jobID string) *Ticket {
	return &Ticket{JobID: jobID, done: make(chan Completion, 1), abandoned: make(chan struct{})}
}

// Abandon signals that nobody waits for the completion any more. Wrappers
// forwarding a ticket stop waiting on the inner one. Safe to call repeatedly.
func (t *Ticket) Abandon() {
	t.abandonOnce.Do(func() { close(t.abandoned) })
}

// Abandoned is closed once Abandon is called.
func (t *Ticket) Abandoned() <-chan struct{} {
	return t.abandoned
}

// Done returns the channel the completion is delivered on.
func (t *Ticket) Done() <-chan Completion {
	return t.done
}

// Resolve delivers the completion. Only the first call has an effect.
func (t *Ticket) Resolve(c Completion) {
	t.once.Do(func() {
		c.JobID = t.JobID
		t.done <- c
	})
}

// Evaluator submits jobs to the external evaluator. Submit returns once the job
// is accepted; the result arrives later on the ticket. Submit itself fails only
// when the job could not be handed over.
//
// Evaluators must be idempotent for identical jobs within one search session.
type Evaluator interface {
	Submit(ctx context.Context, job domain.EvaluationJob) (*Ticket, error)
}

// Func adapts a blocking evaluation function to Evaluator. The function runs
// inside Submit and the ticket is resolved before Submit returns.
type Func func(ctx context.Context, job domain.EvaluationJob) (*domain.EvaluationResult, error)

// Submit implements Evaluator.
func (f Func) Submit(ctx context.Context, job domain.EvaluationJob) (*Ticket, error) {
	ticket := NewTicket(job.ID)
	result, err := f(ctx, job)
	if err != nil && errors.Is(err, ErrInfrastructure) {
		return nil, err
	}
	ticket.Resolve(Completion{Result: result, Err: err})
	return ticket, nil
}

// IsInfrastructure reports whether err must abort the whole search.
func IsInfrastructure(err error) bool {
	return errors.Is(err, ErrInfrastructure)
}
