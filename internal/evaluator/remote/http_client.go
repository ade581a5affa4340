package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"threshold-lab/internal/domain"
	"threshold-lab/internal/evaluator"
	"threshold-lab/internal/idhash"
)

// CodeInfrastructure is the JSON-RPC error code an evaluator uses to report that
// its data source is unavailable. Any other RPC error fails only the job.
const CodeInfrastructure = -32010

// HTTPClientConfig holds HTTP evaluator settings.
type HTTPClientConfig struct {
	// Timeout bounds one HTTP round trip.
	Timeout time.Duration
	// MaxAttempts is the number of tries before the evaluator is declared
	// unavailable.
	MaxAttempts int
	// BaseDelay is the wait before the second attempt; it doubles up to MaxDelay.
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultHTTPConfig returns default HTTP evaluator settings.
func DefaultHTTPConfig() HTTPClientConfig {
	return HTTPClientConfig{
		Timeout:     5 * time.Minute,
		MaxAttempts: 4,
		BaseDelay:   time.Second,
		MaxDelay:    10 * time.Second,
	}
}

// HTTPClient evaluates jobs with a blocking JSON-RPC 2.0 "evaluate" call.
// Use Evaluator to plug it into the scheduler.
type HTTPClient struct {
	endpoint string
	config   HTTPClientConfig
	http     *http.Client
	nextID   atomic.Uint64
}

// NewHTTPClient creates an HTTP evaluator client. A nil config uses
// DefaultHTTPConfig.
func NewHTTPClient(endpoint string, config *HTTPClientConfig) *HTTPClient {
	cfg := DefaultHTTPConfig()
	if config != nil {
		cfg = *config
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &HTTPClient{
		endpoint: endpoint,
		config:   cfg,
		http:     &http.Client{Timeout: cfg.Timeout},
	}
}

// attemptError is a failed round trip; retry reports whether another attempt
// may succeed.
type attemptError struct {
	err   error
	retry bool
	wait  time.Duration
}

func (e *attemptError) Error() string { return e.err.Error() }
func (e *attemptError) Unwrap() error { return e.err }

// Evaluate runs one job and blocks until the evaluator answers.
//
// Transport errors, 429 and 5xx responses are retried with backoff and become
// infrastructure errors once attempts run out. Other 4xx responses and RPC
// errors are answered at once: CodeInfrastructure aborts, anything else fails
// only this job.
func (c *HTTPClient) Evaluate(ctx context.Context, job domain.EvaluationJob) (*domain.EvaluationResult, error) {
	if job.ID == "" {
		job.ID = idhash.ComputeJobID(job.Formula, job.Combination, job.DateRange)
	}

	body, err := json.Marshal(httpRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  MethodEvaluate,
		Params:  []jobPayload{newJobPayload(job)},
	})
	if err != nil {
		return nil, evaluator.Failed(job.ID, "encode job: %v", err)
	}

	delay := c.config.BaseDelay
	var last error
	for attempt := 1; attempt <= c.config.MaxAttempts; attempt++ {
		resp, err := c.roundTrip(ctx, body)
		if err == nil {
			return c.interpret(job.ID, resp)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		var aerr *attemptError
		if !errors.As(err, &aerr) || !aerr.retry {
			return nil, evaluator.Failed(job.ID, "%v", err)
		}
		last = err
		if attempt == c.config.MaxAttempts {
			break
		}

		wait := delay
		if aerr.wait > wait {
			wait = aerr.wait
		}
		if wait > c.config.MaxDelay {
			wait = c.config.MaxDelay
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		delay *= 2
	}

	return nil, fmt.Errorf("%w: evaluator unreachable after %d attempts: %v",
		evaluator.ErrInfrastructure, c.config.MaxAttempts, last)
}

func (c *HTTPClient) roundTrip(ctx context.Context, body []byte) (*httpResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, &attemptError{err: err, retry: true}
	}
	defer res.Body.Close()

	payload, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &attemptError{err: fmt.Errorf("read body: %w", err), retry: true}
	}

	switch {
	case res.StatusCode == http.StatusTooManyRequests:
		return nil, &attemptError{
			err:   errors.New("evaluator rate limited"),
			retry: true,
			wait:  retryAfter(res.Header.Get("Retry-After")),
		}
	case res.StatusCode >= 500:
		return nil, &attemptError{err: fmt.Errorf("evaluator status %d", res.StatusCode), retry: true}
	case res.StatusCode != http.StatusOK:
		return nil, &attemptError{err: fmt.Errorf("evaluator rejected job: status %d: %s", res.StatusCode, payload)}
	}

	var out httpResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, &attemptError{err: fmt.Errorf("decode response: %w", err), retry: true}
	}
	return &out, nil
}

func (c *HTTPClient) interpret(jobID string, resp *httpResponse) (*domain.EvaluationResult, error) {
	if resp.Error != nil {
		if resp.Error.Code == CodeInfrastructure {
			return nil, fmt.Errorf("%w: %s", evaluator.ErrInfrastructure, resp.Error.Message)
		}
		return nil, evaluator.Failed(jobID, "%s", resp.Error.Message)
	}
	if resp.Result == nil {
		return nil, evaluator.Failed(jobID, "empty result")
	}
	return resp.Result, nil
}

// retryAfter parses a Retry-After header given in seconds.
func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// Evaluator returns the client as an evaluator.Evaluator.
func (c *HTTPClient) Evaluator() evaluator.Evaluator {
	return evaluator.Func(c.Evaluate)
}
