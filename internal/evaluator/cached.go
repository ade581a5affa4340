package evaluator

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"threshold-lab/internal/domain"
	"threshold-lab/internal/idhash"
)

// DefaultCachePrefix namespaces cached evaluation results.
const DefaultCachePrefix = "threshold-lab:eval:"

// Cached serves repeated jobs from Redis. The evaluator contract guarantees
// identical inputs give identical results within a session, so a hit is
// indistinguishable from a fresh evaluation. Only successful results are cached.
// Cache errors degrade to a miss; they never fail a job.
type Cached struct {
	inner  Evaluator
	client *redis.Client
	ttl    time.Duration
	prefix string
	logger zerolog.Logger
}

// NewCached creates a Redis-backed caching evaluator.
func NewCached(inner Evaluator, client *redis.Client, ttl time.Duration, logger zerolog.Logger) *Cached {
	return &Cached{
		inner:  inner,
		client: client,
		ttl:    ttl,
		prefix: DefaultCachePrefix,
		logger: logger,
	}
}

// Submit implements Evaluator.
func (c *Cached) Submit(ctx context.Context, job domain.EvaluationJob) (*Ticket, error) {
	key := c.key(job)

	if cached, ok := c.lookup(ctx, key); ok {
		ticket := NewTicket(job.ID)
		ticket.Resolve(Completion{Result: cached})
		return ticket, nil
	}

	inner, err := c.inner.Submit(ctx, job)
	if err != nil {
		return nil, err
	}

	out := NewTicket(job.ID)
	go func() {
		select {
		case comp := <-inner.Done():
			if comp.Err == nil && comp.Result != nil {
				c.store(key, comp.Result)
			}
			out.Resolve(comp)
		case <-ctx.Done():
			inner.Abandon()
			out.Resolve(Completion{Err: ctx.Err()})
		case <-out.Abandoned():
			inner.Abandon()
		}
	}()
	return out, nil
}

func (c *Cached) key(job domain.EvaluationJob) string {
	id := job.ID
	if id == "" {
		id = idhash.ComputeJobID(job.Formula, job.Combination, job.DateRange)
	}
	return c.prefix + id
}

func (c *Cached) lookup(ctx context.Context, key string) (*domain.EvaluationResult, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn().Err(err).Str("key", key).Msg("evaluation cache read failed")
		}
		return nil, false
	}

	var result domain.EvaluationResult
	if err := json.Unmarshal(raw, &result); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("evaluation cache entry corrupt")
		return nil, false
	}
	return &result, true
}

func (c *Cached) store(key string, result *domain.EvaluationResult) {
	raw, err := json.Marshal(result)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("evaluation cache encode failed")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("evaluation cache write failed")
	}
}

var _ Evaluator = (*Cached)(nil)
