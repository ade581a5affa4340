// Package remote talks to an out-of-process evaluator over WebSocket or HTTP JSON-RPC.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"threshold-lab/internal/domain"
	"threshold-lab/internal/evaluator"
	"threshold-lab/internal/idhash"
)

// Wire methods.
const (
	MethodEvaluate           = "evaluate"
	MethodEvaluationComplete = "evaluationComplete"
)

// WSClientConfig holds evaluator connection settings.
type WSClientConfig struct {
	// ReconnectDelay is the first backoff after a dropped connection; it
	// doubles up to MaxReconnectDelay.
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	// PingInterval keeps idle connections alive while long jobs run.
	PingInterval time.Duration
	// ReadTimeout closes a connection that sent nothing, pongs included.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// AckTimeout bounds the wait for a submission acknowledgment.
	AckTimeout time.Duration
}

// DefaultWSConfig returns the settings used when none are given.
func DefaultWSConfig() WSClientConfig {
	return WSClientConfig{
		ReconnectDelay:    500 * time.Millisecond,
		MaxReconnectDelay: 20 * time.Second,
		PingInterval:      15 * time.Second,
		ReadTimeout:       45 * time.Second,
		WriteTimeout:      5 * time.Second,
		AckTimeout:        30 * time.Second,
	}
}

// WSClient submits evaluation jobs over a WebSocket and resolves tickets from
// evaluationComplete notifications. Jobs still in flight when the connection
// drops are resubmitted after reconnect.
type WSClient struct {
	endpoint string
	config   WSClientConfig
	logger   zerolog.Logger

	conn      *websocket.Conn
	connMu    sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64

	// pendingAcks maps request ID to the channel waiting for the submission ack
	pendingAcks   map[uint64]chan ackResult
	pendingAcksMu sync.Mutex

	// inflight maps job ID to its ticket and the job for resubmission
	inflight   map[string]*inflightJob
	inflightMu sync.Mutex

	done chan struct{}
	wg   sync.WaitGroup

	reconnecting atomic.Bool
}

type inflightJob struct {
	job    domain.EvaluationJob
	ticket *evaluator.Ticket
}

type ackResult struct {
	accepted bool
	jobID    string
	err      string
}

// NewWSClient creates a WebSocket evaluator client and connects to endpoint.
func NewWSClient(ctx context.Context, endpoint string, config *WSClientConfig, logger zerolog.Logger) (*WSClient, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}
	defaults := DefaultWSConfig()
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = defaults.AckTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaults.PingInterval
	}

	c := &WSClient{
		endpoint:    endpoint,
		config:      cfg,
		logger:      logger.With().Str("component", "ws_evaluator").Logger(),
		pendingAcks: make(map[uint64]chan ackResult),
		inflight:    make(map[string]*inflightJob),
		done:        make(chan struct{}),
	}

	if err := c.connect(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", evaluator.ErrInfrastructure, err)
	}

	c.wg.Add(1)
	go c.readLoop()

	c.wg.Add(1)
	go c.pingLoop()

	return c, nil
}

func (c *WSClient) connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	// A pong proves the evaluator is alive while a long job produces no
	// messages, so it extends the read deadline like any message does.
	readTimeout := c.config.ReadTimeout
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	c.conn = conn
	return nil
}

// Submit sends the job and waits for the evaluator to accept it. The returned
// ticket resolves when the matching evaluationComplete notification arrives.
// Transport failures wrap evaluator.ErrInfrastructure; an explicit rejection is
// a job failure.
func (c *WSClient) Submit(ctx context.Context, job domain.EvaluationJob) (*evaluator.Ticket, error) {
	if c.closed.Load() {
		return nil, fmt.Errorf("%w: client closed", evaluator.ErrInfrastructure)
	}
	if job.ID == "" {
		job.ID = idhash.ComputeJobID(job.Formula, job.Combination, job.DateRange)
	}

	// Register before sending; the completion may beat the ack.
	ticket := evaluator.NewTicket(job.ID)
	c.inflightMu.Lock()
	c.inflight[job.ID] = &inflightJob{job: job, ticket: ticket}
	c.inflightMu.Unlock()

	ack, err := c.send(ctx, job, true)
	if err != nil {
		c.forget(job.ID)
		return nil, err
	}
	if !ack.accepted {
		c.forget(job.ID)
		return nil, evaluator.Failed(job.ID, "rejected: %s", ack.err)
	}
	return ticket, nil
}

// send writes an evaluate request. When wait is set it blocks for the ack.
func (c *WSClient) send(ctx context.Context, job domain.EvaluationJob, wait bool) (ackResult, error) {
	reqID := c.requestID.Add(1)
	req := wsRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  MethodEvaluate,
		Params:  newJobPayload(job),
	}

	ackCh := make(chan ackResult, 1)
	if wait {
		c.pendingAcksMu.Lock()
		c.pendingAcks[reqID] = ackCh
		c.pendingAcksMu.Unlock()
	}
	dropAck := func() {
		c.pendingAcksMu.Lock()
		delete(c.pendingAcks, reqID)
		c.pendingAcksMu.Unlock()
	}

	c.connMu.Lock()
	if c.conn == nil {
		c.connMu.Unlock()
		dropAck()
		return ackResult{}, fmt.Errorf("%w: not connected", evaluator.ErrInfrastructure)
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	err := c.conn.WriteJSON(req)
	c.connMu.Unlock()
	if err != nil {
		dropAck()
		return ackResult{}, fmt.Errorf("%w: write evaluate: %v", evaluator.ErrInfrastructure, err)
	}

	if !wait {
		return ackResult{accepted: true, jobID: job.ID}, nil
	}

	select {
	case ack, ok := <-ackCh:
		if !ok {
			return ackResult{}, fmt.Errorf("%w: client closed", evaluator.ErrInfrastructure)
		}
		return ack, nil
	case <-time.After(c.config.AckTimeout):
		dropAck()
		return ackResult{}, fmt.Errorf("%w: ack timeout after %s", evaluator.ErrInfrastructure, c.config.AckTimeout)
	case <-c.done:
		return ackResult{}, fmt.Errorf("%w: client closed", evaluator.ErrInfrastructure)
	case <-ctx.Done():
		dropAck()
		return ackResult{}, ctx.Err()
	}
}

func (c *WSClient) forget(jobID string) {
	c.inflightMu.Lock()
	delete(c.inflight, jobID)
	c.inflightMu.Unlock()
}

// InFlight returns the number of accepted jobs without a completion.
func (c *WSClient) InFlight() int {
	c.inflightMu.Lock()
	defer c.inflightMu.Unlock()
	return len(c.inflight)
}

// Close closes the connection. Unresolved tickets fail with ErrInfrastructure.
func (c *WSClient) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.pendingAcksMu.Lock()
	for id, ch := range c.pendingAcks {
		close(ch)
		delete(c.pendingAcks, id)
	}
	c.pendingAcksMu.Unlock()

	c.inflightMu.Lock()
	for id, f := range c.inflight {
		f.ticket.Resolve(evaluator.Completion{
			Err: fmt.Errorf("%w: client closed before completion", evaluator.ErrInfrastructure),
		})
		delete(c.inflight, id)
	}
	c.inflightMu.Unlock()

	c.wg.Wait()
	return nil
}

func (c *WSClient) readLoop() {
	defer c.wg.Done()

	reconnectDelay := c.config.ReconnectDelay

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}
			if !c.reconnecting.Swap(true) {
				c.logger.Warn().Err(err).Dur("delay", reconnectDelay).Msg("connection lost, reconnecting")
				go c.reconnect(reconnectDelay)
			}

			reconnectDelay *= 2
			if reconnectDelay > c.config.MaxReconnectDelay {
				reconnectDelay = c.config.MaxReconnectDelay
			}

			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		reconnectDelay = c.config.ReconnectDelay
		c.handleMessage(message)
	}
}

func (c *WSClient) reconnect(delay time.Duration) {
	defer c.reconnecting.Store(false)

	if c.closed.Load() {
		return
	}

	select {
	case <-c.done:
		return
	case <-time.After(delay):
	}

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.connect(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("reconnect failed")
		return
	}
	c.resubmitAll(ctx)
}

// resubmitAll re-sends jobs whose completion was lost with the old connection.
func (c *WSClient) resubmitAll(ctx context.Context) {
	jobs := c.pendingResubmits()
	for _, job := range jobs {
		if _, err := c.send(ctx, job, false); err != nil {
			c.logger.Warn().Err(err).Str("job_id", job.ID).Msg("resubmit failed")
		}
	}
	if len(jobs) > 0 {
		c.logger.Info().Int("jobs", len(jobs)).Msg("resubmitted in-flight jobs")
	}
}

// pendingResubmits returns the in-flight jobs somebody still waits for and
// forgets the abandoned ones.
func (c *WSClient) pendingResubmits() []domain.EvaluationJob {
	c.inflightMu.Lock()
	defer c.inflightMu.Unlock()

	jobs := make([]domain.EvaluationJob, 0, len(c.inflight))
	for id, f := range c.inflight {
		select {
		case <-f.ticket.Abandoned():
			delete(c.inflight, id)
			continue
		default:
		}
		jobs = append(jobs, f.job)
	}
	return jobs
}

func (c *WSClient) handleMessage(message []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		c.logger.Warn().Err(err).Msg("undecodable message")
		return
	}

	switch {
	case env.Method == MethodEvaluationComplete:
		var params wsCompletionParams
		if err := json.Unmarshal(env.Params, &params); err != nil {
			c.logger.Warn().Err(err).Msg("undecodable completion")
			return
		}
		c.handleCompletion(&params)
	case env.ID != 0 && env.Error != nil:
		c.deliverAck(env.ID, ackResult{err: env.Error.Message})
	case env.ID != 0 && env.Result != nil:
		var ack wsAck
		if err := json.Unmarshal(env.Result, &ack); err != nil {
			c.logger.Warn().Err(err).Uint64("id", env.ID).Msg("undecodable ack")
			return
		}
		c.deliverAck(env.ID, ackResult{accepted: ack.Accepted, jobID: ack.JobID, err: ack.Reason})
	}
}

func (c *WSClient) deliverAck(reqID uint64, ack ackResult) {
	c.pendingAcksMu.Lock()
	ch, ok := c.pendingAcks[reqID]
	if ok {
		delete(c.pendingAcks, reqID)
	}
	c.pendingAcksMu.Unlock()

	if ok {
		select {
		case ch <- ack:
		default:
		}
	}
}

func (c *WSClient) handleCompletion(p *wsCompletionParams) {
	c.inflightMu.Lock()
	f, ok := c.inflight[p.JobID]
	if ok {
		delete(c.inflight, p.JobID)
	}
	c.inflightMu.Unlock()

	if !ok {
		c.logger.Debug().Str("job_id", p.JobID).Msg("completion for unknown job")
		return
	}

	switch {
	case p.Error != "" && p.Kind == errorKindInfrastructure:
		f.ticket.Resolve(evaluator.Completion{Err: fmt.Errorf("%w: %s", evaluator.ErrInfrastructure, p.Error)})
	case p.Error != "":
		f.ticket.Resolve(evaluator.Completion{Err: evaluator.Failed(p.JobID, "%s", p.Error)})
	case p.Result == nil:
		f.ticket.Resolve(evaluator.Completion{Err: evaluator.Failed(p.JobID, "empty result")})
	default:
		f.ticket.Resolve(evaluator.Completion{Result: p.Result})
	}
}

func (c *WSClient) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				_ = c.conn.WriteMessage(websocket.PingMessage, nil)
			}
			c.connMu.Unlock()
		}
	}
}

var _ evaluator.Evaluator = (*WSClient)(nil)
