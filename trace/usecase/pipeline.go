package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/automagik/omni/core/config"
	"github.com/automagik/omni/trace/domain"
)

// Pipeline opens and persists message traces. Tracing failures never
// propagate to the message path: storage errors are logged and swallowed.
type Pipeline struct {
	repo domain.ITraceRepository
	cfg  config.TraceConfig
}

func NewPipeline(repo domain.ITraceRepository, cfg config.TraceConfig) *Pipeline {
	return &Pipeline{repo: repo, cfg: cfg}
}

// Enabled reports whether traces are being recorded at all.
func (p *Pipeline) Enabled() bool { return p.cfg.Enabled }

func (p *Pipeline) Repository() domain.ITraceRepository { return p.repo }

// OpenParams carries the canonical fields of the inbound event.
type OpenParams struct {
	InstanceName string
	MessageID    string
	SenderID     string
	SenderName   string
	MessageType  string
	HasMedia     bool
	HasQuoted    bool
	SessionName  string
}

// Open creates a trace in status "received" and returns its context. When
// tracing is disabled, or the insert fails, the returned context is a
// best-effort no-op that still tracks timings in memory.
func (p *Pipeline) Open(ctx context.Context, params OpenParams) *Ctx {
	tc := &Ctx{
		p: p,
		trace: domain.MessageTrace{
			TraceID:      uuid.NewString(),
			InstanceName: params.InstanceName,
			MessageID:    params.MessageID,
			SenderID:     params.SenderID,
			SenderName:   params.SenderName,
			MessageType:  params.MessageType,
			HasMedia:     params.HasMedia,
			HasQuoted:    params.HasQuoted,
			SessionName:  params.SessionName,
			Status:       domain.StatusReceived,
			ReceivedAt:   time.Now().UTC(),
		},
	}
	if !p.cfg.Enabled {
		tc.noop = true
		return tc
	}
	if err := p.repo.CreateTrace(ctx, tc.trace); err != nil {
		logrus.WithError(err).Warn("[TRACE] Failed to open trace, continuing without persistence")
		tc.noop = true
	}
	return tc
}

// Ctx is the per-event trace context. It is created at ingress and closed
// exactly once; all methods are safe for concurrent use.
type Ctx struct {
	p      *Pipeline
	mu     sync.Mutex
	trace  domain.MessageTrace
	noop   bool
	closed bool
}

func (c *Ctx) TraceID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.trace.TraceID
}

// Capture serializes the payload, redacts sensitive keys unless the
// process is configured to keep them, caps the size, and stores a
// TracePayload row. Errors are logged and swallowed.
func (c *Ctx) Capture(ctx context.Context, stage domain.Stage, direction domain.Direction, payload interface{}) {
	c.mu.Lock()
	noop := c.noop
	traceID := c.trace.TraceID
	c.mu.Unlock()
	if noop {
		return
	}

	data, truncated, err := c.p.preparePayload(payload)
	if err != nil {
		logrus.WithError(err).WithField("stage", stage).Warn("[TRACE] Failed to serialize payload")
		return
	}

	row := domain.TracePayload{
		TraceID:    traceID,
		Stage:      stage,
		Direction:  direction,
		Payload:    data,
		SizeBytes:  len(data),
		Truncated:  truncated,
		CapturedAt: time.Now().UTC(),
	}
	if err := c.p.repo.CreatePayload(ctx, row); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"trace_id": traceID,
			"stage":    stage,
		}).Warn("[TRACE] Failed to store payload")
	}
}

// preparePayload serializes, redacts, then size-caps. Redaction runs
// before sizing so the cap applies to what is actually stored.
func (p *Pipeline) preparePayload(payload interface{}) ([]byte, bool, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, false, err
	}

	if !p.cfg.IncludeSensitive {
		var tree interface{}
		if err := json.Unmarshal(data, &tree); err == nil {
			if redacted, err := json.Marshal(Redact(tree)); err == nil {
				data = redacted
			}
		}
	}

	if len(data) > p.cfg.MaxPayloadBytes {
		sentinel := fmt.Sprintf(`{"_truncated": true, "original_size": %d}`, len(data))
		return []byte(sentinel), true, nil
	}
	return data, false, nil
}

// MarkProcessing transitions the trace to "processing" ahead of the agent
// call. No-op once a terminal status was written.
func (c *Ctx) MarkProcessing(ctx context.Context) {
	c.mu.Lock()
	if c.closed || c.trace.Status.Terminal() {
		c.mu.Unlock()
		return
	}
	c.trace.Status = domain.StatusProcessing
	snapshot := c.trace
	noop := c.noop
	c.mu.Unlock()

	if noop {
		return
	}
	if err := c.p.repo.UpdateTrace(ctx, snapshot); err != nil {
		logrus.WithError(err).Warn("[TRACE] Failed to mark trace processing")
	}
}

// SetAgentSession records the agent-side session id on the trace.
func (c *Ctx) SetAgentSession(id string) {
	c.mu.Lock()
	c.trace.AgentSessionID = id
	c.mu.Unlock()
}

// MarkAgent accumulates the agent call timing and outcome.
func (c *Ctx) MarkAgent(ms int64, ok bool) {
	c.mu.Lock()
	c.trace.AgentProcessingMs = ms
	c.trace.AgentResponseSuccess = &ok
	c.mu.Unlock()
}

// MarkOutbound records the provider dispatch outcome.
func (c *Ctx) MarkOutbound(ok bool) {
	c.mu.Lock()
	c.trace.EvolutionSuccess = &ok
	c.mu.Unlock()
}

// Close writes the terminal status exactly once. errorStage must be empty
// unless status is failed.
func (c *Ctx) Close(ctx context.Context, status domain.TraceStatus, errorStage, errorMessage string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true

	now := time.Now().UTC()
	c.trace.Status = status
	c.trace.CompletedAt = &now
	c.trace.TotalProcessingMs = now.Sub(c.trace.ReceivedAt).Milliseconds()
	if status == domain.StatusFailed {
		c.trace.ErrorStage = errorStage
		c.trace.ErrorMessage = errorMessage
	}
	snapshot := c.trace
	noop := c.noop
	c.mu.Unlock()

	if noop {
		return
	}
	if err := c.p.repo.UpdateTrace(ctx, snapshot); err != nil {
		logrus.WithError(err).WithField("trace_id", snapshot.TraceID).Warn("[TRACE] Failed to close trace")
		return
	}
	logrus.WithFields(logrus.Fields{
		"trace_id": snapshot.TraceID,
		"status":   status,
		"total_ms": snapshot.TotalProcessingMs,
	}).Debug("[TRACE] Trace closed")
}

// Closed reports whether a terminal status was already written.
func (c *Ctx) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Snapshot returns a copy of the current trace row.
func (c *Ctx) Snapshot() domain.MessageTrace {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.trace
}
