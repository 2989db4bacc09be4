package domain

import (
	"context"
	"errors"
	"time"
)

type TraceStatus string

const (
	StatusReceived     TraceStatus = "received"
	StatusProcessing   TraceStatus = "processing"
	StatusCompleted    TraceStatus = "completed"
	StatusFailed       TraceStatus = "failed"
	StatusAccessDenied TraceStatus = "access_denied"
)

// Terminal reports whether the status admits no further transitions.
func (s TraceStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusAccessDenied
}

type Stage string

const (
	StageWebhookReceived  Stage = "webhook_received"
	StageAccessCheck      Stage = "access_check"
	StageAgentRequest     Stage = "agent_request"
	StageAgentResponse    Stage = "agent_response"
	StageOutboundRequest  Stage = "outbound_request"
	StageOutboundResponse Stage = "outbound_response"
	StageError            Stage = "error"
)

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
	DirectionInternal Direction = "internal"
)

var ErrTraceNotFound = errors.New("trace not found")

// MessageTrace is one row per inbound event: the record of the event's
// journey through the pipeline.
type MessageTrace struct {
	TraceID        string      `json:"trace_id"`
	InstanceName   string      `json:"instance_name"`
	MessageID      string      `json:"message_id,omitempty"`
	SenderID       string      `json:"sender_id"`
	SenderName     string      `json:"sender_name,omitempty"`
	MessageType    string      `json:"message_type"`
	HasMedia       bool        `json:"has_media"`
	HasQuoted      bool        `json:"has_quoted"`
	SessionName    string      `json:"session_name"`
	AgentSessionID string      `json:"agent_session_id,omitempty"`
	Status         TraceStatus `json:"status"`
	ErrorStage     string      `json:"error_stage,omitempty"`
	ErrorMessage   string      `json:"error_message,omitempty"`
	ReceivedAt     time.Time   `json:"received_at"`
	CompletedAt    *time.Time  `json:"completed_at,omitempty"`

	AgentProcessingMs    int64 `json:"agent_processing_time_ms"`
	TotalProcessingMs    int64 `json:"total_processing_time_ms"`
	AgentResponseSuccess *bool `json:"agent_response_success,omitempty"`
	EvolutionSuccess     *bool `json:"evolution_success,omitempty"`
}

// TracePayload is one captured stage snapshot for a trace.
type TracePayload struct {
	ID         uint      `json:"id"`
	TraceID    string    `json:"trace_id"`
	Stage      Stage     `json:"stage"`
	Direction  Direction `json:"direction"`
	Payload    []byte    `json:"payload"`
	SizeBytes  int       `json:"payload_size_bytes"`
	Truncated  bool      `json:"truncated"`
	CapturedAt time.Time `json:"captured_at"`
}

// TraceFilter narrows trace listings.
type TraceFilter struct {
	InstanceName string
	Status       TraceStatus
	SessionName  string
	Limit        int
	Offset       int
}

type ITraceRepository interface {
	Init(ctx context.Context) error
	CreateTrace(ctx context.Context, t MessageTrace) error
	UpdateTrace(ctx context.Context, t MessageTrace) error
	GetTrace(ctx context.Context, traceID string) (MessageTrace, error)
	ListTraces(ctx context.Context, filter TraceFilter) ([]MessageTrace, error)
	CreatePayload(ctx context.Context, p TracePayload) error
	ListPayloads(ctx context.Context, traceID string) ([]TracePayload, error)
	// DeleteOlderThan removes up to batchSize traces received before the
	// cutoff, with their payloads, in one transaction. Returns how many
	// traces were removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
}
