package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/automagik/omni/trace/domain"
	"gorm.io/gorm"
)

// --- Persistence Models ---

type messageTraceModel struct {
	TraceID        string         `gorm:"primaryKey;column:trace_id"`
	InstanceName   string         `gorm:"column:instance_name;not null;index"`
	MessageID      sql.NullString `gorm:"column:message_id"`
	SenderID       string         `gorm:"column:sender_id"`
	SenderName     sql.NullString `gorm:"column:sender_name"`
	MessageType    string         `gorm:"column:message_type"`
	HasMedia       bool           `gorm:"column:has_media;default:false"`
	HasQuoted      bool           `gorm:"column:has_quoted;default:false"`
	SessionName    string         `gorm:"column:session_name;index"`
	AgentSessionID sql.NullString `gorm:"column:agent_session_id"`
	Status         string         `gorm:"column:status;not null;index"`
	ErrorStage     sql.NullString `gorm:"column:error_stage"`
	ErrorMessage   sql.NullString `gorm:"column:error_message"`
	ReceivedAt     time.Time      `gorm:"column:received_at;not null;index"`
	CompletedAt    *time.Time     `gorm:"column:completed_at"`

	AgentProcessingMs    int64        `gorm:"column:agent_processing_time_ms;default:0"`
	TotalProcessingMs    int64        `gorm:"column:total_processing_time_ms;default:0"`
	AgentResponseSuccess sql.NullBool `gorm:"column:agent_response_success"`
	EvolutionSuccess     sql.NullBool `gorm:"column:evolution_success"`
}

func (messageTraceModel) TableName() string { return "message_traces" }

type tracePayloadModel struct {
	ID         uint      `gorm:"primaryKey;autoIncrement"`
	TraceID    string    `gorm:"column:trace_id;not null;index"`
	Stage      string    `gorm:"column:stage;not null"`
	Direction  string    `gorm:"column:direction;not null"`
	Payload    []byte    `gorm:"column:payload"`
	SizeBytes  int       `gorm:"column:payload_size_bytes;default:0"`
	Truncated  bool      `gorm:"column:truncated;default:false"`
	CapturedAt time.Time `gorm:"column:captured_at;not null"`
}

func (tracePayloadModel) TableName() string { return "trace_payloads" }

// --- Repository Implementation ---

type TraceGormRepository struct {
	db *gorm.DB
}

func NewTraceGormRepository(db *gorm.DB) *TraceGormRepository {
	return &TraceGormRepository{db: db}
}

func (r *TraceGormRepository) Init(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&messageTraceModel{}, &tracePayloadModel{})
}

func (r *TraceGormRepository) CreateTrace(ctx context.Context, t domain.MessageTrace) error {
	m := toTraceModel(t)
	return r.db.WithContext(ctx).Create(&m).Error
}

func (r *TraceGormRepository) UpdateTrace(ctx context.Context, t domain.MessageTrace) error {
	m := toTraceModel(t)
	return r.db.WithContext(ctx).Save(&m).Error
}

func (r *TraceGormRepository) GetTrace(ctx context.Context, traceID string) (domain.MessageTrace, error) {
	var m messageTraceModel
	if err := r.db.WithContext(ctx).First(&m, "trace_id = ?", traceID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.MessageTrace{}, domain.ErrTraceNotFound
		}
		return domain.MessageTrace{}, err
	}
	return fromTraceModel(m), nil
}

func (r *TraceGormRepository) ListTraces(ctx context.Context, filter domain.TraceFilter) ([]domain.MessageTrace, error) {
	q := r.db.WithContext(ctx).Order("received_at DESC")
	if filter.InstanceName != "" {
		q = q.Where("instance_name = ?", filter.InstanceName)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	if filter.SessionName != "" {
		q = q.Where("session_name = ?", filter.SessionName)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}
	var models []messageTraceModel
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.MessageTrace, len(models))
	for i, m := range models {
		res[i] = fromTraceModel(m)
	}
	return res, nil
}

func (r *TraceGormRepository) CreatePayload(ctx context.Context, p domain.TracePayload) error {
	m := tracePayloadModel{
		TraceID:    p.TraceID,
		Stage:      string(p.Stage),
		Direction:  string(p.Direction),
		Payload:    p.Payload,
		SizeBytes:  p.SizeBytes,
		Truncated:  p.Truncated,
		CapturedAt: p.CapturedAt,
	}
	return r.db.WithContext(ctx).Create(&m).Error
}

func (r *TraceGormRepository) ListPayloads(ctx context.Context, traceID string) ([]domain.TracePayload, error) {
	var models []tracePayloadModel
	err := r.db.WithContext(ctx).
		Where("trace_id = ?", traceID).
		Order("id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	res := make([]domain.TracePayload, len(models))
	for i, m := range models {
		res[i] = domain.TracePayload{
			ID:         m.ID,
			TraceID:    m.TraceID,
			Stage:      domain.Stage(m.Stage),
			Direction:  domain.Direction(m.Direction),
			Payload:    m.Payload,
			SizeBytes:  m.SizeBytes,
			Truncated:  m.Truncated,
			CapturedAt: m.CapturedAt,
		}
	}
	return res, nil
}

func (r *TraceGormRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&messageTraceModel{}).
			Where("received_at < ?", cutoff).
			Order("received_at ASC").
			Limit(batchSize).
			Pluck("trace_id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where("trace_id IN ?", ids).Delete(&tracePayloadModel{}).Error; err != nil {
			return err
		}
		res := tx.Where("trace_id IN ?", ids).Delete(&messageTraceModel{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected
		return nil
	})
	return deleted, err
}

// --- Mappers ---

func toTraceModel(t domain.MessageTrace) messageTraceModel {
	return messageTraceModel{
		TraceID:              t.TraceID,
		InstanceName:         t.InstanceName,
		MessageID:            sql.NullString{String: t.MessageID, Valid: t.MessageID != ""},
		SenderID:             t.SenderID,
		SenderName:           sql.NullString{String: t.SenderName, Valid: t.SenderName != ""},
		MessageType:          t.MessageType,
		HasMedia:             t.HasMedia,
		HasQuoted:            t.HasQuoted,
		SessionName:          t.SessionName,
		AgentSessionID:       sql.NullString{String: t.AgentSessionID, Valid: t.AgentSessionID != ""},
		Status:               string(t.Status),
		ErrorStage:           sql.NullString{String: t.ErrorStage, Valid: t.ErrorStage != ""},
		ErrorMessage:         sql.NullString{String: t.ErrorMessage, Valid: t.ErrorMessage != ""},
		ReceivedAt:           t.ReceivedAt,
		CompletedAt:          t.CompletedAt,
		AgentProcessingMs:    t.AgentProcessingMs,
		TotalProcessingMs:    t.TotalProcessingMs,
		AgentResponseSuccess: toNullBool(t.AgentResponseSuccess),
		EvolutionSuccess:     toNullBool(t.EvolutionSuccess),
	}
}

func fromTraceModel(m messageTraceModel) domain.MessageTrace {
	return domain.MessageTrace{
		TraceID:              m.TraceID,
		InstanceName:         m.InstanceName,
		MessageID:            nullStringValue(m.MessageID),
		SenderID:             m.SenderID,
		SenderName:           nullStringValue(m.SenderName),
		MessageType:          m.MessageType,
		HasMedia:             m.HasMedia,
		HasQuoted:            m.HasQuoted,
		SessionName:          m.SessionName,
		AgentSessionID:       nullStringValue(m.AgentSessionID),
		Status:               domain.TraceStatus(m.Status),
		ErrorStage:           nullStringValue(m.ErrorStage),
		ErrorMessage:         nullStringValue(m.ErrorMessage),
		ReceivedAt:           m.ReceivedAt,
		CompletedAt:          m.CompletedAt,
		AgentProcessingMs:    m.AgentProcessingMs,
		TotalProcessingMs:    m.TotalProcessingMs,
		AgentResponseSuccess: fromNullBool(m.AgentResponseSuccess),
		EvolutionSuccess:     fromNullBool(m.EvolutionSuccess),
	}
}

func toNullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}

func fromNullBool(nb sql.NullBool) *bool {
	if !nb.Valid {
		return nil
	}
	b := nb.Bool
	return &b
}

func nullStringValue(ns sql.NullString) string {
	if !ns.Valid {
		return ""
	}
	return ns.String
}
