package repository

import (
	"context"
	"time"

	"github.com/automagik/omni/instance/domain"
	"gorm.io/gorm"
)

// --- Persistence Model ---

type instanceModel struct {
	Name                string    `gorm:"primaryKey;column:name"`
	ChannelType         string    `gorm:"column:channel_type;not null;index"`
	EvolutionURL        string    `gorm:"column:evolution_url"`
	EvolutionKey        string    `gorm:"column:evolution_key"`
	WhatsAppInstance    string    `gorm:"column:whatsapp_instance"`
	DiscordBotToken     string    `gorm:"column:discord_bot_token"`
	WebhookSecret       string    `gorm:"column:webhook_secret"`
	AgentAPIURL         string    `gorm:"column:agent_api_url"`
	AgentAPIKey         string    `gorm:"column:agent_api_key"`
	AgentName           string    `gorm:"column:default_agent"`
	AgentStream         bool      `gorm:"column:agent_stream_mode;default:false"`
	AgentTimeoutSeconds int       `gorm:"column:agent_timeout;default:60"`
	// Pointer so gorm writes an explicit false instead of falling back to
	// the column default on create.
	AutoSplit *bool     `gorm:"column:enable_auto_split;default:true"`
	IsDefault bool      `gorm:"column:is_default;default:false;index"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

func (instanceModel) TableName() string { return "instance_configs" }

// --- Repository Implementation ---

type InstanceGormRepository struct {
	db *gorm.DB
}

func NewInstanceGormRepository(db *gorm.DB) *InstanceGormRepository {
	return &InstanceGormRepository{db: db}
}

func (r *InstanceGormRepository) Init(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&instanceModel{})
}

func (r *InstanceGormRepository) GetByName(ctx context.Context, name string) (domain.Instance, error) {
	var m instanceModel
	if err := r.db.WithContext(ctx).First(&m, "name = ?", name).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Instance{}, domain.ErrInstanceNotFound
		}
		return domain.Instance{}, err
	}
	return fromInstanceModel(m), nil
}

func (r *InstanceGormRepository) List(ctx context.Context, filter domain.ListFilter) ([]domain.Instance, error) {
	q := r.db.WithContext(ctx).Order("created_at DESC")
	if filter.Channel != "" {
		q = q.Where("channel_type = ?", string(filter.Channel))
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}
	var models []instanceModel
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Instance, len(models))
	for i, m := range models {
		res[i] = fromInstanceModel(m)
	}
	return res, nil
}

func (r *InstanceGormRepository) GetDefault(ctx context.Context) (domain.Instance, error) {
	var m instanceModel
	if err := r.db.WithContext(ctx).First(&m, "is_default = ?", true).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Instance{}, domain.ErrNoDefaultInstance
		}
		return domain.Instance{}, err
	}
	return fromInstanceModel(m), nil
}

func (r *InstanceGormRepository) Save(ctx context.Context, inst domain.Instance) error {
	model := toInstanceModel(inst)
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if model.IsDefault {
			// At most one default at a time; clear and set atomically.
			if err := tx.Model(&instanceModel{}).
				Where("is_default = ? AND name <> ?", true, model.Name).
				Update("is_default", false).Error; err != nil {
				return err
			}
		}
		var existing instanceModel
		err := tx.First(&existing, "name = ?", model.Name).Error
		switch err {
		case nil:
			model.CreatedAt = existing.CreatedAt
			model.UpdatedAt = time.Now().UTC()
			return tx.Save(&model).Error
		case gorm.ErrRecordNotFound:
			now := time.Now().UTC()
			model.CreatedAt = now
			model.UpdatedAt = now
			return tx.Create(&model).Error
		default:
			return err
		}
	})
}

func (r *InstanceGormRepository) Delete(ctx context.Context, name string, cascade bool) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m instanceModel
		if err := tx.First(&m, "name = ?", name).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return domain.ErrInstanceNotFound
			}
			return err
		}

		var traceCount int64
		if err := tx.Table("message_traces").Where("instance_name = ?", name).Count(&traceCount).Error; err != nil {
			return err
		}

		if traceCount > 0 && !cascade {
			return domain.ErrInstanceReferenced
		}

		if cascade {
			if err := tx.Exec(
				"DELETE FROM trace_payloads WHERE trace_id IN (SELECT trace_id FROM message_traces WHERE instance_name = ?)",
				name,
			).Error; err != nil {
				return err
			}
			if err := tx.Exec("DELETE FROM message_traces WHERE instance_name = ?", name).Error; err != nil {
				return err
			}
			if err := tx.Exec("DELETE FROM access_rules WHERE instance_name = ?", name).Error; err != nil {
				return err
			}
		}

		return tx.Delete(&instanceModel{}, "name = ?", name).Error
	})
}

// --- Mappers ---

func toInstanceModel(i domain.Instance) instanceModel {
	autoSplit := i.AutoSplit
	return instanceModel{
		Name:                i.Name,
		ChannelType:         string(i.Channel),
		EvolutionURL:        i.EvolutionURL,
		EvolutionKey:        i.EvolutionKey,
		WhatsAppInstance:    i.WhatsAppInstance,
		DiscordBotToken:     i.DiscordBotToken,
		WebhookSecret:       i.WebhookSecret,
		AgentAPIURL:         i.AgentAPIURL,
		AgentAPIKey:         i.AgentAPIKey,
		AgentName:           i.AgentName,
		AgentStream:         i.AgentStream,
		AgentTimeoutSeconds: i.AgentTimeoutSeconds,
		AutoSplit:           &autoSplit,
		IsDefault:           i.IsDefault,
		CreatedAt:           i.CreatedAt,
		UpdatedAt:           i.UpdatedAt,
	}
}

func fromInstanceModel(m instanceModel) domain.Instance {
	autoSplit := true
	if m.AutoSplit != nil {
		autoSplit = *m.AutoSplit
	}
	return domain.Instance{
		Name:                m.Name,
		Channel:             domain.ChannelKind(m.ChannelType),
		EvolutionURL:        m.EvolutionURL,
		EvolutionKey:        m.EvolutionKey,
		WhatsAppInstance:    m.WhatsAppInstance,
		DiscordBotToken:     m.DiscordBotToken,
		WebhookSecret:       m.WebhookSecret,
		AgentAPIURL:         m.AgentAPIURL,
		AgentAPIKey:         m.AgentAPIKey,
		AgentName:           m.AgentName,
		AgentStream:         m.AgentStream,
		AgentTimeoutSeconds: m.AgentTimeoutSeconds,
		AutoSplit:           autoSplit,
		IsDefault:           m.IsDefault,
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
	}
}
