package repository

import (
	"context"
	"errors"
	"time"

	"github.com/automagik/omni/user/domain"
	"gorm.io/gorm"
)

type userModel struct {
	ID          string    `gorm:"primaryKey;column:id"`
	DisplayName string    `gorm:"column:display_name"`
	CreatedAt   time.Time `gorm:"column:created_at;not null"`
}

func (userModel) TableName() string { return "users" }

type userExternalIDModel struct {
	ID         uint      `gorm:"primaryKey;autoIncrement"`
	UserID     string    `gorm:"column:user_id;not null;index"`
	Channel    string    `gorm:"column:channel;not null;uniqueIndex:idx_channel_external"`
	ExternalID string    `gorm:"column:external_id;not null;uniqueIndex:idx_channel_external"`
	CreatedAt  time.Time `gorm:"column:created_at;not null"`
}

func (userExternalIDModel) TableName() string { return "user_external_ids" }

type UserGormRepository struct {
	db *gorm.DB
}

func NewUserGormRepository(db *gorm.DB) *UserGormRepository {
	return &UserGormRepository{db: db}
}

func (r *UserGormRepository) Init(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&userModel{}, &userExternalIDModel{})
}

func (r *UserGormRepository) GetUser(ctx context.Context, id string) (domain.User, error) {
	var m userModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, domain.ErrUserNotFound
		}
		return domain.User{}, err
	}
	return domain.User{ID: m.ID, DisplayName: m.DisplayName, CreatedAt: m.CreatedAt}, nil
}

func (r *UserGormRepository) CreateUser(ctx context.Context, u domain.User) error {
	m := userModel{ID: u.ID, DisplayName: u.DisplayName, CreatedAt: u.CreatedAt}
	return r.db.WithContext(ctx).Create(&m).Error
}

func (r *UserGormRepository) FindByExternalID(ctx context.Context, channel, externalID string) (domain.User, error) {
	var link userExternalIDModel
	err := r.db.WithContext(ctx).
		Where("channel = ? AND external_id = ?", channel, externalID).
		First(&link).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, domain.ErrUserNotFound
		}
		return domain.User{}, err
	}
	return r.GetUser(ctx, link.UserID)
}

func (r *UserGormRepository) Link(ctx context.Context, userID, channel, externalID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing userExternalIDModel
		err := tx.Where("channel = ? AND external_id = ?", channel, externalID).First(&existing).Error
		switch {
		case err == nil:
			if existing.UserID == userID {
				return nil
			}
			return domain.ErrExternalIDLinked
		case errors.Is(err, gorm.ErrRecordNotFound):
			link := userExternalIDModel{
				UserID:     userID,
				Channel:    channel,
				ExternalID: externalID,
				CreatedAt:  time.Now().UTC(),
			}
			return tx.Create(&link).Error
		default:
			return err
		}
	})
}

func (r *UserGormRepository) ListExternalIDs(ctx context.Context, userID string) ([]domain.ExternalID, error) {
	var models []userExternalIDModel
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.ExternalID, len(models))
	for i, m := range models {
		res[i] = domain.ExternalID{
			ID:         m.ID,
			UserID:     m.UserID,
			Channel:    m.Channel,
			ExternalID: m.ExternalID,
			CreatedAt:  m.CreatedAt,
		}
	}
	return res, nil
}
