package repository

import (
	"context"
	"errors"
	"time"

	"github.com/automagik/omni/access/domain"
	"gorm.io/gorm"
)

// Global rules store instance_name as the empty string rather than NULL:
// NULLs never collide inside a unique index, which would let identical
// global rules in twice.
type accessRuleModel struct {
	ID           uint      `gorm:"primaryKey;autoIncrement"`
	PhonePattern string    `gorm:"column:phone_pattern;not null;uniqueIndex:idx_pattern_scope"`
	RuleType     string    `gorm:"column:rule_type;not null"`
	InstanceName string    `gorm:"column:instance_name;not null;default:'';uniqueIndex:idx_pattern_scope"`
	CreatedAt    time.Time `gorm:"column:created_at;not null"`
}

func (accessRuleModel) TableName() string { return "access_rules" }

type AccessRuleGormRepository struct {
	db *gorm.DB
}

func NewAccessRuleGormRepository(db *gorm.DB) *AccessRuleGormRepository {
	return &AccessRuleGormRepository{db: db}
}

func (r *AccessRuleGormRepository) Init(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&accessRuleModel{})
}

func (r *AccessRuleGormRepository) Candidates(ctx context.Context, instanceName string) ([]domain.AccessRule, error) {
	var models []accessRuleModel
	err := r.db.WithContext(ctx).
		Where("instance_name = ? OR instance_name = ''", instanceName).
		Order("id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return fromModels(models), nil
}

func (r *AccessRuleGormRepository) List(ctx context.Context, instanceName string) ([]domain.AccessRule, error) {
	q := r.db.WithContext(ctx).Order("id ASC")
	if instanceName != "" {
		q = q.Where("instance_name = ?", instanceName)
	}
	var models []accessRuleModel
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	return fromModels(models), nil
}

func (r *AccessRuleGormRepository) Create(ctx context.Context, rule domain.AccessRule) (domain.AccessRule, error) {
	m := toModel(rule)
	m.CreatedAt = time.Now().UTC()
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.AccessRule{}, domain.ErrRuleExists
		}
		return domain.AccessRule{}, err
	}
	return fromModel(m), nil
}

func (r *AccessRuleGormRepository) Delete(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&accessRuleModel{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrRuleNotFound
	}
	return nil
}

func toModel(rule domain.AccessRule) accessRuleModel {
	return accessRuleModel{
		ID:           rule.ID,
		PhonePattern: rule.PhonePattern,
		RuleType:     string(rule.RuleType),
		InstanceName: rule.InstanceName,
		CreatedAt:    rule.CreatedAt,
	}
}

func fromModel(m accessRuleModel) domain.AccessRule {
	return domain.AccessRule{
		ID:           m.ID,
		PhonePattern: m.PhonePattern,
		RuleType:     domain.RuleType(m.RuleType),
		InstanceName: m.InstanceName,
		CreatedAt:    m.CreatedAt,
	}
}

func fromModels(models []accessRuleModel) []domain.AccessRule {
	res := make([]domain.AccessRule, len(models))
	for i, m := range models {
		res[i] = fromModel(m)
	}
	return res
}
