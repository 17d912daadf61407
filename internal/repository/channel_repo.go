package repository

import (
	"context"

	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"gorm.io/gorm"
)

type ChannelRepository interface {
	Create(ctx context.Context, c *domain.Channel) error
	GetByID(ctx context.Context, tenantID, id string) (*domain.Channel, error)
	// Lookup resolves a channel from a webhook URL, before the tenant is known.
	Lookup(ctx context.Context, id string) (*domain.Channel, error)
	List(ctx context.Context, tenantID string) ([]domain.Channel, error)
	SetStatus(ctx context.Context, tenantID, id string, status domain.ChannelStatus) error
}

type GormChannelRepo struct {
	db *gorm.DB
}

func NewGormChannelRepo(db *gorm.DB) *GormChannelRepo {
	return &GormChannelRepo{db: db}
}

func (r *GormChannelRepo) Create(ctx context.Context, c *domain.Channel) error {
	model := channelModelFromDomain(c)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return err
	}
	if c != nil {
		*c = *channelModelToDomain(model)
	}
	return nil
}

func (r *GormChannelRepo) GetByID(ctx context.Context, tenantID, id string) (*domain.Channel, error) {
	var model ChannelModel
	err := r.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&model).Error
	if err != nil {
		return nil, notFound(err)
	}
	return channelModelToDomain(&model), nil
}

func (r *GormChannelRepo) Lookup(ctx context.Context, id string) (*domain.Channel, error) {
	var model ChannelModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return channelModelToDomain(&model), nil
}

func (r *GormChannelRepo) List(ctx context.Context, tenantID string) ([]domain.Channel, error) {
	var models []ChannelModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	channels := make([]domain.Channel, 0, len(models))
	for i := range models {
		channels = append(channels, *channelModelToDomain(&models[i]))
	}
	return channels, nil
}

func (r *GormChannelRepo) SetStatus(ctx context.Context, tenantID, id string, status domain.ChannelStatus) error {
	result := r.db.WithContext(ctx).
		Model(&ChannelModel{}).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
