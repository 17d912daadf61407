package repository

import (
	"context"

	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type InboxListParams struct {
	ChannelID string
	Page      int
	PageSize  int
}

type InboundMessageRepository interface {
	Save(ctx context.Context, msg *domain.InboundMessage) (bool, error)
	List(ctx context.Context, tenantID string, params InboxListParams) ([]domain.InboundMessage, int64, error)
}

type GormInboundMessageRepo struct {
	db *gorm.DB
}

func NewGormInboundMessageRepo(db *gorm.DB) *GormInboundMessageRepo {
	return &GormInboundMessageRepo{db: db}
}

// Save stores msg once per (channel, provider message id) and reports whether
// a new row was written. Provider redeliveries are no-ops.
func (r *GormInboundMessageRepo) Save(ctx context.Context, msg *domain.InboundMessage) (bool, error) {
	model := inboundModelFromDomain(msg)
	if model == nil {
		return false, nil
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "channel_id"}, {Name: "provider_message_id"}},
			DoNothing: true,
		}).
		Create(model)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *GormInboundMessageRepo) List(ctx context.Context, tenantID string, params InboxListParams) ([]domain.InboundMessage, int64, error) {
	query := r.db.WithContext(ctx).Model(&InboundMessageModel{}).Where("tenant_id = ?", tenantID)
	if params.ChannelID != "" {
		query = query.Where("channel_id = ?", params.ChannelID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page, pageSize := normalizePage(params.Page, params.PageSize)

	var models []InboundMessageModel
	err := query.
		Order("received_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	messages := make([]domain.InboundMessage, 0, len(models))
	for i := range models {
		messages = append(messages, *inboundModelToDomain(&models[i]))
	}
	return messages, total, nil
}
