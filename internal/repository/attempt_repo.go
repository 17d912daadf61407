package repository

import (
	"context"
	"time"

	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"gorm.io/gorm"
)

type AttemptRepository interface {
	Create(ctx context.Context, a *domain.SendAttempt) error
	GetByRecipientID(ctx context.Context, tenantID, recipientID string) ([]domain.SendAttempt, error)
	RecentOutcomes(ctx context.Context, tenantID string, since time.Time, limit int) ([]domain.OutcomeEvent, error)
}

type GormAttemptRepo struct {
	db *gorm.DB
}

func NewGormAttemptRepo(db *gorm.DB) *GormAttemptRepo {
	return &GormAttemptRepo{db: db}
}

func (r *GormAttemptRepo) Create(ctx context.Context, a *domain.SendAttempt) error {
	model := attemptModelFromDomain(a)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if a != nil {
		*a = *attemptModelToDomain(model)
	}
	return nil
}

func (r *GormAttemptRepo) GetByRecipientID(ctx context.Context, tenantID, recipientID string) ([]domain.SendAttempt, error) {
	var models []SendAttemptModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND recipient_id = ?", tenantID, recipientID).
		Order("attempt_number ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	attempts := make([]domain.SendAttempt, 0, len(models))
	for i := range models {
		attempts = append(attempts, *attemptModelToDomain(&models[i]))
	}

	return attempts, nil
}

// RecentOutcomes returns the newest send outcomes of the tenant since the
// given time, newest first, for billing detection.
func (r *GormAttemptRepo) RecentOutcomes(ctx context.Context, tenantID string, since time.Time, limit int) ([]domain.OutcomeEvent, error) {
	var models []SendAttemptModel
	err := r.db.WithContext(ctx).
		Select("error_code", "error", "created_at").
		Where("tenant_id = ? AND created_at >= ?", tenantID, since).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	events := make([]domain.OutcomeEvent, 0, len(models))
	for _, m := range models {
		event := domain.OutcomeEvent{At: m.CreatedAt, Success: m.Error == nil}
		if m.ErrorCode != nil {
			event.ErrorCode = *m.ErrorCode
		}
		if m.Error != nil {
			event.ErrorMessage = *m.Error
		}
		events = append(events, event)
	}
	return events, nil
}
