package repository

import (
	"context"
	"time"

	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PendingReceiptRepository interface {
	Save(ctx context.Context, receipt *domain.PendingReceipt) error
	ListMatched(ctx context.Context, limit int) ([]domain.PendingReceipt, error)
	Delete(ctx context.Context, id string) error
	PruneBefore(ctx context.Context, before time.Time) (int64, error)
}

type GormPendingReceiptRepo struct {
	db *gorm.DB
}

func NewGormPendingReceiptRepo(db *gorm.DB) *GormPendingReceiptRepo {
	return &GormPendingReceiptRepo{db: db}
}

// Save parks receipt once per (tenant, message id, status); provider
// redeliveries of the same event are no-ops.
func (r *GormPendingReceiptRepo) Save(ctx context.Context, receipt *domain.PendingReceipt) error {
	model := pendingReceiptModelFromDomain(receipt)
	if model == nil {
		return nil
	}

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "provider_message_id"}, {Name: "status"}},
			DoNothing: true,
		}).
		Create(model).Error
}

// ListMatched returns parked receipts whose message id now belongs to a
// recipient, oldest event first.
func (r *GormPendingReceiptRepo) ListMatched(ctx context.Context, limit int) ([]domain.PendingReceipt, error) {
	var models []PendingReceiptModel
	err := r.db.WithContext(ctx).
		Joins(`JOIN campaign_recipients ON campaign_recipients.tenant_id = pending_receipts.tenant_id AND campaign_recipients.provider_message_id = pending_receipts.provider_message_id`).
		Order("pending_receipts.event_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	receipts := make([]domain.PendingReceipt, 0, len(models))
	for i := range models {
		receipts = append(receipts, *pendingReceiptModelToDomain(&models[i]))
	}
	return receipts, nil
}

func (r *GormPendingReceiptRepo) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&PendingReceiptModel{}).Error
}

// PruneBefore drops receipts that never matched a campaign send, such as
// statuses for messages sent outside the engine.
func (r *GormPendingReceiptRepo) PruneBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Where("received_at < ?", before).Delete(&PendingReceiptModel{})
	return result.RowsAffected, result.Error
}

// replayPendingReceipts applies, forward-only, the receipts parked for rec's
// message id and drops them. It runs inside the transaction that stored the id.
func replayPendingReceipts(tx *gorm.DB, rec *domain.Recipient) error {
	if rec.ProviderMessageID == nil {
		return nil
	}

	var models []PendingReceiptModel
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ? AND provider_message_id = ?", rec.TenantID, *rec.ProviderMessageID).
		Order("event_at ASC").
		Find(&models).Error
	if err != nil || len(models) == 0 {
		return err
	}

	ids := make([]string, 0, len(models))
	for i := range models {
		rec.Apply(pendingReceiptModelToDomain(&models[i]).Event.Change())
		ids = append(ids, models[i].ID)
	}
	return tx.Where("id IN ?", ids).Delete(&PendingReceiptModel{}).Error
}
