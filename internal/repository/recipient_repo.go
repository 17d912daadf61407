package repository

import (
	"context"
	"time"

	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type RecipientListParams struct {
	Status   *domain.RecipientStatus
	Page     int
	PageSize int
}

// TransitionResult reports the outcome of a status change request.
// Applied is false when the change was not a forward move.
type TransitionResult struct {
	Recipient *domain.Recipient
	From      domain.RecipientStatus
	Applied   bool
}

type RecipientRepository interface {
	GetByID(ctx context.Context, tenantID, id string) (*domain.Recipient, error)
	ListQueued(ctx context.Context, campaignID string, restrictTo []string, afterID string, limit int) ([]domain.Recipient, error)
	Claim(ctx context.Context, id string, at time.Time) (bool, error)
	ReleaseClaim(ctx context.Context, id string) error
	Transition(ctx context.Context, tenantID, id string, change domain.RecipientChange) (*TransitionResult, error)
	TransitionByProviderMessageID(ctx context.Context, tenantID, providerMessageID string, change domain.RecipientChange) (*TransitionResult, error)
	ListStaleClaims(ctx context.Context, claimedBefore time.Time, limit int) ([]domain.Recipient, error)
	RecentFailures(ctx context.Context, tenantID string, since time.Time, limit int) ([]domain.OutcomeEvent, error)
	List(ctx context.Context, tenantID, campaignID string, params RecipientListParams) ([]domain.Recipient, int64, error)
}

type GormRecipientRepo struct {
	db *gorm.DB
}

func NewGormRecipientRepo(db *gorm.DB) *GormRecipientRepo {
	return &GormRecipientRepo{db: db}
}

func (r *GormRecipientRepo) GetByID(ctx context.Context, tenantID, id string) (*domain.Recipient, error) {
	var model RecipientModel
	err := r.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&model).Error
	if err != nil {
		return nil, notFound(err)
	}
	return recipientModelToDomain(&model), nil
}

// ListQueued returns unclaimed queued recipients after afterID in id order.
// A non-empty restrictTo limits the page to those ids.
func (r *GormRecipientRepo) ListQueued(ctx context.Context, campaignID string, restrictTo []string, afterID string, limit int) ([]domain.Recipient, error) {
	query := r.db.WithContext(ctx).
		Where("campaign_id = ? AND status = ? AND claimed_at IS NULL", campaignID, domain.RecipientStatusQueued)
	if len(restrictTo) > 0 {
		query = query.Where("id IN ?", restrictTo)
	}
	if afterID != "" {
		query = query.Where("id > ?", afterID)
	}

	var models []RecipientModel
	if err := query.Order("id ASC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}

	recipients := make([]domain.Recipient, 0, len(models))
	for i := range models {
		recipients = append(recipients, *recipientModelToDomain(&models[i]))
	}
	return recipients, nil
}

// Claim marks a queued recipient as in flight. It reports false when another
// worker already claimed it or it is no longer queued.
func (r *GormRecipientRepo) Claim(ctx context.Context, id string, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&RecipientModel{}).
		Where("id = ? AND status = ? AND claimed_at IS NULL", id, domain.RecipientStatusQueued).
		Updates(map[string]any{
			"claimed_at":    at,
			"attempt_count": gorm.Expr("attempt_count + 1"),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ReleaseClaim returns a claimed recipient to the queue. Only valid before
// the provider was called.
func (r *GormRecipientRepo) ReleaseClaim(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&RecipientModel{}).
		Where("id = ? AND status = ? AND claimed_at IS NOT NULL", id, domain.RecipientStatusQueued).
		Updates(map[string]any{
			"claimed_at":    nil,
			"attempt_count": gorm.Expr("GREATEST(attempt_count - 1, 0)"),
		}).Error
}

func (r *GormRecipientRepo) Transition(ctx context.Context, tenantID, id string, change domain.RecipientChange) (*TransitionResult, error) {
	return r.transition(ctx, change, func(db *gorm.DB) *gorm.DB {
		return db.Where("id = ? AND tenant_id = ?", id, tenantID)
	})
}

func (r *GormRecipientRepo) TransitionByProviderMessageID(ctx context.Context, tenantID, providerMessageID string, change domain.RecipientChange) (*TransitionResult, error) {
	return r.transition(ctx, change, func(db *gorm.DB) *gorm.DB {
		return db.Where("tenant_id = ? AND provider_message_id = ?", tenantID, providerMessageID)
	})
}

// transition applies change under row locks on the campaign and then the
// recipient, so the counter buckets move in the same transaction as the row.
// A change that assigns the provider message id also replays the receipts
// parked for that id.
func (r *GormRecipientRepo) transition(ctx context.Context, change domain.RecipientChange, scope func(*gorm.DB) *gorm.DB) (*TransitionResult, error) {
	if err := change.Validate(); err != nil {
		return nil, err
	}

	var probe RecipientModel
	if err := scope(r.db.WithContext(ctx).Model(&RecipientModel{})).Select("id", "campaign_id").First(&probe).Error; err != nil {
		return nil, notFound(err)
	}

	result := &TransitionResult{}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var campaign CampaignModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id").
			First(&campaign, "id = ?", probe.CampaignID).Error
		if err != nil {
			return notFound(err)
		}

		var model RecipientModel
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&model, "id = ?", probe.ID).Error
		if err != nil {
			return notFound(err)
		}

		rec := recipientModelToDomain(&model)
		result.From = rec.Status
		result.Recipient = rec
		assignsID := rec.ProviderMessageID == nil
		if !rec.Apply(change) {
			return nil
		}
		if assignsID && rec.ProviderMessageID != nil {
			if err := replayPendingReceipts(tx, rec); err != nil {
				return err
			}
		}

		err = tx.Model(&RecipientModel{}).Where("id = ?", rec.ID).Updates(map[string]any{
			"status":              rec.Status,
			"provider_message_id": rec.ProviderMessageID,
			"error_code":          rec.ErrorCode,
			"last_error":          rec.LastError,
			"claimed_at":          rec.ClaimedAt,
			"sent_at":             rec.SentAt,
			"delivered_at":        rec.DeliveredAt,
			"read_at":             rec.ReadAt,
			"failed_at":           rec.FailedAt,
		}).Error
		if err != nil {
			return err
		}

		if err := applyCounterDelta(tx, probe.CampaignID, result.From, rec.Status); err != nil {
			return err
		}
		result.Applied = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func applyCounterDelta(tx *gorm.DB, campaignID string, from, to domain.RecipientStatus) error {
	updates := map[string]any{}
	if col := counterColumn(from); col != "" {
		updates[col] = gorm.Expr(col + " - 1")
	}
	if col := counterColumn(to); col != "" {
		updates[col] = gorm.Expr(col + " + 1")
	}
	if len(updates) == 0 {
		return nil
	}
	return tx.Model(&CampaignModel{}).Where("id = ?", campaignID).Updates(updates).Error
}

// ListStaleClaims finds queued recipients claimed before claimedBefore whose
// worker never recorded an outcome.
func (r *GormRecipientRepo) ListStaleClaims(ctx context.Context, claimedBefore time.Time, limit int) ([]domain.Recipient, error) {
	var models []RecipientModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND claimed_at IS NOT NULL AND claimed_at <= ?", domain.RecipientStatusQueued, claimedBefore).
		Order("claimed_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	recipients := make([]domain.Recipient, 0, len(models))
	for i := range models {
		recipients = append(recipients, *recipientModelToDomain(&models[i]))
	}
	return recipients, nil
}

// RecentFailures returns the tenant's failed recipients since the given time,
// newest first. It covers failures reported asynchronously by webhooks, which
// never produce a send attempt.
func (r *GormRecipientRepo) RecentFailures(ctx context.Context, tenantID string, since time.Time, limit int) ([]domain.OutcomeEvent, error) {
	var models []RecipientModel
	err := r.db.WithContext(ctx).
		Select("error_code", "last_error", "failed_at").
		Where("tenant_id = ? AND status = ? AND failed_at >= ?", tenantID, domain.RecipientStatusFailed, since).
		Order("failed_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	events := make([]domain.OutcomeEvent, 0, len(models))
	for _, m := range models {
		if m.FailedAt == nil {
			continue
		}
		event := domain.OutcomeEvent{At: *m.FailedAt}
		if m.ErrorCode != nil {
			event.ErrorCode = *m.ErrorCode
		}
		if m.LastError != nil {
			event.ErrorMessage = *m.LastError
		}
		events = append(events, event)
	}
	return events, nil
}

func (r *GormRecipientRepo) List(ctx context.Context, tenantID, campaignID string, params RecipientListParams) ([]domain.Recipient, int64, error) {
	query := r.db.WithContext(ctx).
		Model(&RecipientModel{}).
		Where("tenant_id = ? AND campaign_id = ?", tenantID, campaignID)
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page, pageSize := normalizePage(params.Page, params.PageSize)

	var models []RecipientModel
	err := query.
		Order("id ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	recipients := make([]domain.Recipient, 0, len(models))
	for i := range models {
		recipients = append(recipients, *recipientModelToDomain(&models[i]))
	}
	return recipients, total, nil
}
