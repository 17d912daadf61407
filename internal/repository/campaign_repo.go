package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CampaignListParams struct {
	Status   *domain.CampaignStatus
	Page     int
	PageSize int
}

// DashboardTotals aggregates a tenant's campaigns.
type DashboardTotals struct {
	CampaignsByStatus map[domain.CampaignStatus]int64
	Counters          domain.CampaignCounters
}

type CampaignRepository interface {
	Create(ctx context.Context, c *domain.Campaign, recipients []*domain.Recipient) error
	GetByID(ctx context.Context, tenantID, id string) (*domain.Campaign, error)
	List(ctx context.Context, tenantID string, params CampaignListParams) ([]domain.Campaign, int64, error)
	Transition(ctx context.Context, tenantID, id string, to domain.CampaignStatus, at time.Time) (*domain.Campaign, error)
	Cancel(ctx context.Context, tenantID, id string, at time.Time) (*domain.Campaign, int64, error)
	ResetFailed(ctx context.Context, tenantID, id string, at time.Time) (*domain.Campaign, []string, error)
	CompleteIfDrained(ctx context.Context, tenantID, id string, at time.Time) (bool, error)
	ReconcileCounters(ctx context.Context, tenantID, id string) (*domain.Campaign, error)
	ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error)
	Delete(ctx context.Context, tenantID, id string) error
	Totals(ctx context.Context, tenantID string) (*DashboardTotals, error)
}

type GormCampaignRepo struct {
	db *gorm.DB
}

func NewGormCampaignRepo(db *gorm.DB) *GormCampaignRepo {
	return &GormCampaignRepo{db: db}
}

// Create stores the campaign and its recipient rows atomically.
func (r *GormCampaignRepo) Create(ctx context.Context, c *domain.Campaign, recipients []*domain.Recipient) error {
	model := campaignModelFromDomain(c)
	if model == nil {
		return nil
	}

	rows := make([]RecipientModel, 0, len(recipients))
	for _, rec := range recipients {
		if m := recipientModelFromDomain(rec); m != nil {
			rows = append(rows, *m)
		}
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(model).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.CreateInBatches(&rows, 500).Error
	})
	if err != nil {
		return err
	}

	*c = *campaignModelToDomain(model)
	return nil
}

func (r *GormCampaignRepo) GetByID(ctx context.Context, tenantID, id string) (*domain.Campaign, error) {
	var model CampaignModel
	err := r.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&model).Error
	if err != nil {
		return nil, notFound(err)
	}
	return campaignModelToDomain(&model), nil
}

func (r *GormCampaignRepo) List(ctx context.Context, tenantID string, params CampaignListParams) ([]domain.Campaign, int64, error) {
	query := r.db.WithContext(ctx).Model(&CampaignModel{}).Where("tenant_id = ?", tenantID)
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page, pageSize := normalizePage(params.Page, params.PageSize)

	var models []CampaignModel
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	campaigns := make([]domain.Campaign, 0, len(models))
	for i := range models {
		campaigns = append(campaigns, *campaignModelToDomain(&models[i]))
	}
	return campaigns, total, nil
}

func lockCampaign(tx *gorm.DB, tenantID, id string) (*CampaignModel, error) {
	var model CampaignModel
	err := tx.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&model).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &model, nil
}

// stampTransition moves model to status and returns the column updates.
func stampTransition(model *CampaignModel, to domain.CampaignStatus, at time.Time) map[string]any {
	model.Status = to
	updates := map[string]any{"status": to}

	switch to {
	case domain.CampaignStatusRunning:
		if model.StartedAt == nil {
			model.StartedAt = &at
			updates["started_at"] = at
		}
		model.PausedAt = nil
		model.CompletedAt = nil
		updates["paused_at"] = nil
		updates["completed_at"] = nil
	case domain.CampaignStatusPaused:
		model.PausedAt = &at
		updates["paused_at"] = at
	case domain.CampaignStatusDone, domain.CampaignStatusCancelled:
		model.CompletedAt = &at
		updates["completed_at"] = at
	}

	return updates
}

func (r *GormCampaignRepo) Transition(ctx context.Context, tenantID, id string, to domain.CampaignStatus, at time.Time) (*domain.Campaign, error) {
	var out *domain.Campaign
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model, err := lockCampaign(tx, tenantID, id)
		if err != nil {
			return err
		}
		if !model.Status.CanTransitionTo(to) {
			return fmt.Errorf("%w: campaign is %s, cannot move to %s", domain.ErrConflict, model.Status, to)
		}

		updates := stampTransition(model, to, at)
		if err := tx.Model(&CampaignModel{}).Where("id = ?", model.ID).Updates(updates).Error; err != nil {
			return err
		}
		out = campaignModelToDomain(model)
		return nil
	})
	return out, err
}

// Cancel moves the campaign to cancelled and every unclaimed queued recipient
// to skipped. Recipients already claimed by a worker finish their send.
func (r *GormCampaignRepo) Cancel(ctx context.Context, tenantID, id string, at time.Time) (*domain.Campaign, int64, error) {
	var (
		out     *domain.Campaign
		skipped int64
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model, err := lockCampaign(tx, tenantID, id)
		if err != nil {
			return err
		}
		if !model.Status.CanTransitionTo(domain.CampaignStatusCancelled) {
			return fmt.Errorf("%w: campaign is %s, cannot be cancelled", domain.ErrConflict, model.Status)
		}

		result := tx.Model(&RecipientModel{}).
			Where("campaign_id = ? AND status = ? AND claimed_at IS NULL", model.ID, domain.RecipientStatusQueued).
			Updates(map[string]any{
				"status":     domain.RecipientStatusSkipped,
				"last_error": "campaign cancelled",
			})
		if result.Error != nil {
			return result.Error
		}
		skipped = result.RowsAffected

		updates := stampTransition(model, domain.CampaignStatusCancelled, at)
		updates["skipped_count"] = gorm.Expr("skipped_count + ?", skipped)
		model.SkippedCount += int(skipped)

		if err := tx.Model(&CampaignModel{}).Where("id = ?", model.ID).Updates(updates).Error; err != nil {
			return err
		}
		out = campaignModelToDomain(model)
		return nil
	})
	return out, skipped, err
}

// ResetFailed moves every failed recipient back to queued, decrements the
// failed bucket by the same amount and sets the campaign running. It returns
// the reset ids; with none, the campaign is left untouched.
func (r *GormCampaignRepo) ResetFailed(ctx context.Context, tenantID, id string, at time.Time) (*domain.Campaign, []string, error) {
	var (
		out *domain.Campaign
		ids []string
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model, err := lockCampaign(tx, tenantID, id)
		if err != nil {
			return err
		}
		if !model.Status.Retryable() {
			return fmt.Errorf("%w: campaign is %s, retry needs paused or done", domain.ErrConflict, model.Status)
		}

		err = tx.Model(&RecipientModel{}).
			Where("campaign_id = ? AND status = ?", model.ID, domain.RecipientStatusFailed).
			Order("id ASC").
			Pluck("id", &ids).Error
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			out = campaignModelToDomain(model)
			return nil
		}

		result := tx.Model(&RecipientModel{}).
			Where("id IN ? AND status = ?", ids, domain.RecipientStatusFailed).
			Updates(map[string]any{
				"status":              domain.RecipientStatusQueued,
				"claimed_at":          nil,
				"provider_message_id": nil,
				"failed_at":           nil,
				"sent_at":             nil,
			})
		if result.Error != nil {
			return result.Error
		}

		updates := stampTransition(model, domain.CampaignStatusRunning, at)
		updates["failed_count"] = gorm.Expr("failed_count - ?", result.RowsAffected)
		model.FailedCount -= int(result.RowsAffected)

		if err := tx.Model(&CampaignModel{}).Where("id = ?", model.ID).Updates(updates).Error; err != nil {
			return err
		}
		out = campaignModelToDomain(model)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return out, ids, nil
}

// CompleteIfDrained marks a running campaign done once no recipient is queued.
func (r *GormCampaignRepo) CompleteIfDrained(ctx context.Context, tenantID, id string, at time.Time) (bool, error) {
	done := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model, err := lockCampaign(tx, tenantID, id)
		if err != nil {
			return err
		}
		if model.Status != domain.CampaignStatusRunning {
			return nil
		}

		var queued int64
		err = tx.Model(&RecipientModel{}).
			Where("campaign_id = ? AND status = ?", model.ID, domain.RecipientStatusQueued).
			Count(&queued).Error
		if err != nil {
			return err
		}
		if queued > 0 {
			return nil
		}

		updates := stampTransition(model, domain.CampaignStatusDone, at)
		if err := tx.Model(&CampaignModel{}).Where("id = ?", model.ID).Updates(updates).Error; err != nil {
			return err
		}
		done = true
		return nil
	})
	return done, err
}

type statusCount struct {
	Status domain.RecipientStatus `gorm:"column:status"`
	Count  int                    `gorm:"column:count"`
}

// ReconcileCounters recomputes the counter buckets from the recipient rows.
func (r *GormCampaignRepo) ReconcileCounters(ctx context.Context, tenantID, id string) (*domain.Campaign, error) {
	var out *domain.Campaign
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model, err := lockCampaign(tx, tenantID, id)
		if err != nil {
			return err
		}

		var rows []statusCount
		err = tx.Model(&RecipientModel{}).
			Select("status, COUNT(*) AS count").
			Where("campaign_id = ?", model.ID).
			Group("status").
			Scan(&rows).Error
		if err != nil {
			return err
		}

		counters := domain.CampaignCounters{}
		for _, row := range rows {
			counters.Total += row.Count
			switch row.Status {
			case domain.RecipientStatusSent:
				counters.Sent = row.Count
			case domain.RecipientStatusDelivered:
				counters.Delivered = row.Count
			case domain.RecipientStatusRead:
				counters.Read = row.Count
			case domain.RecipientStatusFailed:
				counters.Failed = row.Count
			case domain.RecipientStatusSkipped:
				counters.Skipped = row.Count
			}
		}

		err = tx.Model(&CampaignModel{}).Where("id = ?", model.ID).Updates(map[string]any{
			"total_count":     counters.Total,
			"sent_count":      counters.Sent,
			"delivered_count": counters.Delivered,
			"read_count":      counters.Read,
			"failed_count":    counters.Failed,
			"skipped_count":   counters.Skipped,
		}).Error
		if err != nil {
			return err
		}

		out = campaignModelToDomain(model)
		out.Counters = counters
		return nil
	})
	return out, err
}

func (r *GormCampaignRepo) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error) {
	var models []CampaignModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_at <= ?", domain.CampaignStatusScheduled, now).
		Order("scheduled_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	campaigns := make([]domain.Campaign, 0, len(models))
	for i := range models {
		campaigns = append(campaigns, *campaignModelToDomain(&models[i]))
	}
	return campaigns, nil
}

// Delete removes the campaign with its recipients and attempts. Running
// campaigns must be paused or cancelled first.
func (r *GormCampaignRepo) Delete(ctx context.Context, tenantID, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model, err := lockCampaign(tx, tenantID, id)
		if err != nil {
			return err
		}
		if model.Status == domain.CampaignStatusRunning {
			return fmt.Errorf("%w: running campaign cannot be deleted", domain.ErrConflict)
		}

		if err := tx.Where("campaign_id = ?", model.ID).Delete(&SendAttemptModel{}).Error; err != nil {
			return err
		}
		if err := tx.Where("campaign_id = ?", model.ID).Delete(&RecipientModel{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", model.ID).Delete(&CampaignModel{}).Error
	})
}

type campaignStatusTotal struct {
	Status    domain.CampaignStatus `gorm:"column:status"`
	Campaigns int64                 `gorm:"column:campaigns"`
	Total     int                   `gorm:"column:total"`
	Sent      int                   `gorm:"column:sent"`
	Delivered int                   `gorm:"column:delivered"`
	Read      int                   `gorm:"column:read"`
	Failed    int                   `gorm:"column:failed"`
	Skipped   int                   `gorm:"column:skipped"`
}

func (r *GormCampaignRepo) Totals(ctx context.Context, tenantID string) (*DashboardTotals, error) {
	var rows []campaignStatusTotal
	err := r.db.WithContext(ctx).
		Model(&CampaignModel{}).
		Select(`status, COUNT(*) AS campaigns,
			COALESCE(SUM(total_count), 0) AS total,
			COALESCE(SUM(sent_count), 0) AS sent,
			COALESCE(SUM(delivered_count), 0) AS delivered,
			COALESCE(SUM(read_count), 0) AS read,
			COALESCE(SUM(failed_count), 0) AS failed,
			COALESCE(SUM(skipped_count), 0) AS skipped`).
		Where("tenant_id = ?", tenantID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	totals := &DashboardTotals{CampaignsByStatus: make(map[domain.CampaignStatus]int64, len(rows))}
	for _, row := range rows {
		totals.CampaignsByStatus[row.Status] = row.Campaigns
		totals.Counters.Total += row.Total
		totals.Counters.Sent += row.Sent
		totals.Counters.Delivered += row.Delivered
		totals.Counters.Read += row.Read
		totals.Counters.Failed += row.Failed
		totals.Counters.Skipped += row.Skipped
	}
	return totals, nil
}
