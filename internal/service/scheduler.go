package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"github.com/kursadbilgin/campaign-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultSchedulerScanInterval = 5 * time.Second
	defaultSchedulerScanLimit    = 100
)

// ScheduledStarter starts a due scheduled campaign.
type ScheduledStarter interface {
	StartScheduled(ctx context.Context, tenantID, id string) (*domain.Campaign, error)
}

// Scheduler periodically starts scheduled campaigns whose time has come.
type Scheduler struct {
	campaigns repository.CampaignRepository
	starter   ScheduledStarter
	logger    *zap.Logger
	interval  time.Duration
	limit     int
	now       func() time.Time
}

func NewScheduler(
	campaigns repository.CampaignRepository,
	starter ScheduledStarter,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*Scheduler, error) {
	if campaigns == nil {
		return nil, fmt.Errorf("campaign repository is required")
	}
	if starter == nil {
		return nil, fmt.Errorf("campaign starter is required")
	}
	if interval <= 0 {
		interval = defaultSchedulerScanInterval
	}
	if limit <= 0 {
		limit = defaultSchedulerScanLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scheduler{
		campaigns: campaigns,
		starter:   starter,
		logger:    logger,
		interval:  interval,
		limit:     limit,
		now:       time.Now,
	}, nil
}

func (s *Scheduler) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.scanDue(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("scheduler initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.scanDue(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("scheduler scan failed", zap.Error(err))
			}
		}
	}
}

func (s *Scheduler) scanDue(ctx context.Context) error {
	due, err := s.campaigns.ListDueScheduled(ctx, s.now().UTC(), s.limit)
	if err != nil {
		return fmt.Errorf("failed to fetch due scheduled campaigns: %w", err)
	}

	for i := range due {
		campaign := due[i]
		if _, err := s.starter.StartScheduled(ctx, campaign.TenantID, campaign.ID); err != nil {
			level := s.logger.Error
			if errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrValidation) {
				// Not sendable yet (template pending, channel disconnected); the
				// next scan tries again.
				level = s.logger.Warn
			}
			level("failed to start scheduled campaign",
				zap.String("campaignId", campaign.ID),
				zap.String("tenantId", campaign.TenantID),
				zap.Error(err),
			)
			continue
		}

		s.logger.Info("scheduled campaign started",
			zap.String("campaignId", campaign.ID),
			zap.String("tenantId", campaign.TenantID),
		)
	}

	return nil
}
