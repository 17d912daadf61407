package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"github.com/kursadbilgin/campaign-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultBillingAlertTTL = 24 * time.Hour
	defaultOutcomeWindow   = 200
)

type DashboardService struct {
	campaigns     repository.CampaignRepository
	contacts      repository.ContactRepository
	recipients    repository.RecipientRepository
	attempts      repository.AttemptRepository
	billingTTL    time.Duration
	outcomeWindow int
	logger        *zap.Logger
	now           func() time.Time
}

// DashboardSummary is the tenant overview shown on the console home page.
type DashboardSummary struct {
	CampaignsByStatus map[domain.CampaignStatus]int64
	Counters          domain.CampaignCounters
	Contacts          int64
	Billing           domain.BillingAlert
}

func NewDashboardService(
	campaigns repository.CampaignRepository,
	contacts repository.ContactRepository,
	recipients repository.RecipientRepository,
	attempts repository.AttemptRepository,
	billingTTL time.Duration,
	logger *zap.Logger,
) (*DashboardService, error) {
	if campaigns == nil || contacts == nil || recipients == nil || attempts == nil {
		return nil, fmt.Errorf("dashboard repositories are required")
	}
	if billingTTL <= 0 {
		billingTTL = defaultBillingAlertTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DashboardService{
		campaigns:     campaigns,
		contacts:      contacts,
		recipients:    recipients,
		attempts:      attempts,
		billingTTL:    billingTTL,
		outcomeWindow: defaultOutcomeWindow,
		logger:        logger,
		now:           time.Now,
	}, nil
}

func (s *DashboardService) Summary(ctx context.Context, tenantID string) (*DashboardSummary, error) {
	totals, err := s.campaigns.Totals(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load campaign totals: %w", err)
	}
	contacts, err := s.contacts.Count(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to count contacts: %w", err)
	}
	billing, err := s.BillingAlert(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	return &DashboardSummary{
		CampaignsByStatus: totals.CampaignsByStatus,
		Counters:          totals.Counters,
		Contacts:          contacts,
		Billing:           billing,
	}, nil
}

// BillingAlert evaluates the tenant's newest outcomes within the alert
// window. Send attempts carry synchronous results; failed recipients add
// failures the provider reported later by webhook.
func (s *DashboardService) BillingAlert(ctx context.Context, tenantID string) (domain.BillingAlert, error) {
	now := s.now().UTC()
	since := now.Add(-s.billingTTL)

	events, err := s.attempts.RecentOutcomes(ctx, tenantID, since, s.outcomeWindow)
	if err != nil {
		return domain.BillingAlert{}, fmt.Errorf("failed to load recent outcomes: %w", err)
	}
	failures, err := s.recipients.RecentFailures(ctx, tenantID, since, s.outcomeWindow)
	if err != nil {
		return domain.BillingAlert{}, fmt.Errorf("failed to load recent failures: %w", err)
	}

	return domain.DetectBillingIssue(append(events, failures...), now, s.billingTTL), nil
}
