package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"github.com/kursadbilgin/campaign-engine/internal/observability"
	"github.com/kursadbilgin/campaign-engine/internal/queue"
	"github.com/kursadbilgin/campaign-engine/internal/repository"
	"go.uber.org/zap"
)

const maxCampaignRecipients = 100000

type CampaignService struct {
	campaigns  repository.CampaignRepository
	recipients repository.RecipientRepository
	contacts   repository.ContactRepository
	templates  repository.TemplateRepository
	channels   repository.ChannelRepository
	attempts   repository.AttemptRepository
	locker     CampaignLocker
	publisher  queue.Publisher
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time
}

// CreateCampaignInput carries the fields of a new campaign.
type CreateCampaignInput struct {
	TenantID    string
	Name        string
	TemplateID  string
	ChannelID   string
	ContactIDs  []string
	Variables   map[string]string
	ScheduledAt *time.Time
}

// CampaignStats is the aggregation view of a campaign.
type CampaignStats struct {
	Campaign *domain.Campaign
	Queued   int
	// Complete is true only when nothing is queued and nothing failed.
	Complete bool
}

func NewCampaignService(
	campaigns repository.CampaignRepository,
	recipients repository.RecipientRepository,
	contacts repository.ContactRepository,
	templates repository.TemplateRepository,
	channels repository.ChannelRepository,
	attempts repository.AttemptRepository,
	locker CampaignLocker,
	publisher queue.Publisher,
	logger *zap.Logger,
) (*CampaignService, error) {
	if campaigns == nil || recipients == nil || contacts == nil || templates == nil || channels == nil || attempts == nil {
		return nil, fmt.Errorf("campaign service repositories are required")
	}
	if locker == nil {
		return nil, fmt.Errorf("campaign locker is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CampaignService{
		campaigns:  campaigns,
		recipients: recipients,
		contacts:   contacts,
		templates:  templates,
		channels:   channels,
		attempts:   attempts,
		locker:     locker,
		publisher:  publisher,
		logger:     logger,
		now:        time.Now,
	}, nil
}

func (s *CampaignService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Create stores a draft (or scheduled) campaign with one recipient per
// distinct contact. Contacts whose phone cannot be normalized become skipped
// recipients so the operator sees why they were left out.
func (s *CampaignService) Create(ctx context.Context, in CreateCampaignInput) (*domain.Campaign, error) {
	now := s.now().UTC()

	campaign := &domain.Campaign{
		ID:         uuid.NewString(),
		TenantID:   in.TenantID,
		Name:       strings.TrimSpace(in.Name),
		TemplateID: in.TemplateID,
		ChannelID:  in.ChannelID,
		Variables:  normalizeVariables(in.Variables),
		Status:     domain.CampaignStatusDraft,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if in.ScheduledAt != nil {
		at := in.ScheduledAt.UTC()
		campaign.ScheduledAt = &at
		if at.After(now) {
			campaign.Status = domain.CampaignStatusScheduled
		}
	}
	if err := campaign.Validate(); err != nil {
		return nil, err
	}

	contactIDs := uniqueIDs(in.ContactIDs)
	if len(contactIDs) == 0 {
		return nil, fmt.Errorf("%w: at least one contact is required", domain.ErrValidation)
	}
	if len(contactIDs) > maxCampaignRecipients {
		return nil, fmt.Errorf("%w: campaign exceeds %d recipients", domain.ErrValidation, maxCampaignRecipients)
	}

	if _, err := s.templates.GetByID(ctx, in.TenantID, in.TemplateID); err != nil {
		return nil, notFoundAs(err, "template")
	}
	if _, err := s.channels.GetByID(ctx, in.TenantID, in.ChannelID); err != nil {
		return nil, notFoundAs(err, "channel")
	}

	contacts, err := s.contacts.ListByIDs(ctx, in.TenantID, contactIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load contacts: %w", err)
	}
	if len(contacts) != len(contactIDs) {
		return nil, fmt.Errorf("%w: %d of %d contacts do not exist", domain.ErrValidation, len(contactIDs)-len(contacts), len(contactIDs))
	}

	recipients := make([]*domain.Recipient, 0, len(contacts))
	for i := range contacts {
		contact := contacts[i]
		rec := &domain.Recipient{
			ID:         uuid.NewString(),
			TenantID:   in.TenantID,
			CampaignID: campaign.ID,
			ContactID:  contact.ID,
			Phone:      contact.Phone,
			Status:     domain.RecipientStatusQueued,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if phone, err := domain.NormalizePhone(contact.Phone); err != nil {
			msg := err.Error()
			rec.Status = domain.RecipientStatusSkipped
			rec.LastError = &msg
			campaign.Counters.Skipped++
		} else {
			rec.Phone = phone
		}
		recipients = append(recipients, rec)
	}
	campaign.Counters.Total = len(recipients)

	if err := s.campaigns.Create(ctx, campaign, recipients); err != nil {
		return nil, fmt.Errorf("failed to create campaign: %w", err)
	}

	observability.WithContextLogger(s.logger, ctx).Info("campaign created",
		zap.String("campaignId", campaign.ID),
		zap.Int("recipients", campaign.Counters.Total),
		zap.Int("skipped", campaign.Counters.Skipped),
		zap.String("status", campaign.Status.String()),
	)
	return campaign, nil
}

// Start moves a draft or scheduled campaign to running and enqueues its
// dispatch job.
func (s *CampaignService) Start(ctx context.Context, tenantID, id string) (*domain.Campaign, error) {
	return s.start(ctx, tenantID, id, queue.JobReasonStart)
}

// StartScheduled starts a scheduled campaign whose time has come.
func (s *CampaignService) StartScheduled(ctx context.Context, tenantID, id string) (*domain.Campaign, error) {
	return s.start(ctx, tenantID, id, queue.JobReasonScheduled)
}

func (s *CampaignService) start(ctx context.Context, tenantID, id string, reason queue.JobReason) (*domain.Campaign, error) {
	campaign, err := s.campaigns.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if campaign.Status != domain.CampaignStatusDraft && campaign.Status != domain.CampaignStatusScheduled {
		return nil, fmt.Errorf("%w: campaign is %s, only draft or scheduled campaigns can start", domain.ErrConflict, campaign.Status)
	}
	if err := s.checkSendable(ctx, campaign); err != nil {
		return nil, err
	}

	updated, err := s.campaigns.Transition(ctx, tenantID, id, domain.CampaignStatusRunning, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if err := s.enqueue(ctx, updated, nil, reason); err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *CampaignService) Pause(ctx context.Context, tenantID, id string) (*domain.Campaign, error) {
	return s.campaigns.Transition(ctx, tenantID, id, domain.CampaignStatusPaused, s.now().UTC())
}

func (s *CampaignService) Resume(ctx context.Context, tenantID, id string) (*domain.Campaign, error) {
	campaign, err := s.campaigns.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if campaign.Status != domain.CampaignStatusPaused {
		return nil, fmt.Errorf("%w: campaign is %s, only paused campaigns can resume", domain.ErrConflict, campaign.Status)
	}
	if err := s.checkSendable(ctx, campaign); err != nil {
		return nil, err
	}

	updated, err := s.campaigns.Transition(ctx, tenantID, id, domain.CampaignStatusRunning, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if err := s.enqueue(ctx, updated, nil, queue.JobReasonResume); err != nil {
		return nil, err
	}
	return updated, nil
}

// Cancel stops the campaign; queued recipients become skipped. It returns
// the number of recipients skipped.
func (s *CampaignService) Cancel(ctx context.Context, tenantID, id string) (*domain.Campaign, int64, error) {
	campaign, skipped, err := s.campaigns.Cancel(ctx, tenantID, id, s.now().UTC())
	if err != nil {
		return nil, 0, err
	}
	observability.WithContextLogger(s.logger, ctx).Info("campaign cancelled",
		zap.String("campaignId", id),
		zap.Int64("skipped", skipped),
	)
	return campaign, skipped, nil
}

// Retry re-queues the failed recipients of a paused or done campaign and
// enqueues a dispatch restricted to exactly those recipients. It returns the
// number of recipients reset; zero leaves the campaign untouched.
func (s *CampaignService) Retry(ctx context.Context, tenantID, id string) (int, error) {
	held, err := s.locker.Held(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("failed to check campaign lock: %w", err)
	}
	if held {
		return 0, fmt.Errorf("%w: a dispatch for this campaign is still active", domain.ErrLocked)
	}

	campaign, err := s.campaigns.GetByID(ctx, tenantID, id)
	if err != nil {
		return 0, err
	}
	if !campaign.Status.Retryable() {
		return 0, fmt.Errorf("%w: campaign is %s, retry needs paused or done", domain.ErrConflict, campaign.Status)
	}
	if err := s.checkSendable(ctx, campaign); err != nil {
		return 0, err
	}

	updated, ids, err := s.campaigns.ResetFailed(ctx, tenantID, id, s.now().UTC())
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	if err := s.enqueue(ctx, updated, ids, queue.JobReasonRetry); err != nil {
		return 0, err
	}

	s.metrics.IncRetriesRequested()
	observability.WithContextLogger(s.logger, ctx).Info("campaign retry requested",
		zap.String("campaignId", id),
		zap.Int("reset", len(ids)),
	)
	return len(ids), nil
}

func (s *CampaignService) Get(ctx context.Context, tenantID, id string) (*domain.Campaign, error) {
	return s.campaigns.GetByID(ctx, tenantID, id)
}

func (s *CampaignService) List(ctx context.Context, tenantID string, params repository.CampaignListParams) ([]domain.Campaign, int64, error) {
	return s.campaigns.List(ctx, tenantID, params)
}

func (s *CampaignService) Delete(ctx context.Context, tenantID, id string) error {
	return s.campaigns.Delete(ctx, tenantID, id)
}

func (s *CampaignService) Stats(ctx context.Context, tenantID, id string) (*CampaignStats, error) {
	campaign, err := s.campaigns.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	return statsOf(campaign), nil
}

// Reconcile recomputes the counters from the recipient rows.
func (s *CampaignService) Reconcile(ctx context.Context, tenantID, id string) (*CampaignStats, error) {
	campaign, err := s.campaigns.ReconcileCounters(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	return statsOf(campaign), nil
}

func (s *CampaignService) Recipients(ctx context.Context, tenantID, campaignID string, params repository.RecipientListParams) ([]domain.Recipient, int64, error) {
	if _, err := s.campaigns.GetByID(ctx, tenantID, campaignID); err != nil {
		return nil, 0, err
	}
	return s.recipients.List(ctx, tenantID, campaignID, params)
}

// Attempts returns the provider calls made for one recipient.
func (s *CampaignService) Attempts(ctx context.Context, tenantID, recipientID string) ([]domain.SendAttempt, error) {
	if _, err := s.recipients.GetByID(ctx, tenantID, recipientID); err != nil {
		return nil, err
	}
	return s.attempts.GetByRecipientID(ctx, tenantID, recipientID)
}

func (s *CampaignService) checkSendable(ctx context.Context, campaign *domain.Campaign) error {
	tpl, err := s.templates.GetByID(ctx, campaign.TenantID, campaign.TemplateID)
	if err != nil {
		return notFoundAs(err, "template")
	}
	if tpl.Status != domain.TemplateStatusApproved {
		return fmt.Errorf("%w: template %s is %s, not approved", domain.ErrConflict, tpl.Name, tpl.Status)
	}

	channel, err := s.channels.GetByID(ctx, campaign.TenantID, campaign.ChannelID)
	if err != nil {
		return notFoundAs(err, "channel")
	}
	if channel.Status != domain.ChannelStatusConnected {
		return fmt.Errorf("%w: channel %s is %s", domain.ErrConflict, channel.Name, channel.Status)
	}
	return nil
}

// enqueue publishes the dispatch job. A campaign left running without a job
// would never drain, so a publish failure parks it as paused.
func (s *CampaignService) enqueue(ctx context.Context, campaign *domain.Campaign, recipientIDs []string, reason queue.JobReason) error {
	job := queue.DispatchJob{
		CampaignID:   campaign.ID,
		TenantID:     campaign.TenantID,
		RecipientIDs: recipientIDs,
		Reason:       reason,
	}
	if correlationID, ok := observability.CorrelationIDFromContext(ctx); ok {
		job.CorrelationID = correlationID
	}

	err := s.publisher.Publish(ctx, queue.DispatchQueue, job)
	if err == nil {
		return nil
	}

	logger := observability.WithContextLogger(s.logger, ctx)
	logger.Error("failed to publish dispatch job",
		zap.String("campaignId", campaign.ID),
		zap.String("reason", string(reason)),
		zap.Error(err),
	)
	if _, pauseErr := s.campaigns.Transition(ctx, campaign.TenantID, campaign.ID, domain.CampaignStatusPaused, s.now().UTC()); pauseErr != nil {
		logger.Error("failed to pause campaign after publish error",
			zap.String("campaignId", campaign.ID),
			zap.Error(pauseErr),
		)
		return fmt.Errorf("failed to publish dispatch job: %w (failed to pause campaign: %v)", err, pauseErr)
	}
	return fmt.Errorf("failed to publish dispatch job: %w", err)
}

func statsOf(c *domain.Campaign) *CampaignStats {
	return &CampaignStats{
		Campaign: c,
		Queued:   c.Counters.Queued(),
		Complete: c.Counters.Complete(),
	}
}

// notFoundAs turns a missing dependency into a validation error of the
// request that referenced it.
func notFoundAs(err error, what string) error {
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%w: %s does not exist", domain.ErrValidation, what)
	}
	return err
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func normalizeVariables(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		key := strings.ToLower(strings.TrimSpace(k))
		if key == "" {
			continue
		}
		out[key] = v
	}
	return out
}
