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
	"github.com/kursadbilgin/campaign-engine/internal/provider"
	"github.com/kursadbilgin/campaign-engine/internal/queue"
	"github.com/kursadbilgin/campaign-engine/internal/ratelimit"
	"github.com/kursadbilgin/campaign-engine/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultDispatchBatchSize   = 100
	defaultDispatchConcurrency = 4
	defaultSendTimeout         = 30 * time.Second
	recordTimeout              = 10 * time.Second
)

const (
	dispatchOutcomeProcessed  = "processed"
	dispatchOutcomeLockHeld   = "lock_held"
	dispatchOutcomeNotRunning = "not_running"
	dispatchOutcomeStopped    = "stopped"
)

// DispatcherDeps groups the collaborators of a Dispatcher.
type DispatcherDeps struct {
	Campaigns   repository.CampaignRepository
	Recipients  repository.RecipientRepository
	Contacts    repository.ContactRepository
	Templates   repository.TemplateRepository
	Channels    repository.ChannelRepository
	Attempts    repository.AttemptRepository
	Providers   ProviderFactory
	RateLimiter ratelimit.RateLimiter
	Locker      CampaignLocker
	Publisher   queue.Publisher
}

// Dispatcher drains the queued recipients of a running campaign.
type Dispatcher struct {
	campaigns   repository.CampaignRepository
	recipients  repository.RecipientRepository
	contacts    repository.ContactRepository
	templates   repository.TemplateRepository
	channels    repository.ChannelRepository
	attempts    repository.AttemptRepository
	providers   ProviderFactory
	rateLimiter ratelimit.RateLimiter
	locker      CampaignLocker
	publisher   queue.Publisher
	logger      *zap.Logger
	metrics     *observability.Metrics
	batchSize   int
	concurrency int
	sendTimeout time.Duration
	now         func() time.Time
}

func NewDispatcher(deps DispatcherDeps, batchSize, concurrency int, logger *zap.Logger) (*Dispatcher, error) {
	switch {
	case deps.Campaigns == nil, deps.Recipients == nil, deps.Contacts == nil,
		deps.Templates == nil, deps.Channels == nil, deps.Attempts == nil:
		return nil, fmt.Errorf("dispatcher repositories are required")
	case deps.Providers == nil:
		return nil, fmt.Errorf("provider factory is required")
	case deps.RateLimiter == nil:
		return nil, fmt.Errorf("rate limiter is required")
	case deps.Locker == nil:
		return nil, fmt.Errorf("campaign locker is required")
	case deps.Publisher == nil:
		return nil, fmt.Errorf("publisher is required")
	}
	if batchSize <= 0 {
		batchSize = defaultDispatchBatchSize
	}
	if concurrency <= 0 {
		concurrency = defaultDispatchConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		campaigns:   deps.Campaigns,
		recipients:  deps.Recipients,
		contacts:    deps.Contacts,
		templates:   deps.Templates,
		channels:    deps.Channels,
		attempts:    deps.Attempts,
		providers:   deps.Providers,
		rateLimiter: deps.RateLimiter,
		locker:      deps.Locker,
		publisher:   deps.Publisher,
		logger:      logger,
		batchSize:   batchSize,
		concurrency: concurrency,
		sendTimeout: defaultSendTimeout,
		now:         time.Now,
	}, nil
}

func (d *Dispatcher) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
}

// SetSendTimeout bounds a single provider call once it is issued. It should
// match the provider client timeout.
func (d *Dispatcher) SetSendTimeout(timeout time.Duration) {
	if d == nil || timeout <= 0 {
		return
	}
	d.sendTimeout = timeout
}

// dispatchRun is the per-job state shared by the send goroutines.
type dispatchRun struct {
	job        queue.DispatchJob
	campaign   *domain.Campaign
	template   *domain.Template
	channel    *domain.Channel
	provider   provider.Provider
	limiterKey string
	logger     *zap.Logger
}

// Dispatch processes one job. A job for a campaign whose lock is held, or
// that is no longer running, is dropped without error. Errors are returned
// only for infrastructure failures, leaving unprocessed recipients queued.
func (d *Dispatcher) Dispatch(ctx context.Context, job queue.DispatchJob) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if job.CorrelationID != "" {
		ctx = observability.WithCorrelationID(ctx, job.CorrelationID)
	}
	logger := observability.WithContextLogger(d.logger, observability.WithTenantID(ctx, job.TenantID)).With(
		zap.String("campaignId", job.CampaignID),
		zap.String("reason", string(job.Reason)),
	)

	lock, err := d.locker.Acquire(ctx, job.CampaignID)
	if err != nil {
		if errors.Is(err, domain.ErrLocked) {
			logger.Info("dispatch already in progress, dropping job")
			d.metrics.IncDispatchJob(dispatchOutcomeLockHeld)
			return nil
		}
		return fmt.Errorf("failed to acquire campaign lock: %w", err)
	}

	followUp, err := d.run(ctx, job, lock, logger)

	releaseCtx, cancel := d.recordContext(ctx)
	if releaseErr := lock.Release(releaseCtx); releaseErr != nil {
		logger.Warn("failed to release campaign lock", zap.Error(releaseErr))
	}
	cancel()

	if err != nil {
		return err
	}

	if followUp {
		next := queue.DispatchJob{
			CampaignID:    job.CampaignID,
			TenantID:      job.TenantID,
			Reason:        queue.JobReasonContinue,
			CorrelationID: job.CorrelationID,
		}
		if err := d.publisher.Publish(ctx, queue.DispatchQueue, next); err != nil {
			return fmt.Errorf("failed to enqueue follow-up dispatch: %w", err)
		}
		logger.Info("enqueued follow-up dispatch for remaining recipients")
	}

	return nil
}

// run drains the campaign while holding its lock. It reports whether an
// unrestricted follow-up pass is needed.
func (d *Dispatcher) run(ctx context.Context, job queue.DispatchJob, lock CampaignLock, logger *zap.Logger) (bool, error) {
	campaign, err := d.campaigns.GetByID(ctx, job.TenantID, job.CampaignID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Warn("campaign not found, dropping job")
			return false, nil
		}
		return false, fmt.Errorf("failed to load campaign: %w", err)
	}
	if campaign.Status != domain.CampaignStatusRunning {
		logger.Info("campaign is not running, dropping job", zap.String("status", campaign.Status.String()))
		d.metrics.IncDispatchJob(dispatchOutcomeNotRunning)
		return false, nil
	}

	r, err := d.prepare(ctx, job, campaign, logger)
	if err != nil || r == nil {
		return false, err
	}

	afterID := ""
	for {
		current, err := d.campaigns.GetByID(ctx, job.TenantID, job.CampaignID)
		if err != nil {
			return false, fmt.Errorf("failed to re-read campaign: %w", err)
		}
		if current.Status != domain.CampaignStatusRunning {
			logger.Info("campaign left running state, stopping dispatch", zap.String("status", current.Status.String()))
			d.metrics.IncDispatchJob(dispatchOutcomeStopped)
			return false, nil
		}
		if err := lock.Refresh(ctx); err != nil {
			if errors.Is(err, domain.ErrLocked) {
				logger.Warn("campaign lock lost, stopping dispatch")
				d.metrics.IncDispatchJob(dispatchOutcomeStopped)
				return false, nil
			}
			return false, err
		}

		page, err := d.recipients.ListQueued(ctx, campaign.ID, job.RecipientIDs, afterID, d.batchSize)
		if err != nil {
			return false, fmt.Errorf("failed to list queued recipients: %w", err)
		}
		if len(page) == 0 {
			break
		}
		afterID = page[len(page)-1].ID

		if err := d.processPage(ctx, r, page); err != nil {
			return false, err
		}
		if len(page) < d.batchSize {
			break
		}
	}

	d.metrics.IncDispatchJob(dispatchOutcomeProcessed)

	completed, err := d.campaigns.CompleteIfDrained(ctx, job.TenantID, job.CampaignID, d.now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to complete campaign: %w", err)
	}
	if completed {
		logger.Info("campaign completed")
		return false, nil
	}

	if !job.Restricted() {
		return false, nil
	}

	remaining, err := d.recipients.ListQueued(ctx, campaign.ID, nil, "", 1)
	if err != nil {
		return false, fmt.Errorf("failed to check remaining recipients: %w", err)
	}
	return len(remaining) > 0, nil
}

func (d *Dispatcher) prepare(ctx context.Context, job queue.DispatchJob, campaign *domain.Campaign, logger *zap.Logger) (*dispatchRun, error) {
	tpl, err := d.templates.GetByID(ctx, campaign.TenantID, campaign.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("failed to load template: %w", err)
	}
	channel, err := d.channels.GetByID(ctx, campaign.TenantID, campaign.ChannelID)
	if err != nil {
		return nil, fmt.Errorf("failed to load channel: %w", err)
	}

	prov, err := d.providers.ForChannel(*channel)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrValidation) {
			// Sending cannot make progress until the operator fixes the
			// channel, so park the campaign instead of failing every recipient.
			logger.Warn("channel unusable, pausing campaign", zap.Error(err))
			if _, pauseErr := d.campaigns.Transition(ctx, campaign.TenantID, campaign.ID, domain.CampaignStatusPaused, d.now().UTC()); pauseErr != nil {
				return nil, fmt.Errorf("failed to pause campaign: %w", pauseErr)
			}
			return nil, nil
		}
		return nil, fmt.Errorf("failed to build provider: %w", err)
	}

	return &dispatchRun{
		job:        job,
		campaign:   campaign,
		template:   tpl,
		channel:    channel,
		provider:   prov,
		limiterKey: ratelimit.Key(channel.Provider, channel.ID),
		logger:     logger.With(zap.String("provider", channel.Provider.String())),
	}, nil
}

func (d *Dispatcher) processPage(ctx context.Context, r *dispatchRun, page []domain.Recipient) error {
	contactIDs := make([]string, 0, len(page))
	for i := range page {
		contactIDs = append(contactIDs, page[i].ContactID)
	}
	contacts, err := d.contacts.ListByIDs(ctx, r.campaign.TenantID, contactIDs)
	if err != nil {
		return fmt.Errorf("failed to load contacts: %w", err)
	}
	byID := make(map[string]*domain.Contact, len(contacts))
	for i := range contacts {
		byID[contacts[i].ID] = &contacts[i]
	}

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for i := range page {
		rec := page[i]
		contact := byID[rec.ContactID]
		g.Go(func() error {
			return d.sendOne(groupCtx, r, rec, contact)
		})
	}
	return g.Wait()
}

// sendOne claims, sends to and records one recipient. Provider and render
// failures are recorded on the recipient; only store failures are returned.
func (d *Dispatcher) sendOne(ctx context.Context, r *dispatchRun, rec domain.Recipient, contact *domain.Contact) error {
	if err := d.rateLimiter.Wait(ctx, r.limiterKey); err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}

	claimed, err := d.recipients.Claim(ctx, rec.ID, d.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to claim recipient: %w", err)
	}
	if !claimed {
		return nil
	}

	logger := r.logger.With(zap.String("recipientId", rec.ID))

	req, err := d.buildRequest(r, rec, contact)
	if err != nil {
		logger.Info("recipient failed validation", zap.Error(err))
		d.metrics.IncMessageFailed(r.channel.Provider.String(), "validation")
		recordCtx, cancel := d.recordContext(ctx)
		defer cancel()
		return d.transition(recordCtx, rec, domain.RecipientChange{
			Status:    domain.RecipientStatusFailed,
			At:        d.now().UTC(),
			ErrorCode: "validation",
			ErrorText: strings.TrimPrefix(err.Error(), domain.ErrValidation.Error()+": "),
		})
	}

	if ctx.Err() != nil {
		recordCtx, cancel := d.recordContext(ctx)
		defer cancel()
		if releaseErr := d.recipients.ReleaseClaim(recordCtx, rec.ID); releaseErr != nil {
			return fmt.Errorf("failed to release claim: %w", releaseErr)
		}
		return ctx.Err()
	}

	// A request handed to the provider runs to completion. Cancelling the
	// job, or a sibling failing the page, must not turn a message the
	// provider may accept into a recorded failure.
	sendCtx, cancelSend := context.WithTimeout(context.WithoutCancel(ctx), d.sendTimeout)
	providerName := r.channel.Provider.String()
	d.metrics.IncDispatchInFlight(providerName)
	start := d.now()
	resp, sendErr := r.provider.Send(sendCtx, req)
	elapsed := d.now().Sub(start)
	cancelSend()
	d.metrics.DecDispatchInFlight(providerName)
	d.metrics.ObserveProviderSendDuration(providerName, elapsed)

	recordCtx, cancel := d.recordContext(ctx)
	defer cancel()

	change := domain.RecipientChange{Status: domain.RecipientStatusSent, At: d.now().UTC()}
	if sendErr != nil {
		kind := provider.KindOf(sendErr)
		logFailure(logger, sendErr)
		d.metrics.IncMessageFailed(providerName, string(kind))
		change.Status = domain.RecipientStatusFailed
		change.ErrorCode = provider.CodeOf(sendErr)
		change.ErrorText = errorDetail(sendErr)
	} else {
		d.metrics.IncMessageSent(providerName)
		change.ProviderMessageID = resp.MessageID
	}

	// The message id is stored before the attempt row so receipts arriving
	// right after the provider answered find their recipient.
	transitionErr := d.transition(recordCtx, rec, change)
	if err := d.recordAttempt(recordCtx, r, rec, resp, sendErr, elapsed); err != nil {
		logger.Error("failed to record send attempt", zap.Error(err))
	}
	return transitionErr
}

// recordContext outlives ctx so an outcome is written even while the job is
// being shut down.
func (d *Dispatcher) recordContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
}

func (d *Dispatcher) buildRequest(r *dispatchRun, rec domain.Recipient, contact *domain.Contact) (provider.SendRequest, error) {
	phone, err := domain.NormalizePhone(rec.Phone)
	if err != nil {
		return provider.SendRequest{}, err
	}

	sources := make([]map[string]string, 0, 3)
	if contact != nil {
		sources = append(sources, contact.TemplateValues())
	}
	sources = append(sources, r.campaign.Variables, map[string]string{"phone": phone})

	values, err := r.template.ResolveValues(sources...)
	if err != nil {
		return provider.SendRequest{}, err
	}
	body, err := r.template.Render(values)
	if err != nil {
		return provider.SendRequest{}, err
	}

	return provider.SendRequest{
		To:           phone,
		TemplateName: r.template.Name,
		Language:     r.template.Language,
		Variables:    values,
		Body:         body,
	}, nil
}

func (d *Dispatcher) transition(ctx context.Context, rec domain.Recipient, change domain.RecipientChange) error {
	result, err := d.recipients.Transition(ctx, rec.TenantID, rec.ID, change)
	if err != nil {
		return fmt.Errorf("failed to update recipient %s to %s: %w", rec.ID, change.Status, err)
	}
	if !result.Applied {
		d.logger.Debug("recipient already moved past send outcome",
			zap.String("recipientId", rec.ID),
			zap.String("status", result.From.String()),
		)
	}
	return nil
}

func (d *Dispatcher) recordAttempt(
	ctx context.Context,
	r *dispatchRun,
	rec domain.Recipient,
	resp *provider.SendResponse,
	sendErr error,
	elapsed time.Duration,
) error {
	attempt := &domain.SendAttempt{
		ID:            uuid.NewString(),
		TenantID:      rec.TenantID,
		RecipientID:   rec.ID,
		CampaignID:    rec.CampaignID,
		AttemptNumber: rec.AttemptCount + 1,
		Provider:      r.channel.Provider,
		Duration:      elapsed,
		CreatedAt:     d.now().UTC(),
	}

	if resp != nil {
		attempt.Endpoint = resp.Endpoint
		if resp.StatusCode > 0 {
			value := resp.StatusCode
			attempt.StatusCode = &value
		}
		if body := strings.TrimSpace(resp.Body); body != "" {
			value := resp.Body
			attempt.ResponseBody = &value
		}
		if resp.MessageID != "" {
			value := resp.MessageID
			attempt.ProviderMessageID = &value
		}
	}

	if sendErr != nil {
		value := sendErr.Error()
		attempt.Error = &value
		code := provider.CodeOf(sendErr)
		attempt.ErrorCode = &code

		var providerErr *provider.ProviderError
		if errors.As(sendErr, &providerErr) {
			if attempt.Endpoint == "" {
				attempt.Endpoint = providerErr.Endpoint
			}
			if providerErr.StatusCode > 0 && attempt.StatusCode == nil {
				value := providerErr.StatusCode
				attempt.StatusCode = &value
			}
			if attempt.ResponseBody == nil && strings.TrimSpace(providerErr.RawBody) != "" {
				value := providerErr.RawBody
				attempt.ResponseBody = &value
			}
		}
	}

	return d.attempts.Create(ctx, attempt)
}

func errorDetail(err error) string {
	var providerErr *provider.ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Detail()
	}
	return err.Error()
}

func logFailure(logger *zap.Logger, err error) {
	fields := []zap.Field{zap.Error(err), zap.String("kind", string(provider.KindOf(err)))}
	var providerErr *provider.ProviderError
	if errors.As(err, &providerErr) {
		fields = append(fields,
			zap.String("endpoint", providerErr.Endpoint),
			zap.Int("statusCode", providerErr.StatusCode),
			zap.String("rawBody", providerErr.RawBody),
		)
	}
	logger.Warn("provider send failed", fields...)
}
