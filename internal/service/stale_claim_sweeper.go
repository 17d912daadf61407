package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"github.com/kursadbilgin/campaign-engine/internal/observability"
	"github.com/kursadbilgin/campaign-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultSweepInterval   = time.Minute
	defaultStaleClaimAfter = 10 * time.Minute
	defaultSweepLimit      = 500
	pendingReceiptTTL      = time.Hour

	interruptedErrorCode = "interrupted"
	interruptedErrorText = "dispatch interrupted"
)

// StaleClaimSweeper fails recipients whose send was claimed but never
// recorded, typically because a worker died mid-send. It never re-sends:
// the provider may have accepted the message, so an operator retry decides.
// It also replays parked receipts whose send was recorded after the webhook
// checked for it, and drops those that never matched.
type StaleClaimSweeper struct {
	recipients repository.RecipientRepository
	campaigns  repository.CampaignRepository
	pending    repository.PendingReceiptRepository
	logger     *zap.Logger
	metrics    *observability.Metrics
	interval   time.Duration
	staleAfter time.Duration
	limit      int
	now        func() time.Time
}

func NewStaleClaimSweeper(
	recipients repository.RecipientRepository,
	campaigns repository.CampaignRepository,
	pending repository.PendingReceiptRepository,
	interval time.Duration,
	staleAfter time.Duration,
	logger *zap.Logger,
) (*StaleClaimSweeper, error) {
	if recipients == nil {
		return nil, fmt.Errorf("recipient repository is required")
	}
	if campaigns == nil {
		return nil, fmt.Errorf("campaign repository is required")
	}
	if pending == nil {
		return nil, fmt.Errorf("pending receipt repository is required")
	}
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if staleAfter <= 0 {
		staleAfter = defaultStaleClaimAfter
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &StaleClaimSweeper{
		recipients: recipients,
		campaigns:  campaigns,
		pending:    pending,
		logger:     logger,
		interval:   interval,
		staleAfter: staleAfter,
		limit:      defaultSweepLimit,
		now:        time.Now,
	}, nil
}

func (s *StaleClaimSweeper) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *StaleClaimSweeper) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if _, err := s.sweep(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("stale claim sweeper initial sweep failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.sweep(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("stale claim sweep failed", zap.Error(err))
			}
		}
	}
}

// sweep fails every stale claim and completes the campaigns it drained. It
// returns the number of recipients failed.
func (s *StaleClaimSweeper) sweep(ctx context.Context) (int, error) {
	now := s.now().UTC()
	stale, err := s.recipients.ListStaleClaims(ctx, now.Add(-s.staleAfter), s.limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale claims: %w", err)
	}

	type campaignKey struct{ tenantID, id string }
	touched := make(map[campaignKey]struct{})
	failed := 0

	for i := range stale {
		rec := stale[i]
		result, err := s.recipients.Transition(ctx, rec.TenantID, rec.ID, domain.RecipientChange{
			Status:    domain.RecipientStatusFailed,
			At:        now,
			ErrorCode: interruptedErrorCode,
			ErrorText: interruptedErrorText,
		})
		if err != nil {
			s.logger.Error("failed to mark stale claim failed",
				zap.String("recipientId", rec.ID),
				zap.String("campaignId", rec.CampaignID),
				zap.Error(err),
			)
			continue
		}
		if !result.Applied {
			continue
		}

		failed++
		touched[campaignKey{tenantID: rec.TenantID, id: rec.CampaignID}] = struct{}{}
		s.logger.Warn("recipient dispatch interrupted",
			zap.String("recipientId", rec.ID),
			zap.String("campaignId", rec.CampaignID),
		)
	}

	for key := range touched {
		if _, err := s.campaigns.CompleteIfDrained(ctx, key.tenantID, key.id, now); err != nil {
			s.logger.Error("failed to complete campaign after sweep",
				zap.String("campaignId", key.id),
				zap.Error(err),
			)
		}
	}

	s.metrics.AddStaleClaims(failed)

	if _, err := s.replayPending(ctx, now); err != nil {
		return failed, err
	}
	return failed, nil
}

// replayPending applies parked receipts that now match a recipient and prunes
// the ones older than pendingReceiptTTL. It returns the number replayed.
func (s *StaleClaimSweeper) replayPending(ctx context.Context, now time.Time) (int, error) {
	matched, err := s.pending.ListMatched(ctx, s.limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list parked receipts: %w", err)
	}

	replayed := 0
	for i := range matched {
		p := matched[i]
		_, err := s.recipients.TransitionByProviderMessageID(ctx, p.TenantID, p.Event.ProviderMessageID, p.Event.Change())
		if err != nil && !errors.Is(err, domain.ErrValidation) {
			s.logger.Error("failed to replay parked receipt",
				zap.String("providerMessageId", p.Event.ProviderMessageID),
				zap.Error(err),
			)
			continue
		}
		if err := s.pending.Delete(ctx, p.ID); err != nil {
			s.logger.Error("failed to drop replayed receipt", zap.String("id", p.ID), zap.Error(err))
			continue
		}
		replayed++
	}
	s.metrics.AddReceipts("replayed", replayed)

	pruned, err := s.pending.PruneBefore(ctx, now.Add(-pendingReceiptTTL))
	if err != nil {
		return replayed, fmt.Errorf("failed to prune parked receipts: %w", err)
	}
	if pruned > 0 {
		s.logger.Debug("pruned unmatched receipts", zap.Int64("count", pruned))
	}
	return replayed, nil
}
