package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"github.com/kursadbilgin/campaign-engine/internal/observability"
	"github.com/kursadbilgin/campaign-engine/internal/provider"
	"github.com/kursadbilgin/campaign-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	receiptApplied  = "applied"
	receiptIgnored  = "ignored"
	receiptFailed   = "failed"
	receiptDeferred = "deferred"
)

// WebhookService applies provider delivery receipts and stores inbound
// messages.
type WebhookService struct {
	channels   repository.ChannelRepository
	recipients repository.RecipientRepository
	pending    repository.PendingReceiptRepository
	inbound    repository.InboundMessageRepository
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time
}

// WebhookSummary is returned to the provider for every accepted delivery.
type WebhookSummary struct {
	Applied  int `json:"applied"`
	Ignored  int `json:"ignored"`
	Failed   int `json:"failed"`
	Deferred int `json:"deferred"`
	Inbound  int `json:"inbound"`
}

func NewWebhookService(
	channels repository.ChannelRepository,
	recipients repository.RecipientRepository,
	pending repository.PendingReceiptRepository,
	inbound repository.InboundMessageRepository,
	logger *zap.Logger,
) (*WebhookService, error) {
	if channels == nil || recipients == nil || pending == nil || inbound == nil {
		return nil, fmt.Errorf("webhook service repositories are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookService{
		channels:   channels,
		recipients: recipients,
		pending:    pending,
		inbound:    inbound,
		logger:     logger,
		now:        time.Now,
	}, nil
}

func (s *WebhookService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// VerifyMeta answers the Meta subscription handshake for a channel.
func (s *WebhookService) VerifyMeta(ctx context.Context, channelID, mode, token, challenge string) (string, error) {
	channel, err := s.lookup(ctx, domain.ProviderMeta, channelID)
	if err != nil {
		return "", err
	}
	if mode != "subscribe" || channel.VerifyToken == "" ||
		subtle.ConstantTimeCompare([]byte(token), []byte(channel.VerifyToken)) != 1 {
		return "", fmt.Errorf("%w: verify token mismatch", domain.ErrUnauthorized)
	}
	return challenge, nil
}

// Ingest processes one webhook delivery. Individual event failures are
// counted in the summary and never fail the delivery.
func (s *WebhookService) Ingest(ctx context.Context, kind domain.ProviderKind, channelID string, body []byte, signature string) (*WebhookSummary, error) {
	channel, err := s.lookup(ctx, kind, channelID)
	if err != nil {
		return nil, err
	}

	if kind == domain.ProviderMeta && channel.AppSecret != "" {
		if !provider.VerifyMetaSignature(channel.AppSecret, body, signature) {
			return nil, fmt.Errorf("%w: invalid webhook signature", domain.ErrUnauthorized)
		}
	}

	parser, err := provider.ParserFor(kind)
	if err != nil {
		return nil, err
	}
	receipts, err := parser.ParseReceipts(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	ctx = observability.WithTenantID(ctx, channel.TenantID)
	logger := observability.WithContextLogger(s.logger, ctx).With(
		zap.String("channelId", channel.ID),
		zap.String("provider", kind.String()),
	)

	summary := &WebhookSummary{}
	for _, event := range receipts.Statuses {
		switch s.applyStatus(ctx, logger, channel.TenantID, event) {
		case receiptApplied:
			summary.Applied++
		case receiptIgnored:
			summary.Ignored++
		case receiptDeferred:
			summary.Deferred++
		default:
			summary.Failed++
		}
	}

	for i := range receipts.Messages {
		msg := receipts.Messages[i]
		stored, err := s.storeInbound(ctx, channel, &msg)
		if err != nil {
			logger.Error("failed to store inbound message",
				zap.String("providerMessageId", msg.ProviderMessageID),
				zap.Error(err),
			)
			summary.Failed++
			continue
		}
		if stored {
			summary.Inbound++
		}
	}

	s.metrics.AddReceipts(receiptApplied, summary.Applied)
	s.metrics.AddReceipts(receiptIgnored, summary.Ignored)
	s.metrics.AddReceipts(receiptFailed, summary.Failed)
	s.metrics.AddReceipts(receiptDeferred, summary.Deferred)

	logger.Debug("webhook processed",
		zap.Int("applied", summary.Applied),
		zap.Int("ignored", summary.Ignored),
		zap.Int("failed", summary.Failed),
		zap.Int("deferred", summary.Deferred),
		zap.Int("inbound", summary.Inbound),
	)
	return summary, nil
}

func (s *WebhookService) applyStatus(ctx context.Context, logger *zap.Logger, tenantID string, event domain.StatusEvent) string {
	if strings.TrimSpace(event.ProviderMessageID) == "" {
		return receiptIgnored
	}
	if event.At.IsZero() {
		event.At = s.now().UTC()
	}

	result, err := s.recipients.TransitionByProviderMessageID(ctx, tenantID, event.ProviderMessageID, event.Change())
	switch {
	case errors.Is(err, domain.ErrNotFound):
		// The send result may not be stored yet. Park the event; the recipient
		// transition that stores the id replays it.
		return s.deferStatus(ctx, logger, tenantID, event)
	case errors.Is(err, domain.ErrValidation):
		logger.Warn("ignoring invalid status event",
			zap.String("providerMessageId", event.ProviderMessageID),
			zap.Error(err),
		)
		return receiptIgnored
	case err != nil:
		logger.Error("failed to apply status event",
			zap.String("providerMessageId", event.ProviderMessageID),
			zap.String("status", event.Status.String()),
			zap.Error(err),
		)
		return receiptFailed
	}

	if !result.Applied {
		return receiptIgnored
	}
	return receiptApplied
}

func (s *WebhookService) deferStatus(ctx context.Context, logger *zap.Logger, tenantID string, event domain.StatusEvent) string {
	err := s.pending.Save(ctx, &domain.PendingReceipt{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		Event:      event,
		ReceivedAt: s.now().UTC(),
	})
	if err != nil {
		logger.Error("failed to park status event",
			zap.String("providerMessageId", event.ProviderMessageID),
			zap.String("status", event.Status.String()),
			zap.Error(err),
		)
		return receiptFailed
	}
	return receiptDeferred
}

func (s *WebhookService) storeInbound(ctx context.Context, channel *domain.Channel, msg *domain.InboundMessage) (bool, error) {
	if strings.TrimSpace(msg.ProviderMessageID) == "" {
		return false, nil
	}
	now := s.now().UTC()
	msg.ID = uuid.NewString()
	msg.TenantID = channel.TenantID
	msg.ChannelID = channel.ID
	msg.CreatedAt = now
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = now
	}
	return s.inbound.Save(ctx, msg)
}

// lookup resolves the channel named in the webhook URL. A provider mismatch
// is reported as not found so URLs cannot be probed across providers.
func (s *WebhookService) lookup(ctx context.Context, kind domain.ProviderKind, channelID string) (*domain.Channel, error) {
	if !kind.IsValid() {
		return nil, fmt.Errorf("%w: unknown provider %q", domain.ErrNotFound, kind)
	}
	channel, err := s.channels.Lookup(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if channel.Provider != kind {
		return nil, fmt.Errorf("%w: channel %s", domain.ErrNotFound, channelID)
	}
	return channel, nil
}
