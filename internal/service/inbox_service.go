package service

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"github.com/kursadbilgin/campaign-engine/internal/repository"
)

type InboxService struct {
	inbound  repository.InboundMessageRepository
	channels repository.ChannelRepository
}

func NewInboxService(inbound repository.InboundMessageRepository, channels repository.ChannelRepository) (*InboxService, error) {
	if inbound == nil || channels == nil {
		return nil, fmt.Errorf("inbox repositories are required")
	}
	return &InboxService{inbound: inbound, channels: channels}, nil
}

// List returns inbound messages newest first. A channel filter must name one
// of the tenant's channels.
func (s *InboxService) List(ctx context.Context, tenantID string, params repository.InboxListParams) ([]domain.InboundMessage, int64, error) {
	if params.ChannelID != "" {
		if _, err := s.channels.GetByID(ctx, tenantID, params.ChannelID); err != nil {
			return nil, 0, err
		}
	}
	return s.inbound.List(ctx, tenantID, params)
}
