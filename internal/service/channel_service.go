package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"github.com/kursadbilgin/campaign-engine/internal/repository"
	"go.uber.org/zap"
)

type ChannelService struct {
	channels repository.ChannelRepository
	logger   *zap.Logger
	now      func() time.Time
}

type CreateChannelInput struct {
	TenantID    string
	Name        string
	Provider    domain.ProviderKind
	PhoneNumber string
	ExternalID  string
	AccessToken string
	BaseURL     string
	AppSecret   string
	VerifyToken string
}

func NewChannelService(channels repository.ChannelRepository, logger *zap.Logger) (*ChannelService, error) {
	if channels == nil {
		return nil, fmt.Errorf("channel repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChannelService{channels: channels, logger: logger, now: time.Now}, nil
}

func (s *ChannelService) Create(ctx context.Context, in CreateChannelInput) (*domain.Channel, error) {
	now := s.now().UTC()
	channel := &domain.Channel{
		ID:          uuid.NewString(),
		TenantID:    in.TenantID,
		Name:        strings.TrimSpace(in.Name),
		Provider:    in.Provider,
		PhoneNumber: strings.TrimSpace(in.PhoneNumber),
		ExternalID:  strings.TrimSpace(in.ExternalID),
		AccessToken: strings.TrimSpace(in.AccessToken),
		BaseURL:     strings.TrimRight(strings.TrimSpace(in.BaseURL), "/"),
		AppSecret:   in.AppSecret,
		VerifyToken: in.VerifyToken,
		Status:      domain.ChannelStatusConnected,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if channel.PhoneNumber != "" {
		phone, err := domain.NormalizePhone(channel.PhoneNumber)
		if err != nil {
			return nil, err
		}
		channel.PhoneNumber = phone
	}
	if err := channel.Validate(); err != nil {
		return nil, err
	}

	if err := s.channels.Create(ctx, channel); err != nil {
		return nil, err
	}
	return channel, nil
}

func (s *ChannelService) Get(ctx context.Context, tenantID, id string) (*domain.Channel, error) {
	return s.channels.GetByID(ctx, tenantID, id)
}

func (s *ChannelService) List(ctx context.Context, tenantID string) ([]domain.Channel, error) {
	return s.channels.List(ctx, tenantID)
}

func (s *ChannelService) SetStatus(ctx context.Context, tenantID, id string, status domain.ChannelStatus) (*domain.Channel, error) {
	if !status.IsValid() {
		return nil, fmt.Errorf("%w: invalid channel status %q", domain.ErrValidation, status)
	}
	if err := s.channels.SetStatus(ctx, tenantID, id, status); err != nil {
		return nil, err
	}
	return s.channels.GetByID(ctx, tenantID, id)
}
