package service

import (
	"context"

	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"github.com/kursadbilgin/campaign-engine/internal/infra/redis"
	"github.com/kursadbilgin/campaign-engine/internal/provider"
)

// CampaignLock is a held per-campaign dispatch lock.
type CampaignLock interface {
	Refresh(ctx context.Context) error
	Release(ctx context.Context) error
}

// CampaignLocker hands out per-campaign locks. Acquire fails with an error
// matching domain.ErrLocked while another holder is active.
type CampaignLocker interface {
	Acquire(ctx context.Context, campaignID string) (CampaignLock, error)
	Held(ctx context.Context, campaignID string) (bool, error)
}

// ProviderFactory builds the adapter for a tenant channel.
type ProviderFactory interface {
	ForChannel(ch domain.Channel) (provider.Provider, error)
}

type redisCampaignLocker struct {
	locker *redis.CampaignLocker
}

func NewRedisCampaignLocker(locker *redis.CampaignLocker) CampaignLocker {
	return &redisCampaignLocker{locker: locker}
}

func (l *redisCampaignLocker) Acquire(ctx context.Context, campaignID string) (CampaignLock, error) {
	lock, err := l.locker.Acquire(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	return lock, nil
}

func (l *redisCampaignLocker) Held(ctx context.Context, campaignID string) (bool, error) {
	return l.locker.Held(ctx, campaignID)
}
