package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/campaign-engine/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when another holder owns the lock. It matches
// domain.ErrLocked.
var ErrLockHeld = fmt.Errorf("%w: dispatch in progress", domain.ErrLocked)

// releaseScript deletes the key only while it still carries our token, so an
// expired lock re-acquired by someone else is never released by us.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

var extendScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// CampaignLocker serializes dispatch and retry work per campaign.
type CampaignLocker struct {
	client   *goredis.Client
	ttl      time.Duration
	newToken func() string
}

func NewCampaignLocker(client *goredis.Client, ttl time.Duration) *CampaignLocker {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CampaignLocker{
		client:   client,
		ttl:      ttl,
		newToken: func() string { return uuid.NewString() },
	}
}

// Lock is a held campaign lock.
type Lock struct {
	client *goredis.Client
	key    string
	token  string
	ttl    time.Duration
}

func campaignLockKey(campaignID string) string {
	return "campaign:lock:" + campaignID
}

// Acquire takes the campaign lock or returns ErrLockHeld.
func (l *CampaignLocker) Acquire(ctx context.Context, campaignID string) (*Lock, error) {
	if l == nil || l.client == nil {
		return nil, fmt.Errorf("campaign locker is not initialized")
	}

	key := campaignLockKey(campaignID)
	token := l.newToken()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire campaign lock: %w", err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	return &Lock{client: l.client, key: key, token: token, ttl: l.ttl}, nil
}

// Held reports whether anyone currently holds the campaign lock.
func (l *CampaignLocker) Held(ctx context.Context, campaignID string) (bool, error) {
	n, err := l.client.Exists(ctx, campaignLockKey(campaignID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check campaign lock: %w", err)
	}
	return n == 1, nil
}

// Refresh pushes the expiry forward; it fails with ErrLockHeld once the lock
// was lost.
func (l *Lock) Refresh(ctx context.Context) error {
	n, err := extendScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("failed to refresh campaign lock: %w", err)
	}
	if n == 0 {
		return ErrLockHeld
	}
	return nil
}

func (l *Lock) Release(ctx context.Context) error {
	if _, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int(); err != nil {
		return fmt.Errorf("failed to release campaign lock: %w", err)
	}
	return nil
}
