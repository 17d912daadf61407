package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/campaign-engine/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	backoffStep   = 10 * time.Millisecond
	backoffMax    = 100 * time.Millisecond
	windowSeconds = 1
	keyPrefix     = "campaign:ratelimit"
)

// allowScript counts calls in the current one-second window and rejects
// once the window budget in ARGV[1] is spent.
var allowScript = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
  return 0
end
return 1
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter shares a per-channel send budget across worker processes.
type RedisRateLimiter struct {
	client *goredis.Client
	limits ratelimit.Limits
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	script *goredis.Script
}

func NewRedisRateLimiter(client *goredis.Client, limits ratelimit.Limits) (*RedisRateLimiter, error) {
	return newRedisRateLimiter(client, limits, time.Now, sleepWithContext)
}

func newRedisRateLimiter(
	client *goredis.Client,
	limits ratelimit.Limits,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &RedisRateLimiter{
		client: client,
		limits: limits,
		now:    nowFn,
		sleep:  sleepFn,
		script: allowScript,
	}, nil
}

func (r *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if r == nil || r.client == nil || r.script == nil {
		return false, fmt.Errorf("rate limiter is not initialized")
	}

	normalized := strings.ToLower(strings.TrimSpace(key))
	if normalized == "" {
		return false, fmt.Errorf("rate limit key is required")
	}

	windowKey := fmt.Sprintf("%s:%s:%d", keyPrefix, normalized, r.now().UTC().Unix())
	result, err := r.script.Run(ctx, r.client, []string{windowKey}, r.limits.For(normalized), windowSeconds).Int()
	if err != nil {
		return false, fmt.Errorf("failed to evaluate rate limit: %w", err)
	}

	return result == 1, nil
}

// Wait blocks until key has budget in the current window or ctx ends.
func (r *RedisRateLimiter) Wait(ctx context.Context, key string) error {
	backoff := backoffStep
	for {
		allowed, err := r.Allow(ctx, key)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		if err := r.sleep(ctx, backoff); err != nil {
			return err
		}

		backoff = min(backoff+backoffStep, backoffMax)
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
