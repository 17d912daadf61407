package ratelimit

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

var _ RateLimiter = (*LocalRateLimiter)(nil)

// LocalRateLimiter is an in-process token bucket per key. It only bounds a
// single worker process; use the Redis limiter when several workers share
// a channel.
type LocalRateLimiter struct {
	limits Limits

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewLocalRateLimiter(limits Limits) *LocalRateLimiter {
	return &LocalRateLimiter{
		limits:   limits,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *LocalRateLimiter) get(key string) (*rate.Limiter, error) {
	if key == "" {
		return nil, fmt.Errorf("rate limit key is required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[key]
	if !ok {
		n := l.limits.For(key)
		lim = rate.NewLimiter(rate.Limit(n), n)
		l.limiters[key] = lim
	}
	return lim, nil
}

func (l *LocalRateLimiter) Allow(_ context.Context, key string) (bool, error) {
	lim, err := l.get(key)
	if err != nil {
		return false, err
	}
	return lim.Allow(), nil
}

func (l *LocalRateLimiter) Wait(ctx context.Context, key string) error {
	lim, err := l.get(key)
	if err != nil {
		return err
	}
	return lim.Wait(ctx)
}
