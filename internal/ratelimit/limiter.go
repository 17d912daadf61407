package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/kursadbilgin/campaign-engine/internal/domain"
)

const DefaultPerSecond = 20

// RateLimiter paces provider calls per key. Keys are built with Key so that
// every channel of a tenant has its own budget.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Wait(ctx context.Context, key string) error
}

// Key is the limiter key for one provider channel.
func Key(provider domain.ProviderKind, channelID string) string {
	return strings.ToLower(provider.String()) + ":" + strings.TrimSpace(channelID)
}

// Limits resolves the per-second budget of a key from its provider prefix.
type Limits struct {
	Default     int
	PerProvider map[string]int
}

func (l Limits) For(key string) int {
	provider, _, _ := strings.Cut(key, ":")
	if n, ok := l.PerProvider[provider]; ok && n > 0 {
		return n
	}
	if l.Default > 0 {
		return l.Default
	}
	return DefaultPerSecond
}

// ParseOverrides reads "uazapi=1,notificame=10" into a provider limit map.
func ParseOverrides(raw string) (map[string]int, error) {
	out := map[string]int{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("invalid rate limit override %q", part)
		}
		provider, err := domain.ParseProviderKindFromString(name)
		if err != nil {
			return nil, err
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid rate limit for %s: %q", provider, value)
		}
		out[provider.String()] = n
	}
	return out, nil
}
