package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/kursadbilgin/campaign-engine/internal/ratelimit"
)

const (
	RateLimitBackendRedis = "redis"
	RateLimitBackendLocal = "local"
)

// outcomeRecordWindow is how long the dispatcher may take to write a send
// outcome after the provider answered.
const outcomeRecordWindow = 10 * time.Second

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL string `env:"RABBITMQ_URL,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`
	APIPort     int    `env:"API_PORT,default=8080"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`

	RateLimitPerSec    int    `env:"RATE_LIMIT_PER_SEC,default=20"`
	RateLimitOverrides string `env:"RATE_LIMIT_OVERRIDES"`
	RateLimitBackend   string `env:"RATE_LIMIT_BACKEND,default=redis"`

	WorkerConcurrency   int           `env:"WORKER_CONCURRENCY,default=4"`
	WorkerMetricsPort   int           `env:"WORKER_METRICS_PORT,default=9091"`
	DispatchConcurrency int           `env:"DISPATCH_CONCURRENCY,default=8"`
	DispatchBatchSize   int           `env:"DISPATCH_BATCH_SIZE,default=200"`
	DispatchLockTTL     time.Duration `env:"DISPATCH_LOCK_TTL,default=2m"`
	StaleClaimAfter     time.Duration `env:"STALE_CLAIM_AFTER,default=10m"`
	SweepInterval       time.Duration `env:"SWEEP_INTERVAL,default=1m"`
	SchedulerInterval   time.Duration `env:"SCHEDULER_INTERVAL,default=15s"`
	BillingAlertTTL     time.Duration `env:"BILLING_ALERT_TTL,default=24h"`

	ProviderTimeout      time.Duration `env:"PROVIDER_TIMEOUT,default=15s"`
	MetaAPIBaseURL       string        `env:"META_API_BASE_URL,default=https://graph.facebook.com"`
	MetaAPIVersion       string        `env:"META_API_VERSION,default=v21.0"`
	NotificaMeAPIBaseURL string        `env:"NOTIFICAME_API_BASE_URL,default=https://api.notificame.com.br"`
	UAZAPIBaseURL        string        `env:"UAZAPI_BASE_URL"`

	// TenantAPIKeys is "key=tenant,key=tenant".
	TenantAPIKeys string `env:"TENANT_API_KEYS"`
}

// Load reads .env when present and then the process environment, which
// always wins over the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.RateLimitBackend {
	case RateLimitBackendRedis, RateLimitBackendLocal:
	default:
		return fmt.Errorf("RATE_LIMIT_BACKEND must be %q or %q, got %q", RateLimitBackendRedis, RateLimitBackendLocal, c.RateLimitBackend)
	}
	if c.RateLimitPerSec <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_SEC must be positive")
	}
	if _, err := ratelimit.ParseOverrides(c.RateLimitOverrides); err != nil {
		return fmt.Errorf("RATE_LIMIT_OVERRIDES: %w", err)
	}
	if _, err := ParseTenantAPIKeys(c.TenantAPIKeys); err != nil {
		return fmt.Errorf("TENANT_API_KEYS: %w", err)
	}
	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("PROVIDER_TIMEOUT must be positive")
	}
	// A claim younger than one send plus its write may still be in flight;
	// releasing it earlier sends the message twice.
	if minStale := c.ProviderTimeout + outcomeRecordWindow; c.StaleClaimAfter <= minStale {
		return fmt.Errorf("STALE_CLAIM_AFTER must exceed PROVIDER_TIMEOUT plus %s (%s), got %s", outcomeRecordWindow, minStale, c.StaleClaimAfter)
	}
	return nil
}

// RateLimits builds the per-provider send budgets. Load has already
// validated the overrides.
func (c *Config) RateLimits() ratelimit.Limits {
	overrides, _ := ratelimit.ParseOverrides(c.RateLimitOverrides)
	return ratelimit.Limits{Default: c.RateLimitPerSec, PerProvider: overrides}
}

// APIKeys maps bearer keys to tenant ids.
func (c *Config) APIKeys() map[string]string {
	keys, _ := ParseTenantAPIKeys(c.TenantAPIKeys)
	return keys
}

// ParseTenantAPIKeys reads "key1=tenantA,key2=tenantB". A key may appear
// only once; a tenant may own several keys.
func ParseTenantAPIKeys(raw string) (map[string]string, error) {
	out := map[string]string{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, tenant, ok := strings.Cut(part, "=")
		key, tenant = strings.TrimSpace(key), strings.TrimSpace(tenant)
		if !ok || key == "" || tenant == "" {
			return nil, fmt.Errorf("invalid api key entry %q", part)
		}
		if _, dup := out[key]; dup {
			return nil, fmt.Errorf("duplicate api key for tenant %s", tenant)
		}
		out[key] = tenant
	}
	return out, nil
}
