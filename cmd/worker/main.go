package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/kursadbilgin/campaign-engine/internal/config"
	"github.com/kursadbilgin/campaign-engine/internal/handler"
	"github.com/kursadbilgin/campaign-engine/internal/infra/postgresql"
	infraredis "github.com/kursadbilgin/campaign-engine/internal/infra/redis"
	"github.com/kursadbilgin/campaign-engine/internal/observability"
	"github.com/kursadbilgin/campaign-engine/internal/provider"
	"github.com/kursadbilgin/campaign-engine/internal/queue"
	"github.com/kursadbilgin/campaign-engine/internal/ratelimit"
	"github.com/kursadbilgin/campaign-engine/internal/repository"
	"github.com/kursadbilgin/campaign-engine/internal/service"
	"github.com/kursadbilgin/campaign-engine/internal/transport"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout    = 10 * time.Second
	schedulerScanLimit = 50
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	// Migrations are owned by the api process.
	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	rabbit, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer rabbit.Close()

	metrics := observability.NewMetrics()

	campaignRepo := repository.NewGormCampaignRepo(db)
	recipientRepo := repository.NewGormRecipientRepo(db)
	contactRepo := repository.NewGormContactRepo(db)
	templateRepo := repository.NewGormTemplateRepo(db)
	channelRepo := repository.NewGormChannelRepo(db)
	attemptRepo := repository.NewGormAttemptRepo(db)
	pendingRepo := repository.NewGormPendingReceiptRepo(db)

	limiter, err := newRateLimiter(cfg, rdb)
	if err != nil {
		logger.Fatal("rate limiter init failed", zap.Error(err))
	}
	locker := service.NewRedisCampaignLocker(infraredis.NewCampaignLocker(rdb, cfg.DispatchLockTTL))
	publisher := queue.NewRabbitMQPublisher(rabbit)

	providers := provider.NewFactory(provider.FactoryConfig{
		Timeout:           cfg.ProviderTimeout,
		MetaBaseURL:       cfg.MetaAPIBaseURL,
		MetaAPIVersion:    cfg.MetaAPIVersion,
		NotificaMeBaseURL: cfg.NotificaMeAPIBaseURL,
		UAZAPIBaseURL:     cfg.UAZAPIBaseURL,
	}, nil)

	dispatcher, err := service.NewDispatcher(service.DispatcherDeps{
		Campaigns:   campaignRepo,
		Recipients:  recipientRepo,
		Contacts:    contactRepo,
		Templates:   templateRepo,
		Channels:    channelRepo,
		Attempts:    attemptRepo,
		Providers:   providers,
		RateLimiter: limiter,
		Locker:      locker,
		Publisher:   publisher,
	}, cfg.DispatchBatchSize, cfg.DispatchConcurrency, logger)
	if err != nil {
		logger.Fatal("dispatcher init failed", zap.Error(err))
	}
	dispatcher.SetMetrics(metrics)
	dispatcher.SetSendTimeout(cfg.ProviderTimeout)

	campaigns, err := service.NewCampaignService(
		campaignRepo, recipientRepo, contactRepo, templateRepo, channelRepo, attemptRepo,
		locker, publisher, logger,
	)
	if err != nil {
		logger.Fatal("campaign service init failed", zap.Error(err))
	}
	campaigns.SetMetrics(metrics)

	consumer := queue.NewRabbitMQConsumer(rabbit, cfg.WorkerConcurrency, logger)
	worker, err := service.NewWorkerService(consumer, dispatcher, cfg.WorkerConcurrency, logger)
	if err != nil {
		logger.Fatal("worker init failed", zap.Error(err))
	}

	scheduler, err := service.NewScheduler(campaignRepo, campaigns, cfg.SchedulerInterval, schedulerScanLimit, logger)
	if err != nil {
		logger.Fatal("scheduler init failed", zap.Error(err))
	}

	sweeper, err := service.NewStaleClaimSweeper(recipientRepo, campaignRepo, pendingRepo, cfg.SweepInterval, cfg.StaleClaimAfter, logger)
	if err != nil {
		logger.Fatal("stale claim sweeper init failed", zap.Error(err))
	}
	sweeper.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		AppName:               "campaign-engine-worker",
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	handler.RegisterHealthRoutes(app,
		handler.PostgresCheck(sqlDB),
		handler.RedisCheck(rdb),
		handler.HealthCheck{Name: "rabbitmq", Check: rabbit.Ping},
	)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Start(gctx) })
	g.Go(func() error { return scheduler.Start(gctx) })
	g.Go(func() error { return sweeper.Start(gctx) })
	g.Go(func() error {
		return app.Listen(fmt.Sprintf(":%d", cfg.WorkerMetricsPort))
	})
	g.Go(func() error {
		<-gctx.Done()
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	logger.Info("campaign-engine worker started",
		zap.Int("consumers", cfg.WorkerConcurrency),
		zap.Int("dispatchConcurrency", cfg.DispatchConcurrency),
		zap.String("rateLimitBackend", cfg.RateLimitBackend),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped with error", zap.Error(err))
	}
	logger.Info("campaign-engine worker stopped")
}

// newRateLimiter shares provider budgets across worker replicas through
// Redis unless the local backend is configured.
func newRateLimiter(cfg *config.Config, rdb *goredis.Client) (ratelimit.RateLimiter, error) {
	limits := cfg.RateLimits()
	if cfg.RateLimitBackend == config.RateLimitBackendLocal {
		return ratelimit.NewLocalRateLimiter(limits), nil
	}
	limiter, err := infraredis.NewRedisRateLimiter(rdb, limits)
	if err != nil {
		return nil, err
	}
	return limiter, nil
}
