package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/kursadbilgin/campaign-engine/internal/config"
	"github.com/kursadbilgin/campaign-engine/internal/handler"
	"github.com/kursadbilgin/campaign-engine/internal/infra/postgresql"
	"github.com/kursadbilgin/campaign-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/campaign-engine/internal/infra/redis"
	"github.com/kursadbilgin/campaign-engine/internal/observability"
	"github.com/kursadbilgin/campaign-engine/internal/queue"
	"github.com/kursadbilgin/campaign-engine/internal/repository"
	"github.com/kursadbilgin/campaign-engine/internal/service"
	"github.com/kursadbilgin/campaign-engine/internal/transport"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

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

	apiKeys := cfg.APIKeys()
	if len(apiKeys) == 0 {
		logger.Fatal("TENANT_API_KEYS must configure at least one key")
	}

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
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
	inboundRepo := repository.NewGormInboundMessageRepo(db)
	pendingRepo := repository.NewGormPendingReceiptRepo(db)

	locker := service.NewRedisCampaignLocker(infraredis.NewCampaignLocker(rdb, cfg.DispatchLockTTL))

	campaigns, err := service.NewCampaignService(
		campaignRepo, recipientRepo, contactRepo, templateRepo, channelRepo, attemptRepo,
		locker, queue.NewRabbitMQPublisher(rabbit), logger,
	)
	if err != nil {
		logger.Fatal("campaign service init failed", zap.Error(err))
	}
	campaigns.SetMetrics(metrics)

	contacts, err := service.NewContactService(contactRepo, logger)
	if err != nil {
		logger.Fatal("contact service init failed", zap.Error(err))
	}
	templates, err := service.NewTemplateService(templateRepo, logger)
	if err != nil {
		logger.Fatal("template service init failed", zap.Error(err))
	}
	channels, err := service.NewChannelService(channelRepo, logger)
	if err != nil {
		logger.Fatal("channel service init failed", zap.Error(err))
	}
	webhooks, err := service.NewWebhookService(channelRepo, recipientRepo, pendingRepo, inboundRepo, logger)
	if err != nil {
		logger.Fatal("webhook service init failed", zap.Error(err))
	}
	webhooks.SetMetrics(metrics)
	dashboard, err := service.NewDashboardService(campaignRepo, contactRepo, recipientRepo, attemptRepo, cfg.BillingAlertTTL, logger)
	if err != nil {
		logger.Fatal("dashboard service init failed", zap.Error(err))
	}
	inbox, err := service.NewInboxService(inboundRepo, channelRepo)
	if err != nil {
		logger.Fatal("inbox service init failed", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		AppName:               "campaign-engine",
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	app.Use(recover.New())
	app.Use(handler.RequestID(), handler.Correlation())
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app,
		handler.PostgresCheck(sqlDB),
		handler.RedisCheck(rdb),
		handler.HealthCheck{Name: "rabbitmq", Check: rabbit.Ping},
	)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	if err := handler.RegisterRoutes(app, apiKeys, handler.Services{
		Campaigns: campaigns,
		Contacts:  contacts,
		Templates: templates,
		Channels:  channels,
		Webhooks:  webhooks,
		Dashboard: dashboard,
		Inbox:     inbox,
	}); err != nil {
		logger.Fatal("route registration failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	}()

	logger.Info("campaign-engine api started", zap.Int("port", cfg.APIPort))

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			logger.Error("http server stopped", zap.Error(err))
		}
	}

	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}
	logger.Info("campaign-engine api stopped")
}
