package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"github.com/garyjia/approval-gateway/internal/config"
	httpadapter "github.com/garyjia/approval-gateway/internal/interfaces/http"
	"github.com/garyjia/approval-gateway/internal/lifecycle"
	"github.com/garyjia/approval-gateway/internal/notify"
	"github.com/garyjia/approval-gateway/internal/repository"
	"github.com/garyjia/approval-gateway/internal/retry"
	"github.com/garyjia/approval-gateway/internal/ssrf"
	"github.com/garyjia/approval-gateway/internal/token"
	"github.com/garyjia/approval-gateway/internal/worker"
	"github.com/garyjia/approval-gateway/pkg/database"
	"github.com/garyjia/approval-gateway/pkg/utils"
)

func main() {
	_ = gotenv.Load()

	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting approval gateway",
		zap.Int("port", cfg.Server.Port))

	db, err := database.New(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	migrator := database.NewMigrator(db, logger)
	if err := migrator.RunMigrations(cfg.Database.MigrationsDir); err != nil {
		logger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	// Repositories
	requestRepo := repository.NewRequestRepository(db.DB, logger)
	policyRepo := repository.NewPolicyRepository(db.DB, logger)
	tokenRepo := repository.NewTokenRepository(db.DB, logger)
	auditRepo := repository.NewAuditRepository(db.DB, logger)
	notificationRepo := repository.NewNotificationRepository(db.DB, logger)

	// Notification channels
	registry := notify.NewRegistry()

	urlValidator := ssrf.NewValidator(ssrf.WithLookupTimeout(cfg.Webhook.LookupTimeout))
	webhookRetry := retry.DefaultConfig()
	if cfg.Webhook.MaxAttempts > 0 {
		webhookRetry.MaxAttempts = cfg.Webhook.MaxAttempts
	}
	webhookAdapter := notify.NewWebhookAdapter(notify.WebhookConfig{
		Timeout:       cfg.Webhook.Timeout,
		Secret:        cfg.Webhook.Secret,
		TargetSecrets: cfg.Webhook.TargetSecrets,
		Retry:         webhookRetry,
	}, urlValidator, logger)

	emailAdapter := notify.NewEmailAdapter(notify.EmailConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	}, logger)

	slackAdapter := notify.NewSlackAdapter(cfg.Slack.BotToken, logger)

	for _, adapter := range []notify.Adapter{webhookAdapter, emailAdapter, slackAdapter} {
		if err := registry.Register(adapter); err != nil {
			logger.Fatal("Failed to register notification adapter", zap.Error(err))
		}
	}
	if unconfigured := registry.Unconfigured(); len(unconfigured) > 0 {
		logger.Warn("Notification channels registered without configuration",
			zap.Strings("channels", unconfigured))
	}

	router := notify.NewRouter(cfg.Notifications.Routes, registry,
		cfg.Notifications.DefaultChannel, cfg.Notifications.DefaultTarget)

	dispatcher := notify.NewDispatcher(router, registry, logger,
		notify.WithAttemptRecorder(notificationRepo),
		notify.WithSendTimeout(cfg.Notifications.SendTimeout))
	defer dispatcher.Close()

	// Services
	lifecycleService := lifecycle.NewService(requestRepo, policyRepo, auditRepo, dispatcher, logger)
	tokenService := token.NewService(tokenRepo, lifecycleService, auditRepo, cfg.Token.TTL, logger)

	// Background workers
	manager := worker.NewManager(logger)
	manager.Register(worker.NewExpirySweeper(requestRepo, lifecycleService, cfg.Sweeper.Interval, logger))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := manager.StartAll(ctx); err != nil {
		logger.Fatal("Failed to start workers", zap.Error(err))
	}
	defer manager.StopAll()

	// HTTP server
	handlers := httpadapter.NewHandlers(lifecycleService, tokenService, policyRepo,
		cfg.Server.PublicURL, logger)
	server := httpadapter.NewServer(httpadapter.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		PublicURL:    cfg.Server.PublicURL,
	}, handlers, logger)

	if err := server.Start(ctx); err != nil {
		logger.Fatal("HTTP server failed", zap.Error(err))
	}

	logger.Info("Approval gateway stopped")
}
