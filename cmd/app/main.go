package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gifty-bot/internal/cache"
	"gifty-bot/internal/config"
	"gifty-bot/internal/convo"
	"gifty-bot/internal/gifty"
	"gifty-bot/internal/httpserver"
	"gifty-bot/internal/logging"
	"gifty-bot/internal/metrics"
	"gifty-bot/internal/repo"
	"gifty-bot/internal/tg"
	"gifty-bot/migrations"

	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.AppEnv)
	logger.Info("starting gifty-bot", "env", cfg.AppEnv)

	if cfg.PublicBaseURL != "" {
		base := strings.TrimRight(cfg.PublicBaseURL, "/")
		logger.Info("public base url configured",
			"base_url", cfg.PublicBaseURL,
			"payment_webhook_url", base+"/webhook/payment-status",
			"redeem_webhook_url", base+"/webhook/redeem-status")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricRegistry := metrics.Registry(cfg.MetricsNamespace)

	// The audit repository is optional: without DATABASE_URL the bot runs
	// stateless and simply skips persistence.
	var repository repo.Repository
	if cfg.DatabaseURL != "" {
		pg, err := repo.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return fmt.Errorf("init repository: %w", err)
		}
		defer pg.Close()

		if err := pg.RunMigrations(ctx, migrations.Files); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		logger.Info("database migrated")
		repository = pg
	} else {
		logger.Warn("DATABASE_URL not set, audit persistence disabled")
	}

	redisClient := cache.New(cache.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		UseTLS:   cfg.RedisTLS,
	}, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("failed closing redis", "error", err)
		}
	}()
	if err := redisClient.Ping(ctx); err != nil {
		logger.Warn("redis ping failed", "error", err)
	}

	giftyClient := gifty.New(gifty.Config{
		BaseURL: cfg.BackendBaseURL,
		Timeout: cfg.BackendTimeout,
	}, logger, metricRegistry, redisClient)

	tgClient, err := tg.New(tg.Config{
		Token:       cfg.TelegramToken,
		PollTimeout: cfg.TelegramPollTimeout,
		Metrics:     metricRegistry,
	}, logger)
	if err != nil {
		return fmt.Errorf("init telegram client: %w", err)
	}
	defer tgClient.Close()

	sessions := convo.NewSessionStore()
	sessions.StartJanitor(ctx, cfg.SessionTTL, cfg.SessionSweepInterval, logger)

	engine := convo.New(repository, giftyClient, tgClient, sessions, metricRegistry, logger, convo.EngineConfig{
		Channel: "telegram",
	})
	tgClient.SetUpdateProcessor(engine)

	webhookHandler := gifty.NewWebhookHandler(logger, metricRegistry, repository,
		cfg.WebhookSecretMD5Username, cfg.WebhookSecretMD5Password, engine)

	tgCtx, tgCancel := context.WithCancel(ctx)
	defer tgCancel()
	go func() {
		if err := tgClient.Start(tgCtx); err != nil {
			logger.Error("telegram client stopped", "error", err)
			stop()
		}
	}()

	httpSrv := httpserver.New(cfg.HTTPListenAddr, logger, metricRegistry, httpserver.Handlers{
		PaymentWebhook: webhookHandler.PaymentStatus(),
		RedeemWebhook:  webhookHandler.RedeemStatus(),
	}, cfg.PublicBasePath)
	httpSrv.SetDependencies(httpserver.Dependencies{
		Repository: repository,
		Redis:      redisClient,
		Sessions:   sessions,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	return nil
}
