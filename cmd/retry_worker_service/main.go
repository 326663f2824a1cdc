package main

import (
	"context"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pulsegate/pulsegate/internal/dispatch_service/adapters/provider"
	"github.com/pulsegate/pulsegate/internal/dispatch_service/app"
	"github.com/pulsegate/pulsegate/internal/dispatch_service/domain"
	"github.com/pulsegate/pulsegate/internal/dispatch_service/repository/postgres"
	"github.com/pulsegate/pulsegate/internal/platform/cache"
	"github.com/pulsegate/pulsegate/internal/platform/config"
	"github.com/pulsegate/pulsegate/internal/platform/database"
	"github.com/pulsegate/pulsegate/internal/platform/logger"
	"github.com/pulsegate/pulsegate/internal/platform/messagebroker"
)

func main() {
	cfg, err := config.Load("./configs", "config.defaults")
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	appLogger := logger.New(cfg.LogLevel)
	appLogger.Info("Retry worker starting...", "log_level", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool, err := database.NewDBPool(ctx, cfg.PostgresDSN)
	if err != nil {
		appLogger.Error("Failed to connect to PostgreSQL database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	natsClient, err := messagebroker.NewNATSClient(cfg.NATSUrl, "dispatch-retry-worker", appLogger)
	if err != nil {
		appLogger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()

	var circuitCache cache.Cache
	if cfg.RedisAddr == "" {
		appLogger.Warn("REDIS_ADDR not set; using in-process circuit cache (single worker only)")
		circuitCache = cache.NewMemoryCache()
	} else {
		redisCache, err := cache.NewRedisCache(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			appLogger.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer redisCache.Close()
		circuitCache = redisCache
	}

	eventSink := app.NewNATSEventSink(natsClient, appLogger)

	messageRepo := postgres.NewPgMessageRepository(dbPool)
	deadLetterRepo := postgres.NewPgDeadLetterRepository(dbPool)
	attemptRepo := postgres.NewPgScheduledAttemptRepository(dbPool)

	senders := map[domain.Channel]domain.Sender{
		domain.ChannelSMS:      provider.NewMockProvider("mock-sms", domain.ChannelSMS, appLogger),
		domain.ChannelWhatsApp: provider.NewMockProvider("mock-whatsapp", domain.ChannelWhatsApp, appLogger),
		domain.ChannelEmail:    provider.NewMockProvider("mock-email", domain.ChannelEmail, appLogger),
	}

	breakerSettings := app.BreakerSettings{
		FailureThreshold: cfg.BreakerFailureThreshold,
		SuccessThreshold: cfg.BreakerSuccessThreshold,
		MaxTrials:        cfg.BreakerMaxTrials,
		Timeout:          cfg.BreakerTimeout,
		StateTTL:         cfg.BreakerStateTTL,
	}
	breakers := make(map[string]*app.CircuitBreaker, len(senders))
	for _, sender := range senders {
		breakers[sender.ServiceName()] = app.NewCircuitBreaker(
			sender.ServiceName(), breakerSettings, circuitCache, eventSink, appLogger)
	}

	backoff := app.NewBackoffCalculator(
		cfg.BackoffPolicy, cfg.BackoffBaseDelay, cfg.BackoffMaxDelay,
		rand.New(rand.NewSource(time.Now().UnixNano())),
	)
	policy := app.RetryPolicy{
		MaxAttempts: map[domain.Channel]int{
			domain.ChannelSMS:      cfg.MaxAttemptsSMS,
			domain.ChannelWhatsApp: cfg.MaxAttemptsWhatsApp,
			domain.ChannelEmail:    cfg.MaxAttemptsEmail,
		},
	}

	deadLetterRecorder := app.NewDeadLetterRecorder(deadLetterRepo, messageRepo, attemptRepo, eventSink, appLogger)
	coordinator := app.NewRetryCoordinator(
		messageRepo, attemptRepo, senders, breakers, backoff, policy, deadLetterRecorder, appLogger)

	consumer := app.NewAttemptConsumer(coordinator, natsClient, appLogger)
	if err := consumer.Start(ctx); err != nil {
		appLogger.Error("Failed to start attempt consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Stop()

	poller := app.NewAttemptPoller(attemptRepo, natsClient, appLogger, app.PollerConfig{
		PollingInterval: cfg.PollerInterval,
		BatchSize:       cfg.PollerBatchSize,
	})
	go poller.Run(ctx)

	<-ctx.Done()
	appLogger.Info("Retry worker stopped")
}
