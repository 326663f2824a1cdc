package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	transport "github.com/pulsegate/pulsegate/internal/dispatch_service/adapters/http"
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
	appLogger.Info("Dispatch service starting...", "log_level", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool, err := database.NewDBPool(ctx, cfg.PostgresDSN)
	if err != nil {
		appLogger.Error("Failed to connect to PostgreSQL database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	natsClient, err := messagebroker.NewNATSClient(cfg.NATSUrl, "dispatch-service", appLogger)
	if err != nil {
		appLogger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()

	circuitCache, err := newCircuitCache(ctx, cfg, appLogger)
	if err != nil {
		appLogger.Error("Failed to initialize circuit cache", "error", err)
		os.Exit(1)
	}

	eventSink := app.NewNATSEventSink(natsClient, appLogger)

	messageRepo := postgres.NewPgMessageRepository(dbPool)
	deadLetterRepo := postgres.NewPgDeadLetterRepository(dbPool)
	attemptRepo := postgres.NewPgScheduledAttemptRepository(dbPool)

	dispatcher := app.NewDispatcher(messageRepo, attemptRepo, eventSink, appLogger, cfg.MaxPayloadBytes)
	deadLetterRecorder := app.NewDeadLetterRecorder(deadLetterRepo, messageRepo, attemptRepo, eventSink, appLogger)

	breakerSettings := app.BreakerSettings{
		FailureThreshold: cfg.BreakerFailureThreshold,
		SuccessThreshold: cfg.BreakerSuccessThreshold,
		MaxTrials:        cfg.BreakerMaxTrials,
		Timeout:          cfg.BreakerTimeout,
		StateTTL:         cfg.BreakerStateTTL,
	}
	senders := buildSenders(appLogger)
	breakers := make(map[string]*app.CircuitBreaker, len(senders))
	for _, sender := range senders {
		breakers[sender.ServiceName()] = app.NewCircuitBreaker(
			sender.ServiceName(), breakerSettings, circuitCache, eventSink, appLogger)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	dispatchHandler := transport.NewDispatchHandler(dispatcher, validate, appLogger)
	circuitHandler := transport.NewCircuitHandler(breakers, appLogger)
	deadLetterHandler := transport.NewDeadLetterHandler(deadLetterRecorder, deadLetterRepo, appLogger)

	router := chi.NewRouter()
	router.Use(chi_middleware.RequestID)
	router.Use(chi_middleware.RealIP)
	router.Use(chi_middleware.Recoverer)
	router.Use(transport.PrometheusMetricsMiddleware)

	router.Route("/api/v1", func(r chi.Router) {
		dispatchHandler.RegisterRoutes(r)
		circuitHandler.RegisterRoutes(r)
		deadLetterHandler.RegisterRoutes(r)
	})
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: router,
	}

	go func() {
		appLogger.Info("HTTP server listening", "port", cfg.HTTPPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	appLogger.Info("Shutting down dispatch service...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("HTTP server shutdown failed", "error", err)
	}
	appLogger.Info("Dispatch service stopped")
}

// newCircuitCache picks the shared Redis cache when configured, otherwise the
// single-process in-memory cache.
func newCircuitCache(ctx context.Context, cfg *config.Config, appLogger *slog.Logger) (cache.Cache, error) {
	if cfg.RedisAddr == "" {
		appLogger.Warn("REDIS_ADDR not set; using in-process circuit cache (single worker only)")
		return cache.NewMemoryCache(), nil
	}
	return cache.NewRedisCache(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
}

func buildSenders(appLogger *slog.Logger) map[domain.Channel]domain.Sender {
	return map[domain.Channel]domain.Sender{
		domain.ChannelSMS:      provider.NewMockProvider("mock-sms", domain.ChannelSMS, appLogger),
		domain.ChannelWhatsApp: provider.NewMockProvider("mock-whatsapp", domain.ChannelWhatsApp, appLogger),
		domain.ChannelEmail:    provider.NewMockProvider("mock-email", domain.ChannelEmail, appLogger),
	}
}
