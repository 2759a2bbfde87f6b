package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/akarwowska/altgen/internal/api"
	"github.com/akarwowska/altgen/internal/config"
	"github.com/akarwowska/altgen/internal/notifications"
	"github.com/akarwowska/altgen/internal/openrouter"
	"github.com/akarwowska/altgen/internal/ratelimit"
	"github.com/akarwowska/altgen/internal/repository"
	"github.com/akarwowska/altgen/internal/secrets"
	"github.com/akarwowska/altgen/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)

	slog.Info("starting altgen", "addr", cfg.Addr, "model", cfg.DefaultModel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := telemetry.Init(ctx, "altgen", cfg.OTLPEndpoint)
	if err != nil {
		slog.Error("failed to init telemetry", "error", err)
		os.Exit(1)
	}
	defer shutdownTelemetry(context.Background())

	apiKey := cfg.OpenRouterAPIKey
	if cfg.APIKeySecretName != "" {
		store, err := secrets.NewAWSSecretsManager(ctx, cfg.AWSRegion)
		if err != nil {
			slog.Error("failed to init secrets manager", "error", err)
			os.Exit(1)
		}
		apiKey, err = secrets.APIKey(ctx, store, cfg.APIKeySecretName)
		if err != nil {
			slog.Error("failed to fetch API key secret", "error", err)
			os.Exit(1)
		}
		slog.Info("API key loaded from secrets manager", "secret", cfg.APIKeySecretName)
	}
	if apiKey == "" {
		slog.Error("no OpenRouter API key configured")
		os.Exit(1)
	}

	settings := ratelimit.Settings{
		MaxPerMinute: cfg.MaxRequestsPerMinute,
		MaxPerHour:   cfg.MaxRequestsPerHour,
	}

	var limiter ratelimit.Limiter
	if cfg.RedisURL != "" {
		limiter, err = ratelimit.NewRedisLimiter(cfg.RedisURL, settings)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		slog.Info("using redis rate limiter")
	} else {
		limiter, err = ratelimit.NewSlidingWindow(settings)
		if err != nil {
			slog.Error("invalid rate limit settings", "error", err)
			os.Exit(1)
		}
		slog.Info("using in-memory rate limiter")
	}

	client, err := openrouter.New(openrouter.Config{
		APIKey:       apiKey,
		APIEndpoint:  cfg.OpenRouterEndpoint,
		DefaultModel: cfg.DefaultModel,
	}, openrouter.WithLimiter(limiter))
	if err != nil {
		slog.Error("failed to build openrouter client", "error", err)
		os.Exit(1)
	}

	var checkers []api.HealthChecker

	var jobs repository.JobRepository
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		if err := db.PingContext(ctx); err != nil {
			slog.Error("failed to ping database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		jobs = repository.NewPostgresJobRepository(db)
		checkers = append(checkers, api.NewPostgresHealthChecker(db))
		slog.Info("using postgres job store")
	} else {
		jobs = repository.NewInMemoryJobRepository()
		slog.Info("using in-memory job store")
	}

	if cfg.RedisURL != "" {
		redisChecker, err := api.NewRedisHealthChecker(cfg.RedisURL)
		if err == nil {
			checkers = append(checkers, redisChecker)
		}
	}

	var notifier notifications.Notifier
	if cfg.SNSTopicARN != "" {
		notifier, err = notifications.NewSNSNotifier(ctx, cfg.AWSRegion, cfg.SNSTopicARN)
		if err != nil {
			slog.Error("failed to init SNS notifier", "error", err)
			os.Exit(1)
		}
		slog.Info("using SNS notifier", "topic", cfg.SNSTopicARN)
	} else {
		notifier = notifications.NewInMemoryNotifier()
	}

	handler := api.NewHandler(api.HandlerConfig{
		Jobs:           jobs,
		Client:         client,
		Notifier:       notifier,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Checkers:       checkers,
	})

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 180 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("server stopped")
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
