package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rickymta/isra-notification-service/internal/config"
	"github.com/rickymta/isra-notification-service/internal/domain/notification"
	"github.com/rickymta/isra-notification-service/internal/domain/template"
	"github.com/rickymta/isra-notification-service/internal/infra/broker"
	"github.com/rickymta/isra-notification-service/internal/infra/cache"
	"github.com/rickymta/isra-notification-service/internal/infra/ratelimit"
	"github.com/rickymta/isra-notification-service/internal/infra/store"
	"github.com/rickymta/isra-notification-service/internal/retry"
	"github.com/rickymta/isra-notification-service/internal/router"
)

func main() {
	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded", "port", cfg.Server.Port, "mode", cfg.Server.Mode)

	ctx := context.Background()

	// ==========================================
	// Dependency Injection (Manual Wiring)
	// ==========================================

	// Document store
	mongoClient, err := store.Connect(ctx, store.Config{
		URI:            cfg.Mongo.URI,
		Database:       cfg.Mongo.Database,
		ConnectTimeout: time.Duration(cfg.Mongo.ConnectTimeoutSec) * time.Second,
		OpTimeout:      time.Duration(cfg.Mongo.OpTimeoutSec) * time.Second,
	})
	if err != nil {
		slog.Error("failed to connect to document store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := mongoClient.Disconnect(context.Background()); err != nil {
			slog.Error("document store disconnect failed", "error", err)
		}
	}()
	slog.Info("document store connected", "database", cfg.Mongo.Database)

	db := mongoClient.Database(cfg.Mongo.Database)
	opTimeout := time.Duration(cfg.Mongo.OpTimeoutSec) * time.Second

	historyRepo, err := store.NewHistoryRepository(ctx, db, opTimeout)
	if err != nil {
		slog.Error("failed to initialize history repository", "error", err)
		os.Exit(1)
	}

	templateRepo, err := store.NewTemplateRepository(ctx, db, opTimeout)
	if err != nil {
		slog.Error("failed to initialize template repository", "error", err)
		os.Exit(1)
	}

	// Redis (template cache + recipient rate limiter)
	redisClient, err := cache.NewClient(ctx, cache.Config{
		Address:      cfg.Redis.Address,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  time.Duration(cfg.Redis.DialTimeoutSec) * time.Second,
		ReadTimeout:  time.Duration(cfg.Redis.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Redis.WriteTimeoutSec) * time.Second,
	})
	if err != nil {
		slog.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.Info("redis connected", "address", cfg.Redis.Address)

	redisCache := cache.NewRedisCache(
		redisClient,
		cfg.Redis.KeyPrefix,
		time.Duration(cfg.Redis.DefaultExpirationMin)*time.Minute,
	)

	cachedTemplates := template.NewCachedRepository(
		templateRepo,
		redisCache,
		time.Duration(cfg.Redis.TemplateCacheExpirationMin)*time.Minute,
	)

	recipientLimiter := ratelimit.NewRedisRecipientLimiter(
		redisClient,
		cfg.Redis.KeyPrefix,
		cfg.RecipientRateLimit.MaxPerHour,
	)
	slog.Info("recipient rate limiter initialized", "max_per_hour", cfg.RecipientRateLimit.MaxPerHour)

	// Broker (channel pool + publisher)
	brokerCfg := broker.Config{
		URL:                cfg.Broker.URL,
		Exchange:           cfg.Broker.Exchange,
		Queue:              cfg.Broker.Queue,
		RoutingKey:         cfg.Broker.RoutingKey,
		ConnectTimeout:     time.Duration(cfg.Broker.ConnectTimeoutSec) * time.Second,
		MaxChannels:        cfg.Broker.MaxChannels,
		InitialChannels:    cfg.Broker.InitialChannels,
		Prefetch:           cfg.Broker.Prefetch,
		MaxPublishAttempts: cfg.Broker.MaxPublishAttempts,
		ShutdownTimeout:    time.Duration(cfg.Broker.ShutdownTimeoutSec) * time.Second,
	}
	pool := broker.NewPool(broker.AMQPDialer(brokerCfg.URL, brokerCfg.ConnectTimeout), brokerCfg)
	defer pool.Close()

	retryPolicy := retry.ExponentialBackoff{
		InitialDelay: time.Duration(cfg.Retry.InitialDelayMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.Retry.MaxDelayMs) * time.Millisecond,
		Jitter:       cfg.Retry.Jitter,
	}

	publisher, err := broker.NewPublisher(ctx, pool, brokerCfg, retryPolicy)
	if err != nil {
		slog.Error("failed to initialize publisher", "error", err)
		os.Exit(1)
	}
	slog.Info("publisher initialized", "exchange", brokerCfg.Exchange, "queue", brokerCfg.Queue)

	// Services
	notificationService := notification.NewService(historyRepo, publisher, recipientLimiter, cfg.Retry.MaxAttempts)
	templateService := template.NewService(cachedTemplates)

	// Handlers
	notificationHandler := notification.NewHandler(notificationService)
	templateHandler := template.NewHandler(templateService)

	// Router
	r := router.New(cfg, notificationHandler, templateHandler)

	// ==========================================
	// HTTP Server with Graceful Shutdown
	// ==========================================

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		slog.Info("server starting", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server exited gracefully")
}
