package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rickymta/isra-notification-service/internal/config"
	"github.com/rickymta/isra-notification-service/internal/domain/notification"
	"github.com/rickymta/isra-notification-service/internal/domain/template"
	"github.com/rickymta/isra-notification-service/internal/infra/broker"
	"github.com/rickymta/isra-notification-service/internal/infra/cache"
	"github.com/rickymta/isra-notification-service/internal/infra/store"
	"github.com/rickymta/isra-notification-service/internal/infra/strategy"
	"github.com/rickymta/isra-notification-service/internal/retry"
)

// consumerRestartPause is how long the worker waits before restarting a
// consumer whose delivery stream the broker closed.
const consumerRestartPause = 5 * time.Second

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

	slog.Info("worker configuration loaded")

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

	// Redis (template cache)
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

	renderer := template.NewRenderer(cachedTemplates)

	// Channel strategies
	registry := notification.NewRegistry(
		strategy.NewEmailStrategy(cfg.Email.Endpoint, cfg.Email.APIKey, cfg.Email.FromAddress, cfg.Email.FromName),
		strategy.NewSMSStrategy(cfg.SMS.Endpoint, cfg.SMS.APIKey, cfg.SMS.From),
		strategy.NewPushStrategy(cfg.Push.Endpoint, cfg.Push.APIKey),
	)

	// Broker (channel pool + publisher + consumer)
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

	// Orchestrator (delivery half of the pipeline)
	orchestrator := notification.NewOrchestrator(
		historyRepo,
		renderer,
		registry,
		publisher,
		time.Duration(cfg.Worker.SendTimeoutSec)*time.Second,
	)

	consumer := broker.NewConsumer(pool, brokerCfg, orchestrator, cfg.Retry.MaxAttempts)

	// ==========================================
	// Consumer Loop + Stale Delivery Reaper
	// ==========================================

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		for {
			if err := consumer.Run(runCtx); err != nil {
				slog.Error("consumer stopped", "error", err)
			}
			select {
			case <-runCtx.Done():
				return
			case <-time.After(consumerRestartPause):
				// The pool redials on the next Acquire.
			}
		}
	}()

	reaper := notification.NewReaper(historyRepo, publisher, notification.ReaperConfig{
		Interval:       time.Duration(cfg.Reaper.IntervalSec) * time.Second,
		StaleThreshold: time.Duration(cfg.Reaper.StaleThresholdSec) * time.Second,
		BatchSize:      cfg.Reaper.BatchSize,
	})
	go reaper.Run(runCtx)

	// ==========================================
	// Graceful Shutdown
	// ==========================================

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down worker...")
	cancel()

	// Wait for the in-flight delivery, bounded by the shutdown timeout.
	select {
	case <-consumerDone:
	case <-time.After(brokerCfg.ShutdownTimeout):
		slog.Warn("shutdown timeout elapsed before consumer drained")
	}

	slog.Info("worker exited gracefully")
}
