package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/therealutkarshpriyadarshi/bunnystream/internal/bunny"
	"github.com/therealutkarshpriyadarshi/bunnystream/internal/cache"
	"github.com/therealutkarshpriyadarshi/bunnystream/internal/config"
	"github.com/therealutkarshpriyadarshi/bunnystream/internal/database"
	"github.com/therealutkarshpriyadarshi/bunnystream/internal/export"
	"github.com/therealutkarshpriyadarshi/bunnystream/internal/logging"
	"github.com/therealutkarshpriyadarshi/bunnystream/internal/metrics"
	"github.com/therealutkarshpriyadarshi/bunnystream/internal/monitoring"
	"github.com/therealutkarshpriyadarshi/bunnystream/internal/queue"
	"github.com/therealutkarshpriyadarshi/bunnystream/internal/session"
	"github.com/therealutkarshpriyadarshi/bunnystream/internal/storage"
	"github.com/therealutkarshpriyadarshi/bunnystream/internal/tracing"
	"github.com/therealutkarshpriyadarshi/bunnystream/internal/webhook"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize logger")
	}
	logger = logger.WithComponent("worker")

	_, tracerCloser, err := tracing.InitTracer(cfg.Tracing)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize tracing")
	}
	defer tracerCloser.Close()

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisCache, err := cache.NewCache(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to redis")
	}
	defer redisCache.Close()

	// Initialize database
	db, err := database.New(cfg.Database)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	repo := database.NewRepository(db, logger)

	// Initialize storage
	stor, err := storage.New(ctx, cfg.Storage, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize storage")
	}

	// Initialize queue
	q, err := queue.New(cfg.Queue, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to queue")
	}
	defer q.Close()

	webhooks := webhook.NewService(cfg.Webhook, repo, logger)
	defer webhooks.Close()

	exports := export.NewService(cfg.Export, export.Deps{
		Repository: repo,
		Publisher:  q,
		Videos:     bunny.New(cfg.Bunny, logger),
		Store:      stor,
		Sessions:   session.NewService(cfg.Session, session.NewRedisStore(redisCache.Client()), nil, logger),
		Notifier:   webhooks,
		Locker:     redisCache,
		Cache:      redisCache,
		Logger:     logger,
	})
	q.OnDeadLetter(exports.Abandon)

	monitor := monitoring.NewMonitor(repo, q, 0, logger)
	go monitor.Run(ctx)

	metricsServer := metrics.NewServer(cfg.Metrics.Port, monitor.HealthHandler())
	go func() {
		if err := metricsServer.Start(); err != nil {
			logger.WithError(err).Error("Metrics server failed")
		}
	}()

	// Handle shutdown gracefully
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutting down worker gracefully...")
		cancel()
	}()

	// Start consuming exports
	logger.Info("Worker started, waiting for exports...")
	if err := q.ConsumeExports(ctx, exports.Process); err != nil {
		logger.WithError(err).Error("Export consumer stopped")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Metrics server shutdown failed")
	}

	logger.Info("Worker stopped")
}
