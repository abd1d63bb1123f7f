package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/therealutkarshpriyadarshi/bunnystream/internal/bunny"
	"github.com/therealutkarshpriyadarshi/bunnystream/internal/cache"
	"github.com/therealutkarshpriyadarshi/bunnystream/internal/config"
	"github.com/therealutkarshpriyadarshi/bunnystream/internal/database"
	"github.com/therealutkarshpriyadarshi/bunnystream/internal/export"
	"github.com/therealutkarshpriyadarshi/bunnystream/internal/gateway"
	"github.com/therealutkarshpriyadarshi/bunnystream/internal/logging"
	"github.com/therealutkarshpriyadarshi/bunnystream/internal/middleware"
	"github.com/therealutkarshpriyadarshi/bunnystream/internal/platform"
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
	gin.SetMode(gin.ReleaseMode)

	// Initialize tracing
	_, tracerCloser, err := tracing.InitTracer(cfg.Tracing)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize tracing")
	}
	defer tracerCloser.Close()

	ctx := context.Background()

	// Initialize Redis
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

	if err := db.Migrate(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to migrate database")
	}
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

	sessions := session.NewService(
		cfg.Session,
		session.NewRedisStore(redisCache.Client()),
		&registrar{repo: repo, notifier: webhooks, logger: logger.WithComponent("registrar")},
		logger,
	)

	client := bunny.New(cfg.Bunny, logger)

	gwOpts := gateway.Options{
		Videos:   client,
		CacheTTL: cfg.Cache.TTL,
		Platform: platform.NewHostProvider(),
		Logger:   logger,
	}
	if cfg.Cache.Enabled {
		gwOpts.Cache = redisCache
	}

	exports := export.NewService(cfg.Export, export.Deps{
		Repository: repo,
		Publisher:  q,
		Videos:     client,
		Store:      stor,
		Sessions:   sessions,
		Notifier:   webhooks,
		Locker:     redisCache,
		Cache:      redisCache,
		Logger:     logger,
	})

	api := &API{
		sessions: sessions,
		gateway:  gateway.New(gwOpts),
		exports:  exports,
		checks: []HealthCheck{
			{Name: "database", Check: db.Health},
			{Name: "redis", Check: redisCache.Ping},
			{Name: "storage", Check: stor.Health},
		},
	}

	var limiter *middleware.RateLimiter
	stopCleanup := make(chan struct{})
	if cfg.RateLimit.Enabled {
		limiter = middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst, cfg.RateLimit.IdleTTL)
		go limiter.Run(stopCleanup)
	}
	defer close(stopCleanup)

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      setupRouter(api, limiter, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.WithField("addr", srv.Addr).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server stopped")
}
