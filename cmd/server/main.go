package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/juju/clock"

	"github.com/Priya8975/order-relay/internal/api"
	"github.com/Priya8975/order-relay/internal/config"
	"github.com/Priya8975/order-relay/internal/engine"
	"github.com/Priya8975/order-relay/internal/feed"
	"github.com/Priya8975/order-relay/internal/metrics"
	"github.com/Priya8975/order-relay/internal/store"
	"github.com/Priya8975/order-relay/internal/telemetry"
	"github.com/Priya8975/order-relay/internal/websocket"
	"github.com/Priya8975/order-relay/internal/worker"
	"github.com/Priya8975/order-relay/migrations"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	metrics.Register()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: cfg.ServiceName,
		ExporterURL: cfg.OTelExporterURL,
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	// Initialize PostgreSQL
	pgStore, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pgStore.Close()
	logger.Info("connected to PostgreSQL")

	if err := pgStore.RunMigrations(ctx, migrations.FS); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database migrations applied")

	// Initialize Redis
	redisStore, err := store.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisStore.Close()
	logger.Info("connected to Redis")

	hub := websocket.NewHub(websocket.NewRegistry(), logger).
		WithCommandLimit(engine.NewRateLimiter(redisStore.Client(), logger), cfg.CommandRateLimit)

	dispatcher := worker.NewDispatcher(hub, cfg.QueueSize, cfg.PublishTimeout, logger)

	var (
		mirror     *worker.KafkaMirror
		mirrorPool *worker.Pool
	)
	if cfg.MirrorEnabled() {
		writer := worker.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic)
		breaker := engine.NewCircuitBreaker(redisStore.Client(), logger)
		mirror = worker.NewKafkaMirror(writer, cfg.KafkaTopic, breaker, logger)
		mirrorPool = worker.NewPool(cfg.MirrorWorkers, mirror.Publish, logger)
		mirrorPool.Start(ctx)
		dispatcher.WithMirror(mirrorPool)
		logger.Info("notification mirror enabled", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers)
	}

	listener := feed.NewListener(
		feed.NewPgSource(cfg.DatabaseURL, cfg.FeedChannel),
		worker.FeedHandler(dispatcher, logger),
		clock.WallClock,
		feed.Config{
			ReconnectDelay:    cfg.ReconnectDelay,
			MaxReconnectDelay: cfg.MaxReconnectDelay,
		},
		logger,
	)
	sweeper := worker.NewSweeper(pgStore, dispatcher, clock.WallClock, cfg.SweepInterval, logger)

	// Delivery outlives the producers so queued notifications still reach
	// their rooms on shutdown.
	deliveryCtx, cancelDelivery := context.WithCancel(context.Background())
	defer cancelDelivery()

	var producers, delivery sync.WaitGroup
	run := func(ctx context.Context, wg *sync.WaitGroup, fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}
	run(deliveryCtx, &delivery, hub.Run)
	run(deliveryCtx, &delivery, dispatcher.Run)
	run(ctx, &producers, sweeper.Start)
	run(ctx, &producers, func(ctx context.Context) {
		if err := listener.Run(ctx); err != nil {
			logger.Error("change feed listener exited", "error", err)
		}
	})

	router := api.NewRouter(api.Deps{
		Store:          pgStore,
		DB:             pgStore,
		Listener:       listener,
		Sessions:       hub,
		WebSocket:      hub.HandleWebSocket,
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         logger,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server starting", "port", cfg.Port, "feed_channel", cfg.FeedChannel)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Stop producers first so nothing new is queued while the dispatcher drains.
	cancel()
	producers.Wait()
	cancelDelivery()
	delivery.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	if mirrorPool != nil {
		mirrorPool.Stop()
		if err := mirror.Close(); err != nil {
			logger.Error("failed to close kafka writer", "error", err)
		}
	}

	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("failed to flush traces", "error", err)
	}

	logger.Info("server stopped")
}
