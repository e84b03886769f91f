// Package main is the entry point for the forum API server.
//
// It loads the configuration, opens the PostgreSQL pool and the Redis
// client, wires the read-tracking, subscription, forum and randchoice
// services into their handlers, and serves them behind the core chassis.
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
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
	_ "time/tzdata"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/redis/go-redis/v9"

	"quora/internal/api/handlers"
	"quora/internal/config"
	"quora/internal/core"
	"quora/internal/db"
	"quora/internal/forum"
	"quora/internal/queue"
	"quora/internal/randchoice"
	"quora/internal/subscription"
	"quora/internal/tracking"
	"quora/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	ctx := context.Background()

	cfg, err := config.LoadConfig(config.NewSecretProvider(os.Getenv("SECRETS_SOURCE"), os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_URL")))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("forum API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password.Unmask(),
		DB:       cfg.Redis.DB,
	})

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		pool.Close()
		return fmt.Errorf("loading AWS config: %w", err)
	}
	events, closeEvents, err := queue.NewEventPublisher(cfg, awsCfg, logger)
	if err != nil {
		pool.Close()
		return fmt.Errorf("creating event publisher: %w", err)
	}

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	wireRoutes(srv, pool, rdb, events)

	srv.HealthProbes = append(srv.HealthProbes,
		core.NewPingProbe("database", pool.Ping),
		core.NewPingProbe("redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
	)
	srv.Closers = append(srv.Closers,
		func() error { closeEvents(); return nil },
		rdb.Close,
		func() error { pool.Close(); return nil },
	)

	srv.MountRoutes()
	return runHTTPServer(srv, cfg, logger)
}

// wireRoutes builds the domain services over the shared connections and
// registers their handlers under /v1.
func wireRoutes(srv *core.Server, pool db.DBTX, rdb redis.UniversalClient, events types.EventPublisher) {
	cfg, logger := srv.Config, srv.Logger
	settings := cfg.Forum.Settings()
	clock := types.RealClock{}

	forums := db.NewForumRepository(pool)
	users := db.NewUserRepository(pool)
	posts := db.NewPostRepository(pool)
	subs := db.NewSubscriptionRepository(pool)
	trackingRepo := db.NewTrackingRepository(pool)

	resolver := tracking.NewResolver(settings, trackingRepo, logger)
	reads := tracking.NewReadService(resolver, db.NewReadRepository(pool), trackingRepo, events, clock, logger)
	unread := tracking.NewAggregator(resolver, db.NewUnreadRepository(pool), forums, db.NewCapabilityRepository(pool), clock, logger)

	subscriptions := subscription.NewResolver(subs, subs, events, clock, logger)
	forumSvc := forum.NewService(forums, posts, reads, db.NewDigestQueueRepository(pool), events, clock, logger)

	locker := randchoice.NewRedisLocker(rdb, cfg.Choice.LockTTL, logger)
	choices := randchoice.NewService(db.NewChoiceRepository(pool), locker, cfg.Choice.LockTimeout, clock, logger)

	trackingHandler := handlers.NewTrackingHandler(unread, reads, forums, posts, users, srv.Validator, logger)
	subscriptionHandler := handlers.NewSubscriptionHandler(subscriptions, forums, srv.Validator, logger)
	forumHandler := handlers.NewForumHandler(forumSvc, forums, users, srv.Validator, logger)
	choiceHandler := handlers.NewChoiceHandler(choices, srv.Validator, logger)

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		trackingHandler.RegisterRoutes,
		subscriptionHandler.RegisterRoutes,
		forumHandler.RegisterRoutes,
		choiceHandler.RegisterRoutes,
	)
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	// Channel to capture server errors from ListenAndServe.
	serverErr := make(chan error, 1)

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	// Release the pool, the Redis client and the event producer.
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	})
	return slog.New(handler)
}
