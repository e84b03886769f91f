// Package main is the entrypoint for the forum mail Lambda function.
//
// The function is triggered by an EventBridge schedule. Each invocation runs
// the notification batcher over newly mailable posts and then the daily
// digest when it is due, under the send_forum_mail job lock.
//
// This file handles dependency wiring (Cold Start) and delegates all business
// logic to the internal/batcher and internal/notifications/digest packages.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"
	_ "time/tzdata"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/google/uuid"

	"quora/internal/batcher"
	"quora/internal/config"
	"quora/internal/db"
	"quora/internal/external"
	ncore "quora/internal/notifications/core"
	"quora/internal/notifications/digest"
	"quora/internal/notifications/email"
	"quora/internal/queue"
	"quora/internal/scheduler"
	"quora/internal/subscription"
	"quora/internal/tracking"
	"quora/internal/types"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	logger.Info("forum mail Lambda initializing (cold start)")

	if err := run(logger); err != nil {
		logger.Error("forum mail Lambda failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx := context.Background()

	cfg, err := config.LoadConfig(config.NewSecretProvider(os.Getenv("SECRETS_SOURCE"), os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_URL")))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return fmt.Errorf("loading AWS config: %w", err)
	}

	events, closeEvents, err := queue.NewEventPublisher(cfg, awsCfg, logger)
	if err != nil {
		return fmt.Errorf("creating event publisher: %w", err)
	}
	defer closeEvents()

	metrics := newMetrics(cfg.Observability, cloudwatch.NewFromConfig(awsCfg), logger)

	handler, err := buildHandler(cfg, pool, awsCfg, events, metrics, logger)
	if err != nil {
		return err
	}

	logger.Info("forum mail Lambda initialized",
		"environment", cfg.Environment,
		"email_provider", cfg.Email.Provider,
		"digest_hour", cfg.Forum.DigestMailHour,
		"timezone", cfg.Forum.Timezone,
	)

	// Local mode: read one event from stdin instead of starting the Lambda
	// runtime. Usage: echo '{"reference_time":"..."}' | go run ./cmd/batcher
	if cfg.Environment == "local" {
		logger.Info("APP_ENV=local: reading event from stdin")
		payload, err := readLocalEvent(os.Stdin)
		if err != nil {
			return err
		}
		if err := handler.Handle(ctx, payload); err != nil {
			return fmt.Errorf("handler execution failed: %w", err)
		}
		logger.Info("handler execution completed successfully")
		return nil
	}

	lambda.Start(handler.Handle)
	return nil
}

// buildHandler wires the batcher and the digest assembler over one
// database handle.
func buildHandler(cfg *config.Config, pool db.DBTX, awsCfg aws.Config, events types.EventPublisher, metrics ncore.MetricPublisher, logger *slog.Logger) (*batcher.Handler, error) {
	settings := cfg.Forum.Settings()
	clock := types.RealClock{}

	provider, err := external.NewEmailProvider(cfg.Email, awsCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating email provider: %w", err)
	}
	mailer := ncore.NewMailer(provider, types.SenderIdentity{
		Name:    cfg.Email.FromName,
		Address: cfg.Email.FromAddress,
	}, cfg.Email.Timeout, logger)

	loc, err := time.LoadLocation(cfg.Forum.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading forum timezone: %w", err)
	}
	renderer, err := email.NewRenderer(email.RendererConfig{
		SiteName: cfg.Email.FromName,
		WWWRoot:  cfg.Forum.WWWRoot,
		Location: loc,
	})
	if err != nil {
		return nil, fmt.Errorf("creating renderer: %w", err)
	}

	forums := db.NewForumRepository(pool)
	users := db.NewUserRepository(pool)
	posts := db.NewPostRepository(pool)
	subs := db.NewSubscriptionRepository(pool)
	digestQueue := db.NewDigestQueueRepository(pool)
	trackingRepo := db.NewTrackingRepository(pool)

	resolver := tracking.NewResolver(settings, trackingRepo, logger)
	reads := tracking.NewReadService(resolver, db.NewReadRepository(pool), trackingRepo, events, clock, logger)
	subscriptions := subscription.NewResolver(subs, subs, events, clock, logger)

	b := batcher.NewBatcher(settings, batcher.Deps{
		Posts:         posts,
		Context:       forums,
		Users:         users,
		Groups:        forums,
		Digest:        digestQueue,
		Prefs:         users,
		Subscriptions: subscriptions,
		SubCache:      subs,
		Reads:         reads,
		Mailer:        mailer,
		Renderer:      renderer,
		Capabilities:  db.NewCapabilityRepository(pool),
	}, logger)

	assembler := digest.NewAssembler(digest.Config{UserMarksRead: settings.UserMarksRead}, digest.Deps{
		Gate:     scheduler.NewDigestGate(db.NewConfigRepository(pool), settings),
		Queue:    digestQueue,
		Posts:    posts,
		Prefs:    users,
		Renderer: renderer,
		Mailer:   mailer,
		Reads:    reads,
	}, logger)

	runner := scheduler.NewRunner(
		db.NewJobLockRepository(pool),
		db.NewJobHistoryRepository(pool),
		"batcher-"+uuid.NewString(),
		0,
		logger,
	)

	return batcher.NewHandler(b, assembler, runner, metrics, clock, logger), nil
}

// newMetrics returns the CloudWatch publisher, or a no-op when metrics are
// disabled.
func newMetrics(cfg config.ObservabilityConfig, client ncore.CloudWatchClient, logger *slog.Logger) ncore.MetricPublisher {
	if !cfg.EnableMetrics {
		return ncore.NopMetrics{}
	}
	return ncore.NewCloudWatchCronMetrics(client, cfg.MetricNamespace, logger)
}

// readLocalEvent reads a single JSON event. An empty input becomes an
// empty object so a bare run uses the current time.
func readLocalEvent(r io.Reader) (json.RawMessage, error) {
	payload, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading stdin: %w", err)
	}
	if len(payload) == 0 {
		return json.RawMessage(`{}`), nil
	}
	if !json.Valid(payload) {
		return nil, errors.New("stdin is not valid JSON")
	}
	return json.RawMessage(payload), nil
}
