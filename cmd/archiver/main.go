// Package main is the entrypoint for the Archiver Lambda function.
//
// The Archiver acts as a Maintenance Multiplexer. EventBridge rules send JSON
// payloads indicating the TaskType, and the handler routes execution to the
// matching scheduler service under a job lock and a job history record.
//
// Tasks:
//   - clean_read_records: deletes read records of posts older than the
//     old-post cutoff.
//   - purge_digest_queue: drops digest queue entries older than a week.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"
	_ "time/tzdata"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/google/uuid"

	"quora/internal/config"
	"quora/internal/db"
	"quora/internal/queue"
	"quora/internal/scheduler"
	"quora/internal/tracking"
	"quora/internal/types"
)

// lockTTL covers the typical Lambda execution duration with margin.
const lockTTL = 15 * time.Minute

// MaintenanceService provides the sweeps the multiplexer routes to.
type MaintenanceService interface {
	CleanReadRecords(ctx context.Context, now time.Time) (int, error)
	PurgeDigestQueue(ctx context.Context, now time.Time) (int, error)
}

// TaskRunner wraps a task in a job lock and history record.
type TaskRunner interface {
	Run(ctx context.Context, task scheduler.TaskType, now time.Time, fn scheduler.TaskFunc) (int, bool, error)
}

var (
	_ MaintenanceService = (*scheduler.MaintenanceService)(nil)
	_ TaskRunner         = (*scheduler.Runner)(nil)
)

// Handler holds the dependencies for the archiver Lambda handler function.
type Handler struct {
	Maintenance MaintenanceService
	Runner      TaskRunner
	Clock       types.Clock
	Logger      *slog.Logger
}

// Handle processes a MaintenancePayload from EventBridge.
func (h *Handler) Handle(ctx context.Context, payload scheduler.MaintenancePayload) (string, error) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := time.Now().UTC()
	if h.Clock != nil {
		now = h.Clock.Now().UTC()
	}
	if payload.ReferenceTime != nil {
		now = payload.ReferenceTime.UTC()
	}

	if payload.Task == "" {
		return "", fmt.Errorf("empty task type in maintenance payload")
	}
	fn, err := h.route(payload.Task)
	if err != nil {
		return "", err
	}

	logger.InfoContext(ctx, "archiver handler invoked",
		"task", string(payload.Task),
		"reference_time", now.Format(time.RFC3339),
	)

	items, skipped, err := h.Runner.Run(ctx, payload.Task, now, fn)
	if skipped {
		return fmt.Sprintf("skipped: %s held by another worker", payload.Task), nil
	}
	if err != nil {
		return "", fmt.Errorf("task %s failed: %w", payload.Task, err)
	}
	return fmt.Sprintf("task %s complete: %d items processed", payload.Task, items), nil
}

// route maps a TaskType to the service method that runs it.
func (h *Handler) route(task scheduler.TaskType) (scheduler.TaskFunc, error) {
	switch task {
	case scheduler.TaskCleanReadRecords:
		return h.Maintenance.CleanReadRecords, nil
	case scheduler.TaskPurgeDigestQueue:
		return h.Maintenance.PurgeDigestQueue, nil
	default:
		return nil, fmt.Errorf("unknown task type: %q", task)
	}
}

// buildHandler wires the maintenance sweeps over one database handle.
func buildHandler(cfg *config.Config, pool db.DBTX, events types.EventPublisher, logger *slog.Logger) *Handler {
	settings := cfg.Forum.Settings()
	clock := types.RealClock{}

	trackingRepo := db.NewTrackingRepository(pool)
	resolver := tracking.NewResolver(settings, trackingRepo, logger)
	reads := tracking.NewReadService(resolver, db.NewReadRepository(pool), trackingRepo, events, clock, logger)

	return &Handler{
		Maintenance: scheduler.NewMaintenanceService(reads, db.NewDigestQueueRepository(pool), logger),
		Runner: scheduler.NewRunner(
			db.NewJobLockRepository(pool),
			db.NewJobHistoryRepository(pool),
			"archiver-"+uuid.NewString(),
			lockTTL,
			logger,
		),
		Clock:  clock,
		Logger: logger,
	}
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	logger.Info("Archiver Lambda initializing (cold start)")

	if err := run(logger); err != nil {
		logger.Error("Archiver Lambda failed", "error", err)
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

	handler := buildHandler(cfg, pool, events, logger)
	logger.Info("Archiver Lambda initialized", "environment", cfg.Environment)

	// Local mode: read one payload from stdin instead of starting the Lambda
	// runtime. Usage: echo '{"task":"clean_read_records"}' | go run ./cmd/archiver
	if cfg.Environment == "local" {
		payload, err := readLocalPayload(os.Stdin)
		if err != nil {
			return err
		}
		result, err := handler.Handle(ctx, payload)
		if err != nil {
			return err
		}
		logger.Info(result)
		return nil
	}

	lambda.Start(handler.Handle)
	return nil
}

func readLocalPayload(r io.Reader) (scheduler.MaintenancePayload, error) {
	var p scheduler.MaintenancePayload
	if err := json.NewDecoder(r).Decode(&p); err != nil {
		return p, fmt.Errorf("decoding stdin payload: %w", err)
	}
	return p, nil
}
