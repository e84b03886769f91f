package batcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"quora/internal/notifications/core"
	"quora/internal/notifications/digest"
	"quora/internal/scheduler"
	"quora/internal/types"
)

// DigestRunner runs the daily digest after the batcher.
type DigestRunner interface {
	Run(ctx context.Context, now time.Time, cache *core.RunCache) (digest.DigestStats, error)
}

// TaskRunner wraps a task in a job lock and history record.
type TaskRunner interface {
	Run(ctx context.Context, task scheduler.TaskType, now time.Time, fn scheduler.TaskFunc) (int, bool, error)
}

var (
	_ DigestRunner = (*digest.Assembler)(nil)
	_ TaskRunner   = (*scheduler.Runner)(nil)
)

// Handler is the Lambda entrypoint for the forum mail cron. One invocation
// runs the batcher and then the digest assembler, sharing a run cache.
type Handler struct {
	batcher *Batcher
	digest  DigestRunner
	runner  TaskRunner
	metrics core.MetricPublisher
	clock   types.Clock
	logger  *slog.Logger
}

// NewHandler creates a Handler. metrics and clock may be nil.
func NewHandler(b *Batcher, d DigestRunner, runner TaskRunner, metrics core.MetricPublisher, clock types.Clock, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = core.NopMetrics{}
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	return &Handler{batcher: b, digest: d, runner: runner, metrics: metrics, clock: clock, logger: logger}
}

// Handle accepts either an EventBridge scheduled event or a manual
// MaintenancePayload. A manual payload may carry a reference time; its
// task, when set, must be send_forum_mail.
func (h *Handler) Handle(ctx context.Context, payload json.RawMessage) error {
	now, err := h.referenceTime(payload)
	if err != nil {
		return err
	}

	start := time.Now()
	counts := make(map[string]int)
	_, skipped, err := h.runner.Run(ctx, scheduler.TaskSendForumMail, now, func(ctx context.Context, now time.Time) (int, error) {
		cache := h.batcher.NewRunCache()

		stats, err := h.batcher.RunWithCache(ctx, now, cache)
		mergeCounts(counts, stats.Counts())
		if err != nil {
			return stats.Sent, err
		}

		ds, err := h.digest.Run(ctx, now, cache)
		mergeCounts(counts, ds.Counts())
		return stats.Sent + ds.Sent, err
	})
	if skipped {
		return nil
	}

	h.metrics.PublishRun(ctx, string(scheduler.TaskSendForumMail), counts, time.Since(start))
	if err != nil {
		return fmt.Errorf("batcher: %w", err)
	}
	return nil
}

func (h *Handler) referenceTime(payload json.RawMessage) (time.Time, error) {
	now := h.clock.Now().UTC()
	if len(payload) == 0 {
		return now, nil
	}

	var ev events.CloudWatchEvent
	if err := json.Unmarshal(payload, &ev); err == nil && ev.DetailType != "" {
		return now, nil
	}

	var p scheduler.MaintenancePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return time.Time{}, fmt.Errorf("batcher: failed to parse payload: %w", err)
	}
	if p.Task != "" && p.Task != scheduler.TaskSendForumMail {
		return time.Time{}, fmt.Errorf("batcher: unexpected task %q", p.Task)
	}
	if p.ReferenceTime != nil {
		return p.ReferenceTime.UTC(), nil
	}
	return now, nil
}

func mergeCounts(dst, src map[string]int) {
	for k, v := range src {
		dst[k] += v
	}
}
