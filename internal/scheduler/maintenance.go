package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DigestQueueMaxAge is the age past which queued digest entries are dropped
// even if no digest ever drained them.
const DigestQueueMaxAge = 7 * 24 * time.Hour

// ReadRecordCleaner deletes read records of posts past the old-post cutoff.
type ReadRecordCleaner interface {
	CleanReadRecords(ctx context.Context, now time.Time) (int64, error)
}

// DigestQueuePurger deletes digest queue entries queued before cutoff.
type DigestQueuePurger interface {
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// MaintenanceService runs the periodic sweeps that keep the read and
// digest tables bounded.
type MaintenanceService struct {
	reads  ReadRecordCleaner
	queue  DigestQueuePurger
	logger *slog.Logger
}

// NewMaintenanceService creates a new MaintenanceService.
func NewMaintenanceService(reads ReadRecordCleaner, queue DigestQueuePurger, logger *slog.Logger) *MaintenanceService {
	if logger == nil {
		logger = slog.Default()
	}
	return &MaintenanceService{reads: reads, queue: queue, logger: logger}
}

// CleanReadRecords deletes read records that no longer carry information:
// every post older than the cutoff counts as read anyway.
func (m *MaintenanceService) CleanReadRecords(ctx context.Context, now time.Time) (int, error) {
	n, err := m.reads.CleanReadRecords(ctx, now)
	if err != nil {
		return int(n), fmt.Errorf("cleaning read records: %w", err)
	}
	if n > 0 {
		m.logger.InfoContext(ctx, "purged old read records", "count", n)
	}
	return int(n), nil
}

// PurgeDigestQueue drops digest entries older than DigestQueueMaxAge.
func (m *MaintenanceService) PurgeDigestQueue(ctx context.Context, now time.Time) (int, error) {
	n, err := m.queue.PurgeBefore(ctx, now.Add(-DigestQueueMaxAge))
	if err != nil {
		return 0, fmt.Errorf("purging digest queue: %w", err)
	}
	if n > 0 {
		m.logger.WarnContext(ctx, "purged stale digest queue entries", "count", n)
	}
	return int(n), nil
}
