package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultLockTTL covers the typical Lambda execution duration with margin.
const DefaultLockTTL = 15 * time.Minute

// JobLocker abstracts the distributed lock acquisition.
type JobLocker interface {
	Acquire(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, lockID string, workerID string) error
}

// JobHistorian abstracts the job history recording.
type JobHistorian interface {
	Start(ctx context.Context, jobType string) (int64, error)
	Finish(ctx context.Context, id int64, status string, items int, err error) error
}

// TaskFunc runs one task at the reference time and returns the number of
// items it processed.
type TaskFunc func(ctx context.Context, now time.Time) (int, error)

// Runner executes tasks under a job lock and records them in job history.
type Runner struct {
	locks    JobLocker
	history  JobHistorian
	workerID string
	lockTTL  time.Duration
	logger   *slog.Logger
}

// NewRunner creates a Runner. lockTTL <= 0 means DefaultLockTTL.
func NewRunner(locks JobLocker, history JobHistorian, workerID string, lockTTL time.Duration, logger *slog.Logger) *Runner {
	if lockTTL <= 0 {
		lockTTL = DefaultLockTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{locks: locks, history: history, workerID: workerID, lockTTL: lockTTL, logger: logger}
}

// Run executes fn unless another worker holds the task's lock. The lock is
// keyed by task only, so overlapping invocations of the same task skip
// rather than run side by side. skipped is true when the lock was held.
func (r *Runner) Run(ctx context.Context, task TaskType, now time.Time, fn TaskFunc) (items int, skipped bool, err error) {
	lockID := string(task)
	acquired, err := r.locks.Acquire(ctx, lockID, r.workerID, r.lockTTL)
	if err != nil {
		return 0, false, fmt.Errorf("acquiring job lock %s: %w", lockID, err)
	}
	if !acquired {
		r.logger.InfoContext(ctx, "job lock not acquired, another worker is processing",
			"lock_id", lockID,
		)
		return 0, true, nil
	}
	defer func() {
		if relErr := r.locks.Release(context.WithoutCancel(ctx), lockID, r.workerID); relErr != nil {
			r.logger.WarnContext(ctx, "failed to release job lock",
				"lock_id", lockID,
				"error", relErr,
			)
		}
	}()

	jobID, histErr := r.history.Start(ctx, string(task))
	if histErr != nil {
		// History is for operators; the task still runs.
		r.logger.ErrorContext(ctx, "failed to start job history",
			"task", string(task),
			"error", histErr,
		)
		jobID = 0
	}

	items, err = fn(ctx, now)

	status := "success"
	if err != nil {
		status = "failed"
	}
	if jobID != 0 {
		if finishErr := r.history.Finish(context.WithoutCancel(ctx), jobID, status, items, err); finishErr != nil {
			r.logger.ErrorContext(ctx, "failed to finish job history",
				"job_id", jobID,
				"task", string(task),
				"error", finishErr,
			)
		}
	}

	if err != nil {
		return items, false, fmt.Errorf("task %s failed: %w", task, err)
	}
	return items, false, nil
}
