// Package scheduler holds the scheduled-job plumbing of the forum engine:
// the daily digest gate, the maintenance sweeps, and the runner that wraps
// every cron task in a job lock and a job history record.
//
// The MaintenancePayload is the JSON structure sent by EventBridge rules to
// the archiver and batcher functions.
package scheduler

import "time"

// TaskType identifies a scheduled task.
type TaskType string

const (
	// TaskSendForumMail runs the notification batcher followed by the
	// digest assembler.
	TaskSendForumMail TaskType = "send_forum_mail"
	// TaskCleanReadRecords deletes read records of posts past the cutoff.
	TaskCleanReadRecords TaskType = "clean_read_records"
	// TaskPurgeDigestQueue drops digest queue entries older than a week.
	TaskPurgeDigestQueue TaskType = "purge_digest_queue"
)

// MaintenancePayload is the JSON payload sent by EventBridge.
//
//	{
//	  "task": "clean_read_records",
//	  "reference_time": "2026-02-06T03:00:00Z"  // optional
//	}
type MaintenancePayload struct {
	Task TaskType `json:"task"`
	// ReferenceTime allows manual invocation to specify a different "now"
	// for backfilling. If nil, the current time is used.
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
}
