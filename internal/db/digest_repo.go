package db

import (
	"context"
	"time"

	"quora/internal/types"
)

// DigestQueueRepository provides data access for quora_queue, the send-later
// queue drained by the digest assembler.
type DigestQueueRepository struct {
	db DBTX
}

// NewDigestQueueRepository creates a new DigestQueueRepository backed by the
// given database connection (pool or transaction).
func NewDigestQueueRepository(db DBTX) *DigestQueueRepository {
	return &DigestQueueRepository{db: db}
}

// Enqueue inserts a queue entry.
func (r *DigestQueueRepository) Enqueue(ctx context.Context, e types.DigestQueueEntry) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO quora_queue (userid, discussionid, postid, timemodified)
		 VALUES ($1, $2, $3, $4)`,
		e.UserID,
		e.DiscussionID,
		e.PostID,
		e.TimeModified,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to enqueue digest entry", err)
	}
	return nil
}

// PurgeBefore deletes every entry queued before cutoff.
func (r *DigestQueueRepository) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM quora_queue WHERE timemodified < $1`, cutoff)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to purge digest queue", err)
	}
	return tag.RowsAffected(), nil
}

// ListBefore returns entries queued before cutoff ordered by user, then
// discussion, then queue time.
func (r *DigestQueueRepository) ListBefore(ctx context.Context, cutoff time.Time) ([]types.DigestQueueEntry, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, userid, discussionid, postid, timemodified
		   FROM quora_queue
		  WHERE timemodified < $1
		  ORDER BY userid, discussionid, timemodified, id`,
		cutoff,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list digest queue", err)
	}
	defer rows.Close()

	var entries []types.DigestQueueEntry
	for rows.Next() {
		var e types.DigestQueueEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.DiscussionID, &e.PostID, &e.TimeModified); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan digest entry", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating digest queue", err)
	}
	return entries, nil
}

// DeleteForUserBefore deletes a user's entries queued before cutoff.
func (r *DigestQueueRepository) DeleteForUserBefore(ctx context.Context, userID int64, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM quora_queue WHERE userid = $1 AND timemodified < $2`,
		userID,
		cutoff,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete digest entries", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteForPost removes queued notifications for a deleted post.
func (r *DigestQueueRepository) DeleteForPost(ctx context.Context, postID int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM quora_queue WHERE postid = $1`, postID)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete digest entries for post", err)
	}
	return nil
}

// DeleteForDiscussion removes queued notifications for a deleted discussion.
func (r *DigestQueueRepository) DeleteForDiscussion(ctx context.Context, discussionID int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM quora_queue WHERE discussionid = $1`, discussionID)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete digest entries for discussion", err)
	}
	return nil
}
