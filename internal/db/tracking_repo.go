package db

import (
	"context"

	"quora/internal/types"
)

// TrackingRepository provides data access for per-forum tracking opt-outs
// (quora_track_prefs) and the minimal forum projection used by the
// tracking resolver.
type TrackingRepository struct {
	db DBTX
}

// NewTrackingRepository creates a new TrackingRepository backed by the
// given database connection (pool or transaction).
func NewTrackingRepository(db DBTX) *TrackingRepository {
	return &TrackingRepository{db: db}
}

// GetForumTracking loads only the id and tracking type of a forum.
// Returns a not_found_forum AppError if the forum does not exist.
func (r *TrackingRepository) GetForumTracking(ctx context.Context, forumID int64) (*types.Forum, error) {
	var f types.Forum
	err := r.db.QueryRow(ctx,
		`SELECT id, trackingtype FROM quora WHERE id = $1`,
		forumID,
	).Scan(&f.ID, &f.TrackingType)
	if err != nil {
		if isNoRows(err) {
			return nil, types.NewAppError(types.ErrCodeNotFoundForum, "forum not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get forum tracking", err)
	}
	return &f, nil
}

// HasOptOut reports whether the user opted out of tracking the forum.
func (r *TrackingRepository) HasOptOut(ctx context.Context, userID, forumID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM quora_track_prefs WHERE userid = $1 AND forumid = $2)`,
		userID,
		forumID,
	).Scan(&exists)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to check tracking preference", err)
	}
	return exists, nil
}

// AddOptOut records that the user stopped tracking the forum. Idempotent.
func (r *TrackingRepository) AddOptOut(ctx context.Context, userID, forumID int64) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO quora_track_prefs (userid, forumid) VALUES ($1, $2)
		 ON CONFLICT (userid, forumid) DO NOTHING`,
		userID,
		forumID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to add tracking preference", err)
	}
	return nil
}

// RemoveOptOut deletes the opt-out row. Returns true if a row was removed.
func (r *TrackingRepository) RemoveOptOut(ctx context.Context, userID, forumID int64) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM quora_track_prefs WHERE userid = $1 AND forumid = $2`,
		userID,
		forumID,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to remove tracking preference", err)
	}
	return tag.RowsAffected() > 0, nil
}
