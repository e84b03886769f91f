package db

import (
	"context"
	"time"

	"quora/internal/types"
)

// ReadRecordFilter selects read records for deletion. At least one field
// must be non-zero.
type ReadRecordFilter struct {
	UserID       int64
	PostID       int64
	DiscussionID int64
	ForumID      int64
}

// Empty reports whether no filter field is set.
func (f ReadRecordFilter) Empty() bool {
	return f.UserID == 0 && f.PostID == 0 && f.DiscussionID == 0 && f.ForumID == 0
}

// ReadRepository provides data access for the quora_read table.
type ReadRepository struct {
	db DBTX
}

// NewReadRepository creates a new ReadRepository backed by the given
// database connection (pool or transaction).
func NewReadRepository(db DBTX) *ReadRepository {
	return &ReadRepository{db: db}
}

// TrackingPolicy carries the inputs of the SQL tracking predicate.
type TrackingPolicy struct {
	// AllowForced is the site forced-tracking-allowed switch.
	AllowForced bool
	// UserTracks is the reading user's personal tracking preference.
	UserTracks bool
}

// clause returns the forum tracking predicate. It assumes quora f and a
// LEFT JOIN of quora_track_prefs tf for the reading user.
//
// With forced tracking allowed, a FORCED forum is tracked regardless of the
// user's preference or opt-out. Without it, the user's preference and
// opt-out apply to both tracking types.
func (p TrackingPolicy) clause() string {
	switch {
	case p.AllowForced && p.UserTracks:
		return `(f.trackingtype = 2 OR (f.trackingtype = 1 AND tf.userid IS NULL))`
	case p.AllowForced:
		return `f.trackingtype = 2`
	case p.UserTracks:
		return `((f.trackingtype = 1 OR f.trackingtype = 2) AND tf.userid IS NULL)`
	default:
		return `false`
	}
}

// InsertNew creates read records for the given posts that are inside the
// cutoff window, are in a forum the user tracks, and have no record yet.
// Returns the number of rows inserted.
//
// The caller bounds len(postIDs).
func (r *ReadRepository) InsertNew(ctx context.Context, userID int64, postIDs []int64, now, cutoff time.Time, policy TrackingPolicy) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO quora_read (userid, postid, discussionid, forumid, firstread, lastread)
		 SELECT $1, p.id, p.discussion, d.forum, $3, $3
		   FROM quora_posts p
		   JOIN quora_discussions d ON d.id = p.discussion
		   JOIN quora f ON f.id = d.forum
		   LEFT JOIN quora_track_prefs tf ON tf.userid = $1 AND tf.forumid = f.id
		   LEFT JOIN quora_read fr ON fr.userid = $1 AND fr.postid = p.id
		  WHERE p.id = ANY($2)
		    AND p.modified >= $4
		    AND `+policy.clause()+`
		    AND fr.postid IS NULL
		 ON CONFLICT (userid, postid) DO NOTHING`,
		userID,
		postIDs,
		now,
		cutoff,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to insert read records", err)
	}
	return tag.RowsAffected(), nil
}

// TouchLastRead bumps lastread on existing records among postIDs whose
// timestamp is older than now.
func (r *ReadRepository) TouchLastRead(ctx context.Context, userID int64, postIDs []int64, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE quora_read SET lastread = $3
		  WHERE userid = $1 AND postid = ANY($2) AND lastread < $3`,
		userID,
		postIDs,
		now,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to update read records", err)
	}
	return tag.RowsAffected(), nil
}

// Upsert records a single read, creating the row or bumping lastread.
func (r *ReadRepository) Upsert(ctx context.Context, rec types.ReadRecord) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO quora_read (userid, postid, discussionid, forumid, firstread, lastread)
		 VALUES ($1, $2, $3, $4, $5, $5)
		 ON CONFLICT (userid, postid) DO UPDATE SET lastread = EXCLUDED.lastread`,
		rec.UserID,
		rec.PostID,
		rec.DiscussionID,
		rec.ForumID,
		rec.LastRead,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert read record", err)
	}
	return nil
}

// Exists reports whether the user has a read record for the post.
func (r *ReadRepository) Exists(ctx context.Context, userID, postID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM quora_read WHERE userid = $1 AND postid = $2)`,
		userID,
		postID,
	).Scan(&exists)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to check read record", err)
	}
	return exists, nil
}

// Delete removes read records matching the filter. An empty filter is
// rejected; a full-table delete is never intended.
func (r *ReadRepository) Delete(ctx context.Context, f ReadRecordFilter) (int64, error) {
	if f.Empty() {
		return 0, types.NewAppError(types.ErrCodeValidationReadFilterRequired,
			"at least one of user, post, discussion or forum is required", nil)
	}
	tag, err := r.db.Exec(ctx,
		`DELETE FROM quora_read
		  WHERE ($1::bigint = 0 OR userid = $1)
		    AND ($2::bigint = 0 OR postid = $2)
		    AND ($3::bigint = 0 OR discussionid = $3)
		    AND ($4::bigint = 0 OR forumid = $4)`,
		f.UserID,
		f.PostID,
		f.DiscussionID,
		f.ForumID,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete read records", err)
	}
	return tag.RowsAffected(), nil
}

// OldestTrackedModified returns the smallest modification time among posts
// that still have read records. ok is false when the table is empty.
func (r *ReadRepository) OldestTrackedModified(ctx context.Context) (oldest time.Time, ok bool, err error) {
	var t *time.Time
	err = r.db.QueryRow(ctx,
		`SELECT MIN(p.modified)
		   FROM quora_posts p
		   JOIN quora_read r ON r.postid = p.id`,
	).Scan(&t)
	if err != nil {
		return time.Time{}, false, types.NewAppError(types.ErrCodeInternalDB, "failed to find oldest tracked post", err)
	}
	if t == nil {
		return time.Time{}, false, nil
	}
	return t.UTC(), true, nil
}

// DeleteForPostsBetween deletes up to limit read records whose post was
// last modified in [from, cutoff).
func (r *ReadRepository) DeleteForPostsBetween(ctx context.Context, from, cutoff time.Time, limit int) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM quora_read
		  WHERE ctid IN (
		        SELECT r.ctid
		          FROM quora_read r
		          JOIN quora_posts p ON p.id = r.postid
		         WHERE p.modified >= $1 AND p.modified < $2
		         LIMIT $3)`,
		from,
		cutoff,
		limit,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete expired read records", err)
	}
	return tag.RowsAffected(), nil
}

// ListUnreadPostIDs returns the ids of posts in the scope that are inside
// the cutoff window and have no read record for the user. Exactly one of
// discussionID or forumID is used; discussionID wins when both are set.
func (r *ReadRepository) ListUnreadPostIDs(ctx context.Context, userID, discussionID, forumID int64, cutoff time.Time) ([]int64, error) {
	rows, err := r.db.Query(ctx,
		`SELECT p.id
		   FROM quora_posts p
		   JOIN quora_discussions d ON d.id = p.discussion
		   LEFT JOIN quora_read r ON r.postid = p.id AND r.userid = $1
		  WHERE (($2::bigint <> 0 AND d.id = $2) OR ($2::bigint = 0 AND d.forum = $3))
		    AND p.modified >= $4
		    AND r.postid IS NULL
		  ORDER BY p.id`,
		userID,
		discussionID,
		forumID,
		cutoff,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list unread posts", err)
	}
	ids, err := collectInt64s(rows)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan unread posts", err)
	}
	return ids, nil
}
