package db

import (
	"context"
	"time"

	"quora/internal/types"
)

// UnreadQuery carries the parameters shared by the unread aggregate queries.
type UnreadQuery struct {
	UserID int64
	Cutoff time.Time
	Now    time.Time
	Policy TrackingPolicy
	// HideTimed restricts to discussions whose visibility window includes Now.
	HideTimed bool
}

// UnreadRepository runs the aggregate unread-count queries.
type UnreadRepository struct {
	db DBTX
}

// NewUnreadRepository creates a new UnreadRepository backed by the given
// database connection (pool or transaction).
func NewUnreadRepository(db DBTX) *UnreadRepository {
	return &UnreadRepository{db: db}
}

const timedClause = `
		    AND (NOT $5::boolean OR ((d.timestart IS NULL OR d.timestart <= $4)
		                AND (d.timeend IS NULL OR d.timeend > $4)))`

// CountByForumInCourse returns unread counts per forum for every tracked
// forum of a course in a single grouped query. Forums with no unread posts
// are absent from the map.
func (r *UnreadRepository) CountByForumInCourse(ctx context.Context, q UnreadQuery, courseID int64) (map[int64]int, error) {
	rows, err := r.db.Query(ctx,
		`SELECT f.id, COUNT(p.id)
		   FROM quora_posts p
		   JOIN quora_discussions d ON d.id = p.discussion
		   JOIN quora f ON f.id = d.forum
		   LEFT JOIN quora_read r ON r.postid = p.id AND r.userid = $1
		   LEFT JOIN quora_track_prefs tf ON tf.userid = $1 AND tf.forumid = f.id
		  WHERE f.course = $2
		    AND p.modified >= $3
		    AND r.postid IS NULL
		    AND `+q.Policy.clause()+timedClause+`
		  GROUP BY f.id`,
		q.UserID,
		courseID,
		q.Cutoff,
		q.Now,
		q.HideTimed,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to count unread posts", err)
	}
	defer rows.Close()

	counts := make(map[int64]int)
	for rows.Next() {
		var forumID int64
		var n int
		if err := rows.Scan(&forumID, &n); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan unread count", err)
		}
		counts[forumID] = n
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating unread counts", err)
	}
	return counts, nil
}

// CountInForumForGroups counts unread posts of one forum restricted to
// discussions in groupIDs. The caller includes types.AllGroups.
func (r *UnreadRepository) CountInForumForGroups(ctx context.Context, q UnreadQuery, forumID int64, groupIDs []int64) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(p.id)
		   FROM quora_posts p
		   JOIN quora_discussions d ON d.id = p.discussion
		   LEFT JOIN quora_read r ON r.postid = p.id AND r.userid = $1
		  WHERE d.forum = $2
		    AND p.modified >= $3
		    AND r.postid IS NULL`+timedClause+`
		    AND d.groupid = ANY($6)`,
		q.UserID,
		forumID,
		q.Cutoff,
		q.Now,
		q.HideTimed,
		groupIDs,
	).Scan(&n)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count unread posts for groups", err)
	}
	return n, nil
}

// CountInDiscussion counts unread posts of one discussion.
func (r *UnreadRepository) CountInDiscussion(ctx context.Context, q UnreadQuery, discussionID int64) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(p.id)
		   FROM quora_posts p
		   JOIN quora_discussions d ON d.id = p.discussion
		   LEFT JOIN quora_read r ON r.postid = p.id AND r.userid = $1
		  WHERE d.id = $2
		    AND p.modified >= $3
		    AND r.postid IS NULL`+timedClause,
		q.UserID,
		discussionID,
		q.Cutoff,
		q.Now,
		q.HideTimed,
	).Scan(&n)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count unread posts in discussion", err)
	}
	return n, nil
}
