package db

import (
	"context"

	"quora/internal/types"
)

// SubscriptionRepository provides data access for forum subscriptions
// (quora_subscriptions), discussion-level overrides (quora_discussion_subs)
// and the forum subscription mode.
type SubscriptionRepository struct {
	db DBTX
}

// NewSubscriptionRepository creates a new SubscriptionRepository backed by
// the given database connection (pool or transaction).
func NewSubscriptionRepository(db DBTX) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

// Exists reports whether a forum-level subscription row exists.
func (r *SubscriptionRepository) Exists(ctx context.Context, userID, forumID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM quora_subscriptions WHERE userid = $1 AND forum = $2)`,
		userID,
		forumID,
	).Scan(&exists)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to check subscription", err)
	}
	return exists, nil
}

// Insert adds a forum-level subscription. Returns false if it already existed.
func (r *SubscriptionRepository) Insert(ctx context.Context, userID, forumID int64) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO quora_subscriptions (userid, forum) VALUES ($1, $2)
		 ON CONFLICT (userid, forum) DO NOTHING`,
		userID,
		forumID,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to insert subscription", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Delete removes a forum-level subscription. Returns false if none existed.
func (r *SubscriptionRepository) Delete(ctx context.Context, userID, forumID int64) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM quora_subscriptions WHERE userid = $1 AND forum = $2`,
		userID,
		forumID,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to delete subscription", err)
	}
	return tag.RowsAffected() > 0, nil
}

// InsertMany subscribes every user in userIDs to the forum, skipping
// existing rows. Returns the number of new rows.
func (r *SubscriptionRepository) InsertMany(ctx context.Context, forumID int64, userIDs []int64) (int64, error) {
	if len(userIDs) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx,
		`INSERT INTO quora_subscriptions (userid, forum)
		 SELECT uid, $1 FROM unnest($2::bigint[]) AS uid
		 ON CONFLICT (userid, forum) DO NOTHING`,
		forumID,
		userIDs,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to bulk insert subscriptions", err)
	}
	return tag.RowsAffected(), nil
}

// ListCourseSubscriptionStates reports, for every forum of the course,
// whether the user has a forum-level subscription row.
func (r *SubscriptionRepository) ListCourseSubscriptionStates(ctx context.Context, courseID, userID int64) (map[int64]bool, error) {
	rows, err := r.db.Query(ctx,
		`SELECT f.id, s.userid IS NOT NULL
		   FROM quora f
		   LEFT JOIN quora_subscriptions s ON s.forum = f.id AND s.userid = $2
		  WHERE f.course = $1`,
		courseID,
		userID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list course subscriptions", err)
	}
	defer rows.Close()

	states := make(map[int64]bool)
	for rows.Next() {
		var forumID int64
		var subscribed bool
		if err := rows.Scan(&forumID, &subscribed); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan course subscription", err)
		}
		states[forumID] = subscribed
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating course subscriptions", err)
	}
	return states, nil
}

// ListSubscriberIDs returns the user ids with a forum-level subscription row.
func (r *SubscriptionRepository) ListSubscriberIDs(ctx context.Context, forumID int64) ([]int64, error) {
	rows, err := r.db.Query(ctx,
		`SELECT userid FROM quora_subscriptions WHERE forum = $1 ORDER BY userid`,
		forumID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list subscribers", err)
	}
	ids, err := collectInt64s(rows)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan subscribers", err)
	}
	return ids, nil
}

// ListSubscribers returns full user records for forum subscribers plus
// users holding a discussion-level subscribe override in the forum.
// Deleted and suspended accounts are excluded.
func (r *SubscriptionRepository) ListSubscribers(ctx context.Context, forumID int64) ([]types.User, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+userColumns+`
		   FROM users u
		  WHERE u.deleted = false AND u.suspended = false
		    AND (u.id IN (SELECT userid FROM quora_subscriptions WHERE forum = $1)
		      OR u.id IN (SELECT userid FROM quora_discussion_subs
		                   WHERE forum = $1 AND preference <> -1))
		  ORDER BY u.id`,
		forumID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list forum subscribers", err)
	}
	users, err := collectUsers(rows)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan forum subscribers", err)
	}
	return users, nil
}

// ListPotentialSubscribers returns the active users enrolled in the course.
func (r *SubscriptionRepository) ListPotentialSubscribers(ctx context.Context, courseID int64) ([]types.User, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+userColumns+`
		   FROM users u
		   JOIN enrolments e ON e.userid = u.id
		  WHERE e.course = $1 AND e.active = true
		    AND u.deleted = false AND u.suspended = false
		  ORDER BY u.id`,
		courseID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list potential subscribers", err)
	}
	users, err := collectUsers(rows)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan potential subscribers", err)
	}
	return users, nil
}

// GetDiscussionSubscription returns the override row, or nil if none.
func (r *SubscriptionRepository) GetDiscussionSubscription(ctx context.Context, userID, discussionID int64) (*types.DiscussionSubscription, error) {
	var s types.DiscussionSubscription
	err := r.db.QueryRow(ctx,
		`SELECT userid, forum, discussion, preference
		   FROM quora_discussion_subs
		  WHERE userid = $1 AND discussion = $2`,
		userID,
		discussionID,
	).Scan(&s.UserID, &s.ForumID, &s.DiscussionID, &s.Preference)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get discussion subscription", err)
	}
	return &s, nil
}

// UpsertDiscussionSubscription writes an override row.
func (r *SubscriptionRepository) UpsertDiscussionSubscription(ctx context.Context, s types.DiscussionSubscription) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO quora_discussion_subs (userid, forum, discussion, preference)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (userid, discussion) DO UPDATE SET preference = EXCLUDED.preference`,
		s.UserID,
		s.ForumID,
		s.DiscussionID,
		s.Preference,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert discussion subscription", err)
	}
	return nil
}

// DeleteDiscussionSubscription removes one override row.
func (r *SubscriptionRepository) DeleteDiscussionSubscription(ctx context.Context, userID, discussionID int64) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM quora_discussion_subs WHERE userid = $1 AND discussion = $2`,
		userID,
		discussionID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete discussion subscription", err)
	}
	return nil
}

// DeleteDiscussionSubscriptionsInForum removes every override row the user
// holds in the forum. Returns the number of rows removed.
func (r *SubscriptionRepository) DeleteDiscussionSubscriptionsInForum(ctx context.Context, userID, forumID int64) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM quora_discussion_subs WHERE userid = $1 AND forum = $2`,
		userID,
		forumID,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to clear discussion subscriptions", err)
	}
	return tag.RowsAffected(), nil
}

// ListDiscussionSubscriptions returns every override row of the forum.
func (r *SubscriptionRepository) ListDiscussionSubscriptions(ctx context.Context, forumID int64) ([]types.DiscussionSubscription, error) {
	rows, err := r.db.Query(ctx,
		`SELECT userid, forum, discussion, preference
		   FROM quora_discussion_subs
		  WHERE forum = $1`,
		forumID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list discussion subscriptions", err)
	}
	defer rows.Close()

	var subs []types.DiscussionSubscription
	for rows.Next() {
		var s types.DiscussionSubscription
		if err := rows.Scan(&s.UserID, &s.ForumID, &s.DiscussionID, &s.Preference); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan discussion subscription", err)
		}
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating discussion subscriptions", err)
	}
	return subs, nil
}

// SetMode updates the forum's subscription mode.
func (r *SubscriptionRepository) SetMode(ctx context.Context, forumID int64, mode types.SubscriptionMode) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE quora SET forcesubscribe = $2 WHERE id = $1`,
		forumID,
		mode,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to set subscription mode", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundForum, "forum not found", nil)
	}
	return nil
}
