package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"quora/internal/types"
)

// PostRepository provides data access for quora_posts, including the
// mail-state transitions driven by the notification cron.
type PostRepository struct {
	db DBTX
}

// NewPostRepository creates a new PostRepository backed by the given
// database connection (pool or transaction).
func NewPostRepository(db DBTX) *PostRepository {
	return &PostRepository{db: db}
}

// postColumns defines the standard set of columns selected for post queries.
const postColumns = `p.id, p.discussion, p.parent, p.userid, p.created, p.modified,
	p.mailed, p.mailnow, p.subject, p.message`

// scanPost scans a single post row. Columns must match postColumns.
func scanPost(row pgx.Row) (*types.Post, error) {
	var p types.Post
	err := row.Scan(
		&p.ID,
		&p.DiscussionID,
		&p.ParentID,
		&p.UserID,
		&p.Created,
		&p.Modified,
		&p.MailState,
		&p.MailNow,
		&p.Subject,
		&p.Message,
	)
	if err != nil {
		return nil, err
	}
	p.Created = p.Created.UTC()
	p.Modified = p.Modified.UTC()
	return &p, nil
}

func collectPosts(rows pgx.Rows) ([]types.Post, error) {
	defer rows.Close()
	var posts []types.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, *p)
	}
	return posts, rows.Err()
}

// GetByID returns one post or a not_found_post AppError.
func (r *PostRepository) GetByID(ctx context.Context, id int64) (*types.Post, error) {
	p, err := scanPost(r.db.QueryRow(ctx,
		`SELECT `+postColumns+` FROM quora_posts p WHERE p.id = $1`, id))
	if err != nil {
		if isNoRows(err) {
			return nil, types.NewAppError(types.ErrCodeNotFoundPost, "post not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get post", err)
	}
	return p, nil
}

// ListByIDs returns the posts with the given ids ordered by creation time.
// Missing ids are silently absent.
func (r *PostRepository) ListByIDs(ctx context.Context, ids []int64) ([]types.Post, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+postColumns+` FROM quora_posts p WHERE p.id = ANY($1) ORDER BY p.created, p.id`,
		ids,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list posts", err)
	}
	posts, err := collectPosts(rows)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan posts", err)
	}
	return posts, nil
}

// ListPendingMail returns unmailed posts created in [start, end) or flagged
// for immediate mailing, oldest modification first.
func (r *PostRepository) ListPendingMail(ctx context.Context, start, end time.Time) ([]types.Post, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+postColumns+`
		   FROM quora_posts p
		  WHERE p.mailed = 0
		    AND ((p.created >= $1 AND p.created < $2) OR p.mailnow = true)
		  ORDER BY p.modified, p.id`,
		start,
		end,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list pending posts", err)
	}
	posts, err := collectPosts(rows)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan pending posts", err)
	}
	return posts, nil
}

// ClaimForMail flips the given posts from pending to sent in one statement
// and returns the ids it flipped. A post already claimed by a concurrent
// run is not returned.
func (r *PostRepository) ClaimForMail(ctx context.Context, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx,
		`UPDATE quora_posts SET mailed = 1
		  WHERE id = ANY($1) AND mailed = 0
		  RETURNING id`,
		ids,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to claim posts for mail", err)
	}
	claimed, err := collectInt64s(rows)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan claimed posts", err)
	}
	return claimed, nil
}

// MarkMailError moves sent posts to the error state.
func (r *PostRepository) MarkMailError(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx,
		`UPDATE quora_posts SET mailed = 2 WHERE id = ANY($1) AND mailed = 1`,
		ids,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark posts as mail error", err)
	}
	return nil
}

// HasUserPosted reports whether the user authored any post in the discussion.
func (r *PostRepository) HasUserPosted(ctx context.Context, discussionID, userID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM quora_posts WHERE discussion = $1 AND userid = $2)`,
		discussionID,
		userID,
	).Scan(&exists)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to check user posts", err)
	}
	return exists, nil
}

// Latest returns the most recently modified post of a discussion, or nil if
// the discussion has no posts left.
func (r *PostRepository) Latest(ctx context.Context, discussionID int64) (*types.Post, error) {
	p, err := scanPost(r.db.QueryRow(ctx,
		`SELECT `+postColumns+`
		   FROM quora_posts p
		  WHERE p.discussion = $1
		  ORDER BY p.modified DESC, p.id DESC
		  LIMIT 1`,
		discussionID,
	))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get latest post", err)
	}
	return p, nil
}

// Delete removes a single post row.
func (r *PostRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM quora_posts WHERE id = $1`, id)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete post", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundPost, "post not found", nil)
	}
	return nil
}
