package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"quora/internal/types"
)

// ForumRepository provides the course/module context lookups: forums,
// discussions, courses, course modules and group membership.
type ForumRepository struct {
	db DBTX
}

// NewForumRepository creates a new ForumRepository backed by the given
// database connection (pool or transaction).
func NewForumRepository(db DBTX) *ForumRepository {
	return &ForumRepository{db: db}
}

const forumColumns = `f.id, f.course, f.type, f.name, f.trackingtype, f.forcesubscribe`

func scanForum(row pgx.Row) (*types.Forum, error) {
	var f types.Forum
	if err := row.Scan(&f.ID, &f.CourseID, &f.Type, &f.Name, &f.TrackingType, &f.ForceSubscribe); err != nil {
		return nil, err
	}
	return &f, nil
}

const discussionColumns = `d.id, d.forum, d.course, d.name, d.firstpost, d.userid,
	d.groupid, d.timemodified, d.usermodified, d.timestart, d.timeend`

func scanDiscussion(row pgx.Row) (*types.Discussion, error) {
	var d types.Discussion
	var start, end *time.Time
	err := row.Scan(
		&d.ID,
		&d.ForumID,
		&d.CourseID,
		&d.Name,
		&d.FirstPostID,
		&d.UserID,
		&d.GroupID,
		&d.TimeModified,
		&d.UserModified,
		&start,
		&end,
	)
	if err != nil {
		return nil, err
	}
	d.TimeModified = d.TimeModified.UTC()
	d.TimeStart = timeOrZero(start)
	d.TimeEnd = timeOrZero(end)
	return &d, nil
}

// GetForum returns a forum or a not_found_forum AppError.
func (r *ForumRepository) GetForum(ctx context.Context, id int64) (*types.Forum, error) {
	f, err := scanForum(r.db.QueryRow(ctx,
		`SELECT `+forumColumns+` FROM quora f WHERE f.id = $1`, id))
	if err != nil {
		if isNoRows(err) {
			return nil, types.NewAppError(types.ErrCodeNotFoundForum, "forum not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get forum", err)
	}
	return f, nil
}

// ListForumIDsInCourse returns the ids of every forum in a course.
func (r *ForumRepository) ListForumIDsInCourse(ctx context.Context, courseID int64) ([]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM quora WHERE course = $1 ORDER BY id`, courseID)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list course forums", err)
	}
	ids, err := collectInt64s(rows)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan course forums", err)
	}
	return ids, nil
}

// GetDiscussion returns a discussion or a not_found_discussion AppError.
func (r *ForumRepository) GetDiscussion(ctx context.Context, id int64) (*types.Discussion, error) {
	d, err := scanDiscussion(r.db.QueryRow(ctx,
		`SELECT `+discussionColumns+` FROM quora_discussions d WHERE d.id = $1`, id))
	if err != nil {
		if isNoRows(err) {
			return nil, types.NewAppError(types.ErrCodeNotFoundDiscussion, "discussion not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get discussion", err)
	}
	return d, nil
}

// GetCourse returns a course or a not_found_course AppError.
func (r *ForumRepository) GetCourse(ctx context.Context, id int64) (*types.Course, error) {
	var c types.Course
	err := r.db.QueryRow(ctx,
		`SELECT id, shortname, fullname FROM courses WHERE id = $1`, id,
	).Scan(&c.ID, &c.ShortName, &c.FullName)
	if err != nil {
		if isNoRows(err) {
			return nil, types.NewAppError(types.ErrCodeNotFoundCourse, "course not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get course", err)
	}
	return &c, nil
}

// GetModuleForForum returns the course module hosting a forum instance.
// The group mode is the effective one: a course-level forced group mode
// overrides the module's own setting.
func (r *ForumRepository) GetModuleForForum(ctx context.Context, forumID int64) (*types.CourseModule, error) {
	var cm types.CourseModule
	err := r.db.QueryRow(ctx,
		`SELECT cm.id, cm.course, cm.instance,
		        CASE WHEN c.groupmodeforce THEN c.groupmode ELSE cm.groupmode END,
		        cm.visible
		   FROM course_modules cm
		   JOIN courses c ON c.id = cm.course
		  WHERE cm.modname = 'quora' AND cm.instance = $1`,
		forumID,
	).Scan(&cm.ID, &cm.CourseID, &cm.Instance, &cm.GroupMode, &cm.Visible)
	if err != nil {
		if isNoRows(err) {
			return nil, types.NewAppError(types.ErrCodeNotFoundModule, "course module not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get course module", err)
	}
	return &cm, nil
}

// ListUserGroupIDs returns the groups of a course the user belongs to.
func (r *ForumRepository) ListUserGroupIDs(ctx context.Context, courseID, userID int64) ([]int64, error) {
	rows, err := r.db.Query(ctx,
		`SELECT g.id
		   FROM groups g
		   JOIN group_members gm ON gm.groupid = g.id
		  WHERE g.course = $1 AND gm.userid = $2
		  ORDER BY g.id`,
		courseID,
		userID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list user groups", err)
	}
	ids, err := collectInt64s(rows)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan user groups", err)
	}
	return ids, nil
}

// IsGroupMember reports whether the user belongs to the group.
func (r *ForumRepository) IsGroupMember(ctx context.Context, groupID, userID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM group_members WHERE groupid = $1 AND userid = $2)`,
		groupID,
		userID,
	).Scan(&exists)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to check group membership", err)
	}
	return exists, nil
}

// UpdateDiscussionLastPost sets the denormalized last-post fields.
func (r *ForumRepository) UpdateDiscussionLastPost(ctx context.Context, discussionID, userID int64, modified time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE quora_discussions SET usermodified = $2, timemodified = $3 WHERE id = $1`,
		discussionID,
		userID,
		modified,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update discussion last post", err)
	}
	return nil
}

// DeleteDiscussion removes a discussion and any posts still attached to it.
func (r *ForumRepository) DeleteDiscussion(ctx context.Context, discussionID int64) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM quora_posts WHERE discussion = $1`, discussionID); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete discussion posts", err)
	}
	if _, err := r.db.Exec(ctx, `DELETE FROM quora_discussions WHERE id = $1`, discussionID); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete discussion", err)
	}
	return nil
}
