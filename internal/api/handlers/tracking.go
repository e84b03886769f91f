// Package handlers exposes the forum engine to the page-rendering layer
// over HTTP: unread counts, mark-as-read, read-tracking and subscription
// toggles, and randchoice answers. The caller is identified by the
// X-User-ID header checked in core.UserIdentityMiddleware.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"quora/internal/core"
	"quora/internal/tracking"
	"quora/internal/types"
)

// --- Service Interfaces ---

// UnreadCounter is implemented by *tracking.Aggregator.
type UnreadCounter interface {
	UnreadCountsForCourse(ctx context.Context, cache *tracking.UnreadCache, user *types.User, courseID int64) (map[int64]int, error)
	UnreadCountForForum(ctx context.Context, cache *tracking.UnreadCache, user *types.User, cm *types.CourseModule, forum *types.Forum) (int, error)
	UnreadCountForDiscussion(ctx context.Context, user *types.User, cm *types.CourseModule, forum *types.Forum, discussionID int64) (int, error)
}

// ReadService is implemented by *tracking.ReadService.
type ReadService interface {
	MarkPostsRead(ctx context.Context, user *types.User, postIDs []int64) error
	MarkDiscussionRead(ctx context.Context, user *types.User, discussionID int64) error
	MarkForumRead(ctx context.Context, user *types.User, forumID int64) error
	StartTracking(ctx context.Context, user *types.User, forumID int64) error
	StopTracking(ctx context.Context, user *types.User, forumID int64) error
	MarkPostRead(ctx context.Context, user *types.User, post *types.Post, forum *types.Forum) error
	IsPostRead(ctx context.Context, userID int64, post *types.Post) (bool, error)
}

// ForumLoader loads the records a request refers to. Implemented by
// *db.ForumRepository.
type ForumLoader interface {
	GetForum(ctx context.Context, id int64) (*types.Forum, error)
	GetDiscussion(ctx context.Context, id int64) (*types.Discussion, error)
	GetCourse(ctx context.Context, id int64) (*types.Course, error)
	GetModuleForForum(ctx context.Context, forumID int64) (*types.CourseModule, error)
}

// PostLoader is implemented by *db.PostRepository.
type PostLoader interface {
	GetByID(ctx context.Context, id int64) (*types.Post, error)
}

// UserLoader is implemented by *db.UserRepository.
type UserLoader interface {
	GetByID(ctx context.Context, id int64) (*types.User, error)
}

var (
	_ UnreadCounter = (*tracking.Aggregator)(nil)
	_ ReadService   = (*tracking.ReadService)(nil)
)

// --- Request/Response Models ---

// MarkReadRequest is the body of POST /v1/posts/read.
type MarkReadRequest struct {
	PostIDs []int64 `json:"post_ids" validate:"required,min=1,dive,gt=0"`
}

// CourseUnreadResponse lists unread counts by forum id. Forums without
// unread posts are absent.
type CourseUnreadResponse struct {
	CourseID int64         `json:"course_id"`
	Forums   map[int64]int `json:"forums"`
}

// UnreadResponse is the unread count of one forum or discussion.
type UnreadResponse struct {
	ForumID      int64 `json:"forum_id"`
	DiscussionID int64 `json:"discussion_id,omitempty"`
	Unread       int   `json:"unread"`
}

// PostReadResponse is the read state of one post for the caller.
type PostReadResponse struct {
	PostID int64 `json:"post_id"`
	Read   bool  `json:"read"`
}

// --- Handler ---

// TrackingHandler serves unread counts, mark-as-read and the per-forum
// read-tracking toggle.
type TrackingHandler struct {
	unread    UnreadCounter
	reads     ReadService
	forums    ForumLoader
	posts     PostLoader
	users     UserLoader
	validator *core.Validator
	logger    *slog.Logger
}

func NewTrackingHandler(unread UnreadCounter, reads ReadService, forums ForumLoader, posts PostLoader, users UserLoader, v *core.Validator, l *slog.Logger) *TrackingHandler {
	if l == nil {
		l = slog.Default()
	}
	return &TrackingHandler{
		unread:    unread,
		reads:     reads,
		forums:    forums,
		posts:     posts,
		users:     users,
		validator: v,
		logger:    l,
	}
}

// RegisterRoutes mounts the tracking routes.
func (h *TrackingHandler) RegisterRoutes(r chi.Router) {
	r.Get("/courses/{courseID}/unread", h.CourseUnread)
	r.Get("/forums/{forumID}/unread", h.ForumUnread)
	r.Post("/forums/{forumID}/read", h.MarkForumRead)
	r.Put("/forums/{forumID}/tracking", h.StartTracking)
	r.Delete("/forums/{forumID}/tracking", h.StopTracking)
	r.Get("/discussions/{discussionID}/unread", h.DiscussionUnread)
	r.Post("/discussions/{discussionID}/read", h.MarkDiscussionRead)
	r.Post("/posts/read", h.MarkPostsRead)
	r.Get("/posts/{postID}/read", h.PostReadState)
	r.Put("/posts/{postID}/read", h.MarkPostRead)
}

// CourseUnread handles GET /v1/courses/{courseID}/unread.
func (h *TrackingHandler) CourseUnread(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r, h.users)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	courseID, err := core.PathID(r, "courseID")
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if _, err := h.forums.GetCourse(r.Context(), courseID); err != nil {
		core.Error(w, r, err)
		return
	}

	counts, err := h.unread.UnreadCountsForCourse(r.Context(), tracking.NewUnreadCache(), user, courseID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: CourseUnreadResponse{CourseID: courseID, Forums: counts}})
}

// ForumUnread handles GET /v1/forums/{forumID}/unread.
func (h *TrackingHandler) ForumUnread(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r, h.users)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	forum, cm, err := h.loadForum(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	n, err := h.unread.UnreadCountForForum(r.Context(), tracking.NewUnreadCache(), user, cm, forum)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: UnreadResponse{ForumID: forum.ID, Unread: n}})
}

// DiscussionUnread handles GET /v1/discussions/{discussionID}/unread.
func (h *TrackingHandler) DiscussionUnread(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r, h.users)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	discussionID, err := core.PathID(r, "discussionID")
	if err != nil {
		core.Error(w, r, err)
		return
	}
	d, err := h.forums.GetDiscussion(r.Context(), discussionID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	forum, err := h.forums.GetForum(r.Context(), d.ForumID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	cm, err := h.forums.GetModuleForForum(r.Context(), forum.ID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	n, err := h.unread.UnreadCountForDiscussion(r.Context(), user, cm, forum, d.ID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: UnreadResponse{ForumID: forum.ID, DiscussionID: d.ID, Unread: n}})
}

// MarkPostsRead handles POST /v1/posts/read.
func (h *TrackingHandler) MarkPostsRead(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r, h.users)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	var req MarkReadRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.reads.MarkPostsRead(r.Context(), user, req.PostIDs); err != nil {
		core.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PostReadState handles GET /v1/posts/{postID}/read.
func (h *TrackingHandler) PostReadState(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r, h.users)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	post, err := h.loadPost(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	read, err := h.reads.IsPostRead(r.Context(), user.ID, post)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: PostReadResponse{PostID: post.ID, Read: read}})
}

// MarkPostRead handles PUT /v1/posts/{postID}/read. Old posts and
// untracked forums succeed without storing anything.
func (h *TrackingHandler) MarkPostRead(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r, h.users)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	post, err := h.loadPost(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	d, err := h.forums.GetDiscussion(r.Context(), post.DiscussionID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	forum, err := h.forums.GetForum(r.Context(), d.ForumID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.reads.MarkPostRead(r.Context(), user, post, forum); err != nil {
		core.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MarkDiscussionRead handles POST /v1/discussions/{discussionID}/read.
func (h *TrackingHandler) MarkDiscussionRead(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r, h.users)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	discussionID, err := core.PathID(r, "discussionID")
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.reads.MarkDiscussionRead(r.Context(), user, discussionID); err != nil {
		core.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MarkForumRead handles POST /v1/forums/{forumID}/read.
func (h *TrackingHandler) MarkForumRead(w http.ResponseWriter, r *http.Request) {
	h.forumAction(w, r, h.reads.MarkForumRead)
}

// StartTracking handles PUT /v1/forums/{forumID}/tracking.
func (h *TrackingHandler) StartTracking(w http.ResponseWriter, r *http.Request) {
	h.forumAction(w, r, h.reads.StartTracking)
}

// StopTracking handles DELETE /v1/forums/{forumID}/tracking.
func (h *TrackingHandler) StopTracking(w http.ResponseWriter, r *http.Request) {
	h.forumAction(w, r, h.reads.StopTracking)
}

func (h *TrackingHandler) forumAction(w http.ResponseWriter, r *http.Request, action func(context.Context, *types.User, int64) error) {
	user, err := currentUser(r, h.users)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	forumID, err := core.PathID(r, "forumID")
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if err := action(r.Context(), user, forumID); err != nil {
		core.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *TrackingHandler) loadPost(r *http.Request) (*types.Post, error) {
	postID, err := core.PathID(r, "postID")
	if err != nil {
		return nil, err
	}
	return h.posts.GetByID(r.Context(), postID)
}

func (h *TrackingHandler) loadForum(r *http.Request) (*types.Forum, *types.CourseModule, error) {
	forumID, err := core.PathID(r, "forumID")
	if err != nil {
		return nil, nil, err
	}
	forum, err := h.forums.GetForum(r.Context(), forumID)
	if err != nil {
		return nil, nil, err
	}
	cm, err := h.forums.GetModuleForForum(r.Context(), forumID)
	if err != nil {
		return nil, nil, err
	}
	return forum, cm, nil
}

// currentUser loads the acting user. Deleted and suspended accounts are
// treated as unknown.
func currentUser(r *http.Request, users UserLoader) (*types.User, error) {
	id, err := core.UserID(r)
	if err != nil {
		return nil, err
	}
	user, err := users.GetByID(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if user.Deleted || user.Suspended {
		return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
	}
	return user, nil
}
