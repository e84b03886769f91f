package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"quora/internal/core"
	"quora/internal/forum"
	"quora/internal/types"
)

// ForumService is implemented by *forum.Service.
type ForumService interface {
	DeletePost(ctx context.Context, postID int64) error
	DeleteDiscussion(ctx context.Context, discussionID int64) error
	DiscussionCreated(ctx context.Context, d *types.Discussion)
}

var _ ForumService = (*forum.Service)(nil)

// DigestPreferenceStore persists per-forum digest overrides.
type DigestPreferenceStore interface {
	SetDigestPreference(ctx context.Context, pref types.DigestPreference) error
}

// DigestPreferenceRequest sets the caller's digest mode for one forum.
// -1 removes the override.
type DigestPreferenceRequest struct {
	Mode *int `json:"mode" validate:"required,min=-1,max=2"`
}

// ForumHandler serves the discussion lifecycle hooks called by the page
// layer and the per-forum digest preference.
type ForumHandler struct {
	forums    ForumService
	loader    ForumLoader
	prefs     DigestPreferenceStore
	validator *core.Validator
	logger    *slog.Logger
}

func NewForumHandler(forums ForumService, loader ForumLoader, prefs DigestPreferenceStore, v *core.Validator, l *slog.Logger) *ForumHandler {
	if l == nil {
		l = slog.Default()
	}
	return &ForumHandler{forums: forums, loader: loader, prefs: prefs, validator: v, logger: l}
}

// RegisterRoutes mounts the forum lifecycle routes.
func (h *ForumHandler) RegisterRoutes(r chi.Router) {
	r.Put("/forums/{forumID}/digest", h.SetDigestPreference)
	r.Post("/discussions/{discussionID}/created", h.DiscussionCreated)
	r.Delete("/discussions/{discussionID}", h.DeleteDiscussion)
	r.Delete("/posts/{postID}", h.DeletePost)
}

// SetDigestPreference handles PUT /v1/forums/{forumID}/digest.
func (h *ForumHandler) SetDigestPreference(w http.ResponseWriter, r *http.Request) {
	userID, err := core.UserID(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	forumID, err := core.PathID(r, "forumID")
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if _, err := h.loader.GetForum(r.Context(), forumID); err != nil {
		core.Error(w, r, err)
		return
	}

	var req DigestPreferenceRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	pref := types.DigestPreference{UserID: userID, ForumID: forumID, Mode: types.DigestMode(*req.Mode)}
	if err := h.prefs.SetDigestPreference(r.Context(), pref); err != nil {
		core.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DiscussionCreated handles POST /v1/discussions/{discussionID}/created.
func (h *ForumHandler) DiscussionCreated(w http.ResponseWriter, r *http.Request) {
	discussionID, err := core.PathID(r, "discussionID")
	if err != nil {
		core.Error(w, r, err)
		return
	}
	d, err := h.loader.GetDiscussion(r.Context(), discussionID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	h.forums.DiscussionCreated(r.Context(), d)
	w.WriteHeader(http.StatusAccepted)
}

// DeleteDiscussion handles DELETE /v1/discussions/{discussionID}.
func (h *ForumHandler) DeleteDiscussion(w http.ResponseWriter, r *http.Request) {
	h.deleteByID(w, r, "discussionID", h.forums.DeleteDiscussion)
}

// DeletePost handles DELETE /v1/posts/{postID}. Deleting a discussion's
// first post deletes the discussion.
func (h *ForumHandler) DeletePost(w http.ResponseWriter, r *http.Request) {
	h.deleteByID(w, r, "postID", h.forums.DeletePost)
}

func (h *ForumHandler) deleteByID(w http.ResponseWriter, r *http.Request, param string, del func(context.Context, int64) error) {
	id, err := core.PathID(r, param)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if err := del(r.Context(), id); err != nil {
		core.Error(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "forum content deleted", param, id)
	w.WriteHeader(http.StatusNoContent)
}
