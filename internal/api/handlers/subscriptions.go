package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"quora/internal/core"
	"quora/internal/subscription"
	"quora/internal/types"
)

// SubscriptionService is implemented by *subscription.Resolver.
type SubscriptionService interface {
	Subscribe(ctx context.Context, userID int64, forum *types.Forum) error
	Unsubscribe(ctx context.Context, userID int64, forum *types.Forum) error
	UnsubscribeAndClearOverrides(ctx context.Context, userID int64, forum *types.Forum) error
	SubscribeDiscussion(ctx context.Context, userID int64, forum *types.Forum, discussionID int64) error
	UnsubscribeDiscussion(ctx context.Context, userID int64, forum *types.Forum, discussionID int64) error
	SetSubscriptionMode(ctx context.Context, forum *types.Forum, mode types.SubscriptionMode) error
}

var _ SubscriptionService = (*subscription.Resolver)(nil)

// SubscriptionModeRequest changes a forum's subscription mode.
type SubscriptionModeRequest struct {
	Mode *int `json:"mode" validate:"required,min=0,max=3"`
}

// SubscriptionHandler serves forum and discussion subscription toggles and
// the forum subscription mode.
type SubscriptionHandler struct {
	subs      SubscriptionService
	forums    ForumLoader
	validator *core.Validator
	logger    *slog.Logger
}

func NewSubscriptionHandler(subs SubscriptionService, forums ForumLoader, v *core.Validator, l *slog.Logger) *SubscriptionHandler {
	if l == nil {
		l = slog.Default()
	}
	return &SubscriptionHandler{subs: subs, forums: forums, validator: v, logger: l}
}

// RegisterRoutes mounts the subscription routes.
func (h *SubscriptionHandler) RegisterRoutes(r chi.Router) {
	r.Put("/forums/{forumID}/subscription", h.SubscribeForum)
	r.Delete("/forums/{forumID}/subscription", h.UnsubscribeForum)
	r.Put("/forums/{forumID}/subscription-mode", h.SetMode)
	r.Put("/discussions/{discussionID}/subscription", h.SubscribeDiscussion)
	r.Delete("/discussions/{discussionID}/subscription", h.UnsubscribeDiscussion)
}

// SubscribeForum handles PUT /v1/forums/{forumID}/subscription.
func (h *SubscriptionHandler) SubscribeForum(w http.ResponseWriter, r *http.Request) {
	userID, forum, err := h.forumRequest(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.subs.Subscribe(r.Context(), userID, forum); err != nil {
		core.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UnsubscribeForum handles DELETE /v1/forums/{forumID}/subscription.
// With ?clear_overrides=true the user's discussion-level subscriptions in
// the forum are removed as well.
func (h *SubscriptionHandler) UnsubscribeForum(w http.ResponseWriter, r *http.Request) {
	userID, forum, err := h.forumRequest(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	clearOverrides := false
	if raw := r.URL.Query().Get("clear_overrides"); raw != "" {
		clearOverrides, err = strconv.ParseBool(raw)
		if err != nil {
			core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidField, "clear_overrides must be a boolean", err))
			return
		}
	}

	if clearOverrides {
		err = h.subs.UnsubscribeAndClearOverrides(r.Context(), userID, forum)
	} else {
		err = h.subs.Unsubscribe(r.Context(), userID, forum)
	}
	if err != nil {
		core.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetMode handles PUT /v1/forums/{forumID}/subscription-mode.
func (h *SubscriptionHandler) SetMode(w http.ResponseWriter, r *http.Request) {
	_, forum, err := h.forumRequest(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	var req SubscriptionModeRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	mode := types.SubscriptionMode(*req.Mode)
	if err := h.subs.SetSubscriptionMode(r.Context(), forum, mode); err != nil {
		core.Error(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "forum subscription mode changed",
		"forum_id", forum.ID,
		"mode", int(mode),
	)
	w.WriteHeader(http.StatusNoContent)
}

// SubscribeDiscussion handles PUT /v1/discussions/{discussionID}/subscription.
func (h *SubscriptionHandler) SubscribeDiscussion(w http.ResponseWriter, r *http.Request) {
	h.discussionAction(w, r, h.subs.SubscribeDiscussion)
}

// UnsubscribeDiscussion handles DELETE /v1/discussions/{discussionID}/subscription.
func (h *SubscriptionHandler) UnsubscribeDiscussion(w http.ResponseWriter, r *http.Request) {
	h.discussionAction(w, r, h.subs.UnsubscribeDiscussion)
}

func (h *SubscriptionHandler) discussionAction(w http.ResponseWriter, r *http.Request, action func(context.Context, int64, *types.Forum, int64) error) {
	userID, err := core.UserID(r)
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

	if err := action(r.Context(), userID, forum, d.ID); err != nil {
		core.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SubscriptionHandler) forumRequest(r *http.Request) (int64, *types.Forum, error) {
	userID, err := core.UserID(r)
	if err != nil {
		return 0, nil, err
	}
	forumID, err := core.PathID(r, "forumID")
	if err != nil {
		return 0, nil, err
	}
	forum, err := h.forums.GetForum(r.Context(), forumID)
	if err != nil {
		return 0, nil, err
	}
	return userID, forum, nil
}
