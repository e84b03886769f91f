// Package tracking implements per-user read tracking for forums: the
// tracking-policy resolver, the read-state store operations (mark read,
// is read, cleanup) and the unread-count aggregator used by page rendering.
package tracking

import (
	"context"
	"log/slog"

	"quora/internal/db"
	"quora/internal/types"
)

// ForumTrackingStore defines the data access the Resolver needs.
type ForumTrackingStore interface {
	// GetForumTracking loads only (id, trackingtype).
	//
	// SQL: SELECT id, trackingtype FROM quora WHERE id = $1
	GetForumTracking(ctx context.Context, forumID int64) (*types.Forum, error)

	// HasOptOut reports whether a quora_track_prefs row exists.
	HasOptOut(ctx context.Context, userID, forumID int64) (bool, error)
}

// ForumRef identifies a forum either by a loaded record or by id.
// Resolving an id-only reference fetches the minimal tracking projection.
type ForumRef struct {
	Forum *types.Forum
	ID    int64
}

// ForumByID references a forum that has not been loaded.
func ForumByID(id int64) ForumRef { return ForumRef{ID: id} }

// LoadedForum references an already loaded forum.
func LoadedForum(f *types.Forum) ForumRef { return ForumRef{Forum: f, ID: f.ID} }

// Resolver decides whether read tracking applies to a user and forum.
type Resolver struct {
	settings types.SiteSettings
	store    ForumTrackingStore
	logger   *slog.Logger
}

// NewResolver creates a Resolver over the given site settings.
func NewResolver(settings types.SiteSettings, store ForumTrackingStore, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		settings: settings,
		store:    store,
		logger:   logger,
	}
}

// Settings returns the site settings the resolver was built with.
func (r *Resolver) Settings() types.SiteSettings {
	return r.settings
}

// CanTrack reports whether read tracking is possible for the user, either
// in general (forum == nil) or in a specific forum. It does not consult
// per-forum opt-outs; see IsTracked.
//
// When forced tracking is allowed, a FORCED forum wins over the user's
// personal preference. When it is not, the user's preference wins over
// every forum type.
func (r *Resolver) CanTrack(forum *types.Forum, user *types.User) bool {
	if !r.settings.TrackReadPosts || !user.IsRealUser() {
		return false
	}

	if forum == nil {
		if r.settings.AllowForcedReadTracking {
			// Some forum may force tracking, so assume yes without one.
			return true
		}
		return user.TrackForums
	}

	allows := forum.TrackingType == types.TrackingOptional
	forced := forum.TrackingType == types.TrackingForced

	if r.settings.AllowForcedReadTracking {
		return forced || (allows && user.TrackForums)
	}
	return (forced || allows) && user.TrackForums
}

// IsTracked reports whether the user's reads in the forum are recorded.
// It requires CanTrack and then honours the user's opt-out for the forum,
// except for FORCED forums while forced tracking is allowed.
func (r *Resolver) IsTracked(ctx context.Context, ref ForumRef, user *types.User) (bool, error) {
	forum := ref.Forum
	if forum == nil {
		var err error
		forum, err = r.store.GetForumTracking(ctx, ref.ID)
		if err != nil {
			return false, err
		}
	}

	if !r.CanTrack(forum, user) {
		return false, nil
	}

	if forum.TrackingType == types.TrackingForced && r.settings.AllowForcedReadTracking {
		return true, nil
	}

	optedOut, err := r.store.HasOptOut(ctx, user.ID, forum.ID)
	if err != nil {
		return false, err
	}
	pref := types.Inherit
	if optedOut {
		pref = types.ExplicitFalse
	}
	return pref.Resolve(true), nil
}

// Policy returns the SQL tracking predicate inputs for the user.
func (r *Resolver) Policy(user *types.User) db.TrackingPolicy {
	return db.TrackingPolicy{
		AllowForced: r.settings.AllowForcedReadTracking,
		UserTracks:  user.TrackForums,
	}
}
