// Package subscription resolves who receives notifications for a forum or
// discussion. Forum-level subscription modes (choose, forced, initial,
// disallowed) are layered with per-discussion override rows.
package subscription

import (
	"context"
	"log/slog"
	"time"

	"quora/internal/types"
)

// Store defines the subscription data access.
type Store interface {
	Exists(ctx context.Context, userID, forumID int64) (bool, error)
	Insert(ctx context.Context, userID, forumID int64) (bool, error)
	Delete(ctx context.Context, userID, forumID int64) (bool, error)

	// InsertMany subscribes userIDs to the forum, skipping existing rows.
	//
	// SQL: INSERT ... SELECT uid, $1 FROM unnest($2::bigint[]) ON CONFLICT DO NOTHING
	InsertMany(ctx context.Context, forumID int64, userIDs []int64) (int64, error)

	// ListSubscribers returns forum subscribers plus users holding a
	// discussion-level subscribe override, excluding disabled accounts.
	ListSubscribers(ctx context.Context, forumID int64) ([]types.User, error)

	GetDiscussionSubscription(ctx context.Context, userID, discussionID int64) (*types.DiscussionSubscription, error)
	UpsertDiscussionSubscription(ctx context.Context, s types.DiscussionSubscription) error
	DeleteDiscussionSubscription(ctx context.Context, userID, discussionID int64) error
	DeleteDiscussionSubscriptionsInForum(ctx context.Context, userID, forumID int64) (int64, error)

	SetMode(ctx context.Context, forumID int64, mode types.SubscriptionMode) error
}

// PotentialSubscriberStore lists the users who could subscribe to a forum
// of a course: its active enrolments.
type PotentialSubscriberStore interface {
	ListPotentialSubscribers(ctx context.Context, courseID int64) ([]types.User, error)
}

// Resolver answers and changes subscription state.
type Resolver struct {
	store     Store
	potential PotentialSubscriberStore
	events    types.EventPublisher
	clock     types.Clock
	logger    *slog.Logger
}

// NewResolver creates a Resolver. events may be nil.
func NewResolver(store Store, potential PotentialSubscriberStore, events types.EventPublisher, clock types.Clock, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	return &Resolver{
		store:     store,
		potential: potential,
		events:    events,
		clock:     clock,
		logger:    logger,
	}
}

// IsForceSubscribed reports whether everyone is subscribed to the forum.
func IsForceSubscribed(forum *types.Forum) bool {
	return forum.ForceSubscribe == types.SubscriptionForced
}

// SubscriptionDisabled reports whether nobody may subscribe to the forum.
func SubscriptionDisabled(forum *types.Forum) bool {
	return forum.ForceSubscribe == types.SubscriptionDisallowed
}

// IsSubscribed reports whether the user receives notifications for the
// forum, or for one discussion of it when discussionID is non-zero.
//
// With a non-nil cache the answer comes only from preloaded state and an
// unfilled forum yields ErrCacheNotFilled. Rows left behind in a
// DISALLOWED forum are inert.
func (r *Resolver) IsSubscribed(ctx context.Context, cache *Cache, userID int64, forum *types.Forum, discussionID int64) (bool, error) {
	if IsForceSubscribed(forum) {
		return true, nil
	}
	if SubscriptionDisabled(forum) {
		return false, nil
	}

	var forumLevel bool
	var err error
	if cache != nil {
		forumLevel, err = cache.forumSubscribed(forum.ID, userID)
	} else {
		forumLevel, err = r.store.Exists(ctx, userID, forum.ID)
	}
	if err != nil {
		return false, err
	}
	if discussionID == 0 {
		return forumLevel, nil
	}

	override, err := r.discussionOverride(ctx, cache, userID, forum.ID, discussionID)
	if err != nil {
		return false, err
	}
	return override.Resolution().Resolve(forumLevel), nil
}

func (r *Resolver) discussionOverride(ctx context.Context, cache *Cache, userID, forumID, discussionID int64) (*types.DiscussionSubscription, error) {
	if cache != nil {
		return cache.DiscussionOverride(forumID, userID, discussionID)
	}
	return r.store.GetDiscussionSubscription(ctx, userID, discussionID)
}

// DiscussionSubscribedAt returns when the user subscribed to the
// discussion through an override; zero when the subscription (if any)
// comes from the forum level.
func (r *Resolver) DiscussionSubscribedAt(ctx context.Context, cache *Cache, userID, forumID, discussionID int64) (time.Time, error) {
	override, err := r.discussionOverride(ctx, cache, userID, forumID, discussionID)
	if err != nil {
		return time.Time{}, err
	}
	return override.SubscribedAt(), nil
}

// Subscribe adds a forum-level subscription. Idempotent.
func (r *Resolver) Subscribe(ctx context.Context, userID int64, forum *types.Forum) error {
	if SubscriptionDisabled(forum) {
		return types.NewAppError(types.ErrCodeValidationSubscriptionOff, "subscriptions are disabled for this forum", nil)
	}
	inserted, err := r.store.Insert(ctx, userID, forum.ID)
	if err != nil {
		return err
	}
	if inserted {
		r.publish(ctx, types.EventSubscriptionCreated, userID, forum, 0)
	}
	return nil
}

// Unsubscribe removes the forum-level subscription row. Discussion
// overrides are kept. Idempotent.
func (r *Resolver) Unsubscribe(ctx context.Context, userID int64, forum *types.Forum) error {
	if IsForceSubscribed(forum) {
		return types.NewAppError(types.ErrCodeValidationForcedSubscription, "everyone is subscribed to this forum", nil)
	}
	deleted, err := r.store.Delete(ctx, userID, forum.ID)
	if err != nil {
		return err
	}
	if deleted {
		r.publish(ctx, types.EventSubscriptionDeleted, userID, forum, 0)
	}
	return nil
}

// UnsubscribeAndClearOverrides is the user-requested full unsubscribe: the
// forum-level row and every discussion override of the user in the forum
// are removed.
func (r *Resolver) UnsubscribeAndClearOverrides(ctx context.Context, userID int64, forum *types.Forum) error {
	if err := r.Unsubscribe(ctx, userID, forum); err != nil {
		return err
	}
	cleared, err := r.store.DeleteDiscussionSubscriptionsInForum(ctx, userID, forum.ID)
	if err != nil {
		return err
	}
	if cleared > 0 {
		r.logger.InfoContext(ctx, "Cleared discussion subscriptions",
			"user_id", userID,
			"forum_id", forum.ID,
			"count", cleared,
		)
	}
	return nil
}

// SubscribeDiscussion subscribes the user to one discussion. When the
// forum-level subscription already grants it, any override is removed
// instead of stored.
func (r *Resolver) SubscribeDiscussion(ctx context.Context, userID int64, forum *types.Forum, discussionID int64) error {
	if SubscriptionDisabled(forum) {
		return types.NewAppError(types.ErrCodeValidationSubscriptionOff, "subscriptions are disabled for this forum", nil)
	}
	return r.setDiscussionOverride(ctx, userID, forum, discussionID, true)
}

// UnsubscribeDiscussion unsubscribes the user from one discussion. When
// the user has no forum-level subscription, any override is removed
// instead of stored.
func (r *Resolver) UnsubscribeDiscussion(ctx context.Context, userID int64, forum *types.Forum, discussionID int64) error {
	if IsForceSubscribed(forum) {
		return types.NewAppError(types.ErrCodeValidationForcedSubscription, "everyone is subscribed to this forum", nil)
	}
	return r.setDiscussionOverride(ctx, userID, forum, discussionID, false)
}

func (r *Resolver) setDiscussionOverride(ctx context.Context, userID int64, forum *types.Forum, discussionID int64, want bool) error {
	current, err := r.store.GetDiscussionSubscription(ctx, userID, discussionID)
	if err != nil {
		return err
	}
	if current != nil && current.Resolution().Resolve(false) == want {
		return nil
	}

	forumLevel, err := r.store.Exists(ctx, userID, forum.ID)
	if err != nil {
		return err
	}

	if forumLevel == want {
		// The forum-level state already says what the user wants.
		if current == nil {
			return nil
		}
		if err := r.store.DeleteDiscussionSubscription(ctx, userID, discussionID); err != nil {
			return err
		}
	} else {
		pref := types.DiscussionUnsubscribed
		if want {
			pref = r.clock.Now().Unix()
		}
		err := r.store.UpsertDiscussionSubscription(ctx, types.DiscussionSubscription{
			UserID:       userID,
			ForumID:      forum.ID,
			DiscussionID: discussionID,
			Preference:   pref,
		})
		if err != nil {
			return err
		}
	}

	eventType := types.EventSubscriptionDeleted
	if want {
		eventType = types.EventSubscriptionCreated
	}
	r.publish(ctx, eventType, userID, forum, discussionID)
	return nil
}

// SetSubscriptionMode changes the forum's mode. Entering INITIAL subscribes
// every potential subscriber once; leaving it never unsubscribes anyone.
// forum.ForceSubscribe is updated on success.
func (r *Resolver) SetSubscriptionMode(ctx context.Context, forum *types.Forum, mode types.SubscriptionMode) error {
	if !mode.Valid() {
		return types.NewAppError(types.ErrCodeValidationSubscriptionMode, "unknown subscription mode", nil)
	}
	previous := forum.ForceSubscribe
	if err := r.store.SetMode(ctx, forum.ID, mode); err != nil {
		return err
	}
	forum.ForceSubscribe = mode

	if mode == types.SubscriptionInitial && previous != types.SubscriptionInitial {
		users, err := r.potential.ListPotentialSubscribers(ctx, forum.CourseID)
		if err != nil {
			return err
		}
		ids := make([]int64, 0, len(users))
		for _, u := range users {
			ids = append(ids, u.ID)
		}
		added, err := r.store.InsertMany(ctx, forum.ID, ids)
		if err != nil {
			return err
		}
		r.logger.InfoContext(ctx, "Subscribed potential subscribers",
			"forum_id", forum.ID,
			"candidates", len(ids),
			"added", added,
		)
	}

	if previous != mode {
		ev := r.event(ctx, types.EventSubscriptionModeUpdated, 0, forum, 0)
		ev.Other = map[string]any{"from": int(previous), "to": int(mode)}
		r.send(ctx, ev)
	}
	return nil
}

// FetchSubscribedUsers returns everyone who may be notified about the
// forum: all potential subscribers when forced, nobody when disallowed,
// otherwise forum subscribers plus discussion-level subscribers.
func (r *Resolver) FetchSubscribedUsers(ctx context.Context, forum *types.Forum) ([]types.User, error) {
	switch {
	case IsForceSubscribed(forum):
		return r.potential.ListPotentialSubscribers(ctx, forum.CourseID)
	case SubscriptionDisabled(forum):
		return nil, nil
	default:
		return r.store.ListSubscribers(ctx, forum.ID)
	}
}

func (r *Resolver) event(ctx context.Context, eventType types.EventType, userID int64, forum *types.Forum, discussionID int64) types.Event {
	ev := types.NewEvent(eventType, r.clock.Now())
	ev.UserID = userID
	ev.CourseID = forum.CourseID
	ev.ForumID = forum.ID
	ev.DiscussionID = discussionID
	ev.RequestID = types.GetRequestID(ctx)
	return ev
}

func (r *Resolver) publish(ctx context.Context, eventType types.EventType, userID int64, forum *types.Forum, discussionID int64) {
	r.send(ctx, r.event(ctx, eventType, userID, forum, discussionID))
}

func (r *Resolver) send(ctx context.Context, ev types.Event) {
	if r.events == nil {
		return
	}
	if err := r.events.Publish(ctx, ev); err != nil {
		r.logger.WarnContext(ctx, "Failed to publish event",
			"type", ev.Type,
			"forum_id", ev.ForumID,
			"error", err,
		)
	}
}
