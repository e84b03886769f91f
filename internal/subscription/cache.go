package subscription

import (
	"context"
	"errors"
	"sync"

	"quora/internal/types"
)

// ErrCacheNotFilled is returned when a lookup hits a forum, or a
// (forum, user) pair, that was never preloaded. Callers must fill the
// cache before asking; a miss is never reported as "not subscribed".
var ErrCacheNotFilled = errors.New("subscription cache not filled")

// CacheStore defines the bulk reads used to preload a Cache.
type CacheStore interface {
	// ListSubscriberIDs returns every user with a forum-level row.
	ListSubscriberIDs(ctx context.Context, forumID int64) ([]int64, error)

	// ListCourseSubscriptionStates returns forum id -> has row, for one user.
	ListCourseSubscriptionStates(ctx context.Context, courseID, userID int64) (map[int64]bool, error)

	// ListDiscussionSubscriptions returns every override row of the forum.
	ListDiscussionSubscriptions(ctx context.Context, forumID int64) ([]types.DiscussionSubscription, error)
}

type forumEntry struct {
	// complete means every subscriber of the forum is in users.
	complete bool
	users    map[int64]bool
}

// Cache holds preloaded subscription state for one batch run. Create a new
// Cache per run; it is safe for concurrent use.
type Cache struct {
	store CacheStore

	mu          sync.RWMutex
	forums      map[int64]*forumEntry
	discussions map[int64]map[int64]map[int64]*types.DiscussionSubscription // forum -> user -> discussion
}

// NewCache returns an empty Cache backed by store.
func NewCache(store CacheStore) *Cache {
	return &Cache{
		store:       store,
		forums:      make(map[int64]*forumEntry),
		discussions: make(map[int64]map[int64]map[int64]*types.DiscussionSubscription),
	}
}

// FillForCourse preloads the forum-level state of one user for every forum
// of a course.
func (c *Cache) FillForCourse(ctx context.Context, courseID, userID int64) error {
	states, err := c.store.ListCourseSubscriptionStates(ctx, courseID, userID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for forumID, subscribed := range states {
		e := c.forums[forumID]
		if e == nil {
			e = &forumEntry{users: make(map[int64]bool)}
			c.forums[forumID] = e
		}
		if !e.complete {
			e.users[userID] = subscribed
		}
	}
	return nil
}

// FillForForum preloads every forum-level subscriber of a forum.
func (c *Cache) FillForForum(ctx context.Context, forumID int64) error {
	ids, err := c.store.ListSubscriberIDs(ctx, forumID)
	if err != nil {
		return err
	}

	e := &forumEntry{complete: true, users: make(map[int64]bool, len(ids))}
	for _, id := range ids {
		e.users[id] = true
	}

	c.mu.Lock()
	c.forums[forumID] = e
	c.mu.Unlock()
	return nil
}

// FillDiscussionsForForum preloads every discussion override of a forum.
func (c *Cache) FillDiscussionsForForum(ctx context.Context, forumID int64) error {
	subs, err := c.store.ListDiscussionSubscriptions(ctx, forumID)
	if err != nil {
		return err
	}

	byUser := make(map[int64]map[int64]*types.DiscussionSubscription)
	for i := range subs {
		s := &subs[i]
		if byUser[s.UserID] == nil {
			byUser[s.UserID] = make(map[int64]*types.DiscussionSubscription)
		}
		byUser[s.UserID][s.DiscussionID] = s
	}

	c.mu.Lock()
	c.discussions[forumID] = byUser
	c.mu.Unlock()
	return nil
}

// forumSubscribed answers from the forum-level preload.
func (c *Cache) forumSubscribed(forumID, userID int64) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.forums[forumID]
	if !ok {
		return false, ErrCacheNotFilled
	}
	subscribed, known := e.users[userID]
	if !known && !e.complete {
		return false, ErrCacheNotFilled
	}
	return subscribed, nil
}

// DiscussionOverride returns the preloaded override for (user, discussion),
// nil when the user has none.
func (c *Cache) DiscussionOverride(forumID, userID, discussionID int64) (*types.DiscussionSubscription, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	byUser, ok := c.discussions[forumID]
	if !ok {
		return nil, ErrCacheNotFilled
	}
	return byUser[userID][discussionID], nil
}
