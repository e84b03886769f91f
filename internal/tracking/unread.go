package tracking

import (
	"context"
	"log/slog"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"quora/internal/db"
	"quora/internal/types"
)

// UnreadStore defines the aggregate unread queries.
type UnreadStore interface {
	// CountByForumInCourse returns unread counts keyed by forum id.
	CountByForumInCourse(ctx context.Context, q db.UnreadQuery, courseID int64) (map[int64]int, error)

	// CountInForumForGroups counts unread posts in discussions of groupIDs.
	CountInForumForGroups(ctx context.Context, q db.UnreadQuery, forumID int64, groupIDs []int64) (int, error)

	CountInDiscussion(ctx context.Context, q db.UnreadQuery, discussionID int64) (int, error)
}

// GroupStore supplies group membership for separate-groups filtering.
type GroupStore interface {
	ListUserGroupIDs(ctx context.Context, courseID, userID int64) ([]int64, error)
}

// UnreadCache holds per-course unread counts for the lifetime of one
// request. Create one with NewUnreadCache per request; it is safe for
// concurrent use and concurrent misses on the same course share one query.
type UnreadCache struct {
	mu      sync.RWMutex
	courses map[int64]map[int64]int
	group   singleflight.Group
}

// NewUnreadCache returns an empty cache.
func NewUnreadCache() *UnreadCache {
	return &UnreadCache{courses: make(map[int64]map[int64]int)}
}

func (c *UnreadCache) get(courseID int64) (map[int64]int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	counts, ok := c.courses[courseID]
	return counts, ok
}

func (c *UnreadCache) load(ctx context.Context, courseID int64, fn func(context.Context) (map[int64]int, error)) (map[int64]int, error) {
	if counts, ok := c.get(courseID); ok {
		return counts, nil
	}
	v, err, _ := c.group.Do(strconv.FormatInt(courseID, 10), func() (any, error) {
		if counts, ok := c.get(courseID); ok {
			return counts, nil
		}
		counts, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.courses[courseID] = counts
		c.mu.Unlock()
		return counts, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[int64]int), nil
}

// Aggregator computes unread post counts for page rendering.
type Aggregator struct {
	resolver *Resolver
	store    UnreadStore
	groups   GroupStore
	caps     types.Capabilities
	clock    types.Clock
	logger   *slog.Logger
}

// NewAggregator creates an Aggregator.
func NewAggregator(resolver *Resolver, store UnreadStore, groups GroupStore, caps types.Capabilities, clock types.Clock, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	return &Aggregator{
		resolver: resolver,
		store:    store,
		groups:   groups,
		caps:     caps,
		clock:    clock,
		logger:   logger,
	}
}

func (a *Aggregator) query(user *types.User, hideTimed bool) db.UnreadQuery {
	now := a.clock.Now()
	return db.UnreadQuery{
		UserID:    user.ID,
		Cutoff:    a.resolver.Settings().OldPostCutoff(now),
		Now:       now,
		Policy:    a.resolver.Policy(user),
		HideTimed: hideTimed,
	}
}

// UnreadCountsForCourse returns unread counts for every tracked forum of
// the course in one grouped query. Forums without unread posts are absent.
// Timed discussions outside their window are never counted here; the
// per-forum recount honours the capability to see them.
func (a *Aggregator) UnreadCountsForCourse(ctx context.Context, cache *UnreadCache, user *types.User, courseID int64) (map[int64]int, error) {
	if !a.resolver.CanTrack(nil, user) {
		return map[int64]int{}, nil
	}
	fetch := func(ctx context.Context) (map[int64]int, error) {
		return a.store.CountByForumInCourse(ctx, a.query(user, true), courseID)
	}
	if cache == nil {
		return fetch(ctx)
	}
	return cache.load(ctx, courseID, fetch)
}

// UnreadCountForForum returns the unread count of one forum. The course
// aggregate is reused from cache; in separate-groups mode a user without
// access to all groups gets a recount restricted to their own groups and
// the all-groups sentinel.
func (a *Aggregator) UnreadCountForForum(ctx context.Context, cache *UnreadCache, user *types.User, cm *types.CourseModule, forum *types.Forum) (int, error) {
	counts, err := a.UnreadCountsForCourse(ctx, cache, user, forum.CourseID)
	if err != nil {
		return 0, err
	}
	cached := counts[forum.ID]
	if cached == 0 {
		return 0, nil
	}

	if cm.GroupMode != types.SeparateGroups {
		return cached, nil
	}
	allGroups, err := a.caps.Has(ctx, user.ID, types.CapAccessAllGroups, cm.ID)
	if err != nil {
		return 0, err
	}
	if allGroups {
		return cached, nil
	}

	groupIDs, err := a.groups.ListUserGroupIDs(ctx, forum.CourseID, user.ID)
	if err != nil {
		return 0, err
	}
	groupIDs = append(groupIDs, types.AllGroups)

	seeTimed, err := a.caps.Has(ctx, user.ID, types.CapViewHiddenTimedPosts, cm.ID)
	if err != nil {
		return 0, err
	}
	return a.store.CountInForumForGroups(ctx, a.query(user, !seeTimed), forum.ID, groupIDs)
}

// UnreadCountForDiscussion returns the unread count of one discussion in
// a tracked forum, or 0 when the forum is not tracked for the user.
func (a *Aggregator) UnreadCountForDiscussion(ctx context.Context, user *types.User, cm *types.CourseModule, forum *types.Forum, discussionID int64) (int, error) {
	tracked, err := a.resolver.IsTracked(ctx, LoadedForum(forum), user)
	if err != nil {
		return 0, err
	}
	if !tracked {
		return 0, nil
	}
	seeTimed, err := a.caps.Has(ctx, user.ID, types.CapViewHiddenTimedPosts, cm.ID)
	if err != nil {
		return 0, err
	}
	return a.store.CountInDiscussion(ctx, a.query(user, !seeTimed), discussionID)
}
