package core

import (
	"context"
	"sync"

	"quora/internal/types"
)

// ContextStore loads the course context of a post.
type ContextStore interface {
	GetDiscussion(ctx context.Context, id int64) (*types.Discussion, error)
	GetForum(ctx context.Context, id int64) (*types.Forum, error)
	GetCourse(ctx context.Context, id int64) (*types.Course, error)
	GetModuleForForum(ctx context.Context, forumID int64) (*types.CourseModule, error)
}

// UserStore loads a single user record.
type UserStore interface {
	GetByID(ctx context.Context, id int64) (*types.User, error)
}

// DefaultRecipientLimit is the number of full user records a RunCache keeps.
const DefaultRecipientLimit = 5000

// RunCache memoises what one cron run looks up repeatedly: discussions,
// forums, courses, course modules and users. It is created per run and
// shared by the batcher and the digest assembler.
//
// The first limit distinct users are kept as full records. Users seen
// after that are remembered by id only and reloaded on each User call, so
// memory stays bounded on sites with very large forums.
type RunCache struct {
	store ContextStore
	users UserStore
	limit int

	mu          sync.Mutex
	discussions map[int64]*types.Discussion
	forums      map[int64]*types.Forum
	courses     map[int64]*types.Course
	modules     map[int64]*types.CourseModule // keyed by forum id
	full        map[int64]*types.User
	minimal     map[int64]struct{}
}

// NewRunCache creates an empty cache. limit <= 0 means DefaultRecipientLimit.
func NewRunCache(store ContextStore, users UserStore, limit int) *RunCache {
	if limit <= 0 {
		limit = DefaultRecipientLimit
	}
	return &RunCache{
		store:       store,
		users:       users,
		limit:       limit,
		discussions: make(map[int64]*types.Discussion),
		forums:      make(map[int64]*types.Forum),
		courses:     make(map[int64]*types.Course),
		modules:     make(map[int64]*types.CourseModule),
		full:        make(map[int64]*types.User),
		minimal:     make(map[int64]struct{}),
	}
}

// ============================================================================
// Course context
// ============================================================================

// Discussion returns a discussion, loading it on first use.
func (c *RunCache) Discussion(ctx context.Context, id int64) (*types.Discussion, error) {
	return cached(ctx, c, c.discussions, id, c.store.GetDiscussion)
}

// Forum returns a forum, loading it on first use.
func (c *RunCache) Forum(ctx context.Context, id int64) (*types.Forum, error) {
	return cached(ctx, c, c.forums, id, c.store.GetForum)
}

// Course returns a course, loading it on first use.
func (c *RunCache) Course(ctx context.Context, id int64) (*types.Course, error) {
	return cached(ctx, c, c.courses, id, c.store.GetCourse)
}

// Module returns the course module hosting forumID, loading it on first use.
func (c *RunCache) Module(ctx context.Context, forumID int64) (*types.CourseModule, error) {
	return cached(ctx, c, c.modules, forumID, c.store.GetModuleForForum)
}

// PostContext is the resolved chain of a post.
type PostContext struct {
	Discussion *types.Discussion
	Forum      *types.Forum
	Course     *types.Course
	Module     *types.CourseModule
}

// Resolve walks discussion -> forum -> course -> module. The first broken
// link is returned as the error.
func (c *RunCache) Resolve(ctx context.Context, discussionID int64) (*PostContext, error) {
	d, err := c.Discussion(ctx, discussionID)
	if err != nil {
		return nil, err
	}
	f, err := c.Forum(ctx, d.ForumID)
	if err != nil {
		return nil, err
	}
	course, err := c.Course(ctx, f.CourseID)
	if err != nil {
		return nil, err
	}
	cm, err := c.Module(ctx, f.ID)
	if err != nil {
		return nil, err
	}
	return &PostContext{Discussion: d, Forum: f, Course: course, Module: cm}, nil
}

func cached[T any](ctx context.Context, c *RunCache, m map[int64]*T, id int64, load func(context.Context, int64) (*T, error)) (*T, error) {
	c.mu.Lock()
	v, ok := m[id]
	c.mu.Unlock()
	if ok {
		return v, nil
	}

	v, err := load(ctx, id)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	m[id] = v
	c.mu.Unlock()
	return v, nil
}

// ============================================================================
// Users
// ============================================================================

// AddUsers records users already loaded elsewhere (typically a forum's
// subscriber list). Full records are kept until the limit is reached.
func (c *RunCache) AddUsers(users []types.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range users {
		c.addLocked(&users[i])
	}
}

func (c *RunCache) addLocked(u *types.User) {
	if _, ok := c.full[u.ID]; ok {
		return
	}
	if _, ok := c.minimal[u.ID]; ok {
		return
	}
	if len(c.full) < c.limit {
		cp := *u
		cp.Minimal = false
		c.full[u.ID] = &cp
		return
	}
	c.minimal[u.ID] = struct{}{}
}

// User returns the full record for id. Users held as minimal records are
// reloaded from the store on every call and not promoted.
func (c *RunCache) User(ctx context.Context, id int64) (*types.User, error) {
	c.mu.Lock()
	u, ok := c.full[id]
	c.mu.Unlock()
	if ok {
		return u, nil
	}

	u, err := c.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.addLocked(u)
	c.mu.Unlock()
	return u, nil
}

// MinimalUser returns an id-only placeholder for users past the limit and
// the full record otherwise. It never touches the store.
func (c *RunCache) MinimalUser(id int64) *types.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	if u, ok := c.full[id]; ok {
		return u
	}
	return &types.User{ID: id, Minimal: true}
}

// UserCounts reports how many users are held as full and minimal records.
func (c *RunCache) UserCounts() (full, minimal int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.full), len(c.minimal)
}
