package subscription

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quora/internal/types"
)

// ============================================================
// In-memory store
// ============================================================

type subKey struct {
	userID int64
	id     int64
}

type memStore struct {
	mu sync.Mutex

	forums    map[int64]*types.Forum
	users     map[int64]types.User
	enrolled  map[int64][]int64 // course -> users
	subs      map[subKey]bool   // (user, forum)
	overrides map[subKey]types.DiscussionSubscription

	listCalls int
}

func newMemStore() *memStore {
	return &memStore{
		forums:    make(map[int64]*types.Forum),
		users:     make(map[int64]types.User),
		enrolled:  make(map[int64][]int64),
		subs:      make(map[subKey]bool),
		overrides: make(map[subKey]types.DiscussionSubscription),
	}
}

func (m *memStore) Exists(_ context.Context, userID, forumID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subs[subKey{userID, forumID}], nil
}

func (m *memStore) Insert(_ context.Context, userID, forumID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := subKey{userID, forumID}
	if m.subs[k] {
		return false, nil
	}
	m.subs[k] = true
	return true, nil
}

func (m *memStore) Delete(_ context.Context, userID, forumID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := subKey{userID, forumID}
	existed := m.subs[k]
	delete(m.subs, k)
	return existed, nil
}

func (m *memStore) InsertMany(_ context.Context, forumID int64, userIDs []int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, id := range userIDs {
		k := subKey{id, forumID}
		if !m.subs[k] {
			m.subs[k] = true
			n++
		}
	}
	return n, nil
}

func (m *memStore) ListSubscribers(_ context.Context, forumID int64) ([]types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[int64]bool)
	for k := range m.subs {
		if k.id == forumID {
			seen[k.userID] = true
		}
	}
	for _, o := range m.overrides {
		if o.ForumID == forumID && o.Preference != types.DiscussionUnsubscribed {
			seen[o.UserID] = true
		}
	}
	var out []types.User
	for id := range seen {
		if u, ok := m.users[id]; ok {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) ListPotentialSubscribers(_ context.Context, courseID int64) ([]types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.User
	for _, id := range m.enrolled[courseID] {
		out = append(out, m.users[id])
	}
	return out, nil
}

func (m *memStore) GetDiscussionSubscription(_ context.Context, userID, discussionID int64) (*types.DiscussionSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.overrides[subKey{userID, discussionID}]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (m *memStore) UpsertDiscussionSubscription(_ context.Context, s types.DiscussionSubscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[subKey{s.UserID, s.DiscussionID}] = s
	return nil
}

func (m *memStore) DeleteDiscussionSubscription(_ context.Context, userID, discussionID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.overrides, subKey{userID, discussionID})
	return nil
}

func (m *memStore) DeleteDiscussionSubscriptionsInForum(_ context.Context, userID, forumID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, o := range m.overrides {
		if o.UserID == userID && o.ForumID == forumID {
			delete(m.overrides, k)
			n++
		}
	}
	return n, nil
}

func (m *memStore) SetMode(_ context.Context, forumID int64, mode types.SubscriptionMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.forums[forumID]; ok {
		f.ForceSubscribe = mode
	}
	return nil
}

func (m *memStore) ListSubscriberIDs(_ context.Context, forumID int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	var ids []int64
	for k := range m.subs {
		if k.id == forumID {
			ids = append(ids, k.userID)
		}
	}
	return ids, nil
}

func (m *memStore) ListCourseSubscriptionStates(_ context.Context, courseID, userID int64) (map[int64]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int64]bool)
	for id, f := range m.forums {
		if f.CourseID == courseID {
			out[id] = m.subs[subKey{userID, id}]
		}
	}
	return out, nil
}

func (m *memStore) ListDiscussionSubscriptions(_ context.Context, forumID int64) ([]types.DiscussionSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.DiscussionSubscription
	for _, o := range m.overrides {
		if o.ForumID == forumID {
			out = append(out, o)
		}
	}
	return out, nil
}

type mockClock struct {
	now time.Time
}

func (c *mockClock) Now() time.Time { return c.now }

type recordingPublisher struct {
	events []types.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev types.Event) error {
	p.events = append(p.events, ev)
	return p.err
}

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newFixture() (*memStore, *recordingPublisher, *Resolver) {
	store := newMemStore()
	for id := int64(1); id <= 4; id++ {
		store.users[id] = types.User{ID: id, Username: "user", Email: "user@example.com"}
	}
	store.enrolled[10] = []int64{1, 2, 3}
	events := &recordingPublisher{}
	return store, events, NewResolver(store, store, events, &mockClock{now: testNow}, nil)
}

func forum(id int64, mode types.SubscriptionMode) *types.Forum {
	return &types.Forum{ID: id, CourseID: 10, ForceSubscribe: mode}
}

// ============================================================
// Tests
// ============================================================

func TestModePredicates(t *testing.T) {
	assert.True(t, IsForceSubscribed(forum(1, types.SubscriptionForced)))
	assert.False(t, IsForceSubscribed(forum(1, types.SubscriptionInitial)))
	assert.True(t, SubscriptionDisabled(forum(1, types.SubscriptionDisallowed)))
	assert.False(t, SubscriptionDisabled(forum(1, types.SubscriptionChoose)))
}

func TestIsSubscribed_Layering(t *testing.T) {
	ctx := context.Background()
	store, _, r := newFixture()
	f := forum(1, types.SubscriptionChoose)

	// User 1: no forum row, subscribe override on discussion 100.
	store.overrides[subKey{1, 100}] = types.DiscussionSubscription{UserID: 1, ForumID: 1, DiscussionID: 100, Preference: testNow.Unix()}

	sub, err := r.IsSubscribed(ctx, nil, 1, f, 100)
	require.NoError(t, err)
	assert.True(t, sub, "override grants the discussion")

	sub, err = r.IsSubscribed(ctx, nil, 1, f, 0)
	require.NoError(t, err)
	assert.False(t, sub, "override does not grant the forum")

	sub, err = r.IsSubscribed(ctx, nil, 1, f, 101)
	require.NoError(t, err)
	assert.False(t, sub)

	// User 2: forum row, unsubscribe override on discussion 100.
	store.subs[subKey{2, 1}] = true
	store.overrides[subKey{2, 100}] = types.DiscussionSubscription{UserID: 2, ForumID: 1, DiscussionID: 100, Preference: types.DiscussionUnsubscribed}

	sub, err = r.IsSubscribed(ctx, nil, 2, f, 100)
	require.NoError(t, err)
	assert.False(t, sub, "unsubscribe override defeats forum row")

	sub, err = r.IsSubscribed(ctx, nil, 2, f, 101)
	require.NoError(t, err)
	assert.True(t, sub)
}

func TestIsSubscribed_ForcedAndDisallowed(t *testing.T) {
	ctx := context.Background()
	store, _, r := newFixture()
	store.overrides[subKey{1, 100}] = types.DiscussionSubscription{UserID: 1, ForumID: 1, DiscussionID: 100, Preference: types.DiscussionUnsubscribed}

	sub, err := r.IsSubscribed(ctx, nil, 1, forum(1, types.SubscriptionForced), 100)
	require.NoError(t, err)
	assert.True(t, sub)

	store.subs[subKey{1, 2}] = true
	sub, err = r.IsSubscribed(ctx, nil, 1, forum(2, types.SubscriptionDisallowed), 0)
	require.NoError(t, err)
	assert.False(t, sub, "rows in a disallowed forum are inert")
}

func TestIsSubscribed_Cache(t *testing.T) {
	ctx := context.Background()
	store, _, r := newFixture()
	f := forum(1, types.SubscriptionChoose)
	store.forums[1] = f
	store.subs[subKey{2, 1}] = true
	store.overrides[subKey{3, 100}] = types.DiscussionSubscription{UserID: 3, ForumID: 1, DiscussionID: 100, Preference: testNow.Unix()}

	cache := NewCache(store)

	_, err := r.IsSubscribed(ctx, cache, 2, f, 0)
	assert.True(t, errors.Is(err, ErrCacheNotFilled), "unfilled forum must not read as false")

	require.NoError(t, cache.FillForForum(ctx, 1))
	sub, err := r.IsSubscribed(ctx, cache, 2, f, 0)
	require.NoError(t, err)
	assert.True(t, sub)

	sub, err = r.IsSubscribed(ctx, cache, 1, f, 0)
	require.NoError(t, err)
	assert.False(t, sub)

	_, err = r.IsSubscribed(ctx, cache, 3, f, 100)
	assert.True(t, errors.Is(err, ErrCacheNotFilled), "discussion overrides need their own fill")

	require.NoError(t, cache.FillDiscussionsForForum(ctx, 1))
	sub, err = r.IsSubscribed(ctx, cache, 3, f, 100)
	require.NoError(t, err)
	assert.True(t, sub)

	at, err := r.DiscussionSubscribedAt(ctx, cache, 3, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, testNow, at)
}

func TestCache_FillForCourse(t *testing.T) {
	ctx := context.Background()
	store, _, r := newFixture()
	store.forums[1] = forum(1, types.SubscriptionChoose)
	store.forums[2] = forum(2, types.SubscriptionChoose)
	store.subs[subKey{1, 2}] = true

	cache := NewCache(store)
	require.NoError(t, cache.FillForCourse(ctx, 10, 1))

	sub, err := r.IsSubscribed(ctx, cache, 1, store.forums[1], 0)
	require.NoError(t, err)
	assert.False(t, sub)

	sub, err = r.IsSubscribed(ctx, cache, 1, store.forums[2], 0)
	require.NoError(t, err)
	assert.True(t, sub)

	_, err = r.IsSubscribed(ctx, cache, 2, store.forums[2], 0)
	assert.True(t, errors.Is(err, ErrCacheNotFilled), "other users were not preloaded")
}

func TestSubscribeUnsubscribe(t *testing.T) {
	ctx := context.Background()
	store, events, r := newFixture()
	f := forum(1, types.SubscriptionChoose)

	require.NoError(t, r.Subscribe(ctx, 1, f))
	require.NoError(t, r.Subscribe(ctx, 1, f))
	assert.True(t, store.subs[subKey{1, 1}])
	require.Len(t, events.events, 1, "idempotent subscribe fires once")
	assert.Equal(t, types.EventSubscriptionCreated, events.events[0].Type)

	require.NoError(t, r.Unsubscribe(ctx, 1, f))
	require.NoError(t, r.Unsubscribe(ctx, 1, f))
	assert.False(t, store.subs[subKey{1, 1}])
	assert.Len(t, events.events, 2)

	err := r.Subscribe(ctx, 1, forum(2, types.SubscriptionDisallowed))
	assert.True(t, types.IsCode(err, types.ErrCodeValidationSubscriptionOff))

	err = r.Unsubscribe(ctx, 1, forum(3, types.SubscriptionForced))
	assert.True(t, types.IsCode(err, types.ErrCodeValidationForcedSubscription))
}

func TestUnsubscribe_KeepsOverrides(t *testing.T) {
	ctx := context.Background()
	store, _, r := newFixture()
	f := forum(1, types.SubscriptionChoose)
	store.subs[subKey{1, 1}] = true
	store.overrides[subKey{1, 100}] = types.DiscussionSubscription{UserID: 1, ForumID: 1, DiscussionID: 100, Preference: testNow.Unix()}

	require.NoError(t, r.Unsubscribe(ctx, 1, f))
	assert.Len(t, store.overrides, 1)
}

func TestUnsubscribeAndClearOverrides(t *testing.T) {
	ctx := context.Background()
	store, _, r := newFixture()
	f := forum(1, types.SubscriptionChoose)
	store.subs[subKey{1, 1}] = true
	store.overrides[subKey{1, 100}] = types.DiscussionSubscription{UserID: 1, ForumID: 1, DiscussionID: 100, Preference: testNow.Unix()}
	store.overrides[subKey{1, 101}] = types.DiscussionSubscription{UserID: 1, ForumID: 1, DiscussionID: 101, Preference: types.DiscussionUnsubscribed}
	store.overrides[subKey{1, 200}] = types.DiscussionSubscription{UserID: 1, ForumID: 2, DiscussionID: 200, Preference: testNow.Unix()}
	store.overrides[subKey{2, 100}] = types.DiscussionSubscription{UserID: 2, ForumID: 1, DiscussionID: 100, Preference: testNow.Unix()}

	require.NoError(t, r.UnsubscribeAndClearOverrides(ctx, 1, f))

	assert.False(t, store.subs[subKey{1, 1}])
	assert.NotContains(t, store.overrides, subKey{1, 100})
	assert.NotContains(t, store.overrides, subKey{1, 101})
	assert.Contains(t, store.overrides, subKey{1, 200}, "other forums untouched")
	assert.Contains(t, store.overrides, subKey{2, 100}, "other users untouched")

	sub, err := r.IsSubscribed(ctx, nil, 1, f, 100)
	require.NoError(t, err)
	assert.False(t, sub)

	err = r.UnsubscribeAndClearOverrides(ctx, 1, forum(3, types.SubscriptionForced))
	assert.True(t, types.IsCode(err, types.ErrCodeValidationForcedSubscription))
}

func TestDiscussionOverrides(t *testing.T) {
	ctx := context.Background()

	t.Run("subscribe without forum row stores time", func(t *testing.T) {
		store, _, r := newFixture()
		f := forum(1, types.SubscriptionChoose)

		require.NoError(t, r.SubscribeDiscussion(ctx, 1, f, 100))
		o, ok := store.overrides[subKey{1, 100}]
		require.True(t, ok)
		assert.Equal(t, testNow.Unix(), o.Preference)

		// Unsubscribing again removes the override since the forum level
		// already says "not subscribed".
		require.NoError(t, r.UnsubscribeDiscussion(ctx, 1, f, 100))
		assert.Empty(t, store.overrides)
	})

	t.Run("unsubscribe with forum row stores sentinel", func(t *testing.T) {
		store, _, r := newFixture()
		f := forum(1, types.SubscriptionChoose)
		store.subs[subKey{1, 1}] = true

		require.NoError(t, r.UnsubscribeDiscussion(ctx, 1, f, 100))
		assert.Equal(t, types.DiscussionUnsubscribed, store.overrides[subKey{1, 100}].Preference)

		require.NoError(t, r.SubscribeDiscussion(ctx, 1, f, 100))
		assert.Empty(t, store.overrides)
	})

	t.Run("subscribe already granted by forum row writes nothing", func(t *testing.T) {
		store, events, r := newFixture()
		f := forum(1, types.SubscriptionChoose)
		store.subs[subKey{1, 1}] = true

		require.NoError(t, r.SubscribeDiscussion(ctx, 1, f, 100))
		assert.Empty(t, store.overrides)
		assert.Empty(t, events.events)
	})

	t.Run("policy errors", func(t *testing.T) {
		_, _, r := newFixture()
		err := r.SubscribeDiscussion(ctx, 1, forum(1, types.SubscriptionDisallowed), 100)
		assert.True(t, types.IsCode(err, types.ErrCodeValidationSubscriptionOff))
		err = r.UnsubscribeDiscussion(ctx, 1, forum(1, types.SubscriptionForced), 100)
		assert.True(t, types.IsCode(err, types.ErrCodeValidationForcedSubscription))
	})
}

func TestSetSubscriptionMode(t *testing.T) {
	ctx := context.Background()

	t.Run("entering initial fans out once", func(t *testing.T) {
		store, events, r := newFixture()
		f := forum(1, types.SubscriptionChoose)
		store.forums[1] = f

		require.NoError(t, r.SetSubscriptionMode(ctx, f, types.SubscriptionInitial))
		assert.Equal(t, types.SubscriptionInitial, f.ForceSubscribe)
		for _, id := range []int64{1, 2, 3} {
			assert.True(t, store.subs[subKey{id, 1}])
		}
		assert.False(t, store.subs[subKey{4, 1}], "not enrolled")

		require.Len(t, events.events, 1)
		assert.Equal(t, types.EventSubscriptionModeUpdated, events.events[0].Type)
	})

	t.Run("leaving initial keeps subscriptions", func(t *testing.T) {
		store, _, r := newFixture()
		f := forum(1, types.SubscriptionInitial)
		store.subs[subKey{1, 1}] = true

		require.NoError(t, r.SetSubscriptionMode(ctx, f, types.SubscriptionChoose))
		assert.True(t, store.subs[subKey{1, 1}])
		assert.Len(t, store.subs, 1)
	})

	t.Run("invalid mode", func(t *testing.T) {
		_, _, r := newFixture()
		err := r.SetSubscriptionMode(ctx, forum(1, types.SubscriptionChoose), types.SubscriptionMode(9))
		assert.True(t, types.IsCode(err, types.ErrCodeValidationSubscriptionMode))
	})
}

func TestFetchSubscribedUsers(t *testing.T) {
	ctx := context.Background()
	store, _, r := newFixture()
	store.subs[subKey{1, 1}] = true
	store.overrides[subKey{2, 100}] = types.DiscussionSubscription{UserID: 2, ForumID: 1, DiscussionID: 100, Preference: testNow.Unix()}
	store.overrides[subKey{3, 100}] = types.DiscussionSubscription{UserID: 3, ForumID: 1, DiscussionID: 100, Preference: types.DiscussionUnsubscribed}
	store.overrides[subKey{1, 101}] = types.DiscussionSubscription{UserID: 1, ForumID: 1, DiscussionID: 101, Preference: testNow.Unix()}

	users, err := r.FetchSubscribedUsers(ctx, forum(1, types.SubscriptionChoose))
	require.NoError(t, err)
	ids := make([]int64, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	assert.Equal(t, []int64{1, 2}, ids)

	users, err = r.FetchSubscribedUsers(ctx, forum(1, types.SubscriptionForced))
	require.NoError(t, err)
	assert.Len(t, users, 3)

	users, err = r.FetchSubscribedUsers(ctx, forum(1, types.SubscriptionDisallowed))
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestPublishFailureDoesNotFail(t *testing.T) {
	store, events, r := newFixture()
	events.err = errors.New("sink down")
	require.NoError(t, r.Subscribe(context.Background(), 1, forum(1, types.SubscriptionChoose)))
	assert.True(t, store.subs[subKey{1, 1}])
}
