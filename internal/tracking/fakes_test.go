package tracking

import (
	"context"
	"sort"
	"sync"
	"time"

	"quora/internal/db"
	"quora/internal/types"
)

// ============================================================
// Fixtures
// ============================================================

type mockClock struct {
	now time.Time
}

func (c *mockClock) Now() time.Time { return c.now }

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func testSettings() types.SiteSettings {
	return types.SiteSettings{
		TrackReadPosts:          true,
		AllowForcedReadTracking: false,
		OldPostDays:             14,
	}
}

func trackingUser(id int64, tracks bool) *types.User {
	return &types.User{ID: id, Username: "u", Email: "u@example.com", TrackForums: tracks}
}

// ============================================================
// In-memory store
// ============================================================

type readKey struct {
	userID int64
	postID int64
}

// memStore is an in-memory stand-in for the read, tracking and unread
// repositories. It evaluates the same predicates the SQL does.
type memStore struct {
	mu sync.Mutex

	forums      map[int64]*types.Forum
	discussions map[int64]*types.Discussion
	posts       map[int64]*types.Post
	optOuts     map[readKey]bool // keyed by (user, forum)
	records     map[readKey]types.ReadRecord
	groups      map[int64][]int64

	insertBatches [][]int64
	failInsert    map[int64]error // post id -> error for any batch holding it
	forumLoads    int
	courseCounts  int
	groupCounts   [][]int64
}

func newMemStore() *memStore {
	return &memStore{
		forums:      make(map[int64]*types.Forum),
		discussions: make(map[int64]*types.Discussion),
		posts:       make(map[int64]*types.Post),
		optOuts:     make(map[readKey]bool),
		records:     make(map[readKey]types.ReadRecord),
		groups:      make(map[int64][]int64),
	}
}

func (m *memStore) addForum(f *types.Forum) { m.forums[f.ID] = f }

func (m *memStore) addDiscussion(d *types.Discussion) { m.discussions[d.ID] = d }

func (m *memStore) addPost(p *types.Post) { m.posts[p.ID] = p }

func (m *memStore) forumOf(p *types.Post) *types.Forum {
	d := m.discussions[p.DiscussionID]
	if d == nil {
		return nil
	}
	return m.forums[d.ForumID]
}

func policyAllows(p db.TrackingPolicy, f *types.Forum, optedOut bool) bool {
	forced := f.TrackingType == types.TrackingForced
	optional := f.TrackingType == types.TrackingOptional
	switch {
	case p.AllowForced && p.UserTracks:
		return forced || (optional && !optedOut)
	case p.AllowForced:
		return forced
	case p.UserTracks:
		return (optional || forced) && !optedOut
	default:
		return false
	}
}

func (m *memStore) GetForumTracking(_ context.Context, forumID int64) (*types.Forum, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forumLoads++
	f, ok := m.forums[forumID]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundForum, "forum not found", nil)
	}
	return &types.Forum{ID: f.ID, TrackingType: f.TrackingType}, nil
}

func (m *memStore) HasOptOut(_ context.Context, userID, forumID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.optOuts[readKey{userID, forumID}], nil
}

func (m *memStore) AddOptOut(_ context.Context, userID, forumID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.optOuts[readKey{userID, forumID}] = true
	return nil
}

func (m *memStore) RemoveOptOut(_ context.Context, userID, forumID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := readKey{userID, forumID}
	existed := m.optOuts[k]
	delete(m.optOuts, k)
	return existed, nil
}

func (m *memStore) InsertNew(_ context.Context, userID int64, postIDs []int64, now, cutoff time.Time, policy db.TrackingPolicy) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertBatches = append(m.insertBatches, append([]int64(nil), postIDs...))
	for _, id := range postIDs {
		if err := m.failInsert[id]; err != nil {
			return 0, err
		}
	}

	var n int64
	for _, id := range postIDs {
		p, ok := m.posts[id]
		if !ok || p.Modified.Before(cutoff) {
			continue
		}
		f := m.forumOf(p)
		if f == nil || !policyAllows(policy, f, m.optOuts[readKey{userID, f.ID}]) {
			continue
		}
		k := readKey{userID, id}
		if _, exists := m.records[k]; exists {
			continue
		}
		m.records[k] = types.ReadRecord{
			UserID:       userID,
			PostID:       id,
			DiscussionID: p.DiscussionID,
			ForumID:      f.ID,
			FirstRead:    now,
			LastRead:     now,
		}
		n++
	}
	return n, nil
}

func (m *memStore) TouchLastRead(_ context.Context, userID int64, postIDs []int64, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, id := range postIDs {
		k := readKey{userID, id}
		rec, ok := m.records[k]
		if ok && rec.LastRead.Before(now) {
			rec.LastRead = now
			m.records[k] = rec
			n++
		}
	}
	return n, nil
}

func (m *memStore) Upsert(_ context.Context, rec types.ReadRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := readKey{rec.UserID, rec.PostID}
	if existing, ok := m.records[k]; ok {
		existing.LastRead = rec.LastRead
		m.records[k] = existing
		return nil
	}
	m.records[k] = rec
	return nil
}

func (m *memStore) Exists(_ context.Context, userID, postID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[readKey{userID, postID}]
	return ok, nil
}

func (m *memStore) Delete(_ context.Context, f db.ReadRecordFilter) (int64, error) {
	if f.Empty() {
		return 0, types.NewAppError(types.ErrCodeValidationReadFilterRequired, "filter required", nil)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, rec := range m.records {
		if (f.UserID == 0 || rec.UserID == f.UserID) &&
			(f.PostID == 0 || rec.PostID == f.PostID) &&
			(f.DiscussionID == 0 || rec.DiscussionID == f.DiscussionID) &&
			(f.ForumID == 0 || rec.ForumID == f.ForumID) {
			delete(m.records, k)
			n++
		}
	}
	return n, nil
}

func (m *memStore) OldestTrackedModified(_ context.Context) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var oldest time.Time
	found := false
	for k := range m.records {
		p := m.posts[k.postID]
		if p == nil {
			continue
		}
		if !found || p.Modified.Before(oldest) {
			oldest = p.Modified
			found = true
		}
	}
	return oldest, found, nil
}

func (m *memStore) DeleteForPostsBetween(_ context.Context, from, cutoff time.Time, limit int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k := range m.records {
		if int(n) >= limit {
			break
		}
		p := m.posts[k.postID]
		if p == nil || p.Modified.Before(from) || !p.Modified.Before(cutoff) {
			continue
		}
		delete(m.records, k)
		n++
	}
	return n, nil
}

func (m *memStore) ListUnreadPostIDs(_ context.Context, userID, discussionID, forumID int64, cutoff time.Time) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for id, p := range m.posts {
		d := m.discussions[p.DiscussionID]
		if d == nil {
			continue
		}
		if discussionID != 0 && d.ID != discussionID {
			continue
		}
		if discussionID == 0 && d.ForumID != forumID {
			continue
		}
		if p.Modified.Before(cutoff) {
			continue
		}
		if _, ok := m.records[readKey{userID, id}]; ok {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *memStore) unreadIn(q db.UnreadQuery, match func(d *types.Discussion, f *types.Forum) bool) map[int64]int {
	counts := make(map[int64]int)
	for id, p := range m.posts {
		d := m.discussions[p.DiscussionID]
		if d == nil {
			continue
		}
		f := m.forums[d.ForumID]
		if f == nil || !match(d, f) {
			continue
		}
		if p.Modified.Before(q.Cutoff) {
			continue
		}
		if _, read := m.records[readKey{q.UserID, id}]; read {
			continue
		}
		if q.HideTimed && !d.VisibleAt(q.Now) {
			continue
		}
		counts[f.ID]++
	}
	return counts
}

func (m *memStore) CountByForumInCourse(_ context.Context, q db.UnreadQuery, courseID int64) (map[int64]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.courseCounts++
	return m.unreadIn(q, func(_ *types.Discussion, f *types.Forum) bool {
		return f.CourseID == courseID && policyAllows(q.Policy, f, m.optOuts[readKey{q.UserID, f.ID}])
	}), nil
}

func (m *memStore) CountInForumForGroups(_ context.Context, q db.UnreadQuery, forumID int64, groupIDs []int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groupCounts = append(m.groupCounts, groupIDs)
	in := make(map[int64]bool, len(groupIDs))
	for _, g := range groupIDs {
		in[g] = true
	}
	return m.unreadIn(q, func(d *types.Discussion, f *types.Forum) bool {
		return f.ID == forumID && in[d.GroupID]
	})[forumID], nil
}

func (m *memStore) CountInDiscussion(_ context.Context, q db.UnreadQuery, discussionID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int
	for _, n := range m.unreadIn(q, func(d *types.Discussion, _ *types.Forum) bool {
		return d.ID == discussionID
	}) {
		total += n
	}
	return total, nil
}

func (m *memStore) ListUserGroupIDs(_ context.Context, _ int64, userID int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.groups[userID]...), nil
}

// ============================================================
// Capabilities and events
// ============================================================

type mockCaps struct {
	granted map[types.Capability]bool
}

func (c *mockCaps) Has(_ context.Context, _ int64, capability types.Capability, _ int64) (bool, error) {
	return c.granted[capability], nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []types.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev types.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}
