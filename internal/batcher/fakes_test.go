package batcher

import (
	"context"
	"errors"
	"sort"
	"time"

	"quora/internal/subscription"
	"quora/internal/types"
)

type fakePosts struct {
	posts  map[int64]*types.Post
	posted map[[2]int64]bool
	stolen map[int64]bool // claimed by a concurrent run

	start, end time.Time
	errored    []int64
}

func (f *fakePosts) ListPendingMail(_ context.Context, start, end time.Time) ([]types.Post, error) {
	f.start, f.end = start, end
	var out []types.Post
	for _, p := range f.posts {
		if p.MailState != types.MailPending {
			continue
		}
		if p.MailNow || (!p.Created.Before(start) && p.Created.Before(end)) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakePosts) ClaimForMail(_ context.Context, ids []int64) ([]int64, error) {
	var out []int64
	for _, id := range ids {
		p := f.posts[id]
		if p == nil || p.MailState != types.MailPending {
			continue
		}
		p.MailState = types.MailSent
		if f.stolen[id] {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

func (f *fakePosts) MarkMailError(_ context.Context, ids []int64) error {
	f.errored = append(f.errored, ids...)
	for _, id := range ids {
		f.posts[id].MailState = types.MailError
	}
	return nil
}

func (f *fakePosts) HasUserPosted(_ context.Context, discussionID, userID int64) (bool, error) {
	return f.posted[[2]int64{discussionID, userID}], nil
}

type fakeContext struct {
	discussions map[int64]*types.Discussion
	forums      map[int64]*types.Forum
	courses     map[int64]*types.Course
	modules     map[int64]*types.CourseModule
}

var errMissing = errors.New("not found")

func (f *fakeContext) GetDiscussion(_ context.Context, id int64) (*types.Discussion, error) {
	if d, ok := f.discussions[id]; ok {
		return d, nil
	}
	return nil, errMissing
}

func (f *fakeContext) GetForum(_ context.Context, id int64) (*types.Forum, error) {
	if v, ok := f.forums[id]; ok {
		return v, nil
	}
	return nil, errMissing
}

func (f *fakeContext) GetCourse(_ context.Context, id int64) (*types.Course, error) {
	if v, ok := f.courses[id]; ok {
		return v, nil
	}
	return nil, errMissing
}

func (f *fakeContext) GetModuleForForum(_ context.Context, forumID int64) (*types.CourseModule, error) {
	if v, ok := f.modules[forumID]; ok {
		return v, nil
	}
	return nil, errMissing
}

type fakeUsers map[int64]types.User

func (f fakeUsers) GetByID(_ context.Context, id int64) (*types.User, error) {
	u, ok := f[id]
	if !ok {
		return nil, errMissing
	}
	return &u, nil
}

type fakeGroups map[[2]int64]bool

func (f fakeGroups) IsGroupMember(_ context.Context, groupID, userID int64) (bool, error) {
	return f[[2]int64{groupID, userID}], nil
}

type fakeDigest struct {
	entries []types.DigestQueueEntry
}

func (f *fakeDigest) Enqueue(_ context.Context, e types.DigestQueueEntry) error {
	f.entries = append(f.entries, e)
	return nil
}

type fakePrefs map[int64]map[int64]types.DigestMode

func (f fakePrefs) ListDigestPreferences(_ context.Context, forumID int64) (map[int64]types.DigestMode, error) {
	return f[forumID], nil
}

// fakeResolver answers from plain maps and ignores the cache.
type fakeResolver struct {
	subscribers  map[int64][]types.User // forum id
	unsubscribed map[[2]int64]bool      // (discussion, user)
	subscribedAt map[[2]int64]time.Time // (discussion, user)
}

func (f *fakeResolver) IsSubscribed(_ context.Context, _ *subscription.Cache, userID int64, forum *types.Forum, discussionID int64) (bool, error) {
	if f.unsubscribed[[2]int64{discussionID, userID}] {
		return false, nil
	}
	for _, u := range f.subscribers[forum.ID] {
		if u.ID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeResolver) DiscussionSubscribedAt(_ context.Context, _ *subscription.Cache, userID, _, discussionID int64) (time.Time, error) {
	return f.subscribedAt[[2]int64{discussionID, userID}], nil
}

func (f *fakeResolver) FetchSubscribedUsers(_ context.Context, forum *types.Forum) ([]types.User, error) {
	return f.subscribers[forum.ID], nil
}

type emptyCacheStore struct{}

func (emptyCacheStore) ListSubscriberIDs(context.Context, int64) ([]int64, error) { return nil, nil }

func (emptyCacheStore) ListCourseSubscriptionStates(context.Context, int64, int64) (map[int64]bool, error) {
	return nil, nil
}

func (emptyCacheStore) ListDiscussionSubscriptions(context.Context, int64) ([]types.DiscussionSubscription, error) {
	return nil, nil
}

// failingCacheStore fails every subscriber lookup for one forum.
type failingCacheStore struct {
	emptyCacheStore
	forumID int64
	err     error
}

func (f failingCacheStore) ListSubscriberIDs(ctx context.Context, forumID int64) ([]int64, error) {
	if forumID == f.forumID {
		return nil, f.err
	}
	return f.emptyCacheStore.ListSubscriberIDs(ctx, forumID)
}

type fakeCaps map[types.Capability]map[int64]bool

func (f fakeCaps) Has(_ context.Context, userID int64, c types.Capability, _ int64) (bool, error) {
	return f[c][userID], nil
}

type delivery struct {
	to   int64
	post string
	msg  types.SendInput
}

type fakeMailer struct {
	sent []delivery
	fail map[int64]error
}

func (f *fakeMailer) Send(_ context.Context, to *types.User, msg types.SendInput) (string, error) {
	if err := f.fail[to.ID]; err != nil {
		return "", err
	}
	f.sent = append(f.sent, delivery{to: to.ID, post: msg.ReferenceID, msg: msg})
	return "msg", nil
}

func (f *fakeMailer) SenderFor(author *types.User) types.SenderIdentity {
	if author == nil {
		return types.SenderIdentity{Address: "noreply@example.edu"}
	}
	return types.SenderIdentity{Name: author.FullName(), Address: "noreply@example.edu"}
}

func (f *fakeMailer) to(post string) []int64 {
	var out []int64
	for _, d := range f.sent {
		if d.post == post {
			out = append(out, d.to)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type fakeReads struct {
	marked map[int64][]int64
	users  map[int64]*types.User
}

func (f *fakeReads) MarkPostsRead(_ context.Context, user *types.User, postIDs []int64) error {
	if f.marked == nil {
		f.marked = make(map[int64][]int64)
		f.users = make(map[int64]*types.User)
	}
	f.users[user.ID] = user
	f.marked[user.ID] = append(f.marked[user.ID], postIDs...)
	return nil
}

type countingWatchdog struct{ resets int }

func (w *countingWatchdog) Reset() { w.resets++ }
