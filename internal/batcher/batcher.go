// Package batcher implements the forum mail cron: it claims newly written
// posts, works out who is subscribed to each one and either mails the post
// immediately or queues it for the recipient's daily digest.
//
// A post is claimed (moved from pending to sent) before any mail goes out,
// so a post is delivered at most once even when two runs overlap or a run
// crashes part way. Posts that failed for at least one recipient end the
// run in the error state and are not retried.
package batcher

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"quora/internal/notifications/core"
	"quora/internal/notifications/email"
	"quora/internal/subscription"
	"quora/internal/types"
)

// MailWindow bounds how far back the batcher looks for unmailed posts.
// Older pending posts are left alone unless flagged for immediate mailing.
const MailWindow = 48 * time.Hour

// PostStore is the post persistence used by a run.
type PostStore interface {
	ListPendingMail(ctx context.Context, start, end time.Time) ([]types.Post, error)
	ClaimForMail(ctx context.Context, ids []int64) ([]int64, error)
	MarkMailError(ctx context.Context, ids []int64) error
	HasUserPosted(ctx context.Context, discussionID, userID int64) (bool, error)
}

// GroupStore answers group membership for separate-groups forums.
type GroupStore interface {
	IsGroupMember(ctx context.Context, groupID, userID int64) (bool, error)
}

// DigestStore queues posts for digest recipients.
type DigestStore interface {
	Enqueue(ctx context.Context, e types.DigestQueueEntry) error
}

// PreferenceStore returns per-forum digest overrides keyed by user id.
type PreferenceStore interface {
	ListDigestPreferences(ctx context.Context, forumID int64) (map[int64]types.DigestMode, error)
}

// SubscriptionResolver answers who is subscribed to a forum or discussion.
type SubscriptionResolver interface {
	IsSubscribed(ctx context.Context, cache *subscription.Cache, userID int64, forum *types.Forum, discussionID int64) (bool, error)
	DiscussionSubscribedAt(ctx context.Context, cache *subscription.Cache, userID, forumID, discussionID int64) (time.Time, error)
	FetchSubscribedUsers(ctx context.Context, forum *types.Forum) ([]types.User, error)
}

// ReadMarker marks delivered posts read for the recipient.
type ReadMarker interface {
	MarkPostsRead(ctx context.Context, user *types.User, postIDs []int64) error
}

// Mailer delivers one message and names the sender of a post.
type Mailer interface {
	Send(ctx context.Context, to *types.User, msg types.SendInput) (string, error)
	SenderFor(author *types.User) types.SenderIdentity
}

var (
	_ SubscriptionResolver = (*subscription.Resolver)(nil)
	_ Mailer               = (*core.Mailer)(nil)
)

// Deps bundles the collaborators of a Batcher.
type Deps struct {
	Posts         PostStore
	Context       core.ContextStore
	Users         core.UserStore
	Groups        GroupStore
	Digest        DigestStore
	Prefs         PreferenceStore
	Subscriptions SubscriptionResolver
	SubCache      subscription.CacheStore
	Reads         ReadMarker
	Mailer        Mailer
	Renderer      *email.Renderer
	Capabilities  types.Capabilities
	Watchdog      types.Watchdog
}

// Batcher runs the notification cron.
type Batcher struct {
	settings types.SiteSettings
	deps     Deps
	watchdog types.Watchdog
	logger   *slog.Logger
}

// NewBatcher creates a Batcher. A nil Watchdog is replaced by a no-op.
func NewBatcher(settings types.SiteSettings, deps Deps, logger *slog.Logger) *Batcher {
	if logger == nil {
		logger = slog.Default()
	}
	wd := deps.Watchdog
	if wd == nil {
		wd = types.NopWatchdog{}
	}
	return &Batcher{settings: settings, deps: deps, watchdog: wd, logger: logger}
}

// NewRunCache returns an empty per-run cache bound to the batcher's stores.
func (b *Batcher) NewRunCache() *core.RunCache {
	return core.NewRunCache(b.deps.Context, b.deps.Users, b.settings.RecipientCacheLimit)
}

// RunStats summarises one run.
type RunStats struct {
	Claimed int // posts moved from pending to sent by this run
	Dropped int // claimed posts whose course context could not be loaded
	Sent    int // messages delivered
	Failed  int // messages that failed to send
	Queued  int // digest queue entries written
	Errored int // posts moved to the error state
}

// Counts converts the stats into run metrics.
func (s RunStats) Counts() map[string]int {
	return map[string]int{
		types.MetricPostsClaimed: s.Claimed,
		types.MetricPostsDropped: s.Dropped,
		types.MetricMailSent:     s.Sent,
		types.MetricMailFailed:   s.Failed,
		types.MetricDigestQueued: s.Queued,
	}
}

// Run processes pending posts with a fresh run cache.
func (b *Batcher) Run(ctx context.Context, now time.Time) (RunStats, error) {
	return b.RunWithCache(ctx, now, b.NewRunCache())
}

// claimedPost is a claimed post with its resolved course context.
type claimedPost struct {
	post *types.Post
	pc   *core.PostContext
}

// run holds the state of one RunWithCache call.
type run struct {
	b        *Batcher
	now      time.Time
	cache    *core.RunCache
	subCache *subscription.Cache
	stats    RunStats

	recipients map[int64][]int64 // forum id -> subscriber ids
	prefs      map[int64]map[int64]types.DigestMode
	posted     map[[2]int64]bool // (discussion, user) -> has posted
	postErrors map[int64]int
	delivered  map[int64][]int64 // user id -> post ids
	canView    map[[2]int64]bool // (course module, user) -> may view
}

// RunWithCache processes pending posts, sharing cache with whatever runs
// after it in the same cron invocation.
//
// Steps:
//  1. List pending posts created in [end-MailWindow, end), end being now
//     minus the edit grace period, plus any flagged for immediate mailing.
//  2. Claim them. Only posts this run flipped are processed further.
//  3. Resolve each post's discussion, forum, course and course module;
//     posts with a broken chain are dropped.
//  4. Load subscription state and subscribers per forum.
//  5. For every subscriber and post, gate, then queue for digest or mail.
//  6. Move posts with any send failure to the error state.
//  7. Mark delivered posts read unless users mark posts read manually.
func (b *Batcher) RunWithCache(ctx context.Context, now time.Time, cache *core.RunCache) (RunStats, error) {
	r := &run{
		b:          b,
		now:        now,
		cache:      cache,
		subCache:   subscription.NewCache(b.deps.SubCache),
		recipients: make(map[int64][]int64),
		prefs:      make(map[int64]map[int64]types.DigestMode),
		posted:     make(map[[2]int64]bool),
		postErrors: make(map[int64]int),
		delivered:  make(map[int64][]int64),
		canView:    make(map[[2]int64]bool),
	}

	end := now.Add(-b.settings.MaxEditingTime)
	pending, err := b.deps.Posts.ListPendingMail(ctx, end.Add(-MailWindow), end)
	if err != nil {
		return r.stats, fmt.Errorf("listing pending posts: %w", err)
	}
	if len(pending) == 0 {
		b.logger.InfoContext(ctx, "batcher: no pending posts")
		return r.stats, nil
	}

	ids := make([]int64, len(pending))
	for i := range pending {
		ids[i] = pending[i].ID
	}
	claimedIDs, err := b.deps.Posts.ClaimForMail(ctx, ids)
	if err != nil {
		return r.stats, fmt.Errorf("claiming posts: %w", err)
	}
	r.stats.Claimed = len(claimedIDs)
	if len(claimedIDs) < len(pending) {
		b.logger.InfoContext(ctx, "batcher: some posts were claimed by another run",
			"pending", len(pending),
			"claimed", len(claimedIDs),
		)
	}

	posts := r.resolve(ctx, pending, claimedIDs)
	unloaded := make(map[int64]bool)
	for _, cp := range posts {
		forumID := cp.pc.Forum.ID
		if unloaded[forumID] {
			continue
		}
		if err := r.loadForum(ctx, cp.pc.Forum); err != nil {
			b.logger.ErrorContext(ctx, "skipping forum with unreadable subscriptions",
				"forum_id", forumID,
				"error", err,
			)
			unloaded[forumID] = true
		}
	}

	for _, cp := range posts {
		b.watchdog.Reset()
		if unloaded[cp.pc.Forum.ID] {
			r.postErrors[cp.post.ID]++
			continue
		}
		r.deliverPost(ctx, cp)
	}

	r.finish(ctx)

	b.logger.InfoContext(ctx, "batcher run complete",
		"claimed", r.stats.Claimed,
		"dropped", r.stats.Dropped,
		"sent", r.stats.Sent,
		"failed", r.stats.Failed,
		"queued", r.stats.Queued,
		"errored", r.stats.Errored,
	)
	return r.stats, nil
}

// resolve keeps the claimed posts whose course context loads, ordered by
// creation time.
func (r *run) resolve(ctx context.Context, pending []types.Post, claimedIDs []int64) []claimedPost {
	claimed := make(map[int64]bool, len(claimedIDs))
	for _, id := range claimedIDs {
		claimed[id] = true
	}

	var out []claimedPost
	for i := range pending {
		p := &pending[i]
		if !claimed[p.ID] {
			continue
		}
		pc, err := r.cache.Resolve(ctx, p.DiscussionID)
		if err != nil {
			r.b.logger.ErrorContext(ctx, "dropping post with broken course context",
				"post_id", p.ID,
				"discussion_id", p.DiscussionID,
				"error", err,
			)
			r.stats.Dropped++
			continue
		}
		out = append(out, claimedPost{post: p, pc: pc})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].post.Created.Equal(out[j].post.Created) {
			return out[i].post.Created.Before(out[j].post.Created)
		}
		return out[i].post.ID < out[j].post.ID
	})
	return out
}

// loadForum fills the subscription cache and the subscriber list of a
// forum once per run.
func (r *run) loadForum(ctx context.Context, forum *types.Forum) error {
	if _, ok := r.recipients[forum.ID]; ok {
		return nil
	}
	if err := r.subCache.FillForForum(ctx, forum.ID); err != nil {
		return fmt.Errorf("loading subscriptions for forum %d: %w", forum.ID, err)
	}
	if err := r.subCache.FillDiscussionsForForum(ctx, forum.ID); err != nil {
		return fmt.Errorf("loading discussion subscriptions for forum %d: %w", forum.ID, err)
	}

	users, err := r.b.deps.Subscriptions.FetchSubscribedUsers(ctx, forum)
	if err != nil {
		return fmt.Errorf("loading subscribers for forum %d: %w", forum.ID, err)
	}
	r.cache.AddUsers(users)

	ids := make([]int64, 0, len(users))
	for i := range users {
		ids = append(ids, users[i].ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	r.recipients[forum.ID] = ids
	return nil
}

func (r *run) deliverPost(ctx context.Context, cp claimedPost) {
	author, err := r.cache.User(ctx, cp.post.UserID)
	if err != nil {
		r.b.logger.WarnContext(ctx, "post author not found",
			"post_id", cp.post.ID,
			"user_id", cp.post.UserID,
			"error", err,
		)
	}

	for _, userID := range r.recipients[cp.pc.Forum.ID] {
		user, err := r.cache.User(ctx, userID)
		if err != nil {
			r.b.logger.ErrorContext(ctx, "failed to load recipient",
				"post_id", cp.post.ID,
				"user_id", userID,
				"error", err,
			)
			r.postErrors[cp.post.ID]++
			continue
		}

		ok, err := r.canReceive(ctx, user, cp)
		if err != nil {
			r.b.logger.ErrorContext(ctx, "failed to check recipient",
				"post_id", cp.post.ID,
				"user_id", user.ID,
				"error", err,
			)
			r.postErrors[cp.post.ID]++
			continue
		}
		if !ok {
			continue
		}

		digest, err := r.wantsDigest(ctx, user, cp.pc.Forum.ID)
		if err != nil {
			r.b.logger.ErrorContext(ctx, "failed to load digest preference",
				"post_id", cp.post.ID,
				"user_id", user.ID,
				"error", err,
			)
			r.postErrors[cp.post.ID]++
			continue
		}
		if digest {
			r.enqueue(ctx, user, cp)
			continue
		}
		r.send(ctx, user, author, cp)
	}
}

// canReceive applies the per-recipient gates for a post.
func (r *run) canReceive(ctx context.Context, user *types.User, cp claimedPost) (bool, error) {
	if user.Deleted || user.Suspended {
		return false, nil
	}
	post, d, forum, cm := cp.post, cp.pc.Discussion, cp.pc.Forum, cp.pc.Module

	subscribed, err := r.b.deps.Subscriptions.IsSubscribed(ctx, r.subCache, user.ID, forum, d.ID)
	if err != nil || !subscribed {
		return false, err
	}

	// Subscribing to a discussion does not backfill posts written before.
	since, err := r.b.deps.Subscriptions.DiscussionSubscribedAt(ctx, r.subCache, user.ID, forum.ID, d.ID)
	if err != nil {
		return false, err
	}
	if !since.IsZero() && since.After(post.Created) {
		return false, nil
	}

	if forum.Type == types.ForumQandA && !post.IsRoot() {
		ok, err := r.hasPosted(ctx, user, cp)
		if err != nil || !ok {
			return false, err
		}
	}

	visible, err := r.canViewModule(ctx, user, cm)
	if err != nil || !visible {
		return false, err
	}

	if cm.GroupMode == types.SeparateGroups && d.GroupID > 0 {
		member, err := r.b.deps.Groups.IsGroupMember(ctx, d.GroupID, user.ID)
		if err != nil {
			return false, err
		}
		if !member {
			all, err := r.b.deps.Capabilities.Has(ctx, user.ID, types.CapAccessAllGroups, cm.ID)
			if err != nil || !all {
				return false, err
			}
		}
	}

	if !d.VisibleAt(r.now) {
		ok, err := r.b.deps.Capabilities.Has(ctx, user.ID, types.CapViewHiddenTimedPosts, cm.ID)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// canViewModule reports whether the user may see discussions of the course
// module at all. Hidden modules need the view-hidden-activities capability.
func (r *run) canViewModule(ctx context.Context, user *types.User, cm *types.CourseModule) (bool, error) {
	key := [2]int64{cm.ID, user.ID}
	if v, ok := r.canView[key]; ok {
		return v, nil
	}
	caps := r.b.deps.Capabilities
	ok := true
	var err error
	if !cm.Visible {
		ok, err = caps.Has(ctx, user.ID, types.CapViewHiddenActivities, cm.ID)
		if err != nil {
			return false, err
		}
	}
	if ok {
		ok, err = caps.Has(ctx, user.ID, types.CapViewDiscussion, cm.ID)
		if err != nil {
			return false, err
		}
	}
	r.canView[key] = ok
	return ok, nil
}

// hasPosted reports whether the user may see replies in a Q&A discussion.
func (r *run) hasPosted(ctx context.Context, user *types.User, cp claimedPost) (bool, error) {
	key := [2]int64{cp.pc.Discussion.ID, user.ID}
	if v, ok := r.posted[key]; ok {
		return v, nil
	}
	ok, err := r.b.deps.Capabilities.Has(ctx, user.ID, types.CapViewQandAWithoutPosting, cp.pc.Module.ID)
	if err != nil {
		return false, err
	}
	if !ok {
		ok, err = r.b.deps.Posts.HasUserPosted(ctx, cp.pc.Discussion.ID, user.ID)
		if err != nil {
			return false, err
		}
	}
	r.posted[key] = ok
	return ok, nil
}

// wantsDigest resolves the forum override, falling back to the user's
// default. Any positive mode means the post goes to the digest queue.
func (r *run) wantsDigest(ctx context.Context, user *types.User, forumID int64) (bool, error) {
	prefs, ok := r.prefs[forumID]
	if !ok {
		var err error
		prefs, err = r.b.deps.Prefs.ListDigestPreferences(ctx, forumID)
		if err != nil {
			return false, err
		}
		r.prefs[forumID] = prefs
	}
	mode, ok := prefs[user.ID]
	if !ok || mode == types.DigestDefault {
		mode = user.MailDigest
	}
	return mode > 0, nil
}

func (r *run) enqueue(ctx context.Context, user *types.User, cp claimedPost) {
	at := cp.post.Modified
	if at.IsZero() {
		at = cp.post.Created
	}
	err := r.b.deps.Digest.Enqueue(ctx, types.DigestQueueEntry{
		UserID:       user.ID,
		DiscussionID: cp.pc.Discussion.ID,
		PostID:       cp.post.ID,
		TimeModified: at,
	})
	if err != nil {
		r.b.logger.ErrorContext(ctx, "failed to queue post for digest",
			"post_id", cp.post.ID,
			"user_id", user.ID,
			"error", err,
		)
		r.postErrors[cp.post.ID]++
		return
	}
	r.stats.Queued++
}

func (r *run) send(ctx context.Context, user, author *types.User, cp claimedPost) {
	pc := cp.pc
	rendered, err := r.b.deps.Renderer.RenderPost(email.PostMessage{
		Post:       cp.post,
		Author:     author,
		Discussion: pc.Discussion,
		Forum:      pc.Forum,
		Course:     pc.Course,
		CanReply:   true,
	})
	if err != nil {
		r.b.logger.ErrorContext(ctx, "failed to render post",
			"post_id", cp.post.ID,
			"error", err,
		)
		r.postErrors[cp.post.ID]++
		r.stats.Failed++
		return
	}

	in := types.SendInput{
		From:        r.b.deps.Mailer.SenderFor(author),
		Subject:     rendered.Subject,
		BodyHTML:    rendered.BodyHTML,
		BodyText:    rendered.BodyText,
		Headers:     email.PostHeaders(r.b.deps.Renderer.Links(), cp.post, pc.Discussion, pc.Forum, pc.Course, user.ID),
		ReferenceID: fmt.Sprintf("post-%d", cp.post.ID),
	}
	if user.MailFormat == 0 {
		in.BodyHTML = ""
	}

	if _, err := r.b.deps.Mailer.Send(ctx, user, in); err != nil {
		if types.IsCode(err, types.ErrCodeEmailBlocked) {
			r.b.logger.WarnContext(ctx, "recipient cannot be mailed",
				"post_id", cp.post.ID,
				"user_id", user.ID,
				"error", err,
			)
			return
		}
		r.b.logger.ErrorContext(ctx, "failed to send post",
			"post_id", cp.post.ID,
			"user_id", user.ID,
			"error", err,
		)
		r.postErrors[cp.post.ID]++
		r.stats.Failed++
		return
	}

	r.stats.Sent++
	r.delivered[user.ID] = append(r.delivered[user.ID], cp.post.ID)
}

// finish moves failed posts to the error state and marks delivered posts
// read.
func (r *run) finish(ctx context.Context) {
	var errored []int64
	for id, n := range r.postErrors {
		if n > 0 {
			errored = append(errored, id)
		}
	}
	if len(errored) > 0 {
		sort.Slice(errored, func(i, j int) bool { return errored[i] < errored[j] })
		if err := r.b.deps.Posts.MarkMailError(ctx, errored); err != nil {
			r.b.logger.ErrorContext(ctx, "failed to mark posts as errored",
				"post_ids", errored,
				"error", err,
			)
		} else {
			r.stats.Errored = len(errored)
		}
	}

	if r.b.settings.UserMarksRead || r.b.deps.Reads == nil {
		return
	}
	for userID, postIDs := range r.delivered {
		user, err := r.cache.User(ctx, userID)
		if err != nil {
			r.b.logger.WarnContext(ctx, "failed to reload recipient for read marking",
				"user_id", userID,
				"error", err,
			)
			continue
		}
		if err := r.b.deps.Reads.MarkPostsRead(ctx, user, postIDs); err != nil {
			r.b.logger.WarnContext(ctx, "failed to mark mailed posts read",
				"user_id", userID,
				"error", err,
			)
		}
	}
}
