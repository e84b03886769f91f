// Package digest drains the digest queue once a day and mails each
// recipient a single message covering every discussion with queued posts.
package digest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"quora/internal/notifications/core"
	"quora/internal/notifications/email"
	"quora/internal/scheduler"
	"quora/internal/types"
)

// QueueStore is the digest queue.
type QueueStore interface {
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
	ListBefore(ctx context.Context, cutoff time.Time) ([]types.DigestQueueEntry, error)
	DeleteForUserBefore(ctx context.Context, userID int64, cutoff time.Time) (int64, error)
}

// PostStore loads the queued posts.
type PostStore interface {
	ListByIDs(ctx context.Context, ids []int64) ([]types.Post, error)
}

// PreferenceStore returns per-forum digest overrides keyed by user id.
type PreferenceStore interface {
	ListDigestPreferences(ctx context.Context, forumID int64) (map[int64]types.DigestMode, error)
}

// Gate decides whether the daily run is due.
type Gate interface {
	Due(ctx context.Context, now time.Time) (cutoff time.Time, due bool, err error)
	Advance(ctx context.Context, now time.Time) error
}

// Mailer sends one rendered message to a user.
type Mailer interface {
	Send(ctx context.Context, to *types.User, msg types.SendInput) (string, error)
}

// ReadMarker marks mailed posts read for the recipient.
type ReadMarker interface {
	MarkPostsRead(ctx context.Context, user *types.User, postIDs []int64) error
}

var _ Gate = (*scheduler.DigestGate)(nil)

// DigestStats summarises one run.
type DigestStats struct {
	Purged  int64
	Ran     bool
	Entries int
	Users   int
	Sent    int
	Failed  int
	Posts   int
}

// Counts converts the stats into run metrics.
func (s DigestStats) Counts() map[string]int {
	return map[string]int{
		types.MetricDigestsSent: s.Sent,
		types.MetricMailFailed:  s.Failed,
	}
}

// Config holds the assembler switches taken from the site settings.
type Config struct {
	// UserMarksRead disables marking digested posts read.
	UserMarksRead bool
}

// Assembler runs the daily digest.
type Assembler struct {
	cfg      Config
	gate     Gate
	queue    QueueStore
	posts    PostStore
	prefs    PreferenceStore
	renderer *email.Renderer
	mailer   Mailer
	reads    ReadMarker
	watchdog types.Watchdog
	logger   *slog.Logger
}

// Deps bundles the assembler collaborators.
type Deps struct {
	Gate     Gate
	Queue    QueueStore
	Posts    PostStore
	Prefs    PreferenceStore
	Renderer *email.Renderer
	Mailer   Mailer
	Reads    ReadMarker
	Watchdog types.Watchdog
}

// NewAssembler creates an Assembler. A nil Watchdog is replaced by a no-op.
func NewAssembler(cfg Config, deps Deps, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	wd := deps.Watchdog
	if wd == nil {
		wd = types.NopWatchdog{}
	}
	return &Assembler{
		cfg:      cfg,
		gate:     deps.Gate,
		queue:    deps.Queue,
		posts:    deps.Posts,
		prefs:    deps.Prefs,
		renderer: deps.Renderer,
		mailer:   deps.Mailer,
		reads:    deps.Reads,
		watchdog: wd,
		logger:   logger,
	}
}

// userQueue is one recipient's drained entries, discussion ids ascending.
type userQueue struct {
	userID      int64
	discussions []int64
	posts       map[int64][]int64 // discussion -> post ids
}

// Run purges stale queue entries, then, if the digest is due, drains the
// queue and sends one message per user. Per-user failures are logged and
// counted; only failures that affect the whole run are returned.
func (a *Assembler) Run(ctx context.Context, now time.Time, cache *core.RunCache) (DigestStats, error) {
	var stats DigestStats

	purged, err := a.queue.PurgeBefore(ctx, now.Add(-scheduler.DigestQueueMaxAge))
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to purge stale digest entries", "error", err)
	}
	stats.Purged = purged

	cutoff, due, err := a.gate.Due(ctx, now)
	if err != nil {
		return stats, err
	}
	if !due {
		return stats, nil
	}
	if err := a.gate.Advance(ctx, now); err != nil {
		return stats, err
	}
	stats.Ran = true

	entries, err := a.queue.ListBefore(ctx, cutoff)
	if err != nil {
		return stats, fmt.Errorf("listing digest queue: %w", err)
	}
	stats.Entries = len(entries)
	if len(entries) == 0 {
		a.logger.InfoContext(ctx, "digest run: queue empty", "cutoff", cutoff)
		return stats, nil
	}

	posts, err := a.loadPosts(ctx, entries)
	if err != nil {
		return stats, err
	}

	prefCache := make(map[int64]map[int64]types.DigestMode)
	for _, uq := range groupByUser(entries) {
		a.watchdog.Reset()
		stats.Users++

		// Rows go first: a crash after this point loses the digest rather
		// than sending it twice.
		if _, err := a.queue.DeleteForUserBefore(ctx, uq.userID, cutoff); err != nil {
			a.logger.ErrorContext(ctx, "failed to delete digest entries",
				"user_id", uq.userID,
				"error", err,
			)
			stats.Failed++
			continue
		}

		n, err := a.sendUser(ctx, cache, uq, posts, prefCache)
		if err != nil {
			a.logger.ErrorContext(ctx, "failed to send digest",
				"user_id", uq.userID,
				"error", err,
			)
			stats.Failed++
			continue
		}
		if n > 0 {
			stats.Sent++
			stats.Posts += n
		}
	}

	a.logger.InfoContext(ctx, "digest run complete",
		"cutoff", cutoff,
		"entries", stats.Entries,
		"users", stats.Users,
		"sent", stats.Sent,
		"failed", stats.Failed,
	)
	return stats, nil
}

func (a *Assembler) loadPosts(ctx context.Context, entries []types.DigestQueueEntry) (map[int64]*types.Post, error) {
	seen := make(map[int64]struct{}, len(entries))
	ids := make([]int64, 0, len(entries))
	for _, e := range entries {
		if _, ok := seen[e.PostID]; ok {
			continue
		}
		seen[e.PostID] = struct{}{}
		ids = append(ids, e.PostID)
	}

	list, err := a.posts.ListByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading digest posts: %w", err)
	}
	out := make(map[int64]*types.Post, len(list))
	for i := range list {
		out[list[i].ID] = &list[i]
	}
	return out, nil
}

func groupByUser(entries []types.DigestQueueEntry) []*userQueue {
	byUser := make(map[int64]*userQueue)
	var order []int64
	for _, e := range entries {
		uq, ok := byUser[e.UserID]
		if !ok {
			uq = &userQueue{userID: e.UserID, posts: make(map[int64][]int64)}
			byUser[e.UserID] = uq
			order = append(order, e.UserID)
		}
		if _, ok := uq.posts[e.DiscussionID]; !ok {
			uq.discussions = append(uq.discussions, e.DiscussionID)
		}
		uq.posts[e.DiscussionID] = append(uq.posts[e.DiscussionID], e.PostID)
	}

	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	out := make([]*userQueue, 0, len(order))
	for _, id := range order {
		uq := byUser[id]
		sort.Slice(uq.discussions, func(i, j int) bool { return uq.discussions[i] < uq.discussions[j] })
		out = append(out, uq)
	}
	return out
}

// sendUser renders and sends one user's digest. It returns the number of
// posts included; zero means nothing was left to send.
func (a *Assembler) sendUser(ctx context.Context, cache *core.RunCache, uq *userQueue, posts map[int64]*types.Post, prefCache map[int64]map[int64]types.DigestMode) (int, error) {
	user, err := cache.User(ctx, uq.userID)
	if err != nil {
		return 0, fmt.Errorf("loading recipient: %w", err)
	}
	if user.Deleted || user.Suspended {
		return 0, nil
	}

	msg := email.DigestMessage{Recipient: user}
	var mailed []int64
	for _, discussionID := range uq.discussions {
		pc, err := cache.Resolve(ctx, discussionID)
		if err != nil {
			a.logger.WarnContext(ctx, "skipping digest discussion with broken context",
				"user_id", user.ID,
				"discussion_id", discussionID,
				"error", err,
			)
			continue
		}

		mode, err := a.digestMode(ctx, user, pc.Forum.ID, prefCache)
		if err != nil {
			return 0, err
		}

		dd := email.DigestDiscussion{Course: pc.Course, Forum: pc.Forum, Discussion: pc.Discussion, Mode: mode}
		for _, postID := range uq.posts[discussionID] {
			p, ok := posts[postID]
			if !ok {
				// Deleted since it was queued.
				continue
			}
			// A missing author renders as unknown rather than dropping the post.
			author, _ := cache.User(ctx, p.UserID)
			dd.Posts = append(dd.Posts, email.DigestPost{Post: p, Author: author})
			mailed = append(mailed, p.ID)
		}
		if len(dd.Posts) == 0 {
			continue
		}
		sort.SliceStable(dd.Posts, func(i, j int) bool {
			pi, pj := dd.Posts[i].Post, dd.Posts[j].Post
			if !pi.Created.Equal(pj.Created) {
				return pi.Created.Before(pj.Created)
			}
			return pi.ID < pj.ID
		})
		msg.Discussions = append(msg.Discussions, dd)
	}
	if len(msg.Discussions) == 0 {
		return 0, nil
	}

	rendered, err := a.renderer.RenderDigest(msg)
	if err != nil {
		return 0, err
	}
	in := types.SendInput{
		Subject:     rendered.Subject,
		BodyHTML:    rendered.BodyHTML,
		BodyText:    rendered.BodyText,
		ReferenceID: fmt.Sprintf("digest-%d", user.ID),
	}
	if user.MailFormat == 0 {
		in.BodyHTML = ""
	}
	if _, err := a.mailer.Send(ctx, user, in); err != nil {
		return 0, err
	}

	if !a.cfg.UserMarksRead && a.reads != nil {
		if err := a.reads.MarkPostsRead(ctx, user, mailed); err != nil {
			a.logger.WarnContext(ctx, "failed to mark digested posts read",
				"user_id", user.ID,
				"error", err,
			)
		}
	}
	return len(mailed), nil
}

// digestMode resolves the per-forum override, falling back to the user's
// default. Anything other than DigestSubjects renders full posts.
func (a *Assembler) digestMode(ctx context.Context, user *types.User, forumID int64, prefCache map[int64]map[int64]types.DigestMode) (types.DigestMode, error) {
	prefs, ok := prefCache[forumID]
	if !ok {
		var err error
		prefs, err = a.prefs.ListDigestPreferences(ctx, forumID)
		if err != nil {
			return 0, fmt.Errorf("loading digest preferences: %w", err)
		}
		prefCache[forumID] = prefs
	}
	mode, ok := prefs[user.ID]
	if !ok || mode == types.DigestDefault {
		mode = user.MailDigest
	}
	if mode == types.DigestSubjects {
		return types.DigestSubjects, nil
	}
	return types.DigestFull, nil
}
