package tracking

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"quora/internal/db"
	"quora/internal/types"
)

// MaxPostsPerStatement bounds the number of post ids bound into one
// mark-read statement.
const MaxPostsPerStatement = 200

// cleanBatchSize bounds the rows removed per statement by CleanReadRecords.
const cleanBatchSize = 5000

// ReadStore defines the data access for read records.
type ReadStore interface {
	// InsertNew inserts rows for tracked, in-window posts with no record.
	InsertNew(ctx context.Context, userID int64, postIDs []int64, now, cutoff time.Time, policy db.TrackingPolicy) (int64, error)

	// TouchLastRead bumps lastread on existing rows older than now.
	TouchLastRead(ctx context.Context, userID int64, postIDs []int64, now time.Time) (int64, error)

	// Upsert writes one row, bumping lastread if it exists.
	Upsert(ctx context.Context, rec types.ReadRecord) error

	Exists(ctx context.Context, userID, postID int64) (bool, error)

	// Delete removes rows matching the filter. An empty filter is an error.
	Delete(ctx context.Context, f db.ReadRecordFilter) (int64, error)

	// OldestTrackedModified returns MIN(modified) over posts with records.
	OldestTrackedModified(ctx context.Context) (time.Time, bool, error)

	// DeleteForPostsBetween removes up to limit rows for posts modified in [from, cutoff).
	DeleteForPostsBetween(ctx context.Context, from, cutoff time.Time, limit int) (int64, error)

	// ListUnreadPostIDs returns in-window posts of a discussion or forum
	// without a record for the user.
	ListUnreadPostIDs(ctx context.Context, userID, discussionID, forumID int64, cutoff time.Time) ([]int64, error)
}

// PreferenceStore persists the per-forum tracking opt-out.
type PreferenceStore interface {
	AddOptOut(ctx context.Context, userID, forumID int64) error
	RemoveOptOut(ctx context.Context, userID, forumID int64) (bool, error)
}

// ReadService marks posts read, answers read-state questions and sweeps
// records that the rolling cutoff made redundant.
type ReadService struct {
	resolver *Resolver
	reads    ReadStore
	prefs    PreferenceStore
	events   types.EventPublisher
	clock    types.Clock
	logger   *slog.Logger
}

// NewReadService creates a ReadService. events may be nil.
func NewReadService(resolver *Resolver, reads ReadStore, prefs PreferenceStore, events types.EventPublisher, clock types.Clock, logger *slog.Logger) *ReadService {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	return &ReadService{
		resolver: resolver,
		reads:    reads,
		prefs:    prefs,
		events:   events,
		clock:    clock,
		logger:   logger,
	}
}

// MarkPostsRead records that the user has read postIDs. Posts outside the
// cutoff window or in forums the user does not track are skipped silently.
// It is a no-op when the user cannot track at all.
//
// Lists longer than MaxPostsPerStatement are split in half recursively.
// Every chunk is attempted and the errors of failed chunks are joined.
func (s *ReadService) MarkPostsRead(ctx context.Context, user *types.User, postIDs []int64) error {
	if len(postIDs) == 0 || !s.resolver.CanTrack(nil, user) {
		return nil
	}
	return s.markPostsRead(ctx, user, postIDs, s.clock.Now())
}

func (s *ReadService) markPostsRead(ctx context.Context, user *types.User, postIDs []int64, now time.Time) error {
	if len(postIDs) > MaxPostsPerStatement {
		mid := len(postIDs) / 2
		return errors.Join(
			s.markPostsRead(ctx, user, postIDs[:mid], now),
			s.markPostsRead(ctx, user, postIDs[mid:], now),
		)
	}

	cutoff := s.resolver.Settings().OldPostCutoff(now)
	inserted, err := s.reads.InsertNew(ctx, user.ID, postIDs, now, cutoff, s.resolver.Policy(user))
	if err != nil {
		return err
	}
	// Rows inserted above already carry now and are skipped by the update.
	touched, err := s.reads.TouchLastRead(ctx, user.ID, postIDs, now)
	if err != nil {
		return err
	}

	s.logger.DebugContext(ctx, "Marked posts read",
		"user_id", user.ID,
		"posts", len(postIDs),
		"inserted", inserted,
		"touched", touched,
	)
	return nil
}

// MarkPostRead marks a single post read. Old posts are already implicitly
// read and are left alone.
func (s *ReadService) MarkPostRead(ctx context.Context, user *types.User, post *types.Post, forum *types.Forum) error {
	now := s.clock.Now()
	if s.resolver.Settings().IsOldPost(post.Modified, now) {
		return nil
	}

	tracked, err := s.resolver.IsTracked(ctx, LoadedForum(forum), user)
	if err != nil {
		return err
	}
	if !tracked {
		return nil
	}

	return s.reads.Upsert(ctx, types.ReadRecord{
		UserID:       user.ID,
		PostID:       post.ID,
		DiscussionID: post.DiscussionID,
		ForumID:      forum.ID,
		FirstRead:    now,
		LastRead:     now,
	})
}

// ageResolution reports what the post's age alone says about its read
// state: old posts are read, everything else needs a stored record.
func (s *ReadService) ageResolution(post *types.Post, now time.Time) types.Resolution {
	if s.resolver.Settings().IsOldPost(post.Modified, now) {
		return types.ExplicitTrue
	}
	return types.Inherit
}

// IsPostRead reports whether the user has read the post.
func (s *ReadService) IsPostRead(ctx context.Context, userID int64, post *types.Post) (bool, error) {
	if r := s.ageResolution(post, s.clock.Now()); r != types.Inherit {
		return r.Resolve(false), nil
	}
	return s.reads.Exists(ctx, userID, post.ID)
}

// DeleteReadRecords removes records matching the filter. Used by deletion
// cascades; an empty filter is rejected.
func (s *ReadService) DeleteReadRecords(ctx context.Context, f db.ReadRecordFilter) (int64, error) {
	return s.reads.Delete(ctx, f)
}

// MarkDiscussionRead marks every unread in-window post of a discussion.
func (s *ReadService) MarkDiscussionRead(ctx context.Context, user *types.User, discussionID int64) error {
	if !s.resolver.CanTrack(nil, user) {
		return nil
	}
	now := s.clock.Now()
	ids, err := s.reads.ListUnreadPostIDs(ctx, user.ID, discussionID, 0, s.resolver.Settings().OldPostCutoff(now))
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	return s.markPostsRead(ctx, user, ids, now)
}

// MarkForumRead marks every unread in-window post of a forum.
func (s *ReadService) MarkForumRead(ctx context.Context, user *types.User, forumID int64) error {
	if !s.resolver.CanTrack(nil, user) {
		return nil
	}
	now := s.clock.Now()
	ids, err := s.reads.ListUnreadPostIDs(ctx, user.ID, 0, forumID, s.resolver.Settings().OldPostCutoff(now))
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	return s.markPostsRead(ctx, user, ids, now)
}

// CleanReadRecords deletes read records for posts that crossed the cutoff.
// It looks up the oldest tracked post first so a mostly clean table is not
// scanned, then deletes in batches until a batch makes no progress.
func (s *ReadService) CleanReadRecords(ctx context.Context, now time.Time) (int64, error) {
	cutoff := s.resolver.Settings().OldPostCutoff(now)

	oldest, ok, err := s.reads.OldestTrackedModified(ctx)
	if err != nil {
		return 0, err
	}
	if !ok || !oldest.Before(cutoff) {
		return 0, nil
	}

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := s.reads.DeleteForPostsBetween(ctx, oldest, cutoff, cleanBatchSize)
		if err != nil {
			return total, err
		}
		total += n
		if n < cleanBatchSize {
			break
		}
	}

	s.logger.InfoContext(ctx, "Cleaned expired read records",
		"deleted", total,
		"cutoff", cutoff,
	)
	return total, nil
}

// StartTracking removes the user's opt-out for the forum.
func (s *ReadService) StartTracking(ctx context.Context, user *types.User, forumID int64) error {
	forum, err := s.resolver.store.GetForumTracking(ctx, forumID)
	if err != nil {
		return err
	}
	if forum.TrackingType == types.TrackingOff {
		return types.NewAppError(types.ErrCodeValidationTrackingOff, "read tracking is off for this forum", nil)
	}

	removed, err := s.prefs.RemoveOptOut(ctx, user.ID, forumID)
	if err != nil {
		return err
	}
	if removed {
		s.publish(ctx, types.EventReadTrackingEnabled, user.ID, forumID)
	}
	return nil
}

// StopTracking records the user's opt-out for the forum and drops their
// read records there. FORCED forums cannot be opted out of while forced
// tracking is allowed.
func (s *ReadService) StopTracking(ctx context.Context, user *types.User, forumID int64) error {
	forum, err := s.resolver.store.GetForumTracking(ctx, forumID)
	if err != nil {
		return err
	}
	if forum.TrackingType == types.TrackingOff {
		return types.NewAppError(types.ErrCodeValidationTrackingOff, "read tracking is off for this forum", nil)
	}
	if forum.TrackingType == types.TrackingForced && s.resolver.Settings().AllowForcedReadTracking {
		return types.NewAppError(types.ErrCodeValidationTrackingOff, "read tracking is forced for this forum", nil)
	}

	if err := s.prefs.AddOptOut(ctx, user.ID, forumID); err != nil {
		return err
	}
	if _, err := s.reads.Delete(ctx, db.ReadRecordFilter{UserID: user.ID, ForumID: forumID}); err != nil {
		return err
	}
	s.publish(ctx, types.EventReadTrackingDisabled, user.ID, forumID)
	return nil
}

func (s *ReadService) publish(ctx context.Context, eventType types.EventType, userID, forumID int64) {
	if s.events == nil {
		return
	}
	ev := types.NewEvent(eventType, s.clock.Now())
	ev.UserID = userID
	ev.ForumID = forumID
	ev.RequestID = types.GetRequestID(ctx)
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish event",
			"type", eventType,
			"forum_id", forumID,
			"error", err,
		)
	}
}
