// Package forum keeps discussions consistent as posts come and go: the
// denormalized last-post fields, the cleanup of read records and digest
// queue rows on deletion, and the lifecycle events.
package forum

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"quora/internal/db"
	"quora/internal/types"
)

// ForumStore loads and updates discussions.
type ForumStore interface {
	GetDiscussion(ctx context.Context, id int64) (*types.Discussion, error)
	UpdateDiscussionLastPost(ctx context.Context, discussionID, userID int64, modified time.Time) error
	DeleteDiscussion(ctx context.Context, discussionID int64) error
}

// PostStore loads and deletes posts.
type PostStore interface {
	GetByID(ctx context.Context, id int64) (*types.Post, error)
	Latest(ctx context.Context, discussionID int64) (*types.Post, error)
	Delete(ctx context.Context, id int64) error
}

// ReadRecordDeleter removes read records matching a filter.
type ReadRecordDeleter interface {
	DeleteReadRecords(ctx context.Context, f db.ReadRecordFilter) (int64, error)
}

// DigestQueueCleaner removes queued digest entries.
type DigestQueueCleaner interface {
	DeleteForPost(ctx context.Context, postID int64) error
	DeleteForDiscussion(ctx context.Context, discussionID int64) error
}

// Service maintains discussions.
type Service struct {
	forums ForumStore
	posts  PostStore
	reads  ReadRecordDeleter
	digest DigestQueueCleaner
	events types.EventPublisher
	clock  types.Clock
	logger *slog.Logger
}

// NewService creates a Service. events and clock may be nil.
func NewService(forums ForumStore, posts PostStore, reads ReadRecordDeleter, digest DigestQueueCleaner, events types.EventPublisher, clock types.Clock, logger *slog.Logger) *Service {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{forums: forums, posts: posts, reads: reads, digest: digest, events: events, clock: clock, logger: logger}
}

// UpdateLastPost recomputes the discussion's last-post fields from its
// newest remaining post. A discussion without posts is deleted, and
// deleted reports that.
func (s *Service) UpdateLastPost(ctx context.Context, discussionID int64) (deleted bool, err error) {
	latest, err := s.posts.Latest(ctx, discussionID)
	if err != nil {
		return false, err
	}
	if latest == nil {
		if err := s.DeleteDiscussion(ctx, discussionID); err != nil {
			return false, err
		}
		return true, nil
	}
	if err := s.forums.UpdateDiscussionLastPost(ctx, discussionID, latest.UserID, latest.Modified); err != nil {
		return false, err
	}
	return false, nil
}

// DeletePost removes a post with its read records and digest entries and
// refreshes the discussion. Deleting the root post deletes the discussion.
func (s *Service) DeletePost(ctx context.Context, postID int64) error {
	post, err := s.posts.GetByID(ctx, postID)
	if err != nil {
		return err
	}
	if post.IsRoot() {
		return s.DeleteDiscussion(ctx, post.DiscussionID)
	}
	d, err := s.forums.GetDiscussion(ctx, post.DiscussionID)
	if err != nil {
		return err
	}

	if err := s.digest.DeleteForPost(ctx, postID); err != nil {
		return fmt.Errorf("deleting digest entries of post %d: %w", postID, err)
	}
	if _, err := s.reads.DeleteReadRecords(ctx, db.ReadRecordFilter{PostID: postID}); err != nil {
		return fmt.Errorf("deleting read records of post %d: %w", postID, err)
	}
	if err := s.posts.Delete(ctx, postID); err != nil {
		return err
	}
	if _, err := s.UpdateLastPost(ctx, post.DiscussionID); err != nil {
		return err
	}

	ev := s.event(ctx, types.EventPostDeleted, d)
	ev.PostID = postID
	ev.UserID = post.UserID
	s.send(ctx, ev)
	return nil
}

// DeleteDiscussion removes a discussion, its posts, their read records and
// digest entries.
func (s *Service) DeleteDiscussion(ctx context.Context, discussionID int64) error {
	d, err := s.forums.GetDiscussion(ctx, discussionID)
	if err != nil {
		return err
	}

	if err := s.digest.DeleteForDiscussion(ctx, discussionID); err != nil {
		return fmt.Errorf("deleting digest entries of discussion %d: %w", discussionID, err)
	}
	if _, err := s.reads.DeleteReadRecords(ctx, db.ReadRecordFilter{DiscussionID: discussionID}); err != nil {
		return fmt.Errorf("deleting read records of discussion %d: %w", discussionID, err)
	}
	if err := s.forums.DeleteDiscussion(ctx, discussionID); err != nil {
		return err
	}

	ev := s.event(ctx, types.EventDiscussionDeleted, d)
	ev.UserID = d.UserID
	s.send(ctx, ev)
	return nil
}

// DiscussionCreated fires the discussion_created event. Subscriptions in
// INITIAL forums already exist from the mode change, so nothing else is
// written.
func (s *Service) DiscussionCreated(ctx context.Context, d *types.Discussion) {
	ev := s.event(ctx, types.EventDiscussionCreated, d)
	ev.UserID = d.UserID
	ev.PostID = d.FirstPostID
	s.send(ctx, ev)
}

func (s *Service) event(ctx context.Context, t types.EventType, d *types.Discussion) types.Event {
	ev := types.NewEvent(t, s.clock.Now())
	ev.CourseID = d.CourseID
	ev.ForumID = d.ForumID
	ev.DiscussionID = d.ID
	ev.RequestID = types.GetRequestID(ctx)
	return ev
}

func (s *Service) send(ctx context.Context, ev types.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish event",
			"type", ev.Type,
			"discussion_id", ev.DiscussionID,
			"error", err,
		)
	}
}
