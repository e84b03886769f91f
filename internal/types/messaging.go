package types

import (
	"time"

	"github.com/google/uuid"
)

// Event is the envelope published to the event sink (SQS or NSQ) after a
// state change. JSON tags use snake_case for downstream consumers.
type Event struct {
	// Core Identity
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`

	// Context
	UserID       int64 `json:"user_id,omitempty"`
	CourseID     int64 `json:"course_id,omitempty"`
	ForumID      int64 `json:"forum_id,omitempty"`
	DiscussionID int64 `json:"discussion_id,omitempty"`
	PostID       int64 `json:"post_id,omitempty"`
	ChoiceID     int64 `json:"choice_id,omitempty"`

	// Observability
	RequestID string `json:"request_id,omitempty"`

	Other map[string]any `json:"other,omitempty"`
}

// NewEvent returns an event of the given type with a fresh id.
func NewEvent(eventType EventType, at time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: at.UTC(),
	}
}
