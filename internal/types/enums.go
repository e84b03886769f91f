package types

// MailState is the per-post notification lifecycle flag.
// Transitions are pending -> sent or pending -> error, never backwards.
type MailState int

const (
	MailPending MailState = 0
	MailSent    MailState = 1
	MailError   MailState = 2
)

// ForumType is the behavioural type of a forum.
type ForumType string

const (
	ForumGeneral  ForumType = "general"
	ForumSingle   ForumType = "single"
	ForumEachUser ForumType = "eachuser"
	ForumQandA    ForumType = "qanda"
	ForumNews     ForumType = "news"
	ForumSocial   ForumType = "social"
	ForumBlog     ForumType = "blog"
)

// TrackingType controls read-tracking for a forum.
type TrackingType int

const (
	TrackingOff      TrackingType = 0
	TrackingOptional TrackingType = 1
	TrackingForced   TrackingType = 2
)

// SubscriptionMode is the forum-level subscription policy.
type SubscriptionMode int

const (
	// SubscriptionChoose lets each user decide.
	SubscriptionChoose SubscriptionMode = 0
	// SubscriptionForced subscribes everyone; the subscription table is ignored.
	SubscriptionForced SubscriptionMode = 1
	// SubscriptionInitial subscribes everyone once, then behaves like Choose.
	SubscriptionInitial SubscriptionMode = 2
	// SubscriptionDisallowed prevents subscribing. Existing rows are inert.
	SubscriptionDisallowed SubscriptionMode = 3
)

// Valid reports whether m is a known mode.
func (m SubscriptionMode) Valid() bool {
	return m >= SubscriptionChoose && m <= SubscriptionDisallowed
}

// DigestMode is a user's mail digest preference.
type DigestMode int

const (
	// DigestDefault is only valid on per-forum preferences and means
	// "use the user's global default".
	DigestDefault  DigestMode = -1
	DigestOff      DigestMode = 0
	DigestFull     DigestMode = 1
	DigestSubjects DigestMode = 2
)

// GroupMode is the effective group mode of a course module.
type GroupMode int

const (
	NoGroups       GroupMode = 0
	SeparateGroups GroupMode = 1
	VisibleGroups  GroupMode = 2
)

// AllGroups is the sentinel group id of a discussion visible to every group.
const AllGroups int64 = -1

// DiscussionUnsubscribed is the DiscussionSubscription preference value for
// an explicit per-discussion unsubscribe.
const DiscussionUnsubscribed int64 = -1

// Resolution is the outcome of a lookup that may have no stored answer.
// Inherit means "no row; fall back to the enclosing default".
type Resolution int

const (
	Inherit Resolution = iota
	ExplicitTrue
	ExplicitFalse
)

// Resolve returns the explicit value, or fallback when r is Inherit.
func (r Resolution) Resolve(fallback bool) bool {
	switch r {
	case ExplicitTrue:
		return true
	case ExplicitFalse:
		return false
	default:
		return fallback
	}
}

// Capability names a permission answered by the host's access-control system.
type Capability string

const (
	CapViewDiscussion          Capability = "mod/quora:viewdiscussion"
	CapViewHiddenActivities    Capability = "moodle/course:viewhiddenactivities"
	CapAccessAllGroups         Capability = "moodle/site:accessallgroups"
	CapViewHiddenTimedPosts    Capability = "mod/quora:viewhiddentimedposts"
	CapViewQandAWithoutPosting Capability = "mod/quora:viewqandawithoutposting"
	CapAllowForceSubscribe     Capability = "mod/quora:allowforcesubscribe"
)

// EventType identifies an observational event fired after a state change.
type EventType string

const (
	EventDiscussionCreated       EventType = "discussion_created"
	EventDiscussionDeleted       EventType = "discussion_deleted"
	EventPostDeleted             EventType = "post_deleted"
	EventReadTrackingEnabled     EventType = "read_tracking_enabled"
	EventReadTrackingDisabled    EventType = "read_tracking_disabled"
	EventSubscriptionCreated     EventType = "subscription_created"
	EventSubscriptionDeleted     EventType = "subscription_deleted"
	EventSubscriptionModeUpdated EventType = "subscription_mode_updated"
	EventChoiceAnswerSubmitted   EventType = "choice_answer_submitted"
)
