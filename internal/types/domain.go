package types

import "time"

// Post is the atomic unit of forum content.
type Post struct {
	ID           int64     `json:"id" db:"id"`
	DiscussionID int64     `json:"discussion_id" db:"discussion"`
	ParentID     int64     `json:"parent_id" db:"parent"` // 0 for the discussion's root post
	UserID       int64     `json:"user_id" db:"userid"`
	Created      time.Time `json:"created" db:"created"`
	Modified     time.Time `json:"modified" db:"modified"`
	MailState    MailState `json:"mail_state" db:"mailed"`
	MailNow      bool      `json:"mail_now" db:"mailnow"`
	Subject      string    `json:"subject" db:"subject"`
	Message      string    `json:"message" db:"message"`
}

// IsRoot reports whether p starts its discussion.
func (p *Post) IsRoot() bool {
	return p.ParentID == 0
}

// Discussion groups posts under one topic within a forum.
type Discussion struct {
	ID           int64     `json:"id" db:"id"`
	ForumID      int64     `json:"forum_id" db:"forum"`
	CourseID     int64     `json:"course_id" db:"course"`
	Name         string    `json:"name" db:"name"`
	FirstPostID  int64     `json:"first_post_id" db:"firstpost"`
	UserID       int64     `json:"user_id" db:"userid"`
	GroupID      int64     `json:"group_id" db:"groupid"` // AllGroups when unrestricted
	TimeModified time.Time `json:"time_modified" db:"timemodified"`
	UserModified int64     `json:"user_modified" db:"usermodified"`

	// Optional visibility window; the zero time means unbounded.
	TimeStart time.Time `json:"time_start,omitzero" db:"timestart"`
	TimeEnd   time.Time `json:"time_end,omitzero" db:"timeend"`
}

// VisibleAt reports whether the discussion's time window includes t.
func (d *Discussion) VisibleAt(t time.Time) bool {
	if !d.TimeStart.IsZero() && d.TimeStart.After(t) {
		return false
	}
	if !d.TimeEnd.IsZero() && !d.TimeEnd.After(t) {
		return false
	}
	return true
}

// Forum is a container of discussions.
type Forum struct {
	ID             int64            `json:"id" db:"id"`
	CourseID       int64            `json:"course_id" db:"course"`
	Type           ForumType        `json:"type" db:"type"`
	Name           string           `json:"name" db:"name"`
	TrackingType   TrackingType     `json:"tracking_type" db:"trackingtype"`
	ForceSubscribe SubscriptionMode `json:"force_subscribe" db:"forcesubscribe"`
}

// ReadRecord marks a post as read by a user.
type ReadRecord struct {
	UserID       int64     `json:"user_id" db:"userid"`
	PostID       int64     `json:"post_id" db:"postid"`
	DiscussionID int64     `json:"discussion_id" db:"discussionid"`
	ForumID      int64     `json:"forum_id" db:"forumid"`
	FirstRead    time.Time `json:"first_read" db:"firstread"`
	LastRead     time.Time `json:"last_read" db:"lastread"`
}

// TrackingPreference exists when a user opted out of tracking a forum.
type TrackingPreference struct {
	UserID  int64 `db:"userid"`
	ForumID int64 `db:"forumid"`
}

// Subscription is a forum-level subscription row.
type Subscription struct {
	UserID  int64 `db:"userid"`
	ForumID int64 `db:"forum"`
}

// DiscussionSubscription overrides the forum-level subscription state for
// one discussion. Preference holds the unix time the user subscribed, or
// DiscussionUnsubscribed.
type DiscussionSubscription struct {
	UserID       int64 `db:"userid"`
	ForumID      int64 `db:"forum"`
	DiscussionID int64 `db:"discussion"`
	Preference   int64 `db:"preference"`
}

// Resolution converts the stored preference into a three-valued answer.
func (s *DiscussionSubscription) Resolution() Resolution {
	if s == nil {
		return Inherit
	}
	if s.Preference == DiscussionUnsubscribed {
		return ExplicitFalse
	}
	return ExplicitTrue
}

// SubscribedAt returns the time the override was created. Zero for an
// unsubscribe override.
func (s *DiscussionSubscription) SubscribedAt() time.Time {
	if s == nil || s.Preference == DiscussionUnsubscribed {
		return time.Time{}
	}
	return time.Unix(s.Preference, 0).UTC()
}

// DigestQueueEntry is a notification deferred to the next digest run.
type DigestQueueEntry struct {
	ID           int64     `db:"id"`
	UserID       int64     `db:"userid"`
	DiscussionID int64     `db:"discussionid"`
	PostID       int64     `db:"postid"`
	TimeModified time.Time `db:"timemodified"`
}

// DigestPreference is a per-forum digest override. Mode DigestDefault means
// "use the user's global setting".
type DigestPreference struct {
	UserID  int64      `db:"userid"`
	ForumID int64      `db:"forum"`
	Mode    DigestMode `db:"maildigest"`
}

// User is the subset of a user record the engine needs.
type User struct {
	ID          int64      `json:"id" db:"id"`
	Username    string     `json:"username" db:"username"`
	Email       string     `json:"email" db:"email"`
	FirstName   string     `json:"first_name" db:"firstname"`
	LastName    string     `json:"last_name" db:"lastname"`
	TrackForums bool       `json:"track_forums" db:"trackforums"`
	MailDigest  DigestMode `json:"mail_digest" db:"maildigest"`
	MailFormat  int        `json:"mail_format" db:"mailformat"` // 0 plain, 1 html
	Deleted     bool       `json:"-" db:"deleted"`
	Suspended   bool       `json:"-" db:"suspended"`
	Guest       bool       `json:"-" db:"-"`

	// Minimal is set on records that carry only an id.
	Minimal bool `json:"-" db:"-"`
}

// FullName returns "First Last", falling back to the username.
func (u *User) FullName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	case u.LastName != "":
		return u.LastName
	default:
		return u.Username
	}
}

// IsRealUser reports whether u is a logged-in, non-guest account.
func (u *User) IsRealUser() bool {
	return u != nil && u.ID > 0 && !u.Guest
}

// Course is the subset of a course record used in mail.
type Course struct {
	ID        int64  `json:"id" db:"id"`
	ShortName string `json:"short_name" db:"shortname"`
	FullName  string `json:"full_name" db:"fullname"`
}

// CourseModule binds a forum instance into a course.
type CourseModule struct {
	ID        int64     `json:"id" db:"id"`
	CourseID  int64     `json:"course_id" db:"course"`
	Instance  int64     `json:"instance" db:"instance"`
	GroupMode GroupMode `json:"group_mode" db:"groupmode"`
	Visible   bool      `json:"visible" db:"visible"`
}

// Choice is a randchoice poll.
type Choice struct {
	ID            int64     `json:"id" db:"id"`
	CourseID      int64     `json:"course_id" db:"course"`
	Name          string    `json:"name" db:"name"`
	AllowMultiple bool      `json:"allow_multiple" db:"allowmultiple"`
	LimitAnswers  bool      `json:"limit_answers" db:"limitanswers"`
	AllowUpdate   bool      `json:"allow_update" db:"allowupdate"`
	TimeOpen      time.Time `json:"time_open,omitzero" db:"timeopen"`
	TimeClose     time.Time `json:"time_close,omitzero" db:"timeclose"`
}

// OpenAt reports whether the poll accepts answers at t.
func (c *Choice) OpenAt(t time.Time) bool {
	if !c.TimeOpen.IsZero() && t.Before(c.TimeOpen) {
		return false
	}
	if !c.TimeClose.IsZero() && t.After(c.TimeClose) {
		return false
	}
	return true
}

// ChoiceOption is one answer of a poll. MaxAnswers applies when the poll
// limits answers.
type ChoiceOption struct {
	ID         int64  `json:"id" db:"id"`
	ChoiceID   int64  `json:"choice_id" db:"choiceid"`
	Text       string `json:"text" db:"text"`
	MaxAnswers int    `json:"max_answers" db:"maxanswers"`
}

// ChoiceAnswer records one user's selection of one option.
type ChoiceAnswer struct {
	ID           int64     `json:"id" db:"id"`
	ChoiceID     int64     `json:"choice_id" db:"choiceid"`
	OptionID     int64     `json:"option_id" db:"optionid"`
	UserID       int64     `json:"user_id" db:"userid"`
	TimeModified time.Time `json:"time_modified" db:"timemodified"`
}
