package types

import "time"

// SiteSettings holds the site-wide forum switches the engine consults.
// Built once from config and passed by value.
type SiteSettings struct {
	// TrackReadPosts is the global read-tracking switch.
	TrackReadPosts bool
	// AllowForcedReadTracking lets FORCED forums override the user's
	// personal tracking preference. When false, the user preference wins.
	AllowForcedReadTracking bool
	// OldPostDays is the rolling cutoff after which posts count as read.
	OldPostDays int
	// MaxEditingTime is the edit grace period before a post is mailed.
	MaxEditingTime time.Duration
	// DigestMailHour is the hour of day (0-23) digests are sent.
	DigestMailHour int
	// UserMarksRead disables the automatic mark-read of mailed posts.
	UserMarksRead bool
	// RecipientCacheLimit bounds the full user records kept per cron run.
	RecipientCacheLimit int
	// Timezone anchors the digest hour.
	Timezone string
	// WWWRoot is the public base URL used in mail links.
	WWWRoot string
}

// OldPostCutoff returns the instant before which posts are implicitly read.
func (s SiteSettings) OldPostCutoff(now time.Time) time.Time {
	return now.Add(-time.Duration(s.OldPostDays) * 24 * time.Hour)
}

// IsOldPost reports whether a post modified at modified is past the cutoff.
// The comparison is strict: a post exactly at the cutoff is not old.
func (s SiteSettings) IsOldPost(modified, now time.Time) bool {
	return modified.Before(s.OldPostCutoff(now))
}

// Location resolves Timezone, falling back to UTC.
func (s SiteSettings) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
