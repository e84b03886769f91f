package scheduler

import (
	"context"
	"fmt"
	"time"

	"quora/internal/types"
)

const (
	// CheckpointPlugin and CheckpointDigest name the persisted timestamp of
	// the last digest run.
	CheckpointPlugin = "quora"
	CheckpointDigest = "digestmailtimelast"
)

// CheckpointStore persists named timestamps.
type CheckpointStore interface {
	GetTime(ctx context.Context, plugin, name string) (time.Time, bool, error)
	SetTime(ctx context.Context, plugin, name string, t time.Time) error
}

// DigestGate decides whether the daily digest is due. The digest time is
// the configured hour on the current local date of the site time zone, so
// it follows wall-clock time across DST changes. A missing checkpoint
// counts as "never ran".
type DigestGate struct {
	store CheckpointStore
	hour  int
	loc   *time.Location
}

// NewDigestGate builds a gate from the site settings.
func NewDigestGate(store CheckpointStore, settings types.SiteSettings) *DigestGate {
	return &DigestGate{store: store, hour: settings.DigestMailHour, loc: settings.Location()}
}

// DigestTime returns today's digest instant for now, in UTC.
func (g *DigestGate) DigestTime(now time.Time) time.Time {
	local := now.In(g.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), g.hour, 0, 0, 0, g.loc).UTC()
}

// Due reports whether a digest run should happen at now, and the cutoff
// that queue entries must precede to be drained. The run is due the first
// time now passes today's digest time and the checkpoint is still before it.
func (g *DigestGate) Due(ctx context.Context, now time.Time) (cutoff time.Time, due bool, err error) {
	cutoff = g.DigestTime(now)
	if !now.After(cutoff) {
		return cutoff, false, nil
	}

	last, ok, err := g.store.GetTime(ctx, CheckpointPlugin, CheckpointDigest)
	if err != nil {
		return cutoff, false, fmt.Errorf("reading digest checkpoint: %w", err)
	}
	if ok && !last.Before(cutoff) {
		return cutoff, false, nil
	}
	return cutoff, true, nil
}

// Advance records that the digest run at now has started.
func (g *DigestGate) Advance(ctx context.Context, now time.Time) error {
	if err := g.store.SetTime(ctx, CheckpointPlugin, CheckpointDigest, now); err != nil {
		return fmt.Errorf("writing digest checkpoint: %w", err)
	}
	return nil
}
