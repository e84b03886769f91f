package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	"quora/internal/types"
)

// ============================================================================
// Fakes
// ============================================================================

type memCheckpoints struct {
	values map[string]time.Time
	err    error
}

func (m *memCheckpoints) GetTime(_ context.Context, plugin, name string) (time.Time, bool, error) {
	if m.err != nil {
		return time.Time{}, false, m.err
	}
	t, ok := m.values[plugin+"/"+name]
	return t, ok, nil
}

func (m *memCheckpoints) SetTime(_ context.Context, plugin, name string, t time.Time) error {
	if m.values == nil {
		m.values = map[string]time.Time{}
	}
	m.values[plugin+"/"+name] = t
	return nil
}

type fakeLocker struct {
	held     bool
	err      error
	released []string
}

func (f *fakeLocker) Acquire(_ context.Context, lockID, _ string, _ time.Duration) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return !f.held, nil
}

func (f *fakeLocker) Release(_ context.Context, lockID, _ string) error {
	f.released = append(f.released, lockID)
	return nil
}

type fakeHistory struct {
	startErr error
	started  []string
	finished []string
	items    int
}

func (f *fakeHistory) Start(_ context.Context, jobType string) (int64, error) {
	if f.startErr != nil {
		return 0, f.startErr
	}
	f.started = append(f.started, jobType)
	return int64(len(f.started)), nil
}

func (f *fakeHistory) Finish(_ context.Context, _ int64, status string, items int, _ error) error {
	f.finished = append(f.finished, status)
	f.items = items
	return nil
}

type fakeCleaner struct {
	n   int64
	err error
	at  time.Time
}

func (f *fakeCleaner) CleanReadRecords(_ context.Context, now time.Time) (int64, error) {
	f.at = now
	return f.n, f.err
}

type fakePurger struct {
	cutoff time.Time
	n      int64
}

func (f *fakePurger) PurgeBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return f.n, nil
}

// ============================================================================
// DigestGate
// ============================================================================

func TestDigestGate_Due(t *testing.T) {
	settings := types.SiteSettings{DigestMailHour: 17, Timezone: "UTC"}
	before := time.Date(2026, 3, 2, 16, 59, 0, 0, time.UTC)
	after := time.Date(2026, 3, 2, 17, 5, 0, 0, time.UTC)
	digestTime := time.Date(2026, 3, 2, 17, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		last *time.Time
		now  time.Time
		want bool
	}{
		{"before the hour", nil, before, false},
		{"never ran", nil, after, true},
		{"ran yesterday", ptr(digestTime.Add(-23 * time.Hour)), after, true},
		{"already ran today", ptr(digestTime.Add(time.Minute)), after, false},
		{"exactly at the hour", nil, digestTime, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &memCheckpoints{}
			if tt.last != nil {
				_ = store.SetTime(context.Background(), CheckpointPlugin, CheckpointDigest, *tt.last)
			}
			gate := NewDigestGate(store, settings)

			cutoff, due, err := gate.Due(context.Background(), tt.now)
			if err != nil {
				t.Fatalf("Due: %v", err)
			}
			if due != tt.want {
				t.Errorf("due = %v, want %v", due, tt.want)
			}
			if !cutoff.Equal(digestTime) {
				t.Errorf("cutoff = %v, want %v", cutoff, digestTime)
			}
		})
	}
}

func TestDigestGate_AdvanceBlocksSecondRun(t *testing.T) {
	store := &memCheckpoints{}
	gate := NewDigestGate(store, types.SiteSettings{DigestMailHour: 17})
	now := time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)

	if _, due, _ := gate.Due(context.Background(), now); !due {
		t.Fatal("first run should be due")
	}
	if err := gate.Advance(context.Background(), now); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if _, due, _ := gate.Due(context.Background(), now.Add(time.Hour)); due {
		t.Error("second run on the same day should not be due")
	}
	if _, due, _ := gate.Due(context.Background(), now.Add(24*time.Hour)); !due {
		t.Error("next day should be due")
	}
}

func TestDigestGate_FollowsLocalWallClock(t *testing.T) {
	gate := NewDigestGate(&memCheckpoints{}, types.SiteSettings{DigestMailHour: 17, Timezone: "America/New_York"})

	// EST (UTC-5) in January, EDT (UTC-4) in July.
	winter := gate.DigestTime(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC))
	summer := gate.DigestTime(time.Date(2026, 7, 15, 12, 0, 0, 0, time.UTC))
	if winter.Hour() != 22 {
		t.Errorf("winter digest = %v, want 22:00 UTC", winter)
	}
	if summer.Hour() != 21 {
		t.Errorf("summer digest = %v, want 21:00 UTC", summer)
	}
}

func TestDigestGate_CheckpointError(t *testing.T) {
	gate := NewDigestGate(&memCheckpoints{err: errors.New("db down")}, types.SiteSettings{DigestMailHour: 0})
	_, due, err := gate.Due(context.Background(), time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC))
	if err == nil || due {
		t.Errorf("due = %v, err = %v", due, err)
	}
}

func ptr(t time.Time) *time.Time { return &t }

// ============================================================================
// Maintenance
// ============================================================================

func TestMaintenance_PurgeDigestQueueUsesWeekCutoff(t *testing.T) {
	purger := &fakePurger{n: 3}
	svc := NewMaintenanceService(&fakeCleaner{}, purger, nil)
	now := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)

	n, err := svc.PurgeDigestQueue(context.Background(), now)
	if err != nil || n != 3 {
		t.Fatalf("PurgeDigestQueue = %d, %v", n, err)
	}
	if want := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC); !purger.cutoff.Equal(want) {
		t.Errorf("cutoff = %v, want %v", purger.cutoff, want)
	}
}

func TestMaintenance_CleanReadRecords(t *testing.T) {
	cleaner := &fakeCleaner{n: 12}
	svc := NewMaintenanceService(cleaner, &fakePurger{}, nil)
	now := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)

	n, err := svc.CleanReadRecords(context.Background(), now)
	if err != nil || n != 12 || !cleaner.at.Equal(now) {
		t.Errorf("CleanReadRecords = %d, %v (at %v)", n, err, cleaner.at)
	}

	cleaner.err = errors.New("boom")
	if _, err := svc.CleanReadRecords(context.Background(), now); err == nil {
		t.Error("expected error")
	}
}

// ============================================================================
// Runner
// ============================================================================

func TestRunner_RunsUnderLock(t *testing.T) {
	locks := &fakeLocker{}
	hist := &fakeHistory{}
	r := NewRunner(locks, hist, "worker-1", 0, nil)

	items, skipped, err := r.Run(context.Background(), TaskCleanReadRecords, time.Now(), func(context.Context, time.Time) (int, error) {
		return 5, nil
	})
	if err != nil || skipped || items != 5 {
		t.Fatalf("Run = %d, %v, %v", items, skipped, err)
	}
	if len(hist.started) != 1 || hist.finished[0] != "success" || hist.items != 5 {
		t.Errorf("history = %+v", hist)
	}
	if len(locks.released) != 1 || locks.released[0] != string(TaskCleanReadRecords) {
		t.Errorf("released = %v", locks.released)
	}
}

func TestRunner_SkipsWhenLockHeld(t *testing.T) {
	r := NewRunner(&fakeLocker{held: true}, &fakeHistory{}, "w", 0, nil)
	called := false
	_, skipped, err := r.Run(context.Background(), TaskSendForumMail, time.Now(), func(context.Context, time.Time) (int, error) {
		called = true
		return 0, nil
	})
	if err != nil || !skipped || called {
		t.Errorf("skipped = %v, called = %v, err = %v", skipped, called, err)
	}
}

func TestRunner_TaskFailureRecorded(t *testing.T) {
	hist := &fakeHistory{}
	r := NewRunner(&fakeLocker{}, hist, "w", time.Minute, nil)
	_, _, err := r.Run(context.Background(), TaskPurgeDigestQueue, time.Now(), func(context.Context, time.Time) (int, error) {
		return 2, errors.New("db down")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if hist.finished[0] != "failed" || hist.items != 2 {
		t.Errorf("history = %+v", hist)
	}
}

func TestRunner_HistoryFailureIsNotFatal(t *testing.T) {
	hist := &fakeHistory{startErr: errors.New("insert failed")}
	r := NewRunner(&fakeLocker{}, hist, "w", 0, nil)
	items, _, err := r.Run(context.Background(), TaskPurgeDigestQueue, time.Now(), func(context.Context, time.Time) (int, error) {
		return 1, nil
	})
	if err != nil || items != 1 {
		t.Errorf("Run = %d, %v", items, err)
	}
	if len(hist.finished) != 0 {
		t.Error("Finish should be skipped without a history id")
	}
}

func TestRunner_LockError(t *testing.T) {
	r := NewRunner(&fakeLocker{err: errors.New("db down")}, &fakeHistory{}, "w", 0, nil)
	if _, _, err := r.Run(context.Background(), TaskPurgeDigestQueue, time.Now(), nil); err == nil {
		t.Error("expected error")
	}
}
