package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"quora/internal/config"
	"quora/internal/queue"
	"quora/internal/scheduler"
)

// =============================================================================
// Mock implementations
// =============================================================================

type mockMaintenance struct {
	cleanCalls []time.Time
	purgeCalls []time.Time
	items      int
	err        error
}

func (m *mockMaintenance) CleanReadRecords(_ context.Context, now time.Time) (int, error) {
	m.cleanCalls = append(m.cleanCalls, now)
	return m.items, m.err
}

func (m *mockMaintenance) PurgeDigestQueue(_ context.Context, now time.Time) (int, error) {
	m.purgeCalls = append(m.purgeCalls, now)
	return m.items, m.err
}

// mockRunner runs the task inline unless the lock is held elsewhere.
type mockRunner struct {
	held  bool
	tasks []scheduler.TaskType
}

func (r *mockRunner) Run(ctx context.Context, task scheduler.TaskType, now time.Time, fn scheduler.TaskFunc) (int, bool, error) {
	r.tasks = append(r.tasks, task)
	if r.held {
		return 0, true, nil
	}
	n, err := fn(ctx, now)
	return n, false, err
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func newTestHandler() (*Handler, *mockMaintenance, *mockRunner) {
	m := &mockMaintenance{items: 3}
	r := &mockRunner{}
	h := &Handler{
		Maintenance: m,
		Runner:      r,
		Clock:       fixedClock{t: time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC)},
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return h, m, r
}

// =============================================================================
// Handle
// =============================================================================

func TestHandle_Routing(t *testing.T) {
	tests := []struct {
		task      scheduler.TaskType
		wantClean int
		wantPurge int
	}{
		{scheduler.TaskCleanReadRecords, 1, 0},
		{scheduler.TaskPurgeDigestQueue, 0, 1},
	}
	for _, tt := range tests {
		t.Run(string(tt.task), func(t *testing.T) {
			h, m, r := newTestHandler()

			result, err := h.Handle(context.Background(), scheduler.MaintenancePayload{Task: tt.task})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !strings.Contains(result, "3 items processed") {
				t.Errorf("result = %q", result)
			}
			if len(m.cleanCalls) != tt.wantClean || len(m.purgeCalls) != tt.wantPurge {
				t.Errorf("calls: clean=%d purge=%d, want clean=%d purge=%d",
					len(m.cleanCalls), len(m.purgeCalls), tt.wantClean, tt.wantPurge)
			}
			if len(r.tasks) != 1 || r.tasks[0] != tt.task {
				t.Errorf("runner tasks = %v, want [%s]", r.tasks, tt.task)
			}
		})
	}
}

func TestHandle_ReferenceTime(t *testing.T) {
	h, m, _ := newTestHandler()

	ref := time.Date(2026, 2, 6, 14, 0, 0, 0, time.FixedZone("AEDT", 11*3600))
	if _, err := h.Handle(context.Background(), scheduler.MaintenancePayload{
		Task:          scheduler.TaskCleanReadRecords,
		ReferenceTime: &ref,
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(m.cleanCalls) != 1 {
		t.Fatalf("expected one call, got %d", len(m.cleanCalls))
	}
	got := m.cleanCalls[0]
	if !got.Equal(ref) || got.Location() != time.UTC {
		t.Errorf("reference time = %v, want %v in UTC", got, ref.UTC())
	}
}

func TestHandle_DefaultsToClock(t *testing.T) {
	h, m, _ := newTestHandler()

	if _, err := h.Handle(context.Background(), scheduler.MaintenancePayload{Task: scheduler.TaskPurgeDigestQueue}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC); !m.purgeCalls[0].Equal(want) {
		t.Errorf("now = %v, want %v", m.purgeCalls[0], want)
	}
}

func TestHandle_RejectsUnknownTasks(t *testing.T) {
	tests := []struct {
		name string
		task scheduler.TaskType
		want string
	}{
		{"empty", "", "empty task type"},
		{"unknown", "reticulate_splines", "unknown task type"},
		{"mail task", scheduler.TaskSendForumMail, "unknown task type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, r := newTestHandler()

			_, err := h.Handle(context.Background(), scheduler.MaintenancePayload{Task: tt.task})
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("got %v, want error containing %q", err, tt.want)
			}
			if len(r.tasks) != 0 {
				t.Errorf("runner should not be called, got %v", r.tasks)
			}
		})
	}
}

func TestHandle_LockHeld(t *testing.T) {
	h, m, r := newTestHandler()
	r.held = true

	result, err := h.Handle(context.Background(), scheduler.MaintenancePayload{Task: scheduler.TaskCleanReadRecords})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(result, "skipped") {
		t.Errorf("result = %q, want skipped", result)
	}
	if len(m.cleanCalls) != 0 {
		t.Error("task should not run while the lock is held")
	}
}

func TestHandle_TaskFailure(t *testing.T) {
	h, m, _ := newTestHandler()
	m.err = errors.New("connection reset")

	_, err := h.Handle(context.Background(), scheduler.MaintenancePayload{Task: scheduler.TaskPurgeDigestQueue})
	if err == nil {
		t.Fatal("expected an error")
	}
	if !errors.Is(err, m.err) {
		t.Errorf("error should wrap the task error, got %v", err)
	}
}

// =============================================================================
// Wiring
// =============================================================================

func TestReadLocalPayload(t *testing.T) {
	p, err := readLocalPayload(strings.NewReader(`{"task":"purge_digest_queue","reference_time":"2026-02-06T03:00:00Z"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Task != scheduler.TaskPurgeDigestQueue {
		t.Errorf("task = %q", p.Task)
	}
	if p.ReferenceTime == nil || !p.ReferenceTime.Equal(time.Date(2026, 2, 6, 3, 0, 0, 0, time.UTC)) {
		t.Errorf("reference time = %v", p.ReferenceTime)
	}

	if _, err := readLocalPayload(strings.NewReader("")); err == nil {
		t.Error("expected an error for empty input")
	}
}

func TestBuildHandler(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/quora_test")
	t.Setenv("EVENTS_BACKEND", "none")
	t.Setenv("EMAIL_PROVIDER", "log")

	cfg, err := config.LoadConfig(nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	h := buildHandler(cfg, nil, queue.NopPublisher{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if h.Maintenance == nil || h.Runner == nil || h.Clock == nil {
		t.Fatalf("handler not fully wired: %+v", h)
	}

	// Unknown tasks fail before the runner touches the database.
	if _, err := h.Handle(context.Background(), scheduler.MaintenancePayload{Task: "unknown"}); err == nil {
		t.Error("expected an error")
	}
}
