package randchoice

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"quora/internal/types"
)

type memStore struct {
	mu      sync.Mutex
	choice  types.Choice
	options []types.ChoiceOption
	answers map[int64][]int64 // user -> options
	writes  int
}

func newMemStore(c types.Choice, opts ...types.ChoiceOption) *memStore {
	return &memStore{choice: c, options: opts, answers: make(map[int64][]int64)}
}

func (m *memStore) GetChoice(_ context.Context, id int64) (*types.Choice, error) {
	if id != m.choice.ID {
		return nil, types.NewAppError(types.ErrCodeNotFoundChoice, "choice not found", nil)
	}
	c := m.choice
	return &c, nil
}

func (m *memStore) ListOptions(context.Context, int64) ([]types.ChoiceOption, error) {
	return m.options, nil
}

func (m *memStore) CountAnswers(context.Context, int64) (map[int64]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tally := make(map[int64]int)
	for _, opts := range m.answers {
		for _, o := range opts {
			tally[o]++
		}
	}
	return tally, nil
}

func (m *memStore) ListUserAnswers(_ context.Context, _, userID int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.answers[userID]...), nil
}

func (m *memStore) ReplaceUserAnswers(_ context.Context, _, userID int64, optionIDs []int64, _ time.Time) error {
	// Widen the check-then-act window so an unlocked caller would race.
	time.Sleep(2 * time.Millisecond)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if len(optionIDs) == 0 {
		delete(m.answers, userID)
		return nil
	}
	m.answers[userID] = append([]int64(nil), optionIDs...)
	return nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisLocker(rdb, time.Second, nil), mr
}

func newTestService(t *testing.T, store Store) (*Service, *miniredis.Miniredis) {
	t.Helper()
	locker, mr := newTestLocker(t)
	return NewService(store, locker, time.Second, fixedClock{now}, nil), mr
}

func limitedPoll() *memStore {
	return newMemStore(
		types.Choice{ID: 1, LimitAnswers: true, AllowUpdate: true},
		types.ChoiceOption{ID: 10, ChoiceID: 1, Text: "Monday", MaxAnswers: 1},
		types.ChoiceOption{ID: 11, ChoiceID: 1, Text: "Tuesday", MaxAnswers: 2},
	)
}

func TestRedisLocker_ExclusiveAndRelease(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()

	lock, err := locker.Acquire(ctx, "randchoice:1", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !mr.Exists(lockKeyPrefix + "randchoice:1") {
		t.Fatal("lock key not set")
	}

	_, err = locker.Acquire(ctx, "randchoice:1", 50*time.Millisecond)
	if !types.IsCode(err, types.ErrCodeConflictLockTimeout) {
		t.Fatalf("second Acquire err = %v, want lock timeout", err)
	}

	if err := lock.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if mr.Exists(lockKeyPrefix + "randchoice:1") {
		t.Error("lock key should be deleted")
	}

	other, err := locker.Acquire(ctx, "randchoice:1", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	_ = other.Release(ctx)
}

func TestRedisLocker_ExpiredLockIsNotReleasedByOldHolder(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()

	stale, err := locker.Acquire(ctx, "randchoice:2", 0)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	mr.FastForward(2 * time.Second)

	fresh, err := locker.Acquire(ctx, "randchoice:2", 0)
	if err != nil {
		t.Fatalf("Acquire after expiry: %v", err)
	}
	if err := stale.Release(ctx); err == nil {
		t.Error("stale holder release should report expiry")
	}
	if !mr.Exists(lockKeyPrefix + "randchoice:2") {
		t.Fatal("stale release must not delete the new holder's lock")
	}
	if err := fresh.Release(ctx); err != nil {
		t.Errorf("fresh Release: %v", err)
	}
}

func TestRedisLocker_ContextCancelled(t *testing.T) {
	locker, mr := newTestLocker(t)
	if err := mr.Set(lockKeyPrefix+"randchoice:3", "someone-else"); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := locker.Acquire(ctx, "randchoice:3", time.Minute); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestSubmit_ConcurrentSubmittersRespectLimit(t *testing.T) {
	store := limitedPoll()
	svc, _ := newTestService(t, store)

	var g errgroup.Group
	var mu sync.Mutex
	var full, ok int
	for u := int64(1); u <= 8; u++ {
		u := u
		g.Go(func() error {
			err := svc.Submit(context.Background(), 1, u, []int64{10})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case types.IsCode(err, types.ErrCodeValidationChoiceFull):
				full++
			default:
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok != 1 || full != 7 {
		t.Errorf("ok = %d, full = %d; want exactly one winner", ok, full)
	}
	tally, _ := store.CountAnswers(context.Background(), 1)
	if tally[10] != 1 {
		t.Errorf("tally = %v", tally)
	}
}

func TestSubmit_Validation(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		choice  types.Choice
		preset  map[int64][]int64
		options []int64
		want    types.ErrorCode
	}{
		{"closed", types.Choice{ID: 1, TimeClose: now.Add(-time.Hour)}, nil, []int64{10}, types.ErrCodeValidationChoiceClosed},
		{"not yet open", types.Choice{ID: 1, TimeOpen: now.Add(time.Hour)}, nil, []int64{10}, types.ErrCodeValidationChoiceClosed},
		{"empty", types.Choice{ID: 1}, nil, nil, types.ErrCodeValidationChoiceOption},
		{"foreign option", types.Choice{ID: 1}, nil, []int64{99}, types.ErrCodeValidationChoiceOption},
		{"multiple not allowed", types.Choice{ID: 1}, nil, []int64{10, 11}, types.ErrCodeValidationChoiceMultiple},
		{"update not allowed", types.Choice{ID: 1}, map[int64][]int64{7: {11}}, []int64{10}, types.ErrCodeValidationChoiceUpdate},
		{"full", types.Choice{ID: 1, LimitAnswers: true}, map[int64][]int64{1: {10}}, []int64{10}, types.ErrCodeValidationChoiceFull},
		{"missing choice", types.Choice{ID: 2}, nil, []int64{10}, types.ErrCodeNotFoundChoice},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore(tt.choice,
				types.ChoiceOption{ID: 10, ChoiceID: 1, MaxAnswers: 1},
				types.ChoiceOption{ID: 11, ChoiceID: 1, MaxAnswers: 1},
			)
			for u, opts := range tt.preset {
				store.answers[u] = opts
			}
			svc, mr := newTestService(t, store)

			err := svc.Submit(ctx, 1, 7, tt.options)
			if !types.IsCode(err, tt.want) {
				t.Fatalf("err = %v, want %s", err, tt.want)
			}
			if store.writes != 0 {
				t.Error("rejected submission must not write")
			}
			if len(mr.Keys()) != 0 {
				t.Error("lock must be released on the error path")
			}
		})
	}
}

func TestSubmit_UpdateKeepsOwnSlot(t *testing.T) {
	store := limitedPoll()
	store.choice.AllowMultiple = true
	store.answers[7] = []int64{10}
	svc, _ := newTestService(t, store)

	// Option 10 is full, but with user 7's own answer.
	if err := svc.Submit(context.Background(), 1, 7, []int64{10, 11, 11}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	got := store.answers[7]
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	if len(got) != 2 || got[0] != 10 || got[1] != 11 {
		t.Errorf("answers = %v", got)
	}
}

func TestSubmit_LockTimeout(t *testing.T) {
	store := limitedPoll()
	locker, mr := newTestLocker(t)
	svc := NewService(store, locker, 30*time.Millisecond, fixedClock{now}, nil)
	if err := mr.Set(lockKeyPrefix+LockName(1), "held"); err != nil {
		t.Fatal(err)
	}

	err := svc.Submit(context.Background(), 1, 7, []int64{11})
	if !types.IsCode(err, types.ErrCodeConflictLockTimeout) {
		t.Fatalf("err = %v, want lock timeout", err)
	}
	var appErr *types.AppError
	if !errors.As(err, &appErr) || appErr.HTTPStatus() != 503 {
		t.Errorf("lock timeout should map to a retryable status, got %v", err)
	}
}

func TestWithdrawAndResults(t *testing.T) {
	store := limitedPoll()
	svc, _ := newTestService(t, store)
	ctx := context.Background()

	for u := int64(1); u <= 2; u++ {
		if err := svc.Submit(ctx, 1, u, []int64{11}); err != nil {
			t.Fatalf("Submit user %d: %v", u, err)
		}
	}
	if err := svc.Submit(ctx, 1, 3, []int64{10}); err != nil {
		t.Fatalf("Submit user 3: %v", err)
	}

	res, err := svc.Results(ctx, 1, 3)
	if err != nil {
		t.Fatalf("Results: %v", err)
	}
	if res.Total != 3 || len(res.Options) != 2 {
		t.Fatalf("results = %+v", res)
	}
	if !res.Options[0].Full || !res.Options[1].Full {
		t.Errorf("both options should be full: %+v", res.Options)
	}
	if len(res.Answered) != 1 || res.Answered[0] != 10 {
		t.Errorf("answered = %v", res.Answered)
	}

	if err := svc.Withdraw(ctx, 1, 3); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	res, _ = svc.Results(ctx, 1, 0)
	if res.Total != 2 || res.Options[0].Full || res.Answered != nil {
		t.Errorf("after withdraw = %+v", res)
	}
}
