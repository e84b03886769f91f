// Package randchoice implements answer submission for randchoice polls.
//
// Submissions to one poll are serialised by a named lock so that the
// per-option answer limit is checked and written without a race between
// concurrent submitters.
package randchoice

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"quora/internal/types"
)

// DefaultLockTimeout is how long a submission waits for the poll's lock.
const DefaultLockTimeout = 5 * time.Second

// Store is the poll persistence.
type Store interface {
	GetChoice(ctx context.Context, id int64) (*types.Choice, error)
	ListOptions(ctx context.Context, choiceID int64) ([]types.ChoiceOption, error)
	CountAnswers(ctx context.Context, choiceID int64) (map[int64]int, error)
	ListUserAnswers(ctx context.Context, choiceID, userID int64) ([]int64, error)
	ReplaceUserAnswers(ctx context.Context, choiceID, userID int64, optionIDs []int64, now time.Time) error
}

// Service submits and tallies poll answers.
type Service struct {
	store       Store
	locker      Locker
	lockTimeout time.Duration
	clock       types.Clock
	logger      *slog.Logger
}

// NewService creates a Service. lockTimeout <= 0 uses DefaultLockTimeout.
func NewService(store Store, locker Locker, lockTimeout time.Duration, clock types.Clock, logger *slog.Logger) *Service {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, locker: locker, lockTimeout: lockTimeout, clock: clock, logger: logger}
}

// LockName returns the lock guarding a poll's answers.
func LockName(choiceID int64) string {
	return fmt.Sprintf("randchoice:%d", choiceID)
}

// Submit replaces the user's answers to the poll with optionIDs.
//
// Validation that needs no shared state runs before the lock is taken. The
// tally read, the limit check and the write all happen under the lock,
// which is released on every path.
func (s *Service) Submit(ctx context.Context, choiceID, userID int64, optionIDs []int64) error {
	choice, err := s.store.GetChoice(ctx, choiceID)
	if err != nil {
		return err
	}
	now := s.clock.Now()
	if !choice.OpenAt(now) {
		return types.NewAppError(types.ErrCodeValidationChoiceClosed, "this choice is not open", nil)
	}

	selected := dedupe(optionIDs)
	if len(selected) == 0 {
		return types.NewAppError(types.ErrCodeValidationChoiceOption, "select at least one option", nil)
	}
	if len(selected) > 1 && !choice.AllowMultiple {
		return types.NewAppError(types.ErrCodeValidationChoiceMultiple, "only one option may be selected", nil)
	}

	return s.withLock(ctx, choiceID, func() error {
		return s.submitLocked(ctx, choice, userID, selected, now)
	})
}

func (s *Service) submitLocked(ctx context.Context, choice *types.Choice, userID int64, selected []int64, now time.Time) error {
	options, err := s.store.ListOptions(ctx, choice.ID)
	if err != nil {
		return err
	}
	byID := make(map[int64]types.ChoiceOption, len(options))
	for _, o := range options {
		byID[o.ID] = o
	}
	for _, id := range selected {
		if _, ok := byID[id]; !ok {
			return types.NewAppError(types.ErrCodeValidationChoiceOption, "option does not belong to this choice", nil).
				WithDetails(map[string]any{"option_id": id})
		}
	}

	current, err := s.store.ListUserAnswers(ctx, choice.ID, userID)
	if err != nil {
		return err
	}
	if len(current) > 0 && !choice.AllowUpdate {
		return types.NewAppError(types.ErrCodeValidationChoiceUpdate, "answers cannot be changed", nil)
	}

	if choice.LimitAnswers {
		held := make(map[int64]bool, len(current))
		for _, id := range current {
			held[id] = true
		}
		tally, err := s.store.CountAnswers(ctx, choice.ID)
		if err != nil {
			return err
		}
		for _, id := range selected {
			// The user's own answer already counts toward the tally.
			if held[id] {
				continue
			}
			if tally[id] >= byID[id].MaxAnswers {
				return types.NewAppError(types.ErrCodeValidationChoiceFull, "this option is full", nil).
					WithDetails(map[string]any{"option_id": id, "max_answers": byID[id].MaxAnswers})
			}
		}
	}

	return s.store.ReplaceUserAnswers(ctx, choice.ID, userID, selected, now)
}

// Withdraw removes the user's answers. It requires the poll to allow
// updates.
func (s *Service) Withdraw(ctx context.Context, choiceID, userID int64) error {
	choice, err := s.store.GetChoice(ctx, choiceID)
	if err != nil {
		return err
	}
	now := s.clock.Now()
	if !choice.OpenAt(now) {
		return types.NewAppError(types.ErrCodeValidationChoiceClosed, "this choice is not open", nil)
	}
	if !choice.AllowUpdate {
		return types.NewAppError(types.ErrCodeValidationChoiceUpdate, "answers cannot be changed", nil)
	}
	return s.withLock(ctx, choiceID, func() error {
		return s.store.ReplaceUserAnswers(ctx, choiceID, userID, nil, now)
	})
}

func (s *Service) withLock(ctx context.Context, choiceID int64, fn func() error) error {
	lock, err := s.locker.Acquire(ctx, LockName(choiceID), s.lockTimeout)
	if err != nil {
		return err
	}
	defer func() {
		if relErr := lock.Release(context.WithoutCancel(ctx)); relErr != nil {
			s.logger.WarnContext(ctx, "failed to release choice lock",
				"choice_id", choiceID,
				"error", relErr,
			)
		}
	}()
	return fn()
}

// OptionResult is one option with its current tally.
type OptionResult struct {
	Option types.ChoiceOption `json:"option"`
	Count  int                `json:"count"`
	Full   bool               `json:"full"`
}

// Results is the tally of a poll.
type Results struct {
	Choice  *types.Choice  `json:"choice"`
	Options []OptionResult `json:"options"`
	Total   int            `json:"total"`
	// Answered lists the option ids held by the requesting user.
	Answered []int64 `json:"answered"`
}

// Results returns the current tally, with the answers of userID when it is
// non-zero. It reads without the lock; counts may lag a concurrent submit.
func (s *Service) Results(ctx context.Context, choiceID, userID int64) (*Results, error) {
	choice, err := s.store.GetChoice(ctx, choiceID)
	if err != nil {
		return nil, err
	}
	options, err := s.store.ListOptions(ctx, choiceID)
	if err != nil {
		return nil, err
	}
	tally, err := s.store.CountAnswers(ctx, choiceID)
	if err != nil {
		return nil, err
	}

	res := &Results{Choice: choice, Options: make([]OptionResult, 0, len(options))}
	for _, o := range options {
		n := tally[o.ID]
		res.Options = append(res.Options, OptionResult{
			Option: o,
			Count:  n,
			Full:   choice.LimitAnswers && n >= o.MaxAnswers,
		})
		res.Total += n
	}
	if userID != 0 {
		if res.Answered, err = s.store.ListUserAnswers(ctx, choiceID, userID); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
