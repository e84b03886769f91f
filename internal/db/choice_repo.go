package db

import (
	"context"
	"time"

	"quora/internal/types"
)

// ChoiceRepository provides data access for randchoice polls, options and
// answers. Answer writes are expected to run under the poll's lock.
type ChoiceRepository struct {
	db DBTX
}

// NewChoiceRepository creates a new ChoiceRepository backed by the given
// database connection (pool or transaction).
func NewChoiceRepository(db DBTX) *ChoiceRepository {
	return &ChoiceRepository{db: db}
}

// GetChoice returns a poll or a not_found_choice AppError.
func (r *ChoiceRepository) GetChoice(ctx context.Context, id int64) (*types.Choice, error) {
	var c types.Choice
	var open, closeAt *time.Time
	err := r.db.QueryRow(ctx,
		`SELECT id, course, name, allowmultiple, limitanswers, allowupdate, timeopen, timeclose
		   FROM randchoice WHERE id = $1`,
		id,
	).Scan(&c.ID, &c.CourseID, &c.Name, &c.AllowMultiple, &c.LimitAnswers, &c.AllowUpdate, &open, &closeAt)
	if err != nil {
		if isNoRows(err) {
			return nil, types.NewAppError(types.ErrCodeNotFoundChoice, "choice not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get choice", err)
	}
	c.TimeOpen = timeOrZero(open)
	c.TimeClose = timeOrZero(closeAt)
	return &c, nil
}

// ListOptions returns the options of a poll ordered by id.
func (r *ChoiceRepository) ListOptions(ctx context.Context, choiceID int64) ([]types.ChoiceOption, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, choiceid, text, maxanswers FROM randchoice_options
		  WHERE choiceid = $1 ORDER BY id`,
		choiceID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list choice options", err)
	}
	defer rows.Close()

	var opts []types.ChoiceOption
	for rows.Next() {
		var o types.ChoiceOption
		if err := rows.Scan(&o.ID, &o.ChoiceID, &o.Text, &o.MaxAnswers); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan choice option", err)
		}
		opts = append(opts, o)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating choice options", err)
	}
	return opts, nil
}

// CountAnswers returns the current tally keyed by option id.
func (r *ChoiceRepository) CountAnswers(ctx context.Context, choiceID int64) (map[int64]int, error) {
	rows, err := r.db.Query(ctx,
		`SELECT optionid, COUNT(*) FROM randchoice_answers
		  WHERE choiceid = $1 GROUP BY optionid`,
		choiceID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to count choice answers", err)
	}
	defer rows.Close()

	tally := make(map[int64]int)
	for rows.Next() {
		var optionID int64
		var n int
		if err := rows.Scan(&optionID, &n); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan choice tally", err)
		}
		tally[optionID] = n
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating choice tally", err)
	}
	return tally, nil
}

// ListUserAnswers returns the option ids the user currently holds.
func (r *ChoiceRepository) ListUserAnswers(ctx context.Context, choiceID, userID int64) ([]int64, error) {
	rows, err := r.db.Query(ctx,
		`SELECT optionid FROM randchoice_answers
		  WHERE choiceid = $1 AND userid = $2 ORDER BY optionid`,
		choiceID,
		userID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list user answers", err)
	}
	ids, err := collectInt64s(rows)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan user answers", err)
	}
	return ids, nil
}

// ReplaceUserAnswers deletes the user's answers and inserts optionIDs.
func (r *ChoiceRepository) ReplaceUserAnswers(ctx context.Context, choiceID, userID int64, optionIDs []int64, now time.Time) error {
	if _, err := r.db.Exec(ctx,
		`DELETE FROM randchoice_answers WHERE choiceid = $1 AND userid = $2`,
		choiceID, userID,
	); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to clear user answers", err)
	}
	if len(optionIDs) == 0 {
		return nil
	}
	if _, err := r.db.Exec(ctx,
		`INSERT INTO randchoice_answers (choiceid, userid, optionid, timemodified)
		 SELECT $1, $2, oid, $4 FROM unnest($3::bigint[]) AS oid`,
		choiceID, userID, optionIDs, now,
	); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert user answers", err)
	}
	return nil
}
