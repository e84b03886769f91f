package db

import (
	"context"

	"github.com/jackc/pgx/v5"

	"quora/internal/types"
)

// UserRepository provides data access for the users table and the
// per-forum digest preferences.
type UserRepository struct {
	db DBTX
}

// NewUserRepository creates a new UserRepository backed by the given
// database connection (pool or transaction).
func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

// userColumns defines the standard set of columns selected for user queries.
// Used consistently across all query methods to avoid column drift.
const userColumns = `u.id, u.username, u.email, u.firstname, u.lastname,
	u.trackforums, u.maildigest, u.mailformat, u.deleted, u.suspended`

// scanUser scans a single user row into a types.User struct.
// The columns must match the order defined in userColumns.
func scanUser(row pgx.Row) (*types.User, error) {
	var u types.User
	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.FirstName,
		&u.LastName,
		&u.TrackForums,
		&u.MailDigest,
		&u.MailFormat,
		&u.Deleted,
		&u.Suspended,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func collectUsers(rows pgx.Rows) ([]types.User, error) {
	defer rows.Close()
	var users []types.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// GetByID returns a user or a not_found_user AppError.
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*types.User, error) {
	u, err := scanUser(r.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users u WHERE u.id = $1`, id))
	if err != nil {
		if isNoRows(err) {
			return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get user", err)
	}
	return u, nil
}

// ListByIDs returns the users with the given ids. Missing ids are absent.
func (r *UserRepository) ListByIDs(ctx context.Context, ids []int64) ([]types.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+userColumns+` FROM users u WHERE u.id = ANY($1) ORDER BY u.id`, ids)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list users", err)
	}
	users, err := collectUsers(rows)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan users", err)
	}
	return users, nil
}

// ListDigestPreferences returns per-forum digest overrides keyed by user id.
// Users without a row are absent and inherit their global default.
func (r *UserRepository) ListDigestPreferences(ctx context.Context, forumID int64) (map[int64]types.DigestMode, error) {
	rows, err := r.db.Query(ctx,
		`SELECT userid, maildigest FROM quora_digests WHERE forum = $1`, forumID)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list digest preferences", err)
	}
	defer rows.Close()

	prefs := make(map[int64]types.DigestMode)
	for rows.Next() {
		var userID int64
		var mode types.DigestMode
		if err := rows.Scan(&userID, &mode); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan digest preference", err)
		}
		prefs[userID] = mode
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating digest preferences", err)
	}
	return prefs, nil
}

// SetDigestPreference stores a per-forum override. DigestDefault removes it.
func (r *UserRepository) SetDigestPreference(ctx context.Context, pref types.DigestPreference) error {
	var err error
	if pref.Mode == types.DigestDefault {
		_, err = r.db.Exec(ctx,
			`DELETE FROM quora_digests WHERE userid = $1 AND forum = $2`,
			pref.UserID, pref.ForumID)
	} else {
		_, err = r.db.Exec(ctx,
			`INSERT INTO quora_digests (userid, forum, maildigest) VALUES ($1, $2, $3)
			 ON CONFLICT (userid, forum) DO UPDATE SET maildigest = EXCLUDED.maildigest`,
			pref.UserID, pref.ForumID, pref.Mode)
	}
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to set digest preference", err)
	}
	return nil
}
