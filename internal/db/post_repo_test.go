package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"quora/internal/types"
)

func postRow(id, discussionID int64, modified time.Time, state types.MailState) []any {
	return []any{id, discussionID, int64(0), int64(3), modified, modified, state, false, "Subject", "Body"}
}

func TestPostRepository_GetByID(t *testing.T) {
	ctx := context.Background()
	modified := time.Date(2026, 2, 1, 9, 0, 0, 0, time.FixedZone("CET", 3600))

	t.Run("found", func(t *testing.T) {
		db := new(mockDBTX)
		db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{int64(50)}).
			Return(&mockRow{scanFn: func(dest ...any) error {
				*dest[0].(*int64) = 50
				*dest[1].(*int64) = 5
				*dest[4].(*time.Time) = modified
				*dest[5].(*time.Time) = modified
				*dest[6].(*types.MailState) = types.MailSent
				*dest[8].(*string) = "Week 1"
				return nil
			}})

		p, err := NewPostRepository(db).GetByID(ctx, 50)
		require.NoError(t, err)
		assert.Equal(t, int64(5), p.DiscussionID)
		assert.True(t, p.IsRoot())
		assert.Equal(t, types.MailSent, p.MailState)
		assert.Equal(t, time.UTC, p.Modified.Location())
	})

	t.Run("not found", func(t *testing.T) {
		db := new(mockDBTX)
		db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
			Return(&mockRow{scanErr: pgx.ErrNoRows})

		_, err := NewPostRepository(db).GetByID(ctx, 404)
		assert.True(t, types.IsCode(err, types.ErrCodeNotFoundPost))
	})
}

func TestPostRepository_ListByIDs(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	t.Run("empty input skips query", func(t *testing.T) {
		db := new(mockDBTX)
		posts, err := NewPostRepository(db).ListByIDs(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, posts)
		db.AssertNotCalled(t, "Query", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("scans rows", func(t *testing.T) {
		db := new(mockDBTX)
		rows := newMockRows(postRow(1, 5, now, types.MailPending), postRow(2, 5, now, types.MailSent))
		db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(rows, nil)

		posts, err := NewPostRepository(db).ListByIDs(ctx, []int64{1, 2})
		require.NoError(t, err)
		require.Len(t, posts, 2)
		assert.Equal(t, int64(2), posts[1].ID)
		assert.Equal(t, types.MailSent, posts[1].MailState)
		assert.True(t, rows.closed)
	})
}

func TestPostRepository_ClaimForMail(t *testing.T) {
	ctx := context.Background()

	t.Run("returns only the rows it flipped", func(t *testing.T) {
		db := new(mockDBTX)
		db.On("Query", ctx, sqlContaining("RETURNING id"), []any{[]int64{1, 2, 3}}).
			Return(newMockRows([]any{int64(1)}, []any{int64(3)}), nil)

		claimed, err := NewPostRepository(db).ClaimForMail(ctx, []int64{1, 2, 3})
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 3}, claimed)
	})

	t.Run("nothing to claim", func(t *testing.T) {
		db := new(mockDBTX)
		claimed, err := NewPostRepository(db).ClaimForMail(ctx, []int64{})
		require.NoError(t, err)
		assert.Nil(t, claimed)
		db.AssertNotCalled(t, "Query", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("db error", func(t *testing.T) {
		db := new(mockDBTX)
		db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).
			Return(nil, errors.New("deadlock detected"))

		_, err := NewPostRepository(db).ClaimForMail(ctx, []int64{1})
		assert.True(t, types.IsCode(err, types.ErrCodeInternalDB))
	})
}

func TestPostRepository_MarkMailError(t *testing.T) {
	db := new(mockDBTX)
	ctx := context.Background()
	db.On("Exec", ctx, sqlContaining("mailed = 2"), []any{[]int64{4}}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	repo := NewPostRepository(db)
	require.NoError(t, repo.MarkMailError(ctx, []int64{4}))
	require.NoError(t, repo.MarkMailError(ctx, nil))
	db.AssertNumberOfCalls(t, "Exec", 1)
}

func TestPostRepository_Latest(t *testing.T) {
	ctx := context.Background()

	t.Run("no posts left", func(t *testing.T) {
		db := new(mockDBTX)
		db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{int64(5)}).
			Return(&mockRow{scanErr: pgx.ErrNoRows})

		p, err := NewPostRepository(db).Latest(ctx, 5)
		require.NoError(t, err)
		assert.Nil(t, p)
	})

	t.Run("db error", func(t *testing.T) {
		db := new(mockDBTX)
		db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
			Return(&mockRow{scanErr: errors.New("timeout")})

		_, err := NewPostRepository(db).Latest(ctx, 5)
		assert.True(t, types.IsCode(err, types.ErrCodeInternalDB))
	})
}

func TestPostRepository_Delete(t *testing.T) {
	ctx := context.Background()
	db := new(mockDBTX)
	db.On("Exec", ctx, mock.AnythingOfType("string"), []any{int64(50)}).
		Return(pgconn.NewCommandTag("DELETE 1"), nil)
	db.On("Exec", ctx, mock.AnythingOfType("string"), []any{int64(404)}).
		Return(pgconn.NewCommandTag("DELETE 0"), nil)

	repo := NewPostRepository(db)
	require.NoError(t, repo.Delete(ctx, 50))
	assert.True(t, types.IsCode(repo.Delete(ctx, 404), types.ErrCodeNotFoundPost))
}
