package repository_test

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlphaNoXD/pai/internal/repository"
)

// exerciseRepository runs the behaviour every backend must share.
func exerciseRepository(t *testing.T, repo repository.Repository) {
	t.Helper()
	ctx := context.Background()

	_, err := repo.Get(ctx, "aiChatHistory")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	require.NoError(t, repo.Put(ctx, "aiChatHistory", []byte(`{"a":1}`)))
	value, err := repo.Get(ctx, "aiChatHistory")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(value))

	require.NoError(t, repo.Put(ctx, "aiChatHistory", []byte(`{}`)))
	value, err = repo.Get(ctx, "aiChatHistory")
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(value))

	_, err = repo.Get(ctx, "other")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestMemoryRepository(t *testing.T) {
	exerciseRepository(t, repository.NewMemoryRepository())
}

func TestMemoryRepository_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	blob := []byte("abc")
	require.NoError(t, repo.Put(ctx, "k", blob))
	blob[0] = 'x'

	value, err := repo.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(value))
}

func TestBoltRepository(t *testing.T) {
	repo, err := repository.NewBoltRepository(filepath.Join(t.TempDir(), "nested", "pai.bolt"))
	require.NoError(t, err)
	defer func() { require.NoError(t, repo.Close()) }()

	exerciseRepository(t, repo)
}

func TestRedisRepository(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	exerciseRepository(t, repository.NewRedisRepository(rdb))

	stored, err := mr.Get("pai:aiChatHistory")
	require.NoError(t, err)
	assert.Equal(t, `{}`, stored)
}

func TestSQLiteRepository_Get(t *testing.T) {
	ctx := context.Background()
	query := regexp.QuoteMeta("SELECT value FROM kv WHERE key = ?")

	t.Run("Success", func(t *testing.T) {
		db, mockDB, err := sqlmock.New()
		require.NoError(t, err)
		defer func() { _ = db.Close() }()

		mockDB.ExpectQuery(query).WithArgs("aiChatHistory").
			WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte(`{}`)))

		value, err := repository.NewSQLiteRepository(db).Get(ctx, "aiChatHistory")
		require.NoError(t, err)
		assert.Equal(t, `{}`, string(value))
		assert.NoError(t, mockDB.ExpectationsWereMet())
	})

	t.Run("Failure - No rows maps to ErrNotFound", func(t *testing.T) {
		db, mockDB, err := sqlmock.New()
		require.NoError(t, err)
		defer func() { _ = db.Close() }()

		mockDB.ExpectQuery(query).WithArgs("aiChatHistory").
			WillReturnRows(sqlmock.NewRows([]string{"value"}))

		_, err = repository.NewSQLiteRepository(db).Get(ctx, "aiChatHistory")
		assert.ErrorIs(t, err, repository.ErrNotFound)
		assert.NoError(t, mockDB.ExpectationsWereMet())
	})

	t.Run("Failure - Driver error is wrapped", func(t *testing.T) {
		db, mockDB, err := sqlmock.New()
		require.NoError(t, err)
		defer func() { _ = db.Close() }()

		driverErr := errors.New("disk I/O error")
		mockDB.ExpectQuery(query).WithArgs("aiChatHistory").WillReturnError(driverErr)

		_, err = repository.NewSQLiteRepository(db).Get(ctx, "aiChatHistory")
		assert.ErrorIs(t, err, driverErr)
		assert.NotErrorIs(t, err, repository.ErrNotFound)
	})
}

func TestSQLiteRepository_Put(t *testing.T) {
	ctx := context.Background()

	t.Run("Success - Upserts the blob", func(t *testing.T) {
		db, mockDB, err := sqlmock.New()
		require.NoError(t, err)
		defer func() { _ = db.Close() }()

		mockDB.ExpectExec("INSERT INTO kv").
			WithArgs("aiChatHistory", []byte(`{}`), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		err = repository.NewSQLiteRepository(db).Put(ctx, "aiChatHistory", []byte(`{}`))
		require.NoError(t, err)
		assert.NoError(t, mockDB.ExpectationsWereMet())
	})

	t.Run("Failure - Exec error", func(t *testing.T) {
		db, mockDB, err := sqlmock.New()
		require.NoError(t, err)
		defer func() { _ = db.Close() }()

		mockDB.ExpectExec("INSERT INTO kv").WillReturnError(errors.New("database is locked"))

		err = repository.NewSQLiteRepository(db).Put(ctx, "aiChatHistory", []byte(`{}`))
		assert.ErrorContains(t, err, "database is locked")
	})
}
