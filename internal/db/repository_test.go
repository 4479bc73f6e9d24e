package db

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmusicplayer/authgate/internal/models"
	"github.com/openmusicplayer/authgate/internal/store"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock
}

var userColumns = []string{"id", "email", "username", "password", "type"}

func TestCreateUser_Success(t *testing.T) {
	db, mock := newMock(t)
	repo := NewUserRepository(db)

	mock.ExpectExec(`(?s)INSERT\s+INTO\s+users\s*\(id,\s*email,\s*username,\s*password,\s*type\)`).
		WithArgs("u1", "a@b.com", "A", "hash", "Customer").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.CreateUser(context.Background(), &models.User{
		ID: "u1", Email: "a@b.com", Username: "A", Password: "hash", Type: "Customer",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUser_DuplicateEmail(t *testing.T) {
	db, mock := newMock(t)
	repo := NewUserRepository(db)

	mock.ExpectExec(`INSERT\s+INTO\s+users`).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	err := repo.CreateUser(context.Background(), &models.User{ID: "u1", Email: "a@b.com"})
	assert.ErrorIs(t, err, store.ErrEmailExists)
}

func TestCreateUser_DBError(t *testing.T) {
	db, mock := newMock(t)
	repo := NewUserRepository(db)

	mock.ExpectExec(`INSERT\s+INTO\s+users`).WillReturnError(errors.New("db down"))

	err := repo.CreateUser(context.Background(), &models.User{ID: "u1", Email: "a@b.com"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, store.ErrEmailExists)
	assert.Contains(t, err.Error(), "db down")
}

func TestGetUserByEmail_Found(t *testing.T) {
	db, mock := newMock(t)
	repo := NewUserRepository(db)

	mock.ExpectQuery(`(?s)SELECT\s+id,\s*email,\s*username,\s*password,\s*type\s+FROM\s+users\s+WHERE\s+email\s*=\s*\$1`).
		WithArgs("a@b.com").
		WillReturnRows(sqlmock.NewRows(userColumns).AddRow("u1", "a@b.com", "A", "hash", "Customer"))

	u, err := repo.GetUserByEmail(context.Background(), "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, &models.User{ID: "u1", Email: "a@b.com", Username: "A", Password: "hash", Type: "Customer"}, u)
}

func TestGetUserByID_NotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := NewUserRepository(db)

	mock.ExpectQuery(`WHERE\s+id\s*=\s*\$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetUserByID(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrUserNotFound)
}

func TestUpdatePassword(t *testing.T) {
	t.Run("updated", func(t *testing.T) {
		db, mock := newMock(t)
		repo := NewUserRepository(db)

		mock.ExpectExec(`(?s)UPDATE\s+users\s+SET\s+password\s*=\s*\$2`).
			WithArgs("u1", "new").
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.UpdatePassword(context.Background(), "u1", "new"))
	})

	t.Run("no rows", func(t *testing.T) {
		db, mock := newMock(t)
		repo := NewUserRepository(db)

		mock.ExpectExec(`UPDATE\s+users`).
			WithArgs("u1", "new").
			WillReturnResult(sqlmock.NewResult(0, 0))

		assert.ErrorIs(t, repo.UpdatePassword(context.Background(), "u1", "new"), store.ErrUserNotFound)
	})
}

func TestResetTokenRepository(t *testing.T) {
	db, mock := newMock(t)
	repo := NewResetTokenRepository(db)
	ctx := context.Background()

	mock.ExpectExec(`(?s)INSERT\s+INTO\s+password_reset_tokens\s*\(token,\s*user_id\)`).
		WithArgs("r1", "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`(?s)SELECT\s+token,\s*user_id\s+FROM\s+password_reset_tokens`).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"token", "user_id"}).AddRow("r1", "u1"))
	mock.ExpectExec(`DELETE\s+FROM\s+password_reset_tokens\s+WHERE\s+user_id\s*=\s*\$1`).
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery(`FROM\s+password_reset_tokens`).
		WithArgs("r1").
		WillReturnError(sql.ErrNoRows)

	require.NoError(t, repo.CreateResetToken(ctx, &models.PasswordResetToken{UserID: "u1", Token: "r1"}))

	rt, err := repo.GetResetToken(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "u1", rt.UserID)

	n, err := repo.DeleteResetTokensForUser(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	_, err = repo.GetResetToken(ctx, "r1")
	assert.ErrorIs(t, err, store.ErrResetTokenNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResetTokenRepository_DeleteResetToken(t *testing.T) {
	db, mock := newMock(t)
	repo := NewResetTokenRepository(db)
	ctx := context.Background()

	mock.ExpectExec(`DELETE\s+FROM\s+password_reset_tokens\s+WHERE\s+token\s*=\s*\$1`).
		WithArgs("r1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE\s+FROM\s+password_reset_tokens\s+WHERE\s+token\s*=\s*\$1`).
		WithArgs("r1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.DeleteResetToken(ctx, "r1"))
	assert.ErrorIs(t, repo.DeleteResetToken(ctx, "r1"), store.ErrResetTokenNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_UsesEmbeddedMigrations(t *testing.T) {
	sqlDB, _ := newMock(t)

	orig := gooseUp
	t.Cleanup(func() { gooseUp = orig })

	var gotDir string
	gooseUp = func(ctx context.Context, db *sql.DB, dir string) error {
		gotDir = dir
		return nil
	}

	require.NoError(t, (&DB{sqlDB}).Migrate(context.Background()))
	assert.Equal(t, ".", gotDir)

	gooseUp = func(ctx context.Context, db *sql.DB, dir string) error {
		return errors.New("boom")
	}
	err := (&DB{sqlDB}).Migrate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to run migrations")
}
