package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/openmusicplayer/authgate/internal/models"
	"github.com/openmusicplayer/authgate/internal/store"
)

var _ store.ResetTokens = (*ResetTokenRepository)(nil)

type ResetTokenRepository struct {
	db *sql.DB
}

func NewResetTokenRepository(db *sql.DB) *ResetTokenRepository {
	return &ResetTokenRepository{db: db}
}

func (r *ResetTokenRepository) CreateResetToken(ctx context.Context, token *models.PasswordResetToken) error {
	query := `
		INSERT INTO password_reset_tokens (token, user_id)
		VALUES ($1, $2)
	`

	if _, err := r.db.ExecContext(ctx, query, token.Token, token.UserID); err != nil {
		return fmt.Errorf("insert reset token: %w", err)
	}
	return nil
}

func (r *ResetTokenRepository) GetResetToken(ctx context.Context, token string) (*models.PasswordResetToken, error) {
	query := `
		SELECT token, user_id
		FROM password_reset_tokens
		WHERE token = $1
	`

	rt := &models.PasswordResetToken{}
	err := r.db.QueryRowContext(ctx, query, token).Scan(&rt.Token, &rt.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrResetTokenNotFound
		}
		return nil, fmt.Errorf("select reset token: %w", err)
	}

	return rt, nil
}

func (r *ResetTokenRepository) DeleteResetToken(ctx context.Context, token string) error {
	query := `DELETE FROM password_reset_tokens WHERE token = $1`

	result, err := r.db.ExecContext(ctx, query, token)
	if err != nil {
		return fmt.Errorf("delete reset token: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete reset token: %w", err)
	}
	if rows == 0 {
		return store.ErrResetTokenNotFound
	}
	return nil
}

func (r *ResetTokenRepository) DeleteResetTokensForUser(ctx context.Context, userID string) (int64, error) {
	query := `DELETE FROM password_reset_tokens WHERE user_id = $1`

	result, err := r.db.ExecContext(ctx, query, userID)
	if err != nil {
		return 0, fmt.Errorf("delete reset tokens: %w", err)
	}
	return result.RowsAffected()
}
