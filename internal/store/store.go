// Package store declares the credential store contracts shared by the
// document-file, Postgres and Redis backends.
package store

import (
	"context"
	"errors"

	"github.com/openmusicplayer/authgate/internal/models"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailExists        = errors.New("email already exists")
	ErrResetTokenNotFound = errors.New("password reset token not found")
)

// Users is the user half of the credential store. Each method is applied
// atomically by the backend; no isolation is provided across calls.
type Users interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	UpdatePassword(ctx context.Context, id, password string) error
}

// ResetTokens stores password reset tokens.
type ResetTokens interface {
	CreateResetToken(ctx context.Context, token *models.PasswordResetToken) error
	GetResetToken(ctx context.Context, token string) (*models.PasswordResetToken, error)
	// DeleteResetToken removes a single redeemed token.
	DeleteResetToken(ctx context.Context, token string) error
	DeleteResetTokensForUser(ctx context.Context, userID string) (int64, error)
}

// Pinger is implemented by backends that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}
