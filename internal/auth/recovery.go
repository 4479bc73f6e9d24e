package auth

import (
	"context"
	"errors"

	apperrors "github.com/openmusicplayer/authgate/internal/errors"
	"github.com/openmusicplayer/authgate/internal/logger"
	"github.com/openmusicplayer/authgate/internal/metrics"
	"github.com/openmusicplayer/authgate/internal/models"
	"github.com/openmusicplayer/authgate/internal/password"
	"github.com/openmusicplayer/authgate/internal/store"
	"github.com/openmusicplayer/authgate/internal/token"
)

const (
	MsgInvalidResetToken = "Missing or invalid temporary Token"
	MsgPasswordReset     = "Your password was reseted"
)

// Recovery runs the password reset flow. Tokens it issues carry the
// password-reset audience and are useless as bearer tokens.
type Recovery struct {
	users  store.Users
	resets store.ResetTokens
	hasher *password.Hasher
	codec  *token.Codec
	log    *logger.Logger
	events EventRecorder
}

// NewRecovery derives the reset codec from codec.
func NewRecovery(users store.Users, resets store.ResetTokens, hasher *password.Hasher, codec *token.Codec, log *logger.Logger, events EventRecorder) *Recovery {
	return &Recovery{
		users:  users,
		resets: resets,
		hasher: hasher,
		codec:  codec.WithAudience(token.AudiencePasswordReset),
		log:    log.WithComponent("auth.recovery"),
		events: recorderOrNoop(events),
	}
}

// RequestReset records a new reset token for the account and returns it.
// Earlier tokens of the same user stay valid.
func (r *Recovery) RequestReset(ctx context.Context, email string) (string, error) {
	if email == "" {
		return "", apperrors.ValidationError("email is required")
	}

	user, err := r.users.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrUserNotFound) {
		return "", apperrors.AccountNotFound()
	}
	if err != nil {
		return "", apperrors.StoreError("failed to load user").WithCause(err)
	}

	tok, err := r.codec.Issue(user.ID)
	if err != nil {
		return "", apperrors.InternalError("failed to issue token").WithCause(err)
	}

	if err := r.resets.CreateResetToken(ctx, &models.PasswordResetToken{UserID: user.ID, Token: tok}); err != nil {
		return "", apperrors.StoreError("failed to store reset token").WithCause(err)
	}

	r.events.RecordAuthEvent(metrics.EventResetRequested)
	r.log.Info(ctx, "password reset requested", map[string]interface{}{
		"user_id": user.ID,
	})
	return tok, nil
}

// ConfirmReset sets a new password for the owner of tok and then revokes
// every outstanding reset token of that user.
func (r *Recovery) ConfirmReset(ctx context.Context, tok, newPassword string) error {
	if anyMissing(tok, newPassword) {
		return r.reject(ctx, nil)
	}

	record, err := r.resets.GetResetToken(ctx, tok)
	if errors.Is(err, store.ErrResetTokenNotFound) {
		return r.reject(ctx, err)
	}
	if err != nil {
		return apperrors.StoreError("failed to load reset token").WithCause(err)
	}

	subject, err := r.codec.Verify(tok)
	if err != nil {
		return r.reject(ctx, err)
	}
	if subject != record.UserID {
		return r.reject(ctx, errors.New("reset token subject mismatch"))
	}

	hashed, err := r.hasher.Hash(newPassword)
	if err != nil {
		return hashFailure(err, apperrors.Unprocessable)
	}

	if err := r.users.UpdatePassword(ctx, record.UserID, hashed); err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return r.reject(ctx, err)
		}
		return apperrors.StoreError("failed to update password").WithCause(err)
	}

	if err := r.resets.DeleteResetToken(ctx, tok); err != nil && !errors.Is(err, store.ErrResetTokenNotFound) {
		return apperrors.StoreError("failed to revoke reset token").WithCause(err)
	}
	revoked, err := r.resets.DeleteResetTokensForUser(ctx, record.UserID)
	if err != nil {
		return apperrors.StoreError("failed to revoke reset tokens").WithCause(err)
	}

	r.events.RecordAuthEvent(metrics.EventResetConfirmed)
	r.log.Info(ctx, "password reset confirmed", map[string]interface{}{
		"user_id": record.UserID,
		"revoked": revoked,
	})
	return nil
}

func (r *Recovery) reject(ctx context.Context, cause error) error {
	r.events.RecordAuthEvent(metrics.EventResetRejected)
	appErr := apperrors.InvalidToken(MsgInvalidResetToken)
	if cause != nil {
		appErr = appErr.WithCause(cause)
	}
	r.log.Debug(ctx, "password reset rejected")
	return appErr
}
