package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	apperrors "github.com/openmusicplayer/authgate/internal/errors"
	"github.com/openmusicplayer/authgate/internal/logger"
	"github.com/openmusicplayer/authgate/internal/metrics"
	"github.com/openmusicplayer/authgate/internal/models"
	"github.com/openmusicplayer/authgate/internal/password"
	"github.com/openmusicplayer/authgate/internal/store"
	"github.com/openmusicplayer/authgate/internal/token"
)

const (
	MsgMissingFields        = "Missing mandatory fields"
	MsgInvalidCombination   = "Sorry, invalid combination of email and password"
	MsgRefreshFailed        = "Refresh Token failed"
	MsgCurrentPasswordWrong = "Your current password is invalid"
	MsgPasswordChanged      = "Your password has changed"
	MsgPasswordTooLong      = "Password must be at most 72 bytes"
)

// Session is returned by login and refresh. User is null when the token
// subject no longer resolves to a user.
type Session struct {
	Auth  bool         `json:"auth"`
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

type RegisterInput struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
	Type     string `json:"type"`
}

// Service implements login, token refresh, registration and password change.
type Service struct {
	users  store.Users
	hasher *password.Hasher
	codec  *token.Codec
	log    *logger.Logger
	events EventRecorder
}

func NewService(users store.Users, hasher *password.Hasher, codec *token.Codec, log *logger.Logger, events EventRecorder) *Service {
	return &Service{
		users:  users,
		hasher: hasher,
		codec:  codec,
		log:    log.WithComponent("auth.session"),
		events: recorderOrNoop(events),
	}
}

// Login checks the credentials and issues an access token.
func (s *Service) Login(ctx context.Context, email, plain string) (*Session, error) {
	if anyMissing(email, plain) {
		return nil, apperrors.ValidationError("email and password are required")
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrUserNotFound) {
		s.events.RecordAuthEvent(metrics.EventLoginFailure)
		return nil, apperrors.AccountNotFound()
	}
	if err != nil {
		return nil, apperrors.StoreError("failed to load user").WithCause(err)
	}

	ok, needsRehash := s.hasher.Verify(user.Password, plain)
	if !ok {
		s.events.RecordAuthEvent(metrics.EventLoginFailure)
		return nil, apperrors.InvalidCredentials(MsgInvalidCombination)
	}
	if needsRehash {
		s.upgrade(ctx, user, plain)
	}

	tok, err := s.issue(user.ID)
	if err != nil {
		return nil, err
	}

	s.events.RecordAuthEvent(metrics.EventLoginSuccess)
	return &Session{Auth: true, Token: tok, User: user}, nil
}

// upgrade replaces a legacy or weak credential with a fresh hash. Failure
// leaves the old credential in place.
func (s *Service) upgrade(ctx context.Context, user *models.User, plain string) {
	hashed, err := s.hasher.Hash(plain)
	if err == nil {
		err = s.users.UpdatePassword(ctx, user.ID, hashed)
	}
	if err != nil {
		s.log.Error(ctx, "failed to upgrade stored credential", err, map[string]interface{}{
			"user_id": user.ID,
		})
		return
	}
	user.Password = hashed
	s.log.Info(ctx, "upgraded stored credential", map[string]interface{}{
		"user_id": user.ID,
	})
}

// Refresh issues a new token for the subject of a still valid one. The
// presented token is not revoked.
func (s *Service) Refresh(ctx context.Context, authorization string) (*Session, error) {
	raw := token.StripBearer(authorization)
	if raw == "" {
		s.events.RecordAuthEvent(metrics.EventRefreshFailure)
		return nil, apperrors.InvalidToken(MsgRefreshFailed).AsDenial()
	}

	userID, err := s.codec.Verify(raw)
	if err != nil {
		s.events.RecordAuthEvent(metrics.EventRefreshFailure)
		return nil, apperrors.InvalidToken(MsgRefreshFailed).AsDenial().WithCause(err)
	}

	tok, err := s.issue(userID)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil && !errors.Is(err, store.ErrUserNotFound) {
		return nil, apperrors.StoreError("failed to load user").WithCause(err)
	}

	return &Session{Auth: true, Token: tok, User: user}, nil
}

// Register creates a user. All four fields are mandatory.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	if anyMissing(in.Email, in.Username, in.Password, in.Type) {
		return nil, apperrors.MissingFields(MsgMissingFields)
	}
	if err := ValidateEmail(in.Email); err != nil {
		return nil, apperrors.Unprocessable(err.Error())
	}

	hashed, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, hashFailure(err, apperrors.Unprocessable)
	}

	user := &models.User{
		ID:       uuid.NewString(),
		Email:    in.Email,
		Username: in.Username,
		Password: hashed,
		Type:     in.Type,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrEmailExists) {
			return nil, apperrors.EmailExists()
		}
		return nil, apperrors.StoreError("failed to create user").WithCause(err)
	}

	s.events.RecordAuthEvent(metrics.EventRegister)
	s.log.Info(ctx, "user registered", map[string]interface{}{
		"user_id": user.ID,
		"type":    user.Type,
	})
	return user, nil
}

// ChangePassword replaces the credential of userID after checking the
// current one. It returns once the store write has completed.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	if anyMissing(current, next) {
		return apperrors.ValidationError("password and new_password are required")
	}

	user, err := s.CurrentUser(ctx, userID)
	if err != nil {
		return err
	}

	if ok, _ := s.hasher.Verify(user.Password, current); !ok {
		return apperrors.InvalidCredentials(MsgCurrentPasswordWrong)
	}

	hashed, err := s.hasher.Hash(next)
	if err != nil {
		return hashFailure(err, apperrors.ValidationError)
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hashed); err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return apperrors.NotFound("user")
		}
		return apperrors.StoreError("failed to update password").WithCause(err)
	}

	s.events.RecordAuthEvent(metrics.EventPasswordChanged)
	return nil
}

// CurrentUser loads the user behind an authenticated subject.
func (s *Service) CurrentUser(ctx context.Context, userID string) (*models.User, error) {
	if userID == "" {
		return nil, apperrors.Unauthorized(MsgNoAccess)
	}
	user, err := s.users.GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrUserNotFound) {
		return nil, apperrors.NotFound("user")
	}
	if err != nil {
		return nil, apperrors.StoreError("failed to load user").WithCause(err)
	}
	return user, nil
}

func (s *Service) issue(subject string) (string, error) {
	tok, err := s.codec.Issue(subject)
	if err != nil {
		return "", apperrors.InternalError("failed to issue token").WithCause(fmt.Errorf("issue token: %w", err))
	}
	s.events.RecordAuthEvent(metrics.EventTokenIssued)
	return tok, nil
}

// hashFailure maps a Hash error onto the route's validation status, or a 500.
func hashFailure(err error, invalid func(string) *apperrors.AppError) error {
	if errors.Is(err, password.ErrTooLong) {
		return invalid(MsgPasswordTooLong)
	}
	return apperrors.InternalError("failed to process password").WithCause(err)
}
