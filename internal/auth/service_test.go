package auth

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/openmusicplayer/authgate/internal/errors"
	"github.com/openmusicplayer/authgate/internal/metrics"
	"github.com/openmusicplayer/authgate/internal/models"
	"github.com/openmusicplayer/authgate/internal/password"
)

func requireStatus(t *testing.T, err error, status int) *apperrors.AppError {
	t.Helper()
	require.Error(t, err)
	appErr := apperrors.As(err)
	require.Equal(t, status, appErr.HTTPStatus, "error: %v", err)
	return appErr
}

func TestLogin_VerifyYieldsUserID(t *testing.T) {
	f := newFixture(t)
	f.store.users["u1"] = &models.User{ID: "u1", Email: "a@b.com", Password: f.hashed(t, "p1"), Type: "Customer"}

	session, err := f.sessions.Login(context.Background(), "a@b.com", "p1")
	require.NoError(t, err)

	assert.True(t, session.Auth)
	assert.Equal(t, "u1", session.User.ID)

	subject, err := f.codec.Verify(session.Token)
	require.NoError(t, err)
	assert.Equal(t, "u1", subject)
	assert.EqualValues(t, 1, f.metrics.AuthEventCount(metrics.EventLoginSuccess))
}

func TestLogin_Errors(t *testing.T) {
	f := newFixture(t)
	f.store.users["u1"] = &models.User{ID: "u1", Email: "a@b.com", Password: f.hashed(t, "p1")}

	tests := []struct {
		name     string
		email    string
		password string
		status   int
		message  string
	}{
		{"missing email", "", "p1", http.StatusBadRequest, ""},
		{"missing password", "a@b.com", "", http.StatusBadRequest, ""},
		{"unknown account", "x@b.com", "p1", http.StatusNotFound, "You don't have an account yet"},
		{"wrong password", "a@b.com", "nope", http.StatusBadRequest, MsgInvalidCombination},
		{"email is matched exactly", "A@B.com", "p1", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.sessions.Login(context.Background(), tt.email, tt.password)
			appErr := requireStatus(t, err, tt.status)
			if tt.message != "" {
				assert.Equal(t, tt.message, appErr.Message)
			}
		})
	}
}

func TestLogin_MissingFieldsNeverReachStore(t *testing.T) {
	f := newFixture(t)

	_, err := f.sessions.Login(context.Background(), "", "")
	requireStatus(t, err, http.StatusBadRequest)
	assert.Zero(t, f.store.Calls())
}

func TestLogin_UpgradesLegacyPlainCredential(t *testing.T) {
	f := newFixture(t, &models.User{ID: "1", Email: "old@b.com", Password: "secret"})

	session, err := f.sessions.Login(context.Background(), "old@b.com", "secret")
	require.NoError(t, err)
	assert.True(t, session.Auth)

	stored := f.store.password("1")
	assert.True(t, password.IsHash(stored))
	ok, rehash := f.hasher.Verify(stored, "secret")
	assert.True(t, ok)
	assert.False(t, rehash)
}

func TestLogin_UpgradeFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, &models.User{ID: "1", Email: "old@b.com", Password: "secret"})
	f.store.failUpdate = true

	_, err := f.sessions.Login(context.Background(), "old@b.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, "secret", f.store.password("1"))
}

func TestLogin_StoreFailureIsServerError(t *testing.T) {
	f := newFixture(t)
	f.store.failAll = true

	_, err := f.sessions.Login(context.Background(), "a@b.com", "p1")
	requireStatus(t, err, http.StatusInternalServerError)
	assert.ErrorIs(t, err, errStoreDown)
}

func TestRefresh(t *testing.T) {
	f := newFixture(t, &models.User{ID: "u1", Email: "a@b.com"})

	tok, err := f.codec.Issue("u1")
	require.NoError(t, err)

	f.now = f.now.Add(time.Hour)
	session, err := f.sessions.Refresh(context.Background(), "Bearer "+tok)
	require.NoError(t, err)
	assert.True(t, session.Auth)
	assert.Equal(t, "u1", session.User.ID)
	assert.NotEqual(t, tok, session.Token)

	// the old token stays valid
	_, err = f.codec.Verify(tok)
	assert.NoError(t, err)

	// the new token carries a full TTL from the refresh time
	f.now = f.now.Add(f.codec.TTL() - time.Minute)
	_, err = f.codec.Verify(session.Token)
	assert.NoError(t, err)
}

func TestRefresh_Failures(t *testing.T) {
	f := newFixture(t, &models.User{ID: "u1", Email: "a@b.com"})

	tok, err := f.codec.Issue("u1")
	require.NoError(t, err)
	tampered := tok[:len(tok)-2] + "xx"

	resetTok, err := f.codec.WithAudience("password-reset").Issue("u1")
	require.NoError(t, err)

	for name, header := range map[string]string{
		"missing header": "",
		"garbage":        "Bearer garbage",
		"tampered":       "Bearer " + tampered,
		"reset token":    "Bearer " + resetTok,
		"empty bearer":   "Bearer ",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.sessions.Refresh(context.Background(), header)
			appErr := requireStatus(t, err, http.StatusUnprocessableEntity)
			assert.Equal(t, MsgRefreshFailed, appErr.Message)
			assert.True(t, appErr.Denial)
		})
	}

	f.now = f.now.Add(f.codec.TTL() + time.Second)
	_, err = f.sessions.Refresh(context.Background(), tok)
	requireStatus(t, err, http.StatusUnprocessableEntity)
}

func TestRefresh_MissingUserYieldsNull(t *testing.T) {
	f := newFixture(t)

	tok, err := f.codec.Issue("ghost")
	require.NoError(t, err)

	session, err := f.sessions.Refresh(context.Background(), tok)
	require.NoError(t, err)
	assert.True(t, session.Auth)
	assert.Nil(t, session.User)
}

func TestRegister(t *testing.T) {
	f := newFixture(t)

	user, err := f.sessions.Register(context.Background(), RegisterInput{
		Email: "a@b.com", Username: "A", Password: "p1", Type: "Customer",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "Customer", user.Type)
	assert.True(t, password.IsHash(f.store.password(user.ID)))

	other, err := f.sessions.Register(context.Background(), RegisterInput{
		Email: "c@d.com", Username: "C", Password: "p1", Type: "Customer",
	})
	require.NoError(t, err)
	assert.NotEqual(t, user.ID, other.ID)
}

func TestRegister_Errors(t *testing.T) {
	full := RegisterInput{Email: "a@b.com", Username: "A", Password: "p1", Type: "Customer"}

	tests := []struct {
		name   string
		mutate func(*RegisterInput)
		status int
		legacy bool
	}{
		{"missing email", func(in *RegisterInput) { in.Email = "" }, http.StatusUnprocessableEntity, true},
		{"missing username", func(in *RegisterInput) { in.Username = "" }, http.StatusUnprocessableEntity, true},
		{"missing password", func(in *RegisterInput) { in.Password = "" }, http.StatusUnprocessableEntity, true},
		{"missing type", func(in *RegisterInput) { in.Type = "" }, http.StatusUnprocessableEntity, true},
		{"malformed email", func(in *RegisterInput) { in.Email = "not-an-email" }, http.StatusUnprocessableEntity, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			in := full
			tt.mutate(&in)

			_, err := f.sessions.Register(context.Background(), in)
			appErr := requireStatus(t, err, tt.status)
			assert.Equal(t, tt.legacy, appErr.Legacy)
			if tt.legacy {
				assert.Equal(t, MsgMissingFields, appErr.Message)
			}
			assert.Zero(t, f.store.Calls(), "invalid input must not reach the store")
		})
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	f := newFixture(t, &models.User{ID: "u1", Email: "a@b.com"})

	_, err := f.sessions.Register(context.Background(), RegisterInput{
		Email: "a@b.com", Username: "A", Password: "p1", Type: "Customer",
	})
	appErr := requireStatus(t, err, http.StatusConflict)
	assert.Equal(t, apperrors.CodeEmailExists, appErr.Code)
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	f.store.users["u1"] = &models.User{ID: "u1", Email: "a@b.com", Password: f.hashed(t, "p1")}
	ctx := context.Background()

	require.NoError(t, f.sessions.ChangePassword(ctx, "u1", "p1", "p2"))

	ok, _ := f.hasher.Verify(f.store.password("u1"), "p2")
	assert.True(t, ok)

	err := f.sessions.ChangePassword(ctx, "u1", "p1", "p3")
	appErr := requireStatus(t, err, http.StatusBadRequest)
	assert.Equal(t, MsgCurrentPasswordWrong, appErr.Message)

	requireStatus(t, f.sessions.ChangePassword(ctx, "u1", "", "p3"), http.StatusBadRequest)
	requireStatus(t, f.sessions.ChangePassword(ctx, "ghost", "p2", "p3"), http.StatusNotFound)
}

func TestChangePassword_StoreFailureSurfaces(t *testing.T) {
	f := newFixture(t)
	f.store.users["u1"] = &models.User{ID: "u1", Email: "a@b.com", Password: f.hashed(t, "p1")}
	f.store.failUpdate = true

	err := f.sessions.ChangePassword(context.Background(), "u1", "p1", "p2")
	requireStatus(t, err, http.StatusInternalServerError)
}

func TestCurrentUser(t *testing.T) {
	f := newFixture(t, &models.User{ID: "u1", Email: "a@b.com"})

	user, err := f.sessions.CurrentUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", user.Email)

	_, err = f.sessions.CurrentUser(context.Background(), "")
	requireStatus(t, err, http.StatusUnauthorized)
}
