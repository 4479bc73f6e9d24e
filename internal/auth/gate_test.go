package auth

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/openmusicplayer/authgate/internal/errors"
	"github.com/openmusicplayer/authgate/internal/logger"
	"github.com/openmusicplayer/authgate/internal/metrics"
)

func newGate(t *testing.T, f *fixture, extra ...Rule) *Gate {
	t.Helper()
	log := logger.New(io.Discard, logger.LevelDebug, "test")
	return NewGate(f.codec, append(DefaultRules(), extra...), log, f.metrics)
}

// protectedEcho reports the subject it saw and counts how often it ran.
func protectedEcho(calls *int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		id, _ := UserIDFromContext(r.Context())
		w.Write([]byte(id))
	})
}

func TestGate_Scenario(t *testing.T) {
	f := newFixture(t)
	var calls int
	h := newGate(t, f).Middleware(protectedEcho(&calls))

	valid, err := f.codec.Issue("u1")
	require.NoError(t, err)

	tests := []struct {
		name    string
		header  string
		status  int
		message string
	}{
		{"no header", "", http.StatusUnauthorized, MsgNoAccess},
		{"garbage", "Bearer garbage", http.StatusUnauthorized, MsgInvalidToken},
		{"valid", "Bearer " + valid, http.StatusOK, ""},
		{"valid without scheme", valid, http.StatusOK, ""},
		{"lowercase scheme", "bearer " + valid, http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := calls
			req := httptest.NewRequest(http.MethodGet, "/api/posts", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			require.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, "u1", rec.Body.String())
				assert.Equal(t, before+1, calls)
				return
			}

			assert.Equal(t, before, calls, "denied request must not reach the handler")
			var body map[string]any
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, false, body["auth"])
			assert.Equal(t, tt.message, body["message"])
			assert.Equal(t, apperrors.CodeUnauthorized, body["code"])
		})
	}

	assert.EqualValues(t, 1, f.metrics.AuthEventCount(metrics.EventGateMissingHeader))
	assert.EqualValues(t, 1, f.metrics.AuthEventCount(metrics.EventGateInvalidToken))
	assert.EqualValues(t, 3, f.metrics.AuthEventCount(metrics.EventGateAllowed))
}

func TestGate_RejectsResetAudience(t *testing.T) {
	f := newFixture(t)
	var calls int
	h := newGate(t, f).Middleware(protectedEcho(&calls))

	resetTok, err := f.codec.WithAudience("password-reset").Issue("u1")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+resetTok)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, calls)
}

func TestGate_PublicRoutes(t *testing.T) {
	f := newFixture(t)
	g := newGate(t, f, Rule{Method: http.MethodGet, Path: "/api/public", Prefix: true})

	tests := []struct {
		method string
		path   string
		public bool
	}{
		{http.MethodGet, "/db", true},
		{http.MethodPost, "/db", false},
		{http.MethodGet, "/api/db", false},
		{http.MethodPost, "/api/register", true},
		{http.MethodPost, "/api/users", true},
		{http.MethodGet, "/api/users", false},
		{http.MethodPost, "/api/signup", true},
		{http.MethodPost, "/api/token-get", true},
		{http.MethodGet, "/api/token-refresh", true},
		{http.MethodPost, "/api/password-reset", true},
		{http.MethodPost, "/api/password-reset-confirm", true},
		{http.MethodGet, "/apidoc/index.html", true},
		{http.MethodGet, "/health", true},
		{http.MethodGet, "/health/live", true},
		{http.MethodGet, "/health/ready", true},
		{http.MethodGet, "/healthz", false},
		{http.MethodGet, "/health/ready/extra", false},
		{http.MethodGet, "/metrics", true},
		{http.MethodPost, "/users/change-password", false},
		{http.MethodGet, "/api/me", false},
		{http.MethodGet, "/api/public/feed", true},
		{http.MethodOptions, "/api/posts", false},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			assert.Equal(t, tt.public, g.IsPublic(tt.method, tt.path))
		})
	}
}

func TestParseRules(t *testing.T) {
	rules, err := ParseRules(" GET /api/posts , /static* ,post /api/comments,")
	require.NoError(t, err)
	assert.Equal(t, []Rule{
		{Method: "GET", Path: "/api/posts"},
		{Path: "/static", Prefix: true},
		{Method: "POST", Path: "/api/comments"},
	}, rules)
	assert.Equal(t, "GET /api/posts", rules[0].String())
	assert.Equal(t, "/static*", rules[1].String())

	rules, err = ParseRules("")
	require.NoError(t, err)
	assert.Empty(t, rules)

	_, err = ParseRules("GET api/posts")
	assert.Error(t, err)
}
