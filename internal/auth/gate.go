package auth

import (
	"fmt"
	"net/http"
	"strings"

	apperrors "github.com/openmusicplayer/authgate/internal/errors"
	"github.com/openmusicplayer/authgate/internal/logger"
	"github.com/openmusicplayer/authgate/internal/metrics"
	"github.com/openmusicplayer/authgate/internal/token"
)

const (
	MsgNoAccess     = "Sorry you don't have access"
	MsgInvalidToken = "Sorry invalid token"
)

// Rule marks a route as public. An empty Method matches every method.
// Path is matched exactly unless Prefix is set.
type Rule struct {
	Method string
	Path   string
	Prefix bool
}

func (r Rule) matches(method, path string) bool {
	if r.Method != "" && !strings.EqualFold(r.Method, method) {
		return false
	}
	if r.Prefix {
		return strings.HasPrefix(path, r.Path)
	}
	return path == r.Path
}

func (r Rule) String() string {
	s := r.Path
	if r.Prefix {
		s += "*"
	}
	if r.Method != "" {
		s = r.Method + " " + s
	}
	return s
}

// DefaultRules returns the routes reachable without a token.
func DefaultRules() []Rule {
	return []Rule{
		{Method: http.MethodGet, Path: "/db"},
		{Method: http.MethodPost, Path: "/api/register"},
		{Method: http.MethodPost, Path: "/api/users"},
		{Method: http.MethodPost, Path: "/api/signup"},
		{Method: http.MethodPost, Path: "/api/token-get"},
		{Method: http.MethodGet, Path: "/api/token-refresh"},
		{Method: http.MethodPost, Path: "/api/password-reset"},
		{Method: http.MethodPost, Path: "/api/password-reset-confirm"},
		{Path: "/apidoc", Prefix: true},
		{Method: http.MethodGet, Path: "/health"},
		{Method: http.MethodGet, Path: "/health/live"},
		{Method: http.MethodGet, Path: "/health/ready"},
		{Method: http.MethodGet, Path: "/metrics"},
	}
}

// ParseRules parses a comma separated list of "METHOD /path" or "/path"
// entries. A trailing "*" turns the entry into a prefix rule.
func ParseRules(list string) ([]Rule, error) {
	var rules []Rule
	for _, raw := range strings.Split(list, ",") {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}

		var rule Rule
		if method, path, ok := strings.Cut(entry, " "); ok {
			rule.Method = strings.ToUpper(strings.TrimSpace(method))
			entry = strings.TrimSpace(path)
		}
		if strings.HasSuffix(entry, "*") {
			rule.Prefix = true
			entry = strings.TrimSuffix(entry, "*")
		}
		if !strings.HasPrefix(entry, "/") {
			return nil, fmt.Errorf("invalid public route %q: path must start with /", strings.TrimSpace(raw))
		}
		rule.Path = entry
		rules = append(rules, rule)
	}
	return rules, nil
}

// Gate decides per request whether a bearer token is required and
// verifies it when it is.
type Gate struct {
	codec  *token.Codec
	rules  []Rule
	log    *logger.Logger
	events EventRecorder
}

func NewGate(codec *token.Codec, rules []Rule, log *logger.Logger, events EventRecorder) *Gate {
	return &Gate{
		codec:  codec,
		rules:  rules,
		log:    log.WithComponent("auth.gate"),
		events: recorderOrNoop(events),
	}
}

// IsPublic reports whether a route is exempt from authentication.
func (g *Gate) IsPublic(method, path string) bool {
	for _, rule := range g.rules {
		if rule.matches(method, path) {
			return true
		}
	}
	return false
}

// Middleware rejects protected requests without a valid access token. A
// rejected request never reaches next.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.IsPublic(r.Method, r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		requestID := apperrors.GetRequestID(ctx)
		fields := map[string]interface{}{
			"method": r.Method,
			"path":   r.URL.Path,
		}

		header := r.Header.Get("Authorization")
		if header == "" {
			g.events.RecordAuthEvent(metrics.EventGateMissingHeader)
			g.log.Warn(ctx, "missing authorization header", fields)
			apperrors.WriteError(w, requestID, apperrors.Unauthorized(MsgNoAccess))
			return
		}

		userID, err := g.codec.Verify(token.StripBearer(header))
		if err != nil {
			g.events.RecordAuthEvent(metrics.EventGateInvalidToken)
			g.log.Warn(ctx, "invalid bearer token", fields)
			apperrors.WriteError(w, requestID, apperrors.Unauthorized(MsgInvalidToken).WithCause(err))
			return
		}

		g.events.RecordAuthEvent(metrics.EventGateAllowed)
		next.ServeHTTP(w, r.WithContext(WithUserID(ctx, userID)))
	})
}
