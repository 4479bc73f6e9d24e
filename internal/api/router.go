package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openmusicplayer/authgate/internal/auth"
	"github.com/openmusicplayer/authgate/internal/crud"
	apperrors "github.com/openmusicplayer/authgate/internal/errors"
	"github.com/openmusicplayer/authgate/internal/health"
	"github.com/openmusicplayer/authgate/internal/logger"
	"github.com/openmusicplayer/authgate/internal/metrics"
	"github.com/openmusicplayer/authgate/internal/middleware"
)

// Deps are the handlers the router dispatches to. Exactly one of
// Documents and Upstream serves the generic collections.
type Deps struct {
	Auth      *auth.Handler
	Gate      *auth.Gate
	Health    *health.Handler
	Metrics   *metrics.Metrics
	Documents *crud.Router
	Upstream  http.Handler
	Logger    *logger.Logger
}

// NewRouter builds the HTTP surface. Every request passes request id,
// access log, recovery and the auth gate before routing.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		middleware.Logging(d.Logger),
		middleware.Recoverer(d.Logger),
		middleware.Timing(d.Logger),
		middleware.Gzip,
		metrics.Middleware(d.Metrics),
		d.Gate.Middleware,
	)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		apperrors.WriteError(w, apperrors.GetRequestID(r.Context()), apperrors.NotFound("route "+r.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		apperrors.WriteError(w, apperrors.GetRequestID(r.Context()), apperrors.MethodNotAllowed("method "+r.Method+" not allowed"))
	})

	configureOperationalRoutes(r, d)
	configureAuthRoutes(r, d.Auth)

	switch {
	case d.Upstream != nil:
		r.Handle("/api/*", d.Upstream)
	case d.Documents != nil:
		d.Documents.Register(r)
	}

	return r
}

func configureOperationalRoutes(r chi.Router, d Deps) {
	r.Get("/health", d.Health.HealthHandler)
	r.Get("/health/live", d.Health.LivenessHandler)
	r.Get("/health/ready", d.Health.ReadinessHandler)
	r.Get("/metrics", d.Metrics.Handler())
}

func configureAuthRoutes(r chi.Router, h *auth.Handler) {
	r.Post("/api/register", h.Register)
	r.Post("/api/users", h.Register)
	r.Post("/api/signup", h.Login)
	r.Post("/api/token-get", h.Login)
	r.Get("/api/token-refresh", h.Refresh)
	r.Post("/api/password-reset", h.RequestReset)
	r.Post("/api/password-reset-confirm", h.ConfirmReset)
	r.Get("/api/me", h.Me)
	r.Post("/users/change-password", h.ChangePassword)
}
