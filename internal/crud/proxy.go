package crud

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/openmusicplayer/authgate/internal/auth"
	apperrors "github.com/openmusicplayer/authgate/internal/errors"
	"github.com/openmusicplayer/authgate/internal/logger"
)

// UserIDHeader carries the authenticated subject to the upstream.
const UserIDHeader = "X-User-ID"

// NewProxy forwards requests that passed the gate to an external
// document server.
func NewProxy(upstream string, log *logger.Logger) (http.Handler, error) {
	if upstream == "" {
		return nil, errors.New("crud: upstream url is required")
	}
	target, err := url.Parse(upstream)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("crud: invalid upstream url %q", upstream)
	}

	log = log.WithComponent("crud.proxy")

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Header.Del(UserIDHeader)
			if id, ok := auth.UserIDFromContext(pr.In.Context()); ok {
				pr.Out.Header.Set(UserIDHeader, id)
			}
			if rid := apperrors.GetRequestID(pr.In.Context()); rid != "" {
				pr.Out.Header.Set(apperrors.RequestIDHeader, rid)
			}
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			log.Error(r.Context(), "upstream request failed", err, map[string]interface{}{
				"method":   r.Method,
				"path":     r.URL.Path,
				"upstream": target.Host,
			})
			apperrors.WriteError(w, apperrors.GetRequestID(r.Context()),
				apperrors.UpstreamError("document server unavailable").WithCause(err))
		},
	}, nil
}
