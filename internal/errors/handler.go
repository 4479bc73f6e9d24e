package errors

import (
	"net/http"
)

// RequestIDHeader is the HTTP header for request ID
const RequestIDHeader = "X-Request-ID"

// Handler is an http handler that reports failure by returning an error.
type Handler func(w http.ResponseWriter, r *http.Request) error

// ServerErrorHook observes 5xx errors before they are written.
type ServerErrorHook func(r *http.Request, err error)

// HandleFunc adapts h to http.HandlerFunc. Returned errors are written as
// JSON; server errors go to each hook first.
func HandleFunc(h Handler, hooks ...ServerErrorHook) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := h(w, r)
		if err == nil {
			return
		}
		if IsServerError(err) {
			for _, hook := range hooks {
				hook(r, err)
			}
		}
		WriteError(w, GetRequestID(r.Context()), err)
	}
}
