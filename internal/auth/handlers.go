package auth

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"

	apperrors "github.com/openmusicplayer/authgate/internal/errors"
	"github.com/openmusicplayer/authgate/internal/logger"
)

const maxBodyBytes = 1 << 20

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type ChangePasswordRequest struct {
	Password    string `json:"password"`
	NewPassword string `json:"new_password"`
}

type ResetRequest struct {
	Email string `json:"email"`
}

type ResetConfirmRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type ResetResponse struct {
	Token string `json:"token"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

// Handler exposes the session and recovery services over HTTP.
type Handler struct {
	sessions *Service
	recovery *Recovery
	log      *logger.Logger
}

func NewHandler(sessions *Service, recovery *Recovery, log *logger.Logger) *Handler {
	return &Handler{
		sessions: sessions,
		recovery: recovery,
		log:      log.WithComponent("auth.http"),
	}
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, fn apperrors.Handler) {
	apperrors.HandleFunc(fn, h.logFailure)(w, r)
}

func (h *Handler) logFailure(r *http.Request, err error) {
	h.log.Error(r.Context(), "request failed", err, map[string]interface{}{
		"method": r.Method,
		"path":   r.URL.Path,
	})
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, func(w http.ResponseWriter, r *http.Request) error {
		var req RegisterInput
		if err := decodeBody(r, &req); err != nil {
			return err
		}
		user, err := h.sessions.Register(r.Context(), req)
		if err != nil {
			return err
		}
		apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusCreated, user)
		return nil
	})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, func(w http.ResponseWriter, r *http.Request) error {
		var req LoginRequest
		if err := decodeBody(r, &req); err != nil {
			return err
		}
		session, err := h.sessions.Login(r.Context(), req.Email, req.Password)
		if err != nil {
			return err
		}
		apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, session)
		return nil
	})
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, func(w http.ResponseWriter, r *http.Request) error {
		session, err := h.sessions.Refresh(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			return err
		}
		apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, session)
		return nil
	})
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, func(w http.ResponseWriter, r *http.Request) error {
		var req ChangePasswordRequest
		if err := decodeBody(r, &req); err != nil {
			return err
		}
		userID, _ := UserIDFromContext(r.Context())
		if err := h.sessions.ChangePassword(r.Context(), userID, req.Password, req.NewPassword); err != nil {
			return err
		}
		apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, MessageResponse{Message: MsgPasswordChanged})
		return nil
	})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, func(w http.ResponseWriter, r *http.Request) error {
		userID, _ := UserIDFromContext(r.Context())
		user, err := h.sessions.CurrentUser(r.Context(), userID)
		if err != nil {
			return err
		}
		apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, user)
		return nil
	})
}

func (h *Handler) RequestReset(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, func(w http.ResponseWriter, r *http.Request) error {
		var req ResetRequest
		if err := decodeBody(r, &req); err != nil {
			return err
		}
		tok, err := h.recovery.RequestReset(r.Context(), req.Email)
		if err != nil {
			return err
		}
		apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, ResetResponse{Token: tok})
		return nil
	})
}

func (h *Handler) ConfirmReset(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, func(w http.ResponseWriter, r *http.Request) error {
		var req ResetConfirmRequest
		if err := decodeBody(r, &req); err != nil {
			return err
		}
		if err := h.recovery.ConfirmReset(r.Context(), req.Token, req.NewPassword); err != nil {
			return err
		}
		apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, MessageResponse{Message: MsgPasswordReset})
		return nil
	})
}

// decodeBody fills dst from a JSON or urlencoded form body. An empty body
// leaves dst untouched so that the services report the missing fields.
func decodeBody(r *http.Request, dst any) error {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" {
		return decodeForm(r, dst)
	}

	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return apperrors.BadRequest("invalid request body").WithCause(err)
}

// decodeForm maps form values onto the json field names of dst.
func decodeForm(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		return apperrors.BadRequest("invalid request body").WithCause(err)
	}
	values := make(map[string]string, len(r.PostForm))
	for k := range r.PostForm {
		values[k] = r.PostForm.Get(k)
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return apperrors.BadRequest("invalid request body").WithCause(err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return apperrors.BadRequest("invalid request body").WithCause(err)
	}
	return nil
}
