package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	CategoryClient ErrorCategory = "client"
	CategoryServer ErrorCategory = "server"
)

// Common error codes
const (
	// Client errors (4xx)
	CodeValidationError     = "VALIDATION_ERROR"
	CodeInvalidRequest      = "INVALID_REQUEST"
	CodeUnprocessableEntity = "UNPROCESSABLE_ENTITY"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeNotFound            = "NOT_FOUND"
	CodeMethodNotAllowed    = "METHOD_NOT_ALLOWED"
	CodeConflict            = "CONFLICT"

	// Authentication specific
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeInvalidToken       = "INVALID_TOKEN"
	CodeEmailExists        = "EMAIL_EXISTS"
	CodeAccountNotFound    = "ACCOUNT_NOT_FOUND"

	// Server errors (5xx)
	CodeInternalError = "INTERNAL_ERROR"
	CodeStoreError    = "STORE_ERROR"
	CodeUpstreamError = "UPSTREAM_ERROR"
)

// AppError represents a structured application error
type AppError struct {
	Code       string        `json:"code"`
	Message    string        `json:"message"`
	Category   ErrorCategory `json:"-"`
	HTTPStatus int           `json:"-"`
	Cause      error         `json:"-"`

	// Denial marks authentication refusals; their body carries "auth": false.
	Denial bool `json:"-"`
	// Legacy mirrors the message into an "error" field.
	Legacy bool `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithCause sets the underlying cause of the error
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

// AsDenial marks the error as an authentication denial.
func (e *AppError) AsDenial() *AppError {
	e.Denial = true
	return e
}

// ErrorResponse is the JSON structure returned to clients
type ErrorResponse struct {
	Auth      *bool  `json:"auth,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Error     string `json:"error,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// New creates a new AppError
func New(code string, message string, category ErrorCategory, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		Category:   category,
		HTTPStatus: httpStatus,
	}
}

// Client error constructors

func BadRequest(message string) *AppError {
	return New(CodeInvalidRequest, message, CategoryClient, http.StatusBadRequest)
}

func ValidationError(message string) *AppError {
	return New(CodeValidationError, message, CategoryClient, http.StatusBadRequest)
}

// MissingFields is the 422 returned when a resource cannot be created.
func MissingFields(message string) *AppError {
	e := New(CodeValidationError, message, CategoryClient, http.StatusUnprocessableEntity)
	e.Legacy = true
	return e
}

func Unprocessable(message string) *AppError {
	return New(CodeUnprocessableEntity, message, CategoryClient, http.StatusUnprocessableEntity)
}

func Unauthorized(message string) *AppError {
	return New(CodeUnauthorized, message, CategoryClient, http.StatusUnauthorized).AsDenial()
}

func InvalidCredentials(message string) *AppError {
	return New(CodeInvalidCredentials, message, CategoryClient, http.StatusBadRequest)
}

// InvalidToken is used where the token is the subject of the call (refresh,
// reset confirm) rather than an access gate.
func InvalidToken(message string) *AppError {
	return New(CodeInvalidToken, message, CategoryClient, http.StatusUnprocessableEntity)
}

func NotFound(resource string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource), CategoryClient, http.StatusNotFound)
}

func AccountNotFound() *AppError {
	return New(CodeAccountNotFound, "You don't have an account yet", CategoryClient, http.StatusNotFound)
}

func MethodNotAllowed(message string) *AppError {
	return New(CodeMethodNotAllowed, message, CategoryClient, http.StatusMethodNotAllowed)
}

func Conflict(message string) *AppError {
	return New(CodeConflict, message, CategoryClient, http.StatusConflict)
}

func EmailExists() *AppError {
	return New(CodeEmailExists, "email already registered", CategoryClient, http.StatusConflict)
}

// Server error constructors

func InternalError(message string) *AppError {
	return New(CodeInternalError, message, CategoryServer, http.StatusInternalServerError)
}

func StoreError(message string) *AppError {
	return New(CodeStoreError, message, CategoryServer, http.StatusInternalServerError)
}

func UpstreamError(message string) *AppError {
	return New(CodeUpstreamError, message, CategoryServer, http.StatusBadGateway)
}

// As returns err as an *AppError, wrapping unknown errors as internal errors.
func As(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return InternalError("an unexpected error occurred").WithCause(err)
}

// WriteError writes an error response to the HTTP response writer
func WriteError(w http.ResponseWriter, requestID string, err error) {
	appErr := As(err)

	resp := ErrorResponse{
		Code:      appErr.Code,
		Message:   appErr.Message,
		RequestID: requestID,
	}
	if appErr.Denial {
		denied := false
		resp.Auth = &denied
	}
	if appErr.Legacy {
		resp.Error = appErr.Message
	}

	w.Header().Set("Content-Type", "application/json")
	if requestID != "" {
		w.Header().Set(RequestIDHeader, requestID)
	}
	w.WriteHeader(appErr.HTTPStatus)
	json.NewEncoder(w).Encode(resp)
}

// WriteJSON writes a JSON response with the request ID header
func WriteJSON(w http.ResponseWriter, requestID string, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	if requestID != "" {
		w.Header().Set(RequestIDHeader, requestID)
	}
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// IsServerError returns true for server errors and for anything that is not an AppError.
func IsServerError(err error) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return err != nil
	}
	return appErr.Category == CategoryServer
}
