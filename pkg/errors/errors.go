package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinels matched with Is. AccessDenied and InvalidTransition refine the
// broader Forbidden and Validation classes.
var (
	ErrNotFound          = errors.New("resource not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")
	ErrAccessDenied      = fmt.Errorf("%w: access denied", ErrForbidden)
	ErrBadRequest        = errors.New("bad request")
	ErrConflict          = errors.New("resource conflict")
	ErrInternal          = errors.New("internal server error")
	ErrValidation        = errors.New("validation error")
	ErrInvalidTransition = fmt.Errorf("%w: invalid status transition", ErrValidation)
	ErrTokenInvalid      = errors.New("invalid token")
)

// Machine readable codes rendered in error bodies
const (
	CodeNotFound          = "NOT_FOUND"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeForbidden         = "FORBIDDEN"
	CodeAccessDenied      = "ACCESS_DENIED"
	CodeBadRequest        = "BAD_REQUEST"
	CodeConflict          = "CONFLICT"
	CodeInternal          = "INTERNAL_ERROR"
	CodeValidation        = "VALIDATION_ERROR"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeTokenInvalid      = "TOKEN_INVALID"
)

// AppError is an error with the HTTP status and code it surfaces as
type AppError struct {
	Err        error             `json:"-"`
	Message    string            `json:"message"`
	Code       string            `json:"code"`
	StatusCode int               `json:"status_code"`
	Details    map[string]string `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails sets per-field details and returns e
func (e *AppError) WithDetails(details map[string]string) *AppError {
	e.Details = details
	return e
}

func newError(sentinel error, code string, status int, message string) *AppError {
	return &AppError{Err: sentinel, Code: code, StatusCode: status, Message: message}
}

// New creates an AppError without a sentinel
func New(code string, message string, statusCode int) *AppError {
	return newError(nil, code, statusCode, message)
}

// FromError returns the AppError in err's chain. Anything else becomes an
// opaque internal error so driver messages never reach clients.
func FromError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal("an unexpected error occurred")
}

func NotFound(resource string) *AppError {
	return newError(ErrNotFound, CodeNotFound, http.StatusNotFound, resource+" not found")
}

func Unauthorized(message string) *AppError {
	return newError(ErrUnauthorized, CodeUnauthorized, http.StatusUnauthorized, message)
}

func Forbidden(message string) *AppError {
	return newError(ErrForbidden, CodeForbidden, http.StatusForbidden, message)
}

// AccessDenied is returned when a user touches another company's data.
func AccessDenied(message string) *AppError {
	return newError(ErrAccessDenied, CodeAccessDenied, http.StatusForbidden, message)
}

func BadRequest(message string) *AppError {
	return newError(ErrBadRequest, CodeBadRequest, http.StatusBadRequest, message)
}

func Conflict(message string) *AppError {
	return newError(ErrConflict, CodeConflict, http.StatusConflict, message)
}

func Internal(message string) *AppError {
	return newError(ErrInternal, CodeInternal, http.StatusInternalServerError, message)
}

// Validation is a failure of one or more fields, keyed by field path
func Validation(details map[string]string) *AppError {
	return ValidationMessage("validation failed").WithDetails(details)
}

// ValidationMessage is a validation failure with a single human readable reason.
func ValidationMessage(message string) *AppError {
	return newError(ErrValidation, CodeValidation, http.StatusBadRequest, message)
}

// InvalidTransition is returned for a forbidden payroll status change.
// It also matches ErrValidation.
func InvalidTransition(from, to string) *AppError {
	msg := fmt.Sprintf("cannot change payroll status from %s to %s", from, to)
	return newError(ErrInvalidTransition, CodeInvalidTransition, http.StatusBadRequest, msg).
		WithDetails(map[string]string{"from": from, "to": to})
}

func TokenInvalid() *AppError {
	return newError(ErrTokenInvalid, CodeTokenInvalid, http.StatusUnauthorized, "invalid token")
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target any) bool {
	return errors.As(err, target)
}
