package common

import (
	"errors"
	"net/http"
)

// Canonical error codes returned by the API.
const (
	CodeBadRequest = "BAD_REQUEST"
	CodeForbidden  = "FORBIDDEN"
	CodeNotFound   = "NOT_FOUND"
	CodeConflict   = "CONFLICT"
	CodeInternal   = "INTERNAL"
)

// AppError represents an error with an attached code and HTTP status.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap allows errors.Is/As to inspect the underlying error.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// IsAppError checks whether the error is an AppError.
func IsAppError(err error) bool {
	var target *AppError
	return errors.As(err, &target)
}

// BadRequest wraps err as a 400 AppError.
func BadRequest(message string, err error) *AppError {
	return NewAppError(CodeBadRequest, message, http.StatusBadRequest, err)
}

// Forbidden wraps err as a 403 AppError.
func Forbidden(message string, err error) *AppError {
	return NewAppError(CodeForbidden, message, http.StatusForbidden, err)
}

// NotFound wraps err as a 404 AppError.
func NotFound(message string, err error) *AppError {
	return NewAppError(CodeNotFound, message, http.StatusNotFound, err)
}

// Conflict wraps err as a 409 AppError.
func Conflict(message string, err error) *AppError {
	return NewAppError(CodeConflict, message, http.StatusConflict, err)
}

// WriteError renders err to the response writer. AppErrors keep their code
// and status; anything else becomes an opaque 500.
func WriteError(w http.ResponseWriter, err error) {
	var app *AppError
	if errors.As(err, &app) {
		JSONError(w, app.HTTPStatus, app.Code, app.Message, app.Details)
		return
	}
	JSONError(w, http.StatusInternalServerError, CodeInternal, "internal error", nil)
}
