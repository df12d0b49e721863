package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	CodeBadRequest   = "BAD_REQUEST"
	CodeInvalidInput = "INVALID_INPUT"
	CodeNotFound     = "NOT_FOUND"
	CodeRateLimited  = "RATE_LIMITED"

	// Conflict means an optimistic update gave up after repeated interference.
	CodeConflict = "CONFLICT"

	// Transient cache failures. Never a substitute for "absent".
	CodeCacheUnavailable = "CACHE_UNAVAILABLE"
	CodeTimeout          = "TIMEOUT"

	CodeInternalError = "INTERNAL_ERROR"
)

// AppError carries a stable code and the HTTP status the API reports it with.
type AppError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Status  int            `json:"-"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// InvalidInput rejects an empty or malformed identifier.
func InvalidInput(field, reason string) *AppError {
	return &AppError{
		Code:    CodeInvalidInput,
		Message: fmt.Sprintf("invalid input for '%s': %s", field, reason),
		Status:  http.StatusBadRequest,
		Details: map[string]any{"field": field},
	}
}

func Conflict(message string) *AppError {
	return &AppError{
		Code:    CodeConflict,
		Message: message,
		Status:  http.StatusConflict,
	}
}

// CacheUnavailable reports a failed round-trip to the key-value cache.
// Callers may retry.
func CacheUnavailable(operation string, err error) *AppError {
	return &AppError{
		Code:    CodeCacheUnavailable,
		Message: fmt.Sprintf("cache unavailable: %s", operation),
		Status:  http.StatusServiceUnavailable,
		Details: map[string]any{"operation": operation},
		Err:     err,
	}
}

// Timeout reports a cache call that ran past its deadline.
func Timeout(operation string, err error) *AppError {
	return &AppError{
		Code:    CodeTimeout,
		Message: fmt.Sprintf("operation timed out: %s", operation),
		Status:  http.StatusGatewayTimeout,
		Details: map[string]any{"operation": operation},
		Err:     err,
	}
}

func Internal(message string) *AppError {
	if message == "" {
		message = "internal server error"
	}
	return &AppError{
		Code:    CodeInternalError,
		Message: message,
		Status:  http.StatusInternalServerError,
	}
}

// HasCode reports whether err is an AppError carrying code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsTransient reports whether err is a retryable cache failure.
// A transient failure never means "absent".
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if HasCode(err, CodeCacheUnavailable) || HasCode(err, CodeTimeout) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsConflict reports whether err is an exhausted optimistic update.
func IsConflict(err error) bool {
	return HasCode(err, CodeConflict)
}
