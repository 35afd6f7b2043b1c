package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
)

// Standard error types
var (
	ErrNotFound           = errors.New("resource not found")
	ErrAccessDenied       = errors.New("access denied")
	ErrBadRequest         = errors.New("bad request")
	ErrConflict           = errors.New("resource conflict")
	ErrInternal           = errors.New("internal server error")
	ErrValidation         = errors.New("validation error")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvalidTransition  = errors.New("invalid state transition")
	ErrConcurrentConflict = errors.New("concurrent modification conflict")
)

// AppError represents an application error with context
type AppError struct {
	Err        error             `json:"-"`
	Message    string            `json:"message"`
	Code       string            `json:"code"`
	StatusCode int               `json:"status_code"`
	Details    map[string]string `json:"details,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError
func New(code string, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, code string, message string, statusCode int) *AppError {
	return &AppError{
		Err:        err,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// WithDetails adds details to an AppError
func (e *AppError) WithDetails(details map[string]string) *AppError {
	e.Details = details
	return e
}

// Common error constructors

func NotFound(resource string) *AppError {
	return &AppError{
		Err:        ErrNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: http.StatusNotFound,
	}
}

func AccessDenied(message string) *AppError {
	return &AppError{
		Err:        ErrAccessDenied,
		Code:       "ACCESS_DENIED",
		Message:    message,
		StatusCode: http.StatusForbidden,
	}
}

func BadRequest(message string) *AppError {
	return &AppError{
		Err:        ErrBadRequest,
		Code:       "BAD_REQUEST",
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func Conflict(message string) *AppError {
	return &AppError{
		Err:        ErrConflict,
		Code:       "CONFLICT",
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

func Internal(message string) *AppError {
	return &AppError{
		Err:        ErrInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

func Validation(details map[string]string) *AppError {
	return &AppError{
		Err:        ErrValidation,
		Code:       "VALIDATION_ERROR",
		Message:    "validation failed",
		StatusCode: http.StatusBadRequest,
		Details:    details,
	}
}

// InsufficientStock is returned when a FIFO plan cannot satisfy the requested
// quantity. The details carry requested vs available so callers can render an
// actionable message.
func InsufficientStock(productID, branchID string, requested, available int) *AppError {
	return &AppError{
		Err:     ErrInsufficientStock,
		Code:    "INSUFFICIENT_STOCK",
		Message: fmt.Sprintf("insufficient stock: requested %d, available %d", requested, available),
		Details: map[string]string{
			"product_id": productID,
			"branch_id":  branchID,
			"requested":  strconv.Itoa(requested),
			"available":  strconv.Itoa(available),
		},
		StatusCode: http.StatusConflict,
	}
}

// InvalidTransition is returned for a transition outside the allowed state
// graph. It is a caller error and is never retried.
func InvalidTransition(entity, from, to string) *AppError {
	return &AppError{
		Err:     ErrInvalidTransition,
		Code:    "INVALID_STATE_TRANSITION",
		Message: fmt.Sprintf("%s cannot move from %s to %s", entity, from, to),
		Details: map[string]string{
			"entity": entity,
			"from":   from,
			"to":     to,
		},
		StatusCode: http.StatusConflict,
	}
}

// ConcurrentConflict is returned when the optimistic retry budget for a row is
// exhausted. Safe to retry with fresh data.
func ConcurrentConflict(entity, id string) *AppError {
	return &AppError{
		Err:     ErrConcurrentConflict,
		Code:    "CONCURRENT_MODIFICATION",
		Message: fmt.Sprintf("%s %s was modified concurrently, retry with fresh data", entity, id),
		Details: map[string]string{
			"entity": entity,
			"id":     id,
		},
		StatusCode: http.StatusConflict,
	}
}

func Unauthorized(message string) *AppError {
	return &AppError{
		Err:        ErrAccessDenied,
		Code:       "UNAUTHORIZED",
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

func TokenInvalid() *AppError {
	return &AppError{
		Err:        ErrAccessDenied,
		Code:       "TOKEN_INVALID",
		Message:    "token is invalid",
		StatusCode: http.StatusUnauthorized,
	}
}

func TokenExpired() *AppError {
	return &AppError{
		Err:        ErrAccessDenied,
		Code:       "TOKEN_EXPIRED",
		Message:    "token has expired",
		StatusCode: http.StatusUnauthorized,
	}
}

// Is checks if the error matches a target error
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As attempts to convert an error to a specific type
func As(err error, target any) bool {
	return errors.As(err, target)
}
