package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error code.
type ErrorCode int

const (
	ErrNotFound ErrorCode = iota + 1000
	ErrBadRequest
	ErrUnavailable
	ErrInternal
)

// AppError represents an application error with a stable code.
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
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

func NotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func BadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    ErrBadRequest,
		Message: message,
		Err:     err,
	}
}

// Unavailable marks infrastructure-level failures (store or broker down).
// These propagate to the queue layer and are retried there, never written
// into a delivery's error message.
func Unavailable(component string, err error) *AppError {
	return &AppError{
		Code:    ErrUnavailable,
		Message: fmt.Sprintf("%s unavailable", component),
		Err:     err,
	}
}

func Internal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Message: "internal error",
		Err:     err,
	}
}

// IsNotFound reports whether err carries the not-found code.
func IsNotFound(err error) bool {
	return hasCode(err, ErrNotFound)
}

// IsUnavailable reports whether err carries the unavailable code.
func IsUnavailable(err error) bool {
	return hasCode(err, ErrUnavailable)
}

func hasCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
