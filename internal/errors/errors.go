// Package errors classifies session storage failures so callers can tell a
// transient outage from a bad write without knowing which driver is in use.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode is the category of a storage failure.
type ErrorCode string

const (
	ErrCodeNotFound    ErrorCode = "not_found"
	ErrCodeConflict    ErrorCode = "conflict"
	ErrCodeValidation  ErrorCode = "validation"
	ErrCodeInternal    ErrorCode = "internal"
	ErrCodeTimeout     ErrorCode = "timeout"
	ErrCodeCanceled    ErrorCode = "canceled"
	ErrCodeUnavailable ErrorCode = "unavailable"
)

// AppError carries a code and a user-safe message around the driver error.
type AppError struct {
	Code    ErrorCode
	Message string
	Cause   error
	// Field names the offending column for conflict and validation errors.
	Field string
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

// New creates an AppError without a cause.
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap attaches code and message to err. A nil err stays nil.
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: message, Cause: err}
}

// GetCode returns the code of the first AppError in err's chain, or "".
func GetCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// GetField returns the Field of the first AppError in err's chain, or "".
func GetField(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Field
	}
	return ""
}

func IsNotFound(err error) bool    { return GetCode(err) == ErrCodeNotFound }
func IsConflict(err error) bool    { return GetCode(err) == ErrCodeConflict }
func IsValidation(err error) bool  { return GetCode(err) == ErrCodeValidation }
func IsTimeout(err error) bool     { return GetCode(err) == ErrCodeTimeout }
func IsUnavailable(err error) bool { return GetCode(err) == ErrCodeUnavailable }

// IsTransient reports whether retrying the same operation later may succeed.
func IsTransient(err error) bool {
	switch GetCode(err) {
	case ErrCodeTimeout, ErrCodeUnavailable:
		return true
	default:
		return false
	}
}
