// Package apperr defines the error taxonomy shared by every pipeline stage.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Type is the category of a pipeline error.
type Type string

const (
	Validation         Type = "VALIDATION_ERROR"
	NotFound           Type = "NOT_FOUND"
	NoPatterns         Type = "NO_PATTERNS"
	UnsupportedTarget  Type = "UNSUPPORTED_TARGET"
	StorageUnavailable Type = "STORAGE_UNAVAILABLE"
	RateLimited        Type = "RATE_LIMITED"
)

// Error is a categorized error. Two errors match under errors.Is when their
// types are equal, so callers can test against the sentinel values below.
type Error struct {
	Type      Type   `json:"type"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Cause     error  `json:"-"`
}

var (
	ErrValidation         = &Error{Type: Validation}
	ErrNotFound           = &Error{Type: NotFound}
	ErrNoPatterns         = &Error{Type: NoPatterns}
	ErrUnsupportedTarget  = &Error{Type: UnsupportedTarget}
	ErrStorageUnavailable = &Error{Type: StorageUnavailable}
	ErrRateLimited        = &Error{Type: RateLimited}
)

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Type, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// New creates an error of the given type.
func New(t Type, code, format string, args ...any) *Error {
	return &Error{
		Type:      t,
		Code:      code,
		Message:   fmt.Sprintf(format, args...),
		Retryable: t == StorageUnavailable,
	}
}

// Invalid returns a validation error.
func Invalid(code, format string, args ...any) *Error {
	return New(Validation, code, format, args...)
}

// Missing returns a not-found error for the named resource kind.
func Missing(kind, id string) *Error {
	return New(NotFound, strings.ToUpper(kind)+"_NOT_FOUND", "%s not found: %s", kind, id)
}

// Storage wraps a persistence failure as a retryable StorageUnavailable
// error. Errors that already carry a type are returned unchanged.
func Storage(op string, cause error) error {
	if cause == nil {
		return nil
	}
	var typed *Error
	if errors.As(cause, &typed) {
		return cause
	}
	return &Error{
		Type:      StorageUnavailable,
		Code:      "STORAGE_UNAVAILABLE",
		Message:   op,
		Retryable: true,
		Cause:     cause,
	}
}

// IsType reports whether err (or anything it wraps) is an *Error of type t.
func IsType(err error, t Type) bool {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Type == t
	}
	return false
}

// Status maps an error to an HTTP status code.
func Status(err error) int {
	var typed *Error
	if !errors.As(err, &typed) {
		return http.StatusInternalServerError
	}
	switch typed.Type {
	case Validation, UnsupportedTarget:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case NoPatterns:
		return http.StatusUnprocessableEntity
	case StorageUnavailable:
		return http.StatusServiceUnavailable
	case RateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
