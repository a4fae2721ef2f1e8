// Package apperr defines the error kinds shared by the storage, upload and
// HTTP layers. Components wrap one of the sentinel kinds with context;
// the transport layer maps the kind to a status code.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrValidation  = errors.New("validation error")
	ErrNotFound    = errors.New("not found")
	ErrInvalidPath = errors.New("invalid path")
	ErrConflict    = errors.New("conflict")
	ErrPaused      = errors.New("upload paused")
	ErrIO          = errors.New("io failure")
)

// Validation wraps ErrValidation with a formatted message
func Validation(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFound wraps ErrNotFound with a formatted message
func NotFound(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// InvalidPath wraps ErrInvalidPath with a formatted message
func InvalidPath(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidPath, fmt.Sprintf(format, args...))
}

// Conflict wraps ErrConflict with a formatted message
func Conflict(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// Paused wraps ErrPaused with a formatted message
func Paused(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrPaused, fmt.Sprintf(format, args...))
}

// IO wraps a filesystem error as ErrIO, keeping the cause in the chain
func IO(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrIO, op, err)
}

// Code returns the stable machine-readable code for err
func Code(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidPath):
		return "invalid_path"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrPaused):
		return "paused"
	default:
		return "io_failure"
	}
}

// HTTPStatus maps err to the response status code
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidPath), errors.Is(err, ErrPaused):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// FromCode rebuilds a sentinel-wrapped error from a response code and message
func FromCode(code, message string) error {
	var kind error
	switch code {
	case "validation":
		kind = ErrValidation
	case "not_found":
		kind = ErrNotFound
	case "invalid_path":
		kind = ErrInvalidPath
	case "conflict":
		kind = ErrConflict
	case "paused":
		kind = ErrPaused
	default:
		kind = ErrIO
	}
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}
