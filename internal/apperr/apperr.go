// Package apperr defines the error kinds shared by every component.
// Components wrap one of the sentinels so callers can classify failures
// with errors.Is regardless of where they originated.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound marks an absent session, user or location.
	ErrNotFound = errors.New("not found")
	// ErrForbidden marks an action the acting user is not permitted to take.
	ErrForbidden = errors.New("forbidden")
	// ErrBadRequest marks malformed input or a violated precondition.
	ErrBadRequest = errors.New("bad request")
	// ErrUnavailable marks a temporarily unreachable fast or durable store.
	// It is the only kind that is safe to retry.
	ErrUnavailable = errors.New("unavailable")
)

// NotFound wraps ErrNotFound with a formatted message.
func NotFound(format string, args ...any) error {
	return wrap(ErrNotFound, format, args...)
}

// Forbidden wraps ErrForbidden with a formatted message.
func Forbidden(format string, args ...any) error {
	return wrap(ErrForbidden, format, args...)
}

// BadRequest wraps ErrBadRequest with a formatted message.
func BadRequest(format string, args ...any) error {
	return wrap(ErrBadRequest, format, args...)
}

// Unavailable wraps ErrUnavailable around the underlying cause.
func Unavailable(cause error) error {
	if cause == nil || errors.Is(cause, ErrUnavailable) {
		return cause
	}

	return fmt.Errorf("%w: %w", ErrUnavailable, cause)
}

// IsRetryable reports whether the caller may retry the failed operation.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// HTTPStatus maps an error to the status code the REST surface returns for it.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the text safe to show a client. Internal errors are masked.
func Message(err error) string {
	if HTTPStatus(err) == http.StatusInternalServerError {
		return "internal error"
	}

	return err.Error()
}

func wrap(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}
