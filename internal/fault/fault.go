// Package fault defines the error taxonomy shared across the orchestration
// core. Packages wrap these sentinels with fmt.Errorf("pkg: ...: %w", ...)
// so callers can classify failures with errors.Is while keeping the
// human-readable chain intact.
package fault

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound marks an unknown session, instance, or worktree.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks a lease held by another gateway or an attempted
	// double-resolution of awaiting-input.
	ErrConflict = errors.New("conflict")

	// ErrPreconditionFailed marks a request the current state cannot accept,
	// e.g. an unavailable agent kind or a completed workflow.
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrInternal marks spawn and I/O failures.
	ErrInternal = errors.New("internal error")
)

// NotFound builds a NotFound error with a formatted message.
func NotFound(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}

// Conflict builds a Conflict error with a formatted message.
func Conflict(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrConflict)
}

// Precondition builds a PreconditionFailed error with a formatted message.
func Precondition(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrPreconditionFailed)
}

// Internal builds an Internal error with a formatted message.
func Internal(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInternal)
}

// HTTPStatus maps a taxonomy error to an HTTP status code.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrPreconditionFailed):
		return http.StatusPreconditionFailed
	default:
		return http.StatusInternalServerError
	}
}
