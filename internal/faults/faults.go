// Package faults defines the error classes shared across the delivery
// pipeline. Callers branch on class with errors.Is against the sentinels
// below; constructors attach context while keeping the class matchable.
package faults

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks a malformed job payload or campaign config.
	// Rejected before enqueue, never retried.
	ErrValidation = errors.New("validation error")

	// ErrTransientSend marks a retryable gateway failure (timeout, 5xx,
	// rate-limited response).
	ErrTransientSend = errors.New("transient send error")

	// ErrPermanentSend marks a non-retryable gateway failure (invalid
	// destination, blocked recipient). Counted as failed immediately.
	ErrPermanentSend = errors.New("permanent send error")

	// ErrBackendUnavailable marks an unreachable queue or counter store.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrSchedulingConflict is returned when a campaign is already
	// dispatched for the current window. Skipped, never surfaced to users.
	ErrSchedulingConflict = errors.New("scheduling conflict")
)

func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func TransientSend(err error) error {
	return fmt.Errorf("%w: %v", ErrTransientSend, err)
}

func PermanentSend(err error) error {
	return fmt.Errorf("%w: %v", ErrPermanentSend, err)
}

func BackendUnavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}
