/*
errors.go - Centralized error types for the attendance engine

ERROR CATEGORIES:
  1. Validation errors - illegal transitions, unparseable input, expired
     sessions. Always recoverable, shown verbatim to the requester.
  2. Not found - unknown worker on balance or rate operations. The
     operation is aborted with no partial state change.
  3. Transient store errors - busy/locked/unavailable backing store.
     Retried with re-read-before-retry, then surfaced.

There is no fatal class: one worker's failure never affects another.
*/
package attendance

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is the parent of every *ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrAccountNotFound is returned when a worker has no account row.
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountExists is returned by CreateAccount for a registered worker.
	ErrAccountExists = errors.New("account already exists")

	// ErrDuplicateID is returned by stores when a punch or transaction ID
	// was already appended.
	ErrDuplicateID = errors.New("duplicate id")

	// ErrTransientStore wraps backing-store failures that may succeed on retry.
	ErrTransientStore = errors.New("transient store failure")
)

// =============================================================================
// VALIDATION ERROR
// =============================================================================

// ValidationCode classifies a validation failure.
type ValidationCode string

const (
	CodeIllegalTransition ValidationCode = "illegal_transition"
	CodeUnknownKind       ValidationCode = "unknown_kind"
	CodeBadTimestamp      ValidationCode = "bad_timestamp"
	CodeBadAmount         ValidationCode = "bad_amount"
	CodeUnknownWorker     ValidationCode = "unknown_worker"
	CodeNotAdmin          ValidationCode = "not_admin"
	CodeNoSession         ValidationCode = "no_session"
	CodeSessionStep       ValidationCode = "session_step"
)

// ValidationError carries a worker-facing reason.
type ValidationError struct {
	Code   ValidationCode
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func (e *ValidationError) Unwrap() error { return ErrValidation }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// Transient marks err as retryable.
func Transient(err error) error {
	if err == nil || errors.Is(err, ErrTransientStore) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransientStore, err)
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientStore)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFound returns true if the error indicates a missing account.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound)
}
