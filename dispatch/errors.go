package dispatch

import (
	"errors"
	"fmt"

	"github.com/warp/tanker-dispatch/ledger"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrNotFound          = errors.New("not found")
	ErrTankerNotFound    = fmt.Errorf("tanker %w", ErrNotFound)
	ErrAlreadyExists     = errors.New("already exists")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrValidation        = errors.New("validation failed")
	ErrForbidden         = errors.New("forbidden")

	// ErrOverAllocated is the ledger's sentinel, re-exported for callers
	// that only import dispatch.
	ErrOverAllocated = ledger.ErrOverAllocated

	// ErrConcurrentModification is returned by a Repository when the stored
	// version no longer matches the version the caller loaded.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// TransitionError identifies the state an action was attempted from.
type TransitionError struct {
	Subject string // "trip" or "tanker_day"
	From    string
	Action  string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s %s in status %s", e.Action, e.Subject, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the caller can fix the request.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrOverAllocated) ||
		errors.Is(err, ledger.ErrNegativeQuantity)
}

// IsNotFound returns true if the error indicates a missing day, trip or tanker.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
