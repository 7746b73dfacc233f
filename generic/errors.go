/*
errors.go - Centralized error types for the achievement engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages wrap these errors with additional context.

ERROR CATEGORIES:
  1. Validation errors - malformed input from the surrounding application
     (bad frequency, missing associations). Always surfaced to the caller.
  2. Grant races - a concurrent insert hit the grant unique index. Resolved
     to "already granted" by the ledger, never surfaced.
  3. Store errors - storage unavailable or failing. Propagated, retryable.

Criteria evaluation has no error category: a reward whose criteria cannot be
evaluated is simply not satisfied.

USAGE:
    if errors.Is(err, generic.ErrDuplicateGrant) {
        // another request granted it first
    }

SEE ALSO:
  - ledger.go: Resolves ErrDuplicateGrant
  - store.go: Stores return these errors
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrDuplicateGrant is returned by a store when the grant unique index
	// (user, reward, context key) rejects an insert.
	ErrDuplicateGrant = errors.New("grant already exists for this context")

	// ErrDuplicateReward is returned when a reward name is already taken.
	ErrDuplicateReward = errors.New("reward name already exists")

	// ErrValidation is the parent of every ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrRewardNotFound is returned when a referenced reward doesn't exist.
	ErrRewardNotFound = errors.New("reward not found")

	// ErrItemNotFound is returned when a referenced objective, checkpoint or
	// action doesn't exist in the user's hierarchy.
	ErrItemNotFound = errors.New("item not found")

	// ErrStoreUnavailable wraps connection-level storage failures.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes a single invalid field.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NotFoundError names the missing item.
type NotFoundError struct {
	Kind string // "objective", "checkpoint", "action", "reward"
	ID   string
	err  error
}

func NewNotFound(kind, id string) *NotFoundError {
	err := ErrItemNotFound
	if kind == "reward" {
		err = ErrRewardNotFound
	}
	return &NotFoundError{Kind: kind, ID: id, err: err}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return e.err
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrDuplicateReward)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRewardNotFound) ||
		errors.Is(err, ErrItemNotFound)
}
