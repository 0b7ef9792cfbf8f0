/*
errors.go - Centralized error types for the engine

PURPOSE:
  All engine errors in one place. Expected business conditions (invalid
  transition, forbidden role, no assignee) are typed results the caller
  inspects with errors.Is/errors.As - never panics, never generic failures.
  Only storage faults propagate unwrapped.

ERROR CATEGORIES:
  1. Workflow errors - invalid edges, role mismatches
  2. Assignment errors - no eligible consultant
  3. Store errors - missing rows, optimistic-lock conflicts

USAGE:
  if errors.Is(err, engine.ErrInvalidTransition) {
      // render the specific edge failure to the user
  }

SEE ALSO:
  - workflow.go: Returns these from Transition
  - api/handlers.go: Maps these to HTTP status codes
*/
package engine

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidTransition is returned when the requested edge is not in
	// the rule table for the request's current status.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrForbidden is returned when the acting user's role does not satisfy
	// the role required by the transition rule.
	ErrForbidden = errors.New("role not permitted for this transition")

	// ErrNoAssigneeAvailable is returned when no eligible consultant exists
	// for the request's services. Callers must treat this as a normal
	// outcome, never assign a wrong-service consultant.
	ErrNoAssigneeAvailable = errors.New("no eligible consultant available")

	// ErrRequestNotFound is returned when a referenced request doesn't exist.
	ErrRequestNotFound = errors.New("request not found")

	// ErrConsultantNotFound is returned when a referenced consultant doesn't exist.
	ErrConsultantNotFound = errors.New("consultant not found")

	// ErrConcurrentModification is returned when the optimistic version
	// check detects a conflicting update. Safe to retry after reload.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrInvalidInput is returned for unusable caller input, e.g. a
	// non-positive billability percentage passed to the distributor.
	ErrInvalidInput = errors.New("invalid input")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// TransitionError describes a rejected edge.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("no transition from %q to %q", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// ForbiddenError describes a role mismatch on an otherwise valid edge.
type ForbiddenError struct {
	From     Status
	To       Status
	Required Role
	Actual   Role
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("transition %q -> %q requires role %q, acting role is %q",
		e.From, e.To, e.Required, e.Actual)
}

func (e *ForbiddenError) Unwrap() error { return ErrForbidden }

// NoAssigneeError carries the services nobody could be found for.
type NoAssigneeError struct {
	ServiceIDs []ServiceID
	TargetRole Role
}

func (e *NoAssigneeError) Error() string {
	return fmt.Sprintf("no eligible %s for services %v", e.TargetRole, e.ServiceIDs)
}

func (e *NoAssigneeError) Unwrap() error { return ErrNoAssigneeAvailable }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is a business condition the
// caller should render, not an infrastructure fault.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrNoAssigneeAvailable) ||
		errors.Is(err, ErrInvalidInput)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRequestNotFound) ||
		errors.Is(err, ErrConsultantNotFound)
}
