/*
errors.go - Centralized error taxonomy for the core

PURPOSE:
  All error kinds in one place for consistency and discoverability. Every
  Engine error is a synchronous return value surfaced verbatim to the
  calling collaborator; nothing is swallowed.

ERROR CATEGORIES:
  1. Input errors      - ErrValidation, ErrMissingAttribute, ErrInvalidTarget
  2. State errors      - ErrInsufficientFunds, ErrInsufficientStock
  3. Constraint errors - ErrConstraintViolation (uniqueness, references)
  4. Access errors     - ErrPermissionDenied
  5. Store errors      - ErrContention (retryable), ErrNotFound
  6. Audit errors      - ErrDriftDetected (fatal, operator intervention)

USAGE:
  if errors.Is(err, ledger.ErrInsufficientStock) { ... }

  var drift *ledger.DriftError
  if errors.As(err, &drift) { inspect(drift.Report) }

SEE ALSO:
  - engine.go: Produces most of these
  - reconcile.go: Produces DriftError
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed input: missing required
	// fields, unknown codes, non-positive quantities.
	ErrValidation = errors.New("validation failed")

	// ErrConstraintViolation is returned when a uniqueness or referential
	// constraint would be broken (duplicate code, deleting a referenced
	// category, renaming a code referenced by ledger history).
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrInsufficientFunds is returned when a purchase or transfer exceeds
	// the available balance under the active overdraft policy.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInsufficientStock is returned when a purchase exceeds stock.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrInvalidTarget is returned for a wrong transaction target, e.g. a
	// transfer to self or to a disabled user.
	ErrInvalidTarget = errors.New("invalid transaction target")

	// ErrMissingAttribute is returned when a required attribute group has no
	// value on a purchase/restock against its category.
	ErrMissingAttribute = errors.New("missing required attribute")

	// ErrPermissionDenied is returned when a non-admin attempts an
	// admin-only operation, or a disabled user attempts to act.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrContention is returned on a lock/serialization conflict. The
	// caller should retry.
	ErrContention = errors.New("store contention, retry")

	// ErrNotFound is returned by read operations for missing rows.
	ErrNotFound = errors.New("not found")

	// ErrDriftDetected is returned when a projection disagrees with the
	// ledger replay. Always a bug or a non-ledger-mediated write; never
	// auto-corrected.
	ErrDriftDetected = errors.New("projection drift detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports which field of a request was malformed.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// ConstraintError names the violated constraint.
type ConstraintError struct {
	Constraint string
	Msg        string
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("constraint %s: %s", e.Constraint, e.Msg)
}

func (e *ConstraintError) Unwrap() error { return ErrConstraintViolation }

// InsufficientFundsError provides details about a balance shortfall.
type InsufficientFundsError struct {
	UserID    UserID
	Available Money
	Required  Money
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds for %s: available %s, required %s",
		e.UserID, e.Available, e.Required)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// InsufficientStockError provides details about a stock shortfall.
type InsufficientStockError struct {
	ItemCode  string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock of %s: available %d, requested %d",
		e.ItemCode, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// MissingAttributeError names the required group left without a value.
type MissingAttributeError struct {
	ItemCode string
	Group    string
}

func (e *MissingAttributeError) Error() string {
	return fmt.Sprintf("entry against %s requires attribute group %s", e.ItemCode, e.Group)
}

func (e *MissingAttributeError) Unwrap() error { return ErrMissingAttribute }

// DriftError carries the full reconciliation report.
type DriftError struct {
	Report *DriftReport
}

func (e *DriftError) Error() string {
	return fmt.Sprintf("projection drift: %d account(s), %d item(s) diverged",
		len(e.Report.Accounts), len(e.Report.Items))
}

func (e *DriftError) Unwrap() error { return ErrDriftDetected }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrContention)
}

// IsClientError returns true if the error is due to invalid client input or
// state the client can observe, as opposed to a store failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrConstraintViolation) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrInvalidTarget) ||
		errors.Is(err, ErrMissingAttribute) ||
		errors.Is(err, ErrPermissionDenied)
}
