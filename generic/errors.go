/*
errors.go - Centralized error types for the coin engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages return these (or wrap them with %w) so the API layer can
  classify any failure without knowing which package produced it.

ERROR CATEGORIES:
  1. Client errors   - ValidationError, duplicate keys, duplicate records
  2. Business rules  - InsufficientBalance, CapExceeded, Overspend, ExpiredCoin, Capacity
  3. Lookup errors   - NotFoundError
  4. State errors    - ConflictError, TransitionError
  5. Retryable       - TransientError (timeouts, busy databases), ConflictError

USAGE:
  Match categories with errors.Is, details with errors.As:

    if errors.Is(err, generic.ErrCapExceeded) {
        var capErr *generic.CapExceededError
        errors.As(err, &capErr)
        ...
    }

SEE ALSO:
  - coin/authorize.go: Business rule errors
  - settlement/engine.go: Conflict and transition errors
  - api/errors.go: HTTP status mapping
*/
package generic

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed input (negative amounts, bad enums).
	ErrValidation = errors.New("validation failed")

	// ErrInsufficientBalance is returned when a spend exceeds the available balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrCapExceeded is returned when government coins exceed a category or item cap.
	ErrCapExceeded = errors.New("government coin cap exceeded")

	// ErrOverspend is returned when the coin split exceeds the purchase price.
	ErrOverspend = errors.New("coin split exceeds target amount")

	// ErrExpiredCoin is returned when only expired grants could have covered a spend.
	ErrExpiredCoin = errors.New("coins expired")

	// ErrNotFound is returned when a referenced record doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrTransient is returned for timeouts and temporarily unavailable storage.
	ErrTransient = errors.New("temporarily unavailable")

	// ErrConflict is returned when state changed underneath an operation.
	ErrConflict = errors.New("conflict")

	// ErrDuplicateIdempotencyKey is returned when a transaction with the same
	// idempotency key already exists. This is expected behavior for retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrDuplicate is returned when a unique record already exists.
	ErrDuplicate = errors.New("already exists")

	// ErrCapacity is returned when a course is full or a product is out of stock.
	ErrCapacity = errors.New("capacity exhausted")

	// ErrInvalidTransition is returned by state machines for disallowed moves.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidPeriod is returned when a period is malformed (end before start).
	ErrInvalidPeriod = errors.New("invalid period: end before start")

	// ErrStoreRequired is returned when an operation requires a specific store capability.
	ErrStoreRequired = errors.New("operation requires extended store interface")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid is shorthand for a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	EntityID  EntityID
	Resource  string
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient %s balance: available %s, requested %s",
		e.Resource, e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// Shortfall is how much more the user would need.
func (e *InsufficientBalanceError) Shortfall() decimal.Decimal {
	return e.Requested.Sub(e.Available)
}

// CapExceededError reports the cap that was applied.
type CapExceededError struct {
	Category  string
	Cap       decimal.Decimal
	Requested decimal.Decimal
}

func (e *CapExceededError) Error() string {
	return fmt.Sprintf("government coins for %s are capped at %s, requested %s",
		e.Category, e.Cap, e.Requested)
}

func (e *CapExceededError) Unwrap() error { return ErrCapExceeded }

// OverspendError reports a split larger than the price.
type OverspendError struct {
	Target     decimal.Decimal
	Government decimal.Decimal
	Self       decimal.Decimal
}

func (e *OverspendError) Error() string {
	return fmt.Sprintf("coins %s (government %s + self %s) exceed target amount %s",
		e.Government.Add(e.Self), e.Government, e.Self, e.Target)
}

func (e *OverspendError) Unwrap() error { return ErrOverspend }

// ExpiredCoinError is returned when the unexpired balance is short but
// expired grants would have covered the request.
type ExpiredCoinError struct {
	EntityID  EntityID
	Available decimal.Decimal
	Expired   decimal.Decimal
	Requested decimal.Decimal
}

func (e *ExpiredCoinError) Error() string {
	return fmt.Sprintf("government coins expired: available %s, expired %s, requested %s",
		e.Available, e.Expired, e.Requested)
}

func (e *ExpiredCoinError) Unwrap() error { return ErrExpiredCoin }

// NotFoundError names the missing record.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NotFound is shorthand for a NotFoundError.
func NotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// ConflictError is returned when a record changed (or is in a state) that
// prevents the operation. Callers may re-read and retry.
type ConflictError struct {
	Kind   string
	ID     string
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %q: %s", e.Kind, e.ID, e.Reason)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// TransitionError reports a disallowed state machine move.
type TransitionError struct {
	Kind string
	From string
	To   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s cannot move from %s to %s", e.Kind, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// TransientError wraps a failure that may succeed on retry.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	if e.Err == nil {
		return e.Op + ": temporarily unavailable"
	}
	return fmt.Sprintf("%s: temporarily unavailable: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrTransient}
	}
	return []error{ErrTransient, e.Err}
}

// Transient converts context deadline and cancellation failures of op into
// TransientError. Other errors (and nil) pass through unchanged.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransientError
	if errors.As(err, &te) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &TransientError{Op: op, Err: err}
	}
	return err
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrConflict)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrDuplicateIdempotencyKey) ||
		errors.Is(err, ErrInvalidPeriod)
}

// IsBusinessRule returns true for errors that explain why a valid request
// cannot be honored.
func IsBusinessRule(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrCapExceeded) ||
		errors.Is(err, ErrOverspend) ||
		errors.Is(err, ErrExpiredCoin) ||
		errors.Is(err, ErrCapacity)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// UserMessage renders a plain-language reason for business rule errors.
func UserMessage(err error) string {
	var (
		insufficient *InsufficientBalanceError
		capped       *CapExceededError
		overspend    *OverspendError
		expired      *ExpiredCoinError
	)
	switch {
	case errors.As(err, &insufficient):
		return fmt.Sprintf("Not enough %s coins: you have %s but need %s.",
			insufficient.Resource, insufficient.Available, insufficient.Requested)
	case errors.As(err, &capped):
		return fmt.Sprintf("At most %s government coins can be used for %s.",
			capped.Cap, capped.Category)
	case errors.As(err, &overspend):
		return fmt.Sprintf("You cannot use more coins than the price of %s.", overspend.Target)
	case errors.As(err, &expired):
		return "Your government coins have expired and can no longer be used."
	case errors.Is(err, ErrCapacity):
		return "This item is no longer available."
	case errors.Is(err, ErrTransient):
		return "The service is busy, please retry."
	}
	return err.Error()
}
