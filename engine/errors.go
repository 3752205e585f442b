/*
errors.go - Centralized error types for the reservation engine

PURPOSE:
  All failures the engine can produce, in one place. Every engine failure is a
  local, synchronous validation outcome: the engine performs no I/O, so there
  is no transient failure class here. Retry and timeout policy belong to the
  caller that feeds data in.

ERROR CATEGORIES:
  1. Validation errors - Bad windows, durations, unavailable slots
  2. Lifecycle errors  - Illegal status transitions, check-in guards
  3. Ledger errors     - Credit invariant violations
  4. Lookup errors     - Missing reservations, resources, balances

USAGE:
  _, err := engine.NewBookingRequest(rules, desk, user, start, end)
  if errors.Is(err, engine.ErrBelowMinimumDuration) {
      ...
  }
  var vErr *engine.ValidationError
  if errors.As(err, &vErr) {
      log.Println(vErr.Code)
  }

SEE ALSO:
  - request.go: Boundary validation producing ValidationError
  - lifecycle.go: TransitionError
  - credit.go: InvariantViolationError
*/
package engine

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrInvalidTimeRange      = errors.New("invalid time range: end not after start")
	ErrOutsideOperatingHours = errors.New("outside operating hours")
	ErrSlotUnavailable       = errors.New("slot unavailable")
	ErrBelowMinimumDuration  = errors.New("below minimum duration")
	ErrAboveMaximumDuration  = errors.New("above maximum duration")

	// ErrCreditLedgerInvariant should be unreachable: deductions and refunds
	// are capped before they are written. It is still checked on every write.
	ErrCreditLedgerInvariant = errors.New("credit ledger invariant violation")

	ErrIllegalTransition  = errors.New("illegal status transition")
	ErrCheckInWindow      = errors.New("outside check-in window")
	ErrAlreadyCheckedIn   = errors.New("user already checked in elsewhere")
	ErrResourceMismatch   = errors.New("reservation does not belong to resource")
	ErrUnsupportedProduct = errors.New("resource cannot be booked this way")

	ErrReservationNotFound = errors.New("reservation not found")
	ErrResourceNotFound    = errors.New("resource not found")
	ErrBalanceNotFound     = errors.New("credit balance not found")

	// ErrDuplicateIdempotencyKey is returned by stores when a credit
	// transaction with the same key already exists.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrDuplicateReservation is returned by stores on a reservation ID clash.
	ErrDuplicateReservation = errors.New("duplicate reservation id")
)

// =============================================================================
// VALIDATION ERROR - Typed result of boundary and availability checks
// =============================================================================

type ErrorCode string

const (
	CodeInvalidTimeRange      ErrorCode = "invalid_time_range"
	CodeOutsideOperatingHours ErrorCode = "outside_operating_hours"
	CodeSlotUnavailable       ErrorCode = "slot_unavailable"
	CodeBelowMinimumDuration  ErrorCode = "below_minimum_duration"
	CodeAboveMaximumDuration  ErrorCode = "above_maximum_duration"
)

var codeSentinels = map[ErrorCode]error{
	CodeInvalidTimeRange:      ErrInvalidTimeRange,
	CodeOutsideOperatingHours: ErrOutsideOperatingHours,
	CodeSlotUnavailable:       ErrSlotUnavailable,
	CodeBelowMinimumDuration:  ErrBelowMinimumDuration,
	CodeAboveMaximumDuration:  ErrAboveMaximumDuration,
}

// ValidationError is a rejected booking window.
type ValidationError struct {
	Code    ErrorCode
	Message string
	Window  Window

	// ConflictID is set for CodeSlotUnavailable.
	ConflictID ReservationID
}

func (e *ValidationError) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return codeSentinels[e.Code]
}

func newValidationError(code ErrorCode, w Window, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Window: w, Message: fmt.Sprintf(format, args...)}
}

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// TransitionError is an attempted status change the lifecycle forbids.
type TransitionError struct {
	ReservationID ReservationID
	From          Status
	To            Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("reservation %s: cannot move from %s to %s", e.ReservationID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrIllegalTransition }

// InvariantViolationError describes a credit balance write that would have
// left remaining outside [0, allocated].
type InvariantViolationError struct {
	UserID     UserID
	CreditType CreditType
	Allocated  decimal.Decimal
	Used       decimal.Decimal
	Operation  string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("credit ledger invariant violated on %s for %s/%s: allocated %s, used %s",
		e.Operation, e.UserID, e.CreditType, e.Allocated, e.Used)
}

func (e *InvariantViolationError) Unwrap() error { return ErrCreditLedgerInvariant }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidTimeRange) ||
		errors.Is(err, ErrOutsideOperatingHours) ||
		errors.Is(err, ErrBelowMinimumDuration) ||
		errors.Is(err, ErrAboveMaximumDuration) ||
		errors.Is(err, ErrCheckInWindow) ||
		errors.Is(err, ErrResourceMismatch) ||
		errors.Is(err, ErrUnsupportedProduct)
}

// IsConflict returns true if the request clashes with current state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrSlotUnavailable) ||
		errors.Is(err, ErrIllegalTransition) ||
		errors.Is(err, ErrAlreadyCheckedIn) ||
		errors.Is(err, ErrDuplicateReservation)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrReservationNotFound) ||
		errors.Is(err, ErrResourceNotFound) ||
		errors.Is(err, ErrBalanceNotFound)
}
