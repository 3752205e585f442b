/*
lifecycle.go - Reservation state machine

PURPOSE:
  Governs a reservation's status and which operations are legal when.

STATES:
  ┌─────────┐  payment / $0   ┌───────────┐  check-in   ┌────────────┐  checkout   ┌───────────┐
  │ pending │ ──────────────▶ │ confirmed │ ──────────▶ │ checked_in │ ──────────▶ │ completed │
  └─────────┘                 └───────────┘             └────────────┘             └───────────┘
       │                            │
       └──────────┬─────────────────┘
                  ▼
            ┌───────────┐
            │ cancelled │
            └───────────┘

GUARDS:
  - Check-in: from CheckInEarly before start to CheckInLate after start
    (15 and 60 minutes by default), and only if the member holds no other
    checked_in reservation. A day pass may be checked into from CheckInEarly
    before opening until closing.
  - Cancel: only from pending or confirmed.
  - Cancellation refund: the full total if cancelled strictly more than
    CancellationNotice (24h) before start, nothing otherwise. Hard cutoff.
  - Completed: only through CheckOut, which settles the stay.

SEE ALSO:
  - settlement.go: CheckOut settlement
  - booking/service.go: Persists transitions
*/
package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCheckedIn Status = "checked_in"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// IsActive reports whether the reservation is still in progress. Only active
// reservations occupy their window.
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusConfirmed || s == StatusCheckedIn
}

var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCheckedIn, StatusCancelled},
	StatusCheckedIn: {StatusCompleted},
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// InitialStatus is the status a newly priced reservation starts in. A
// reservation that costs nothing has nothing to capture.
func InitialStatus(total decimal.Decimal) Status {
	if total.IsZero() {
		return StatusConfirmed
	}
	return StatusPending
}

func (r *Reservation) transition(to Status, at time.Time) error {
	if !CanTransition(r.Status, to) {
		return &TransitionError{ReservationID: r.ID, From: r.Status, To: to}
	}
	r.Status = to
	r.UpdatedAt = at
	return nil
}

// Confirm records that payment was captured.
func (r *Reservation) Confirm(at time.Time) error {
	return r.transition(StatusConfirmed, at)
}

// CheckInWindow returns the interval in which r, booked on resource, may be
// checked into. Both ends are inclusive.
func CheckInWindow(rules Rules, resource Resource, r Reservation) Window {
	if resource.IsFlatRate() {
		day := rules.Hours.WindowOn(rules.In(r.Start))
		return Window{Start: day.Start.Add(-rules.CheckInEarly), End: day.End}
	}
	return Window{Start: r.Start.Add(-rules.CheckInEarly), End: r.Start.Add(rules.CheckInLate)}
}

// CheckIn moves r to checked_in. held is the member's other reservations;
// any of them already checked in blocks this one.
func (r *Reservation) CheckIn(rules Rules, resource Resource, at time.Time, held []Reservation) error {
	if !CanTransition(r.Status, StatusCheckedIn) {
		return &TransitionError{ReservationID: r.ID, From: r.Status, To: StatusCheckedIn}
	}
	w := CheckInWindow(rules, resource, *r)
	if at.Before(w.Start) || at.After(w.End) {
		return ErrCheckInWindow
	}
	for _, h := range held {
		if h.ID != r.ID && h.UserID == r.UserID && h.Status == StatusCheckedIn {
			return ErrAlreadyCheckedIn
		}
	}
	if err := r.transition(StatusCheckedIn, at); err != nil {
		return err
	}
	r.CheckedInAt = &at
	return nil
}

// CheckOut completes r and settles the stay.
func (r *Reservation) CheckOut(at time.Time) (Settlement, error) {
	if !CanTransition(r.Status, StatusCompleted) || r.CheckedInAt == nil {
		return Settlement{}, &TransitionError{ReservationID: r.ID, From: r.Status, To: StatusCompleted}
	}
	if at.Before(*r.CheckedInAt) {
		return Settlement{}, newValidationError(CodeInvalidTimeRange,
			Window{Start: *r.CheckedInAt, End: at}, "checkout before check-in")
	}
	s := SettleReservation(*r, *r.CheckedInAt, at)
	if err := r.transition(StatusCompleted, at); err != nil {
		return Settlement{}, err
	}
	r.CheckedOutAt = &at
	r.Settlement = &s
	return s, nil
}

// Cancellation is the outcome of cancelling a reservation.
type Cancellation struct {
	FullRefund bool
	Refund     decimal.Decimal

	// CreditHours to hand back to the ledger.
	CreditHours decimal.Decimal
}

// CancellationTerms returns what cancelling r at time at would refund.
func CancellationTerms(rules Rules, r Reservation, at time.Time) Cancellation {
	if r.Start.Sub(at) > rules.CancellationNotice {
		return Cancellation{FullRefund: true, Refund: r.Total, CreditHours: r.CreditHours}
	}
	return Cancellation{Refund: decimal.Zero, CreditHours: decimal.Zero}
}

// Cancel moves r to cancelled and applies the refund policy.
func (r *Reservation) Cancel(rules Rules, at time.Time) (Cancellation, error) {
	if !CanTransition(r.Status, StatusCancelled) {
		return Cancellation{}, &TransitionError{ReservationID: r.ID, From: r.Status, To: StatusCancelled}
	}
	terms := CancellationTerms(rules, *r, at)
	if err := r.transition(StatusCancelled, at); err != nil {
		return Cancellation{}, err
	}
	r.CancelledAt = &at
	r.RefundAmount = terms.Refund
	return terms, nil
}
