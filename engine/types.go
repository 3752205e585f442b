/*
Package engine provides the reservation availability, pricing and settlement core.

PURPOSE:
  This package decides whether a time window on a shared workspace resource is
  free, prices a reservation under the hourly, credit and flat-rate regimes,
  keeps per-member credit balances, and reconciles booked against actual usage
  at checkout. It performs no I/O of its own: reservation lists, credit balances
  and resource definitions are handed in by the caller.

KEY CONCEPTS IN THIS FILE (types.go):
  - Resource: A bookable desk, meeting room or day-pass product
  - Reservation: A booking with its pricing snapshot and lifecycle status
  - Amount: A credit quantity with a unit (hours, credits, passes)
  - Identifiers: Type-safe IDs for resources, reservations and users

DESIGN PRINCIPLES:
  1. Precision: Money and hours use decimal.Decimal, money rounded to cents
  2. Snapshots: A reservation keeps the rate and discount it was sold at
  3. No globals: Rules, stores and clocks are passed into every call
  4. Typed failures: Validation outcomes are returned as *ValidationError

USAGE:
  req, err := engine.NewBookingRequest(rules, desk, "member-1", start, end)
  if err != nil {
      // *engine.ValidationError with a Code
  }
  quote := engine.PriceReservation(rules, desk, req.Duration(), holder, decimal.Zero)

SEE ALSO:
  - availability.go: Overlap detection and slot generation
  - rate.go: Pricing regimes
  - credit.go: Credit ledger
  - settlement.go: Checkout reconciliation
  - lifecycle.go: Reservation state machine
*/
package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ResourceID string
type ReservationID string
type UserID string
type CreditType string

// Credit types issued by membership plans.
const (
	CreditMeetingRoomHours CreditType = "meeting-room-hours"
	CreditPrinting         CreditType = "printing-credits"
	CreditGuestPasses      CreditType = "guest-passes"
)

// Unit returns the unit a credit type is counted in.
func (c CreditType) Unit() Unit {
	switch c {
	case CreditMeetingRoomHours:
		return UnitHours
	case CreditGuestPasses:
		return UnitPasses
	default:
		return UnitCredits
	}
}

// =============================================================================
// AMOUNT - Credit quantity with unit
// =============================================================================

type Amount struct {
	Value decimal.Decimal
	Unit  Unit
}

type Unit string

const (
	UnitHours   Unit = "hours"
	UnitCredits Unit = "credits"
	UnitPasses  Unit = "passes"
)

// =============================================================================
// RESOURCE - Something a member can book
// =============================================================================

type Category string

const (
	CategoryDesk        Category = "desk"
	CategoryMeetingRoom Category = "meeting-room"
	CategoryDayPass     Category = "day-pass"
)

// Resource is a bookable workspace resource. It is immutable for the engine.
type Resource struct {
	ID       ResourceID
	Name     string
	Category Category

	// HourlyRate is the base price per hour for desks and meeting rooms.
	HourlyRate decimal.Decimal

	// FlatRate is the single price of a flat-rate product (day pass).
	FlatRate decimal.Decimal

	// CreditEligible resources may be paid (partly) with credits of CreditType.
	CreditEligible bool
	CreditType     CreditType

	MinDuration time.Duration
	MaxDuration time.Duration
}

// IsFlatRate reports whether the resource is sold at a single price
// regardless of duration.
func (r Resource) IsFlatRate() bool {
	return r.Category == CategoryDayPass
}

// IsExclusive reports whether a reservation holds the resource for its
// window. Flat-rate products are sold, not occupied: any number of members
// may hold a day pass for the same date.
func (r Resource) IsExclusive() bool {
	return !r.IsFlatRate()
}

// =============================================================================
// RESERVATION - A booking and its pricing snapshot
// =============================================================================

type PaymentMethod string

const (
	PaymentCard        PaymentMethod = "card"
	PaymentCredits     PaymentMethod = "credits"
	PaymentCreditsCard PaymentMethod = "credits+card"
	PaymentFree        PaymentMethod = "free"
)

// Reservation is a booking of a resource for a window on a single date.
//
// HolderDiscount and EffectiveRate are captured when the reservation is
// priced and are never recomputed. Settlement always uses EffectiveRate.
type Reservation struct {
	ID         ReservationID
	ResourceID ResourceID
	UserID     UserID

	// Date is midnight of the booked day in the operating location.
	Date  time.Time
	Start time.Time
	End   time.Time

	Status Status

	HolderDiscount bool
	EffectiveRate  decimal.Decimal

	CreditType    CreditType
	CreditHours   decimal.Decimal
	OverageHours  decimal.Decimal
	Subtotal      decimal.Decimal
	Discount      decimal.Decimal
	ProcessingFee decimal.Decimal
	Total         decimal.Decimal
	PaymentMethod PaymentMethod

	CheckedInAt  *time.Time
	CheckedOutAt *time.Time
	CancelledAt  *time.Time
	Settlement   *Settlement
	RefundAmount decimal.Decimal

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Window returns the booked [Start, End) interval.
func (r Reservation) Window() Window {
	return Window{Start: r.Start, End: r.End}
}

// BookedHours returns the booked duration in hours.
func (r Reservation) BookedHours() decimal.Decimal {
	return HoursOf(r.End.Sub(r.Start))
}

// ApplyPrice copies a price breakdown into the reservation's snapshot.
func (r *Reservation) ApplyPrice(p PriceBreakdown) {
	r.HolderDiscount = p.HolderDiscount
	r.EffectiveRate = p.EffectiveRate
	r.CreditHours = p.CreditsApplied
	r.OverageHours = p.OverageHours
	r.Subtotal = p.Subtotal
	r.Discount = p.Discount
	r.ProcessingFee = p.ProcessingFee
	r.Total = p.Total
	r.PaymentMethod = p.PaymentMethod()
}
