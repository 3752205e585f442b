/*
settlement.go - Booked vs actual reconciliation at checkout

PURPOSE:
  When a member checks out, the time actually used (check-in to check-out)
  is compared with the time booked:

    actual < booked:  refund  = (booked - actual) * effectiveRate
    actual > booked:  overage = (actual - booked) * effectiveRate
    actual == booked: no adjustment

  effectiveRate is the rate captured on the reservation when it was priced,
  holder discount included. It is never re-derived at checkout, so the
  member is settled against the price they agreed to. The processing fee
  from the original quote is neither recomputed nor refunded here.

CREDIT RESERVATIONS:
  For a reservation partly paid with credits, only the hours that were paid
  in money can come back as money. Unused hours beyond that go back to the
  credit ledger:

    booked 4h = 2h credits + 2h paid, used 1h -> 3h unused
      money refund   = 2h * rate
      credits return = 1h

SEE ALSO:
  - lifecycle.go: CheckOut calls SettleReservation
  - credit.go: Refund receives CreditHoursReturned
*/
package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

type SettlementKind string

const (
	SettlementNone    SettlementKind = "none"
	SettlementRefund  SettlementKind = "refund"
	SettlementOverage SettlementKind = "overage"
)

// Settlement is the checkout adjustment for a reservation.
type Settlement struct {
	Kind        SettlementKind
	BookedHours decimal.Decimal
	ActualHours decimal.Decimal

	// Hours is the absolute difference between booked and actual.
	Hours  decimal.Decimal
	Rate   decimal.Decimal
	Amount decimal.Decimal

	// CreditHoursReturned is set for credit reservations ended early.
	CreditHoursReturned decimal.Decimal
}

// Settle computes the adjustment for booked vs actual hours at rate.
func Settle(booked, actual, rate decimal.Decimal) Settlement {
	s := Settlement{
		Kind:                SettlementNone,
		BookedHours:         booked,
		ActualHours:         actual,
		Hours:               decimal.Zero,
		Rate:                rate,
		Amount:              decimal.Zero,
		CreditHoursReturned: decimal.Zero,
	}
	switch actual.Cmp(booked) {
	case -1:
		s.Kind = SettlementRefund
		s.Hours = booked.Sub(actual)
	case 1:
		s.Kind = SettlementOverage
		s.Hours = actual.Sub(booked)
	default:
		return s
	}
	s.Amount = RoundMoney(s.Hours.Mul(rate))
	return s
}

// SettleReservation settles r for a stay from checkedIn to checkedOut.
func SettleReservation(r Reservation, checkedIn, checkedOut time.Time) Settlement {
	booked := r.BookedHours()
	actual := HoursOf(checkedOut.Sub(checkedIn))
	if actual.IsNegative() {
		actual = decimal.Zero
	}

	// Flat-rate products are not metered.
	if r.EffectiveRate.IsZero() {
		return Settle(booked, booked, decimal.Zero)
	}

	s := Settle(booked, actual, r.EffectiveRate)
	if s.Kind != SettlementRefund || !r.CreditHours.IsPositive() {
		return s
	}

	paid := decimal.Min(s.Hours, r.OverageHours)
	s.CreditHoursReturned = s.Hours.Sub(paid)
	s.Amount = RoundMoney(paid.Mul(r.EffectiveRate))
	return s
}
