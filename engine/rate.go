/*
rate.go - Reservation pricing

PURPOSE:
  Computes what a reservation costs. Three regimes exist, chosen by the
  resource being booked:

  HOURLY (desks):
    subtotal = baseRate * hours
    discount = holder ? subtotal * 50% : 0
    fee      = processing fee
    total    = subtotal - discount + fee

  CREDIT-ELIGIBLE (meeting rooms):
    applied  = min(hours, availableCredits)
    overage  = hours - applied
    subtotal = overage * baseRate
    discount = holder ? subtotal * 50% : 0
    fee      = subtotal > discount ? processing fee : 0
    total    = subtotal - discount + fee

  FLAT (day passes):
    total = flatRate * (holder ? 50% : 100%) + fee

ROUNDING:
  Every monetary intermediate (subtotal, discount, fee, total) is rounded to
  cents on its own before it is combined with the next term. That is the
  granularity prices are stored and shown at, so repeated additions never
  drift away from what the member saw.

HOLDER DISCOUNT:
  Eligibility is decided once, when the quote is made, and stored on the
  reservation together with the effective hourly rate. Nothing downstream
  looks at the member's current holder status again.

EXAMPLE:
  $60/hr room, 4 hours, 2 credit-hours left, no holder discount:
    applied 2h, overage 2h, subtotal $120.00, fee $2.00, total $122.00

SEE ALSO:
  - settlement.go: Uses EffectiveRate from the breakdown
  - credit.go: Supplies availableCredits
*/
package engine

import "github.com/shopspring/decimal"

// Regime identifies which pricing formula produced a breakdown.
type Regime string

const (
	RegimeHourly Regime = "hourly"
	RegimeCredit Regime = "credit"
	RegimeFlat   Regime = "flat"
)

// PriceBreakdown is the itemized price of a reservation.
type PriceBreakdown struct {
	Regime         Regime
	Hours          decimal.Decimal
	BaseRate       decimal.Decimal
	HolderDiscount bool

	// EffectiveRate is the per-hour price after holder discount. It is the
	// rate settlement uses at checkout.
	EffectiveRate decimal.Decimal

	CreditsApplied decimal.Decimal
	OverageHours   decimal.Decimal

	Subtotal      decimal.Decimal
	Discount      decimal.Decimal
	ProcessingFee decimal.Decimal
	Total         decimal.Decimal
}

// PaymentMethod derives the payment tag stored on the reservation.
func (p PriceBreakdown) PaymentMethod() PaymentMethod {
	credited := p.CreditsApplied.IsPositive()
	switch {
	case p.Total.IsZero() && credited:
		return PaymentCredits
	case p.Total.IsZero():
		return PaymentFree
	case credited:
		return PaymentCreditsCard
	default:
		return PaymentCard
	}
}

// RoundMoney rounds to cents.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// PriceReservation prices hours on resource using the regime the resource
// calls for. availableCredits is ignored for resources that are not
// credit-eligible.
func PriceReservation(rules Rules, resource Resource, hours decimal.Decimal, holder bool, availableCredits decimal.Decimal) PriceBreakdown {
	switch {
	case resource.IsFlatRate():
		return PriceFlat(rules, resource.FlatRate, holder)
	case resource.CreditEligible:
		return PriceWithCredits(rules, resource.HourlyRate, hours, holder, availableCredits)
	default:
		return PriceHourly(rules, resource.HourlyRate, hours, holder)
	}
}

// PriceHourly prices a per-hour resource.
func PriceHourly(rules Rules, rate, hours decimal.Decimal, holder bool) PriceBreakdown {
	subtotal := RoundMoney(rate.Mul(hours))
	discount := holderDiscount(rules, subtotal, holder)
	fee := RoundMoney(rules.ProcessingFee)

	return PriceBreakdown{
		Regime:         RegimeHourly,
		Hours:          hours,
		BaseRate:       rate,
		HolderDiscount: holder,
		EffectiveRate:  effectiveRate(rules, rate, holder),
		CreditsApplied: decimal.Zero,
		OverageHours:   decimal.Zero,
		Subtotal:       subtotal,
		Discount:       discount,
		ProcessingFee:  fee,
		Total:          RoundMoney(subtotal.Sub(discount).Add(fee)),
	}
}

// PriceWithCredits prices a credit-eligible resource. Credits cover hours
// first; only the overage is charged. A fully covered booking carries no fee.
func PriceWithCredits(rules Rules, rate, hours decimal.Decimal, holder bool, availableCredits decimal.Decimal) PriceBreakdown {
	if availableCredits.IsNegative() {
		availableCredits = decimal.Zero
	}
	applied := decimal.Min(hours, availableCredits)
	overage := hours.Sub(applied)

	charge := RoundMoney(overage.Mul(rate))
	discount := holderDiscount(rules, charge, holder)
	fee := decimal.Zero
	if charge.GreaterThan(discount) {
		fee = RoundMoney(rules.ProcessingFee)
	}

	return PriceBreakdown{
		Regime:         RegimeCredit,
		Hours:          hours,
		BaseRate:       rate,
		HolderDiscount: holder,
		EffectiveRate:  effectiveRate(rules, rate, holder),
		CreditsApplied: applied,
		OverageHours:   overage,
		Subtotal:       charge,
		Discount:       discount,
		ProcessingFee:  fee,
		Total:          RoundMoney(charge.Sub(discount).Add(fee)),
	}
}

// PriceFlat prices a flat-rate product such as a day pass.
func PriceFlat(rules Rules, flat decimal.Decimal, holder bool) PriceBreakdown {
	subtotal := RoundMoney(flat)
	discount := holderDiscount(rules, subtotal, holder)
	fee := RoundMoney(rules.ProcessingFee)

	return PriceBreakdown{
		Regime:         RegimeFlat,
		Hours:          decimal.Zero,
		BaseRate:       decimal.Zero,
		HolderDiscount: holder,
		EffectiveRate:  decimal.Zero,
		CreditsApplied: decimal.Zero,
		OverageHours:   decimal.Zero,
		Subtotal:       subtotal,
		Discount:       discount,
		ProcessingFee:  fee,
		Total:          RoundMoney(subtotal.Sub(discount).Add(fee)),
	}
}

func holderDiscount(rules Rules, amount decimal.Decimal, holder bool) decimal.Decimal {
	if !holder {
		return decimal.Zero
	}
	return RoundMoney(amount.Mul(rules.HolderDiscount))
}

func effectiveRate(rules Rules, rate decimal.Decimal, holder bool) decimal.Decimal {
	if !holder {
		return RoundMoney(rate)
	}
	return RoundMoney(rate.Sub(rate.Mul(rules.HolderDiscount)))
}
