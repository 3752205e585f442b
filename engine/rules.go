package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// Rules holds the commercial and operational constants the engine applies.
// They are passed into every call; the engine keeps no copy of its own.
type Rules struct {
	Hours OperatingHours

	// Location is where dates and operating hours are interpreted.
	Location *time.Location

	ProcessingFee  decimal.Decimal
	HolderDiscount decimal.Decimal // fraction taken off, 0.5 = 50%

	CheckInEarly time.Duration // how long before start check-in opens
	CheckInLate  time.Duration // how long after start check-in stays open

	// CancellationNotice is the minimum lead time for a full refund.
	CancellationNotice time.Duration
}

// DefaultRules returns the standard house rules.
func DefaultRules() Rules {
	return Rules{
		Hours:              DefaultOperatingHours(),
		Location:           time.UTC,
		ProcessingFee:      decimal.RequireFromString("2.00"),
		HolderDiscount:     decimal.RequireFromString("0.5"),
		CheckInEarly:       15 * time.Minute,
		CheckInLate:        60 * time.Minute,
		CancellationNotice: 24 * time.Hour,
	}
}

// location never returns nil.
func (r Rules) location() *time.Location {
	if r.Location == nil {
		return time.UTC
	}
	return r.Location
}

// In converts t into the operating location.
func (r Rules) In(t time.Time) time.Time {
	return t.In(r.location())
}
