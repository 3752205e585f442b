package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// WINDOW - Half-open time interval [Start, End)
// =============================================================================

type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) Duration() time.Duration { return w.End.Sub(w.Start) }
func (w Window) Hours() decimal.Decimal  { return HoursOf(w.Duration()) }
func (w Window) IsValid() bool           { return w.End.After(w.Start) }

// Contains reports whether other lies entirely inside w.
func (w Window) Contains(other Window) bool {
	return !other.Start.Before(w.Start) && !other.End.After(w.End)
}

func (w Window) String() string {
	return fmt.Sprintf("[%s, %s)", w.Start.Format("2006-01-02 15:04"), w.End.Format("15:04"))
}

// =============================================================================
// CLOCK - Time of day, minute precision
// =============================================================================

// Clock is a time of day expressed in minutes after midnight.
type Clock int

func NewClock(hour, minute int) Clock { return Clock(hour*60 + minute) }

// ParseClock parses "HH:MM".
func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", s, err)
	}
	return NewClock(t.Hour(), t.Minute()), nil
}

func (c Clock) Hour() int   { return int(c) / 60 }
func (c Clock) Minute() int { return int(c) % 60 }

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute()) }

// On returns the instant this clock time falls on for the given date.
func (c Clock) On(date time.Time) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, c.Hour(), c.Minute(), 0, 0, date.Location())
}

// =============================================================================
// OPERATING HOURS - Daily bookable window
// =============================================================================

type OperatingHours struct {
	Open  Clock
	Close Clock
}

// DefaultOperatingHours is 07:00-22:00.
func DefaultOperatingHours() OperatingHours {
	return OperatingHours{Open: NewClock(7, 0), Close: NewClock(22, 0)}
}

// WindowOn returns the operating window for a date.
func (h OperatingHours) WindowOn(date time.Time) Window {
	return Window{Start: h.Open.On(date), End: h.Close.On(date)}
}

// =============================================================================
// TIME UTILITIES
// =============================================================================

var minutesPerHour = decimal.NewFromInt(60)

// HourPlaces is the scale hours are kept at in prices and credit balances.
const HourPlaces = 4

// HoursOf converts a duration to decimal hours at minute precision, rounded
// to HourPlaces so repeated ledger arithmetic never accumulates residue.
func HoursOf(d time.Duration) decimal.Decimal {
	return decimal.NewFromInt(int64(d/time.Minute)).DivRound(minutesPerHour, HourPlaces)
}

// DateOf returns midnight of t's day in t's location.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// SameDate reports whether a and b fall on the same calendar day.
func SameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
