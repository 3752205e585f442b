package engine

import "time"

// =============================================================================
// CYCLE - A credit billing period
// =============================================================================

// Cycle is the half-open period [Start, End) a credit balance is valid for.
// Balances never roll over: a new cycle starts from its own allocation.
type Cycle struct {
	Start time.Time
	End   time.Time
}

// Contains returns true if t is within [Start, End).
func (c Cycle) Contains(t time.Time) bool {
	return !t.Before(c.Start) && t.Before(c.End)
}

func (c Cycle) IsValid() bool { return c.End.After(c.Start) }

func (c Cycle) String() string {
	return "[" + c.Start.Format("2006-01-02") + ", " + c.End.Format("2006-01-02") + ")"
}

// CycleType defines how cycles are laid out on the calendar.
type CycleType string

const (
	CycleMonthly     CycleType = "monthly"     // 1st of month to 1st of next
	CycleWeekly      CycleType = "weekly"      // Monday to Monday
	CycleAnniversary CycleType = "anniversary" // monthly from the member's join day
)

// CycleConfig computes the cycle a date falls into.
type CycleConfig struct {
	Type CycleType

	// Anchor is the join date for anniversary cycles.
	Anchor *time.Time
}

// CycleFor returns the cycle containing date.
func (cc CycleConfig) CycleFor(date time.Time) Cycle {
	switch cc.Type {
	case CycleWeekly:
		day := DateOf(date)
		offset := (int(day.Weekday()) + 6) % 7 // Monday = 0
		start := day.AddDate(0, 0, -offset)
		return Cycle{Start: start, End: start.AddDate(0, 0, 7)}

	case CycleAnniversary:
		if cc.Anchor == nil {
			return monthlyCycle(date)
		}
		return cc.anniversaryCycle(date)

	default:
		return monthlyCycle(date)
	}
}

func monthlyCycle(date time.Time) Cycle {
	start := time.Date(date.Year(), date.Month(), 1, 0, 0, 0, 0, date.Location())
	return Cycle{Start: start, End: start.AddDate(0, 1, 0)}
}

func (cc CycleConfig) anniversaryCycle(date time.Time) Cycle {
	anchor := DateOf(cc.Anchor.In(date.Location()))
	months := (date.Year()-anchor.Year())*12 + int(date.Month()-anchor.Month())

	start := addMonthsClamped(anchor, months)
	// If date is before this month's anniversary, we're in the previous cycle
	if date.Before(start) {
		months--
		start = addMonthsClamped(anchor, months)
	}
	return Cycle{Start: start, End: addMonthsClamped(anchor, months+1)}
}

// addMonthsClamped adds n months to t, pinning the day to the last day of
// the target month (Jan 31 + 1 month = Feb 28).
func addMonthsClamped(t time.Time, n int) time.Time {
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location()).AddDate(0, n, 0)
	last := first.AddDate(0, 1, -1).Day()
	day := t.Day()
	if day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, t.Location())
}

// Next returns the cycle following c under the same config.
func (cc CycleConfig) Next(c Cycle) Cycle {
	return cc.CycleFor(c.End)
}
