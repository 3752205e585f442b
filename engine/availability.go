/*
availability.go - Interval overlap detection and free-slot generation

PURPOSE:
  Answers "is this window free?" and "what can still be booked today?" for a
  single resource on a single date. Everything here is a pure function over
  the reservation list the caller supplies.

OVERLAP RULE:
  Two half-open intervals [a.Start, a.End) and [b.Start, b.End) overlap iff
    a.Start < b.End AND a.End > b.Start
  Touching intervals (a.End == b.Start) do NOT overlap, so back-to-back
  bookings are allowed.

BLOCKING STATUSES:
  Only pending, confirmed and checked_in reservations block their window.
  Cancelled and completed ones free it, so the rest of a window left by an
  early checkout can be rebooked.

FLAT-RATE PRODUCTS:
  A day pass is not an exclusive interval. Callers skip the overlap check
  for resources that are not IsExclusive, and their slot list is always the
  whole operating day, free.

SLOT GENERATION:
  07:00 ─────────────────────────────────────────────── 22:00
        [ free 07-09 ][ busy 09-11 ][ free 11-11:30 ][ busy 11:30-14 ][ free ]
                                      ▲ dropped if shorter than minDuration

  Reservations are sorted internally; callers must not rely on input order.
  Spans outside the operating window are clipped, overlapping spans merged.

CONCURRENCY:
  A slot list is a read-time answer. The authoritative check is RequireAvailable
  re-run inside the store transaction that writes the reservation.

SEE ALSO:
  - store.go: ActiveReservations feeds these functions
  - booking/service.go: Commit-time re-check
*/
package engine

import (
	"sort"
	"time"
)

// Slot is a contiguous interval on a resource, ready for display.
type Slot struct {
	ResourceID   ResourceID
	ResourceName string
	Start        time.Time
	End          time.Time
	Available    bool
}

func (s Slot) Window() Window { return Window{Start: s.Start, End: s.End} }

// HasOverlap reports whether two half-open windows overlap.
func HasOverlap(a, b Window) bool {
	return a.Start.Before(b.End) && a.End.After(b.Start)
}

// FindConflict returns the first blocking reservation overlapping w, or nil.
func FindConflict(existing []Reservation, w Window) *Reservation {
	for i := range existing {
		r := existing[i]
		if !r.Status.IsActive() {
			continue
		}
		if HasOverlap(r.Window(), w) {
			return &r
		}
	}
	return nil
}

// IsWindowAvailable reports whether no blocking reservation overlaps w.
func IsWindowAvailable(existing []Reservation, w Window) bool {
	return FindConflict(existing, w) == nil
}

// RequireAvailable is IsWindowAvailable as a typed result.
func RequireAvailable(existing []Reservation, w Window) error {
	if c := FindConflict(existing, w); c != nil {
		err := newValidationError(CodeSlotUnavailable, w, "%s overlaps reservation %s %s", w, c.ID, c.Window())
		err.ConflictID = c.ID
		return err
	}
	return nil
}

// GenerateAvailableSlots walks the operating window of date and returns free
// gaps and busy spans in chronological order. Free gaps shorter than
// minDuration are dropped.
func GenerateAvailableSlots(hours OperatingHours, resource Resource, reservations []Reservation, date time.Time, minDuration time.Duration) []Slot {
	day := hours.WindowOn(date)
	if !resource.IsExclusive() {
		reservations = nil
	}

	var busy []Window
	for _, r := range reservations {
		if r.ResourceID != resource.ID || !r.Status.IsActive() {
			continue
		}
		w := r.Window()
		if !HasOverlap(w, day) {
			continue
		}
		busy = append(busy, clip(w, day))
	}
	sort.Slice(busy, func(i, j int) bool {
		return busy[i].Start.Before(busy[j].Start)
	})

	slot := func(w Window, available bool) Slot {
		return Slot{
			ResourceID:   resource.ID,
			ResourceName: resource.Name,
			Start:        w.Start,
			End:          w.End,
			Available:    available,
		}
	}

	if len(busy) == 0 {
		return []Slot{slot(day, true)}
	}

	var slots []Slot
	cursor := day.Start
	for _, b := range busy {
		if b.Start.After(cursor) {
			gap := Window{Start: cursor, End: b.Start}
			if gap.Duration() >= minDuration {
				slots = append(slots, slot(gap, true))
			}
		}
		if !b.End.After(cursor) {
			continue
		}
		start := b.Start
		if start.Before(cursor) {
			// Overlaps the previous busy span: extend it.
			if n := len(slots); n > 0 && !slots[n-1].Available && slots[n-1].End.Equal(cursor) {
				slots[n-1].End = b.End
				cursor = b.End
				continue
			}
			start = cursor
		}
		slots = append(slots, slot(Window{Start: start, End: b.End}, false))
		cursor = b.End
	}

	if cursor.Before(day.End) {
		gap := Window{Start: cursor, End: day.End}
		if gap.Duration() >= minDuration {
			slots = append(slots, slot(gap, true))
		}
	}
	return slots
}

func clip(w, bound Window) Window {
	if w.Start.Before(bound.Start) {
		w.Start = bound.Start
	}
	if w.End.After(bound.End) {
		w.End = bound.End
	}
	return w
}
