package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// BOOKING REQUEST - Validated once at the boundary
// =============================================================================

// BookingRequest is a window on a resource that has passed every static
// check. Availability is not part of it: that is decided at commit time.
type BookingRequest struct {
	Resource Resource
	UserID   UserID
	Window   Window
}

// Date returns midnight of the booked day.
func (b BookingRequest) Date() time.Time { return DateOf(b.Window.Start) }

// Duration returns the booked length in hours.
func (b BookingRequest) Duration() decimal.Decimal { return b.Window.Hours() }

// NewBookingRequest validates a requested window for resource. The window is
// interpreted in rules.Location. Flat-rate products always book the full
// operating day of start's date, whatever end says.
func NewBookingRequest(rules Rules, resource Resource, userID UserID, start, end time.Time) (*BookingRequest, error) {
	start, end = rules.In(start), rules.In(end)

	if resource.IsFlatRate() {
		return &BookingRequest{
			Resource: resource,
			UserID:   userID,
			Window:   rules.Hours.WindowOn(DateOf(start)),
		}, nil
	}

	w := Window{Start: start, End: end}
	if err := ValidateWindow(rules, resource, w); err != nil {
		return nil, err
	}
	return &BookingRequest{Resource: resource, UserID: userID, Window: w}, nil
}

// ValidateWindow runs the static checks on w: ordering, operating hours and
// the resource's duration bounds.
func ValidateWindow(rules Rules, resource Resource, w Window) error {
	if !w.IsValid() {
		return newValidationError(CodeInvalidTimeRange, w, "end %s is not after start %s",
			w.End.Format(time.RFC3339), w.Start.Format(time.RFC3339))
	}

	day := rules.Hours.WindowOn(DateOf(w.Start))
	if !day.Contains(w) {
		return newValidationError(CodeOutsideOperatingHours, w, "%s is outside %s-%s",
			w, rules.Hours.Open, rules.Hours.Close)
	}

	d := w.Duration()
	if resource.MinDuration > 0 && d < resource.MinDuration {
		return newValidationError(CodeBelowMinimumDuration, w, "%s is shorter than %s", d, resource.MinDuration)
	}
	if resource.MaxDuration > 0 && d > resource.MaxDuration {
		return newValidationError(CodeAboveMaximumDuration, w, "%s is longer than %s", d, resource.MaxDuration)
	}
	return nil
}
