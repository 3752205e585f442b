package catalog

import (
	"time"

	"github.com/CitizenCafe-LLC/citizenspace-sub001/engine"
	"github.com/CitizenCafe-LLC/citizenspace-sub001/membership"
	"github.com/shopspring/decimal"
)

// =============================================================================
// PRESET RESOURCES
// =============================================================================

// HotDesk is an hourly desk with a one hour minimum.
func HotDesk(id, name string, hourlyRate decimal.Decimal) engine.Resource {
	return engine.Resource{
		ID:          engine.ResourceID(id),
		Name:        name,
		Category:    engine.CategoryDesk,
		HourlyRate:  hourlyRate,
		MinDuration: time.Hour,
		MaxDuration: 15 * time.Hour,
	}
}

// MeetingRoom is an hourly room that members can pay for with
// meeting-room hours.
func MeetingRoom(id, name string, hourlyRate decimal.Decimal) engine.Resource {
	return engine.Resource{
		ID:             engine.ResourceID(id),
		Name:           name,
		Category:       engine.CategoryMeetingRoom,
		HourlyRate:     hourlyRate,
		CreditEligible: true,
		CreditType:     engine.CreditMeetingRoomHours,
		MinDuration:    30 * time.Minute,
		MaxDuration:    8 * time.Hour,
	}
}

// DayPass books the full operating day at a flat price.
func DayPass(id, name string, flatRate decimal.Decimal) engine.Resource {
	return engine.Resource{
		ID:       engine.ResourceID(id),
		Name:     name,
		Category: engine.CategoryDayPass,
		FlatRate: flatRate,
	}
}

// Default returns the standard workspace: two hot desks, two meeting rooms,
// a day pass and the preset membership plans.
func Default() *Catalog {
	c := New()
	for _, r := range []engine.Resource{
		HotDesk("desk-1", "Hot Desk 1", decimal.RequireFromString("2.50")),
		HotDesk("desk-2", "Hot Desk 2", decimal.RequireFromString("2.50")),
		MeetingRoom("room-a", "Meeting Room A", decimal.NewFromInt(60)),
		MeetingRoom("room-b", "Meeting Room B", decimal.NewFromInt(40)),
		DayPass("day-pass", "Day Pass", decimal.NewFromInt(25)),
	} {
		c.Put(r)
	}
	for _, p := range membership.DefaultPlans() {
		c.PutPlan(p)
	}
	return c
}
