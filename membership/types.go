/*
Package membership provides membership plans, member records and the
per-cycle credit allocation that plans grant.

PURPOSE:
  A coworking membership bundles a set of credits that refresh every billing
  cycle. A "Resident" plan might grant 10 meeting-room hours, 50 printing
  credits and 2 guest passes per month. This package knows which member is on
  which plan and tells the engine's CreditLedger what to allocate when a new
  cycle starts.

KEY CONCEPTS:
  Plan:       Named bundle of credit allocations plus a cycle calendar
  Allocation: One credit type and the amount granted per cycle
  Member:     A person with a plan and a holder flag

HOLDER FLAG:
  Member.Holder marks an active token holder. It is read once when a quote is
  made; the resulting discount is frozen on the reservation.

CYCLES:
  monthly:     1st of month to 1st of next month
  weekly:      Monday to Monday
  anniversary: Monthly from the member's join day (Jan 31 -> Feb 28 -> Mar 31)

EXAMPLE:
  plan := membership.ResidentPlan()
  alloc := membership.NewAllocator(directory, plans, ledger, log)
  result, err := alloc.AllocateCurrent(ctx, time.Now())

SEE ALSO:
  - engine/credit.go: AllocateCycle, no rollover
  - engine/period.go: CycleConfig
  - allocator.go: Allocation run
*/
package membership

import (
	"time"

	"github.com/CitizenCafe-LLC/citizenspace-sub001/engine"
	"github.com/shopspring/decimal"
)

// =============================================================================
// PLAN
// =============================================================================

type PlanID string

// Allocation is the amount of one credit type granted per cycle.
type Allocation struct {
	CreditType engine.CreditType
	Amount     decimal.Decimal
}

type Plan struct {
	ID          PlanID
	Name        string
	Cycle       engine.CycleType
	Allocations []Allocation
}

// CycleConfig returns the cycle calendar for member on this plan.
func (p Plan) CycleConfig(m Member) engine.CycleConfig {
	cc := engine.CycleConfig{Type: p.Cycle}
	if p.Cycle == engine.CycleAnniversary && !m.JoinedAt.IsZero() {
		joined := m.JoinedAt
		cc.Anchor = &joined
	}
	return cc
}

// AllocationFor returns how much of creditType the plan grants per cycle.
func (p Plan) AllocationFor(creditType engine.CreditType) decimal.Decimal {
	for _, a := range p.Allocations {
		if a.CreditType == creditType {
			return a.Amount
		}
	}
	return decimal.Zero
}

// =============================================================================
// MEMBER
// =============================================================================

type Member struct {
	ID     engine.UserID
	Name   string
	Email  string
	PlanID PlanID

	// Holder marks an active token holder (50% off).
	Holder bool

	JoinedAt  time.Time
	CreatedAt time.Time
}

// HasPlan reports whether the member is on a credit-granting plan.
func (m Member) HasPlan() bool { return m.PlanID != "" }

// =============================================================================
// PRESET PLANS
// =============================================================================

// HotDeskPlan covers desk access only with a small printing allowance.
func HotDeskPlan() Plan {
	return Plan{
		ID:    "hot-desk",
		Name:  "Hot Desk",
		Cycle: engine.CycleMonthly,
		Allocations: []Allocation{
			{CreditType: engine.CreditPrinting, Amount: decimal.NewFromInt(20)},
		},
	}
}

// ResidentPlan is the full membership: meeting room hours, printing and
// guest passes every month.
func ResidentPlan() Plan {
	return Plan{
		ID:    "resident",
		Name:  "Resident",
		Cycle: engine.CycleMonthly,
		Allocations: []Allocation{
			{CreditType: engine.CreditMeetingRoomHours, Amount: decimal.NewFromInt(10)},
			{CreditType: engine.CreditPrinting, Amount: decimal.NewFromInt(50)},
			{CreditType: engine.CreditGuestPasses, Amount: decimal.NewFromInt(2)},
		},
	}
}

// TeamPlan allocates on the member's join anniversary instead of the
// calendar month.
func TeamPlan() Plan {
	return Plan{
		ID:    "team",
		Name:  "Team",
		Cycle: engine.CycleAnniversary,
		Allocations: []Allocation{
			{CreditType: engine.CreditMeetingRoomHours, Amount: decimal.NewFromInt(25)},
			{CreditType: engine.CreditPrinting, Amount: decimal.NewFromInt(200)},
			{CreditType: engine.CreditGuestPasses, Amount: decimal.NewFromInt(5)},
		},
	}
}

// DefaultPlans returns the preset plans keyed by ID.
func DefaultPlans() map[PlanID]Plan {
	plans := make(map[PlanID]Plan)
	for _, p := range []Plan{HotDeskPlan(), ResidentPlan(), TeamPlan()} {
		plans[p.ID] = p
	}
	return plans
}
