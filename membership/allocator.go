package membership

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/CitizenCafe-LLC/citizenspace-sub001/engine"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var ErrUnknownPlan = errors.New("unknown membership plan")

// =============================================================================
// ALLOCATOR - Grants each member's plan credits for the current cycle
// =============================================================================

// Allocator walks every member and allocates the cycle containing a date for
// each credit type the member's plan grants. Re-running it for the same date
// creates nothing new.
type Allocator struct {
	Members Store
	Plans   map[PlanID]Plan
	Ledger  *engine.CreditLedger
	Log     logrus.FieldLogger
}

func NewAllocator(members Store, plans map[PlanID]Plan, ledger *engine.CreditLedger, log logrus.FieldLogger) *Allocator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Allocator{Members: members, Plans: plans, Ledger: ledger, Log: log}
}

// AllocationResult summarizes one AllocateCurrent pass.
type AllocationResult struct {
	At       time.Time
	Members  int
	Created  int
	Existing int
	Failed   int
	Balances []engine.CreditBalance
}

// AllocateMember allocates the cycle containing at for every credit type on
// m's plan. It returns the balances it created and how many already existed.
func (a *Allocator) AllocateMember(ctx context.Context, m Member, at time.Time) ([]engine.CreditBalance, int, error) {
	if !m.HasPlan() {
		return nil, 0, nil
	}
	plan, ok := a.Plans[m.PlanID]
	if !ok {
		return nil, 0, fmt.Errorf("member %s: %w %q", m.ID, ErrUnknownPlan, m.PlanID)
	}

	cycle := plan.CycleConfig(m).CycleFor(at)
	var (
		created  []engine.CreditBalance
		existing int
	)
	for _, alloc := range plan.Allocations {
		b, isNew, err := a.Ledger.AllocateCycle(ctx, m.ID, alloc.CreditType, alloc.Amount, cycle.Start, cycle.End)
		if err != nil {
			return created, existing, fmt.Errorf("allocate %s for %s: %w", alloc.CreditType, m.ID, err)
		}
		if isNew {
			created = append(created, *b)
		} else {
			existing++
		}
	}
	return created, existing, nil
}

// AllocateCurrent runs AllocateMember for every member. A failing member is
// logged and counted; it does not stop the pass.
func (a *Allocator) AllocateCurrent(ctx context.Context, at time.Time) (AllocationResult, error) {
	result := AllocationResult{At: at}

	members, err := a.Members.Members(ctx)
	if err != nil {
		return result, fmt.Errorf("list members: %w", err)
	}

	for _, m := range members {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Members++

		created, existing, err := a.AllocateMember(ctx, m, at)
		result.Created += len(created)
		result.Existing += existing
		result.Balances = append(result.Balances, created...)
		if err != nil {
			result.Failed++
			a.Log.WithFields(logrus.Fields{
				"member": m.ID,
				"plan":   m.PlanID,
			}).WithError(err).Warn("credit allocation failed")
			continue
		}
		if len(created) > 0 {
			a.Log.WithFields(logrus.Fields{
				"member":  m.ID,
				"plan":    m.PlanID,
				"created": len(created),
			}).Info("credit cycle allocated")
		}
	}
	return result, nil
}

// =============================================================================
// ALLOCATION RUNS - Audit record of scheduled passes
// =============================================================================

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// AllocationRun records one scheduled allocation pass.
type AllocationRun struct {
	ID          string
	Status      RunStatus
	At          time.Time
	Members     int
	Created     int
	Existing    int
	Failed      int
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
}

// NewAllocationRun starts a run record for a pass at time at.
func NewAllocationRun(at, started time.Time) AllocationRun {
	return AllocationRun{
		ID:        uuid.NewString(),
		Status:    RunRunning,
		At:        at,
		StartedAt: started,
	}
}

// Complete fills the run from a finished pass.
func (r *AllocationRun) Complete(result AllocationResult, err error, finished time.Time) {
	r.Members = result.Members
	r.Created = result.Created
	r.Existing = result.Existing
	r.Failed = result.Failed
	r.CompletedAt = &finished
	r.Status = RunCompleted
	if err != nil {
		r.Status = RunFailed
		r.Error = err.Error()
	}
}

// RunStore keeps allocation run records.
type RunStore interface {
	SaveAllocationRun(ctx context.Context, run AllocationRun) error
	AllocationRuns(ctx context.Context, limit int) ([]AllocationRun, error)
}
