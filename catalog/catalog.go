/*
Package catalog provides JSON to Go conversion for bookable resources and
membership plans.

PURPOSE:
  Converts JSON resource and plan definitions into engine.Resource and
  membership.Plan values, validating them on the way in. Operators describe
  their desks, rooms and day passes in a file; the catalog turns that into
  what the engine prices and books.

JSON SCHEMA:
  {
    "resources": [
      {
        "id": "room-a",
        "name": "Room A",
        "category": "meeting-room",
        "hourly_rate": "60.00",
        "credit_eligible": true,
        "credit_type": "meeting-room-hours",
        "min_duration_minutes": 30,
        "max_duration_minutes": 480
      },
      {"id": "day-pass", "name": "Day Pass", "category": "day-pass", "flat_rate": "25.00"}
    ],
    "plans": [
      {
        "id": "resident",
        "name": "Resident",
        "cycle": "monthly",
        "allocations": [{"credit_type": "meeting-room-hours", "amount": "10"}]
      }
    ]
  }

VALIDATION:
  - id and name are required, ids unique
  - desks and meeting rooms need a positive hourly_rate
  - day passes need a positive flat_rate
  - credit_eligible requires credit_type
  - min_duration_minutes <= max_duration_minutes when both set

USAGE:
  cat, err := catalog.Load("./catalog.json")
  desk, err := cat.Resource("desk-1")

SEE ALSO:
  - presets.go: Built-in resources and plans
  - engine/types.go: Resource
  - membership/types.go: Plan
*/
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/CitizenCafe-LLC/citizenspace-sub001/engine"
	"github.com/CitizenCafe-LLC/citizenspace-sub001/membership"
	"github.com/shopspring/decimal"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ResourceJSON is the JSON representation of a bookable resource.
type ResourceJSON struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Category       string          `json:"category"`
	HourlyRate     decimal.Decimal `json:"hourly_rate,omitempty"`
	FlatRate       decimal.Decimal `json:"flat_rate,omitempty"`
	CreditEligible bool            `json:"credit_eligible,omitempty"`
	CreditType     string          `json:"credit_type,omitempty"`
	MinMinutes     int             `json:"min_duration_minutes,omitempty"`
	MaxMinutes     int             `json:"max_duration_minutes,omitempty"`
}

// PlanJSON is the JSON representation of a membership plan.
type PlanJSON struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Cycle       string           `json:"cycle"` // monthly, weekly, anniversary
	Allocations []AllocationJSON `json:"allocations,omitempty"`
}

type AllocationJSON struct {
	CreditType string          `json:"credit_type"`
	Amount     decimal.Decimal `json:"amount"`
}

// FileJSON is a whole catalog file.
type FileJSON struct {
	Resources []ResourceJSON `json:"resources"`
	Plans     []PlanJSON     `json:"plans,omitempty"`
}

// =============================================================================
// CONVERSION
// =============================================================================

// ParseResource parses a single resource JSON document.
func ParseResource(data []byte) (engine.Resource, error) {
	var rj ResourceJSON
	if err := json.Unmarshal(data, &rj); err != nil {
		return engine.Resource{}, fmt.Errorf("failed to parse resource JSON: %w", err)
	}
	return FromJSON(rj)
}

// FromJSON validates rj and converts it to an engine.Resource.
func FromJSON(rj ResourceJSON) (engine.Resource, error) {
	if rj.ID == "" {
		return engine.Resource{}, fmt.Errorf("resource: id is required")
	}
	if rj.Name == "" {
		return engine.Resource{}, fmt.Errorf("resource %s: name is required", rj.ID)
	}

	category, err := parseCategory(rj.Category)
	if err != nil {
		return engine.Resource{}, fmt.Errorf("resource %s: %w", rj.ID, err)
	}

	r := engine.Resource{
		ID:             engine.ResourceID(rj.ID),
		Name:           rj.Name,
		Category:       category,
		HourlyRate:     rj.HourlyRate,
		FlatRate:       rj.FlatRate,
		CreditEligible: rj.CreditEligible,
		CreditType:     engine.CreditType(rj.CreditType),
		MinDuration:    time.Duration(rj.MinMinutes) * time.Minute,
		MaxDuration:    time.Duration(rj.MaxMinutes) * time.Minute,
	}

	switch {
	case r.IsFlatRate() && !r.FlatRate.IsPositive():
		return engine.Resource{}, fmt.Errorf("resource %s: flat_rate must be positive", rj.ID)
	case r.IsFlatRate() && r.CreditEligible:
		return engine.Resource{}, fmt.Errorf("resource %s: %w: day passes cannot be paid with credits", rj.ID, engine.ErrUnsupportedProduct)
	case !r.IsFlatRate() && !r.HourlyRate.IsPositive():
		return engine.Resource{}, fmt.Errorf("resource %s: hourly_rate must be positive", rj.ID)
	case r.CreditEligible && r.CreditType == "":
		return engine.Resource{}, fmt.Errorf("resource %s: credit_eligible requires credit_type", rj.ID)
	case rj.MinMinutes < 0 || rj.MaxMinutes < 0:
		return engine.Resource{}, fmt.Errorf("resource %s: durations cannot be negative", rj.ID)
	case rj.MinMinutes > 0 && rj.MaxMinutes > 0 && rj.MinMinutes > rj.MaxMinutes:
		return engine.Resource{}, fmt.Errorf("resource %s: min_duration_minutes exceeds max_duration_minutes", rj.ID)
	}
	return r, nil
}

// ToJSON converts a Resource to ResourceJSON.
func ToJSON(r engine.Resource) ResourceJSON {
	return ResourceJSON{
		ID:             string(r.ID),
		Name:           r.Name,
		Category:       string(r.Category),
		HourlyRate:     r.HourlyRate,
		FlatRate:       r.FlatRate,
		CreditEligible: r.CreditEligible,
		CreditType:     string(r.CreditType),
		MinMinutes:     int(r.MinDuration / time.Minute),
		MaxMinutes:     int(r.MaxDuration / time.Minute),
	}
}

// PlanFromJSON validates pj and converts it to a membership.Plan.
func PlanFromJSON(pj PlanJSON) (membership.Plan, error) {
	if pj.ID == "" {
		return membership.Plan{}, fmt.Errorf("plan: id is required")
	}
	cycle, err := parseCycle(pj.Cycle)
	if err != nil {
		return membership.Plan{}, fmt.Errorf("plan %s: %w", pj.ID, err)
	}

	plan := membership.Plan{ID: membership.PlanID(pj.ID), Name: pj.Name, Cycle: cycle}
	seen := make(map[string]bool)
	for _, aj := range pj.Allocations {
		if aj.CreditType == "" {
			return membership.Plan{}, fmt.Errorf("plan %s: allocation without credit_type", pj.ID)
		}
		if seen[aj.CreditType] {
			return membership.Plan{}, fmt.Errorf("plan %s: duplicate allocation for %s", pj.ID, aj.CreditType)
		}
		if aj.Amount.IsNegative() {
			return membership.Plan{}, fmt.Errorf("plan %s: negative allocation for %s", pj.ID, aj.CreditType)
		}
		seen[aj.CreditType] = true
		plan.Allocations = append(plan.Allocations, membership.Allocation{
			CreditType: engine.CreditType(aj.CreditType),
			Amount:     aj.Amount,
		})
	}
	return plan, nil
}

// =============================================================================
// CATALOG
// =============================================================================

// Catalog holds the resources and plans that can be booked and sold.
type Catalog struct {
	mu        sync.RWMutex
	resources map[engine.ResourceID]engine.Resource
	plans     map[membership.PlanID]membership.Plan
}

func New() *Catalog {
	return &Catalog{
		resources: make(map[engine.ResourceID]engine.Resource),
		plans:     make(map[membership.PlanID]membership.Plan),
	}
}

// Parse reads a whole catalog file.
func Parse(data []byte) (*Catalog, error) {
	var fj FileJSON
	if err := json.Unmarshal(data, &fj); err != nil {
		return nil, fmt.Errorf("failed to parse catalog JSON: %w", err)
	}

	c := New()
	for _, rj := range fj.Resources {
		r, err := FromJSON(rj)
		if err != nil {
			return nil, err
		}
		if _, dup := c.resources[r.ID]; dup {
			return nil, fmt.Errorf("resource %s: duplicate id", r.ID)
		}
		c.resources[r.ID] = r
	}
	for _, pj := range fj.Plans {
		p, err := PlanFromJSON(pj)
		if err != nil {
			return nil, err
		}
		c.plans[p.ID] = p
	}
	return c, nil
}

// Load reads a catalog file from disk.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return Parse(data)
}

// Put adds or replaces a resource.
func (c *Catalog) Put(r engine.Resource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resources[r.ID] = r
}

// PutPlan adds or replaces a plan.
func (c *Catalog) PutPlan(p membership.Plan) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.plans[p.ID] = p
}

// Resource returns the resource with id or engine.ErrResourceNotFound.
func (c *Catalog) Resource(id engine.ResourceID) (engine.Resource, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.resources[id]
	if !ok {
		return engine.Resource{}, fmt.Errorf("%w: %s", engine.ErrResourceNotFound, id)
	}
	return r, nil
}

// Resources returns every resource ordered by ID.
func (c *Catalog) Resources() []engine.Resource {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]engine.Resource, 0, len(c.resources))
	for _, r := range c.resources {
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Plans returns a copy of the plan set keyed by ID.
func (c *Catalog) Plans() map[membership.PlanID]membership.Plan {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make(map[membership.PlanID]membership.Plan, len(c.plans))
	for id, p := range c.plans {
		result[id] = p
	}
	return result
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseCategory(s string) (engine.Category, error) {
	switch engine.Category(s) {
	case engine.CategoryDesk, engine.CategoryMeetingRoom, engine.CategoryDayPass:
		return engine.Category(s), nil
	default:
		return "", fmt.Errorf("unknown category %q", s)
	}
}

func parseCycle(s string) (engine.CycleType, error) {
	switch engine.CycleType(s) {
	case "", engine.CycleMonthly:
		return engine.CycleMonthly, nil
	case engine.CycleWeekly, engine.CycleAnniversary:
		return engine.CycleType(s), nil
	default:
		return "", fmt.Errorf("unknown cycle %q", s)
	}
}
