/*
Package booking orchestrates reservations over the engine, the credit ledger
and the stores.

PURPOSE:
  The engine decides (availability, price, settlement, transitions); this
  package makes those decisions stick. It looks resources and members up,
  takes credits from the ledger, commits reservations atomically and hands
  credits back when a stay is shortened or cancelled.

RESERVATION FLOW:
  ┌──────────────────────────────────────────────────────────────────────┐
  │                                                                      │
  │  Quote ──▶ Create ──▶ pending ──ConfirmPayment──▶ confirmed          │
  │              │          │                           │                │
  │              │          └──Cancel──▶ cancelled ◀────┤                │
  │              │                                      │                │
  │              ▼                                   CheckIn             │
  │        deduct credits                               │                │
  │        WithTx: recheck overlap + insert             ▼                │
  │        on failure: refund credits              checked_in            │
  │                                                     │                │
  │                                                  CheckOut            │
  │                                                     │                │
  │                                                     ▼                │
  │                                    completed + settlement + credits  │
  │                                                                      │
  └──────────────────────────────────────────────────────────────────────┘

COMMIT ORDER:
  Credits are deducted before the reservation transaction opens, keyed by
  the new reservation's ID. If the commit then fails (the window was taken
  in the meantime) the same key is refunded. Deduct and refund are both
  idempotent per reservation, so a retried Create or a repeated refund never
  double-counts. A store that backs both interfaces holds one lock per
  transaction, so the ledger is never called from inside WithTx.

CLOCK:
  Now defaults to time.Now. Check-in windows, cancellation notice and
  settlement all read it.

SEE ALSO:
  - engine/lifecycle.go: Transition rules
  - engine/credit.go: CreditLedger
  - metrics.go: Prometheus counters
*/
package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/CitizenCafe-LLC/citizenspace-sub001/engine"
	"github.com/CitizenCafe-LLC/citizenspace-sub001/membership"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ResourceLookup resolves bookable resources. *catalog.Catalog satisfies it.
type ResourceLookup interface {
	Resource(id engine.ResourceID) (engine.Resource, error)
	Resources() []engine.Resource
}

// Service runs the reservation lifecycle against real stores.
type Service struct {
	Rules        engine.Rules
	Resources    ResourceLookup
	Reservations engine.ReservationTxStore
	Ledger       *engine.CreditLedger
	Members      membership.Store
	Log          logrus.FieldLogger

	Now   func() time.Time
	NewID func() engine.ReservationID
}

// NewService wires a Service. members may be nil, in which case nobody is a
// holder.
func NewService(rules engine.Rules, resources ResourceLookup, reservations engine.ReservationTxStore,
	ledger *engine.CreditLedger, members membership.Store, log logrus.FieldLogger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{
		Rules:        rules,
		Resources:    resources,
		Reservations: reservations,
		Ledger:       ledger,
		Members:      members,
		Log:          log,
		Now:          time.Now,
		NewID:        func() engine.ReservationID { return engine.ReservationID(uuid.NewString()) },
	}
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// =============================================================================
// QUOTES AND AVAILABILITY
// =============================================================================

// BookingInput is what a member asks for.
type BookingInput struct {
	ResourceID engine.ResourceID
	UserID     engine.UserID
	Start      time.Time
	End        time.Time
}

// Quote is the price a member would pay for a window right now.
type Quote struct {
	Request          engine.BookingRequest
	Price            engine.PriceBreakdown
	AvailableCredits decimal.Decimal

	// Available is advisory; Create re-checks at commit.
	Available  bool
	ConflictID engine.ReservationID
}

// Quote validates and prices in without booking anything.
func (s *Service) Quote(ctx context.Context, in BookingInput) (*Quote, error) {
	req, price, credits, err := s.prepare(ctx, in)
	if err != nil {
		return nil, err
	}

	q := &Quote{Request: *req, Price: price, AvailableCredits: credits, Available: true}
	if !req.Resource.IsExclusive() {
		return q, nil
	}

	existing, err := s.Reservations.ActiveReservations(ctx, req.Resource.ID, req.Date())
	if err != nil {
		return nil, fmt.Errorf("load reservations for %s: %w", req.Resource.ID, err)
	}
	if c := engine.FindConflict(existing, req.Window); c != nil {
		q.Available = false
		q.ConflictID = c.ID
	}
	return q, nil
}

func (s *Service) prepare(ctx context.Context, in BookingInput) (*engine.BookingRequest, engine.PriceBreakdown, decimal.Decimal, error) {
	resource, err := s.Resources.Resource(in.ResourceID)
	if err != nil {
		return nil, engine.PriceBreakdown{}, decimal.Zero, err
	}

	req, err := engine.NewBookingRequest(s.Rules, resource, in.UserID, in.Start, in.End)
	if err != nil {
		return nil, engine.PriceBreakdown{}, decimal.Zero, err
	}

	holder, err := s.isHolder(ctx, in.UserID)
	if err != nil {
		return nil, engine.PriceBreakdown{}, decimal.Zero, err
	}

	credits := decimal.Zero
	if resource.CreditEligible {
		credits, err = s.Ledger.Available(ctx, in.UserID, resource.CreditType, req.Window.Start)
		if err != nil {
			return nil, engine.PriceBreakdown{}, decimal.Zero, fmt.Errorf("read %s balance for %s: %w", resource.CreditType, in.UserID, err)
		}
	}

	price := engine.PriceReservation(s.Rules, resource, req.Duration(), holder, credits)
	return req, price, credits, nil
}

func (s *Service) isHolder(ctx context.Context, userID engine.UserID) (bool, error) {
	if s.Members == nil {
		return false, nil
	}
	m, err := s.Members.Member(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("load member %s: %w", userID, err)
	}
	return m != nil && m.Holder, nil
}

// Slots lists the free and busy spans of a resource on date. A zero
// minDuration falls back to the resource's minimum.
func (s *Service) Slots(ctx context.Context, resourceID engine.ResourceID, date time.Time, minDuration time.Duration) ([]engine.Slot, error) {
	resource, err := s.Resources.Resource(resourceID)
	if err != nil {
		return nil, err
	}

	day := engine.DateOf(s.Rules.In(date))
	existing, err := s.Reservations.ActiveReservations(ctx, resourceID, day)
	if err != nil {
		return nil, fmt.Errorf("load reservations for %s: %w", resourceID, err)
	}

	if minDuration <= 0 {
		minDuration = resource.MinDuration
	}
	return engine.GenerateAvailableSlots(s.Rules.Hours, resource, existing, day, minDuration), nil
}

// =============================================================================
// CREATE
// =============================================================================

// Create books in. Credits are applied automatically for credit-eligible
// resources. The reservation starts pending, or confirmed when nothing is
// left to pay.
func (s *Service) Create(ctx context.Context, in BookingInput) (*engine.Reservation, error) {
	req, price, _, err := s.prepare(ctx, in)
	if err != nil {
		return nil, err
	}
	resource := req.Resource

	// Fail fast before touching credits. The binding check runs in WithTx.
	if resource.IsExclusive() {
		existing, err := s.Reservations.ActiveReservations(ctx, resource.ID, req.Date())
		if err != nil {
			return nil, fmt.Errorf("load reservations for %s: %w", resource.ID, err)
		}
		if err := engine.RequireAvailable(existing, req.Window); err != nil {
			return nil, err
		}
	}

	id := s.NewID()
	now := s.now()
	log := s.Log.WithFields(logrus.Fields{
		"reservation_id": id,
		"resource_id":    resource.ID,
		"user_id":        in.UserID,
	})

	applied := decimal.Zero
	if price.CreditsApplied.IsPositive() {
		applied, err = s.Ledger.Deduct(ctx, in.UserID, resource.CreditType, price.CreditsApplied, id, req.Window.Start)
		if err != nil {
			return nil, fmt.Errorf("deduct credits for %s: %w", id, err)
		}
		if !applied.Equal(price.CreditsApplied) {
			// The balance moved since it was read: charge for what was not covered.
			price = engine.PriceReservation(s.Rules, resource, req.Duration(), price.HolderDiscount, applied)
		}
	}

	r := engine.Reservation{
		ID:           id,
		ResourceID:   resource.ID,
		UserID:       in.UserID,
		Date:         req.Date(),
		Start:        req.Window.Start,
		End:          req.Window.End,
		RefundAmount: decimal.Zero,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.ApplyPrice(price)
	r.Status = engine.InitialStatus(r.Total)
	if resource.CreditEligible {
		r.CreditType = resource.CreditType
	}

	err = s.Reservations.WithTx(ctx, func(tx engine.ReservationStore) error {
		if resource.IsExclusive() {
			current, err := tx.ActiveReservations(ctx, resource.ID, r.Date)
			if err != nil {
				return err
			}
			if err := engine.RequireAvailable(current, r.Window()); err != nil {
				return err
			}
		}
		return tx.InsertReservation(ctx, r)
	})
	if err != nil {
		if errors.Is(err, engine.ErrSlotUnavailable) {
			CommitConflicts.Inc()
			log.WithError(err).Info("Reservation lost the window at commit")
		}
		if applied.IsPositive() {
			s.returnCredits(ctx, r, applied, log)
		}
		return nil, err
	}

	ReservationsCreated.WithLabelValues(string(resource.Category), string(r.PaymentMethod)).Inc()
	hours, _ := r.BookedHours().Float64()
	BookedHours.WithLabelValues(string(resource.Category)).Observe(hours)
	if applied.IsPositive() {
		f, _ := applied.Float64()
		CreditHoursDeducted.WithLabelValues(string(resource.CreditType)).Add(f)
	}

	log.WithFields(logrus.Fields{
		"status":  r.Status,
		"total":   r.Total.StringFixed(2),
		"credits": applied.String(),
		"payment": r.PaymentMethod,
	}).Info("Reservation created")
	return &r, nil
}

// returnCredits refunds credits taken for r. A failure here leaves credits
// deducted for a reservation that does not exist, so it is logged at error
// level with everything needed to repair it.
func (s *Service) returnCredits(ctx context.Context, r engine.Reservation, hours decimal.Decimal, log logrus.FieldLogger) decimal.Decimal {
	restored, err := s.Ledger.Refund(ctx, r.UserID, r.CreditType, hours, r.ID)
	if err != nil {
		log.WithError(err).WithFields(logrus.Fields{
			"credit_type": r.CreditType,
			"hours":       hours.String(),
		}).Error("Failed to return credits")
		return decimal.Zero
	}
	if restored.IsPositive() {
		f, _ := restored.Float64()
		CreditHoursRefunded.WithLabelValues(string(r.CreditType)).Add(f)
	}
	return restored
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Get returns a reservation by ID.
func (s *Service) Get(ctx context.Context, id engine.ReservationID) (*engine.Reservation, error) {
	r, err := s.Reservations.Reservation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load reservation %s: %w", id, err)
	}
	if r == nil {
		return nil, fmt.Errorf("%w: %s", engine.ErrReservationNotFound, id)
	}
	return r, nil
}

// UserReservations lists a member's reservations, optionally by status.
func (s *Service) UserReservations(ctx context.Context, userID engine.UserID, statuses ...engine.Status) ([]engine.Reservation, error) {
	return s.Reservations.UserReservations(ctx, userID, statuses...)
}

// mutate loads id inside a transaction, applies fn and writes the result.
func (s *Service) mutate(ctx context.Context, id engine.ReservationID, fn func(tx engine.ReservationStore, r *engine.Reservation) error) (*engine.Reservation, error) {
	var result engine.Reservation
	err := s.Reservations.WithTx(ctx, func(tx engine.ReservationStore) error {
		r, err := tx.Reservation(ctx, id)
		if err != nil {
			return err
		}
		if r == nil {
			return fmt.Errorf("%w: %s", engine.ErrReservationNotFound, id)
		}
		if err := fn(tx, r); err != nil {
			return err
		}
		if err := tx.UpdateReservation(ctx, *r); err != nil {
			return err
		}
		result = *r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// ConfirmPayment records that the gateway captured payment for id.
func (s *Service) ConfirmPayment(ctx context.Context, id engine.ReservationID) (*engine.Reservation, error) {
	r, err := s.mutate(ctx, id, func(_ engine.ReservationStore, r *engine.Reservation) error {
		return r.Confirm(s.now())
	})
	if err != nil {
		return nil, err
	}
	s.Log.WithField("reservation_id", id).Info("Payment confirmed")
	return r, nil
}

// CheckIn checks the member into id. When resourceID is set it must match
// the reservation (a desk scanned on arrival).
func (s *Service) CheckIn(ctx context.Context, id engine.ReservationID, resourceID engine.ResourceID) (*engine.Reservation, error) {
	r, err := s.mutate(ctx, id, func(tx engine.ReservationStore, r *engine.Reservation) error {
		if resourceID != "" && resourceID != r.ResourceID {
			return fmt.Errorf("%w: %s is booked on %s, not %s", engine.ErrResourceMismatch, r.ID, r.ResourceID, resourceID)
		}
		held, err := tx.UserReservations(ctx, r.UserID, engine.StatusCheckedIn)
		if err != nil {
			return err
		}
		return r.CheckIn(s.Rules, s.bookedResource(r.ResourceID), s.now(), held)
	})
	if err != nil {
		return nil, err
	}
	s.Log.WithFields(logrus.Fields{"reservation_id": id, "user_id": r.UserID}).Info("Checked in")
	return r, nil
}

// bookedResource returns the resource a reservation was made on. A resource
// since removed from the catalog is treated as an exclusive one.
func (s *Service) bookedResource(id engine.ResourceID) engine.Resource {
	resource, err := s.Resources.Resource(id)
	if err != nil {
		return engine.Resource{ID: id}
	}
	return resource
}

// CheckOut completes id and settles booked against actual hours. Credit
// hours not used are returned to the balance they came from.
func (s *Service) CheckOut(ctx context.Context, id engine.ReservationID) (*engine.Reservation, error) {
	var st engine.Settlement
	r, err := s.mutate(ctx, id, func(_ engine.ReservationStore, r *engine.Reservation) error {
		var err error
		st, err = r.CheckOut(s.now())
		return err
	})
	if err != nil {
		return nil, err
	}

	log := s.Log.WithFields(logrus.Fields{
		"reservation_id": id,
		"settlement":     st.Kind,
		"amount":         st.Amount.StringFixed(2),
		"actual_hours":   st.ActualHours.String(),
	})
	Settlements.WithLabelValues(string(st.Kind)).Inc()
	if st.CreditHoursReturned.IsPositive() {
		s.returnCredits(ctx, *r, st.CreditHoursReturned, log)
	}
	log.Info("Checked out")
	return r, nil
}

// Cancel cancels id. With enough notice the payment and any credits are
// refunded in full; otherwise both are forfeited.
func (s *Service) Cancel(ctx context.Context, id engine.ReservationID) (*engine.Reservation, engine.Cancellation, error) {
	var terms engine.Cancellation
	r, err := s.mutate(ctx, id, func(_ engine.ReservationStore, r *engine.Reservation) error {
		var err error
		terms, err = r.Cancel(s.Rules, s.now())
		return err
	})
	if err != nil {
		return nil, engine.Cancellation{}, err
	}

	log := s.Log.WithFields(logrus.Fields{
		"reservation_id": id,
		"full_refund":    terms.FullRefund,
		"refund":         terms.Refund.StringFixed(2),
	})
	if terms.FullRefund {
		ReservationsCancelled.WithLabelValues("full").Inc()
	} else {
		ReservationsCancelled.WithLabelValues("none").Inc()
	}
	if terms.CreditHours.IsPositive() {
		s.returnCredits(ctx, *r, terms.CreditHours, log)
	}
	log.Info("Reservation cancelled")
	return r, terms, nil
}

// =============================================================================
// CREDITS
// =============================================================================

// CreditSummary is one credit type's position for a member at a point in time.
type CreditSummary struct {
	CreditType engine.CreditType
	Cycle      engine.Cycle
	Allocated  decimal.Decimal
	Used       decimal.Decimal
	Remaining  engine.Amount
}

// Balances returns the member's balances whose cycle contains at, one per
// credit type.
func (s *Service) Balances(ctx context.Context, userID engine.UserID, at time.Time) ([]CreditSummary, error) {
	all, err := s.Ledger.Store.Balances(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load balances for %s: %w", userID, err)
	}

	summaries := []CreditSummary{}
	for _, b := range all {
		if !b.Cycle.Contains(at) {
			continue
		}
		summaries = append(summaries, CreditSummary{
			CreditType: b.CreditType,
			Cycle:      b.Cycle,
			Allocated:  b.Allocated,
			Used:       b.Used,
			Remaining:  b.RemainingAmount(),
		})
	}
	return summaries, nil
}

// Transactions returns the member's credit trail for creditType.
func (s *Service) Transactions(ctx context.Context, userID engine.UserID, creditType engine.CreditType) ([]engine.CreditTransaction, error) {
	return s.Ledger.Transactions(ctx, userID, creditType)
}
