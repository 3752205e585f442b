package booking_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/CitizenCafe-LLC/citizenspace-sub001/booking"
	"github.com/CitizenCafe-LLC/citizenspace-sub001/catalog"
	"github.com/CitizenCafe-LLC/citizenspace-sub001/engine"
	"github.com/CitizenCafe-LLC/citizenspace-sub001/engine/store"
	"github.com/CitizenCafe-LLC/citizenspace-sub001/membership"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var day = time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time {
	return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

type fixture struct {
	svc    *booking.Service
	mem    *store.Memory
	ledger *engine.CreditLedger
	hook   *test.Hook
	now    time.Time
}

// newFixture builds a service over the memory store with alice (resident,
// 10 meeting-room hours for March) and bob (holder, no plan).
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	mem := store.NewMemory()
	ledger := engine.NewCreditLedger(mem)
	members := membership.NewDirectory(
		membership.Member{ID: "alice", Name: "Alice", PlanID: "resident"},
		membership.Member{ID: "bob", Name: "Bob", Holder: true},
	)
	_, _, err := ledger.AllocateCycle(ctx, "alice", engine.CreditMeetingRoomHours, decimal.NewFromInt(10),
		time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	log, hook := test.NewNullLogger()
	f := &fixture{mem: mem, ledger: ledger, hook: hook, now: at(8, 0)}
	f.svc = booking.NewService(engine.DefaultRules(), catalog.Default(), mem, ledger, members, log)
	f.svc.Now = func() time.Time { return f.now }
	return f
}

func (f *fixture) book(t *testing.T, resource engine.ResourceID, user engine.UserID, start, end time.Time) *engine.Reservation {
	t.Helper()
	r, err := f.svc.Create(context.Background(), booking.BookingInput{ResourceID: resource, UserID: user, Start: start, End: end})
	require.NoError(t, err)
	return r
}

func (f *fixture) available(t *testing.T, user engine.UserID) decimal.Decimal {
	t.Helper()
	d, err := f.ledger.Available(context.Background(), user, engine.CreditMeetingRoomHours, day)
	require.NoError(t, err)
	return d
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// =============================================================================
// QUOTE / SLOTS
// =============================================================================

func TestQuote_HolderDiscount(t *testing.T) {
	// GIVEN: Bob is a holder
	// WHEN: Quoting desk-1 for 3 hours
	// THEN: 7.50 - 3.75 + 2.00 = 5.75

	f := newFixture(t)
	q, err := f.svc.Quote(context.Background(), booking.BookingInput{ResourceID: "desk-1", UserID: "bob", Start: at(10, 0), End: at(13, 0)})
	require.NoError(t, err)

	assert.True(t, q.Available)
	assert.True(t, q.Price.HolderDiscount)
	assert.True(t, q.Price.Total.Equal(dec("5.75")), "total %s", q.Price.Total)
}

func TestQuote_ReportsConflict(t *testing.T) {
	f := newFixture(t)
	first := f.book(t, "desk-1", "bob", at(10, 0), at(13, 0))

	q, err := f.svc.Quote(context.Background(), booking.BookingInput{ResourceID: "desk-1", UserID: "alice", Start: at(12, 0), End: at(14, 0)})
	require.NoError(t, err)
	assert.False(t, q.Available)
	assert.Equal(t, first.ID, q.ConflictID)
}

func TestQuote_UnknownResource(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Quote(context.Background(), booking.BookingInput{ResourceID: "sofa", UserID: "bob", Start: at(10, 0), End: at(11, 0)})
	assert.True(t, engine.IsNotFound(err))
}

func TestSlots_AroundBooking(t *testing.T) {
	f := newFixture(t)
	f.book(t, "desk-1", "bob", at(10, 0), at(13, 0))

	slots, err := f.svc.Slots(context.Background(), "desk-1", day, 0)
	require.NoError(t, err)
	require.Len(t, slots, 3)

	assert.True(t, slots[0].Available)
	assert.True(t, slots[0].Start.Equal(at(7, 0)))
	assert.False(t, slots[1].Available)
	assert.True(t, slots[1].End.Equal(at(13, 0)))
	assert.True(t, slots[2].Available)
	assert.True(t, slots[2].End.Equal(at(22, 0)))
}

// =============================================================================
// CREATE
// =============================================================================

func TestCreate_HourlyDesk(t *testing.T) {
	f := newFixture(t)
	r := f.book(t, "desk-1", "alice", at(10, 0), at(13, 0))

	assert.Equal(t, engine.StatusPending, r.Status)
	assert.Equal(t, engine.PaymentCard, r.PaymentMethod)
	assert.True(t, r.Total.Equal(dec("9.50")))
	assert.True(t, r.EffectiveRate.Equal(dec("2.50")))

	stored, err := f.svc.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, stored.ID)

	require.NotNil(t, f.hook.LastEntry())
	assert.Equal(t, "Reservation created", f.hook.LastEntry().Message)
}

func TestCreate_Overlap(t *testing.T) {
	f := newFixture(t)
	f.book(t, "desk-1", "alice", at(10, 0), at(13, 0))

	_, err := f.svc.Create(context.Background(), booking.BookingInput{ResourceID: "desk-1", UserID: "bob", Start: at(12, 30), End: at(14, 0)})
	assert.True(t, errors.Is(err, engine.ErrSlotUnavailable))

	// Back-to-back is fine.
	f.book(t, "desk-1", "bob", at(13, 0), at(14, 0))
}

func TestCreate_ValidationErrors(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name       string
		start, end time.Time
		want       error
	}{
		{"end before start", at(12, 0), at(11, 0), engine.ErrInvalidTimeRange},
		{"before opening", at(6, 0), at(8, 0), engine.ErrOutsideOperatingHours},
		{"below minimum", at(10, 0), at(10, 30), engine.ErrBelowMinimumDuration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Create(context.Background(), booking.BookingInput{ResourceID: "desk-1", UserID: "bob", Start: tt.start, End: tt.end})
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.True(t, engine.IsClientError(err))
		})
	}
}

func TestCreate_MeetingRoomCoveredByCredits(t *testing.T) {
	// GIVEN: Alice has 10 meeting-room hours
	// WHEN: Booking room-a for 2 hours
	// THEN: Fully covered, confirmed, 8 hours left

	f := newFixture(t)
	r := f.book(t, "room-a", "alice", at(10, 0), at(12, 0))

	assert.Equal(t, engine.StatusConfirmed, r.Status)
	assert.Equal(t, engine.PaymentCredits, r.PaymentMethod)
	assert.True(t, r.CreditHours.Equal(decimal.NewFromInt(2)))
	assert.True(t, r.Total.IsZero())
	assert.True(t, f.available(t, "alice").Equal(decimal.NewFromInt(8)))
}

func TestCreate_MeetingRoomOverage(t *testing.T) {
	// GIVEN: Alice has 10 hours, books 8 then 4
	// THEN: Second booking uses 2 credits and pays 2 hours plus the fee

	f := newFixture(t)
	f.book(t, "room-a", "alice", at(9, 0), at(17, 0))
	r := f.book(t, "room-b", "alice", at(9, 0), at(13, 0))

	assert.True(t, r.CreditHours.Equal(decimal.NewFromInt(2)))
	assert.True(t, r.OverageHours.Equal(decimal.NewFromInt(2)))
	assert.True(t, r.Total.Equal(dec("82.00")), "total %s", r.Total)
	assert.Equal(t, engine.PaymentCreditsCard, r.PaymentMethod)
	assert.True(t, f.available(t, "alice").IsZero())
}

// racyStore hides existing reservations from reads made outside a
// transaction, so the commit-time check is the one that catches the clash.
type racyStore struct {
	*store.Memory
}

func (racyStore) ActiveReservations(context.Context, engine.ResourceID, time.Time) ([]engine.Reservation, error) {
	return nil, nil
}

func TestCreate_CommitConflictReturnsCredits(t *testing.T) {
	// GIVEN: room-a is taken, but the pre-check cannot see it
	// WHEN: Alice books an overlapping window with credits
	// THEN: The commit fails and her credits come back

	f := newFixture(t)
	f.book(t, "room-a", "bob", at(10, 0), at(11, 0))
	f.svc.Reservations = racyStore{f.mem}

	_, err := f.svc.Create(context.Background(), booking.BookingInput{ResourceID: "room-a", UserID: "alice", Start: at(10, 30), End: at(12, 0)})
	require.True(t, errors.Is(err, engine.ErrSlotUnavailable))

	assert.True(t, f.available(t, "alice").Equal(decimal.NewFromInt(10)))
	txs, err := f.ledger.Transactions(context.Background(), "alice", engine.CreditMeetingRoomHours)
	require.NoError(t, err)
	require.Len(t, txs, 3)
	assert.Equal(t, engine.CreditRefund, txs[2].Kind)
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestLifecycle_DeskEarlyCheckout(t *testing.T) {
	// GIVEN: Desk booked 10:00-13:00, paid
	// WHEN: Checked in at 10:00, out at 12:00
	// THEN: Completed with a 2.50 refund

	f := newFixture(t)
	ctx := context.Background()
	r := f.book(t, "desk-1", "alice", at(10, 0), at(13, 0))

	_, err := f.svc.ConfirmPayment(ctx, r.ID)
	require.NoError(t, err)

	f.now = at(10, 0)
	_, err = f.svc.CheckIn(ctx, r.ID, "desk-1")
	require.NoError(t, err)

	f.now = at(12, 0)
	done, err := f.svc.CheckOut(ctx, r.ID)
	require.NoError(t, err)

	assert.Equal(t, engine.StatusCompleted, done.Status)
	require.NotNil(t, done.Settlement)
	assert.Equal(t, engine.SettlementRefund, done.Settlement.Kind)
	assert.True(t, done.Settlement.Amount.Equal(dec("2.50")))
}

func TestLifecycle_CreditCheckoutReturnsHours(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.book(t, "room-a", "alice", at(10, 0), at(13, 0))
	require.True(t, f.available(t, "alice").Equal(decimal.NewFromInt(7)))

	f.now = at(10, 0)
	_, err := f.svc.CheckIn(ctx, r.ID, "")
	require.NoError(t, err)

	f.now = at(11, 0)
	done, err := f.svc.CheckOut(ctx, r.ID)
	require.NoError(t, err)

	assert.True(t, done.Settlement.CreditHoursReturned.Equal(decimal.NewFromInt(2)))
	assert.True(t, done.Settlement.Amount.IsZero())
	assert.True(t, f.available(t, "alice").Equal(decimal.NewFromInt(9)))
}

func TestCheckIn_Guards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending := f.book(t, "desk-1", "alice", at(10, 0), at(13, 0))
	f.now = at(10, 0)
	_, err := f.svc.CheckIn(ctx, pending.ID, "")
	assert.True(t, errors.Is(err, engine.ErrIllegalTransition), "pending cannot check in")

	_, err = f.svc.ConfirmPayment(ctx, pending.ID)
	require.NoError(t, err)

	_, err = f.svc.CheckIn(ctx, pending.ID, "desk-2")
	assert.True(t, errors.Is(err, engine.ErrResourceMismatch))

	f.now = at(9, 0)
	_, err = f.svc.CheckIn(ctx, pending.ID, "")
	assert.True(t, errors.Is(err, engine.ErrCheckInWindow))

	f.now = at(10, 0)
	_, err = f.svc.CheckIn(ctx, pending.ID, "")
	require.NoError(t, err)

	room := f.book(t, "room-a", "alice", at(10, 0), at(11, 0))
	_, err = f.svc.CheckIn(ctx, room.ID, "")
	assert.True(t, errors.Is(err, engine.ErrAlreadyCheckedIn))
}

// =============================================================================
// DAY PASS
// =============================================================================

func TestDayPass_SoldToManyMembersOnOneDate(t *testing.T) {
	// GIVEN: Bob already holds a day pass for 10 March
	// WHEN: Alice quotes and buys one for the same date
	// THEN: Both passes exist and the slot list still shows the whole day free

	f := newFixture(t)
	ctx := context.Background()
	bobs := f.book(t, "day-pass", "bob", at(9, 0), at(9, 0))
	assert.True(t, bobs.Total.Equal(dec("14.50")), "holder total %s", bobs.Total)

	q, err := f.svc.Quote(ctx, booking.BookingInput{ResourceID: "day-pass", UserID: "alice", Start: at(9, 0), End: at(9, 0)})
	require.NoError(t, err)
	assert.True(t, q.Available)
	assert.Empty(t, q.ConflictID)

	alices := f.book(t, "day-pass", "alice", at(9, 0), at(9, 0))
	assert.True(t, alices.Total.Equal(dec("27.00")), "total %s", alices.Total)
	assert.Equal(t, bobs.Window(), alices.Window())

	slots, err := f.svc.Slots(ctx, "day-pass", day, 0)
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.True(t, slots[0].Available)
}

func TestDayPass_CheckInAnyTimeDuringTheDay(t *testing.T) {
	// GIVEN: Confirmed day passes for bob and alice
	// WHEN: Bob arrives at 10:30 and alice at 21:00
	// THEN: Both check in; arriving after closing is rejected

	f := newFixture(t)
	ctx := context.Background()
	bobs := f.book(t, "day-pass", "bob", at(9, 0), at(9, 0))
	alices := f.book(t, "day-pass", "alice", at(9, 0), at(9, 0))
	late := f.book(t, "day-pass", "bob", day.AddDate(0, 0, 1).Add(9*time.Hour), day.AddDate(0, 0, 1).Add(9*time.Hour))
	for _, r := range []*engine.Reservation{bobs, alices, late} {
		_, err := f.svc.ConfirmPayment(ctx, r.ID)
		require.NoError(t, err)
	}

	f.now = at(10, 30)
	in, err := f.svc.CheckIn(ctx, bobs.ID, "")
	require.NoError(t, err)
	assert.Equal(t, engine.StatusCheckedIn, in.Status)

	f.now = at(21, 0)
	_, err = f.svc.CheckIn(ctx, alices.ID, "")
	require.NoError(t, err)

	f.now = day.AddDate(0, 0, 1).Add(22*time.Hour + time.Minute)
	_, err = f.svc.CheckIn(ctx, late.ID, "")
	assert.True(t, errors.Is(err, engine.ErrCheckInWindow))
}

func TestEarlyCheckout_FreesRestOfWindow(t *testing.T) {
	// GIVEN: Bob books desk-1 10:00-13:00 and checks out at 11:00
	// WHEN: Alice books 11:30-13:00 on the same desk
	// THEN: The booking succeeds

	f := newFixture(t)
	ctx := context.Background()
	r := f.book(t, "desk-1", "bob", at(10, 0), at(13, 0))
	_, err := f.svc.ConfirmPayment(ctx, r.ID)
	require.NoError(t, err)

	f.now = at(10, 0)
	_, err = f.svc.CheckIn(ctx, r.ID, "")
	require.NoError(t, err)
	f.now = at(11, 0)
	_, err = f.svc.CheckOut(ctx, r.ID)
	require.NoError(t, err)

	next := f.book(t, "desk-1", "alice", at(11, 30), at(13, 0))
	assert.Equal(t, engine.ResourceID("desk-1"), next.ResourceID)
}

func TestCancel_WithNoticeRefundsEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.book(t, "room-a", "alice", at(10, 0), at(12, 0))

	f.now = at(10, 0).Add(-48 * time.Hour)
	cancelled, terms, err := f.svc.Cancel(ctx, r.ID)
	require.NoError(t, err)

	assert.True(t, terms.FullRefund)
	assert.Equal(t, engine.StatusCancelled, cancelled.Status)
	assert.True(t, f.available(t, "alice").Equal(decimal.NewFromInt(10)))

	// The window is free again.
	f.book(t, "room-a", "bob", at(10, 0), at(12, 0))
}

func TestCancel_LateForfeits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.book(t, "room-a", "alice", at(10, 0), at(12, 0))

	f.now = at(9, 0)
	_, terms, err := f.svc.Cancel(ctx, r.ID)
	require.NoError(t, err)

	assert.False(t, terms.FullRefund)
	assert.True(t, terms.Refund.IsZero())
	assert.True(t, f.available(t, "alice").Equal(decimal.NewFromInt(8)))

	_, _, err = f.svc.Cancel(ctx, r.ID)
	assert.True(t, engine.IsConflict(err), "cancelling twice")
}

func TestGet_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Get(context.Background(), "missing")
	assert.True(t, engine.IsNotFound(err))

	_, err = f.svc.CheckOut(context.Background(), "missing")
	assert.True(t, engine.IsNotFound(err))
}

// =============================================================================
// CREDITS
// =============================================================================

func TestBalances(t *testing.T) {
	f := newFixture(t)
	f.book(t, "room-a", "alice", at(10, 0), at(11, 30))

	summaries, err := f.svc.Balances(context.Background(), "alice", day)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, engine.CreditMeetingRoomHours, summaries[0].CreditType)
	assert.True(t, summaries[0].Remaining.Value.Equal(dec("8.5")))
	assert.Equal(t, engine.UnitHours, summaries[0].Remaining.Unit)

	none, err := f.svc.Balances(context.Background(), "alice", day.AddDate(0, 2, 0))
	require.NoError(t, err)
	assert.Empty(t, none)
}
