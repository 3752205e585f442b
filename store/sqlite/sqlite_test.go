package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/CitizenCafe-LLC/citizenspace-sub001/engine"
	"github.com/CitizenCafe-LLC/citizenspace-sub001/membership"
	"github.com/CitizenCafe-LLC/citizenspace-sub001/store/sqlite"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

var day = time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)

func deskReservation(id string, startHour, endHour int) engine.Reservation {
	return engine.Reservation{
		ID:            engine.ReservationID(id),
		ResourceID:    "desk-1",
		UserID:        "member-1",
		Date:          day,
		Start:         day.Add(time.Duration(startHour) * time.Hour),
		End:           day.Add(time.Duration(endHour) * time.Hour),
		Status:        engine.StatusConfirmed,
		EffectiveRate: decimal.RequireFromString("2.50"),
		CreditHours:   decimal.Zero,
		OverageHours:  decimal.Zero,
		Subtotal:      decimal.RequireFromString("7.50"),
		Discount:      decimal.Zero,
		ProcessingFee: decimal.RequireFromString("2.00"),
		Total:         decimal.RequireFromString("9.50"),
		PaymentMethod: engine.PaymentCard,
		RefundAmount:  decimal.Zero,
		CreatedAt:     day,
		UpdatedAt:     day,
	}
}

// =============================================================================
// RESERVATIONS
// =============================================================================

func TestStore_InsertAndReadReservation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	r := deskReservation("res-1", 10, 13)
	require.NoError(t, store.InsertReservation(ctx, r))

	got, err := store.Reservation(ctx, "res-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, engine.ResourceID("desk-1"), got.ResourceID)
	assert.True(t, r.Start.Equal(got.Start))
	assert.True(t, r.End.Equal(got.End))
	assert.True(t, got.Total.Equal(decimal.RequireFromString("9.50")))
	assert.Equal(t, engine.PaymentCard, got.PaymentMethod)
	assert.Nil(t, got.CheckedInAt)
	assert.Nil(t, got.Settlement)

	missing, err := store.Reservation(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_InsertReservation_Duplicate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertReservation(ctx, deskReservation("res-1", 10, 13)))
	err := store.InsertReservation(ctx, deskReservation("res-1", 14, 15))
	assert.True(t, errors.Is(err, engine.ErrDuplicateReservation))
}

func TestStore_ActiveReservations_SkipsCancelledAndCompleted(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	cancelled := deskReservation("res-2", 14, 15)
	cancelled.Status = engine.StatusCancelled
	completed := deskReservation("res-4", 16, 18)
	completed.Status = engine.StatusCompleted
	otherDay := deskReservation("res-3", 10, 11)
	otherDay.Date = day.AddDate(0, 0, 1)

	for _, r := range []engine.Reservation{deskReservation("res-1", 10, 13), cancelled, completed, otherDay} {
		require.NoError(t, store.InsertReservation(ctx, r))
	}

	active, err := store.ActiveReservations(ctx, "desk-1", day)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, engine.ReservationID("res-1"), active[0].ID)
}

func TestStore_UpdateReservation_WithSettlement(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	r := deskReservation("res-1", 10, 13)
	require.NoError(t, store.InsertReservation(ctx, r))

	checkedIn := day.Add(10 * time.Hour)
	checkedOut := day.Add(12 * time.Hour)
	r.Status = engine.StatusCompleted
	r.CheckedInAt = &checkedIn
	r.CheckedOutAt = &checkedOut
	st := engine.Settle(decimal.NewFromInt(3), decimal.NewFromInt(2), r.EffectiveRate)
	r.Settlement = &st
	require.NoError(t, store.UpdateReservation(ctx, r))

	got, err := store.Reservation(ctx, "res-1")
	require.NoError(t, err)
	assert.Equal(t, engine.StatusCompleted, got.Status)
	require.NotNil(t, got.CheckedOutAt)
	assert.True(t, checkedOut.Equal(*got.CheckedOutAt))
	require.NotNil(t, got.Settlement)
	assert.Equal(t, engine.SettlementRefund, got.Settlement.Kind)
	assert.True(t, got.Settlement.Amount.Equal(decimal.RequireFromString("2.50")))

	err = store.UpdateReservation(ctx, deskReservation("ghost", 8, 9))
	assert.True(t, errors.Is(err, engine.ErrReservationNotFound))
}

func TestStore_UserReservations_ByStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	in := deskReservation("res-2", 14, 15)
	in.Status = engine.StatusCheckedIn
	require.NoError(t, store.InsertReservation(ctx, deskReservation("res-1", 10, 11)))
	require.NoError(t, store.InsertReservation(ctx, in))

	all, err := store.UserReservations(ctx, "member-1")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	checkedIn, err := store.UserReservations(ctx, "member-1", engine.StatusCheckedIn, engine.StatusPending)
	require.NoError(t, err)
	require.Len(t, checkedIn, 1)
	assert.Equal(t, engine.ReservationID("res-2"), checkedIn[0].ID)
}

func TestStore_WithTx_RollsBack(t *testing.T) {
	// GIVEN: A transaction that inserts and then fails
	// THEN: Nothing is visible afterwards

	store := newTestStore(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx engine.ReservationStore) error {
		if err := tx.InsertReservation(ctx, deskReservation("res-1", 10, 13)); err != nil {
			return err
		}
		existing, err := tx.ActiveReservations(ctx, "desk-1", day)
		if err != nil {
			return err
		}
		return engine.RequireAvailable(existing, engine.Window{Start: day.Add(11 * time.Hour), End: day.Add(12 * time.Hour)})
	})
	assert.True(t, errors.Is(err, engine.ErrSlotUnavailable))

	got, err := store.Reservation(ctx, "res-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

// =============================================================================
// CREDIT LEDGER
// =============================================================================

func TestStore_CreditLedger(t *testing.T) {
	// GIVEN: 10 meeting-room hours for March
	// WHEN: Deducting 4, retrying, then refunding 6
	// THEN: Retries write nothing, the refund is capped at the deduction

	store := newTestStore(t)
	ctx := context.Background()
	ledger := engine.NewCreditLedger(store)

	march := engine.Cycle{Start: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)}
	at := time.Date(2025, 3, 15, 9, 0, 0, 0, time.UTC)

	_, created, err := ledger.AllocateCycle(ctx, "alice", engine.CreditMeetingRoomHours, decimal.NewFromInt(10), march.Start, march.End)
	require.NoError(t, err)
	assert.True(t, created)

	_, created, err = ledger.AllocateCycle(ctx, "alice", engine.CreditMeetingRoomHours, decimal.NewFromInt(10), march.Start, march.End)
	require.NoError(t, err)
	assert.False(t, created)

	applied, err := ledger.Deduct(ctx, "alice", engine.CreditMeetingRoomHours, decimal.NewFromInt(4), "res-1", at)
	require.NoError(t, err)
	assert.True(t, applied.Equal(decimal.NewFromInt(4)))

	applied, err = ledger.Deduct(ctx, "alice", engine.CreditMeetingRoomHours, decimal.NewFromInt(4), "res-1", at)
	require.NoError(t, err)
	assert.True(t, applied.Equal(decimal.NewFromInt(4)))

	avail, err := ledger.Available(ctx, "alice", engine.CreditMeetingRoomHours, at)
	require.NoError(t, err)
	assert.True(t, avail.Equal(decimal.NewFromInt(6)))

	restored, err := ledger.Refund(ctx, "alice", engine.CreditMeetingRoomHours, decimal.NewFromInt(6), "res-1")
	require.NoError(t, err)
	assert.True(t, restored.Equal(decimal.NewFromInt(4)))

	b, err := ledger.GetBalance(ctx, "alice", engine.CreditMeetingRoomHours, march)
	require.NoError(t, err)
	assert.True(t, b.Remaining().Equal(decimal.NewFromInt(10)))

	txs, err := ledger.Transactions(ctx, "alice", engine.CreditMeetingRoomHours)
	require.NoError(t, err)
	require.Len(t, txs, 3)
	assert.Equal(t, engine.CreditAllocation, txs[0].Kind)
	assert.Equal(t, engine.CreditDeduction, txs[1].Kind)
	assert.Equal(t, engine.CreditRefund, txs[2].Kind)

	balances, err := store.Balances(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, balances, 1)
}

func TestStore_AppendTransaction_DuplicateKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	b := engine.CreditBalance{
		ID: "bal-1", UserID: "alice", CreditType: engine.CreditPrinting,
		Cycle:     engine.Cycle{Start: now, End: now.AddDate(0, 1, 0)},
		Allocated: decimal.NewFromInt(20), Used: decimal.Zero,
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.InsertBalance(ctx, b))

	tx := engine.CreditTransaction{
		ID: "tx-1", BalanceID: "bal-1", UserID: "alice", CreditType: engine.CreditPrinting,
		Kind: engine.CreditAllocation, Amount: decimal.NewFromInt(20), BalanceAfter: decimal.NewFromInt(20),
		IdempotencyKey: "k-1", CreatedAt: now,
	}
	require.NoError(t, store.AppendTransaction(ctx, tx))

	tx.ID = "tx-2"
	err := store.AppendTransaction(ctx, tx)
	assert.True(t, errors.Is(err, engine.ErrDuplicateIdempotencyKey))
}

// =============================================================================
// MEMBERS, RESOURCES, RUNS
// =============================================================================

func TestStore_Members(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	joined := time.Date(2024, 11, 20, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveMember(ctx, membership.Member{ID: "b", Name: "Bea", PlanID: "team", JoinedAt: joined}))
	require.NoError(t, store.SaveMember(ctx, membership.Member{ID: "a", Name: "Ann", Holder: true}))
	require.NoError(t, store.SaveMember(ctx, membership.Member{ID: "a", Name: "Ann", Holder: false, PlanID: "resident"}))

	a, err := store.Member(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.False(t, a.Holder)
	assert.Equal(t, membership.PlanID("resident"), a.PlanID)

	b, err := store.Member(ctx, "b")
	require.NoError(t, err)
	assert.True(t, joined.Equal(b.JoinedAt))

	all, err := store.Members(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Ann", all[0].Name)

	require.NoError(t, store.DeleteMember(ctx, "a"))
	gone, err := store.Member(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestStore_Resources_VersionBump(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := sqlite.ResourceRecord{ID: "room-a", Name: "Room A", Category: "meeting-room", ConfigJSON: `{"id":"room-a"}`}
	require.NoError(t, store.SaveResource(ctx, rec))
	rec.Name = "Room A (large)"
	require.NoError(t, store.SaveResource(ctx, rec))

	got, err := store.GetResource(ctx, "room-a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2, got.Version)
	assert.Equal(t, "Room A (large)", got.Name)

	list, err := store.ListResources(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, store.DeleteResource(ctx, "room-a"))
	missing, err := store.GetResource(ctx, "room-a")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_AllocationRuns(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	run := membership.NewAllocationRun(at, at)
	require.NoError(t, store.SaveAllocationRun(ctx, run))
	run.Complete(membership.AllocationResult{Members: 3, Created: 5}, nil, at.Add(time.Second))
	require.NoError(t, store.SaveAllocationRun(ctx, run))

	runs, err := store.AllocationRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, membership.RunCompleted, runs[0].Status)
	assert.Equal(t, 5, runs[0].Created)
	require.NotNil(t, runs[0].CompletedAt)
}

func TestStore_Reset(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertReservation(ctx, deskReservation("res-1", 10, 11)))
	require.NoError(t, store.Reset(ctx))

	got, err := store.Reservation(ctx, "res-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

// =============================================================================
// DRIVER FAILURES
// =============================================================================

func TestStore_QueryError_IsWrapped(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT .* FROM reservations").WillReturnError(errors.New("disk I/O error"))

	store := sqlite.NewWithDB(db)
	_, err = store.ActiveReservations(context.Background(), "desk-1", day)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to query reservations")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_WithTx_BeginFails(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin().WillReturnError(errors.New("database is locked"))

	store := sqlite.NewWithDB(db)
	called := false
	err = store.WithTx(context.Background(), func(engine.ReservationStore) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.False(t, called)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpdateBalance_NoRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE credit_balances").WillReturnResult(sqlmock.NewResult(0, 0))

	store := sqlite.NewWithDB(db)
	err = store.UpdateBalance(context.Background(), engine.CreditBalance{ID: "missing", Used: decimal.Zero})
	assert.True(t, errors.Is(err, engine.ErrBalanceNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_WithCreditTx_RollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO credit_balances").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectRollback()

	store := sqlite.NewWithDB(db)
	boom := errors.New("boom")
	err = store.WithCreditTx(context.Background(), func(s engine.CreditStore) error {
		if err := s.InsertBalance(context.Background(), engine.CreditBalance{ID: "b", Allocated: decimal.Zero, Used: decimal.Zero}); err != nil {
			return err
		}
		return boom
	})
	assert.True(t, errors.Is(err, boom))
	assert.NoError(t, mock.ExpectationsWereMet())
}
