package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/CitizenCafe-LLC/citizenspace-sub001/engine"
	"github.com/CitizenCafe-LLC/citizenspace-sub001/engine/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var (
	march = engine.Cycle{
		Start: time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC),
	}
	april = engine.Cycle{
		Start: time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC),
	}
)

func newTestLedger(t *testing.T, allocate string) (*engine.CreditLedger, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	ledger := engine.NewCreditLedger(mem)
	if allocate != "" {
		_, created, err := ledger.AllocateCycle(context.Background(), "member-1", engine.CreditMeetingRoomHours, dec(allocate), march.Start, march.End)
		require.NoError(t, err)
		require.True(t, created)
	}
	return ledger, mem
}

// =============================================================================
// DEDUCT
// =============================================================================

func TestCreditLedger_Deduct_WithinBalance(t *testing.T) {
	ledger, _ := newTestLedger(t, "10")
	ctx := context.Background()

	applied, err := ledger.Deduct(ctx, "member-1", engine.CreditMeetingRoomHours, dec("4"), "r-1", at(10, 0))
	require.NoError(t, err)
	assertDecimal(t, "4", applied)

	b, err := ledger.GetBalance(ctx, "member-1", engine.CreditMeetingRoomHours, march)
	require.NoError(t, err)
	assertDecimal(t, "4", b.Used)
	assertDecimal(t, "6", b.Remaining())
}

func TestCreditLedger_Deduct_Shortfall(t *testing.T) {
	// GIVEN: 2 hours left
	// WHEN: Deducting 4
	// THEN: 2 applied, balance at zero, no error

	ledger, _ := newTestLedger(t, "2")
	ctx := context.Background()

	applied, err := ledger.Deduct(ctx, "member-1", engine.CreditMeetingRoomHours, dec("4"), "r-1", at(10, 0))
	require.NoError(t, err)
	assertDecimal(t, "2", applied)

	avail, err := ledger.Available(ctx, "member-1", engine.CreditMeetingRoomHours, at(10, 0))
	require.NoError(t, err)
	assertDecimal(t, "0", avail)
}

func TestCreditLedger_Deduct_Idempotent(t *testing.T) {
	// GIVEN: A deduction for r-1 already happened
	// WHEN: The same deduction is retried
	// THEN: Same result, no second write

	ledger, _ := newTestLedger(t, "10")
	ctx := context.Background()

	first, err := ledger.Deduct(ctx, "member-1", engine.CreditMeetingRoomHours, dec("3"), "r-1", at(10, 0))
	require.NoError(t, err)
	second, err := ledger.Deduct(ctx, "member-1", engine.CreditMeetingRoomHours, dec("3"), "r-1", at(10, 0))
	require.NoError(t, err)

	assertDecimal(t, first.String(), second)

	avail, err := ledger.Available(ctx, "member-1", engine.CreditMeetingRoomHours, at(10, 0))
	require.NoError(t, err)
	assertDecimal(t, "7", avail)

	txs, err := ledger.Transactions(ctx, "member-1", engine.CreditMeetingRoomHours)
	require.NoError(t, err)
	require.Len(t, txs, 2, "allocation + one deduction")
	assert.Equal(t, engine.CreditDeduction, txs[1].Kind)
	assertDecimal(t, "-3", txs[1].Amount)
	assertDecimal(t, "7", txs[1].BalanceAfter)
	assert.Equal(t, engine.CreditKey(engine.CreditDeduction, "r-1", engine.CreditMeetingRoomHours), txs[1].IdempotencyKey)
}

func TestCreditLedger_Deduct_NoBalance(t *testing.T) {
	ledger, _ := newTestLedger(t, "")

	applied, err := ledger.Deduct(context.Background(), "member-1", engine.CreditMeetingRoomHours, dec("2"), "r-1", at(10, 0))
	require.NoError(t, err)
	assertDecimal(t, "0", applied)
}

// =============================================================================
// REFUND
// =============================================================================

func TestCreditLedger_Refund_RestoresDeduction(t *testing.T) {
	ledger, _ := newTestLedger(t, "10")
	ctx := context.Background()

	_, err := ledger.Deduct(ctx, "member-1", engine.CreditMeetingRoomHours, dec("4"), "r-1", at(10, 0))
	require.NoError(t, err)

	restored, err := ledger.Refund(ctx, "member-1", engine.CreditMeetingRoomHours, dec("4"), "r-1")
	require.NoError(t, err)
	assertDecimal(t, "4", restored)

	// Retry writes nothing.
	again, err := ledger.Refund(ctx, "member-1", engine.CreditMeetingRoomHours, dec("4"), "r-1")
	require.NoError(t, err)
	assertDecimal(t, "4", again)

	avail, err := ledger.Available(ctx, "member-1", engine.CreditMeetingRoomHours, at(10, 0))
	require.NoError(t, err)
	assertDecimal(t, "10", avail)
}

func TestCreditLedger_Refund_CappedAtDeduction(t *testing.T) {
	// GIVEN: r-1 took 2 hours, r-2 took 3
	// WHEN: Refunding 5 hours for r-1
	// THEN: Only 2 come back

	ledger, _ := newTestLedger(t, "10")
	ctx := context.Background()

	_, err := ledger.Deduct(ctx, "member-1", engine.CreditMeetingRoomHours, dec("2"), "r-1", at(10, 0))
	require.NoError(t, err)
	_, err = ledger.Deduct(ctx, "member-1", engine.CreditMeetingRoomHours, dec("3"), "r-2", at(10, 0))
	require.NoError(t, err)

	restored, err := ledger.Refund(ctx, "member-1", engine.CreditMeetingRoomHours, dec("5"), "r-1")
	require.NoError(t, err)
	assertDecimal(t, "2", restored)

	b, err := ledger.GetBalance(ctx, "member-1", engine.CreditMeetingRoomHours, march)
	require.NoError(t, err)
	assertDecimal(t, "3", b.Used)
}

func TestCreditLedger_Refund_WithoutDeductionIsNoop(t *testing.T) {
	// GIVEN: r-2 took 3 hours; nothing was ever deducted for r-unknown
	// WHEN: Refunding 3 hours for r-unknown
	// THEN: Nothing comes back and r-2's usage stands

	ledger, _ := newTestLedger(t, "10")
	ctx := context.Background()

	_, err := ledger.Deduct(ctx, "member-1", engine.CreditMeetingRoomHours, dec("3"), "r-2", at(10, 0))
	require.NoError(t, err)

	restored, err := ledger.Refund(ctx, "member-1", engine.CreditMeetingRoomHours, dec("3"), "r-unknown")
	require.NoError(t, err)
	assertDecimal(t, "0", restored)

	avail, err := ledger.Available(ctx, "member-1", engine.CreditMeetingRoomHours, at(10, 0))
	require.NoError(t, err)
	assertDecimal(t, "7", avail)

	txs, err := ledger.Transactions(ctx, "member-1", engine.CreditMeetingRoomHours)
	require.NoError(t, err)
	for _, tx := range txs {
		assert.NotEqual(t, engine.CreditRefund, tx.Kind)
	}
}

func TestCreditLedger_FractionalHoursKeepFixedScale(t *testing.T) {
	// GIVEN: Three 20-minute bookings paid with credits
	// WHEN: Each is deducted and then refunded
	// THEN: Every ledger figure stays at four decimal places and the balance returns to 10

	ledger, _ := newTestLedger(t, "10")
	ctx := context.Background()
	third := engine.HoursOf(20 * time.Minute)
	assertDecimal(t, "0.3333", third)

	refs := []engine.ReservationID{"r-1", "r-2", "r-3"}
	for _, ref := range refs {
		_, err := ledger.Deduct(ctx, "member-1", engine.CreditMeetingRoomHours, third, ref, at(10, 0))
		require.NoError(t, err)
	}
	avail, err := ledger.Available(ctx, "member-1", engine.CreditMeetingRoomHours, at(10, 0))
	require.NoError(t, err)
	assertDecimal(t, "9.0001", avail)

	for _, ref := range refs {
		_, err := ledger.Refund(ctx, "member-1", engine.CreditMeetingRoomHours, third, ref)
		require.NoError(t, err)
	}

	txs, err := ledger.Transactions(ctx, "member-1", engine.CreditMeetingRoomHours)
	require.NoError(t, err)
	for _, tx := range txs {
		assert.LessOrEqual(t, -tx.BalanceAfter.Exponent(), int32(engine.HourPlaces), "balance after %s", tx.BalanceAfter)
	}
	avail, err = ledger.Available(ctx, "member-1", engine.CreditMeetingRoomHours, at(10, 0))
	require.NoError(t, err)
	assertDecimal(t, "10", avail)
}

// =============================================================================
// CYCLES
// =============================================================================

func TestCreditLedger_AllocateCycle_NoRollover(t *testing.T) {
	// GIVEN: 6 of 10 March hours left
	// WHEN: April is allocated with 10
	// THEN: April has exactly 10, March is untouched

	ledger, _ := newTestLedger(t, "10")
	ctx := context.Background()

	_, err := ledger.Deduct(ctx, "member-1", engine.CreditMeetingRoomHours, dec("4"), "r-1", at(10, 0))
	require.NoError(t, err)

	b, created, err := ledger.AllocateCycle(ctx, "member-1", engine.CreditMeetingRoomHours, dec("10"), april.Start, april.End)
	require.NoError(t, err)
	assert.True(t, created)
	assertDecimal(t, "10", b.Remaining())

	prev, err := ledger.GetBalance(ctx, "member-1", engine.CreditMeetingRoomHours, march)
	require.NoError(t, err)
	assertDecimal(t, "6", prev.Remaining())

	aprilAvail, err := ledger.Available(ctx, "member-1", engine.CreditMeetingRoomHours, april.Start.Add(time.Hour))
	require.NoError(t, err)
	assertDecimal(t, "10", aprilAvail)
}

func TestCreditLedger_AllocateCycle_Idempotent(t *testing.T) {
	ledger, _ := newTestLedger(t, "10")

	b, created, err := ledger.AllocateCycle(context.Background(), "member-1", engine.CreditMeetingRoomHours, dec("99"), march.Start, march.End)
	require.NoError(t, err)
	assert.False(t, created)
	assertDecimal(t, "10", b.Allocated, "existing allocation is kept")
}

func TestCreditLedger_AllocateCycle_InvalidCycle(t *testing.T) {
	ledger, _ := newTestLedger(t, "")

	_, _, err := ledger.AllocateCycle(context.Background(), "member-1", engine.CreditPrinting, dec("5"), march.End, march.Start)
	assert.ErrorIs(t, err, engine.ErrInvalidTimeRange)
}

func TestCreditLedger_GetBalance_NotFound(t *testing.T) {
	ledger, _ := newTestLedger(t, "")

	_, err := ledger.GetBalance(context.Background(), "member-1", engine.CreditMeetingRoomHours, march)
	assert.ErrorIs(t, err, engine.ErrBalanceNotFound)
	assert.True(t, engine.IsNotFound(err))
}

// =============================================================================
// INVARIANT
// =============================================================================

func TestCreditLedger_InvariantViolation(t *testing.T) {
	// GIVEN: A corrupted balance with used > allocated
	// WHEN: A refund is attempted against it
	// THEN: InvariantViolationError, nothing written

	ledger, mem := newTestLedger(t, "10")
	ctx := context.Background()

	b, err := ledger.GetBalance(ctx, "member-1", engine.CreditMeetingRoomHours, march)
	require.NoError(t, err)
	b.Used = dec("15")
	require.NoError(t, mem.UpdateBalance(ctx, *b))

	_, err = ledger.Refund(ctx, "member-1", engine.CreditMeetingRoomHours, dec("1"), "r-1")

	var invErr *engine.InvariantViolationError
	require.ErrorAs(t, err, &invErr)
	assert.Equal(t, "refund", invErr.Operation)
	assert.ErrorIs(t, err, engine.ErrCreditLedgerInvariant)

	txs, err := ledger.Transactions(ctx, "member-1", engine.CreditMeetingRoomHours)
	require.NoError(t, err)
	assert.Len(t, txs, 1, "only the allocation")
}
