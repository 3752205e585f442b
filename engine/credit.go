/*
credit.go - Per-member credit balances with an append-only trail

PURPOSE:
  Membership plans hand out credits per billing cycle (meeting-room hours,
  printing credits, guest passes). The CreditLedger keeps one balance row per
  (member, credit type, cycle) and records every change as an immutable
  CreditTransaction carrying the signed amount and the resulting balance.

INVARIANTS:
  1. remaining = allocated - used
  2. 0 <= remaining <= allocated, checked on every write
  3. Transactions are append-only; nothing is edited after it is written
  4. Deduct and Refund are idempotent per (reservation, credit type)

NO ROLLOVER:
  AllocateCycle creates a fresh balance for the new cycle. The previous
  cycle's row is left exactly as it is; whatever it still shows as remaining
  can no longer be spent because no reservation date falls inside its cycle.

SHORTFALL IS NOT AN ERROR:
  Deduct applies min(requested, remaining) and returns what it applied. The
  caller prices whatever was not covered as overage.

EXAMPLE FLOW:
  1. Cycle allocated:      allocation +10h   remaining 10
  2. 4h room booked:       deduction  -4h    remaining 6
  3. Retry of step 2:      no write, returns 4h
  4. Booking cancelled:    refund     +4h    remaining 10

SEE ALSO:
  - store.go: CreditTxStore
  - membership/: Plans that call AllocateCycle
*/
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// BALANCE - One member, one credit type, one cycle
// =============================================================================

type CreditBalance struct {
	ID         string
	UserID     UserID
	CreditType CreditType
	Cycle      Cycle
	Allocated  decimal.Decimal
	Used       decimal.Decimal
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Remaining is allocated minus used.
func (b CreditBalance) Remaining() decimal.Decimal {
	return b.Allocated.Sub(b.Used)
}

// RemainingAmount is Remaining with the credit type's unit.
func (b CreditBalance) RemainingAmount() Amount {
	return Amount{Value: b.Remaining(), Unit: b.CreditType.Unit()}
}

func (b CreditBalance) checkInvariant(op string) error {
	rem := b.Remaining()
	if b.Used.IsNegative() || rem.IsNegative() || rem.GreaterThan(b.Allocated) {
		return &InvariantViolationError{
			UserID:     b.UserID,
			CreditType: b.CreditType,
			Allocated:  b.Allocated,
			Used:       b.Used,
			Operation:  op,
		}
	}
	return nil
}

// applyDeduction takes up to requested from b.
func (b CreditBalance) applyDeduction(requested decimal.Decimal) (decimal.Decimal, CreditBalance, error) {
	if !requested.IsPositive() {
		return decimal.Zero, b, nil
	}
	applied := decimal.Min(requested, b.Remaining())
	if applied.IsNegative() {
		applied = decimal.Zero
	}
	next := b
	next.Used = b.Used.Add(applied)
	if err := next.checkInvariant("deduct"); err != nil {
		return decimal.Zero, b, err
	}
	return applied, next, nil
}

// applyRefund gives back up to requested, never more than was used.
func (b CreditBalance) applyRefund(requested decimal.Decimal) (decimal.Decimal, CreditBalance, error) {
	if !requested.IsPositive() {
		return decimal.Zero, b, nil
	}
	restored := decimal.Min(requested, b.Used)
	next := b
	next.Used = b.Used.Sub(restored)
	if err := next.checkInvariant("refund"); err != nil {
		return decimal.Zero, b, err
	}
	return restored, next, nil
}

// =============================================================================
// TRANSACTION - Immutable ledger row
// =============================================================================

type CreditTxKind string

const (
	CreditAllocation CreditTxKind = "allocation"
	CreditDeduction  CreditTxKind = "deduction"
	CreditRefund     CreditTxKind = "refund"
)

type CreditTransaction struct {
	ID         string
	BalanceID  string
	UserID     UserID
	CreditType CreditType
	Kind       CreditTxKind

	// ReservationID is empty for allocations.
	ReservationID ReservationID

	// Amount is signed: negative for deductions.
	Amount decimal.Decimal

	// BalanceAfter is the remaining balance once this row applied.
	BalanceAfter decimal.Decimal

	IdempotencyKey string
	CreatedAt      time.Time
}

// CreditKey is the idempotency key for a ledger operation on a reservation.
func CreditKey(kind CreditTxKind, ref ReservationID, creditType CreditType) string {
	return fmt.Sprintf("%s:%s:%s", kind, ref, creditType)
}

func allocationKey(userID UserID, creditType CreditType, cycle Cycle) string {
	return fmt.Sprintf("%s:%s:%s:%s", CreditAllocation, userID, creditType, cycle.Start.UTC().Format(time.RFC3339))
}

// =============================================================================
// LEDGER
// =============================================================================

type CreditLedger struct {
	Store CreditTxStore

	// Now stamps CreatedAt/UpdatedAt; defaults to time.Now.
	Now func() time.Time
}

func NewCreditLedger(store CreditTxStore) *CreditLedger {
	return &CreditLedger{Store: store, Now: time.Now}
}

func (l *CreditLedger) now() time.Time {
	if l.Now == nil {
		return time.Now()
	}
	return l.Now()
}

// GetBalance returns the balance for cycle. Read-only.
func (l *CreditLedger) GetBalance(ctx context.Context, userID UserID, creditType CreditType, cycle Cycle) (*CreditBalance, error) {
	b, err := l.Store.BalanceForCycle(ctx, userID, creditType, cycle.Start)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, ErrBalanceNotFound
	}
	return b, nil
}

// Available returns what can be spent at time at; zero when no cycle covers it.
func (l *CreditLedger) Available(ctx context.Context, userID UserID, creditType CreditType, at time.Time) (decimal.Decimal, error) {
	b, err := l.Store.BalanceAt(ctx, userID, creditType, at)
	if err != nil {
		return decimal.Zero, err
	}
	if b == nil {
		return decimal.Zero, nil
	}
	return b.Remaining(), nil
}

// Deduct takes up to hours from the balance whose cycle contains at and
// returns the amount applied. Calling it again for the same reservation
// returns the first result and writes nothing.
func (l *CreditLedger) Deduct(ctx context.Context, userID UserID, creditType CreditType, hours decimal.Decimal, ref ReservationID, at time.Time) (decimal.Decimal, error) {
	key := CreditKey(CreditDeduction, ref, creditType)
	applied := decimal.Zero

	err := l.Store.WithCreditTx(ctx, func(s CreditStore) error {
		prior, err := s.TransactionByKey(ctx, key)
		if err != nil {
			return err
		}
		if prior != nil {
			applied = prior.Amount.Neg()
			return nil
		}

		b, err := s.BalanceAt(ctx, userID, creditType, at)
		if err != nil {
			return err
		}
		if b == nil {
			return nil
		}

		taken, next, err := b.applyDeduction(hours)
		if err != nil {
			return err
		}
		now := l.now()
		next.UpdatedAt = now
		if err := s.UpdateBalance(ctx, next); err != nil {
			return err
		}
		applied = taken
		return s.AppendTransaction(ctx, CreditTransaction{
			ID:             uuid.NewString(),
			BalanceID:      next.ID,
			UserID:         userID,
			CreditType:     creditType,
			Kind:           CreditDeduction,
			ReservationID:  ref,
			Amount:         taken.Neg(),
			BalanceAfter:   next.Remaining(),
			IdempotencyKey: key,
			CreatedAt:      now,
		})
	})
	if err != nil {
		return decimal.Zero, err
	}
	return applied, nil
}

// Refund gives hours back for a reservation. It goes to the balance the
// reservation's deduction came from and never restores more than that
// deduction took. Without a deduction for ref it is a no-op. Calling it again
// for the same reservation writes nothing.
func (l *CreditLedger) Refund(ctx context.Context, userID UserID, creditType CreditType, hours decimal.Decimal, ref ReservationID) (decimal.Decimal, error) {
	key := CreditKey(CreditRefund, ref, creditType)
	restored := decimal.Zero

	err := l.Store.WithCreditTx(ctx, func(s CreditStore) error {
		prior, err := s.TransactionByKey(ctx, key)
		if err != nil {
			return err
		}
		if prior != nil {
			restored = prior.Amount
			return nil
		}

		deduction, err := s.TransactionByKey(ctx, CreditKey(CreditDeduction, ref, creditType))
		if err != nil {
			return err
		}
		if deduction == nil {
			return nil
		}
		b, err := s.BalanceByID(ctx, deduction.BalanceID)
		if err != nil {
			return err
		}
		if b == nil {
			return nil
		}
		hours = decimal.Min(hours, deduction.Amount.Neg())

		given, next, err := b.applyRefund(hours)
		if err != nil {
			return err
		}
		now := l.now()
		next.UpdatedAt = now
		if err := s.UpdateBalance(ctx, next); err != nil {
			return err
		}
		restored = given
		return s.AppendTransaction(ctx, CreditTransaction{
			ID:             uuid.NewString(),
			BalanceID:      next.ID,
			UserID:         userID,
			CreditType:     creditType,
			Kind:           CreditRefund,
			ReservationID:  ref,
			Amount:         given,
			BalanceAfter:   next.Remaining(),
			IdempotencyKey: key,
			CreatedAt:      now,
		})
	})
	if err != nil {
		return decimal.Zero, err
	}
	return restored, nil
}

// AllocateCycle creates the balance for a new cycle. The previous cycle is
// not touched and nothing carries over. If the cycle was already allocated
// the existing balance is returned with created=false.
func (l *CreditLedger) AllocateCycle(ctx context.Context, userID UserID, creditType CreditType, amount decimal.Decimal, start, end time.Time) (*CreditBalance, bool, error) {
	cycle := Cycle{Start: start, End: end}
	if !cycle.IsValid() {
		return nil, false, newValidationError(CodeInvalidTimeRange, Window(cycle), "cycle %s", cycle)
	}
	if amount.IsNegative() {
		return nil, false, fmt.Errorf("allocate %s for %s: negative amount %s", creditType, userID, amount)
	}

	var (
		result  CreditBalance
		created bool
	)
	err := l.Store.WithCreditTx(ctx, func(s CreditStore) error {
		existing, err := s.BalanceForCycle(ctx, userID, creditType, start)
		if err != nil {
			return err
		}
		if existing != nil {
			result = *existing
			return nil
		}

		now := l.now()
		b := CreditBalance{
			ID:         uuid.NewString(),
			UserID:     userID,
			CreditType: creditType,
			Cycle:      cycle,
			Allocated:  amount,
			Used:       decimal.Zero,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := s.InsertBalance(ctx, b); err != nil {
			return err
		}
		err = s.AppendTransaction(ctx, CreditTransaction{
			ID:             uuid.NewString(),
			BalanceID:      b.ID,
			UserID:         userID,
			CreditType:     creditType,
			Kind:           CreditAllocation,
			Amount:         amount,
			BalanceAfter:   b.Remaining(),
			IdempotencyKey: allocationKey(userID, creditType, cycle),
			CreatedAt:      now,
		})
		if errors.Is(err, ErrDuplicateIdempotencyKey) {
			return fmt.Errorf("allocation trail exists without balance for %s/%s %s: %w", userID, creditType, cycle, err)
		}
		if err != nil {
			return err
		}
		result = b
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &result, created, nil
}

// Transactions returns the trail for a member and credit type, oldest first.
func (l *CreditLedger) Transactions(ctx context.Context, userID UserID, creditType CreditType) ([]CreditTransaction, error) {
	return l.Store.Transactions(ctx, userID, creditType)
}
