/*
store.go - Persistence contracts the engine reads and writes through

PURPOSE:
  The engine owns no storage. It reaches reservations and credit balances
  through these narrow interfaces, each with an in-memory implementation
  (engine/store) and persistent ones (store/sqlite, store/bolt).

KEY INTERFACES:
  ReservationStore:   fetchActiveReservations plus reservation reads/writes
  ReservationTxStore: Atomic commit for the overlap re-check + write
  CreditStore:        fetchCreditBalance plus balance/transaction writes
  CreditTxStore:      Atomic read-modify-write for deduct/refund

ATOMIC COMMIT:
  Two callers may both see a window as free. The overlap check must therefore
  be re-run inside the same WithTx call that inserts the reservation; a check
  made on an earlier read is advisory only.

APPEND-ONLY TRANSACTIONS:
  Credit transactions are never updated or deleted. AppendTransaction returns
  ErrDuplicateIdempotencyKey if the key already exists, which is what makes
  deduct/refund safe to retry.

SEE ALSO:
  - credit.go: CreditLedger built on CreditTxStore
  - booking/service.go: Reservation commit built on ReservationTxStore
*/
package engine

import (
	"context"
	"time"
)

// =============================================================================
// RESERVATIONS
// =============================================================================

type ReservationStore interface {
	// ActiveReservations returns the non-cancelled reservations of a resource
	// on date, in no particular order.
	ActiveReservations(ctx context.Context, resourceID ResourceID, date time.Time) ([]Reservation, error)

	// Reservation returns (nil, nil) when id is unknown.
	Reservation(ctx context.Context, id ReservationID) (*Reservation, error)

	// UserReservations returns a member's reservations, optionally filtered
	// by status, ordered by start.
	UserReservations(ctx context.Context, userID UserID, statuses ...Status) ([]Reservation, error)

	// InsertReservation fails with ErrDuplicateReservation on an ID clash.
	InsertReservation(ctx context.Context, r Reservation) error

	// UpdateReservation fails with ErrReservationNotFound for unknown IDs.
	UpdateReservation(ctx context.Context, r Reservation) error
}

type ReservationTxStore interface {
	ReservationStore

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the passed store is
	// rolled back.
	WithTx(ctx context.Context, fn func(ReservationStore) error) error
}

// =============================================================================
// CREDITS
// =============================================================================

type CreditStore interface {
	// BalanceAt returns the balance whose cycle contains at, or (nil, nil).
	BalanceAt(ctx context.Context, userID UserID, creditType CreditType, at time.Time) (*CreditBalance, error)

	// BalanceForCycle returns the balance starting at cycleStart, or (nil, nil).
	BalanceForCycle(ctx context.Context, userID UserID, creditType CreditType, cycleStart time.Time) (*CreditBalance, error)

	// BalanceByID returns (nil, nil) when id is unknown.
	BalanceByID(ctx context.Context, id string) (*CreditBalance, error)

	// Balances returns every balance a member holds, newest cycle first.
	Balances(ctx context.Context, userID UserID) ([]CreditBalance, error)

	InsertBalance(ctx context.Context, b CreditBalance) error
	UpdateBalance(ctx context.Context, b CreditBalance) error

	// AppendTransaction is the only transaction write. Append-only.
	AppendTransaction(ctx context.Context, tx CreditTransaction) error

	// TransactionByKey returns (nil, nil) when key is unknown.
	TransactionByKey(ctx context.Context, key string) (*CreditTransaction, error)

	// Transactions returns a member's transactions for a credit type,
	// oldest first.
	Transactions(ctx context.Context, userID UserID, creditType CreditType) ([]CreditTransaction, error)
}

type CreditTxStore interface {
	CreditStore

	// WithCreditTx executes fn as one read-modify-write unit. It is named
	// apart from ReservationTxStore.WithTx so one backend can serve both.
	WithCreditTx(ctx context.Context, fn func(CreditStore) error) error
}
