/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements every persistence interface (ReservationTxStore, CreditTxStore,
  membership.Store, membership.RunStore) using SQLite. In production the same
  patterns apply to PostgreSQL with minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  engine.ReservationTxStore: Reservations with atomic commit
  engine.CreditTxStore:      Credit balances + append-only transactions
  membership.Store:          Member records
  membership.RunStore:       Allocation run audit trail

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on credit_transactions
  - No DELETE statements on credit_transactions
  - idempotency_key is UNIQUE; a clash maps to ErrDuplicateIdempotencyKey

KEY TABLES:
  reservations:        One row per booking, pricing snapshot included
  credit_balances:     One row per (user, credit type, cycle start)
  credit_transactions: Immutable ledger of every balance change
  members:             Member records with plan and holder flag
  resources:           Resource definitions (JSON, versioned)
  allocation_runs:     Scheduled credit allocation passes

INDEXES:
  - idx_reservations_resource_date: Availability reads (hot path)
  - idx_reservations_user_status:   Check-in guard
  - idx_balances_user_type_cycle:   One balance per cycle, cycle lookup

TIMESTAMPS:
  Instants are stored as fixed-width UTC text so that string comparison
  orders them. Reservation dates are stored as the local calendar date the
  booking was made for.

CONCURRENCY:
  sync.RWMutex serializes writers. The pool is limited to one connection:
  ":memory:" databases exist per connection. Inside WithTx every read and
  write goes through the *sql.Tx.

USAGE:
  store, err := sqlite.New("./data/citizenspace.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ledger := engine.NewCreditLedger(store)

SEE ALSO:
  - engine/store.go: Interface definitions
  - engine/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/CitizenCafe-LLC/citizenspace-sub001/engine"
	"github.com/CitizenCafe-LLC/citizenspace-sub001/membership"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

const (
	tsLayout   = "2006-01-02T15:04:05.000000000Z"
	dateLayout = "2006-01-02"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var (
	_ engine.ReservationTxStore = (*Store)(nil)
	_ engine.CreditTxStore      = (*Store)(nil)
	_ membership.Store          = (*Store)(nil)
	_ membership.RunStore       = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := NewWithDB(db)
	if err := store.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// NewWithDB wraps an already opened database. The schema is not migrated.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the database schema.
func (s *Store) Migrate(ctx context.Context) error {
	schema := `
	-- Reservations
	CREATE TABLE IF NOT EXISTS reservations (
		id TEXT PRIMARY KEY,
		resource_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		date TEXT NOT NULL,
		start_at TEXT NOT NULL,
		end_at TEXT NOT NULL,
		status TEXT NOT NULL,
		holder_discount BOOLEAN NOT NULL DEFAULT FALSE,
		effective_rate TEXT NOT NULL,
		credit_type TEXT,
		credit_hours TEXT NOT NULL,
		overage_hours TEXT NOT NULL,
		subtotal TEXT NOT NULL,
		discount TEXT NOT NULL,
		processing_fee TEXT NOT NULL,
		total TEXT NOT NULL,
		payment_method TEXT NOT NULL,
		checked_in_at TEXT,
		checked_out_at TEXT,
		cancelled_at TEXT,
		settlement_json TEXT,
		refund_amount TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Availability reads: all blocking reservations of a resource on a date
	CREATE INDEX IF NOT EXISTS idx_reservations_resource_date
		ON reservations(resource_id, date, status);

	-- Check-in guard and member history
	CREATE INDEX IF NOT EXISTS idx_reservations_user_status
		ON reservations(user_id, status);

	-- Credit balances (one per user, credit type and cycle)
	CREATE TABLE IF NOT EXISTS credit_balances (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		credit_type TEXT NOT NULL,
		cycle_start TEXT NOT NULL,
		cycle_end TEXT NOT NULL,
		allocated TEXT NOT NULL,
		used TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_balances_user_type_cycle
		ON credit_balances(user_id, credit_type, cycle_start);

	-- Credit transactions (append-only ledger)
	CREATE TABLE IF NOT EXISTS credit_transactions (
		id TEXT PRIMARY KEY,
		balance_id TEXT NOT NULL REFERENCES credit_balances(id),
		user_id TEXT NOT NULL,
		credit_type TEXT NOT NULL,
		kind TEXT NOT NULL,
		reservation_id TEXT,
		amount TEXT NOT NULL,
		balance_after TEXT NOT NULL,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_credit_tx_user_type
		ON credit_transactions(user_id, credit_type);
	CREATE INDEX IF NOT EXISTS idx_credit_tx_reservation
		ON credit_transactions(reservation_id) WHERE reservation_id IS NOT NULL;

	-- Members
	CREATE TABLE IF NOT EXISTS members (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		plan_id TEXT,
		holder BOOLEAN NOT NULL DEFAULT FALSE,
		joined_at TEXT,
		created_at TEXT NOT NULL
	);

	-- Resources
	CREATE TABLE IF NOT EXISTS resources (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		category TEXT NOT NULL,
		config_json TEXT NOT NULL,
		version INTEGER DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Allocation runs (scheduled credit cycle allocation)
	CREATE TABLE IF NOT EXISTS allocation_runs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		run_at TEXT NOT NULL,
		members INTEGER DEFAULT 0,
		created INTEGER DEFAULT 0,
		existing INTEGER DEFAULT 0,
		failed INTEGER DEFAULT 0,
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_allocation_runs_started
		ON allocation_runs(started_at DESC);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// RESERVATION STORE (engine.ReservationStore interface)
// =============================================================================

const reservationColumns = `
	id, resource_id, user_id, date, start_at, end_at, status, holder_discount,
	effective_rate, credit_type, credit_hours, overage_hours, subtotal, discount,
	processing_fee, total, payment_method, checked_in_at, checked_out_at,
	cancelled_at, settlement_json, refund_amount, created_at, updated_at`

// ActiveReservations returns the pending, confirmed and checked-in
// reservations of a resource on date.
func (s *Store) ActiveReservations(ctx context.Context, resourceID engine.ResourceID, date time.Time) ([]engine.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return activeReservations(ctx, s.db, resourceID, date)
}

func activeReservations(ctx context.Context, q querier, resourceID engine.ResourceID, date time.Time) ([]engine.Reservation, error) {
	query := `SELECT ` + reservationColumns + `
		FROM reservations
		WHERE resource_id = ? AND date = ? AND status IN (?, ?, ?)
		ORDER BY start_at ASC`
	return queryReservations(ctx, q, query, resourceID, date.Format(dateLayout),
		engine.StatusPending, engine.StatusConfirmed, engine.StatusCheckedIn)
}

// Reservation retrieves a reservation by ID.
func (s *Store) Reservation(ctx context.Context, id engine.ReservationID) (*engine.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getReservation(ctx, s.db, id)
}

func getReservation(ctx context.Context, q querier, id engine.ReservationID) (*engine.Reservation, error) {
	list, err := queryReservations(ctx, q, `SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return &list[0], nil
}

// UserReservations returns a member's reservations, optionally by status.
func (s *Store) UserReservations(ctx context.Context, userID engine.UserID, statuses ...engine.Status) ([]engine.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return userReservations(ctx, s.db, userID, statuses)
}

func userReservations(ctx context.Context, q querier, userID engine.UserID, statuses []engine.Status) ([]engine.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE user_id = ?`
	args := []any{userID}
	if len(statuses) > 0 {
		query += ` AND status IN (?` + strings.Repeat(", ?", len(statuses)-1) + `)`
		for _, st := range statuses {
			args = append(args, st)
		}
	}
	query += ` ORDER BY start_at ASC`
	return queryReservations(ctx, q, query, args...)
}

// InsertReservation adds a reservation.
func (s *Store) InsertReservation(ctx context.Context, r engine.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertReservation(ctx, s.db, r)
}

func insertReservation(ctx context.Context, q querier, r engine.Reservation) error {
	settlementJSON, err := marshalSettlement(r.Settlement)
	if err != nil {
		return err
	}

	query := `INSERT INTO reservations (` + reservationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = q.ExecContext(ctx, query,
		r.ID, r.ResourceID, r.UserID,
		r.Date.Format(dateLayout),
		formatTime(r.Start), formatTime(r.End),
		r.Status, r.HolderDiscount,
		r.EffectiveRate.String(),
		nullString(string(r.CreditType)),
		r.CreditHours.String(), r.OverageHours.String(),
		r.Subtotal.String(), r.Discount.String(),
		r.ProcessingFee.String(), r.Total.String(),
		r.PaymentMethod,
		nullTime(r.CheckedInAt), nullTime(r.CheckedOutAt), nullTime(r.CancelledAt),
		settlementJSON,
		r.RefundAmount.String(),
		formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return engine.ErrDuplicateReservation
		}
		return fmt.Errorf("failed to insert reservation: %w", err)
	}
	return nil
}

// UpdateReservation rewrites the mutable fields of a reservation.
func (s *Store) UpdateReservation(ctx context.Context, r engine.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateReservation(ctx, s.db, r)
}

func updateReservation(ctx context.Context, q querier, r engine.Reservation) error {
	settlementJSON, err := marshalSettlement(r.Settlement)
	if err != nil {
		return err
	}

	query := `
		UPDATE reservations SET
			status = ?, checked_in_at = ?, checked_out_at = ?, cancelled_at = ?,
			settlement_json = ?, refund_amount = ?, updated_at = ?
		WHERE id = ?`

	res, err := q.ExecContext(ctx, query,
		r.Status,
		nullTime(r.CheckedInAt), nullTime(r.CheckedOutAt), nullTime(r.CancelledAt),
		settlementJSON, r.RefundAmount.String(), formatTime(r.UpdatedAt),
		r.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update reservation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return engine.ErrReservationNotFound
	}
	return nil
}

func queryReservations(ctx context.Context, q querier, query string, args ...any) ([]engine.Reservation, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reservations: %w", err)
	}
	defer rows.Close()

	var reservations []engine.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		reservations = append(reservations, r)
	}
	return reservations, rows.Err()
}

func scanReservation(rows *sql.Rows) (engine.Reservation, error) {
	var (
		r                                        engine.Reservation
		date, startAt, endAt                     string
		effectiveRate, creditHours, overageHours string
		subtotal, discount, fee, total, refund   string
		creditType, settlementJSON               sql.NullString
		checkedInAt, checkedOutAt, cancelledAt   sql.NullString
		createdAt, updatedAt                     string
	)

	err := rows.Scan(
		&r.ID, &r.ResourceID, &r.UserID, &date, &startAt, &endAt, &r.Status, &r.HolderDiscount,
		&effectiveRate, &creditType, &creditHours, &overageHours, &subtotal, &discount,
		&fee, &total, &r.PaymentMethod, &checkedInAt, &checkedOutAt,
		&cancelledAt, &settlementJSON, &refund, &createdAt, &updatedAt,
	)
	if err != nil {
		return r, fmt.Errorf("failed to scan reservation: %w", err)
	}

	r.Date, _ = time.Parse(dateLayout, date)
	r.Start = parseTime(startAt)
	r.End = parseTime(endAt)
	r.EffectiveRate = parseDecimal(effectiveRate)
	r.CreditType = engine.CreditType(creditType.String)
	r.CreditHours = parseDecimal(creditHours)
	r.OverageHours = parseDecimal(overageHours)
	r.Subtotal = parseDecimal(subtotal)
	r.Discount = parseDecimal(discount)
	r.ProcessingFee = parseDecimal(fee)
	r.Total = parseDecimal(total)
	r.RefundAmount = parseDecimal(refund)
	r.CheckedInAt = parseNullTime(checkedInAt)
	r.CheckedOutAt = parseNullTime(checkedOutAt)
	r.CancelledAt = parseNullTime(cancelledAt)
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)

	if settlementJSON.Valid && settlementJSON.String != "" {
		var st engine.Settlement
		if err := json.Unmarshal([]byte(settlementJSON.String), &st); err != nil {
			return r, fmt.Errorf("reservation %s: bad settlement: %w", r.ID, err)
		}
		r.Settlement = &st
	}
	return r, nil
}

func marshalSettlement(st *engine.Settlement) (sql.NullString, error) {
	if st == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(st)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode settlement: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// =============================================================================
// CREDIT STORE (engine.CreditStore interface)
// =============================================================================

const balanceColumns = `id, user_id, credit_type, cycle_start, cycle_end, allocated, used, created_at, updated_at`

func (s *Store) BalanceAt(ctx context.Context, userID engine.UserID, creditType engine.CreditType, at time.Time) (*engine.CreditBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return balanceAt(ctx, s.db, userID, creditType, at)
}

func balanceAt(ctx context.Context, q querier, userID engine.UserID, creditType engine.CreditType, at time.Time) (*engine.CreditBalance, error) {
	ts := formatTime(at)
	return queryBalance(ctx, q, `SELECT `+balanceColumns+` FROM credit_balances
		WHERE user_id = ? AND credit_type = ? AND cycle_start <= ? AND cycle_end > ?
		ORDER BY cycle_start DESC LIMIT 1`, userID, creditType, ts, ts)
}

func (s *Store) BalanceForCycle(ctx context.Context, userID engine.UserID, creditType engine.CreditType, cycleStart time.Time) (*engine.CreditBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return balanceForCycle(ctx, s.db, userID, creditType, cycleStart)
}

func balanceForCycle(ctx context.Context, q querier, userID engine.UserID, creditType engine.CreditType, cycleStart time.Time) (*engine.CreditBalance, error) {
	return queryBalance(ctx, q, `SELECT `+balanceColumns+` FROM credit_balances
		WHERE user_id = ? AND credit_type = ? AND cycle_start = ?`, userID, creditType, formatTime(cycleStart))
}

func (s *Store) BalanceByID(ctx context.Context, id string) (*engine.CreditBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryBalance(ctx, s.db, `SELECT `+balanceColumns+` FROM credit_balances WHERE id = ?`, id)
}

func (s *Store) Balances(ctx context.Context, userID engine.UserID) ([]engine.CreditBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryBalances(ctx, s.db, `SELECT `+balanceColumns+` FROM credit_balances
		WHERE user_id = ? ORDER BY cycle_start DESC, credit_type ASC`, userID)
}

func (s *Store) InsertBalance(ctx context.Context, b engine.CreditBalance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertBalance(ctx, s.db, b)
}

func insertBalance(ctx context.Context, q querier, b engine.CreditBalance) error {
	_, err := q.ExecContext(ctx, `INSERT INTO credit_balances (`+balanceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.UserID, b.CreditType,
		formatTime(b.Cycle.Start), formatTime(b.Cycle.End),
		b.Allocated.String(), b.Used.String(),
		formatTime(b.CreatedAt), formatTime(b.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert credit balance: %w", err)
	}
	return nil
}

func (s *Store) UpdateBalance(ctx context.Context, b engine.CreditBalance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateBalance(ctx, s.db, b)
}

func updateBalance(ctx context.Context, q querier, b engine.CreditBalance) error {
	res, err := q.ExecContext(ctx, `UPDATE credit_balances SET used = ?, updated_at = ? WHERE id = ?`,
		b.Used.String(), formatTime(b.UpdatedAt), b.ID)
	if err != nil {
		return fmt.Errorf("failed to update credit balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return engine.ErrBalanceNotFound
	}
	return nil
}

func queryBalance(ctx context.Context, q querier, query string, args ...any) (*engine.CreditBalance, error) {
	list, err := queryBalances(ctx, q, query, args...)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

func queryBalances(ctx context.Context, q querier, query string, args ...any) ([]engine.CreditBalance, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query credit balances: %w", err)
	}
	defer rows.Close()

	var balances []engine.CreditBalance
	for rows.Next() {
		var (
			b                    engine.CreditBalance
			cycleStart, cycleEnd string
			allocated, used      string
			createdAt, updatedAt string
		)
		if err := rows.Scan(&b.ID, &b.UserID, &b.CreditType, &cycleStart, &cycleEnd,
			&allocated, &used, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan credit balance: %w", err)
		}
		b.Cycle = engine.Cycle{Start: parseTime(cycleStart), End: parseTime(cycleEnd)}
		b.Allocated = parseDecimal(allocated)
		b.Used = parseDecimal(used)
		b.CreatedAt = parseTime(createdAt)
		b.UpdatedAt = parseTime(updatedAt)
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

// =============================================================================
// CREDIT TRANSACTIONS (append-only)
// =============================================================================

const creditTxColumns = `id, balance_id, user_id, credit_type, kind, reservation_id, amount, balance_after, idempotency_key, created_at`

// AppendTransaction adds a transaction to the credit ledger.
func (s *Store) AppendTransaction(ctx context.Context, tx engine.CreditTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendTransaction(ctx, s.db, tx)
}

func appendTransaction(ctx context.Context, q querier, tx engine.CreditTransaction) error {
	_, err := q.ExecContext(ctx, `INSERT INTO credit_transactions (`+creditTxColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.BalanceID, tx.UserID, tx.CreditType, tx.Kind,
		nullString(string(tx.ReservationID)),
		tx.Amount.String(), tx.BalanceAfter.String(),
		nullString(tx.IdempotencyKey),
		formatTime(tx.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return engine.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append credit transaction: %w", err)
	}
	return nil
}

func (s *Store) TransactionByKey(ctx context.Context, key string) (*engine.CreditTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return transactionByKey(ctx, s.db, key)
}

func transactionByKey(ctx context.Context, q querier, key string) (*engine.CreditTransaction, error) {
	list, err := queryCreditTransactions(ctx, q, `SELECT `+creditTxColumns+` FROM credit_transactions WHERE idempotency_key = ?`, key)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

func (s *Store) Transactions(ctx context.Context, userID engine.UserID, creditType engine.CreditType) ([]engine.CreditTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return creditTransactions(ctx, s.db, userID, creditType)
}

func creditTransactions(ctx context.Context, q querier, userID engine.UserID, creditType engine.CreditType) ([]engine.CreditTransaction, error) {
	return queryCreditTransactions(ctx, q, `SELECT `+creditTxColumns+` FROM credit_transactions
		WHERE user_id = ? AND credit_type = ?
		ORDER BY created_at ASC, rowid ASC`, userID, creditType)
}

func queryCreditTransactions(ctx context.Context, q querier, query string, args ...any) ([]engine.CreditTransaction, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query credit transactions: %w", err)
	}
	defer rows.Close()

	var txs []engine.CreditTransaction
	for rows.Next() {
		var (
			tx                   engine.CreditTransaction
			reservationID, key   sql.NullString
			amount, balanceAfter string
			createdAt            string
		)
		if err := rows.Scan(&tx.ID, &tx.BalanceID, &tx.UserID, &tx.CreditType, &tx.Kind,
			&reservationID, &amount, &balanceAfter, &key, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan credit transaction: %w", err)
		}
		tx.ReservationID = engine.ReservationID(reservationID.String)
		tx.Amount = parseDecimal(amount)
		tx.BalanceAfter = parseDecimal(balanceAfter)
		tx.IdempotencyKey = key.String
		tx.CreatedAt = parseTime(createdAt)
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(engine.ReservationStore) error) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return fn(&txStore{tx: tx})
	})
}

// WithCreditTx executes fn within a database transaction.
func (s *Store) WithCreditTx(ctx context.Context, fn func(engine.CreditStore) error) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return fn(&txStore{tx: tx})
	})
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(sqlTx); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore reads and writes through the open transaction only.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) ActiveReservations(ctx context.Context, resourceID engine.ResourceID, date time.Time) ([]engine.Reservation, error) {
	return activeReservations(ctx, ts.tx, resourceID, date)
}

func (ts *txStore) Reservation(ctx context.Context, id engine.ReservationID) (*engine.Reservation, error) {
	return getReservation(ctx, ts.tx, id)
}

func (ts *txStore) UserReservations(ctx context.Context, userID engine.UserID, statuses ...engine.Status) ([]engine.Reservation, error) {
	return userReservations(ctx, ts.tx, userID, statuses)
}

func (ts *txStore) InsertReservation(ctx context.Context, r engine.Reservation) error {
	return insertReservation(ctx, ts.tx, r)
}

func (ts *txStore) UpdateReservation(ctx context.Context, r engine.Reservation) error {
	return updateReservation(ctx, ts.tx, r)
}

func (ts *txStore) BalanceAt(ctx context.Context, userID engine.UserID, creditType engine.CreditType, at time.Time) (*engine.CreditBalance, error) {
	return balanceAt(ctx, ts.tx, userID, creditType, at)
}

func (ts *txStore) BalanceForCycle(ctx context.Context, userID engine.UserID, creditType engine.CreditType, cycleStart time.Time) (*engine.CreditBalance, error) {
	return balanceForCycle(ctx, ts.tx, userID, creditType, cycleStart)
}

func (ts *txStore) BalanceByID(ctx context.Context, id string) (*engine.CreditBalance, error) {
	return queryBalance(ctx, ts.tx, `SELECT `+balanceColumns+` FROM credit_balances WHERE id = ?`, id)
}

func (ts *txStore) Balances(ctx context.Context, userID engine.UserID) ([]engine.CreditBalance, error) {
	return queryBalances(ctx, ts.tx, `SELECT `+balanceColumns+` FROM credit_balances
		WHERE user_id = ? ORDER BY cycle_start DESC, credit_type ASC`, userID)
}

func (ts *txStore) InsertBalance(ctx context.Context, b engine.CreditBalance) error {
	return insertBalance(ctx, ts.tx, b)
}

func (ts *txStore) UpdateBalance(ctx context.Context, b engine.CreditBalance) error {
	return updateBalance(ctx, ts.tx, b)
}

func (ts *txStore) AppendTransaction(ctx context.Context, tx engine.CreditTransaction) error {
	return appendTransaction(ctx, ts.tx, tx)
}

func (ts *txStore) TransactionByKey(ctx context.Context, key string) (*engine.CreditTransaction, error) {
	return transactionByKey(ctx, ts.tx, key)
}

func (ts *txStore) Transactions(ctx context.Context, userID engine.UserID, creditType engine.CreditType) ([]engine.CreditTransaction, error) {
	return creditTransactions(ctx, ts.tx, userID, creditType)
}

// =============================================================================
// MEMBER STORE (membership.Store interface)
// =============================================================================

// SaveMember saves a member.
func (s *Store) SaveMember(ctx context.Context, m membership.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO members (id, name, email, plan_id, holder, joined_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			plan_id = excluded.plan_id,
			holder = excluded.holder,
			joined_at = excluded.joined_at
	`

	created := m.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	var joined sql.NullString
	if !m.JoinedAt.IsZero() {
		joined = sql.NullString{String: formatTime(m.JoinedAt), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, query,
		m.ID, m.Name, nullString(m.Email), nullString(string(m.PlanID)), m.Holder,
		joined, formatTime(created),
	)
	return err
}

// Member retrieves a member by ID.
func (s *Store) Member(ctx context.Context, id engine.UserID) (*membership.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list, err := s.queryMembers(ctx, "SELECT id, name, email, plan_id, holder, joined_at, created_at FROM members WHERE id = ?", id)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

// Members returns all members.
func (s *Store) Members(ctx context.Context) ([]membership.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryMembers(ctx, "SELECT id, name, email, plan_id, holder, joined_at, created_at FROM members ORDER BY name")
}

func (s *Store) queryMembers(ctx context.Context, query string, args ...any) ([]membership.Member, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []membership.Member
	for rows.Next() {
		var (
			m                     membership.Member
			email, planID, joined sql.NullString
			createdAt             string
		)
		if err := rows.Scan(&m.ID, &m.Name, &email, &planID, &m.Holder, &joined, &createdAt); err != nil {
			return nil, err
		}
		m.Email = email.String
		m.PlanID = membership.PlanID(planID.String)
		if joined.Valid {
			m.JoinedAt = parseTime(joined.String)
		}
		m.CreatedAt = parseTime(createdAt)
		members = append(members, m)
	}
	return members, rows.Err()
}

// DeleteMember removes a member.
func (s *Store) DeleteMember(ctx context.Context, id engine.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM members WHERE id = ?", id)
	return err
}

// =============================================================================
// RESOURCE STORE
// =============================================================================

// ResourceRecord is a stored resource with its JSON definition.
type ResourceRecord struct {
	ID         string
	Name       string
	Category   string
	ConfigJSON string
	Version    int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// SaveResource saves a resource record, bumping its version on update.
func (s *Store) SaveResource(ctx context.Context, rec ResourceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO resources (id, name, category, config_json, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			category = excluded.category,
			config_json = excluded.config_json,
			version = resources.version + 1,
			updated_at = excluded.updated_at
	`

	now := formatTime(time.Now())
	_, err := s.db.ExecContext(ctx, query, rec.ID, rec.Name, rec.Category, rec.ConfigJSON, now, now)
	return err
}

// GetResource retrieves a resource record by ID.
func (s *Store) GetResource(ctx context.Context, id string) (*ResourceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		rec                  ResourceRecord
		createdAt, updatedAt string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, category, config_json, version, created_at, updated_at FROM resources WHERE id = ?",
		id,
	).Scan(&rec.ID, &rec.Name, &rec.Category, &rec.ConfigJSON, &rec.Version, &createdAt, &updatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rec.CreatedAt = parseTime(createdAt)
	rec.UpdatedAt = parseTime(updatedAt)
	return &rec, nil
}

// ListResources returns all resource records.
func (s *Store) ListResources(ctx context.Context) ([]ResourceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, category, config_json, version, created_at, updated_at FROM resources ORDER BY id",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []ResourceRecord
	for rows.Next() {
		var (
			rec ResourceRecord
	    createdAt, updatedAt string
		)
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Category, &rec.ConfigJSON, &rec.Version, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		rec.CreatedAt = parseTime(createdAt)
		rec.UpdatedAt = parseTime(updatedAt)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// DeleteResource removes a resource record.
func (s *Store) DeleteResource(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM resources WHERE id = ?", id)
	return err
}

// =============================================================================
// ALLOCATION RUNS (membership.RunStore interface)
// =============================================================================

// SaveAllocationRun creates or updates an allocation run record.
func (s *Store) SaveAllocationRun(ctx context.Context, run membership.AllocationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO allocation_runs
		(id, status, run_at, members, created, existing, failed, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			members = excluded.members,
			created = excluded.created,
			existing = excluded.existing,
			failed = excluded.failed,
			error = excluded.error,
			completed_at = excluded.completed_at
	`

	_, err := s.db.ExecContext(ctx, query,
		run.ID, run.Status, formatTime(run.At),
		run.Members, run.Created, run.Existing, run.Failed,
		nullString(run.Error), formatTime(run.StartedAt), nullTime(run.CompletedAt),
	)
	return err
}

// AllocationRuns returns the most recent runs, newest first.
func (s *Store) AllocationRuns(ctx context.Context, limit int) ([]membership.AllocationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, status, run_at, members, created, existing, failed, error, started_at, completed_at
		FROM allocation_runs
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []membership.AllocationRun
	for rows.Next() {
		var (
			r                membership.AllocationRun
			runAt, startedAt string
	                 errMsg, completedAt sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Status, &runAt, &r.Members, &r.Created, &r.Existing,
			&r.Failed, &errMsg, &startedAt, &completedAt); err != nil {
			return nil, err
		}
		r.At = parseTime(runAt)
		r.StartedAt = parseTime(startedAt)
		r.Error = errMsg.String
		r.CompletedAt = parseNullTime(completedAt)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"credit_transactions", "credit_balances", "reservations", "members", "resources", "allocation_runs"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func formatTime(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "PRIMARY KEY constraint failed"))
}
