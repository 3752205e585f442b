// Package store provides in-memory engine store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/CitizenCafe-LLC/citizenspace-sub001/engine"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements engine.ReservationTxStore and engine.CreditTxStore.
type Memory struct {
	mu           sync.RWMutex
	reservations map[engine.ReservationID]engine.Reservation
	balances     map[string]engine.CreditBalance
	transactions []engine.CreditTransaction
	idempotency  map[string]int // key -> index into transactions
}

func NewMemory() *Memory {
	return &Memory{
		reservations: make(map[engine.ReservationID]engine.Reservation),
		balances:     make(map[string]engine.CreditBalance),
		idempotency:  make(map[string]int),
	}
}

var (
	_ engine.ReservationTxStore = (*Memory)(nil)
	_ engine.CreditTxStore      = (*Memory)(nil)
)

// =============================================================================
// RESERVATIONS
// =============================================================================

func (m *Memory) ActiveReservations(_ context.Context, resourceID engine.ResourceID, date time.Time) ([]engine.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeLocked(resourceID, date), nil
}

func (m *Memory) activeLocked(resourceID engine.ResourceID, date time.Time) []engine.Reservation {
	var result []engine.Reservation
	for _, r := range m.reservations {
		if r.ResourceID == resourceID && r.Status.IsActive() && engine.SameDate(r.Date, date) {
			result = append(result, r)
		}
	}
	return result
}

func (m *Memory) Reservation(_ context.Context, id engine.ReservationID) (*engine.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reservationLocked(id), nil
}

func (m *Memory) reservationLocked(id engine.ReservationID) *engine.Reservation {
	r, ok := m.reservations[id]
	if !ok {
		return nil
	}
	return &r
}

func (m *Memory) UserReservations(_ context.Context, userID engine.UserID, statuses ...engine.Status) ([]engine.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.userLocked(userID, statuses), nil
}

func (m *Memory) userLocked(userID engine.UserID, statuses []engine.Status) []engine.Reservation {
	var result []engine.Reservation
	for _, r := range m.reservations {
		if r.UserID != userID || !hasStatus(r.Status, statuses) {
			continue
		}
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Start.Before(result[j].Start) })
	return result
}

func hasStatus(s engine.Status, statuses []engine.Status) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, want := range statuses {
		if s == want {
			return true
		}
	}
	return false
}

func (m *Memory) InsertReservation(_ context.Context, r engine.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertReservationLocked(r)
}

func (m *Memory) insertReservationLocked(r engine.Reservation) error {
	if _, ok := m.reservations[r.ID]; ok {
		return engine.ErrDuplicateReservation
	}
	m.reservations[r.ID] = r
	return nil
}

func (m *Memory) UpdateReservation(_ context.Context, r engine.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateReservationLocked(r)
}

func (m *Memory) updateReservationLocked(r engine.Reservation) error {
	if _, ok := m.reservations[r.ID]; !ok {
		return engine.ErrReservationNotFound
	}
	m.reservations[r.ID] = r
	return nil
}

// =============================================================================
// CREDITS
// =============================================================================

func (m *Memory) BalanceAt(_ context.Context, userID engine.UserID, creditType engine.CreditType, at time.Time) (*engine.CreditBalance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balanceAtLocked(userID, creditType, at), nil
}

func (m *Memory) balanceAtLocked(userID engine.UserID, creditType engine.CreditType, at time.Time) *engine.CreditBalance {
	var found *engine.CreditBalance
	for _, b := range m.balances {
		if b.UserID != userID || b.CreditType != creditType || !b.Cycle.Contains(at) {
			continue
		}
		if found == nil || b.Cycle.Start.After(found.Cycle.Start) {
			b := b
			found = &b
		}
	}
	return found
}

func (m *Memory) BalanceForCycle(_ context.Context, userID engine.UserID, creditType engine.CreditType, cycleStart time.Time) (*engine.CreditBalance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balanceForCycleLocked(userID, creditType, cycleStart), nil
}

func (m *Memory) balanceForCycleLocked(userID engine.UserID, creditType engine.CreditType, cycleStart time.Time) *engine.CreditBalance {
	for _, b := range m.balances {
		if b.UserID == userID && b.CreditType == creditType && b.Cycle.Start.Equal(cycleStart) {
			return &b
		}
	}
	return nil
}

func (m *Memory) BalanceByID(_ context.Context, id string) (*engine.CreditBalance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balanceByIDLocked(id), nil
}

func (m *Memory) balanceByIDLocked(id string) *engine.CreditBalance {
	b, ok := m.balances[id]
	if !ok {
		return nil
	}
	return &b
}

func (m *Memory) Balances(_ context.Context, userID engine.UserID) ([]engine.CreditBalance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balancesLocked(userID), nil
}

func (m *Memory) balancesLocked(userID engine.UserID) []engine.CreditBalance {
	var result []engine.CreditBalance
	for _, b := range m.balances {
		if b.UserID == userID {
			result = append(result, b)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Cycle.Start.After(result[j].Cycle.Start) })
	return result
}

func (m *Memory) InsertBalance(_ context.Context, b engine.CreditBalance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[b.ID] = b
	return nil
}

func (m *Memory) insertBalanceLocked(b engine.CreditBalance) {
	m.balances[b.ID] = b
}

func (m *Memory) UpdateBalance(_ context.Context, b engine.CreditBalance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateBalanceLocked(b)
}

func (m *Memory) updateBalanceLocked(b engine.CreditBalance) error {
	if _, ok := m.balances[b.ID]; !ok {
		return engine.ErrBalanceNotFound
	}
	m.balances[b.ID] = b
	return nil
}

// AppendTransaction adds a ledger row. Append-only.
func (m *Memory) AppendTransaction(_ context.Context, tx engine.CreditTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(tx)
}

func (m *Memory) appendLocked(tx engine.CreditTransaction) error {
	if tx.IdempotencyKey != "" {
		if _, ok := m.idempotency[tx.IdempotencyKey]; ok {
			return engine.ErrDuplicateIdempotencyKey
		}
		m.idempotency[tx.IdempotencyKey] = len(m.transactions)
	}
	m.transactions = append(m.transactions, tx)
	return nil
}

func (m *Memory) TransactionByKey(_ context.Context, key string) (*engine.CreditTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.transactionByKeyLocked(key), nil
}

func (m *Memory) transactionByKeyLocked(key string) *engine.CreditTransaction {
	i, ok := m.idempotency[key]
	if !ok {
		return nil
	}
	tx := m.transactions[i]
	return &tx
}

func (m *Memory) Transactions(_ context.Context, userID engine.UserID, creditType engine.CreditType) ([]engine.CreditTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.transactionsLocked(userID, creditType), nil
}

func (m *Memory) transactionsLocked(userID engine.UserID, creditType engine.CreditType) []engine.CreditTransaction {
	var result []engine.CreditTransaction
	for _, tx := range m.transactions {
		if tx.UserID == userID && tx.CreditType == creditType {
			result = append(result, tx)
		}
	}
	return result
}

// =============================================================================
// TRANSACTIONS - Snapshot + rollback on error
// =============================================================================

// WithTx runs fn holding the write lock. On error every write made through
// the view is rolled back.
func (m *Memory) WithTx(_ context.Context, fn func(engine.ReservationStore) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()
	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

// WithCreditTx is WithTx for the credit side.
func (m *Memory) WithCreditTx(_ context.Context, fn func(engine.CreditStore) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()
	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	reservations map[engine.ReservationID]engine.Reservation
	balances     map[string]engine.CreditBalance
	transactions []engine.CreditTransaction
	idempotency  map[string]int
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		reservations: make(map[engine.ReservationID]engine.Reservation, len(m.reservations)),
		balances:     make(map[string]engine.CreditBalance, len(m.balances)),
		transactions: append([]engine.CreditTransaction{}, m.transactions...),
		idempotency:  make(map[string]int, len(m.idempotency)),
	}
	for k, v := range m.reservations {
		s.reservations[k] = v
	}
	for k, v := range m.balances {
		s.balances[k] = v
	}
	for k, v := range m.idempotency {
		s.idempotency[k] = v
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.reservations = s.reservations
	m.balances = s.balances
	m.transactions = s.transactions
	m.idempotency = s.idempotency
}

// =============================================================================
// TX VIEW - Same data, no re-locking
// =============================================================================

// txView is handed to WithTx callbacks. The parent lock is already held.
type txView struct {
	parent *Memory
}

func (v *txView) ActiveReservations(_ context.Context, resourceID engine.ResourceID, date time.Time) ([]engine.Reservation, error) {
	return v.parent.activeLocked(resourceID, date), nil
}

func (v *txView) Reservation(_ context.Context, id engine.ReservationID) (*engine.Reservation, error) {
	return v.parent.reservationLocked(id), nil
}

func (v *txView) UserReservations(_ context.Context, userID engine.UserID, statuses ...engine.Status) ([]engine.Reservation, error) {
	return v.parent.userLocked(userID, statuses), nil
}

func (v *txView) InsertReservation(_ context.Context, r engine.Reservation) error {
	return v.parent.insertReservationLocked(r)
}

func (v *txView) UpdateReservation(_ context.Context, r engine.Reservation) error {
	return v.parent.updateReservationLocked(r)
}

func (v *txView) BalanceAt(_ context.Context, userID engine.UserID, creditType engine.CreditType, at time.Time) (*engine.CreditBalance, error) {
	return v.parent.balanceAtLocked(userID, creditType, at), nil
}

func (v *txView) BalanceForCycle(_ context.Context, userID engine.UserID, creditType engine.CreditType, cycleStart time.Time) (*engine.CreditBalance, error) {
	return v.parent.balanceForCycleLocked(userID, creditType, cycleStart), nil
}

func (v *txView) BalanceByID(_ context.Context, id string) (*engine.CreditBalance, error) {
	return v.parent.balanceByIDLocked(id), nil
}

func (v *txView) Balances(_ context.Context, userID engine.UserID) ([]engine.CreditBalance, error) {
	return v.parent.balancesLocked(userID), nil
}

func (v *txView) InsertBalance(_ context.Context, b engine.CreditBalance) error {
	v.parent.insertBalanceLocked(b)
	return nil
}

func (v *txView) UpdateBalance(_ context.Context, b engine.CreditBalance) error {
	return v.parent.updateBalanceLocked(b)
}

func (v *txView) AppendTransaction(_ context.Context, tx engine.CreditTransaction) error {
	return v.parent.appendLocked(tx)
}

func (v *txView) TransactionByKey(_ context.Context, key string) (*engine.CreditTransaction, error) {
	return v.parent.transactionByKeyLocked(key), nil
}

func (v *txView) Transactions(_ context.Context, userID engine.UserID, creditType engine.CreditType) ([]engine.CreditTransaction, error) {
	return v.parent.transactionsLocked(userID, creditType), nil
}
