// Package boltdb provides a BoltDB-backed credit ledger store.
//
// BoltDB is an embedded key/value store. All data lives in a single file,
// so a single-site deployment can keep member credits without a database
// process next to it.
//
// Layout
// ------
//   - balances:        balance ID -> JSON balance
//   - balance_index:   user|type|cycleStart -> balance ID
//   - transactions:    8-byte sequence -> JSON transaction (append-only)
//   - tx_keys:         idempotency key -> sequence
//   - tx_by_user:      user|type|sequence -> empty
//
// Cycle starts are encoded as fixed-width UTC text so a cursor over
// balance_index visits a member's cycles in chronological order.
//
// WithCreditTx runs inside a single bolt read-write transaction. Bolt allows
// one writer at a time, which is what serializes deductions and refunds.
package boltdb

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "github.com/boltdb/bolt"

	"github.com/CitizenCafe-LLC/citizenspace-sub001/engine"
	"github.com/shopspring/decimal"
)

const (
	bucketBalances     = "balances"
	bucketBalanceIndex = "balance_index"
	bucketTransactions = "transactions"
	bucketTxKeys       = "tx_keys"
	bucketTxByUser     = "tx_by_user"

	tsLayout = "2006-01-02T15:04:05.000000000Z"
)

var buckets = []string{bucketBalances, bucketBalanceIndex, bucketTransactions, bucketTxKeys, bucketTxByUser}

// Store wraps a BoltDB database and implements engine.CreditTxStore.
type Store struct {
	db *bolt.DB
}

var _ engine.CreditTxStore = (*Store)(nil)

// New opens (or creates) a BoltDB database at path and ensures every bucket
// exists.
func New(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close releases the database file lock.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// RECORDS
// =============================================================================

type balanceRecord struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	CreditType string          `json:"credit_type"`
	CycleStart time.Time       `json:"cycle_start"`
	CycleEnd   time.Time       `json:"cycle_end"`
	Allocated  decimal.Decimal `json:"allocated"`
	Used       decimal.Decimal `json:"used"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

func toBalanceRecord(b engine.CreditBalance) balanceRecord {
	return balanceRecord{
		ID:         b.ID,
		UserID:     string(b.UserID),
		CreditType: string(b.CreditType),
		CycleStart: b.Cycle.Start.UTC(),
		CycleEnd:   b.Cycle.End.UTC(),
		Allocated:  b.Allocated,
		Used:       b.Used,
		CreatedAt:  b.CreatedAt.UTC(),
		UpdatedAt:  b.UpdatedAt.UTC(),
	}
}

func (r balanceRecord) balance() engine.CreditBalance {
	return engine.CreditBalance{
		ID:         r.ID,
		UserID:     engine.UserID(r.UserID),
		CreditType: engine.CreditType(r.CreditType),
		Cycle:      engine.Cycle{Start: r.CycleStart, End: r.CycleEnd},
		Allocated:  r.Allocated,
		Used:       r.Used,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

type txRecord struct {
	ID             string          `json:"id"`
	BalanceID      string          `json:"balance_id"`
	UserID         string          `json:"user_id"`
	CreditType     string          `json:"credit_type"`
	Kind           string          `json:"kind"`
	ReservationID  string          `json:"reservation_id,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	BalanceAfter   decimal.Decimal `json:"balance_after"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

func (r txRecord) transaction() engine.CreditTransaction {
	return engine.CreditTransaction{
		ID:             r.ID,
		BalanceID:      r.BalanceID,
		UserID:         engine.UserID(r.UserID),
		CreditType:     engine.CreditType(r.CreditType),
		Kind:           engine.CreditTxKind(r.Kind),
		ReservationID:  engine.ReservationID(r.ReservationID),
		Amount:         r.Amount,
		BalanceAfter:   r.BalanceAfter,
		IdempotencyKey: r.IdempotencyKey,
		CreatedAt:      r.CreatedAt,
	}
}

func userTypePrefix(userID engine.UserID, creditType engine.CreditType) []byte {
	return []byte(string(userID) + "|" + string(creditType) + "|")
}

func balanceIndexKey(userID engine.UserID, creditType engine.CreditType, cycleStart time.Time) []byte {
	return append(userTypePrefix(userID, creditType), cycleStart.UTC().Format(tsLayout)...)
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

// =============================================================================
// READS (engine.CreditStore interface)
// =============================================================================

func (s *Store) BalanceAt(ctx context.Context, userID engine.UserID, creditType engine.CreditType, at time.Time) (b *engine.CreditBalance, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		b, err = balanceAt(tx, userID, creditType, at)
		return err
	})
	return b, err
}

func (s *Store) BalanceForCycle(ctx context.Context, userID engine.UserID, creditType engine.CreditType, cycleStart time.Time) (b *engine.CreditBalance, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		b, err = balanceForCycle(tx, userID, creditType, cycleStart)
		return err
	})
	return b, err
}

func (s *Store) BalanceByID(ctx context.Context, id string) (b *engine.CreditBalance, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		b, err = balanceByID(tx, id)
		return err
	})
	return b, err
}

func (s *Store) Balances(ctx context.Context, userID engine.UserID) (list []engine.CreditBalance, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		list, err = balances(tx, userID)
		return err
	})
	return list, err
}

func (s *Store) TransactionByKey(ctx context.Context, key string) (t *engine.CreditTransaction, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		t, err = transactionByKey(tx, key)
		return err
	})
	return t, err
}

func (s *Store) Transactions(ctx context.Context, userID engine.UserID, creditType engine.CreditType) (list []engine.CreditTransaction, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		list, err = transactions(tx, userID, creditType)
		return err
	})
	return list, err
}

// =============================================================================
// WRITES
// =============================================================================

func (s *Store) InsertBalance(ctx context.Context, b engine.CreditBalance) error {
	return s.db.Update(func(tx *bolt.Tx) error { return insertBalance(tx, b) })
}

func (s *Store) UpdateBalance(ctx context.Context, b engine.CreditBalance) error {
	return s.db.Update(func(tx *bolt.Tx) error { return updateBalance(tx, b) })
}

func (s *Store) AppendTransaction(ctx context.Context, t engine.CreditTransaction) error {
	return s.db.Update(func(tx *bolt.Tx) error { return appendTransaction(tx, t) })
}

// WithCreditTx runs fn inside one bolt read-write transaction. Returning an
// error from fn discards every write it made.
func (s *Store) WithCreditTx(ctx context.Context, fn func(engine.CreditStore) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(&txView{tx: tx})
	})
}

// =============================================================================
// BUCKET OPERATIONS
// =============================================================================

func balanceByID(tx *bolt.Tx, id string) (*engine.CreditBalance, error) {
	v := tx.Bucket([]byte(bucketBalances)).Get([]byte(id))
	if v == nil {
		return nil, nil
	}
	var rec balanceRecord
	if err := json.Unmarshal(v, &rec); err != nil {
		return nil, fmt.Errorf("decode balance %s: %w", id, err)
	}
	b := rec.balance()
	return &b, nil
}

func balanceForCycle(tx *bolt.Tx, userID engine.UserID, creditType engine.CreditType, cycleStart time.Time) (*engine.CreditBalance, error) {
	id := tx.Bucket([]byte(bucketBalanceIndex)).Get(balanceIndexKey(userID, creditType, cycleStart))
	if id == nil {
		return nil, nil
	}
	return balanceByID(tx, string(id))
}

func balanceAt(tx *bolt.Tx, userID engine.UserID, creditType engine.CreditType, at time.Time) (*engine.CreditBalance, error) {
	prefix := userTypePrefix(userID, creditType)
	upper := balanceIndexKey(userID, creditType, at)

	// Latest cycle starting at or before at.
	var found []byte
	c := tx.Bucket([]byte(bucketBalanceIndex)).Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		if bytes.Compare(k, upper) > 0 {
			break
		}
		found = v
	}
	if found == nil {
		return nil, nil
	}

	b, err := balanceByID(tx, string(found))
	if err != nil || b == nil {
		return nil, err
	}
	if !b.Cycle.Contains(at) {
		return nil, nil
	}
	return b, nil
}

func balances(tx *bolt.Tx, userID engine.UserID) ([]engine.CreditBalance, error) {
	prefix := []byte(string(userID) + "|")

	var list []engine.CreditBalance
	c := tx.Bucket([]byte(bucketBalanceIndex)).Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		b, err := balanceByID(tx, string(v))
		if err != nil {
			return nil, err
		}
		if b != nil {
			list = append(list, *b)
		}
	}

	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].Cycle.Start.Equal(list[j].Cycle.Start) {
			return list[i].Cycle.Start.After(list[j].Cycle.Start)
		}
		return list[i].CreditType < list[j].CreditType
	})
	return list, nil
}

func insertBalance(tx *bolt.Tx, b engine.CreditBalance) error {
	idx := tx.Bucket([]byte(bucketBalanceIndex))
	key := balanceIndexKey(b.UserID, b.CreditType, b.Cycle.Start)
	if idx.Get(key) != nil {
		return fmt.Errorf("balance for %s/%s cycle %s already exists", b.UserID, b.CreditType, b.Cycle)
	}

	data, err := json.Marshal(toBalanceRecord(b))
	if err != nil {
		return err
	}
	if err := tx.Bucket([]byte(bucketBalances)).Put([]byte(b.ID), data); err != nil {
		return err
	}
	return idx.Put(key, []byte(b.ID))
}

func updateBalance(tx *bolt.Tx, b engine.CreditBalance) error {
	existing, err := balanceByID(tx, b.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		return engine.ErrBalanceNotFound
	}

	// Only usage moves; the cycle and allocation are fixed at creation.
	existing.Used = b.Used
	existing.UpdatedAt = b.UpdatedAt
	data, err := json.Marshal(toBalanceRecord(*existing))
	if err != nil {
		return err
	}
	return tx.Bucket([]byte(bucketBalances)).Put([]byte(b.ID), data)
}

func appendTransaction(tx *bolt.Tx, t engine.CreditTransaction) error {
	keys := tx.Bucket([]byte(bucketTxKeys))
	if t.IdempotencyKey != "" && keys.Get([]byte(t.IdempotencyKey)) != nil {
		return engine.ErrDuplicateIdempotencyKey
	}

	txs := tx.Bucket([]byte(bucketTransactions))
	seq, err := txs.NextSequence()
	if err != nil {
		return err
	}

	data, err := json.Marshal(txRecord{
		ID:             t.ID,
		BalanceID:      t.BalanceID,
		UserID:         string(t.UserID),
		CreditType:     string(t.CreditType),
		Kind:           string(t.Kind),
		ReservationID:  string(t.ReservationID),
		Amount:         t.Amount,
		BalanceAfter:   t.BalanceAfter,
		IdempotencyKey: t.IdempotencyKey,
		CreatedAt:      t.CreatedAt.UTC(),
	})
	if err != nil {
		return err
	}

	sk := seqKey(seq)
	if err := txs.Put(sk, data); err != nil {
		return err
	}
	if t.IdempotencyKey != "" {
		if err := keys.Put([]byte(t.IdempotencyKey), sk); err != nil {
			return err
		}
	}
	userKey := append(userTypePrefix(t.UserID, t.CreditType), sk...)
	return tx.Bucket([]byte(bucketTxByUser)).Put(userKey, []byte{})
}

func transactionAt(tx *bolt.Tx, sk []byte) (*engine.CreditTransaction, error) {
	v := tx.Bucket([]byte(bucketTransactions)).Get(sk)
	if v == nil {
		return nil, nil
	}
	var rec txRecord
	if err := json.Unmarshal(v, &rec); err != nil {
		return nil, fmt.Errorf("decode credit transaction: %w", err)
	}
	t := rec.transaction()
	return &t, nil
}

func transactionByKey(tx *bolt.Tx, key string) (*engine.CreditTransaction, error) {
	sk := tx.Bucket([]byte(bucketTxKeys)).Get([]byte(key))
	if sk == nil {
		return nil, nil
	}
	return transactionAt(tx, sk)
}

func transactions(tx *bolt.Tx, userID engine.UserID, creditType engine.CreditType) ([]engine.CreditTransaction, error) {
	prefix := userTypePrefix(userID, creditType)

	var list []engine.CreditTransaction
	c := tx.Bucket([]byte(bucketTxByUser)).Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		t, err := transactionAt(tx, k[len(prefix):])
		if err != nil {
			return nil, err
		}
		if t != nil {
			list = append(list, *t)
		}
	}
	return list, nil
}

// =============================================================================
// TRANSACTION VIEW
// =============================================================================

// txView is the engine.CreditStore handed to WithCreditTx callbacks.
type txView struct {
	tx *bolt.Tx
}

func (v *txView) BalanceAt(ctx context.Context, userID engine.UserID, creditType engine.CreditType, at time.Time) (*engine.CreditBalance, error) {
	return balanceAt(v.tx, userID, creditType, at)
}

func (v *txView) BalanceForCycle(ctx context.Context, userID engine.UserID, creditType engine.CreditType, cycleStart time.Time) (*engine.CreditBalance, error) {
	return balanceForCycle(v.tx, userID, creditType, cycleStart)
}

func (v *txView) BalanceByID(ctx context.Context, id string) (*engine.CreditBalance, error) {
	return balanceByID(v.tx, id)
}

func (v *txView) Balances(ctx context.Context, userID engine.UserID) ([]engine.CreditBalance, error) {
	return balances(v.tx, userID)
}

func (v *txView) InsertBalance(ctx context.Context, b engine.CreditBalance) error {
	return insertBalance(v.tx, b)
}

func (v *txView) UpdateBalance(ctx context.Context, b engine.CreditBalance) error {
	return updateBalance(v.tx, b)
}

func (v *txView) AppendTransaction(ctx context.Context, t engine.CreditTransaction) error {
	return appendTransaction(v.tx, t)
}

func (v *txView) TransactionByKey(ctx context.Context, key string) (*engine.CreditTransaction, error) {
	return transactionByKey(v.tx, key)
}

func (v *txView) Transactions(ctx context.Context, userID engine.UserID, creditType engine.CreditType) ([]engine.CreditTransaction, error) {
	return transactions(v.tx, userID, creditType)
}
