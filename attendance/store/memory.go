// Package store provides an in-memory attendance.Store.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/timeclock/attendance"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	punches      map[attendance.WorkerID][]attendance.Punch
	accounts     map[attendance.WorkerID]attendance.Account
	transactions map[attendance.WorkerID][]attendance.Transaction
	ids          map[string]bool
	seq          int64
	now          func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		punches:      make(map[attendance.WorkerID][]attendance.Punch),
		accounts:     make(map[attendance.WorkerID]attendance.Account),
		transactions: make(map[attendance.WorkerID][]attendance.Transaction),
		ids:          make(map[string]bool),
		now:          time.Now,
	}
}

// ============================================================================
// EVENT LOG
// ============================================================================

// AppendPunches adds punches atomically; a duplicate ID rejects the batch.
func (m *Memory) AppendPunches(_ context.Context, punches []attendance.Punch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendPunchesLocked(punches)
}

func (m *Memory) appendPunchesLocked(punches []attendance.Punch) error {
	seen := make(map[string]bool, len(punches))
	for _, p := range punches {
		if p.ID == "" {
			return fmt.Errorf("punch without id for %s", p.WorkerID)
		}
		if m.ids[p.ID] || seen[p.ID] {
			return fmt.Errorf("punch %s: %w", p.ID, attendance.ErrDuplicateID)
		}
		seen[p.ID] = true
	}
	for _, p := range punches {
		m.seq++
		p.Seq = m.seq
		m.insertLocked(p)
		m.ids[p.ID] = true
	}
	return nil
}

// insertLocked keeps each worker's log sorted by timestamp, then sequence.
func (m *Memory) insertLocked(p attendance.Punch) {
	log := m.punches[p.WorkerID]
	i := sort.Search(len(log), func(i int) bool {
		return log[i].Timestamp.After(p.Timestamp)
	})
	log = append(log, attendance.Punch{})
	copy(log[i+1:], log[i:])
	log[i] = p
	m.punches[p.WorkerID] = log
}

func (m *Memory) History(_ context.Context, worker attendance.WorkerID) ([]attendance.Punch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.historyLocked(worker), nil
}

func (m *Memory) historyLocked(worker attendance.WorkerID) []attendance.Punch {
	result := make([]attendance.Punch, len(m.punches[worker]))
	copy(result, m.punches[worker])
	return result
}

// ============================================================================
// ACCOUNTS
// ============================================================================

func (m *Memory) Account(_ context.Context, worker attendance.WorkerID) (attendance.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.accountLocked(worker)
}

func (m *Memory) accountLocked(worker attendance.WorkerID) (attendance.Account, error) {
	a, ok := m.accounts[worker]
	if !ok {
		return attendance.Account{}, fmt.Errorf("worker %s: %w", worker, attendance.ErrAccountNotFound)
	}
	return a, nil
}

func (m *Memory) CreateAccount(_ context.Context, worker attendance.WorkerID, name string, rate decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createAccountLocked(worker, name, rate)
}

func (m *Memory) createAccountLocked(worker attendance.WorkerID, name string, rate decimal.Decimal) error {
	if _, ok := m.accounts[worker]; ok {
		return fmt.Errorf("worker %s: %w", worker, attendance.ErrAccountExists)
	}
	m.accounts[worker] = attendance.Account{
		WorkerID:   worker,
		Name:       name,
		HourlyRate: decimal.NewNullDecimal(rate),
		Balance:    decimal.Zero,
		CreatedAt:  m.now(),
	}
	return nil
}

// SetRate overrides a worker's hourly rate. Invalid rates are stored as-is
// so callers can exercise the default-rate fallback.
func (m *Memory) SetRate(worker attendance.WorkerID, rate decimal.NullDecimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, err := m.accountLocked(worker)
	if err != nil {
		return err
	}
	a.HourlyRate = rate
	m.accounts[worker] = a
	return nil
}

func (m *Memory) SetBalance(_ context.Context, worker attendance.WorkerID, balance decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setBalanceLocked(worker, balance)
}

func (m *Memory) setBalanceLocked(worker attendance.WorkerID, balance decimal.Decimal) error {
	a, err := m.accountLocked(worker)
	if err != nil {
		return err
	}
	a.Balance = balance
	m.accounts[worker] = a
	return nil
}

func (m *Memory) Accounts(_ context.Context) ([]attendance.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.accountsLocked(), nil
}

func (m *Memory) accountsLocked() []attendance.Account {
	out := make([]attendance.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := strings.Compare(out[i].Name, out[j].Name); c != 0 {
			return c < 0
		}
		return out[i].WorkerID < out[j].WorkerID
	})
	return out
}

// ============================================================================
// TRANSACTIONS
// ============================================================================

func (m *Memory) AppendTransaction(_ context.Context, tx attendance.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendTransactionLocked(tx)
}

func (m *Memory) appendTransactionLocked(tx attendance.Transaction) error {
	if m.ids[tx.ID] {
		return fmt.Errorf("transaction %s: %w", tx.ID, attendance.ErrDuplicateID)
	}
	m.transactions[tx.WorkerID] = append(m.transactions[tx.WorkerID], tx)
	m.ids[tx.ID] = true
	return nil
}

func (m *Memory) Transactions(_ context.Context, worker attendance.WorkerID) ([]attendance.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]attendance.Transaction(nil), m.transactions[worker]...), nil
}

// =============================================================================
// TRANSACTIONS (store level)
// =============================================================================

// WithTx executes fn within a transaction.
// For the memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(attendance.Store) error) error {
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
	punches      map[attendance.WorkerID][]attendance.Punch
	accounts     map[attendance.WorkerID]attendance.Account
	transactions map[attendance.WorkerID][]attendance.Transaction
	ids          map[string]bool
	seq          int64
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		punches:      make(map[attendance.WorkerID][]attendance.Punch, len(m.punches)),
		accounts:     make(map[attendance.WorkerID]attendance.Account, len(m.accounts)),
		transactions: make(map[attendance.WorkerID][]attendance.Transaction, len(m.transactions)),
		ids:          make(map[string]bool, len(m.ids)),
		seq:          m.seq,
	}
	for k, v := range m.punches {
		s.punches[k] = append([]attendance.Punch(nil), v...)
	}
	for k, v := range m.accounts {
		s.accounts[k] = v
	}
	for k, v := range m.transactions {
		s.transactions[k] = append([]attendance.Transaction(nil), v...)
	}
	for k, v := range m.ids {
		s.ids[k] = v
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.punches = s.punches
	m.accounts = s.accounts
	m.transactions = s.transactions
	m.ids = s.ids
	m.seq = s.seq
}

// txView is the Store handed to WithTx callbacks. The parent lock is held.
type txView struct {
	parent *Memory
}

func (tv *txView) AppendPunches(_ context.Context, punches []attendance.Punch) error {
	return tv.parent.appendPunchesLocked(punches)
}

func (tv *txView) History(_ context.Context, worker attendance.WorkerID) ([]attendance.Punch, error) {
	return tv.parent.historyLocked(worker), nil
}

func (tv *txView) Account(_ context.Context, worker attendance.WorkerID) (attendance.Account, error) {
	return tv.parent.accountLocked(worker)
}

func (tv *txView) CreateAccount(_ context.Context, worker attendance.WorkerID, name string, rate decimal.Decimal) error {
	return tv.parent.createAccountLocked(worker, name, rate)
}

func (tv *txView) SetBalance(_ context.Context, worker attendance.WorkerID, balance decimal.Decimal) error {
	return tv.parent.setBalanceLocked(worker, balance)
}

func (tv *txView) Accounts(_ context.Context) ([]attendance.Account, error) {
	return tv.parent.accountsLocked(), nil
}

func (tv *txView) AppendTransaction(_ context.Context, tx attendance.Transaction) error {
	return tv.parent.appendTransactionLocked(tx)
}

func (tv *txView) Transactions(_ context.Context, worker attendance.WorkerID) ([]attendance.Transaction, error) {
	return append([]attendance.Transaction(nil), tv.parent.transactions[worker]...), nil
}

// WithTx on a view joins the enclosing transaction.
func (tv *txView) WithTx(_ context.Context, fn func(attendance.Store) error) error {
	return fn(tv)
}
