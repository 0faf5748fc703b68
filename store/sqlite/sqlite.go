/*
Package sqlite provides a SQLite-backed implementation of attendance.Store.

TABLES:
  punches:      append-only event log, one row per punch
  accounts:     one row per worker, balance is the only mutable column
  transactions: append-only ledger audit trail

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements on punches or transactions
  - accounts.balance changes only through SetBalance

ORDERING:
  punches.seq is an AUTOINCREMENT rowid, so it follows append order and
  breaks ties between punches that share a timestamp. Timestamps are stored
  as fixed-width UTC text, which sorts lexically in time order.

ERRORS:
  SQLITE_BUSY and SQLITE_LOCKED are wrapped with attendance.Transient so the
  service can retry them. Unique violations map to ErrAccountExists or
  ErrDuplicateID.

WAL MODE:
  SQLite is opened with WAL and a busy timeout. A single connection is used,
  which also keeps ":memory:" databases consistent across calls.

USAGE:
  store, err := sqlite.New("./data/timeclock.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - attendance/store.go: Interface definitions
  - attendance/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/timeclock/attendance"
)

// tsLayout is fixed-width so that text order equals time order.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements attendance.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Punches (append-only event log)
	CREATE TABLE IF NOT EXISTS punches (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		worker_id TEXT NOT NULL,
		worker_name TEXT NOT NULL,
		kind TEXT NOT NULL,
		ts TEXT NOT NULL,
		work_hours TEXT,
		salary TEXT,
		synthetic BOOLEAN NOT NULL DEFAULT FALSE,
		note TEXT,
		created_at TEXT NOT NULL
	);

	-- History is the hot path: every punch decision reads it
	CREATE INDEX IF NOT EXISTS idx_punches_worker_ts
		ON punches(worker_id, ts, seq);

	-- Accounts
	CREATE TABLE IF NOT EXISTS accounts (
		worker_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		hourly_rate TEXT,
		balance TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL
	);

	-- Transactions (append-only ledger)
	CREATE TABLE IF NOT EXISTS transactions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		worker_id TEXT NOT NULL REFERENCES accounts(worker_id),
		worker_name TEXT NOT NULL,
		kind TEXT NOT NULL,
		amount TEXT NOT NULL,
		resulting_balance TEXT NOT NULL,
		ts TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_worker
		ON transactions(worker_id, seq);
	`

	_, err := s.db.Exec(schema)
	return err
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// EVENT LOG (attendance.EventLog interface)
// =============================================================================

// AppendPunches adds punches atomically.
func (s *Store) AppendPunches(ctx context.Context, punches []attendance.Punch) error {
	return s.WithTx(ctx, func(tx attendance.Store) error {
		return tx.AppendPunches(ctx, punches)
	})
}

func appendPunches(ctx context.Context, q querier, punches []attendance.Punch) error {
	query := `
		INSERT INTO punches
		(id, worker_id, worker_name, kind, ts, work_hours, salary, synthetic, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := formatTime(time.Now())
	for _, p := range punches {
		_, err := q.ExecContext(ctx, query,
			p.ID,
			string(p.WorkerID),
			p.WorkerName,
			p.Kind.String(),
			formatTime(p.Timestamp),
			nullDecimal(p.WorkHours),
			nullDecimal(p.Salary),
			p.Synthetic,
			nullString(p.Note),
			now,
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("punch %s: %w", p.ID, attendance.ErrDuplicateID)
			}
			return classify(fmt.Errorf("failed to append punch: %w", err))
		}
	}
	return nil
}

// History returns a worker's punches, oldest first.
func (s *Store) History(ctx context.Context, worker attendance.WorkerID) ([]attendance.Punch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return history(ctx, s.db, worker)
}

func history(ctx context.Context, q querier, worker attendance.WorkerID) ([]attendance.Punch, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT seq, id, worker_id, worker_name, kind, ts, work_hours, salary, synthetic, note
		FROM punches
		WHERE worker_id = ?
		ORDER BY ts ASC, seq ASC
	`, string(worker))
	if err != nil {
		return nil, classify(fmt.Errorf("failed to query punches: %w", err))
	}
	defer rows.Close()

	var punches []attendance.Punch
	for rows.Next() {
		var (
			p                  attendance.Punch
			workerID, kind, ts string
			workHours, salary  sql.NullString
			note               sql.NullString
		)
		if err := rows.Scan(&p.Seq, &p.ID, &workerID, &p.WorkerName, &kind, &ts, &workHours, &salary, &p.Synthetic, &note); err != nil {
			return nil, fmt.Errorf("failed to scan punch: %w", err)
		}
		p.WorkerID = attendance.WorkerID(workerID)
		if p.Kind, err = attendance.ParseKind(kind); err != nil {
			return nil, fmt.Errorf("punch %s: %w", p.ID, err)
		}
		if p.Timestamp, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("punch %s: %w", p.ID, err)
		}
		p.WorkHours = parseDecimalPtr(workHours)
		p.Salary = parseDecimalPtr(salary)
		p.Note = note.String
		punches = append(punches, p)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return punches, nil
}

// =============================================================================
// ACCOUNT TABLE (attendance.AccountTable interface)
// =============================================================================

func (s *Store) Account(ctx context.Context, worker attendance.WorkerID) (attendance.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return account(ctx, s.db, worker)
}

func account(ctx context.Context, q querier, worker attendance.WorkerID) (attendance.Account, error) {
	row := q.QueryRowContext(ctx, `
		SELECT worker_id, name, hourly_rate, balance, created_at
		FROM accounts WHERE worker_id = ?
	`, string(worker))
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return attendance.Account{}, fmt.Errorf("worker %s: %w", worker, attendance.ErrAccountNotFound)
	}
	return a, err
}

func (s *Store) CreateAccount(ctx context.Context, worker attendance.WorkerID, name string, rate decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createAccount(ctx, s.db, worker, name, rate)
}

func createAccount(ctx context.Context, q querier, worker attendance.WorkerID, name string, rate decimal.Decimal) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO accounts (worker_id, name, hourly_rate, balance, created_at)
		VALUES (?, ?, ?, '0', ?)
	`, string(worker), name, rate.String(), formatTime(time.Now()))
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("worker %s: %w", worker, attendance.ErrAccountExists)
		}
		return classify(fmt.Errorf("failed to create account: %w", err))
	}
	return nil
}

func (s *Store) SetBalance(ctx context.Context, worker attendance.WorkerID, balance decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return setBalance(ctx, s.db, worker, balance)
}

func setBalance(ctx context.Context, q querier, worker attendance.WorkerID, balance decimal.Decimal) error {
	res, err := q.ExecContext(ctx, `UPDATE accounts SET balance = ? WHERE worker_id = ?`,
		balance.StringFixed(2), string(worker))
	if err != nil {
		return classify(fmt.Errorf("failed to set balance: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("worker %s: %w", worker, attendance.ErrAccountNotFound)
	}
	return nil
}

// Accounts lists every account ordered by name.
func (s *Store) Accounts(ctx context.Context) ([]attendance.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return accounts(ctx, s.db)
}

func accounts(ctx context.Context, q querier) ([]attendance.Account, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT worker_id, name, hourly_rate, balance, created_at
		FROM accounts ORDER BY name ASC, worker_id ASC
	`)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to query accounts: %w", err))
	}
	defer rows.Close()

	var out []attendance.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, classify(rows.Err())
}

type scanner interface {
	Scan(dest ...any) error
}

// scanAccount leaves HourlyRate invalid when the stored rate is missing or
// unparseable; the accountant then falls back to the default rate.
func scanAccount(row scanner) (attendance.Account, error) {
	var (
		a                attendance.Account
		workerID         string
		rate             sql.NullString
		balance, created string
	)
	if err := row.Scan(&workerID, &a.Name, &rate, &balance, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return a, err
		}
		return a, classify(fmt.Errorf("failed to scan account: %w", err))
	}
	a.WorkerID = attendance.WorkerID(workerID)
	if p := parseDecimalPtr(rate); p != nil {
		a.HourlyRate = decimal.NewNullDecimal(*p)
	}
	bal, err := decimal.NewFromString(balance)
	if err != nil {
		return a, fmt.Errorf("account %s has corrupt balance %q: %w", workerID, balance, err)
	}
	a.Balance = bal
	a.CreatedAt, _ = parseTime(created)
	return a, nil
}

// =============================================================================
// TRANSACTION LOG (attendance.TransactionLog interface)
// =============================================================================

func (s *Store) AppendTransaction(ctx context.Context, tx attendance.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendTransaction(ctx, s.db, tx)
}

func appendTransaction(ctx context.Context, q querier, tx attendance.Transaction) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO transactions
		(id, worker_id, worker_name, kind, amount, resulting_balance, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		tx.ID,
		string(tx.WorkerID),
		tx.WorkerName,
		string(tx.Kind),
		tx.Amount.StringFixed(2),
		tx.ResultingBalance.StringFixed(2),
		formatTime(tx.Timestamp),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("transaction %s: %w", tx.ID, attendance.ErrDuplicateID)
		}
		return classify(fmt.Errorf("failed to append transaction: %w", err))
	}
	return nil
}

// Transactions returns a worker's transactions in append order.
func (s *Store) Transactions(ctx context.Context, worker attendance.WorkerID) ([]attendance.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return transactions(ctx, s.db, worker)
}

func transactions(ctx context.Context, q querier, worker attendance.WorkerID) ([]attendance.Transaction, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, worker_id, worker_name, kind, amount, resulting_balance, ts
		FROM transactions
		WHERE worker_id = ?
		ORDER BY seq ASC
	`, string(worker))
	if err != nil {
		return nil, classify(fmt.Errorf("failed to query transactions: %w", err))
	}
	defer rows.Close()

	var out []attendance.Transaction
	for rows.Next() {
		var (
			tx                              attendance.Transaction
			workerID, kind, amount, bal, ts string
		)
		if err := rows.Scan(&tx.ID, &workerID, &tx.WorkerName, &kind, &amount, &bal, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.WorkerID = attendance.WorkerID(workerID)
		tx.Kind = attendance.TransactionKind(kind)
		if tx.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("transaction %s has corrupt amount: %w", tx.ID, err)
		}
		if tx.ResultingBalance, err = decimal.NewFromString(bal); err != nil {
			return nil, fmt.Errorf("transaction %s has corrupt balance: %w", tx.ID, err)
		}
		if tx.Timestamp, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("transaction %s: %w", tx.ID, err)
		}
		out = append(out, tx)
	}
	return out, classify(rows.Err())
}

// =============================================================================
// TRANSACTIONS (store level)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store attendance.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return classify(sqlTx.Commit())
}

// txStore routes every read and write through the open transaction.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) AppendPunches(ctx context.Context, punches []attendance.Punch) error {
	return appendPunches(ctx, ts.tx, punches)
}

func (ts *txStore) History(ctx context.Context, worker attendance.WorkerID) ([]attendance.Punch, error) {
	return history(ctx, ts.tx, worker)
}

func (ts *txStore) Account(ctx context.Context, worker attendance.WorkerID) (attendance.Account, error) {
	return account(ctx, ts.tx, worker)
}

func (ts *txStore) CreateAccount(ctx context.Context, worker attendance.WorkerID, name string, rate decimal.Decimal) error {
	return createAccount(ctx, ts.tx, worker, name, rate)
}

func (ts *txStore) SetBalance(ctx context.Context, worker attendance.WorkerID, balance decimal.Decimal) error {
	return setBalance(ctx, ts.tx, worker, balance)
}

func (ts *txStore) Accounts(ctx context.Context) ([]attendance.Account, error) {
	return accounts(ctx, ts.tx)
}

func (ts *txStore) AppendTransaction(ctx context.Context, tx attendance.Transaction) error {
	return appendTransaction(ctx, ts.tx, tx)
}

func (ts *txStore) Transactions(ctx context.Context, worker attendance.WorkerID) ([]attendance.Transaction, error) {
	return transactions(ctx, ts.tx, worker)
}

// WithTx joins the enclosing transaction.
func (ts *txStore) WithTx(_ context.Context, fn func(attendance.Store) error) error {
	return fn(ts)
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.StringFixed(2), Valid: true}
}

func parseDecimalPtr(s sql.NullString) *decimal.Decimal {
	if !s.Valid {
		return nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return nil
	}
	return &d
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// classify marks busy and locked databases as transient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked) {
		return attendance.Transient(err)
	}
	return err
}
