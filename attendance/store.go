/*
store.go - Boundary interfaces to the backing store and the outside world

PURPOSE:
  The engine never owns its storage. The event log, the account table and
  the transaction log are reached through the interfaces below, injected
  explicitly into every component. There is no process-wide handle.

APPEND-ONLY CONTRACT:
  - AppendPunches(): the only write to the event log, atomic per batch
  - AppendTransaction(): the only write to the transaction log
  - SetBalance(): the only mutation of an account after creation
  - NO Update() or Delete() of punches or transactions

ORDERING:
  History() returns a worker's punches oldest first. Implementations
  should sort, but the engine sorts again (SortPunches) before use.

IMPLEMENTATIONS:
  - attendance/store/memory.go: In-memory (tests, dev)
  - store/sqlite/sqlite.go: SQLite

SEE ALSO:
  - ledger.go: uses WithTx for balance + transaction atomicity
  - service.go: retries ErrTransientStore failures
*/
package attendance

import (
	"context"

	"github.com/shopspring/decimal"
)

// EventLog is the per-worker punch log.
type EventLog interface {
	// AppendPunches persists punches atomically, in order.
	// Either all land or none do.
	AppendPunches(ctx context.Context, punches []Punch) error

	// History returns every punch of a worker, oldest first.
	History(ctx context.Context, worker WorkerID) ([]Punch, error)
}

// AccountTable holds one account per worker.
type AccountTable interface {
	// Account returns ErrAccountNotFound for unknown workers.
	Account(ctx context.Context, worker WorkerID) (Account, error)

	// CreateAccount returns ErrAccountExists if the worker is registered.
	CreateAccount(ctx context.Context, worker WorkerID, name string, rate decimal.Decimal) error

	// SetBalance returns ErrAccountNotFound for unknown workers.
	SetBalance(ctx context.Context, worker WorkerID, balance decimal.Decimal) error

	// Accounts lists every account ordered by name.
	Accounts(ctx context.Context) ([]Account, error)
}

// TransactionLog is the append-only ledger audit trail.
type TransactionLog interface {
	AppendTransaction(ctx context.Context, tx Transaction) error

	// Transactions returns a worker's transactions, oldest first.
	Transactions(ctx context.Context, worker WorkerID) ([]Transaction, error)
}

// Store bundles the three collaborators with transaction support.
type Store interface {
	EventLog
	AccountTable
	TransactionLog

	// WithTx executes fn atomically. If fn returns an error, nothing
	// written through the Store passed to fn is kept.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

// Audience selects who receives a notification.
type Audience struct {
	// Worker is set for a message to one worker; empty means all admins.
	Worker WorkerID
}

// AllAdmins addresses every configured administrator.
var AllAdmins = Audience{}

// ToWorker addresses a single worker.
func ToWorker(id WorkerID) Audience { return Audience{Worker: id} }

// IsAdmins reports whether the audience is the administrator group.
func (a Audience) IsAdmins() bool { return a.Worker == "" }

// Notifier delivers messages. Delivery is fire-and-forget: a failure is
// reported back for logging but must never fail the triggering operation,
// and a failure for one admin must not stop delivery to the others.
type Notifier interface {
	Notify(ctx context.Context, to Audience, text string) error
}
