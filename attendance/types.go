/*
Package attendance provides the punch reconciliation and time-accounting engine.

PURPOSE:
  Hourly workers record four kinds of punches: check-in, lunch start,
  lunch end and check-out. This package decides whether a requested punch
  is legal, repairs or rejects it when it is not, and turns a shift's
  punches into worked hours, wages and ledger entries.

KEY CONCEPTS IN THIS FILE (types.go):
  - Kind:        Closed set of punch kinds with a stable wire form
  - Punch:       One immutable attendance event in the event log
  - Account:     Per-worker hourly rate and running balance
  - Transaction: Immutable audit row for every balance mutation

DESIGN PRINCIPLES:
  1. Append-only: punches and transactions are never updated or deleted
  2. Precision: hours, rates and money use decimal.Decimal, two places
  3. Explicit ordering: consumers sort punches, the log may hold backdated rows
  4. Auditability: synthetic punches carry the message shown to the worker

SEE ALSO:
  - reconcile.go: Reconciliation Engine (grammar + repair policy)
  - accounting.go: Time Accounting Engine
  - ledger.go: Ledger Operations
  - service.go: Orchestration with locking, retries and notifications
*/
package attendance

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// WorkerID is the stable join key between punches, accounts and transactions.
type WorkerID string

// =============================================================================
// PUNCH KIND - closed tagged variant
// =============================================================================

// Kind is the kind of a punch.
type Kind int

const (
	KindCheckIn Kind = iota + 1
	KindLunchStart
	KindLunchEnd
	KindCheckOut
)

// Kinds lists every punch kind in shift order.
var Kinds = []Kind{KindCheckIn, KindLunchStart, KindLunchEnd, KindCheckOut}

var kindCodes = map[Kind]string{
	KindCheckIn:    "check_in",
	KindLunchStart: "lunch_start",
	KindLunchEnd:   "lunch_end",
	KindCheckOut:   "check_out",
}

var kindLabels = map[Kind]string{
	KindCheckIn:    "check in",
	KindLunchStart: "lunch start",
	KindLunchEnd:   "lunch end",
	KindCheckOut:   "check out",
}

// String returns the wire code, e.g. "check_in".
func (k Kind) String() string {
	if c, ok := kindCodes[k]; ok {
		return c
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Label returns the human-readable name used in messages.
func (k Kind) Label() string {
	if l, ok := kindLabels[k]; ok {
		return l
	}
	return k.String()
}

// Valid reports whether k is one of the four punch kinds.
func (k Kind) Valid() bool {
	_, ok := kindCodes[k]
	return ok
}

// ParseKind accepts the wire code or the label, case-insensitively.
// Anything else is a validation error so unknown kinds never reach the engine.
func ParseKind(s string) (Kind, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	for k, code := range kindCodes {
		if code == norm {
			return k, nil
		}
	}
	return 0, &ValidationError{
		Code:   CodeUnknownKind,
		Reason: fmt.Sprintf("unknown punch kind %q (expected one of check_in, lunch_start, lunch_end, check_out)", s),
	}
}

// =============================================================================
// PUNCH - one attendance event
// =============================================================================

// Punch is an immutable attendance event.
// WorkHours and Salary are set only on check-out punches.
type Punch struct {
	ID         string
	Timestamp  time.Time
	WorkerID   WorkerID
	WorkerName string
	Kind       Kind
	WorkHours  *decimal.Decimal
	Salary     *decimal.Decimal

	// Synthetic punches were inserted by the reconciliation engine.
	// Note holds the message explaining the insertion.
	Synthetic bool
	Note      string

	// Seq is assigned by the store on append and breaks timestamp ties.
	Seq int64
}

// NewPunch builds a punch with a fresh ID.
func NewPunch(worker WorkerID, name string, kind Kind, at time.Time) Punch {
	return Punch{
		ID:         uuid.NewString(),
		Timestamp:  at,
		WorkerID:   worker,
		WorkerName: name,
		Kind:       kind,
	}
}

// SortPunches orders punches by timestamp, then by append sequence.
// The log is not guaranteed to be in timestamp order (manual backfill).
func SortPunches(punches []Punch) {
	sort.SliceStable(punches, func(i, j int) bool {
		if !punches[i].Timestamp.Equal(punches[j].Timestamp) {
			return punches[i].Timestamp.Before(punches[j].Timestamp)
		}
		return punches[i].Seq < punches[j].Seq
	})
}

// =============================================================================
// ACCOUNT
// =============================================================================

// Account holds a worker's hourly rate and running balance.
// HourlyRate is invalid when the stored value is missing or unparseable.
type Account struct {
	WorkerID   WorkerID
	Name       string
	HourlyRate decimal.NullDecimal
	Balance    decimal.Decimal
	CreatedAt  time.Time
}

// =============================================================================
// TRANSACTION - ledger audit row
// =============================================================================

// TransactionKind distinguishes earnings from payouts.
type TransactionKind string

const (
	TxEarning TransactionKind = "earning"
	TxPayout  TransactionKind = "payout"
)

// Transaction is one row per balance mutation.
// Amount is what was earned or paid out, always non-negative for payouts;
// ResultingBalance is the account balance right after the mutation.
type Transaction struct {
	ID               string
	Timestamp        time.Time
	WorkerID         WorkerID
	WorkerName       string
	Kind             TransactionKind
	Amount           decimal.Decimal
	ResultingBalance decimal.Decimal
}

// =============================================================================
// MONEY
// =============================================================================

// Round2 rounds to two decimal places, the precision of every stored amount.
func Round2(d decimal.Decimal) decimal.Decimal { return d.Round(2) }

// ParseAmount parses a positive money amount entered by a person.
// Both "1500" and "1500.50" (or "1500,50") are accepted.
func ParseAmount(s string) (decimal.Decimal, error) {
	norm := strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	d, err := decimal.NewFromString(norm)
	if err != nil {
		return decimal.Zero, &ValidationError{Code: CodeBadAmount, Reason: fmt.Sprintf("%q is not a number", s)}
	}
	if !d.IsPositive() {
		return decimal.Zero, &ValidationError{Code: CodeBadAmount, Reason: "amount must be greater than zero"}
	}
	if d.Exponent() < -2 {
		return decimal.Zero, &ValidationError{Code: CodeBadAmount, Reason: "amount has more than two decimal places"}
	}
	return d, nil
}
