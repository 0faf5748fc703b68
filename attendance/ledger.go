/*
ledger.go - Ledger Operations

PURPOSE:
  Applies a signed amount to a worker's balance and appends the matching
  audit row. Used for end-of-shift earnings and admin-issued payouts.

CRITICAL INVARIANTS:
  1. One Transaction per balance mutation, written in the same store
     transaction as the new balance
  2. Transaction.ResultingBalance == Account.Balance right after the mutation
  3. Balances are rounded to two places at every mutation
  4. Unknown worker -> ErrAccountNotFound, nothing written

SIGNS:
  Earnings are positive, payouts negative. The audit row records the
  payout as the positive amount paid.
*/
package attendance

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Entry is one requested balance mutation.
type Entry struct {
	// ID becomes the transaction ID; a fresh one is generated when empty.
	ID     string
	Worker WorkerID
	Amount decimal.Decimal // signed
	Kind   TransactionKind
	At     time.Time
}

// Ledger applies entries to the account table and the transaction log.
type Ledger struct {
	Store Store
}

// NewLedger creates a ledger over store.
func NewLedger(store Store) *Ledger {
	return &Ledger{Store: store}
}

// Apply adds signedAmount to the worker's balance and returns the new balance.
func (l *Ledger) Apply(ctx context.Context, worker WorkerID, signedAmount decimal.Decimal, kind TransactionKind, at time.Time) (decimal.Decimal, error) {
	tx, err := l.Post(ctx, Entry{Worker: worker, Amount: signedAmount, Kind: kind, At: at})
	if err != nil {
		return decimal.Zero, err
	}
	return tx.ResultingBalance, nil
}

// Post applies e atomically and returns the appended transaction.
func (l *Ledger) Post(ctx context.Context, e Entry) (Transaction, error) {
	if err := validateEntry(e); err != nil {
		return Transaction{}, err
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	var posted Transaction
	err := l.Store.WithTx(ctx, func(s Store) error {
		var err error
		posted, err = postIn(ctx, s, e)
		return err
	})
	if err != nil {
		return Transaction{}, fmt.Errorf("post %s for %s: %w", e.Kind, e.Worker, err)
	}
	return posted, nil
}

// postIn applies an already validated entry through s, which is expected to
// be inside a store transaction.
func postIn(ctx context.Context, s Store, e Entry) (Transaction, error) {
	acct, err := s.Account(ctx, e.Worker)
	if err != nil {
		return Transaction{}, err
	}
	balance := Round2(acct.Balance.Add(Round2(e.Amount)))
	if err := s.SetBalance(ctx, e.Worker, balance); err != nil {
		return Transaction{}, err
	}
	tx := Transaction{
		ID:               e.ID,
		Timestamp:        e.At,
		WorkerID:         e.Worker,
		WorkerName:       acct.Name,
		Kind:             e.Kind,
		Amount:           Round2(e.Amount.Abs()),
		ResultingBalance: balance,
	}
	if err := s.AppendTransaction(ctx, tx); err != nil {
		return Transaction{}, err
	}
	return tx, nil
}

func validateEntry(e Entry) error {
	switch e.Kind {
	case TxEarning:
		if e.Amount.IsNegative() {
			return &ValidationError{Code: CodeBadAmount, Reason: "an earning cannot be negative"}
		}
	case TxPayout:
		if !e.Amount.IsNegative() {
			return &ValidationError{Code: CodeBadAmount, Reason: "a payout must reduce the balance"}
		}
	default:
		return &ValidationError{Code: CodeBadAmount, Reason: fmt.Sprintf("unknown transaction kind %q", e.Kind)}
	}
	return nil
}
