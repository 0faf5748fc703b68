/*
accounting.go - Time Accounting Engine

PURPOSE:
  Finds a worker's open shift and turns it into worked hours and salary.

ALGORITHM:
  1. Walk punches backward from the latest one at or before asOf.
     - check in:  the open shift's start, stop
     - check out: seen before any check in, no open shift, zero result
  2. While walking, accumulate lunch. A lunch end pairs with the nearest
     preceding lunch start and contributes the real duration. A lunch start
     without an end, or a lunch end without a start, contributes the
     default lunch instead.
  3. elapsed = asOf - check in - lunch
     If no lunch was recorded and elapsed >= FullDay, subtract one default
     lunch. Applied once, never on top of recorded lunches.
  4. hours = round(elapsed / 1h, 2), floored at zero
     salary = round(hours * rate, 2)

RATE:
  The account's hourly rate, or Rules.DefaultRate when the account is
  missing or its rate is unusable.
*/
package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var secondsPerHour = decimal.NewFromInt(3600)

// ShiftResult is the accounting of one shift up to AsOf.
// Open is false when there was no unterminated check in; all amounts are
// then zero.
type ShiftResult struct {
	Open         bool
	CheckIn      time.Time
	AsOf         time.Time
	Lunch        time.Duration
	AssumedLunch bool
	WorkHours    decimal.Decimal
	Rate         decimal.Decimal
	Salary       decimal.Decimal
}

// Accountant computes hours and salary for open shifts.
type Accountant struct {
	Log      EventLog
	Accounts AccountTable
	Rules    Rules
}

// NewAccountant creates an accountant over the given log and account table.
func NewAccountant(log EventLog, accounts AccountTable, rules Rules) *Accountant {
	return &Accountant{Log: log, Accounts: accounts, Rules: rules}
}

// Compute accounts for the worker's open shift as of asOf. asOf may differ
// from the wall clock, e.g. for a backdated check out.
func (a *Accountant) Compute(ctx context.Context, worker WorkerID, asOf time.Time) (ShiftResult, error) {
	history, err := a.Log.History(ctx, worker)
	if err != nil {
		return ShiftResult{}, fmt.Errorf("read history of %s: %w", worker, err)
	}
	rate, err := a.RateOf(ctx, worker)
	if err != nil {
		return ShiftResult{}, err
	}
	return a.ComputeShift(history, asOf, rate), nil
}

// RateOf returns the worker's hourly rate, falling back to the default.
func (a *Accountant) RateOf(ctx context.Context, worker WorkerID) (decimal.Decimal, error) {
	acct, err := a.Accounts.Account(ctx, worker)
	if errors.Is(err, ErrAccountNotFound) {
		return a.Rules.DefaultRate, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("read rate of %s: %w", worker, err)
	}
	if !acct.HourlyRate.Valid || acct.HourlyRate.Decimal.IsNegative() {
		return a.Rules.DefaultRate, nil
	}
	return acct.HourlyRate.Decimal, nil
}

// ComputeShift is the pure accounting over an explicit history.
func (a *Accountant) ComputeShift(history []Punch, asOf time.Time, rate decimal.Decimal) ShiftResult {
	result := ShiftResult{AsOf: asOf, Rate: rate, WorkHours: decimal.Zero, Salary: decimal.Zero}

	punches := append([]Punch(nil), history...)
	SortPunches(punches)

	var (
		lunch      time.Duration
		pendingEnd *time.Time
		checkIn    *time.Time
	)

scan:
	for i := len(punches) - 1; i >= 0; i-- {
		p := punches[i]
		if p.Timestamp.After(asOf) {
			continue
		}
		switch p.Kind {
		case KindCheckIn:
			t := p.Timestamp
			checkIn = &t
			break scan
		case KindCheckOut:
			return result
		case KindLunchEnd:
			if pendingEnd != nil {
				// the later end never found a start
				lunch += a.Rules.DefaultLunch
			}
			t := p.Timestamp
			pendingEnd = &t
		case KindLunchStart:
			if pendingEnd != nil {
				lunch += pendingEnd.Sub(p.Timestamp)
				pendingEnd = nil
			} else {
				lunch += a.Rules.DefaultLunch
			}
		}
	}
	if checkIn == nil {
		return result
	}
	if pendingEnd != nil {
		lunch += a.Rules.DefaultLunch
	}

	elapsed := asOf.Sub(*checkIn) - lunch
	if lunch == 0 && elapsed >= a.Rules.FullDay {
		elapsed -= a.Rules.DefaultLunch
		result.AssumedLunch = true
	}

	hours := decimal.New(elapsed.Nanoseconds(), -9).Div(secondsPerHour).Round(2)
	if hours.IsNegative() {
		hours = decimal.Zero
	}

	result.Open = true
	result.CheckIn = *checkIn
	result.Lunch = lunch
	result.WorkHours = hours
	result.Salary = Round2(hours.Mul(rate))
	return result
}
