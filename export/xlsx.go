/*
Package export writes the attendance log as an XLSX timesheet.

SHEETS:
  Punches:      every punch of every worker, oldest first per worker
  Balances:     one row per account
  Transactions: every ledger row

The punch sheet keeps the column order of the original spreadsheet log
(timestamp, worker, name, action, hours, salary) with the synthetic flag and
repair note appended.
*/
package export

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/warp/timeclock/attendance"
)

const (
	SheetPunches      = "Punches"
	SheetBalances     = "Balances"
	SheetTransactions = "Transactions"

	timestampLayout = "2006-01-02 15:04:05"
)

// Source is the read side of the store the export needs.
type Source interface {
	Accounts(ctx context.Context) ([]attendance.Account, error)
	History(ctx context.Context, worker attendance.WorkerID) ([]attendance.Punch, error)
	Transactions(ctx context.Context, worker attendance.WorkerID) ([]attendance.Transaction, error)
}

// Exporter renders timesheets in a fixed location.
type Exporter struct {
	src Source
	loc *time.Location
}

func New(src Source, loc *time.Location) *Exporter {
	if loc == nil {
		loc = time.Local
	}
	return &Exporter{src: src, loc: loc}
}

// Write renders the workbook to w.
func (e *Exporter) Write(ctx context.Context, w io.Writer) error {
	f, err := e.Build(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

// Build renders the workbook in memory. The caller closes it.
func (e *Exporter) Build(ctx context.Context) (*excelize.File, error) {
	accounts, err := e.src.Accounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	f := excelize.NewFile()
	if err := f.SetSheetName(f.GetSheetName(0), SheetPunches); err != nil {
		f.Close()
		return nil, err
	}
	for _, name := range []string{SheetBalances, SheetTransactions} {
		if _, err := f.NewSheet(name); err != nil {
			f.Close()
			return nil, err
		}
	}

	if err := e.writeSheets(ctx, f, accounts); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func (e *Exporter) writeSheets(ctx context.Context, f *excelize.File, accounts []attendance.Account) error {
	punches := sheetWriter{f: f, sheet: SheetPunches}
	punches.row("Timestamp", "Worker ID", "Name", "Action", "Work hours", "Salary", "Synthetic", "Note")

	balances := sheetWriter{f: f, sheet: SheetBalances}
	balances.row("Worker ID", "Name", "Hourly rate", "Balance")

	txs := sheetWriter{f: f, sheet: SheetTransactions}
	txs.row("Timestamp", "Worker ID", "Name", "Kind", "Amount", "Resulting balance")

	for _, a := range accounts {
		rate := ""
		if a.HourlyRate.Valid {
			rate = a.HourlyRate.Decimal.StringFixed(2)
		}
		balances.row(string(a.WorkerID), a.Name, rate, a.Balance.StringFixed(2))

		history, err := e.src.History(ctx, a.WorkerID)
		if err != nil {
			return fmt.Errorf("history of %s: %w", a.WorkerID, err)
		}
		attendance.SortPunches(history)
		for _, p := range history {
			punches.row(
				p.Timestamp.In(e.loc).Format(timestampLayout),
				string(p.WorkerID),
				p.WorkerName,
				p.Kind.Label(),
				optional(p.WorkHours),
				optional(p.Salary),
				p.Synthetic,
				p.Note,
			)
		}

		ledger, err := e.src.Transactions(ctx, a.WorkerID)
		if err != nil {
			return fmt.Errorf("transactions of %s: %w", a.WorkerID, err)
		}
		for _, tx := range ledger {
			txs.row(
				tx.Timestamp.In(e.loc).Format(timestampLayout),
				string(tx.WorkerID),
				tx.WorkerName,
				string(tx.Kind),
				tx.Amount.StringFixed(2),
				tx.ResultingBalance.StringFixed(2),
			)
		}
	}

	for _, w := range []*sheetWriter{&punches, &balances, &txs} {
		if w.err != nil {
			return fmt.Errorf("sheet %s: %w", w.sheet, w.err)
		}
	}
	return nil
}

// sheetWriter appends rows and keeps the first error.
type sheetWriter struct {
	f     *excelize.File
	sheet string
	next  int
	err   error
}

func (w *sheetWriter) row(values ...any) {
	if w.err != nil {
		return
	}
	w.next++
	cell, err := excelize.CoordinatesToCellName(1, w.next)
	if err != nil {
		w.err = err
		return
	}
	w.err = w.f.SetSheetRow(w.sheet, cell, &values)
}

func optional(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.StringFixed(2)
}
