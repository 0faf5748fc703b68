/*
dto.go - Data Transfer Objects for API requests and responses

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

VALIDATION:
  Request types carry go-playground/validator tags, checked by decode()
  before the handler runs. Domain validation (punch grammar, timestamps,
  amounts) stays in the attendance package.

MONEY AND HOURS:
  Always strings with two decimals, never floats.
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/timeclock/attendance"
)

// =============================================================================
// REQUESTS
// =============================================================================

// RegisterRequest registers a worker.
type RegisterRequest struct {
	ID   string `json:"id" validate:"required,max=64"`
	Name string `json:"name" validate:"required,max=128"`
}

// PunchRequest is a worker's own punch, recorded at the server's clock.
type PunchRequest struct {
	Kind string `json:"kind" validate:"required"`
}

// BackfillRequest is an administrator's manual entry.
// Time is "HH:MM" (today) or "DD-MM-YYYY HH:MM".
type BackfillRequest struct {
	WorkerID string `json:"worker_id" validate:"required"`
	Kind     string `json:"kind" validate:"required"`
	Time     string `json:"time" validate:"required"`
}

// SelectPayeeRequest is the first answer of the payout conversation.
type SelectPayeeRequest struct {
	WorkerID string `json:"worker_id" validate:"required"`
}

// PayoutAmountRequest is the second answer of the payout conversation.
type PayoutAmountRequest struct {
	Amount string `json:"amount" validate:"required"`
}

// =============================================================================
// RESPONSES
// =============================================================================

// AccountDTO represents a worker account.
type AccountDTO struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	HourlyRate *string `json:"hourly_rate"`
	Balance    string  `json:"balance"`
	CreatedAt  string  `json:"created_at,omitempty"`
}

// RegisterResponse reports whether the account was created.
type RegisterResponse struct {
	Created bool       `json:"created"`
	Account AccountDTO `json:"account"`
}

// PunchDTO represents a punch in the log.
type PunchDTO struct {
	ID         string  `json:"id"`
	Timestamp  string  `json:"timestamp"`
	WorkerID   string  `json:"worker_id"`
	WorkerName string  `json:"worker_name"`
	Kind       string  `json:"kind"`
	Label      string  `json:"label"`
	WorkHours  *string `json:"work_hours,omitempty"`
	Salary     *string `json:"salary,omitempty"`
	Synthetic  bool    `json:"synthetic"`
	Note       string  `json:"note,omitempty"`
}

// CheckoutDTO summarizes one shift closed by a punch request.
type CheckoutDTO struct {
	PunchID   string `json:"punch_id"`
	Synthetic bool   `json:"synthetic"`
	WorkHours string `json:"work_hours"`
	Salary    string `json:"salary"`
	Balance   string `json:"balance"`
}

// PunchResponse is the result of an accepted punch request.
type PunchResponse struct {
	Decision  string        `json:"decision"`
	Recorded  []PunchDTO    `json:"recorded"`
	Checkouts []CheckoutDTO `json:"checkouts,omitempty"`
	Messages  []string      `json:"messages"`
}

// ShiftDTO is the accounting of the open shift.
type ShiftDTO struct {
	Open         bool    `json:"open"`
	CheckIn      *string `json:"check_in,omitempty"`
	AsOf         string  `json:"as_of"`
	LunchMinutes float64 `json:"lunch_minutes"`
	AssumedLunch bool    `json:"assumed_lunch"`
	WorkHours    string  `json:"work_hours"`
	Rate         string  `json:"rate"`
	Salary       string  `json:"salary"`
}

// NextActionsDTO lists what a worker may record now.
type NextActionsDTO struct {
	State string       `json:"state"`
	Next  []KindOption `json:"next"`
}

// KindOption is one punch kind offered to the client.
type KindOption struct {
	Kind  string `json:"kind"`
	Label string `json:"label"`
}

// TransactionDTO represents a ledger row.
type TransactionDTO struct {
	ID               string `json:"id"`
	Timestamp        string `json:"timestamp"`
	WorkerID         string `json:"worker_id"`
	WorkerName       string `json:"worker_name"`
	Kind             string `json:"kind"`
	Amount           string `json:"amount"`
	ResultingBalance string `json:"resulting_balance"`
}

// PayoutSessionDTO is the state of the payout conversation.
type PayoutSessionDTO struct {
	Step     string       `json:"step"`
	Prompt   string       `json:"prompt"`
	Accounts []AccountDTO `json:"accounts,omitempty"`
	Payee    *AccountDTO  `json:"payee,omitempty"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toAccountDTO(a attendance.Account) AccountDTO {
	dto := AccountDTO{
		ID:      string(a.WorkerID),
		Name:    a.Name,
		Balance: a.Balance.StringFixed(2),
	}
	if a.HourlyRate.Valid {
		rate := a.HourlyRate.Decimal.StringFixed(2)
		dto.HourlyRate = &rate
	}
	if !a.CreatedAt.IsZero() {
		dto.CreatedAt = a.CreatedAt.Format(time.RFC3339)
	}
	return dto
}

func toAccountDTOs(accounts []attendance.Account) []AccountDTO {
	dtos := make([]AccountDTO, len(accounts))
	for i, a := range accounts {
		dtos[i] = toAccountDTO(a)
	}
	return dtos
}

func toPunchDTO(p attendance.Punch) PunchDTO {
	return PunchDTO{
		ID:         p.ID,
		Timestamp:  p.Timestamp.Format(time.RFC3339),
		WorkerID:   string(p.WorkerID),
		WorkerName: p.WorkerName,
		Kind:       p.Kind.String(),
		Label:      p.Kind.Label(),
		WorkHours:  fixed(p.WorkHours),
		Salary:     fixed(p.Salary),
		Synthetic:  p.Synthetic,
		Note:       p.Note,
	}
}

func toPunchDTOs(punches []attendance.Punch) []PunchDTO {
	dtos := make([]PunchDTO, len(punches))
	for i, p := range punches {
		dtos[i] = toPunchDTO(p)
	}
	return dtos
}

func toPunchResponse(r attendance.PunchResult) PunchResponse {
	resp := PunchResponse{
		Decision: r.Outcome.Decision.String(),
		Recorded: toPunchDTOs(r.Recorded),
		Messages: r.Messages(),
	}
	for _, c := range r.Checkouts {
		resp.Checkouts = append(resp.Checkouts, CheckoutDTO{
			PunchID:   c.Punch.ID,
			Synthetic: c.Punch.Synthetic,
			WorkHours: c.Shift.WorkHours.StringFixed(2),
			Salary:    c.Shift.Salary.StringFixed(2),
			Balance:   c.Balance.StringFixed(2),
		})
	}
	return resp
}

func toShiftDTO(s attendance.ShiftResult) ShiftDTO {
	dto := ShiftDTO{
		Open:         s.Open,
		AsOf:         s.AsOf.Format(time.RFC3339),
		LunchMinutes: s.Lunch.Minutes(),
		AssumedLunch: s.AssumedLunch,
		WorkHours:    s.WorkHours.StringFixed(2),
		Rate:         s.Rate.StringFixed(2),
		Salary:       s.Salary.StringFixed(2),
	}
	if s.Open {
		in := s.CheckIn.Format(time.RFC3339)
		dto.CheckIn = &in
	}
	return dto
}

func toKindOptions(kinds []attendance.Kind) []KindOption {
	opts := make([]KindOption, len(kinds))
	for i, k := range kinds {
		opts[i] = KindOption{Kind: k.String(), Label: k.Label()}
	}
	return opts
}

func toTransactionDTO(tx attendance.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:               tx.ID,
		Timestamp:        tx.Timestamp.Format(time.RFC3339),
		WorkerID:         string(tx.WorkerID),
		WorkerName:       tx.WorkerName,
		Kind:             string(tx.Kind),
		Amount:           tx.Amount.StringFixed(2),
		ResultingBalance: tx.ResultingBalance.StringFixed(2),
	}
}

func fixed(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.StringFixed(2)
	return &s
}
