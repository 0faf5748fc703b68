/*
handlers.go - HTTP API handlers for the timeclock

PURPOSE:
  Exposes the attendance service via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to the service.

ENDPOINTS:
  Workers:
    POST   /api/workers                    Register a worker
    GET    /api/workers/{id}               Account (rate, balance)
    POST   /api/workers/{id}/punches       Record a punch now
    GET    /api/workers/{id}/punches       Punch history
    GET    /api/workers/{id}/next          Legal next punches
    GET    /api/workers/{id}/shift         Open shift preview
    GET    /api/workers/{id}/transactions  Ledger rows

  Admin (X-Requester-ID must be a configured administrator):
    GET    /api/admin/balances             All accounts
    POST   /api/admin/backfill             Manual punch at a given time
    POST   /api/admin/payouts              Begin payout
    PUT    /api/admin/payouts/payee        Choose worker
    PUT    /api/admin/payouts/amount       Enter amount, pay
    DELETE /api/admin/payouts              Cancel payout
    GET    /api/admin/export               XLSX timesheet

ERROR HANDLING:
  - 400: Validation errors, illegal punches, invalid input
  - 403: Requester is not an administrator
  - 404: Unknown worker
  - 503: Store busy after retries
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/warp/timeclock/attendance"
	"github.com/warp/timeclock/export"
)

// RequesterHeader carries the identity of the caller for admin routes.
const RequesterHeader = "X-Requester-ID"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service  *attendance.Service
	Exporter *export.Exporter
	Logger   *slog.Logger

	validate *validator.Validate
}

// NewHandler creates a new handler.
func NewHandler(svc *attendance.Service, exporter *export.Exporter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{Service: svc, Exporter: exporter, Logger: logger, validate: v}
}

// =============================================================================
// WORKER HANDLERS
// =============================================================================

// Register creates a worker account with the default rate.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}
	id := attendance.WorkerID(strings.TrimSpace(req.ID))

	created, err := h.Service.Register(r.Context(), id, req.Name)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	acct, err := h.Service.Account(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, RegisterResponse{Created: created, Account: toAccountDTO(acct)})
}

// GetAccount returns the worker's rate and balance.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := h.Service.Account(r.Context(), workerParam(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(acct))
}

// RecordPunch records a punch for the worker at the current time.
func (h *Handler) RecordPunch(w http.ResponseWriter, r *http.Request) {
	var req PunchRequest
	if !h.decode(w, r, &req) {
		return
	}
	kind, err := attendance.ParseKind(req.Kind)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	result, err := h.Service.Punch(r.Context(), workerParam(r), kind)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPunchResponse(result))
}

// ListPunches returns the worker's punches, oldest first.
func (h *Handler) ListPunches(w http.ResponseWriter, r *http.Request) {
	history, err := h.Service.History(r.Context(), workerParam(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPunchDTOs(history))
}

// NextActions returns the punch kinds the worker may record now.
func (h *Handler) NextActions(w http.ResponseWriter, r *http.Request) {
	state, next, err := h.Service.NextActions(r.Context(), workerParam(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NextActionsDTO{State: state.String(), Next: toKindOptions(next)})
}

// PreviewShift returns the open shift's hours and salary so far.
func (h *Handler) PreviewShift(w http.ResponseWriter, r *http.Request) {
	shift, err := h.Service.Preview(r.Context(), workerParam(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toShiftDTO(shift))
}

// ListTransactions returns the worker's ledger rows.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.Service.Transactions(r.Context(), workerParam(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// ListBalances returns every account.
func (h *Handler) ListBalances(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.Service.Balances(r.Context(), requester(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTOs(accounts))
}

// Backfill records a punch on a worker's behalf at the given time.
func (h *Handler) Backfill(w http.ResponseWriter, r *http.Request) {
	var req BackfillRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.Service.Backfill(r.Context(), requester(r), attendance.WorkerID(req.WorkerID), req.Kind, req.Time)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPunchResponse(result))
}

// BeginPayout starts the payout conversation.
func (h *Handler) BeginPayout(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.Service.BeginPayout(r.Context(), requester(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PayoutSessionDTO{
		Step:     string(attendance.StepChoosingWorker),
		Prompt:   "Choose the worker to pay",
		Accounts: toAccountDTOs(accounts),
	})
}

// SelectPayee records the chosen worker.
func (h *Handler) SelectPayee(w http.ResponseWriter, r *http.Request) {
	var req SelectPayeeRequest
	if !h.decode(w, r, &req) {
		return
	}
	acct, err := h.Service.SelectPayee(r.Context(), requester(r), attendance.WorkerID(req.WorkerID))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	payee := toAccountDTO(acct)
	writeJSON(w, http.StatusOK, PayoutSessionDTO{
		Step:   string(attendance.StepEnteringAmount),
		Prompt: fmt.Sprintf("Enter the amount to pay %s (balance %s)", acct.Name, payee.Balance),
		Payee:  &payee,
	})
}

// CompletePayout pays the entered amount.
func (h *Handler) CompletePayout(w http.ResponseWriter, r *http.Request) {
	var req PayoutAmountRequest
	if !h.decode(w, r, &req) {
		return
	}
	tx, err := h.Service.CompletePayout(r.Context(), requester(r), req.Amount)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(tx))
}

// CancelPayout drops the payout conversation.
func (h *Handler) CancelPayout(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.CancelPayout(r.Context(), requester(r)); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Export streams the XLSX timesheet.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	if !h.Service.IsAdmin(requester(r)) {
		h.writeServiceError(w, r, &attendance.ValidationError{Code: attendance.CodeNotAdmin, Reason: "you do not have administrator rights"})
		return
	}
	f, err := h.Exporter.Build(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="timesheet.xlsx"`)
	w.WriteHeader(http.StatusOK)
	if err := f.Write(w); err != nil {
		h.Logger.ErrorContext(r.Context(), "failed to stream export", "error", err)
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func workerParam(r *http.Request) attendance.WorkerID {
	return attendance.WorkerID(chi.URLParam(r, "id"))
}

func requester(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(RequesterHeader))
}

// decode reads and validates a JSON body, writing a 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		msg := "Invalid request body"
		if errors.Is(err, io.EOF) {
			msg = "Request body is empty"
		}
		writeError(w, http.StatusBadRequest, msg, "invalid_request", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, formatValidation(err), "invalid_request", nil)
		return false
	}
	return true
}

func formatValidation(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err.Error()
	}
	out := make([]string, 0, len(ve))
	for _, fe := range ve {
		switch fe.Tag() {
		case "required":
			out = append(out, fmt.Sprintf("Field '%s' is required", fe.Field()))
		case "max":
			out = append(out, fmt.Sprintf("Field '%s' must be at most %s characters", fe.Field(), fe.Param()))
		default:
			out = append(out, fmt.Sprintf("Field '%s' failed validation for '%s'", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(out, ", ")
}

// writeServiceError maps attendance errors to HTTP statuses.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *attendance.ValidationError
	switch {
	case errors.As(err, &ve):
		status := http.StatusBadRequest
		if ve.Code == attendance.CodeNotAdmin {
			status = http.StatusForbidden
		}
		h.Logger.InfoContext(r.Context(), "request refused", "code", ve.Code, "reason", ve.Reason)
		writeError(w, status, ve.Reason, string(ve.Code), nil)
	case attendance.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Worker not found", "not_found", err)
	case attendance.IsRetryable(err):
		h.Logger.WarnContext(r.Context(), "store unavailable", "error", err)
		writeError(w, http.StatusServiceUnavailable, "Storage is busy, try again", "unavailable", err)
	default:
		h.Logger.ErrorContext(r.Context(), "request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal error", "", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message, code string, err error) {
	resp := ErrorResponse{Error: message, Code: code}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
