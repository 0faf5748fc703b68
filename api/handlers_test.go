/*
handlers_test.go - HTTP tests for the timeclock API

Tests for:
- Worker routes: register, punch, history, next actions, preview
- Error mapping: 400 validation, 403 admin, 404 unknown worker
- Admin routes: backfill, payout conversation, export
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/warp/timeclock/attendance"
	"github.com/warp/timeclock/attendance/store"
	"github.com/warp/timeclock/export"
	"github.com/warp/timeclock/notify"
	"github.com/warp/timeclock/session"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const testAdmin = "boss"

type testEnv struct {
	router   http.Handler
	svc      *attendance.Service
	notifier *notify.Recorder
	now      time.Time
}

func day(d, hh, mm int) time.Time {
	return time.Date(2025, time.March, 10+d, hh, mm, 0, 0, time.UTC)
}

func newTestEnv(t *testing.T, mode attendance.Mode) *testEnv {
	t.Helper()
	env := &testEnv{notifier: &notify.Recorder{}, now: day(0, 9, 0)}
	clock := func() time.Time { return env.now }

	rules := attendance.DefaultRules()
	rules.Mode = mode
	rules.Location = time.UTC

	mem := store.NewMemory()
	env.svc = attendance.NewService(mem, env.notifier, session.NewMemory().WithClock(clock), attendance.ServiceConfig{
		Rules:  rules,
		Admins: []string{testAdmin},
		Now:    clock,
	})
	h := NewHandler(env.svc, export.New(mem, time.UTC), nil)
	env.router = NewRouter(h, RouterOptions{})
	return env
}

func (e *testEnv) do(t *testing.T, method, path, requester string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if requester != "" {
		req.Header.Set(RequesterHeader, requester)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (e *testEnv) register(t *testing.T, id, name string) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/workers", "", RegisterRequest{ID: id, Name: name})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (e *testEnv) punch(t *testing.T, id, kind string, at time.Time) *httptest.ResponseRecorder {
	t.Helper()
	e.now = at
	return e.do(t, http.MethodPost, "/api/workers/"+id+"/punches", "", PunchRequest{Kind: kind})
}

// =============================================================================
// WORKER ROUTES
// =============================================================================

func TestRegister(t *testing.T) {
	// GIVEN: A fresh server
	// WHEN: Registering the same worker twice
	// THEN: 201 then 200, with the default rate and a zero balance

	env := newTestEnv(t, attendance.ModeStrict)

	rec := env.do(t, http.MethodPost, "/api/workers", "", RegisterRequest{ID: "w-1", Name: "Ana"})
	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decodeBody[RegisterResponse](t, rec)
	assert.True(t, resp.Created)
	assert.Equal(t, "0.00", resp.Account.Balance)
	require.NotNil(t, resp.Account.HourlyRate)
	assert.Equal(t, "100.00", *resp.Account.HourlyRate)

	rec = env.do(t, http.MethodPost, "/api/workers", "", RegisterRequest{ID: "w-1", Name: "Ana"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeBody[RegisterResponse](t, rec).Created)
}

func TestRegister_InvalidBody(t *testing.T) {
	env := newTestEnv(t, attendance.ModeStrict)

	rec := env.do(t, http.MethodPost, "/api/workers", "", map[string]string{"id": "w-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	errResp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "invalid_request", errResp.Code)
	assert.Contains(t, errResp.Error, "Field 'name' is required")

	rec = env.do(t, http.MethodPost, "/api/workers", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Request body is empty", decodeBody[ErrorResponse](t, rec).Error)
}

func TestPunchFlow(t *testing.T) {
	// GIVEN: A registered worker
	// WHEN: Punching a full day through the API
	// THEN: The check out response carries the earnings and balance

	env := newTestEnv(t, attendance.ModeStrict)
	env.register(t, "w-1", "Ana")

	require.Equal(t, http.StatusCreated, env.punch(t, "w-1", "check_in", day(0, 9, 0)).Code)
	require.Equal(t, http.StatusCreated, env.punch(t, "w-1", "lunch start", day(0, 12, 0)).Code)
	require.Equal(t, http.StatusCreated, env.punch(t, "w-1", "lunch_end", day(0, 12, 30)).Code)
	rec := env.punch(t, "w-1", "check_out", day(0, 17, 0))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	resp := decodeBody[PunchResponse](t, rec)
	assert.Equal(t, "accepted", resp.Decision)
	require.Len(t, resp.Recorded, 1)
	require.NotNil(t, resp.Recorded[0].WorkHours)
	assert.Equal(t, "7.50", *resp.Recorded[0].WorkHours)
	require.Len(t, resp.Checkouts, 1)
	assert.Equal(t, "750.00", resp.Checkouts[0].Balance)
	assert.NotEmpty(t, resp.Messages)

	rec = env.do(t, http.MethodGet, "/api/workers/w-1/punches", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]PunchDTO](t, rec), 4)

	rec = env.do(t, http.MethodGet, "/api/workers/w-1/transactions", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	txs := decodeBody[[]TransactionDTO](t, rec)
	require.Len(t, txs, 1)
	assert.Equal(t, "750.00", txs[0].ResultingBalance)
}

func TestPunch_Errors(t *testing.T) {
	env := newTestEnv(t, attendance.ModeStrict)
	env.register(t, "w-1", "Ana")

	tests := []struct {
		name   string
		worker string
		kind   string
		status int
		code   string
	}{
		{"unknown kind", "w-1", "nap", http.StatusBadRequest, string(attendance.CodeUnknownKind)},
		{"illegal transition", "w-1", "check_out", http.StatusBadRequest, string(attendance.CodeIllegalTransition)},
		{"unregistered worker", "ghost", "check_in", http.StatusBadRequest, string(attendance.CodeUnknownWorker)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.punch(t, tt.worker, tt.kind, day(0, 9, 0))
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decodeBody[ErrorResponse](t, rec).Code)
		})
	}
}

func TestPunch_RepairMode(t *testing.T) {
	env := newTestEnv(t, attendance.ModeRepair)
	env.register(t, "w-1", "Ana")
	env.punch(t, "w-1", "check_in", day(0, 9, 0))

	rec := env.punch(t, "w-1", "check_in", day(1, 9, 0))

	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decodeBody[PunchResponse](t, rec)
	require.Len(t, resp.Recorded, 2)
	assert.True(t, resp.Recorded[0].Synthetic)
	assert.NotEmpty(t, resp.Recorded[0].Note)
	require.Len(t, resp.Checkouts, 1)
	assert.True(t, resp.Checkouts[0].Synthetic)
}

func TestGetAccount_NotFound(t *testing.T) {
	env := newTestEnv(t, attendance.ModeStrict)

	rec := env.do(t, http.MethodGet, "/api/workers/ghost", "", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeBody[ErrorResponse](t, rec).Code)
}

func TestNextActionsAndPreview(t *testing.T) {
	env := newTestEnv(t, attendance.ModeStrict)
	env.register(t, "w-1", "Ana")
	env.punch(t, "w-1", "check_in", day(0, 9, 0))
	env.now = day(0, 10, 0)

	rec := env.do(t, http.MethodGet, "/api/workers/w-1/next", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	next := decodeBody[NextActionsDTO](t, rec)
	assert.Equal(t, "checked_in", next.State)
	assert.Equal(t, []KindOption{
		{Kind: "lunch_start", Label: "lunch start"},
		{Kind: "check_out", Label: "check out"},
	}, next.Next)

	rec = env.do(t, http.MethodGet, "/api/workers/w-1/shift", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	shift := decodeBody[ShiftDTO](t, rec)
	assert.True(t, shift.Open)
	assert.Equal(t, "1.00", shift.WorkHours)
	assert.Equal(t, "100.00", shift.Salary)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, attendance.ModeStrict)

	rec := env.do(t, http.MethodGet, "/healthz", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAccessLog(t *testing.T) {
	env := newTestEnv(t, attendance.ModeStrict)
	var buf bytes.Buffer
	router := NewRouter(NewHandler(env.svc, nil, nil), RouterOptions{AccessLog: &buf, LogLevel: slog.LevelInfo})

	req := httptest.NewRequest(http.MethodGet, "/api/workers/ghost", nil)
	router.ServeHTTP(httptest.NewRecorder(), req)

	assert.Contains(t, buf.String(), "/api/workers/ghost")
	assert.Contains(t, buf.String(), `"app":"timeclock"`)
}

// =============================================================================
// ADMIN ROUTES
// =============================================================================

func TestAdmin_RequiresAdministrator(t *testing.T) {
	env := newTestEnv(t, attendance.ModeStrict)

	for _, path := range []string{"/api/admin/balances", "/api/admin/export"} {
		rec := env.do(t, http.MethodGet, path, "w-1", nil)
		assert.Equal(t, http.StatusForbidden, rec.Code, path)
	}
	rec := env.do(t, http.MethodPost, "/api/admin/payouts", "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdmin_Backfill(t *testing.T) {
	// GIVEN: A shift left open yesterday
	// WHEN: The administrator backfills the check out
	// THEN: It is recorded at the given time

	env := newTestEnv(t, attendance.ModeStrict)
	env.register(t, "w-1", "Ana")
	env.punch(t, "w-1", "check_in", day(0, 9, 0))
	env.now = day(1, 8, 0)

	rec := env.do(t, http.MethodPost, "/api/admin/backfill", testAdmin, BackfillRequest{
		WorkerID: "w-1", Kind: "check_out", Time: "10-03-2025 17:00",
	})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decodeBody[PunchResponse](t, rec)
	require.Len(t, resp.Recorded, 1)
	assert.Equal(t, "2025-03-10T17:00:00Z", resp.Recorded[0].Timestamp)

	rec = env.do(t, http.MethodPost, "/api/admin/backfill", testAdmin, BackfillRequest{
		WorkerID: "w-1", Kind: "check_out", Time: "whenever",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(attendance.CodeBadTimestamp), decodeBody[ErrorResponse](t, rec).Code)
}

func TestAdmin_PayoutConversation(t *testing.T) {
	env := newTestEnv(t, attendance.ModeStrict)
	env.register(t, "w-1", "Ana")
	env.punch(t, "w-1", "check_in", day(0, 9, 0))
	env.punch(t, "w-1", "check_out", day(0, 13, 0))

	rec := env.do(t, http.MethodPost, "/api/admin/payouts", testAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	begin := decodeBody[PayoutSessionDTO](t, rec)
	assert.Equal(t, string(attendance.StepChoosingWorker), begin.Step)
	require.Len(t, begin.Accounts, 1)

	rec = env.do(t, http.MethodPut, "/api/admin/payouts/payee", testAdmin, SelectPayeeRequest{WorkerID: "w-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	sel := decodeBody[PayoutSessionDTO](t, rec)
	assert.Equal(t, string(attendance.StepEnteringAmount), sel.Step)
	assert.Contains(t, sel.Prompt, "400.00")

	rec = env.do(t, http.MethodPut, "/api/admin/payouts/amount", testAdmin, PayoutAmountRequest{Amount: "-3"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPut, "/api/admin/payouts/amount", testAdmin, PayoutAmountRequest{Amount: "100"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	tx := decodeBody[TransactionDTO](t, rec)
	assert.Equal(t, "payout", tx.Kind)
	assert.Equal(t, "100.00", tx.Amount)
	assert.Equal(t, "300.00", tx.ResultingBalance)

	rec = env.do(t, http.MethodGet, "/api/admin/balances", testAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	balances := decodeBody[[]AccountDTO](t, rec)
	require.Len(t, balances, 1)
	assert.Equal(t, "300.00", balances[0].Balance)
}

func TestAdmin_CancelPayout(t *testing.T) {
	env := newTestEnv(t, attendance.ModeStrict)
	env.register(t, "w-1", "Ana")

	env.do(t, http.MethodPost, "/api/admin/payouts", testAdmin, nil)
	rec := env.do(t, http.MethodDelete, "/api/admin/payouts", testAdmin, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodPut, "/api/admin/payouts/payee", testAdmin, SelectPayeeRequest{WorkerID: "w-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(attendance.CodeNoSession), decodeBody[ErrorResponse](t, rec).Code)
}

func TestAdmin_Export(t *testing.T) {
	env := newTestEnv(t, attendance.ModeStrict)
	env.register(t, "w-1", "Ana")
	env.punch(t, "w-1", "check_in", day(0, 9, 0))

	rec := env.do(t, http.MethodGet, "/api/admin/export", testAdmin, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "application/vnd.openxmlformats"))
	f, err := excelize.OpenReader(rec.Body)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(export.SheetPunches)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

// =============================================================================
// OPEN SHIFT MONITOR
// =============================================================================

func TestOpenShiftMonitor_ReportsOnce(t *testing.T) {
	// GIVEN: A shift left open yesterday
	// WHEN: The monitor runs twice, then the shift is closed and reopened
	// THEN: Each open shift is reported once

	env := newTestEnv(t, attendance.ModeRepair)
	env.register(t, "w-1", "Ana")
	env.punch(t, "w-1", "check_in", day(0, 9, 0))
	env.now = day(1, 7, 0)
	env.notifier.Reset()

	m := NewOpenShiftMonitor(env.svc, env.notifier, nil)
	m.Now = func() time.Time { return env.now }

	assert.Equal(t, 1, m.RunNow(context.Background()))
	assert.Equal(t, 0, m.RunNow(context.Background()))

	admins := env.notifier.To(attendance.AllAdmins)
	require.Len(t, admins, 1)
	assert.Contains(t, admins[0], "Ana: last punch check in at 10-03-2025 09:00")

	// repair closes yesterday's shift; the new one is open today
	env.punch(t, "w-1", "check_in", day(1, 8, 0))
	assert.Equal(t, 0, m.RunNow(context.Background()))

	env.now = day(2, 7, 0)
	assert.Equal(t, 1, m.RunNow(context.Background()))
}

func TestOpenShiftMonitor_NewPunchSameDay_ReportsAgain(t *testing.T) {
	// GIVEN: A reported open shift from yesterday
	// WHEN: An admin backfills a lunch start on that same day
	// THEN: The shift is reported again, since its last punch changed

	env := newTestEnv(t, attendance.ModeStrict)
	env.register(t, "w-1", "Ana")
	env.punch(t, "w-1", "check_in", day(0, 9, 0))
	env.now = day(1, 7, 0)

	m := NewOpenShiftMonitor(env.svc, env.notifier, nil)
	m.Now = func() time.Time { return env.now }
	require.Equal(t, 1, m.RunNow(context.Background()))

	_, err := env.svc.Backfill(context.Background(), testAdmin, "w-1", "lunch start", "10-03-2025 12:00")
	require.NoError(t, err)
	env.notifier.Reset()

	assert.Equal(t, 1, m.RunNow(context.Background()))
	admins := env.notifier.To(attendance.AllAdmins)
	require.Len(t, admins, 1)
	assert.Contains(t, admins[0], "Ana: last punch lunch start at 10-03-2025 12:00")
}

func TestOpenShiftMonitor_StartStop(t *testing.T) {
	env := newTestEnv(t, attendance.ModeStrict)
	m := NewOpenShiftMonitor(env.svc, env.notifier, nil)
	m.CheckInterval = time.Hour

	m.Start()
	m.Start()
	m.Stop()
	m.Stop()
}
