/*
service.go - Orchestration of punches, check-outs, registration and payouts

PURPOSE:
  Connects the Reconciliation Engine, the Time Accounting Engine and the
  Ledger to the store, the notifier and the session store.

PUNCH FLOW:
  1. Lock the worker (one decision at a time per worker)
  2. Read the account and the history, evaluate the request
  3. Rejected: return the reason, tell the administrators
  4. Accepted: price every check out in the batch at its own timestamp,
     then append all punches and post all earnings in ONE store transaction
  5. Tell the worker and the administrators what was recorded and repaired

RETRIES:
  Store writes are not idempotent. After a transient failure the log is
  re-read; the write is retried only if its IDs did not land.

SEE ALSO:
  - reconcile.go, accounting.go, ledger.go
  - session.go: payout conversation state
*/
package attendance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// ServiceConfig configures a Service.
type ServiceConfig struct {
	Rules      Rules
	Admins     []string
	SessionTTL time.Duration

	// RetryAttempts counts the first try; zero means a single try.
	RetryAttempts uint
	RetryDelay    time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

// Service is the entry point used by the front end.
type Service struct {
	store      Store
	notifier   Notifier
	sessions   SessionStore
	reconciler *Reconciler
	strict     *Reconciler
	accountant *Accountant
	ledger     *Ledger

	rules      Rules
	admins     map[string]bool
	sessionTTL time.Duration
	attempts   uint
	delay      time.Duration
	logger     *slog.Logger
	now        func() time.Time
	locks      *workerLocks
}

// NewService wires a service. notifier may be nil; sessions is required for
// the payout flow.
func NewService(store Store, notifier Notifier, sessions SessionStore, cfg ServiceConfig) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 10 * time.Minute
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = 1
	}
	admins := make(map[string]bool, len(cfg.Admins))
	for _, a := range cfg.Admins {
		admins[a] = true
	}
	strictRules := cfg.Rules
	strictRules.Mode = ModeStrict

	return &Service{
		store:      store,
		notifier:   notifier,
		sessions:   sessions,
		reconciler: NewReconciler(store, cfg.Rules),
		strict:     NewReconciler(store, strictRules),
		accountant: NewAccountant(store, store, cfg.Rules),
		ledger:     NewLedger(store),
		rules:      cfg.Rules,
		admins:     admins,
		sessionTTL: cfg.SessionTTL,
		attempts:   cfg.RetryAttempts,
		delay:      cfg.RetryDelay,
		logger:     cfg.Logger,
		now:        cfg.Now,
		locks:      newWorkerLocks(),
	}
}

// Rules returns the engine rules in effect.
func (s *Service) Rules() Rules { return s.rules }

// IsAdmin reports whether requester is a configured administrator.
func (s *Service) IsAdmin(requester string) bool { return s.admins[requester] }

func (s *Service) requireAdmin(requester string) error {
	if !s.IsAdmin(requester) {
		return &ValidationError{Code: CodeNotAdmin, Reason: "you do not have administrator rights"}
	}
	return nil
}

// =============================================================================
// REGISTRATION
// =============================================================================

// Register creates the worker's account with the default hourly rate and a
// zero balance. It reports false if the worker was already registered.
func (s *Service) Register(ctx context.Context, worker WorkerID, name string) (bool, error) {
	name = strings.TrimSpace(name)
	if strings.TrimSpace(string(worker)) == "" || name == "" {
		return false, &ValidationError{Code: CodeUnknownWorker, Reason: "worker id and name are required"}
	}

	err := s.withRetry(ctx, "create account",
		func(ctx context.Context) (bool, error) {
			_, err := s.store.Account(ctx, worker)
			if errors.Is(err, ErrAccountNotFound) {
				return false, nil
			}
			return err == nil, err
		},
		func(ctx context.Context) error {
			return s.store.CreateAccount(ctx, worker, name, s.rules.DefaultRate)
		})
	if errors.Is(err, ErrAccountExists) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	s.logger.Info("worker registered", "worker", worker, "name", name)
	s.notify(ctx, AllAdmins, fmt.Sprintf("Worker %s registered", name))
	return true, nil
}

// =============================================================================
// PUNCHES
// =============================================================================

// CheckoutSummary describes one check out booked by a punch request.
type CheckoutSummary struct {
	Punch   Punch
	Shift   ShiftResult
	Balance decimal.Decimal
}

// PunchResult is what a punch request recorded.
type PunchResult struct {
	Outcome   Outcome
	Recorded  []Punch
	Checkouts []CheckoutSummary
}

// Messages lists the repair notes followed by the confirmation lines.
func (r PunchResult) Messages() []string {
	msgs := r.Outcome.Messages()
	for _, c := range r.Checkouts {
		if c.Punch.Synthetic {
			msgs = append(msgs, fmt.Sprintf("That shift: %s h worked, %s earned.", c.Shift.WorkHours, c.Shift.Salary))
		}
	}
	final := r.Outcome.Final
	if final.Kind == KindCheckOut && len(r.Checkouts) > 0 {
		c := r.Checkouts[len(r.Checkouts)-1]
		msgs = append(msgs, fmt.Sprintf("You worked %s h and earned %s. Current balance: %s.",
			c.Shift.WorkHours, c.Shift.Salary, c.Balance))
	} else {
		msgs = append(msgs, fmt.Sprintf("Recorded: %s.", final.Kind.Label()))
	}
	return msgs
}

// Punch records a worker's own punch at the current time, using the
// deployment's reconciliation mode.
func (s *Service) Punch(ctx context.Context, worker WorkerID, kind Kind) (PunchResult, error) {
	return s.record(ctx, s.reconciler, worker, kind, s.now(), "")
}

// Backfill records a punch on a worker's behalf at an administrator-supplied
// time. The kind must be legal after the worker's last punch; backfill never
// repairs.
func (s *Service) Backfill(ctx context.Context, adminID string, worker WorkerID, kindText, timeText string) (PunchResult, error) {
	if err := s.requireAdmin(adminID); err != nil {
		return PunchResult{}, err
	}
	kind, err := ParseKind(kindText)
	if err != nil {
		return PunchResult{}, err
	}
	now := s.now()
	at, err := s.rules.ParseBackfillTime(timeText, now)
	if err != nil {
		return PunchResult{}, err
	}
	if at.After(now) {
		return PunchResult{}, &ValidationError{
			Code:   CodeBadTimestamp,
			Reason: fmt.Sprintf("%s is in the future", s.rules.Stamp(at)),
		}
	}
	return s.record(ctx, s.strict, worker, kind, at, adminID)
}

func (s *Service) record(ctx context.Context, rec *Reconciler, worker WorkerID, kind Kind, at time.Time, adminID string) (PunchResult, error) {
	unlock := s.locks.Lock(worker)
	defer unlock()

	acct, err := s.store.Account(ctx, worker)
	if errors.Is(err, ErrAccountNotFound) {
		return PunchResult{}, &ValidationError{Code: CodeUnknownWorker, Reason: fmt.Sprintf("worker %s is not registered", worker)}
	}
	if err != nil {
		return PunchResult{}, err
	}
	history, err := s.store.History(ctx, worker)
	if err != nil {
		return PunchResult{}, fmt.Errorf("read history of %s: %w", worker, err)
	}

	outcome := rec.Decide(history, Request{Worker: worker, Name: acct.Name, Kind: kind, At: at})
	if !outcome.Accepted() {
		s.logger.Info("punch rejected", "worker", worker, "kind", kind, "reason", outcome.Reason)
		s.notify(ctx, AllAdmins, fmt.Sprintf("Worker %s requested %q and was refused: %s", acct.Name, kind.Label(), outcome.Reason))
		return PunchResult{Outcome: outcome}, outcome.Err()
	}

	rate := s.rules.DefaultRate
	if acct.HourlyRate.Valid && !acct.HourlyRate.Decimal.IsNegative() {
		rate = acct.HourlyRate.Decimal
	}

	punches, checkouts := s.price(history, outcome.Punches(), rate)
	entries := make([]Entry, len(checkouts))
	for i, c := range checkouts {
		entries[i] = Entry{ID: uuid.NewString(), Worker: worker, Amount: c.Shift.Salary, Kind: TxEarning, At: c.Punch.Timestamp}
	}

	committed := false
	err = s.withRetry(ctx, "record punches",
		func(ctx context.Context) (bool, error) { return s.punchLanded(ctx, worker, punches[0].ID) },
		func(ctx context.Context) error {
			return s.store.WithTx(ctx, func(tx Store) error {
				if err := tx.AppendPunches(ctx, punches); err != nil {
					return err
				}
				for i, e := range entries {
					posted, err := postIn(ctx, tx, e)
					if err != nil {
						return err
					}
					checkouts[i].Balance = posted.ResultingBalance
				}
				committed = true
				return nil
			})
		})
	if err != nil {
		s.logger.Error("recording punch failed", "worker", worker, "kind", kind, "error", err)
		s.notify(ctx, AllAdmins, fmt.Sprintf("Could not record %s for %s: %v", kind.Label(), acct.Name, err))
		return PunchResult{Outcome: outcome}, err
	}
	if !committed && len(entries) > 0 {
		// an earlier attempt landed; report the balances it stored
		s.fillBalances(ctx, worker, entries, checkouts)
	}

	outcome.Synthetic = punches[:len(punches)-1]
	outcome.Final = punches[len(punches)-1]
	result := PunchResult{Outcome: outcome, Recorded: punches, Checkouts: checkouts}

	s.logger.Info("punch recorded",
		"worker", worker,
		"kind", kind,
		"at", at,
		"synthetic", len(outcome.Synthetic),
		"backfill", adminID != "",
	)
	s.announce(ctx, acct.Name, worker, result, adminID)
	return result, nil
}

// price assigns IDs and computes hours and salary of every check out in
// batch, each against the history as it will stand right before it.
func (s *Service) price(history, batch []Punch, rate decimal.Decimal) ([]Punch, []CheckoutSummary) {
	running := append([]Punch(nil), history...)
	var maxSeq int64
	for _, p := range running {
		if p.Seq > maxSeq {
			maxSeq = p.Seq
		}
	}

	out := make([]Punch, len(batch))
	var checkouts []CheckoutSummary
	for i, p := range batch {
		p.ID = uuid.NewString()
		if p.Kind == KindCheckOut {
			shift := s.accountant.ComputeShift(running, p.Timestamp, rate)
			hours, salary := shift.WorkHours, shift.Salary
			p.WorkHours, p.Salary = &hours, &salary
			checkouts = append(checkouts, CheckoutSummary{Punch: p, Shift: shift})
		}
		out[i] = p
		sp := p
		sp.Seq = maxSeq + int64(i) + 1
		running = append(running, sp)
	}
	return out, checkouts
}

func (s *Service) punchLanded(ctx context.Context, worker WorkerID, id string) (bool, error) {
	history, err := s.store.History(ctx, worker)
	if err != nil {
		return false, err
	}
	for _, p := range history {
		if p.ID == id {
			return true, nil
		}
	}
	return false, nil
}

func (s *Service) fillBalances(ctx context.Context, worker WorkerID, entries []Entry, checkouts []CheckoutSummary) {
	txs, err := s.store.Transactions(ctx, worker)
	if err != nil {
		s.logger.Warn("could not read stored balances", "worker", worker, "error", err)
		return
	}
	byID := make(map[string]Transaction, len(txs))
	for _, tx := range txs {
		byID[tx.ID] = tx
	}
	for i, e := range entries {
		if tx, ok := byID[e.ID]; ok {
			checkouts[i].Balance = tx.ResultingBalance
		}
	}
}

func (s *Service) announce(ctx context.Context, name string, worker WorkerID, r PunchResult, adminID string) {
	s.notify(ctx, ToWorker(worker), strings.Join(r.Messages(), "\n"))

	var b strings.Builder
	final := r.Outcome.Final
	if adminID != "" {
		fmt.Fprintf(&b, "Administrator %s recorded %s for %s at %s", adminID, final.Kind.Label(), name, s.rules.Stamp(final.Timestamp))
	} else {
		fmt.Fprintf(&b, "Worker %s recorded %s", name, final.Kind.Label())
	}
	for _, note := range r.Outcome.Messages() {
		fmt.Fprintf(&b, "\nRepair: %s", note)
	}
	for _, c := range r.Checkouts {
		fmt.Fprintf(&b, "\nShift closed %s: worked %s h, salary %s, balance %s",
			s.rules.Stamp(c.Punch.Timestamp), c.Shift.WorkHours, c.Shift.Salary, c.Balance)
	}
	s.notify(ctx, AllAdmins, b.String())
}

// =============================================================================
// READS
// =============================================================================

// Account returns the worker's account.
func (s *Service) Account(ctx context.Context, worker WorkerID) (Account, error) {
	return s.store.Account(ctx, worker)
}

// Balances lists every account for the administrator overview.
func (s *Service) Balances(ctx context.Context, adminID string) ([]Account, error) {
	if err := s.requireAdmin(adminID); err != nil {
		return nil, err
	}
	return s.store.Accounts(ctx)
}

// History returns the worker's punches, oldest first.
func (s *Service) History(ctx context.Context, worker WorkerID) ([]Punch, error) {
	history, err := s.store.History(ctx, worker)
	if err != nil {
		return nil, err
	}
	SortPunches(history)
	return history, nil
}

// Transactions returns the worker's ledger rows, oldest first.
func (s *Service) Transactions(ctx context.Context, worker WorkerID) ([]Transaction, error) {
	return s.store.Transactions(ctx, worker)
}

// NextActions returns the worker's grammar state and the kinds that are
// legal right now.
func (s *Service) NextActions(ctx context.Context, worker WorkerID) (State, []Kind, error) {
	history, err := s.store.History(ctx, worker)
	if err != nil {
		return StateNoHistory, nil, err
	}
	last := lastPunch(history)
	state := StateAfter(last)
	sameDay := last == nil || s.rules.SameDay(last.Timestamp, s.now())
	return state, LegalNext(state, sameDay), nil
}

// Preview computes the open shift as of now without recording anything.
func (s *Service) Preview(ctx context.Context, worker WorkerID) (ShiftResult, error) {
	return s.accountant.Compute(ctx, worker, s.now())
}

// OpenShift is a shift still open from a previous calendar day.
type OpenShift struct {
	Worker WorkerID
	Name   string
	Last   Punch
}

// OpenShifts lists workers whose last punch leaves a shift open on a day
// before now.
func (s *Service) OpenShifts(ctx context.Context, now time.Time) ([]OpenShift, error) {
	accounts, err := s.store.Accounts(ctx)
	if err != nil {
		return nil, err
	}
	var open []OpenShift
	for _, a := range accounts {
		history, err := s.store.History(ctx, a.WorkerID)
		if err != nil {
			return nil, err
		}
		last := lastPunch(history)
		if StateAfter(last).MidShift() && !s.rules.SameDay(last.Timestamp, now) {
			open = append(open, OpenShift{Worker: a.WorkerID, Name: a.Name, Last: *last})
		}
	}
	return open, nil
}

// =============================================================================
// PAYOUTS - choose worker, then enter amount
// =============================================================================

// BeginPayout starts a payout conversation and returns the accounts to
// choose from.
func (s *Service) BeginPayout(ctx context.Context, adminID string) ([]Account, error) {
	if err := s.requireAdmin(adminID); err != nil {
		return nil, err
	}
	accounts, err := s.store.Accounts(ctx)
	if err != nil {
		return nil, err
	}
	sess := Session{RequesterID: adminID, Step: StepChoosingWorker, ExpiresAt: s.now().Add(s.sessionTTL)}
	if err := s.sessions.Put(ctx, sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	return accounts, nil
}

// SelectPayee records the chosen worker and asks for the amount next.
func (s *Service) SelectPayee(ctx context.Context, adminID string, worker WorkerID) (Account, error) {
	if err := s.requireAdmin(adminID); err != nil {
		return Account{}, err
	}
	sess, err := s.session(ctx, adminID)
	if err != nil {
		return Account{}, err
	}
	acct, err := s.store.Account(ctx, worker)
	if errors.Is(err, ErrAccountNotFound) {
		return Account{}, &ValidationError{Code: CodeUnknownWorker, Reason: fmt.Sprintf("worker %s is not registered", worker)}
	}
	if err != nil {
		return Account{}, err
	}
	sess.Step = StepEnteringAmount
	sess.Worker = worker
	sess.ExpiresAt = s.now().Add(s.sessionTTL)
	if err := s.sessions.Put(ctx, sess); err != nil {
		return Account{}, fmt.Errorf("save session: %w", err)
	}
	return acct, nil
}

// CompletePayout pays amountText to the chosen worker and ends the session.
// An unknown worker ends the session with ErrAccountNotFound.
func (s *Service) CompletePayout(ctx context.Context, adminID, amountText string) (Transaction, error) {
	if err := s.requireAdmin(adminID); err != nil {
		return Transaction{}, err
	}
	sess, err := s.session(ctx, adminID)
	if err != nil {
		return Transaction{}, err
	}
	if sess.Step != StepEnteringAmount {
		return Transaction{}, &ValidationError{Code: CodeSessionStep, Reason: "choose a worker before entering an amount"}
	}
	amount, err := ParseAmount(amountText)
	if err != nil {
		return Transaction{}, err
	}

	unlock := s.locks.Lock(sess.Worker)
	entry := Entry{ID: uuid.NewString(), Worker: sess.Worker, Amount: amount.Neg(), Kind: TxPayout, At: s.now()}
	var posted Transaction
	err = s.withRetry(ctx, "post payout",
		func(ctx context.Context) (bool, error) {
			tx, found, err := s.findTransaction(ctx, sess.Worker, entry.ID)
			if found {
				posted = tx
			}
			return found, err
		},
		func(ctx context.Context) error {
			var err error
			posted, err = s.ledger.Post(ctx, entry)
			return err
		})
	unlock()

	if errors.Is(err, ErrAccountNotFound) {
		if derr := s.sessions.Delete(ctx, adminID); derr != nil {
			s.logger.Warn("failed to clear session", "requester", adminID, "error", derr)
		}
		return Transaction{}, err
	}
	if err != nil {
		s.notify(ctx, AllAdmins, fmt.Sprintf("Payout of %s to %s failed: %v", amount, sess.Worker, err))
		return Transaction{}, err
	}
	if err := s.sessions.Delete(ctx, adminID); err != nil {
		s.logger.Warn("failed to clear session", "requester", adminID, "error", err)
	}

	s.logger.Info("payout posted", "worker", sess.Worker, "amount", amount, "balance", posted.ResultingBalance)
	s.notify(ctx, ToWorker(sess.Worker), fmt.Sprintf("You were paid %s. New balance: %s.", posted.Amount, posted.ResultingBalance))
	s.notify(ctx, AllAdmins, fmt.Sprintf("%s was paid %s. New balance: %s.", posted.WorkerName, posted.Amount, posted.ResultingBalance))
	return posted, nil
}

// CancelPayout drops the administrator's payout conversation.
func (s *Service) CancelPayout(ctx context.Context, adminID string) error {
	if err := s.requireAdmin(adminID); err != nil {
		return err
	}
	return s.sessions.Delete(ctx, adminID)
}

func (s *Service) session(ctx context.Context, requester string) (Session, error) {
	sess, err := s.sessions.Get(ctx, requester)
	if errors.Is(err, ErrNoSession) || (err == nil && sess.Expired(s.now())) {
		return Session{}, &ValidationError{Code: CodeNoSession, Reason: "no payout in progress (it may have expired); start again"}
	}
	return sess, err
}

func (s *Service) findTransaction(ctx context.Context, worker WorkerID, id string) (Transaction, bool, error) {
	txs, err := s.store.Transactions(ctx, worker)
	if err != nil {
		return Transaction{}, false, err
	}
	for _, tx := range txs {
		if tx.ID == id {
			return tx, true, nil
		}
	}
	return Transaction{}, false, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// withRetry runs do, retrying transient failures. Before each retry it asks
// landed whether the previous attempt was applied after all.
func (s *Service) withRetry(ctx context.Context, op string, landed func(context.Context) (bool, error), do func(context.Context) error) error {
	attempt := 0
	return retry.Do(
		func() error {
			attempt++
			if attempt > 1 && landed != nil {
				ok, err := landed(ctx)
				if err != nil {
					return err
				}
				if ok {
					return nil
				}
			}
			return do(ctx)
		},
		retry.Attempts(s.attempts),
		retry.Delay(s.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(IsRetryable),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Warn("retrying store write", "op", op, "attempt", n+1, "error", err)
		}),
	)
}

func (s *Service) notify(ctx context.Context, to Audience, text string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, to, text); err != nil {
		s.logger.Warn("notification failed", "worker", to.Worker, "admins", to.IsAdmins(), "error", err)
	}
}
