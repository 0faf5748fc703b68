/*
reconcile.go - Reconciliation Engine: shift grammar and repair policy

PURPOSE:
  Decides whether a requested punch is legal given the worker's last
  recorded punch, and what to do when it is not.

SHIFT GRAMMAR:
  ┌────────────┐ check in  ┌───────────┐ lunch start ┌─────────┐
  │ NoHistory  │──────────▶│ CheckedIn │────────────▶│ OnLunch │
  │ CheckedOut │◀──────────│ LunchDone │◀────────────│         │
  └────────────┘ check out └───────────┘  lunch end  └─────────┘

  Every transition except check in also requires the last punch to be on
  the same calendar day as the request.

MODES:
  Strict: any violation is rejected with a reason naming the requested
  action, the conflicting last punch and the expected next action.

  Repair: the minimum synthetic punches are inserted first:
    - check in over a shift left open on a previous day:
        [lunch end] + check out at the end-of-day cutoff of that day
    - check in over a shift open today:
        [lunch end] + check out now, then the new check in
    - lunch start while on lunch: lunch end after the default lunch
    - check out while on lunch: lunch end now
  Anything else still falls back to rejection.

PURITY:
  The engine only reads the event log. The caller appends
  Outcome.Punches() as one batch. Punch IDs are left empty so that the same
  history and request always yield an identical Outcome.

SEE ALSO:
  - service.go: appends the outcome and books check-outs
*/
package attendance

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// STATE
// =============================================================================

// State is the position in the shift grammar after a worker's last punch.
type State int

const (
	StateNoHistory State = iota
	StateCheckedIn
	StateOnLunch
	StateLunchDone
	StateCheckedOut
)

func (s State) String() string {
	switch s {
	case StateCheckedIn:
		return "checked_in"
	case StateOnLunch:
		return "on_lunch"
	case StateLunchDone:
		return "lunch_done"
	case StateCheckedOut:
		return "checked_out"
	default:
		return "no_history"
	}
}

// MidShift reports whether a shift is open.
func (s State) MidShift() bool {
	return s == StateCheckedIn || s == StateOnLunch || s == StateLunchDone
}

// StateAfter returns the grammar state following last; nil means no history.
func StateAfter(last *Punch) State {
	if last == nil {
		return StateNoHistory
	}
	switch last.Kind {
	case KindCheckIn:
		return StateCheckedIn
	case KindLunchStart:
		return StateOnLunch
	case KindLunchEnd:
		return StateLunchDone
	case KindCheckOut:
		return StateCheckedOut
	}
	return StateNoHistory
}

// LegalNext lists the kinds the grammar allows after state.
// sameDay is false when the last punch was on an earlier calendar day.
func LegalNext(state State, sameDay bool) []Kind {
	switch state {
	case StateNoHistory, StateCheckedOut:
		return []Kind{KindCheckIn}
	case StateCheckedIn, StateLunchDone:
		if sameDay {
			return []Kind{KindLunchStart, KindCheckOut}
		}
	case StateOnLunch:
		if sameDay {
			return []Kind{KindLunchEnd}
		}
	}
	return nil
}

func allowed(state State, sameDay bool, k Kind) bool {
	for _, n := range LegalNext(state, sameDay) {
		if n == k {
			return true
		}
	}
	return false
}

// =============================================================================
// OUTCOME
// =============================================================================

// Decision is the verdict on a requested punch.
type Decision int

const (
	Accepted Decision = iota + 1
	Rejected
)

func (d Decision) String() string {
	if d == Accepted {
		return "accepted"
	}
	return "rejected"
}

// Outcome is the result of evaluating a request.
// Accepted outcomes carry the synthetic punches to append before Final;
// rejected ones carry only Reason.
type Outcome struct {
	Decision  Decision
	Synthetic []Punch
	Final     Punch
	Reason    string
}

// Accepted reports whether the request may be recorded.
func (o Outcome) Accepted() bool { return o.Decision == Accepted }

// Punches returns the synthetic punches followed by the final punch, in
// append order. It is empty for rejected outcomes.
func (o Outcome) Punches() []Punch {
	if !o.Accepted() {
		return nil
	}
	out := make([]Punch, 0, len(o.Synthetic)+1)
	out = append(out, o.Synthetic...)
	return append(out, o.Final)
}

// Messages returns the user-facing note of every synthetic punch.
func (o Outcome) Messages() []string {
	msgs := make([]string, 0, len(o.Synthetic))
	for _, p := range o.Synthetic {
		msgs = append(msgs, p.Note)
	}
	return msgs
}

// Err returns the rejection as a *ValidationError, or nil if accepted.
func (o Outcome) Err() error {
	if o.Accepted() {
		return nil
	}
	return &ValidationError{Code: CodeIllegalTransition, Reason: o.Reason}
}

// =============================================================================
// RECONCILER
// =============================================================================

// Request is a punch a worker (or an administrator on their behalf) asks for.
type Request struct {
	Worker WorkerID
	Name   string
	Kind   Kind
	At     time.Time
}

// Reconciler validates and repairs punch requests.
type Reconciler struct {
	Log   EventLog
	Rules Rules
}

// NewReconciler creates a reconciler reading from log.
func NewReconciler(log EventLog, rules Rules) *Reconciler {
	return &Reconciler{Log: log, Rules: rules}
}

// Evaluate reads the worker's history and decides on req.
func (r *Reconciler) Evaluate(ctx context.Context, req Request) (Outcome, error) {
	history, err := r.Log.History(ctx, req.Worker)
	if err != nil {
		return Outcome{}, fmt.Errorf("read history of %s: %w", req.Worker, err)
	}
	return r.Decide(history, req), nil
}

// Decide is Evaluate over an explicit history.
func (r *Reconciler) Decide(history []Punch, req Request) Outcome {
	last := lastPunch(history)
	final := Punch{
		Timestamp:  req.At,
		WorkerID:   req.Worker,
		WorkerName: req.Name,
		Kind:       req.Kind,
	}

	if !req.Kind.Valid() {
		return reject(fmt.Sprintf("cannot record %s: unknown punch kind", req.Kind))
	}
	if last != nil && req.At.Before(last.Timestamp) {
		return reject(fmt.Sprintf("cannot record %s at %s: the last punch (%s at %s) is later; enter a time at or after %s",
			req.Kind.Label(), r.Rules.Stamp(req.At), last.Kind.Label(), r.Rules.Stamp(last.Timestamp), r.Rules.Stamp(last.Timestamp)))
	}

	state := StateAfter(last)
	sameDay := last == nil || r.Rules.SameDay(last.Timestamp, req.At)

	if allowed(state, sameDay, req.Kind) {
		return Outcome{Decision: Accepted, Final: final}
	}
	if r.Rules.Mode == ModeRepair {
		if synthetic, ok := r.repair(last, state, sameDay, req); ok {
			return Outcome{Decision: Accepted, Synthetic: synthetic, Final: final}
		}
	}
	return reject(r.reason(last, state, sameDay, req.Kind))
}

// repair returns the synthetic punches that make req legal, if the policy
// defines any for this situation.
func (r *Reconciler) repair(last *Punch, state State, sameDay bool, req Request) ([]Punch, bool) {
	synth := func(k Kind, at time.Time, note string) Punch {
		return Punch{
			Timestamp:  at,
			WorkerID:   req.Worker,
			WorkerName: req.Name,
			Kind:       k,
			Synthetic:  true,
			Note:       note,
		}
	}

	switch req.Kind {
	case KindCheckIn:
		if !state.MidShift() {
			return nil, false
		}
		var out []Punch
		if !sameDay {
			closeAt := r.Rules.CutoffOn(last.Timestamp)
			if closeAt.Before(last.Timestamp) {
				closeAt = last.Timestamp
			}
			if state == StateOnLunch {
				endAt := last.Timestamp.Add(r.Rules.DefaultLunch)
				if endAt.After(closeAt) {
					endAt = closeAt
				}
				out = append(out, synth(KindLunchEnd, endAt, fmt.Sprintf(
					"Lunch started at %s was never ended: recorded lunch end at %s.",
					r.Rules.Stamp(last.Timestamp), r.Rules.Stamp(endAt))))
			}
			out = append(out, synth(KindCheckOut, closeAt, fmt.Sprintf(
				"Your shift was never closed (last punch %s at %s): recorded check out at %s, the end of that day.",
				last.Kind.Label(), r.Rules.Stamp(last.Timestamp), r.Rules.Stamp(closeAt))))
			return out, true
		}
		if state == StateOnLunch {
			out = append(out, synth(KindLunchEnd, req.At, fmt.Sprintf(
				"Lunch started at %s was still open: recorded lunch end at %s.",
				r.Rules.Stamp(last.Timestamp), r.Rules.Stamp(req.At))))
		}
		out = append(out, synth(KindCheckOut, req.At, fmt.Sprintf(
			"You were already checked in (last punch %s at %s): closed that shift at %s and started a new one.",
			last.Kind.Label(), r.Rules.Stamp(last.Timestamp), r.Rules.Stamp(req.At))))
		return out, true

	case KindLunchStart:
		if state != StateOnLunch || !sameDay {
			return nil, false
		}
		endAt := last.Timestamp.Add(r.Rules.DefaultLunch)
		if endAt.After(req.At) {
			endAt = req.At
		}
		return []Punch{synth(KindLunchEnd, endAt, fmt.Sprintf(
			"Previous lunch started at %s was never ended: recorded lunch end at %s.",
			r.Rules.Stamp(last.Timestamp), r.Rules.Stamp(endAt)))}, true

	case KindCheckOut:
		if state != StateOnLunch || !sameDay {
			return nil, false
		}
		return []Punch{synth(KindLunchEnd, req.At, fmt.Sprintf(
			"You checked out during lunch (started %s): recorded lunch end at %s.",
			r.Rules.Stamp(last.Timestamp), r.Rules.Stamp(req.At)))}, true
	}
	return nil, false
}

func (r *Reconciler) reason(last *Punch, state State, sameDay bool, k Kind) string {
	if last == nil {
		return fmt.Sprintf("cannot record %s: no punches recorded yet; expected check in first", k.Label())
	}
	if state.MidShift() && !sameDay {
		expected := KindCheckOut
		if state == StateOnLunch {
			expected = KindLunchEnd
		}
		return fmt.Sprintf("cannot record %s: last punch is %s at %s on a previous day and that shift is still open; expected %s for that day first (ask an administrator)",
			k.Label(), last.Kind.Label(), r.Rules.Stamp(last.Timestamp), expected.Label())
	}
	return fmt.Sprintf("cannot record %s: last punch is %s at %s; expected %s",
		k.Label(), last.Kind.Label(), r.Rules.Stamp(last.Timestamp), joinLabels(LegalNext(state, sameDay)))
}

func reject(reason string) Outcome {
	return Outcome{Decision: Rejected, Reason: reason}
}

func joinLabels(kinds []Kind) string {
	labels := make([]string, len(kinds))
	for i, k := range kinds {
		labels[i] = k.Label()
	}
	return strings.Join(labels, " or ")
}

// lastPunch returns the latest punch of history, or nil.
func lastPunch(history []Punch) *Punch {
	if len(history) == 0 {
		return nil
	}
	sorted := append([]Punch(nil), history...)
	SortPunches(sorted)
	return &sorted[len(sorted)-1]
}
