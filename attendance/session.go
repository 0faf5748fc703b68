package attendance

import (
	"context"
	"errors"
	"time"
)

// =============================================================================
// CONVERSATION SESSIONS
// =============================================================================

// SessionStep is the position in a multi-step admin conversation.
type SessionStep string

const (
	StepChoosingWorker SessionStep = "choosing_worker"
	StepEnteringAmount SessionStep = "entering_amount"
)

// Session is a short-lived payout conversation keyed by the requester.
type Session struct {
	RequesterID string      `json:"requester_id"`
	Step        SessionStep `json:"step"`
	Worker      WorkerID    `json:"worker,omitempty"`
	ExpiresAt   time.Time   `json:"expires_at"`
}

// Expired reports whether the session is no longer usable at now.
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// ErrNoSession is returned by SessionStore.Get when nothing is stored.
var ErrNoSession = errors.New("no session")

// SessionStore keeps sessions between requests. Implementations must honour
// ExpiresAt; Get on an expired session returns ErrNoSession.
type SessionStore interface {
	Get(ctx context.Context, requesterID string) (Session, error)
	Put(ctx context.Context, s Session) error
	Delete(ctx context.Context, requesterID string) error
}
