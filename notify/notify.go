/*
Package notify delivers worker and administrator messages.

SINKS:
  Log:     writes every message to a slog.Logger (always on)
  Slack:   posts to the worker's Slack user, or to every administrator
  Multi:   sends to several sinks, collecting their errors
  Recorder: keeps messages in memory (tests)

DELIVERY:
  Fire-and-forget. A failure for one administrator never stops delivery to
  the next; the collected errors are returned for logging only.
*/
package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/warp/timeclock/attendance"
)

// =============================================================================
// LOG SINK
// =============================================================================

// Log writes notifications to a structured logger.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

func (l *Log) Notify(ctx context.Context, to attendance.Audience, text string) error {
	if to.IsAdmins() {
		l.logger.InfoContext(ctx, "admin notification", "text", text)
		return nil
	}
	l.logger.InfoContext(ctx, "worker notification", "worker", to.Worker, "text", text)
	return nil
}

// =============================================================================
// FAN-OUT
// =============================================================================

// Multi sends every notification to each sink in order.
type Multi []attendance.Notifier

func (m Multi) Notify(ctx context.Context, to attendance.Audience, text string) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, to, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// =============================================================================
// RECORDER
// =============================================================================

// Message is one recorded notification.
type Message struct {
	To   attendance.Audience
	Text string
}

// Recorder keeps notifications in memory.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

func (r *Recorder) Notify(_ context.Context, to attendance.Audience, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, Message{To: to, Text: text})
	return nil
}

// Messages returns a copy of everything recorded so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// To returns the texts sent to one audience.
func (r *Recorder) To(to attendance.Audience) []string {
	var out []string
	for _, m := range r.Messages() {
		if m.To == to {
			out = append(out, m.Text)
		}
	}
	return out
}

// Reset drops everything recorded.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = nil
}
