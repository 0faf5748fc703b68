// Package session provides attendance.SessionStore implementations.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/warp/timeclock/attendance"
)

// Memory keeps sessions in process memory. Sessions are lost on restart.
type Memory struct {
	mu       sync.Mutex
	sessions map[string]attendance.Session
	now      func() time.Time
}

var _ attendance.SessionStore = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{sessions: make(map[string]attendance.Session), now: time.Now}
}

// WithClock replaces the clock used to expire sessions.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func (m *Memory) Get(_ context.Context, requesterID string) (attendance.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[requesterID]
	if !ok {
		return attendance.Session{}, attendance.ErrNoSession
	}
	if s.Expired(m.now()) {
		delete(m.sessions, requesterID)
		return attendance.Session{}, attendance.ErrNoSession
	}
	return s, nil
}

func (m *Memory) Put(_ context.Context, s attendance.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.RequesterID] = s
	return nil
}

func (m *Memory) Delete(_ context.Context, requesterID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, requesterID)
	return nil
}
