/*
monitor.go - Open shift monitor

PURPOSE:
  Periodically looks for workers whose shift was left open on a previous
  day and tells the administrators, who can close it with a backfill.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Each open shift is reported once per worker and last punch; a new
    punch by that worker reports it again
  - Never writes punches; closing is an administrator decision (strict
    mode) or happens on the worker's next check in (repair mode)

USAGE:
  monitor := NewOpenShiftMonitor(svc, notifier, logger)
  monitor.Start()
  // ... later
  monitor.Stop()
*/
package api

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/warp/timeclock/attendance"
)

// OpenShiftMonitor reports shifts left open from a previous day.
type OpenShiftMonitor struct {
	Service       *attendance.Service
	Notifier      attendance.Notifier
	Logger        *slog.Logger
	CheckInterval time.Duration
	Now           func() time.Time

	reported map[attendance.WorkerID]string
	ticker   *time.Ticker
	stop     chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	checkMu  sync.Mutex
}

// NewOpenShiftMonitor creates a monitor with a one hour interval.
func NewOpenShiftMonitor(svc *attendance.Service, notifier attendance.Notifier, logger *slog.Logger) *OpenShiftMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenShiftMonitor{
		Service:       svc,
		Notifier:      notifier,
		Logger:        logger,
		CheckInterval: time.Hour,
		Now:           time.Now,
		reported:      make(map[attendance.WorkerID]string),
	}
}

// Start begins the monitor.
func (m *OpenShiftMonitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ticker != nil {
		return
	}
	m.ticker = time.NewTicker(m.CheckInterval)
	m.stop = make(chan struct{})
	m.wg.Add(1)

	go m.run()

	m.Logger.Info("open shift monitor started", "interval", m.CheckInterval)
}

// Stop stops the monitor and waits for a running check to finish.
func (m *OpenShiftMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ticker == nil {
		return
	}
	m.ticker.Stop()
	close(m.stop)
	m.wg.Wait()
	m.ticker = nil
	m.Logger.Info("open shift monitor stopped")
}

func (m *OpenShiftMonitor) run() {
	defer m.wg.Done()

	// Run immediately on start
	m.RunNow(context.Background())

	for {
		select {
		case <-m.ticker.C:
			m.RunNow(context.Background())
		case <-m.stop:
			return
		}
	}
}

// RunNow performs one check and returns how many shifts were reported.
func (m *OpenShiftMonitor) RunNow(ctx context.Context) int {
	m.checkMu.Lock()
	defer m.checkMu.Unlock()

	rules := m.Service.Rules()
	open, err := m.Service.OpenShifts(ctx, m.Now())
	if err != nil {
		m.Logger.Error("open shift check failed", "error", err)
		return 0
	}

	stillOpen := make(map[attendance.WorkerID]bool, len(open))
	var lines []string
	for _, s := range open {
		stillOpen[s.Worker] = true
		key := s.Last.ID
		if m.reported[s.Worker] == key {
			continue
		}
		m.reported[s.Worker] = key
		lines = append(lines, fmt.Sprintf("%s: last punch %s at %s",
			s.Name, s.Last.Kind.Label(), rules.Stamp(s.Last.Timestamp)))
	}
	for w := range m.reported {
		if !stillOpen[w] {
			delete(m.reported, w)
		}
	}

	if len(lines) == 0 {
		return 0
	}
	text := "Shifts left open on a previous day:\n" + strings.Join(lines, "\n")
	if m.Notifier != nil {
		if err := m.Notifier.Notify(ctx, attendance.AllAdmins, text); err != nil {
			m.Logger.Warn("open shift notification failed", "error", err)
		}
	}
	m.Logger.Info("open shifts reported", "count", len(lines))
	return len(lines)
}
