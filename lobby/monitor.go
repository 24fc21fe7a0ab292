package lobby

import (
	"context"
	"log/slog"
	"time"
)

// SessionExpirer is the slice of the session controller the monitor
// needs: expiring sessions that ran past their compute deadline.
type SessionExpirer interface {
	ExpireOverdue(ctx context.Context, now time.Time) int
}

// Monitor is the background liveness sweep. Each tick it evicts lobby
// entries that missed their checkin window and expires overdue sessions.
type Monitor struct {
	lobby    *Manager
	sessions SessionExpirer
	interval time.Duration
	log      *slog.Logger
}

// NewMonitor creates a checkin monitor sweeping at the given interval.
func NewMonitor(lobby *Manager, sessions SessionExpirer, interval time.Duration, log *slog.Logger) *Monitor {
	if log == nil {
		log = slog.Default()
	}
	return &Monitor{lobby: lobby, sessions: sessions, interval: interval, log: log}
}

// Run blocks, sweeping on a fixed tick until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.log.Info("Checkin monitor started", "interval", m.interval)
	for {
		select {
		case <-ctx.Done():
			m.log.Info("Checkin monitor stopped")
			return
		case now := <-ticker.C:
			m.sweep(ctx, now)
		}
	}
}

func (m *Monitor) sweep(ctx context.Context, now time.Time) {
	evicted := m.lobby.Sweep(now)
	expired := m.sessions.ExpireOverdue(ctx, now)
	if len(evicted) > 0 || expired > 0 {
		m.log.Info("Liveness sweep", "evicted", len(evicted), "expiredSessions", expired)
	}
}
