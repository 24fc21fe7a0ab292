package lobby

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingExpirer struct {
	calls atomic.Int64
}

func (c *countingExpirer) ExpireOverdue(_ context.Context, _ time.Time) int {
	c.calls.Add(1)
	return 0
}

func TestMonitor_SweepsOnTick(t *testing.T) {
	m, _ := newTestManager(t, &stubLedger{})
	expirer := &countingExpirer{}
	monitor := NewMonitor(m, expirer, 5*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		monitor.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return expirer.calls.Load() >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop on context cancellation")
	}
}
