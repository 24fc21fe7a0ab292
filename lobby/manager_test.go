package lobby

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ethereum/kzg-ceremony-sequencer/ceremony"
)

type stubLedger struct {
	terminal map[string]bool
	err      error
}

func (s *stubLedger) HasContributed(_ context.Context, uid string) (bool, error) {
	return s.terminal[uid], s.err
}

func testConfig() ceremony.Config {
	cfg := ceremony.DefaultConfig()
	cfg.CheckinFrequency = 10 * time.Second
	cfg.CheckinTolerance = 2 * time.Second
	cfg.MaxLobbySize = 3
	return cfg
}

func newTestManager(t *testing.T, ledger ContributionChecker) (*Manager, *time.Time) {
	t.Helper()
	m := NewManager(ManagerConfig{
		Ceremony: testConfig(),
		Ledger:   ledger,
		Log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	now := time.Now()
	m.now = func() time.Time { return now }
	return m, &now
}

func identity(uid string) ceremony.Identity {
	return ceremony.Identity{UID: uid, Provider: ceremony.ProviderEthereum, TxCount: 10}
}

func TestEnqueue_RejectsTerminalAndDuplicate(t *testing.T) {
	ledger := &stubLedger{terminal: map[string]bool{"done": true}}
	m, _ := newTestManager(t, ledger)
	ctx := context.Background()

	require.ErrorIs(t, m.Enqueue(ctx, identity("done")), ceremony.ErrAlreadyContributed)

	require.NoError(t, m.Enqueue(ctx, identity("alice")))
	require.ErrorIs(t, m.Enqueue(ctx, identity("alice")), ceremony.ErrAlreadyQueued)
	require.Equal(t, 1, m.Size())
}

func TestEnqueue_RespectsCapacity(t *testing.T) {
	m, _ := newTestManager(t, &stubLedger{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, m.Enqueue(ctx, identity(fmt.Sprintf("uid-%d", i))))
	}
	require.ErrorIs(t, m.Enqueue(ctx, identity("overflow")), ceremony.ErrLobbyFull)
}

func TestEnqueue_AppliesEligibilityPolicy(t *testing.T) {
	m, _ := newTestManager(t, &stubLedger{})
	m.policy = ceremony.DefaultEligibility{EthMinTxCount: 100}

	err := m.Enqueue(context.Background(), identity("poor"))
	require.ErrorIs(t, err, ceremony.ErrNotEligible)
}

func TestEnqueue_PropagatesLedgerFailure(t *testing.T) {
	m, _ := newTestManager(t, &stubLedger{err: errors.New("db down")})

	err := m.Enqueue(context.Background(), identity("alice"))
	require.Error(t, err)
	require.NotErrorIs(t, err, ceremony.ErrAlreadyContributed)
}

func TestCheckin_RateLimiting(t *testing.T) {
	m, now := newTestManager(t, &stubLedger{})
	require.NoError(t, m.Enqueue(context.Background(), identity("alice")))

	// First checkin is always allowed, immediately after joining.
	require.NoError(t, m.Checkin("alice"))

	// Too soon: frequency-tolerance is 8s.
	*now = now.Add(5 * time.Second)
	require.ErrorIs(t, m.Checkin("alice"), ceremony.ErrRateLimited)

	*now = now.Add(4 * time.Second)
	require.NoError(t, m.Checkin("alice"))

	require.ErrorIs(t, m.Checkin("ghost"), ceremony.ErrNotInLobby)
}

func TestNextEligible_FIFOOrder(t *testing.T) {
	m, _ := newTestManager(t, &stubLedger{})
	ctx := context.Background()

	require.NoError(t, m.Enqueue(ctx, identity("first")))
	require.NoError(t, m.Enqueue(ctx, identity("second")))
	require.NoError(t, m.Enqueue(ctx, identity("third")))

	next, ok := m.NextEligible()
	require.True(t, ok)
	require.Equal(t, "first", next.Identity.UID)

	_, removed := m.Remove("first")
	require.True(t, removed)

	next, ok = m.NextEligible()
	require.True(t, ok)
	require.Equal(t, "second", next.Identity.UID)
}

func TestNextEligible_EmptyLobby(t *testing.T) {
	m, _ := newTestManager(t, &stubLedger{})
	_, ok := m.NextEligible()
	require.False(t, ok)
}

func TestSweep_EvictsOnlyOverdueEntries(t *testing.T) {
	m, now := newTestManager(t, &stubLedger{})
	ctx := context.Background()

	require.NoError(t, m.Enqueue(ctx, identity("stale")))

	*now = now.Add(8 * time.Second)
	require.NoError(t, m.Enqueue(ctx, identity("fresh")))

	// 13s after "stale" joined: past frequency+tolerance (12s) for it,
	// well within for "fresh".
	evicted := m.Sweep(now.Add(5 * time.Second))
	require.Equal(t, []string{"stale"}, evicted)
	require.Equal(t, 1, m.Size())

	_, ok := m.Remove("fresh")
	require.True(t, ok)
}

func TestSweep_EvictedIdentityMayRejoin(t *testing.T) {
	m, now := newTestManager(t, &stubLedger{})
	ctx := context.Background()

	require.NoError(t, m.Enqueue(ctx, identity("alice")))
	evicted := m.Sweep(now.Add(time.Minute))
	require.Len(t, evicted, 1)

	// No ledger record was written, so the identity can come back.
	require.NoError(t, m.Enqueue(ctx, identity("alice")))
}
