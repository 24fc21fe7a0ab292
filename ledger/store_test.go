package ledger

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMemStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open("sqlite://:memory:", discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestOpen_RejectsUnknownScheme(t *testing.T) {
	_, err := Open("mysql://nope", discardLogger())
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported ledger DSN")
}

func TestHasContributed_FalseForUnknownAndStarted(t *testing.T) {
	store := newMemStore(t)
	ctx := context.Background()

	terminal, err := store.HasContributed(ctx, "alice")
	require.NoError(t, err)
	require.False(t, terminal)

	// A started-but-unfinished attempt does not block participation.
	require.NoError(t, store.InsertContributor(ctx, "alice"))
	terminal, err = store.HasContributed(ctx, "alice")
	require.NoError(t, err)
	require.False(t, terminal)
}

func TestFinishContribution_SetsTerminalStateOnce(t *testing.T) {
	store := newMemStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertContributor(ctx, "alice"))
	require.NoError(t, store.FinishContribution(ctx, "alice"))

	terminal, err := store.HasContributed(ctx, "alice")
	require.NoError(t, err)
	require.True(t, terminal)

	rec, err := store.Lookup(ctx, "alice")
	require.NoError(t, err)
	require.True(t, rec.FinishedAt.Valid)
	require.False(t, rec.ExpiredAt.Valid)

	// Neither terminal column may ever be set a second time.
	require.ErrorIs(t, store.FinishContribution(ctx, "alice"), ErrAlreadyFinalized)
	require.ErrorIs(t, store.ExpireContribution(ctx, "alice"), ErrAlreadyFinalized)
}

func TestExpireContribution_SetsExpiredOnly(t *testing.T) {
	store := newMemStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertContributor(ctx, "bob"))
	require.NoError(t, store.ExpireContribution(ctx, "bob"))

	rec, err := store.Lookup(ctx, "bob")
	require.NoError(t, err)
	require.False(t, rec.FinishedAt.Valid)
	require.True(t, rec.ExpiredAt.Valid)
	require.True(t, rec.Terminal())
}

func TestFinalize_UnknownContributor(t *testing.T) {
	store := newMemStore(t)
	ctx := context.Background()

	require.ErrorIs(t, store.FinishContribution(ctx, "ghost"), ErrUnknownContributor)

	_, err := store.Lookup(ctx, "ghost")
	require.ErrorIs(t, err, ErrUnknownContributor)
}

func TestInsertContributor_RestartsNonTerminalOnly(t *testing.T) {
	store := newMemStore(t)
	ctx := context.Background()

	// A crashed attempt may be restarted.
	require.NoError(t, store.InsertContributor(ctx, "alice"))
	require.NoError(t, store.InsertContributor(ctx, "alice"))

	require.NoError(t, store.FinishContribution(ctx, "alice"))
	first, err := store.Lookup(ctx, "alice")
	require.NoError(t, err)

	// A terminal row is never touched by a re-insert.
	require.NoError(t, store.InsertContributor(ctx, "alice"))
	after, err := store.Lookup(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, first.StartedAt, after.StartedAt)
	require.True(t, after.Terminal())
}

func TestTerminalStateSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	store, err := Open("sqlite://"+path, discardLogger())
	require.NoError(t, err)
	require.NoError(t, store.InsertContributor(ctx, "alice"))
	require.NoError(t, store.FinishContribution(ctx, "alice"))
	require.NoError(t, store.Close())

	// Simulated process restart.
	reopened, err := Open("sqlite://"+path, discardLogger())
	require.NoError(t, err)
	defer reopened.Close()

	terminal, err := reopened.HasContributed(ctx, "alice")
	require.NoError(t, err)
	require.True(t, terminal)
	require.ErrorIs(t, reopened.ExpireContribution(ctx, "alice"), ErrAlreadyFinalized)
}
