// Package testutil provides shared helpers for sequencer tests: a cheap
// deterministic validator, temp-file transcript stores and an in-memory
// contributor ledger.
package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ethereum/kzg-ceremony-sequencer/ceremony"
	"github.com/ethereum/kzg-ceremony-sequencer/ledger"
	"github.com/ethereum/kzg-ceremony-sequencer/transcript"
)

// TestState is the transcript state used with the fake validator: just
// the list of accepted values.
type TestState struct {
	Contributions []int `json:"contributions"`
}

// TestPayload is a fake contribution. Valid controls acceptance.
type TestPayload struct {
	Value int  `json:"value"`
	Valid bool `json:"valid"`
}

// InitialTestState returns the genesis state for the fake validator.
func InitialTestState() json.RawMessage {
	return json.RawMessage(`{"contributions":[]}`)
}

// Payload encodes a valid fake contribution.
func Payload(value int) json.RawMessage {
	raw, _ := json.Marshal(TestPayload{Value: value, Valid: true})
	return raw
}

// InvalidPayload encodes a contribution the fake validator rejects.
func InvalidPayload(value int) json.RawMessage {
	raw, _ := json.Marshal(TestPayload{Value: value, Valid: false})
	return raw
}

// FakeValidator is a pure, fast ceremony.Validator for engine tests -
// appends accepted values to the state list.
func FakeValidator() ceremony.Validator {
	return ceremony.ValidatorFunc(func(_ context.Context, parent ceremony.Head, payload json.RawMessage) (json.RawMessage, error) {
		var state TestState
		if err := json.Unmarshal(parent.State, &state); err != nil {
			return nil, fmt.Errorf("bad test state: %w", err)
		}
		var p TestPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("bad test payload: %w", err)
		}
		if !p.Valid {
			return nil, errors.New("payload marked invalid")
		}
		state.Contributions = append(state.Contributions, p.Value)
		return json.Marshal(state)
	})
}

// NewTranscriptStore opens a transcript store in a temp directory.
func NewTranscriptStore(t *testing.T, genesis uint64) *transcript.Store {
	t.Helper()
	store, err := transcript.Open(transcript.StoreConfig{
		Path:            filepath.Join(t.TempDir(), "transcript.json"),
		GenesisSequence: genesis,
		InitialState:    InitialTestState(),
		Log:             DiscardLogger(),
	})
	require.NoError(t, err)
	return store
}

// NewLedger opens an in-memory sqlite contributor ledger.
func NewLedger(t *testing.T) *ledger.Store {
	t.Helper()
	store, err := ledger.Open("sqlite://:memory:", DiscardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// NewFileLedger opens a sqlite ledger at path, so tests can simulate a
// process restart by reopening it.
func NewFileLedger(t *testing.T, path string) *ledger.Store {
	t.Helper()
	store, err := ledger.Open("sqlite://"+path, DiscardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Identity creates a test identity.
func Identity(uid string) ceremony.Identity {
	return ceremony.Identity{UID: uid, Provider: ceremony.ProviderEthereum, TxCount: 100}
}
