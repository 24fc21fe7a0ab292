package kzg

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/kzg-ceremony-sequencer/ceremony"
)

// Validator adapts the transcript verifier to the engine's
// ceremony.Validator interface. The parent head state is the canonical
// Transcript JSON; the payload is a Contribution.
type Validator struct{}

// NewValidator creates a contribution validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate implements ceremony.Validator. On success it returns the
// canonical encoding of the transcript with the contribution applied.
func (v *Validator) Validate(ctx context.Context, parent ceremony.Head, payload json.RawMessage) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var t Transcript
	if err := json.Unmarshal(parent.State, &t); err != nil {
		return nil, fmt.Errorf("transcript state corrupt: %w", err)
	}

	var c Contribution
	if err := json.Unmarshal(payload, &c); err != nil {
		return nil, fmt.Errorf("malformed contribution: %w", err)
	}

	if err := t.Verify(&c); err != nil {
		return nil, err
	}

	t.Apply(&c)
	state, err := json.Marshal(&t)
	if err != nil {
		return nil, fmt.Errorf("encoding transcript: %w", err)
	}
	return state, nil
}

// InitialState returns the genesis transcript encoding for a ceremony of
// the given size, as consumed by the transcript store.
func InitialState(numG1, numG2 int) (json.RawMessage, error) {
	t, err := NewTranscript(numG1, numG2)
	if err != nil {
		return nil, err
	}
	return json.Marshal(t)
}
