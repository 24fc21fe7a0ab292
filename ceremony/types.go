package ceremony

import (
	"context"
	"encoding/json"
	"time"
)

// Head is the transcript state a new contribution must be computed
// against. State is opaque to the coordination engine; only the validator
// interprets it.
type Head struct {
	// Sequence is the number of the latest committed contribution, or the
	// genesis sequence for an empty transcript.
	Sequence uint64 `json:"sequence"`

	// State is the full canonical transcript encoding at this sequence.
	State json.RawMessage `json:"state"`
}

// Contribution is one accepted transcript update.
type Contribution struct {
	// Sequence numbers of committed contributions form a contiguous
	// strictly increasing run starting just above the genesis sequence.
	Sequence uint64 `json:"sequence"`

	// UID of the identity that produced the contribution.
	UID string `json:"uid"`

	// ParentSequence is the head the contribution was validated against.
	ParentSequence uint64 `json:"parent_sequence"`

	// Payload is the participant's raw update, kept for audit. Opaque to
	// the engine.
	Payload json.RawMessage `json:"payload"`

	CommittedAt time.Time `json:"committed_at"`
}

// SessionStatus is the lifecycle state of a contribution session.
type SessionStatus int32

const (
	// StatusActive means the participant holds a slot and may submit.
	StatusActive SessionStatus = iota
	// StatusCommitted means the contribution was accepted and persisted.
	StatusCommitted
	// StatusExpired means the session timed out or its contribution was
	// rejected.
	StatusExpired
)

func (s SessionStatus) String() string {
	switch s {
	case StatusActive:
		return "ACTIVE"
	case StatusCommitted:
		return "COMMITTED"
	case StatusExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether the status permits no further transitions.
func (s SessionStatus) Terminal() bool {
	return s == StatusCommitted || s == StatusExpired
}

// Validator checks a proposed contribution against a transcript head.
//
// Validate must be a pure function of its inputs: the optimistic commit
// protocol revalidates the same payload against a newer head after losing
// a commit race, and hidden state would break that. On success it returns
// the new transcript state; on rejection the error explains why.
type Validator interface {
	Validate(ctx context.Context, parent Head, payload json.RawMessage) (json.RawMessage, error)
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(ctx context.Context, parent Head, payload json.RawMessage) (json.RawMessage, error)

// Validate implements Validator.
func (f ValidatorFunc) Validate(ctx context.Context, parent Head, payload json.RawMessage) (json.RawMessage, error) {
	return f(ctx, parent, payload)
}
