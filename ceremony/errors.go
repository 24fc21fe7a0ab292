package ceremony

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the lobby, session controller and transcript
// store. Callers distinguish "retry later" conditions (ErrSlotFull,
// ErrRateLimited) from terminal ones (ErrAlreadyContributed) by identity.
var (
	// ErrAlreadyContributed means the identity has a terminal ledger
	// record and may never re-enter the lobby.
	ErrAlreadyContributed = errors.New("identity already contributed")

	// ErrAlreadyQueued means the identity is already waiting in the lobby.
	ErrAlreadyQueued = errors.New("identity already in lobby")

	// ErrNotInLobby means the identity has no lobby entry, either because
	// it never joined or because it was evicted for missing checkins.
	ErrNotInLobby = errors.New("identity not in lobby")

	// ErrLobbyFull means the lobby reached its configured capacity.
	ErrLobbyFull = errors.New("lobby is full")

	// ErrNotEligible means the identity failed the eligibility policy.
	ErrNotEligible = errors.New("identity not eligible")

	// ErrRateLimited means a checkin arrived earlier than the checkin
	// frequency allows.
	ErrRateLimited = errors.New("checkin came too early")

	// ErrSlotFull means all contribution slots are occupied.
	ErrSlotFull = errors.New("all contribution slots are occupied")

	// ErrSessionNotActive means the session does not exist or has already
	// reached a terminal status.
	ErrSessionNotActive = errors.New("session is not active")

	// ErrStaleHead means the transcript head advanced between validation
	// and commit. Recoverable by revalidating against the new head.
	ErrStaleHead = errors.New("transcript head has advanced")

	// ErrCheckinTimeout means a waiting participant missed its liveness
	// window and was evicted from the lobby.
	ErrCheckinTimeout = errors.New("missed lobby checkin deadline")

	// ErrComputeDeadlineExceeded means an active session ran past its
	// compute deadline.
	ErrComputeDeadlineExceeded = errors.New("compute deadline exceeded")
)

// ValidationError reports a contribution the validator rejected. It is
// terminal for the submitting session.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("contribution invalid: %s", e.Reason)
}

// PersistenceError reports a failed durable write (transcript file or
// ledger row). The affected operation must not be reported as successful.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
