package sequencer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ethereum/kzg-ceremony-sequencer/ceremony"
	"github.com/ethereum/kzg-ceremony-sequencer/lobby"
	"github.com/ethereum/kzg-ceremony-sequencer/transcript"
)

// Ledger is the slice of the contributor ledger the session controller
// needs: starting an attempt and finalizing its outcome.
type Ledger interface {
	InsertContributor(ctx context.Context, uid string) error
	FinishContribution(ctx context.Context, uid string) error
	ExpireContribution(ctx context.Context, uid string) error
}

// session is one admitted contribution attempt. Status transitions happen
// only under the engine lock and exactly once.
type session struct {
	id         string
	identity   ceremony.Identity
	admittedAt time.Time
	deadline   time.Time
	status     ceremony.SessionStatus

	// committing is set while a submit holds a validated payload and is
	// racing for the commit lock. The deadline sweep leaves such sessions
	// alone; the submit path re-checks the deadline between attempts.
	committing bool
}

// EngineConfig wires the session controller to its collaborators.
type EngineConfig struct {
	Ceremony   ceremony.Config
	Lobby      *lobby.Manager
	Ledger     Ledger
	Transcript *transcript.Store
	Validator  ceremony.Validator
	Log        *slog.Logger
}

// Engine is the session controller. It owns slot accounting and the
// session state machine; the transcript store owns the head.
type Engine struct {
	cfg       ceremony.Config
	lobby     *lobby.Manager
	ledger    Ledger
	store     *transcript.Store
	validator ceremony.Validator
	log       *slog.Logger

	// now is swapped in tests to control time.
	now func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
	active   int
}

// NewEngine creates a session controller.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if err := cfg.Ceremony.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ceremony config: %w", err)
	}
	if cfg.Lobby == nil || cfg.Ledger == nil || cfg.Transcript == nil || cfg.Validator == nil {
		return nil, errors.New("lobby, ledger, transcript and validator are all required")
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		cfg:       cfg.Ceremony,
		lobby:     cfg.Lobby,
		ledger:    cfg.Ledger,
		store:     cfg.Transcript,
		validator: cfg.Validator,
		log:       log,
		now:       time.Now,
		sessions:  make(map[string]*session),
	}, nil
}

// AdmitResult is handed to an admitted participant.
type AdmitResult struct {
	// SessionID authorizes exactly one Submit.
	SessionID string

	// Head is the transcript snapshot at admission time. The participant
	// computes its update against this, though the head may advance
	// before it submits.
	Head ceremony.Head

	// Deadline is when the session expires if nothing was submitted.
	Deadline time.Time
}

// Admit moves a waiting identity into a free contribution slot.
//
// Fails with ErrSlotFull when all slots are occupied and ErrNotInLobby
// when the uid is not waiting. On success the identity's ledger record is
// started and a session with a hard compute deadline is created.
func (e *Engine) Admit(ctx context.Context, uid string) (AdmitResult, error) {
	// Fast fail before touching the ledger.
	e.mu.Lock()
	if e.active >= e.cfg.MaxActiveSessions {
		e.mu.Unlock()
		return AdmitResult{}, ceremony.ErrSlotFull
	}
	e.mu.Unlock()

	// Start the attempt in the ledger before taking the slot. If we lose
	// the slot race below, a non-terminal started_at row remains, which
	// keeps the uid eligible.
	if err := e.ledger.InsertContributor(ctx, uid); err != nil {
		return AdmitResult{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active >= e.cfg.MaxActiveSessions {
		return AdmitResult{}, ceremony.ErrSlotFull
	}

	entry, ok := e.lobby.Remove(uid)
	if !ok {
		return AdmitResult{}, fmt.Errorf("%s: %w", uid, ceremony.ErrNotInLobby)
	}

	now := e.now()
	s := &session{
		id:         uuid.NewString(),
		identity:   entry.Identity,
		admittedAt: now,
		deadline:   now.Add(e.cfg.ComputeDeadline),
		status:     ceremony.StatusActive,
	}
	e.sessions[s.id] = s
	e.active++

	e.log.Info("Admitted participant", "uid", uid, "sessionID", s.id, "deadline", s.deadline)
	return AdmitResult{
		SessionID: s.id,
		Head:      e.store.Head(),
		Deadline:  s.deadline,
	}, nil
}

// SubmitResult reports an accepted contribution.
type SubmitResult struct {
	Contribution ceremony.Contribution
	Identity     ceremony.Identity
}

// Submit runs one contribution payload through validation and the
// optimistic commit protocol.
//
// The payload is validated against the current head, not the admission
// snapshot: other slots may have committed in between. A commit lost to
// a concurrent slot is retried, revalidating against the new head, at
// most MaxSubmitRetries times before the session is forcibly expired.
//
// Outcomes:
//   - success: session COMMITTED, ledger finished_at set, slot released.
//   - validator rejection: session EXPIRED, expired_at set, slot
//     released, ValidationError returned.
//   - retries exhausted: session EXPIRED as above, ErrStaleHead returned.
//   - persistence failure: error returned, session stays ACTIVE so the
//     participant may retry within its deadline.
func (e *Engine) Submit(ctx context.Context, sessionID string, payload json.RawMessage) (SubmitResult, error) {
	s, err := e.beginSubmit(sessionID)
	if err != nil {
		return SubmitResult{}, err
	}

	uid := s.identity.UID
	var lastStale error

	for attempt := 0; attempt < e.cfg.MaxSubmitRetries; attempt++ {
		if e.now().After(s.deadline) {
			e.finalizeExpire(ctx, s)
			return SubmitResult{}, ceremony.ErrComputeDeadlineExceeded
		}

		// Validation is CPU-bound cryptographic work and deliberately runs
		// outside every lock.
		head := e.store.Head()
		newState, err := e.validator.Validate(ctx, head, payload)
		if err != nil {
			e.finalizeExpire(ctx, s)
			return SubmitResult{}, &ceremony.ValidationError{Reason: err.Error()}
		}

		contrib, err := e.store.TryCommit(head.Sequence, newState, uid, payload)
		if errors.Is(err, ceremony.ErrStaleHead) {
			lastStale = err
			e.log.Info("Lost commit race, revalidating", "sessionID", s.id, "attempt", attempt+1)
			continue
		}
		if err != nil {
			e.endSubmit(s)
			return SubmitResult{}, err
		}

		if err := e.finalizeCommit(ctx, s); err != nil {
			return SubmitResult{Contribution: contrib, Identity: s.identity}, err
		}
		return SubmitResult{Contribution: contrib, Identity: s.identity}, nil
	}

	// Retries exhausted under contention; expire to guarantee slot
	// turnover.
	e.finalizeExpire(ctx, s)
	return SubmitResult{}, fmt.Errorf("no commit after %d attempts: %w", e.cfg.MaxSubmitRetries, lastStale)
}

// beginSubmit checks the session is ACTIVE and marks it as committing so
// the deadline sweep will not expire it mid-commit.
func (e *Engine) beginSubmit(sessionID string) (*session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[sessionID]
	if !ok || s.status != ceremony.StatusActive {
		return nil, ceremony.ErrSessionNotActive
	}
	if s.committing {
		return nil, fmt.Errorf("submission already in flight: %w", ceremony.ErrSessionNotActive)
	}
	s.committing = true
	return s, nil
}

func (e *Engine) endSubmit(s *session) {
	e.mu.Lock()
	s.committing = false
	e.mu.Unlock()
}

// finalizeCommit transitions the session to COMMITTED and finalizes the
// ledger row before releasing the slot.
func (e *Engine) finalizeCommit(ctx context.Context, s *session) error {
	e.mu.Lock()
	s.status = ceremony.StatusCommitted
	s.committing = false
	e.mu.Unlock()

	err := e.ledger.FinishContribution(ctx, s.identity.UID)
	if err != nil {
		e.log.Error("Failed to finalize ledger row for committed contribution",
			"uid", s.identity.UID, "sessionID", s.id, "err", err)
	}

	e.releaseSlot()
	e.log.Info("Session committed", "uid", s.identity.UID, "sessionID", s.id)
	return err
}

// finalizeExpire transitions the session to EXPIRED if it is still
// ACTIVE. The compare-and-swap makes a race between a submit and the
// deadline sweep safe: the loser's call is a no-op.
func (e *Engine) finalizeExpire(ctx context.Context, s *session) bool {
	e.mu.Lock()
	if s.status != ceremony.StatusActive {
		e.mu.Unlock()
		return false
	}
	s.status = ceremony.StatusExpired
	s.committing = false
	e.mu.Unlock()

	if err := e.ledger.ExpireContribution(ctx, s.identity.UID); err != nil {
		e.log.Error("Failed to record session expiry", "uid", s.identity.UID, "sessionID", s.id, "err", err)
	}

	e.releaseSlot()
	e.log.Info("Session expired", "uid", s.identity.UID, "sessionID", s.id)
	return true
}

func (e *Engine) releaseSlot() {
	e.mu.Lock()
	e.active--
	e.mu.Unlock()
}

// ExpireOverdue expires every ACTIVE session whose compute deadline has
// passed, skipping sessions with a commit in flight (the submit path
// re-checks its own deadline). Returns the number of sessions expired.
// Called by the checkin monitor on every sweep.
func (e *Engine) ExpireOverdue(ctx context.Context, now time.Time) int {
	e.mu.Lock()
	var overdue []*session
	for _, s := range e.sessions {
		if s.status == ceremony.StatusActive && !s.committing && now.After(s.deadline) {
			overdue = append(overdue, s)
		}
	}
	e.mu.Unlock()

	expired := 0
	for _, s := range overdue {
		if e.finalizeExpire(ctx, s) {
			expired++
		}
	}
	return expired
}

// SessionStatus reports the status of a session.
func (e *Engine) SessionStatus(sessionID string) (ceremony.SessionStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[sessionID]
	if !ok {
		return 0, ceremony.ErrSessionNotActive
	}
	return s.status, nil
}

// ActiveSessions returns how many slots are currently occupied.
func (e *Engine) ActiveSessions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// Head exposes the current transcript head.
func (e *Engine) Head() ceremony.Head {
	return e.store.Head()
}

// NumContributions exposes the committed contribution count.
func (e *Engine) NumContributions() int {
	return e.store.NumContributions()
}
