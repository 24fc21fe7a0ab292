package lobby

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/kzg-ceremony-sequencer/ceremony"
)

// ContributionChecker is the slice of the contributor ledger the lobby
// needs: whether an identity already holds a terminal record.
type ContributionChecker interface {
	HasContributed(ctx context.Context, uid string) (bool, error)
}

// Entry is one waiting participant.
type Entry struct {
	Identity      ceremony.Identity
	JoinedAt      time.Time
	LastCheckinAt time.Time

	// firstCheckin permits one immediate checkin right after joining,
	// before the rate limit window applies.
	firstCheckin bool
}

// ManagerConfig configures the lobby manager.
type ManagerConfig struct {
	// Ceremony carries lobby capacity and checkin timing.
	Ceremony ceremony.Config

	// Ledger answers one-attempt-per-identity eligibility.
	Ledger ContributionChecker

	// Policy is evaluated once at enqueue time. Nil admits everyone.
	Policy ceremony.EligibilityPolicy

	// Log is the structured logger for lobby events.
	Log *slog.Logger
}

// Manager tracks identities waiting to contribute. All methods are safe
// for concurrent use.
type Manager struct {
	cfg    ceremony.Config
	ledger ContributionChecker
	policy ceremony.EligibilityPolicy
	log    *slog.Logger

	// now is swapped in tests to control time.
	now func() time.Time

	mu      sync.Mutex
	entries map[string]*Entry
	order   []string // uids in join order
}

// NewManager creates a lobby manager.
func NewManager(cfg ManagerConfig) *Manager {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		cfg:     cfg.Ceremony,
		ledger:  cfg.Ledger,
		policy:  cfg.Policy,
		log:     log,
		now:     time.Now,
		entries: make(map[string]*Entry),
	}
}

// Enqueue adds a verified identity to the waiting set.
//
// Fails with ErrAlreadyContributed if the ledger holds a terminal record
// for the uid, ErrAlreadyQueued if the identity is already waiting,
// ErrLobbyFull at capacity, and ErrNotEligible if the eligibility policy
// rejects the identity.
func (m *Manager) Enqueue(ctx context.Context, id ceremony.Identity) error {
	terminal, err := m.ledger.HasContributed(ctx, id.UID)
	if err != nil {
		return err
	}
	if terminal {
		return fmt.Errorf("%s: %w", id.UID, ceremony.ErrAlreadyContributed)
	}

	if m.policy != nil {
		if err := m.policy.Eligible(id); err != nil {
			return fmt.Errorf("%w: %v", ceremony.ErrNotEligible, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[id.UID]; ok {
		return fmt.Errorf("%s: %w", id.UID, ceremony.ErrAlreadyQueued)
	}
	if len(m.entries) >= m.cfg.MaxLobbySize {
		return ceremony.ErrLobbyFull
	}

	now := m.now()
	m.entries[id.UID] = &Entry{
		Identity:      id,
		JoinedAt:      now,
		LastCheckinAt: now,
		firstCheckin:  true,
	}
	m.order = append(m.order, id.UID)

	m.log.Info("Participant joined lobby", "uid", id.UID, "lobbySize", len(m.entries))
	return nil
}

// Checkin refreshes the liveness clock of a waiting participant.
//
// Fails with ErrNotInLobby for unknown uids and with ErrRateLimited when
// the checkin arrives earlier than frequency minus tolerance after the
// previous one. The first checkin after joining is always accepted.
func (m *Manager) Checkin(uid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[uid]
	if !ok {
		return fmt.Errorf("%s: %w", uid, ceremony.ErrNotInLobby)
	}

	now := m.now()
	minGap := m.cfg.CheckinFrequency - m.cfg.CheckinTolerance
	if !e.firstCheckin && now.Before(e.LastCheckinAt.Add(minGap)) {
		return ceremony.ErrRateLimited
	}

	e.firstCheckin = false
	e.LastCheckinAt = now
	return nil
}

// NextEligible returns the longest-waiting entry, without removing it.
// The second return is false when the lobby is empty.
func (m *Manager) NextEligible() (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, uid := range m.order {
		if e, ok := m.entries[uid]; ok {
			return *e, true
		}
	}
	return Entry{}, false
}

// Remove deletes a waiting entry, returning it. Used by the session
// controller on admission and by the monitor on eviction.
func (m *Manager) Remove(uid string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLocked(uid)
}

func (m *Manager) removeLocked(uid string) (Entry, bool) {
	e, ok := m.entries[uid]
	if !ok {
		return Entry{}, false
	}
	delete(m.entries, uid)
	for i, queued := range m.order {
		if queued == uid {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return *e, true
}

// Size returns the number of waiting participants.
func (m *Manager) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Sweep evicts every entry whose last checkin is older than
// frequency+tolerance and returns the evicted uids. No ledger record is
// written: an evicted identity never started a session and may join the
// lobby again later.
func (m *Manager) Sweep(now time.Time) []string {
	maxGap := m.cfg.CheckinFrequency + m.cfg.CheckinTolerance

	m.mu.Lock()
	defer m.mu.Unlock()

	var evicted []string
	for uid, e := range m.entries {
		if now.Sub(e.LastCheckinAt) > maxGap {
			evicted = append(evicted, uid)
		}
	}
	for _, uid := range evicted {
		m.removeLocked(uid)
		m.log.Info("Evicted participant from lobby", "uid", uid, "reason", ceremony.ErrCheckinTimeout)
	}
	return evicted
}
