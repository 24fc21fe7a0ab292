package transcript

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ethereum/kzg-ceremony-sequencer/ceremony"
)

const transcriptFilePerm = 0o644

// StoreConfig configures the transcript store.
type StoreConfig struct {
	// Path is the canonical transcript file. Only this file is trusted on
	// restart.
	Path string

	// StagingPath is where a commit is staged before atomically replacing
	// the canonical file. Defaults to Path + ".next".
	StagingPath string

	// GenesisSequence is the sequence number of the initial transcript.
	GenesisSequence uint64

	// InitialState is the genesis transcript encoding, written if no
	// canonical file exists yet.
	InitialState json.RawMessage

	// Log is the structured logger for store operations.
	Log *slog.Logger
}

// fileState is the canonical on-disk encoding: the head plus the full
// contribution history, always written as one consistent unit.
type fileState struct {
	Sequence      uint64                 `json:"sequence"`
	State         json.RawMessage        `json:"state"`
	Contributions []ceremony.Contribution `json:"contributions"`
}

// Store is the durable, append-only record of accepted contributions.
//
// Reads of the head take a shared lock; the commit path is serialized by
// a dedicated mutex so that sequence numbers are assigned in commit-lock
// acquisition order, which is the engine's only global ordering
// guarantee.
type Store struct {
	path        string
	stagingPath string
	log         *slog.Logger

	// commitMu serializes TryCommit. Held across the durable write.
	commitMu sync.Mutex

	// mu guards the in-memory head and history.
	mu       sync.RWMutex
	sequence uint64
	state    json.RawMessage
	history  []ceremony.Contribution
}

// Open loads the canonical transcript, or creates it from the configured
// initial state if this is a fresh ceremony. Any staging file left behind
// by an interrupted commit is discarded: the canonical file is the only
// source of truth.
func Open(cfg StoreConfig) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("transcript path must be set")
	}
	if cfg.StagingPath == "" {
		cfg.StagingPath = cfg.Path + ".next"
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}

	s := &Store{
		path:        cfg.Path,
		stagingPath: cfg.StagingPath,
		log:         cfg.Log,
	}

	// A staging file is an interrupted commit that never became
	// canonical. Its contents are unreliable and are regenerated on the
	// next successful commit.
	if err := os.Remove(s.stagingPath); err == nil {
		s.log.Warn("Discarded stale transcript staging file", "path", s.stagingPath)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, &ceremony.PersistenceError{Op: "staging cleanup", Err: err}
	}

	raw, err := os.ReadFile(s.path)
	switch {
	case err == nil:
		var fs fileState
		if err := json.Unmarshal(raw, &fs); err != nil {
			return nil, fmt.Errorf("corrupt canonical transcript %s: %w", s.path, err)
		}
		s.sequence = fs.Sequence
		s.state = fs.State
		s.history = fs.Contributions
		s.log.Info("Loaded transcript", "path", s.path, "sequence", s.sequence, "contributions", len(s.history))

	case errors.Is(err, os.ErrNotExist):
		if len(cfg.InitialState) == 0 {
			return nil, errors.New("no canonical transcript and no initial state configured")
		}
		s.sequence = cfg.GenesisSequence
		s.state = cfg.InitialState
		if err := s.writeDurable(fileState{Sequence: s.sequence, State: s.state}); err != nil {
			return nil, err
		}
		s.log.Info("Initialized genesis transcript", "path", s.path, "sequence", s.sequence)

	default:
		return nil, &ceremony.PersistenceError{Op: "transcript read", Err: err}
	}

	return s, nil
}

// Head returns the latest committed head.
func (s *Store) Head() ceremony.Head {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ceremony.Head{Sequence: s.sequence, State: s.state}
}

// NumContributions returns how many contributions have been committed.
func (s *Store) NumContributions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history)
}

// History returns a copy of the committed contribution records in
// sequence order.
func (s *Store) History() []ceremony.Contribution {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ceremony.Contribution, len(s.history))
	copy(out, s.history)
	return out
}

// TryCommit appends a validated contribution.
//
// parentSequence must equal the store's current sequence or the commit is
// rejected with ErrStaleHead; the caller then revalidates against the new
// head. The new state is made durable before the in-memory head advances,
// so success is only ever reported for contributions that survived a
// crash barrier.
func (s *Store) TryCommit(parentSequence uint64, newState json.RawMessage, uid string, payload json.RawMessage) (ceremony.Contribution, error) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	s.mu.RLock()
	current := s.sequence
	s.mu.RUnlock()

	if parentSequence != current {
		return ceremony.Contribution{}, fmt.Errorf("parent sequence %d, current %d: %w",
			parentSequence, current, ceremony.ErrStaleHead)
	}

	contrib := ceremony.Contribution{
		Sequence:       current + 1,
		UID:            uid,
		ParentSequence: parentSequence,
		Payload:        payload,
		CommittedAt:    time.Now().UTC(),
	}

	next := fileState{
		Sequence:      contrib.Sequence,
		State:         newState,
		Contributions: append(s.History(), contrib),
	}
	if err := s.writeDurable(next); err != nil {
		// The canonical file still holds the last known-good state.
		return ceremony.Contribution{}, err
	}

	s.mu.Lock()
	s.sequence = contrib.Sequence
	s.state = newState
	s.history = next.Contributions
	s.mu.Unlock()

	s.log.Info("Committed contribution", "sequence", contrib.Sequence, "uid", uid)
	return contrib, nil
}

// writeDurable stages the full state, forces it to disk, and atomically
// replaces the canonical file. The parent directory is synced so the
// rename itself survives a crash.
func (s *Store) writeDurable(fs fileState) error {
	data, err := json.MarshalIndent(fs, "", "  ")
	if err != nil {
		return &ceremony.PersistenceError{Op: "transcript encode", Err: err}
	}

	f, err := os.OpenFile(s.stagingPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, transcriptFilePerm)
	if err != nil {
		return &ceremony.PersistenceError{Op: "staging open", Err: err}
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return &ceremony.PersistenceError{Op: "staging write", Err: err}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return &ceremony.PersistenceError{Op: "staging sync", Err: err}
	}
	if err := f.Close(); err != nil {
		return &ceremony.PersistenceError{Op: "staging close", Err: err}
	}

	if err := os.Rename(s.stagingPath, s.path); err != nil {
		return &ceremony.PersistenceError{Op: "canonical replace", Err: err}
	}

	if err := syncDir(filepath.Dir(s.path)); err != nil {
		return &ceremony.PersistenceError{Op: "directory sync", Err: err}
	}
	return nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
