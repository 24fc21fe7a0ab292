package ceremony

import (
	"errors"
	"time"
)

// Config carries the tunables of the coordination engine. The zero value
// is not usable; start from DefaultConfig.
type Config struct {
	// MaxActiveSessions is the number of simultaneously active
	// contribution slots. 1 gives the strictly serialized ceremony.
	MaxActiveSessions int

	// ComputeDeadline is how long an admitted participant has to compute
	// and submit its contribution.
	ComputeDeadline time.Duration

	// CheckinFrequency is how often waiting participants must check in to
	// keep their lobby entry alive.
	CheckinFrequency time.Duration

	// CheckinTolerance is the allowed lateness of a checkin.
	CheckinTolerance time.Duration

	// FlushInterval is how often the checkin monitor sweeps for dead
	// lobby entries and overdue sessions.
	FlushInterval time.Duration

	// MaxLobbySize caps the number of waiting participants.
	MaxLobbySize int

	// MaxSubmitRetries bounds how many times a submission is revalidated
	// after losing a commit race, so a contended slot always turns over.
	MaxSubmitRetries int

	// GenesisSequence is the sequence number of the initial transcript.
	GenesisSequence uint64
}

// DefaultConfig returns the published ceremony parameters.
func DefaultConfig() Config {
	return Config{
		MaxActiveSessions: 1,
		ComputeDeadline:   180 * time.Second,
		CheckinFrequency:  30 * time.Second,
		CheckinTolerance:  2 * time.Second,
		FlushInterval:     5 * time.Second,
		MaxLobbySize:      1000,
		MaxSubmitRetries:  3,
		GenesisSequence:   0,
	}
}

// Validate checks the configuration for values that would stall or break
// the ceremony.
func (c Config) Validate() error {
	if c.MaxActiveSessions < 1 {
		return errors.New("max active sessions must be at least 1")
	}
	if c.ComputeDeadline <= 0 {
		return errors.New("compute deadline must be positive")
	}
	if c.CheckinFrequency <= 0 {
		return errors.New("checkin frequency must be positive")
	}
	if c.CheckinTolerance < 0 {
		return errors.New("checkin tolerance must not be negative")
	}
	if c.FlushInterval <= 0 {
		return errors.New("flush interval must be positive")
	}
	if c.MaxLobbySize < 1 {
		return errors.New("max lobby size must be at least 1")
	}
	if c.MaxSubmitRetries < 1 {
		return errors.New("max submit retries must be at least 1")
	}
	return nil
}
