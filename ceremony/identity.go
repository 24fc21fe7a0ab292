package ceremony

import (
	"fmt"
	"time"
)

// Provider identifies which external identity provider vouched for a
// participant.
type Provider string

const (
	ProviderEthereum Provider = "eth"
	ProviderGithub   Provider = "github"
)

// Identity is a verified participant as handed to the sequencer by the
// identity gate. The sequencer trusts it as already authenticated and
// never mutates it.
type Identity struct {
	// UID uniquely identifies the participant across providers,
	// e.g. "eth|0xab..." or "git|1234|name".
	UID string

	// Provider is the identity provider that vouched for this participant.
	Provider Provider

	// AccountCreatedAt is when the provider account was created. Zero if
	// the provider does not report it.
	AccountCreatedAt time.Time

	// TxCount is the participant's transaction count at the eligibility
	// block. Only meaningful for the Ethereum provider.
	TxCount int64
}

// NewEthereumIdentity builds an identity for an Ethereum address.
func NewEthereumIdentity(address string, txCount int64) Identity {
	return Identity{
		UID:      fmt.Sprintf("eth|%s", address),
		Provider: ProviderEthereum,
		TxCount:  txCount,
	}
}

// NewGithubIdentity builds an identity for a GitHub account.
func NewGithubIdentity(id int64, username string, createdAt time.Time) Identity {
	return Identity{
		UID:              fmt.Sprintf("git|%d|%s", id, username),
		Provider:         ProviderGithub,
		AccountCreatedAt: createdAt,
	}
}

// EligibilityPolicy decides once, at enqueue time, whether an identity may
// join the lobby. Implementations must be side-effect free.
type EligibilityPolicy interface {
	// Eligible returns nil if the identity may participate, or an error
	// describing why not. The error is wrapped into ErrNotEligible by the
	// lobby.
	Eligible(id Identity) error
}

// DefaultEligibility mirrors the ceremony's published participation rules:
// GitHub accounts must predate a cutoff and Ethereum accounts must have
// sent a minimum number of transactions at the snapshot block.
type DefaultEligibility struct {
	// GithubCreationCutoff is the latest creation time for an eligible
	// GitHub account. Zero disables the check.
	GithubCreationCutoff time.Time

	// EthMinTxCount is the minimum transaction count for an eligible
	// Ethereum account.
	EthMinTxCount int64
}

// Eligible implements EligibilityPolicy.
func (p DefaultEligibility) Eligible(id Identity) error {
	switch id.Provider {
	case ProviderGithub:
		if !p.GithubCreationCutoff.IsZero() && id.AccountCreatedAt.After(p.GithubCreationCutoff) {
			return fmt.Errorf("account created %s, after cutoff %s",
				id.AccountCreatedAt.Format(time.RFC3339), p.GithubCreationCutoff.Format(time.RFC3339))
		}
	case ProviderEthereum:
		if id.TxCount < p.EthMinTxCount {
			return fmt.Errorf("transaction count %d below minimum %d", id.TxCount, p.EthMinTxCount)
		}
	default:
		return fmt.Errorf("unknown identity provider %q", id.Provider)
	}
	return nil
}
