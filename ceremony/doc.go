/*
# Ceremony Package

The ceremony package defines the shared data model of the trusted-setup
sequencer: participant identities, lobby entries, contribution sessions,
committed contributions and transcript heads, plus the error taxonomy and
engine configuration shared by every component.

## Data Model

  - **Identity** - a verified participant, produced out of band by an
    identity gate (OAuth with Ethereum or GitHub). Immutable.
  - **LobbyEntry** - an identity waiting for a contribution slot.
  - **Session** - one admitted contribution attempt. Transitions exactly
    once from ACTIVE to COMMITTED or EXPIRED.
  - **Contribution** - one accepted transcript update, tagged with a
    gapless monotonic sequence number.
  - **Head** - the transcript state a new contribution must be computed
    against.

## Validator

The Validator interface is the sequencer's only view of the underlying
curve arithmetic. It must be a pure function of (parent head, payload) so
the optimistic commit protocol can revalidate after a StaleHead race.
*/
package ceremony
