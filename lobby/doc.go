/*
# Lobby Package

The lobby package tracks identities waiting for a contribution slot and
enforces their liveness.

## Manager

The Manager admits identities into the waiting set in FIFO order. Enqueue
rejects identities with a terminal ledger record (one attempt per
identity, ever) and identities that are already queued. Checkin refreshes
a participant's liveness clock and is rate limited so clients cannot spin
on the endpoint.

## Monitor

The Monitor is the background sweep: on a fixed tick it evicts waiting
entries whose last checkin is older than frequency+tolerance (no ledger
row is written, the identity never started a session and may re-enqueue)
and asks the session controller to expire sessions that ran past their
compute deadline.
*/
package lobby
