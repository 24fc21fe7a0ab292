/*
# Sequencer Package

The sequencer package implements the session controller: the state
machine governing one admitted participant's contribution attempt.

A session is created by Admit when a contribution slot is free, giving
the participant a snapshot of the transcript head and a hard compute
deadline. Submit runs the optimistic commit protocol: the payload is
validated against the current head outside any lock (validation is the
expensive cryptographic step and must not serialize concurrent slots),
then handed to the transcript store's compare-and-commit. Losing the
commit race surfaces as a stale head and triggers a bounded number of
revalidation attempts before the session is forcibly expired, so a
contended slot always turns over.

Session finalization writes the terminal ledger row before releasing the
slot, so there is no window where a slot appears free while its identity
is not yet recorded terminal.
*/
package sequencer
