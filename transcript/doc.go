/*
# Transcript Store

The transcript package owns the durable ceremony transcript: the ordered
sequence of committed contributions and the current head. All mutation
funnels through TryCommit, which implements the optimistic-concurrency
commit protocol:

 1. The caller validates a payload against a head snapshot, outside any
    lock.
 2. TryCommit takes the single commit lock, compares the caller's parent
    sequence against the store's current sequence, and rejects with
    ErrStaleHead if another contribution was committed in between.
 3. On a match, the full new transcript is written to a staging file,
    fsynced, and atomically renamed over the canonical file before the
    in-memory head advances.

A crash at any point leaves the canonical file holding a complete prior
state: either the pre-commit transcript (rename not reached) or the
post-commit one (rename completed). Leftover staging files are discarded
on startup.
*/
package transcript
