/*
# KZG Package

The kzg package implements the cryptographic side of the ceremony: the
powers-of-tau transcript over BLS12-381 and the verification of
contributions against it, built on gnark-crypto.

A contribution replaces the transcript's powers with new ones and proves,
via its potPubkey, that it multiplied the previous secret by its own. The
verifier checks, in order:

 1. Point encodings decode to curve points in the correct subgroup.
 2. The contribution carries entropy (the pubkey is not the identity
    contribution) and the fixed zeroth powers are the group generators.
 3. e(tau'·G1, G2) = e(tau·G1, potPubkey): the new first power extends
    the previous one by exactly the secret the pubkey commits to.
 4. The G1 powers form a geometric sequence in tau', checked with a
    random linear combination collapsed into one pairing equation.
 5. The G2 powers mirror the G1 powers, batched the same way.

The coordination engine consumes this package only through the
ceremony.Validator interface; Validator is a pure function of
(parent state, payload).
*/
package kzg
