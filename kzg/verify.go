package kzg

import (
	"errors"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc"
	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
)

// Verification failure reasons. Each is specific so participants can tell
// a malformed submission from one computed against the wrong transcript.
var (
	ErrNoEntropy         = errors.New("contribution adds no entropy")
	ErrWrongSize         = errors.New("contribution has wrong number of powers")
	ErrFirstPowerNotUnit = errors.New("zeroth power is not the group generator")
	ErrPubkeyMismatch    = errors.New("pubkey does not link new powers to previous ones")
	ErrG1PowersInvalid   = errors.New("G1 powers are not a geometric sequence")
	ErrG2PowersInvalid   = errors.New("G2 powers do not match G1 powers")
)

// Verify checks a contribution against the transcript. A nil return means
// the contribution may be applied with Apply.
func (t *Transcript) Verify(c *Contribution) error {
	if c.NumG1Powers != t.NumG1Powers || len(c.PowersOfTau.G1Powers) != t.NumG1Powers {
		return fmt.Errorf("%w: %d G1, want %d", ErrWrongSize, len(c.PowersOfTau.G1Powers), t.NumG1Powers)
	}
	if c.NumG2Powers != t.NumG2Powers || len(c.PowersOfTau.G2Powers) != t.NumG2Powers {
		return fmt.Errorf("%w: %d G2, want %d", ErrWrongSize, len(c.PowersOfTau.G2Powers), t.NumG2Powers)
	}

	// Decode with subgroup checks.
	g1, err := decodeG1Slice(c.PowersOfTau.G1Powers)
	if err != nil {
		return err
	}
	g2, err := decodeG2Slice(c.PowersOfTau.G2Powers)
	if err != nil {
		return err
	}
	pubkey, err := c.PotPubkey.Decode()
	if err != nil {
		return fmt.Errorf("potPubkey: %w", err)
	}
	if pubkey.IsInfinity() || pubkey.Equal(&g2Gen) {
		return ErrNoEntropy
	}

	// The zeroth powers are tau^0 and must stay the generators.
	if !g1[0].Equal(&g1Gen) || !g2[0].Equal(&g2Gen) {
		return ErrFirstPowerNotUnit
	}

	prevTau, err := t.PowersOfTau.G1Powers[1].Decode()
	if err != nil {
		return fmt.Errorf("transcript corrupt: %w", err)
	}

	if err := verifyPubkey(g1[1], prevTau, pubkey); err != nil {
		return err
	}
	if err := verifyG1Powers(g1, g2[1]); err != nil {
		return err
	}
	if err := verifyG2Powers(g1[:len(g2)], g2); err != nil {
		return err
	}
	return nil
}

// verifyPubkey checks e(tau'·G1, G2) == e(tau·G1, pubkey): the new first
// power is the previous one multiplied by exactly the secret the pubkey
// commits to.
func verifyPubkey(newTau, prevTau bls12381.G1Affine, pubkey bls12381.G2Affine) error {
	var negNewTau bls12381.G1Affine
	negNewTau.Neg(&newTau)

	ok, err := bls12381.PairingCheck(
		[]bls12381.G1Affine{negNewTau, prevTau},
		[]bls12381.G2Affine{g2Gen, pubkey},
	)
	if err != nil {
		return fmt.Errorf("pairing check failed: %w", err)
	}
	if !ok {
		return ErrPubkeyMismatch
	}
	return nil
}

// verifyG1Powers checks that g1 is a geometric sequence in the secret
// committed by tauG2. Instead of one pairing per power, a random linear
// combination collapses all ratio checks into a single equation:
//
//	e(sum r_i·g1[i], tauG2) == e(sum r_i·g1[i+1], G2)
func verifyG1Powers(g1 []bls12381.G1Affine, tauG2 bls12381.G2Affine) error {
	n := len(g1) - 1
	scalars, err := randomScalars(n)
	if err != nil {
		return err
	}

	var lo, hi bls12381.G1Affine
	if _, err := lo.MultiExp(g1[:n], scalars, ecc.MultiExpConfig{}); err != nil {
		return fmt.Errorf("multiexp failed: %w", err)
	}
	if _, err := hi.MultiExp(g1[1:], scalars, ecc.MultiExpConfig{}); err != nil {
		return fmt.Errorf("multiexp failed: %w", err)
	}

	var negHi bls12381.G1Affine
	negHi.Neg(&hi)

	ok, err := bls12381.PairingCheck(
		[]bls12381.G1Affine{lo, negHi},
		[]bls12381.G2Affine{tauG2, g2Gen},
	)
	if err != nil {
		return fmt.Errorf("pairing check failed: %w", err)
	}
	if !ok {
		return ErrG1PowersInvalid
	}
	return nil
}

// verifyG2Powers checks that the G2 powers commit to the same values as
// the matching G1 powers, batched with a random linear combination:
//
//	e(sum r_i·g1[i], G2) == e(G1, sum r_i·g2[i])
func verifyG2Powers(g1 []bls12381.G1Affine, g2 []bls12381.G2Affine) error {
	scalars, err := randomScalars(len(g1))
	if err != nil {
		return err
	}

	var combG1 bls12381.G1Affine
	if _, err := combG1.MultiExp(g1, scalars, ecc.MultiExpConfig{}); err != nil {
		return fmt.Errorf("multiexp failed: %w", err)
	}
	var combG2 bls12381.G2Affine
	if _, err := combG2.MultiExp(g2, scalars, ecc.MultiExpConfig{}); err != nil {
		return fmt.Errorf("multiexp failed: %w", err)
	}

	var negCombG1 bls12381.G1Affine
	negCombG1.Neg(&combG1)

	ok, err := bls12381.PairingCheck(
		[]bls12381.G1Affine{negCombG1, g1Gen},
		[]bls12381.G2Affine{g2Gen, combG2},
	)
	if err != nil {
		return fmt.Errorf("pairing check failed: %w", err)
	}
	if !ok {
		return ErrG2PowersInvalid
	}
	return nil
}

func randomScalars(n int) ([]fr.Element, error) {
	scalars := make([]fr.Element, n)
	for i := range scalars {
		if _, err := scalars[i].SetRandom(); err != nil {
			return nil, fmt.Errorf("sampling verification scalar: %w", err)
		}
	}
	return scalars, nil
}
