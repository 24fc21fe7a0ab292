package kzg

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
	"github.com/stretchr/testify/require"

	"github.com/ethereum/kzg-ceremony-sequencer/ceremony"
)

// testNumG1 and testNumG2 keep the pairing work in tests small. Real
// ceremonies run thousands of powers; the verification equations are the
// same at any size.
const (
	testNumG1 = 8
	testNumG2 = 4
)

// contribute computes an honest contribution to tr with the given secret:
// every power is multiplied by the matching power of the secret, and the
// pubkey commits to the secret in G2.
func contribute(t *testing.T, tr *Transcript, secret uint64) *Contribution {
	t.Helper()

	var x fr.Element
	x.SetUint64(secret)

	g1, err := decodeG1Slice(tr.PowersOfTau.G1Powers)
	require.NoError(t, err)
	g2, err := decodeG2Slice(tr.PowersOfTau.G2Powers)
	require.NoError(t, err)

	var pow fr.Element
	pow.SetOne()
	newG1 := make([]G1Point, len(g1))
	for i := range g1 {
		var p bls12381.G1Affine
		p.ScalarMultiplication(&g1[i], pow.BigInt(new(big.Int)))
		newG1[i] = EncodeG1(p)
		pow.Mul(&pow, &x)
	}

	pow.SetOne()
	newG2 := make([]G2Point, len(g2))
	for i := range g2 {
		var p bls12381.G2Affine
		p.ScalarMultiplication(&g2[i], pow.BigInt(new(big.Int)))
		newG2[i] = EncodeG2(p)
		pow.Mul(&pow, &x)
	}

	var pubkey bls12381.G2Affine
	pubkey.ScalarMultiplication(&g2Gen, x.BigInt(new(big.Int)))

	return &Contribution{
		NumG1Powers: len(newG1),
		NumG2Powers: len(newG2),
		PowersOfTau: PowersOfTau{G1Powers: newG1, G2Powers: newG2},
		PotPubkey:   EncodeG2(pubkey),
	}
}

func newTestTranscript(t *testing.T) *Transcript {
	t.Helper()
	tr, err := NewTranscript(testNumG1, testNumG2)
	require.NoError(t, err)
	return tr
}

func TestNewTranscript_Genesis(t *testing.T) {
	tr := newTestTranscript(t)

	require.Len(t, tr.PowersOfTau.G1Powers, testNumG1)
	require.Len(t, tr.PowersOfTau.G2Powers, testNumG2)
	require.Equal(t, 0, tr.NumContributions())

	// The initial secret is one: every power is the group generator.
	for _, p := range tr.PowersOfTau.G1Powers {
		require.Equal(t, EncodeG1(g1Gen), p)
	}
	for _, p := range tr.PowersOfTau.G2Powers {
		require.Equal(t, EncodeG2(g2Gen), p)
	}
}

func TestNewTranscript_RejectsBadSizes(t *testing.T) {
	_, err := NewTranscript(1, 1)
	require.Error(t, err)

	_, err = NewTranscript(4, 8)
	require.Error(t, err)
}

func TestVerify_AcceptsHonestContribution(t *testing.T) {
	tr := newTestTranscript(t)
	c := contribute(t, tr, 0xdeadbeef)

	require.NoError(t, tr.Verify(c))

	tr.Apply(c)
	require.Equal(t, 1, tr.NumContributions())
	require.Equal(t, c.PowersOfTau.G1Powers[1], tr.Witness.RunningProducts[1])
	require.Equal(t, c.PotPubkey, tr.Witness.PotPubkeys[1])
}

func TestVerify_ChainedContributions(t *testing.T) {
	tr := newTestTranscript(t)

	for i, secret := range []uint64{7, 1234567891011} {
		c := contribute(t, tr, secret)
		require.NoError(t, tr.Verify(c))
		tr.Apply(c)
		require.Equal(t, i+1, tr.NumContributions())
	}

	// The combined tau is the product of both secrets.
	var combined fr.Element
	combined.SetUint64(7)
	var second fr.Element
	second.SetUint64(1234567891011)
	combined.Mul(&combined, &second)

	var wantTau bls12381.G1Affine
	wantTau.ScalarMultiplication(&g1Gen, combined.BigInt(new(big.Int)))
	require.Equal(t, EncodeG1(wantTau), tr.PowersOfTau.G1Powers[1])
}

func TestVerify_RejectsWrongSize(t *testing.T) {
	tr := newTestTranscript(t)
	c := contribute(t, tr, 42)

	c.PowersOfTau.G1Powers = c.PowersOfTau.G1Powers[:testNumG1-1]
	c.NumG1Powers = testNumG1 - 1
	require.ErrorIs(t, tr.Verify(c), ErrWrongSize)
}

func TestVerify_RejectsNoEntropy(t *testing.T) {
	tr := newTestTranscript(t)

	// Secret one leaves the transcript unchanged and the pubkey equal to
	// the G2 generator.
	c := contribute(t, tr, 1)
	require.ErrorIs(t, tr.Verify(c), ErrNoEntropy)
}

func TestVerify_RejectsPubkeyMismatch(t *testing.T) {
	tr := newTestTranscript(t)
	c := contribute(t, tr, 42)

	// Powers computed with one secret, pubkey committing to another.
	c.PotPubkey = contribute(t, tr, 43).PotPubkey
	require.ErrorIs(t, tr.Verify(c), ErrPubkeyMismatch)
}

func TestVerify_RejectsNonGeneratorFirstPower(t *testing.T) {
	tr := newTestTranscript(t)
	c := contribute(t, tr, 42)

	c.PowersOfTau.G1Powers[0] = c.PowersOfTau.G1Powers[1]
	require.ErrorIs(t, tr.Verify(c), ErrFirstPowerNotUnit)
}

func TestVerify_RejectsTamperedG1Power(t *testing.T) {
	tr := newTestTranscript(t)
	c := contribute(t, tr, 42)

	// A valid subgroup point in the wrong slot breaks the geometric
	// sequence without failing decoding.
	c.PowersOfTau.G1Powers[5] = EncodeG1(g1Gen)
	require.ErrorIs(t, tr.Verify(c), ErrG1PowersInvalid)
}

func TestVerify_RejectsTamperedG2Power(t *testing.T) {
	tr := newTestTranscript(t)
	c := contribute(t, tr, 42)

	c.PowersOfTau.G2Powers[3] = EncodeG2(g2Gen)
	require.ErrorIs(t, tr.Verify(c), ErrG2PowersInvalid)
}

func TestVerify_RejectsUndecodablePoint(t *testing.T) {
	tr := newTestTranscript(t)
	c := contribute(t, tr, 42)

	c.PowersOfTau.G1Powers[2] = "0xzz"
	require.Error(t, tr.Verify(c))
}

func TestPointCodec(t *testing.T) {
	enc := EncodeG1(g1Gen)
	dec, err := enc.Decode()
	require.NoError(t, err)
	require.True(t, dec.Equal(&g1Gen))

	_, err = G1Point("deadbeef").Decode()
	require.Error(t, err) // missing 0x prefix

	_, err = G1Point("0xdead").Decode()
	require.Error(t, err) // wrong length
}

func TestValidator_AcceptsAndAppliesContribution(t *testing.T) {
	state, err := InitialState(testNumG1, testNumG2)
	require.NoError(t, err)

	var tr Transcript
	require.NoError(t, json.Unmarshal(state, &tr))
	payload, err := json.Marshal(contribute(t, &tr, 99))
	require.NoError(t, err)

	v := NewValidator()
	newState, err := v.Validate(context.Background(), ceremony.Head{Sequence: 0, State: state}, payload)
	require.NoError(t, err)

	var updated Transcript
	require.NoError(t, json.Unmarshal(newState, &updated))
	require.Equal(t, 1, updated.NumContributions())
	require.Equal(t, testNumG1, updated.NumG1Powers)
}

func TestValidator_RejectsMalformedPayload(t *testing.T) {
	state, err := InitialState(testNumG1, testNumG2)
	require.NoError(t, err)

	v := NewValidator()
	_, err = v.Validate(context.Background(), ceremony.Head{State: state}, json.RawMessage(`{broken`))
	require.Error(t, err)
}

func TestValidator_RejectsInvalidContribution(t *testing.T) {
	state, err := InitialState(testNumG1, testNumG2)
	require.NoError(t, err)

	var tr Transcript
	require.NoError(t, json.Unmarshal(state, &tr))
	c := contribute(t, &tr, 42)
	c.PotPubkey = EncodeG2(g2Gen)
	payload, err := json.Marshal(c)
	require.NoError(t, err)

	v := NewValidator()
	_, err = v.Validate(context.Background(), ceremony.Head{State: state}, payload)
	require.ErrorIs(t, err, ErrNoEntropy)
}
