package kzg

import (
	"fmt"
)

// PowersOfTau holds the monomial commitments [tau^i]G1 and [tau^i]G2.
type PowersOfTau struct {
	G1Powers []G1Point `json:"G1Powers"`
	G2Powers []G2Point `json:"G2Powers"`
}

// Witness chains every accepted contribution: runningProducts[i] is the
// first G1 power after contribution i, potPubkeys[i] the G2 commitment to
// the secret contribution i multiplied in. Together they let anyone audit
// the full history of the final tau.
type Witness struct {
	RunningProducts []G1Point `json:"runningProducts"`
	PotPubkeys      []G2Point `json:"potPubkeys"`
}

// Transcript is the evolving ceremony artifact.
type Transcript struct {
	NumG1Powers int         `json:"numG1Powers"`
	NumG2Powers int         `json:"numG2Powers"`
	PowersOfTau PowersOfTau `json:"powersOfTau"`
	Witness     Witness     `json:"witness"`
}

// Contribution is one participant's proposed transcript update.
type Contribution struct {
	NumG1Powers int         `json:"numG1Powers"`
	NumG2Powers int         `json:"numG2Powers"`
	PowersOfTau PowersOfTau `json:"powersOfTau"`
	PotPubkey   G2Point     `json:"potPubkey"`
}

// NewTranscript creates the genesis transcript for a ceremony of the
// given size. The initial secret is one, so every power starts at the
// group generator.
func NewTranscript(numG1, numG2 int) (*Transcript, error) {
	if numG1 < 2 || numG2 < 2 {
		return nil, fmt.Errorf("need at least two powers in each group, got %d G1 and %d G2", numG1, numG2)
	}
	if numG1 < numG2 {
		return nil, fmt.Errorf("need at least as many G1 as G2 powers, got %d G1 and %d G2", numG1, numG2)
	}

	g1 := make([]G1Point, numG1)
	g2 := make([]G2Point, numG2)
	encG1 := EncodeG1(g1Gen)
	encG2 := EncodeG2(g2Gen)
	for i := range g1 {
		g1[i] = encG1
	}
	for i := range g2 {
		g2[i] = encG2
	}

	return &Transcript{
		NumG1Powers: numG1,
		NumG2Powers: numG2,
		PowersOfTau: PowersOfTau{G1Powers: g1, G2Powers: g2},
		Witness: Witness{
			RunningProducts: []G1Point{encG1},
			PotPubkeys:      []G2Point{encG2},
		},
	}, nil
}

// NumContributions returns how many contributions the witness records.
func (t *Transcript) NumContributions() int {
	return len(t.Witness.PotPubkeys) - 1
}

// Apply appends a verified contribution. The caller must have run Verify
// first.
func (t *Transcript) Apply(c *Contribution) {
	t.Witness.RunningProducts = append(t.Witness.RunningProducts, c.PowersOfTau.G1Powers[1])
	t.Witness.PotPubkeys = append(t.Witness.PotPubkeys, c.PotPubkey)
	t.PowersOfTau = c.PowersOfTau
	t.NumG1Powers = len(c.PowersOfTau.G1Powers)
	t.NumG2Powers = len(c.PowersOfTau.G2Powers)
}
