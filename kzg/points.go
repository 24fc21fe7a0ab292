package kzg

import (
	"encoding/hex"
	"fmt"
	"strings"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
)

// G1Point is a compressed BLS12-381 G1 point, serialized as a 0x-prefixed
// hex string of 48 bytes.
type G1Point string

// G2Point is a compressed BLS12-381 G2 point, serialized as a 0x-prefixed
// hex string of 96 bytes.
type G2Point string

const (
	g1CompressedSize = 48
	g2CompressedSize = 96
)

var g1Gen, g2Gen = generators()

func generators() (bls12381.G1Affine, bls12381.G2Affine) {
	_, _, g1, g2 := bls12381.Generators()
	return g1, g2
}

func decodeHex(s string, size int) ([]byte, error) {
	if !strings.HasPrefix(s, "0x") {
		return nil, fmt.Errorf("point %q missing 0x prefix", s)
	}
	raw, err := hex.DecodeString(s[2:])
	if err != nil {
		return nil, fmt.Errorf("point %q is not valid hex: %w", s, err)
	}
	if len(raw) != size {
		return nil, fmt.Errorf("point has %d bytes, want %d", len(raw), size)
	}
	return raw, nil
}

// Decode parses the point, checking encoding, curve membership and the
// prime-order subgroup.
func (p G1Point) Decode() (bls12381.G1Affine, error) {
	var point bls12381.G1Affine
	raw, err := decodeHex(string(p), g1CompressedSize)
	if err != nil {
		return point, err
	}
	if _, err := point.SetBytes(raw); err != nil {
		return point, fmt.Errorf("invalid G1 point: %w", err)
	}
	return point, nil
}

// Decode parses the point, checking encoding, curve membership and the
// prime-order subgroup.
func (p G2Point) Decode() (bls12381.G2Affine, error) {
	var point bls12381.G2Affine
	raw, err := decodeHex(string(p), g2CompressedSize)
	if err != nil {
		return point, err
	}
	if _, err := point.SetBytes(raw); err != nil {
		return point, fmt.Errorf("invalid G2 point: %w", err)
	}
	return point, nil
}

// EncodeG1 serializes a G1 point to its hex form.
func EncodeG1(p bls12381.G1Affine) G1Point {
	raw := p.Bytes()
	return G1Point("0x" + hex.EncodeToString(raw[:]))
}

// EncodeG2 serializes a G2 point to its hex form.
func EncodeG2(p bls12381.G2Affine) G2Point {
	raw := p.Bytes()
	return G2Point("0x" + hex.EncodeToString(raw[:]))
}

func decodeG1Slice(points []G1Point) ([]bls12381.G1Affine, error) {
	out := make([]bls12381.G1Affine, len(points))
	for i, p := range points {
		point, err := p.Decode()
		if err != nil {
			return nil, fmt.Errorf("G1 power %d: %w", i, err)
		}
		if point.IsInfinity() {
			return nil, fmt.Errorf("G1 power %d is the point at infinity", i)
		}
		out[i] = point
	}
	return out, nil
}

func decodeG2Slice(points []G2Point) ([]bls12381.G2Affine, error) {
	out := make([]bls12381.G2Affine, len(points))
	for i, p := range points {
		point, err := p.Decode()
		if err != nil {
			return nil, fmt.Errorf("G2 power %d: %w", i, err)
		}
		if point.IsInfinity() {
			return nil, fmt.Errorf("G2 power %d is the point at infinity", i)
		}
		out[i] = point
	}
	return out, nil
}
