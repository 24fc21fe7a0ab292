// Package receipt issues signed receipts for accepted contributions.
//
// A receipt binds the participant's identity to the sequence number and
// witness of their contribution, signed with the sequencer's RSA key so
// participants can later prove they took part without trusting the
// sequencer's database.
package receipt

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ethereum/kzg-ceremony-sequencer/ceremony"
	"github.com/ethereum/kzg-ceremony-sequencer/kzg"
)

// Claims is the payload of a contribution receipt token.
type Claims struct {
	UID      string      `json:"uid"`
	Provider string      `json:"provider"`
	Sequence uint64      `json:"sequence"`
	Witness  kzg.Witness `json:"witness"`
	jwt.RegisteredClaims
}

// Signer issues and verifies receipt tokens with an RS256 keypair.
type Signer struct {
	key *rsa.PrivateKey
}

// NewSigner wraps an existing RSA key.
func NewSigner(key *rsa.PrivateKey) *Signer {
	return &Signer{key: key}
}

// Generate creates a Signer with a fresh 2048-bit key. Receipts signed
// with a generated key are only verifiable while the process lives; use
// LoadSigner in production.
func Generate() (*Signer, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generating receipt key: %w", err)
	}
	return &Signer{key: key}, nil
}

// LoadSigner reads a PKCS#1 or PKCS#8 PEM private key from disk.
func LoadSigner(path string) (*Signer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading receipt key: %w", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.New("receipt key is not PEM encoded")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return &Signer{key: key}, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing receipt key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("receipt key is not an RSA key")
	}
	return &Signer{key: key}, nil
}

// Sign issues a receipt for a committed contribution.
func (s *Signer) Sign(id ceremony.Identity, contrib ceremony.Contribution, witness kzg.Witness) (string, error) {
	claims := Claims{
		UID:      id.UID,
		Provider: string(id.Provider),
		Sequence: contrib.Sequence,
		Witness:  witness,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(contrib.CommittedAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("signing receipt: %w", err)
	}
	return signed, nil
}

// Verify parses a receipt token and checks its signature.
func (s *Signer) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodRS256 {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return &s.key.PublicKey, nil
	}, jwt.WithIssuedAt(), jwt.WithLeeway(time.Minute))
	if err != nil {
		return nil, fmt.Errorf("parsing receipt: %w", err)
	}
	if !parsed.Valid {
		return nil, errors.New("receipt signature invalid")
	}
	return claims, nil
}

// PublicKeyPEM returns the verification key so clients can check receipts
// offline.
func (s *Signer) PublicKeyPEM() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(&s.key.PublicKey)
	if err != nil {
		return "", fmt.Errorf("encoding receipt public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}
