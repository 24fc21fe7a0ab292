package receipt

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ethereum/kzg-ceremony-sequencer/ceremony"
	"github.com/ethereum/kzg-ceremony-sequencer/kzg"
)

func testContribution() (ceremony.Identity, ceremony.Contribution, kzg.Witness) {
	id := ceremony.Identity{UID: "eth|0xabc", Provider: ceremony.ProviderEthereum}
	contrib := ceremony.Contribution{
		Sequence:    7,
		UID:         id.UID,
		CommittedAt: time.Now().Truncate(time.Second),
	}
	witness := kzg.Witness{
		RunningProducts: []kzg.G1Point{"0xaa", "0xbb"},
		PotPubkeys:      []kzg.G2Point{"0xcc", "0xdd"},
	}
	return id, contrib, witness
}

func TestSignVerify_RoundTrip(t *testing.T) {
	signer, err := Generate()
	require.NoError(t, err)

	id, contrib, witness := testContribution()
	token, err := signer.Sign(id, contrib, witness)
	require.NoError(t, err)

	claims, err := signer.Verify(token)
	require.NoError(t, err)
	require.Equal(t, id.UID, claims.UID)
	require.Equal(t, string(ceremony.ProviderEthereum), claims.Provider)
	require.Equal(t, uint64(7), claims.Sequence)
	require.Equal(t, witness, claims.Witness)
	require.Equal(t, contrib.CommittedAt.Unix(), claims.IssuedAt.Unix())
}

func TestVerify_RejectsWrongKey(t *testing.T) {
	signer, err := Generate()
	require.NoError(t, err)
	other, err := Generate()
	require.NoError(t, err)

	id, contrib, witness := testContribution()
	token, err := signer.Sign(id, contrib, witness)
	require.NoError(t, err)

	_, err = other.Verify(token)
	require.Error(t, err)
}

func TestVerify_RejectsTamperedToken(t *testing.T) {
	signer, err := Generate()
	require.NoError(t, err)

	id, contrib, witness := testContribution()
	token, err := signer.Sign(id, contrib, witness)
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	_, err = signer.Verify(tampered)
	require.Error(t, err)
}

func TestLoadSigner_PKCS8(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "receipt.pem")
	raw := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	signer, err := LoadSigner(path)
	require.NoError(t, err)

	id, contrib, witness := testContribution()
	token, err := signer.Sign(id, contrib, witness)
	require.NoError(t, err)
	_, err = signer.Verify(token)
	require.NoError(t, err)
}

func TestLoadSigner_PKCS1(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "receipt.pem")
	raw := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	_, err = LoadSigner(path)
	require.NoError(t, err)
}

func TestLoadSigner_RejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "receipt.pem")
	require.NoError(t, os.WriteFile(path, []byte("not a key"), 0o600))

	_, err := LoadSigner(path)
	require.Error(t, err)
}

func TestPublicKeyPEM(t *testing.T) {
	signer, err := Generate()
	require.NoError(t, err)

	pub, err := signer.PublicKeyPEM()
	require.NoError(t, err)
	require.Contains(t, pub, "BEGIN PUBLIC KEY")
}
