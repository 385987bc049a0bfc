package identity

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyEd25519(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	challenge := []byte("challenge-bytes-from-server")
	sig := ed25519.Sign(priv, challenge)

	doc := &Document{
		DID: "did:plc:testsubject",
		AuthenticationKeys: []VerificationKey{
			{ID: "did:plc:testsubject#atproto", Type: KeyTypeEd25519, KeyBytes: pub},
		},
	}

	result, err := Verify(doc, challenge, sig)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, KeyTypeEd25519, result.KeyTypeUsed)
}

func TestVerifyRejectsBadSignature(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	doc := &Document{
		AuthenticationKeys: []VerificationKey{
			{ID: "k1", Type: KeyTypeEd25519, KeyBytes: pub},
		},
	}

	_, err = Verify(doc, []byte("challenge"), []byte("not-a-real-signature-00000000000000000000000000000000000000000000"))
	assert.ErrorIs(t, err, ErrNotAccepted)
}

func TestVerifyFallsBackToAssertionMethod(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	challenge := []byte("another-challenge")
	sig := ed25519.Sign(priv, challenge)

	doc := &Document{
		AssertionKeys: []VerificationKey{
			{ID: "k1", Type: KeyTypeEd25519, KeyBytes: pub},
		},
	}

	result, err := Verify(doc, challenge, sig)
	require.NoError(t, err)
	assert.True(t, result.Valid)
}

func TestVerifyNoAcceptableKeys(t *testing.T) {
	doc := &Document{}
	_, err := Verify(doc, []byte("x"), []byte("y"))
	assert.ErrorIs(t, err, ErrNotAccepted)
}
