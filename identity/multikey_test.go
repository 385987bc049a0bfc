package identity

import (
	"crypto/ed25519"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeMultikeyEd25519(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	prefixed := append([]byte{codecEd25519, 0x01}, pub...)
	multibase := "z" + base58.Encode(prefixed)

	keyType, keyBytes, err := decodeMultikey("Multikey", multibase)
	require.NoError(t, err)
	assert.Equal(t, KeyTypeEd25519, keyType)
	assert.Equal(t, []byte(pub), keyBytes)
}

func TestDecodeMultikeyRejectsUnknownPrefix(t *testing.T) {
	_, _, err := decodeMultikey("Multikey", "z"+base58.Encode([]byte{0xAA, 0x01, 0x02}))
	assert.ErrorIs(t, err, ErrUnknownKeyType)
}

func TestDecodeMultikeyEmptyInput(t *testing.T) {
	_, _, err := decodeMultikey("Multikey", "")
	assert.ErrorIs(t, err, ErrMalformed)
}
