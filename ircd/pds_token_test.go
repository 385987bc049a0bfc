package ircd

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte("irrelevant-the-core-never-verifies-this"))
	require.NoError(t, err)
	return signed
}

func TestParsePDSTokenExtractsClaims(t *testing.T) {
	tok := signedToken(t, jwt.MapClaims{
		"sub":     "did:plc:abc123",
		"pds_url": "https://pds.example.com",
	})

	got, err := ParsePDSToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "did:plc:abc123", got.Subject)
	assert.Equal(t, "https://pds.example.com", got.PDSURL)
}

func TestParsePDSTokenMissingPDSURL(t *testing.T) {
	tok := signedToken(t, jwt.MapClaims{"sub": "did:plc:abc123"})

	_, err := ParsePDSToken(tok)
	assert.ErrorIs(t, err, ErrMissingPDSURL)
}

func TestParsePDSTokenMissingSub(t *testing.T) {
	tok := signedToken(t, jwt.MapClaims{"pds_url": "https://pds.example.com"})

	_, err := ParsePDSToken(tok)
	assert.ErrorIs(t, err, ErrMissingSub)
}

func TestParsePDSTokenMalformed(t *testing.T) {
	_, err := ParsePDSToken("not-a-jwt")
	assert.Error(t, err)
}
