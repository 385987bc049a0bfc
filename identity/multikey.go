package identity

import (
	"encoding/base32"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

// multicodec prefixes for the two supported curves, per the
// multikey/did:key convention AT-Proto documents use.
const (
	codecSecp256k1 = 0xe7
	codecEd25519   = 0xed
)

// decodeMultikey decodes a publicKeyMultibase value (base58btc- or
// base32-encoded multicodec-prefixed key) into a KeyType and raw bytes.
// AT-Proto verification methods use type "Multikey" or the legacy
// "EcdsaSecp256k1VerificationKey2019" / "Ed25519VerificationKey2020"
// forms; both are accepted.
func decodeMultikey(vmType, multibase string) (KeyType, []byte, error) {
	if multibase == "" {
		return "", nil, fmt.Errorf("%w: empty publicKeyMultibase", ErrMalformed)
	}

	raw, err := decodeMultibase(multibase)
	if err != nil {
		return "", nil, err
	}

	if len(raw) < 3 {
		return "", nil, fmt.Errorf("%w: multikey too short", ErrMalformed)
	}

	// Multicodec codes for these curves (0xe7, 0xed) are above 0x7f, so
	// as unsigned varints they take two bytes (0xe7 0x01, 0xed 0x01) and
	// the key payload starts two bytes in.
	switch {
	case raw[0] == codecSecp256k1 && raw[1] == 0x01:
		return KeyTypeSecp256k1, raw[2:], nil
	case raw[0] == codecEd25519 && raw[1] == 0x01:
		return KeyTypeEd25519, raw[2:], nil
	}

	// Legacy verification method types carry raw key bytes with no
	// multicodec prefix at all.
	switch vmType {
	case "EcdsaSecp256k1VerificationKey2019":
		return KeyTypeSecp256k1, raw, nil
	case "Ed25519VerificationKey2020", "Ed25519VerificationKey2018":
		return KeyTypeEd25519, raw, nil
	}

	return "", nil, fmt.Errorf("%w: unrecognized multicodec prefix 0x%x", ErrUnknownKeyType, raw[0])
}

// decodeMultibase decodes the subset of multibase prefixes DID documents
// in practice use: 'z' (base58btc) and 'b'/'B' (base32).
func decodeMultibase(s string) ([]byte, error) {
	if len(s) < 2 {
		return nil, fmt.Errorf("%w: multibase value too short", ErrMalformed)
	}

	prefix, body := s[0], s[1:]
	switch prefix {
	case 'z':
		return base58Decode(body)
	case 'b':
		return base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.ToUpper(body))
	case 'B':
		return base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(body)
	default:
		return nil, fmt.Errorf("%w: unsupported multibase prefix %q", ErrMalformed, string(prefix))
	}
}

// base58Decode decodes base58btc, the encoding did:key/Multikey
// publicKeyMultibase values use under the 'z' prefix.
func base58Decode(s string) ([]byte, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return raw, nil
}
