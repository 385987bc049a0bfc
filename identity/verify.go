package identity

import (
	"fmt"

	"github.com/didirc/icd/crypto/keys"
)

// Verify checks signatureBytes over challengeBytes against every key the
// document accepts for authentication, returning the first successful
// match. challengeBytes and signatureBytes are the already
// base64url-decoded raw bytes; decoding the wire encoding is the
// caller's job (see ircd/sasl.go).
func Verify(doc *Document, challengeBytes, signatureBytes []byte) (*VerificationResult, error) {
	acceptable := doc.AcceptableKeys()
	if len(acceptable) == 0 {
		return nil, fmt.Errorf("%w: document has no authentication or assertionMethod keys", ErrNotAccepted)
	}

	for _, key := range acceptable {
		var err error
		switch key.Type {
		case KeyTypeSecp256k1:
			err = keys.VerifySecp256k1Raw(key.KeyBytes, challengeBytes, signatureBytes)
		case KeyTypeEd25519:
			err = keys.VerifyEd25519Raw(key.KeyBytes, challengeBytes, signatureBytes)
		default:
			continue
		}
		if err == nil {
			return &VerificationResult{Valid: true, KeyTypeUsed: key.Type, KeyID: key.ID, AlsoKnownAs: doc.AlsoKnownAs}, nil
		}
	}

	return nil, ErrNotAccepted
}
