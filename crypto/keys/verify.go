package keys

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// VerifySecp256k1Raw verifies a 64-byte r||s signature against a
// compressed or uncompressed secp256k1 public key, prehashing the
// message with SHA-256 per the curve's algorithm profile.
func VerifySecp256k1Raw(pubKeyBytes, message, signature []byte) error {
	pub, err := secp256k1.ParsePubKey(pubKeyBytes)
	if err != nil {
		return fmt.Errorf("parse secp256k1 public key: %w", err)
	}
	r, s, err := deserializeSignature(signature)
	if err != nil {
		return err
	}
	hash := sha256.Sum256(message)
	if !ecdsa.Verify(pub.ToECDSA(), hash[:], r, s) {
		return fmt.Errorf("secp256k1 signature verification failed")
	}
	return nil
}

// VerifyEd25519Raw verifies a signature against a 32-byte ed25519 public
// key over the raw message bytes, with no prehashing. The point is first
// decoded through edwards25519 to reject keys that are not valid curve
// points before handing the bytes to the stdlib verifier.
func VerifyEd25519Raw(pubKeyBytes, message, signature []byte) error {
	if len(pubKeyBytes) != ed25519.PublicKeySize {
		return fmt.Errorf("invalid ed25519 public key length: %d", len(pubKeyBytes))
	}
	if _, err := new(edwards25519.Point).SetBytes(pubKeyBytes); err != nil {
		return fmt.Errorf("invalid ed25519 public key point: %w", err)
	}
	if !ed25519.Verify(ed25519.PublicKey(pubKeyBytes), message, signature) {
		return fmt.Errorf("ed25519 signature verification failed")
	}
	return nil
}
