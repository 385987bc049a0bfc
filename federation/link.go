package federation

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/cloudflare/circl/dh/x25519"
	"golang.org/x/crypto/hkdf"
)

const linkMACKeyLen = 32

// generateLinkKeyPair creates an ephemeral X25519 key pair used once per
// Hello exchange to derive that link's MAC key. Never reused across
// links or reconnects — each handshake gets a fresh pair.
func generateLinkKeyPair() (pub, priv x25519.Key, err error) {
	if _, err = io.ReadFull(rand.Reader, priv[:]); err != nil {
		return pub, priv, fmt.Errorf("federation: generate link key: %w", err)
	}
	x25519.KeyGen(&pub, &priv)
	return pub, priv, nil
}

// deriveLinkMACKey computes the shared X25519 secret with the peer's
// ephemeral public key and stretches it into a link-MAC key via HKDF.
// Adapted from the teacher's session-seed HKDF pattern, purposed here
// for link authentication rather than message-content encryption (the
// E2EE non-goal is untouched — this secures the S2S transport itself).
func deriveLinkMACKey(priv x25519.Key, peerPub []byte, localPeerID, remotePeerID string) ([]byte, error) {
	var peerKey x25519.Key
	copy(peerKey[:], peerPub)

	var shared x25519.Key
	if !x25519.Shared(&shared, &priv, &peerKey) {
		return nil, fmt.Errorf("federation: X25519 shared secret computation failed")
	}

	info := []byte("icd-federation-link-mac:" + localPeerID + ":" + remotePeerID)
	h := hkdf.New(sha256.New, shared[:], nil, info)
	key := make([]byte, linkMACKeyLen)
	if _, err := io.ReadFull(h, key); err != nil {
		return nil, fmt.Errorf("federation: HKDF expand: %w", err)
	}
	return key, nil
}

// macFrame computes an HMAC-SHA256 tag over body under the link key,
// used to authenticate frames once a link's MAC key is established.
func macFrame(key, body []byte) []byte {
	m := hmac.New(sha256.New, key)
	m.Write(body)
	return m.Sum(nil)
}

// verifyFrameMAC reports whether tag is the valid MAC of body under key.
func verifyFrameMAC(key, body, tag []byte) bool {
	return hmac.Equal(tag, macFrame(key, body))
}
