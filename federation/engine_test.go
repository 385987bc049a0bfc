package federation

import (
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEngineWithSigningKey(t *testing.T) (*Engine, ed25519.PublicKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	e := testEngine(t)
	e.cfg.ServerID = "a.icd"
	e.cfg.SigningKey = priv
	e.cfg.PeerPublicKeys = map[string]ed25519.PublicKey{"b.icd": pub}
	return e, pub
}

// TestVerifyHelloAcceptsValidSignature covers spec.md §4.8's Hello
// handshake: a correctly signed, allowlisted, fresh Hello is accepted.
func TestVerifyHelloAcceptsValidSignature(t *testing.T) {
	e, _ := testEngineWithSigningKey(t)

	now := time.Now().UTC()
	signed := []byte("b.icd|" + now.Format(time.RFC3339Nano))
	sig := ed25519.Sign(e.cfg.SigningKey, signed)

	h := HelloFrame{PeerID: "b.icd", Timestamp: now, Signature: sig}
	assert.NoError(t, e.verifyHello(h, "b.icd"))
}

func TestVerifyHelloRejectsPeerIDMismatch(t *testing.T) {
	e, _ := testEngineWithSigningKey(t)
	h := HelloFrame{PeerID: "c.icd", Timestamp: time.Now().UTC()}
	assert.Error(t, e.verifyHello(h, "b.icd"))
}

func TestVerifyHelloRejectsUnallowlistedPeer(t *testing.T) {
	e, _ := testEngineWithSigningKey(t)
	h := HelloFrame{PeerID: "stranger.icd", Timestamp: time.Now().UTC()}
	assert.Error(t, e.verifyHello(h, "stranger.icd"))
}

func TestVerifyHelloRejectsBadSignature(t *testing.T) {
	e, _ := testEngineWithSigningKey(t)
	now := time.Now().UTC()

	_, otherPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	badSig := ed25519.Sign(otherPriv, []byte("b.icd|"+now.Format(time.RFC3339Nano)))

	h := HelloFrame{PeerID: "b.icd", Timestamp: now, Signature: badSig}
	assert.Error(t, e.verifyHello(h, "b.icd"))
}

// TestVerifyHelloRejectsStaleTimestamp guards against replaying an old
// Hello, since verifyHello bounds staleness at 3x handshakeTimeout.
func TestVerifyHelloRejectsStaleTimestamp(t *testing.T) {
	e, _ := testEngineWithSigningKey(t)
	stale := time.Now().UTC().Add(-handshakeTimeout * 10)
	sig := ed25519.Sign(e.cfg.SigningKey, []byte("b.icd|"+stale.Format(time.RFC3339Nano)))

	h := HelloFrame{PeerID: "b.icd", Timestamp: stale, Signature: sig}
	assert.Error(t, e.verifyHello(h, "b.icd"))
}

func TestRegisterUnregisterPeerTracksCount(t *testing.T) {
	e := testEngine(t)
	p := &Peer{ID: "b.icd"}

	e.registerPeer(p)
	assert.Equal(t, 1, e.PeerCount())

	e.unregisterPeer(p)
	assert.Equal(t, 0, e.PeerCount())
}

// TestUnregisterPeerPurgesRemoteMembers covers the link-down case:
// losing a peer must also drop every remote member it had introduced
// (spec.md §4.8 link-down reconciliation).
func TestUnregisterPeerPurgesRemoteMembers(t *testing.T) {
	e := testEngine(t)
	p := &Peer{ID: "b.icd"}

	e.applyJoin(p, JoinEvent{Channel: "#general", Nick: "remoteuser", DID: "did:plc:remote1"})
	_, ok := e.srv.Registry.LookupByNick("remoteuser")
	require.True(t, ok)

	e.registerPeer(p)
	e.unregisterPeer(p)

	_, ok = e.srv.Registry.LookupByNick("remoteuser")
	assert.False(t, ok)
}
