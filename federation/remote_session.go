package federation

import (
	"sync/atomic"

	"github.com/didirc/icd/identity"
	"github.com/didirc/icd/ircd"
	"github.com/didirc/icd/registry"
)

var remoteSessionIDs atomic.Uint64

var (
	_ ircd.Session       = (*RemoteSession)(nil)
	_ ircd.RemoteOrigin  = (*RemoteSession)(nil)
	_ registry.Session   = (*RemoteSession)(nil)
)

// RemoteSession is the bookkeeping placeholder recorded in registry and
// channel membership for a nick owned by a remote peer. It satisfies
// both ircd.Session (so router/channel code can treat it like any other
// member) and ircd.RemoteOrigin (so the router and purgePeer can find
// which peer owns it), without this package's ircd.Session-shaped
// methods ever touching a real socket.
type RemoteSession struct {
	id     uint64
	nick   string
	did    identity.DID
	peerID string
	caps   map[string]bool
}

// newRemoteSession records a remote member. caps is left unset and
// Capability reports false for every name, since a remote peer's own
// capability negotiation with its clients is opaque to us; message-tags/echo-message decisions for a remote nick are made
// by the peer that owns the real connection, not by us.
func newRemoteSession(nick string, did identity.DID, peerID string) *RemoteSession {
	return &RemoteSession{
		id:     remoteSessionIDs.Add(1),
		nick:   nick,
		did:    did,
		peerID: peerID,
	}
}

func (r *RemoteSession) SessionID() uint64     { return r.id }
func (r *RemoteSession) Nick() string          { return r.nick }
func (r *RemoteSession) DID() identity.DID     { return r.did }
func (r *RemoteSession) IsLocal() bool         { return false }
func (r *RemoteSession) PeerID() string        { return r.peerID }
func (r *RemoteSession) Capability(string) bool { return false }

// ATHandle is always "": AT handles resolved during SASL are not
// currently propagated S2S, only the DID itself (JoinEvent and
// MemberSnapshot carry DIDs, not alsoKnownAs).
func (r *RemoteSession) ATHandle() string { return "" }

// Disconnect is a no-op: a RemoteSession has no real socket to close.
// The owning peer's QuitEvent is what actually tears this down via
// Engine.applyQuit.
func (r *RemoteSession) Disconnect(string) {}

// Send is a deliberate no-op. Delivering a message to a remote member's
// real client is the owning peer's job once it receives the
// MessageEvent this server already propagated via PropagateMessage/
// RelayDirect; fanning out through Send here as well would double-
// deliver the same message on the remote side.
func (r *RemoteSession) Send(string) {}

func (r *RemoteSession) setNick(n string) { r.nick = n }
