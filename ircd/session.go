package ircd

import (
	"github.com/didirc/icd/identity"
)

// State is the connection registration state (spec.md §4.4).
type State int

const (
	StateUnregistered State = iota
	StateCapNegotiating
	StateSaslPending
	StateRegistered
	StateQuitting
)

// Session is the connection-actor contract the channel engine, router,
// and registry depend on. ircd.Conn is the concrete implementation; a
// federation.RemoteSession stub satisfies it for remote members recorded
// in a Channel's membership table.
type Session interface {
	SessionID() uint64
	Nick() string
	DID() identity.DID
	Disconnect(reason string)

	// Send enqueues a fully-serialized line for delivery; it never
	// blocks the caller on socket I/O (spec.md §5 suspension-point
	// discipline — only the session's own writer task touches the wire).
	Send(line string)

	// IsLocal distinguishes a same-process connection from a
	// federation.RemoteSession placeholder recorded for bookkeeping.
	IsLocal() bool

	// Capability reports whether an IRCv3 capability was ACKed.
	Capability(name string) bool

	// ATHandle returns the AT Protocol handle resolved for this session's
	// DID during SASL (spec.md §6 WHOIS 671), or "" if none was resolved
	// (guest session, or a federation.RemoteSession — handles are not
	// currently propagated S2S, only DIDs).
	ATHandle() string
}
