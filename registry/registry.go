// Package registry owns the process-wide nick and DID lookup tables.
// Mutation uses a single exclusion region for nick/DID binding
// transitions; reads may proceed concurrently via the RWMutex.
package registry

import (
	"fmt"
	"strings"
	"sync"

	"github.com/didirc/icd/identity"
	"github.com/didirc/icd/internal/metrics"
)

// Session is the subset of connection-actor state the registry needs to
// track. The real connection actor (ircd.Conn) implements this; its
// method set is ircd.Session's minus ATHandle, so a lookup result can be used
// directly by router/command code without an extra adapter type.
type Session interface {
	SessionID() uint64
	Nick() string
	DID() identity.DID
	Disconnect(reason string)
	Send(line string)
	IsLocal() bool
	Capability(name string) bool
}

// ErrNickInUse is returned by BindNick/Rename on collision.
var ErrNickInUse = fmt.Errorf("nick in use")

// Registry is the process-wide session table: nick -> session and
// DID -> session, both case-insensitive on the nick axis.
type Registry struct {
	mu        sync.RWMutex
	byNick    map[string]Session // canonical (lowercase) nick -> session
	byDID     map[identity.DID]Session
	sessions  map[uint64]Session
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		byNick:   make(map[string]Session),
		byDID:    make(map[identity.DID]Session),
		sessions: make(map[uint64]Session),
	}
}

// CanonicalNick lowercases a nick for use as a table key. IRC
// case-folding of {}|^ is intentionally not applied; this server treats
// nicks as plain lowercase-ASCII keys, matching the spec's stated
// case-insensitive invariant without the legacy RFC 1459 casemap.
func CanonicalNick(nick string) string {
	return strings.ToLower(nick)
}

// BindNick grants session ownership of a nick, or reports a collision.
// On collision the caller may retry with a suggested alternative
// (conventionally nick+"_").
func (r *Registry) BindNick(s Session, desired string) (granted string, err error) {
	key := CanonicalNick(desired)

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byNick[key]; ok && existing.SessionID() != s.SessionID() {
		return "", ErrNickInUse
	}

	r.byNick[key] = s
	r.sessions[s.SessionID()] = s
	return desired, nil
}

// LookupByNick returns the session currently holding nick, case-insensitively.
func (r *Registry) LookupByNick(nick string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byNick[CanonicalNick(nick)]
	return s, ok
}

// LookupByDID returns the session bound to did, if any.
func (r *Registry) LookupByDID(did identity.DID) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byDID[did]
	return s, ok
}

// Rename moves a session's nick binding, or reports a collision with
// another session already holding newNick.
func (r *Registry) Rename(s Session, newNick string) error {
	key := CanonicalNick(newNick)
	oldKey := CanonicalNick(s.Nick())

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byNick[key]; ok && existing.SessionID() != s.SessionID() {
		return ErrNickInUse
	}

	delete(r.byNick, oldKey)
	r.byNick[key] = s
	return nil
}

// Unbind removes a session entirely: its nick, DID binding, and session
// table entry. Call on disconnect.
func (r *Registry) Unbind(s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unbindLocked(s)
}

func (r *Registry) unbindLocked(s Session) {
	key := CanonicalNick(s.Nick())
	if existing, ok := r.byNick[key]; ok && existing.SessionID() == s.SessionID() {
		delete(r.byNick, key)
	}
	if did := s.DID(); did != "" {
		if existing, ok := r.byDID[did]; ok && existing.SessionID() == s.SessionID() {
			delete(r.byDID, did)
		}
	}
	delete(r.sessions, s.SessionID())
	metrics.ConnectionsActive.Set(float64(len(r.sessions)))
}

// ghostReason is the disconnect reason spec.md §4.5 step 4d requires
// when a new session claims a DID another session already holds, so
// the ghosted client can recognize it and suppress auto-reconnect.
const ghostReason = "same identity reconnected"

// BindDID binds a DID to a session, enforcing I5 (DID uniqueness): if
// another session already holds this DID, that session is ghosted
// (sent a protocol-level ERROR naming the reason, then disconnected)
// and its binding is removed before the new one is recorded.
func (r *Registry) BindDID(s Session, did identity.DID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byDID[did]; ok && existing.SessionID() != s.SessionID() {
		existing.Send("ERROR :Closing Link: " + ghostReason)
		existing.Disconnect(ghostReason)
		r.unbindLocked(existing)
	}

	r.byDID[did] = s
}

// RegisterConnection adds a freshly-accepted session to the session
// table before any nick is bound, so lookups by session id work
// immediately.
func (r *Registry) RegisterConnection(s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.SessionID()] = s
	metrics.ConnectionsAccepted.Inc()
	metrics.ConnectionsActive.Set(float64(len(r.sessions)))
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// PurgeOrigin removes every session for which belongsToOrigin reports
// true. Used on federation peer disconnect (P5): every remote member
// and DID binding originating from that peer is purged.
func (r *Registry) PurgeOrigin(belongsToOrigin func(Session) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var toPurge []Session
	for _, s := range r.sessions {
		if belongsToOrigin(s) {
			toPurge = append(toPurge, s)
		}
	}
	for _, s := range toPurge {
		r.unbindLocked(s)
	}
}
