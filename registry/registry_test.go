package registry

import (
	"testing"

	"github.com/didirc/icd/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	id         uint64
	nick       string
	did        identity.DID
	disconnect string
	sent       []string
}

func (f *fakeSession) SessionID() uint64        { return f.id }
func (f *fakeSession) Nick() string             { return f.nick }
func (f *fakeSession) DID() identity.DID        { return f.did }
func (f *fakeSession) Disconnect(reason string) { f.disconnect = reason }
func (f *fakeSession) Send(line string)         { f.sent = append(f.sent, line) }
func (f *fakeSession) IsLocal() bool            { return true }
func (f *fakeSession) Capability(string) bool   { return false }
func (f *fakeSession) ATHandle() string         { return "" }

func TestBindNickCaseInsensitive(t *testing.T) {
	r := New()
	s := &fakeSession{id: 1, nick: "Alice"}

	granted, err := r.BindNick(s, "Alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", granted)

	found, ok := r.LookupByNick("ALICE")
	require.True(t, ok)
	assert.Equal(t, s, found)
}

func TestBindNickCollision(t *testing.T) {
	r := New()
	s1 := &fakeSession{id: 1, nick: "bob"}
	s2 := &fakeSession{id: 2, nick: "bob2"}

	_, err := r.BindNick(s1, "bob")
	require.NoError(t, err)

	_, err = r.BindNick(s2, "BOB")
	assert.ErrorIs(t, err, ErrNickInUse)
}

func TestRenameCollision(t *testing.T) {
	r := New()
	s1 := &fakeSession{id: 1, nick: "carol"}
	s2 := &fakeSession{id: 2, nick: "dave"}
	_, _ = r.BindNick(s1, "carol")
	_, _ = r.BindNick(s2, "dave")

	err := r.Rename(s2, "carol")
	assert.ErrorIs(t, err, ErrNickInUse)
}

func TestBindDIDGhostsPriorSession(t *testing.T) {
	r := New()
	s1 := &fakeSession{id: 1, nick: "old", did: "did:plc:same"}
	s2 := &fakeSession{id: 2, nick: "new", did: "did:plc:same"}

	_, _ = r.BindNick(s1, "old")
	r.RegisterConnection(s1)
	r.BindDID(s1, "did:plc:same")

	_, _ = r.BindNick(s2, "new")
	r.RegisterConnection(s2)
	r.BindDID(s2, "did:plc:same")

	assert.Equal(t, "same identity reconnected", s1.disconnect)
	require.Len(t, s1.sent, 1, "a ghosted session must receive a protocol-level ERROR before its socket is closed")
	assert.Equal(t, "ERROR :Closing Link: same identity reconnected", s1.sent[0])

	found, ok := r.LookupByDID("did:plc:same")
	require.True(t, ok)
	assert.Equal(t, s2, found)
}

func TestUnbindRemovesAllTables(t *testing.T) {
	r := New()
	s := &fakeSession{id: 1, nick: "eve", did: "did:plc:eve"}
	r.RegisterConnection(s)
	_, _ = r.BindNick(s, "eve")
	r.BindDID(s, "did:plc:eve")

	r.Unbind(s)

	_, ok := r.LookupByNick("eve")
	assert.False(t, ok)
	_, ok = r.LookupByDID("did:plc:eve")
	assert.False(t, ok)
	assert.Equal(t, 0, r.Count())
}

func TestPurgeOrigin(t *testing.T) {
	r := New()
	local := &fakeSession{id: 1, nick: "local1"}
	remote := &fakeSession{id: 2, nick: "remote1", did: "did:plc:remote"}

	r.RegisterConnection(local)
	_, _ = r.BindNick(local, "local1")
	r.RegisterConnection(remote)
	_, _ = r.BindNick(remote, "remote1")
	r.BindDID(remote, "did:plc:remote")

	r.PurgeOrigin(func(s Session) bool { return s.SessionID() == remote.SessionID() })

	_, ok := r.LookupByNick("remote1")
	assert.False(t, ok)
	_, ok = r.LookupByNick("local1")
	assert.True(t, ok)
}
