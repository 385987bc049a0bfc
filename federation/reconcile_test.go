package federation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/didirc/icd/identity"
	"github.com/didirc/icd/internal/logger"
	"github.com/didirc/icd/ircd"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	srv := ircd.NewServer(ircd.RuntimeConfig{Name: "test.icd"}, nil, time.Minute, logger.GetDefaultLogger())
	return New(Config{ServerID: "a.icd"}, srv, logger.GetDefaultLogger())
}

func TestApplyJoinCreatesRemoteMember(t *testing.T) {
	e := testEngine(t)
	p := &Peer{ID: "b.icd"}

	e.applyJoin(p, JoinEvent{Channel: "#general", Nick: "remoteuser", DID: "did:plc:remote1"})

	ch, ok := e.srv.Channels.Get("#general")
	require.True(t, ok)
	m, ok := ch.Member("remoteuser")
	require.True(t, ok)
	assert.False(t, m.Session.IsLocal())

	s, ok := e.srv.Registry.LookupByNick("remoteuser")
	require.True(t, ok)
	assert.Equal(t, identity.DID("did:plc:remote1"), s.DID())
}

func TestApplyJoinThenPartRemovesMember(t *testing.T) {
	e := testEngine(t)
	p := &Peer{ID: "b.icd"}

	e.applyJoin(p, JoinEvent{Channel: "#general", Nick: "remoteuser", DID: "did:plc:remote1"})
	e.applyPart(p, PartEvent{Channel: "#general", Nick: "remoteuser", Reason: "bye"})

	_, ok := e.srv.Channels.Get("#general")
	assert.False(t, ok, "channel should be destroyed once empty")
}

func TestApplyKickRefusesLocalVictim(t *testing.T) {
	e := testEngine(t)
	p := &Peer{ID: "b.icd"}

	ch, _ := e.srv.Channels.GetOrCreate("#general")
	op := &fakeLocalSession{id: 1, nick: "localop", did: "did:plc:localop"}
	ch.AddMember(op, true) // founder: auto-op, so the op check passes
	local := &fakeLocalSession{id: 99, nick: "localuser"}
	ch.AddMember(local, false)

	e.applyKick(p, KickEvent{Channel: "#general", Nick: "localuser", By: "did:plc:localop", Reason: "spam"})

	_, ok := ch.Member("localuser")
	assert.True(t, ok, "a remote KICK must never remove a locally-connected member")
}

func TestApplyKickRefusesUnauthorizedSetter(t *testing.T) {
	e := testEngine(t)
	p := &Peer{ID: "b.icd"}

	e.applyJoin(p, JoinEvent{Channel: "#general", Nick: "remoteuser", DID: "did:plc:remote1"})

	e.applyKick(p, KickEvent{Channel: "#general", Nick: "remoteuser", By: "did:plc:not-an-op", Reason: "spam"})

	ch, ok := e.srv.Channels.Get("#general")
	require.True(t, ok)
	_, ok = ch.Member("remoteuser")
	assert.True(t, ok, "a KICK claiming an identity with no locally-known op status must be logged and dropped")
}

func TestApplyKickAppliesWhenSetterIsLocallyKnownOp(t *testing.T) {
	e := testEngine(t)
	p := &Peer{ID: "b.icd"}

	ch, _ := e.srv.Channels.GetOrCreate("#general")
	op := &fakeLocalSession{id: 1, nick: "localop", did: "did:plc:localop"}
	ch.AddMember(op, true) // founder: auto-op

	e.applyJoin(p, JoinEvent{Channel: "#general", Nick: "remoteuser", DID: "did:plc:remote1"})

	e.applyKick(p, KickEvent{Channel: "#general", Nick: "remoteuser", By: "did:plc:localop", Reason: "spam"})

	_, ok := ch.Member("remoteuser")
	assert.False(t, ok, "a KICK from a locally-confirmed op must remove a remote victim")
}

func TestApplyModeWeakenGuardBlocksChannelWeakening(t *testing.T) {
	e := testEngine(t)
	p := &Peer{ID: "b.icd"}

	ch, _ := e.srv.Channels.GetOrCreate("#general")
	op := &fakeLocalSession{id: 1, nick: "localop", did: "did:plc:localop"}
	ch.AddMember(op, true) // founder: auto-op
	require.True(t, ch.Modes().NoExternal)

	e.applyMode(p, ModeEvent{Channel: "#general", Modes: "-n", SetterDID: "did:plc:localop"})

	assert.True(t, ch.Modes().NoExternal, "remote MODE must not weaken local +n even from a confirmed op")
}

func TestApplyModeRefusesUnauthorizedSetter(t *testing.T) {
	e := testEngine(t)
	p := &Peer{ID: "b.icd"}

	ch, _ := e.srv.Channels.GetOrCreate("#general")
	e.applyJoin(p, JoinEvent{Channel: "#general", Nick: "remoteuser", DID: "did:plc:remote1"})

	e.applyMode(p, ModeEvent{Channel: "#general", Modes: "+v", Args: []string{"remoteuser"}, SetterDID: "did:plc:not-an-op"})

	m, ok := ch.Member("remoteuser")
	require.True(t, ok)
	assert.Equal(t, ircd.ModeNone, m.Modes, "a MODE claiming an identity with no locally-known op status must be logged and dropped")
}

func TestApplyModeAppliesWhenSetterIsLocallyKnownOp(t *testing.T) {
	e := testEngine(t)
	p := &Peer{ID: "b.icd"}

	ch, _ := e.srv.Channels.GetOrCreate("#general")
	op := &fakeLocalSession{id: 1, nick: "localop", did: "did:plc:localop"}
	ch.AddMember(op, true) // founder: auto-op
	e.applyJoin(p, JoinEvent{Channel: "#general", Nick: "remoteuser", DID: "did:plc:remote1"})

	e.applyMode(p, ModeEvent{Channel: "#general", Modes: "+v", Args: []string{"remoteuser"}, SetterDID: "did:plc:localop"})

	m, ok := ch.Member("remoteuser")
	require.True(t, ok)
	assert.NotZero(t, m.Modes&ircd.ModeVoice, "a MODE from a locally-confirmed op must apply to a remote target")
}

func TestApplyTopicAdoptsOnlyWhenLocalEmpty(t *testing.T) {
	e := testEngine(t)
	p := &Peer{ID: "b.icd"}

	ch, _ := e.srv.Channels.GetOrCreate("#general")
	e.applyTopic(p, TopicEvent{Channel: "#general", Text: "remote topic", SetBy: "remoteuser"})
	text, _, _, _ := ch.GetTopic()
	assert.Equal(t, "remote topic", text)

	e.applyTopic(p, TopicEvent{Channel: "#general", Text: "overwrite attempt", SetBy: "remoteuser2"})
	text, _, _, _ = ch.GetTopic()
	assert.Equal(t, "remote topic", text, "a non-empty local topic is never overwritten by a remote TopicEvent")
}

func TestBuildSyncSnapshotOnlyAdvertisesLocalChannels(t *testing.T) {
	e := testEngine(t)
	p := &Peer{ID: "b.icd"}

	// Remote-only channel: must not be re-advertised.
	e.applyJoin(p, JoinEvent{Channel: "#remoteonly", Nick: "remoteuser", DID: "did:plc:r1"})

	// Local channel: must be advertised.
	ch, _ := e.srv.Channels.GetOrCreate("#localchan")
	ch.AddMember(&fakeLocalSession{id: 1, nick: "localuser"}, true)

	resp := e.buildSyncSnapshot()
	names := make(map[string]bool)
	for _, cs := range resp.Channels {
		names[cs.Name] = true
	}
	assert.True(t, names["#localchan"])
	assert.False(t, names["#remoteonly"])
}

func TestPurgePeerRemovesOnlyThatPeersState(t *testing.T) {
	e := testEngine(t)
	pb := &Peer{ID: "b.icd"}
	pc := &Peer{ID: "c.icd"}

	e.applyJoin(pb, JoinEvent{Channel: "#general", Nick: "frombpeer", DID: "did:plc:b1"})
	e.applyJoin(pc, JoinEvent{Channel: "#general", Nick: "fromcpeer", DID: "did:plc:c1"})

	e.purgePeer("b.icd")

	ch, ok := e.srv.Channels.Get("#general")
	require.True(t, ok)
	_, ok = ch.Member("frombpeer")
	assert.False(t, ok)
	_, ok = ch.Member("fromcpeer")
	assert.True(t, ok)
}

// fakeLocalSession is a minimal ircd.Session for tests that need a
// local (non-remote) member without spinning up a real Conn.
type fakeLocalSession struct {
	id   uint64
	nick string
	did  identity.DID
}

func (f *fakeLocalSession) SessionID() uint64      { return f.id }
func (f *fakeLocalSession) Nick() string           { return f.nick }
func (f *fakeLocalSession) DID() identity.DID      { return f.did }
func (f *fakeLocalSession) Disconnect(string)      {}
func (f *fakeLocalSession) Send(string)            {}
func (f *fakeLocalSession) IsLocal() bool          { return true }
func (f *fakeLocalSession) Capability(string) bool { return false }
func (f *fakeLocalSession) ATHandle() string       { return "" }
