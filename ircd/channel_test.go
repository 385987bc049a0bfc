package ircd

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/didirc/icd/identity"
)

type fakeChanSession struct {
	id   uint64
	nick string
	did  identity.DID
}

func (f *fakeChanSession) SessionID() uint64        { return f.id }
func (f *fakeChanSession) Nick() string             { return f.nick }
func (f *fakeChanSession) DID() identity.DID        { return f.did }
func (f *fakeChanSession) Disconnect(reason string) {}
func (f *fakeChanSession) Send(string)              {}
func (f *fakeChanSession) IsLocal() bool            { return true }
func (f *fakeChanSession) Capability(string) bool   { return false }
func (f *fakeChanSession) ATHandle() string         { return "" }

type denyPolicy struct{ reason string }

func (p *denyPolicy) AllowJoin(ctx context.Context, did, channel string) (bool, string) {
	return false, p.reason
}

type allowPolicy struct{}

func (allowPolicy) AllowJoin(ctx context.Context, did, channel string) (bool, string) {
	return true, ""
}

func TestNewChannelDefaultsToPlusNT(t *testing.T) {
	ch := NewChannel("#general")
	modes := ch.Modes()
	assert.True(t, modes.NoExternal)
	assert.True(t, modes.TopicLocked)
	assert.Equal(t, "#general", ch.Name)
}

// TestAddMemberFounderAutoOp covers spec.md §4.6: the join that creates
// the channel grants the joiner +o.
func TestAddMemberFounderAutoOp(t *testing.T) {
	ch := NewChannel("#founders")
	s := &fakeChanSession{id: 1, nick: "alice"}

	m := ch.AddMember(s, true)
	assert.True(t, m.Modes&ModeOp != 0)
	assert.True(t, ch.IsOp("alice"))

	other := &fakeChanSession{id: 2, nick: "bob"}
	ch.AddMember(other, false)
	assert.False(t, ch.IsOp("bob"))
}

func TestCheckJoinRejectsInviteOnlyWithoutInvite(t *testing.T) {
	ch := NewChannel("#private")
	ch.ApplyChannelMode('i', true, "")

	err := ch.CheckJoin(context.Background(), "alice", "alice!u@h", "", nil, "did:plc:alice")
	assert.ErrorIs(t, err, ErrInviteOnly)

	ch.Invite("alice")
	err = ch.CheckJoin(context.Background(), "alice", "alice!u@h", "", nil, "did:plc:alice")
	assert.NoError(t, err)
}

func TestCheckJoinRejectsBannedMask(t *testing.T) {
	ch := NewChannel("#banned")
	ch.Ban("evil!u@h")

	err := ch.CheckJoin(context.Background(), "evil", "evil!u@h", "", nil, "did:plc:evil")
	assert.ErrorIs(t, err, ErrBanned)
}

func TestCheckJoinExceptOverridesBan(t *testing.T) {
	ch := NewChannel("#banned")
	ch.Ban("u@h")
	ch.Except("good!u@h")

	err := ch.CheckJoin(context.Background(), "good", "good!u@h", "", nil, "did:plc:good")
	assert.NoError(t, err)
}

func TestCheckJoinRejectsWrongKey(t *testing.T) {
	ch := NewChannel("#keyed")
	ch.ApplyChannelMode('k', true, "hunter2")

	err := ch.CheckJoin(context.Background(), "alice", "alice!u@h", "wrong", nil, "did:plc:alice")
	assert.ErrorIs(t, err, ErrBadKey)

	err = ch.CheckJoin(context.Background(), "alice", "alice!u@h", "hunter2", nil, "did:plc:alice")
	assert.NoError(t, err)
}

func TestCheckJoinRejectsAtLimit(t *testing.T) {
	ch := NewChannel("#full")
	ch.ApplyChannelMode('l', true, "1")
	ch.AddMember(&fakeChanSession{id: 1, nick: "first"}, true)

	err := ch.CheckJoin(context.Background(), "second", "second!u@h", "", nil, "did:plc:second")
	assert.ErrorIs(t, err, ErrChannelFull)
}

func TestCheckJoinConsultsPolicy(t *testing.T) {
	ch := NewChannel("#gated")

	err := ch.CheckJoin(context.Background(), "alice", "alice!u@h", "", &denyPolicy{reason: "not allowed"}, "did:plc:alice")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPolicyDenied)
	assert.Equal(t, "not allowed", err.Error())

	err = ch.CheckJoin(context.Background(), "alice", "alice!u@h", "", allowPolicy{}, "did:plc:alice")
	assert.NoError(t, err)
}

// TestSetModeIdempotent covers spec.md §8: re-applying +o is a no-op,
// and clearing -o on a member who never held it is also a no-op.
func TestSetModeIdempotent(t *testing.T) {
	ch := NewChannel("#idem")
	ch.AddMember(&fakeChanSession{id: 1, nick: "alice"}, false)
	ch.AddMember(&fakeChanSession{id: 2, nick: "bob"}, false)

	ch.SetMode("alice", ModeOp, true)
	assert.True(t, ch.IsOp("alice"))
	ch.SetMode("alice", ModeOp, true)
	assert.True(t, ch.IsOp("alice"))

	ch.SetMode("bob", ModeOp, false)
	assert.False(t, ch.IsOp("bob"))
}

func TestNamesListPrefixOrdering(t *testing.T) {
	ch := NewChannel("#names")
	ch.AddMember(&fakeChanSession{id: 1, nick: "op"}, true)
	ch.AddMember(&fakeChanSession{id: 2, nick: "voiced"}, false)
	ch.SetMode("voiced", ModeVoice, true)
	ch.AddMember(&fakeChanSession{id: 3, nick: "plain"}, false)

	names := ch.NamesList(false)
	assert.Contains(t, names, "@op")
	assert.Contains(t, names, "+voiced")
	assert.Contains(t, names, "plain")
}

func TestNamesListMultiPrefix(t *testing.T) {
	ch := NewChannel("#names")
	ch.AddMember(&fakeChanSession{id: 1, nick: "top"}, true)
	ch.SetMode("top", ModeHalfOp, true)
	ch.SetMode("top", ModeVoice, true)

	names := ch.NamesList(true)
	require.Len(t, names, 1)
	assert.Equal(t, "@%+top", names[0])
}

// TestWeakenGuardProtectsSyncResponse covers spec.md §4.8: a
// SyncResponse must never be allowed to relax +n/+i/+t/+m locally.
func TestWeakenGuardProtectsSyncResponse(t *testing.T) {
	ch := NewChannel("#guard")
	assert.True(t, ch.WeakenGuard('n', false))
	assert.True(t, ch.WeakenGuard('i', false))
	assert.True(t, ch.WeakenGuard('t', false))
	assert.True(t, ch.WeakenGuard('m', false))
	assert.False(t, ch.WeakenGuard('n', true))
	assert.False(t, ch.WeakenGuard('s', false))
	assert.False(t, ch.WeakenGuard('k', false))
}

func TestSetTopicIfEmptyOnlyAdoptsWhenUnset(t *testing.T) {
	ch := NewChannel("#topic")

	ch.SetTopicIfEmpty("remote topic", "remote!u@h", time.Now().UTC())
	text, setBy, _, ok := ch.GetTopic()
	require.True(t, ok)
	assert.Equal(t, "remote topic", text)
	assert.Equal(t, "remote!u@h", setBy)

	ch.SetTopicIfEmpty("should not stick", "other", time.Now().UTC())
	text, _, _, _ = ch.GetTopic()
	assert.Equal(t, "remote topic", text)

	ch.SetTopic("locally set", "alice")
	text, setBy, _, _ = ch.GetTopic()
	assert.Equal(t, "locally set", text)
	assert.Equal(t, "alice", setBy)
}

// TestDestroyIfEmpty covers P3: a channel is removed from the table
// once its last member leaves, and recreated fresh on the next join.
func TestDestroyIfEmpty(t *testing.T) {
	table := NewChannelTable()
	ch, created := table.GetOrCreate("#temp")
	require.True(t, created)
	ch.AddMember(&fakeChanSession{id: 1, nick: "alice"}, true)

	assert.False(t, table.DestroyIfEmpty("#temp"))

	ch.RemoveMember("alice")
	assert.True(t, table.DestroyIfEmpty("#temp"))

	_, ok := table.Get("#temp")
	assert.False(t, ok)

	fresh, created := table.GetOrCreate("#temp")
	assert.True(t, created)
	assert.True(t, fresh.Modes().NoExternal)
}

func TestCanSpeakRespectsNoExternalAndModerated(t *testing.T) {
	ch := NewChannel("#speak")
	ch.AddMember(&fakeChanSession{id: 1, nick: "member"}, true)

	assert.True(t, ch.CanSpeak("member"))
	assert.False(t, ch.CanSpeak("outsider"))

	ch.ApplyChannelMode('m', true, "")
	assert.False(t, ch.CanSpeak("member"))
	ch.SetMode("member", ModeVoice, true)
	assert.True(t, ch.CanSpeak("member"))
}
