package ircd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMessageSimple(t *testing.T) {
	msg, ok := ParseMessage("NICK guest42")
	require.True(t, ok)
	assert.Equal(t, "NICK", msg.Command)
	assert.Equal(t, []string{"guest42"}, msg.Params)
}

func TestParseMessageWithPrefixAndTrailing(t *testing.T) {
	msg, ok := ParseMessage(":nick!user@host PRIVMSG #general :hello there friend")
	require.True(t, ok)
	assert.Equal(t, "nick!user@host", msg.Prefix)
	assert.Equal(t, "PRIVMSG", msg.Command)
	assert.Equal(t, []string{"#general", "hello there friend"}, msg.Params)
}

func TestParseMessageWithTags(t *testing.T) {
	msg, ok := ParseMessage("@time=2023-01-01T00:00:00Z;msgid=abc PRIVMSG #x :hi")
	require.True(t, ok)
	assert.Equal(t, "2023-01-01T00:00:00Z", msg.Tags["time"])
	assert.Equal(t, "abc", msg.Tags["msgid"])
	assert.Equal(t, "PRIVMSG", msg.Command)
}

func TestParseMessageEmptyIsMalformed(t *testing.T) {
	_, ok := ParseMessage("")
	assert.False(t, ok)
}

func TestParseMessageCommandOnly(t *testing.T) {
	msg, ok := ParseMessage("CAP END")
	require.True(t, ok)
	assert.Equal(t, "CAP", msg.Command)
	assert.Equal(t, []string{"END"}, msg.Params)
}

func TestSerializeRoundTrip(t *testing.T) {
	msg := &Message{
		Prefix:  "server.example",
		Command: "PRIVMSG",
		Params:  []string{"#general", "hello there"},
	}
	line := msg.Serialize()
	assert.Equal(t, ":server.example PRIVMSG #general :hello there", line)

	reparsed, ok := ParseMessage(line)
	require.True(t, ok)
	assert.Equal(t, msg.Prefix, reparsed.Prefix)
	assert.Equal(t, msg.Command, reparsed.Command)
	assert.Equal(t, msg.Params, reparsed.Params)
}

func TestTagEscaping(t *testing.T) {
	msg := &Message{
		Tags:    map[string]string{"label": "a;b c"},
		Command: "TAGMSG",
		Params:  []string{"#general"},
	}
	line := msg.Serialize()
	assert.Contains(t, line, `label=a\:b\sc`)
}
