package federation

import (
	"fmt"

	"github.com/didirc/icd/identity"
	"github.com/didirc/icd/internal/metrics"
	"github.com/didirc/icd/ircd"
)

var _ ircd.Federator = (*Engine)(nil)

// Engine implements ircd.Federator by broadcasting each local event to
// every peer currently linked. These methods are called directly from
// connection-actor goroutines (ircd/commands.go, ircd/router.go) and
// write to the peers' sockets on the calling goroutine: broadcast calls
// writeFrame for one peer after another, each write holding only that
// peer's write mutex and bounded by writeTimeout. There is no per-peer
// outbox, so a slow peer delays the caller until its write completes or
// times out.

func (e *Engine) PropagateJoin(channel, nick string, did identity.DID) {
	e.broadcast("join", frameJoin, JoinEvent{Channel: channel, Nick: nick, DID: string(did)})
}

func (e *Engine) PropagatePart(channel, nick, reason string) {
	e.broadcast("part", framePart, PartEvent{Channel: channel, Nick: nick, Reason: reason})
}

func (e *Engine) PropagateQuit(nick, reason string) {
	e.broadcast("quit", frameQuit, QuitEvent{Nick: nick, Reason: reason})
}

func (e *Engine) PropagateNick(oldNick, newNick string) {
	e.broadcast("nick", frameNick, NickChangeEvent{OldNick: oldNick, NewNick: newNick})
}

func (e *Engine) PropagateKick(channel, nick, by, reason string) {
	e.broadcast("kick", frameKick, KickEvent{Channel: channel, Nick: nick, By: by, Reason: reason})
}

func (e *Engine) PropagateMode(channel string, setterDID identity.DID, modes string, args []string) {
	e.broadcast("mode", frameMode, ModeEvent{Channel: channel, SetterDID: string(setterDID), Modes: modes, Args: args})
}

func (e *Engine) PropagateTopic(channel, text, setBy string) {
	e.broadcast("topic", frameTopic, TopicEvent{Channel: channel, Text: text, SetBy: setBy})
}

func (e *Engine) PropagateMessage(kind, target, fromNick string, fromDID identity.DID, msgid string, tags map[string]string, text string) {
	e.broadcast("message", frameMessage, MessageEvent{
		Kind: kind, Channel: target, FromNick: fromNick, FromDID: string(fromDID),
		MsgID: msgid, Tags: tags, Text: text,
	})
}

// RelayDirect forwards a DM to a single peer known to own toNick,
// rather than broadcasting to the whole mesh.
func (e *Engine) RelayDirect(peerID, toNick, kind, fromNick string, fromDID identity.DID, msgid string, tags map[string]string, text string) error {
	e.mu.RLock()
	p, ok := e.peers[peerID]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("federation: peer %q not linked", peerID)
	}

	ev := MessageEvent{
		Kind: kind, ToNick: toNick, FromNick: fromNick, FromDID: string(fromDID),
		MsgID: msgid, Tags: tags, Text: text,
	}
	if err := p.writeFrame(frameMessage, ev); err != nil {
		return fmt.Errorf("federation: relay to %q: %w", peerID, err)
	}
	metrics.EventsPropagated.WithLabelValues("message").Inc()
	return nil
}
