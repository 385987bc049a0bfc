package ircd

import (
	"context"
	"fmt"
	"time"

	"github.com/didirc/icd/identity"
	"github.com/didirc/icd/internal/metrics"
	"github.com/didirc/icd/registry"
)

// Federator is the S2S emission hook the router and channel/command
// handlers call into; federation.Engine is the real implementation.
// Kept as an interface here (rather than importing package federation
// directly) so the two packages do not form an import cycle — federation
// imports ircd to apply inbound events, ircd only needs this narrow
// outbound contract.
type Federator interface {
	PropagateJoin(channel, nick string, did identity.DID)
	PropagatePart(channel, nick, reason string)
	PropagateQuit(nick, reason string)
	PropagateNick(oldNick, newNick string)
	PropagateKick(channel, nick, by, reason string)
	PropagateMode(channel string, setterDID identity.DID, modes string, args []string)
	PropagateTopic(channel, text, setBy string)

	// PropagateMessage fans a PRIVMSG/NOTICE/TAGMSG out to every peer
	// with a local interest in target (spec.md §4.7 step 6).
	PropagateMessage(kind, target, fromNick string, fromDID identity.DID, msgid string, tags map[string]string, text string)

	// RelayDirect forwards a DM to a specific remote nick known to be
	// owned by peerID (spec.md §4.7 DM routing, remote branch).
	RelayDirect(peerID, toNick, kind, fromNick string, fromDID identity.DID, msgid string, tags map[string]string, text string) error
}

// RemoteOrigin is implemented by federation.RemoteSession so the router
// can find which peer owns a remote nick without importing package
// federation.
type RemoteOrigin interface {
	PeerID() string
}

// noopFederator is the Federator used when no federation engine is
// configured: every propagation is a silent no-op (single-server mode).
type noopFederator struct{}

func (noopFederator) PropagateJoin(string, string, identity.DID)                      {}
func (noopFederator) PropagatePart(string, string, string)                           {}
func (noopFederator) PropagateQuit(string, string)                                   {}
func (noopFederator) PropagateNick(string, string)                                   {}
func (noopFederator) PropagateKick(string, string, string, string)                   {}
func (noopFederator) PropagateMode(string, identity.DID, string, []string)           {}
func (noopFederator) PropagateTopic(string, string, string)                          {}
func (noopFederator) PropagateMessage(string, string, string, identity.DID, string, map[string]string, string) {
}
func (noopFederator) RelayDirect(string, string, string, string, identity.DID, string, map[string]string, string) error {
	return fmt.Errorf("%w: federation not configured", ErrNoSuchNick)
}

// RouteChannelMessage implements spec.md §4.7 steps 1-6 for PRIVMSG/
// NOTICE/TAGMSG addressed to a channel. kind is "PRIVMSG", "NOTICE", or
// "TAGMSG". The sender is included in fan-out only if it ACKed echo-message.
func (s *Server) RouteChannelMessage(ctx context.Context, sender *Conn, kind, target, text string, tags map[string]string) error {
	ch, ok := s.Channels.Get(target)
	if !ok {
		return ErrNoSuchChannel
	}
	if !ch.CanSpeak(sender.Nick()) {
		return ErrCannotSend
	}

	msgid := registry.NewMessageID()
	outTags := cloneTags(tags)
	outTags["msgid"] = msgid
	outTags["time"] = time.Now().UTC().Format(time.RFC3339Nano)

	line := buildMessageLine(outTags, sender.Prefix(), kind, target, text)

	for _, m := range ch.Members() {
		if m.Session.SessionID() == sender.SessionID() && !sender.Capability("echo-message") {
			continue
		}
		if !m.Session.Capability("message-tags") {
			m.Session.Send(buildMessageLine(nil, sender.Prefix(), kind, target, text))
			continue
		}
		m.Session.Send(line)
	}

	metrics.MessageSize.WithLabelValues("channel").Observe(float64(len(text)))

	if s.History != nil {
		_ = s.History.Append(ctx, HistoryEntry{
			Target: target, FromNick: sender.Nick(), FromDID: string(sender.DID()),
			MsgID: msgid, Text: text, Tags: outTags, Timestamp: time.Now().UTC(),
		})
	}

	s.Federator.PropagateMessage(kind, target, sender.Nick(), sender.DID(), msgid, outTags, text)
	return nil
}

// RouteDirectMessage implements spec.md §4.7 DM routing: deliver locally
// if the nick is held by a local session, relay over S2S if it is a
// known remote binding, or fail with 401.
func (s *Server) RouteDirectMessage(ctx context.Context, sender *Conn, kind, toNick, text string, tags map[string]string) error {
	target, ok := s.Registry.LookupByNick(toNick)
	if !ok {
		return ErrNoSuchNick
	}

	msgid := registry.NewMessageID()
	outTags := cloneTags(tags)
	outTags["msgid"] = msgid
	outTags["time"] = time.Now().UTC().Format(time.RFC3339Nano)

	if target.IsLocal() {
		line := buildMessageLine(outTags, sender.Prefix(), kind, toNick, text)
		target.Send(line)
		if sender.Capability("echo-message") {
			sender.Send(buildMessageLine(outTags, sender.Prefix(), kind, toNick, text))
		}
		metrics.MessageSize.WithLabelValues("direct").Observe(float64(len(text)))
		return nil
	}

	ro, ok := target.(RemoteOrigin)
	if !ok {
		return ErrNoSuchNick
	}
	return s.Federator.RelayDirect(ro.PeerID(), toNick, kind, sender.Nick(), sender.DID(), msgid, outTags, text)
}

// cloneTags copies an incoming tag map so callers can mutate the copy
// without aliasing caller state.
func cloneTags(tags map[string]string) map[string]string {
	out := make(map[string]string, len(tags)+2)
	for k, v := range tags {
		out[k] = v
	}
	return out
}

// buildMessageLine renders a server-to-client command line with an
// optional tag set and source prefix.
func buildMessageLine(tags map[string]string, prefix, command, target, text string) string {
	msg := &Message{
		Tags:    tags,
		Prefix:  prefix,
		Command: command,
		Params:  []string{target, text},
	}
	return msg.Serialize()
}
