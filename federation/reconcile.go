package federation

import (
	"strconv"
	"time"

	"github.com/didirc/icd/identity"
	"github.com/didirc/icd/internal/logger"
	"github.com/didirc/icd/internal/metrics"
	"github.com/didirc/icd/ircd"
	"github.com/didirc/icd/registry"
)

// getOrCreateRemoteSession returns the RemoteSession tracking did,
// creating and registering one if this is the first event mentioning
// it. A remote user keeps the same RemoteSession (and therefore the
// same registry/channel identity) across every channel it is a member
// of and across nick changes.
func (e *Engine) getOrCreateRemoteSession(peerID string, nick string, did identity.DID) *RemoteSession {
	e.remoteMu.Lock()
	defer e.remoteMu.Unlock()

	if did != "" {
		if rs, ok := e.remotes[did]; ok {
			rs.setNick(nick)
			return rs
		}
	}

	rs := newRemoteSession(nick, did, peerID)
	if did != "" {
		e.remotes[did] = rs
	}
	e.srv.Registry.RegisterConnection(rs)
	return rs
}

func (e *Engine) applyJoin(p *Peer, ev JoinEvent) {
	rs := e.getOrCreateRemoteSession(p.ID, ev.Nick, identity.DID(ev.DID))
	if _, err := e.srv.Registry.BindNick(rs, ev.Nick); err != nil {
		metrics.EventsApplied.WithLabelValues("join", "rejected").Inc()
		return
	}
	if ev.DID != "" {
		e.srv.Registry.BindDID(rs, identity.DID(ev.DID))
	}
	ch, _ := e.srv.Channels.GetOrCreate(ev.Channel)
	if _, ok := ch.Member(ev.Nick); !ok {
		ch.AddMember(rs, false)
	}
	metrics.EventsApplied.WithLabelValues("join", "applied").Inc()
}

func (e *Engine) applyPart(p *Peer, ev PartEvent) {
	ch, ok := e.srv.Channels.Get(ev.Channel)
	if !ok {
		metrics.EventsApplied.WithLabelValues("part", "rejected").Inc()
		return
	}
	ch.RemoveMember(ev.Nick)
	e.srv.Channels.DestroyIfEmpty(ev.Channel)
	metrics.EventsApplied.WithLabelValues("part", "applied").Inc()
}

func (e *Engine) applyQuit(p *Peer, ev QuitEvent) {
	s, ok := e.srv.Registry.LookupByNick(ev.Nick)
	if !ok {
		metrics.EventsApplied.WithLabelValues("quit", "duplicate").Inc()
		return
	}
	e.srv.Registry.Unbind(s)
	for _, ch := range e.srv.Channels.List() {
		if _, ok := ch.Member(ev.Nick); ok {
			ch.RemoveMember(ev.Nick)
			e.srv.Channels.DestroyIfEmpty(ch.Name)
		}
	}
	if rs, ok := s.(*RemoteSession); ok {
		e.remoteMu.Lock()
		if rs.DID() != "" && e.remotes[rs.DID()] == rs {
			delete(e.remotes, rs.DID())
		}
		e.remoteMu.Unlock()
	}
	metrics.EventsApplied.WithLabelValues("quit", "applied").Inc()
}

func (e *Engine) applyNick(p *Peer, ev NickChangeEvent) {
	s, ok := e.srv.Registry.LookupByNick(ev.OldNick)
	if !ok {
		metrics.EventsApplied.WithLabelValues("nick", "rejected").Inc()
		return
	}
	if err := e.srv.Registry.Rename(s, ev.NewNick); err != nil {
		metrics.EventsApplied.WithLabelValues("nick", "rejected").Inc()
		return
	}
	if rs, ok := s.(*RemoteSession); ok {
		rs.setNick(ev.NewNick)
	}
	for _, ch := range e.srv.Channels.List() {
		if _, ok := ch.Member(ev.OldNick); ok {
			ch.RenameMember(ev.OldNick, ev.NewNick)
		}
	}
	metrics.EventsApplied.WithLabelValues("nick", "applied").Inc()
}

// applyKick removes a remote-targeted kick's victim from the channel,
// but never a locally-connected victim: only this server has authority
// to disconnect its own clients from a channel (the local-wins rule of
// spec.md §4.6 applied to S2S KICK). The claimed acting identity
// (ev.By) must also be a locally-known op in the channel; if the local
// view disagrees, the event is logged and dropped rather than applied
// (spec.md §4.6: "the receiving server is authoritative for its local
// channel state").
func (e *Engine) applyKick(p *Peer, ev KickEvent) {
	ch, ok := e.srv.Channels.Get(ev.Channel)
	if !ok {
		metrics.EventsApplied.WithLabelValues("kick", "rejected").Inc()
		return
	}
	if !ch.IsOpByDID(ev.By) {
		e.log.Warn("federation kick from unauthorized identity, dropping",
			logger.String("peer_id", p.ID), logger.String("channel", ev.Channel),
			logger.String("by", ev.By), logger.String("nick", ev.Nick))
		metrics.EventsApplied.WithLabelValues("kick", "rejected").Inc()
		return
	}
	m, ok := ch.Member(ev.Nick)
	if !ok {
		metrics.EventsApplied.WithLabelValues("kick", "duplicate").Inc()
		return
	}
	if m.Session.IsLocal() {
		metrics.EventsApplied.WithLabelValues("kick", "rejected").Inc()
		return
	}
	ch.RemoveMember(ev.Nick)
	e.srv.Channels.DestroyIfEmpty(ev.Channel)
	metrics.EventsApplied.WithLabelValues("kick", "applied").Inc()
}

func (e *Engine) applyTopic(p *Peer, ev TopicEvent) {
	ch, ok := e.srv.Channels.Get(ev.Channel)
	if !ok {
		metrics.EventsApplied.WithLabelValues("topic", "rejected").Inc()
		return
	}
	ch.SetTopicIfEmpty(ev.Text, ev.SetBy, time.Now().UTC())
	metrics.EventsApplied.WithLabelValues("topic", "applied").Inc()
}

// memberModeBit maps the per-user mode letters to their ircd.MemberMode
// bit, mirroring ircd/commands.go's memberModeFor (unexported there, so
// duplicated here rather than exported solely for this one caller).
func memberModeBit(letter byte) ircd.MemberMode {
	switch letter {
	case 'o':
		return ircd.ModeOp
	case 'h':
		return ircd.ModeHalfOp
	case 'v':
		return ircd.ModeVoice
	default:
		return ircd.ModeNone
	}
}

// applyMode reconciles a remote channel MODE change: the claimed
// acting identity (ev.SetterDID) must be a locally-known op in the
// channel, or the whole event is logged and dropped (spec.md §4.6 —
// "the receiving server is authoritative for its local channel
// state"). Once authority is confirmed, channel-wide weakening of
// +n/+i/+t/+m is still refused (WeakenGuard), and per-user privilege
// removal targeting a locally-connected member is still refused (the
// same local-wins rule applyKick enforces). Every other change —
// strengthening, or affecting a remote member — is applied.
func (e *Engine) applyMode(p *Peer, ev ModeEvent) {
	ch, ok := e.srv.Channels.Get(ev.Channel)
	if !ok {
		metrics.EventsApplied.WithLabelValues("mode", "rejected").Inc()
		return
	}
	if !ch.IsOpByDID(ev.SetterDID) {
		e.log.Warn("federation mode change from unauthorized identity, dropping",
			logger.String("peer_id", p.ID), logger.String("channel", ev.Channel),
			logger.String("setter_did", ev.SetterDID), logger.String("modes", ev.Modes))
		metrics.EventsApplied.WithLabelValues("mode", "rejected").Inc()
		return
	}

	argIdx := 0
	add := true
	applied := false
	for _, r := range ev.Modes {
		switch r {
		case '+':
			add = true
			continue
		case '-':
			add = false
			continue
		}
		letter := byte(r)
		switch letter {
		case 'o', 'h', 'v':
			if argIdx >= len(ev.Args) {
				continue
			}
			nick := ev.Args[argIdx]
			argIdx++
			if m, ok := ch.Member(nick); ok && !add && m.Session.IsLocal() {
				continue
			}
			ch.SetMode(nick, memberModeBit(letter), add)
			applied = true
		case 'k':
			arg := ""
			if add {
				if argIdx >= len(ev.Args) {
					continue
				}
				arg = ev.Args[argIdx]
				argIdx++
			}
			ch.ApplyChannelMode(letter, add, arg)
			applied = true
		case 'l':
			arg := ""
			if add {
				if argIdx >= len(ev.Args) {
					continue
				}
				arg = ev.Args[argIdx]
				argIdx++
			}
			ch.ApplyChannelMode(letter, add, arg)
			applied = true
		case 'n', 't', 'i', 'm', 's':
			if ch.WeakenGuard(letter, add) {
				continue
			}
			ch.ApplyChannelMode(letter, add, "")
			applied = true
		}
	}

	if applied {
		metrics.EventsApplied.WithLabelValues("mode", "applied").Inc()
	} else {
		metrics.EventsApplied.WithLabelValues("mode", "rejected").Inc()
	}
}

// applyMessage fans an inbound channel message out to local members
// only (the peer that owns any other remote member already delivered
// it on its own side), or delivers a direct relay to a local nick.
func (e *Engine) applyMessage(p *Peer, ev MessageEvent) {
	line := func(tags map[string]string) string {
		prefix := ev.FromNick + "!atproto@" + p.ID
		msg := &ircd.Message{Tags: tags, Prefix: prefix, Command: ev.Kind, Params: []string{firstNonEmpty(ev.Channel, ev.ToNick), ev.Text}}
		return msg.Serialize()
	}

	if ev.Channel != "" {
		ch, ok := e.srv.Channels.Get(ev.Channel)
		if !ok {
			metrics.EventsApplied.WithLabelValues("message", "rejected").Inc()
			return
		}
		for _, m := range ch.Members() {
			if !m.Session.IsLocal() {
				continue
			}
			if m.Session.Capability("message-tags") {
				m.Session.Send(line(ev.Tags))
			} else {
				m.Session.Send(line(nil))
			}
		}
		metrics.EventsApplied.WithLabelValues("message", "applied").Inc()
		return
	}

	if ev.ToNick != "" {
		s, ok := e.srv.Registry.LookupByNick(ev.ToNick)
		if !ok || !s.IsLocal() {
			metrics.EventsApplied.WithLabelValues("message", "rejected").Inc()
			return
		}
		if s.Capability("message-tags") {
			s.Send(line(ev.Tags))
		} else {
			s.Send(line(nil))
		}
		metrics.EventsApplied.WithLabelValues("message", "applied").Inc()
	}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// applySyncResponse reconciles a peer's advertised channel state into
// local state: topics are adopted only if locally empty, channel-wide
// modes (and a key or limit) the peer has set are added where the local
// channel lacks them, no local mode is removed, and every advertised
// member is recorded via getOrCreateRemoteSession (spec.md §4.8).
func (e *Engine) applySyncResponse(p *Peer, resp SyncResponse) {
	for _, cs := range resp.Channels {
		ch, _ := e.srv.Channels.GetOrCreate(cs.Name)

		ch.SetTopicIfEmpty(cs.Topic, cs.TopicSetBy, cs.TopicSetAt)

		cur := ch.Modes()
		for _, letter := range []struct {
			remote, local bool
			ltr           byte
		}{
			{cs.NoExternal, cur.NoExternal, 'n'},
			{cs.TopicLocked, cur.TopicLocked, 't'},
			{cs.InviteOnly, cur.InviteOnly, 'i'},
			{cs.Moderated, cur.Moderated, 'm'},
			{cs.Secret, cur.Secret, 's'},
		} {
			if letter.remote && !letter.local {
				ch.ApplyChannelMode(letter.ltr, true, "")
			}
		}
		if cs.Key != "" && cur.Key == "" {
			ch.ApplyChannelMode('k', true, cs.Key)
		}
		if cs.Limit > 0 && cur.Limit == 0 {
			ch.ApplyChannelMode('l', true, strconv.Itoa(cs.Limit))
		}

		for _, ms := range cs.Members {
			rs := e.getOrCreateRemoteSession(p.ID, ms.Nick, identity.DID(ms.DID))
			if _, err := e.srv.Registry.BindNick(rs, ms.Nick); err != nil {
				continue
			}
			if ms.DID != "" {
				e.srv.Registry.BindDID(rs, identity.DID(ms.DID))
			}
			if _, ok := ch.Member(ms.Nick); !ok {
				m := ch.AddMember(rs, false)
				m.Modes = ircd.MemberMode(ms.Modes)
			}
		}
	}
	metrics.EventsApplied.WithLabelValues("sync_response", "applied").Inc()
}

// buildSyncSnapshot advertises only channels with at least one local
// member, so a peer never re-learns state it did not originate (spec.md
// §4.8's provenance/authority model: don't re-export what we only know
// about because a third peer told us).
func (e *Engine) buildSyncSnapshot() SyncResponse {
	var resp SyncResponse
	for _, ch := range e.srv.Channels.List() {
		members := ch.Members()
		hasLocal := false
		for _, m := range members {
			if m.Session.IsLocal() {
				hasLocal = true
				break
			}
		}
		if !hasLocal {
			continue
		}

		modes := ch.Modes()
		text, setBy, at, _ := ch.GetTopic()
		cs := ChannelSnapshot{
			Name: ch.Name, Topic: text, TopicSetBy: setBy, TopicSetAt: at,
			NoExternal: modes.NoExternal, TopicLocked: modes.TopicLocked,
			InviteOnly: modes.InviteOnly, Moderated: modes.Moderated,
			Secret: modes.Secret, Key: modes.Key, Limit: modes.Limit,
		}
		for _, m := range members {
			cs.Members = append(cs.Members, MemberSnapshot{
				Nick: m.Session.Nick(), DID: string(m.Session.DID()), Modes: int(m.Modes),
			})
		}
		resp.Channels = append(resp.Channels, cs)
	}
	return resp
}

// purgePeer removes every session and channel membership this server
// learned about from peerID, once that link goes down (P5).
func (e *Engine) purgePeer(peerID string) {
	e.srv.Registry.PurgeOrigin(func(s registry.Session) bool {
		ro, ok := s.(ircd.RemoteOrigin)
		return ok && ro.PeerID() == peerID
	})

	for _, ch := range e.srv.Channels.List() {
		for _, m := range ch.Members() {
			if ro, ok := m.Session.(ircd.RemoteOrigin); ok && ro.PeerID() == peerID {
				ch.RemoveMember(m.Session.Nick())
			}
		}
		e.srv.Channels.DestroyIfEmpty(ch.Name)
	}

	e.remoteMu.Lock()
	for did, rs := range e.remotes {
		if rs.PeerID() == peerID {
			delete(e.remotes, did)
		}
	}
	e.remoteMu.Unlock()
}

