package ircd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/didirc/icd/identity"
)

// supportedCapabilities is the full IRCv3 extension surface the core
// negotiates (spec.md §6).
var supportedCapabilities = []string{
	"sasl",
	"message-tags",
	"server-time",
	"echo-message",
	"extended-join",
	"away-notify",
	"multi-prefix",
	"account-notify",
	"batch",
}

// maxSaslFragment is the per-line limit on a fragmented AUTHENTICATE
// payload (spec.md §4.5 step 3).
const maxSaslFragment = 400

// Dispatch routes one parsed client line to its command handler
// (spec.md §4.4). Unknown commands reply with 421.
func (c *Conn) Dispatch(ctx context.Context, msg *Message) {
	switch msg.Command {
	case "CAP":
		c.handleCAP(msg)
	case "AUTHENTICATE":
		c.handleAuthenticate(ctx, msg)
	case "NICK":
		c.handleNick(msg)
	case "USER":
		c.handleUser(msg)
	case "PING":
		c.sendRaw(&Message{Command: "PONG", Params: msg.Params})
	case "PONG":
		// no-op: liveness only, read deadline already refreshed by readLoop.
	case "JOIN":
		c.handleJoin(ctx, msg)
	case "PART":
		c.handlePart(msg)
	case "QUIT":
		c.handleQuit(msg)
	case "PRIVMSG":
		c.handleMessage(ctx, msg, "PRIVMSG")
	case "NOTICE":
		c.handleMessage(ctx, msg, "NOTICE")
	case "TAGMSG":
		c.handleTagmsg(msg)
	case "TOPIC":
		c.handleTopic(msg)
	case "MODE":
		c.handleMode(msg)
	case "KICK":
		c.handleKick(msg)
	case "INVITE":
		c.handleInvite(msg)
	case "WHOIS":
		c.handleWhois(msg)
	case "AWAY":
		c.handleAway(msg)
	case "LIST":
		c.handleList(msg)
	case "CHATHISTORY":
		c.handleChatHistory(ctx, msg)
	default:
		if c.requireRegistered() {
			c.sendNumeric(ERR_UNKNOWNCOMMAND, msg.Command, "Unknown command")
		}
	}
}

func (c *Conn) sendRaw(msg *Message) { c.Send(msg.Serialize()) }

func (c *Conn) requireRegistered() bool {
	c.mu.Lock()
	st := c.state
	c.mu.Unlock()
	return st == StateRegistered
}

// --- CAP / AUTHENTICATE -----------------------------------------------

func (c *Conn) handleCAP(msg *Message) {
	sub := strings.ToUpper(msg.Param(0))
	switch sub {
	case "LS":
		c.mu.Lock()
		c.capLS = true
		if c.state == StateUnregistered {
			c.state = StateCapNegotiating
		}
		c.mu.Unlock()
		c.sendRaw(&Message{Prefix: c.server.Config.Name, Command: "CAP",
			Params: []string{"*", "LS", strings.Join(capsWithValues(), " ")}})

	case "LIST":
		c.mu.Lock()
		var acked []string
		for name, ok := range c.caps {
			if ok {
				acked = append(acked, name)
			}
		}
		c.mu.Unlock()
		c.sendRaw(&Message{Prefix: c.server.Config.Name, Command: "CAP",
			Params: []string{"*", "LIST", strings.Join(acked, " ")}})

	case "REQ":
		requested := strings.Fields(msg.Param(1))
		allKnown := true
		for _, name := range requested {
			if !isSupportedCapability(strings.TrimPrefix(name, "-")) {
				allKnown = false
				break
			}
		}
		reply := "NAK"
		if allKnown {
			reply = "ACK"
			c.mu.Lock()
			for _, name := range requested {
				if strings.HasPrefix(name, "-") {
					delete(c.caps, strings.TrimPrefix(name, "-"))
				} else {
					c.caps[name] = true
				}
			}
			c.mu.Unlock()
		}
		c.sendRaw(&Message{Prefix: c.server.Config.Name, Command: "CAP",
			Params: []string{"*", reply, strings.Join(requested, " ")}})

	case "END":
		c.mu.Lock()
		c.capLS = false
		c.mu.Unlock()
		c.maybeCompleteRegistration()
	}
}

func isSupportedCapability(name string) bool {
	for _, c := range supportedCapabilities {
		if c == name {
			return true
		}
	}
	return false
}

func capsWithValues() []string {
	out := make([]string, 0, len(supportedCapabilities))
	for _, c := range supportedCapabilities {
		if c == "sasl" {
			out = append(out, "sasl=ATPROTO-CHALLENGE")
			continue
		}
		out = append(out, c)
	}
	return out
}

func (c *Conn) handleAuthenticate(ctx context.Context, msg *Message) {
	token := msg.Param(0)

	c.mu.Lock()
	active := c.saslActive
	c.mu.Unlock()

	if !active {
		if !strings.EqualFold(token, "ATPROTO-CHALLENGE") {
			c.sendNumeric(ERR_SASLFAIL, "Unknown SASL mechanism")
			return
		}
		c.mu.Lock()
		c.saslActive = true
		c.state = StateSaslPending
		c.saslBuf.Reset()
		c.mu.Unlock()

		blob, err := c.server.SASL.Issue(c.id)
		if err != nil {
			c.failSasl("failed to issue challenge")
			return
		}
		c.sendRaw(&Message{Command: "AUTHENTICATE", Params: []string{blob}})
		return
	}

	if token == "+" {
		c.mu.Lock()
		payload := c.saslBuf.String()
		c.saslBuf.Reset()
		c.mu.Unlock()

		resp, err := ParseResponse(payload)
		if err != nil {
			c.failSasl(err.Error())
			return
		}

		result, err := c.server.SASL.Verify(ctx, c.id, resp)
		if err != nil {
			c.failSasl(err.Error())
			return
		}

		did := identity.DID(resp.DID)
		c.server.Registry.BindDID(c, did)

		var pdsURL string
		if resp.PDSURL != "" {
			if tok, err := ParsePDSToken(resp.PDSURL); err == nil {
				pdsURL = tok.PDSURL
			}
			// An unparseable or missing pds_url claim never fails
			// SASL: the field is optional (§4.5's pds_url?).
		}

		c.mu.Lock()
		c.did = did
		c.pdsURL = pdsURL
		c.atHandle = firstATHandle(result.AlsoKnownAs)
		c.mu.Unlock()

		c.sendNumeric(RPL_LOGGEDIN, c.hostmaskParam(), string(did), fmt.Sprintf("You are now logged in as %s", did))
		c.sendNumeric(RPL_SASLSUCCESS, "SASL authentication successful")

		c.mu.Lock()
		c.saslActive = false
		if c.capLS {
			c.state = StateCapNegotiating
		} else {
			c.state = StateUnregistered
		}
		c.mu.Unlock()
		c.maybeCompleteRegistration()
		return
	}

	if len(token) > maxSaslFragment {
		c.failSasl("fragment too long")
		return
	}
	c.mu.Lock()
	c.saslBuf.WriteString(token)
	c.mu.Unlock()
}

// firstATHandle picks the handle spec.md §6's 671 numeric reports out of
// a resolved DID document's alsoKnownAs list: the first "at://" URI,
// with that scheme stripped, or "" if the document names none.
func firstATHandle(akas []string) string {
	for _, aka := range akas {
		if handle := strings.TrimPrefix(aka, "at://"); handle != aka {
			return handle
		}
	}
	return ""
}

func (c *Conn) hostmaskParam() string {
	nick := c.Nick()
	if nick == "" {
		nick = "*"
	}
	return nick
}

func (c *Conn) failSasl(reason string) {
	c.server.SASL.Discard(c.id)
	c.sendNumeric(ERR_SASLFAIL, fmt.Sprintf("SASL authentication failed: %s", reason))
	c.mu.Lock()
	c.saslActive = false
	if c.capLS {
		c.state = StateCapNegotiating
	} else {
		c.state = StateUnregistered
	}
	c.mu.Unlock()
	c.maybeCompleteRegistration()
}

// --- registration -------------------------------------------------------

func (c *Conn) handleNick(msg *Message) {
	desired := msg.Param(0)
	if desired == "" {
		return
	}

	var err error
	if c.Nick() == "" {
		_, err = c.server.Registry.BindNick(c, desired)
	} else {
		err = c.server.Registry.Rename(c, desired)
	}
	if err != nil {
		c.sendNumeric(ERR_NICKNAMEINUSE, desired, "Nickname is already in use")
		return
	}

	old := c.Nick()
	c.mu.Lock()
	c.nick = desired
	c.mu.Unlock()

	if old != "" && old != desired {
		c.broadcastToSharedChannels(&Message{Prefix: fmt.Sprintf("%s!%s@%s", old, c.userOrDefault(), c.host), Command: "NICK", Params: []string{desired}})
		for ch := range c.joinedSnapshot() {
			if channel, ok := c.server.Channels.Get(ch); ok {
				channel.RenameMember(old, desired)
			}
		}
		c.server.Federator.PropagateNick(old, desired)
	}

	c.maybeCompleteRegistration()
}

func (c *Conn) userOrDefault() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user == "" {
		return "unknown"
	}
	return c.user
}

func (c *Conn) joinedSnapshot() map[string]bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]bool, len(c.joined))
	for k := range c.joined {
		out[k] = true
	}
	return out
}

func (c *Conn) handleUser(msg *Message) {
	c.mu.Lock()
	c.user = msg.Param(0)
	c.realname = msg.Param(3)
	c.mu.Unlock()
	c.maybeCompleteRegistration()
}

// maybeCompleteRegistration implements the Unregistered/CapNegotiating/
// SaslPending -> Registered transition of spec.md §4.4: registration
// completes once NICK and USER have been received and neither a CAP
// negotiation nor a SASL round is still in flight.
func (c *Conn) maybeCompleteRegistration() {
	c.mu.Lock()
	ready := c.nick != "" && c.user != "" && !c.capLS && !c.saslActive && c.state != StateRegistered && c.state != StateQuitting
	if ready {
		c.state = StateRegistered
	}
	c.mu.Unlock()

	if !ready {
		return
	}

	c.sendNumeric(RPL_WELCOME, fmt.Sprintf("Welcome to the network, %s", c.Nick()))
}

// --- channel commands -----------------------------------------------------

func (c *Conn) handleJoin(ctx context.Context, msg *Message) {
	channels := strings.Split(msg.Param(0), ",")
	keys := strings.Split(msg.Param(1), ",")

	for i, chanName := range channels {
		chanName = strings.TrimSpace(chanName)
		if chanName == "" {
			continue
		}
		key := ""
		if i < len(keys) {
			key = keys[i]
		}
		c.joinOne(ctx, chanName, key)
	}
}

func (c *Conn) joinOne(ctx context.Context, chanName, key string) {
	ch, created := c.server.Channels.GetOrCreate(chanName)

	err := ch.CheckJoin(ctx, c.Nick(), c.Prefix(), key, c.server.Policy, string(c.DID()))
	if err != nil {
		c.reportJoinError(chanName, err)
		if created {
			c.server.Channels.DestroyIfEmpty(chanName)
		}
		return
	}

	ch.AddMember(c, created)
	c.addJoined(ch.Name)

	joinMsg := &Message{Prefix: c.Prefix(), Command: "JOIN", Params: []string{ch.Name}}

	for _, m := range ch.Members() {
		if m.Session.Capability("extended-join") {
			acct := "*"
			if c.DID() != "" {
				acct = string(c.DID())
			}
			m.Session.Send((&Message{Prefix: c.Prefix(), Command: "JOIN", Params: []string{ch.Name, acct, c.realnameOrNick()}}).Serialize())
		} else {
			m.Session.Send(joinMsg.Serialize())
		}
	}

	if text, setBy, at, ok := ch.GetTopic(); ok {
		c.sendNumeric(RPL_TOPIC, ch.Name, text)
		c.sendNumeric(RPL_TOPICWHOTIME, ch.Name, setBy, fmt.Sprintf("%d", at.Unix()))
	}

	multi := c.Capability("multi-prefix")
	for _, name := range ch.NamesList(multi) {
		c.sendNumeric(RPL_NAMREPLY, "=", ch.Name, name)
	}
	c.sendNumeric(RPL_ENDOFNAMES, ch.Name, "End of /NAMES list")

	c.server.Federator.PropagateJoin(ch.Name, c.Nick(), c.DID())
}

func (c *Conn) realnameOrNick() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.realname != "" {
		return c.realname
	}
	return c.nick
}

func (c *Conn) reportJoinError(chanName string, err error) {
	switch {
	case errors.Is(err, ErrInviteOnly):
		c.sendNumeric(ERR_INVITEONLYCHAN, chanName, "Cannot join channel (+i)")
	case errors.Is(err, ErrBanned):
		c.sendNumeric(ERR_BANNEDFROMCHAN, chanName, "Cannot join channel (+b)")
	case errors.Is(err, ErrBadKey):
		c.sendNumeric(ERR_BADCHANNELKEY, chanName, "Cannot join channel (+k)")
	case errors.Is(err, ErrChannelFull):
		c.sendNumeric(ERR_CHANNELISFULL, chanName, "Cannot join channel (+l)")
	case errors.Is(err, ErrPolicyDenied):
		c.sendNumeric(ERR_LINKCHANNEL, chanName, err.Error())
	default:
		c.sendNumeric(ERR_LINKCHANNEL, chanName, "Cannot join channel")
	}
}

func (c *Conn) handlePart(msg *Message) {
	channels := strings.Split(msg.Param(0), ",")
	reason := msg.Param(1)
	for _, chanName := range channels {
		chanName = strings.TrimSpace(chanName)
		if chanName == "" {
			continue
		}
		c.partOne(chanName, reason)
	}
}

func (c *Conn) partOne(chanName, reason string) {
	ch, ok := c.server.Channels.Get(chanName)
	if !ok || !c.isJoined(ch.Name) {
		c.sendNumeric(ERR_NOSUCHCHANNEL, chanName, "No such channel")
		return
	}

	params := []string{ch.Name}
	if reason != "" {
		params = append(params, reason)
	}
	c.broadcastToChannel(ch, &Message{Prefix: c.Prefix(), Command: "PART", Params: params}, false)

	ch.RemoveMember(c.Nick())
	c.removeJoined(ch.Name)
	c.server.Channels.DestroyIfEmpty(ch.Name)
	c.server.Federator.PropagatePart(ch.Name, c.Nick(), reason)
}

func (c *Conn) handleQuit(msg *Message) {
	reason := msg.Param(0)
	if reason == "" {
		reason = "Client Quit"
	}
	c.mu.Lock()
	c.quitReason = reason
	c.mu.Unlock()
	c.sendRaw(&Message{Command: "ERROR", Params: []string{"Closing Link: " + reason}})
	c.Disconnect(reason)
}

// broadcastToChannel sends msg to every member of ch; includeSender
// controls whether the sending connection also receives its own line
// (JOIN fan-out includes the sender, MODE/KICK typically do too).
func (c *Conn) broadcastToChannel(ch *Channel, msg *Message, includeSender bool) {
	line := msg.Serialize()
	for _, m := range ch.Members() {
		if !includeSender && m.Session.SessionID() == c.id {
			continue
		}
		m.Session.Send(line)
	}
}

// broadcastToSharedChannels sends msg once to every distinct local
// session that shares at least one channel with c (used for NICK).
func (c *Conn) broadcastToSharedChannels(msg *Message) {
	line := msg.Serialize()
	seen := map[uint64]bool{c.id: true}
	c.Send(line)
	for chName := range c.joinedSnapshot() {
		ch, ok := c.server.Channels.Get(chName)
		if !ok {
			continue
		}
		for _, m := range ch.Members() {
			if seen[m.Session.SessionID()] {
				continue
			}
			seen[m.Session.SessionID()] = true
			m.Session.Send(line)
		}
	}
}

// --- messaging --------------------------------------------------------

func (c *Conn) handleMessage(ctx context.Context, msg *Message, kind string) {
	target := msg.Param(0)
	text := msg.Param(1)
	if target == "" {
		return
	}

	var err error
	if strings.HasPrefix(target, "#") {
		err = c.server.RouteChannelMessage(ctx, c, kind, target, text, msg.Tags)
	} else {
		err = c.server.RouteDirectMessage(ctx, c, kind, target, text, msg.Tags)
	}

	if err == nil || kind == "NOTICE" {
		return // IRC tradition: NOTICE never generates an error reply.
	}
	switch {
	case errors.Is(err, ErrNoSuchNick):
		c.sendNumeric(ERR_NOSUCHNICK, target, "No such nick/channel")
	case errors.Is(err, ErrNoSuchChannel):
		c.sendNumeric(ERR_CANNOTSENDTOCHAN, target, "No such channel")
	case errors.Is(err, ErrCannotSend):
		c.sendNumeric(ERR_CANNOTSENDTOCHAN, target, "Cannot send to channel")
	}
}

func (c *Conn) handleTagmsg(msg *Message) {
	target := msg.Param(0)
	if target == "" {
		return
	}
	if strings.HasPrefix(target, "#") {
		_ = c.server.RouteChannelMessage(context.Background(), c, "TAGMSG", target, "", msg.Tags)
		return
	}
	_ = c.server.RouteDirectMessage(context.Background(), c, "TAGMSG", target, "", msg.Tags)
}

// --- topic / mode / kick / invite --------------------------------------

func (c *Conn) handleTopic(msg *Message) {
	chanName := msg.Param(0)
	ch, ok := c.server.Channels.Get(chanName)
	if !ok {
		c.sendNumeric(ERR_NOSUCHCHANNEL, chanName, "No such channel")
		return
	}

	if len(msg.Params) < 2 {
		text, setBy, at, has := ch.GetTopic()
		if !has {
			return
		}
		c.sendNumeric(RPL_TOPIC, ch.Name, text)
		c.sendNumeric(RPL_TOPICWHOTIME, ch.Name, setBy, fmt.Sprintf("%d", at.Unix()))
		return
	}

	if ch.Modes().TopicLocked && !ch.IsOp(c.Nick()) {
		c.sendNumeric(ERR_CHANOPRIVSNEEDED, ch.Name, "You're not a channel operator")
		return
	}

	text := msg.Param(1)
	ch.SetTopic(text, c.Nick())
	c.broadcastToChannel(ch, &Message{Prefix: c.Prefix(), Command: "TOPIC", Params: []string{ch.Name, text}}, true)
	c.server.Federator.PropagateTopic(ch.Name, text, c.Nick())
}

func (c *Conn) handleMode(msg *Message) {
	target := msg.Param(0)
	if !strings.HasPrefix(target, "#") {
		// User modes beyond the channel scope are not part of this
		// core (spec.md §4.6 only defines channel-wide and per-member
		// modes); silently acknowledge by echoing nothing back.
		return
	}

	ch, ok := c.server.Channels.Get(target)
	if !ok {
		c.sendNumeric(ERR_NOSUCHCHANNEL, target, "No such channel")
		return
	}

	if len(msg.Params) < 2 {
		m := ch.Modes()
		c.sendNumeric("324", ch.Name, renderModeString(m))
		return
	}

	if !ch.IsOp(c.Nick()) {
		c.sendNumeric(ERR_CHANOPRIVSNEEDED, ch.Name, "You're not a channel operator")
		return
	}

	modeStr := msg.Param(1)
	args := msg.Params[2:]
	argIdx := 0
	add := true
	var appliedArgs []string
	var appliedModes strings.Builder

	for _, r := range modeStr {
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
			if argIdx >= len(args) {
				continue
			}
			nick := args[argIdx]
			argIdx++
			mode := memberModeFor(letter)
			ch.SetMode(nick, mode, add)
			appliedArgs = append(appliedArgs, nick)
			appliedModes.WriteByte(modeSign(add))
			appliedModes.WriteByte(letter)
		case 'k', 'l':
			arg := ""
			if add {
				if argIdx >= len(args) {
					continue
				}
				arg = args[argIdx]
				argIdx++
			}
			ch.ApplyChannelMode(letter, add, arg)
			if add {
				appliedArgs = append(appliedArgs, arg)
			}
			appliedModes.WriteByte(modeSign(add))
			appliedModes.WriteByte(letter)
		case 'n', 't', 'i', 'm', 's':
			if ch.ApplyChannelMode(letter, add, "") {
				appliedModes.WriteByte(modeSign(add))
				appliedModes.WriteByte(letter)
			}
		}
	}

	if appliedModes.Len() == 0 {
		return
	}

	params := append([]string{ch.Name, appliedModes.String()}, appliedArgs...)
	c.broadcastToChannel(ch, &Message{Prefix: c.Prefix(), Command: "MODE", Params: params}, true)
	c.server.Federator.PropagateMode(ch.Name, c.DID(), appliedModes.String(), appliedArgs)
}

func modeSign(add bool) byte {
	if add {
		return '+'
	}
	return '-'
}

func memberModeFor(letter byte) MemberMode {
	switch letter {
	case 'o':
		return ModeOp
	case 'h':
		return ModeHalfOp
	case 'v':
		return ModeVoice
	}
	return ModeNone
}

func renderModeString(m ChannelModes) string {
	var b strings.Builder
	b.WriteByte('+')
	if m.NoExternal {
		b.WriteByte('n')
	}
	if m.TopicLocked {
		b.WriteByte('t')
	}
	if m.InviteOnly {
		b.WriteByte('i')
	}
	if m.Moderated {
		b.WriteByte('m')
	}
	if m.Secret {
		b.WriteByte('s')
	}
	if m.Key != "" {
		b.WriteByte('k')
	}
	if m.Limit > 0 {
		b.WriteByte('l')
	}
	return b.String()
}

func (c *Conn) handleKick(msg *Message) {
	chanName := msg.Param(0)
	targetNick := msg.Param(1)
	reason := msg.Param(2)
	if reason == "" {
		reason = targetNick
	}

	ch, ok := c.server.Channels.Get(chanName)
	if !ok {
		c.sendNumeric(ERR_NOSUCHCHANNEL, chanName, "No such channel")
		return
	}
	if !ch.IsOp(c.Nick()) {
		c.sendNumeric(ERR_CHANOPRIVSNEEDED, ch.Name, "You're not a channel operator")
		return
	}
	target, ok := ch.Member(targetNick)
	if !ok {
		c.sendNumeric(ERR_NOSUCHNICK, targetNick, "They aren't on that channel")
		return
	}

	c.broadcastToChannel(ch, &Message{Prefix: c.Prefix(), Command: "KICK", Params: []string{ch.Name, targetNick, reason}}, true)
	ch.RemoveMember(targetNick)
	if conn, ok := target.Session.(*Conn); ok {
		conn.removeJoined(ch.Name)
	}
	c.server.Channels.DestroyIfEmpty(ch.Name)
	c.server.Federator.PropagateKick(ch.Name, targetNick, c.Nick(), reason)
}

func (c *Conn) handleInvite(msg *Message) {
	targetNick := msg.Param(0)
	chanName := msg.Param(1)

	ch, ok := c.server.Channels.Get(chanName)
	if ok {
		ch.Invite(targetNick)
	}
	if target, ok := c.server.Registry.LookupByNick(targetNick); ok {
		target.Send((&Message{Prefix: c.Prefix(), Command: "INVITE", Params: []string{targetNick, chanName}}).Serialize())
	}
	c.sendNumeric("341", targetNick, chanName)
}

// --- informational ------------------------------------------------------

func (c *Conn) handleWhois(msg *Message) {
	nick := msg.Param(0)
	target, ok := c.server.Registry.LookupByNick(nick)
	if !ok {
		c.sendNumeric(ERR_NOSUCHNICK, nick, "No such nick/channel")
		return
	}

	c.sendNumeric(RPL_WHOISUSER, target.Nick(), "user", "host", "*", "Guest")
	c.sendNumeric(RPL_WHOISSERVER, target.Nick(), c.server.Config.Name, "icd federation core")

	var chans []string
	for _, ch := range c.server.Channels.List() {
		if _, member := ch.Member(target.Nick()); member {
			chans = append(chans, ch.Name)
		}
	}
	if len(chans) > 0 {
		c.sendNumeric(RPL_WHOISCHANNELS, target.Nick(), strings.Join(chans, " "))
	}

	if did := target.DID(); did != "" {
		c.sendNumeric(RPL_WHOISACCOUNT, target.Nick(), string(did), "is logged in as")
	}

	if handle := target.ATHandle(); handle != "" {
		c.sendNumeric(RPL_WHOISACTUALLY, target.Nick(), handle, "associated AT handle")
	}

	c.sendNumeric(RPL_ENDOFWHOIS, target.Nick(), "End of /WHOIS list")
}

func (c *Conn) handleAway(msg *Message) {
	reason := msg.Param(0)
	c.mu.Lock()
	c.awayMsg = reason
	c.mu.Unlock()

	if !c.Capability("away-notify") {
		return
	}
	awayMsg := &Message{Prefix: c.Prefix(), Command: "AWAY"}
	if reason != "" {
		awayMsg.Params = []string{reason}
	}
	for chName := range c.joinedSnapshot() {
		if ch, ok := c.server.Channels.Get(chName); ok {
			c.broadcastToChannel(ch, awayMsg, false)
		}
	}
}

func (c *Conn) handleList(msg *Message) {
	for _, ch := range c.server.Channels.List() {
		if ch.Modes().Secret {
			continue
		}
		c.sendNumeric("322", ch.Name, fmt.Sprintf("%d", ch.MemberCount()), topicOrBlank(ch))
	}
	c.sendNumeric("323", "End of /LIST")
}

func topicOrBlank(ch *Channel) string {
	text, _, _, ok := ch.GetTopic()
	if !ok {
		return ""
	}
	return text
}

// handleChatHistory serves a narrow but functional CHATHISTORY surface
// (spec.md §4.4/§6): LATEST and BEFORE subcommands, each batched per
// IRCv3 `chathistory`.
func (c *Conn) handleChatHistory(ctx context.Context, msg *Message) {
	sub := strings.ToUpper(msg.Param(0))
	target := msg.Param(1)
	limit := 50

	var entries []HistoryEntry
	var err error
	switch sub {
	case "LATEST":
		entries, err = c.server.History.Latest(ctx, target, limit)
	case "BEFORE":
		ts, perr := time.Parse(time.RFC3339Nano, msg.Param(2))
		if perr != nil {
			ts = time.Now().UTC()
		}
		entries, err = c.server.History.Before(ctx, target, ts, limit)
	default:
		c.sendNumeric(ERR_UNKNOWNCOMMAND, "CHATHISTORY", "Unknown subcommand")
		return
	}
	if err != nil || len(entries) == 0 {
		return
	}

	batchID := fmt.Sprintf("history-%d", c.id)
	c.sendRaw(&Message{Command: "BATCH", Params: []string{"+" + batchID, "chathistory", target}})
	for _, e := range entries {
		tags := cloneTags(e.Tags)
		tags["batch"] = batchID
		tags["time"] = e.Timestamp.UTC().Format(time.RFC3339Nano)
		c.sendRaw(&Message{Tags: tags, Prefix: e.FromNick, Command: "PRIVMSG", Params: []string{target, e.Text}})
	}
	c.sendRaw(&Message{Command: "BATCH", Params: []string{"-" + batchID}})
}
