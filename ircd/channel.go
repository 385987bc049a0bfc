package ircd

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/didirc/icd/internal/metrics"
)

// MemberMode is a per-user channel privilege.
type MemberMode int

const (
	ModeNone MemberMode = 0
	ModeVoice MemberMode = 1 << iota
	ModeHalfOp
	ModeOp
)

// Prefix returns the NAMES display prefix for the highest mode held,
// in @ > % > + priority order.
func (m MemberMode) Prefix() string {
	switch {
	case m&ModeOp != 0:
		return "@"
	case m&ModeHalfOp != 0:
		return "%"
	case m&ModeVoice != 0:
		return "+"
	default:
		return ""
	}
}

// AllPrefixes returns every applicable prefix, for multi-prefix clients.
func (m MemberMode) AllPrefixes() string {
	var b strings.Builder
	if m&ModeOp != 0 {
		b.WriteByte('@')
	}
	if m&ModeHalfOp != 0 {
		b.WriteByte('%')
	}
	if m&ModeVoice != 0 {
		b.WriteByte('+')
	}
	return b.String()
}

// Member is one channel participant.
type Member struct {
	Session Session
	Modes   MemberMode
}

// Channel holds a channel's modes, membership, and moderation lists.
// Canonicalized (lowercase) name; keyed membership by lowercase nick,
// not by session reference, so teardown is a table delete rather than a
// graph walk (the arena-and-index discipline of spec.md §9).
type Channel struct {
	mu sync.RWMutex

	Name       string // canonical, lowercase, leading '#'
	Topic      string
	TopicSetBy string
	TopicSetAt time.Time

	NoExternal  bool // +n
	TopicLocked bool // +t
	InviteOnly  bool // +i
	Moderated   bool // +m
	Secret      bool // +s
	Key         string
	Limit       int

	members map[string]*Member // lowercase nick -> member
	invited map[string]bool    // lowercase nick -> invited
	bans    []string
	excepts []string
}

// NewChannel creates a channel with the default +nt modes a freshly
// created channel and a SyncResponse-originated channel both start with,
// per spec.md §4.8.
func NewChannel(name string) *Channel {
	return &Channel{
		Name:        CanonicalChannel(name),
		NoExternal:  true,
		TopicLocked: true,
		members:     make(map[string]*Member),
		invited:     make(map[string]bool),
	}
}

// CanonicalChannel lowercases a channel name for use as a table key.
func CanonicalChannel(name string) string {
	return strings.ToLower(name)
}

// MemberCount returns the current membership size.
func (c *Channel) MemberCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.members)
}

// IsEmpty reports whether the channel has no members and should be
// auto-destroyed.
func (c *Channel) IsEmpty() bool {
	return c.MemberCount() == 0
}

// Member looks up a member by nick, case-insensitively.
func (c *Channel) Member(nick string) (*Member, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.members[registryCanon(nick)]
	return m, ok
}

// Members returns a snapshot of current members.
func (c *Channel) Members() []*Member {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Member, 0, len(c.members))
	for _, m := range c.members {
		out = append(out, m)
	}
	return out
}

// Invite adds nick to the invite-list, lifting the +i check for it.
func (c *Channel) Invite(nick string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invited[registryCanon(nick)] = true
}

// Ban adds a ban mask. Matching uses a simple case-insensitive
// substring-of-nick!user@host match; full glob matching is a documented
// gap (spec.md carries no ban-mask-syntax requirement).
func (c *Channel) Ban(mask string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bans = append(c.bans, strings.ToLower(mask))
}

// Except adds a ban-exception mask.
func (c *Channel) Except(mask string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.excepts = append(c.excepts, strings.ToLower(mask))
}

func (c *Channel) isBanned(mask string) bool {
	mask = strings.ToLower(mask)
	for _, e := range c.excepts {
		if strings.Contains(mask, e) {
			return false
		}
	}
	for _, b := range c.bans {
		if strings.Contains(mask, b) {
			return true
		}
	}
	return false
}

// CheckJoin runs the §4.6 join preconditions (steps 2-6) without
// mutating membership. The caller (Router/Conn) applies the founder-op
// and fan-out side effects after a successful check.
func (c *Channel) CheckJoin(ctx context.Context, nick, mask, key string, policy JoinPolicy, did string) error {
	c.mu.RLock()
	inviteOnly := c.InviteOnly
	invited := c.invited[registryCanon(nick)]
	hasKey := c.Key != ""
	wantKey := c.Key
	hasLimit := c.Limit > 0
	limit := c.Limit
	count := len(c.members)
	banned := c.isBanned(mask)
	c.mu.RUnlock()

	if inviteOnly && !invited {
		return ErrInviteOnly
	}
	if banned {
		return ErrBanned
	}
	if hasKey && key != wantKey {
		return ErrBadKey
	}
	if hasLimit && count >= limit {
		return ErrChannelFull
	}
	if policy != nil {
		if allowed, reason := policy.AllowJoin(ctx, did, c.Name); !allowed {
			return &policyError{reason: reason}
		}
	}
	return nil
}

type policyError struct{ reason string }

func (e *policyError) Error() string { return e.reason }
func (e *policyError) Unwrap() error { return ErrPolicyDenied }

// AddMember inserts session as a member, granting +o if this join
// created the channel (founder auto-op).
func (c *Channel) AddMember(s Session, founder bool) *Member {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := &Member{Session: s}
	if founder {
		m.Modes |= ModeOp
	}
	c.members[registryCanon(s.Nick())] = m
	metrics.ChannelMembers.WithLabelValues(c.Name).Set(float64(len(c.members)))
	return m
}

// RemoveMember removes nick from membership (PART/QUIT/KICK).
func (c *Channel) RemoveMember(nick string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.members, registryCanon(nick))
	metrics.ChannelMembers.WithLabelValues(c.Name).Set(float64(len(c.members)))
}

// RenameMember moves a member's key after a NICK change.
func (c *Channel) RenameMember(oldNick, newNick string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := registryCanon(oldNick)
	if m, ok := c.members[key]; ok {
		delete(c.members, key)
		c.members[registryCanon(newNick)] = m
	}
}

// SetMode applies or clears a per-user mode; requires the setter to
// currently hold +o (enforced by the caller via RequireOp).
func (c *Channel) SetMode(nick string, mode MemberMode, add bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.members[registryCanon(nick)]
	if !ok {
		return
	}
	if add {
		m.Modes |= mode
	} else {
		m.Modes &^= mode
	}
}

// IsOp reports whether nick currently holds +o.
func (c *Channel) IsOp(nick string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.members[registryCanon(nick)]
	return ok && m.Modes&ModeOp != 0
}

// IsOpByDID reports whether did names a member of this channel, as
// known locally, who currently holds +o. Used to check a federated
// MODE/KICK event's claimed acting identity against the local view of
// channel authority (spec.md §4.6): an empty did never matches.
func (c *Channel) IsOpByDID(did string) bool {
	if did == "" {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, m := range c.members {
		if string(m.Session.DID()) == did && m.Modes&ModeOp != 0 {
			return true
		}
	}
	return false
}

// CanSpeak reports whether nick may send given +n/+m (the router's
// enforcement, kept here since it only needs membership/mode state).
func (c *Channel) CanSpeak(nick string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, isMember := c.members[registryCanon(nick)]
	if c.NoExternal && !isMember {
		return false
	}
	if c.Moderated {
		return isMember && m.Modes != ModeNone
	}
	return true
}

// NamesList formats the NAMES reply body: each member's nick prefixed
// by its highest-priority mode symbol (or every applicable symbol when
// multiPrefix is requested).
func (c *Channel) NamesList(multiPrefix bool) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.members))
	for _, m := range c.members {
		prefix := m.Modes.Prefix()
		if multiPrefix {
			prefix = m.Modes.AllPrefixes()
		}
		names = append(names, prefix+m.Session.Nick())
	}
	return names
}

func registryCanon(nick string) string {
	return strings.ToLower(nick)
}

// GetTopic returns the current topic, its setter, the time it was set,
// and whether a topic has ever been set.
func (c *Channel) GetTopic() (text, setBy string, at time.Time, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Topic, c.TopicSetBy, c.TopicSetAt, c.Topic != "" || !c.TopicSetAt.IsZero()
}

// SetTopic sets the topic text and records who set it and when. A
// SyncResponse (§4.8) does not call this; it uses SetTopicIfEmpty.
// Locally originated TOPIC always calls it after the +t authority check.
func (c *Channel) SetTopic(text, setBy string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Topic = text
	c.TopicSetBy = setBy
	c.TopicSetAt = time.Now().UTC()
}

// ChannelModes is a read-only snapshot of channel-wide mode state.
type ChannelModes struct {
	NoExternal, TopicLocked, InviteOnly, Moderated, Secret bool
	Key                                                    string
	Limit                                                  int
}

// Modes returns a snapshot of the channel-wide mode set.
func (c *Channel) Modes() ChannelModes {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ChannelModes{
		NoExternal: c.NoExternal, TopicLocked: c.TopicLocked, InviteOnly: c.InviteOnly,
		Moderated: c.Moderated, Secret: c.Secret, Key: c.Key, Limit: c.Limit,
	}
}

// ApplyChannelMode toggles a single channel-wide mode letter, returning
// whether the letter was recognized. Authority (requiring +o) is the
// caller's responsibility (spec.md §4.6 mode authority).
func (c *Channel) ApplyChannelMode(letter byte, add bool, arg string) (recognized bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch letter {
	case 'n':
		c.NoExternal = add
	case 't':
		c.TopicLocked = add
	case 'i':
		c.InviteOnly = add
	case 'm':
		c.Moderated = add
	case 's':
		c.Secret = add
	case 'k':
		if add {
			c.Key = arg
		} else {
			c.Key = ""
		}
	case 'l':
		if add {
			n := 0
			for _, r := range arg {
				if r < '0' || r > '9' {
					n = 0
					break
				}
				n = n*10 + int(r-'0')
			}
			c.Limit = n
		} else {
			c.Limit = 0
		}
	default:
		return false
	}
	return true
}

// SetTopicIfEmpty adopts a remote topic only when the local topic is
// unset, per the SyncResponse reconciliation rule (spec.md §4.8).
func (c *Channel) SetTopicIfEmpty(text, setBy string, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Topic != "" {
		return
	}
	c.Topic = text
	c.TopicSetBy = setBy
	c.TopicSetAt = at
}

// WeakenGuard reports whether applying (letter, add=false) would weaken
// a mode a SyncResponse must never relax (§4.8: SyncResponse MUST NOT
// weaken local +n/+i/+t/+m).
func (c *Channel) WeakenGuard(letter byte, add bool) bool {
	if add {
		return false
	}
	switch letter {
	case 'n', 'i', 't', 'm':
		return true
	default:
		return false
	}
}
