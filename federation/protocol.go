package federation

import (
	"encoding/json"
	"fmt"
	"time"
)

// Frame type tags. Every wire frame carries one of these in Type; Body
// is the json.RawMessage payload matching the tagged struct below.
const (
	frameHello        = "hello"
	frameSyncRequest  = "sync_request"
	frameSyncResponse = "sync_response"
	frameJoin         = "join"
	framePart         = "part"
	frameQuit         = "quit"
	frameNick         = "nick"
	frameKick         = "kick"
	frameMode         = "mode"
	frameTopic        = "topic"
	frameMessage      = "message"
	frameHeartbeat    = "heartbeat"
)

// wireFrame is the envelope every S2S record is sent in: a type tag plus
// a raw JSON body, so the read loop can dispatch on Type before
// unmarshaling the specific event (spec.md §9's tagged-variant design).
type wireFrame struct {
	Type string          `json:"type"`
	Body json.RawMessage `json:"body"`
	MAC  []byte          `json:"mac,omitempty"`
}

func newWireFrame(typ string, v interface{}) (*wireFrame, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("federation: marshal %s frame: %w", typ, err)
	}
	return &wireFrame{Type: typ, Body: body}, nil
}

func (f *wireFrame) decode(v interface{}) error {
	return json.Unmarshal(f.Body, v)
}

// HelloFrame opens a link: it names the dialing server and proves
// control of its signing key by signing its PeerID and Timestamp, so the
// accepting side can allowlist-check PeerID before trusting anything
// else on the link. Field names follow the Hello/handshake convention
// of a signed discovery payload (sender id, timestamp, signature).
type HelloFrame struct {
	PeerID      string    `json:"peer_id"`
	Timestamp   time.Time `json:"timestamp"`
	PublicKey   []byte    `json:"public_key"`   // Ed25519 identity key
	Signature   []byte    `json:"signature"`    // signs PeerID+Timestamp
	LinkPublic  []byte    `json:"link_public"`  // X25519 ephemeral for link-MAC derivation
	ProtoVersion int      `json:"proto_version"`
}

// SyncRequest asks the peer to describe its channel state so the two
// sides can reconcile on link-up (spec.md §4.8).
type SyncRequest struct{}

// MemberSnapshot is one remote member of a channel, as advertised in a
// SyncResponse.
type MemberSnapshot struct {
	Nick  string       `json:"nick"`
	DID   string       `json:"did"`
	Modes int          `json:"modes"`
}

// ChannelSnapshot is one channel's full state as advertised in a
// SyncResponse, reconciled against local state using the local-wins
// rule (spec.md §4.6/§4.8).
type ChannelSnapshot struct {
	Name        string           `json:"name"`
	Topic       string           `json:"topic"`
	TopicSetBy  string           `json:"topic_set_by"`
	TopicSetAt  time.Time        `json:"topic_set_at"`
	NoExternal  bool             `json:"no_external"`
	TopicLocked bool             `json:"topic_locked"`
	InviteOnly  bool             `json:"invite_only"`
	Moderated   bool             `json:"moderated"`
	Secret      bool             `json:"secret"`
	Key         string           `json:"key"`
	Limit       int              `json:"limit"`
	Members     []MemberSnapshot `json:"members"`
}

// SyncResponse answers a SyncRequest with every channel the responder
// has at least one local member in.
type SyncResponse struct {
	Channels []ChannelSnapshot `json:"channels"`
}

// JoinEvent propagates a local JOIN to peers.
type JoinEvent struct {
	Channel string `json:"channel"`
	Nick    string `json:"nick"`
	DID     string `json:"did"`
}

// PartEvent propagates a local PART to peers.
type PartEvent struct {
	Channel string `json:"channel"`
	Nick    string `json:"nick"`
	Reason  string `json:"reason"`
}

// QuitEvent propagates a local disconnect to peers.
type QuitEvent struct {
	Nick   string `json:"nick"`
	Reason string `json:"reason"`
}

// NickChangeEvent propagates a local nick change to peers.
type NickChangeEvent struct {
	OldNick string `json:"old_nick"`
	NewNick string `json:"new_nick"`
}

// KickEvent propagates a local KICK to peers.
type KickEvent struct {
	Channel string `json:"channel"`
	Nick    string `json:"nick"`
	By      string `json:"by"`
	Reason  string `json:"reason"`
}

// ModeEvent propagates a local channel MODE change to peers. Args holds
// the mode letters' positional arguments (key/limit/target nick), in
// the same order as Modes lists +/- letters.
type ModeEvent struct {
	Channel   string   `json:"channel"`
	SetterDID string   `json:"setter_did"`
	Modes     string   `json:"modes"`
	Args      []string `json:"args"`
}

// TopicEvent propagates a local TOPIC change to peers.
type TopicEvent struct {
	Channel string `json:"channel"`
	Text    string `json:"text"`
	SetBy   string `json:"set_by"`
}

// MessageEvent propagates a channel PRIVMSG/NOTICE/TAGMSG, or relays a
// direct message to a specific remote nick (ToNick set, Channel empty).
type MessageEvent struct {
	Kind     string            `json:"kind"` // PRIVMSG, NOTICE, TAGMSG
	Channel  string            `json:"channel,omitempty"`
	ToNick   string            `json:"to_nick,omitempty"`
	FromNick string            `json:"from_nick"`
	FromDID  string            `json:"from_did"`
	MsgID    string            `json:"msgid"`
	Tags     map[string]string `json:"tags"`
	Text     string            `json:"text"`
}

// Heartbeat keeps a link alive between events and carries liveness info.
type Heartbeat struct {
	SentAt time.Time `json:"sent_at"`
}
