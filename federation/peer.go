// Package federation implements the S2S peer mesh: a websocket link per
// allowlisted neighbor server, carrying a signed Hello handshake, a
// state sync exchange, and tagged event frames (join/part/quit/nick/
// kick/mode/topic/message/heartbeat).
package federation

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// PeerState is a link's lifecycle stage.
type PeerState int

const (
	PeerConnecting PeerState = iota
	PeerHandshaking
	PeerSyncing
	PeerActive
	PeerDisconnected
)

// PeerSpec names an allowlisted federation neighbor to dial. Declared
// locally (rather than importing config.PeerConfig) so this package has
// no dependency on the config package; server/server.go translates
// config.PeerConfig into PeerSpec at wiring time.
type PeerSpec struct {
	PeerID string
	Addr   string
}

// Peer is one S2S link's runtime state.
type Peer struct {
	ID   string
	Addr string

	mu            sync.Mutex
	state         PeerState
	conn          *websocket.Conn
	macKey        []byte
	lastHeartbeat time.Time
	writeMu       sync.Mutex
}

func newPeer(id string, conn *websocket.Conn) *Peer {
	return &Peer{
		ID:            id,
		conn:          conn,
		state:         PeerHandshaking,
		lastHeartbeat: time.Now().UTC(),
	}
}

// State returns the peer's current lifecycle stage.
func (p *Peer) State() PeerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Peer) setState(s PeerState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// LastHeartbeat returns the last time this peer was heard from (a
// Heartbeat frame or any applied event both count).
func (p *Peer) LastHeartbeat() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastHeartbeat
}

func (p *Peer) touch() {
	p.mu.Lock()
	p.lastHeartbeat = time.Now().UTC()
	p.mu.Unlock()
}

// writeFrame serializes v as the JSON payload of a typ-tagged wire
// frame and writes it to the link. Safe for concurrent callers — the
// heartbeat ticker and propagation calls from many connection actors
// can race on the same peer.
func (p *Peer) writeFrame(typ string, v interface{}) error {
	fr, err := newWireFrame(typ, v)
	if err != nil {
		return err
	}
	if p.macKey != nil {
		fr.MAC = macFrame(p.macKey, fr.Body)
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return p.conn.WriteJSON(fr)
}

func (p *Peer) close() {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()
}
