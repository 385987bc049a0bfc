package federation

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/didirc/icd/identity"
	"github.com/didirc/icd/internal/logger"
	"github.com/didirc/icd/internal/metrics"
	"github.com/didirc/icd/ircd"
)

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
	protoVersion     = 1
)

// Config configures one Engine instance.
type Config struct {
	ServerID          string
	ListenAddr        string // "" disables the inbound acceptor
	Peers             []PeerSpec
	HeartbeatInterval time.Duration
	HeartbeatGrace    time.Duration
	ReconnectMinDelay time.Duration
	ReconnectMaxDelay time.Duration

	// SigningKey authenticates this server's identity during Hello.
	SigningKey ed25519.PrivateKey
	// PeerPublicKeys allowlists the peers this server accepts links
	// from/to, keyed by PeerID. A peer absent from this map (inbound)
	// or from Peers (outbound) is refused.
	PeerPublicKeys map[string]ed25519.PublicKey
}

// Engine is the S2S federation mesh: it implements ircd.Federator to
// emit local events to every active peer, and applies inbound events
// against the shared registry/channel state.
type Engine struct {
	cfg Config
	srv *ircd.Server
	log logger.Logger

	mu    sync.RWMutex
	peers map[string]*Peer

	remoteMu sync.Mutex
	remotes  map[identity.DID]*RemoteSession

	upgrader websocket.Upgrader
	httpSrv  *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New assembles an Engine bound to srv. Call Start to begin dialing
// peers and (if ListenAddr is set) accepting inbound links.
func New(cfg Config, srv *ircd.Server, log logger.Logger) *Engine {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	return &Engine{
		cfg:     cfg,
		srv:     srv,
		log:     log,
		peers:   make(map[string]*Peer),
		remotes: make(map[identity.DID]*RemoteSession),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Start launches the inbound acceptor (if configured) and a dialer
// goroutine per allowlisted peer. It returns once the acceptor, if any,
// is listening; the dialers run in the background until Stop.
func (e *Engine) Start(ctx context.Context) error {
	e.ctx, e.cancel = context.WithCancel(ctx)

	if e.cfg.ListenAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/federation/ws", e.handleInbound)
		e.httpSrv = &http.Server{Addr: e.cfg.ListenAddr, Handler: mux}
		ln, err := net.Listen("tcp", e.cfg.ListenAddr)
		if err != nil {
			return fmt.Errorf("federation: listen %s: %w", e.cfg.ListenAddr, err)
		}
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := e.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
				e.log.Error("federation acceptor stopped", logger.Error(err))
			}
		}()
	}

	for _, p := range e.cfg.Peers {
		spec := p
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.dialLoop(spec)
		}()
	}

	return nil
}

// Stop tears down every active link and the inbound acceptor.
func (e *Engine) Stop() error {
	if e.cancel != nil {
		e.cancel()
	}
	if e.httpSrv != nil {
		_ = e.httpSrv.Close()
	}
	e.mu.Lock()
	for _, p := range e.peers {
		p.close()
	}
	e.mu.Unlock()
	e.wg.Wait()
	return nil
}

// PeerCount reports the number of currently active peer links, for
// health reporting.
func (e *Engine) PeerCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.peers)
}

// dialLoop repeatedly dials spec with exponential backoff until the
// engine is stopped, running the peer session to completion each time
// it connects (spec.md §4.8 reconnect-with-backoff requirement).
func (e *Engine) dialLoop(spec PeerSpec) {
	delay := e.cfg.ReconnectMinDelay
	if delay <= 0 {
		delay = time.Second
	}
	maxDelay := e.cfg.ReconnectMaxDelay
	if maxDelay <= 0 {
		maxDelay = 60 * time.Second
	}

	for {
		select {
		case <-e.ctx.Done():
			return
		default:
		}

		start := time.Now()
		if err := e.dialOnce(spec); err != nil {
			e.log.Warn("federation dial failed", logger.String("peer_id", spec.PeerID), logger.Error(err))
		}
		metrics.PeerReconnects.WithLabelValues(spec.PeerID).Inc()

		// A link that stayed up a while resets the backoff.
		if time.Since(start) > maxDelay {
			delay = e.cfg.ReconnectMinDelay
			if delay <= 0 {
				delay = time.Second
			}
		}

		select {
		case <-e.ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

func (e *Engine) dialOnce(spec PeerSpec) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(e.ctx, spec.Addr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	p, err := e.handshakeOutbound(conn, spec)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("handshake: %w", err)
	}

	e.registerPeer(p)
	e.runPeer(p)
	e.unregisterPeer(p)
	return nil
}

func (e *Engine) handleInbound(w http.ResponseWriter, r *http.Request) {
	conn, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		e.log.Warn("federation upgrade failed", logger.Error(err))
		return
	}

	p, err := e.handshakeInbound(conn)
	if err != nil {
		e.log.Warn("federation inbound handshake failed", logger.Error(err))
		_ = conn.Close()
		return
	}

	e.registerPeer(p)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runPeer(p)
		e.unregisterPeer(p)
	}()
}

// buildHello constructs this server's signed Hello frame around a fresh
// ephemeral X25519 key pair, returning the frame and the private half
// needed to derive the link-MAC key once the peer's Hello arrives.
func (e *Engine) buildHello() (HelloFrame, x25519Priv, error) {
	linkPub, linkPriv, err := generateLinkKeyPair()
	if err != nil {
		return HelloFrame{}, x25519Priv{}, err
	}

	now := time.Now().UTC()
	signed := []byte(e.cfg.ServerID + "|" + now.Format(time.RFC3339Nano))
	sig := ed25519.Sign(e.cfg.SigningKey, signed)

	hello := HelloFrame{
		PeerID:       e.cfg.ServerID,
		Timestamp:    now,
		PublicKey:    []byte(e.cfg.SigningKey.Public().(ed25519.PublicKey)),
		Signature:    sig,
		LinkPublic:   linkPub[:],
		ProtoVersion: protoVersion,
	}
	return hello, x25519Priv{priv: linkPriv}, nil
}

// x25519Priv avoids leaking the circl Key array type through this
// file's exported-looking helper signatures.
type x25519Priv struct{ priv [32]byte }

func (e *Engine) verifyHello(h HelloFrame, wantPeerID string) error {
	if h.PeerID != wantPeerID {
		return fmt.Errorf("peer_id mismatch: got %q want %q", h.PeerID, wantPeerID)
	}
	pub, ok := e.cfg.PeerPublicKeys[h.PeerID]
	if !ok {
		return fmt.Errorf("peer %q not allowlisted", h.PeerID)
	}
	signed := []byte(h.PeerID + "|" + h.Timestamp.Format(time.RFC3339Nano))
	if !ed25519.Verify(pub, signed, h.Signature) {
		return errors.New("hello signature verification failed")
	}
	if time.Since(h.Timestamp) > handshakeTimeout*3 {
		return errors.New("hello timestamp too old")
	}
	return nil
}

func (e *Engine) handshakeOutbound(conn *websocket.Conn, spec PeerSpec) (*Peer, error) {
	start := time.Now()
	defer func() { metrics.HandshakeDuration.Observe(time.Since(start).Seconds()) }()

	_ = conn.SetWriteDeadline(time.Now().Add(handshakeTimeout))
	hello, linkPriv, err := e.buildHello()
	if err != nil {
		return nil, err
	}
	helloFr, err := newWireFrame(frameHello, hello)
	if err != nil {
		return nil, err
	}
	if err := conn.WriteJSON(helloFr); err != nil {
		return nil, fmt.Errorf("send hello: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	var fr wireFrame
	if err := conn.ReadJSON(&fr); err != nil || fr.Type != frameHello {
		return nil, fmt.Errorf("read peer hello: %w", err)
	}
	var peerHello HelloFrame
	if err := fr.decode(&peerHello); err != nil {
		return nil, fmt.Errorf("decode peer hello: %w", err)
	}
	if err := e.verifyHello(peerHello, spec.PeerID); err != nil {
		return nil, err
	}

	macKey, err := deriveLinkMACKey(linkPriv.priv, peerHello.LinkPublic, e.cfg.ServerID, spec.PeerID)
	if err != nil {
		return nil, err
	}

	p := newPeer(spec.PeerID, conn)
	p.macKey = macKey

	if err := p.writeFrame(frameSyncRequest, SyncRequest{}); err != nil {
		return nil, fmt.Errorf("send sync request: %w", err)
	}
	p.setState(PeerSyncing)

	return p, nil
}

func (e *Engine) handshakeInbound(conn *websocket.Conn) (*Peer, error) {
	start := time.Now()
	defer func() { metrics.HandshakeDuration.Observe(time.Since(start).Seconds()) }()

	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	var fr wireFrame
	if err := conn.ReadJSON(&fr); err != nil || fr.Type != frameHello {
		return nil, fmt.Errorf("read hello: %w", err)
	}
	var peerHello HelloFrame
	if err := fr.decode(&peerHello); err != nil {
		return nil, fmt.Errorf("decode hello: %w", err)
	}
	if _, ok := e.cfg.PeerPublicKeys[peerHello.PeerID]; !ok {
		return nil, fmt.Errorf("peer %q not allowlisted", peerHello.PeerID)
	}
	if err := e.verifyHello(peerHello, peerHello.PeerID); err != nil {
		return nil, err
	}

	_ = conn.SetWriteDeadline(time.Now().Add(handshakeTimeout))
	hello, linkPriv, err := e.buildHello()
	if err != nil {
		return nil, err
	}
	helloFr, err := newWireFrame(frameHello, hello)
	if err != nil {
		return nil, err
	}
	if err := conn.WriteJSON(helloFr); err != nil {
		return nil, fmt.Errorf("send hello: %w", err)
	}

	macKey, err := deriveLinkMACKey(linkPriv.priv, peerHello.LinkPublic, e.cfg.ServerID, peerHello.PeerID)
	if err != nil {
		return nil, err
	}

	p := newPeer(peerHello.PeerID, conn)
	p.macKey = macKey
	p.setState(PeerSyncing)
	return p, nil
}

func (e *Engine) registerPeer(p *Peer) {
	e.mu.Lock()
	e.peers[p.ID] = p
	e.mu.Unlock()
	metrics.PeerLinksActive.Inc()
	e.log.Info("federation peer link established", logger.String("peer_id", p.ID))
}

func (e *Engine) unregisterPeer(p *Peer) {
	e.mu.Lock()
	if e.peers[p.ID] == p {
		delete(e.peers, p.ID)
	}
	e.mu.Unlock()
	metrics.PeerLinksActive.Dec()
	e.log.Info("federation peer link closed", logger.String("peer_id", p.ID))
	e.purgePeer(p.ID)
}

// runPeer drives one established link until it fails: a heartbeat
// ticker writes Heartbeat frames while readLoop blocks on inbound
// frames and dispatches them, mirroring the reader/writer split the
// client-facing connection actor uses (spec.md §5).
func (e *Engine) runPeer(p *Peer) {
	p.setState(PeerActive)
	interval := e.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	grace := e.cfg.HeartbeatGrace
	if grace <= 0 {
		grace = 3 * interval
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.readLoop(p)
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			p.setState(PeerDisconnected)
			p.close()
			return
		case <-e.ctx.Done():
			p.close()
			<-done
			return
		case <-ticker.C:
			if time.Since(p.LastHeartbeat()) > grace {
				e.log.Warn("federation peer heartbeat timeout", logger.String("peer_id", p.ID))
				p.close()
				<-done
				return
			}
			if err := p.writeFrame(frameHeartbeat, Heartbeat{SentAt: time.Now().UTC()}); err != nil {
				p.close()
				<-done
				return
			}
		}
	}
}

func (e *Engine) readLoop(p *Peer) {
	for {
		_ = p.conn.SetReadDeadline(time.Time{})
		var fr wireFrame
		if err := p.conn.ReadJSON(&fr); err != nil {
			return
		}
		if p.macKey != nil && !verifyFrameMAC(p.macKey, fr.Body, fr.MAC) {
			e.log.Warn("federation frame MAC mismatch, dropping link", logger.String("peer_id", p.ID))
			return
		}
		p.touch()
		e.dispatch(p, &fr)
	}
}

func (e *Engine) dispatch(p *Peer, fr *wireFrame) {
	switch fr.Type {
	case frameHeartbeat:
		// touch() above already recorded liveness.
	case frameSyncRequest:
		resp := e.buildSyncSnapshot()
		if err := p.writeFrame(frameSyncResponse, resp); err != nil {
			e.log.Warn("federation sync response failed", logger.String("peer_id", p.ID), logger.Error(err))
		}
	case frameSyncResponse:
		var ev SyncResponse
		if fr.decode(&ev) == nil {
			e.applySyncResponse(p, ev)
		}
	case frameJoin:
		var ev JoinEvent
		if fr.decode(&ev) == nil {
			e.applyJoin(p, ev)
		}
	case framePart:
		var ev PartEvent
		if fr.decode(&ev) == nil {
			e.applyPart(p, ev)
		}
	case frameQuit:
		var ev QuitEvent
		if fr.decode(&ev) == nil {
			e.applyQuit(p, ev)
		}
	case frameNick:
		var ev NickChangeEvent
		if fr.decode(&ev) == nil {
			e.applyNick(p, ev)
		}
	case frameKick:
		var ev KickEvent
		if fr.decode(&ev) == nil {
			e.applyKick(p, ev)
		}
	case frameMode:
		var ev ModeEvent
		if fr.decode(&ev) == nil {
			e.applyMode(p, ev)
		}
	case frameTopic:
		var ev TopicEvent
		if fr.decode(&ev) == nil {
			e.applyTopic(p, ev)
		}
	case frameMessage:
		var ev MessageEvent
		if fr.decode(&ev) == nil {
			e.applyMessage(p, ev)
		}
	default:
		e.log.Debug("federation unknown frame type", logger.String("type", fr.Type))
	}
}

// broadcast writes a frame to every active peer. Used by the
// ircd.Federator methods below to fan a local event out to the mesh.
func (e *Engine) broadcast(kind, typ string, v interface{}) {
	e.mu.RLock()
	peers := make([]*Peer, 0, len(e.peers))
	for _, p := range e.peers {
		peers = append(peers, p)
	}
	e.mu.RUnlock()

	metrics.EventsPropagated.WithLabelValues(kind).Inc()
	for _, p := range peers {
		if err := p.writeFrame(typ, v); err != nil {
			e.log.Warn("federation propagate failed", logger.String("peer_id", p.ID), logger.String("kind", kind), logger.Error(err))
		}
	}
}

