package ircd

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/didirc/icd/identity"
	"github.com/didirc/icd/internal/logger"
	"github.com/didirc/icd/internal/metrics"
)

// outboxCapacity bounds a connection's outbound queue; a slow reader
// backs up here rather than unbounded server memory growth.
const outboxCapacity = 256

// Conn is the per-client connection actor (spec.md §4.4): a
// single-threaded cooperative task (one reader goroutine, one writer
// goroutine draining its own outbox) owning a session's registration
// state, capabilities, joined-channel set, SASL state, nick, and DID.
type Conn struct {
	id     uint64
	server *Server
	net    net.Conn
	host   string
	out    chan string
	closed chan struct{}
	closeOnce sync.Once

	// log is scoped to this connection's session id (spec.md §3), so
	// every entry it emits is correlated back to one client without
	// re-passing the id at each call site.
	log logger.Logger

	mu         sync.Mutex
	nick       string
	user       string
	realname   string
	did        identity.DID
	atHandle   string
	pdsURL     string
	state      State
	caps       map[string]bool
	capLS      bool
	joined     map[string]bool
	awayMsg    string
	saslBuf    strings.Builder
	saslActive bool
	quitReason string
}

// NewConn wraps an accepted TCP connection as a connection actor.
func NewConn(server *Server, netConn net.Conn) *Conn {
	host, _, _ := net.SplitHostPort(netConn.RemoteAddr().String())
	id := server.NextSessionID()
	c := &Conn{
		id:     id,
		server: server,
		net:    netConn,
		host:   host,
		out:    make(chan string, outboxCapacity),
		closed: make(chan struct{}),
		state:  StateUnregistered,
		caps:   make(map[string]bool),
		joined: make(map[string]bool),
		log:    server.Log.WithContext(logger.WithSessionID(context.Background(), id)),
	}
	server.Registry.RegisterConnection(c)
	return c
}

// SessionID implements Session.
func (c *Conn) SessionID() uint64 { return c.id }

// Nick implements Session.
func (c *Conn) Nick() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nick
}

// DID implements Session.
func (c *Conn) DID() identity.DID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.did
}

// IsLocal implements Session: always true for a real connection actor.
func (c *Conn) IsLocal() bool { return true }

// ATHandle implements Session, returning the AT handle resolved from the
// SASL-verified DID document's alsoKnownAs (empty before SASL success).
func (c *Conn) ATHandle() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.atHandle
}

// Capability implements Session.
func (c *Conn) Capability(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.caps[name]
}

// Prefix renders this session's IRC source prefix ("nick!user@host").
func (c *Conn) Prefix() string {
	c.mu.Lock()
	nick, user := c.nick, c.user
	c.mu.Unlock()
	if user == "" {
		user = "unknown"
	}
	return fmt.Sprintf("%s!%s@%s", nick, user, c.host)
}

// Send implements Session: enqueues line for the writer goroutine.
// Never blocks indefinitely — a full outbox means the peer is not
// draining and the connection is killed (spec.md §5 bounded outbox).
func (c *Conn) Send(line string) {
	select {
	case c.out <- line:
	case <-c.closed:
	default:
		// Outbox full: drop the slow connection rather than block the
		// fan-out loop that enqueued this on our behalf.
		c.Disconnect("outbox overflow")
	}
}

// sendNumeric formats and sends a server numeric reply.
func (c *Conn) sendNumeric(numeric string, params ...string) {
	nick := c.Nick()
	if nick == "" {
		nick = "*"
	}
	all := append([]string{nick}, params...)
	msg := &Message{Prefix: c.server.Config.Name, Command: numeric, Params: all}
	c.Send(msg.Serialize())
}

// Disconnect implements Session: marks the session Quitting and closes
// the underlying socket, unblocking the reader loop. Safe to call more
// than once and from any goroutine.
func (c *Conn) Disconnect(reason string) {
	c.mu.Lock()
	c.state = StateQuitting
	c.quitReason = reason
	c.mu.Unlock()

	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.net.Close()
	})
}

// Run drives the connection until the socket closes or Disconnect is
// called: a writer goroutine drains the outbox while this goroutine
// reads and dispatches lines. Returns once both sides have stopped.
func (c *Conn) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writeLoop()
	}()

	c.readLoop(ctx)

	c.teardown()
	wg.Wait()
}

func (c *Conn) writeLoop() {
	for {
		select {
		case line, ok := <-c.out:
			if !ok {
				return
			}
			_, err := c.net.Write([]byte(line + "\r\n"))
			if err != nil {
				c.Disconnect("write error")
				return
			}
		case <-c.closed:
			// Drain remaining best-effort (QUIT/ERROR lines already
			// enqueued) before returning.
			for {
				select {
				case line := <-c.out:
					_, _ = c.net.Write([]byte(line + "\r\n"))
				default:
					return
				}
			}
		}
	}
}

func (c *Conn) readLoop(ctx context.Context) {
	reader := bufio.NewReaderSize(c.net, maxLineLength*2)
	if pt := c.server.Config.PingTimeout; pt > 0 {
		_ = c.net.SetReadDeadline(time.Now().Add(pt))
	}

	for {
		select {
		case <-c.closed:
			return
		default:
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		if pt := c.server.Config.PingTimeout; pt > 0 {
			_ = c.net.SetReadDeadline(time.Now().Add(pt))
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}

		msg, ok := ParseMessage(line)
		if !ok {
			// Malformed line: dropped silently per spec.md §4.1.
			c.log.Debug("dropped malformed line")
			continue
		}

		start := time.Now()
		c.Dispatch(ctx, msg)
		metrics.CommandDuration.WithLabelValues(strings.ToLower(msg.Command)).Observe(time.Since(start).Seconds())
	}
}

// teardown runs on socket close or explicit Disconnect: best-effort
// fan-out of a final QUIT to every channel the session was in, then
// unbind from the registry (spec.md §5 "Connection close").
func (c *Conn) teardown() {
	c.mu.Lock()
	reason := c.quitReason
	if reason == "" {
		reason = "Client disconnected"
	}
	joined := make([]string, 0, len(c.joined))
	for ch := range c.joined {
		joined = append(joined, ch)
	}
	nick := c.nick
	c.mu.Unlock()

	for _, chName := range joined {
		if ch, ok := c.server.Channels.Get(chName); ok {
			c.fanOutQuit(ch, nick, reason)
			ch.RemoveMember(nick)
			c.server.Channels.DestroyIfEmpty(chName)
		}
	}

	c.server.Federator.PropagateQuit(nick, reason)
	c.server.Registry.Unbind(c)
	metrics.ConnectionsClosed.WithLabelValues(closeReasonLabel(reason)).Inc()
	close(c.out)
}

func closeReasonLabel(reason string) string {
	switch {
	case strings.Contains(reason, "same identity reconnected"):
		return "ghosted"
	case strings.Contains(reason, "error"):
		return "error"
	case reason == "":
		return "unknown"
	default:
		return "quit"
	}
}

func (c *Conn) fanOutQuit(ch *Channel, nick, reason string) {
	msg := &Message{Prefix: nick, Command: "QUIT", Params: []string{reason}}
	line := msg.Serialize()
	for _, m := range ch.Members() {
		if m.Session.SessionID() != c.id {
			m.Session.Send(line)
		}
	}
}

func (c *Conn) addJoined(channel string) {
	c.mu.Lock()
	c.joined[CanonicalChannel(channel)] = true
	c.mu.Unlock()
}

func (c *Conn) removeJoined(channel string) {
	c.mu.Lock()
	delete(c.joined, CanonicalChannel(channel))
	c.mu.Unlock()
}

func (c *Conn) isJoined(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joined[CanonicalChannel(channel)]
}
