package connection

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/eapache/queue"
	"go.uber.org/zap"

	"github.com/wricardo/gamerelay/game/packet"
	"github.com/wricardo/gamerelay/metrics"
	"github.com/wricardo/gamerelay/transport/sockio"
	"github.com/wricardo/gamerelay/transport/websocket"
)

// Options tunes a Manager.
type Options struct {
	// MaxPayload bounds a single inbound frame. Zero selects websocket.DefaultMaxPayload.
	MaxPayload int
	// ReadBufferSize is the size of one socket read.
	ReadBufferSize int
	// WriteTimeout bounds the write of one connection's queued frames during Flush.
	WriteTimeout time.Duration
	// AllowUnmasked accepts client frames without a masking key.
	AllowUnmasked bool
}

// DefaultOptions returns the options used by the server.
func DefaultOptions() Options {
	return Options{
		MaxPayload:     websocket.DefaultMaxPayload,
		ReadBufferSize: 4096,
		WriteTimeout:   time.Second,
	}
}

type conn struct {
	id          ID
	nc          net.Conn
	state       State
	token       packet.Token
	hasToken    bool
	remote      string
	connectedAt time.Time

	inbound  []byte
	outbound *queue.Queue
	polled   bool

	bytesIn, bytesOut   uint64
	framesIn, framesOut uint64
}

// Manager owns every live connection.
//
// A Manager is not safe for concurrent use. It belongs to the network loop and
// every other goroutine reaches it through messages.
type Manager struct {
	opts Options
	log  *zap.Logger

	nextID ID
	conns  map[ID]*conn
	order  []ID
	cursor int

	newSessions  *queue.Queue
	authAttempts *queue.Queue

	readBuf  []byte
	writeBuf []byte
}

// NewManager creates an empty manager.
func NewManager(opts Options, log *zap.Logger) *Manager {
	if opts.MaxPayload <= 0 {
		opts.MaxPayload = websocket.DefaultMaxPayload
	}
	if opts.ReadBufferSize <= 0 {
		opts.ReadBufferSize = 4096
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		opts:         opts,
		log:          log,
		conns:        make(map[ID]*conn),
		newSessions:  queue.New(),
		authAttempts: queue.New(),
		readBuf:      make([]byte, opts.ReadBufferSize),
	}
}

// Register adopts a socket that completed the websocket handshake. buffered
// holds any bytes read past the handshake and is processed before the socket.
func (m *Manager) Register(nc net.Conn, buffered []byte) ID {
	m.nextID++
	c := &conn{
		id:          m.nextID,
		nc:          nc,
		state:       Connected,
		connectedAt: time.Now(),
		outbound:    queue.New(),
	}
	if addr := nc.RemoteAddr(); addr != nil {
		c.remote = addr.String()
	}
	if len(buffered) > 0 {
		c.inbound = append([]byte(nil), buffered...)
	}

	m.conns[c.id] = c
	m.order = append(m.order, c.id)

	m.log.Info("connection registered",
		zap.Uint64("conn", uint64(c.id)),
		zap.String("remote_addr", c.remote))
	return c.id
}

// TryReadOne returns the next application packet from any connection.
//
// Connections are visited in ID order. Each one gets at most one socket read
// per pass; when a pass completes without producing a packet, TryReadOne
// returns false and the next call starts a new pass. Control frames and the
// session packets RequestNewSession and AttemptAuthSession are handled here and
// never returned.
func (m *Manager) TryReadOne() (ID, packet.Packet, bool) {
	for m.cursor < len(m.order) {
		c := m.conns[m.order[m.cursor]]
		if c != nil && c.state != Closed {
			if p, ok := m.nextPacket(c); ok {
				return c.id, p, true
			}
		}
		m.cursor++
	}

	m.cursor = 0
	for _, c := range m.conns {
		c.polled = false
	}
	return 0, nil, false
}

func (m *Manager) nextPacket(c *conn) (packet.Packet, bool) {
	for c.state != Closed {
		f, n, err := websocket.DecodeFrame(c.inbound, m.opts.MaxPayload)
		if err != nil {
			m.log.Warn("malformed frame",
				zap.Uint64("conn", uint64(c.id)),
				zap.Error(err))
			m.close(c, "protocol_error")
			return nil, false
		}
		if n == 0 {
			if c.polled {
				return nil, false
			}
			c.polled = true
			if !m.fill(c) {
				return nil, false
			}
			continue
		}
		c.inbound = append(c.inbound[:0], c.inbound[n:]...)

		if p, ok := m.handleFrame(c, f); ok {
			return p, true
		}
	}
	return nil, false
}

// fill performs one socket read. It reports whether new bytes arrived.
func (m *Manager) fill(c *conn) bool {
	n, err := sockio.ReadAvailable(c.nc, m.readBuf)
	if n > 0 {
		c.inbound = append(c.inbound, m.readBuf[:n]...)
		c.bytesIn += uint64(n)
		metrics.BytesIn.Add(float64(n))
	}
	if err != nil {
		if errors.Is(err, io.EOF) {
			m.close(c, "eof")
		} else {
			m.log.Debug("read failed",
				zap.Uint64("conn", uint64(c.id)),
				zap.Error(err))
			m.close(c, "read_error")
		}
		return false
	}
	return n > 0
}

func (m *Manager) handleFrame(c *conn, f websocket.Frame) (packet.Packet, bool) {
	if !f.Masked && !m.opts.AllowUnmasked {
		m.log.Warn("unmasked client frame", zap.Uint64("conn", uint64(c.id)))
		m.close(c, "protocol_error")
		return nil, false
	}
	c.framesIn++

	switch f.Opcode {
	case websocket.OpClose:
		m.writeNow(c, websocket.EncodeFrame(websocket.OpClose, f.Payload))
		m.close(c, "peer_close")
		return nil, false
	case websocket.OpPing:
		c.outbound.Add(websocket.EncodeFrame(websocket.OpPong, f.Payload))
		return nil, false
	case websocket.OpPong:
		return nil, false
	}

	p, err := packet.Decode(f.Payload)
	if err != nil {
		m.log.Debug("dropping undecodable packet",
			zap.Uint64("conn", uint64(c.id)),
			zap.Error(err))
		metrics.PacketsDropped.WithLabelValues("decode").Inc()
		return nil, false
	}
	if !p.ValidFromClient() {
		m.log.Debug("dropping server-only packet from client",
			zap.Uint64("conn", uint64(c.id)),
			zap.Stringer("type", p.Tag()))
		metrics.PacketsDropped.WithLabelValues("direction").Inc()
		return nil, false
	}
	metrics.PacketsIn.WithLabelValues(p.Tag().String()).Inc()

	switch p := p.(type) {
	case packet.RequestNewSession:
		if c.state != Connected {
			m.log.Debug("ignoring session request",
				zap.Uint64("conn", uint64(c.id)),
				zap.Stringer("state", c.state))
			return nil, false
		}
		m.newSessions.Add(c.id)
		return nil, false
	case packet.AttemptAuthSession:
		c.state = SessionPending
		c.token = p.Token
		c.hasToken = true
		m.authAttempts.Add(AuthAttempt{ID: c.id, Token: p.Token})
		return nil, false
	}
	return p, true
}

// SendTo queues p for one connection. It returns false when the connection is
// unknown or closed, or when p may not be sent by a server.
func (m *Manager) SendTo(id ID, p packet.Packet) bool {
	c, ok := m.live(id)
	if !ok {
		return false
	}
	return m.enqueue(c, p)
}

// BroadcastToAuthenticated queues p for every authenticated connection and
// returns how many received it.
func (m *Manager) BroadcastToAuthenticated(p packet.Packet) int {
	if !p.ValidFromServer() {
		return 0
	}
	sent := 0
	for _, id := range m.order {
		c := m.conns[id]
		if c.state == Authenticated && m.enqueue(c, p) {
			sent++
		}
	}
	return sent
}

func (m *Manager) enqueue(c *conn, p packet.Packet) bool {
	if !p.ValidFromServer() {
		m.log.Warn("refusing client-only packet",
			zap.Uint64("conn", uint64(c.id)),
			zap.Stringer("type", p.Tag()))
		metrics.PacketsDropped.WithLabelValues("direction").Inc()
		return false
	}
	c.outbound.Add(websocket.EncodeFrame(websocket.OpBinary, packet.Encode(p)))
	metrics.PacketsOut.WithLabelValues(p.Tag().String()).Inc()
	return true
}

// Flush writes every queued frame. A failed write closes only that connection.
func (m *Manager) Flush() {
	for _, id := range m.order {
		c := m.conns[id]
		if c.state == Closed || c.outbound.Length() == 0 {
			continue
		}

		m.writeBuf = m.writeBuf[:0]
		frames := 0
		for c.outbound.Length() > 0 {
			m.writeBuf = append(m.writeBuf, c.outbound.Peek().([]byte)...)
			c.outbound.Remove()
			frames++
		}

		if err := m.write(c, m.writeBuf); err != nil {
			m.log.Debug("write failed",
				zap.Uint64("conn", uint64(c.id)),
				zap.Error(err))
			m.close(c, "write_error")
			continue
		}
		c.framesOut += uint64(frames)
	}
}

func (m *Manager) write(c *conn, b []byte) error {
	if m.opts.WriteTimeout > 0 {
		if err := c.nc.SetWriteDeadline(time.Now().Add(m.opts.WriteTimeout)); err != nil {
			return err
		}
	}
	n, err := c.nc.Write(b)
	c.bytesOut += uint64(n)
	metrics.BytesOut.Add(float64(n))
	return err
}

// writeNow sends a frame immediately, ignoring failure.
func (m *Manager) writeNow(c *conn, frame []byte) {
	_ = m.write(c, frame)
}

// NotifyNewSession moves a connected client to SessionPending with the token
// the simulation issued.
func (m *Manager) NotifyNewSession(id ID, token packet.Token) bool {
	c, ok := m.live(id)
	if !ok || c.state != Connected {
		return false
	}
	c.state = SessionPending
	c.token = token
	c.hasToken = true
	return true
}

// ImbueSession authenticates a pending connection whose token matches.
func (m *Manager) ImbueSession(id ID, token packet.Token) bool {
	c, ok := m.live(id)
	if !ok || c.state != SessionPending || c.token != token {
		return false
	}
	c.state = Authenticated
	return true
}

// NotifyAuthFail drops a pending or authenticated connection back to Connected.
func (m *Manager) NotifyAuthFail(id ID) bool {
	c, ok := m.live(id)
	if !ok || (c.state != SessionPending && c.state != Authenticated) {
		return false
	}
	c.state = Connected
	c.token = 0
	c.hasToken = false
	return true
}

// PollNewSessions returns the next connection that asked for a session.
func (m *Manager) PollNewSessions() (ID, bool) {
	for m.newSessions.Length() > 0 {
		id := m.newSessions.Peek().(ID)
		m.newSessions.Remove()
		if _, ok := m.live(id); ok {
			return id, true
		}
	}
	return 0, false
}

// PollAuthAttempts returns the next authentication attempt.
func (m *Manager) PollAuthAttempts() (AuthAttempt, bool) {
	for m.authAttempts.Length() > 0 {
		a := m.authAttempts.Peek().(AuthAttempt)
		m.authAttempts.Remove()
		if _, ok := m.live(a.ID); ok {
			return a, true
		}
	}
	return AuthAttempt{}, false
}

// closeNormal is the payload of a close frame with status 1000.
var closeNormal = []byte{0x03, 0xE8}

// Disconnect sends a close frame and marks the connection Closed.
func (m *Manager) Disconnect(id ID) bool {
	c, ok := m.live(id)
	if !ok {
		return false
	}
	m.writeNow(c, websocket.EncodeFrame(websocket.OpClose, closeNormal))
	m.close(c, "disconnect")
	return true
}

// Reap closes and forgets every Closed connection, returning their IDs.
func (m *Manager) Reap() []ID {
	var reaped []ID
	kept := m.order[:0]
	for _, id := range m.order {
		c := m.conns[id]
		if c.state != Closed {
			kept = append(kept, id)
			continue
		}
		_ = c.nc.Close()
		delete(m.conns, id)
		reaped = append(reaped, id)
	}
	m.order = kept
	m.cursor = 0
	return reaped
}

// State returns the state of a known connection.
func (m *Manager) State(id ID) (State, bool) {
	c, ok := m.conns[id]
	if !ok {
		return 0, false
	}
	return c.state, true
}

// Snapshot describes every connection, ordered by ID. Register appends
// increasing IDs to order and Reap keeps it sorted.
func (m *Manager) Snapshot() []Info {
	out := make([]Info, 0, len(m.conns))
	for _, id := range m.order {
		c := m.conns[id]
		out = append(out, Info{
			ID:          c.id,
			State:       c.state,
			StateName:   c.state.String(),
			Token:       c.token,
			HasToken:    c.hasToken,
			RemoteAddr:  c.remote,
			ConnectedAt: c.connectedAt,
			BytesIn:     c.bytesIn,
			BytesOut:    c.bytesOut,
			FramesIn:    c.framesIn,
			FramesOut:   c.framesOut,
			Queued:      c.outbound.Length(),
		})
	}
	return out
}

// Len returns the number of tracked connections, including closed ones not yet reaped.
func (m *Manager) Len() int {
	return len(m.conns)
}

// CountByState tallies tracked connections per state.
func (m *Manager) CountByState() map[State]int {
	counts := make(map[State]int, len(States))
	for _, c := range m.conns {
		counts[c.state]++
	}
	return counts
}

func (m *Manager) live(id ID) (*conn, bool) {
	c, ok := m.conns[id]
	if !ok || c.state == Closed {
		return nil, false
	}
	return c, true
}

func (m *Manager) close(c *conn, reason string) {
	if c.state == Closed {
		return
	}
	c.state = Closed
	metrics.ConnectionsClosed.WithLabelValues(reason).Inc()
	m.log.Info("connection closed",
		zap.Uint64("conn", uint64(c.id)),
		zap.String("reason", reason),
		zap.Duration("duration", time.Since(c.connectedAt)))
}
