// Package network runs the loop that owns every game connection.
//
// Each tick the loop drains its mailbox, reads client packets, queues outgoing
// packets, flushes sockets, forwards session requests to the simulation and
// finally reaps closed connections. Nothing else touches a connection.
package network

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wricardo/gamerelay/game/connection"
	"github.com/wricardo/gamerelay/game/message"
	"github.com/wricardo/gamerelay/game/packet"
	"github.com/wricardo/gamerelay/metrics"
)

// DefaultTick is the network loop period.
const DefaultTick = 50 * time.Millisecond

// Config wires a Loop.
type Config struct {
	Inbox      *message.Mailbox[message.Network]
	Simulation *message.Mailbox[message.Simulation]
	Manager    *connection.Manager
	Tick       time.Duration
	Logger     *zap.Logger
}

type outgoing struct {
	to        connection.ID
	broadcast bool
	packet    packet.Packet
	reply     chan<- int
}

// Loop is the network loop
type Loop struct {
	cfg     Config
	log     *zap.Logger
	mgr     *connection.Manager
	pending []outgoing
}

// New creates a loop. Inbox and Simulation are required.
func New(cfg Config) *Loop {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	if cfg.Manager == nil {
		cfg.Manager = connection.NewManager(connection.DefaultOptions(), cfg.Logger)
	}
	return &Loop{
		cfg: cfg,
		log: cfg.Logger.Named("network"),
		mgr: cfg.Manager,
	}
}

// Run steps the loop every tick until ctx is done, then closes every connection.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.cfg.Tick)
	defer ticker.Stop()

	l.log.Info("network loop started", zap.Duration("tick", l.cfg.Tick))
	for {
		select {
		case <-ctx.Done():
			l.shutdown()
			return ctx.Err()
		case <-ticker.C:
			l.Step()
		}
	}
}

// Step performs one tick.
func (l *Loop) Step() {
	start := time.Now()
	defer metrics.ObserveTick("network", start)

	metrics.MailboxDepth.WithLabelValues("network").Set(float64(l.cfg.Inbox.Len()))
	for _, msg := range l.cfg.Inbox.Drain() {
		l.handle(msg)
	}

	for {
		id, p, ok := l.mgr.TryReadOne()
		if !ok {
			break
		}
		l.dispatch(id, p)
	}

	l.enqueuePending()
	l.mgr.Flush()

	for {
		id, ok := l.mgr.PollNewSessions()
		if !ok {
			break
		}
		l.toSimulation(message.RequestNewSession{ID: id})
	}
	for {
		a, ok := l.mgr.PollAuthAttempts()
		if !ok {
			break
		}
		l.toSimulation(message.AttemptAuthSession{ID: a.ID, Token: a.Token})
	}

	for _, id := range l.mgr.Reap() {
		l.toSimulation(message.ConnectionClosed{ID: id})
	}
	l.recordGauges()
}

func (l *Loop) handle(msg message.Network) {
	switch m := msg.(type) {
	case message.NewConnection:
		l.mgr.Register(m.Conn, m.Buffered)
	case message.NewSession:
		if l.mgr.NotifyNewSession(m.ID, m.Token) {
			l.queue(m.ID, packet.NewSession{Token: m.Token})
		}
	case message.AuthSuccess:
		if l.mgr.ImbueSession(m.ID, m.Token) {
			l.queue(m.ID, packet.AuthSuccessful{Token: m.Token})
		}
	case message.AuthFail:
		l.mgr.NotifyAuthFail(m.ID)
		l.queue(m.ID, packet.AuthFail{})
	case message.WorldState:
		l.queue(m.ID, packet.WorldState{Tick: m.Tick, Data: m.Data})
	case message.Inspect:
		reply(m.Reply, l.mgr.Snapshot())
	case message.Broadcast:
		l.pending = append(l.pending, outgoing{broadcast: true, packet: m.Packet, reply: m.Reply})
	case message.Disconnect:
		ok := l.mgr.Disconnect(m.ID)
		if m.Reply != nil {
			reply(m.Reply, ok)
		}
	default:
		l.log.Warn("unhandled network message", zap.Any("message", msg))
	}
}

func (l *Loop) dispatch(id connection.ID, p packet.Packet) {
	switch p := p.(type) {
	case packet.Debug:
		l.log.Info("client debug", zap.Uint64("conn", uint64(id)), zap.String("message", p.Message))
	case packet.RequestDownloadWorld:
		l.toSimulation(message.RequestWorldState{ID: id})
	default:
		l.log.Debug("ignoring packet", zap.Uint64("conn", uint64(id)), zap.Stringer("type", p.Tag()))
	}
}

func (l *Loop) queue(id connection.ID, p packet.Packet) {
	l.pending = append(l.pending, outgoing{to: id, packet: p})
}

func (l *Loop) enqueuePending() {
	for _, out := range l.pending {
		if !out.packet.ValidFromServer() {
			l.log.Warn("refusing to send client-only packet", zap.Stringer("type", out.packet.Tag()))
			metrics.PacketsDropped.WithLabelValues("direction").Inc()
			if out.reply != nil {
				reply(out.reply, 0)
			}
			continue
		}
		if out.broadcast {
			n := l.mgr.BroadcastToAuthenticated(out.packet)
			if out.reply != nil {
				reply(out.reply, n)
			}
			continue
		}
		l.mgr.SendTo(out.to, out.packet)
	}
	l.pending = l.pending[:0]
}

func (l *Loop) toSimulation(msg message.Simulation) {
	if err := l.cfg.Simulation.Send(msg); err != nil {
		l.log.Debug("simulation mailbox closed", zap.Error(err))
	}
}

func (l *Loop) recordGauges() {
	counts := l.mgr.CountByState()
	for _, s := range connection.States {
		metrics.Connections.WithLabelValues(s.String()).Set(float64(counts[s]))
	}
}

func (l *Loop) shutdown() {
	for _, info := range l.mgr.Snapshot() {
		l.mgr.Disconnect(info.ID)
	}
	for _, id := range l.mgr.Reap() {
		l.toSimulation(message.ConnectionClosed{ID: id})
	}
	l.recordGauges()
	l.log.Info("network loop stopped")
}

// reply delivers v without blocking the loop. Requesters use buffered channels.
func reply[T any](ch chan<- T, v T) {
	select {
	case ch <- v:
	default:
	}
}
