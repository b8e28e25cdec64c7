package network

import (
	"context"
	"net"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/wricardo/gamerelay/game/connection"
	"github.com/wricardo/gamerelay/game/message"
	"github.com/wricardo/gamerelay/game/packet"
	"github.com/wricardo/gamerelay/transport/websocket"
)

type harness struct {
	loop  *Loop
	inbox *message.Mailbox[message.Network]
	sim   *message.Mailbox[message.Simulation]
	mgr   *connection.Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := zaptest.NewLogger(t)
	h := &harness{
		inbox: message.NewMailbox[message.Network](),
		sim:   message.NewMailbox[message.Simulation](),
		mgr:   connection.NewManager(connection.DefaultOptions(), log),
	}
	h.loop = New(Config{
		Inbox:      h.inbox,
		Simulation: h.sim,
		Manager:    h.mgr,
		Tick:       5 * time.Millisecond,
		Logger:     log,
	})
	return h
}

// connect hands a loopback socket to the loop and returns its ID and client end.
func (h *harness) connect(t *testing.T) (connection.ID, net.Conn) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		accepted <- c
	}()
	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	server := <-accepted
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})

	before := len(h.mgr.Snapshot())
	h.inbox.Send(message.NewConnection{Conn: server})
	h.loop.Step()
	snap := h.mgr.Snapshot()
	if len(snap) != before+1 {
		t.Fatalf("Connection was not registered")
	}
	return snap[len(snap)-1].ID, client
}

// stepUntil steps the loop until cond holds.
func (h *harness) stepUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.loop.Step()
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("Timed out waiting for condition")
}

// nextSimulation steps until the simulation mailbox has a message.
func (h *harness) nextSimulation(t *testing.T) message.Simulation {
	t.Helper()
	h.stepUntil(t, func() bool { return h.sim.Len() > 0 })
	msg, _ := h.sim.TryRecv()
	return msg
}

func send(t *testing.T, c net.Conn, p packet.Packet) {
	t.Helper()
	payload := packet.Encode(p)
	key := [4]byte{1, 2, 3, 4}
	frame := []byte{0x82, 0x80 | byte(len(payload))}
	frame = append(frame, key[:]...)
	for i, b := range payload {
		frame = append(frame, b^key[i%4])
	}
	if _, err := c.Write(frame); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
}

func receive(t *testing.T, c net.Conn) packet.Packet {
	t.Helper()
	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	defer c.SetReadDeadline(time.Time{})

	var buf []byte
	chunk := make([]byte, 256)
	for {
		f, n, err := websocket.DecodeFrame(buf, 0)
		if err != nil {
			t.Fatalf("DecodeFrame failed: %v", err)
		}
		if n > 0 {
			p, err := packet.Decode(f.Payload)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			return p
		}
		r, err := c.Read(chunk)
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		buf = append(buf, chunk[:r]...)
	}
}

func stateOf(t *testing.T, h *harness, id connection.ID) connection.State {
	t.Helper()
	s, ok := h.mgr.State(id)
	if !ok {
		t.Fatalf("Connection %d unknown", id)
	}
	return s
}

func TestLoop_AuthRoundTrip(t *testing.T) {
	h := newHarness(t)
	id, client := h.connect(t)

	send(t, client, packet.AttemptAuthSession{Token: 123})

	msg := h.nextSimulation(t)
	attempt, ok := msg.(message.AttemptAuthSession)
	if !ok || attempt.ID != id || attempt.Token != 123 {
		t.Fatalf("Expected AttemptAuthSession{%d, 123}, got %#v", id, msg)
	}
	if s := stateOf(t, h, id); s != connection.SessionPending {
		t.Fatalf("Expected SessionPending, got %s", s)
	}

	h.inbox.Send(message.AuthSuccess{ID: id, Token: 123})
	h.loop.Step()

	if s := stateOf(t, h, id); s != connection.Authenticated {
		t.Fatalf("Expected Authenticated, got %s", s)
	}
	p := receive(t, client)
	if succ, isSucc := p.(packet.AuthSuccessful); !isSucc || succ.Token != 123 {
		t.Errorf("Expected AuthSuccessful{123}, got %#v", p)
	}
}

func TestLoop_NewSessionFlow(t *testing.T) {
	h := newHarness(t)
	id, client := h.connect(t)

	send(t, client, packet.RequestNewSession{})
	msg := h.nextSimulation(t)
	if req, ok := msg.(message.RequestNewSession); !ok || req.ID != id {
		t.Fatalf("Expected RequestNewSession{%d}, got %#v", id, msg)
	}

	h.inbox.Send(message.NewSession{ID: id, Token: 77})
	h.loop.Step()

	if s := stateOf(t, h, id); s != connection.SessionPending {
		t.Fatalf("Expected SessionPending, got %s", s)
	}
	if ns, ok := receive(t, client).(packet.NewSession); !ok || ns.Token != 77 {
		t.Errorf("Expected NewSession{77}, got %#v", ns)
	}
}

func TestLoop_NewSessionIgnoredOutsideConnected(t *testing.T) {
	h := newHarness(t)
	id, client := h.connect(t)

	h.mgr.NotifyNewSession(id, 1)
	h.inbox.Send(message.NewSession{ID: id, Token: 2})
	h.inbox.Send(message.WorldState{ID: id, Tick: 5})
	h.loop.Step()

	// The first packet to arrive is the world state, not a second token.
	if ws, ok := receive(t, client).(packet.WorldState); !ok || ws.Tick != 5 {
		t.Errorf("Expected WorldState at tick 5, got %#v", ws)
	}
}

func TestLoop_AuthFailAlwaysNotifies(t *testing.T) {
	h := newHarness(t)
	id, client := h.connect(t)

	h.inbox.Send(message.AuthFail{ID: id})
	h.inbox.Send(message.AuthFail{ID: 999})
	h.loop.Step()

	if _, ok := receive(t, client).(packet.AuthFail); !ok {
		t.Error("Expected AuthFail packet even without a pending session")
	}
	if s := stateOf(t, h, id); s != connection.Connected {
		t.Errorf("Expected Connected, got %s", s)
	}
}

func TestLoop_RequestDownloadWorld(t *testing.T) {
	h := newHarness(t)
	id, client := h.connect(t)

	send(t, client, packet.Debug{Message: "hello"})
	send(t, client, packet.RequestDownloadWorld{})

	msg := h.nextSimulation(t)
	if req, ok := msg.(message.RequestWorldState); !ok || req.ID != id {
		t.Fatalf("Expected RequestWorldState{%d}, got %#v", id, msg)
	}
}

func TestLoop_RefusesClientOnlyBroadcast(t *testing.T) {
	h := newHarness(t)
	id, _ := h.connect(t)
	h.mgr.NotifyNewSession(id, 1)
	h.mgr.ImbueSession(id, 1)

	ch := make(chan int, 1)
	h.inbox.Send(message.Broadcast{Packet: packet.RequestNewSession{}, Reply: ch})
	h.loop.Step()

	if n := <-ch; n != 0 {
		t.Errorf("Expected no recipients, got %d", n)
	}
	if q := h.mgr.Snapshot()[0].Queued; q != 0 {
		t.Errorf("Expected nothing queued, got %d", q)
	}
}

func TestLoop_ReapNotifiesSimulation(t *testing.T) {
	h := newHarness(t)
	id, client := h.connect(t)

	client.Close()

	msg := h.nextSimulation(t)
	if closed, ok := msg.(message.ConnectionClosed); !ok || closed.ID != id {
		t.Fatalf("Expected ConnectionClosed{%d}, got %#v", id, msg)
	}
	if _, ok := h.mgr.State(id); ok {
		t.Error("Closed connection should be reaped")
	}
}

func TestAdmin(t *testing.T) {
	h := newHarness(t)
	authed, authedClient := h.connect(t)
	other, _ := h.connect(t)
	h.mgr.NotifyNewSession(authed, 5)
	h.mgr.ImbueSession(authed, 5)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.loop.Run(ctx) }()
	stopped := false
	stop := func() {
		if !stopped {
			stopped = true
			cancel()
			<-done
		}
	}
	defer stop()

	admin := Admin{Inbox: h.inbox}
	reqCtx, reqCancel := context.WithTimeout(ctx, 2*time.Second)
	defer reqCancel()

	infos, err := admin.Connections(reqCtx)
	if err != nil {
		t.Fatalf("Connections failed: %v", err)
	}
	if len(infos) != 2 || infos[0].StateName != "authenticated" {
		t.Fatalf("Unexpected snapshot %+v", infos)
	}

	n, err := admin.Broadcast(reqCtx, packet.Debug{Message: "notice"})
	if err != nil || n != 1 {
		t.Fatalf("Expected broadcast to 1 connection, got %d (%v)", n, err)
	}
	if d, ok := receive(t, authedClient).(packet.Debug); !ok || d.Message != "notice" {
		t.Errorf("Expected broadcast Debug, got %#v", d)
	}

	if _, err := admin.Broadcast(reqCtx, packet.AttemptAuthSession{}); err != ErrNotServerPacket {
		t.Errorf("Expected ErrNotServerPacket, got %v", err)
	}

	ok, err := admin.Disconnect(reqCtx, other)
	if err != nil || !ok {
		t.Fatalf("Expected disconnect to succeed, got %v (%v)", ok, err)
	}
	ok, _ = admin.Disconnect(reqCtx, 999)
	if ok {
		t.Error("Disconnecting an unknown connection should report false")
	}

	stop()
	if h.mgr.Len() != 0 {
		t.Errorf("Shutdown should close every connection, %d left", h.mgr.Len())
	}
}

func TestAdmin_ContextCancelled(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := (Admin{Inbox: h.inbox}).Connections(ctx); err != context.Canceled {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
