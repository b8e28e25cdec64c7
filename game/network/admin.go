package network

import (
	"context"
	"errors"

	"github.com/wricardo/gamerelay/game/connection"
	"github.com/wricardo/gamerelay/game/message"
	"github.com/wricardo/gamerelay/game/packet"
)

// ErrNotServerPacket is returned when an admin tries to send a client-only packet.
var ErrNotServerPacket = errors.New("packet may not be sent by the server")

// Admin queries and steers the network loop from other goroutines. Every call
// is a message answered by the loop on its next tick.
type Admin struct {
	Inbox *message.Mailbox[message.Network]
}

// Connections returns a snapshot of every connection.
func (a Admin) Connections(ctx context.Context) ([]connection.Info, error) {
	ch := make(chan []connection.Info, 1)
	if err := a.Inbox.Send(message.Inspect{Reply: ch}); err != nil {
		return nil, err
	}
	return await(ctx, ch)
}

// Broadcast sends p to every authenticated connection and returns the recipient count.
func (a Admin) Broadcast(ctx context.Context, p packet.Packet) (int, error) {
	if !p.ValidFromServer() {
		return 0, ErrNotServerPacket
	}
	ch := make(chan int, 1)
	if err := a.Inbox.Send(message.Broadcast{Packet: p, Reply: ch}); err != nil {
		return 0, err
	}
	return await(ctx, ch)
}

// Disconnect closes one connection. It reports whether the connection was live.
func (a Admin) Disconnect(ctx context.Context, id connection.ID) (bool, error) {
	ch := make(chan bool, 1)
	if err := a.Inbox.Send(message.Disconnect{ID: id, Reply: ch}); err != nil {
		return false, err
	}
	return await(ctx, ch)
}

func await[T any](ctx context.Context, ch <-chan T) (T, error) {
	select {
	case v := <-ch:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
