// Package message defines the envelopes exchanged between the acceptor, the
// network loop and the simulation loop.
//
// Network messages are consumed by the network loop, which is the only owner of
// connections. Simulation messages are consumed by the simulation loop. Neither
// side shares state with the other; everything crosses over a Mailbox.
package message

import (
	"net"

	"github.com/wricardo/gamerelay/game/connection"
	"github.com/wricardo/gamerelay/game/packet"
)

// Network is a message addressed to the network loop.
type Network interface {
	isNetwork()
}

// NewConnection hands a socket that completed the handshake to the network loop.
// Buffered holds bytes read past the handshake.
type NewConnection struct {
	Conn     net.Conn
	Buffered []byte
}

// NewSession reports a token issued for a connection.
type NewSession struct {
	ID    connection.ID
	Token packet.Token
}

// AuthSuccess reports an accepted authentication attempt.
type AuthSuccess struct {
	ID    connection.ID
	Token packet.Token
}

// AuthFail reports a rejected authentication attempt.
type AuthFail struct {
	ID connection.ID
}

// WorldState carries a world snapshot for one connection.
type WorldState struct {
	ID   connection.ID
	Tick uint64
	Data []byte
}

// Inspect asks for a snapshot of every connection.
type Inspect struct {
	Reply chan<- []connection.Info
}

// Broadcast sends Packet to every authenticated connection. Reply, when set,
// receives the number of recipients.
type Broadcast struct {
	Packet packet.Packet
	Reply  chan<- int
}

// Disconnect closes one connection. Reply, when set, reports whether it existed.
type Disconnect struct {
	ID    connection.ID
	Reply chan<- bool
}

func (NewConnection) isNetwork() {}
func (NewSession) isNetwork()    {}
func (AuthSuccess) isNetwork()   {}
func (AuthFail) isNetwork()      {}
func (WorldState) isNetwork()    {}
func (Inspect) isNetwork()       {}
func (Broadcast) isNetwork()     {}
func (Disconnect) isNetwork()    {}

// Simulation is a message addressed to the simulation loop.
type Simulation interface {
	isSimulation()
}

// RequestNewSession asks the simulation to issue a token for ID.
type RequestNewSession struct {
	ID connection.ID
}

// AttemptAuthSession asks the simulation to authorize Token for ID.
type AttemptAuthSession struct {
	ID    connection.ID
	Token packet.Token
}

// RequestWorldState asks for the world state to be sent to ID.
type RequestWorldState struct {
	ID connection.ID
}

// ConnectionClosed reports that ID was reaped by the network loop.
type ConnectionClosed struct {
	ID connection.ID
}

func (RequestNewSession) isSimulation()  {}
func (AttemptAuthSession) isSimulation() {}
func (RequestWorldState) isSimulation()  {}
func (ConnectionClosed) isSimulation()   {}
