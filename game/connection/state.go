package connection

import (
	"fmt"
	"time"

	"github.com/wricardo/gamerelay/game/packet"
)

// ID identifies a connection for the lifetime of the process. IDs start at 1
// and are never reused.
type ID uint64

// State is the position of a connection in its session lifecycle.
type State int

const (
	Handshaking State = iota
	Connected
	SessionPending
	Authenticated
	Closed
)

func (s State) String() string {
	switch s {
	case Handshaking:
		return "handshaking"
	case Connected:
		return "connected"
	case SessionPending:
		return "session_pending"
	case Authenticated:
		return "authenticated"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// States lists every state in lifecycle order.
var States = []State{Handshaking, Connected, SessionPending, Authenticated, Closed}

// Info is a read-only snapshot of one connection.
type Info struct {
	ID          ID           `json:"id"`
	State       State        `json:"-"`
	StateName   string       `json:"state"`
	Token       packet.Token `json:"token,omitempty"`
	HasToken    bool         `json:"has_token"`
	RemoteAddr  string       `json:"remote_addr"`
	ConnectedAt time.Time    `json:"connected_at"`
	BytesIn     uint64       `json:"bytes_in"`
	BytesOut    uint64       `json:"bytes_out"`
	FramesIn    uint64       `json:"frames_in"`
	FramesOut   uint64       `json:"frames_out"`
	Queued      int          `json:"queued_frames"`
}

// AuthAttempt is a token a client presented, waiting for the simulation.
type AuthAttempt struct {
	ID    ID
	Token packet.Token
}
