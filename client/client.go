// Package client is a minimal game client speaking the packet protocol over a
// standard websocket library. It backs the probe command and end-to-end tests.
package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wricardo/gamerelay/game/packet"
)

var (
	ErrAuthFailed      = errors.New("authentication failed")
	ErrNotClientPacket = errors.New("packet may not be sent by a client")
)

// DefaultTimeout bounds a request/response exchange when ctx has no deadline.
const DefaultTimeout = 5 * time.Second

// Client is one game connection
type Client struct {
	conn *websocket.Conn
}

// Dial connects to a game server, for example ws://localhost:1337/.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &Client{conn: conn}, nil
}

// Send writes one packet as a binary message.
func (c *Client) Send(p packet.Packet) error {
	if !p.ValidFromClient() {
		return ErrNotClientPacket
	}
	if err := c.conn.WriteMessage(websocket.BinaryMessage, packet.Encode(p)); err != nil {
		return fmt.Errorf("send %s: %w", p.Tag(), err)
	}
	return nil
}

// Receive reads the next packet.
func (c *Client) Receive(ctx context.Context) (packet.Packet, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(DefaultTimeout)
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}

	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("receive: %w", err)
	}
	return packet.Decode(data)
}

// Authenticate presents token and waits for the verdict.
func (c *Client) Authenticate(ctx context.Context, token packet.Token) (packet.Token, error) {
	if err := c.Send(packet.AttemptAuthSession{Token: token}); err != nil {
		return 0, err
	}
	for {
		p, err := c.Receive(ctx)
		if err != nil {
			return 0, err
		}
		switch p := p.(type) {
		case packet.AuthSuccessful:
			return p.Token, nil
		case packet.AuthFail:
			return 0, ErrAuthFailed
		}
	}
}

// RequestSession asks the server for a fresh token.
func (c *Client) RequestSession(ctx context.Context) (packet.Token, error) {
	if err := c.Send(packet.RequestNewSession{}); err != nil {
		return 0, err
	}
	for {
		p, err := c.Receive(ctx)
		if err != nil {
			return 0, err
		}
		if ns, ok := p.(packet.NewSession); ok {
			return ns.Token, nil
		}
	}
}

// DownloadWorld requests and waits for the world state.
func (c *Client) DownloadWorld(ctx context.Context) (packet.WorldState, error) {
	if err := c.Send(packet.RequestDownloadWorld{}); err != nil {
		return packet.WorldState{}, err
	}
	for {
		p, err := c.Receive(ctx)
		if err != nil {
			return packet.WorldState{}, err
		}
		if ws, ok := p.(packet.WorldState); ok {
			return ws, nil
		}
	}
}

// Close performs the websocket closing handshake and releases the socket.
func (c *Client) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.conn.Close()
}
