package websocket

import "fmt"

// ParseError reports a handshake request that could not be parsed.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return "parse handshake request: " + e.Reason
}

// HandshakeError reports an upgrade request that cannot be completed.
type HandshakeError struct {
	Reason string
	Err    error
}

func (e *HandshakeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("websocket handshake: %s: %v", e.Reason, e.Err)
	}
	return "websocket handshake: " + e.Reason
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// ProtocolError reports a frame that violates the supported RFC 6455 subset.
// The offending connection must be closed.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "websocket protocol error: " + e.Reason
}
