package websocket

import (
	"crypto/sha1"
	"encoding/base64"
	"io"
	"strings"
)

// GUID is the fixed value RFC 6455 appends to the client key.
const GUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// AcceptKey derives the Sec-WebSocket-Accept value for a client key.
func AcceptKey(key string) string {
	sum := sha1.Sum([]byte(key + GUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// IsUpgrade reports whether the request asks for a websocket upgrade.
func IsUpgrade(req *Request) bool {
	if req == nil {
		return false
	}
	return containsToken(req.Header.Get("Upgrade"), "websocket")
}

// Negotiate completes the server side of the opening handshake by writing the
// 101 response to w. After it returns nil the stream carries websocket frames.
func Negotiate(w io.Writer, req *Request) error {
	if !IsUpgrade(req) {
		return &HandshakeError{Reason: "missing Upgrade: websocket"}
	}
	key := req.Header.Get("Sec-WebSocket-Key")
	if key == "" {
		return &HandshakeError{Reason: "missing Sec-WebSocket-Key"}
	}

	resp := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + AcceptKey(key) + "\r\n\r\n"

	if _, err := io.WriteString(w, resp); err != nil {
		return &HandshakeError{Reason: "write response", Err: err}
	}
	return nil
}

// containsToken checks a comma separated header value for token, ignoring case.
func containsToken(value, token string) bool {
	for _, part := range strings.Split(value, ",") {
		if strings.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}
	return false
}
