// Package websocket implements the server side of the WebSocket protocol for the
// game port without relying on net/http.
//
// The websocket package implements:
//   - Parsing of the HTTP/1.1 upgrade request from a single buffered read
//   - Upgrade detection and Sec-WebSocket-Accept derivation
//   - The HTTP 101 Switching Protocols response
//   - Frame decoding (masked client frames) and encoding (unmasked server frames)
//
// Handshake:
//
// The acceptor reads at most one buffer from a freshly accepted socket and hands it
// to ParseRequest. A request that does not fit in that buffer is rejected; there is no
// reassembly across reads. IsUpgrade tells plain HTTP probes apart from upgrade
// attempts, and Negotiate writes the 101 response.
//
// Framing:
//
// DecodeFrame works on an accumulating byte buffer. When the buffer does not yet hold
// a complete frame it reports zero consumed bytes and no error, so the caller can read
// more and retry. Fragmented messages, extensions and reserved opcodes are rejected
// with a ProtocolError.
//
// Usage:
//
//	req, err := websocket.ParseRequest(buf[:n])
//	if err != nil || !websocket.IsUpgrade(req) {
//		conn.Close()
//		return
//	}
//	if err := websocket.Negotiate(conn, req); err != nil {
//		conn.Close()
//		return
//	}
//
//	frame, n, err := websocket.DecodeFrame(inbound, websocket.DefaultMaxPayload)
//	out := websocket.EncodeFrame(websocket.OpBinary, payload)
package websocket
