package websocket

import (
	"encoding/binary"
	"fmt"
)

// Opcode identifies the purpose of a frame.
type Opcode byte

const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

const (
	finBit  = 0x80
	rsvBits = 0x70
	maskBit = 0x80

	// MaxControlPayload is the RFC 6455 limit for close, ping and pong payloads.
	MaxControlPayload = 125

	// DefaultMaxPayload bounds a single inbound frame.
	DefaultMaxPayload = 1 << 20
)

// IsControl reports whether op is a control opcode.
func (op Opcode) IsControl() bool {
	return op&0x08 != 0
}

func (op Opcode) String() string {
	switch op {
	case OpContinuation:
		return "continuation"
	case OpText:
		return "text"
	case OpBinary:
		return "binary"
	case OpClose:
		return "close"
	case OpPing:
		return "ping"
	case OpPong:
		return "pong"
	default:
		return fmt.Sprintf("reserved(0x%X)", byte(op))
	}
}

// Frame is one decoded websocket frame. Payload is already unmasked.
type Frame struct {
	Fin     bool
	Opcode  Opcode
	Masked  bool
	Mask    [4]byte
	Payload []byte
}

// DecodeFrame parses one frame from the front of buf.
//
// It returns the number of bytes consumed. A result of zero with a nil error means
// buf does not hold a complete frame yet. The returned payload never aliases buf.
func DecodeFrame(buf []byte, maxPayload int) (Frame, int, error) {
	var f Frame
	if len(buf) < 2 {
		return f, 0, nil
	}

	b0, b1 := buf[0], buf[1]
	if b0&rsvBits != 0 {
		return f, 0, &ProtocolError{Reason: "reserved bits set"}
	}
	f.Fin = b0&finBit != 0
	f.Opcode = Opcode(b0 & 0x0F)
	f.Masked = b1&maskBit != 0

	switch f.Opcode {
	case OpText, OpBinary, OpClose, OpPing, OpPong:
	case OpContinuation:
		return f, 0, &ProtocolError{Reason: "fragmented messages are not supported"}
	default:
		return f, 0, &ProtocolError{Reason: "unknown opcode " + f.Opcode.String()}
	}
	if !f.Fin {
		return f, 0, &ProtocolError{Reason: "fragmented messages are not supported"}
	}

	offset := 2
	length := uint64(b1 & 0x7F)
	switch length {
	case 126:
		if len(buf) < offset+2 {
			return f, 0, nil
		}
		length = uint64(binary.BigEndian.Uint16(buf[offset:]))
		offset += 2
	case 127:
		if len(buf) < offset+8 {
			return f, 0, nil
		}
		length = binary.BigEndian.Uint64(buf[offset:])
		if length>>63 != 0 {
			return f, 0, &ProtocolError{Reason: "payload length has most significant bit set"}
		}
		offset += 8
	}

	if f.Opcode.IsControl() && length > MaxControlPayload {
		return f, 0, &ProtocolError{Reason: "control frame payload too large"}
	}
	if maxPayload > 0 && length > uint64(maxPayload) {
		return f, 0, &ProtocolError{Reason: fmt.Sprintf("payload of %d bytes exceeds limit of %d", length, maxPayload)}
	}

	if f.Masked {
		if len(buf) < offset+4 {
			return f, 0, nil
		}
		copy(f.Mask[:], buf[offset:offset+4])
		offset += 4
	}

	if uint64(len(buf)-offset) < length {
		return f, 0, nil
	}
	end := offset + int(length)

	f.Payload = make([]byte, length)
	copy(f.Payload, buf[offset:end])
	if f.Masked {
		applyMask(f.Payload, f.Mask)
	}
	return f, end, nil
}

// AppendFrame appends a final, unmasked frame carrying payload to dst.
func AppendFrame(dst []byte, op Opcode, payload []byte) []byte {
	dst = append(dst, finBit|byte(op&0x0F))

	n := len(payload)
	switch {
	case n <= 125:
		dst = append(dst, byte(n))
	case n <= 0xFFFF:
		dst = append(dst, 126)
		dst = binary.BigEndian.AppendUint16(dst, uint16(n))
	default:
		dst = append(dst, 127)
		dst = binary.BigEndian.AppendUint64(dst, uint64(n))
	}
	return append(dst, payload...)
}

// EncodeFrame returns a final, unmasked frame carrying payload.
func EncodeFrame(op Opcode, payload []byte) []byte {
	return AppendFrame(make([]byte, 0, len(payload)+10), op, payload)
}

// applyMask XORs buf in place with the 4-byte masking key.
func applyMask(buf []byte, key [4]byte) {
	for i := range buf {
		buf[i] ^= key[i%4]
	}
}
