package packet

import (
	"encoding/binary"
	"fmt"
)

// MaxFieldLength caps a single length-prefixed field.
const MaxFieldLength = 1 << 20

// DecodeError reports a packet that could not be decoded. The frame carrying it
// is discarded but the connection stays open.
type DecodeError struct {
	Tag    Tag
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode packet %s: %s", e.Tag, e.Reason)
}

type decodeFunc func(r *reader) Packet

var decoders = map[Tag]decodeFunc{
	TagDebug: func(r *reader) Packet {
		return Debug{Message: string(r.bytes())}
	},
	TagRequestNewSession: func(*reader) Packet { return RequestNewSession{} },
	TagNewSession: func(r *reader) Packet {
		return NewSession{Token: Token(r.u32())}
	},
	TagAttemptAuthSession: func(r *reader) Packet {
		return AttemptAuthSession{Token: Token(r.u32())}
	},
	TagAuthSuccessful: func(r *reader) Packet {
		return AuthSuccessful{Token: Token(r.u32())}
	},
	TagAuthFail:             func(*reader) Packet { return AuthFail{} },
	TagRequestDownloadWorld: func(*reader) Packet { return RequestDownloadWorld{} },
	TagWorldState: func(r *reader) Packet {
		tick := r.u64()
		return WorldState{Tick: tick, Data: r.bytes()}
	},
}

// Decode parses one packet. The whole of data must be consumed.
func Decode(data []byte) (Packet, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Reason: "empty packet"}
	}

	tag := Tag(data[0])
	decode, ok := decoders[tag]
	if !ok {
		return nil, &DecodeError{Tag: tag, Reason: "unknown tag"}
	}

	r := &reader{buf: data[1:]}
	p := decode(r)
	if r.err != "" {
		return nil, &DecodeError{Tag: tag, Reason: r.err}
	}
	if len(r.buf) != 0 {
		return nil, &DecodeError{Tag: tag, Reason: fmt.Sprintf("%d trailing bytes", len(r.buf))}
	}
	return p, nil
}

// reader consumes little-endian fields and remembers the first failure.
type reader struct {
	buf []byte
	err string
}

func (r *reader) take(n int) []byte {
	if r.err != "" {
		return nil
	}
	if len(r.buf) < n {
		r.err = "truncated payload"
		return nil
	}
	b := r.buf[:n]
	r.buf = r.buf[n:]
	return b
}

func (r *reader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *reader) bytes() []byte {
	n := r.u32()
	if r.err != "" {
		return nil
	}
	if n > MaxFieldLength {
		r.err = fmt.Sprintf("field of %d bytes exceeds limit", n)
		return nil
	}
	b := r.take(int(n))
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
