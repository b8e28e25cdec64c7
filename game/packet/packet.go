package packet

import (
	"encoding/binary"
	"fmt"
)

// Token identifies a session issued by the simulation.
type Token uint32

// Tag is the leading byte that selects a packet variant.
type Tag byte

const (
	TagDebug Tag = iota
	TagRequestNewSession
	TagNewSession
	TagAttemptAuthSession
	TagAuthSuccessful
	TagAuthFail
	TagRequestDownloadWorld
	TagWorldState
)

func (t Tag) String() string {
	switch t {
	case TagDebug:
		return "Debug"
	case TagRequestNewSession:
		return "RequestNewSession"
	case TagNewSession:
		return "NewSession"
	case TagAttemptAuthSession:
		return "AttemptAuthSession"
	case TagAuthSuccessful:
		return "AuthSuccessful"
	case TagAuthFail:
		return "AuthFail"
	case TagRequestDownloadWorld:
		return "RequestDownloadWorld"
	case TagWorldState:
		return "WorldState"
	default:
		return fmt.Sprintf("Tag(%d)", byte(t))
	}
}

// Packet is one application message.
type Packet interface {
	Tag() Tag
	ValidFromServer() bool
	ValidFromClient() bool

	appendPayload(dst []byte) []byte
}

// Debug carries free-form text in either direction.
type Debug struct {
	Message string
}

// RequestNewSession asks the server to issue a session token.
type RequestNewSession struct{}

// NewSession hands the client its freshly issued token.
type NewSession struct {
	Token Token
}

// AttemptAuthSession presents a token for authentication.
type AttemptAuthSession struct {
	Token Token
}

// AuthSuccessful confirms the token was accepted.
type AuthSuccessful struct {
	Token Token
}

// AuthFail reports a rejected authentication attempt.
type AuthFail struct{}

// RequestDownloadWorld asks for the current world state.
type RequestDownloadWorld struct{}

// WorldState carries a world snapshot taken at Tick.
type WorldState struct {
	Tick uint64
	Data []byte
}

func (Debug) Tag() Tag                { return TagDebug }
func (RequestNewSession) Tag() Tag    { return TagRequestNewSession }
func (NewSession) Tag() Tag           { return TagNewSession }
func (AttemptAuthSession) Tag() Tag   { return TagAttemptAuthSession }
func (AuthSuccessful) Tag() Tag       { return TagAuthSuccessful }
func (AuthFail) Tag() Tag             { return TagAuthFail }
func (RequestDownloadWorld) Tag() Tag { return TagRequestDownloadWorld }
func (WorldState) Tag() Tag           { return TagWorldState }

func (Debug) ValidFromServer() bool                { return true }
func (RequestNewSession) ValidFromServer() bool    { return false }
func (NewSession) ValidFromServer() bool           { return true }
func (AttemptAuthSession) ValidFromServer() bool   { return false }
func (AuthSuccessful) ValidFromServer() bool       { return true }
func (AuthFail) ValidFromServer() bool             { return true }
func (RequestDownloadWorld) ValidFromServer() bool { return false }
func (WorldState) ValidFromServer() bool           { return true }

func (Debug) ValidFromClient() bool                { return true }
func (RequestNewSession) ValidFromClient() bool    { return true }
func (NewSession) ValidFromClient() bool           { return false }
func (AttemptAuthSession) ValidFromClient() bool   { return true }
func (AuthSuccessful) ValidFromClient() bool       { return false }
func (AuthFail) ValidFromClient() bool             { return false }
func (RequestDownloadWorld) ValidFromClient() bool { return true }
func (WorldState) ValidFromClient() bool           { return false }

func (p Debug) appendPayload(dst []byte) []byte { return appendBytes(dst, []byte(p.Message)) }
func (RequestNewSession) appendPayload(dst []byte) []byte { return dst }
func (p NewSession) appendPayload(dst []byte) []byte {
	return binary.LittleEndian.AppendUint32(dst, uint32(p.Token))
}
func (p AttemptAuthSession) appendPayload(dst []byte) []byte {
	return binary.LittleEndian.AppendUint32(dst, uint32(p.Token))
}
func (p AuthSuccessful) appendPayload(dst []byte) []byte {
	return binary.LittleEndian.AppendUint32(dst, uint32(p.Token))
}
func (AuthFail) appendPayload(dst []byte) []byte             { return dst }
func (RequestDownloadWorld) appendPayload(dst []byte) []byte { return dst }
func (p WorldState) appendPayload(dst []byte) []byte {
	dst = binary.LittleEndian.AppendUint64(dst, p.Tick)
	return appendBytes(dst, p.Data)
}

// Append appends the wire form of p to dst.
func Append(dst []byte, p Packet) []byte {
	dst = append(dst, byte(p.Tag()))
	return p.appendPayload(dst)
}

// Encode returns the wire form of p.
func Encode(p Packet) []byte {
	return Append(make([]byte, 0, 16), p)
}

func appendBytes(dst, b []byte) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(b)))
	return append(dst, b...)
}
