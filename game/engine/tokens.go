package engine

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	mrand "math/rand/v2"
	"sync"

	"github.com/wricardo/gamerelay/game/connection"
	"github.com/wricardo/gamerelay/game/packet"
	"github.com/wricardo/gamerelay/game/session"
)

// DefaultTokenSpace is the number of distinct tokens BoundedRandom draws from (3^9).
const DefaultTokenSpace = 19683

// TokenSource produces session tokens.
type TokenSource interface {
	Token() (packet.Token, error)
}

// BoundedRandom draws tokens uniformly from [0, Max).
type BoundedRandom struct {
	Max uint32

	mu  sync.Mutex
	rng *mrand.Rand
}

// NewBoundedRandom returns a source over [0, max). A max of zero selects DefaultTokenSpace.
func NewBoundedRandom(max uint32) *BoundedRandom {
	if max == 0 {
		max = DefaultTokenSpace
	}
	return &BoundedRandom{Max: max, rng: mrand.New(mrand.NewPCG(mrand.Uint64(), mrand.Uint64()))}
}

// NewSeededBoundedRandom returns a deterministic source, for tests and replays.
func NewSeededBoundedRandom(max uint32, seed uint64) *BoundedRandom {
	src := NewBoundedRandom(max)
	src.rng = mrand.New(mrand.NewPCG(seed, seed))
	return src
}

func (b *BoundedRandom) Token() (packet.Token, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return packet.Token(b.rng.Uint32N(b.Max)), nil
}

// CryptoRandom draws tokens from crypto/rand. Max of zero spans the whole u32 range.
type CryptoRandom struct {
	Max uint32
}

func (c CryptoRandom) Token() (packet.Token, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("read random token: %w", err)
	}
	v := binary.LittleEndian.Uint32(buf[:])
	if c.Max > 0 {
		v %= c.Max
	}
	return packet.Token(v), nil
}

// Authorizer decides whether conn may authenticate with token. issued is the
// session the simulation holds for conn, or nil.
type Authorizer interface {
	Authorize(conn connection.ID, token packet.Token, issued *session.Session) bool
}

// AcceptAll accepts every attempt.
//
// It is insecure: any client that presents any token is authenticated. Replace
// it before exposing the server.
type AcceptAll struct{}

func (AcceptAll) Authorize(connection.ID, packet.Token, *session.Session) bool { return true }

// IssuedOnly accepts a token only from the connection it was issued to.
type IssuedOnly struct{}

func (IssuedOnly) Authorize(_ connection.ID, token packet.Token, issued *session.Session) bool {
	return issued != nil && issued.Token == token
}

// AuthorizerByName maps a configuration value to an Authorizer.
func AuthorizerByName(name string) (Authorizer, error) {
	switch name {
	case "", "accept_all":
		return AcceptAll{}, nil
	case "issued":
		return IssuedOnly{}, nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", name)
	}
}

// TokenSourceByName maps a configuration value to a TokenSource.
func TokenSourceByName(name string, space uint32) (TokenSource, error) {
	switch name {
	case "", "bounded":
		return NewBoundedRandom(space), nil
	case "crypto":
		return CryptoRandom{Max: space}, nil
	default:
		return nil, fmt.Errorf("unknown token source %q", name)
	}
}
