package session

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/wricardo/gamerelay/game/connection"
	"github.com/wricardo/gamerelay/game/packet"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrTokenInUse      = errors.New("token already bound to another connection")
	ErrTokenMismatch   = errors.New("token does not match issued session")
)

// Status is the simulation's view of a session.
type Status int

const (
	Pending Status = iota
	Authenticated
)

func (s Status) String() string {
	if s == Authenticated {
		return "authenticated"
	}
	return "pending"
}

// Session binds a token to a connection.
type Session struct {
	ConnID          connection.ID `json:"conn_id"`
	Token           packet.Token  `json:"token"`
	Status          Status        `json:"-"`
	StatusName      string        `json:"status"`
	IssuedAt        time.Time     `json:"issued_at"`
	AuthenticatedAt time.Time     `json:"authenticated_at,omitempty"`
}

// Manager tracks the session of every connection
type Manager struct {
	byConn  map[connection.ID]*Session
	byToken map[packet.Token]connection.ID
	mu      sync.RWMutex
}

// NewManager creates a new session manager
func NewManager() *Manager {
	return &Manager{
		byConn:  make(map[connection.ID]*Session),
		byToken: make(map[packet.Token]connection.ID),
	}
}

// Issue records a freshly issued token as the pending session of conn,
// replacing whatever session conn held before.
func (m *Manager) Issue(conn connection.ID, token packet.Token) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if owner, taken := m.byToken[token]; taken && owner != conn {
		return Session{}, ErrTokenInUse
	}
	m.dropLocked(conn)

	s := &Session{
		ConnID:     conn,
		Token:      token,
		Status:     Pending,
		StatusName: Pending.String(),
		IssuedAt:   time.Now(),
	}
	m.byConn[conn] = s
	m.byToken[token] = conn
	return *s, nil
}

// Authenticate marks conn as authenticated with token. A pending session with a
// different token is replaced. Authentication never fails here: when another
// connection already holds token, conn takes over the token index and both
// sessions stay recorded.
func (m *Manager) Authenticate(conn connection.ID, token packet.Token) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, exists := m.byConn[conn]
	if !exists || s.Token != token {
		m.dropLocked(conn)
		s = &Session{ConnID: conn, Token: token, IssuedAt: time.Now()}
		m.byConn[conn] = s
	}
	m.byToken[token] = conn
	s.Status = Authenticated
	s.StatusName = Authenticated.String()
	s.AuthenticatedAt = time.Now()
	return *s, nil
}

// Release forgets the session of conn.
func (m *Manager) Release(conn connection.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byConn[conn]; !exists {
		return ErrSessionNotFound
	}
	m.dropLocked(conn)
	return nil
}

// Get returns the session of conn
func (m *Manager) Get(conn connection.ID) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, exists := m.byConn[conn]
	if !exists {
		return Session{}, ErrSessionNotFound
	}
	return *s, nil
}

// GetByToken returns the session holding token
func (m *Manager) GetByToken(token packet.Token) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conn, exists := m.byToken[token]
	if !exists {
		return Session{}, ErrSessionNotFound
	}
	return *m.byConn[conn], nil
}

// List returns all sessions ordered by connection
func (m *Manager) List() []Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Session, 0, len(m.byConn))
	for _, s := range m.byConn {
		result = append(result, *s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ConnID < result[j].ConnID })
	return result
}

// CleanupExpiredSessions removes pending sessions issued more than maxAge ago.
// Authenticated sessions live until their connection closes.
func (m *Manager) CleanupExpiredSessions(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0

	for conn, s := range m.byConn {
		if s.Status == Pending && s.IssuedAt.Before(cutoff) {
			m.dropLocked(conn)
			removed++
		}
	}

	return removed
}

// Count returns the number of sessions
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byConn)
}

func (m *Manager) dropLocked(conn connection.ID) {
	s, exists := m.byConn[conn]
	if !exists {
		return
	}
	delete(m.byConn, conn)
	if m.byToken[s.Token] != conn {
		return
	}
	delete(m.byToken, s.Token)
	// Hand the token back to another connection still holding it.
	for other, held := range m.byConn {
		if held.Token == s.Token {
			m.byToken[s.Token] = other
			return
		}
	}
}
