package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wricardo/gamerelay/game/connection"
	"github.com/wricardo/gamerelay/game/message"
	"github.com/wricardo/gamerelay/game/packet"
	"github.com/wricardo/gamerelay/game/session"
	"github.com/wricardo/gamerelay/metrics"
)

const (
	DefaultTick          = 50 * time.Millisecond
	DefaultSessionSweep  = time.Minute
	DefaultPendingTTL    = 5 * time.Minute
	DefaultTokenAttempts = 8
)

// Config wires an Engine to its collaborators. Zero values select defaults.
type Config struct {
	Inbox    *message.Mailbox[message.Simulation]
	Outbox   *message.Mailbox[message.Network]
	Sessions *session.Manager
	Tokens   TokenSource
	Auth     Authorizer
	Logger   *zap.Logger

	Tick          time.Duration
	SessionSweep  time.Duration
	PendingTTL    time.Duration
	TokenAttempts int
}

// Engine is the simulation loop
type Engine struct {
	cfg       Config
	log       *zap.Logger
	tick      atomic.Uint64
	lastSweep time.Time
}

// New creates an engine. Inbox and Outbox are required.
func New(cfg Config) *Engine {
	if cfg.Sessions == nil {
		cfg.Sessions = session.NewManager()
	}
	if cfg.Tokens == nil {
		cfg.Tokens = NewBoundedRandom(DefaultTokenSpace)
	}
	if cfg.Auth == nil {
		cfg.Auth = AcceptAll{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	if cfg.SessionSweep <= 0 {
		cfg.SessionSweep = DefaultSessionSweep
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = DefaultPendingTTL
	}
	if cfg.TokenAttempts <= 0 {
		cfg.TokenAttempts = DefaultTokenAttempts
	}
	if _, insecure := cfg.Auth.(AcceptAll); insecure {
		cfg.Logger.Warn("authorizer accepts every token; do not expose this server")
	}
	return &Engine{
		cfg:       cfg,
		log:       cfg.Logger.Named("engine"),
		lastSweep: time.Now(),
	}
}

// Sessions returns the session registry.
func (e *Engine) Sessions() *session.Manager {
	return e.cfg.Sessions
}

// Tick returns the number of completed steps.
func (e *Engine) Tick() uint64 {
	return e.tick.Load()
}

// Run steps the engine every tick, and early when a message arrives, until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.Tick)
	defer ticker.Stop()

	e.log.Info("simulation loop started", zap.Duration("tick", e.cfg.Tick))
	for {
		select {
		case <-ctx.Done():
			e.log.Info("simulation loop stopped", zap.Uint64("ticks", e.Tick()))
			return ctx.Err()
		case <-ticker.C:
		case <-e.cfg.Inbox.Ready():
		}
		e.Step()
	}
}

// Step handles every queued request once.
func (e *Engine) Step() {
	start := time.Now()
	defer metrics.ObserveTick("simulation", start)

	metrics.MailboxDepth.WithLabelValues("simulation").Set(float64(e.cfg.Inbox.Len()))
	for _, msg := range e.cfg.Inbox.Drain() {
		e.handle(msg)
	}

	if time.Since(e.lastSweep) >= e.cfg.SessionSweep {
		e.lastSweep = time.Now()
		if n := e.cfg.Sessions.CleanupExpiredSessions(e.cfg.PendingTTL); n > 0 {
			e.log.Info("expired pending sessions", zap.Int("count", n))
		}
	}
	e.tick.Add(1)
}

func (e *Engine) handle(msg message.Simulation) {
	switch m := msg.(type) {
	case message.RequestNewSession:
		e.issue(m.ID)
	case message.AttemptAuthSession:
		e.authenticate(m.ID, m.Token)
	case message.RequestWorldState:
		e.send(message.WorldState{ID: m.ID, Tick: e.Tick()})
	case message.ConnectionClosed:
		if err := e.cfg.Sessions.Release(m.ID); err != nil && !errors.Is(err, session.ErrSessionNotFound) {
			e.log.Warn("release session", zap.Uint64("conn", uint64(m.ID)), zap.Error(err))
		}
	default:
		e.log.Warn("unhandled simulation message", zap.Any("message", msg))
	}
}

func (e *Engine) issue(id connection.ID) {
	for attempt := 0; attempt < e.cfg.TokenAttempts; attempt++ {
		token, err := e.cfg.Tokens.Token()
		if err != nil {
			e.log.Error("draw token", zap.Uint64("conn", uint64(id)), zap.Error(err))
			return
		}
		if _, err := e.cfg.Sessions.Issue(id, token); err != nil {
			if errors.Is(err, session.ErrTokenInUse) {
				continue
			}
			e.log.Error("issue session", zap.Uint64("conn", uint64(id)), zap.Error(err))
			return
		}

		metrics.SessionsIssued.Inc()
		e.log.Debug("session issued", zap.Uint64("conn", uint64(id)), zap.Uint32("token", uint32(token)))
		e.send(message.NewSession{ID: id, Token: token})
		return
	}
	e.log.Warn("no free token after retries", zap.Uint64("conn", uint64(id)))
}

func (e *Engine) authenticate(id connection.ID, token packet.Token) {
	var issued *session.Session
	if s, err := e.cfg.Sessions.Get(id); err == nil {
		issued = &s
	}

	if !e.cfg.Auth.Authorize(id, token, issued) {
		e.reject(id, token, "rejected")
		return
	}
	// Bookkeeping only; an accepted attempt is always answered with success.
	if _, err := e.cfg.Sessions.Authenticate(id, token); err != nil {
		e.log.Warn("record session", zap.Uint64("conn", uint64(id)), zap.Error(err))
	}

	metrics.AuthAttempts.WithLabelValues("success").Inc()
	e.log.Info("session authenticated", zap.Uint64("conn", uint64(id)), zap.Uint32("token", uint32(token)))
	e.send(message.AuthSuccess{ID: id, Token: token})
}

func (e *Engine) reject(id connection.ID, token packet.Token, reason string) {
	metrics.AuthAttempts.WithLabelValues("fail").Inc()
	e.log.Info("authentication failed",
		zap.Uint64("conn", uint64(id)),
		zap.Uint32("token", uint32(token)),
		zap.String("reason", reason))
	e.send(message.AuthFail{ID: id})
}

func (e *Engine) send(msg message.Network) {
	if err := e.cfg.Outbox.Send(msg); err != nil {
		e.log.Debug("network mailbox closed", zap.Error(err))
	}
}
