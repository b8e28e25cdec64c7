// Package acceptor accepts game sockets and performs the websocket handshake.
//
// Each accepted socket gets one read, bounded by a short deadline, holding the
// HTTP upgrade request. Sockets that fail to parse, are not upgrade requests, or
// miss the deadline are closed without a response. Sockets that complete the
// handshake are handed to the network loop through its mailbox.
package acceptor

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wricardo/gamerelay/game/message"
	"github.com/wricardo/gamerelay/metrics"
	"github.com/wricardo/gamerelay/transport/websocket"
)

const (
	DefaultHandshakeTimeout = 500 * time.Millisecond
	maxAcceptBackoff        = time.Second
)

// Config wires an Acceptor.
type Config struct {
	Inbox            *message.Mailbox[message.Network]
	HandshakeTimeout time.Duration
	BufferSize       int
	// RateLimit caps new handshakes per second. Zero or less disables the cap.
	RateLimit float64
	Burst     int
	Logger    *zap.Logger
}

// Acceptor turns raw sockets into websocket connections
type Acceptor struct {
	cfg     Config
	log     *zap.Logger
	limiter *rate.Limiter
}

// New creates an acceptor. Inbox is required.
func New(cfg Config) *Acceptor {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = websocket.HandshakeBufferSize
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	return &Acceptor{
		cfg:     cfg,
		log:     cfg.Logger.Named("acceptor"),
		limiter: rate.NewLimiter(limit, cfg.Burst),
	}
}

// Serve accepts connections from ln until ctx is done or ln fails. It closes ln
// and waits for in-flight handshakes before returning.
func (a *Acceptor) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	a.log.Info("accepting game connections", zap.String("addr", ln.Addr().String()))

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				backoff = nextBackoff(backoff)
				a.log.Warn("accept failed, retrying", zap.Error(err), zap.Duration("backoff", backoff))
				time.Sleep(backoff)
				continue
			}
			return err
		}
		backoff = 0

		if !a.limiter.Allow() {
			metrics.HandshakesTotal.WithLabelValues("rate_limited").Inc()
			a.log.Debug("handshake rate limited", zap.String("remote_addr", conn.RemoteAddr().String()))
			conn.Close()
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			a.handshake(conn)
		}()
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > maxAcceptBackoff {
		d = maxAcceptBackoff
	}
	return d
}

func (a *Acceptor) handshake(conn net.Conn) {
	remote := conn.RemoteAddr().String()
	reject := func(result string, err error) {
		metrics.HandshakesTotal.WithLabelValues(result).Inc()
		a.log.Debug("handshake rejected",
			zap.String("remote_addr", remote),
			zap.String("result", result),
			zap.Error(err))
		conn.Close()
	}

	deadline := time.Now().Add(a.cfg.HandshakeTimeout)
	if err := conn.SetDeadline(deadline); err != nil {
		reject("deadline", err)
		return
	}

	buf := make([]byte, a.cfg.BufferSize)
	n, err := conn.Read(buf)
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			reject("timeout", err)
		} else {
			reject("read_error", err)
		}
		return
	}

	req, err := websocket.ParseRequest(buf[:n])
	if err != nil {
		reject("parse_error", err)
		return
	}
	if !websocket.IsUpgrade(req) {
		reject("not_upgrade", nil)
		return
	}
	if err := websocket.Negotiate(conn, req); err != nil {
		reject("negotiate_error", err)
		return
	}
	if err := conn.SetDeadline(time.Time{}); err != nil {
		reject("deadline", err)
		return
	}

	if err := a.cfg.Inbox.Send(message.NewConnection{Conn: conn, Buffered: req.Rest}); err != nil {
		reject("shutdown", err)
		return
	}
	metrics.HandshakesTotal.WithLabelValues("accepted").Inc()
	a.log.Debug("handshake complete", zap.String("remote_addr", remote), zap.String("target", req.Target))
}
