package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.ngrok.com/ngrok"
	ngrokConfig "golang.ngrok.com/ngrok/config"

	"github.com/wricardo/gamerelay/api"
	"github.com/wricardo/gamerelay/game/config"
	"github.com/wricardo/gamerelay/game/connection"
	"github.com/wricardo/gamerelay/game/engine"
	"github.com/wricardo/gamerelay/game/message"
	"github.com/wricardo/gamerelay/game/network"
	"github.com/wricardo/gamerelay/transport/acceptor"
	"github.com/wricardo/gamerelay/transport/mcp"
	"github.com/wricardo/gamerelay/transport/sockio"
)

const shutdownTimeout = 10 * time.Second

// runtime is one wired server: both loops, the acceptor and the status API.
type runtime struct {
	cfg *config.Server
	log *zap.Logger

	netInbox *message.Mailbox[message.Network]
	simInbox *message.Mailbox[message.Simulation]
	loop     *network.Loop
	engine   *engine.Engine
	acceptor *acceptor.Acceptor
	api      *api.Server
}

func newRuntime(cfg *config.Server, logger *zap.Logger) (*runtime, error) {
	tokens, err := engine.TokenSourceByName(cfg.TokenSource, cfg.TokenSpace)
	if err != nil {
		return nil, err
	}
	auth, err := engine.AuthorizerByName(cfg.AuthMode)
	if err != nil {
		return nil, err
	}

	rt := &runtime{
		cfg:      cfg,
		log:      logger,
		netInbox: message.NewMailbox[message.Network](),
		simInbox: message.NewMailbox[message.Simulation](),
	}

	rt.loop = network.New(network.Config{
		Inbox:      rt.netInbox,
		Simulation: rt.simInbox,
		Manager:    connection.NewManager(cfg.ConnectionOptions(), logger),
		Tick:       time.Duration(cfg.NetworkTick),
		Logger:     logger,
	})
	rt.engine = engine.New(engine.Config{
		Inbox:        rt.simInbox,
		Outbox:       rt.netInbox,
		Tokens:       tokens,
		Auth:         auth,
		Logger:       logger,
		Tick:         time.Duration(cfg.SimulationTick),
		SessionSweep: time.Duration(cfg.SessionSweep),
		PendingTTL:   time.Duration(cfg.PendingTTL),
	})
	rt.acceptor = acceptor.New(acceptor.Config{
		Inbox:            rt.netInbox,
		HandshakeTimeout: time.Duration(cfg.HandshakeTimeout),
		RateLimit:        cfg.HandshakeRate,
		Burst:            cfg.HandshakeBurst,
		Logger:           logger,
	})

	opts := api.Options{
		Connections: network.Admin{Inbox: rt.netInbox},
		Sessions:    rt.engine.Sessions(),
		Tick:        rt.engine.Tick,
		StaticDir:   cfg.StaticDir,
		Logger:      logger,
	}
	if cfg.AssetAddr != "" {
		opts.MCP = mcp.NewClient(assetURL(cfg.AssetAddr)).GetMCPServer()
	}
	rt.api = api.NewServer(opts)

	return rt, nil
}

// assetURL is the loopback URL the /mcp endpoint uses to reach its own API.
func assetURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil || host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// listenAndServe binds the configured listeners and serves until ctx is done.
// Failing to bind is fatal; a failed ngrok tunnel is not.
func (rt *runtime) listenAndServe(ctx context.Context, ngrokAuth string) error {
	gameLn, err := sockio.Listen(ctx, rt.cfg.GameAddr, sockio.ListenOptions{ReusePort: rt.cfg.ReusePort})
	if err != nil {
		return err
	}

	var assetLn net.Listener
	if rt.cfg.AssetAddr != "" {
		assetLn, err = sockio.Listen(ctx, rt.cfg.AssetAddr, sockio.ListenOptions{})
		if err != nil {
			gameLn.Close()
			return err
		}
	}

	listeners := []net.Listener{gameLn}
	if rt.cfg.Ngrok {
		if tun := rt.openTunnel(ctx, ngrokAuth); tun != nil {
			listeners = append(listeners, tun)
		}
	}

	return rt.serve(ctx, listeners, assetLn)
}

func (rt *runtime) openTunnel(ctx context.Context, authToken string) net.Listener {
	if authToken == "" {
		rt.log.Warn("ngrok enabled but no auth token provided (use --ngrok-auth or NGROK_AUTHTOKEN)")
		return nil
	}

	var endpoint ngrokConfig.Tunnel
	if rt.cfg.NgrokDomain != "" {
		endpoint = ngrokConfig.HTTPEndpoint(ngrokConfig.WithDomain(rt.cfg.NgrokDomain))
	} else {
		endpoint = ngrokConfig.HTTPEndpoint()
	}

	tun, err := ngrok.Listen(ctx, endpoint, ngrok.WithAuthtoken(authToken))
	if err != nil {
		rt.log.Error("failed to start ngrok tunnel", zap.Error(err))
		return nil
	}
	rt.log.Info("ngrok tunnel established", zap.String("url", tun.URL()))
	return tun
}

// serve runs every component until ctx is done or one of them fails, then
// shuts them all down. Each game listener gets its own accept loop; only the
// first one is fatal when it fails.
func (rt *runtime) serve(ctx context.Context, gameListeners []net.Listener, assetLn net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errs := make(chan error, len(gameListeners)+3)
	run := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
				errs <- fmt.Errorf("%s: %w", name, err)
				cancel()
			}
		}()
	}

	run("network loop", func() error { return rt.loop.Run(ctx) })
	run("simulation loop", func() error { return rt.engine.Run(ctx) })
	for i, ln := range gameListeners {
		run("acceptor", func() error {
			err := rt.acceptor.Serve(ctx, ln)
			if err != nil && i > 0 {
				rt.log.Error("tunnel listener stopped", zap.Error(err))
				return nil
			}
			return err
		})
	}

	var httpServer *http.Server
	if assetLn != nil {
		httpServer = &http.Server{
			Handler:      rt.api,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		rt.log.Info("status server listening",
			zap.String("addr", assetLn.Addr().String()),
			zap.String("instance_id", rt.api.InstanceID()))
		run("status server", func() error {
			if err := httpServer.Serve(assetLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	<-ctx.Done()
	rt.log.Info("shutting down")

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			rt.log.Warn("status server shutdown error", zap.Error(err))
		}
	}

	wg.Wait()
	rt.netInbox.Close()
	rt.simInbox.Close()

	// Handshakes that finished after the network loop stopped.
	for _, msg := range rt.netInbox.Drain() {
		if nc, ok := msg.(message.NewConnection); ok {
			nc.Conn.Close()
		}
	}

	close(errs)
	var first error
	for err := range errs {
		if first == nil {
			first = err
		}
	}
	rt.log.Info("server stopped")
	return first
}
