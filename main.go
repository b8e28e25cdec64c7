// Command gamerelay runs the game relay server.
//
// It supports three commands:
//  1. "serve" (default): accepts game connections on the game port and runs the
//     status/asset HTTP server (API, /metrics and an /mcp endpoint) on the asset port
//  2. "mcp": runs an MCP stdio server proxying to a running server's status API
//  3. "probe": connects as a game client and performs a session/auth round trip
//
// Flags may also be set through environment variables, which are read from a
// .env file when one exists. An optional ngrok tunnel exposes the game port.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/wricardo/gamerelay/client"
	"github.com/wricardo/gamerelay/game/config"
	"github.com/wricardo/gamerelay/game/packet"
	"github.com/wricardo/gamerelay/transport/mcp"
)

// Version information
const (
	Version = "1.0.0"
	AppName = "gamerelay"
)

// main loads .env, then runs the command tree until a signal arrives.
func main() {
	envErr := godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if envErr != nil && !errors.Is(envErr, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: Error loading .env file: %v\n", envErr)
	}

	if err := newCommand().Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", AppName, err)
		os.Exit(1)
	}
}

// serveFlags are shared by the root command and serve. Every flag overrides the
// value from --config when set.
func serveFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Usage: "JSON configuration file", Sources: cli.EnvVars("GAMERELAY_CONFIG")},
		&cli.BoolFlag{Name: "debug", Usage: "Enable debug logging", Sources: cli.EnvVars("GAMERELAY_DEBUG")},
		&cli.StringFlag{Name: "game-addr", Usage: "Game listener address", Sources: cli.EnvVars("GAME_ADDR")},
		&cli.StringFlag{Name: "asset-addr", Usage: "Status and asset HTTP address (empty disables)", Sources: cli.EnvVars("ASSET_ADDR")},
		&cli.StringFlag{Name: "static-dir", Usage: "Directory served on the asset port", Sources: cli.EnvVars("STATIC_DIR")},
		&cli.DurationFlag{Name: "network-tick", Usage: "Network loop period", Sources: cli.EnvVars("NETWORK_TICK")},
		&cli.DurationFlag{Name: "simulation-tick", Usage: "Simulation loop period", Sources: cli.EnvVars("SIMULATION_TICK")},
		&cli.DurationFlag{Name: "handshake-timeout", Usage: "Deadline for the upgrade request", Sources: cli.EnvVars("HANDSHAKE_TIMEOUT")},
		&cli.StringFlag{Name: "auth-mode", Usage: "accept_all (insecure) or issued", Sources: cli.EnvVars("AUTH_MODE")},
		&cli.StringFlag{Name: "token-source", Usage: "bounded or crypto", Sources: cli.EnvVars("TOKEN_SOURCE")},
		&cli.Float64Flag{Name: "handshake-rate", Usage: "New handshakes per second, 0 for unlimited", Sources: cli.EnvVars("HANDSHAKE_RATE")},
		&cli.BoolFlag{Name: "reuse-port", Usage: "Set SO_REUSEPORT on the game listener", Sources: cli.EnvVars("REUSE_PORT")},
		&cli.BoolFlag{Name: "ngrok", Usage: "Expose the game port through an ngrok tunnel", Sources: cli.EnvVars("NGROK_ENABLED")},
		&cli.StringFlag{Name: "ngrok-auth", Usage: "Ngrok auth token", Sources: cli.EnvVars("NGROK_AUTHTOKEN", "NGROK_AUTH_TOKEN")},
		&cli.StringFlag{Name: "ngrok-domain", Usage: "Custom ngrok domain", Sources: cli.EnvVars("NGROK_DOMAIN")},
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:    AppName,
		Usage:   "WebSocket game relay with session authentication",
		Version: Version,
		Flags:   serveFlags(),
		Action:  runServe,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the game server (default)",
				Action: runServe,
			},
			{
				Name:  "mcp",
				Usage: "Run an MCP stdio server against a running status API",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "api-url", Value: "http://localhost:8080", Usage: "Status API base URL", Sources: cli.EnvVars("GAMERELAY_API_URL")},
				},
				Action: runMCP,
			},
			{
				Name:  "probe",
				Usage: "Connect as a client and run a session round trip",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "url", Value: "ws://localhost:1337/", Usage: "Game server URL"},
					&cli.StringFlag{Name: "token", Usage: "Token to authenticate with; requests a new session when empty"},
					&cli.DurationFlag{Name: "timeout", Value: client.DefaultTimeout, Usage: "Round trip timeout"},
				},
				Action: runProbe,
			},
		},
	}
}

// loadConfig reads --config and applies every flag that was set.
func loadConfig(cmd *cli.Command) (*config.Server, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, err
	}

	if cmd.IsSet("debug") {
		cfg.Debug = cmd.Bool("debug")
	}
	if cmd.IsSet("game-addr") {
		cfg.GameAddr = cmd.String("game-addr")
	}
	if cmd.IsSet("asset-addr") {
		cfg.AssetAddr = cmd.String("asset-addr")
	}
	if cmd.IsSet("static-dir") {
		cfg.StaticDir = cmd.String("static-dir")
	}
	if cmd.IsSet("network-tick") {
		cfg.NetworkTick = config.Duration(cmd.Duration("network-tick"))
	}
	if cmd.IsSet("simulation-tick") {
		cfg.SimulationTick = config.Duration(cmd.Duration("simulation-tick"))
	}
	if cmd.IsSet("handshake-timeout") {
		cfg.HandshakeTimeout = config.Duration(cmd.Duration("handshake-timeout"))
	}
	if cmd.IsSet("auth-mode") {
		cfg.AuthMode = cmd.String("auth-mode")
	}
	if cmd.IsSet("token-source") {
		cfg.TokenSource = cmd.String("token-source")
	}
	if cmd.IsSet("handshake-rate") {
		cfg.HandshakeRate = cmd.Float64("handshake-rate")
	}
	if cmd.IsSet("reuse-port") {
		cfg.ReusePort = cmd.Bool("reuse-port")
	}
	if cmd.IsSet("ngrok") {
		cfg.Ngrok = cmd.Bool("ngrok")
	}
	if cmd.IsSet("ngrok-domain") {
		cfg.NgrokDomain = cmd.String("ngrok-domain")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Debug)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("starting", zap.String("app", AppName), zap.String("version", Version))

	rt, err := newRuntime(cfg, logger)
	if err != nil {
		return err
	}
	return rt.listenAndServe(ctx, cmd.String("ngrok-auth"))
}

// runMCP serves the admin tools over stdio. Logs go to stderr.
func runMCP(ctx context.Context, cmd *cli.Command) error {
	logger, err := newLogger(cmd.Bool("debug"))
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()

	baseURL := cmd.String("api-url")
	probe := &http.Client{Timeout: 2 * time.Second}
	if resp, err := probe.Get(baseURL + "/api/health"); err != nil {
		logger.Warn("status API not reachable, tools will fail until it is", zap.String("url", baseURL), zap.Error(err))
	} else {
		resp.Body.Close()
		logger.Info("using status API", zap.String("url", baseURL))
	}

	mcpClient := mcp.NewClient(baseURL)
	if err := server.ServeStdio(mcpClient.GetMCPServer()); err != nil {
		return fmt.Errorf("MCP stdio server error: %w", err)
	}
	return nil
}

func runProbe(ctx context.Context, cmd *cli.Command) error {
	out := cmd.Root().Writer
	if out == nil {
		out = os.Stdout
	}

	ctx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
	defer cancel()

	url := cmd.String("url")
	c, err := client.Dial(ctx, url)
	if err != nil {
		return err
	}
	defer c.Close()
	fmt.Fprintf(out, "connected to %s\n", url)

	var token packet.Token
	if raw := cmd.String("token"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid token %q: %w", raw, err)
		}
		token = packet.Token(v)
	} else {
		token, err = c.RequestSession(ctx)
		if err != nil {
			return fmt.Errorf("request session: %w", err)
		}
		fmt.Fprintf(out, "issued token %d\n", token)
	}

	authed, err := c.Authenticate(ctx, token)
	if err != nil {
		return fmt.Errorf("authenticate with %d: %w", token, err)
	}
	fmt.Fprintf(out, "authenticated with token %d\n", authed)

	world, err := c.DownloadWorld(ctx)
	if err != nil {
		return fmt.Errorf("download world: %w", err)
	}
	fmt.Fprintf(out, "world state at tick %d (%d bytes)\n", world.Tick, len(world.Data))
	return nil
}
