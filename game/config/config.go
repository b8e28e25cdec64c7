package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/wricardo/gamerelay/game/connection"
	"github.com/wricardo/gamerelay/game/engine"
	"github.com/wricardo/gamerelay/game/network"
	"github.com/wricardo/gamerelay/transport/acceptor"
)

var (
	ErrConfigNotFound = errors.New("configuration not found")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// Duration is a time.Duration that reads and writes as a duration string.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Server is the full server configuration
type Server struct {
	GameAddr  string `json:"game_addr"`
	AssetAddr string `json:"asset_addr"`
	StaticDir string `json:"static_dir"`

	NetworkTick      Duration `json:"network_tick"`
	SimulationTick   Duration `json:"simulation_tick"`
	HandshakeTimeout Duration `json:"handshake_timeout"`
	WriteTimeout     Duration `json:"write_timeout"`
	MaxPayload       int      `json:"max_payload"`
	AllowUnmasked    bool     `json:"allow_unmasked"`

	TokenSource  string   `json:"token_source"`
	TokenSpace   uint32   `json:"token_space"`
	AuthMode     string   `json:"auth_mode"`
	PendingTTL   Duration `json:"pending_ttl"`
	SessionSweep Duration `json:"session_sweep"`

	HandshakeRate  float64 `json:"handshake_rate"`
	HandshakeBurst int     `json:"handshake_burst"`
	ReusePort      bool    `json:"reuse_port"`

	Ngrok       bool   `json:"ngrok"`
	NgrokDomain string `json:"ngrok_domain"`

	Debug bool `json:"debug"`
}

// Default returns the configuration the server runs with when nothing is set.
func Default() *Server {
	opts := connection.DefaultOptions()
	return &Server{
		GameAddr:         ":1337",
		AssetAddr:        ":8080",
		StaticDir:        "static",
		NetworkTick:      Duration(network.DefaultTick),
		SimulationTick:   Duration(engine.DefaultTick),
		HandshakeTimeout: Duration(acceptor.DefaultHandshakeTimeout),
		WriteTimeout:     Duration(opts.WriteTimeout),
		MaxPayload:       opts.MaxPayload,
		TokenSource:      "bounded",
		TokenSpace:       engine.DefaultTokenSpace,
		AuthMode:         "accept_all",
		PendingTTL:       Duration(engine.DefaultPendingTTL),
		SessionSweep:     Duration(engine.DefaultSessionSweep),
		HandshakeBurst:   16,
	}
}

// Load reads path over the defaults. An empty path returns Default().
func Load(path string) (*Server, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path as indented JSON.
func (s *Server) Save(path string) error {
	if err := s.Validate(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate reports the first invalid field, wrapped in ErrInvalidConfig.
func (s *Server) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	if _, _, err := net.SplitHostPort(s.GameAddr); err != nil {
		return invalid("game_addr %q: %v", s.GameAddr, err)
	}
	if s.AssetAddr != "" {
		if _, _, err := net.SplitHostPort(s.AssetAddr); err != nil {
			return invalid("asset_addr %q: %v", s.AssetAddr, err)
		}
	}

	durations := []struct {
		name string
		d    Duration
	}{
		{"network_tick", s.NetworkTick},
		{"simulation_tick", s.SimulationTick},
		{"handshake_timeout", s.HandshakeTimeout},
		{"write_timeout", s.WriteTimeout},
		{"pending_ttl", s.PendingTTL},
		{"session_sweep", s.SessionSweep},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return invalid("%s must be positive", d.name)
		}
	}

	if s.MaxPayload <= 0 {
		return invalid("max_payload must be positive")
	}
	if s.HandshakeRate < 0 {
		return invalid("handshake_rate must not be negative")
	}
	if _, err := engine.TokenSourceByName(s.TokenSource, s.TokenSpace); err != nil {
		return invalid("%v", err)
	}
	if _, err := engine.AuthorizerByName(s.AuthMode); err != nil {
		return invalid("%v", err)
	}
	return nil
}

// ConnectionOptions derives the manager options.
func (s *Server) ConnectionOptions() connection.Options {
	opts := connection.DefaultOptions()
	opts.MaxPayload = s.MaxPayload
	opts.WriteTimeout = time.Duration(s.WriteTimeout)
	opts.AllowUnmasked = s.AllowUnmasked
	return opts
}
