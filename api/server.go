package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/wricardo/gamerelay/game/connection"
	"github.com/wricardo/gamerelay/game/network"
	"github.com/wricardo/gamerelay/game/packet"
	"github.com/wricardo/gamerelay/game/session"
	"github.com/wricardo/gamerelay/metrics"
)

// DefaultRequestTimeout bounds a round trip through the network loop.
const DefaultRequestTimeout = 2 * time.Second

// Connections is the network loop's admin surface.
type Connections interface {
	Connections(ctx context.Context) ([]connection.Info, error)
	Broadcast(ctx context.Context, p packet.Packet) (int, error)
	Disconnect(ctx context.Context, id connection.ID) (bool, error)
}

// Sessions lists the simulation's sessions.
type Sessions interface {
	List() []session.Session
}

// Options wires a Server. Connections and Sessions are required.
type Options struct {
	Connections Connections
	Sessions    Sessions
	// Tick reports the simulation tick for the health endpoint.
	Tick      func() uint64
	StaticDir string
	// MCP, when set, is served at POST /mcp.
	MCP            *server.MCPServer
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// Server represents the status and asset HTTP server
type Server struct {
	opts       Options
	log        *zap.Logger
	router     *mux.Router
	instanceID string
	started    time.Time
}

// NewServer creates a new API server
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Tick == nil {
		opts.Tick = func() uint64 { return 0 }
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}

	s := &Server{
		opts:       opts,
		log:        opts.Logger.Named("api"),
		router:     mux.NewRouter(),
		instanceID: uuid.NewString(),
		started:    time.Now(),
	}

	s.setupRoutes()
	return s
}

// InstanceID identifies this server process.
func (s *Server) InstanceID() string {
	return s.instanceID
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.Use(metrics.Middleware)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	api.HandleFunc("/connections", s.handleListConnections).Methods("GET")
	api.HandleFunc("/connections/{id:[0-9]+}", s.handleDisconnect).Methods("DELETE")
	api.HandleFunc("/sessions", s.handleListSessions).Methods("GET")
	api.HandleFunc("/broadcast", s.handleBroadcast).Methods("POST")

	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	if s.opts.MCP != nil {
		s.router.HandleFunc("/mcp", s.handleMCP).Methods("POST")
	}

	if s.opts.StaticDir != "" {
		s.router.PathPrefix("/").Handler(http.FileServer(http.Dir(s.opts.StaticDir)))
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Response helpers
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// loopError maps a failed network loop round trip to a response.
func (s *Server) loopError(w http.ResponseWriter, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		respondError(w, http.StatusServiceUnavailable, "network loop did not answer in time")
		return
	}
	s.log.Warn("network loop request failed", zap.Error(err))
	respondError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) loopContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.opts.RequestTimeout)
}

// Health check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "healthy",
		"instance_id": s.instanceID,
		"tick":        s.opts.Tick(),
		"uptime":      time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.loopContext(r)
	defer cancel()

	infos, err := s.opts.Connections.Connections(ctx)
	if err != nil {
		s.loopError(w, err)
		return
	}

	if state := r.URL.Query().Get("state"); state != "" {
		filtered := infos[:0]
		for _, info := range infos {
			if info.StateName == state {
				filtered = append(filtered, info)
			}
		}
		infos = filtered
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":       len(infos),
		"connections": infos,
	})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid connection id")
		return
	}

	ctx, cancel := s.loopContext(r)
	defer cancel()

	ok, err := s.opts.Connections.Disconnect(ctx, connection.ID(id))
	if err != nil {
		s.loopError(w, err)
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "connection not found")
		return
	}

	s.log.Info("connection disconnected by admin", zap.Uint64("conn", id))
	respondJSON(w, http.StatusOK, map[string]interface{}{"disconnected": id})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.opts.Sessions.List()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(sessions),
		"sessions": sessions,
	})
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		respondError(w, http.StatusBadRequest, "message is required")
		return
	}

	ctx, cancel := s.loopContext(r)
	defer cancel()

	n, err := s.opts.Connections.Broadcast(ctx, packet.Debug{Message: req.Message})
	if err != nil {
		if errors.Is(err, network.ErrNotServerPacket) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.loopError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"recipients": n})
}

func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	response := s.opts.MCP.HandleMessage(r.Context(), body)

	w.Header().Set("Content-Type", "application/json")
	responseData, err := json.Marshal(response)
	if err != nil {
		http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
		return
	}
	w.Write(responseData)
}
