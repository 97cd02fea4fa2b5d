// Package api exposes the supervisor over HTTP.
//
// Routes:
//
//	POST /api/start-agent         start (or restart) the worker for a session
//	POST /api/stop-agent          stop a session's worker
//	GET  /api/agents              list registered workers
//	GET  /api/agents/{sessionID}  one worker, with a live probe when enabled
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/randomizedcoder/go-room-agent-supervisor/internal/process"
	"github.com/randomizedcoder/go-room-agent-supervisor/internal/registry"
	"github.com/randomizedcoder/go-room-agent-supervisor/internal/supervisor"
	"github.com/randomizedcoder/go-room-agent-supervisor/internal/workerprobe"
)

// Supervisor is the subset of *supervisor.Supervisor the API drives.
type Supervisor interface {
	Start(ctx context.Context, sessionID string, creds process.Credentials) (supervisor.Outcome, error)
	Stop(ctx context.Context, sessionID string) (supervisor.StopResult, error)
	List() []registry.Entry
	Status(sessionID string) (registry.Entry, bool)
}

// Prober checks the worker that currently owns the well-known port.
type Prober interface {
	Enabled() bool
	Probe(ctx context.Context) workerprobe.Result
}

// Config holds configuration for creating a new Server.
type Config struct {
	Addr       string
	Supervisor Supervisor
	Prober     Prober // optional
	Logger     *slog.Logger

	// MaxBodyBytes caps request bodies. Default 1 MiB.
	MaxBodyBytes int64
}

// Server serves the control API.
type Server struct {
	addr    string
	sup     Supervisor
	prober  Prober
	logger  *slog.Logger
	maxBody int64

	server   *http.Server
	listener net.Listener
}

// NewServer creates the API server. Start binds it.
func NewServer(cfg Config) *Server {
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	s := &Server{
		addr:    cfg.Addr,
		sup:     cfg.Supervisor,
		prober:  cfg.Prober,
		logger:  cfg.Logger,
		maxBody: maxBody,
	}
	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		// No WriteTimeout: start-agent may legitimately block for the
		// settle delay plus the ready timeout.
		IdleTimeout: 60 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(s.recoverer)
	r.Use(s.logRequests)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found", "")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "")
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/start-agent", s.handleStartAgent)
		r.Post("/stop-agent", s.handleStopAgent)
		r.Get("/agents", s.handleListAgents)
		r.Get("/agents/{sessionID}", s.handleGetAgent)
	})

	return r
}

// Handler returns the router. Used by tests and for embedding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start binds the address and serves in a goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.listener = ln
	s.logger.Info("api_server_starting", "addr", ln.Addr().String())

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api_server_error", "error", err)
		}
	}()
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Debug("api_server_shutting_down")
	return s.server.Shutdown(ctx)
}

// Addr returns the bound address once started, the configured one before.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}
