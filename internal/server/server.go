// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/morganforge/coachline/internal/content"
	"github.com/morganforge/coachline/internal/logger"
	"github.com/morganforge/coachline/internal/response"
)

// Version is reported by /health. Set at build time via -ldflags.
var Version = "dev"

// DefaultShutdownTimeout bounds graceful shutdown in Run.
const DefaultShutdownTimeout = 10 * time.Second

// GatewayStatus reports whether upstream credentials are present.
type GatewayStatus interface {
	IsConfigured() bool
}

// ============================================================================
// SERVER
// ============================================================================

// Server is the coachline HTTP server.
type Server struct {
	addr            string
	chatPath        string
	chat            http.Handler
	gateway         GatewayStatus
	content         *content.Store
	admin           *AdminAuth
	limiter         *RateLimiter
	ips             *ClientIPResolver
	log             *slog.Logger
	shutdownTimeout time.Duration
	started         time.Time

	mu       sync.RWMutex
	handler  http.Handler
	server   *http.Server
	listener net.Listener
}

// New creates a server listening on addr.
func New(addr string) *Server {
	ips, _ := NewClientIPResolver(nil)
	return &Server{
		addr:            addr,
		chatPath:        "/api/chat",
		ips:             ips,
		log:             slog.Default(),
		shutdownTimeout: DefaultShutdownTimeout,
		started:         time.Now(),
	}
}

// WithChat mounts the chat proxy at path. The handler answers its own
// preflight and method errors.
func (s *Server) WithChat(path string, h http.Handler) *Server {
	if path != "" {
		s.chatPath = path
	}
	s.chat = h
	return s
}

// WithGateway reports the gateway's configuration in /health.
func (s *Server) WithGateway(g GatewayStatus) *Server {
	s.gateway = g
	return s
}

// WithContent enables the content routes.
func (s *Server) WithContent(store *content.Store) *Server {
	s.content = store
	return s
}

// WithAdmin sets the authenticator for content writes.
func (s *Server) WithAdmin(a *AdminAuth) *Server {
	s.admin = a
	return s
}

// WithRateLimiter enables per-client rate limiting.
func (s *Server) WithRateLimiter(rl *RateLimiter) *Server {
	s.limiter = rl
	return s
}

// WithClientIP sets how client addresses are derived.
func (s *Server) WithClientIP(r *ClientIPResolver) *Server {
	s.ips = r
	return s
}

// WithLogger sets the logger.
func (s *Server) WithLogger(l *slog.Logger) *Server {
	s.log = l
	return s
}

// WithShutdownTimeout bounds graceful shutdown in Run.
func (s *Server) WithShutdownTimeout(d time.Duration) *Server {
	if d > 0 {
		s.shutdownTimeout = d
	}
	return s
}

// Addr returns the bound address once listening, else the configured one.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ============================================================================
// ROUTES
// ============================================================================

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handler != nil {
		return s.handler
	}

	mux := http.NewServeMux()
	s.setupRoutes(mux)

	s.handler = Chain(
		RecoveryMiddleware(s.log),
		RequestIDMiddleware(),
		LoggingMiddleware(s.log, s.ips.ClientIP),
		CORSMiddleware(),
		RateLimitMiddleware(s.limiter, s.ips.ClientIP),
		SecurityHeadersMiddleware(),
	)(mux)
	return s.handler
}

func (s *Server) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("OPTIONS /health", preflight)

	if s.chat != nil {
		mux.Handle(s.chatPath, s.chat)
	}

	if s.content != nil {
		admin := s.admin.Middleware

		mux.HandleFunc("OPTIONS /api/content/", preflight)
		mux.HandleFunc("GET /api/content/events", s.handleContentEvents)
		mux.HandleFunc("GET /api/content/{lang}", s.handleListContent)
		mux.HandleFunc("GET /api/content/{lang}/{key}", s.handleGetContent)
		mux.Handle("PUT /api/content/{lang}/{key}", admin(http.HandlerFunc(s.handlePutContent)))
		mux.Handle("DELETE /api/content/{lang}/{key}", admin(http.HandlerFunc(s.handleDeleteContent)))

		mux.HandleFunc("OPTIONS /api/images", preflight)
		mux.HandleFunc("OPTIONS /api/images/", preflight)
		mux.HandleFunc("GET /api/images", s.handleListImages)
		mux.HandleFunc("GET /api/images/{key}", s.handleGetImage)
		mux.Handle("PUT /api/images/{key}", admin(http.HandlerFunc(s.handlePutImage)))
		mux.Handle("DELETE /api/images/{key}", admin(http.HandlerFunc(s.handleDeleteImage)))
	}
}

// ============================================================================
// HEALTH CHECK
// ============================================================================

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status            string `json:"status"`
	Version           string `json:"version"`
	UptimeSecs        int64  `json:"uptime_secs"`
	GatewayConfigured bool   `json:"gateway_configured"`
	ContentEnabled    bool   `json:"content_enabled"`
	AdminEnabled      bool   `json:"admin_enabled"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:         "ok",
		Version:        Version,
		UptimeSecs:     int64(time.Since(s.started).Seconds()),
		ContentEnabled: s.content != nil,
		AdminEnabled:   s.admin.Enabled(),
	}
	if s.gateway != nil {
		resp.GatewayConfigured = s.gateway.IsConfigured()
	}
	if !resp.GatewayConfigured {
		resp.Status = "degraded"
	}
	response.JSON(w, http.StatusOK, resp)
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown. A clean shutdown returns nil.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Chat and event streams stay open well past any fixed write deadline.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     slog.NewLogLogger(s.log.Handler(), slog.LevelWarn),
	}

	s.mu.Lock()
	s.server = srv
	s.listener = ln
	s.mu.Unlock()

	s.log.Info("server started", "addr", ln.Addr().String(), "version", Version, "chat_path", s.chatPath)

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	srv := s.server
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}

	s.log.Info("server shutting down")
	return srv.Shutdown(ctx)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("graceful shutdown incomplete", logger.Err(err))
		return err
	}
	return <-errCh
}
