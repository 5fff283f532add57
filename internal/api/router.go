// Copyright © 2026 Arinova, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package api implements the HTTP/SSE FrontendAdapter: an OpenAI-compatible
// /v1/chat/completions endpoint plus /v1/models listing, sharing a single
// TurnCoordinator with the WebSocket bot adapter.
package api

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/arinova/bridge/internal/api/handlers"
	"github.com/arinova/bridge/internal/api/middleware"
)

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	Host string
	Port int
}

// Dependencies holds everything the router needs to build its handlers.
type Dependencies struct {
	Coordinator   handlers.Coordinator
	ModelCatalog  handlers.ModelCatalog
	SessionLister handlers.SessionLister
}

// NewRouter creates the gateway's HTTP router. started is recorded as the
// epoch /healthz reports uptime against; callers pass the app's own start
// time so it survives router reconstruction in tests.
func NewRouter(deps Dependencies, started time.Time) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.Logging)
	r.Use(middleware.Recovery)

	chatHandler := handlers.NewChatHandler(deps.Coordinator)
	modelHandler := handlers.NewModelHandler(deps.ModelCatalog)
	healthHandler := handlers.NewHealthHandler(deps.SessionLister, started)

	r.Handle("/healthz", healthHandler).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Handle("/chat/completions", chatHandler).Methods(http.MethodPost)
	v1.HandleFunc("/models", modelHandler.List).Methods(http.MethodGet)
	v1.HandleFunc("/models/{id}", modelHandler.Get).Methods(http.MethodGet)

	return r
}

// Server represents the API server.
type Server struct {
	router *mux.Router
	cfg    ServerConfig
	server *http.Server
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig, deps Dependencies) *Server {
	return &Server{
		router: NewRouter(deps, time.Now()),
		cfg:    cfg,
	}
}

// Router returns the underlying router, mainly for tests.
func (s *Server) Router() *mux.Router {
	return s.router
}

// ListenAndServe starts the server. The listener disables Nagle's algorithm
// on every accepted connection so SSE deltas reach the client without the
// TCP stack's own buffering delay.
func (s *Server) ListenAndServe() error {
	addr := s.cfg.Host + ":" + strconv.Itoa(s.cfg.Port)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	s.server = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	log.Printf("API server listening on http://%s", addr)
	return s.server.Serve(&noDelayListener{ln})
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	log.Println("Shutting down API server...")

	shutdownCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}

	return s.server.Shutdown(shutdownCtx)
}

// noDelayListener wraps a net.Listener and disables Nagle's algorithm on
// every TCP connection it accepts.
type noDelayListener struct {
	net.Listener
}

func (l *noDelayListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return conn, nil
}
