// Package api serves the FinQuery HTTP interface.
//
// Endpoints:
//
//	POST   /api/session                create a conversation session
//	GET    /api/session/{id}           session info
//	DELETE /api/session/{id}           end a session
//	POST   /api/chat                   answer one market data query
//	POST   /api/chat/stream            answer one query over SSE
//	GET    /api/health                 service health
//	GET    /api/mcp-health             market data gateway connectivity
//	GET    /api/ai-health              AI agent availability
//	/api/prompts...                    system prompt management
//	GET    /health, GET /ready         probes, outside the middleware stack
//
// Handlers are grouped per concern (session.go, chat.go, health.go,
// prompts.go) with shared JSON and SSE helpers in response.go. Every failure
// uses the same envelope: a conversational answer the client can render
// directly, plus a machine-readable error code.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/finquery/finquery/internal/agent"
	"github.com/finquery/finquery/internal/cache"
	"github.com/finquery/finquery/internal/chat"
	"github.com/finquery/finquery/internal/prompt"
	"github.com/finquery/finquery/internal/session"
)

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = "0.0.0.0:8080"

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout bounds header reads to stop slowloris connections.
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading an entire request.
	ReadTimeout = 30 * time.Second

	// WriteTimeout is the maximum duration for writing a response. It must
	// outlast a fully streamed chat answer, tool calls included.
	WriteTimeout = 120 * time.Second

	// IdleTimeout is the keep-alive idle limit.
	IdleTimeout = 120 * time.Second
)

// HealthProber reports connectivity to the market data gateway.
// *market.Client implements it.
type HealthProber interface {
	Health(ctx context.Context) error
}

// AgentHealth reports AI agent availability. *agent.Agent implements it.
type AgentHealth interface {
	HealthInfo() agent.HealthInfo
}

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger      *slog.Logger   // slog.Default() when nil
	Chat        *chat.Service  // Required
	Sessions    *session.Store // Required
	Prompts     prompt.Store   // Optional: nil disables the prompt management API
	Market      HealthProber   // Optional: nil reports the gateway as disconnected
	MarketURL   string         // Gateway base URL, echoed by /api/mcp-health
	Agent       AgentHealth    // Optional: nil reports the AI agent as unavailable
	Cache       *cache.Store   // Optional: nil omits cache stats from /ready
	CORSOrigins []string       // Origins allowed to call the API from a browser
	Version     string         // Reported by /api/health
}

// Server is the FinQuery HTTP server.
type Server struct {
	mux    *http.ServeMux
	logger *slog.Logger
}

// NewServer creates a server with all routes registered.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Chat == nil {
		return nil, errors.New("chat service is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("session store is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sh := &sessionHandler{sessions: cfg.Sessions, logger: logger}
	ch := &chatHandler{chat: cfg.Chat, logger: logger}
	hh := &healthHandler{
		version:   cfg.Version,
		market:    cfg.Market,
		marketURL: cfg.MarketURL,
		agent:     cfg.Agent,
		sessions:  cfg.Sessions,
		cache:     cfg.Cache,
	}

	mux := http.NewServeMux()
	sh.register(mux)
	ch.register(mux)
	hh.register(mux)

	// Prompt management only runs when a store is configured.
	if cfg.Prompts != nil {
		ph := &promptHandler{store: cfg.Prompts, logger: logger}
		ph.register(mux)
	}

	// Middleware stack, outermost first. RequestID runs before Logging so
	// request_id is available in log attributes.
	handler := chain(mux,
		recoveryMiddleware(logger),
		requestIDMiddleware(),
		loggingMiddleware(logger),
		corsMiddleware(cfg.CORSOrigins),
	)

	// Probes answer on a top-level mux so orchestrators never pay for the
	// middleware stack.
	topMux := http.NewServeMux()
	hh.registerProbes(topMux)
	topMux.Handle("/", handler)

	return &Server{mux: topMux, logger: logger}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run starts the HTTP server and blocks until the context is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
