// Package server exposes the engine over HTTP with the standard JSON
// envelope, request IDs, auth, and per-client rate limiting.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/kioku/internal/auth"
	"github.com/ashita-ai/kioku/internal/engine"
	"github.com/ashita-ai/kioku/internal/ratelimit"
)

// Server is the Kioku HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a
// Server. Optional fields (nil-safe): Auth, Limiter, MCPServer.
type ServerConfig struct {
	// Required dependencies.
	Engine *engine.Engine
	Logger *slog.Logger

	// Optional dependencies (nil = disabled).
	Auth      *auth.Authenticator
	Limiter   ratelimit.Limiter
	MCPServer *mcpserver.MCPServer

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(cfg.Engine, cfg.Auth, cfg.Logger, cfg.Version)

	rl := ratelimit.Middleware(cfg.Limiter, ratelimit.IPKeyFunc)

	mux := http.NewServeMux()

	// Token exchange (no auth required, rate limited by IP).
	mux.Handle("POST /auth/token", rl(http.HandlerFunc(h.HandleAuthToken)))

	// Ingestion (rate limited).
	mux.Handle("POST /v1/events", rl(http.HandlerFunc(h.HandleIngest)))

	// Event log and episodes (rate limited).
	mux.Handle("GET /v1/events", rl(http.HandlerFunc(h.HandleListEvents)))
	mux.Handle("GET /v1/events/{event_id}", rl(http.HandlerFunc(h.HandleGetEvent)))
	mux.Handle("GET /v1/episodes", rl(http.HandlerFunc(h.HandleListEpisodes)))

	// Memory retrieval (rate limited).
	mux.Handle("GET /v1/agents/{agent_id}/memories", rl(http.HandlerFunc(h.HandleAgentMemories)))
	mux.Handle("GET /v1/agents/{agent_id}/working", rl(http.HandlerFunc(h.HandleWorkingMemories)))
	mux.Handle("POST /v1/memories/context", rl(http.HandlerFunc(h.HandleContextMemories)))
	mux.Handle("GET /v1/memories/{memory_id}", rl(http.HandlerFunc(h.HandleGetMemory)))

	// Strategies and the policy guide (rate limited).
	mux.Handle("GET /v1/agents/{agent_id}/strategies", rl(http.HandlerFunc(h.HandleAgentStrategies)))
	mux.Handle("POST /v1/strategies/similar", rl(http.HandlerFunc(h.HandleSimilarStrategies)))
	mux.Handle("POST /v1/strategies/suggest", rl(http.HandlerFunc(h.HandleSuggestActions)))

	// Claims (rate limited).
	mux.Handle("GET /v1/claims", rl(http.HandlerFunc(h.HandleListClaims)))
	mux.Handle("GET /v1/claims/{claim_id}", rl(http.HandlerFunc(h.HandleGetClaim)))
	mux.Handle("POST /v1/claims/search", rl(http.HandlerFunc(h.HandleSearchClaims)))
	mux.Handle("POST /v1/claims/process_pending", rl(http.HandlerFunc(h.HandleProcessPendingClaims)))

	// Graph queries and analytics (rate limited).
	mux.Handle("GET /v1/graph", rl(http.HandlerFunc(h.HandleGraph)))
	mux.Handle("GET /v1/graph/neighborhood", rl(http.HandlerFunc(h.HandleNeighborhood)))
	mux.Handle("GET /v1/graph/communities", rl(http.HandlerFunc(h.HandleCommunities)))
	mux.Handle("GET /v1/graph/components", rl(http.HandlerFunc(h.HandleComponents)))
	mux.Handle("GET /v1/graph/centrality", rl(http.HandlerFunc(h.HandleCentrality)))
	mux.Handle("GET /v1/graph/paths", rl(http.HandlerFunc(h.HandlePaths)))
	mux.Handle("GET /v1/goals", rl(http.HandlerFunc(h.HandleGoals)))

	// Stats (rate limited).
	mux.Handle("GET /v1/stats", rl(http.HandlerFunc(h.HandleStats)))

	// MCP StreamableHTTP transport (auth applies via the outer chain).
	if cfg.MCPServer != nil {
		mux.Handle("/mcp", mcpserver.NewStreamableHTTPServer(cfg.MCPServer))
	}

	// Health (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → logging → auth → body cap → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	if cfg.MaxRequestBodyBytes > 0 {
		handler = maxBodyMiddleware(cfg.MaxRequestBodyBytes, handler)
	}
	if cfg.Auth != nil {
		handler = authExemptMiddleware(cfg.Auth, handler)
	}
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// authExemptMiddleware applies authentication to everything except the
// health check and the token exchange, which must be reachable without
// credentials.
func authExemptMiddleware(a *auth.Authenticator, next http.Handler) http.Handler {
	authed := a.Middleware(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health", "/auth/token":
			next.ServeHTTP(w, r)
		default:
			authed.ServeHTTP(w, r)
		}
	})
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
