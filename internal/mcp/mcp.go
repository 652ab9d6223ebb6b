// Package mcp implements the Model Context Protocol server for Kioku.
//
// The MCP server exposes the memory surface as tools, letting MCP-compatible
// agents record events and consult their accumulated memories, strategies,
// and claims mid-task.
package mcp

import (
	"log/slog"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/kioku/internal/engine"
)

// Server wraps the MCP server with Kioku's engine.
type Server struct {
	mcpServer *mcpserver.MCPServer
	engine    *engine.Engine
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all tools registered.
func New(eng *engine.Engine, logger *slog.Logger, version string) *Server {
	s := &Server{
		engine: eng,
		logger: logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"kioku",
		version,
		mcpserver.WithToolCapabilities(true),
	)

	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}
