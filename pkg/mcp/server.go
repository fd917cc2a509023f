package mcp

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/urmzd/homesync/pkg/hub"
	"github.com/urmzd/homesync/pkg/scene"
)

// Server wraps the MCP server with homesync's state and scene operations
type Server struct {
	mcpServer *server.MCPServer
	hub       *hub.Hub
	scenes    *scene.Engine
}

// NewServer creates a new MCP server over the hub and scene engine
func NewServer(h *hub.Hub, scenes *scene.Engine) *Server {
	s := &Server{
		hub:    h,
		scenes: scenes,
	}

	s.mcpServer = server.NewMCPServer(
		"homesync",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	s.registerTools()

	return s
}

// ServeStdio starts the MCP server using stdio transport
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}
