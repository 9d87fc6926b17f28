// Package mcp exposes the realtime client to MCP hosts over stdio.
package mcp

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/server"
)

const (
	serverName    = "carelink"
	serverVersion = "1.0.0"
)

type MCPServer struct {
	Server *server.MCPServer
	logger *slog.Logger
}

func NewMCPServer(logger *slog.Logger) *MCPServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &MCPServer{
		Server: server.NewMCPServer(serverName, serverVersion, server.WithToolCapabilities(false)),
		logger: logger,
	}
}

// Run serves MCP over stdin/stdout until stdin closes.
func (s *MCPServer) Run() error {
	s.logger.Info("Started stdio MCP server")
	defer func() {
		s.logger.Info("Shut down stdio MCP server")
	}()
	return server.ServeStdio(s.Server)
}
