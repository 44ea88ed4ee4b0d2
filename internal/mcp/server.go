// Package mcp exposes the scenario runner as MCP tools so an agent can list
// and run scenarios.
package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kuitang/uiscenario/internal/obs"
	"github.com/kuitang/uiscenario/internal/scenario"
)

// Version is reported in the MCP implementation metadata.
const Version = "1.0.0"

// Server wraps the MCP server with scenario handling.
type Server struct {
	mcpServer *mcp.Server
	handler   *Handler
}

// NewServer creates an MCP server over scenarios.
func NewServer(scenarios []*scenario.Scenario, r ScenarioRunner, onResult ResultHook) *Server {
	handler := NewHandler(scenarios, r, onResult)

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "uiscenario",
			Version: Version,
		},
		nil,
	)
	for _, tool := range ToolDefinitions() {
		mcp.AddTool(mcpServer, tool, handler.createToolHandler(tool.Name))
	}
	registerPrompts(mcpServer)

	return &Server{
		mcpServer: mcpServer,
		handler:   handler,
	}
}

// Run serves MCP on stdin/stdout until the client disconnects or ctx ends.
func (s *Server) Run(ctx context.Context) error {
	obs.From(ctx).Info("mcp server listening on stdio", "scenarios", len(s.handler.scenarios))
	return s.Serve(ctx, &mcp.StdioTransport{})
}

// Serve serves MCP over transport.
func (s *Server) Serve(ctx context.Context, transport mcp.Transport) error {
	return s.mcpServer.Run(ctx, transport)
}
