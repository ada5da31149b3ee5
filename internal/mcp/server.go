// Package mcp serves the dispatcher over the Model Context Protocol on
// stdio. Every tool routes through the dispatch pipeline; the MCP layer
// adds no authorization of its own.
package mcp

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/loreguard/loreguard/internal/dispatch"
)

const serverVersion = "0.1.0"

// Server wraps the MCP SDK server around a dispatcher.
type Server struct {
	mcpServer  *mcpsdk.Server
	dispatcher *dispatch.Dispatcher
}

// New builds the MCP server and registers every tool.
func New(d *dispatch.Dispatcher) *Server {
	s := &Server{
		mcpServer: mcpsdk.NewServer(
			&mcpsdk.Implementation{
				Name:    "loreguard",
				Version: serverVersion,
			},
			nil,
		),
		dispatcher: d,
	}
	s.registerTools()
	return s
}

// Run starts the MCP server on stdio transport. Blocks until ctx is
// cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// registerTools adds the session tools, the knowledge tools, and the
// resource reader to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "lore_session",
		Description: "Create, refresh, or revoke a loreguard session. Returns a bearer token on create.",
	}, s.handleSession)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "lore_consent",
		Description: "Grant or revoke consent for a consent-gated operation on the calling session.",
	}, s.handleConsent)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "lore_resource",
		Description: "Read a workspace resource by URI (lore://<workspace>/summary|stats|patterns).",
	}, s.handleResource)

	for _, name := range s.dispatcher.Catalog().Names() {
		spec := s.dispatcher.Catalog().Lookup(name)
		tool := &mcpsdk.Tool{
			Name:        spec.Name,
			Description: spec.Description,
		}
		if spec.RequiresConsent {
			tool.Description = fmt.Sprintf("%s Requires consent (lore_consent).", spec.Description)
		}
		mcpsdk.AddTool(s.mcpServer, tool, s.knowledgeHandler(spec.Name))
	}
}
