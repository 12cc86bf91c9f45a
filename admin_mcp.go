package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// AdminMCP exposes an operator tool surface over MCP: listing sessions
// and forcing an upstream reconnect. Grounded on the teacher's
// mcp_server.go: a *server.MCPServer built with WithToolCapabilities(true),
// AddTool per operator action, wrapped in a *server.StreamableHTTPServer
// and served over HTTP (the teacher's HandleMCP/ServeHTTP pair) rather
// than mcp-go's stdio transport, which doesn't suit a long-running
// daemon with a configured listen address.
type AdminMCP struct {
	engine     *Engine
	srv        *server.MCPServer
	httpServer *server.StreamableHTTPServer
}

func newAdminMCP(engine *Engine) *AdminMCP {
	a := &AdminMCP{
		engine: engine,
		srv: server.NewMCPServer("rtl-mus-admin", "1.0.0",
			server.WithToolCapabilities(true),
		),
	}

	a.srv.AddTool(mcp.NewTool("list_sessions",
		mcp.WithDescription("List currently connected client sessions"),
	), a.listSessions)

	a.srv.AddTool(mcp.NewTool("force_reconnect",
		mcp.WithDescription("Force an immediate reconnect of the upstream rtl_tcp link"),
	), a.forceReconnect)

	a.httpServer = server.NewStreamableHTTPServer(a.srv)

	return a
}

func (a *AdminMCP) start() error {
	if a.engine.config.Admin.MCPListen == "" {
		return fmt.Errorf("admin: mcp_listen must be set when mcp_enabled is true")
	}
	mux := http.NewServeMux()
	mux.Handle("/mcp", a.httpServer)
	go func() {
		if err := http.ListenAndServe(a.engine.config.Admin.MCPListen, mux); err != nil {
			logErrorf("admin mcp: HTTP server stopped: %v", err)
		}
	}()
	return nil
}

func (a *AdminMCP) listSessions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessions := a.engine.server.snapshot()
	text := fmt.Sprintf("%d session(s) connected:\n", len(sessions))
	for _, s := range sessions {
		text += fmt.Sprintf("- %s (country=%s, since=%s)\n", s, s.country, s.startTime.Format("15:04:05"))
	}
	return mcp.NewToolResultText(text), nil
}

func (a *AdminMCP) forceReconnect(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a.engine.upstream.forceReset()
	return mcp.NewToolResultText("reconnect requested"), nil
}
