package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/emmett/zahl/internal/server/mcp"
)

// MCPHandler serves the session as MCP tools over stdio
type MCPHandler struct {
	app     *App
	version string
	commit  string
	status  io.Writer
}

// NewMCPHandler creates a handler. Status text goes to status because
// stdout carries the protocol.
func NewMCPHandler(app *App, version, commit string, status io.Writer) *MCPHandler {
	if status == nil {
		status = os.Stderr
	}
	return &MCPHandler{app: app, version: version, commit: commit, status: status}
}

// ClientConfig returns the mcpServers snippet for registering this binary
func (h *MCPHandler) ClientConfig(execPath string, args []string) ([]byte, error) {
	type serverConfig struct {
		Command string   `json:"command"`
		Args    []string `json:"args"`
	}
	type clientConfig struct {
		MCPServers map[string]serverConfig `json:"mcpServers"`
	}
	return json.MarshalIndent(clientConfig{
		MCPServers: map[string]serverConfig{
			"zahl": {Command: execPath, Args: args},
		},
	}, "", "  ")
}

// Run serves until ctx ends or the client disconnects
func (h *MCPHandler) Run(ctx context.Context, args []string) error {
	fmt.Fprintf(h.status, "Starting MCP server (stdio), version %s (commit: %s)\n", h.version, h.commit)

	execPath, err := os.Executable()
	if err != nil {
		execPath = "zahl-mcp"
	}
	if snippet, err := h.ClientConfig(execPath, args); err == nil {
		fmt.Fprintf(h.status, "MCP client configuration:\n%s\n\n", snippet)
	}

	var history mcp.History
	if j := h.app.Journal(); j != nil {
		history = j
	}
	server := mcp.NewServer(mcp.Config{
		ServerName:    "zahl",
		ServerVersion: h.version,
	}, h.app.Session(), history, h.app.Logger())

	if err := server.Start(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
