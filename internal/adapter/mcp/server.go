// Package mcp exposes the worker gateway over the Model Context Protocol so
// agent tooling can dispatch, cancel, and inspect runs.
package mcp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/agentsdashboard/orchestrator/internal/domain/run"
	"github.com/agentsdashboard/orchestrator/internal/port/messagequeue"
)

// Dispatcher admits and cancels runs. Satisfied by the service gateway.
type Dispatcher interface {
	DispatchJob(ctx context.Context, req *run.Request) messagequeue.DispatchJobReply
	CancelJob(ctx context.Context, runID string) messagequeue.CancelJobReply
}

// RunReader reads run ledger snapshots.
type RunReader interface {
	GetRun(ctx context.Context, runID string) (*run.LedgerEntry, error)
}

// StatusReporter reports the worker's slot usage.
type StatusReporter interface {
	Status(status string) messagequeue.WorkerStatus
}

// ServerConfig holds the MCP server settings.
type ServerConfig struct {
	Addr    string
	APIKey  string
	Name    string
	Version string
}

// ServerDeps are the gateway capabilities the tools call into. Nil fields
// disable the corresponding tools with an error result.
type ServerDeps struct {
	Dispatcher Dispatcher
	Runs       RunReader
	Status     StatusReporter
}

// Server serves the orchestrator MCP tools over streamable HTTP.
type Server struct {
	cfg        ServerConfig
	deps       ServerDeps
	mcpServer  *mcpserver.MCPServer
	httpServer *http.Server
}

// NewServer creates the MCP server and registers all tools and resources.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		mcpServer: mcpserver.NewMCPServer(cfg.Name, cfg.Version,
			mcpserver.WithToolCapabilities(true),
			mcpserver.WithResourceCapabilities(true, false),
		),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer exposes the underlying server, mainly for tests.
func (s *Server) MCPServer() *mcpserver.MCPServer { return s.mcpServer }

// Start serves MCP over HTTP on the configured address. Non-blocking.
func (s *Server) Start() error {
	handler := AuthMiddleware(s.cfg.APIKey, mcpserver.NewStreamableHTTPServer(s.mcpServer))
	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("mcp server listening", "addr", s.cfg.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("mcp server", "error", err)
		}
	}()
	return nil
}

// Stop shuts the HTTP listener down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// toolResultJSON wraps a JSON document as a successful tool result.
func toolResultJSON(data string) *mcplib.CallToolResult {
	return mcplib.NewToolResultText(data)
}
