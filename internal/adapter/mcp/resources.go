package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

// registerResources registers all MCP resources on the server.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"orchestrator://worker/status",
			"Worker Status",
			mcplib.WithResourceDescription("Current slot usage of this worker"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleWorkerStatusResource,
	)
}

func (s *Server) handleWorkerStatusResource(_ context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	if s.deps.Status == nil {
		return []mcplib.ResourceContents{
			mcplib.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     `{"error":"status reporter not configured"}`,
			},
		}, nil
	}
	data, err := json.Marshal(s.deps.Status.Status("ok"))
	if err != nil {
		return nil, err
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
