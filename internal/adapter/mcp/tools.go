package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/agentsdashboard/orchestrator/internal/domain/run"
)

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.dispatchRunTool(),
		s.cancelRunTool(),
		s.getRunStatusTool(),
		s.getWorkerStatusTool(),
	)
}

func (s *Server) dispatchRunTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("dispatch_run",
		mcplib.WithDescription("Dispatch an agent run to this worker"),
		mcplib.WithString("run_id",
			mcplib.Required(),
			mcplib.Description("System-wide unique run ID"),
		),
		mcplib.WithString("task_id",
			mcplib.Required(),
			mcplib.Description("Task the run executes against"),
		),
		mcplib.WithString("repository_id",
			mcplib.Description("Repository the task belongs to"),
		),
		mcplib.WithString("harness",
			mcplib.Description("Harness to execute (codex, opencode, claude, zai)"),
		),
		mcplib.WithString("prompt",
			mcplib.Description("Prompt handed to the harness"),
		),
		mcplib.WithString("clone_url",
			mcplib.Description("Git clone URL for the workspace"),
		),
		mcplib.WithString("branch",
			mcplib.Description("Main branch name, defaults to main"),
		),
		mcplib.WithNumber("timeout_sec",
			mcplib.Description("Run timeout in seconds"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleDispatchRun,
	}
}

func (s *Server) cancelRunTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("cancel_run",
		mcplib.WithDescription("Cancel an active run by run ID"),
		mcplib.WithString("run_id",
			mcplib.Required(),
			mcplib.Description("The run ID to cancel"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleCancelRun,
	}
}

func (s *Server) getRunStatusTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_run_status",
		mcplib.WithDescription("Get the ledger snapshot of a run by run ID"),
		mcplib.WithString("run_id",
			mcplib.Required(),
			mcplib.Description("The run ID to check"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleGetRunStatus,
	}
}

func (s *Server) getWorkerStatusTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_worker_status",
		mcplib.WithDescription("Get this worker's slot usage and liveness"),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleGetWorkerStatus,
	}
}

func (s *Server) handleDispatchRun(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Dispatcher == nil {
		return mcplib.NewToolResultError("dispatcher not configured"), nil
	}
	args := req.GetArguments()
	str := func(key string) string {
		v, _ := args[key].(string)
		return v
	}

	runReq := &run.Request{
		RunID:        str("run_id"),
		TaskID:       str("task_id"),
		RepositoryID: str("repository_id"),
		Harness:      str("harness"),
		Prompt:       str("prompt"),
		CloneURL:     str("clone_url"),
		Branch:       str("branch"),
	}
	if v, ok := args["timeout_sec"].(float64); ok {
		runReq.TimeoutSec = int(v)
	}
	if runReq.RunID == "" {
		return mcplib.NewToolResultError("run_id is required"), nil
	}

	reply := s.deps.Dispatcher.DispatchJob(ctx, runReq)
	data, err := json.Marshal(reply)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal reply", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleCancelRun(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Dispatcher == nil {
		return mcplib.NewToolResultError("dispatcher not configured"), nil
	}
	args := req.GetArguments()
	runID, ok := args["run_id"].(string)
	if !ok || runID == "" {
		return mcplib.NewToolResultError("run_id is required"), nil
	}

	reply := s.deps.Dispatcher.CancelJob(ctx, runID)
	data, err := json.Marshal(reply)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal reply", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleGetRunStatus(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Runs == nil {
		return mcplib.NewToolResultError("run reader not configured"), nil
	}
	args := req.GetArguments()
	runID, ok := args["run_id"].(string)
	if !ok || runID == "" {
		return mcplib.NewToolResultError("run_id is required"), nil
	}

	entry, err := s.deps.Runs.GetRun(ctx, runID)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(
			fmt.Sprintf("failed to get run %s", runID), err,
		), nil
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal run", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleGetWorkerStatus(_ context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Status == nil {
		return mcplib.NewToolResultError("status reporter not configured"), nil
	}
	data, err := json.Marshal(s.deps.Status.Status("ok"))
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal status", err), nil
	}
	return toolResultJSON(string(data)), nil
}
