package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/harnessforge/harnessforge/internal/domain/session"
	"github.com/harnessforge/harnessforge/internal/port/codegen"
	"github.com/harnessforge/harnessforge/internal/port/progress"
	"github.com/harnessforge/harnessforge/internal/service"
)

// ToolSessionStatus reports live or recorded session state.
const ToolSessionStatus = "session_status"

// recentRecords bounds the records returned by session_status without an id.
const recentRecords = 20

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	for _, spec := range service.ToolSpecs() {
		s.mcpServer.AddTools(s.retrievalTool(spec))
	}
	s.mcpServer.AddTools(s.sessionStatusTool())
}

// retrievalTool mirrors a model-facing retrieval tool. Arguments are passed
// through unchanged so both callers share one implementation.
func (s *Server) retrievalTool(spec codegen.ToolSpec) mcpserver.ServerTool {
	schema, _ := json.Marshal(spec.Parameters)
	tool := mcplib.NewToolWithRawSchema(spec.Name, spec.Description, schema)
	return mcpserver.ServerTool{
		Tool: tool,
		Handler: func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
			return s.handleRetrieval(ctx, spec.Name, req), nil
		},
	}
}

func (s *Server) handleRetrieval(ctx context.Context, name string, req mcplib.CallToolRequest) *mcplib.CallToolResult { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Retriever == nil {
		return mcplib.NewToolResultError("retriever not configured")
	}
	if name == service.ToolDriverExample && s.deps.Candidates == nil {
		return mcplib.NewToolResultError("no fuzz targets discovered")
	}
	args, err := json.Marshal(req.GetArguments())
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("invalid arguments", err)
	}
	out := service.RunTool(ctx, s.deps.Retriever, s.deps.Candidates, codegen.ToolCall{Name: name, Arguments: args})
	if msg, ok := strings.CutPrefix(out, "error: "); ok {
		return mcplib.NewToolResultError(msg)
	}
	return mcplib.NewToolResultText(out)
}

func (s *Server) sessionStatusTool() mcpserver.ServerTool {
	tool := mcplib.NewTool(ToolSessionStatus,
		mcplib.WithDescription("Get the state of a harness generation session by ID, or list active sessions and recent results"),
		mcplib.WithString("session_id",
			mcplib.Description("The session ID to look up (optional)"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleSessionStatus,
	}
}

type statusOverview struct {
	Active []session.Snapshot `json:"active"`
	Recent []progress.Record  `json:"recent"`
}

func (s *Server) handleSessionStatus(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Sessions == nil && s.deps.Records == nil {
		return mcplib.NewToolResultError("session status not configured"), nil
	}
	id := req.GetString("session_id", "")
	if id == "" {
		return s.overview(ctx)
	}

	if s.deps.Sessions != nil {
		if snap, ok := s.deps.Sessions.Get(id); ok {
			return jsonResult(snap)
		}
	}
	if s.deps.Records != nil {
		recs, err := s.deps.Records.Records(ctx)
		if err != nil {
			return mcplib.NewToolResultErrorFromErr("failed to read records", err), nil
		}
		for _, rec := range recs {
			if rec.SessionID == id {
				return jsonResult(rec)
			}
		}
	}
	return mcplib.NewToolResultError(fmt.Sprintf("session %s not found", id)), nil
}

func (s *Server) overview(ctx context.Context) (*mcplib.CallToolResult, error) {
	out := statusOverview{Active: []session.Snapshot{}, Recent: []progress.Record{}}
	if s.deps.Sessions != nil {
		for _, snap := range s.deps.Sessions.List() {
			if snap.FinishedAt == nil {
				out.Active = append(out.Active, snap)
			}
		}
	}
	if s.deps.Records != nil {
		recs, err := s.deps.Records.Records(ctx)
		if err != nil {
			return mcplib.NewToolResultErrorFromErr("failed to read records", err), nil
		}
		for _, rec := range recs[:min(len(recs), recentRecords)] {
			rec.Harness = ""
			out.Recent = append(out.Recent, rec)
		}
	}
	return jsonResult(out)
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal result", err), nil
	}
	return mcplib.NewToolResultText(string(data)), nil
}
