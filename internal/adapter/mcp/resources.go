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
			"harnessforge://targets",
			"Fuzz Targets",
			mcplib.WithResourceDescription("Fuzz targets of the project and their harness files"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleTargetsResource,
	)

	s.mcpServer.AddResource(
		mcplib.NewResource(
			"harnessforge://sessions",
			"Sessions",
			mcplib.WithResourceDescription("Sessions known to this process, newest first"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleSessionsResource,
	)
}

func (s *Server) handleTargetsResource(_ context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	if s.deps.Candidates == nil {
		return jsonContents(req.Params.URI, `{"error":"no fuzz targets discovered"}`), nil
	}
	data, err := json.Marshal(s.deps.Candidates.Items())
	if err != nil {
		return nil, err
	}
	return jsonContents(req.Params.URI, string(data)), nil
}

func (s *Server) handleSessionsResource(_ context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	if s.deps.Sessions == nil {
		return jsonContents(req.Params.URI, `{"error":"session registry not configured"}`), nil
	}
	data, err := json.Marshal(s.deps.Sessions.List())
	if err != nil {
		return nil, err
	}
	return jsonContents(req.Params.URI, string(data)), nil
}

func jsonContents(uri, text string) []mcplib.ResourceContents {
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     text,
		},
	}
}
