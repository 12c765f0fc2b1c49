// Package mcp exposes the retrieval tools and session status to external
// agents over the Model Context Protocol.
package mcp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/harnessforge/harnessforge/internal/domain/candidate"
	"github.com/harnessforge/harnessforge/internal/domain/session"
	"github.com/harnessforge/harnessforge/internal/port/progress"
	"github.com/harnessforge/harnessforge/internal/port/retrieval"
)

// ServerConfig holds the identity and transport settings of the server.
// An empty Addr selects stdio. APIKey guards the HTTP transport.
type ServerConfig struct {
	Addr    string
	Name    string
	Version string
	APIKey  func() string
}

// SessionReader is the read side of the session registry.
type SessionReader interface {
	Get(id string) (session.Snapshot, bool)
	List() []session.Snapshot
}

// ServerDeps are the services behind the tools. Any of them may be nil; the
// tools that need a missing dependency report an error result.
type ServerDeps struct {
	Retriever  retrieval.Retriever
	Candidates *candidate.Set
	Sessions   SessionReader
	Records    progress.Store
}

// Server wraps an mcp-go server with the harness tools registered.
type Server struct {
	cfg       ServerConfig
	deps      ServerDeps
	mcpServer *mcpserver.MCPServer
	http      *http.Server
}

// NewServer creates a Server and registers its tools and resources.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		mcpServer: mcpserver.NewMCPServer(cfg.Name, cfg.Version,
			mcpserver.WithToolCapabilities(false),
			mcpserver.WithResourceCapabilities(false, false),
			mcpserver.WithRecovery(),
		),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *mcpserver.MCPServer { return s.mcpServer }

// ServeStdio serves one client on in/out until ctx is cancelled or the
// client disconnects.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	slog.Info("mcp server listening on stdio", "name", s.cfg.Name)
	return mcpserver.NewStdioServer(s.mcpServer).Listen(ctx, in, out)
}

// Start serves streamable HTTP on cfg.Addr in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.http = &http.Server{
		Handler:           AuthMiddleware(s.cfg.APIKey, mcpserver.NewStreamableHTTPServer(s.mcpServer)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("mcp server listening", "addr", ln.Addr().String())
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("mcp server error", "error", err)
		}
	}()
	return nil
}

// Stop shuts the HTTP transport down. It is a no-op when Start was not called.
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
