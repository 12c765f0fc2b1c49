// Package lsp provides a Language Server Protocol client that drives a single
// language server process, communicating via JSON-RPC 2.0 over stdio. The
// process is started by a Launcher, so the server can live inside a sandbox.
package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/harnessforge/harnessforge/internal/config"
	lspDomain "github.com/harnessforge/harnessforge/internal/domain/lsp"
)

// ErrNotReady is returned for requests made before Start or after Stop.
var ErrNotReady = errors.New("lsp: server not ready")

// Process is a running language server with piped stdio.
type Process interface {
	Output() io.Reader
	Stdin() io.WriteCloser
	Wait() error
	Kill() error
}

// Launcher starts argv and returns the running process.
type Launcher func(ctx context.Context, argv []string) (Process, error)

// Client manages a single language server process.
type Client struct {
	cfg       config.LSP
	workspace string
	launch    Launcher

	proc   Process
	conn   *JSONRPCConn
	status lspDomain.ServerStatus
	mu     sync.Mutex

	nextID  atomic.Int64
	pending map[int]chan *JSONRPCMessage
	pendMu  sync.Mutex

	opened map[string]bool
	done   chan struct{} // closed when readLoop exits
}

// NewClient creates a client rooted at workspace. Nothing is started until Start.
func NewClient(cfg config.LSP, workspace string, launch Launcher) *Client {
	return &Client{
		cfg:       cfg,
		workspace: workspace,
		launch:    launch,
		status:    lspDomain.ServerStatusStopped,
		pending:   make(map[int]chan *JSONRPCMessage),
		opened:    make(map[string]bool),
		done:      make(chan struct{}),
	}
}

// Status returns the current server status.
func (c *Client) Status() lspDomain.ServerStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Start launches the language server and performs the initialize handshake.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status == lspDomain.ServerStatusReady || c.status == lspDomain.ServerStatusStarting {
		return nil
	}
	c.status = lspDomain.ServerStatusStarting

	if len(c.cfg.Command) == 0 {
		c.status = lspDomain.ServerStatusFailed
		return fmt.Errorf("lsp: no command configured")
	}

	proc, err := c.launch(ctx, c.cfg.Command)
	if err != nil {
		c.status = lspDomain.ServerStatusFailed
		return fmt.Errorf("launch %s: %w", c.cfg.Command[0], err)
	}

	c.proc = proc
	c.conn = NewJSONRPCConn(stdioPipe{stdin: proc.Stdin(), stdout: proc.Output()})
	c.done = make(chan struct{})

	// The read loop must run before initialize is sent.
	go c.readLoop(c.conn, c.done)

	initCtx := ctx
	if c.cfg.StartTimeout > 0 {
		var cancel context.CancelFunc
		initCtx, cancel = context.WithTimeout(ctx, c.cfg.StartTimeout)
		defer cancel()
	}
	if err := c.initialize(initCtx); err != nil {
		c.status = lspDomain.ServerStatusFailed
		_ = proc.Kill()
		_ = c.conn.Close()
		return fmt.Errorf("initialize: %w", err)
	}

	c.status = lspDomain.ServerStatusReady
	slog.Info("lsp server started", "command", c.cfg.Command[0], "workspace", c.workspace)
	return nil
}

// Stop performs a graceful LSP shutdown (shutdown + exit) with timeout.
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status == lspDomain.ServerStatusStopped {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, c.cfg.ShutdownTimeout)
	defer cancel()

	if c.conn != nil {
		if c.status == lspDomain.ServerStatusReady {
			if _, err := c.call(shutdownCtx, "shutdown", nil); err != nil {
				slog.Warn("lsp shutdown request failed", "error", err)
			}
			_ = c.conn.Notify("exit", nil)
		}
		_ = c.conn.Close()
	}

	if proc := c.proc; proc != nil {
		exited := make(chan error, 1)
		go func() { exited <- proc.Wait() }()
		select {
		case <-exited:
		case <-shutdownCtx.Done():
			slog.Warn("lsp server did not exit gracefully, killing")
			_ = proc.Kill()
		}
	}

	// conn stays set, closed, so racing requests fail on write.
	c.status = lspDomain.ServerStatusStopped

	select {
	case <-c.done:
	case <-shutdownCtx.Done():
	}

	slog.Info("lsp server stopped", "workspace", c.workspace)
	return nil
}

// WorkspaceSymbol returns symbols matching query across the workspace.
func (c *Client) WorkspaceSymbol(ctx context.Context, query string) ([]lspDomain.SymbolInformation, error) {
	result, err := c.request(ctx, "workspace/symbol", map[string]string{"query": query})
	if err != nil {
		return nil, err
	}
	if result == nil || string(result) == "null" {
		return nil, nil
	}
	var symbols []lspDomain.SymbolInformation
	if err := json.Unmarshal(result, &symbols); err != nil {
		return nil, fmt.Errorf("unmarshal symbols: %w", err)
	}
	return symbols, nil
}

// Definition returns go-to-definition locations for a position.
func (c *Client) Definition(ctx context.Context, uri string, pos lspDomain.Position) ([]lspDomain.Location, error) {
	params := map[string]any{
		"textDocument": map[string]string{"uri": uri},
		"position":     map[string]int{"line": pos.Line, "character": pos.Character},
	}
	result, err := c.request(ctx, "textDocument/definition", params)
	if err != nil {
		return nil, err
	}
	return parseLocations(result)
}

// OpenFile sends textDocument/didOpen once per URI.
func (c *Client) OpenFile(uri, languageID, content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != lspDomain.ServerStatusReady {
		return ErrNotReady
	}
	if c.opened[uri] {
		return nil
	}
	params := map[string]any{
		"textDocument": map[string]any{
			"uri":        uri,
			"languageId": languageID,
			"version":    1,
			"text":       content,
		},
	}
	if err := c.conn.Notify("textDocument/didOpen", params); err != nil {
		return err
	}
	c.opened[uri] = true
	return nil
}

// request is call guarded by the ready state and the request timeout.
func (c *Client) request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	ready := c.status == lspDomain.ServerStatusReady
	c.mu.Unlock()
	if !ready {
		return nil, ErrNotReady
	}
	if c.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}
	return c.call(ctx, method, params)
}

func (c *Client) initialize(ctx context.Context) error {
	params := map[string]any{
		"processId": nil,
		"rootUri":   "file://" + c.workspace,
		"capabilities": map[string]any{
			"textDocument": map[string]any{
				"definition": map[string]any{},
			},
			"workspace": map[string]any{
				"symbol": map[string]any{},
			},
		},
	}

	if _, err := c.call(ctx, "initialize", params); err != nil {
		return fmt.Errorf("initialize request: %w", err)
	}
	if err := c.conn.Notify("initialized", map[string]any{}); err != nil {
		return fmt.Errorf("initialized notification: %w", err)
	}
	return nil
}

// call sends a JSON-RPC request and waits for the response.
func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := int(c.nextID.Add(1))
	ch := make(chan *JSONRPCMessage, 1)

	c.pendMu.Lock()
	c.pending[id] = ch
	c.pendMu.Unlock()

	defer func() {
		c.pendMu.Lock()
		delete(c.pending, id)
		c.pendMu.Unlock()
	}()

	if err := c.conn.Send(id, method, params); err != nil {
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case msg := <-ch:
		if msg.Error != nil {
			return nil, msg.Error
		}
		return msg.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, fmt.Errorf("connection closed")
	}
}

// readLoop dispatches responses to pending callers. Server requests get a
// null result; notifications are dropped.
func (c *Client) readLoop(conn *JSONRPCConn, done chan struct{}) {
	defer close(done)

	for {
		msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msg.Method != "" {
			// Replies go out on their own goroutine: the server may still be
			// writing frames and would block until this loop reads them.
			if id := msg.ID; len(id) > 0 {
				go func() {
					if err := conn.Reply(id); err != nil {
						slog.Debug("lsp reply failed", "method", msg.Method, "error", err)
					}
				}()
			}
			slog.Debug("lsp server message", "method", msg.Method)
			continue
		}
		id, ok := msg.IntID()
		if !ok {
			continue
		}
		c.pendMu.Lock()
		ch, waiting := c.pending[id]
		c.pendMu.Unlock()
		if waiting {
			ch <- msg
		}
	}
}

func parseLocations(raw json.RawMessage) ([]lspDomain.Location, error) {
	if raw == nil || string(raw) == "null" {
		return nil, nil
	}

	// Location | Location[] | LocationLink[]
	var locs []lspDomain.Location
	if err := json.Unmarshal(raw, &locs); err == nil {
		if len(locs) > 0 && locs[0].URI == "" {
			var links []struct {
				TargetURI   string          `json:"targetUri"`
				TargetRange lspDomain.Range `json:"targetRange"`
			}
			if err := json.Unmarshal(raw, &links); err == nil {
				locs = locs[:0]
				for _, l := range links {
					locs = append(locs, lspDomain.Location{URI: l.TargetURI, Range: l.TargetRange})
				}
			}
		}
		return locs, nil
	}

	var loc lspDomain.Location
	if err := json.Unmarshal(raw, &loc); err == nil {
		return []lspDomain.Location{loc}, nil
	}

	return nil, fmt.Errorf("unexpected definition result format")
}

// stdioPipe combines a stdin (writer) and stdout (reader) into an io.ReadWriteCloser.
type stdioPipe struct {
	stdin  io.WriteCloser
	stdout io.Reader
}

func (p stdioPipe) Read(b []byte) (int, error)  { return p.stdout.Read(b) }
func (p stdioPipe) Write(b []byte) (int, error) { return p.stdin.Write(b) }
func (p stdioPipe) Close() error {
	err := p.stdin.Close()
	if rc, ok := p.stdout.(io.Closer); ok {
		_ = rc.Close()
	}
	return err
}
