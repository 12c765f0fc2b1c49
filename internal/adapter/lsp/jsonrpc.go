package lsp

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
)

// maxMessageBytes bounds a single framed message; clangd symbol replies for
// large projects stay well below it.
const maxMessageBytes = 32 << 20

// JSONRPCMessage represents a JSON-RPC 2.0 message (request, response, or notification).
type JSONRPCMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`     // absent for notifications
	Method  string          `json:"method,omitempty"` // present for requests/notifications
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// IntID returns the numeric request ID. Servers may use string IDs for their
// own requests; those report ok=false.
func (m *JSONRPCMessage) IntID() (int, bool) {
	if len(m.ID) == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(string(m.ID))
	if err != nil {
		return 0, false
	}
	return n, true
}

// JSONRPCError represents a JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *JSONRPCError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// JSONRPCConn implements JSON-RPC 2.0 with Content-Length header framing over
// an io.ReadWriteCloser.
type JSONRPCConn struct {
	rwc    io.ReadWriteCloser
	reader *bufio.Reader
	mu     sync.Mutex // protects writes
}

// NewJSONRPCConn creates a new JSON-RPC connection over the given stream.
func NewJSONRPCConn(rwc io.ReadWriteCloser) *JSONRPCConn {
	return &JSONRPCConn{
		rwc:    rwc,
		reader: bufio.NewReaderSize(rwc, 64*1024),
	}
}

// Send sends a request with the given ID.
func (c *JSONRPCConn) Send(id int, method string, params any) error {
	return c.send(json.RawMessage(strconv.Itoa(id)), method, params)
}

// Notify sends a notification (no ID, no response expected).
func (c *JSONRPCConn) Notify(method string, params any) error {
	return c.send(nil, method, params)
}

func (c *JSONRPCConn) send(id json.RawMessage, method string, params any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}

	data, err := json.Marshal(JSONRPCMessage{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  raw,
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return c.writeMessage(data)
}

// Reply answers a server-initiated request with a null result.
func (c *JSONRPCConn) Reply(id json.RawMessage) error {
	data, err := json.Marshal(JSONRPCMessage{JSONRPC: "2.0", ID: id, Result: json.RawMessage("null")})
	if err != nil {
		return fmt.Errorf("marshal reply: %w", err)
	}
	return c.writeMessage(data)
}

// ReadMessage blocks until a full message is available or the connection is closed.
func (c *JSONRPCConn) ReadMessage() (*JSONRPCMessage, error) {
	data, err := c.readMessage()
	if err != nil {
		return nil, err
	}

	var msg JSONRPCMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal message: %w", err)
	}
	return &msg, nil
}

// Close closes the underlying connection.
func (c *JSONRPCConn) Close() error {
	return c.rwc.Close()
}

func (c *JSONRPCConn) writeMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(data))
	if _, err := io.WriteString(c.rwc, header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := c.rwc.Write(data); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	return nil
}

func (c *JSONRPCConn) readMessage() ([]byte, error) {
	contentLength := -1
	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("read header: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		name, val, ok := strings.Cut(line, ":")
		if !ok || !strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			continue
		}
		val = strings.TrimSpace(val)
		n, err := strconv.Atoi(val)
		if err != nil {
			return nil, fmt.Errorf("parse Content-Length %q: %w", val, err)
		}
		contentLength = n
	}

	if contentLength < 0 {
		return nil, fmt.Errorf("missing Content-Length header")
	}
	if contentLength > maxMessageBytes {
		return nil, fmt.Errorf("message of %d bytes exceeds limit", contentLength)
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(c.reader, body); err != nil {
		return nil, fmt.Errorf("read body (%d bytes): %w", contentLength, err)
	}
	return body, nil
}
