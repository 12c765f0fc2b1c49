// Package codegen defines the port for the LLM backend that writes and
// repairs harness source.
package codegen

import (
	"context"
	"encoding/json"
)

// Role is the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a request by the model to run an auxiliary tool.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Message is one entry of a conversation.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolSpec describes a tool the model may call.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Conversation is the prompt context sent to the backend.
type Conversation struct {
	System   string
	Messages []Message
	Tools    []ToolSpec
	// ForceFinal withholds tools so the backend has to answer with code.
	ForceFinal bool
}

// Append adds m to the conversation.
func (c *Conversation) Append(m Message) {
	c.Messages = append(c.Messages, m)
}

// Trim keeps the first message and the last turns user turns, so the task
// prompt survives while old repair exchanges are dropped. Cuts only happen at
// user messages, which keeps tool calls paired with their results.
func (c *Conversation) Trim(turns int) {
	if turns <= 0 || len(c.Messages) <= 1 {
		return
	}
	seen := 0
	for i := len(c.Messages) - 1; i > 0; i-- {
		if c.Messages[i].Role != RoleUser {
			continue
		}
		seen++
		if seen == turns {
			if i > 1 {
				c.Messages = append(c.Messages[:1:1], c.Messages[i:]...)
			}
			return
		}
	}
}

// Reply is either harness source or a tool request.
type Reply struct {
	Code     string
	ToolCall *ToolCall
	// Raw is the unprocessed model output.
	Raw string
}

// Generator produces and repairs harness source.
type Generator interface {
	// Generate continues the conversation and returns code or a tool request.
	Generate(ctx context.Context, conv *Conversation) (Reply, error)
	// Repair appends diagnostic as a user turn and continues the conversation.
	Repair(ctx context.Context, conv *Conversation, diagnostic string) (Reply, error)
}

// Judge answers a single free-form question, used for the semantic check.
type Judge interface {
	Judge(ctx context.Context, system, prompt string) (string, error)
}
