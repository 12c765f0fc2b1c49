package litellm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/harnessforge/harnessforge/internal/port/codegen"
)

var fencedBlock = regexp.MustCompile("(?s)```([\\w+#-]*)[ \\t]*\\n(.*?)```")

var codeLanguages = map[string]bool{
	"": true, "c": true, "cpp": true, "c++": true, "cc": true, "cxx": true, "java": true,
}

// Codegen implements codegen.Generator and codegen.Judge on top of Client.
type Codegen struct {
	client      *Client
	model       string
	judgeModel  string
	temperature float64
	maxTokens   int
}

// NewCodegen creates a generator. An empty judgeModel falls back to model.
func NewCodegen(client *Client, model, judgeModel string, temperature float64, maxTokens int) *Codegen {
	if judgeModel == "" {
		judgeModel = model
	}
	return &Codegen{
		client:      client,
		model:       model,
		judgeModel:  judgeModel,
		temperature: temperature,
		maxTokens:   maxTokens,
	}
}

// Generate continues conv and appends the assistant reply to it.
func (g *Codegen) Generate(ctx context.Context, conv *codegen.Conversation) (codegen.Reply, error) {
	req := ChatRequest{
		Model:       g.model,
		Messages:    toChatMessages(conv),
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	}
	if !conv.ForceFinal && len(conv.Tools) > 0 {
		req.Tools = toTools(conv.Tools)
		req.ToolChoice = "auto"
	}

	resp, err := g.client.ChatCompletion(ctx, req)
	if err != nil {
		return codegen.Reply{}, err
	}
	msg := resp.Choices[0].Message
	slog.Debug("chat completion",
		"model", resp.Model,
		"finish_reason", resp.Choices[0].FinishReason,
		"tokens_in", resp.Usage.PromptTokens,
		"tokens_out", resp.Usage.CompletionTokens,
	)

	if len(msg.ToolCalls) > 0 && !conv.ForceFinal {
		// Only the first call is honoured; the conversation records just
		// that one so every call has a matching result.
		tc := msg.ToolCalls[0]
		call := codegen.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: json.RawMessage(tc.Function.Arguments)}
		if !json.Valid(call.Arguments) {
			call.Arguments = json.RawMessage("{}")
		}
		conv.Append(codegen.Message{Role: codegen.RoleAssistant, Content: msg.Content, ToolCalls: []codegen.ToolCall{call}})
		return codegen.Reply{ToolCall: &call, Raw: msg.Content}, nil
	}

	conv.Append(codegen.Message{Role: codegen.RoleAssistant, Content: msg.Content})
	return codegen.Reply{Code: ExtractCode(msg.Content), Raw: msg.Content}, nil
}

// Repair appends diagnostic as a user turn and continues conv.
func (g *Codegen) Repair(ctx context.Context, conv *codegen.Conversation, diagnostic string) (codegen.Reply, error) {
	conv.Append(codegen.Message{Role: codegen.RoleUser, Content: diagnostic})
	return g.Generate(ctx, conv)
}

// Judge runs a single-turn completion on the judge model.
func (g *Codegen) Judge(ctx context.Context, system, prompt string) (string, error) {
	resp, err := g.client.ChatCompletion(ctx, ChatRequest{
		Model: g.judgeModel,
		Messages: []ChatMessage{
			{Role: string(codegen.RoleSystem), Content: system},
			{Role: string(codegen.RoleUser), Content: prompt},
		},
		Temperature: 0,
		MaxTokens:   g.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("judge: %w", err)
	}
	return resp.Choices[0].Message.Content, nil
}

// ExtractCode returns the first fenced code block in a C, C++ or Java (or
// untagged) fence. Without fences the trimmed text itself is returned.
func ExtractCode(content string) string {
	for _, m := range fencedBlock.FindAllStringSubmatch(content, -1) {
		if codeLanguages[strings.ToLower(m[1])] {
			return strings.TrimSpace(m[2])
		}
	}
	if strings.Contains(content, "```") {
		// Unterminated or foreign-language fence only.
		return ""
	}
	return strings.TrimSpace(content)
}

func toChatMessages(conv *codegen.Conversation) []ChatMessage {
	out := make([]ChatMessage, 0, len(conv.Messages)+1)
	if conv.System != "" {
		out = append(out, ChatMessage{Role: string(codegen.RoleSystem), Content: conv.System})
	}
	for _, m := range conv.Messages {
		cm := ChatMessage{Role: string(m.Role), Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			cm.ToolCalls = append(cm.ToolCalls, ToolCallMsg{
				ID:       tc.ID,
				Type:     "function",
				Function: FunctionCall{Name: tc.Name, Arguments: string(tc.Arguments)},
			})
		}
		out = append(out, cm)
	}
	return out
}

func toTools(specs []codegen.ToolSpec) []Tool {
	out := make([]Tool, 0, len(specs))
	for _, s := range specs {
		out = append(out, Tool{
			Type:     "function",
			Function: FunctionSpec{Name: s.Name, Description: s.Description, Parameters: s.Parameters},
		})
	}
	return out
}
