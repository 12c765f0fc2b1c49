package litellm_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/harnessforge/harnessforge/internal/adapter/litellm"
	"github.com/harnessforge/harnessforge/internal/port/codegen"
)

func TestExtractCode(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"c fence", "Here:\n```c\nint x;\n```\nDone.", "int x;"},
		{"cpp fence", "```cpp\nint y;\n```", "int y;"},
		{"untagged fence", "```\nint z;\n```", "int z;"},
		{"java fence", "```java\nclass A {}\n```", "class A {}"},
		{"skips foreign fence", "```bash\nmake\n```\n```c\nint a;\n```", "int a;"},
		{"only foreign fence", "```bash\nmake\n```", ""},
		{"no fence", "  int b;  \n", "int b;"},
		{"empty", "", ""},
		{"first of two", "```c\nint one;\n```\n```c\nint two;\n```", "int one;"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := litellm.ExtractCode(tt.content); got != tt.want {
				t.Fatalf("ExtractCode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGenerateCode(t *testing.T) {
	var got litellm.ChatRequest
	srv := chatServer(t, func(req litellm.ChatRequest) any {
		got = req
		return textResponse("```c\nint LLVMFuzzerTestOneInput(){return 0;}\n```")
	})

	gen := litellm.NewCodegen(litellm.NewClient(srv.URL, "", 5*time.Second), "gen-model", "", 0.2, 1024)
	conv := &codegen.Conversation{
		System:   "sys",
		Messages: []codegen.Message{{Role: codegen.RoleUser, Content: "write"}},
		Tools:    []codegen.ToolSpec{{Name: "locate_header", Parameters: map[string]any{"type": "object"}}},
	}
	reply, err := gen.Generate(context.Background(), conv)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if reply.Code != "int LLVMFuzzerTestOneInput(){return 0;}" {
		t.Fatalf("code = %q", reply.Code)
	}
	if reply.ToolCall != nil {
		t.Fatal("unexpected tool call")
	}
	if got.Model != "gen-model" || len(got.Tools) != 1 || got.ToolChoice != "auto" {
		t.Fatalf("unexpected request: model=%q tools=%d choice=%q", got.Model, len(got.Tools), got.ToolChoice)
	}
	if got.Messages[0].Role != "system" || got.Messages[0].Content != "sys" {
		t.Fatalf("system message not first: %+v", got.Messages[0])
	}
	if n := len(conv.Messages); n != 2 || conv.Messages[1].Role != codegen.RoleAssistant {
		t.Fatalf("assistant reply not appended: %+v", conv.Messages)
	}
}

func TestGenerateToolCall(t *testing.T) {
	srv := chatServer(t, func(litellm.ChatRequest) any {
		return map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{
					"role": "assistant",
					"tool_calls": []map[string]any{
						{"id": "call_1", "type": "function", "function": map[string]any{"name": "locate_header", "arguments": `{"name":"png.h"}`}},
						{"id": "call_2", "type": "function", "function": map[string]any{"name": "driver_example", "arguments": `{}`}},
					},
				},
				"finish_reason": "tool_calls",
			}},
		}
	})

	gen := litellm.NewCodegen(litellm.NewClient(srv.URL, "", 5*time.Second), "m", "", 0, 0)
	conv := &codegen.Conversation{
		Messages: []codegen.Message{{Role: codegen.RoleUser, Content: "write"}},
		Tools:    []codegen.ToolSpec{{Name: "locate_header"}},
	}
	reply, err := gen.Generate(context.Background(), conv)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if reply.ToolCall == nil || reply.ToolCall.Name != "locate_header" || reply.ToolCall.ID != "call_1" {
		t.Fatalf("tool call = %+v", reply.ToolCall)
	}
	var args struct{ Name string }
	if err := json.Unmarshal(reply.ToolCall.Arguments, &args); err != nil || args.Name != "png.h" {
		t.Fatalf("arguments = %s (%v)", reply.ToolCall.Arguments, err)
	}
	last := conv.Messages[len(conv.Messages)-1]
	if len(last.ToolCalls) != 1 {
		t.Fatalf("recorded tool calls = %d, want 1", len(last.ToolCalls))
	}
}

func TestGenerateForceFinalOmitsTools(t *testing.T) {
	var got litellm.ChatRequest
	srv := chatServer(t, func(req litellm.ChatRequest) any {
		got = req
		return textResponse("```c\nint a;\n```")
	})

	gen := litellm.NewCodegen(litellm.NewClient(srv.URL, "", 5*time.Second), "m", "", 0, 0)
	conv := &codegen.Conversation{
		Messages:   []codegen.Message{{Role: codegen.RoleUser, Content: "write"}},
		Tools:      []codegen.ToolSpec{{Name: "locate_header"}},
		ForceFinal: true,
	}
	if _, err := gen.Generate(context.Background(), conv); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(got.Tools) != 0 || got.ToolChoice != "" {
		t.Fatalf("tools sent despite ForceFinal: %+v", got.Tools)
	}
}

func TestRepairAppendsDiagnostic(t *testing.T) {
	var got litellm.ChatRequest
	srv := chatServer(t, func(req litellm.ChatRequest) any {
		got = req
		return textResponse("```c\nint fixed;\n```")
	})

	gen := litellm.NewCodegen(litellm.NewClient(srv.URL, "", 5*time.Second), "m", "", 0, 0)
	conv := &codegen.Conversation{Messages: []codegen.Message{{Role: codegen.RoleUser, Content: "write"}}}
	reply, err := gen.Repair(context.Background(), conv, "error: x undeclared")
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	if reply.Code != "int fixed;" {
		t.Fatalf("code = %q", reply.Code)
	}
	last := got.Messages[len(got.Messages)-1]
	if last.Role != "user" || last.Content != "error: x undeclared" {
		t.Fatalf("diagnostic not sent last: %+v", last)
	}
}

func TestJudgeUsesJudgeModel(t *testing.T) {
	var got litellm.ChatRequest
	srv := chatServer(t, func(req litellm.ChatRequest) any {
		got = req
		return textResponse(`{"verdict":"PASS"}`)
	})

	gen := litellm.NewCodegen(litellm.NewClient(srv.URL, "", 5*time.Second), "gen", "judge", 0.7, 0)
	out, err := gen.Judge(context.Background(), "sys", "prompt")
	if err != nil {
		t.Fatalf("Judge: %v", err)
	}
	if out != `{"verdict":"PASS"}` {
		t.Fatalf("out = %q", out)
	}
	if got.Model != "judge" || got.Temperature != 0 || len(got.Messages) != 2 {
		t.Fatalf("unexpected judge request: %+v", got)
	}
}
