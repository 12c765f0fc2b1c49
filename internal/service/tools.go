package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/harnessforge/harnessforge/internal/domain/candidate"
	"github.com/harnessforge/harnessforge/internal/port/codegen"
	"github.com/harnessforge/harnessforge/internal/port/retrieval"
)

// Retrieval tool names offered to the model and to MCP clients.
const (
	ToolLocateHeader     = "locate_header"
	ToolDriverExample    = "driver_example"
	ToolSymbolDefinition = "symbol_definition"
)

// maxToolResult bounds the text returned from one tool call.
const maxToolResult = 12000

// ToolSpecs returns the retrieval tools the model may call.
func ToolSpecs() []codegen.ToolSpec {
	return []codegen.ToolSpec{
		{
			Name:        ToolLocateHeader,
			Description: "Find the path of a header file in the project, given its include spelling (e.g. \"gen/x.pb.h\") or the name of a function it declares.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name": map[string]any{"type": "string", "description": "Include spelling or symbol name"},
				},
				"required": []string{"name"},
			},
		},
		{
			Name:        ToolDriverExample,
			Description: "Return the source of an existing fuzz harness of the project. Defaults to the harness of the fuzz target currently being built.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"fuzzer": map[string]any{"type": "string", "description": "Fuzz target name (optional)"},
				},
			},
		},
		{
			Name:        ToolSymbolDefinition,
			Description: "Return the source code that defines a function or type in the project.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"symbol": map[string]any{"type": "string", "description": "Function or type name"},
				},
				"required": []string{"symbol"},
			},
		},
	}
}

type toolArgs struct {
	Name   string `json:"name"`
	Fuzzer string `json:"fuzzer"`
	Symbol string `json:"symbol"`
}

// RunTool executes one tool call and returns the text handed back to the
// model. Failures are reported in the text; the conversation always continues.
func RunTool(ctx context.Context, r retrieval.Retriever, set *candidate.Set, call codegen.ToolCall) string {
	var args toolArgs
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return "error: invalid arguments: " + err.Error()
		}
	}

	var (
		out string
		err error
	)
	switch call.Name {
	case ToolLocateHeader:
		if args.Name == "" {
			return "error: name is required"
		}
		out, err = r.LocateHeader(ctx, args.Name)
		if err == nil && out == "" {
			out = "header not found: " + args.Name
		}
	case ToolDriverExample:
		c := set.Current()
		if args.Fuzzer != "" {
			i, ok := set.Find(args.Fuzzer)
			if !ok {
				return "error: unknown fuzz target " + args.Fuzzer
			}
			c = set.Items()[i]
		}
		out, err = r.DriverExample(ctx, c)
		if err == nil && out == "" {
			out = "no driver example for " + c.Fuzzer
		}
	case ToolSymbolDefinition:
		if args.Symbol == "" {
			return "error: symbol is required"
		}
		out, err = r.SymbolDefinition(ctx, args.Symbol)
		if err == nil && out == "" {
			out = "definition not found: " + args.Symbol
		}
	default:
		return fmt.Sprintf("error: unknown tool %q", call.Name)
	}
	if err != nil {
		return "error: " + err.Error()
	}
	return truncate(out, maxToolResult)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n... [truncated]"
}
