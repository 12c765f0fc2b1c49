package service_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/harnessforge/harnessforge/internal/domain/candidate"
	"github.com/harnessforge/harnessforge/internal/port/codegen"
	"github.com/harnessforge/harnessforge/internal/service"
)

type exampleRetriever struct {
	fakeRetriever
	examples map[string]string
}

func (r *exampleRetriever) DriverExample(_ context.Context, c candidate.Candidate) (string, error) {
	return r.examples[c.Fuzzer], nil
}

func TestRunTool(t *testing.T) {
	set, err := candidate.NewSet(candidates("fuzz_a", "fuzz_b"))
	if err != nil {
		t.Fatal(err)
	}
	r := &exampleRetriever{
		fakeRetriever: fakeRetriever{
			headers: map[string]string{"gen/x.pb.h": "/src/proj/gen/x.pb.h"},
			defs:    map[string]string{"foo": "int foo(void) { return 0; }", "big": strings.Repeat("x", 20000)},
		},
		examples: map[string]string{"fuzz_a": "harness a", "fuzz_b": "harness b"},
	}

	tests := []struct {
		name, tool, args string
		want             string
		prefix           bool
	}{
		{"header found", service.ToolLocateHeader, `{"name": "gen/x.pb.h"}`, "/src/proj/gen/x.pb.h", false},
		{"header missing", service.ToolLocateHeader, `{"name": "y.h"}`, "header not found: y.h", false},
		{"header without name", service.ToolLocateHeader, `{}`, "error: name is required", false},
		{"current driver", service.ToolDriverExample, ``, "harness a", false},
		{"named driver", service.ToolDriverExample, `{"fuzzer": "fuzz_b"}`, "harness b", false},
		{"unknown driver", service.ToolDriverExample, `{"fuzzer": "nope"}`, "error: unknown fuzz target nope", false},
		{"definition", service.ToolSymbolDefinition, `{"symbol": "foo"}`, "int foo(void) { return 0; }", false},
		{"definition missing", service.ToolSymbolDefinition, `{"symbol": "bar"}`, "definition not found: bar", false},
		{"bad arguments", service.ToolSymbolDefinition, `{"symbol": 3}`, "error: invalid arguments", true},
		{"unknown tool", "rm", `{}`, `error: unknown tool "rm"`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call := codegen.ToolCall{ID: "1", Name: tt.tool, Arguments: json.RawMessage(tt.args)}
			got := service.RunTool(context.Background(), r, set, call)
			if tt.prefix {
				if !strings.HasPrefix(got, tt.want) {
					t.Fatalf("RunTool = %q", got)
				}
				return
			}
			if got != tt.want {
				t.Fatalf("RunTool = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRunToolTruncatesLargeResults(t *testing.T) {
	set, _ := candidate.NewSet(candidates("fuzz_a"))
	r := &fakeRetriever{defs: map[string]string{"big": strings.Repeat("x", 20000)}}
	got := service.RunTool(context.Background(), r, set, codegen.ToolCall{Name: service.ToolSymbolDefinition, Arguments: json.RawMessage(`{"symbol":"big"}`)})
	if len(got) > 12100 || !strings.HasSuffix(got, "[truncated]") {
		t.Fatalf("result of %d bytes not truncated", len(got))
	}
}

func TestToolSpecs(t *testing.T) {
	specs := service.ToolSpecs()
	if len(specs) != 3 {
		t.Fatalf("got %d tools", len(specs))
	}
	for _, s := range specs {
		if s.Name == "" || s.Description == "" || s.Parameters["type"] != "object" {
			t.Errorf("incomplete tool spec %+v", s)
		}
	}
}
