package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/harnessforge/harnessforge/internal/config"
	"github.com/harnessforge/harnessforge/internal/domain"
	"github.com/harnessforge/harnessforge/internal/domain/candidate"
	"github.com/harnessforge/harnessforge/internal/domain/session"
	"github.com/harnessforge/harnessforge/internal/domain/target"
	"github.com/harnessforge/harnessforge/internal/port/artifact"
	"github.com/harnessforge/harnessforge/internal/port/codegen"
	"github.com/harnessforge/harnessforge/internal/port/progress"
	"github.com/harnessforge/harnessforge/internal/port/retrieval"
	"github.com/harnessforge/harnessforge/internal/port/sandbox"
)

const goodHarness = `#include <stdint.h>
#include <stddef.h>
#include "foo.h"

int LLVMFuzzerTestOneInput(const uint8_t *data, size_t size) {
  foo(data, size);
  return 0;
}
`

const fakeHarness = `#include <stdint.h>
#include <stddef.h>

int foo(const uint8_t *data, size_t size) {
  return 0;
}

int LLVMFuzzerTestOneInput(const uint8_t *data, size_t size) {
  foo(data, size);
  return 0;
}
`

const (
	codeErrorOutput   = "/src/fuzz_a.c:5:3: error: use of undeclared identifier 'fo'\n1 error generated."
	linkErrorOutput   = "/usr/bin/ld: foo.o: in function `bar':\n/src/lib/foo.c:42: undefined reference to 'foo'\nclang: error: linker command failed with exit code 1"
	fuzzerErrorOutput = "+ compile\nbuild finished without producing a fuzz target\n"
	headerErrorOutput = "In file included from /src/fuzz_a.c:2:\n/src/include/foo.h:17:3: error: unknown type name 'foo_ctx'\n1 error generated."
	growingLog        = "#2\tINITED cov: 12 ft: 13\n#8\tNEW cov: 30 ft: 40\n#900\tDONE cov: 45 ft: 60\n"
	constantLog       = "#2\tINITED cov: 120 ft: 130\n#100\tpulse cov: 120\n#4000\tDONE cov: 120 ft: 130\n"
)

func testTask() target.Task {
	return target.Task{
		Project:   "proj",
		Language:  target.LanguageC,
		Signature: "int foo(const uint8_t *data, size_t size)",
		Function:  "foo",
		Key:       "c:int foo(const uint8_t*,size_t)",
	}
}

func candidates(names ...string) []candidate.Candidate {
	out := make([]candidate.Candidate, 0, len(names))
	for _, n := range names {
		out = append(out, candidate.Candidate{Fuzzer: n, HarnessPath: "/src/" + n + ".c"})
	}
	return out
}

func newTestSession(maxFix int, names ...string) *session.Session {
	set, err := candidate.NewSet(candidates(names...))
	if err != nil {
		panic(err)
	}
	s := session.New("sess-1", testTask(), 0, session.Budgets{MaxFix: maxFix, MaxToolCall: 10}, set)
	s.Harness = goodHarness
	return s
}

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Fuzz.Timeout = time.Second
	cfg.Fuzz.PollInterval = 10 * time.Millisecond
	cfg.Fuzz.KillGrace = 100 * time.Millisecond
	cfg.Compile.Timeout = 5 * time.Second
	cfg.Sandbox.ReleaseTimeout = time.Second
	cfg.Session.MaxFix = 5
	cfg.Session.MaxToolCall = 10
	cfg.LiteLLM.MaxToolRounds = 3
	return &cfg
}

// --- sandbox ---

type fakeProcess struct {
	out      io.Reader
	pw       *io.PipeWriter
	done     chan struct{}
	once     sync.Once
	killed   bool
	killedMu sync.Mutex
}

func exitedProcess(log string) *fakeProcess {
	p := &fakeProcess{out: strings.NewReader(log), done: make(chan struct{})}
	close(p.done)
	return p
}

// hangingProcess writes log and then runs until killed.
func hangingProcess(log string) *fakeProcess {
	pr, pw := io.Pipe()
	p := &fakeProcess{out: pr, pw: pw, done: make(chan struct{})}
	go func() { _, _ = pw.Write([]byte(log)) }()
	return p
}

// lingeringProcess exits at once but never closes its output.
func lingeringProcess(log string) (*fakeProcess, *io.PipeWriter) {
	pr, pw := io.Pipe()
	p := &fakeProcess{out: pr, done: make(chan struct{})}
	close(p.done)
	go func() { _, _ = pw.Write([]byte(log)) }()
	return p, pw
}

func (p *fakeProcess) Output() io.Reader     { return p.out }
func (p *fakeProcess) Stdin() io.WriteCloser { return nil }
func (p *fakeProcess) Wait() error           { <-p.done; return nil }
func (p *fakeProcess) Kill() error {
	p.killedMu.Lock()
	p.killed = true
	p.killedMu.Unlock()
	p.once.Do(func() {
		if p.pw != nil {
			_ = p.pw.Close()
		}
		select {
		case <-p.done:
		default:
			close(p.done)
		}
	})
	return nil
}

func (p *fakeProcess) wasKilled() bool {
	p.killedMu.Lock()
	defer p.killedMu.Unlock()
	return p.killed
}

type fakeSandbox struct {
	mu sync.Mutex

	buildErr error
	buildLog string
	targets  []candidate.Candidate

	// compileFn decides the result of the n-th (zero-based) compile.
	compileFn func(ctx context.Context, req sandbox.CompileRequest, n int) (sandbox.CompileResult, error)
	compiles  []sandbox.CompileRequest

	fuzzLog  string
	runErr   error
	process  *fakeProcess
	runs     int
	runArgs  []string
	execFn   func(argv []string) string
	execs    [][]string
	files    map[string]string
	released int
}

func (s *fakeSandbox) BuildImage(context.Context) (string, error) {
	return s.buildLog, s.buildErr
}

func (s *fakeSandbox) DiscoverTargets(context.Context) ([]candidate.Candidate, error) {
	return s.targets, nil
}

func (s *fakeSandbox) Compile(ctx context.Context, req sandbox.CompileRequest) (sandbox.CompileResult, error) {
	s.mu.Lock()
	n := len(s.compiles)
	req.IncludeDirs = slices.Clone(req.IncludeDirs)
	s.compiles = append(s.compiles, req)
	fn := s.compileFn
	s.mu.Unlock()
	if fn == nil {
		return sandbox.CompileResult{BinaryExists: true}, nil
	}
	return fn(ctx, req, n)
}

func (s *fakeSandbox) RunFuzzer(_ context.Context, _ string, args []string) (sandbox.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs++
	s.runArgs = args
	if s.runErr != nil {
		return nil, s.runErr
	}
	if s.process != nil {
		return s.process, nil
	}
	return exitedProcess(s.fuzzLog), nil
}

func (s *fakeSandbox) Exec(_ context.Context, argv []string, _ bool) (sandbox.Process, error) {
	s.mu.Lock()
	s.execs = append(s.execs, argv)
	fn := s.execFn
	s.mu.Unlock()
	if fn == nil {
		return nil, errors.New("exec not supported")
	}
	return exitedProcess(fn(argv)), nil
}

func (s *fakeSandbox) ReadFile(_ context.Context, path string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return []byte(data), nil
}

func (s *fakeSandbox) Release(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released++
	return nil
}

func (s *fakeSandbox) compiledFuzzers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.compiles))
	for _, c := range s.compiles {
		out = append(out, c.Candidate.Fuzzer)
	}
	return out
}

func (s *fakeSandbox) releaseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

// results returns a compileFn that replays outputs by call index. A
// "success" entry yields a binary; the last entry repeats.
func results(outputs ...string) func(context.Context, sandbox.CompileRequest, int) (sandbox.CompileResult, error) {
	return func(_ context.Context, _ sandbox.CompileRequest, n int) (sandbox.CompileResult, error) {
		out := outputs[min(n, len(outputs)-1)]
		if out == "success" {
			return sandbox.CompileResult{BinaryExists: true}, nil
		}
		return sandbox.CompileResult{Output: out}, nil
	}
}

type fakeProvider struct {
	sb  *fakeSandbox
	err error
}

func (p *fakeProvider) Acquire(context.Context, target.Task) (sandbox.Sandbox, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.sb, nil
}

// --- retrieval ---

type fakeRetriever struct {
	mu      sync.Mutex
	headers map[string]string // include spelling -> path
	example string
	defs    map[string]string
	decls   map[string][]string
	closed  int
	located []string
}

func (r *fakeRetriever) LocateHeader(_ context.Context, name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.located = append(r.located, name)
	return r.headers[name], nil
}

func (r *fakeRetriever) DriverExample(context.Context, candidate.Candidate) (string, error) {
	return r.example, nil
}

func (r *fakeRetriever) SymbolDefinition(_ context.Context, symbol string) (string, error) {
	return r.defs[symbol], nil
}

func (r *fakeRetriever) HeadersFor(_ context.Context, symbol string) ([]string, error) {
	return r.decls[symbol], nil
}

func (r *fakeRetriever) Close(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed++
	return nil
}

type fakeFactory struct{ r *fakeRetriever }

func (f fakeFactory) ForSandbox(context.Context, sandbox.Sandbox, target.Task) (retrieval.Retriever, error) {
	return f.r, nil
}

// --- codegen ---

// scriptedGenerator replays replies in order; the last one repeats.
type scriptedGenerator struct {
	mu          sync.Mutex
	replies     []codegen.Reply
	err         error
	hook        func()
	calls       []string
	forceFinal  []bool
	diagnostics []string
}

func codeReply(code string) codegen.Reply {
	return codegen.Reply{Code: code, Raw: "```c\n" + code + "```"}
}

func toolReply(id, name, args string) codegen.Reply {
	return codegen.Reply{ToolCall: &codegen.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(args)}}
}

func (g *scriptedGenerator) next(ctx context.Context, kind string, conv *codegen.Conversation) (codegen.Reply, error) {
	g.mu.Lock()
	n := len(g.calls)
	g.calls = append(g.calls, kind)
	g.forceFinal = append(g.forceFinal, conv.ForceFinal)
	hook := g.hook
	g.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err := ctx.Err(); err != nil {
		return codegen.Reply{}, err
	}
	if g.err != nil {
		return codegen.Reply{}, g.err
	}
	r := g.replies[min(n, len(g.replies)-1)]
	msg := codegen.Message{Role: codegen.RoleAssistant, Content: r.Code}
	if r.ToolCall != nil {
		msg.ToolCalls = []codegen.ToolCall{*r.ToolCall}
	}
	conv.Append(msg)
	return r, nil
}

func (g *scriptedGenerator) Generate(ctx context.Context, conv *codegen.Conversation) (codegen.Reply, error) {
	return g.next(ctx, "generate", conv)
}

func (g *scriptedGenerator) Repair(ctx context.Context, conv *codegen.Conversation, diagnostic string) (codegen.Reply, error) {
	g.mu.Lock()
	g.diagnostics = append(g.diagnostics, diagnostic)
	g.mu.Unlock()
	conv.Append(codegen.Message{Role: codegen.RoleUser, Content: diagnostic})
	return g.next(ctx, "repair", conv)
}

type fakeJudge struct {
	answers []string
	err     error
	n       int
}

func (j *fakeJudge) Judge(context.Context, string, string) (string, error) {
	if j.err != nil {
		return "", j.err
	}
	a := j.answers[min(j.n, len(j.answers)-1)]
	j.n++
	return a, nil
}

// --- persistence ---

type memSink struct {
	mu    sync.Mutex
	items map[string]string
}

func newMemSink() *memSink { return &memSink{items: make(map[string]string)} }

func (s *memSink) Write(_ context.Context, key artifact.Key, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key.Name] = string(data)
	return nil
}

func (s *memSink) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.items))
	for n := range s.items {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

type memStore struct {
	mu      sync.Mutex
	records []progress.Record
	solved  map[string]bool
	last    map[string]int
}

func newMemStore() *memStore {
	return &memStore{solved: make(map[string]bool), last: make(map[string]int)}
}

func (m *memStore) LastIteration(_ context.Context, project, key string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if it, ok := m.last[project+"|"+key]; ok {
		return it, nil
	}
	return -1, nil
}

func (m *memStore) Solved(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.solved[key], nil
}

func (m *memStore) Complete(_ context.Context, rec progress.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	k := rec.Project + "|" + rec.Key
	if it, ok := m.last[k]; !ok || rec.Iteration > it {
		m.last[k] = rec.Iteration
	}
	if rec.Status == string(session.StatusSuccess) {
		m.solved[rec.Key] = true
	}
	return nil
}

func (m *memStore) Records(context.Context) ([]progress.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.records), nil
}

func (m *memStore) Close() error { return nil }
