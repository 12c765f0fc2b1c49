package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/harnessforge/harnessforge/internal/config"
	"github.com/harnessforge/harnessforge/internal/domain"
	"github.com/harnessforge/harnessforge/internal/domain/candidate"
	"github.com/harnessforge/harnessforge/internal/domain/target"
	"github.com/harnessforge/harnessforge/internal/port/retrieval"
	"github.com/harnessforge/harnessforge/internal/port/sandbox"
)

const (
	// sourceRoot is where project sources live inside a sandbox.
	sourceRoot = "/src"
	// maxCaptureBytes bounds the output read from a lookup command.
	maxCaptureBytes = 1 << 20
	// maxDefinitionLines bounds an extracted symbol definition.
	maxDefinitionLines = 200
	// maxHeadersPerSymbol bounds HeadersFor results.
	maxHeadersPerSymbol = 5
)

var (
	symbolName = regexp.MustCompile(`^[A-Za-z_][\w:~]*$`)
	headerName = regexp.MustCompile(`^[\w./+-]+$`)
)

// SandboxRetriever answers code lookups by searching the sources inside a
// session's sandbox. Symbol definitions go through clangd when enabled and
// fall back to grep. Results are cached for the lifetime of the retriever.
type SandboxRetriever struct {
	sb   sandbox.Sandbox
	task target.Task
	lsp  *lspLookup // nil when the language server is disabled

	mu    sync.Mutex
	cache map[string]string
}

var _ retrieval.Retriever = (*SandboxRetriever)(nil)

// NewSandboxRetriever creates a retriever over sb.
func NewSandboxRetriever(sb sandbox.Sandbox, task target.Task, lspCfg config.LSP) *SandboxRetriever {
	r := &SandboxRetriever{sb: sb, task: task, cache: make(map[string]string)}
	if lspCfg.Enabled && len(lspCfg.Command) > 0 && !task.Language.Managed() {
		r.lsp = newLSPLookup(sb, lspCfg)
	}
	return r
}

// LocateHeader returns the path of a header given its include spelling, or
// the first header declaring name when name is a symbol.
func (r *SandboxRetriever) LocateHeader(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if symbolName.MatchString(name) && !strings.Contains(name, ".") {
		headers, err := r.HeadersFor(ctx, name)
		if err != nil || len(headers) == 0 {
			return "", err
		}
		return headers[0], nil
	}
	if !headerName.MatchString(name) {
		return "", fmt.Errorf("%w: header name %q", domain.ErrValidation, name)
	}
	return r.cached("header:"+name, func() (string, error) {
		if path.IsAbs(name) {
			out, err := r.capture(ctx, "sh", "-c", `test -f "$1" && echo "$1"`, "sh", name)
			if err != nil {
				return "", err
			}
			if found := firstLine(out); found != "" {
				return found, nil
			}
		}
		rel := strings.TrimPrefix(path.Clean(name), "/")
		out, err := r.capture(ctx, "find", sourceRoot, "-type", "f", "-path", "*/"+rel)
		if err != nil {
			return "", err
		}
		if found := shortest(lines(out)); found != "" {
			return found, nil
		}
		out, err = r.capture(ctx, "find", sourceRoot, "-type", "f", "-name", path.Base(rel))
		if err != nil {
			return "", err
		}
		return shortest(lines(out)), nil
	})
}

// DriverExample returns the original source of an existing harness, before
// any generated harness overwrote it.
func (r *SandboxRetriever) DriverExample(ctx context.Context, c candidate.Candidate) (string, error) {
	return r.cached("driver:"+c.HarnessPath, func() (string, error) {
		data, err := r.sb.ReadFile(ctx, sandbox.PristinePath(c.HarnessPath))
		if errors.Is(err, domain.ErrNotFound) {
			data, err = r.sb.ReadFile(ctx, c.HarnessPath)
		}
		if errors.Is(err, domain.ErrNotFound) {
			return "", nil
		}
		if err != nil {
			return "", fmt.Errorf("read driver example %s: %w", c.HarnessPath, err)
		}
		return string(data), nil
	})
}

// SymbolDefinition returns the source text defining symbol.
func (r *SandboxRetriever) SymbolDefinition(ctx context.Context, symbol string) (string, error) {
	if !symbolName.MatchString(symbol) {
		return "", fmt.Errorf("%w: symbol %q", domain.ErrValidation, symbol)
	}
	return r.cached("symbol:"+symbol, func() (string, error) {
		if r.lsp != nil {
			file, line, err := r.lsp.locate(ctx, symbol)
			if err != nil {
				slog.Warn("lsp lookup failed, falling back to grep", "symbol", symbol, "error", err)
			} else if file != "" {
				return r.definitionAt(ctx, file, line)
			}
		}
		file, line, err := r.grepDefinition(ctx, symbol)
		if err != nil || file == "" {
			return "", err
		}
		return r.definitionAt(ctx, file, line)
	})
}

// HeadersFor returns up to five headers that declare symbol.
func (r *SandboxRetriever) HeadersFor(ctx context.Context, symbol string) ([]string, error) {
	if !symbolName.MatchString(symbol) {
		return nil, nil
	}
	out, err := r.cached("decl:"+symbol, func() (string, error) {
		return r.capture(ctx, "grep", "-rlE",
			"--include=*.h", "--include=*.hh", "--include=*.hpp", "--include=*.hxx",
			`\b`+regexp.QuoteMeta(symbol)+`\s*\(`, sourceRoot)
	})
	if err != nil {
		return nil, err
	}
	headers := lines(out)
	slices.Sort(headers)
	if len(headers) > maxHeadersPerSymbol {
		headers = headers[:maxHeadersPerSymbol]
	}
	return headers, nil
}

// Close stops the language server, if one was started.
func (r *SandboxRetriever) Close(ctx context.Context) error {
	if r.lsp == nil {
		return nil
	}
	return r.lsp.close(ctx)
}

// grepDefinition finds the first line that opens a definition of symbol:
// a call-like spelling not terminated by ';'.
func (r *SandboxRetriever) grepDefinition(ctx context.Context, symbol string) (string, int, error) {
	includes := []string{"--include=*.c", "--include=*.cc", "--include=*.cpp", "--include=*.cxx", "--include=*.h", "--include=*.hpp"}
	if r.task.Language.Managed() {
		includes = []string{"--include=*.java"}
	}
	args := append([]string{"grep", "-rnE"}, includes...)
	args = append(args, `^[^;#]*\b`+regexp.QuoteMeta(lastComponent(symbol))+`\s*\([^;]*$`, sourceRoot)
	out, err := r.capture(ctx, args...)
	if err != nil {
		return "", 0, err
	}
	for _, l := range lines(out) {
		file, rest, ok := strings.Cut(l, ":")
		if !ok {
			continue
		}
		num, _, ok := strings.Cut(rest, ":")
		if !ok {
			continue
		}
		var line int
		if _, err := fmt.Sscanf(num, "%d", &line); err != nil || line < 1 {
			continue
		}
		return file, line - 1, nil
	}
	return "", 0, nil
}

// definitionAt extracts the definition starting at the zero-based line.
func (r *SandboxRetriever) definitionAt(ctx context.Context, file string, line int) (string, error) {
	data, err := r.sb.ReadFile(ctx, file)
	if errors.Is(err, domain.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", file, err)
	}
	def := extractDefinition(string(data), line)
	if def == "" {
		return "", nil
	}
	return "// " + file + "\n" + def, nil
}

// capture runs argv in the sandbox and returns its output. A non-zero exit
// is not an error: search tools exit 1 when nothing matches.
func (r *SandboxRetriever) capture(ctx context.Context, argv ...string) (string, error) {
	proc, err := r.sb.Exec(ctx, argv, false)
	if err != nil {
		return "", fmt.Errorf("exec %s: %w", argv[0], err)
	}
	data, readErr := io.ReadAll(io.LimitReader(proc.Output(), maxCaptureBytes))
	_, _ = io.Copy(io.Discard, proc.Output())
	_ = proc.Wait()
	if readErr != nil {
		return "", fmt.Errorf("read %s output: %w", argv[0], readErr)
	}
	return string(data), nil
}

func (r *SandboxRetriever) cached(key string, fn func() (string, error)) (string, error) {
	r.mu.Lock()
	v, ok := r.cache[key]
	r.mu.Unlock()
	if ok {
		return v, nil
	}
	v, err := fn()
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	r.cache[key] = v
	r.mu.Unlock()
	return v, nil
}

// extractDefinition returns the lines of src starting at line through the end
// of the brace-delimited body. A declaration ending in ';' before any body
// yields just that declaration.
func extractDefinition(src string, line int) string {
	all := strings.Split(src, "\n")
	if line < 0 || line >= len(all) {
		return ""
	}
	depth, opened := 0, false
	end := min(line+maxDefinitionLines, len(all))
	for i := line; i < end; i++ {
		for _, ch := range all[i] {
			switch ch {
			case '{':
				depth++
				opened = true
			case '}':
				depth--
			case ';':
				if !opened {
					return strings.Join(all[line:i+1], "\n")
				}
			}
		}
		if opened && depth <= 0 {
			return strings.Join(all[line:i+1], "\n")
		}
	}
	return strings.Join(all[line:end], "\n")
}

// includeDirFor returns the directory to add to the include path so that
// spelling resolves to found. Absolute spellings use found's directory.
func includeDirFor(spelling, found string) string {
	if found == "" {
		return ""
	}
	if path.IsAbs(spelling) {
		return path.Dir(found)
	}
	rel := path.Clean(spelling)
	if dir, ok := strings.CutSuffix(found, "/"+rel); ok && dir != "" {
		return dir
	}
	return path.Dir(found)
}

func lastComponent(symbol string) string {
	if i := strings.LastIndex(symbol, "::"); i >= 0 {
		return symbol[i+2:]
	}
	return symbol
}

func lines(s string) []string {
	var out []string
	for l := range strings.SplitSeq(s, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

func firstLine(s string) string {
	if ls := lines(s); len(ls) > 0 {
		return ls[0]
	}
	return ""
}

// shortest returns the shortest path, ties broken lexically.
func shortest(paths []string) string {
	if len(paths) == 0 {
		return ""
	}
	slices.SortFunc(paths, func(a, b string) int {
		if len(a) != len(b) {
			return len(a) - len(b)
		}
		return strings.Compare(a, b)
	})
	return paths[0]
}

// RetrieverFactory builds SandboxRetrievers.
type RetrieverFactory struct {
	lsp config.LSP
}

var _ retrieval.Factory = (*RetrieverFactory)(nil)

// NewRetrieverFactory creates a factory with the given language server settings.
func NewRetrieverFactory(lspCfg config.LSP) *RetrieverFactory {
	return &RetrieverFactory{lsp: lspCfg}
}

// ForSandbox binds a retriever to sb.
func (f *RetrieverFactory) ForSandbox(_ context.Context, sb sandbox.Sandbox, task target.Task) (retrieval.Retriever, error) {
	return NewSandboxRetriever(sb, task, f.lsp), nil
}
