package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	lspAdapter "github.com/harnessforge/harnessforge/internal/adapter/lsp"
	"github.com/harnessforge/harnessforge/internal/config"
	lspDomain "github.com/harnessforge/harnessforge/internal/domain/lsp"
	"github.com/harnessforge/harnessforge/internal/port/sandbox"
)

// lspLookup resolves symbols through a language server running inside the
// sandbox. The server is started lazily on the first lookup; a failed start
// disables the lookup for the rest of the session.
type lspLookup struct {
	cfg    config.LSP
	client *lspAdapter.Client

	mu      sync.Mutex
	started bool
	failed  bool
}

func newLSPLookup(sb sandbox.Sandbox, cfg config.LSP) *lspLookup {
	launch := func(ctx context.Context, argv []string) (lspAdapter.Process, error) {
		p, err := sb.Exec(ctx, argv, true)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	return &lspLookup{
		cfg:    cfg,
		client: lspAdapter.NewClient(cfg, sourceRoot, launch),
	}
}

func (l *lspLookup) ensure(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failed {
		return lspAdapter.ErrNotReady
	}
	if l.started {
		return nil
	}
	startCtx, cancel := context.WithTimeout(ctx, l.cfg.StartTimeout)
	defer cancel()
	if err := l.client.Start(startCtx); err != nil {
		l.failed = true
		return fmt.Errorf("start language server: %w", err)
	}
	l.started = true
	slog.Debug("language server started", "command", strings.Join(l.cfg.Command, " "))
	return nil
}

// locate returns the file and zero-based line of symbol's definition, or an
// empty file when the server knows no such symbol.
func (l *lspLookup) locate(ctx context.Context, symbol string) (string, int, error) {
	if err := l.ensure(ctx); err != nil {
		return "", 0, err
	}
	symbols, err := l.client.WorkspaceSymbol(ctx, symbol)
	if err != nil {
		return "", 0, err
	}
	best := pickSymbol(symbols, lastComponent(symbol))
	if best == nil {
		return "", 0, nil
	}
	return best.Location.Path(), best.Location.Range.Start.Line, nil
}

func (l *lspLookup) close(ctx context.Context) error {
	l.mu.Lock()
	started := l.started
	l.started = false
	l.mu.Unlock()
	if !started {
		return nil
	}
	return l.client.Stop(ctx)
}

// pickSymbol prefers an exact-name function defined in a source file over
// one found in a header.
func pickSymbol(symbols []lspDomain.SymbolInformation, name string) *lspDomain.SymbolInformation {
	var header *lspDomain.SymbolInformation
	for i := range symbols {
		s := &symbols[i]
		if s.Name != name {
			continue
		}
		switch s.Kind {
		case lspDomain.SymbolKindFunction, lspDomain.SymbolKindMethod:
		default:
			continue
		}
		if isHeader(s.Location.Path()) {
			if header == nil {
				header = s
			}
			continue
		}
		return s
	}
	return header
}

func isHeader(p string) bool {
	for _, ext := range []string{".h", ".hh", ".hpp", ".hxx"} {
		if strings.HasSuffix(p, ext) {
			return true
		}
	}
	return false
}
