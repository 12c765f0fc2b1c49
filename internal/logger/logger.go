// Package logger provides structured logging setup for HarnessForge.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/harnessforge/harnessforge/internal/config"
)

const (
	asyncBuffer  = 4096
	asyncWorkers = 2
)

// New creates a *slog.Logger from the given Logging config.
// Output goes to stdout with a "service" attribute on every record. JSON is
// used unless the format is "text", or "auto" while stdout is a terminal.
// The returned Closer flushes the async handler and must be called on exit.
func New(cfg config.Logging) (*slog.Logger, Closer) {
	return NewTo(cfg, os.Stdout)
}

// NewTo is New writing to f. Commands that own stdout, such as the stdio MCP
// server, log to stderr instead.
func NewTo(cfg config.Logging, f *os.File) (*slog.Logger, Closer) {
	return newWithWriter(cfg, f, isTerminal(f))
}

func newWithWriter(cfg config.Logging, w io.Writer, tty bool) (*slog.Logger, Closer) {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	if useText(cfg.Format, tty) {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	var closer Closer = nopCloser{}
	if cfg.Async {
		ah := NewAsyncHandler(handler, asyncBuffer, asyncWorkers)
		handler = ah
		closer = ah
	}

	return slog.New(handler).With("service", cfg.Service), closer
}

func useText(format string, tty bool) bool {
	switch strings.ToLower(format) {
	case "text":
		return true
	case "json":
		return false
	default:
		return tty
	}
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd())) //nolint:gosec // fd fits in int
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
