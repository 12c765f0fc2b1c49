package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	cfotel "github.com/harnessforge/harnessforge/internal/adapter/otel"
	"github.com/harnessforge/harnessforge/internal/config"
	"github.com/harnessforge/harnessforge/internal/domain/classify"
	"github.com/harnessforge/harnessforge/internal/domain/outcome"
	"github.com/harnessforge/harnessforge/internal/domain/session"
	"github.com/harnessforge/harnessforge/internal/logger"
	"github.com/harnessforge/harnessforge/internal/port/artifact"
	"github.com/harnessforge/harnessforge/internal/port/sandbox"
)

// FuzzEvaluator runs a compiled harness under the fuzzer and classifies the
// captured log.
type FuzzEvaluator struct {
	cfg       config.Fuzz
	artifacts artifact.Sink
	metrics   *cfotel.Metrics
}

// NewFuzzEvaluator creates a FuzzEvaluator. sink and metrics may be nil.
func NewFuzzEvaluator(cfg config.Fuzz, sink artifact.Sink, metrics *cfotel.Metrics) *FuzzEvaluator {
	if sink == nil {
		sink = nopSink{}
	}
	return &FuzzEvaluator{cfg: cfg, artifacts: sink, metrics: metrics}
}

// Evaluate classifies the session's harness. The static checks run first and
// skip the sandbox entirely when they trip. The returned text is the repair
// context for the outcome: the crash message for Crash, the canned hint
// otherwise.
func (e *FuzzEvaluator) Evaluate(ctx context.Context, s *session.Session, sb sandbox.Sandbox) (outcome.Fuzz, string) {
	fn := s.Task.Function
	switch {
	case classify.IsFake(s.Harness, fn):
		return e.done(ctx, outcome.Fuzz{Category: outcome.Fake})
	case !classify.Reachable(s.Harness, fn, s.Task.Language.EntryPoint()):
		return e.done(ctx, outcome.Fuzz{Category: outcome.NoCall})
	}

	fuzzer := s.CurrentCandidate().Fuzzer
	log, err := e.run(ctx, sb, fuzzer)
	if err != nil {
		logger.FromContext(ctx, slog.Default()).Warn("fuzz run failed", "fuzzer", fuzzer, "error", err)
		return e.done(ctx, outcome.Fuzz{Category: outcome.RunError})
	}
	writeArtifact(ctx, e.artifacts, s, fmt.Sprintf("fix%02d-fuzz-%s.log", s.Budgets.FixCount, fuzzer), string(log))
	return e.done(ctx, classify.FuzzLog(log))
}

func (e *FuzzEvaluator) done(ctx context.Context, out outcome.Fuzz) (outcome.Fuzz, string) {
	if e.metrics != nil {
		e.metrics.FuzzRuns.Add(ctx, 1, metric.WithAttributes(attribute.String("category", string(out.Category))))
	}
	logger.FromContext(ctx, slog.Default()).Info("fuzz evaluated",
		"category", out.Category,
		"initial_cov", out.InitialCov,
		"final_cov", out.FinalCov,
	)
	if out.Category == outcome.Crash {
		return out, out.CrashMessage()
	}
	return out, outcome.Hint(out.Category)
}

// run starts the fuzzer and captures its output while waiting for it. The
// fuzzer is asked to stop after the timeout; once that has passed, exit is
// polled and the process is killed when it overruns the grace period. Only a
// failed start or cancellation is an error: whatever was captured from a
// killed run is still classified.
func (e *FuzzEvaluator) run(ctx context.Context, sb sandbox.Sandbox, fuzzer string) ([]byte, error) {
	log := logger.FromContext(ctx, slog.Default())
	args := slices.Clone(e.cfg.ExtraArgs)
	if secs := int(e.cfg.Timeout / time.Second); secs > 0 {
		args = append(args, fmt.Sprintf("-max_total_time=%d", secs))
	}

	proc, err := sb.RunFuzzer(ctx, fuzzer, args)
	if err != nil {
		return nil, fmt.Errorf("start fuzzer %s: %w", fuzzer, err)
	}

	buf := newLogBuffer(e.cfg.MaxLogBytes)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		if _, err := io.Copy(buf, proc.Output()); err != nil {
			log.Debug("fuzzer output closed", "error", err)
		}
	}()
	exited := make(chan error, 1)
	go func() { exited <- proc.Wait() }()

	nominal := time.NewTimer(e.cfg.Timeout)
	defer nominal.Stop()

	select {
	case err := <-exited:
		log.Debug("fuzzer exited", "fuzzer", fuzzer, "error", err)
	case <-nominal.C:
		if err := e.awaitExit(ctx, proc, exited, fuzzer); err != nil {
			return nil, err
		}
	case <-ctx.Done():
		_ = proc.Kill()
		closeOutput(proc)
		return nil, ctx.Err()
	}

	// A killed docker client may leave the pipe open briefly.
	select {
	case <-drained:
	case <-time.After(e.cfg.KillGrace):
		log.Warn("fuzzer output not closed after exit", "fuzzer", fuzzer)
		closeOutput(proc)
	case <-ctx.Done():
		closeOutput(proc)
		return nil, ctx.Err()
	}
	return buf.Bytes(), nil
}

// closeOutput ends the drain goroutine when the output stream is closable.
func closeOutput(proc sandbox.Process) {
	if c, ok := proc.Output().(io.Closer); ok {
		_ = c.Close()
	}
}

func (e *FuzzEvaluator) awaitExit(ctx context.Context, proc sandbox.Process, exited <-chan error, fuzzer string) error {
	log := logger.FromContext(ctx, slog.Default())
	poll := time.NewTicker(max(e.cfg.PollInterval, 10*time.Millisecond))
	defer poll.Stop()
	grace := time.NewTimer(e.cfg.KillGrace)
	defer grace.Stop()

	for {
		select {
		case <-exited:
			return nil
		case <-poll.C:
			log.Debug("fuzzer still running past its timeout", "fuzzer", fuzzer)
		case <-grace.C:
			log.Warn("killing fuzzer after grace period", "fuzzer", fuzzer, "grace", e.cfg.KillGrace)
			if err := proc.Kill(); err != nil {
				log.Warn("kill fuzzer", "fuzzer", fuzzer, "error", err)
			}
			select {
			case <-exited:
			case <-time.After(e.cfg.KillGrace):
				log.Error("fuzzer did not exit after kill", "fuzzer", fuzzer)
			}
			return nil
		case <-ctx.Done():
			_ = proc.Kill()
			return ctx.Err()
		}
	}
}

// logBuffer keeps the head and the tail of a log up to limit bytes. The
// head holds startup coverage lines, the tail the final counters and crash.
type logBuffer struct {
	mu      sync.Mutex
	limit   int
	head    []byte
	tail    []byte
	dropped int64
}

func newLogBuffer(limit int) *logBuffer {
	if limit <= 0 {
		limit = 8 << 20
	}
	return &logBuffer{limit: limit}
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(p)
	half := b.limit / 2
	if room := half - len(b.head); room > 0 {
		k := min(room, len(p))
		b.head = append(b.head, p[:k]...)
		p = p[k:]
	}
	if len(p) == 0 {
		return n, nil
	}
	b.tail = append(b.tail, p...)
	if over := len(b.tail) - (b.limit - half); over > 0 {
		b.dropped += int64(over)
		b.tail = append(b.tail[:0], b.tail[over:]...)
	}
	return n, nil
}

func (b *logBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := slices.Clone(b.head)
	if b.dropped > 0 {
		out = fmt.Appendf(out, "\n... [%d bytes dropped] ...\n", b.dropped)
	}
	return append(out, b.tail...)
}
