package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
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
	"github.com/harnessforge/harnessforge/internal/port/retrieval"
	"github.com/harnessforge/harnessforge/internal/port/sandbox"
)

// maxIncludeAttempts caps the compiles of one include-path remediation episode.
const maxIncludeAttempts = 3

// Env is the set of collaborators owned by one session.
type Env struct {
	Sandbox   sandbox.Sandbox
	Retriever retrieval.Retriever
}

// CompileController compiles the session's harness against the candidate
// fuzz targets, retrying internally on outcomes that point at the wrong
// target rather than at the code.
type CompileController struct {
	timeout   time.Duration
	artifacts artifact.Sink
	metrics   *cfotel.Metrics
}

// NewCompileController creates a CompileController. sink and metrics may be nil.
func NewCompileController(cfg config.Compile, sink artifact.Sink, metrics *cfotel.Metrics) *CompileController {
	if sink == nil {
		sink = nopSink{}
	}
	return &CompileController{timeout: cfg.Timeout, artifacts: sink, metrics: metrics}
}

// Compile builds s.Harness starting at the candidate cursor and returns the
// first outcome that needs a decision from the orchestrator. The returned
// error is reserved for sandbox failures that are not build outcomes.
//
// LinkError and FuzzerError advance the cursor. IncludeError runs a bounded
// remediation episode against the same candidate. When a whole sweep yields
// only FuzzerError, the first candidate is compiled once more so that repair
// gets the build output of a known target instead of nothing.
func (c *CompileController) Compile(ctx context.Context, s *session.Session, env Env) (outcome.Compile, error) {
	log := logger.FromContext(ctx, slog.Default())
	c.write(ctx, s, fmt.Sprintf("fix%02d-harness%s", s.Budgets.FixCount, s.Task.Language.HarnessExt()), s.Harness)

	set := s.Candidates
	attempt := 0
	onlyFuzzerErrors := true
	var lastLink *outcome.Compile

	for {
		out, err := c.compileOnce(ctx, s, env, &attempt)
		if err != nil {
			return outcome.Compile{}, err
		}
		if out.Category == outcome.IncludeError {
			if out, err = c.remediate(ctx, s, env, out, &attempt); err != nil {
				return outcome.Compile{}, err
			}
		}
		if out.Category != outcome.FuzzerError {
			onlyFuzzerErrors = false
		}

		switch out.Category {
		case outcome.CompileSuccess, outcome.CodeError, outcome.ImageError, outcome.IncludeError:
			return out, nil
		case outcome.MissingHeaderError:
			return c.withDriverExample(ctx, s, env, out), nil
		case outcome.FuzzerError:
			if set.Len() == 1 {
				return out, nil
			}
		case outcome.LinkError:
			lastLink = &out
		}

		if set.Advance() {
			log.Debug("trying next candidate", "category", out.Category, "fuzzer", set.Current().Fuzzer)
			continue
		}

		// The sweep passed the last candidate and the cursor is back at 0.
		if onlyFuzzerErrors || lastLink == nil {
			log.Warn("every candidate failed without a diagnostic, recompiling the first one",
				"candidates", set.Len())
			out, err := c.compileOnce(ctx, s, env, &attempt)
			if err != nil {
				return outcome.Compile{}, err
			}
			if out.Category != outcome.CompileSuccess {
				out.Exhausted = true
			}
			return out, nil
		}
		lastLink.Exhausted = true
		return *lastLink, nil
	}
}

// remediate adds the directories of missing headers to the include path and
// recompiles the same candidate, at most maxIncludeAttempts times. It stops
// early when no new directory can be found.
func (c *CompileController) remediate(ctx context.Context, s *session.Session, env Env, out outcome.Compile, attempt *int) (outcome.Compile, error) {
	log := logger.FromContext(ctx, slog.Default())
	for range maxIncludeAttempts {
		added := false
		for _, h := range classify.MissingHeaders(out.Raw) {
			found, err := env.Retriever.LocateHeader(ctx, h)
			if err != nil {
				log.Warn("locate header", "header", h, "error", err)
				continue
			}
			if dir := includeDirFor(h, found); s.Includes.Add(dir) {
				log.Info("include path added", "header", h, "dir", dir)
				added = true
			}
		}
		if !added {
			break
		}
		var err error
		if out, err = c.compileOnce(ctx, s, env, attempt); err != nil {
			return outcome.Compile{}, err
		}
		if out.Category != outcome.IncludeError {
			return out, nil
		}
	}
	out.Exhausted = true
	return out, nil
}

// withDriverExample appends an existing harness of the project to the
// diagnostic, since header ordering problems are easiest to fix by example.
func (c *CompileController) withDriverExample(ctx context.Context, s *session.Session, env Env, out outcome.Compile) outcome.Compile {
	example, err := env.Retriever.DriverExample(ctx, s.CurrentCandidate())
	if err != nil {
		logger.FromContext(ctx, slog.Default()).Warn("driver example", "error", err)
		return out
	}
	if example = headLines(example, maxExampleLines); example != "" {
		out.Extracted = out.Diagnostic() + "\n\nAn existing harness of this project, for reference:\n" + example
	}
	return out
}

func (c *CompileController) compileOnce(ctx context.Context, s *session.Session, env Env, attempt *int) (outcome.Compile, error) {
	cand := s.CurrentCandidate()
	*attempt++

	cctx, cancel := ctx, context.CancelFunc(func() {})
	if c.timeout > 0 {
		cctx, cancel = context.WithTimeout(ctx, c.timeout)
	}
	start := time.Now()
	res, err := env.Sandbox.Compile(cctx, sandbox.CompileRequest{
		Candidate:   cand,
		Harness:     s.Harness,
		IncludeDirs: s.Includes.List(),
	})
	timedOut := errors.Is(cctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	cancel()
	elapsed := time.Since(start)

	switch {
	case err != nil && timedOut:
		res = sandbox.CompileResult{Output: res.Output + "\nerror: build timed out after " + c.timeout.String()}
	case err != nil:
		return outcome.Compile{}, fmt.Errorf("compile %s: %w", cand.Fuzzer, err)
	}

	out := classify.Compile(classify.CompileInput{
		BinaryExists: res.BinaryExists,
		ImageFailed:  res.ImageFailed,
		Output:       res.Output,
		HarnessPath:  cand.HarnessPath,
		Harness:      s.Harness,
		HeadersFor: func(symbol string) []string {
			headers, err := env.Retriever.HeadersFor(ctx, symbol)
			if err != nil {
				return nil
			}
			return headers
		},
	})
	out.Candidate = cand.Fuzzer

	c.write(ctx, s, fmt.Sprintf("fix%02d-compile%02d-%s.log", s.Budgets.FixCount, *attempt, cand.Fuzzer), res.Output)
	if out.Extracted != "" {
		c.write(ctx, s, fmt.Sprintf("fix%02d-compile%02d-%s.diag", s.Budgets.FixCount, *attempt, cand.Fuzzer), out.Extracted)
	}
	if c.metrics != nil {
		attrs := metric.WithAttributes(attribute.String("category", string(out.Category)))
		c.metrics.Compiles.Add(ctx, 1, attrs)
		c.metrics.CompileDuration.Record(ctx, elapsed.Seconds(), attrs)
	}
	logger.FromContext(ctx, slog.Default()).Info("compiled",
		"fuzzer", cand.Fuzzer,
		"category", out.Category,
		"attempt", *attempt,
		"includes", s.Includes.Len(),
		"duration", elapsed.Round(time.Millisecond),
	)
	return out, nil
}

func (c *CompileController) write(ctx context.Context, s *session.Session, name, data string) {
	writeArtifact(ctx, c.artifacts, s, name, data)
}

func writeArtifact(ctx context.Context, sink artifact.Sink, s *session.Session, name, data string) {
	key := artifact.Key{Session: s.ID, Project: s.Task.Project, Iteration: s.Iteration, Name: name}
	if err := sink.Write(ctx, key, []byte(data)); err != nil {
		logger.FromContext(ctx, slog.Default()).Warn("write artifact", "name", name, "error", err)
	}
}

type nopSink struct{}

func (nopSink) Write(context.Context, artifact.Key, []byte) error { return nil }
