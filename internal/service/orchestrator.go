package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	cfotel "github.com/harnessforge/harnessforge/internal/adapter/otel"
	"github.com/harnessforge/harnessforge/internal/config"
	"github.com/harnessforge/harnessforge/internal/domain"
	"github.com/harnessforge/harnessforge/internal/domain/candidate"
	"github.com/harnessforge/harnessforge/internal/domain/outcome"
	"github.com/harnessforge/harnessforge/internal/domain/session"
	"github.com/harnessforge/harnessforge/internal/domain/target"
	"github.com/harnessforge/harnessforge/internal/logger"
	"github.com/harnessforge/harnessforge/internal/port/artifact"
	"github.com/harnessforge/harnessforge/internal/port/codegen"
	"github.com/harnessforge/harnessforge/internal/port/retrieval"
	"github.com/harnessforge/harnessforge/internal/port/sandbox"
)

const (
	// maxBuildLogTail bounds the image build log carried in a failed result.
	maxBuildLogTail = 4000
	// defaultReleaseTimeout applies when no release timeout is configured.
	defaultReleaseTimeout = 30 * time.Second
)

// Deps are the collaborators of an Orchestrator. Artifacts, Events,
// Registry and Metrics may be nil.
type Deps struct {
	Generator  codegen.Generator
	Sandboxes  sandbox.Provider
	Retrievers retrieval.Factory
	Metadata   *MetadataService
	Compiler   *CompileController
	Evaluator  *FuzzEvaluator
	Checker    *SemanticChecker
	Artifacts  artifact.Sink
	Events     *EventPublisher
	Registry   *Registry
	Metrics    *cfotel.Metrics
}

// Orchestrator drives one session through the generate, compile, fuzz and
// repair stages. It alone mutates budgets and decides termination.
type Orchestrator struct {
	deps           Deps
	maxFix         int
	maxToolCall    int
	maxToolRounds  int
	historyTurns   int
	resetCursor    bool
	releaseTimeout time.Duration
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(cfg *config.Config, deps Deps) *Orchestrator {
	if deps.Artifacts == nil {
		deps.Artifacts = nopSink{}
	}
	if deps.Metadata == nil {
		deps.Metadata = NewMetadataService(nil, 0)
	}
	if deps.Checker == nil {
		deps.Checker = NewSemanticChecker(nil, false)
	}
	releaseTimeout := cfg.Sandbox.ReleaseTimeout
	if releaseTimeout <= 0 {
		releaseTimeout = defaultReleaseTimeout
	}
	return &Orchestrator{
		deps:           deps,
		maxFix:         cfg.Session.MaxFix,
		maxToolCall:    cfg.Session.MaxToolCall,
		maxToolRounds:  cfg.LiteLLM.MaxToolRounds,
		historyTurns:   cfg.LiteLLM.HistoryTurns,
		resetCursor:    cfg.Compile.ResetCursorOnFix,
		releaseTimeout: releaseTimeout,
	}
}

// run is the mutable state of one Run call.
type run struct {
	o    *Orchestrator
	s    *session.Session
	env  Env
	conv *codegen.Conversation
	log  *slog.Logger
}

// Run executes one session to completion and returns it in a terminal
// state. The sandbox is released on every path, including cancellation.
func (o *Orchestrator) Run(ctx context.Context, task target.Task, iteration int) *session.Session {
	id := uuid.NewString()
	ctx = logger.WithSessionID(ctx, id)
	ctx, span := cfotel.StartSessionSpan(ctx, id, task.Project, task.Function, iteration)
	defer span.End()

	s := session.New(id, task, iteration, session.Budgets{MaxFix: o.maxFix, MaxToolCall: o.maxToolCall}, nil)
	r := &run{
		o:   o,
		s:   s,
		log: logger.FromContext(ctx, slog.Default()).With("project", task.Project, "function", task.Function, "iteration", iteration),
	}
	if o.deps.Metrics != nil {
		o.deps.Metrics.SessionsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("project", task.Project)))
	}
	o.deps.Registry.Update(s)
	r.log.Info("session started")

	defer func() {
		r.finished(ctx)
		if s.Result.Status != session.StatusSuccess {
			span.SetStatus(codes.Error, string(s.Result.Status)+": "+s.Result.Reason)
		}
	}()

	if !r.setup(ctx) {
		return s
	}
	defer r.release(ctx)

	r.loop(ctx)
	return s
}

// setup acquires the sandbox, builds the image and discovers candidates.
func (r *run) setup(ctx context.Context) bool {
	o := r.o
	sb, err := o.deps.Sandboxes.Acquire(ctx, r.s.Task)
	if err != nil {
		r.fail(ctx, session.ReasonSandbox, fmt.Sprintf("acquire sandbox: %v", err))
		return false
	}
	r.env.Sandbox = sb

	if buildLog, err := sb.BuildImage(ctx); err != nil {
		r.release(ctx)
		switch {
		case errors.Is(err, sandbox.ErrImageBuild):
			r.fail(ctx, session.ReasonImageError, tail(buildLog, maxBuildLogTail))
		default:
			r.fail(ctx, session.ReasonSandbox, err.Error())
		}
		return false
	}

	targets, err := o.deps.Metadata.Targets(ctx, r.s.Task.Project, sb.DiscoverTargets)
	if err == nil {
		r.s.Candidates, err = candidate.NewSet(targets)
	}
	if err != nil {
		r.release(ctx)
		reason := session.ReasonSandbox
		if errors.Is(err, domain.ErrNoCandidates) {
			reason = session.ReasonFuzzerError
		}
		r.fail(ctx, reason, err.Error())
		return false
	}

	retr, err := o.deps.Retrievers.ForSandbox(ctx, sb, r.s.Task)
	if err != nil {
		r.release(ctx)
		r.fail(ctx, session.ReasonSandbox, fmt.Sprintf("retriever: %v", err))
		return false
	}
	r.env.Retriever = retr
	r.conv = &codegen.Conversation{System: SystemPrompt(r.s.Task), Tools: ToolSpecs()}
	r.log.Info("session ready", "candidates", r.s.Candidates.Len(), "fuzzer", r.s.CurrentCandidate().Fuzzer)
	return true
}

// release frees the retriever and the sandbox on a context that survives
// cancellation. It is safe to call more than once.
func (r *run) release(ctx context.Context) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.o.releaseTimeout)
	defer cancel()
	if r.env.Retriever != nil {
		if err := r.env.Retriever.Close(rctx); err != nil {
			r.log.Warn("close retriever", "error", err)
		}
		r.env.Retriever = nil
	}
	if r.env.Sandbox != nil {
		if err := r.env.Sandbox.Release(rctx); err != nil {
			r.log.Warn("release sandbox", "error", err)
		}
	}
}

func (r *run) loop(ctx context.Context) {
	for !r.s.Terminal {
		if err := ctx.Err(); err != nil {
			r.fail(ctx, session.ReasonRunError, "session cancelled: "+err.Error())
			return
		}
		stage := r.s.Stage
		sctx, span := cfotel.StartStageSpan(ctx, string(stage))
		switch stage {
		case session.StageGenerate:
			r.generate(sctx)
		case session.StageCompile:
			r.compile(sctx)
		case session.StageFix:
			r.fix(sctx)
		case session.StageRunFuzz:
			r.runFuzz(sctx)
		case session.StageSemanticCheck:
			r.semanticCheck(sctx)
		default:
			r.fail(ctx, session.ReasonRunError, fmt.Sprintf("no handler for stage %q", stage))
		}
		span.End()
	}
}

func (r *run) generate(ctx context.Context) {
	example, err := r.env.Retriever.DriverExample(ctx, r.s.CurrentCandidate())
	if err != nil {
		r.log.Warn("driver example", "error", err)
	}
	r.conv.Append(codegen.Message{
		Role:    codegen.RoleUser,
		Content: GeneratePrompt(r.s.Task, r.s.CurrentCandidate(), example),
	})
	code, ok := r.ask(ctx, session.StageGenerate, func(ctx context.Context) (codegen.Reply, error) {
		return r.o.deps.Generator.Generate(ctx, r.conv)
	})
	if !ok {
		return
	}
	r.s.Harness = code
	r.enter(ctx, session.StageCompile, "")
}

func (r *run) compile(ctx context.Context) {
	out, err := r.o.deps.Compiler.Compile(ctx, r.s, r.env)
	if err != nil {
		r.failErr(ctx, session.ReasonSandbox, err)
		return
	}
	r.s.LastCompile = out

	switch out.Category {
	case outcome.CompileSuccess:
		r.enter(ctx, session.StageRunFuzz, out.Candidate)
	case outcome.ImageError:
		r.fail(ctx, session.ReasonImageError, out.Diagnostic())
	case outcome.FuzzerError:
		r.fail(ctx, session.ReasonFuzzerError, tail(out.Raw, maxBuildLogTail))
	case outcome.CodeError, outcome.LinkError, outcome.IncludeError, outcome.MissingHeaderError:
		r.s.Diagnostic = CompileFeedback(r.s, out)
		r.enter(ctx, session.StageFix, string(out.Category))
	default:
		r.fail(ctx, session.ReasonRunError, fmt.Sprintf("unhandled compile category %q", out.Category))
	}
}

func (r *run) fix(ctx context.Context) {
	if r.s.Budgets.EnterFix() {
		r.finish(ctx, session.BudgetExceeded(session.BudgetFix, ""))
		return
	}
	if r.o.deps.Metrics != nil {
		r.o.deps.Metrics.FixIterations.Add(ctx, 1)
	}
	if r.o.resetCursor {
		r.s.Candidates.Reset()
	}
	r.conv.Trim(r.o.historyTurns)
	code, ok := r.ask(ctx, session.StageFix, func(ctx context.Context) (codegen.Reply, error) {
		return r.o.deps.Generator.Repair(ctx, r.conv, r.s.Diagnostic)
	})
	if !ok {
		return
	}
	r.s.Harness = code
	r.enter(ctx, session.StageCompile, "")
}

func (r *run) runFuzz(ctx context.Context) {
	out, detail := r.o.deps.Evaluator.Evaluate(ctx, r.s, r.env.Sandbox)
	r.s.LastFuzz = out
	if ctx.Err() != nil {
		r.fail(ctx, session.ReasonRunError, "session cancelled during fuzz run")
		return
	}

	switch out.Category {
	case outcome.NoError:
		r.enter(ctx, session.StageSemanticCheck, "")
	case outcome.RunError:
		r.fail(ctx, session.ReasonRunError, "fuzz target "+r.s.CurrentCandidate().Fuzzer+" could not be run")
	case outcome.Crash, outcome.ConstantCoverageError, outcome.LackCovError,
		outcome.ReadLogError, outcome.NoCall, outcome.Fake:
		r.s.Diagnostic = FuzzFeedback(r.s, out, detail)
		r.enter(ctx, session.StageFix, string(out.Category))
	default:
		r.fail(ctx, session.ReasonRunError, fmt.Sprintf("unhandled fuzz category %q", out.Category))
	}
}

func (r *run) semanticCheck(ctx context.Context) {
	v, err := r.o.deps.Checker.Check(ctx, r.s)
	if err != nil {
		r.failErr(ctx, session.ReasonLLMError, err)
		return
	}
	if !v.Pass {
		r.s.Diagnostic = SemanticFeedback(r.s, v.Reason)
		r.enter(ctx, session.StageFix, "semantic_fail")
		return
	}
	writeArtifact(ctx, r.o.deps.Artifacts, r.s, "final-harness"+r.s.Task.Language.HarnessExt(), r.s.Harness)
	r.s.Diagnostic = ""
	r.finish(ctx, session.Success())
}

// ask runs the bounded tool loop: first is the initial model call, and
// every tool request is answered and followed by a plain continuation.
// After maxToolRounds rounds tools are withheld so the model has to answer
// with code. It returns false when the session was terminated.
func (r *run) ask(ctx context.Context, origin session.Stage, first func(context.Context) (codegen.Reply, error)) (string, bool) {
	r.conv.ForceFinal = false
	defer func() { r.conv.ForceFinal = false }()

	call := first
	for rounds := 0; ; rounds++ {
		reply, err := call(ctx)
		if err != nil {
			r.failErr(ctx, session.ReasonLLMError, err)
			return "", false
		}
		if reply.ToolCall == nil {
			code := strings.TrimSpace(reply.Code)
			if code == "" {
				r.fail(ctx, session.ReasonEmptyOutput, "the model returned no code: "+tail(reply.Raw, 500))
				return "", false
			}
			return code, true
		}

		if r.s.Budgets.AddToolCall() {
			r.finish(ctx, session.BudgetExceeded(session.BudgetToolCalls, ""))
			return "", false
		}
		r.tool(ctx, *reply.ToolCall)
		r.enter(ctx, origin, "")

		if rounds+1 >= r.o.maxToolRounds {
			r.conv.ForceFinal = true
		}
		call = func(ctx context.Context) (codegen.Reply, error) {
			return r.o.deps.Generator.Generate(ctx, r.conv)
		}
	}
}

func (r *run) tool(ctx context.Context, call codegen.ToolCall) {
	r.enter(ctx, session.StageTool, call.Name)
	tctx, span := cfotel.StartToolCallSpan(ctx, call.ID, call.Name)
	result := RunTool(tctx, r.env.Retriever, r.s.Candidates, call)
	span.End()
	if r.o.deps.Metrics != nil {
		r.o.deps.Metrics.ToolCalls.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", call.Name)))
	}
	r.log.Info("tool call", "tool", call.Name, "tool_calls", r.s.Budgets.ToolCallCount, "result_bytes", len(result))
	r.conv.Append(codegen.Message{Role: codegen.RoleTool, Content: result, ToolCallID: call.ID})
}

func (r *run) enter(ctx context.Context, stage session.Stage, note string) {
	r.s.Enter(stage, note)
	r.o.deps.Registry.Update(r.s)
	r.o.deps.Events.Stage(ctx, r.s)
	r.log.Debug("stage", "stage", stage, "note", note, "fix_count", r.s.Budgets.FixCount)
}

func (r *run) finish(ctx context.Context, result session.Result) {
	r.s.Finish(result)
	r.o.deps.Events.Stage(ctx, r.s)
}

func (r *run) fail(ctx context.Context, reason, diagnostic string) {
	r.finish(ctx, session.Failed(reason, diagnostic))
}

// failErr fails with reason, or with run_error when err stems from the
// session being cancelled.
func (r *run) failErr(ctx context.Context, reason string, err error) {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		reason = session.ReasonRunError
	}
	r.fail(ctx, reason, err.Error())
}

// finished reports the terminal session. Sessions that never reached a
// terminal state are failed first.
func (r *run) finished(ctx context.Context) {
	if !r.s.Terminal {
		r.fail(ctx, session.ReasonRunError, "session ended without a result")
	}
	o := r.o
	elapsed := r.s.FinishedAt.Sub(r.s.StartedAt)
	if o.deps.Metrics != nil {
		attrs := metric.WithAttributes(
			attribute.String("status", string(r.s.Result.Status)),
			attribute.String("reason", r.s.Result.Reason),
		)
		o.deps.Metrics.SessionsFinished.Add(ctx, 1, attrs)
		o.deps.Metrics.SessionDuration.Record(ctx, elapsed.Seconds(), attrs)
	}
	o.deps.Registry.Update(r.s)
	o.deps.Events.Finished(ctx, r.s)
	r.log.Info("session finished",
		"status", r.s.Result.Status,
		"reason", r.s.Result.Reason,
		"fix_count", r.s.Budgets.FixCount,
		"tool_calls", r.s.Budgets.ToolCallCount,
		"duration", elapsed.Round(time.Millisecond),
	)
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
