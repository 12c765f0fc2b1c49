package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/harnessforge/harnessforge/internal/adapter/docker"
	"github.com/harnessforge/harnessforge/internal/adapter/fsartifact"
	cfhttp "github.com/harnessforge/harnessforge/internal/adapter/http"
	"github.com/harnessforge/harnessforge/internal/adapter/litellm"
	cfotel "github.com/harnessforge/harnessforge/internal/adapter/otel"
	"github.com/harnessforge/harnessforge/internal/adapter/ws"
	"github.com/harnessforge/harnessforge/internal/buildpool"
	"github.com/harnessforge/harnessforge/internal/config"
	"github.com/harnessforge/harnessforge/internal/domain/target"
	"github.com/harnessforge/harnessforge/internal/logger"
	"github.com/harnessforge/harnessforge/internal/port/messagequeue"
	"github.com/harnessforge/harnessforge/internal/resilience"
	"github.com/harnessforge/harnessforge/internal/secrets"
	"github.com/harnessforge/harnessforge/internal/service"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// maxFinishedSessions bounds the finished sessions kept for the status API.
const maxFinishedSessions = 500

func main() {
	if err := dispatch(os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func dispatch(args []string) error {
	cmd := "run"
	if len(args) > 0 && (args[0] == "run" || args[0] == "status" || args[0] == "mcp" || args[0] == "help") {
		cmd, args = args[0], args[1:]
	}
	switch cmd {
	case "status":
		return runStatus(args)
	case "mcp":
		return runMCP(args)
	case "help":
		printHelp()
		return nil
	default:
		return runSessions(args)
	}
}

func printHelp() {
	fmt.Fprintf(os.Stderr, `Usage: harnessforge [command] [options]

Commands:
  run      Generate harnesses for every task in the manifest (default)
  status   Print recorded session outcomes
  mcp      Serve the retrieval tools over MCP for one project
  help     Show this help message

Examples:
  harnessforge --tasks tasks.yaml --workers 8
  harnessforge status --project zlib
  harnessforge status --follow
  harnessforge mcp --project zlib
`)
}

func runSessions(args []string) error {
	flags, err := config.ParseFlags(args)
	if err != nil {
		return err
	}
	cfg, cfgPath, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(log)
	slog.Info("config loaded",
		"path", cfgPath,
		"workers", cfg.Session.Workers,
		"max_fix", cfg.Session.MaxFix,
		"max_tool_call", cfg.Session.MaxToolCall,
		"check_mode", cfg.Session.CheckMode,
		"state_backend", cfg.State.Backend,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	manifest, err := target.LoadManifest(cfg.Tasks.File, cfg.Sandbox.ProjectsDir)
	if err != nil {
		return err
	}
	tasks := manifest.Tasks()
	slog.Info("manifest loaded", "projects", len(manifest.Projects), "tasks", len(tasks))

	// --- Infrastructure ---

	shutdownOTel, err := cfotel.Init(ctx, cfg.OTel)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(shutdownCtx); err != nil {
			slog.Warn("otel shutdown failed", "error", err)
		}
	}()
	metrics, err := cfotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	infra, err := openInfra(ctx, cfg)
	if err != nil {
		return err
	}
	defer infra.Close()

	vault, err := openVault(ctx, cfg)
	if err != nil {
		return fmt.Errorf("secrets: %w", err)
	}

	// --- Services ---

	llm := litellm.NewClient(cfg.LiteLLM.URL, cfg.LiteLLM.MasterKey, cfg.LiteLLM.Timeout)
	llm.SetKeySource(vault.Source(secrets.KeyLiteLLM))
	llm.SetBreaker(resilience.NewBreaker("litellm", cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))
	llm.SetTransport(cfotel.Transport(nil))
	gen := litellm.NewCodegen(llm, cfg.LiteLLM.Model, cfg.LiteLLM.JudgeModel, cfg.LiteLLM.Temperature, cfg.LiteLLM.MaxTokens)

	sink := fsartifact.New(cfg.Artifacts.Dir)
	hub := ws.NewHub(originPatterns(cfg.Server.CORSOrigin))
	defer hub.Close()
	registry := service.NewRegistry(maxFinishedSessions)

	var queue messagequeue.Queue
	if infra.queue != nil {
		queue = infra.queue
	}

	orch := service.NewOrchestrator(cfg, service.Deps{
		Generator:  gen,
		Sandboxes:  docker.NewProvider(cfg.Sandbox, buildpool.New(cfg.Sandbox.MaxBuilds)),
		Retrievers: service.NewRetrieverFactory(cfg.LSP),
		Metadata:   service.NewMetadataService(infra.cache, cfg.Cache.L2TTL),
		Compiler:   service.NewCompileController(cfg.Compile, sink, metrics),
		Evaluator:  service.NewFuzzEvaluator(cfg.Fuzz, sink, metrics),
		Checker:    service.NewSemanticChecker(gen, cfg.Session.CheckMode),
		Artifacts:  sink,
		Events:     service.NewEventPublisher(queue, hub),
		Registry:   registry,
		Metrics:    metrics,
	})
	scheduler := service.NewScheduler(orch, infra.store, cfg.Session.Workers, cfg.Session.Iterations)

	// --- HTTP ---

	if cfg.Server.Port != "" {
		handlers := &cfhttp.Handlers{
			Sessions: registry,
			Progress: infra.store,
			Queue:    queue,
			Version:  version,
		}
		srv := &http.Server{
			Addr:              ":" + cfg.Server.Port,
			Handler:           cfhttp.NewRouter(handlers, hub.HandleWS, cfg.Server, cfg.OTel.ServiceName),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			IdleTimeout:       120 * time.Second,
		}
		go func() {
			slog.Info("starting status server", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("status server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	sum, err := scheduler.Run(ctx, tasks)
	slog.Info("run finished",
		"planned", sum.Planned,
		"skipped", sum.Skipped,
		"succeeded", sum.Succeeded,
		"budget_exceeded", sum.BudgetExceeded,
		"failed", sum.Failed,
		"interrupted", sum.Interrupted,
	)
	if errors.Is(err, context.Canceled) {
		slog.Info("interrupted; unfinished sessions resume on the next run")
		return nil
	}
	return err
}

// originPatterns turns the configured CORS origin into WebSocket origin
// host patterns. No origin accepts any.
func originPatterns(origin string) []string {
	if origin == "" || origin == "*" {
		return nil
	}
	if u, err := url.Parse(origin); err == nil && u.Host != "" {
		return []string{u.Host}
	}
	return []string{origin}
}
