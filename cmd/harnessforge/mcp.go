package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/harnessforge/harnessforge/internal/adapter/docker"
	cfmcp "github.com/harnessforge/harnessforge/internal/adapter/mcp"
	"github.com/harnessforge/harnessforge/internal/buildpool"
	"github.com/harnessforge/harnessforge/internal/config"
	"github.com/harnessforge/harnessforge/internal/domain/candidate"
	"github.com/harnessforge/harnessforge/internal/domain/target"
	"github.com/harnessforge/harnessforge/internal/logger"
	"github.com/harnessforge/harnessforge/internal/secrets"
	"github.com/harnessforge/harnessforge/internal/service"
)

// runMCP serves the retrieval tools of one project. The project's image is
// built and a sandbox kept alive for the lifetime of the server.
func runMCP(args []string) error {
	fs := flag.NewFlagSet("mcp", flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultConfigFile, "path to YAML config")
	projectName := fs.String("project", "", "project from the task manifest (required)")
	addr := fs.String("addr", "", "serve streamable HTTP on this address instead of stdio")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *projectName == "" {
		return fmt.Errorf("--project is required")
	}

	cfg, err := config.LoadFrom(*configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if *addr != "" {
		cfg.MCP.Addr = *addr
	}
	// stdout carries the protocol on stdio.
	log, closeLog := logger.NewTo(cfg.Logging, os.Stderr)
	defer closeLog.Close()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	manifest, err := target.LoadManifest(cfg.Tasks.File, cfg.Sandbox.ProjectsDir)
	if err != nil {
		return err
	}
	task, err := projectTask(manifest, *projectName)
	if err != nil {
		return err
	}

	sb, err := docker.NewProvider(cfg.Sandbox, buildpool.New(1)).Acquire(ctx, task)
	if err != nil {
		return fmt.Errorf("acquire sandbox: %w", err)
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Sandbox.ReleaseTimeout)
		defer cancel()
		if err := sb.Release(releaseCtx); err != nil {
			slog.Warn("sandbox release failed", "error", err)
		}
	}()
	if buildLog, err := sb.BuildImage(ctx); err != nil {
		slog.Error("image build failed", "project", task.Project, "log_tail", tail(buildLog, 2000))
		return err
	}
	targets, err := sb.DiscoverTargets(ctx)
	if err != nil {
		return fmt.Errorf("discover targets: %w", err)
	}
	set, err := candidate.NewSet(targets)
	if err != nil {
		return fmt.Errorf("project %s: %w", task.Project, err)
	}

	retriever, err := service.NewRetrieverFactory(cfg.LSP).ForSandbox(ctx, sb, task)
	if err != nil {
		return fmt.Errorf("retriever: %w", err)
	}
	defer func() { _ = retriever.Close(context.WithoutCancel(ctx)) }()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	vault, err := openVault(ctx, cfg)
	if err != nil {
		return fmt.Errorf("secrets: %w", err)
	}

	srv := cfmcp.NewServer(cfmcp.ServerConfig{
		Addr:    cfg.MCP.Addr,
		Name:    "harnessforge",
		Version: version,
		APIKey:  vault.Source(secrets.KeyMCP),
	}, cfmcp.ServerDeps{
		Retriever:  retriever,
		Candidates: set,
		Records:    store,
	})
	slog.Info("mcp ready", "project", task.Project, "targets", set.Len())

	if cfg.MCP.Addr == "" {
		return srv.ServeStdio(ctx, os.Stdin, os.Stdout)
	}
	if err := srv.Start(); err != nil {
		return fmt.Errorf("mcp listen: %w", err)
	}
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}

// projectTask returns a task carrying only the project fields, which is all
// a sandbox and retriever need.
func projectTask(m *target.Manifest, name string) (target.Task, error) {
	for _, p := range m.Projects {
		if p.Name == name {
			return target.Task{Project: p.Name, Language: p.Language, Dir: p.Dir}, nil
		}
	}
	return target.Task{}, fmt.Errorf("project %s is not in the manifest", name)
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
