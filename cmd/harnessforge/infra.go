package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/harnessforge/harnessforge/internal/adapter/filestate"
	cfnats "github.com/harnessforge/harnessforge/internal/adapter/nats"
	"github.com/harnessforge/harnessforge/internal/adapter/natskv"
	"github.com/harnessforge/harnessforge/internal/adapter/postgres"
	"github.com/harnessforge/harnessforge/internal/adapter/ristretto"
	"github.com/harnessforge/harnessforge/internal/adapter/tiered"
	"github.com/harnessforge/harnessforge/internal/config"
	"github.com/harnessforge/harnessforge/internal/port/cache"
	"github.com/harnessforge/harnessforge/internal/port/progress"
	"github.com/harnessforge/harnessforge/internal/secrets"
)

// infra holds the shared backends of a process. queue is nil when NATS is
// not configured.
type infra struct {
	store progress.Store
	queue *cfnats.Queue
	cache cache.Cache
	l1    *ristretto.Cache
}

// openInfra connects the progress store, NATS and the metadata cache.
func openInfra(ctx context.Context, cfg *config.Config) (*infra, error) {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	in := &infra{store: store}

	if cfg.NATS.URL != "" {
		q, err := cfnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			in.Close()
			return nil, fmt.Errorf("nats: %w", err)
		}
		in.queue = q
	}

	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB)
	if err != nil {
		in.Close()
		return nil, fmt.Errorf("l1 cache: %w", err)
	}
	in.l1, in.cache = l1, l1
	if in.queue != nil {
		l2, err := natskv.Open(ctx, in.queue.JetStream(), cfg.Cache.L2Bucket, cfg.Cache.L2TTL)
		if err != nil {
			in.Close()
			return nil, fmt.Errorf("l2 cache: %w", err)
		}
		in.cache = tiered.New(l1, l2, cfg.Cache.L2TTL)
	}
	return in, nil
}

func openStore(ctx context.Context, cfg *config.Config) (progress.Store, error) {
	switch cfg.State.Backend {
	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
		slog.Info("postgres connected, migrations applied")
		return postgres.NewProgressStore(pool), nil
	default:
		store, err := filestate.Open(cfg.State.Dir)
		if err != nil {
			return nil, fmt.Errorf("state: %w", err)
		}
		return store, nil
	}
}

// Close drains NATS and closes the store and caches.
func (in *infra) Close() {
	if in.queue != nil {
		if err := in.queue.Drain(); err != nil {
			slog.Warn("nats drain failed", "error", err)
			_ = in.queue.Close()
		}
	}
	if in.l1 != nil {
		in.l1.Close()
	}
	if in.store != nil {
		if err := in.store.Close(); err != nil {
			slog.Warn("closing progress store failed", "error", err)
		}
	}
}

// openVault loads the rotatable credentials and reloads them on SIGHUP
// until ctx is done.
func openVault(ctx context.Context, cfg *config.Config) (*secrets.Vault, error) {
	vault, err := secrets.NewVault(secrets.FileLoader(cfg.Secrets.File, map[string]string{
		secrets.KeyLiteLLM: cfg.LiteLLM.MasterKey,
		secrets.KeyMCP:     cfg.MCP.APIKey,
	}))
	if err != nil {
		return nil, err
	}
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		defer signal.Stop(hup)
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				if err := vault.Reload(); err != nil {
					slog.Error("secret reload failed", "error", err)
					continue
				}
				slog.Info("secrets reloaded")
			}
		}
	}()
	return vault, nil
}
