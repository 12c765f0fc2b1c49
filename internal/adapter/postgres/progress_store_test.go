package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/harnessforge/harnessforge/internal/adapter/postgres"
	"github.com/harnessforge/harnessforge/internal/config"
	"github.com/harnessforge/harnessforge/internal/port/progress"
)

// setupStore runs all migrations and returns a ready-to-use store. The pool
// is closed via t.Cleanup.
func setupStore(t *testing.T) *postgres.ProgressStore {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("requires DATABASE_URL")
	}

	ctx := context.Background()
	if err := postgres.RunMigrations(ctx, dsn); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	cfg := config.Defaults().Postgres
	cfg.DSN = dsn
	pool, err := postgres.NewPool(ctx, cfg)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	store := postgres.NewProgressStore(pool)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestProgressStore_Lifecycle(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	key := "k-" + uuid.NewString()

	last, err := store.LastIteration(ctx, "libpng", key)
	if err != nil {
		t.Fatalf("LastIteration: %v", err)
	}
	if last != -1 {
		t.Fatalf("LastIteration on empty = %d, want -1", last)
	}

	rec := progress.Record{
		Project: "libpng", Function: "png_read_info", Signature: "void png_read_info(png_structp, png_infop)",
		Key: key, Iteration: 0, SessionID: uuid.NewString(), Status: "failed", Reason: "fix",
		FinishedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	if err := store.Complete(ctx, rec); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if solved, _ := store.Solved(ctx, key); solved {
		t.Fatal("failed session marked solved")
	}

	rec.SessionID = uuid.NewString()
	rec.Iteration = 1
	rec.Status = "success"
	rec.Reason = ""
	if err := store.Complete(ctx, rec); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	// Duplicate completion is ignored.
	if err := store.Complete(ctx, rec); err != nil {
		t.Fatalf("Complete duplicate: %v", err)
	}

	if last, _ := store.LastIteration(ctx, "libpng", key); last != 1 {
		t.Fatalf("LastIteration = %d, want 1", last)
	}
	if solved, err := store.Solved(ctx, key); err != nil || !solved {
		t.Fatalf("Solved = %v, %v", solved, err)
	}

	records, err := store.Records(ctx)
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	found := 0
	for _, r := range records {
		if r.Key == key {
			found++
		}
	}
	if found != 2 {
		t.Fatalf("found %d records for key, want 2", found)
	}
}
