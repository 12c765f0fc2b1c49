package cache_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/harnessforge/harnessforge/internal/port/cache"
)

// memCache is a reference implementation used to keep the compliance suite honest.
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) AddIfAbsent(_ context.Context, key string, value []byte, _ time.Duration) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	m.data[key] = value
	return value, nil
}

func (m *memCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func TestMemCacheCompliance(t *testing.T) {
	RunComplianceTests(t, &memCache{data: make(map[string][]byte)})
}

// RunComplianceTests runs the standard compliance test suite against any Cache implementation.
func RunComplianceTests(t *testing.T, c cache.Cache) {
	t.Helper()
	ctx := context.Background()

	t.Run("AddAndGet", func(t *testing.T) {
		got, err := c.AddIfAbsent(ctx, "compliance-key", []byte("compliance-val"), time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != "compliance-val" {
			t.Fatalf("expected compliance-val, got %s", got)
		}
		val, found, err := c.Get(ctx, "compliance-key")
		if err != nil {
			t.Fatal(err)
		}
		if !found || string(val) != "compliance-val" {
			t.Fatalf("expected compliance-val after add, got %q (found=%v)", val, found)
		}
	})

	t.Run("FirstWriterWins", func(t *testing.T) {
		_, _ = c.AddIfAbsent(ctx, "fw-key", []byte("first"), time.Minute)
		got, err := c.AddIfAbsent(ctx, "fw-key", []byte("second"), time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != "first" {
			t.Fatalf("expected first writer's value, got %s", got)
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		_, found, err := c.Get(ctx, "nonexistent-key")
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Fatal("expected miss for nonexistent key")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_, _ = c.AddIfAbsent(ctx, "del-key", []byte("del-val"), time.Minute)
		if err := c.Delete(ctx, "del-key"); err != nil {
			t.Fatal(err)
		}
		_, found, err := c.Get(ctx, "del-key")
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Fatal("expected miss after Delete")
		}
	})

	t.Run("DeleteNonexistent", func(t *testing.T) {
		if err := c.Delete(ctx, "never-existed"); err != nil {
			t.Fatal("Delete of nonexistent key should not error")
		}
	})
}
