package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/harnessforge/harnessforge/internal/domain/candidate"
	"github.com/harnessforge/harnessforge/internal/port/cache"
)

// DiscoverFunc lists a project's fuzz targets, usually through a sandbox.
type DiscoverFunc func(ctx context.Context) ([]candidate.Candidate, error)

// MetadataService shares discovered project metadata across sessions. Each
// project is discovered at most once per process and the first stored value
// wins across processes.
type MetadataService struct {
	cache cache.Cache
	ttl   time.Duration
	group singleflight.Group
}

// NewMetadataService creates a MetadataService. A nil cache only
// deduplicates concurrent discoveries.
func NewMetadataService(c cache.Cache, ttl time.Duration) *MetadataService {
	return &MetadataService{cache: c, ttl: ttl}
}

// Targets returns the fuzz targets of project, running discover only when
// no other session has stored them yet.
func (m *MetadataService) Targets(ctx context.Context, project string, discover DiscoverFunc) ([]candidate.Candidate, error) {
	key := targetsKey(project)
	if m.cache != nil {
		data, ok, err := m.cache.Get(ctx, key)
		if err != nil {
			slog.Warn("metadata cache get failed", "key", key, "error", err)
		} else if ok {
			if targets, err := decodeTargets(data); err == nil {
				return targets, nil
			}
			slog.Warn("discarding undecodable metadata", "key", key)
		}
	}

	v, err, shared := m.group.Do(key, func() (any, error) {
		targets, err := discover(ctx)
		if err != nil {
			return nil, err
		}
		if m.cache == nil || len(targets) == 0 {
			return targets, nil
		}
		data, err := json.Marshal(targets)
		if err != nil {
			return nil, fmt.Errorf("marshal targets: %w", err)
		}
		stored, err := m.cache.AddIfAbsent(ctx, key, data, m.ttl)
		if err != nil {
			slog.Warn("metadata cache add failed", "key", key, "error", err)
			return targets, nil
		}
		if winner, err := decodeTargets(stored); err == nil {
			return winner, nil
		}
		return targets, nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover targets of %s: %w", project, err)
	}
	if shared {
		slog.Debug("shared target discovery", "project", project)
	}
	targets, _ := v.([]candidate.Candidate)
	return targets, nil
}

// Invalidate drops the cached targets of project.
func (m *MetadataService) Invalidate(ctx context.Context, project string) error {
	if m.cache == nil {
		return nil
	}
	return m.cache.Delete(ctx, targetsKey(project))
}

func targetsKey(project string) string {
	return "targets." + strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, project)
}

func decodeTargets(data []byte) ([]candidate.Candidate, error) {
	var targets []candidate.Candidate
	if err := json.Unmarshal(data, &targets); err != nil {
		return nil, err
	}
	return targets, nil
}
