// Package filestate implements the progress store as one JSON file, written
// atomically on every change.
package filestate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/harnessforge/harnessforge/internal/port/progress"
)

const fileName = "progress.json"

type state struct {
	Records []progress.Record `json:"records"`
	Solved  map[string]string `json:"solved"` // signature key -> session id
}

// Store keeps progress in <dir>/progress.json. It is safe for concurrent use
// within one process.
type Store struct {
	path string

	mu    sync.Mutex
	state state
	seen  map[string]bool // session ids already recorded
}

var _ progress.Store = (*Store)(nil)

// Open loads dir/progress.json, creating dir if needed.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	s := &Store{
		path:  filepath.Join(dir, fileName),
		state: state{Solved: make(map[string]string)},
		seen:  make(map[string]bool),
	}

	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read state: %w", err)
	}
	if err := json.Unmarshal(data, &s.state); err != nil {
		return nil, fmt.Errorf("parse state %s: %w", s.path, err)
	}
	if s.state.Solved == nil {
		s.state.Solved = make(map[string]string)
	}
	for _, r := range s.state.Records {
		s.seen[r.SessionID] = true
	}
	return s, nil
}

func (s *Store) LastIteration(_ context.Context, project, key string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	last := -1
	for _, r := range s.state.Records {
		if r.Project == project && r.Key == key && r.Iteration > last {
			last = r.Iteration
		}
	}
	return last, nil
}

func (s *Store) Solved(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.state.Solved[key]
	return ok, nil
}

func (s *Store) Complete(_ context.Context, rec progress.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen[rec.SessionID] {
		return nil
	}

	next := state{
		Records: append(append([]progress.Record(nil), s.state.Records...), rec),
		Solved:  make(map[string]string, len(s.state.Solved)+1),
	}
	for k, v := range s.state.Solved {
		next.Solved[k] = v
	}
	if _, ok := next.Solved[rec.Key]; !ok && rec.Status == "success" {
		next.Solved[rec.Key] = rec.SessionID
	}

	if err := s.save(next); err != nil {
		return err
	}
	s.state = next
	s.seen[rec.SessionID] = true
	return nil
}

func (s *Store) Records(_ context.Context) ([]progress.Record, error) {
	s.mu.Lock()
	out := append([]progress.Record(nil), s.state.Records...)
	s.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].FinishedAt.After(out[j].FinishedAt) })
	return out, nil
}

func (s *Store) Close() error { return nil }

// save writes st to a temp file in the same directory and renames it over
// the state file.
func (s *Store) save(st state) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmpFile, err := os.CreateTemp(dir, "progress-*.json.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
