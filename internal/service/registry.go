package service

import (
	"slices"
	"sync"

	"github.com/harnessforge/harnessforge/internal/domain/session"
)

// Registry is an in-memory view of the sessions of this process. It keeps
// every running session and the most recent finished ones.
type Registry struct {
	mu          sync.RWMutex
	sessions    map[string]session.Snapshot
	finished    []string // oldest first
	maxFinished int
}

// NewRegistry creates a registry that remembers up to maxFinished finished
// sessions.
func NewRegistry(maxFinished int) *Registry {
	if maxFinished <= 0 {
		maxFinished = 1000
	}
	return &Registry{sessions: make(map[string]session.Snapshot), maxFinished: maxFinished}
}

// Update stores the current state of s.
func (r *Registry) Update(s *session.Session) {
	if r == nil {
		return
	}
	snap := s.Snapshot()
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, known := r.sessions[snap.ID]
	r.sessions[snap.ID] = snap
	if snap.FinishedAt == nil || (known && prev.FinishedAt != nil) {
		return
	}
	r.finished = append(r.finished, snap.ID)
	if over := len(r.finished) - r.maxFinished; over > 0 {
		for _, id := range r.finished[:over] {
			delete(r.sessions, id)
		}
		r.finished = slices.Delete(r.finished, 0, over)
	}
}

// Get returns the snapshot of one session.
func (r *Registry) Get(id string) (session.Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// List returns all known sessions, most recently started first.
func (r *Registry) List() []session.Snapshot {
	r.mu.RLock()
	out := make([]session.Snapshot, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b session.Snapshot) int {
		if c := b.StartedAt.Compare(a.StartedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return out
}

// Active returns the number of running sessions.
func (r *Registry) Active() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, s := range r.sessions {
		if s.FinishedAt == nil {
			n++
		}
	}
	return n
}
