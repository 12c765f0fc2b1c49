package http

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/harnessforge/harnessforge/internal/domain"
	"github.com/harnessforge/harnessforge/internal/domain/session"
	"github.com/harnessforge/harnessforge/internal/port/messagequeue"
	"github.com/harnessforge/harnessforge/internal/port/progress"
	"github.com/harnessforge/harnessforge/internal/service"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// Handlers holds the services the status API reads from. Queue may be nil.
type Handlers struct {
	Sessions *service.Registry
	Progress progress.Store
	Queue    messagequeue.Queue
	Version  string
}

type healthResponse struct {
	Status         string `json:"status"`
	Version        string `json:"version,omitempty"`
	ActiveSessions int    `json:"active_sessions"`
	NATS           string `json:"nats"`
}

// Health reports liveness and the state of the event queue.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok", Version: h.Version, ActiveSessions: h.Sessions.Active(), NATS: "disabled"}
	if h.Queue != nil {
		resp.NATS = "connected"
		if !h.Queue.IsConnected() {
			resp.NATS = "disconnected"
			resp.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListSessions handles GET /api/v1/sessions. Optional filters: project,
// status and limit.
func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, defaultListLimit, maxListLimit)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	project, status := r.URL.Query().Get("project"), r.URL.Query().Get("status")

	out := make([]session.Snapshot, 0)
	for _, s := range h.Sessions.List() {
		if project != "" && s.Project != project {
			continue
		}
		if status != "" && string(s.Result.Status) != status {
			continue
		}
		out = append(out, s)
		if len(out) == limit {
			break
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// GetSession handles GET /api/v1/sessions/{id}.
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s, ok := h.Sessions.Get(id)
	if !ok {
		writeDomainError(w, fmt.Errorf("session %s: %w", id, domain.ErrNotFound), "session not found")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// ListRecords handles GET /api/v1/records, the persisted session outcomes.
// Harness sources are omitted unless harness=true.
func (h *Handlers) ListRecords(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, defaultListLimit, maxListLimit)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	recs, err := h.Progress.Records(r.Context())
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	q := r.URL.Query()
	project, status, withHarness := q.Get("project"), q.Get("status"), q.Get("harness") == "true"

	out := make([]progress.Record, 0, min(len(recs), limit))
	for _, rec := range recs {
		if project != "" && rec.Project != project {
			continue
		}
		if status != "" && rec.Status != status {
			continue
		}
		if !withHarness {
			rec.Harness = ""
		}
		out = append(out, rec)
		if len(out) == limit {
			break
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type summaryResponse struct {
	Active   int            `json:"active"`
	Records  int            `json:"records"`
	Solved   int            `json:"solved"`
	ByStatus map[string]int `json:"by_status"`
}

// Summary handles GET /api/v1/summary: record counts by status and the
// number of distinct solved signatures.
func (h *Handlers) Summary(w http.ResponseWriter, r *http.Request) {
	recs, err := h.Progress.Records(r.Context())
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	resp := summaryResponse{Active: h.Sessions.Active(), Records: len(recs), ByStatus: make(map[string]int)}
	solved := make(map[string]bool)
	for _, rec := range recs {
		resp.ByStatus[rec.Status]++
		if rec.Status == string(session.StatusSuccess) {
			solved[rec.Key] = true
		}
	}
	resp.Solved = len(solved)
	writeJSON(w, http.StatusOK, resp)
}
