package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	cfhttp "github.com/harnessforge/harnessforge/internal/adapter/http"
	"github.com/harnessforge/harnessforge/internal/config"
	"github.com/harnessforge/harnessforge/internal/domain/candidate"
	"github.com/harnessforge/harnessforge/internal/domain/session"
	"github.com/harnessforge/harnessforge/internal/domain/target"
	"github.com/harnessforge/harnessforge/internal/port/messagequeue"
	"github.com/harnessforge/harnessforge/internal/port/progress"
	"github.com/harnessforge/harnessforge/internal/service"
)

type stubStore struct {
	records []progress.Record
	err     error
}

func (s *stubStore) LastIteration(context.Context, string, string) (int, error) { return -1, nil }
func (s *stubStore) Solved(context.Context, string) (bool, error)               { return false, nil }
func (s *stubStore) Complete(context.Context, progress.Record) error            { return nil }
func (s *stubStore) Records(context.Context) ([]progress.Record, error)         { return s.records, s.err }
func (s *stubStore) Close() error                                               { return nil }

type stubQueue struct{ connected bool }

func (q *stubQueue) Publish(context.Context, string, []byte) error { return nil }
func (q *stubQueue) Subscribe(context.Context, string, messagequeue.Handler) (func(), error) {
	return func() {}, nil
}
func (q *stubQueue) Drain() error      { return nil }
func (q *stubQueue) Close() error      { return nil }
func (q *stubQueue) IsConnected() bool { return q.connected }

func newSession(t *testing.T, id, project string, finish *session.Result) *session.Session {
	t.Helper()
	set, err := candidate.NewSet([]candidate.Candidate{{Fuzzer: "fuzz_a", HarnessPath: "/src/fuzz_a.c"}})
	if err != nil {
		t.Fatal(err)
	}
	task := target.Task{Project: project, Language: target.LanguageC, Function: "foo", Signature: "int foo(void)", Key: "c:int foo(void)"}
	s := session.New(id, task, 0, session.Budgets{MaxFix: 5}, set)
	if finish != nil {
		s.Finish(*finish)
	}
	return s
}

func newServer(t *testing.T, store *stubStore, queue messagequeue.Queue) (*httptest.Server, *service.Registry) {
	t.Helper()
	reg := service.NewRegistry(0)
	h := &cfhttp.Handlers{Sessions: reg, Progress: store, Queue: queue, Version: "test"}
	srv := httptest.NewServer(cfhttp.NewRouter(h, nil, config.Server{}, "harnessforge-test"))
	t.Cleanup(srv.Close)
	return srv, reg
}

func getJSON(t *testing.T, url string, into any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if into != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
			t.Fatal(err)
		}
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		queue      messagequeue.Queue
		wantStatus string
		wantNATS   string
	}{
		{"no queue", nil, "ok", "disabled"},
		{"connected", &stubQueue{connected: true}, "ok", "connected"},
		{"disconnected", &stubQueue{}, "degraded", "disconnected"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, reg := newServer(t, &stubStore{}, tt.queue)
			reg.Update(newSession(t, "s1", "zlib", nil))

			var body struct {
				Status         string `json:"status"`
				ActiveSessions int    `json:"active_sessions"`
				NATS           string `json:"nats"`
			}
			if code := getJSON(t, srv.URL+"/health", &body); code != http.StatusOK {
				t.Fatalf("status code %d", code)
			}
			if body.Status != tt.wantStatus || body.NATS != tt.wantNATS || body.ActiveSessions != 1 {
				t.Fatalf("health = %+v", body)
			}
		})
	}
}

func TestSessions(t *testing.T) {
	srv, reg := newServer(t, &stubStore{}, nil)
	success := session.Success()
	reg.Update(newSession(t, "s1", "zlib", nil))
	time.Sleep(time.Millisecond)
	reg.Update(newSession(t, "s2", "libpng", &success))

	var all []session.Snapshot
	if code := getJSON(t, srv.URL+"/api/v1/sessions", &all); code != http.StatusOK || len(all) != 2 {
		t.Fatalf("list = %d, %d sessions", code, len(all))
	}
	if all[0].ID != "s2" {
		t.Fatalf("expected newest first, got %s", all[0].ID)
	}

	var filtered []session.Snapshot
	getJSON(t, srv.URL+"/api/v1/sessions?project=zlib", &filtered)
	if len(filtered) != 1 || filtered[0].ID != "s1" {
		t.Fatalf("project filter = %+v", filtered)
	}
	getJSON(t, srv.URL+"/api/v1/sessions?status=success", &filtered)
	if len(filtered) != 1 || filtered[0].ID != "s2" {
		t.Fatalf("status filter = %+v", filtered)
	}

	var one session.Snapshot
	if code := getJSON(t, srv.URL+"/api/v1/sessions/s1", &one); code != http.StatusOK || one.Candidate != "fuzz_a" {
		t.Fatalf("get = %d, %+v", code, one)
	}
	if code := getJSON(t, srv.URL+"/api/v1/sessions/missing", nil); code != http.StatusNotFound {
		t.Fatalf("missing session = %d", code)
	}
	if code := getJSON(t, srv.URL+"/api/v1/sessions?limit=zero", nil); code != http.StatusBadRequest {
		t.Fatalf("bad limit = %d", code)
	}
}

func TestRecordsAndSummary(t *testing.T) {
	store := &stubStore{records: []progress.Record{
		{Project: "zlib", Key: "k1", Status: "success", Harness: "int x;"},
		{Project: "zlib", Key: "k1", Status: "success", Harness: "int y;"},
		{Project: "libpng", Key: "k2", Status: "budget_exceeded"},
		{Project: "libpng", Key: "k3", Status: "failed"},
	}}
	srv, _ := newServer(t, store, nil)

	var recs []progress.Record
	getJSON(t, srv.URL+"/api/v1/records?project=zlib&limit=1", &recs)
	if len(recs) != 1 || recs[0].Harness != "" {
		t.Fatalf("records = %+v", recs)
	}
	getJSON(t, srv.URL+"/api/v1/records?status=success&harness=true", &recs)
	if len(recs) != 2 || recs[0].Harness != "int x;" {
		t.Fatalf("records with harness = %+v", recs)
	}

	var sum struct {
		Records  int            `json:"records"`
		Solved   int            `json:"solved"`
		ByStatus map[string]int `json:"by_status"`
	}
	getJSON(t, srv.URL+"/api/v1/summary", &sum)
	if sum.Records != 4 || sum.Solved != 1 || sum.ByStatus["success"] != 2 || sum.ByStatus["failed"] != 1 {
		t.Fatalf("summary = %+v", sum)
	}
}

func TestRecordsStoreError(t *testing.T) {
	srv, _ := newServer(t, &stubStore{err: errors.New("disk full")}, nil)
	if code := getJSON(t, srv.URL+"/api/v1/records", nil); code != http.StatusInternalServerError {
		t.Fatalf("status code %d", code)
	}
}
