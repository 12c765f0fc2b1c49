package litellm_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/harnessforge/harnessforge/internal/adapter/litellm"
	"github.com/harnessforge/harnessforge/internal/resilience"
)

func chatServer(t *testing.T, handle func(req litellm.ChatRequest) any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		var req litellm.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(handle(req))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func textResponse(content string) map[string]any {
	return map[string]any{
		"id":    "chatcmpl-1",
		"model": "test-model",
		"choices": []map[string]any{
			{"message": map[string]any{"role": "assistant", "content": content}, "finish_reason": "stop"},
		},
		"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5},
	}
}

func TestChatCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected auth: %q", auth)
		}
		var req litellm.ChatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "m" || len(req.Messages) != 1 {
			t.Errorf("unexpected request: %+v", req)
		}
		_ = json.NewEncoder(w).Encode(textResponse("hello"))
	}))
	defer srv.Close()

	client := litellm.NewClient(srv.URL, "test-key", 5*time.Second)
	resp, err := client.ChatCompletion(context.Background(), litellm.ChatRequest{
		Model:    "m",
		Messages: []litellm.ChatMessage{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("ChatCompletion: %v", err)
	}
	if got := resp.Choices[0].Message.Content; got != "hello" {
		t.Fatalf("content = %q", got)
	}
	if resp.Usage.PromptTokens != 10 {
		t.Fatalf("prompt tokens = %d", resp.Usage.PromptTokens)
	}
}

func TestChatCompletionKeySource(t *testing.T) {
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = append(got, r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(textResponse("ok"))
	}))
	defer srv.Close()

	key := "sk-old"
	client := litellm.NewClient(srv.URL, "static", 5*time.Second)
	client.SetKeySource(func() string { return key })
	for _, k := range []string{"sk-old", "sk-new"} {
		key = k
		if _, err := client.ChatCompletion(context.Background(), litellm.ChatRequest{Model: "m"}); err != nil {
			t.Fatal(err)
		}
	}
	if len(got) != 2 || got[0] != "Bearer sk-old" || got[1] != "Bearer sk-new" {
		t.Fatalf("authorization headers = %v", got)
	}
}

func TestChatCompletionNoChoices(t *testing.T) {
	srv := chatServer(t, func(litellm.ChatRequest) any { return map[string]any{"choices": []any{}} })

	client := litellm.NewClient(srv.URL, "", 5*time.Second)
	if _, err := client.ChatCompletion(context.Background(), litellm.ChatRequest{Model: "m"}); err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestChatCompletionServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := litellm.NewClient(srv.URL, "", 5*time.Second)
	_, err := client.ChatCompletion(context.Background(), litellm.ChatRequest{Model: "m"})
	if err == nil || !strings.Contains(err.Error(), "500") {
		t.Fatalf("expected 500 error, got %v", err)
	}
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	client := litellm.NewClient(srv.URL, "", 5*time.Second)
	client.SetBreaker(resilience.NewBreaker("litellm", 2, time.Minute))

	for range 2 {
		_, _ = client.ChatCompletion(context.Background(), litellm.ChatRequest{Model: "m"})
	}
	_, err := client.ChatCompletion(context.Background(), litellm.ChatRequest{Model: "m"})
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("server calls = %d, want 2", calls)
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   bool
	}{
		{"healthy", http.StatusOK, true},
		{"unhealthy", http.StatusServiceUnavailable, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/health/liveliness" {
					t.Errorf("unexpected path: %s", r.URL.Path)
				}
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			ok, _ := litellm.NewClient(srv.URL, "", time.Second).Health(context.Background())
			if ok != tt.want {
				t.Fatalf("Health() = %v, want %v", ok, tt.want)
			}
		})
	}
}
