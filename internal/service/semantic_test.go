package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/harnessforge/harnessforge/internal/service"
)

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name     string
		answer   string
		wantPass bool
		reason   string
		wantErr  bool
	}{
		{"json pass", `{"verdict": "PASS", "reason": "calls foo with the input"}`, true, "calls foo with the input", false},
		{"json fail", `{"verdict": "FAIL", "reason": "ignores data"}`, false, "ignores data", false},
		{"json in prose", "Here is my review:\n```json\n{\"verdict\": \"fail\", \"reason\": \"constant input\"}\n```", false, "constant input", false},
		{"bare pass", "PASS. The harness looks fine.", true, "", false},
		{"bare fail", "FAIL: the size argument is hard-coded", false, "FAIL: the size argument is hard-coded", false},
		{"first word wins", "pass, although FAIL would be arguable", true, "", false},
		{"no verdict", "I am not sure.", false, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := service.ParseVerdict(tt.answer)
			if tt.wantErr {
				if !errors.Is(err, service.ErrNoVerdict) {
					t.Fatalf("expected ErrNoVerdict, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if v.Pass != tt.wantPass || v.Reason != tt.reason {
				t.Fatalf("verdict = %+v", v)
			}
		})
	}
}

func TestSemanticCheckerDisabledPasses(t *testing.T) {
	judge := &fakeJudge{answers: []string{"FAIL"}}
	for _, c := range []*service.SemanticChecker{
		service.NewSemanticChecker(judge, false),
		service.NewSemanticChecker(nil, true),
	} {
		if c.Enabled() {
			t.Fatal("checker should be disabled")
		}
		v, err := c.Check(context.Background(), newTestSession(5, "fuzz_a"))
		if err != nil || !v.Pass {
			t.Fatalf("verdict = %+v, %v", v, err)
		}
	}
	if judge.n != 0 {
		t.Fatalf("judge consulted %d times", judge.n)
	}
}

func TestSemanticCheckerWrapsJudgeError(t *testing.T) {
	boom := errors.New("rate limited")
	c := service.NewSemanticChecker(&fakeJudge{err: boom}, true)
	if _, err := c.Check(context.Background(), newTestSession(5, "fuzz_a")); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped judge error, got %v", err)
	}
}
