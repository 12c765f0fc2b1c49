package outcome_test

import (
	"strings"
	"testing"

	"github.com/harnessforge/harnessforge/internal/domain/outcome"
)

func TestIsCodeError(t *testing.T) {
	tests := []struct {
		cat  outcome.CompileCategory
		want bool
	}{
		{outcome.CodeError, true},
		{outcome.LinkError, true},
		{outcome.IncludeError, true},
		{outcome.MissingHeaderError, true},
		{outcome.CompileSuccess, false},
		{outcome.FuzzerError, false},
		{outcome.ImageError, false},
	}
	for _, tt := range tests {
		if got := tt.cat.IsCodeError(); got != tt.want {
			t.Errorf("%s.IsCodeError() = %v, want %v", tt.cat, got, tt.want)
		}
	}
}

func TestCrashMessagePlaceholders(t *testing.T) {
	msg := outcome.Fuzz{Category: outcome.Crash}.CrashMessage()
	parts := strings.Split(msg, "\n")
	if len(parts) != 2 {
		t.Fatalf("expected two lines, got %q", msg)
	}
	if parts[0] != outcome.UnknownCrash || parts[1] != outcome.UnknownStackFrame {
		t.Errorf("unexpected placeholders %q", msg)
	}

	msg = outcome.Fuzz{Category: outcome.Crash, ErrorType: "heap-buffer-overflow", FirstStackFrame: "#0 0x1 in f"}.CrashMessage()
	if msg != "heap-buffer-overflow\n#0 0x1 in f" {
		t.Errorf("unexpected message %q", msg)
	}
}

func TestHintsAreDistinct(t *testing.T) {
	repairable := []outcome.FuzzCategory{
		outcome.Crash, outcome.ConstantCoverageError, outcome.LackCovError,
		outcome.ReadLogError, outcome.NoCall, outcome.Fake,
	}
	seen := make(map[string]outcome.FuzzCategory)
	for _, c := range repairable {
		h := outcome.Hint(c)
		if h == "" {
			t.Errorf("missing hint for %s", c)
		}
		if prev, ok := seen[h]; ok {
			t.Errorf("hint for %s duplicates %s", c, prev)
		}
		seen[h] = c
	}
	if outcome.Hint(outcome.NoError) != "" || outcome.Hint(outcome.RunError) != "" {
		t.Error("non-repairable categories must not carry a hint")
	}
	if !strings.Contains(outcome.Hint(outcome.ConstantCoverageError), "coverage never changes") {
		t.Error("constant coverage hint must mention that coverage never changes")
	}
}

func TestDiagnosticPrefersExtracted(t *testing.T) {
	c := outcome.Compile{Raw: "raw", Extracted: "extracted"}
	if c.Diagnostic() != "extracted" {
		t.Errorf("got %q", c.Diagnostic())
	}
	c.Extracted = ""
	if c.Diagnostic() != "raw" {
		t.Errorf("got %q", c.Diagnostic())
	}
}
