package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/harnessforge/harnessforge/internal/domain/session"
	"github.com/harnessforge/harnessforge/internal/port/codegen"
)

// ErrNoVerdict is returned when the judge answer contains no verdict.
var ErrNoVerdict = errors.New("semantic check: no verdict in judge answer")

// Verdict is the outcome of a semantic check.
type Verdict struct {
	Pass   bool
	Reason string
}

// SemanticChecker asks a judge model whether a harness that fuzzes cleanly
// actually drives the target function. When disabled every harness passes.
type SemanticChecker struct {
	judge   codegen.Judge
	enabled bool
}

// NewSemanticChecker creates a SemanticChecker. A nil judge disables the check.
func NewSemanticChecker(judge codegen.Judge, enabled bool) *SemanticChecker {
	return &SemanticChecker{judge: judge, enabled: enabled && judge != nil}
}

// Enabled reports whether Check consults the judge.
func (c *SemanticChecker) Enabled() bool { return c.enabled }

// Check judges the session's harness.
func (c *SemanticChecker) Check(ctx context.Context, s *session.Session) (Verdict, error) {
	if !c.enabled {
		return Verdict{Pass: true}, nil
	}
	answer, err := c.judge.Judge(ctx, judgeSystemPrompt, JudgePrompt(s))
	if err != nil {
		return Verdict{}, fmt.Errorf("semantic check: %w", err)
	}
	return ParseVerdict(answer)
}

// ParseVerdict reads a {"verdict": "PASS"|"FAIL", "reason": "..."} answer.
// Answers that are not JSON fall back to the first PASS or FAIL word.
func ParseVerdict(answer string) (Verdict, error) {
	if i, j := strings.Index(answer, "{"), strings.LastIndex(answer, "}"); i >= 0 && j > i {
		var v struct {
			Verdict string `json:"verdict"`
			Reason  string `json:"reason"`
		}
		if err := json.Unmarshal([]byte(answer[i:j+1]), &v); err == nil {
			switch strings.ToUpper(strings.TrimSpace(v.Verdict)) {
			case "PASS":
				return Verdict{Pass: true, Reason: v.Reason}, nil
			case "FAIL":
				return Verdict{Pass: false, Reason: v.Reason}, nil
			}
		}
	}
	upper := strings.ToUpper(answer)
	pass, fail := strings.Index(upper, "PASS"), strings.Index(upper, "FAIL")
	switch {
	case pass >= 0 && (fail < 0 || pass < fail):
		return Verdict{Pass: true}, nil
	case fail >= 0:
		return Verdict{Pass: false, Reason: strings.TrimSpace(answer)}, nil
	}
	return Verdict{}, ErrNoVerdict
}
