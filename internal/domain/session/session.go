// Package session defines the typed state of one harness generation session.
package session

import (
	"slices"
	"time"

	"github.com/harnessforge/harnessforge/internal/domain/candidate"
	"github.com/harnessforge/harnessforge/internal/domain/outcome"
	"github.com/harnessforge/harnessforge/internal/domain/target"
)

// Stage is a state of the session state machine.
type Stage string

const (
	StageGenerate      Stage = "generate"
	StageTool          Stage = "tool"
	StageCompile       Stage = "compile"
	StageFix           Stage = "fix"
	StageRunFuzz       Stage = "run_fuzz"
	StageSemanticCheck Stage = "semantic_check"
	StageTerminate     Stage = "terminate"
)

// Status is the terminal status of a session.
type Status string

const (
	StatusRunning        Status = "running"
	StatusSuccess        Status = "success"
	StatusFailed         Status = "failed"
	StatusBudgetExceeded Status = "budget_exceeded"
)

// Failure reasons.
const (
	ReasonImageError  = "image_error"
	ReasonFuzzerError = "fuzzer_error"
	ReasonRunError    = "run_error"
	ReasonEmptyOutput = "empty_output"
	ReasonLLMError    = "llm_error"
	ReasonSandbox     = "sandbox_error"
)

// Budget names reported by BudgetExceeded results.
const (
	BudgetFix       = "fix"
	BudgetToolCalls = "tool_calls"
)

// Result is the final state of a session.
type Result struct {
	Status Status `json:"status"`
	// Reason names the failure reason or, for BudgetExceeded, the budget.
	Reason     string `json:"reason,omitempty"`
	Diagnostic string `json:"diagnostic,omitempty"`
}

// Success returns a successful result.
func Success() Result { return Result{Status: StatusSuccess} }

// Failed returns a failed result with the given reason and last diagnostic.
func Failed(reason, diagnostic string) Result {
	return Result{Status: StatusFailed, Reason: reason, Diagnostic: diagnostic}
}

// BudgetExceeded returns a result for an exhausted budget.
func BudgetExceeded(which, diagnostic string) Result {
	return Result{Status: StatusBudgetExceeded, Reason: which, Diagnostic: diagnostic}
}

// Budgets holds the per-session counters and their ceilings.
type Budgets struct {
	FixCount      int `json:"fix_count"`
	MaxFix        int `json:"max_fix"`
	ToolCallCount int `json:"tool_call_count"`
	MaxToolCall   int `json:"max_tool_call"`
}

// EnterFix counts one visit of the Fix stage and reports whether the fix
// budget is now exceeded.
func (b *Budgets) EnterFix() bool {
	b.FixCount++
	return b.FixCount > b.MaxFix
}

// AddToolCall counts one tool round and reports whether the tool budget is
// now exceeded.
func (b *Budgets) AddToolCall() bool {
	b.ToolCallCount++
	return b.ToolCallCount > b.MaxToolCall
}

// IncludePaths is an ordered set of include directories that only grows.
type IncludePaths struct {
	dirs []string
}

// Add appends dir and reports whether it was new.
func (p *IncludePaths) Add(dir string) bool {
	if dir == "" || slices.Contains(p.dirs, dir) {
		return false
	}
	p.dirs = append(p.dirs, dir)
	return true
}

// List returns the directories in insertion order.
func (p *IncludePaths) List() []string { return slices.Clone(p.dirs) }

// Len returns the number of directories.
func (p *IncludePaths) Len() int { return len(p.dirs) }

// Transition records one state change.
type Transition struct {
	From Stage     `json:"from"`
	To   Stage     `json:"to"`
	Note string    `json:"note,omitempty"`
	At   time.Time `json:"at"`
}

// Session is one attempt to produce a working harness for one target
// function. It is mutated only by the orchestrator and the stages it runs.
type Session struct {
	ID        string
	Task      target.Task
	Iteration int

	Harness    string
	Budgets    Budgets
	Candidates *candidate.Set
	Includes   IncludePaths

	Stage   Stage
	History []Transition

	LastCompile outcome.Compile
	LastFuzz    outcome.Fuzz
	// Diagnostic is the repair context handed to the next Fix visit.
	Diagnostic string

	Terminal bool
	Result   Result

	StartedAt  time.Time
	FinishedAt time.Time
}

// New creates a session in the Generate stage.
func New(id string, task target.Task, iteration int, budgets Budgets, set *candidate.Set) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:         id,
		Task:       task,
		Iteration:  iteration,
		Budgets:    budgets,
		Candidates: set,
		Stage:      StageGenerate,
		Result:     Result{Status: StatusRunning},
		StartedAt:  now,
	}
}

// Enter moves the session to stage and records the transition.
func (s *Session) Enter(stage Stage, note string) {
	s.History = append(s.History, Transition{From: s.Stage, To: stage, Note: note, At: time.Now().UTC()})
	s.Stage = stage
}

// Finish marks the session terminal with r. Later calls are ignored.
func (s *Session) Finish(r Result) {
	if s.Terminal {
		return
	}
	if r.Diagnostic == "" {
		r.Diagnostic = s.Diagnostic
	}
	s.Enter(StageTerminate, string(r.Status))
	s.Terminal = true
	s.Result = r
	s.FinishedAt = time.Now().UTC()
}

// Stages returns the sequence of visited stages, starting with Generate.
func (s *Session) Stages() []Stage {
	out := make([]Stage, 0, len(s.History)+1)
	out = append(out, StageGenerate)
	for _, t := range s.History {
		out = append(out, t.To)
	}
	return out
}

// CurrentCandidate returns the candidate at the sweep cursor.
func (s *Session) CurrentCandidate() candidate.Candidate {
	return s.Candidates.Current()
}

// Snapshot is a read-only view of a session for status reporting.
type Snapshot struct {
	ID          string                  `json:"id"`
	Project     string                  `json:"project"`
	Function    string                  `json:"function"`
	Signature   string                  `json:"signature"`
	Iteration   int                     `json:"iteration"`
	Stage       Stage                   `json:"stage"`
	Budgets     Budgets                 `json:"budgets"`
	Candidate   string                  `json:"candidate,omitempty"`
	Includes    []string                `json:"includes,omitempty"`
	LastCompile outcome.CompileCategory `json:"last_compile,omitempty"`
	LastFuzz    outcome.FuzzCategory    `json:"last_fuzz,omitempty"`
	Result      Result                  `json:"result"`
	StartedAt   time.Time               `json:"started_at"`
	FinishedAt  *time.Time              `json:"finished_at,omitempty"`
}

// Snapshot copies the reportable state of s.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		ID:          s.ID,
		Project:     s.Task.Project,
		Function:    s.Task.Function,
		Signature:   s.Task.Signature,
		Iteration:   s.Iteration,
		Stage:       s.Stage,
		Budgets:     s.Budgets,
		Includes:    s.Includes.List(),
		LastCompile: s.LastCompile.Category,
		LastFuzz:    s.LastFuzz.Category,
		Result:      s.Result,
		StartedAt:   s.StartedAt,
	}
	if s.Candidates != nil && s.Candidates.Len() > 0 {
		snap.Candidate = s.Candidates.Current().Fuzzer
	}
	if s.Terminal {
		t := s.FinishedAt
		snap.FinishedAt = &t
	}
	return snap
}
