package service

import (
	"bytes"
	"embed"
	"log/slog"
	"strings"
	"text/template"

	"github.com/harnessforge/harnessforge/internal/domain/candidate"
	"github.com/harnessforge/harnessforge/internal/domain/outcome"
	"github.com/harnessforge/harnessforge/internal/domain/session"
	"github.com/harnessforge/harnessforge/internal/domain/target"
)

//go:embed templates/*.tmpl
var promptFS embed.FS

var promptTemplates = template.Must(template.ParseFS(promptFS, "templates/*.tmpl"))

// maxExampleLines bounds driver examples pasted into prompts.
const maxExampleLines = 200

const judgeSystemPrompt = "You review fuzz harnesses. You answer only with the requested JSON."

// compileLeads opens the repair prompt for each compile category routed to Fix.
var compileLeads = map[outcome.CompileCategory]string{
	outcome.CodeError:          "The harness failed to compile:",
	outcome.LinkError:          "Linking failed for every fuzz target that was tried. The harness probably calls functions that are not part of the libraries it is linked with:",
	outcome.IncludeError:       "Some headers could not be found, even after adding the directories they were found in to the include path:",
	outcome.MissingHeaderError: "A header included by the harness fails to compile. It may need other headers or definitions first, in the order the project uses them:",
	outcome.FuzzerError:        "The build failed without a compiler diagnostic. Build output:",
}

// fuzzLeads opens the repair prompt for each fuzz category routed to Fix.
var fuzzLeads = map[outcome.FuzzCategory]string{
	outcome.Crash:                 "The harness compiled, but the fuzzer crashed:",
	outcome.ConstantCoverageError: "The harness compiled and ran, but coverage did not grow.",
	outcome.LackCovError:          "The harness compiled and ran, but the fuzzer reported no coverage.",
	outcome.ReadLogError:          "The harness compiled, but the fuzzer produced no readable output.",
	outcome.NoCall:                "The harness compiled, but the fuzz entry point never reaches the target function.",
	outcome.Fake:                  "The harness compiled, but it defines the target function itself.",
}

type promptData struct {
	Project     string
	Language    target.Language
	Managed     bool
	Signature   string
	Function    string
	EntryPoint  string
	Fuzzer      string
	HarnessPath string
	Harness     string
	Example     string
	Tools       []string

	Lead       string
	Diagnostic string
	Hint       string
}

func newPromptData(task target.Task, c candidate.Candidate) promptData {
	tools := make([]string, 0, 3)
	for _, t := range ToolSpecs() {
		tools = append(tools, t.Name)
	}
	return promptData{
		Project:     task.Project,
		Language:    task.Language,
		Managed:     task.Language.Managed(),
		Signature:   task.Signature,
		Function:    task.Function,
		EntryPoint:  task.Language.EntryPoint(),
		Fuzzer:      c.Fuzzer,
		HarnessPath: c.HarnessPath,
		Tools:       tools,
	}
}

func render(name string, data promptData) string {
	var buf bytes.Buffer
	if err := promptTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		slog.Error("render prompt template", "template", name, "error", err)
		return ""
	}
	return strings.TrimSpace(buf.String())
}

// SystemPrompt renders the system prompt for a task.
func SystemPrompt(task target.Task) string {
	return render("system.tmpl", newPromptData(task, candidate.Candidate{}))
}

// GeneratePrompt renders the first user turn. example is an existing harness
// of the project and may be empty.
func GeneratePrompt(task target.Task, c candidate.Candidate, example string) string {
	d := newPromptData(task, c)
	d.Example = headLines(example, maxExampleLines)
	return render("generate.tmpl", d)
}

// CompileFeedback renders the repair context for a compile outcome.
func CompileFeedback(s *session.Session, out outcome.Compile) string {
	d := newPromptData(s.Task, s.CurrentCandidate())
	d.Lead = compileLeads[out.Category]
	if d.Lead == "" {
		d.Lead = compileLeads[outcome.CodeError]
	}
	d.Diagnostic = strings.TrimSpace(out.Diagnostic())
	return render("fix.tmpl", d)
}

// FuzzFeedback renders the repair context for a fuzz outcome. detail is the
// crash message or hint returned by the evaluator.
func FuzzFeedback(s *session.Session, out outcome.Fuzz, detail string) string {
	d := newPromptData(s.Task, s.CurrentCandidate())
	d.Lead = fuzzLeads[out.Category]
	if out.Category == outcome.Crash {
		d.Diagnostic = detail
		d.Hint = outcome.Hint(outcome.Crash)
	} else {
		d.Hint = detail
	}
	return render("fix.tmpl", d)
}

// SemanticFeedback renders the repair context after a failed semantic check.
func SemanticFeedback(s *session.Session, reason string) string {
	d := newPromptData(s.Task, s.CurrentCandidate())
	d.Lead = "The harness compiled and fuzzed cleanly, but a review rejected it."
	if reason != "" {
		d.Lead += " Reason: " + reason
	}
	d.Hint = outcome.SemanticFailHint
	return render("fix.tmpl", d)
}

// JudgePrompt renders the semantic check question for the session's harness.
func JudgePrompt(s *session.Session) string {
	d := newPromptData(s.Task, s.CurrentCandidate())
	d.Harness = s.Harness
	return render("judge.tmpl", d)
}

func headLines(s string, n int) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	ls := strings.Split(s, "\n")
	if len(ls) > n {
		ls = ls[:n]
	}
	return strings.Join(ls, "\n")
}
