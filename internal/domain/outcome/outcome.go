// Package outcome defines the closed sets of compile and fuzz-run results
// that drive the session state machine.
package outcome

// CompileCategory classifies a single compile attempt.
type CompileCategory string

const (
	CompileSuccess     CompileCategory = "success"
	CodeError          CompileCategory = "code_error"
	LinkError          CompileCategory = "link_error"
	IncludeError       CompileCategory = "include_error"
	MissingHeaderError CompileCategory = "missing_header_error"
	FuzzerError        CompileCategory = "fuzzer_error"
	ImageError         CompileCategory = "image_error"
)

// IsCodeError reports whether c is CodeError or one of its refinements.
func (c CompileCategory) IsCodeError() bool {
	switch c {
	case CodeError, LinkError, IncludeError, MissingHeaderError:
		return true
	}
	return false
}

// Compile is the result of one compile attempt, possibly after internal
// candidate retries or include-path remediation.
type Compile struct {
	Category  CompileCategory `json:"category"`
	Raw       string          `json:"raw,omitempty"`
	Extracted string          `json:"extracted,omitempty"`
	Candidate string          `json:"candidate,omitempty"`
	// Exhausted is set when the controller ran out of candidates or
	// remediation attempts and hands the outcome to repair as is.
	Exhausted bool `json:"exhausted,omitempty"`
}

// Diagnostic returns the text handed to the repair stage.
func (c Compile) Diagnostic() string {
	if c.Extracted != "" {
		return c.Extracted
	}
	return c.Raw
}

// FuzzCategory classifies a single fuzz run.
type FuzzCategory string

const (
	NoError               FuzzCategory = "no_error"
	Crash                 FuzzCategory = "crash"
	RunError              FuzzCategory = "run_error"
	ReadLogError          FuzzCategory = "read_log_error"
	ConstantCoverageError FuzzCategory = "constant_coverage_error"
	LackCovError          FuzzCategory = "lack_cov_error"
	NoCall                FuzzCategory = "no_call"
	Fake                  FuzzCategory = "fake"
)

// Placeholders used when a crash log cannot be parsed.
const (
	UnknownCrash      = "Unknown Crash, Unable to extract the error message"
	UnknownStackFrame = "No stack frame could be extracted from the fuzzer log"
)

// Fuzz is the result of one fuzz run. ErrorType and FirstStackFrame are only
// set for Crash.
type Fuzz struct {
	Category        FuzzCategory `json:"category"`
	ErrorType       string       `json:"error_type,omitempty"`
	FirstStackFrame string       `json:"first_stack_frame,omitempty"`
	InitialCov      int          `json:"initial_cov,omitempty"`
	FinalCov        int          `json:"final_cov,omitempty"`
}

// CrashMessage returns "errorType\nfirstStackFrame" with placeholders for
// missing parts.
func (f Fuzz) CrashMessage() string {
	et, fr := f.ErrorType, f.FirstStackFrame
	if et == "" {
		et = UnknownCrash
	}
	if fr == "" {
		fr = UnknownStackFrame
	}
	return et + "\n" + fr
}

var fuzzHints = map[FuzzCategory]string{
	Crash:                 "The harness crashed while fuzzing. Fix the harness so that it does not trigger the crash by misusing the target API.",
	ConstantCoverageError: "The coverage never changes while fuzzing. Make sure the fuzz input actually flows into the target function.",
	LackCovError:          "The fuzzer log reports no coverage information. Make sure the harness builds as a libFuzzer target and exercises the target function.",
	ReadLogError:          "The fuzzer log could not be read. The harness may hang or produce no output; simplify it and make sure it returns for every input.",
	NoCall:                "The harness never calls the target function. Call it from the fuzz entry point with data derived from the fuzz input.",
	Fake:                  "The harness defines its own version of the target function. Remove that definition and call the real function from the project.",
}

// SemanticFailHint is appended when the semantic check rejects a harness.
const SemanticFailHint = "The harness does not correctly drive the target function. Rewrite it so the fuzz input reaches the target function through its public API."

// Hint returns the canned repair sentence for a fuzz category, or "" when the
// category is not routed to repair.
func Hint(c FuzzCategory) string {
	return fuzzHints[c]
}
