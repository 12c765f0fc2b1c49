// Package classify maps raw build output and fuzzer logs onto the closed
// outcome categories. Every function is pure and every table is read-only.
package classify

import "regexp"

const (
	// contextLines is the window kept around each diagnostic line.
	contextLines = 5
	// maxDriverLine is the length above which compiler driver invocations
	// are dropped from extracted diagnostics.
	maxDriverLine = 400
	// maxStackFrames bounds the extracted crash stack.
	maxStackFrames = 10
	// maxErrorType bounds the extracted crash banner.
	maxErrorType = 240
)

var (
	diagnosticMarkers = []string{"error:", "undefined reference to", "multiple definition of"}

	driverLine = regexp.MustCompile(`^\s*(?:\S*/)?(?:clang|clang\+\+|gcc|g\+\+|cc|c\+\+|ld|ld\.lld|javac|jazzer)\s`)

	linkerMarker = regexp.MustCompile(`undefined reference to|multiple definition of|undefined symbol:|DW_FORM_|DWARF error`)

	linkSymbol = []*regexp.Regexp{
		regexp.MustCompile("undefined reference to [`'‘\"]?([A-Za-z_~][\\w:~<>]*)"),
		regexp.MustCompile("multiple definition of [`'‘\"]?([A-Za-z_~][\\w:~<>]*)"),
		regexp.MustCompile(`undefined symbol: ([A-Za-z_~][\w:~<>]*)`),
	}

	// sourceRef matches "file.c:" or "file.c(" naming a source or object file.
	sourceRef = regexp.MustCompile(`([\w./+-]+\.(?:c|cc|cpp|cxx|C|o|java))(?::|\()`)

	// lldReferencedBy matches the lld continuation line naming the caller.
	lldReferencedBy = regexp.MustCompile(`>>>\s+referenced by\s+([\w./+-]+)`)

	includeNotFound = regexp.MustCompile(`['"]?([^\s'"]+\.(?:h|hpp|hxx))['"]?:?\s*(?:file not found|No such file or directory)`)

	headerDiagnostic = regexp.MustCompile(`(?:^|\s)[^\s:]+\.(?:h|hpp|hxx):\d+(?::\d+)?:\s*(?:fatal\s+)?error:`)

	includeDirective = regexp.MustCompile(`(?m)^\s*#\s*include\s*[<"]([^>"]+)[>"]`)
)

var (
	sanitizerPrefix = regexp.MustCompile(`^==\d+==\s*`)

	crashBanners = []*regexp.Regexp{
		regexp.MustCompile(`ERROR: AddressSanitizer`),
		regexp.MustCompile(`ERROR: MemorySanitizer`),
		regexp.MustCompile(`ERROR: LeakSanitizer`),
		regexp.MustCompile(`(?:ERROR|WARNING): ThreadSanitizer`),
		regexp.MustCompile(`ERROR: UndefinedBehaviorSanitizer`),
		regexp.MustCompile(`AddressSanitizer:DEADLYSIGNAL`),
		regexp.MustCompile(`\bruntime error: `),
		regexp.MustCompile(`ERROR: libFuzzer: `),
		regexp.MustCompile(`== Java Exception: `),
		regexp.MustCompile(`FuzzerSecurityIssue\w+`),
	}

	nativeFrame  = regexp.MustCompile(`^\s*#\d+\s+0x[0-9a-fA-F]+`)
	managedFrame = regexp.MustCompile(`^\s*(?:at |Caused by:)`)

	covLine = regexp.MustCompile(`(?:^|\s)(\w+)\s+cov:\s*(\d+)`)
)

var cKeywords = map[string]bool{
	"if": true, "for": true, "while": true, "switch": true, "catch": true,
	"sizeof": true, "return": true, "else": true, "do": true, "synchronized": true,
	"try": true, "defined": true, "__attribute__": true, "alignof": true,
	"decltype": true, "typeof": true, "new": true, "delete": true, "throw": true,
	"case": true, "static_assert": true, "_Static_assert": true,
}

// trailers may appear between a parameter list and a function body.
var trailers = map[string]bool{
	"const": true, "noexcept": true, "override": true, "final": true,
	"volatile": true, "throws": true,
}
