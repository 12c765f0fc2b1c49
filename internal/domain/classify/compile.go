package classify

import (
	"path/filepath"
	"strings"

	"github.com/harnessforge/harnessforge/internal/domain/outcome"
)

// HeaderLookup returns the headers that declare symbol, or nil when unknown.
type HeaderLookup func(symbol string) []string

// CompileInput is everything the compile classifier looks at.
type CompileInput struct {
	BinaryExists bool
	ImageFailed  bool
	Output       string
	HarnessPath  string
	Harness      string
	HeadersFor   HeaderLookup
}

// Compile classifies one compile attempt. It is total: every input maps to
// exactly one category.
func Compile(in CompileInput) outcome.Compile {
	out := outcome.Compile{Raw: in.Output}
	switch {
	case in.BinaryExists:
		out.Category = outcome.CompileSuccess
		return out
	case in.ImageFailed:
		out.Category = outcome.ImageError
		return out
	}

	lines := strings.Split(in.Output, "\n")
	diag := ExtractDiagnostics(lines)
	if len(diag) == 0 {
		out.Category = outcome.FuzzerError
		return out
	}
	out.Extracted = strings.Join(diag, "\n")

	switch {
	case isLinkError(lines, in):
		out.Category = outcome.LinkError
	case len(MissingHeaders(in.Output)) > 0:
		out.Category = outcome.IncludeError
	case headerDiagnostic.MatchString(in.Output):
		out.Category = outcome.MissingHeaderError
	default:
		out.Category = outcome.CodeError
	}
	return out
}

// ExtractDiagnostics returns the diagnostic lines of a build log with
// contextLines of context on each side. Overlapping windows are merged,
// repeated lines are kept once and overlong driver invocations are dropped.
func ExtractDiagnostics(lines []string) []string {
	keep := make([]bool, len(lines))
	found := false
	for i, l := range lines {
		if !isDiagnostic(l) {
			continue
		}
		found = true
		lo, hi := max(i-contextLines, 0), min(i+contextLines, len(lines)-1)
		for j := lo; j <= hi; j++ {
			keep[j] = true
		}
	}
	if !found {
		return nil
	}

	seen := make(map[string]bool)
	var out []string
	for i, l := range lines {
		if !keep[i] {
			continue
		}
		l = strings.TrimRight(l, "\r")
		if strings.TrimSpace(l) == "" || seen[l] {
			continue
		}
		if len(l) > maxDriverLine && driverLine.MatchString(l) {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}

// MissingHeaders returns the header names reported as not found, in order of
// first appearance.
func MissingHeaders(output string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range includeNotFound.FindAllStringSubmatch(output, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

func isDiagnostic(line string) bool {
	for _, m := range diagnosticMarkers {
		if strings.Contains(line, m) {
			return true
		}
	}
	return false
}

// isLinkError applies the "wrong candidate" rule: a linker diagnostic that
// names a source other than the harness, or names the harness while the
// symbol's headers are missing from it.
func isLinkError(lines []string, in CompileInput) bool {
	harness := stem(in.HarnessPath)
	for i, l := range lines {
		if !linkerMarker.MatchString(l) {
			continue
		}
		file := referencedSource(lines, i)
		if file == "" {
			continue
		}
		if harness == "" || stem(file) != harness {
			return true
		}
		sym := linkedSymbol(l)
		if sym == "" || in.HeadersFor == nil {
			continue
		}
		if missingFromHarness(in.HeadersFor(sym), in.Harness) {
			return true
		}
	}
	return false
}

// referencedSource finds the file a linker diagnostic at index i names,
// either on the same line or in an lld "referenced by" continuation.
func referencedSource(lines []string, i int) string {
	line := lines[i]
	if m := sourceRef.FindStringSubmatch(line); m != nil {
		return m[1]
	}
	for j := i + 1; j < len(lines) && j <= i+3; j++ {
		if m := lldReferencedBy.FindStringSubmatch(lines[j]); m != nil {
			return strings.SplitN(m[1], ":", 2)[0]
		}
	}
	return ""
}

func linkedSymbol(line string) string {
	for _, re := range linkSymbol {
		if m := re.FindStringSubmatch(line); m != nil {
			return m[1]
		}
	}
	return ""
}

// missingFromHarness reports whether the harness includes none of the
// headers declaring the symbol. An empty header list never counts as missing.
func missingFromHarness(headers []string, harness string) bool {
	if len(headers) == 0 {
		return false
	}
	included := make(map[string]bool)
	for _, m := range includeDirective.FindAllStringSubmatch(harness, -1) {
		included[filepath.Base(m[1])] = true
	}
	for _, h := range headers {
		if included[filepath.Base(h)] {
			return false
		}
	}
	return true
}

func stem(path string) string {
	base := filepath.Base(path)
	if base == "." || base == "/" {
		return ""
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}
