// Package candidate models the ordered fuzz targets of a project and the
// resumable cursor used by compile sweeps.
package candidate

import (
	"fmt"
	"slices"
	"strings"

	"github.com/harnessforge/harnessforge/internal/domain"
)

// Candidate is a fuzz target together with the harness source file that
// builds it.
type Candidate struct {
	Fuzzer      string `json:"fuzzer"`
	HarnessPath string `json:"harness_path"`
}

// String implements fmt.Stringer.
func (c Candidate) String() string {
	return c.Fuzzer + " (" + c.HarnessPath + ")"
}

// Set is an ordered collection of candidates with a sweep cursor. A Set is
// owned by one session and is not safe for concurrent use.
type Set struct {
	items []Candidate
	start int
}

// NewSet builds a Set from discovered targets, ordered by fuzzer name.
// Duplicate fuzzer names keep the first harness path.
func NewSet(items []Candidate) (*Set, error) {
	if len(items) == 0 {
		return nil, domain.ErrNoCandidates
	}
	seen := make(map[string]bool, len(items))
	out := make([]Candidate, 0, len(items))
	for _, c := range items {
		if c.Fuzzer == "" || c.HarnessPath == "" {
			return nil, fmt.Errorf("%w: candidate %q has no fuzzer or harness path", domain.ErrValidation, c.Fuzzer)
		}
		if seen[c.Fuzzer] {
			continue
		}
		seen[c.Fuzzer] = true
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b Candidate) int { return strings.Compare(a.Fuzzer, b.Fuzzer) })
	return &Set{items: out}, nil
}

// Len returns the number of candidates.
func (s *Set) Len() int { return len(s.items) }

// StartIndex returns the sweep cursor.
func (s *Set) StartIndex() int { return s.start }

// Current returns the candidate at the cursor.
func (s *Set) Current() Candidate { return s.items[s.start] }

// First returns the first candidate regardless of the cursor.
func (s *Set) First() Candidate { return s.items[0] }

// Items returns a copy of the candidates in order.
func (s *Set) Items() []Candidate { return slices.Clone(s.items) }

// Advance moves the cursor to the next candidate and reports whether one was
// left. When the sweep has passed the last candidate the cursor resets to 0
// and Advance returns false.
func (s *Set) Advance() bool {
	if s.start+1 < len(s.items) {
		s.start++
		return true
	}
	s.start = 0
	return false
}

// Reset moves the cursor back to the first candidate.
func (s *Set) Reset() { s.start = 0 }

// Find returns the index of the candidate with the given fuzzer name.
func (s *Set) Find(fuzzer string) (int, bool) {
	i := slices.IndexFunc(s.items, func(c Candidate) bool { return c.Fuzzer == fuzzer })
	return i, i >= 0
}
