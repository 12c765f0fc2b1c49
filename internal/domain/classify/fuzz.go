package classify

import (
	"strconv"
	"strings"

	"github.com/harnessforge/harnessforge/internal/domain/outcome"
)

// FuzzLog classifies a captured fuzzer log. An empty log yields ReadLogError
// since there is nothing to classify.
func FuzzLog(log []byte) outcome.Fuzz {
	if len(strings.TrimSpace(string(log))) == 0 {
		return outcome.Fuzz{Category: outcome.ReadLogError}
	}
	lines := strings.Split(string(log), "\n")

	if idx := crashBanner(lines); idx >= 0 {
		return crash(lines, idx)
	}

	initial, final, ok := coverage(lines)
	switch {
	case !ok:
		return outcome.Fuzz{Category: outcome.LackCovError}
	case final <= initial:
		return outcome.Fuzz{Category: outcome.ConstantCoverageError, InitialCov: initial, FinalCov: final}
	default:
		return outcome.Fuzz{Category: outcome.NoError, InitialCov: initial, FinalCov: final}
	}
}

func crashBanner(lines []string) int {
	for i, l := range lines {
		for _, re := range crashBanners {
			if re.MatchString(l) {
				return i
			}
		}
	}
	return -1
}

// crash builds a Crash outcome from the banner at idx and the first
// contiguous stack after it, falling back to placeholders.
func crash(lines []string, idx int) outcome.Fuzz {
	f := outcome.Fuzz{Category: outcome.Crash}

	et := strings.TrimSpace(sanitizerPrefix.ReplaceAllString(strings.TrimSpace(lines[idx]), ""))
	if len(et) > maxErrorType {
		et = et[:maxErrorType]
	}
	if et == "" {
		et = outcome.UnknownCrash
	}
	f.ErrorType = et

	var stack []string
	for _, l := range lines[idx+1:] {
		if isFrame(l) {
			stack = append(stack, strings.TrimSpace(l))
			if len(stack) == maxStackFrames {
				break
			}
			continue
		}
		if len(stack) > 0 {
			break
		}
	}
	if len(stack) == 0 {
		f.FirstStackFrame = outcome.UnknownStackFrame
	} else {
		f.FirstStackFrame = strings.Join(stack, "\n")
	}
	return f
}

func isFrame(line string) bool {
	return nativeFrame.MatchString(line) || managedFrame.MatchString(line)
}

// coverage returns the initial and final coverage counters. The INITED and
// DONE lines are preferred; otherwise the first and last cov lines are used.
func coverage(lines []string) (initial, final int, ok bool) {
	var first, last, inited, done int
	var haveAny, haveInited, haveDone bool
	for _, l := range lines {
		m := covLine.FindStringSubmatch(l)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		if !haveAny {
			first, haveAny = n, true
		}
		last = n
		switch m[1] {
		case "INITED":
			if !haveInited {
				inited, haveInited = n, true
			}
		case "DONE":
			done, haveDone = n, true
		}
	}
	if !haveAny {
		return 0, 0, false
	}
	initial, final = first, last
	if haveInited {
		initial = inited
	}
	if haveDone {
		final = done
	}
	return initial, final, true
}
