package classify

import "strings"

// definition is a function definition found in harness source.
type definition struct {
	name      string
	bodyStart int
	bodyEnd   int
}

// IsFake reports whether the harness defines a function named fn itself
// instead of calling the project's implementation.
func IsFake(src, fn string) bool {
	if fn == "" {
		return false
	}
	for _, d := range definitions(stripCode(src)) {
		if d.name == fn {
			return true
		}
	}
	return false
}

// Reachable reports whether fn is referenced from entry, directly or through
// functions defined in the harness. A harness without entry reaches nothing.
func Reachable(src, fn, entry string) bool {
	code := stripCode(src)
	defs := definitions(code)
	bodies := make(map[string][]definition)
	for _, d := range defs {
		bodies[d.name] = append(bodies[d.name], d)
	}
	if _, ok := bodies[entry]; !ok {
		return false
	}

	visited := map[string]bool{entry: true}
	queue := []string{entry}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		for _, d := range bodies[name] {
			for _, tok := range identifiers(code[d.bodyStart:d.bodyEnd]) {
				if tok == fn {
					return true
				}
				if _, local := bodies[tok]; local && !visited[tok] {
					visited[tok] = true
					queue = append(queue, tok)
				}
			}
		}
	}
	return false
}

// stripCode blanks comments and string or character literals, keeping
// offsets and newlines intact.
func stripCode(src string) string {
	b := []byte(src)
	for i := 0; i < len(b); i++ {
		switch {
		case b[i] == '/' && i+1 < len(b) && b[i+1] == '/':
			for i < len(b) && b[i] != '\n' {
				b[i] = ' '
				i++
			}
		case b[i] == '/' && i+1 < len(b) && b[i+1] == '*':
			b[i], b[i+1] = ' ', ' '
			i += 2
			for i < len(b) && !(b[i] == '*' && i+1 < len(b) && b[i+1] == '/') {
				if b[i] != '\n' {
					b[i] = ' '
				}
				i++
			}
			if i < len(b) {
				b[i] = ' '
				if i+1 < len(b) {
					i++
					b[i] = ' '
				}
			}
		case b[i] == '"' || b[i] == '\'':
			q := b[i]
			b[i] = ' '
			i++
			for i < len(b) && b[i] != q && b[i] != '\n' {
				if b[i] == '\\' && i+1 < len(b) {
					b[i] = ' '
					i++
				}
				b[i] = ' '
				i++
			}
			if i < len(b) && b[i] == q {
				b[i] = ' '
			}
		}
	}
	return string(b)
}

// definitions scans for "name(...) trailers {" and returns each match with
// its body range. Keywords, member accesses and "new T() {" are skipped.
func definitions(code string) []definition {
	var out []definition
	prevWord := ""
	for i := 0; i < len(code); {
		if !isIdentStart(code[i]) {
			i++
			continue
		}
		start := i
		for i < len(code) && isIdentChar(code[i]) {
			i++
		}
		name := code[start:i]
		word := prevWord
		prevWord = name

		if cKeywords[name] || word == "new" || memberAccess(code, start) {
			continue
		}
		p := skipSpace(code, i)
		if p >= len(code) || code[p] != '(' {
			continue
		}
		closeParen := matching(code, p, '(', ')')
		if closeParen < 0 {
			continue
		}
		q := skipTrailers(code, closeParen+1)
		if q >= len(code) || code[q] != '{' {
			continue
		}
		end := matching(code, q, '{', '}')
		if end < 0 {
			end = len(code) - 1
		}
		out = append(out, definition{name: name, bodyStart: q + 1, bodyEnd: end})
	}
	return out
}

// memberAccess reports whether the identifier at start follows "." or "->".
func memberAccess(code string, start int) bool {
	j := start - 1
	for j >= 0 && (code[j] == ' ' || code[j] == '\t' || code[j] == '\n' || code[j] == '\r') {
		j--
	}
	if j < 0 {
		return false
	}
	return code[j] == '.' || (code[j] == '>' && j > 0 && code[j-1] == '-')
}

func skipTrailers(code string, i int) int {
	throws := false
	for {
		i = skipSpace(code, i)
		if i >= len(code) {
			return i
		}
		if throws && (code[i] == ',' || code[i] == '.') {
			i++
			continue
		}
		if !isIdentStart(code[i]) {
			return i
		}
		j := i
		for j < len(code) && isIdentChar(code[j]) {
			j++
		}
		word := code[i:j]
		if !trailers[word] && !throws {
			return i
		}
		if word == "throws" {
			throws = true
		}
		i = j
	}
}

// matching returns the index of the bracket closing the one at open, or -1.
func matching(code string, open int, l, r byte) int {
	depth := 0
	for i := open; i < len(code); i++ {
		switch code[i] {
		case l:
			depth++
		case r:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func identifiers(code string) []string {
	return strings.FieldsFunc(code, func(r rune) bool {
		return r > 0x7f || !isIdentChar(byte(r))
	})
}

func skipSpace(code string, i int) int {
	for i < len(code) && (code[i] == ' ' || code[i] == '\t' || code[i] == '\n' || code[i] == '\r') {
		i++
	}
	return i
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
