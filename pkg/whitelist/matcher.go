package whitelist

import "strings"

type matchKind uint8

const (
	matchExact matchKind = iota
	matchPrefix
	matchAny
)

// Matcher is a compiled member-name pattern: "*" matches anything, a trailing
// "*" matches by prefix, anything else matches exactly.
type Matcher struct {
	kind     matchKind
	value    string
	foldCase bool
}

// Compile builds a Matcher for pattern. With foldCase the comparison ignores
// ASCII case.
func Compile(pattern string, foldCase bool) Matcher {
	if foldCase {
		pattern = strings.ToLower(pattern)
	}
	switch {
	case pattern == "*":
		return Matcher{kind: matchAny, foldCase: foldCase}
	case strings.HasSuffix(pattern, "*"):
		return Matcher{kind: matchPrefix, value: strings.TrimSuffix(pattern, "*"), foldCase: foldCase}
	default:
		return Matcher{kind: matchExact, value: pattern, foldCase: foldCase}
	}
}

// Match reports whether name satisfies the pattern.
func (m Matcher) Match(name string) bool {
	if m.foldCase {
		name = strings.ToLower(name)
	}
	switch m.kind {
	case matchAny:
		return true
	case matchPrefix:
		return strings.HasPrefix(name, m.value)
	default:
		return name == m.value
	}
}

// String returns the source pattern (lowercased when case folding).
func (m Matcher) String() string {
	switch m.kind {
	case matchAny:
		return "*"
	case matchPrefix:
		return m.value + "*"
	default:
		return m.value
	}
}

func compileAll(patterns []string, foldCase bool) []Matcher {
	out := make([]Matcher, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, Compile(p, foldCase))
	}
	return out
}

func matchAnyOf(matchers []Matcher, name string) bool {
	for _, m := range matchers {
		if m.Match(name) {
			return true
		}
	}
	return false
}
