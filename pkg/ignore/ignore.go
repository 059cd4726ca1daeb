package ignore

import (
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// Matcher decides whether a listed path is excluded from a sync.
// Patterns use gitignore syntax, including "!" negation.
type Matcher struct {
	ignorer  *gitignore.GitIgnore
	patterns []string
}

// NewMatcher compiles patterns; blank lines and comments are dropped.
// A matcher without patterns excludes nothing.
func NewMatcher(patterns []string) *Matcher {
	var lines []string
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" || strings.HasPrefix(p, "#") {
			continue
		}
		lines = append(lines, p)
	}
	if len(lines) == 0 {
		return &Matcher{}
	}
	return &Matcher{ignorer: gitignore.CompileIgnoreLines(lines...), patterns: lines}
}

// NewMatcherFromFile reads patterns from a gitignore style file and adds
// extra lines.
func NewMatcherFromFile(path string, extra ...string) (*Matcher, error) {
	ignorer, err := gitignore.CompileIgnoreFileAndLines(path, extra...)
	if err != nil {
		return nil, err
	}
	return &Matcher{ignorer: ignorer, patterns: extra}, nil
}

// Matches reports whether path (relative, slash separated, e.g.
// "data/model.bin") is excluded.
func (m *Matcher) Matches(path string) bool {
	if m == nil || m.ignorer == nil {
		return false
	}
	return m.ignorer.MatchesPath(path)
}

// Patterns returns the compiled inline patterns.
func (m *Matcher) Patterns() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.patterns...)
}
