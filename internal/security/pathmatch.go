package security

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// PathMatcher matches request paths against Ant-style patterns:
// "?" matches one character, "*" matches within a segment and "**" matches
// across segments. A trailing "/**" also matches the bare prefix, so
// "/static/**" covers "/static" itself.
type PathMatcher struct {
	patterns []string
	globs    []glob.Glob
}

// NewPathMatcher compiles patterns. Every pattern must start with "/".
func NewPathMatcher(patterns ...string) (*PathMatcher, error) {
	m := &PathMatcher{}
	for _, p := range patterns {
		if !strings.HasPrefix(p, "/") {
			return nil, fmt.Errorf("path pattern %q must start with /", p)
		}
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("compiling path pattern %q: %w", p, err)
		}
		m.patterns = append(m.patterns, p)
		m.globs = append(m.globs, g)

		if prefix, ok := strings.CutSuffix(p, "/**"); ok && prefix != "" {
			g, err := glob.Compile(prefix, '/')
			if err != nil {
				return nil, fmt.Errorf("compiling path pattern %q: %w", prefix, err)
			}
			m.globs = append(m.globs, g)
		}
	}
	return m, nil
}

// MustPathMatcher is NewPathMatcher for patterns known at compile time.
func MustPathMatcher(patterns ...string) *PathMatcher {
	m, err := NewPathMatcher(patterns...)
	if err != nil {
		panic(err)
	}
	return m
}

// Match reports whether path matches any pattern.
func (m *PathMatcher) Match(path string) bool {
	if m == nil {
		return false
	}
	for _, g := range m.globs {
		if g.Match(path) {
			return true
		}
	}
	return false
}

// Patterns returns the source patterns in configuration order.
func (m *PathMatcher) Patterns() []string {
	return append([]string(nil), m.patterns...)
}
