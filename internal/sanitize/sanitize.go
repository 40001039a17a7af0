// Package sanitize cleans free text that users and identity providers hand
// us before it is stored: display names, social profile names and request
// user agents. The result is plain text. Markup is removed rather than
// escaped; escaping happens at render time.
package sanitize

import (
	"html"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

var (
	policy     *bluemonday.Policy
	policyOnce sync.Once
)

// getPolicy returns the shared strip-everything policy.
func getPolicy() *bluemonday.Policy {
	policyOnce.Do(func() {
		policy = bluemonday.StrictPolicy()
	})
	return policy
}

// Text strips all HTML from input, drops control characters, collapses
// whitespace runs and trims the result.
func Text(input string) string {
	if input == "" {
		return ""
	}
	// StrictPolicy entity-encodes what it keeps; undo that for storage.
	stripped := html.UnescapeString(getPolicy().Sanitize(input))

	var b strings.Builder
	b.Grow(len(stripped))
	space := false
	for _, r := range stripped {
		switch {
		case unicode.IsSpace(r):
			space = true
		case unicode.IsControl(r) || r == utf8.RuneError:
		default:
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Limit truncates s to at most n runes.
func Limit(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
