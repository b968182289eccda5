// Package pathglob matches slash-separated document paths against glob
// patterns.
//
// Syntax:
//   - "*" matches within one path segment, "?" matches one character
//   - "**/" matches zero or more directories; a trailing "/**" matches
//     everything below a directory
//   - "[abc]" character classes, "\" escapes
//
// A pattern without a slash matches the base name at any depth, so "*.md"
// matches "docs/guide/app.md". Patterns with a slash are anchored at the
// root.
//
// Usage:
//
//	s, err := pathglob.NewSet([]string{"docs/**/*.md"}, []string{"docs/blog/**"})
//	if s.Match("docs/guide/app.md") {
//	    // included
//	}
package pathglob

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

// Pattern is a compiled glob.
type Pattern struct {
	raw      string
	re       *regexp.Regexp
	basename bool
}

// Compile parses a glob pattern.
func Compile(pattern string) (*Pattern, error) {
	p := strings.TrimPrefix(strings.TrimSpace(pattern), "/")
	if p == "" {
		return nil, fmt.Errorf("empty glob pattern")
	}
	re, err := regexp.Compile("^" + patternToRegex(p) + "$")
	if err != nil {
		return nil, fmt.Errorf("invalid glob %q: %w", pattern, err)
	}
	return &Pattern{raw: pattern, re: re, basename: !strings.Contains(p, "/")}, nil
}

// MustCompile is Compile that panics on error.
func MustCompile(pattern string) *Pattern {
	p, err := Compile(pattern)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the source pattern.
func (p *Pattern) String() string {
	return p.raw
}

// Match reports whether the slash-separated path matches.
func (p *Pattern) Match(docPath string) bool {
	docPath = strings.TrimPrefix(docPath, "/")
	if p.re.MatchString(docPath) {
		return true
	}
	return p.basename && p.re.MatchString(path.Base(docPath))
}

// Match compiles pattern and matches it once. An invalid pattern matches
// nothing.
func Match(pattern, docPath string) bool {
	p, err := Compile(pattern)
	if err != nil {
		return false
	}
	return p.Match(docPath)
}

// patternToRegex converts a glob pattern to a regex string.
func patternToRegex(pattern string) string {
	var result strings.Builder

	i := 0
	for i < len(pattern) {
		c := pattern[i]

		switch c {
		case '*':
			if i+1 < len(pattern) && pattern[i+1] == '*' {
				if i+2 < len(pattern) && pattern[i+2] == '/' {
					result.WriteString("(?:.*/)?")
					i += 3
					continue
				} else if i == 0 || pattern[i-1] == '/' {
					result.WriteString(".*")
					i += 2
					continue
				}
			}
			result.WriteString("[^/]*")
			i++

		case '?':
			result.WriteString("[^/]")
			i++

		case '[':
			j := i + 1
			for j < len(pattern) && pattern[j] != ']' {
				j++
			}
			if j < len(pattern) {
				class := pattern[i+1 : j]
				if strings.HasPrefix(class, "!") {
					class = "^" + class[1:]
				}
				result.WriteString("[" + class + "]")
				i = j + 1
			} else {
				result.WriteString(regexp.QuoteMeta(string(c)))
				i++
			}

		case '\\':
			if i+1 < len(pattern) {
				result.WriteString(regexp.QuoteMeta(string(pattern[i+1])))
				i += 2
			} else {
				result.WriteString(regexp.QuoteMeta(string(c)))
				i++
			}

		default:
			result.WriteString(regexp.QuoteMeta(string(c)))
			i++
		}
	}

	return result.String()
}

// Set is an include/exclude pair. A path matches when it matches some
// include pattern (or there are none) and no exclude pattern.
type Set struct {
	include []*Pattern
	exclude []*Pattern
}

// NewSet compiles include and exclude patterns.
func NewSet(include, exclude []string) (*Set, error) {
	s := &Set{}
	for _, p := range include {
		c, err := Compile(p)
		if err != nil {
			return nil, err
		}
		s.include = append(s.include, c)
	}
	for _, p := range exclude {
		c, err := Compile(p)
		if err != nil {
			return nil, err
		}
		s.exclude = append(s.exclude, c)
	}
	return s, nil
}

// Match reports whether docPath is selected by the set.
func (s *Set) Match(docPath string) bool {
	for _, p := range s.exclude {
		if p.Match(docPath) {
			return false
		}
	}
	if len(s.include) == 0 {
		return true
	}
	for _, p := range s.include {
		if p.Match(docPath) {
			return true
		}
	}
	return false
}
