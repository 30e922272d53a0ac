package source

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// Filter holds include/exclude glob patterns applied to document paths
// during extraction. Patterns match against slash-separated paths
// relative to the source root (e.g. "docs/**/*.md", "vendor/**").
//
// Semantics: a path is kept when it matches at least one include pattern
// (or no includes are configured) and matches no exclude pattern.
type Filter struct {
	Include []string
	Exclude []string

	include []glob.Glob
	exclude []glob.Glob
}

// NewFilter compiles the given patterns. Invalid patterns are rejected
// at registration time rather than silently ignored during scans.
func NewFilter(include, exclude []string) (Filter, error) {
	f := Filter{Include: include, Exclude: exclude}

	for _, p := range include {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return Filter{}, fmt.Errorf("invalid include pattern %q: %w", p, err)
		}
		f.include = append(f.include, g)
	}
	for _, p := range exclude {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return Filter{}, fmt.Errorf("invalid exclude pattern %q: %w", p, err)
		}
		f.exclude = append(f.exclude, g)
	}
	return f, nil
}

// MustCompile re-compiles the stored patterns, for filters rebuilt from
// persisted state. Persisted patterns were validated on registration, so
// compilation cannot fail; an invalid pattern here indicates corrupted
// registry state and panics.
func (f *Filter) MustCompile() {
	compiled, err := NewFilter(f.Include, f.Exclude)
	if err != nil {
		panic(err)
	}
	*f = compiled
}

// Match reports whether the given path passes the filter. The path is
// normalized to slash separators before matching.
func (f Filter) Match(path string) bool {
	p := filepath.ToSlash(strings.TrimPrefix(path, "./"))

	for _, g := range f.exclude {
		if g.Match(p) {
			return false
		}
	}
	if len(f.include) == 0 {
		return true
	}
	for _, g := range f.include {
		if g.Match(p) {
			return true
		}
	}
	return false
}

// Empty reports whether the filter has no patterns.
func (f Filter) Empty() bool {
	return len(f.Include) == 0 && len(f.Exclude) == 0
}
