package scraper

import (
	"github.com/bmatcuk/doublestar/v4"
)

// LinkFilter selects article URLs by their path using doublestar globs.
type LinkFilter struct {
	includes []string
	excludes []string
}

func NewLinkFilter(includes, excludes []string) *LinkFilter {
	if len(includes) == 0 {
		includes = []string{"/**"}
	}
	return &LinkFilter{
		includes: includes,
		excludes: excludes,
	}
}

// Allow reports whether path matches an include pattern and no exclude pattern.
func (f *LinkFilter) Allow(path string) bool {
	return f.shouldInclude(path) && !f.shouldExclude(path)
}

func (f *LinkFilter) shouldInclude(path string) bool {
	for _, pattern := range f.includes {
		matched, err := doublestar.Match(pattern, path)
		if err == nil && matched {
			return true
		}
	}
	return false
}

func (f *LinkFilter) shouldExclude(path string) bool {
	for _, pattern := range f.excludes {
		matched, err := doublestar.Match(pattern, path)
		if err == nil && matched {
			return true
		}
	}
	return false
}
