package utils

import (
	"path/filepath"
	"regexp"
)

// PatternMatcher filters scan candidates. Globs match the base name; regular
// expressions match the slash-separated path relative to the scan root.
type PatternMatcher struct {
	includeGlobs []string
	includeRegex []*regexp.Regexp
	excludeGlobs []string
	excludeRegex []*regexp.Regexp
}

func NewPatternMatcher(includePatterns, excludePatterns []string) *PatternMatcher {
	if len(includePatterns) == 0 && len(excludePatterns) == 0 {
		return nil
	}
	return &PatternMatcher{
		includeGlobs: append([]string(nil), includePatterns...),
		includeRegex: compileRegex(includePatterns),
		excludeGlobs: append([]string(nil), excludePatterns...),
		excludeRegex: compileRegex(excludePatterns),
	}
}

// ShouldInclude reports whether a file at rel should be hashed.
func (m *PatternMatcher) ShouldInclude(rel string) bool {
	if m == nil {
		return true
	}
	if (len(m.includeGlobs) > 0 || len(m.includeRegex) > 0) && !m.matches(rel, m.includeGlobs, m.includeRegex) {
		return false
	}
	return !m.Excluded(rel)
}

// Excluded reports whether rel matches an exclude pattern. Used for
// directories, where include patterns do not apply.
func (m *PatternMatcher) Excluded(rel string) bool {
	if m == nil {
		return false
	}
	if len(m.excludeGlobs) == 0 && len(m.excludeRegex) == 0 {
		return false
	}
	return m.matches(rel, m.excludeGlobs, m.excludeRegex)
}

func (m *PatternMatcher) matches(rel string, globs []string, regexes []*regexp.Regexp) bool {
	base := filepath.Base(filepath.FromSlash(rel))
	for _, pattern := range globs {
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
	}
	for _, re := range regexes {
		if re.MatchString(rel) {
			return true
		}
	}
	return false
}

func compileRegex(patterns []string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		if re, err := regexp.Compile(pattern); err == nil {
			compiled = append(compiled, re)
		}
	}
	return compiled
}
