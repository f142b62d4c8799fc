package retrieval

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/fyrsmithlabs/docpipe/internal/sanitize"
)

// PathFilter restricts candidates by glob. Exclude beats include; an empty
// Include list admits everything not excluded. Matching is anchored to the
// whole path and case-insensitive; "**" spans any number of segments
// (including none) while "*" stays inside one.
type PathFilter struct {
	Include []string `json:"include,omitempty" koanf:"include" mapstructure:"include"`
	Exclude []string `json:"exclude,omitempty" koanf:"exclude" mapstructure:"exclude"`
}

// Empty reports whether the filter admits every path.
func (f PathFilter) Empty() bool {
	return len(f.Include) == 0 && len(f.Exclude) == 0
}

// Validate checks every pattern.
func (f PathFilter) Validate() error {
	for _, group := range [][]string{f.Include, f.Exclude} {
		for _, p := range group {
			if err := sanitize.Glob(p); err != nil {
				return err
			}
			if !doublestar.ValidatePattern(strings.ToLower(p)) {
				return fmt.Errorf("%w: %q", sanitize.ErrInvalidPattern, p)
			}
		}
	}
	return nil
}

// Allows reports whether path passes the filter.
func (f PathFilter) Allows(path string) bool {
	p := normalizePath(path)
	if matchAny(f.Exclude, p) {
		return false
	}
	return len(f.Include) == 0 || matchAny(f.Include, p)
}

func matchAny(patterns []string, path string) bool {
	for _, pattern := range patterns {
		ok, err := doublestar.Match(normalizePath(pattern), path)
		if err == nil && ok {
			return true
		}
	}
	return false
}

// normalizePath lowercases, converts separators, and drops a leading "./"
// or "/".
func normalizePath(p string) string {
	p = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(p), `\`, "/"))
	p = strings.TrimPrefix(p, "./")
	return strings.TrimLeft(p, "/")
}
