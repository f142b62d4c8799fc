package retrieval

import (
	"regexp"

	"golang.org/x/text/language"
)

// localeSegment matches a leading segment shaped like "fr/", "pt-br/" or
// "i18n/zh_cn/" on an already lowercased path. Candidates are confirmed
// with stripLocale.
var localeSegment = regexp.MustCompile(`^(?:i18n/)?([a-z]{2})(?:[-_]([a-z]{2}))?/`)

// stripLocale removes a leading locale segment from the normalized path p.
// The language must be a known ISO 639-1 code and the optional region a
// known ISO 3166-1 code, so folders such as "go/" or "js/" are left alone.
func stripLocale(p string) (string, bool) {
	m := localeSegment.FindStringSubmatch(p)
	if m == nil {
		return p, false
	}
	if _, err := language.ParseBase(m[1]); err != nil {
		return p, false
	}
	if m[2] != "" {
		if _, err := language.ParseRegion(m[2]); err != nil {
			return p, false
		}
	}
	return p[len(m[0]):], true
}

// DedupKey returns the identity used for locale deduplication: the
// normalized path with any leading locale segment removed.
func DedupKey(path string) string {
	key, _ := stripLocale(normalizePath(path))
	return key
}

// IsLocalized reports whether path carries a locale prefix.
func IsLocalized(path string) bool {
	_, ok := stripLocale(normalizePath(path))
	return ok
}

// DedupeLocales keeps one document per DedupKey. A non-localized variant
// always beats localized ones regardless of similarity; otherwise the
// highest similarity wins and ties keep the earlier document. Output order
// follows the first appearance of each key.
func DedupeLocales(docs []Document) []Document {
	best := make(map[string]int, len(docs))
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		key := DedupKey(d.FilePath)
		i, seen := best[key]
		if !seen {
			best[key] = len(out)
			out = append(out, d)
			continue
		}
		if prefer(d, out[i]) {
			out[i] = d
		}
	}
	return out
}

// prefer reports whether candidate should replace current.
func prefer(candidate, current Document) bool {
	candLocal, curLocal := IsLocalized(candidate.FilePath), IsLocalized(current.FilePath)
	if candLocal != curLocal {
		return !candLocal
	}
	return candidate.Similarity > current.Similarity
}
