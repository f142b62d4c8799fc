// Package sanitize normalizes identifiers and validates user-supplied paths
// and glob patterns before they reach the vector store or the filesystem.
package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
)

const (
	// MaxIdentifierLength is the collection name limit shared by Qdrant and chromem.
	MaxIdentifierLength = 64

	// DefaultIdentifier is returned when nothing usable survives sanitization.
	DefaultIdentifier = "default"

	hashLen = 8
)

var (
	ErrEmptyPath       = errors.New("path cannot be empty")
	ErrPathTraversal   = errors.New("path contains directory traversal")
	ErrAbsolutePath    = errors.New("absolute path not allowed")
	ErrInvalidPattern  = errors.New("invalid or dangerous pattern")
	invalidIdentRunes  = regexp.MustCompile(`[^a-z0-9_]+`)
	repeatedUnderscore = regexp.MustCompile(`_{2,}`)
	dangerousGlobChars = regexp.MustCompile(`[;|$\x60\\<>&()]|\*{3,}`)
)

// Identifier lowercases s and maps it onto ^[a-z0-9_]{1,64}$. Overlong
// results are cut and suffixed with a short hash of the full value so
// distinct inputs stay distinct.
//
//	"Acme Docs"        -> "acme_docs"
//	"github.com/acme"  -> "github_com_acme"
//	"" or "!!!"        -> "default"
func Identifier(s string) string {
	id := invalidIdentRunes.ReplaceAllString(strings.ToLower(s), "_")
	id = strings.Trim(repeatedUnderscore.ReplaceAllString(id, "_"), "_")
	if id == "" {
		return DefaultIdentifier
	}
	return fit(id)
}

// CollectionName builds the vector collection holding one domain's documents.
//
//	CollectionName("Acme Docs", "docs") -> "acme_docs_docs"
func CollectionName(domain, kind string) string {
	name := Identifier(domain)
	if kind != "" {
		name += "_" + Identifier(kind)
	}
	return fit(name)
}

func fit(id string) string {
	if len(id) <= MaxIdentifierLength {
		return id
	}
	sum := sha256.Sum256([]byte(id))
	suffix := "_" + hex.EncodeToString(sum[:])[:hashLen]
	base := strings.TrimRight(id[:MaxIdentifierLength-len(suffix)], "_")
	return base + suffix
}

// RelPath cleans a repository-relative path, rejecting absolute paths and
// any ".." segment.
func RelPath(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", ErrEmptyPath
	}
	p = strings.ReplaceAll(p, "\\", "/")
	if strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("%w: %s", ErrAbsolutePath, p)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: %s", ErrPathTraversal, p)
		}
	}
	return path.Clean(p), nil
}

// Glob rejects glob patterns carrying shell metacharacters, runs of three or
// more stars, or traversal segments.
func Glob(pattern string) error {
	if strings.TrimSpace(pattern) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidPattern)
	}
	if len(pattern) > 512 {
		return fmt.Errorf("%w: longer than 512 characters", ErrInvalidPattern)
	}
	if dangerousGlobChars.MatchString(pattern) {
		return fmt.Errorf("%w: %q", ErrInvalidPattern, pattern)
	}
	if strings.Contains("/"+pattern+"/", "/../") {
		return fmt.Errorf("%w: %q", ErrPathTraversal, pattern)
	}
	return nil
}
