package postprocess

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/fyrsmithlabs/docpipe/internal/secrets"
)

// Processor names.
const (
	NameHTMLToMarkdown    = "html-to-markdown"
	NameHeadingSpacing    = "heading-spacing"
	NameListNormalizer    = "list-normalizer"
	NameCodeFenceBalancer = "code-fence-balancer"
	NameWhitespaceCleanup = "whitespace-cleanup"
	NameSecretRedactor    = "secret-redactor"
)

// Default returns the built-in chain in its canonical order. A nil
// scrubber uses the default secret rules.
func Default(scrubber *secrets.Scrubber) *Chain {
	if scrubber == nil {
		scrubber = secrets.Default()
	}
	return NewChain(
		HTMLToMarkdown{},
		HeadingSpacing{},
		ListNormalizer{},
		CodeFenceBalancer{},
		WhitespaceCleanup{},
		SecretRedactor{Scrubber: scrubber},
	)
}

// HeadingSpacing surrounds ATX headings with blank lines. "##Setup" is
// taken as a heading missing its space only when a capital letter follows
// the hashes, so "#include" and "#42" stay as written.
type HeadingSpacing struct{}

var (
	headingNoSpace = regexp.MustCompile(`^(#{1,6})(\p{Lu})`)
	headingLine    = regexp.MustCompile(`^#{1,6}\s`)
)

func (HeadingSpacing) Name() string                   { return NameHeadingSpacing }
func (HeadingSpacing) ShouldProcess(pc *Context) bool { return pc.IsMarkdown }

func (HeadingSpacing) Process(text string, _ *Context) (Output, error) {
	out := mapProse(text, func(s string) string {
		lines := strings.Split(s, "\n")
		fixed := make([]string, 0, len(lines)+4)
		for i, line := range lines {
			line = headingNoSpace.ReplaceAllString(line, "$1 $2")
			isHeading := headingLine.MatchString(line)
			if isHeading && len(fixed) > 0 && strings.TrimSpace(fixed[len(fixed)-1]) != "" {
				fixed = append(fixed, "")
			}
			fixed = append(fixed, line)
			if isHeading && i+1 < len(lines) && strings.TrimSpace(lines[i+1]) != "" {
				fixed = append(fixed, "")
			}
		}
		return strings.Join(fixed, "\n")
	})
	return result(text, out), nil
}

// ListNormalizer rewrites "*" and "+" bullets to "-" and "1)" ordered
// markers to "1.".
type ListNormalizer struct{}

var (
	bulletMarker  = regexp.MustCompile(`^(\s*)[*+](\s+)`)
	orderedMarker = regexp.MustCompile(`^(\s*)(\d+)\)(\s+)`)
)

func (ListNormalizer) Name() string                   { return NameListNormalizer }
func (ListNormalizer) ShouldProcess(pc *Context) bool { return pc.IsMarkdown }

func (ListNormalizer) Process(text string, _ *Context) (Output, error) {
	out := mapProse(text, func(s string) string {
		lines := strings.Split(s, "\n")
		for i, line := range lines {
			if isThematicBreak(line) {
				continue
			}
			line = bulletMarker.ReplaceAllString(line, "$1-$2")
			lines[i] = orderedMarker.ReplaceAllString(line, "$1$2.$3")
		}
		return strings.Join(lines, "\n")
	})
	return result(text, out), nil
}

func isThematicBreak(line string) bool {
	s := strings.ReplaceAll(strings.TrimSpace(line), " ", "")
	if len(s) < 3 {
		return false
	}
	c := s[0]
	return (c == '*' || c == '-' || c == '_') && strings.Count(s, string(c)) == len(s)
}

// CodeFenceBalancer closes a code fence left open at the end of the text.
type CodeFenceBalancer struct{}

func (CodeFenceBalancer) Name() string                   { return NameCodeFenceBalancer }
func (CodeFenceBalancer) ShouldProcess(pc *Context) bool { return pc.IsMarkdown }

func (CodeFenceBalancer) Process(text string, _ *Context) (Output, error) {
	blocks := splitFences(text)
	if len(blocks) == 0 {
		return result(text, text), nil
	}
	last := blocks[len(blocks)-1]
	if !last.code {
		return result(text, text), nil
	}
	m := fenceLine.FindStringSubmatch(last.text)
	lines := strings.Split(strings.TrimRight(last.text, "\n"), "\n")
	if len(lines) > 1 && strings.TrimSpace(lines[len(lines)-1]) == m[1] {
		return result(text, text), nil
	}

	out := text
	if !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	out += m[1] + "\n"
	return result(text, out, "closed unterminated code fence"), nil
}

// WhitespaceCleanup normalizes line endings and Unicode (NFC), strips
// trailing whitespace outside code blocks, collapses blank-line runs and
// ends the text with exactly one newline.
type WhitespaceCleanup struct{}

var blankRun = regexp.MustCompile(`\n{3,}`)

func (WhitespaceCleanup) Name() string                { return NameWhitespaceCleanup }
func (WhitespaceCleanup) ShouldProcess(*Context) bool { return true }

func (WhitespaceCleanup) Process(text string, _ *Context) (Output, error) {
	out := strings.ReplaceAll(text, "\r\n", "\n")
	out = norm.NFC.String(out)
	out = mapProse(out, func(s string) string {
		lines := strings.Split(s, "\n")
		for i, l := range lines {
			lines[i] = strings.TrimRight(l, " \t")
		}
		return blankRun.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	})
	out = strings.TrimLeft(out, "\n")
	out = strings.TrimRight(out, "\n \t") + "\n"
	return result(text, out), nil
}

// SecretRedactor replaces credentials with a placeholder.
type SecretRedactor struct {
	Scrubber *secrets.Scrubber
}

func (SecretRedactor) Name() string                  { return NameSecretRedactor }
func (r SecretRedactor) ShouldProcess(*Context) bool { return r.Scrubber != nil }

func (r SecretRedactor) Process(text string, _ *Context) (Output, error) {
	res := r.Scrubber.Scrub(text)
	if !res.Redacted() {
		return result(text, text), nil
	}
	return result(text, res.Text, fmt.Sprintf("redacted %d secret(s): %s",
		len(res.Findings), strings.Join(res.RuleIDs(), ", "))), nil
}
