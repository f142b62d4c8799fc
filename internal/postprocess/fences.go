package postprocess

import (
	"regexp"
	"strings"
)

var fenceLine = regexp.MustCompile("^ {0,3}(```|~~~)")

// block is a run of lines that is either inside a fenced code block
// (fence lines included) or outside one.
type block struct {
	text string
	code bool
}

// splitFences cuts text into alternating prose and code blocks. An
// unclosed fence runs to the end of the text.
func splitFences(text string) []block {
	var (
		blocks []block
		cur    strings.Builder
		inCode bool
		marker string
	)
	flush := func(code bool) {
		if cur.Len() > 0 {
			blocks = append(blocks, block{text: cur.String(), code: code})
			cur.Reset()
		}
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		if line == "" {
			continue
		}
		m := fenceLine.FindStringSubmatch(line)
		switch {
		case !inCode && m != nil:
			flush(false)
			inCode, marker = true, m[1]
			cur.WriteString(line)
		case inCode && m != nil && m[1] == marker && strings.TrimSpace(line) == marker:
			cur.WriteString(line)
			flush(true)
			inCode = false
		default:
			cur.WriteString(line)
		}
	}
	flush(inCode)
	return blocks
}

// mapProse applies fn to every block outside fenced code.
func mapProse(text string, fn func(string) string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, blk := range splitFences(text) {
		if blk.code {
			b.WriteString(blk.text)
		} else {
			b.WriteString(fn(blk.text))
		}
	}
	return b.String()
}

var inlineCode = regexp.MustCompile("`[^`\n]+`")

// mapOutsideInlineCode applies fn to the parts of s not inside `code` spans.
func mapOutsideInlineCode(s string, fn func(string) string) string {
	var b strings.Builder
	last := 0
	for _, loc := range inlineCode.FindAllStringIndex(s, -1) {
		b.WriteString(fn(s[last:loc[0]]))
		b.WriteString(s[loc[0]:loc[1]])
		last = loc[1]
	}
	b.WriteString(fn(s[last:]))
	return b.String()
}

func result(in, out string, warnings ...string) Output {
	return Output{Text: out, Warnings: warnings, Modified: in != out}
}
