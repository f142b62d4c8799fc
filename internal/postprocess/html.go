package postprocess

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"golang.org/x/net/html"
)

// HTMLToMarkdown rewrites common inline HTML in markdown targets into
// markdown syntax. Tags it does not know are left in place and reported.
// Fenced and inline code are never touched.
type HTMLToMarkdown struct{}

func (HTMLToMarkdown) Name() string { return NameHTMLToMarkdown }

func (HTMLToMarkdown) ShouldProcess(pc *Context) bool { return pc.IsMarkdown }

func (HTMLToMarkdown) Process(text string, _ *Context) (Output, error) {
	if !strings.Contains(text, "<") {
		return result(text, text), nil
	}

	var unknown []string
	var convErr error
	out := mapProse(text, func(s string) string {
		return mapOutsideInlineCode(s, func(part string) string {
			if convErr != nil || !strings.Contains(part, "<") {
				return part
			}
			converted, tags, err := convertHTML(part)
			if err != nil {
				convErr = err
				return part
			}
			unknown = append(unknown, tags...)
			return converted
		})
	})
	if convErr != nil {
		return Output{}, convErr
	}

	var warnings []string
	if len(unknown) > 0 {
		slices.Sort(unknown)
		warnings = append(warnings, fmt.Sprintf("unconverted HTML tags: %s", strings.Join(slices.Compact(unknown), ", ")))
	}
	return result(text, out, warnings...), nil
}

// convertHTML tokenizes s and emits markdown for the tags it understands.
func convertHTML(s string) (string, []string, error) {
	var (
		b       strings.Builder
		unknown []string
		hrefs   []string
	)
	z := html.NewTokenizer(strings.NewReader(s))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if err := z.Err(); err != io.EOF {
				return "", nil, err
			}
			return b.String(), unknown, nil
		}

		raw := string(z.Raw())
		switch tt {
		case html.TextToken, html.CommentToken, html.DoctypeToken:
			b.WriteString(raw)
			continue
		}

		tok := z.Token()
		start := tt == html.StartTagToken || tt == html.SelfClosingTagToken
		switch tok.Data {
		case "b", "strong":
			b.WriteString("**")
		case "i", "em":
			b.WriteString("*")
		case "code":
			b.WriteString("`")
		case "br":
			b.WriteString("\n")
		case "p":
			if !start {
				b.WriteString("\n\n")
			}
		case "li":
			if start {
				b.WriteString("- ")
			} else {
				b.WriteString("\n")
			}
		case "ul", "ol":
			if !start {
				b.WriteString("\n")
			}
		case "h1", "h2", "h3", "h4", "h5", "h6":
			if start {
				b.WriteString(strings.Repeat("#", int(tok.Data[1]-'0')) + " ")
			} else {
				b.WriteString("\n")
			}
		case "a":
			if start {
				hrefs = append(hrefs, attr(tok, "href"))
				b.WriteString("[")
			} else if len(hrefs) > 0 {
				href := hrefs[len(hrefs)-1]
				hrefs = hrefs[:len(hrefs)-1]
				b.WriteString("](" + href + ")")
			}
		default:
			// <stdio.h> and similar are prose, not markup
			if tok.DataAtom != 0 {
				unknown = append(unknown, tok.Data)
			}
			b.WriteString(raw)
		}
	}
}

func attr(t html.Token, key string) string {
	for _, a := range t.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
