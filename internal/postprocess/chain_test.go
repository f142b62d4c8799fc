package postprocess

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder is a scriptable processor for chain tests.
type recorder struct {
	name   string
	only   func(*Context) bool
	fn     func(string) (string, error)
	panics bool
	calls  []string
	seen   [][]string
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) ShouldProcess(pc *Context) bool {
	return r.only == nil || r.only(pc)
}

func (r *recorder) Process(text string, pc *Context) (Output, error) {
	r.calls = append(r.calls, text)
	r.seen = append(r.seen, append([]string(nil), pc.Warnings...))
	if r.panics {
		panic("boom")
	}
	out, err := r.fn(text)
	if err != nil {
		return Output{Text: "garbage"}, err
	}
	return Output{Text: out, Modified: out != text, Warnings: []string{r.name + " ran"}}, nil
}

func appendStr(s string) func(string) (string, error) {
	return func(in string) (string, error) { return in + s, nil }
}

func TestChain_EmptyTextInvokesNothing(t *testing.T) {
	p := &recorder{name: "a", fn: appendStr("x")}
	c := NewChain(p)

	res := c.Process("", "docs/page.md")
	assert.Equal(t, Result{Text: "", Warnings: []string{}, WasModified: false}, res)
	assert.Empty(t, p.calls)
}

func TestChain_OrderAndAccumulation(t *testing.T) {
	a := &recorder{name: "a", fn: appendStr("A")}
	b := &recorder{name: "b", fn: appendStr("B")}
	c := NewChain(a, b)

	res := c.Process("t", "page.md")
	assert.Equal(t, "tAB", res.Text)
	assert.True(t, res.WasModified)
	assert.Equal(t, []string{"a ran", "b ran"}, res.Warnings)
	assert.Equal(t, []string{"a ran"}, b.seen[0])
	assert.Equal(t, []string{"a", "b"}, c.Names())
}

func TestChain_FailingProcessorKeepsPreFailureText(t *testing.T) {
	a := &recorder{name: "a", fn: appendStr("A")}
	bad := &recorder{name: "broken", fn: func(string) (string, error) { return "", errors.New("parse error") }}
	c := &recorder{name: "c", fn: appendStr("C")}

	res := NewChain(a, bad, c).Process("t", "page.md")

	assert.Equal(t, "tAC", res.Text)
	require.Len(t, c.calls, 1)
	assert.Equal(t, "tA", c.calls[0])
	assert.Contains(t, res.Warnings, "broken failed: parse error")
}

func TestChain_PanickingProcessorBecomesWarning(t *testing.T) {
	bad := &recorder{name: "wild", panics: true}
	after := &recorder{name: "after", fn: appendStr("!")}

	res := NewChain(bad, after).Process("t", "page.md")
	assert.Equal(t, "t!", res.Text)
	require.NotEmpty(t, res.Warnings)
	assert.True(t, strings.HasPrefix(res.Warnings[0], "wild failed: "))
	assert.Contains(t, res.Warnings[0], "boom")
}

func TestChain_DisabledAndShouldProcess(t *testing.T) {
	md := &recorder{name: "md", only: func(pc *Context) bool { return pc.IsMarkdown }, fn: appendStr("M")}
	htm := &recorder{name: "htm", only: func(pc *Context) bool { return pc.IsHTML }, fn: appendStr("H")}
	off := &recorder{name: "off", fn: appendStr("O")}
	c := NewChain(md, htm, off)
	require.NoError(t, c.SetEnabled("off", false))
	assert.Error(t, c.SetEnabled("missing", true))

	assert.Equal(t, "tM", c.Process("t", "docs/Guide.MDX").Text)
	assert.Equal(t, "tH", c.Process("t", "site/index.htm").Text)

	res := c.Process("t", "notes.txt")
	assert.Equal(t, "t", res.Text)
	assert.False(t, res.WasModified)
	assert.Empty(t, off.calls)
}

func TestChain_UnmodifiedOutputIgnored(t *testing.T) {
	same := &recorder{name: "noop", fn: func(s string) (string, error) { return s, nil }}
	res := NewChain(same).Process("text", "a.md")
	assert.False(t, res.WasModified)
	assert.Equal(t, "text", res.Text)
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		path     string
		md, html bool
	}{
		{"a.md", true, false},
		{"a.markdown", true, false},
		{"dir\\a.mdx", true, false},
		{"a.HTML", false, true},
		{"a.htm", false, true},
		{"a.rst", false, false},
		{"", false, false},
	}
	for _, tt := range tests {
		md, h := detectFormat(tt.path)
		assert.Equal(t, tt.md, md, tt.path)
		assert.Equal(t, tt.html, h, tt.path)
	}
}
