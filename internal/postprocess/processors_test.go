package postprocess

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/docpipe/internal/secrets"
)

func mdCtx() *Context { return &Context{TargetPath: "a.md", IsMarkdown: true} }

func TestHTMLToMarkdown(t *testing.T) {
	in := "Use <strong>bridges</strong> and <em>rooms</em>.<br>See <a href=\"https://x.io/docs\">docs</a> and <code>cfg</code>.\n"
	out, err := HTMLToMarkdown{}.Process(in, mdCtx())
	require.NoError(t, err)
	assert.Equal(t, "Use **bridges** and *rooms*.\nSee [docs](https://x.io/docs) and `cfg`.\n", out.Text)
	assert.True(t, out.Modified)
	assert.Empty(t, out.Warnings)
}

func TestHTMLToMarkdown_LeavesCodeAndUnknownTags(t *testing.T) {
	in := "Keep `<b>inline</b>` and <details>x</details>\n```html\n<b>code</b>\n```\n"
	out, err := HTMLToMarkdown{}.Process(in, mdCtx())
	require.NoError(t, err)
	assert.Equal(t, in, out.Text)
	assert.False(t, out.Modified)
	assert.Equal(t, []string{"unconverted HTML tags: details"}, out.Warnings)
}

func TestHTMLToMarkdown_HeadingsAndLists(t *testing.T) {
	out, err := HTMLToMarkdown{}.Process("<h2>Setup</h2><ul><li>one</li><li>two</li></ul>", mdCtx())
	require.NoError(t, err)
	assert.Equal(t, "## Setup\n- one\n- two\n\n", out.Text)
}

func TestHeadingSpacing(t *testing.T) {
	in := "intro\n##Setup\ntext\n```\n#not a heading\n```\n"
	out, err := HeadingSpacing{}.Process(in, mdCtx())
	require.NoError(t, err)
	assert.Equal(t, "intro\n\n## Setup\n\ntext\n```\n#not a heading\n```\n", out.Text)
}

func TestHeadingSpacing_LeavesHashPrefixedProse(t *testing.T) {
	in := "Use the directive\n#include <stdio.h>\nand see issue\n#42 for details\n"
	out, err := HeadingSpacing{}.Process(in, mdCtx())
	require.NoError(t, err)
	assert.Equal(t, in, out.Text)
	assert.False(t, out.Modified)

	res := Default(nil).Process(in, "docs/c.md")
	assert.Equal(t, in, res.Text)
	assert.Empty(t, res.Warnings)
}

func TestListNormalizer(t *testing.T) {
	in := "* one\n  + nested\n1) first\n* * *\n**bold** line\n"
	out, err := ListNormalizer{}.Process(in, mdCtx())
	require.NoError(t, err)
	assert.Equal(t, "- one\n  - nested\n1. first\n* * *\n**bold** line\n", out.Text)
}

func TestCodeFenceBalancer(t *testing.T) {
	out, err := CodeFenceBalancer{}.Process("text\n```go\nfmt.Println()", mdCtx())
	require.NoError(t, err)
	assert.Equal(t, "text\n```go\nfmt.Println()\n```\n", out.Text)
	assert.Equal(t, []string{"closed unterminated code fence"}, out.Warnings)

	balanced := "```\ncode\n```\n"
	out, err = CodeFenceBalancer{}.Process(balanced, mdCtx())
	require.NoError(t, err)
	assert.False(t, out.Modified)
	assert.Empty(t, out.Warnings)
}

func TestWhitespaceCleanup(t *testing.T) {
	in := "\n\ntitle   \r\n\n\n\nbody\t\n```\nkeep   \n```\n\n\n"
	out, err := WhitespaceCleanup{}.Process(in, &Context{})
	require.NoError(t, err)
	assert.Equal(t, "title\n\nbody\n```\nkeep   \n```\n", out.Text)

	// NFD "é" becomes NFC
	out, err = WhitespaceCleanup{}.Process("cafe\u0301\n", &Context{})
	require.NoError(t, err)
	assert.Equal(t, "caf\u00e9\n", out.Text)
}

func TestSecretRedactor(t *testing.T) {
	r := SecretRedactor{Scrubber: secrets.Default()}
	token := "ghp_" + strings.Repeat("a", 36)
	out, err := r.Process("token "+token, &Context{})
	require.NoError(t, err)
	assert.NotContains(t, out.Text, token)
	require.Len(t, out.Warnings, 1)
	assert.Contains(t, out.Warnings[0], "github-token")

	assert.False(t, SecretRedactor{}.ShouldProcess(&Context{}))
}

func TestDefaultChain(t *testing.T) {
	c := Default(nil)
	assert.Equal(t, []string{
		NameHTMLToMarkdown, NameHeadingSpacing, NameListNormalizer,
		NameCodeFenceBalancer, NameWhitespaceCleanup, NameSecretRedactor,
	}, c.Names())

	res := c.Process("##Install<br>\n* run <code>make</code>   \n```sh\nmake", "docs/install.md")
	assert.Equal(t, "## Install\n\n- run `make`\n```sh\nmake\n```\n", res.Text)
	assert.True(t, res.WasModified)
	assert.Contains(t, res.Warnings, "closed unterminated code fence")
}
