// Package postprocess cleans generated documentation text through an
// ordered chain of independent processors.
//
// Processors run in registration order. Each sees the output of the one
// before it. A processor that fails or panics leaves the text untouched and
// contributes a "<name> failed: <reason>" warning; the chain keeps going.
package postprocess

import (
	"fmt"
	"path"
	"strings"
)

// Context describes one Process invocation.
type Context struct {
	TargetPath   string
	IsMarkdown   bool
	IsHTML       bool
	OriginalText string

	// Warnings accumulated by earlier processors in this invocation.
	Warnings []string
}

// Output is what a single processor returns.
type Output struct {
	Text     string
	Warnings []string
	Modified bool
}

// Processor transforms text.
type Processor interface {
	Name() string
	ShouldProcess(pc *Context) bool
	Process(text string, pc *Context) (Output, error)
}

// Result is the outcome of a chain run.
type Result struct {
	Text        string   `json:"text"`
	Warnings    []string `json:"warnings"`
	WasModified bool     `json:"was_modified"`
}

type entry struct {
	p       Processor
	enabled bool
}

// Chain is an ordered processor list. Configure it before sharing; Process
// itself is safe for concurrent use once configuration stops.
type Chain struct {
	entries []entry
}

// NewChain registers ps in order, all enabled.
func NewChain(ps ...Processor) *Chain {
	c := &Chain{}
	for _, p := range ps {
		c.Register(p)
	}
	return c
}

// Register appends p, enabled.
func (c *Chain) Register(p Processor) {
	c.entries = append(c.entries, entry{p: p, enabled: true})
}

// SetEnabled toggles the processor called name.
func (c *Chain) SetEnabled(name string, enabled bool) error {
	for i := range c.entries {
		if c.entries[i].p.Name() == name {
			c.entries[i].enabled = enabled
			return nil
		}
	}
	return fmt.Errorf("unknown processor %q", name)
}

// Names lists processors in execution order.
func (c *Chain) Names() []string {
	out := make([]string, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.p.Name()
	}
	return out
}

// Process runs the chain over text destined for targetPath.
func (c *Chain) Process(text, targetPath string) Result {
	if text == "" {
		return Result{Text: "", Warnings: []string{}}
	}

	pc := &Context{
		TargetPath:   targetPath,
		OriginalText: text,
		Warnings:     []string{},
	}
	pc.IsMarkdown, pc.IsHTML = detectFormat(targetPath)

	current := text
	modified := false
	for _, e := range c.entries {
		if !e.enabled || !e.p.ShouldProcess(pc) {
			continue
		}
		out, err := run(e.p, current, pc)
		if err != nil {
			pc.Warnings = append(pc.Warnings, fmt.Sprintf("%s failed: %v", e.p.Name(), err))
			continue
		}
		pc.Warnings = append(pc.Warnings, out.Warnings...)
		if out.Modified {
			modified = true
			current = out.Text
		}
	}

	return Result{Text: current, Warnings: pc.Warnings, WasModified: modified}
}

// run invokes p, converting a panic into an error.
func run(p Processor, text string, pc *Context) (out Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.Process(text, pc)
}

func detectFormat(target string) (markdown, html bool) {
	switch strings.ToLower(path.Ext(strings.ReplaceAll(target, `\`, "/"))) {
	case ".md", ".mdx", ".markdown":
		return true, false
	case ".html", ".htm":
		return false, true
	}
	return false, false
}
