// Package secrets detects and redacts credentials in free text.
//
// It guards two boundaries: chat content on its way into an LLM prompt, and
// generated documentation on its way into a proposal.
package secrets

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// DefaultReplacement replaces every redacted span.
const DefaultReplacement = "[REDACTED]"

// Config configures a Scrubber.
type Config struct {
	Rules       []Rule   `koanf:"rules"`
	AllowList   []string `koanf:"allow_list"`
	Replacement string   `koanf:"replacement"`
}

// DefaultConfig returns the built-in rules with the default replacement.
func DefaultConfig() Config {
	return Config{Rules: DefaultRules(), Replacement: DefaultReplacement}
}

// Finding locates one detected secret. The matched text is never retained.
type Finding struct {
	RuleID   string   `json:"rule_id"`
	Severity Severity `json:"severity"`
	Start    int      `json:"start"`
	End      int      `json:"end"`
	Line     int      `json:"line"`
}

// Result is the outcome of scrubbing one text.
type Result struct {
	Text     string    `json:"text"`
	Findings []Finding `json:"findings,omitempty"`
}

// Redacted reports whether anything was replaced.
func (r Result) Redacted() bool { return len(r.Findings) > 0 }

// RuleIDs returns the distinct rule ids that matched, sorted.
func (r Result) RuleIDs() []string {
	ids := make([]string, 0, len(r.Findings))
	for _, f := range r.Findings {
		ids = append(ids, f.RuleID)
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

type compiledRule struct {
	Rule
	re       *regexp.Regexp
	keywords []string
}

// Scrubber applies a fixed rule set. It is safe for concurrent use.
type Scrubber struct {
	rules       []compiledRule
	allow       []*regexp.Regexp
	replacement string
}

// New compiles cfg into a Scrubber.
func New(cfg Config) (*Scrubber, error) {
	s := &Scrubber{replacement: cfg.Replacement}
	if s.replacement == "" {
		s.replacement = DefaultReplacement
	}

	seen := make(map[string]bool, len(cfg.Rules))
	for i, rule := range cfg.Rules {
		if rule.ID == "" {
			return nil, fmt.Errorf("rule %d: id is required", i)
		}
		if seen[rule.ID] {
			return nil, fmt.Errorf("rule %s: duplicate id", rule.ID)
		}
		seen[rule.ID] = true

		if rule.Pattern == "" {
			return nil, fmt.Errorf("rule %s: pattern is required", rule.ID)
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %s: invalid pattern: %w", rule.ID, err)
		}

		kws := make([]string, len(rule.Keywords))
		for j, kw := range rule.Keywords {
			kws[j] = strings.ToLower(kw)
		}
		s.rules = append(s.rules, compiledRule{Rule: rule, re: re, keywords: kws})
	}

	for i, pattern := range cfg.AllowList {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("allow_list %d: invalid pattern: %w", i, err)
		}
		s.allow = append(s.allow, re)
	}

	return s, nil
}

// MustNew is New for static configurations; it panics on error.
func MustNew(cfg Config) *Scrubber {
	s, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return s
}

// Default returns a Scrubber with the built-in rules.
func Default() *Scrubber {
	return MustNew(DefaultConfig())
}

// Scrub replaces every detected secret in text. Overlapping matches from
// different rules collapse into a single replacement.
func (s *Scrubber) Scrub(text string) Result {
	findings := s.find(text)
	if len(findings) == 0 {
		return Result{Text: text}
	}

	spans := make([][2]int, 0, len(findings))
	for _, f := range findings {
		spans = append(spans, [2]int{f.Start, f.End})
	}
	slices.SortFunc(spans, func(a, b [2]int) int { return a[0] - b[0] })

	var b strings.Builder
	b.Grow(len(text))
	cursor := 0
	for i := 0; i < len(spans); {
		start, end := spans[i][0], spans[i][1]
		for i++; i < len(spans) && spans[i][0] <= end; i++ {
			end = max(end, spans[i][1])
		}
		b.WriteString(text[cursor:start])
		b.WriteString(s.replacement)
		cursor = end
	}
	b.WriteString(text[cursor:])

	return Result{Text: b.String(), Findings: findings}
}

// Check reports findings without modifying text.
func (s *Scrubber) Check(text string) []Finding {
	return s.find(text)
}

func (s *Scrubber) find(text string) []Finding {
	if text == "" {
		return nil
	}
	lower := strings.ToLower(text)

	var findings []Finding
	for _, rule := range s.rules {
		if len(rule.keywords) > 0 && !containsAny(lower, rule.keywords) {
			continue
		}
		for _, m := range rule.re.FindAllStringIndex(text, -1) {
			if s.allowed(text[m[0]:m[1]]) {
				continue
			}
			findings = append(findings, Finding{
				RuleID:   rule.ID,
				Severity: rule.Severity,
				Start:    m[0],
				End:      m[1],
				Line:     strings.Count(text[:m[0]], "\n") + 1,
			})
		}
	}
	slices.SortStableFunc(findings, func(a, b Finding) int { return a.Start - b.Start })
	return findings
}

func (s *Scrubber) allowed(match string) bool {
	for _, re := range s.allow {
		if re.MatchString(match) {
			return true
		}
	}
	return false
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
