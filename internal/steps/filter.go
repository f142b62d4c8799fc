package steps

import (
	"context"
	"slices"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/cases"

	"github.com/fyrsmithlabs/docpipe/internal/pipeline"
)

// KeywordFilterOptions configure keyword-filter.
type KeywordFilterOptions struct {
	IncludeKeywords []string `mapstructure:"include_keywords" validate:"dive,required"`
	ExcludeKeywords []string `mapstructure:"exclude_keywords" validate:"dive,required"`
	CaseSensitive   bool     `mapstructure:"case_sensitive"`
}

type keywordFilter struct {
	base
	opts    KeywordFilterOptions
	include []string
	exclude []string
}

func newKeywordFilter(cfg pipeline.StepConfig, deps pipeline.Deps) (pipeline.Step, error) {
	s := &keywordFilter{base: newBase(cfg, deps, "Keyword Filter", "Keeps messages matching include keywords and drops those matching exclude keywords")}
	if err := pipeline.DecodeOptions(cfg.Options, &s.opts); err != nil {
		return nil, err
	}
	s.include = s.fold(s.opts.IncludeKeywords)
	s.exclude = s.fold(s.opts.ExcludeKeywords)
	return s, nil
}

func (s *keywordFilter) ValidateConfig(cfg pipeline.StepConfig) error {
	var opts KeywordFilterOptions
	return pipeline.DecodeOptions(cfg.Options, &opts)
}

func (s *keywordFilter) fold(words []string) []string {
	out := make([]string, len(words))
	for i, w := range words {
		out[i] = s.normalize(w)
	}
	return out
}

func (s *keywordFilter) normalize(text string) string {
	if s.opts.CaseSensitive {
		return text
	}
	// Caser values are stateful, so each call gets its own.
	return cases.Fold().String(text)
}

// Keep reports whether a message with content passes the filter. Exclusion
// wins over inclusion.
func (s *keywordFilter) Keep(content string) bool {
	text := s.normalize(content)
	contains := func(w string) bool { return strings.Contains(text, w) }
	if slices.ContainsFunc(s.exclude, contains) {
		return false
	}
	return len(s.include) == 0 || slices.ContainsFunc(s.include, contains)
}

// Execute replaces FilteredMessages with the matching subset of Messages,
// in their original order.
func (s *keywordFilter) Execute(ctx context.Context, pc *pipeline.Context) (*pipeline.Context, error) {
	kept := make([]pipeline.Message, 0, len(pc.Messages))
	for _, m := range pc.Messages {
		if s.Keep(m.Content) {
			kept = append(kept, m)
		}
	}
	pc.FilteredMessages = kept
	pc.Metrics.Update(func(m *pipeline.Metrics) { m.MessagesFiltered = len(kept) })

	s.logger.Info(ctx, "messages filtered",
		zap.Int("total", len(pc.Messages)),
		zap.Int("kept", len(kept)),
	)
	return pc, nil
}
