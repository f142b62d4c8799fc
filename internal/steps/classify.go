package steps

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docpipe/internal/pipeline"
)

// DefaultCategories are offered to the model when none are configured.
var DefaultCategories = []string{
	"troubleshooting",
	"how-to",
	"configuration",
	"feature-request",
	"bug-report",
	pipeline.CategoryNoDocValue,
}

// ClassifyOptions configure classify.
type ClassifyOptions struct {
	LLMOptions `mapstructure:",squash"`
	BatchSize  int      `mapstructure:"batch_size" validate:"gte=1,lte=500"`
	Categories []string `mapstructure:"categories" validate:"dive,required"`
}

type classifiedThread struct {
	MessageIDs    []string `json:"message_ids" jsonschema:"minItems=1"`
	Category      string   `json:"category"`
	Summary       string   `json:"summary"`
	SemanticQuery string   `json:"semantic_query"`
	Keywords      []string `json:"keywords"`
}

type classifyResponse struct {
	Threads []classifiedThread `json:"threads"`
}

type batch struct {
	id       string
	messages []pipeline.Message
}

type classify struct {
	base
	opts   ClassifyOptions
	caller llmCaller
}

func newClassify(cfg pipeline.StepConfig, deps pipeline.Deps) (pipeline.Step, error) {
	if err := requireLLM(deps, cfg.Type); err != nil {
		return nil, err
	}
	s := &classify{base: newBase(cfg, deps, "Classifier", "Groups filtered messages into documentation threads")}
	s.opts = ClassifyOptions{LLMOptions: defaultLLMOptions(deps.Defaults), BatchSize: 50}
	if err := pipeline.DecodeOptions(cfg.Options, &s.opts); err != nil {
		return nil, err
	}
	if len(s.opts.Categories) == 0 {
		s.opts.Categories = DefaultCategories
	}
	if !slices.Contains(s.opts.Categories, pipeline.CategoryNoDocValue) {
		s.opts.Categories = append(slices.Clone(s.opts.Categories), pipeline.CategoryNoDocValue)
	}
	s.caller = llmCaller{provider: deps.LLM, opts: s.opts.LLMOptions, logger: s.logger}
	return s, nil
}

func (s *classify) ValidateConfig(cfg pipeline.StepConfig) error {
	opts := ClassifyOptions{BatchSize: 50}
	return pipeline.DecodeOptions(cfg.Options, &opts)
}

func (s *classify) batches(msgs []pipeline.Message) []batch {
	var out []batch
	for chunk := range slices.Chunk(msgs, s.opts.BatchSize) {
		out = append(out, batch{id: fmt.Sprintf("batch-%d", len(out)), messages: chunk})
	}
	return out
}

// Execute replaces Threads with the classification of FilteredMessages.
// Batches are classified independently; threads keep batch order.
func (s *classify) Execute(ctx context.Context, pc *pipeline.Context) (*pipeline.Context, error) {
	system, err := render("classify.system", map[string]any{
		"Domain":     pc.Domain.Name,
		"Categories": s.opts.Categories,
		"NoDocValue": pipeline.CategoryNoDocValue,
	})
	if err != nil {
		return pc, err
	}

	results, err := pipeline.RunItems(ctx, s.batches(pc.FilteredMessages),
		func(b batch) string { return b.id },
		s.opts.items(s.cfg.HardStop),
		func(ctx context.Context, b batch) ([]*pipeline.Thread, error) {
			return s.classifyBatch(ctx, pc, system, b)
		})
	ok, err := finishItems(pc, s.cfg.ID, results, err)
	if err != nil {
		return pc, err
	}

	threads := make([]*pipeline.Thread, 0)
	for _, r := range ok {
		threads = append(threads, r.Value...)
	}
	pc.Threads = threads
	pc.Metrics.Update(func(m *pipeline.Metrics) { m.ThreadsCreated += len(threads) })

	relevant := 0
	for _, t := range threads {
		if t.DocRelevant() {
			relevant++
		}
	}
	s.logger.Info(ctx, "messages classified",
		zap.Int("messages", len(pc.FilteredMessages)),
		zap.Int("threads", len(threads)),
		zap.Int("doc_relevant", relevant),
	)
	return pc, nil
}

func (s *classify) classifyBatch(ctx context.Context, pc *pipeline.Context, system string, b batch) ([]*pipeline.Thread, error) {
	prompt, err := render("classify.user", map[string]any{"Messages": b.messages})
	if err != nil {
		return nil, err
	}
	var resp classifyResponse
	if err := generateJSON(ctx, s.caller, pc, system, prompt, nil, &resp); err != nil {
		return nil, err
	}

	known := make(map[string]bool, len(b.messages))
	for _, m := range b.messages {
		known[m.ID] = true
	}
	assigned := make(map[string]bool)

	var threads []*pipeline.Thread
	for _, ct := range resp.Threads {
		ids := make([]string, 0, len(ct.MessageIDs))
		for _, id := range ct.MessageIDs {
			switch {
			case !known[id]:
				s.logger.Debug(ctx, "dropping unknown message id", zap.String("message.id", id), zap.String("batch", b.id))
			case assigned[id]:
				s.logger.Debug(ctx, "dropping repeated message id", zap.String("message.id", id), zap.String("batch", b.id))
			default:
				assigned[id] = true
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			continue
		}
		threads = append(threads, &pipeline.Thread{
			ID:         uuid.NewString(),
			MessageIDs: ids,
			Category:   s.category(ct.Category),
			Summary:    strings.TrimSpace(ct.Summary),
			RAGSearchCriteria: pipeline.RAGSearchCriteria{
				SemanticQuery: strings.TrimSpace(ct.SemanticQuery),
				Keywords:      ct.Keywords,
			},
		})
	}
	return threads, nil
}

// category maps the model's answer onto a configured category. Anything
// unrecognised is treated as having no documentation value.
func (s *classify) category(c string) string {
	c = strings.ToLower(strings.TrimSpace(c))
	if slices.Contains(s.opts.Categories, c) {
		return c
	}
	return pipeline.CategoryNoDocValue
}
