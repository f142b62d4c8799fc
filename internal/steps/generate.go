package steps

import (
	"context"
	"slices"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docpipe/internal/pipeline"
	"github.com/fyrsmithlabs/docpipe/internal/postprocess"
	"github.com/fyrsmithlabs/docpipe/internal/retrieval"
)

// Update types a proposal may carry.
const (
	UpdateAdd     = "add"
	UpdateUpdate  = "update"
	UpdateDelete  = "delete"
	UpdateNewPage = "new-page"
)

// GenerateOptions configure generate.
type GenerateOptions struct {
	LLMOptions            `mapstructure:",squash"`
	MaxProposalsPerThread int  `mapstructure:"max_proposals_per_thread" validate:"gte=1,lte=20"`
	IncludeContext        bool `mapstructure:"include_context"`
}

type generatedProposal struct {
	Page       string `json:"page" jsonschema:"description=Page path relative to the documentation root"`
	Section    string `json:"section,omitempty"`
	UpdateType string `json:"update_type" jsonschema:"enum=add,enum=update,enum=delete,enum=new-page"`
	Content    string `json:"content" jsonschema:"description=Markdown to merge into the page"`
	Reasoning  string `json:"reasoning"`
}

type generateResponse struct {
	Proposals []generatedProposal `json:"proposals"`
}

type generate struct {
	base
	opts   GenerateOptions
	caller llmCaller
	chain  *postprocess.Chain
}

func defaultGenerateOptions(d pipeline.Defaults) GenerateOptions {
	return GenerateOptions{LLMOptions: defaultLLMOptions(d), MaxProposalsPerThread: 3, IncludeContext: true}
}

func newGenerate(cfg pipeline.StepConfig, deps pipeline.Deps) (pipeline.Step, error) {
	if err := requireLLM(deps, cfg.Type); err != nil {
		return nil, err
	}
	s := &generate{
		base:  newBase(cfg, deps, "Proposal Generator", "Drafts documentation changes for each enriched thread"),
		opts:  defaultGenerateOptions(deps.Defaults),
		chain: deps.PostProcess,
	}
	if err := pipeline.DecodeOptions(cfg.Options, &s.opts); err != nil {
		return nil, err
	}
	s.caller = llmCaller{provider: deps.LLM, opts: s.opts.LLMOptions, logger: s.logger}
	return s, nil
}

func (s *generate) ValidateConfig(cfg pipeline.StepConfig) error {
	opts := defaultGenerateOptions(pipeline.Defaults{})
	return pipeline.DecodeOptions(cfg.Options, &opts)
}

// Execute drafts proposals for every doc-relevant thread and stores them
// under the thread id. Generated content passes through the post-processor
// chain; its warnings land on the proposal.
func (s *generate) Execute(ctx context.Context, pc *pipeline.Context) (*pipeline.Context, error) {
	system, err := render("generate.system", map[string]any{
		"Domain":       pc.Domain.Name,
		"DocsBasePath": pc.Domain.DocsBasePath,
		"MaxProposals": s.opts.MaxProposalsPerThread,
	})
	if err != nil {
		return pc, err
	}

	var threads []*pipeline.Thread
	for _, t := range pc.Threads {
		if t.DocRelevant() {
			threads = append(threads, t)
		}
	}
	index := pc.MessageIndex()

	results, err := pipeline.RunItems(ctx, threads,
		func(t *pipeline.Thread) string { return t.ID },
		s.opts.items(s.cfg.HardStop),
		func(ctx context.Context, t *pipeline.Thread) ([]*pipeline.Proposal, error) {
			return s.generateThread(ctx, pc, index, system, t)
		})
	ok, err := finishItems(pc, s.cfg.ID, results, err)
	if err != nil {
		return pc, err
	}

	total := 0
	for _, r := range ok {
		pc.SetProposals(r.ItemID, r.Value)
		total += len(r.Value)
	}
	pc.Metrics.Update(func(m *pipeline.Metrics) { m.ProposalsGenerated += total })
	s.logger.Info(ctx, "proposals generated",
		zap.Int("threads", len(threads)),
		zap.Int("proposals", total),
	)
	return pc, nil
}

func (s *generate) generateThread(ctx context.Context, pc *pipeline.Context, index map[string]pipeline.Message, system string, t *pipeline.Thread) ([]*pipeline.Proposal, error) {
	docs, _ := pc.RAGResultsFor(t.ID)
	data := map[string]any{
		"Thread":   t,
		"Messages": lookup(index, t.MessageIDs),
		"Context":  []pipeline.Message(nil),
		"Docs":     docs,
	}
	if s.opts.IncludeContext {
		data["Context"] = lookup(index, t.ContextMessages)
	}
	prompt, err := render("generate.user", data)
	if err != nil {
		return nil, err
	}

	var resp generateResponse
	if err := generateJSON(ctx, s.caller, pc, system, prompt, nil, &resp); err != nil {
		return nil, err
	}

	out := make([]*pipeline.Proposal, 0, len(resp.Proposals))
	for _, gp := range resp.Proposals {
		if len(out) == s.opts.MaxProposalsPerThread {
			break
		}
		if strings.TrimSpace(gp.Content) == "" && gp.UpdateType != UpdateDelete {
			continue
		}
		p := &pipeline.Proposal{
			ID:         uuid.NewString(),
			ThreadID:   t.ID,
			Page:       strings.TrimSpace(gp.Page),
			Section:    strings.TrimSpace(gp.Section),
			UpdateType: normalizeUpdateType(gp.UpdateType, gp.Page, docs),
			Content:    gp.Content,
			Reasoning:  gp.Reasoning,
			Status:     pipeline.StatusPending,
		}
		postProcess(s.chain, p)
		out = append(out, p)
	}
	return out, nil
}

func normalizeUpdateType(ut, page string, docs []retrieval.Document) string {
	switch ut = strings.ToLower(strings.TrimSpace(ut)); ut {
	case UpdateAdd, UpdateUpdate, UpdateDelete, UpdateNewPage:
		return ut
	}
	for _, d := range docs {
		if strings.EqualFold(d.FilePath, page) {
			return UpdateUpdate
		}
	}
	return UpdateNewPage
}

// postProcess runs p's content through chain, appending any warnings.
func postProcess(chain *postprocess.Chain, p *pipeline.Proposal) bool {
	if chain == nil {
		return false
	}
	res := chain.Process(p.Content, p.Page)
	p.Content = res.Text
	p.Warnings = appendUnique(p.Warnings, res.Warnings...)
	return res.WasModified
}

func appendUnique(dst []string, items ...string) []string {
	for _, it := range items {
		if !slices.Contains(dst, it) {
			dst = append(dst, it)
		}
	}
	return dst
}

func lookup(index map[string]pipeline.Message, ids []string) []pipeline.Message {
	out := make([]pipeline.Message, 0, len(ids))
	for _, id := range ids {
		if m, ok := index[id]; ok {
			out = append(out, m)
		}
	}
	return out
}
