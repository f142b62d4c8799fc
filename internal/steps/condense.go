package steps

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docpipe/internal/llm"
	"github.com/fyrsmithlabs/docpipe/internal/pipeline"
	"github.com/fyrsmithlabs/docpipe/internal/postprocess"
)

// CondenseOptions configure condense.
type CondenseOptions struct {
	LLMOptions          `mapstructure:",squash"`
	MaxLength           int `mapstructure:"max_length" validate:"gte=100"`
	MaxProposalsPerPage int `mapstructure:"max_proposals_per_page" validate:"gte=0"`
	MaxAttempts         int `mapstructure:"max_attempts" validate:"gte=1,lte=5"`
}

type condensed struct {
	Content string `json:"content"`
}

type condense struct {
	base
	opts   CondenseOptions
	caller llmCaller
	chain  *postprocess.Chain
}

// pageGroup is the unit of condense work: one proposal to shorten, or
// several proposals for the same page to merge into the first.
type pageGroup struct {
	page      string
	proposals []*pipeline.Proposal
}

func defaultCondenseOptions(d pipeline.Defaults) CondenseOptions {
	return CondenseOptions{LLMOptions: defaultLLMOptions(d), MaxLength: 4000, MaxAttempts: 2}
}

func newCondense(cfg pipeline.StepConfig, deps pipeline.Deps) (pipeline.Step, error) {
	if err := requireLLM(deps, cfg.Type); err != nil {
		return nil, err
	}
	s := &condense{
		base:  newBase(cfg, deps, "Condenser", "Shortens long proposals and merges crowded pages"),
		opts:  defaultCondenseOptions(deps.Defaults),
		chain: deps.PostProcess,
	}
	if err := pipeline.DecodeOptions(cfg.Options, &s.opts); err != nil {
		return nil, err
	}
	s.caller = llmCaller{provider: deps.LLM, opts: s.opts.LLMOptions, logger: s.logger}
	return s, nil
}

func (s *condense) ValidateConfig(cfg pipeline.StepConfig) error {
	opts := defaultCondenseOptions(pipeline.Defaults{})
	return pipeline.DecodeOptions(cfg.Options, &opts)
}

// groups picks the work: pages with more than MaxProposalsPerPage live
// proposals become one merge group each, and any other live proposal
// longer than MaxLength becomes a group of one.
func (s *condense) groups(pc *pipeline.Context) []pageGroup {
	var order []string
	byPage := make(map[string][]*pipeline.Proposal)
	for _, p := range pc.AllProposals() {
		if p.Status == pipeline.StatusRejected || p.UpdateType == UpdateDelete {
			continue
		}
		if _, seen := byPage[p.Page]; !seen {
			order = append(order, p.Page)
		}
		byPage[p.Page] = append(byPage[p.Page], p)
	}

	var out []pageGroup
	for _, page := range order {
		ps := byPage[page]
		if s.opts.MaxProposalsPerPage > 0 && len(ps) > s.opts.MaxProposalsPerPage {
			out = append(out, pageGroup{page: page, proposals: ps})
			continue
		}
		for _, p := range ps {
			if utf8.RuneCountInString(p.Content) > s.opts.MaxLength {
				out = append(out, pageGroup{page: page, proposals: []*pipeline.Proposal{p}})
			}
		}
	}
	return out
}

// Execute condenses over-long proposals and merges crowded pages. Merged
// proposals other than the first are rejected with a note naming the
// survivor.
func (s *condense) Execute(ctx context.Context, pc *pipeline.Context) (*pipeline.Context, error) {
	system, err := render("condense.system", map[string]any{"MaxLength": s.opts.MaxLength})
	if err != nil {
		return pc, err
	}

	groups := s.groups(pc)
	results, err := pipeline.RunItems(ctx, groups,
		func(g pageGroup) string { return g.proposals[0].ID },
		s.opts.items(s.cfg.HardStop),
		func(ctx context.Context, g pageGroup) (int, error) {
			return s.condenseGroup(ctx, pc, system, g)
		})
	ok, err := finishItems(pc, s.cfg.ID, results, err)
	if err != nil {
		return pc, err
	}

	merged := 0
	for _, r := range ok {
		merged += r.Value
	}
	pc.Metrics.Update(func(m *pipeline.Metrics) {
		m.ProposalsCondensed += len(ok)
		m.ProposalsRejected += merged
	})
	s.logger.Info(ctx, "proposals condensed",
		zap.Int("groups", len(groups)),
		zap.Int("condensed", len(ok)),
		zap.Int("merged_away", merged),
	)
	return pc, nil
}

// condenseGroup rewrites the group's first proposal and returns how many
// others were merged into it. The model gets MaxAttempts tries to fit
// under MaxLength, seeing its previous answer each time.
func (s *condense) condenseGroup(ctx context.Context, pc *pipeline.Context, system string, g pageGroup) (int, error) {
	parts := make([]string, len(g.proposals))
	for i, p := range g.proposals {
		parts[i] = p.Content
	}
	prompt, err := render("condense.user", map[string]any{"Page": g.page, "Parts": parts})
	if err != nil {
		return 0, err
	}

	var (
		out     condensed
		history []llm.Turn
	)
	for attempt := 1; ; attempt++ {
		if err := generateJSON(ctx, s.caller, pc, system, prompt, history, &out); err != nil {
			return 0, err
		}
		n := utf8.RuneCountInString(out.Content)
		if strings.TrimSpace(out.Content) == "" {
			return 0, fmt.Errorf("condensed content is empty")
		}
		if n <= s.opts.MaxLength || attempt >= s.opts.MaxAttempts {
			break
		}
		history = append(history,
			llm.Turn{Role: llm.RoleUser, Content: prompt},
			llm.Turn{Role: llm.RoleAssistant, Content: out.Content},
		)
		prompt, err = render("condense.retry", map[string]any{"Length": n, "MaxLength": s.opts.MaxLength})
		if err != nil {
			return 0, err
		}
	}

	head := g.proposals[0]
	head.Content = out.Content
	head.Condensed = true
	if utf8.RuneCountInString(out.Content) > s.opts.MaxLength {
		head.Warnings = appendUnique(head.Warnings, fmt.Sprintf("condensed content still exceeds %d characters", s.opts.MaxLength))
	}
	postProcess(s.chain, head)

	for _, p := range g.proposals[1:] {
		p.Status = pipeline.StatusRejected
		p.ReviewNotes = "merged into " + head.ID
	}
	return len(g.proposals) - 1, nil
}
