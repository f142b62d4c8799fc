package steps

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docpipe/internal/pipeline"
	"github.com/fyrsmithlabs/docpipe/internal/postprocess"
	"github.com/fyrsmithlabs/docpipe/internal/sanitize"
)

// ValidateOptions configure validate.
type ValidateOptions struct {
	LLMOptions `mapstructure:",squash"`
	MinLength  int  `mapstructure:"min_length" validate:"gte=0"`
	MaxLength  int  `mapstructure:"max_length" validate:"gte=0"`
	LLMCheck   bool `mapstructure:"llm_check"`
}

type llmVerdict struct {
	Valid  bool     `json:"valid"`
	Issues []string `json:"issues"`
}

type validateStep struct {
	base
	opts   ValidateOptions
	caller llmCaller
	chain  *postprocess.Chain
}

func defaultValidateOptions(d pipeline.Defaults) ValidateOptions {
	return ValidateOptions{LLMOptions: defaultLLMOptions(d), MinLength: 50, MaxLength: 20000}
}

func newValidate(cfg pipeline.StepConfig, deps pipeline.Deps) (pipeline.Step, error) {
	s := &validateStep{
		base:  newBase(cfg, deps, "Proposal Validator", "Checks proposals and marks them validated or rejected"),
		opts:  defaultValidateOptions(deps.Defaults),
		chain: deps.PostProcess,
	}
	if err := pipeline.DecodeOptions(cfg.Options, &s.opts); err != nil {
		return nil, err
	}
	if s.opts.LLMCheck {
		if err := requireLLM(deps, cfg.Type); err != nil {
			return nil, err
		}
		s.caller = llmCaller{provider: deps.LLM, opts: s.opts.LLMOptions, logger: s.logger}
	}
	return s, nil
}

func (s *validateStep) ValidateConfig(cfg pipeline.StepConfig) error {
	opts := defaultValidateOptions(pipeline.Defaults{})
	if err := pipeline.DecodeOptions(cfg.Options, &opts); err != nil {
		return err
	}
	if opts.MaxLength > 0 && opts.MinLength > opts.MaxLength {
		return fmt.Errorf("min_length %d exceeds max_length %d", opts.MinLength, opts.MaxLength)
	}
	return nil
}

// Execute checks every pending proposal and sets it validated or
// rejected. A proposal whose LLM check fails keeps its status.
func (s *validateStep) Execute(ctx context.Context, pc *pipeline.Context) (*pipeline.Context, error) {
	var pending []*pipeline.Proposal
	for _, p := range pc.AllProposals() {
		if p.Status == pipeline.StatusPending {
			pending = append(pending, p)
		}
	}

	results, err := pipeline.RunItems(ctx, pending,
		func(p *pipeline.Proposal) string { return p.ID },
		s.opts.items(s.cfg.HardStop),
		func(ctx context.Context, p *pipeline.Proposal) (pipeline.ProposalStatus, error) {
			return s.check(ctx, pc, p)
		})
	ok, err := finishItems(pc, s.cfg.ID, results, err)
	if err != nil {
		return pc, err
	}

	var validated, rejected int
	for _, r := range ok {
		switch r.Value {
		case pipeline.StatusValidated:
			validated++
		case pipeline.StatusRejected:
			rejected++
		}
	}
	pc.Metrics.Update(func(m *pipeline.Metrics) {
		m.ProposalsValidated += validated
		m.ProposalsRejected += rejected
	})
	s.logger.Info(ctx, "proposals validated",
		zap.Int("checked", len(pending)),
		zap.Int("validated", validated),
		zap.Int("rejected", rejected),
	)
	return pc, nil
}

func (s *validateStep) check(ctx context.Context, pc *pipeline.Context, p *pipeline.Proposal) (pipeline.ProposalStatus, error) {
	postProcess(s.chain, p)

	problems := s.structural(pc, p)
	if len(problems) == 0 && s.opts.LLMCheck {
		prompt, err := render("validate.user", p)
		if err != nil {
			return "", err
		}
		system, err := render("validate.system", nil)
		if err != nil {
			return "", err
		}
		var verdict llmVerdict
		if err := generateJSON(ctx, s.caller, pc, system, prompt, nil, &verdict); err != nil {
			return "", err
		}
		if !verdict.Valid {
			problems = append(problems, verdict.Issues...)
			if len(verdict.Issues) == 0 {
				problems = append(problems, "rejected by model review")
			}
		}
	}

	if len(problems) > 0 {
		for _, msg := range problems {
			p.Warnings = appendUnique(p.Warnings, "validation: "+msg)
		}
		p.Status = pipeline.StatusRejected
		return p.Status, nil
	}
	p.Status = pipeline.StatusValidated
	return p.Status, nil
}

// structural lists every rule p breaks.
func (s *validateStep) structural(pc *pipeline.Context, p *pipeline.Proposal) []string {
	var problems []string

	if strings.TrimSpace(p.Page) == "" {
		problems = append(problems, "page is empty")
	} else if _, err := sanitize.RelPath(p.Page); err != nil {
		problems = append(problems, fmt.Sprintf("page %q is not a relative documentation path: %v", p.Page, err))
	} else if !pc.Domain.PathFilter.Allows(p.Page) {
		problems = append(problems, fmt.Sprintf("page %q is outside the domain path filter", p.Page))
	}

	if p.UpdateType == UpdateDelete {
		return problems
	}
	n := utf8.RuneCountInString(strings.TrimSpace(p.Content))
	if n < s.opts.MinLength {
		problems = append(problems, fmt.Sprintf("content has %d characters, minimum is %d", n, s.opts.MinLength))
	}
	if s.opts.MaxLength > 0 && n > s.opts.MaxLength {
		problems = append(problems, fmt.Sprintf("content has %d characters, maximum is %d", n, s.opts.MaxLength))
	}
	return problems
}
