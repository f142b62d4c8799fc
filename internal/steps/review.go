package steps

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docpipe/internal/pipeline"
)

// Review decisions.
const (
	DecisionAccept = "accept"
	DecisionFlag   = "flag"
	DecisionReject = "reject"
)

// RulesetReviewOptions configure ruleset-review.
type RulesetReviewOptions struct {
	LLMOptions     `mapstructure:",squash"`
	IncludePending bool `mapstructure:"include_pending"`
}

type reviewDecision struct {
	Decision string `json:"decision" jsonschema:"enum=accept,enum=flag,enum=reject"`
	Notes    string `json:"notes"`
}

type rulesetReview struct {
	base
	opts   RulesetReviewOptions
	caller llmCaller
}

func newRulesetReview(cfg pipeline.StepConfig, deps pipeline.Deps) (pipeline.Step, error) {
	if err := requireLLM(deps, cfg.Type); err != nil {
		return nil, err
	}
	s := &rulesetReview{
		base: newBase(cfg, deps, "Ruleset Reviewer", "Accepts, flags or rejects proposals against the domain ruleset"),
		opts: RulesetReviewOptions{LLMOptions: defaultLLMOptions(deps.Defaults)},
	}
	if err := pipeline.DecodeOptions(cfg.Options, &s.opts); err != nil {
		return nil, err
	}
	s.caller = llmCaller{provider: deps.LLM, opts: s.opts.LLMOptions, logger: s.logger}
	return s, nil
}

func (s *rulesetReview) ValidateConfig(cfg pipeline.StepConfig) error {
	var opts RulesetReviewOptions
	return pipeline.DecodeOptions(cfg.Options, &opts)
}

// Execute reviews validated proposals, and pending ones when configured,
// against Domain.Ruleset. Without a ruleset it does nothing.
func (s *rulesetReview) Execute(ctx context.Context, pc *pipeline.Context) (*pipeline.Context, error) {
	if strings.TrimSpace(pc.Domain.Ruleset) == "" {
		s.logger.Info(ctx, "no ruleset configured, skipping review")
		return pc, nil
	}
	system, err := render("review.system", map[string]any{"Ruleset": pc.Domain.Ruleset})
	if err != nil {
		return pc, err
	}

	var todo []*pipeline.Proposal
	for _, p := range pc.AllProposals() {
		if p.Status == pipeline.StatusValidated || (s.opts.IncludePending && p.Status == pipeline.StatusPending) {
			todo = append(todo, p)
		}
	}

	results, err := pipeline.RunItems(ctx, todo,
		func(p *pipeline.Proposal) string { return p.ID },
		s.opts.items(s.cfg.HardStop),
		func(ctx context.Context, p *pipeline.Proposal) (pipeline.ProposalStatus, error) {
			return s.review(ctx, pc, system, p)
		})
	ok, err := finishItems(pc, s.cfg.ID, results, err)
	if err != nil {
		return pc, err
	}

	counts := map[pipeline.ProposalStatus]int{}
	for _, r := range ok {
		counts[r.Value]++
	}
	pc.Metrics.Update(func(m *pipeline.Metrics) {
		m.ProposalsAccepted += counts[pipeline.StatusAccepted]
		m.ProposalsFlagged += counts[pipeline.StatusFlagged]
		m.ProposalsRejected += counts[pipeline.StatusRejected]
	})
	s.logger.Info(ctx, "proposals reviewed",
		zap.Int("reviewed", len(todo)),
		zap.Int("accepted", counts[pipeline.StatusAccepted]),
		zap.Int("flagged", counts[pipeline.StatusFlagged]),
		zap.Int("rejected", counts[pipeline.StatusRejected]),
	)
	return pc, nil
}

func (s *rulesetReview) review(ctx context.Context, pc *pipeline.Context, system string, p *pipeline.Proposal) (pipeline.ProposalStatus, error) {
	prompt, err := render("review.user", p)
	if err != nil {
		return "", err
	}
	var d reviewDecision
	if err := generateJSON(ctx, s.caller, pc, system, prompt, nil, &d); err != nil {
		return "", err
	}

	var status pipeline.ProposalStatus
	switch strings.ToLower(strings.TrimSpace(d.Decision)) {
	case DecisionAccept:
		status = pipeline.StatusAccepted
	case DecisionFlag:
		status = pipeline.StatusFlagged
	case DecisionReject:
		status = pipeline.StatusRejected
	default:
		return "", fmt.Errorf("unknown review decision %q", d.Decision)
	}
	p.Status = status
	p.ReviewNotes = strings.TrimSpace(d.Notes)
	return status, nil
}
