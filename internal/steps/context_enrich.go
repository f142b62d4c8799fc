package steps

import (
	"cmp"
	"context"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docpipe/internal/pipeline"
)

// ContextEnrichOptions configure context-enrich.
type ContextEnrichOptions struct {
	Window      time.Duration `mapstructure:"window" validate:"gte=0"`
	MaxMessages int           `mapstructure:"max_messages" validate:"gte=0,lte=100"`
	SameTopic   bool          `mapstructure:"same_topic"`
}

type contextEnrich struct {
	base
	opts ContextEnrichOptions
}

func newContextEnrich(cfg pipeline.StepConfig, deps pipeline.Deps) (pipeline.Step, error) {
	s := &contextEnrich{base: newBase(cfg, deps, "Context Enricher", "Attaches neighbouring messages to each thread")}
	s.opts = defaultContextEnrichOptions()
	if err := pipeline.DecodeOptions(cfg.Options, &s.opts); err != nil {
		return nil, err
	}
	return s, nil
}

func defaultContextEnrichOptions() ContextEnrichOptions {
	return ContextEnrichOptions{Window: 30 * time.Minute, MaxMessages: 5, SameTopic: true}
}

func (s *contextEnrich) ValidateConfig(cfg pipeline.StepConfig) error {
	opts := defaultContextEnrichOptions()
	return pipeline.DecodeOptions(cfg.Options, &opts)
}

// Execute sets ContextMessages on every doc-relevant thread to the ids of
// up to MaxMessages batch messages outside the thread that share its topic
// or fall within Window of one of its messages. The closest messages in
// time are chosen and listed chronologically.
func (s *contextEnrich) Execute(ctx context.Context, pc *pipeline.Context) (*pipeline.Context, error) {
	index := pc.MessageIndex()
	enriched := 0

	for _, t := range pc.Threads {
		if err := ctx.Err(); err != nil {
			return pc, err
		}
		if !t.DocRelevant() {
			continue
		}
		t.ContextMessages = s.neighbours(t, index, pc.Messages)
		if len(t.ContextMessages) > 0 {
			enriched++
		}
	}

	s.logger.Info(ctx, "thread context attached",
		zap.Int("threads", len(pc.Threads)),
		zap.Int("enriched", enriched),
	)
	return pc, nil
}

func (s *contextEnrich) neighbours(t *pipeline.Thread, index map[string]pipeline.Message, batch []pipeline.Message) []string {
	if s.opts.MaxMessages == 0 {
		return nil
	}

	member := make(map[string]bool, len(t.MessageIDs))
	var own []pipeline.Message
	topics := make(map[string]bool)
	for _, id := range t.MessageIDs {
		member[id] = true
		if m, ok := index[id]; ok {
			own = append(own, m)
			if m.Topic != "" {
				topics[m.Topic] = true
			}
		}
	}
	if len(own) == 0 {
		return nil
	}

	type candidate struct {
		msg  pipeline.Message
		dist time.Duration
	}
	var cands []candidate
	for _, m := range batch {
		if member[m.ID] {
			continue
		}
		dist := nearest(m.Timestamp, own)
		if (s.opts.SameTopic && topics[m.Topic]) || (s.opts.Window > 0 && dist <= s.opts.Window) {
			cands = append(cands, candidate{msg: m, dist: dist})
		}
	}

	slices.SortStableFunc(cands, func(a, b candidate) int { return cmp.Compare(a.dist, b.dist) })
	cands = cands[:min(len(cands), s.opts.MaxMessages)]
	slices.SortStableFunc(cands, func(a, b candidate) int { return a.msg.Timestamp.Compare(b.msg.Timestamp) })

	ids := make([]string, len(cands))
	for i, c := range cands {
		ids[i] = c.msg.ID
	}
	return ids
}

func nearest(ts time.Time, msgs []pipeline.Message) time.Duration {
	best := time.Duration(1<<63 - 1)
	for _, m := range msgs {
		d := ts.Sub(m.Timestamp)
		if d < 0 {
			d = -d
		}
		best = min(best, d)
	}
	return best
}
