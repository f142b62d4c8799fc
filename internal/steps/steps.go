// Package steps holds the built-in pipeline stages and the registry that
// wires them.
//
//	keyword-filter   include/exclude keyword matching over the batch
//	classify         LLM grouping of messages into threads
//	context-enrich   neighbouring messages attached to each thread
//	rag-enrich       documentation retrieval per thread
//	generate         LLM proposals per thread
//	validate         post-processing and structural checks per proposal
//	condense         LLM shortening of long or crowded proposals
//	ruleset-review   LLM review against the domain ruleset
package steps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/invopop/jsonschema"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docpipe/internal/llm"
	"github.com/fyrsmithlabs/docpipe/internal/logging"
	"github.com/fyrsmithlabs/docpipe/internal/pipeline"
)

// Step types.
const (
	TypeKeywordFilter = "keyword-filter"
	TypeClassify      = "classify"
	TypeContextEnrich = "context-enrich"
	TypeRAGEnrich     = "rag-enrich"
	TypeGenerate      = "generate"
	TypeValidate      = "validate"
	TypeCondense      = "condense"
	TypeRulesetReview = "ruleset-review"
)

const stepVersion = "1.0.0"

// ErrMissingDependency is returned by constructors whose collaborator is
// absent from pipeline.Deps.
var ErrMissingDependency = errors.New("missing dependency")

// NewRegistry returns a registry holding every built-in step.
func NewRegistry() *pipeline.Registry {
	reg := pipeline.NewRegistry()
	if err := reg.RegisterSingleton(TypeKeywordFilter, newKeywordFilter); err != nil {
		panic(err)
	}
	reg.MustRegister(TypeClassify, newClassify)
	reg.MustRegister(TypeContextEnrich, newContextEnrich)
	reg.MustRegister(TypeRAGEnrich, newRAGEnrich)
	reg.MustRegister(TypeGenerate, newGenerate)
	reg.MustRegister(TypeValidate, newValidate)
	reg.MustRegister(TypeCondense, newCondense)
	reg.MustRegister(TypeRulesetReview, newRulesetReview)
	return reg
}

// LLMOptions are shared by every LLM-backed step.
type LLMOptions struct {
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int           `mapstructure:"max_tokens" validate:"gte=0,lte=64000"`
	Timeout     time.Duration `mapstructure:"timeout" validate:"gte=0"`
	Concurrency int           `mapstructure:"concurrency" validate:"gte=0,lte=64"`
}

func (o LLMOptions) items(hard bool) pipeline.ItemOptions {
	return pipeline.ItemOptions{Concurrency: o.Concurrency, Timeout: o.Timeout, FailFast: hard}
}

func (o LLMOptions) request(system string) llm.Options {
	return llm.Options{
		Model:       o.Model,
		Temperature: o.Temperature,
		MaxTokens:   o.MaxTokens,
		System:      system,
	}
}

func defaultLLMOptions(d pipeline.Defaults) LLMOptions {
	return LLMOptions{Temperature: 0.2, Timeout: 2 * time.Minute, Concurrency: d.Concurrency}
}

// base carries what every step keeps from construction.
type base struct {
	cfg    pipeline.StepConfig
	logger *logging.Logger
	meta   pipeline.StepMetadata
}

func newBase(cfg pipeline.StepConfig, deps pipeline.Deps, name, description string) base {
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return base{
		cfg:    cfg,
		logger: logger.Named(cfg.Type),
		meta:   pipeline.StepMetadata{Name: name, Description: description, Version: stepVersion},
	}
}

func (b *base) Metadata() pipeline.StepMetadata { return b.meta }

// llmCaller issues structured generation requests on behalf of a step.
type llmCaller struct {
	provider llm.Provider
	opts     LLMOptions
	logger   *logging.Logger
}

func requireLLM(deps pipeline.Deps, stepType string) error {
	if deps.LLM == nil {
		return fmt.Errorf("%w: %s needs an llm provider", ErrMissingDependency, stepType)
	}
	return nil
}

// generateJSON asks for a response matching T's schema and decodes it into
// out. Token usage is counted on pc whether or not decoding succeeds.
func generateJSON[T any](ctx context.Context, c llmCaller, pc *pipeline.Context, system, prompt string, history []llm.Turn, out *T) error {
	opts := c.opts.request(system)
	opts.ResponseSchema = schemaFor[T]()

	start := time.Now()
	var (
		resp *llm.Response
		err  error
	)
	if len(history) > 0 {
		resp, err = c.provider.GenerateWithHistory(ctx, prompt, history, opts)
	} else {
		resp, err = c.provider.Generate(ctx, prompt, opts)
	}
	if err != nil {
		return fmt.Errorf("generation failed: %w", err)
	}
	pc.Metrics.AddLLMUsage(resp.TokensUsed)
	c.logger.Debug(ctx, "llm call",
		zap.Int("tokens", resp.TokensUsed),
		zap.String("finish_reason", resp.FinishReason),
		zap.Duration("duration", time.Since(start)),
	)

	if err := decodeJSON(resp.Text, out); err != nil {
		return err
	}
	return nil
}

var schemas sync.Map

// schemaFor reflects T into a JSON schema map, once per type.
func schemaFor[T any]() map[string]any {
	t := reflect.TypeFor[T]()
	if s, ok := schemas.Load(t); ok {
		return s.(map[string]any)
	}

	r := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: false,
	}
	b, err := json.Marshal(r.ReflectFromType(t))
	if err != nil {
		panic(fmt.Sprintf("reflecting schema for %s: %v", t, err))
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		panic(fmt.Sprintf("reflecting schema for %s: %v", t, err))
	}
	delete(m, "$schema")
	delete(m, "$id")

	s, _ := schemas.LoadOrStore(t, m)
	return s.(map[string]any)
}

// decodeJSON parses a model reply, tolerating markdown fences and prose
// around the object.
func decodeJSON(text string, out any) error {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	if start, end := strings.IndexByte(text, '{'), strings.LastIndexByte(text, '}'); start >= 0 && end > start {
		text = text[start : end+1]
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return fmt.Errorf("decoding model response: %w", err)
	}
	return nil
}

// finishItems reduces per-item results: a hard step returns the first
// failure, a soft one records every failure on pc.
func finishItems[R any](pc *pipeline.Context, stepID string, results []pipeline.ItemResult[R], err error) ([]pipeline.ItemResult[R], error) {
	if err != nil {
		return nil, err
	}
	return pipeline.Collect(pc, stepID, results), nil
}
