package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/docpipe/internal/config"
	"github.com/fyrsmithlabs/docpipe/internal/llm"
	"github.com/fyrsmithlabs/docpipe/internal/pipeline"
	"github.com/fyrsmithlabs/docpipe/internal/postprocess"
	"github.com/fyrsmithlabs/docpipe/internal/retrieval"
	"github.com/fyrsmithlabs/docpipe/internal/steps"
)

var errOffline = errors.New("offline: validation does not call providers")

// offlineLLM satisfies step constructors without credentials.
type offlineLLM struct{}

func (offlineLLM) Generate(context.Context, string, llm.Options) (*llm.Response, error) {
	return nil, errOffline
}

func (offlineLLM) GenerateWithHistory(context.Context, string, []llm.Turn, llm.Options) (*llm.Response, error) {
	return nil, errOffline
}

func newValidateCmd(global *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [definition.yaml]",
		Short: "Check configuration and a pipeline definition",
		Long: `Load the configuration and a pipeline definition and construct every
enabled step without contacting any provider. The definition defaults to
pipeline.definition_path, then to the built-in pipeline.

Every problem is reported, not only the first.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadWithFile(global.configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			path := cfg.Pipeline.DefinitionPath
			if len(args) == 1 {
				path = args[0]
			}
			return validateDefinition(cmd.OutOrStdout(), cfg, path)
		},
	}
}

func validateDefinition(w io.Writer, cfg *config.Config, path string) error {
	def, err := loadDefinition(path)
	if err != nil {
		return err
	}

	deps := pipeline.Deps{
		LLM: offlineLLM{},
		Retrieval: retrieval.ProviderFunc(func(context.Context, string, int) ([]retrieval.Document, error) {
			return nil, errOffline
		}),
		PostProcess: postprocess.Default(nil),
		Defaults: pipeline.Defaults{
			TopK:               cfg.Retrieval.TopK,
			MinSimilarity:      cfg.Retrieval.MinSimilarity,
			DisableLocaleDedup: !*cfg.Retrieval.DedupeLocales,
			Concurrency:        cfg.Pipeline.Concurrency,
		},
	}
	resolved, err := steps.NewRegistry().Resolve(def.Steps, deps)
	if err != nil {
		return fmt.Errorf("pipeline %q is invalid: %w", def.Name, err)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Pipeline %q: %d steps\n", def.Name, len(resolved))
	for _, r := range resolved {
		state := "enabled"
		switch {
		case r.Step == nil:
			state = "disabled"
		case r.Config.HardStop:
			state = "enabled, hard stop"
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", r.Config.ID, r.Config.Type, state)
	}
	return tw.Flush()
}
