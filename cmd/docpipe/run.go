package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docpipe/internal/logging"
	"github.com/fyrsmithlabs/docpipe/internal/monitor"
	"github.com/fyrsmithlabs/docpipe/internal/pipeline"
)

const maxMessagesSize = 64 << 20

type runFlags struct {
	runID   string
	outPath string
}

func newRunCmd(global *globalFlags) *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run [messages.json|-]",
		Short: "Run the pipeline over a batch of messages",
		Long: `Run the configured pipeline once over a batch of messages and print a
summary. Messages are read from a JSON file, or stdin when the argument is
"-" or omitted, either as an array or as {"messages": [...]}.

The full report is written to --out and, when pipeline.proposals_out_path
is configured, saved there as <run id>.json.

Examples:
  # Run over an export
  docpipe run messages.json

  # Pipe messages in and keep the report
  cat messages.json | docpipe run - --out report.json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source := "-"
			if len(args) == 1 {
				source = args[0]
			}
			return runPipeline(cmd, global.configPath, source, flags)
		},
	}
	cmd.Flags().StringVar(&flags.runID, "run-id", "", "run identifier (generated when empty)")
	cmd.Flags().StringVarP(&flags.outPath, "out", "o", "", "write the JSON report to this file")
	return cmd
}

func runPipeline(cmd *cobra.Command, configPath, source string, flags runFlags) error {
	ctx := cmd.Context()

	msgs, err := readMessages(cmd.InOrStdin(), source)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	runID := flags.runID
	if runID == "" {
		runID = pipeline.NewRunID()
	}
	ctx = logging.WithRunID(ctx, runID)

	pc := pipeline.NewContext(runID, msgs, a.domain)
	res := a.orchestrator().Run(ctx, pc, a.definition.Steps)
	report := pipeline.NewReport(res, a.cfg.Pipeline.CostPer1KTokens)

	// a cancelled run still leaves a report behind
	saveCtx := context.WithoutCancel(ctx)
	if a.sink != nil {
		if err := a.sink.Save(saveCtx, report); err != nil {
			a.logger.Error(saveCtx, "saving report failed", zap.Error(err))
		}
	}
	if flags.outPath != "" {
		if err := writeReport(flags.outPath, report); err != nil {
			return err
		}
	}

	printSummary(cmd.OutOrStdout(), report)
	if res.Err != nil {
		return fmt.Errorf("run %s %s: %w", res.RunID, res.Status, res.Err)
	}
	return nil
}

// readMessages decodes a message batch from source, where "-" is stdin.
func readMessages(stdin io.Reader, source string) ([]pipeline.Message, error) {
	r := stdin
	if source != "-" {
		f, err := os.Open(source)
		if err != nil {
			return nil, fmt.Errorf("opening messages: %w", err)
		}
		defer f.Close()
		r = f
	}

	b, err := io.ReadAll(io.LimitReader(r, maxMessagesSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading messages: %w", err)
	}
	if len(b) > maxMessagesSize {
		return nil, fmt.Errorf("messages exceed %d bytes", maxMessagesSize)
	}
	return parseMessages(b)
}

func parseMessages(b []byte) ([]pipeline.Message, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil, errors.New("no messages")
	}

	var msgs []pipeline.Message
	if b[0] == '[' {
		if err := json.Unmarshal(b, &msgs); err != nil {
			return nil, fmt.Errorf("decoding messages: %w", err)
		}
	} else {
		var batch struct {
			Messages []pipeline.Message `json:"messages"`
		}
		if err := json.Unmarshal(b, &batch); err != nil {
			return nil, fmt.Errorf("decoding messages: %w", err)
		}
		msgs = batch.Messages
	}

	if len(msgs) == 0 {
		return nil, errors.New("no messages")
	}
	seen := make(map[string]bool, len(msgs))
	for i, m := range msgs {
		if m.ID == "" {
			return nil, fmt.Errorf("message %d has no id", i)
		}
		if seen[m.ID] {
			return nil, fmt.Errorf("duplicate message id %q", m.ID)
		}
		seen[m.ID] = true
	}
	return msgs, nil
}

func writeReport(path string, report *pipeline.Report) error {
	b, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	if err := os.WriteFile(path, append(b, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

func printSummary(w io.Writer, r *pipeline.Report) {
	m := r.Metrics
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Run:\t%s\n", r.RunID)
	fmt.Fprintf(tw, "Status:\t%s\n", r.Status)
	if r.Error != "" {
		fmt.Fprintf(tw, "Error:\t%s\n", r.Error)
	}
	fmt.Fprintf(tw, "Messages:\t%d total, %d filtered\n", m.MessagesTotal, m.MessagesFiltered)
	fmt.Fprintf(tw, "Threads:\t%d created, %d enriched\n", m.ThreadsCreated, m.ThreadsEnriched)
	fmt.Fprintf(tw, "Proposals:\t%d generated, %d accepted, %d flagged, %d rejected\n",
		m.ProposalsGenerated, m.ProposalsAccepted, m.ProposalsFlagged, m.ProposalsRejected)
	fmt.Fprintf(tw, "LLM:\t%d calls, %s tokens, %s\n",
		m.LLMCalls, monitor.FormatTokens(float64(m.LLMTokensUsed)), monitor.FormatCost(m.EstimatedCostUSD))
	fmt.Fprintf(tw, "Errors:\t%d\n", m.ErrorCount)
	fmt.Fprintf(tw, "Duration:\t%s\n", monitor.FormatDuration(m.TotalDurationMs))

	ids := make([]string, 0, len(m.StepDurationsMs))
	for id := range m.StepDurationsMs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		fmt.Fprintf(tw, "  %s\t%s\n", id, monitor.FormatDuration(m.StepDurationsMs[id]))
	}
	tw.Flush()
}
