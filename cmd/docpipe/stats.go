package main

import (
	"fmt"
	"io"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/docpipe/internal/monitor"
)

type statsFlags struct {
	metricsURL string
	window     time.Duration
}

func newStatsCmd() *cobra.Command {
	var flags statsFlags

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize pipeline metrics from Prometheus",
		Long: `Query a Prometheus-compatible server (Prometheus, VictoriaMetrics) that
scrapes docpipe's /metrics endpoint and summarize recent runs.

Examples:
  docpipe stats --metrics-url http://localhost:8428 --window 24h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := monitor.NewClient(flags.metricsURL)
			stats, err := client.Stats(cmd.Context(), flags.window)
			if err != nil {
				return fmt.Errorf("querying metrics: %w", err)
			}
			printStats(cmd.OutOrStdout(), stats)
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.metricsURL, "metrics-url", "http://localhost:9090", "Prometheus-compatible query API base URL")
	cmd.Flags().DurationVar(&flags.window, "window", time.Hour, "lookback window")
	return cmd
}

func printStats(w io.Writer, s monitor.Stats) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Window:\t%s\n", s.Window)
	fmt.Fprintf(tw, "Runs:\t%.0f (%s failed)\n", s.Runs, monitor.FormatPercentage(s.FailureRatio()))
	fmt.Fprintf(tw, "Run latency p95:\t%s\n", monitor.FormatLatency(s.RunLatencyP95))
	fmt.Fprintf(tw, "Tokens:\t%s\n", monitor.FormatTokens(s.TokensUsed))
	fmt.Fprintf(tw, "Proposals:\t%.0f generated, %.0f kept\n", s.ProposalsMade, s.ProposalsKept)
	fmt.Fprintf(tw, "Item errors:\t%.0f\n", s.ItemErrors)

	steps := make([]string, 0, len(s.StepLatencyP95))
	for id := range s.StepLatencyP95 {
		steps = append(steps, id)
	}
	slices.Sort(steps)
	if len(steps) > 0 {
		fmt.Fprintf(tw, "\nStep\tp95\tfailure rate\n")
	}
	for _, id := range steps {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", id,
			monitor.FormatLatency(s.StepLatencyP95[id]),
			monitor.FormatPercentage(s.StepFailureRate[id]))
	}
	tw.Flush()
}
