// Docpipe turns community chat into documentation change proposals.
//
// Usage:
//
//	# Run the default pipeline over a message export
//	docpipe run messages.json
//
//	# Serve the HTTP API
//	docpipe serve --config docpipe.yaml
//
//	# Index a documentation tree for retrieval
//	docpipe index ./docs
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	var flags globalFlags

	root := &cobra.Command{
		Use:   "docpipe",
		Short: "Turn community chat into documentation proposals",
		Long: `docpipe runs a configurable pipeline over chat or forum messages:
it filters noise, groups messages into threads, retrieves the relevant
documentation pages and drafts reviewed change proposals for them.

Configuration is read from the file given by --config and overridden by
DOCPIPE_* environment variables.`,
		Version:       version,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to docpipe YAML config")

	root.AddCommand(
		newRunCmd(&flags),
		newServeCmd(&flags),
		newIndexCmd(&flags),
		newValidateCmd(&flags),
		newStatsCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}

// printVersion prints version information
func printVersion(w io.Writer) {
	fmt.Fprintf(w, "docpipe by Fyrsmith Labs\n")
	fmt.Fprintf(w, "Version:    %s\n", version)
	fmt.Fprintf(w, "Commit:     %s\n", gitCommit)
	fmt.Fprintf(w, "Build Date: %s\n", buildDate)
}
