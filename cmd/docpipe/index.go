package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docpipe/internal/retrieval"
)

func newIndexCmd(global *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "index [docs-dir]",
		Short: "Index documentation pages for retrieval",
		Long: `Walk a documentation tree and add every page that passes the domain
path filter to the vector store. Defaults to domain.docs_base_path.

Re-indexing replaces pages by their relative path.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, global.configPath)
			if err != nil {
				return err
			}
			defer a.Close(context.WithoutCancel(ctx))

			root := a.domain.DocsBasePath
			if len(args) == 1 {
				root = args[0]
			}
			if root == "" {
				return fmt.Errorf("no docs directory: pass one or set domain.docs_base_path")
			}

			stats, err := retrieval.Index(ctx, a.store, a.collection, root, a.domain.PathFilter, a.logger.Named("indexer"))
			if err != nil {
				return err
			}
			a.logger.Info(ctx, "index complete",
				zap.String("root", root),
				zap.String("collection", a.collection),
				zap.Int("indexed", stats.Indexed),
				zap.Int("skipped", stats.Skipped),
			)
			fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d pages into %s (%d skipped)\n", stats.Indexed, a.collection, stats.Skipped)
			return nil
		},
	}
}
