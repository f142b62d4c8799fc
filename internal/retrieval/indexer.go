package retrieval

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docpipe/internal/logging"
	"github.com/fyrsmithlabs/docpipe/internal/sanitize"
	"github.com/fyrsmithlabs/docpipe/internal/vectorstore"
)

// indexable lists the page extensions the indexer reads.
var indexable = map[string]bool{
	".md":       true,
	".mdx":      true,
	".markdown": true,
	".html":     true,
	".htm":      true,
}

const (
	indexBatchSize  = 32
	maxIndexedBytes = 256 << 10
)

// IndexStats summarizes an Index run.
type IndexStats struct {
	Indexed int `json:"indexed"`
	Skipped int `json:"skipped"`
}

// Index walks root and adds every documentation page that passes filter to
// collection. Document ids and file_path metadata are slash-separated paths
// relative to root, so re-indexing replaces earlier entries.
func Index(ctx context.Context, store vectorstore.Store, collection, root string, filter PathFilter, logger *logging.Logger) (IndexStats, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	var stats IndexStats
	batch := make([]vectorstore.Document, 0, indexBatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := store.AddDocuments(ctx, collection, batch); err != nil {
			return fmt.Errorf("indexing batch: %w", err)
		}
		stats.Indexed += len(batch)
		batch = batch[:0]
		return nil
	}

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if p != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !indexable[strings.ToLower(filepath.Ext(p))] {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel, err = sanitize.RelPath(filepath.ToSlash(rel))
		if err != nil || !filter.Allows(rel) {
			stats.Skipped++
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() > maxIndexedBytes {
			logger.Warn(ctx, "skipping oversized page", zap.String("path", rel), zap.Int64("size", info.Size()))
			stats.Skipped++
			return nil
		}

		content, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("reading %s: %w", rel, err)
		}
		text := string(content)
		if strings.TrimSpace(text) == "" {
			stats.Skipped++
			return nil
		}

		batch = append(batch, vectorstore.Document{
			ID:      rel,
			Content: text,
			Metadata: map[string]string{
				vectorstore.MetaFilePath: rel,
				vectorstore.MetaTitle:    pageTitle(rel, text),
			},
		})
		if len(batch) == indexBatchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("walking %s: %w", root, err)
	}
	if err := flush(); err != nil {
		return stats, err
	}

	logger.Info(ctx, "indexed documentation",
		zap.String("collection", collection),
		zap.Int("indexed", stats.Indexed),
		zap.Int("skipped", stats.Skipped),
	)
	return stats, nil
}

// pageTitle returns the first markdown heading, the front matter title, or
// the file name without extension.
func pageTitle(rel, text string) string {
	sc := bufio.NewScanner(strings.NewReader(text))
	inFront := false
	for n := 0; sc.Scan() && n < 200; n++ {
		line := strings.TrimSpace(sc.Text())
		if n == 0 && line == "---" {
			inFront = true
			continue
		}
		if inFront {
			if line == "---" {
				inFront = false
			} else if v, ok := strings.CutPrefix(line, "title:"); ok {
				return strings.Trim(strings.TrimSpace(v), `"'`)
			}
			continue
		}
		if t, ok := strings.CutPrefix(line, "# "); ok {
			return strings.TrimSpace(t)
		}
	}
	base := path.Base(rel)
	return strings.TrimSuffix(base, path.Ext(base))
}
