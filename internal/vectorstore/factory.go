package vectorstore

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/docpipe/internal/config"
	"github.com/fyrsmithlabs/docpipe/internal/logging"
)

// NewStore builds the backend named by cfg.Provider. "chromem" (or empty)
// is embedded and needs no external service; "qdrant" dials a server.
func NewStore(ctx context.Context, cfg config.VectorStoreConfig, embedder Embedder, logger *logging.Logger) (Store, error) {
	switch cfg.Provider {
	case "chromem", "":
		return NewChromemStore(ChromemConfig{
			Path:     cfg.Chromem.Path,
			Compress: cfg.Chromem.Compress,
		}, embedder, logger)
	case "qdrant":
		return NewQdrantStore(ctx, QdrantConfig{
			Host:       cfg.Qdrant.Host,
			Port:       cfg.Qdrant.Port,
			UseTLS:     cfg.Qdrant.UseTLS,
			VectorSize: uint64(cfg.Qdrant.VectorSize),
		}, embedder, logger)
	default:
		return nil, fmt.Errorf("%w: unsupported provider %q (supported: chromem, qdrant)", ErrInvalidConfig, cfg.Provider)
	}
}
