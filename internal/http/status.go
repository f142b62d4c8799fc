package http

import (
	"context"
	"errors"

	"github.com/fyrsmithlabs/docpipe/internal/vectorstore"
)

// documentCount returns the number of indexed pages in collection, or -1
// when there is no store, no collection, or the count fails. A collection
// that does not exist yet counts as empty.
func documentCount(ctx context.Context, store vectorstore.Store, collection string) int {
	if store == nil || collection == "" {
		return -1
	}
	n, err := store.Count(ctx, collection)
	if errors.Is(err, vectorstore.ErrCollectionNotFound) {
		return 0
	}
	if err != nil {
		return -1
	}
	return n
}
