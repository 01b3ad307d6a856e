package store

import (
	"context"
	"slices"

	"github.com/strand-protocol/strand/rollout-cloud/pkg/model"
)

// DefaultBatchSize bounds bulk reads and writes.
const DefaultBatchSize = 1000

// ForEachBatch calls fn for consecutive chunks of at most size items.
func ForEachBatch[T any](items []T, size int, fn func(batch []T) error) error {
	if size <= 0 {
		size = DefaultBatchSize
	}
	for chunk := range slices.Chunk(items, size) {
		if err := fn(chunk); err != nil {
			return err
		}
	}
	return nil
}

// PageThrough calls fetch with successive pages of size items until a page
// comes back short, and passes each non-empty page to fn.
func PageThrough[T any](ctx context.Context, size int, fetch func(ctx context.Context, page model.Page) ([]T, error), fn func(items []T) error) error {
	if size <= 0 {
		size = DefaultBatchSize
	}
	for offset := 0; ; offset += size {
		if err := ctx.Err(); err != nil {
			return err
		}
		items, err := fetch(ctx, model.Page{Offset: offset, Limit: size})
		if err != nil {
			return err
		}
		if len(items) > 0 {
			if err := fn(items); err != nil {
				return err
			}
		}
		if len(items) < size {
			return nil
		}
	}
}
