package store

import (
	"context"

	"wdh/internal/platform/store/pg"
)

// WithRunID attaches a resolution run id to the context. Queries issued
// under this context carry the id in their trace events
func WithRunID(ctx context.Context, id string) context.Context {
	return pg.WithRunID(ctx, id)
}

// RunID retrieves a run id from context if present
func RunID(ctx context.Context) (string, bool) {
	return pg.RunID(ctx)
}
