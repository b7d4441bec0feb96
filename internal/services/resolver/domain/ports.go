package domain

import "context"

// ResolverPort runs one batch through the full layer stack
type ResolverPort interface {
	Resolve(ctx context.Context, batch Batch, strat Strategy, eqc EqcConfig) (*Stats, error)
}
