package domain

import "context"

// Confidence defaults per mapping source. External confirmations outrank
// pipeline back-flow so a later eqc hit can correct a back-flowed row
const (
	ConfidenceEqc      = 0.95
	ConfidenceBackflow = 0.80
)

// LookupHit is a successful external resolution
type LookupHit struct {
	CompanyID    string
	OfficialName string
}

// Provider is the external company-lookup contract the core consumes.
// The provider owns its request budget and enforces it atomically; callers
// never decrement on their own
type Provider interface {
	// Available reports whether the provider is configured and has budget left
	Available() bool

	// Budget and RemainingBudget expose the per-run request allowance
	Budget() int
	RemainingBudget() int

	// SetBudget aligns the allowance with the caller's per-run budget
	SetBudget(n int)

	// Lookup resolves one raw name. nil with no error means the provider
	// has no match; any error is a plain failure the caller routes around
	Lookup(ctx context.Context, rawName string) (*LookupHit, error)
}
