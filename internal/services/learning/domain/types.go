// Package domain defines the types of the mapping-learning pass that mines
// already-resolved pipeline output for new cache entries
package domain

import (
	endomain "wdh/internal/services/enrichment/domain"
)

// ColumnMap names the columns of one source domain's output table
type ColumnMap struct {
	PlanCode      string
	AccountNumber string
	AccountName   string
	CustomerName  string
	CompanyID     string
}

// Config controls what gets learned and how confident the results are
type Config struct {
	// EnabledDomains whitelists source domains; empty disables learning
	EnabledDomains []string

	// EnabledTypes limits which cache dimensions are mined
	EnabledTypes []endomain.LookupType

	// Confidence assigns the learned confidence per dimension
	Confidence map[endomain.LookupType]float64

	// MinRecords gates learning; smaller batches carry too much noise
	MinRecords int

	// MinConfidence drops dimensions configured below this floor
	MinConfidence float64

	// Columns maps each source domain to its column layout
	Columns map[string]ColumnMap
}

// DomainEnabled reports whether source domain d participates
func (c Config) DomainEnabled(d string) bool {
	for _, e := range c.EnabledDomains {
		if e == d {
			return true
		}
	}
	return false
}

// TypeEnabled reports whether dimension t is mined
func (c Config) TypeEnabled(t endomain.LookupType) bool {
	for _, e := range c.EnabledTypes {
		if e == t {
			return true
		}
	}
	return false
}

// ConfidenceFor returns the configured confidence for t, zero when unset
func (c Config) ConfidenceFor(t endomain.LookupType) float64 {
	return c.Confidence[t]
}

// Result summarizes one learning pass
type Result struct {
	// Pairs counts distinct usable key-to-id pairs found in the batch
	Pairs int

	// Ambiguous counts keys dropped because the batch mapped them to more
	// than one company id
	Ambiguous int

	// Written and Touched mirror the cache upsert outcome
	Written int
	Touched int

	// Skipped is true when the pass did not run (domain disabled, batch too
	// small, missing column map or write failure)
	Skipped bool
	Reason  string
}
