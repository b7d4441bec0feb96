// Package domain defines the types and contracts of the batch company
// resolver
package domain

import "strings"

// Row is one input record, column name to trimmed string value. A missing
// column and an empty value read the same
type Row map[string]string

// Get returns the trimmed value of col; absent columns read as empty
func (r Row) Get(col string) string {
	if col == "" {
		return ""
	}
	return strings.TrimSpace(r[col])
}

// Batch is the in-memory row table one resolution run operates on
type Batch []Row

// MatchType labels which override layer produced a mapping
type MatchType string

// Override sub-layers in strict priority order
const (
	MatchPlan        MatchType = "plan"
	MatchAccount     MatchType = "account"
	MatchHardcode    MatchType = "hardcode"
	MatchName        MatchType = "name"
	MatchAccountName MatchType = "account_name"
)

// MatchPriority aligns sub-layer names with their rank, plan=1 through
// account_name=5
var MatchPriority = map[MatchType]int{
	MatchPlan:        1,
	MatchAccount:     2,
	MatchHardcode:    3,
	MatchName:        4,
	MatchAccountName: 5,
}

// CompanyMapping is one in-memory override entry from the legacy YAML layer
type CompanyMapping struct {
	AliasName   string    `yaml:"alias"`
	CanonicalID string    `yaml:"company_id"`
	MatchType   MatchType `yaml:"match_type"`
	Priority    int       `yaml:"priority"`
	Source      string    `yaml:"source"`
}

// Strategy carries the per-run column wiring and feature flags
type Strategy struct {
	PlanCodeColumn      string
	AccountNumberColumn string
	AccountNameColumn   string
	CustomerNameColumn  string `validate:"required"`
	ExistingIDColumn    string
	OutputColumn        string `validate:"required"`

	GenerateTempIDs  bool
	EnableBackflow   bool
	EnableAsyncQueue bool
}

// EqcConfig controls the synchronous external lookup path
type EqcConfig struct {
	Enabled            bool
	SyncBudget         int `validate:"min=0"`
	AutoCreateProvider bool
	ExportUnknownNames bool
	AutoRefreshToken   bool
}

// invalidIDs are values that mean "no id" even though they are non-empty
var invalidIDs = map[string]struct{}{
	"N": {}, "NA": {}, "N/A": {}, "NONE": {}, "NULL": {}, "NAN": {},
}

// IsValidID reports whether s is a usable company id: non-empty after
// trimming and not one of the case-insensitive sentinels
func IsValidID(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	_, bad := invalidIDs[strings.ToUpper(s)]
	return !bad
}

// Stats aggregates one resolution run
type Stats struct {
	RunID     string
	TotalRows int

	YamlHits          map[MatchType]int
	DBCacheHits       int
	DBCacheHitsByType map[string]int

	ExistingColumnHits int
	EqcSyncHits        int
	TempIDsGenerated   int
	AsyncQueued        int
	BackflowWritten    int
	Unresolved         int

	BudgetConfigured int
	BudgetConsumed   int
	BudgetRemaining  int

	// DecisionPaths holds the per-row cache-layer trace, indexed like the
	// batch; rows resolved before the cache layer stay empty
	DecisionPaths []string
}

// NewStats prepares counters for a batch of n rows
func NewStats(runID string, n int) *Stats {
	return &Stats{
		RunID:             runID,
		TotalRows:         n,
		YamlHits:          map[MatchType]int{},
		DBCacheHitsByType: map[string]int{},
		DecisionPaths:     make([]string, n),
	}
}

// YamlHitTotal sums the override sub-layer hits
func (s *Stats) YamlHitTotal() int {
	n := 0
	for _, v := range s.YamlHits {
		n += v
	}
	return n
}

// Resolved counts rows that left the run with any id, temp ids included
func (s *Stats) Resolved() int { return s.TotalRows - s.Unresolved }
