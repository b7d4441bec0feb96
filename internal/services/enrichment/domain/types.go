// Package domain defines the core types and contracts for the enrichment
// cache and its durable lookup queue
package domain

import "time"

// LookupType is one of the five cache dimensions
type LookupType string

const (
	// TypePlanCode keys the cache by raw plan code
	TypePlanCode LookupType = "plan_code"

	// TypeAccountName keys the cache by raw account name
	TypeAccountName LookupType = "account_name"

	// TypeAccountNumber keys the cache by raw account number
	TypeAccountNumber LookupType = "account_number"

	// TypeCustomerName keys the cache by the normalized customer name
	TypeCustomerName LookupType = "customer_name"

	// TypePlanCustomer keys the cache by "<plan_code>|<normalized_customer>"
	TypePlanCustomer LookupType = "plan_customer"
)

// LookupPriority is the fixed probe order of the cache layer; the first
// non-sentinel hit wins
var LookupPriority = []LookupType{
	TypePlanCode, TypeAccountName, TypeAccountNumber, TypeCustomerName, TypePlanCustomer,
}

// Mapping sources
const (
	SourceInternal  = "internal"
	SourceEqc       = "eqc"
	SourceBackflow  = "pipeline_backflow"
	SourceLearning  = "domain_learning"
)

// TypedKey addresses one cache row
type TypedKey struct {
	Type LookupType
	Key  string
}

// IndexRecord is a persistent cache row
type IndexRecord struct {
	LookupKey    string
	LookupType   LookupType
	CompanyID    string
	Confidence   float64
	Source       string
	SourceDomain string
	SourceTable  string
	HitCount     int64
	LastHitAt    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IndexUpsert is the write shape for the cache. Conflicts never lower an
// existing row's confidence; identity fields only move when the incoming
// confidence is strictly higher
type IndexUpsert struct {
	Key          string
	Type         LookupType
	CompanyID    string
	Confidence   float64
	Source       string
	SourceDomain string
	SourceTable  string
}

// UpsertResult counts fresh inserts vs rows that took the conflict path
type UpsertResult struct {
	Inserted int
	Skipped  int
}

// Queue row statuses
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

// MaxRetryAttempts is the terminal attempt count; the third failure parks
// the row as failed
const MaxRetryAttempts = 3

// StaleAfterDefault bounds how long a row may sit in processing before
// recovery hands it back to pending
const StaleAfterDefault = 15 * time.Minute

// retryDelays is the bounded backoff curve, clamped at the last entry
var retryDelays = []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute}

// RetryDelay returns the backoff to apply after the given attempt count.
// Attempts start at 1; values beyond the curve clamp to its last step
func RetryDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if attempts > len(retryDelays) {
		attempts = len(retryDelays)
	}
	return retryDelays[attempts-1]
}

// EnqueueRequest is one name waiting for an external lookup
type EnqueueRequest struct {
	RawName        string
	NormalizedName string
	TempID         string
}

// EnqueueResult counts queued rows vs rows skipped by the in-flight
// uniqueness index
type EnqueueResult struct {
	Queued  int
	Skipped int
}

// QueueItem is one durable lookup request
type QueueItem struct {
	ID             int64
	RawName        string
	NormalizedName string
	TempID         string
	Status         string
	Attempts       int
	LastError      string
	NextRetryAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
