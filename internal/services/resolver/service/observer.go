package service

import (
	"sort"
	"sync"
	"time"
)

// UnknownCompany aggregates occurrences of one unresolved raw name
type UnknownCompany struct {
	RawName     string
	TempID      string
	FirstSeen   time.Time
	Occurrences int
}

// ObserverSnapshot is a point-in-time copy of the run counters
type ObserverSnapshot struct {
	RunID        string
	StartedAt    time.Time
	TotalLookups int
	CacheHits    int
	TempIDs      int
	APICalls     int
	AsyncQueued  int
	QueueDepth   int64
	HitTypes     map[string]int
	CacheHitRate float64
	TempIDRate   float64
}

// Observer collects run telemetry. All methods are safe for concurrent use;
// recording never blocks resolution on anything but a mutex
type Observer struct {
	mu sync.Mutex

	runID        string
	startedAt    time.Time
	totalLookups int
	cacheHits    int
	tempIDs      int
	apiCalls     int
	asyncQueued  int
	queueDepth   int64
	hitTypes     map[string]int
	unknowns     map[string]*UnknownCompany

	now func() time.Time
}

// NewObserver starts telemetry for one run
func NewObserver(runID string) *Observer {
	o := &Observer{
		runID:    runID,
		hitTypes: make(map[string]int),
		unknowns: make(map[string]*UnknownCompany),
		now:      time.Now,
	}
	o.startedAt = o.now()
	return o
}

// RecordLookup counts one row entering resolution
func (o *Observer) RecordLookup() {
	o.mu.Lock()
	o.totalLookups++
	o.mu.Unlock()
}

// RecordCacheHit counts a resolution by any cached layer, keyed by hit type
// such as "yaml:plan", "db:plan_code" or "existing"
func (o *Observer) RecordCacheHit(hitType string) {
	o.mu.Lock()
	o.cacheHits++
	o.hitTypes[hitType]++
	o.mu.Unlock()
}

// RecordExternalHit counts a resolution by the external provider. It moves
// the hit-type breakdown only; cache hit rate stays a cache metric
func (o *Observer) RecordExternalHit() {
	o.mu.Lock()
	o.hitTypes["eqc"]++
	o.mu.Unlock()
}

// RecordAPICall counts one external provider call
func (o *Observer) RecordAPICall() {
	o.mu.Lock()
	o.apiCalls++
	o.mu.Unlock()
}

// RecordTempID counts a temp-id fallback and aggregates the unknown name.
// Names are keyed raw; repeats bump the occurrence count, first seen sticks
func (o *Observer) RecordTempID(rawName, tempID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tempIDs++
	o.hitTypes["temp_id"]++
	if u, ok := o.unknowns[rawName]; ok {
		u.Occurrences++
		return
	}
	o.unknowns[rawName] = &UnknownCompany{
		RawName:     rawName,
		TempID:      tempID,
		FirstSeen:   o.now(),
		Occurrences: 1,
	}
}

// RecordAsyncQueued counts rows handed to the durable queue
func (o *Observer) RecordAsyncQueued(n int) {
	o.mu.Lock()
	o.asyncQueued += n
	o.mu.Unlock()
}

// SetQueueDepth stores the last observed ready depth of the durable queue
func (o *Observer) SetQueueDepth(n int64) {
	o.mu.Lock()
	o.queueDepth = n
	o.mu.Unlock()
}

// Snapshot copies the counters with derived rates. Rates are zero when no
// lookups were recorded
func (o *Observer) Snapshot() ObserverSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := ObserverSnapshot{
		RunID:        o.runID,
		StartedAt:    o.startedAt,
		TotalLookups: o.totalLookups,
		CacheHits:    o.cacheHits,
		TempIDs:      o.tempIDs,
		APICalls:     o.apiCalls,
		AsyncQueued:  o.asyncQueued,
		QueueDepth:   o.queueDepth,
		HitTypes:     make(map[string]int, len(o.hitTypes)),
	}
	for k, v := range o.hitTypes {
		s.HitTypes[k] = v
	}
	if o.totalLookups > 0 {
		s.CacheHitRate = float64(o.cacheHits) / float64(o.totalLookups)
		s.TempIDRate = float64(o.tempIDs) / float64(o.totalLookups)
	}
	return s
}

// UnknownCompanies lists aggregated unresolved names, oldest first
func (o *Observer) UnknownCompanies() []UnknownCompany {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]UnknownCompany, 0, len(o.unknowns))
	for _, u := range o.unknowns {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FirstSeen.Equal(out[j].FirstSeen) {
			return out[i].RawName < out[j].RawName
		}
		return out[i].FirstSeen.Before(out[j].FirstSeen)
	})
	return out
}
