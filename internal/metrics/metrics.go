// Package metrics tracks dispatcher-level counters and gauges. The collector
// is a passive accumulator: recording never blocks dispatcher progress, and
// read-only consumers poll Snapshot.
package metrics

import (
	"sync"
	"time"
)

// latencyWindow bounds the rolling per-job latency sample.
const latencyWindow = 256

// Collector tracks pipeline metrics.
type Collector struct {
	mu sync.RWMutex

	jobsProcessed   int64
	jobsCompleted   int64
	jobsFailed      int64
	jobsRetried     int64
	cacheHits       int64
	cacheMisses     int64
	transientErrors int64
	permanentErrors int64
	queueDepth      int64

	latencies [latencyWindow]time.Duration
	latIdx    int
	latCount  int
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{}
}

// RecordJob records one settled job: its outcome, how the cache lookup went,
// and the observed latency. Jobs that failed before reaching the cache report
// CacheSkipped and leave the hit rate untouched.
func (c *Collector) RecordJob(outcome Outcome, cacheRes CacheResult, latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.jobsProcessed++
	switch outcome {
	case OutcomeCompleted:
		c.jobsCompleted++
	case OutcomeFailed:
		c.jobsFailed++
	case OutcomeRetried:
		c.jobsRetried++
	}
	switch cacheRes {
	case CacheHit:
		c.cacheHits++
	case CacheMiss:
		c.cacheMisses++
	}

	c.latencies[c.latIdx] = latency
	c.latIdx = (c.latIdx + 1) % latencyWindow
	if c.latCount < latencyWindow {
		c.latCount++
	}
}

// RecordError counts an error by class.
func (c *Collector) RecordError(transient bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if transient {
		c.transientErrors++
	} else {
		c.permanentErrors++
	}
}

// SetQueueDepth updates the PENDING-jobs gauge.
func (c *Collector) SetQueueDepth(depth int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queueDepth = depth
}

// Outcome is the terminal disposition of one job attempt.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeRetried   Outcome = "retried"
)

// CacheResult is how the cache lookup went for one job attempt.
type CacheResult string

const (
	CacheHit     CacheResult = "hit"
	CacheMiss    CacheResult = "miss"
	CacheSkipped CacheResult = "skipped" // job failed before any lookup
)

// Snapshot is a point-in-time copy of all metrics.
type Snapshot struct {
	JobsProcessed   int64   `json:"jobs_processed"`
	JobsCompleted   int64   `json:"jobs_completed"`
	JobsFailed      int64   `json:"jobs_failed"`
	JobsRetried     int64   `json:"jobs_retried"`
	CacheHits       int64   `json:"cache_hits"`
	CacheMisses     int64   `json:"cache_misses"`
	CacheHitRate    float64 `json:"cache_hit_rate"`
	TransientErrors int64   `json:"transient_errors"`
	PermanentErrors int64   `json:"permanent_errors"`
	QueueDepth      int64   `json:"queue_depth"`
	AvgLatencyMs    float64 `json:"avg_latency_ms"`
}

// GetSnapshot returns a consistent snapshot of all metrics.
func (c *Collector) GetSnapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		JobsProcessed:   c.jobsProcessed,
		JobsCompleted:   c.jobsCompleted,
		JobsFailed:      c.jobsFailed,
		JobsRetried:     c.jobsRetried,
		CacheHits:       c.cacheHits,
		CacheMisses:     c.cacheMisses,
		TransientErrors: c.transientErrors,
		PermanentErrors: c.permanentErrors,
		QueueDepth:      c.queueDepth,
	}
	if lookups := c.cacheHits + c.cacheMisses; lookups > 0 {
		s.CacheHitRate = float64(c.cacheHits) / float64(lookups)
	}
	if c.latCount > 0 {
		var total time.Duration
		for i := 0; i < c.latCount; i++ {
			total += c.latencies[i]
		}
		s.AvgLatencyMs = float64(total.Milliseconds()) / float64(c.latCount)
	}
	return s
}
