// Package metrics provides in-memory runtime statistics for the ingestion pipeline.
package metrics

import (
	"sync"
	"time"
)

// span tracks count, sum and extremes of a series of observations.
type span struct {
	n        int64
	sum      int64
	min, max int64
}

func (s *span) add(v int64) {
	if s.n == 0 || v < s.min {
		s.min = v
	}
	if v > s.max {
		s.max = v
	}
	s.n++
	s.sum += v
}

func (s span) avg() float64 {
	if s.n == 0 {
		return 0
	}
	return float64(s.sum) / float64(s.n)
}

// opStats aggregates one operation. Durations are kept in nanoseconds.
type opStats struct {
	failures int64
	elapsed  span
	in, out  span
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Count       int64   `json:"count"`
	Failures    int64   `json:"failures"`
	TotalTimeMs int64   `json:"total_time_ms"`
	AvgTimeMs   float64 `json:"avg_time_ms"`
	MinTimeMs   int64   `json:"min_time_ms"`
	MaxTimeMs   int64   `json:"max_time_ms"`

	// Token stats (nil if not applicable)
	TotalInputTokens  *int64   `json:"total_input_tokens,omitempty"`
	TotalOutputTokens *int64   `json:"total_output_tokens,omitempty"`
	AvgInputTokens    *float64 `json:"avg_input_tokens,omitempty"`
	AvgOutputTokens   *float64 `json:"avg_output_tokens,omitempty"`
	MinInputTokens    *int64   `json:"min_input_tokens,omitempty"`
	MaxInputTokens    *int64   `json:"max_input_tokens,omitempty"`
	MinOutputTokens   *int64   `json:"min_output_tokens,omitempty"`
	MaxOutputTokens   *int64   `json:"max_output_tokens,omitempty"`
}

// Snapshot represents the pipeline statistics at a point in time.
type Snapshot struct {
	UptimeSeconds float64            `json:"uptime_seconds"`
	Claim         *OperationSnapshot `json:"claim,omitempty"`
	Job           *OperationSnapshot `json:"job,omitempty"`
	Embedding     *OperationSnapshot `json:"embedding,omitempty"`
	Annotate      *OperationSnapshot `json:"annotate,omitempty"`
	ContentWrite  *OperationSnapshot `json:"content_write,omitempty"`
	GraphWrite    *OperationSnapshot `json:"graph_write,omitempty"`
}

// Operation names for the collector.
const (
	OpClaim        = "claim"
	OpJob          = "job"
	OpEmbedding    = "embedding"
	OpAnnotate     = "annotate"
	OpContentWrite = "content_write"
	OpGraphWrite   = "graph_write"
)

// Collector aggregates in-memory runtime statistics. Safe for concurrent use.
type Collector struct {
	mu      sync.RWMutex
	started time.Time
	ops     map[string]*opStats
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{started: time.Now(), ops: make(map[string]*opStats)}
}

// stats returns the entry for op, creating it. Caller holds the write lock.
func (c *Collector) stats(op string) *opStats {
	st := c.ops[op]
	if st == nil {
		st = &opStats{}
		c.ops[op] = st
	}
	return st
}

// RecordTiming records one successful run of op.
func (c *Collector) RecordTiming(op string, d time.Duration) {
	c.mu.Lock()
	c.stats(op).elapsed.add(int64(d))
	c.mu.Unlock()
}

// RecordFailure counts a failed attempt of an operation. Failures do not
// contribute to timing stats.
func (c *Collector) RecordFailure(op string) {
	c.mu.Lock()
	c.stats(op).failures++
	c.mu.Unlock()
}

// RecordLLMUsage records timing and token usage for an LLM call.
func (c *Collector) RecordLLMUsage(op string, d time.Duration, inputTokens, outputTokens int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.stats(op)
	st.elapsed.add(int64(d))
	st.in.add(inputTokens)
	st.out.add(outputTokens)
}

func ms(ns int64) int64 { return time.Duration(ns).Milliseconds() }

func (st *opStats) snapshot(withTokens bool) *OperationSnapshot {
	if st == nil || (st.elapsed.n == 0 && st.failures == 0) {
		return nil
	}
	snap := &OperationSnapshot{Count: st.elapsed.n, Failures: st.failures}
	if st.elapsed.n > 0 {
		snap.TotalTimeMs = ms(st.elapsed.sum)
		snap.AvgTimeMs = float64(snap.TotalTimeMs) / float64(st.elapsed.n)
		snap.MinTimeMs = ms(st.elapsed.min)
		snap.MaxTimeMs = ms(st.elapsed.max)
	}
	if !withTokens || (st.in.sum == 0 && st.out.sum == 0) {
		return snap
	}
	in, out := st.in, st.out
	inAvg, outAvg := in.avg(), out.avg()
	snap.TotalInputTokens, snap.TotalOutputTokens = &in.sum, &out.sum
	snap.AvgInputTokens, snap.AvgOutputTokens = &inAvg, &outAvg
	snap.MinInputTokens, snap.MaxInputTokens = &in.min, &in.max
	snap.MinOutputTokens, snap.MaxOutputTokens = &out.min, &out.max
	return snap
}

// Snapshot returns a point-in-time copy of all metrics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		UptimeSeconds: time.Since(c.started).Seconds(),
		Claim:         c.ops[OpClaim].snapshot(false),
		Job:           c.ops[OpJob].snapshot(false),
		Embedding:     c.ops[OpEmbedding].snapshot(false),
		Annotate:      c.ops[OpAnnotate].snapshot(true),
		ContentWrite:  c.ops[OpContentWrite].snapshot(false),
		GraphWrite:    c.ops[OpGraphWrite].snapshot(false),
	}
}
