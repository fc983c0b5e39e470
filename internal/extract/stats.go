package extract

import (
	"sort"
	"sync"
	"time"
)

// Operation labels recorded by the client.
const (
	OpSubmit   = "submit"
	OpPoll     = "poll"
	OpDownload = "download"
)

type sample struct {
	timestamp  time.Time
	op         string
	durationMs int64
	failed     bool
}

// LatencySummary aggregates a set of call durations.
type LatencySummary struct {
	Count  int     `json:"count"`
	Errors int     `json:"errors"`
	MinMs  int64   `json:"min_ms"`
	MaxMs  int64   `json:"max_ms"`
	AvgMs  float64 `json:"avg_ms"`
	P50Ms  float64 `json:"p50_ms"`
	P95Ms  float64 `json:"p95_ms"`
	P99Ms  float64 `json:"p99_ms"`
}

// StatsSnapshot aggregates recent extraction service calls, overall and per operation.
type StatsSnapshot struct {
	LatencySummary
	ByOp map[string]LatencySummary `json:"by_op,omitempty"`
}

// LatencyStats keeps service call durations for a rolling window. Safe for
// concurrent use by every pipeline sharing a Client.
type LatencyStats struct {
	mu      sync.Mutex
	samples []sample
	maxAge  time.Duration
}

func NewLatencyStats(maxAge time.Duration) *LatencyStats {
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	return &LatencyStats{
		samples: make([]sample, 0, 256),
		maxAge:  maxAge,
	}
}

// Record adds one call. failed marks calls that did not get a usable reply.
func (s *LatencyStats) Record(op string, d time.Duration, failed bool) {
	ms := d.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(now)
	s.samples = append(s.samples, sample{
		timestamp:  now,
		op:         op,
		durationMs: ms,
		failed:     failed,
	})
}

func (s *LatencyStats) Snapshot() StatsSnapshot {
	now := time.Now()

	s.mu.Lock()
	s.pruneLocked(now)
	samples := make([]sample, len(s.samples))
	copy(samples, s.samples)
	s.mu.Unlock()

	if len(samples) == 0 {
		return StatsSnapshot{}
	}

	byOp := make(map[string][]sample)
	for _, sm := range samples {
		byOp[sm.op] = append(byOp[sm.op], sm)
	}
	snap := StatsSnapshot{
		LatencySummary: summarize(samples),
		ByOp:           make(map[string]LatencySummary, len(byOp)),
	}
	for op, ss := range byOp {
		snap.ByOp[op] = summarize(ss)
	}
	return snap
}

func (s *LatencyStats) pruneLocked(now time.Time) {
	cutoff := now.Add(-s.maxAge)
	writeIdx := 0
	for _, sm := range s.samples {
		if !sm.timestamp.Before(cutoff) {
			s.samples[writeIdx] = sm
			writeIdx++
		}
	}
	s.samples = s.samples[:writeIdx]
}

func summarize(samples []sample) LatencySummary {
	if len(samples) == 0 {
		return LatencySummary{}
	}
	values := make([]int64, 0, len(samples))
	var sum int64
	errs := 0
	for _, sm := range samples {
		values = append(values, sm.durationMs)
		sum += sm.durationMs
		if sm.failed {
			errs++
		}
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })

	return LatencySummary{
		Count:  len(values),
		Errors: errs,
		MinMs:  values[0],
		MaxMs:  values[len(values)-1],
		AvgMs:  float64(sum) / float64(len(values)),
		P50Ms:  percentile(values, 50),
		P95Ms:  percentile(values, 95),
		P99Ms:  percentile(values, 99),
	}
}

func percentile(sortedValues []int64, pct float64) float64 {
	if len(sortedValues) == 0 {
		return 0
	}
	if pct <= 0 {
		return float64(sortedValues[0])
	}
	if pct >= 100 {
		return float64(sortedValues[len(sortedValues)-1])
	}

	index := (float64(len(sortedValues)-1) * pct) / 100.0
	lower := int(index)
	upper := lower + 1
	if upper >= len(sortedValues) {
		return float64(sortedValues[lower])
	}
	weight := index - float64(lower)
	lo := float64(sortedValues[lower])
	hi := float64(sortedValues[upper])
	return lo + ((hi - lo) * weight)
}
