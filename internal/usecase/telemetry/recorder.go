package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"slices"
	"sync"
	"time"
)

// DefaultWindow is the number of retained query stats.
const DefaultWindow = 1000

// Stat describes one completed search, including cache hits and failures.
type Stat struct {
	Query          string        `json:"query"` // fingerprint, never raw text
	ExecutionTime  time.Duration `json:"execution_time"`
	EmbeddingTime  time.Duration `json:"embedding_time"`
	DBTime         time.Duration `json:"db_time"`
	ResultsCount   int           `json:"results_count"`
	FiltersApplied int           `json:"filters_applied"`
	FromCache      bool          `json:"from_cache"`
	Outcome        string        `json:"outcome"` // "ok" or an error kind
	At             time.Time     `json:"at"`
}

// Summary aggregates the retained window.
type Summary struct {
	Total      int           `json:"total"`
	Hits       int           `json:"hits"`
	Misses     int           `json:"misses"`
	Errors     int           `json:"errors"`
	HitRatio   float64       `json:"hit_ratio"`
	AvgLatency time.Duration `json:"avg_latency"`
	P50        time.Duration `json:"p50"`
	P95        time.Duration `json:"p95"`
	P99        time.Duration `json:"p99"`
	AvgResults float64       `json:"avg_results"`
}

// Recorder keeps the last N stats in a ring.
type Recorder struct {
	mu    sync.Mutex
	ring  []Stat
	next  int
	full  bool
	total uint64
}

// NewRecorder creates a Recorder retaining window stats.
func NewRecorder(window int) *Recorder {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Recorder{ring: make([]Stat, window)}
}

// Fingerprint hashes query text so stats never hold it.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Record appends s, evicting the oldest stat when full.
func (r *Recorder) Record(s Stat) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ring[r.next] = s
	r.next = (r.next + 1) % len(r.ring)
	if r.next == 0 {
		r.full = true
	}
	r.total++
}

// Recent returns retained stats, oldest first.
func (r *Recorder) Recent() []Stat {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		return slices.Clone(r.ring[:r.next])
	}
	out := make([]Stat, 0, len(r.ring))
	out = append(out, r.ring[r.next:]...)
	return append(out, r.ring[:r.next]...)
}

// Recorded returns the number of stats ever recorded.
func (r *Recorder) Recorded() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// Summary aggregates the retained window.
func (r *Recorder) Summary() Summary {
	stats := r.Recent()

	var s Summary
	s.Total = len(stats)
	if s.Total == 0 {
		return s
	}

	latencies := make([]time.Duration, 0, len(stats))
	var sumLatency time.Duration
	var sumResults int
	var ok int
	for _, st := range stats {
		latencies = append(latencies, st.ExecutionTime)
		sumLatency += st.ExecutionTime
		switch {
		case st.Outcome != "" && st.Outcome != OutcomeOK:
			s.Errors++
		case st.FromCache:
			s.Hits++
			ok++
			sumResults += st.ResultsCount
		default:
			s.Misses++
			ok++
			sumResults += st.ResultsCount
		}
	}

	if lookups := s.Hits + s.Misses; lookups > 0 {
		s.HitRatio = float64(s.Hits) / float64(lookups)
	}
	if ok > 0 {
		s.AvgResults = float64(sumResults) / float64(ok)
	}
	s.AvgLatency = sumLatency / time.Duration(len(stats))

	slices.Sort(latencies)
	s.P50 = percentile(latencies, 0.50)
	s.P95 = percentile(latencies, 0.95)
	s.P99 = percentile(latencies, 0.99)
	return s
}

// OutcomeOK marks a successful search.
const OutcomeOK = "ok"

// percentile uses nearest-rank on sorted input.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p*float64(len(sorted))-1e-9)) - 1
	rank = max(0, min(rank, len(sorted)-1))
	return sorted[rank]
}
