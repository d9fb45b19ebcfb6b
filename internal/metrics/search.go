package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kailas-cloud/vecrank/internal/pool"
)

// Search path Prometheus metrics.
var (
	SearchRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vecrank",
			Name:      "search_requests_total",
			Help:      "Search requests by outcome (ok or error kind) and cache result",
		},
		[]string{"outcome", "cache"},
	)

	SearchStageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vecrank",
			Name:      "search_stage_duration_seconds",
			Help:      "Search stage duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"stage"}, // embedding, store, score, total
	)

	SearchResultsCount = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "vecrank",
			Name:      "search_results_count",
			Help:      "Number of results returned per search",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100},
		},
	)

	CacheOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vecrank",
			Name:      "result_cache_operations_total",
			Help:      "Result cache operations",
		},
		[]string{"op", "result"}, // get/set/clear x hit/miss/ok/error
	)

	DegradedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vecrank",
			Name:      "partial_degradation_total",
			Help:      "Requests served with a non-critical dependency failing",
		},
		[]string{"dependency"},
	)

	RateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vecrank",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter",
		},
		[]string{"strategy"},
	)

	HealthCheckUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "vecrank",
			Name:      "health_check_up",
			Help:      "1 if the last health check passed",
		},
		[]string{"check"},
	)
)

var searchOnce sync.Once

// RegisterSearchMetrics registers search, cache, limiter and health metrics. Safe to call more than once.
func RegisterSearchMetrics() {
	searchOnce.Do(func() {
		prometheus.MustRegister(
			SearchRequestsTotal,
			SearchStageDuration,
			SearchResultsCount,
			CacheOperationsTotal,
			DegradedTotal,
			RateLimitedTotal,
			HealthCheckUp,
		)
	})
}

// PoolCollector exposes pool.Stats as gauges, read at scrape time.
type PoolCollector struct {
	stats func() pool.Stats
	descs map[string]*prometheus.Desc
}

// NewPoolCollector creates a collector for one pool.
func NewPoolCollector(name string, stats func() pool.Stats) *PoolCollector {
	labels := prometheus.Labels{"pool": name}
	desc := func(metric, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName("vecrank", "pool", metric), help, nil, labels)
	}
	return &PoolCollector{
		stats: stats,
		descs: map[string]*prometheus.Desc{
			"max":      desc("max_connections", "Configured pool ceiling"),
			"size":     desc("connections", "Open connections"),
			"in_use":   desc("in_use_connections", "Connections held by callers"),
			"idle":     desc("idle_connections", "Idle connections"),
			"waits":    desc("waits_total", "Acquisitions that had to wait"),
			"timeouts": desc("timeouts_total", "Acquisitions that timed out"),
			"dropped":  desc("dropped_total", "Connections discarded as broken or expired"),
		},
	}
}

// Describe implements prometheus.Collector.
func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.descs {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()
	ch <- prometheus.MustNewConstMetric(c.descs["max"], prometheus.GaugeValue, float64(s.Max))
	ch <- prometheus.MustNewConstMetric(c.descs["size"], prometheus.GaugeValue, float64(s.Size))
	ch <- prometheus.MustNewConstMetric(c.descs["in_use"], prometheus.GaugeValue, float64(s.InUse))
	ch <- prometheus.MustNewConstMetric(c.descs["idle"], prometheus.GaugeValue, float64(s.Idle))
	ch <- prometheus.MustNewConstMetric(c.descs["waits"], prometheus.CounterValue, float64(s.Waits))
	ch <- prometheus.MustNewConstMetric(c.descs["timeouts"], prometheus.CounterValue, float64(s.Timeouts))
	ch <- prometheus.MustNewConstMetric(c.descs["dropped"], prometheus.CounterValue, float64(s.Dropped))
}
