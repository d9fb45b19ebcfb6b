package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kailas-cloud/vecrank/internal/pool"
)

func TestPoolCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewPoolCollector("store", func() pool.Stats {
		return pool.Stats{Max: 4, Size: 3, InUse: 2, Idle: 1, Waits: 7}
	}))

	expected := `
# HELP vecrank_pool_in_use_connections Connections held by callers
# TYPE vecrank_pool_in_use_connections gauge
vecrank_pool_in_use_connections{pool="store"} 2
# HELP vecrank_pool_waits_total Acquisitions that had to wait
# TYPE vecrank_pool_waits_total counter
vecrank_pool_waits_total{pool="store"} 7
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"vecrank_pool_in_use_connections", "vecrank_pool_waits_total")
	if err != nil {
		t.Fatal(err)
	}
}

func TestRegisterSearchMetrics_Idempotent(t *testing.T) {
	RegisterSearchMetrics()
	RegisterSearchMetrics()

	SearchRequestsTotal.WithLabelValues("ok", "miss").Inc()
	if v := testutil.ToFloat64(SearchRequestsTotal.WithLabelValues("ok", "miss")); v < 1 {
		t.Errorf("expected counter >= 1, got %f", v)
	}
}
