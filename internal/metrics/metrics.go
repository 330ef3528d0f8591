// Package metrics exposes a handful of prometheus collectors that the test
// harness reads directly via testutil; there is no /metrics HTTP endpoint.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// ToolLatency records how long each router tool dispatch took, labeled
	// by tool name and whether it succeeded.
	ToolLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mira",
		Subsystem: "router",
		Name:      "tool_dispatch_seconds",
		Help:      "Tool dispatch latency in seconds, labeled by tool and outcome.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"tool", "success"})

	// CacheLookups counts completion-cache lookups, labeled by hit/miss, so
	// hit rate is hits/(hits+misses).
	CacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mira",
		Subsystem: "session",
		Name:      "completion_cache_lookups_total",
		Help:      "Completion cache lookups, labeled by result.",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(ToolLatency, CacheLookups)
}
