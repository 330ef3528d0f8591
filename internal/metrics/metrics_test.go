package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestToolLatencyObservesByOutcome(t *testing.T) {
	ToolLatency.Reset()
	ToolLatency.WithLabelValues("read_project_file", "true").Observe(0.01)
	ToolLatency.WithLabelValues("shell_command", "false").Observe(0.2)

	if got := testutil.CollectAndCount(ToolLatency); got != 2 {
		t.Fatalf("expected 2 distinct label combinations, got %d", got)
	}
}

func TestCacheLookupsCountsHitsAndMisses(t *testing.T) {
	CacheLookups.Reset()
	CacheLookups.WithLabelValues("hit").Inc()
	CacheLookups.WithLabelValues("hit").Inc()
	CacheLookups.WithLabelValues("miss").Inc()

	if got := testutil.ToFloat64(CacheLookups.WithLabelValues("hit")); got != 2 {
		t.Fatalf("expected 2 hits, got %v", got)
	}
	if got := testutil.ToFloat64(CacheLookups.WithLabelValues("miss")); got != 1 {
		t.Fatalf("expected 1 miss, got %v", got)
	}
}
