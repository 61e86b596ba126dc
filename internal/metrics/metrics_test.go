package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveProbe(true, time.Second)
	m.ObserveSelection(false, 3)
	m.ObserveActivation("success")
	m.ObserveRewrite(RewriteHit)
	m.ObserveCacheReset()
}

func TestCountersRecorded(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveProbe(true, 20*time.Millisecond)
	m.ObserveProbe(false, time.Second)
	m.ObserveProbe(false, time.Second)
	m.ObserveActivation("success")
	m.ObserveCacheReset()
	m.ObserveCacheReset()

	if got := testutil.ToFloat64(m.probes.WithLabelValues("failure")); got != 2 {
		t.Errorf("failed probes = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.cacheResets); got != 2 {
		t.Errorf("cache resets = %v, want 2", got)
	}

	expected := `
# HELP mirrorswitch_activations_total Mirror activations by outcome.
# TYPE mirrorswitch_activations_total counter
mirrorswitch_activations_total{result="success"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "mirrorswitch_activations_total"); err != nil {
		t.Error(err)
	}
}

func TestSelectionSkipsZeroRounds(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveSelection(false, 0)
	m.ObserveSelection(true, 2)

	if got := testutil.CollectAndCount(m.selections); got != 2 {
		t.Errorf("selection series = %d, want 2", got)
	}
	count, err := testutil.GatherAndCount(reg, "mirrorswitch_race_rounds")
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("race_rounds series = %d, want 1", count)
	}
}

func TestNewWithoutRegisterer(t *testing.T) {
	m := New(nil)
	m.ObserveRewrite(RewriteMiss)
	if got := testutil.ToFloat64(m.rewrites.WithLabelValues(RewriteMiss)); got != 1 {
		t.Errorf("rewrite misses = %v, want 1", got)
	}
}
