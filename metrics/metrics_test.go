package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestMustRegisterRegistersCollectors(t *testing.T) {
	var reg = prometheus.NewRegistry()
	var c = New()
	c.MustRegister(reg)

	if count := testGather(t, reg); count == 0 {
		t.Fatal("expected at least one registered metric family")
	}
}

func TestObserveHelpersToleranceNilReceiver(t *testing.T) {
	var c *Collectors
	c.ObserveCommitDuration(1.0)
	c.ObserveApplyDuration(1.0)
	c.SetAdmission(1, 2)
	c.ObserveReplay(true)
}

func testGather(t *testing.T, reg *prometheus.Registry) int {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	return len(families)
}

// TestGuardCountersIncrement exercises the exact counter values ObserveReplay
// drives, reading them back through the raw dto.Metric wire type the way the
// teacher's allocator benchmark reads counters directly rather than via Gather.
func TestGuardCountersIncrement(t *testing.T) {
	var c = New()
	c.ObserveReplay(true)
	c.ObserveReplay(true)
	c.ObserveReplay(false)

	if got := counterVal(t, c.GuardSkipsTotal); got != 2 {
		t.Fatalf("GuardSkipsTotal = %v, want 2", got)
	}
	if got := counterVal(t, c.GuardReplaysTotal); got != 1 {
		t.Fatalf("GuardReplaysTotal = %v, want 1", got)
	}
}

func counterVal(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var out dto.Metric
	if err := c.Write(&out); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return out.Counter.GetValue()
}
