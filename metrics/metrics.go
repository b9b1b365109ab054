// Package metrics defines the Prometheus collectors for the store's
// admission, apply, commit, and replay paths (component C15), registered
// once through core.Context.Registry rather than the global default
// registry, per the Design Note replacing process-wide singleton state.
//
// Grounded on the teacher's flat prometheus.NewCounter/NewHistogram
// var-block style (its own metrics package), generalized into a
// Collectors bundle so each mounted store instance owns independent
// metric state instead of sharing package-level globals.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collectors bundles the metrics the commit coordinator, apply pool, and
// admission throttle observe. One Collectors is constructed per mounted
// store instance and registered against that instance's own
// prometheus.Registry.
type Collectors struct {
	AdmissionQueuedOps   prometheus.Gauge
	AdmissionQueuedBytes prometheus.Gauge

	ApplyLatency  prometheus.Histogram
	CommitLatency prometheus.Histogram

	ReplayOpsTotal   prometheus.Counter
	GuardSkipsTotal  prometheus.Counter
	GuardReplaysTotal prometheus.Counter
}

// New returns a fresh Collectors bundle, not yet registered against any
// registry.
func New() *Collectors {
	return &Collectors{
		AdmissionQueuedOps: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "storekit_admission_queued_ops",
			Help: "Current number of operations admitted but not yet applied.",
		}),
		AdmissionQueuedBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "storekit_admission_queued_bytes",
			Help: "Current number of payload bytes admitted but not yet applied.",
		}),
		ApplyLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "storekit_apply_latency_seconds",
			Help:    "Latency of interpreting and applying a single transaction.",
			Buckets: prometheus.DefBuckets,
		}),
		CommitLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "storekit_commit_latency_seconds",
			Help:    "Latency of a full commit-coordinator cycle.",
			Buckets: prometheus.DefBuckets,
		}),
		ReplayOpsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storekit_replay_ops_total",
			Help: "Cumulative number of opcodes interpreted during mount-time journal replay.",
		}),
		GuardSkipsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storekit_replay_guard_skips_total",
			Help: "Cumulative number of replay-guarded opcodes skipped as already applied.",
		}),
		GuardReplaysTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storekit_replay_guard_replays_total",
			Help: "Cumulative number of replay-guarded opcodes re-applied during replay.",
		}),
	}
}

// MustRegister registers every collector in c against reg, panicking on a
// duplicate-registration error the way the teacher's prometheus.MustRegister
// call sites do at process startup.
func (c *Collectors) MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(
		c.AdmissionQueuedOps,
		c.AdmissionQueuedBytes,
		c.ApplyLatency,
		c.CommitLatency,
		c.ReplayOpsTotal,
		c.GuardSkipsTotal,
		c.GuardReplaysTotal,
	)
}

// ObserveCommitDuration records one commit cycle's wall-clock duration,
// called by commit.Coordinator.Cycle after its durability step completes.
func (c *Collectors) ObserveCommitDuration(seconds float64) {
	if c == nil {
		return
	}
	c.CommitLatency.Observe(seconds)
}

// ObserveApplyDuration records one transaction's apply latency, called by
// the apply worker pool after Interpreter.Apply returns.
func (c *Collectors) ObserveApplyDuration(seconds float64) {
	if c == nil {
		return
	}
	c.ApplyLatency.Observe(seconds)
}

// SetAdmission updates the current admitted-but-unapplied op/byte gauges,
// called by the admission throttle on Acquire/Release.
func (c *Collectors) SetAdmission(ops int, bytes int64) {
	if c == nil {
		return
	}
	c.AdmissionQueuedOps.Set(float64(ops))
	c.AdmissionQueuedBytes.Set(float64(bytes))
}

// ObserveReplay records one opcode's replay-guard verdict during mount-time
// journal replay.
func (c *Collectors) ObserveReplay(skipped bool) {
	if c == nil {
		return
	}
	c.ReplayOpsTotal.Inc()
	if skipped {
		c.GuardSkipsTotal.Inc()
	} else {
		c.GuardReplaysTotal.Inc()
	}
}
