// Package metric provides Prometheus metrics for the mirror engine.
//
// Metrics are grouped by subsystem: mirror (events applied/discarded,
// live rows, snapshot rounds, TTL sweep), feed (reconnects), and cache
// (bootstrap save/load round trips). All metrics hang off an injectable
// Registerer so embedding applications can expose them on their own
// /metrics endpoint; Nop() binds a private registry for tests and
// metric-less embedders.
package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the mirror engine metric set.
type Metrics struct {
	// EventsApplied counts change events applied to the mirror, by kind.
	EventsApplied *prometheus.CounterVec

	// EventsDiscarded counts stale or undecodable events that were skipped.
	EventsDiscarded *prometheus.CounterVec

	// RowsLive tracks the number of live rows per table.
	RowsLive *prometheus.GaugeVec

	// SnapshotRounds counts completed snapshot resync rounds.
	SnapshotRounds prometheus.Counter

	// Reconnects counts feed connection re-establishments.
	Reconnects prometheus.Counter

	// SweepRemoved counts rows removed by the TTL sweep.
	SweepRemoved prometheus.Counter

	// SweepDuration observes TTL sweep durations in seconds.
	SweepDuration prometheus.Histogram

	// CacheSaves and CacheLoads count bootstrap cache round trips.
	CacheSaves prometheus.Counter
	CacheLoads prometheus.Counter
}

// New creates the metric set and registers it with reg.
// A nil reg registers nothing visible: a private registry is used, which
// keeps tests and metric-less embedders free of collisions.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		EventsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tablemesh",
			Subsystem: "mirror",
			Name:      "events_applied_total",
			Help:      "Change events applied to the local mirror, by event kind.",
		}, []string{"kind"}),
		EventsDiscarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tablemesh",
			Subsystem: "mirror",
			Name:      "events_discarded_total",
			Help:      "Events skipped as stale duplicates or undecodable frames.",
		}, []string{"reason"}),
		RowsLive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tablemesh",
			Subsystem: "mirror",
			Name:      "rows_live",
			Help:      "Live rows held per mirrored table.",
		}, []string{"table"}),
		SnapshotRounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tablemesh",
			Subsystem: "mirror",
			Name:      "snapshot_rounds_total",
			Help:      "Completed snapshot resync rounds across all tables.",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tablemesh",
			Subsystem: "feed",
			Name:      "reconnects_total",
			Help:      "Feed connection re-establishments.",
		}),
		SweepRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tablemesh",
			Subsystem: "mirror",
			Name:      "sweep_removed_total",
			Help:      "Rows removed by the TTL sweep.",
		}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tablemesh",
			Subsystem: "mirror",
			Name:      "sweep_duration_seconds",
			Help:      "TTL sweep durations.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		CacheSaves: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tablemesh",
			Subsystem: "cache",
			Name:      "saves_total",
			Help:      "Table snapshots persisted to the bootstrap cache.",
		}),
		CacheLoads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tablemesh",
			Subsystem: "cache",
			Name:      "loads_total",
			Help:      "Table snapshots warmed from the bootstrap cache.",
		}),
	}

	reg.MustRegister(
		m.EventsApplied,
		m.EventsDiscarded,
		m.RowsLive,
		m.SnapshotRounds,
		m.Reconnects,
		m.SweepRemoved,
		m.SweepDuration,
		m.CacheSaves,
		m.CacheLoads,
	)

	return m
}

// Nop returns a metric set bound to a private registry.
func Nop() *Metrics {
	return New(nil)
}
