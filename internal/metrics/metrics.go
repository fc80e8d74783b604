// Package metrics exposes Prometheus instrumentation for the store. All
// methods tolerate a nil receiver so instrumentation stays optional.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every collector the store reports to.
type Metrics struct {
	sellOutcomes    *prometheus.CounterVec
	returnOutcomes  *prometheus.CounterVec
	journalAppends  *prometheus.CounterVec
	snapshotFlushes *prometheus.CounterVec
	flushDuration   prometheus.Histogram
	replaySkipped   prometheus.Counter
	replayApplied   prometheus.Counter
}

// New registers all ticketcore collectors with reg and returns the bundle.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		sellOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ticketcore",
			Name:      "sell_outcomes_total",
			Help:      "Sell operation results by outcome status.",
		}, []string{"status"}),
		returnOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ticketcore",
			Name:      "return_outcomes_total",
			Help:      "Return operation results by outcome status.",
		}, []string{"status"}),
		journalAppends: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ticketcore",
			Name:      "journal_appends_total",
			Help:      "Journal append attempts by log name and result.",
		}, []string{"journal", "result"}),
		snapshotFlushes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ticketcore",
			Name:      "snapshot_flushes_total",
			Help:      "Snapshot write attempts by table and result.",
		}, []string{"table", "result"}),
		flushDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ticketcore",
			Name:      "snapshot_flush_duration_seconds",
			Help:      "Wall time of one whole-table snapshot write.",
			Buckets:   prometheus.DefBuckets,
		}),
		replaySkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ticketcore",
			Name:      "reconcile_skipped_lines_total",
			Help:      "Malformed journal lines and snapshot rows skipped at startup.",
		}),
		replayApplied: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ticketcore",
			Name:      "reconcile_applied_entries_total",
			Help:      "Journal entries applied at startup because snapshots were stale.",
		}),
	}
}

// SellOutcome records one Sell result.
func (m *Metrics) SellOutcome(status string) {
	if m == nil {
		return
	}
	m.sellOutcomes.WithLabelValues(status).Inc()
}

// ReturnOutcome records one ReturnTicket result.
func (m *Metrics) ReturnOutcome(status string) {
	if m == nil {
		return
	}
	m.returnOutcomes.WithLabelValues(status).Inc()
}

// JournalAppend records one durable append attempt.
func (m *Metrics) JournalAppend(journal string, err error) {
	if m == nil {
		return
	}
	m.journalAppends.WithLabelValues(journal, resultLabel(err)).Inc()
}

// SnapshotFlush records one whole-table snapshot write.
func (m *Metrics) SnapshotFlush(table string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.snapshotFlushes.WithLabelValues(table, resultLabel(err)).Inc()
	if err == nil {
		m.flushDuration.Observe(elapsed.Seconds())
	}
}

// Reconcile records the startup reconciliation tallies.
func (m *Metrics) Reconcile(applied, skipped int) {
	if m == nil {
		return
	}
	m.replayApplied.Add(float64(applied))
	m.replaySkipped.Add(float64(skipped))
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
