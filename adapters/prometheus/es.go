package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/eventum-go/core/es"
	"github.com/codewandler/eventum-go/core/metrics"
)

// esMetrics implements es.Metrics using Prometheus. Every series is labeled
// with the aggregate kind.
type esMetrics struct {
	// Journal
	journalLoadDuration  *prometheus.HistogramVec
	eventsSaveDuration   *prometheus.HistogramVec
	eventsAppended       *prometheus.CounterVec
	rehydrationFailures  *prometheus.CounterVec
	concurrencyConflicts *prometheus.CounterVec

	// Snapshots
	snapshotSaveDuration *prometheus.HistogramVec
	snapshotsSaved       *prometheus.CounterVec
	snapshotFailures     *prometheus.CounterVec

	// Dispatcher
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec
	evictions   *prometheus.CounterVec
}

// NewESMetrics registers the aggregate runtime metrics with reg.
func NewESMetrics(reg prometheus.Registerer) es.Metrics {
	const sub = "es"
	m := &esMetrics{
		journalLoadDuration:  histogram(sub, "journal_load_duration_seconds", "Journal load latency in seconds", "kind"),
		eventsSaveDuration:   histogram(sub, "events_save_duration_seconds", "Event save latency in seconds", "kind"),
		eventsAppended:       counter(sub, "events_appended_total", "Total number of events persisted", "kind"),
		rehydrationFailures:  counter(sub, "rehydration_failures_total", "Total number of failed rehydrations", "kind"),
		concurrencyConflicts: counter(sub, "concurrency_conflicts_total", "Total number of detected concurrent writers", "kind"),
		snapshotSaveDuration: histogram(sub, "snapshot_save_duration_seconds", "Snapshot save latency in seconds", "kind"),
		snapshotsSaved:       counter(sub, "snapshots_saved_total", "Total number of snapshots persisted", "kind"),
		snapshotFailures:     counter(sub, "snapshot_failures_total", "Total number of snapshots that could not be saved", "kind"),
		cacheHits:            counter(sub, "cache_hits_total", "Total number of aggregate cache hits", "kind"),
		cacheMisses:          counter(sub, "cache_misses_total", "Total number of aggregate cache misses", "kind"),
		evictions:            counter(sub, "cache_evictions_total", "Total number of aggregates evicted from the cache", "kind"),
	}

	reg.MustRegister(
		m.journalLoadDuration,
		m.eventsSaveDuration,
		m.eventsAppended,
		m.rehydrationFailures,
		m.concurrencyConflicts,
		m.snapshotSaveDuration,
		m.snapshotsSaved,
		m.snapshotFailures,
		m.cacheHits,
		m.cacheMisses,
		m.evictions,
	)

	return m
}

func (m *esMetrics) JournalLoadDuration(kind string) metrics.Timer {
	return newTimer(m.journalLoadDuration.WithLabelValues(kind))
}

func (m *esMetrics) EventsSaveDuration(kind string) metrics.Timer {
	return newTimer(m.eventsSaveDuration.WithLabelValues(kind))
}

func (m *esMetrics) EventsAppended(kind string, count int) {
	m.eventsAppended.WithLabelValues(kind).Add(float64(count))
}

func (m *esMetrics) RehydrationFailed(kind string) {
	m.rehydrationFailures.WithLabelValues(kind).Inc()
}

func (m *esMetrics) ConcurrencyConflict(kind string) {
	m.concurrencyConflicts.WithLabelValues(kind).Inc()
}

func (m *esMetrics) SnapshotSaveDuration(kind string) metrics.Timer {
	return newTimer(m.snapshotSaveDuration.WithLabelValues(kind))
}

func (m *esMetrics) SnapshotSaved(kind string)  { m.snapshotsSaved.WithLabelValues(kind).Inc() }
func (m *esMetrics) SnapshotFailed(kind string) { m.snapshotFailures.WithLabelValues(kind).Inc() }
func (m *esMetrics) CacheHit(kind string)       { m.cacheHits.WithLabelValues(kind).Inc() }
func (m *esMetrics) CacheMiss(kind string)      { m.cacheMisses.WithLabelValues(kind).Inc() }
func (m *esMetrics) Evicted(kind string)        { m.evictions.WithLabelValues(kind).Inc() }

var _ es.Metrics = (*esMetrics)(nil)
