package es

import "github.com/codewandler/eventum-go/core/metrics"

// Metrics is the instrumentation surface of aggregates, connectors and the
// dispatcher. The kind label is the aggregate kind set with [WithKind].
// Implementations must be safe for concurrent use.
type Metrics interface {
	// Journal
	JournalLoadDuration(kind string) metrics.Timer
	EventsSaveDuration(kind string) metrics.Timer
	EventsAppended(kind string, count int)
	RehydrationFailed(kind string)
	ConcurrencyConflict(kind string)

	// Snapshots
	SnapshotSaveDuration(kind string) metrics.Timer
	SnapshotSaved(kind string)
	SnapshotFailed(kind string)

	// Dispatcher
	CacheHit(kind string)
	CacheMiss(kind string)
	Evicted(kind string)
}

type nopMetrics struct{}

func (nopMetrics) JournalLoadDuration(string) metrics.Timer  { return metrics.NopTimer() }
func (nopMetrics) EventsSaveDuration(string) metrics.Timer   { return metrics.NopTimer() }
func (nopMetrics) EventsAppended(string, int)                {}
func (nopMetrics) RehydrationFailed(string)                  {}
func (nopMetrics) ConcurrencyConflict(string)                {}
func (nopMetrics) SnapshotSaveDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopMetrics) SnapshotSaved(string)                      {}
func (nopMetrics) SnapshotFailed(string)                     {}
func (nopMetrics) CacheHit(string)                           {}
func (nopMetrics) CacheMiss(string)                          {}
func (nopMetrics) Evicted(string)                            {}

// NopMetrics returns a Metrics implementation that records nothing.
func NopMetrics() Metrics { return nopMetrics{} }
