// Package metrics holds the backend-neutral instruments used by the core
// packages. Backends such as Prometheus implement them in adapters.
package metrics

// Timer measures one operation. It starts when created and records the
// elapsed time on ObserveDuration:
//
//	defer m.JournalLoadDuration("entity").ObserveDuration()
type Timer interface {
	ObserveDuration()
}
