// Package es is an event sourcing runtime for single aggregates.
//
// # Journal
//
// Every aggregate owns a journal: an ordered run of [Event]s with sequences
// 1, 2, 3 and so on, optionally shortened by a [Snapshot]. A
// [JournalConnector] stores journals. [InMemoryConnector] is the in-process
// implementation; the adapters packages provide NATS and SQLite backends.
//
// # Aggregates
//
// Domain code implements [Behavior]: it applies events and snapshots to its
// state. [Aggregate] drives a behavior against a connector:
//
//	agg, err := es.Build(ctx, id, conn, newCounter(), es.DefaultAggregateConfig())
//	in, _ := es.NewEventInput("Incremented", id, Incremented{By: 2})
//	state, err := agg.Emit(ctx, in)
//
// Emit persists first and applies after the connector confirmed the write,
// so local state never runs ahead of the journal. Every
// AggregateConfig.Snapshot.Delta events a snapshot of the current state is
// saved. Failing snapshots are reported through logs, [Metrics] and
// [WithSnapshotErrorHandler], never to the caller of Emit.
//
// # Concurrency
//
// One [Aggregate] serializes its own calls and detects when the connector
// assigned other sequences than expected ([ErrConcurrencyConflict]). The
// instance is then unusable and must be rebuilt. [Dispatcher] does this
// automatically and runs commands per aggregate id one at a time:
//
//	d, _ := es.NewDispatcher(conn, newCounter, cfg)
//	state, err := d.Emit(ctx, id, in)
//
// # Errors
//
// Failures are typed: [ConfigurationError], [RehydrationError],
// [UnsupportedEventError], [UnsupportedCommandError], [CommandRejectedError]
// and [PersistenceError]. Each matches its sentinel with errors.Is.
package es
