package es

import (
	"log/slog"
	"time"
)

type (
	aggregateOptions struct {
		log             *slog.Logger
		metrics         Metrics
		kind            string
		asyncSnapshots  bool
		onSnapshotError SnapshotErrorHandler
	}
	inMemoryOptions struct {
		log   *slog.Logger
		now   func() time.Time
		fault FaultFunc
	}
	dispatcherOptions struct {
		aggregateOptions
		cacheSize int
	}

	AggregateOption  interface{ applyToAggregate(*aggregateOptions) }
	InMemoryOption   interface{ applyToInMemory(*inMemoryOptions) }
	DispatcherOption interface{ applyToDispatcher(*dispatcherOptions) }
)

type (
	valueOption[T any]         struct{ v T }
	LogOption                  valueOption[*slog.Logger]
	MetricsOption              valueOption[Metrics]
	KindOption                 valueOption[string]
	AsyncSnapshotsOption       struct{}
	SnapshotErrorHandlerOption valueOption[SnapshotErrorHandler]
	ClockOption                valueOption[func() time.Time]
	FaultOption                valueOption[FaultFunc]
	CacheSizeOption            valueOption[int]
)

func WithLog(l *slog.Logger) LogOption           { return LogOption{v: l} }
func WithMetrics(m Metrics) MetricsOption        { return MetricsOption{v: m} }
func WithKind(kind string) KindOption            { return KindOption{v: kind} }
func WithAsyncSnapshots() AsyncSnapshotsOption   { return AsyncSnapshotsOption{} }
func WithClock(now func() time.Time) ClockOption { return ClockOption{v: now} }
func WithFault(f FaultFunc) FaultOption          { return FaultOption{v: f} }
func WithCacheSize(size int) CacheSizeOption     { return CacheSizeOption{v: size} }

// WithSnapshotErrorHandler registers h to be told about snapshots that could
// not be saved. Snapshot failures never fail the emitting command.
func WithSnapshotErrorHandler(h SnapshotErrorHandler) SnapshotErrorHandlerOption {
	return SnapshotErrorHandlerOption{v: h}
}

func (o LogOption) applyToAggregate(a *aggregateOptions)                    { a.log = o.v }
func (o LogOption) applyToInMemory(m *inMemoryOptions)                      { m.log = o.v }
func (o LogOption) applyToDispatcher(d *dispatcherOptions)                  { d.log = o.v }
func (o MetricsOption) applyToAggregate(a *aggregateOptions)                { a.metrics = o.v }
func (o MetricsOption) applyToDispatcher(d *dispatcherOptions)              { d.metrics = o.v }
func (o KindOption) applyToAggregate(a *aggregateOptions)                   { a.kind = o.v }
func (o KindOption) applyToDispatcher(d *dispatcherOptions)                 { d.kind = o.v }
func (o AsyncSnapshotsOption) applyToAggregate(a *aggregateOptions)         { a.asyncSnapshots = true }
func (o AsyncSnapshotsOption) applyToDispatcher(d *dispatcherOptions)       { d.asyncSnapshots = true }
func (o SnapshotErrorHandlerOption) applyToAggregate(a *aggregateOptions)   { a.onSnapshotError = o.v }
func (o SnapshotErrorHandlerOption) applyToDispatcher(d *dispatcherOptions) { d.onSnapshotError = o.v }
func (o ClockOption) applyToInMemory(m *inMemoryOptions)                    { m.now = o.v }
func (o FaultOption) applyToInMemory(m *inMemoryOptions)                    { m.fault = o.v }
func (o CacheSizeOption) applyToDispatcher(d *dispatcherOptions)            { d.cacheSize = o.v }

func defaultAggregateOptions() aggregateOptions {
	return aggregateOptions{
		log:     slog.Default(),
		metrics: NopMetrics(),
		kind:    "aggregate",
	}
}
