package es

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Behavior is the domain half of an aggregate. The runtime in [Aggregate]
// drives it; implementations only transition state.
//
// ApplyEvent must be deterministic and free of external side effects. It
// returns an [UnsupportedEventError] (see [NewUnsupportedEvent]) for event
// types it does not know. ApplySnapshot replaces the state wholesale.
type Behavior[S any] interface {
	ApplyEvent(e Event) error
	ApplySnapshot(s Snapshot) error
	CurrentState() S
}

// SnapshotErrorHandler is told about snapshots that could not be saved.
type SnapshotErrorHandler func(aggregateID string, seq Sequence, err error)

// Aggregate is the runtime of one aggregate instance. It rehydrates the
// behavior from the journal, persists new events before applying them and
// saves a snapshot every AggregateConfig.Snapshot.Delta events.
//
// Calls on one instance are serialized. An instance that hit an unknown
// event or lost a sequence race refuses further commands and must be
// replaced by a fresh one.
type Aggregate[S any] struct {
	mu       sync.Mutex
	id       string
	conn     JournalConnector
	behavior Behavior[S]
	cfg      AggregateConfig
	opts     aggregateOptions
	log      *slog.Logger

	rehydrated      bool
	lastSeq         Sequence
	lastSnapshotSeq Sequence
	unusable        error

	snapshots sync.WaitGroup
}

func NewAggregate[S any](
	id string,
	conn JournalConnector,
	behavior Behavior[S],
	cfg AggregateConfig,
	opts ...AggregateOption,
) (*Aggregate[S], error) {
	options := defaultAggregateOptions()
	for _, opt := range opts {
		opt.applyToAggregate(&options)
	}
	return newAggregate(id, conn, behavior, cfg, options)
}

func newAggregate[S any](
	id string,
	conn JournalConnector,
	behavior Behavior[S],
	cfg AggregateConfig,
	options aggregateOptions,
) (*Aggregate[S], error) {
	switch {
	case id == "":
		return nil, &ConfigurationError{Reason: "aggregate id is empty"}
	case conn == nil:
		return nil, &ConfigurationError{Reason: "journal connector is nil"}
	case behavior == nil:
		return nil, &ConfigurationError{Reason: "behavior is nil"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Aggregate[S]{
		id:       id,
		conn:     conn,
		behavior: behavior,
		cfg:      cfg,
		opts:     options,
		log: options.log.With(
			slog.Group(
				"agg",
				slog.String("kind", options.kind),
				slog.String("id", id),
			),
		),
	}, nil
}

// Build constructs an aggregate and rehydrates it.
func Build[S any](
	ctx context.Context,
	id string,
	conn JournalConnector,
	behavior Behavior[S],
	cfg AggregateConfig,
	opts ...AggregateOption,
) (*Aggregate[S], error) {
	a, err := NewAggregate(id, conn, behavior, cfg, opts...)
	if err != nil {
		return nil, err
	}
	if err := a.Rehydrate(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Aggregate[S]) ID() string { return a.id }

func (a *Aggregate[S]) State() S {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.behavior.CurrentState()
}

// LastSequence is the sequence of the last applied event.
func (a *Aggregate[S]) LastSequence() Sequence {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastSeq
}

func (a *Aggregate[S]) LastSnapshotSequence() Sequence {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastSnapshotSeq
}

// Err reports why the instance refuses commands, or nil while it is usable.
func (a *Aggregate[S]) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.unusable
}

// Rehydrate loads the journal and replays it. An aggregate without history
// keeps its initial state. Rehydrate is a no-op once it succeeded.
func (a *Aggregate[S]) Rehydrate(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rehydrateLocked(ctx)
}

func (a *Aggregate[S]) rehydrateLocked(ctx context.Context) error {
	if a.unusable != nil {
		return a.unusable
	}
	if a.rehydrated {
		return nil
	}

	timer := a.opts.metrics.JournalLoadDuration(a.opts.kind)
	j, err := a.conn.GetJournal(ctx, a.id)
	timer.ObserveDuration()
	if errors.Is(err, ErrJournalNotFound) {
		a.log.Debug("no history")
		a.rehydrated = true
		return nil
	}
	if err == nil && j == nil {
		err = errors.New("connector returned no journal")
	}
	if err == nil && j.AggregateID != a.id {
		err = fmt.Errorf("connector returned journal of %q", j.AggregateID)
	}
	if err == nil {
		err = j.Validate()
	}
	if err != nil {
		a.opts.metrics.RehydrationFailed(a.opts.kind)
		return &RehydrationError{AggregateID: a.id, Err: err}
	}

	if s := j.Snapshot; s != nil {
		if err := a.behavior.ApplySnapshot(*s); err != nil {
			return a.breakLocked(&RehydrationError{AggregateID: a.id, Err: err})
		}
		a.lastSeq = s.Sequence
		a.lastSnapshotSeq = s.Sequence
	}

	for _, e := range j.Events {
		if err := a.behavior.ApplyEvent(e); err != nil {
			return a.breakLocked(&RehydrationError{AggregateID: a.id, Err: err})
		}
		a.lastSeq = e.Sequence
	}

	a.rehydrated = true
	a.log.Debug(
		"rehydrated",
		a.lastSeq.SlogAttr(),
		a.lastSnapshotSeq.SlogAttrWithKey("snapshot_seq"),
		slog.Bool("snapshot", j.Snapshot != nil),
		slog.Int("num_events", len(j.Events)),
	)
	return nil
}

// breakLocked marks the instance unusable. The behavior may hold a partially
// applied state.
func (a *Aggregate[S]) breakLocked(err error) error {
	a.opts.metrics.RehydrationFailed(a.opts.kind)
	a.unusable = fmt.Errorf("%w: %w", ErrAggregateUnusable, err)
	a.log.Error("aggregate broken", slog.Any("error", err))
	return err
}

// Emit persists a single event and applies it. See [Aggregate.EmitAll].
func (a *Aggregate[S]) Emit(ctx context.Context, in EventInput) (S, error) {
	return a.EmitAll(ctx, []EventInput{in})
}

// EmitAll persists the inputs and applies the stored events in submission
// order. Local state is only changed after the connector confirmed the
// write. An instance that was not rehydrated yet is rehydrated first.
func (a *Aggregate[S]) EmitAll(ctx context.Context, inputs []EventInput) (S, error) {
	return a.Execute(ctx, func(S) ([]EventInput, error) { return inputs, nil })
}

// Execute runs decide with the current state and emits the events it
// returns, as one step: no other call on this instance can change the state
// in between. Errors from decide are returned unchanged.
func (a *Aggregate[S]) Execute(ctx context.Context, decide func(state S) ([]EventInput, error)) (state S, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err = a.rehydrateLocked(ctx); err != nil {
		return
	}
	inputs, err := decide(a.behavior.CurrentState())
	if err != nil {
		return
	}
	return a.emitLocked(ctx, inputs)
}

func (a *Aggregate[S]) emitLocked(ctx context.Context, inputs []EventInput) (state S, err error) {
	if len(inputs) == 0 {
		return a.behavior.CurrentState(), nil
	}

	for _, in := range inputs {
		if err = in.Validate(); err != nil {
			return
		}
		if in.AggregateID != a.id {
			err = fmt.Errorf("%w: event %s targets %q", ErrMixedAggregates, in.EventType, in.AggregateID)
			return
		}
	}

	timer := a.opts.metrics.EventsSaveDuration(a.opts.kind)
	saved, err := a.conn.SaveEvents(ctx, inputs)
	timer.ObserveDuration()
	if err != nil {
		if errors.Is(err, ErrConcurrencyConflict) {
			a.markStaleLocked(err)
		}
		err = &PersistenceError{AggregateID: a.id, Op: OpSaveEvents, Err: err}
		return
	}

	if err = a.verifySavedLocked(inputs, saved); err != nil {
		a.markStaleLocked(err)
		return
	}

	for _, e := range saved {
		if applyErr := a.behavior.ApplyEvent(e); applyErr != nil {
			err = a.breakLocked(applyErr)
			return
		}
		a.lastSeq = e.Sequence
	}
	a.opts.metrics.EventsAppended(a.opts.kind, len(saved))

	a.log.Debug(
		"emitted",
		a.lastSeq.SlogAttr(),
		slog.Int("num_events", len(saved)),
	)

	a.maybeSnapshotLocked(ctx)

	return a.behavior.CurrentState(), nil
}

// verifySavedLocked checks that the connector stored exactly the submitted
// events right after the last applied one.
func (a *Aggregate[S]) verifySavedLocked(inputs []EventInput, saved []Event) error {
	if len(saved) != len(inputs) {
		return fmt.Errorf("%w: submitted %d events, connector returned %d", ErrConcurrencyConflict, len(inputs), len(saved))
	}
	expect := a.lastSeq
	for i, e := range saved {
		expect++
		if e.Sequence != expect {
			return fmt.Errorf("%w: expect sequence %d, got %d", ErrConcurrencyConflict, expect, e.Sequence)
		}
		if e.AggregateID != a.id || e.EventType != inputs[i].EventType {
			return fmt.Errorf("%w: event %d does not match submission", ErrConcurrencyConflict, e.Sequence)
		}
	}
	return nil
}

func (a *Aggregate[S]) markStaleLocked(err error) {
	a.opts.metrics.ConcurrencyConflict(a.opts.kind)
	a.unusable = fmt.Errorf("%w: %w", ErrAggregateUnusable, err)
	a.log.Warn("aggregate stale", slog.Any("error", err))
}

func (a *Aggregate[S]) maybeSnapshotLocked(ctx context.Context) {
	if a.lastSeq-a.lastSnapshotSeq < Sequence(a.cfg.Snapshot.Delta) {
		return
	}

	seq := a.lastSeq
	in, err := NewSnapshotInput(a.id, seq, a.behavior.CurrentState())
	if err != nil {
		a.snapshotFailed(seq, err)
		return
	}
	a.lastSnapshotSeq = seq

	if !a.opts.asyncSnapshots {
		a.saveSnapshot(ctx, in)
		return
	}
	a.snapshots.Add(1)
	go func() {
		defer a.snapshots.Done()
		a.saveSnapshot(context.WithoutCancel(ctx), in)
	}()
}

func (a *Aggregate[S]) saveSnapshot(ctx context.Context, in SnapshotInput) {
	timer := a.opts.metrics.SnapshotSaveDuration(a.opts.kind)
	err := a.conn.SaveSnapshot(ctx, in)
	timer.ObserveDuration()
	if err != nil {
		a.snapshotFailed(in.Sequence, &PersistenceError{AggregateID: a.id, Op: OpSaveSnapshot, Err: err})
		return
	}
	a.opts.metrics.SnapshotSaved(a.opts.kind)
	a.log.Debug("snapshot saved", in.Sequence.SlogAttr())
}

func (a *Aggregate[S]) snapshotFailed(seq Sequence, err error) {
	a.opts.metrics.SnapshotFailed(a.opts.kind)
	a.log.Warn("snapshot failed", seq.SlogAttr(), slog.Any("error", err))
	if a.opts.onSnapshotError != nil {
		a.opts.onSnapshotError(a.id, seq, err)
	}
}

// WaitSnapshots blocks until all snapshots started with
// [WithAsyncSnapshots] have been saved or failed.
func (a *Aggregate[S]) WaitSnapshots() { a.snapshots.Wait() }
