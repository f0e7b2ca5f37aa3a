package fsm

import (
	"context"

	"github.com/codewandler/eventum-go/core/es"
)

// Machine is an aggregate whose state is a [State] and whose only write path
// is [Machine.Handle].
type Machine[T any] struct {
	*es.Aggregate[State[T]]
	rules *Rules[T]
}

func NewMachine[T any](id string, conn es.JournalConnector, cfg es.AggregateConfig, opts ...Option[T]) (*Machine[T], error) {
	rules := NewRules(opts...)
	aggOpts := append([]es.AggregateOption{es.WithKind(rules.opts.kind)}, rules.opts.aggOpts...)
	agg, err := es.NewAggregate(id, conn, rules.NewBehavior(id), cfg, aggOpts...)
	if err != nil {
		return nil, err
	}
	return &Machine[T]{Aggregate: agg, rules: rules}, nil
}

// BuildMachine constructs a machine and rehydrates it.
func BuildMachine[T any](ctx context.Context, id string, conn es.JournalConnector, cfg es.AggregateConfig, opts ...Option[T]) (*Machine[T], error) {
	m, err := NewMachine(id, conn, cfg, opts...)
	if err != nil {
		return nil, err
	}
	if err := m.Rehydrate(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Machine[T]) Rules() *Rules[T] { return m.rules }

// Handle dispatches cmd by type. Commands not allowed in the current state
// fail with [es.CommandRejectedError], unknown commands with
// [es.UnsupportedCommandError].
func (m *Machine[T]) Handle(ctx context.Context, cmd Command) (State[T], error) {
	return Execute(ctx, m.Aggregate, m.rules, cmd)
}

func (m *Machine[T]) Create(ctx context.Context, entity T) (State[T], error) {
	return m.Handle(ctx, Create[T]{Entity: entity})
}

func (m *Machine[T]) Update(ctx context.Context, changes T) (State[T], error) {
	return m.Handle(ctx, Update[T]{Entity: changes})
}

func (m *Machine[T]) Delete(ctx context.Context) (State[T], error) {
	return m.Handle(ctx, Delete{})
}

func (m *Machine[T]) Get() State[T] { return m.State() }

// Execute decides cmd against the current state of a and emits the result.
// Use it with aggregates obtained from an [es.Dispatcher] built on
// [Rules.NewBehavior].
func Execute[T any](ctx context.Context, a *es.Aggregate[State[T]], rules *Rules[T], cmd Command) (State[T], error) {
	return a.Execute(ctx, func(s State[T]) ([]es.EventInput, error) {
		return rules.Decide(a.ID(), s, cmd)
	})
}
