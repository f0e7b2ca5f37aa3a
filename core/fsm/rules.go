package fsm

import (
	"errors"
	"fmt"

	"github.com/codewandler/eventum-go/core/es"
)

var ErrIllegalTransition = errors.New("illegal transition")

type options[T any] struct {
	kind     string
	names    EventNames
	merge    func(current, changes T) T
	validate func(T) error
	aggOpts  []es.AggregateOption
}

type Option[T any] func(*options[T])

// WithEventPrefix names the events "<prefix>Created", "<prefix>Updated" and
// "<prefix>Deleted". The default prefix is "Entity".
func WithEventPrefix[T any](prefix string) Option[T] {
	return func(o *options[T]) {
		o.kind = prefix
		o.names = EventNamesWithPrefix(prefix)
	}
}

// WithMerge sets how an update combines with the current entity. Without it
// the update replaces the entity. merge runs on replay too and must be pure.
func WithMerge[T any](merge func(current, changes T) T) Option[T] {
	return func(o *options[T]) { o.merge = merge }
}

// WithValidator checks the resulting entity of a create or update before
// anything is emitted. A failing check rejects the command.
func WithValidator[T any](validate func(T) error) Option[T] {
	return func(o *options[T]) { o.validate = validate }
}

// WithAggregateOptions passes options to the underlying aggregate runtime.
func WithAggregateOptions[T any](opts ...es.AggregateOption) Option[T] {
	return func(o *options[T]) { o.aggOpts = append(o.aggOpts, opts...) }
}

// Rules is the transition table of the entity lifecycle:
//
//	New    --create--> Active
//	Active --update--> Active
//	Active --delete--> Deleted
//
// Every other combination is rejected. Rules is stateless and can be shared
// by any number of aggregates.
type Rules[T any] struct {
	opts options[T]
}

func NewRules[T any](opts ...Option[T]) *Rules[T] {
	o := options[T]{
		kind:  "Entity",
		names: EventNamesWithPrefix("Entity"),
		merge: func(_, changes T) T { return changes },
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Rules[T]{opts: o}
}

func (r *Rules[T]) EventNames() EventNames { return r.opts.names }

// NewBehavior returns the aggregate behavior for these rules, starting in
// the New state. It fits [es.BehaviorFactory].
func (r *Rules[T]) NewBehavior(string) es.Behavior[State[T]] {
	return &behavior[T]{rules: r, state: NewState[T]()}
}

// Decide turns a command into the events it produces in state s, or rejects
// it.
func (r *Rules[T]) Decide(aggregateID string, s State[T], cmd Command) ([]es.EventInput, error) {
	d := decision[T]{rules: r, aggregateID: aggregateID, cmd: cmd}
	var v StateVisitor[T]
	switch c := cmd.(type) {
	case Create[T]:
		v = &createDecision[T]{decision: &d, entity: c.Entity}
	case *Create[T]:
		if c == nil {
			return nil, nilCommand(cmd)
		}
		v = &createDecision[T]{decision: &d, entity: c.Entity}
	case Update[T]:
		v = &updateDecision[T]{decision: &d, changes: c.Entity}
	case *Update[T]:
		if c == nil {
			return nil, nilCommand(cmd)
		}
		v = &updateDecision[T]{decision: &d, changes: c.Entity}
	case Delete:
		v = &deleteDecision[T]{decision: &d}
	case *Delete:
		if c == nil {
			return nil, nilCommand(cmd)
		}
		v = &deleteDecision[T]{decision: &d}
	default:
		return nil, &es.UnsupportedCommandError{CommandType: commandType(cmd)}
	}
	if err := s.Visit(v); err != nil {
		return nil, err
	}
	return d.out, nil
}

func nilCommand(cmd Command) error {
	return &es.UnsupportedCommandError{CommandType: fmt.Sprintf("nil %T", cmd)}
}

func commandType(cmd Command) string {
	if cmd == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s (%T)", cmd.CommandType(), cmd)
}

// === Decisions ===

type decision[T any] struct {
	rules       *Rules[T]
	aggregateID string
	cmd         Command
	out         []es.EventInput
}

func (d *decision[T]) reject(reason string, err error) error {
	return &es.CommandRejectedError{
		AggregateID: d.aggregateID,
		CommandType: d.cmd.CommandType(),
		Reason:      reason,
		Err:         err,
	}
}

func (d *decision[T]) validate(entity T) error {
	if d.rules.opts.validate == nil {
		return nil
	}
	if err := d.rules.opts.validate(entity); err != nil {
		return d.reject("invalid entity: "+err.Error(), err)
	}
	return nil
}

func (d *decision[T]) emit(eventType string, payload any) error {
	in, err := es.NewEventInput(eventType, d.aggregateID, payload)
	if err != nil {
		return err
	}
	d.out = append(d.out, in)
	return nil
}

type createDecision[T any] struct {
	*decision[T]
	entity T
}

func (d *createDecision[T]) VisitNew() error {
	if err := d.validate(d.entity); err != nil {
		return err
	}
	return d.emit(d.rules.opts.names.Created, d.entity)
}
func (d *createDecision[T]) VisitActive(T) error  { return d.reject(ReasonAlreadyExists, nil) }
func (d *createDecision[T]) VisitDeleted(T) error { return d.reject(ReasonAlreadyExists, nil) }

type updateDecision[T any] struct {
	*decision[T]
	changes T
}

func (d *updateDecision[T]) VisitNew() error { return d.reject(ReasonNotFound, nil) }
func (d *updateDecision[T]) VisitActive(current T) error {
	if err := d.validate(d.rules.opts.merge(current, d.changes)); err != nil {
		return err
	}
	return d.emit(d.rules.opts.names.Updated, d.changes)
}
func (d *updateDecision[T]) VisitDeleted(T) error { return d.reject(ReasonNotFound, nil) }

type deleteDecision[T any] struct {
	*decision[T]
}

func (d *deleteDecision[T]) VisitNew() error      { return d.reject(ReasonNotFound, nil) }
func (d *deleteDecision[T]) VisitActive(T) error  { return d.emit(d.rules.opts.names.Deleted, nil) }
func (d *deleteDecision[T]) VisitDeleted(T) error { return d.reject(ReasonNotFound, nil) }

// === Behavior ===

type behavior[T any] struct {
	rules *Rules[T]
	state State[T]
}

func (b *behavior[T]) CurrentState() State[T] {
	s := b.state
	if s.Payload != nil {
		p := *s.Payload
		s.Payload = &p
	}
	return s
}

func (b *behavior[T]) ApplySnapshot(snapshot es.Snapshot) error {
	var s State[T]
	if err := snapshot.DecodePayload(&s); err != nil {
		return err
	}
	switch s.Name {
	case New:
	case Active, Deleted:
		if s.Payload == nil {
			return fmt.Errorf("%w in snapshot: %s without payload", ErrUnknownState, s.Name)
		}
	default:
		return fmt.Errorf("%w in snapshot: %q", ErrUnknownState, s.Name)
	}
	b.state = s
	return nil
}

func (b *behavior[T]) ApplyEvent(e es.Event) error {
	names := b.rules.opts.names
	switch e.EventType {
	case names.Created:
		if !b.state.IsNew() {
			return b.illegal(e)
		}
		entity, err := es.DecodeEventPayload[T](e)
		if err != nil {
			return err
		}
		b.state = ActiveState(entity)
	case names.Updated:
		current, ok := b.state.Entity()
		if !b.state.IsActive() || !ok {
			return b.illegal(e)
		}
		changes, err := es.DecodeEventPayload[T](e)
		if err != nil {
			return err
		}
		b.state = ActiveState(b.rules.opts.merge(current, changes))
	case names.Deleted:
		current, ok := b.state.Entity()
		if !b.state.IsActive() || !ok {
			return b.illegal(e)
		}
		b.state = DeletedState(current)
	default:
		return es.NewUnsupportedEvent(e)
	}
	return nil
}

func (b *behavior[T]) illegal(e es.Event) error {
	return fmt.Errorf("%w: %s at sequence %d in state %s", ErrIllegalTransition, e.EventType, e.Sequence, b.state.Name)
}

var _ es.Behavior[State[struct{}]] = (*behavior[struct{}])(nil)
