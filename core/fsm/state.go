package fsm

import (
	"errors"
	"fmt"
)

var ErrUnknownState = errors.New("unknown state")

type StateName string

const (
	New     StateName = "New"
	Active  StateName = "Active"
	Deleted StateName = "Deleted"
)

// State is the tagged lifecycle state of an entity. New carries no payload,
// Active carries the current entity and Deleted keeps the last one.
type State[T any] struct {
	Name    StateName `json:"stateName"`
	Payload *T        `json:"payload,omitempty"`
}

func NewState[T any]() State[T]             { return State[T]{Name: New} }
func ActiveState[T any](entity T) State[T]  { return State[T]{Name: Active, Payload: &entity} }
func DeletedState[T any](entity T) State[T] { return State[T]{Name: Deleted, Payload: &entity} }

// StateVisitor has one method per state. Implementations are checked by the
// compiler, so adding a state breaks every visitor that does not handle it.
type StateVisitor[T any] interface {
	VisitNew() error
	VisitActive(entity T) error
	VisitDeleted(entity T) error
}

// Visit calls the visitor method matching the state.
func (s State[T]) Visit(v StateVisitor[T]) error {
	switch s.Name {
	case New:
		return v.VisitNew()
	case Active, Deleted:
		if s.Payload == nil {
			return fmt.Errorf("%w: %s without payload", ErrUnknownState, s.Name)
		}
		if s.Name == Active {
			return v.VisitActive(*s.Payload)
		}
		return v.VisitDeleted(*s.Payload)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownState, s.Name)
	}
}

// Entity returns the payload of an Active or Deleted state.
func (s State[T]) Entity() (T, bool) {
	if s.Payload == nil {
		var zero T
		return zero, false
	}
	return *s.Payload, true
}

func (s State[T]) IsNew() bool     { return s.Name == New }
func (s State[T]) IsActive() bool  { return s.Name == Active }
func (s State[T]) IsDeleted() bool { return s.Name == Deleted }
