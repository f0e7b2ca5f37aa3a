package es

import (
	"errors"
	"fmt"
)

var (
	ErrJournalNotFound     = errors.New("journal not found")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrConfiguration       = errors.New("configuration error")
	ErrRehydration         = errors.New("rehydration failed")
	ErrPersistence         = errors.New("persistence failed")
	ErrUnsupportedEvent    = errors.New("unsupported event")
	ErrUnsupportedCommand  = errors.New("unsupported command")
	ErrCommandRejected     = errors.New("command rejected")
	ErrAggregateUnusable   = errors.New("aggregate instance is unusable")
	ErrNoEvents            = errors.New("no events")
	ErrMixedAggregates     = errors.New("events target more than one aggregate")
)

type (
	// ConfigurationError is returned when a connector cannot be resolved from
	// the given configuration.
	ConfigurationError struct {
		Reason string
		Err    error
	}

	// RehydrationError is returned when an aggregate could not rebuild its
	// state from the journal.
	RehydrationError struct {
		AggregateID string
		Err         error
	}

	UnsupportedEventError struct {
		AggregateID string
		EventType   string
		Sequence    Sequence
	}

	UnsupportedCommandError struct {
		CommandType string
	}

	// CommandRejectedError is a business rule rejection. The aggregate is
	// left unchanged and remains usable.
	CommandRejectedError struct {
		AggregateID string
		CommandType string
		Reason      string
		Err         error
	}

	// PersistenceError wraps a connector failure while saving events or a
	// snapshot.
	PersistenceError struct {
		AggregateID string
		Op          string
		Err         error
	}
)

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Reason, e.Err)
	}
	return "configuration error: " + e.Reason
}
func (e *ConfigurationError) Unwrap() error        { return e.Err }
func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

func (e *RehydrationError) Error() string {
	return fmt.Sprintf("rehydrate %s: %v", e.AggregateID, e.Err)
}
func (e *RehydrationError) Unwrap() error        { return e.Err }
func (e *RehydrationError) Is(target error) bool { return target == ErrRehydration }

func (e *UnsupportedEventError) Error() string {
	return fmt.Sprintf("unsupported event %q at sequence %d of %s", e.EventType, e.Sequence, e.AggregateID)
}
func (e *UnsupportedEventError) Is(target error) bool { return target == ErrUnsupportedEvent }

func (e *UnsupportedCommandError) Error() string {
	return fmt.Sprintf("unsupported command %q", e.CommandType)
}
func (e *UnsupportedCommandError) Is(target error) bool { return target == ErrUnsupportedCommand }

func (e *CommandRejectedError) Error() string {
	return fmt.Sprintf("command %s rejected for %s: %s", e.CommandType, e.AggregateID, e.Reason)
}
func (e *CommandRejectedError) Unwrap() error        { return e.Err }
func (e *CommandRejectedError) Is(target error) bool { return target == ErrCommandRejected }

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s for %s: %v", e.Op, e.AggregateID, e.Err)
}
func (e *PersistenceError) Unwrap() error        { return e.Err }
func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// NewUnsupportedEvent returns the error a Behavior reports for an event type
// it does not know.
func NewUnsupportedEvent(e Event) error {
	return &UnsupportedEventError{AggregateID: e.AggregateID, EventType: e.EventType, Sequence: e.Sequence}
}
