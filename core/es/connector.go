package es

import "context"

// JournalConnector is the storage collaborator of an aggregate.
//
// GetJournal returns the latest snapshot and every event after it, or
// ErrJournalNotFound when the aggregate has no history at all.
//
// SaveEvents persists all inputs atomically. The returned events carry
// sequences that continue the aggregate's history without gaps, in the
// order they were submitted. On error nothing is persisted.
//
// SaveSnapshot persists a point-in-time state. Repeating an identical call
// is harmless.
type JournalConnector interface {
	GetJournal(ctx context.Context, aggregateID string) (*Journal, error)
	SaveEvents(ctx context.Context, events []EventInput) ([]Event, error)
	SaveSnapshot(ctx context.Context, snapshot SnapshotInput) error
}

// Closer is implemented by connectors holding resources.
type Closer interface {
	Close() error
}

// ValidateEventInputs checks inputs of a SaveEvents call: none of them may be
// invalid and all must target the same aggregate. It returns that aggregate id.
func ValidateEventInputs(events []EventInput) (string, error) {
	if len(events) == 0 {
		return "", ErrNoEvents
	}
	aggID := events[0].AggregateID
	for _, e := range events {
		if err := e.Validate(); err != nil {
			return "", err
		}
		if e.AggregateID != aggID {
			return "", ErrMixedAggregates
		}
	}
	return aggID, nil
}
