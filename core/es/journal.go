package es

import (
	"errors"
	"fmt"
)

// Journal is the minimal replay set of an aggregate: the latest snapshot, if
// any, plus every event after it in ascending order.
type Journal struct {
	AggregateID string    `json:"aggregateId"`
	Snapshot    *Snapshot `json:"snapshot,omitempty"`
	Events      []Event   `json:"events"`
}

// LastSequence is the highest sequence covered by the journal.
func (j *Journal) LastSequence() Sequence {
	if n := len(j.Events); n > 0 {
		return j.Events[n-1].Sequence
	}
	if j.Snapshot != nil {
		return j.Snapshot.Sequence
	}
	return 0
}

// IsEmpty reports whether the journal carries neither a snapshot nor events.
func (j *Journal) IsEmpty() bool { return j.Snapshot == nil && len(j.Events) == 0 }

// Validate checks that the journal is a well-formed replay set: all records
// belong to the aggregate and event sequences continue the snapshot without
// gaps.
func (j *Journal) Validate() error {
	if j.AggregateID == "" {
		return errors.New("journal aggregate id is empty")
	}

	next := Sequence(1)
	if s := j.Snapshot; s != nil {
		if s.AggregateID != j.AggregateID {
			return fmt.Errorf("snapshot belongs to %q, not %q", s.AggregateID, j.AggregateID)
		}
		if s.Sequence == 0 {
			return errors.New("snapshot sequence is zero")
		}
		next = s.Sequence.Next()
	}

	for _, e := range j.Events {
		if e.AggregateID != j.AggregateID {
			return fmt.Errorf("event %s belongs to %q, not %q", e.EventID, e.AggregateID, j.AggregateID)
		}
		if e.Sequence != next {
			return fmt.Errorf("expect sequence %d, got %d", next, e.Sequence)
		}
		next++
	}
	return nil
}
