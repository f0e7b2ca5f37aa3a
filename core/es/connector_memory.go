package es

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Operation names of the journal connector contract.
const (
	OpGetJournal   = "getJournal"
	OpSaveEvents   = "saveEvents"
	OpSaveSnapshot = "saveSnapshot"
)

// FaultFunc is consulted before every connector operation. A non-nil error
// aborts the operation without touching the store.
type FaultFunc func(op, aggregateID string) error

// InMemoryConnector keeps journals in process memory. Every instance owns
// its own store.
type InMemoryConnector struct {
	mu        sync.Mutex
	log       *slog.Logger
	now       func() time.Time
	fault     FaultFunc
	events    map[string][]Event
	snapshots map[string][]Snapshot
}

func NewInMemoryConnector(opts ...InMemoryOption) *InMemoryConnector {
	options := inMemoryOptions{
		log: slog.Default(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt.applyToInMemory(&options)
	}
	return &InMemoryConnector{
		log:       options.log.With(slog.String("connector", "memory")),
		now:       options.now,
		fault:     options.fault,
		events:    map[string][]Event{},
		snapshots: map[string][]Snapshot{},
	}
}

// SetFault replaces the fault hook. Passing nil disables fault injection.
func (c *InMemoryConnector) SetFault(f FaultFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fault = f
}

func (c *InMemoryConnector) checkFault(op, aggregateID string) error {
	if c.fault == nil {
		return nil
	}
	return c.fault(op, aggregateID)
}

func (c *InMemoryConnector) GetJournal(_ context.Context, aggregateID string) (*Journal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkFault(OpGetJournal, aggregateID); err != nil {
		return nil, err
	}

	j := &Journal{AggregateID: aggregateID, Events: []Event{}}
	from := Sequence(1)
	if ss := c.snapshots[aggregateID]; len(ss) > 0 {
		latest := ss[len(ss)-1]
		j.Snapshot = &latest
		from = latest.Sequence.Next()
	}
	for _, e := range c.events[aggregateID] {
		if e.Sequence >= from {
			j.Events = append(j.Events, e)
		}
	}

	if j.IsEmpty() {
		return nil, fmt.Errorf("%w: %s", ErrJournalNotFound, aggregateID)
	}
	return j, nil
}

func (c *InMemoryConnector) SaveEvents(_ context.Context, inputs []EventInput) ([]Event, error) {
	aggID, err := ValidateEventInputs(inputs)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkFault(OpSaveEvents, aggID); err != nil {
		return nil, err
	}

	stream := c.events[aggID]
	last := Sequence(0)
	if n := len(stream); n > 0 {
		last = stream[n-1].Sequence
	}

	now := c.now()
	out := make([]Event, 0, len(inputs))
	for _, in := range inputs {
		last++
		out = append(out, Event{
			EventID:     gonanoid.Must(),
			EventType:   in.EventType,
			AggregateID: aggID,
			Sequence:    last,
			OccurredAt:  now,
			Payload:     slices.Clone(in.Payload),
		})
	}
	c.events[aggID] = append(stream, out...)

	c.log.Debug(
		"events saved",
		slog.String("aggregate_id", aggID),
		last.SlogAttrWithKey("last_seq"),
		slog.Int("num_events", len(out)),
	)

	return slices.Clone(out), nil
}

func (c *InMemoryConnector) SaveSnapshot(_ context.Context, in SnapshotInput) error {
	if err := in.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkFault(OpSaveSnapshot, in.AggregateID); err != nil {
		return err
	}

	stream := c.events[in.AggregateID]
	if len(stream) == 0 || stream[len(stream)-1].Sequence < in.Sequence {
		return fmt.Errorf("snapshot sequence %d of %s is ahead of the journal", in.Sequence, in.AggregateID)
	}

	s := Snapshot{
		SnapshotID:  gonanoid.Must(),
		AggregateID: in.AggregateID,
		Sequence:    in.Sequence,
		Payload:     slices.Clone(in.Payload),
	}

	ss := c.snapshots[in.AggregateID]
	i, found := slices.BinarySearchFunc(ss, s.Sequence, func(a Snapshot, seq Sequence) int {
		return cmp.Compare(a.Sequence, seq)
	})
	if found {
		s.SnapshotID = ss[i].SnapshotID
		ss[i] = s
	} else {
		ss = slices.Insert(ss, i, s)
	}
	c.snapshots[in.AggregateID] = ss

	c.log.Debug("snapshot saved", s.SlogAttr())
	return nil
}

// Events returns every persisted event of the aggregate, ignoring snapshots.
func (c *InMemoryConnector) Events(aggregateID string) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.events[aggregateID])
}

// Snapshots returns every persisted snapshot of the aggregate in ascending
// sequence order.
func (c *InMemoryConnector) Snapshots(aggregateID string) []Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.snapshots[aggregateID])
}

var _ JournalConnector = (*InMemoryConnector)(nil)
