package domain

import (
	"github.com/codewandler/eventum-go/core/es"
)

const (
	EventIncremented = "Incremented"
	EventReset       = "Reset"
)

type (
	CounterState struct {
		Value     int `json:"value"`
		NumEvents int `json:"num_events"`
		NumResets int `json:"num_resets"`
	}

	Incremented struct {
		By int `json:"by"`
	}

	// Counter is a minimal behavior for exercising the aggregate runtime.
	Counter struct {
		state CounterState
	}
)

func NewCounter(string) es.Behavior[CounterState] { return &Counter{} }

func (c *Counter) CurrentState() CounterState { return c.state }

func (c *Counter) ApplySnapshot(s es.Snapshot) error {
	var st CounterState
	if err := s.DecodePayload(&st); err != nil {
		return err
	}
	c.state = st
	return nil
}

func (c *Counter) ApplyEvent(e es.Event) error {
	switch e.EventType {
	case EventIncremented:
		inc, err := es.DecodeEventPayload[Incremented](e)
		if err != nil {
			return err
		}
		c.state.Value += inc.By
	case EventReset:
		c.state.Value = 0
		c.state.NumResets++
	default:
		return es.NewUnsupportedEvent(e)
	}
	c.state.NumEvents++
	return nil
}

func Inc(id string, by int) es.EventInput {
	in, err := es.NewEventInput(EventIncremented, id, Incremented{By: by})
	if err != nil {
		panic(err)
	}
	return in
}

func Reset(id string) es.EventInput {
	return es.EventInput{EventType: EventReset, AggregateID: id}
}

var _ es.Behavior[CounterState] = (*Counter)(nil)
