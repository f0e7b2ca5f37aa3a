package es

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

type (
	// Event is an immutable fact persisted in an aggregate's journal.
	Event struct {
		// EventID is assigned by the connector on persistence.
		EventID     string          `json:"eventId"`
		EventType   string          `json:"eventType"`
		AggregateID string          `json:"aggregateId"`
		Sequence    Sequence        `json:"sequence"`
		OccurredAt  time.Time       `json:"occurredAt"`
		Payload     json.RawMessage `json:"payload,omitempty"`
	}

	// EventInput is what a caller hands to a connector before persistence.
	// Sequence and OccurredAt are assigned by the connector.
	EventInput struct {
		EventType   string          `json:"eventType"`
		AggregateID string          `json:"aggregateId"`
		Payload     json.RawMessage `json:"payload,omitempty"`
	}
)

// NewEventInput JSON-encodes payload into a new EventInput. A nil payload
// produces an input without payload.
func NewEventInput(eventType, aggregateID string, payload any) (EventInput, error) {
	in := EventInput{EventType: eventType, AggregateID: aggregateID}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return in, fmt.Errorf("encode payload of %s: %w", eventType, err)
		}
		in.Payload = data
	}
	return in, in.Validate()
}

func (e EventInput) Validate() error {
	if e.EventType == "" {
		return errors.New("event type is empty")
	}
	if e.AggregateID == "" {
		return errors.New("event aggregate id is empty")
	}
	return nil
}

func (e Event) Validate() error {
	if e.EventType == "" {
		return errors.New("event type is empty")
	}
	if e.AggregateID == "" {
		return errors.New("event aggregate id is empty")
	}
	if e.Sequence == 0 {
		return errors.New("event sequence is zero")
	}
	return nil
}

// DecodePayload unmarshals the event payload into v.
func (e Event) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("event %s#%d has no payload", e.EventType, e.Sequence)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode payload of %s#%d: %w", e.EventType, e.Sequence, err)
	}
	return nil
}

// SlogAttr groups the identifying fields of the event for logging.
func (e Event) SlogAttr() slog.Attr {
	return slog.Group(
		"event",
		slog.String("id", e.EventID),
		slog.String("type", e.EventType),
		slog.String("aggregate_id", e.AggregateID),
		e.Sequence.SlogAttr(),
	)
}

// DecodeEventPayload is the generic form of [Event.DecodePayload].
func DecodeEventPayload[T any](e Event) (T, error) {
	var v T
	err := e.DecodePayload(&v)
	return v, err
}
