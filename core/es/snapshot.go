package es

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

type (
	// Snapshot is the materialized state of an aggregate as of Sequence.
	// Replaying it substitutes for replaying every event up to and including
	// Sequence.
	Snapshot struct {
		SnapshotID  string          `json:"snapshotId"`
		AggregateID string          `json:"aggregateId"`
		Sequence    Sequence        `json:"sequence"`
		Payload     json.RawMessage `json:"payload"`
	}

	SnapshotInput struct {
		AggregateID string          `json:"aggregateId"`
		Sequence    Sequence        `json:"sequence"`
		Payload     json.RawMessage `json:"payload"`
	}
)

func NewSnapshotInput(aggregateID string, seq Sequence, state any) (SnapshotInput, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return SnapshotInput{}, fmt.Errorf("encode snapshot of %s: %w", aggregateID, err)
	}
	in := SnapshotInput{AggregateID: aggregateID, Sequence: seq, Payload: data}
	return in, in.Validate()
}

func (s SnapshotInput) Validate() error {
	if s.AggregateID == "" {
		return errors.New("snapshot aggregate id is empty")
	}
	if s.Sequence == 0 {
		return errors.New("snapshot sequence is zero")
	}
	return nil
}

func (s Snapshot) DecodePayload(v any) error {
	if err := json.Unmarshal(s.Payload, v); err != nil {
		return fmt.Errorf("decode snapshot of %s@%d: %w", s.AggregateID, s.Sequence, err)
	}
	return nil
}

func (s Snapshot) SlogAttr() slog.Attr {
	return slog.Group(
		"snapshot",
		slog.String("id", s.SnapshotID),
		slog.String("aggregate_id", s.AggregateID),
		s.Sequence.SlogAttr(),
		slog.Int("size", len(s.Payload)),
	)
}
