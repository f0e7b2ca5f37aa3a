package es

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// TestJournalConnector runs the connector contract against the connector
// returned by newConn. Aggregate ids are random, so connectors may share a
// backend between subtests.
func TestJournalConnector(t *testing.T, newConn func(t *testing.T) JournalConnector) {
	t.Helper()

	input := func(t *testing.T, aggID, eventType string, payload any) EventInput {
		in, err := NewEventInput(eventType, aggID, payload)
		require.NoError(t, err)
		return in
	}

	t.Run("journal not found", func(t *testing.T) {
		c := newConn(t)
		j, err := c.GetJournal(t.Context(), uuid.NewString())
		require.ErrorIs(t, err, ErrJournalNotFound)
		require.Nil(t, j)
	})

	t.Run("save events assigns contiguous sequences", func(t *testing.T) {
		c := newConn(t)
		aggID := uuid.NewString()

		saved, err := c.SaveEvents(t.Context(), []EventInput{
			input(t, aggID, "Created", map[string]any{"n": 1}),
			input(t, aggID, "Updated", map[string]any{"n": 2}),
		})
		require.NoError(t, err)
		require.Len(t, saved, 2)
		for i, e := range saved {
			require.Equal(t, Sequence(i+1), e.Sequence)
			require.Equal(t, aggID, e.AggregateID)
			require.NotEmpty(t, e.EventID)
			require.False(t, e.OccurredAt.IsZero())
		}
		require.Equal(t, "Created", saved[0].EventType)
		require.Equal(t, "Updated", saved[1].EventType)
		require.JSONEq(t, `{"n":2}`, string(saved[1].Payload))

		more, err := c.SaveEvents(t.Context(), []EventInput{input(t, aggID, "Updated", map[string]any{"n": 3})})
		require.NoError(t, err)
		require.Len(t, more, 1)
		require.Equal(t, Sequence(3), more[0].Sequence)

		j, err := c.GetJournal(t.Context(), aggID)
		require.NoError(t, err)
		require.NoError(t, j.Validate())
		require.Nil(t, j.Snapshot)
		require.Len(t, j.Events, 3)
		require.Equal(t, Sequence(3), j.LastSequence())
	})

	t.Run("journal starts after latest snapshot", func(t *testing.T) {
		c := newConn(t)
		aggID := uuid.NewString()

		inputs := make([]EventInput, 0, 5)
		for i := range 5 {
			inputs = append(inputs, input(t, aggID, "Updated", map[string]any{"n": i}))
		}
		_, err := c.SaveEvents(t.Context(), inputs)
		require.NoError(t, err)

		require.NoError(t, c.SaveSnapshot(t.Context(), SnapshotInput{AggregateID: aggID, Sequence: 2, Payload: json.RawMessage(`{"v":2}`)}))
		require.NoError(t, c.SaveSnapshot(t.Context(), SnapshotInput{AggregateID: aggID, Sequence: 4, Payload: json.RawMessage(`{"v":4}`)}))
		// repeating a snapshot is harmless
		require.NoError(t, c.SaveSnapshot(t.Context(), SnapshotInput{AggregateID: aggID, Sequence: 4, Payload: json.RawMessage(`{"v":4}`)}))

		j, err := c.GetJournal(t.Context(), aggID)
		require.NoError(t, err)
		require.NoError(t, j.Validate())
		require.NotNil(t, j.Snapshot)
		require.Equal(t, Sequence(4), j.Snapshot.Sequence)
		require.JSONEq(t, `{"v":4}`, string(j.Snapshot.Payload))
		require.Len(t, j.Events, 1)
		require.Equal(t, Sequence(5), j.Events[0].Sequence)
	})

	t.Run("snapshot at head leaves no trailing events", func(t *testing.T) {
		c := newConn(t)
		aggID := uuid.NewString()

		_, err := c.SaveEvents(t.Context(), []EventInput{input(t, aggID, "Created", nil)})
		require.NoError(t, err)
		require.NoError(t, c.SaveSnapshot(t.Context(), SnapshotInput{AggregateID: aggID, Sequence: 1, Payload: json.RawMessage(`{}`)}))

		j, err := c.GetJournal(t.Context(), aggID)
		require.NoError(t, err)
		require.NotNil(t, j.Snapshot)
		require.Empty(t, j.Events)
		require.Equal(t, Sequence(1), j.LastSequence())
	})

	t.Run("aggregates are isolated", func(t *testing.T) {
		c := newConn(t)
		a, b := uuid.NewString(), uuid.NewString()

		_, err := c.SaveEvents(t.Context(), []EventInput{input(t, a, "Created", nil), input(t, a, "Updated", nil)})
		require.NoError(t, err)
		saved, err := c.SaveEvents(t.Context(), []EventInput{input(t, b, "Created", nil)})
		require.NoError(t, err)
		require.Equal(t, Sequence(1), saved[0].Sequence)

		j, err := c.GetJournal(t.Context(), b)
		require.NoError(t, err)
		require.Len(t, j.Events, 1)
		require.Equal(t, b, j.AggregateID)
	})

	t.Run("rejects invalid input", func(t *testing.T) {
		c := newConn(t)
		ctx := context.WithoutCancel(t.Context())

		_, err := c.SaveEvents(ctx, nil)
		require.Error(t, err)

		_, err = c.SaveEvents(ctx, []EventInput{
			input(t, uuid.NewString(), "Created", nil),
			input(t, uuid.NewString(), "Created", nil),
		})
		require.Error(t, err)

		_, err = c.SaveEvents(ctx, []EventInput{{AggregateID: uuid.NewString()}})
		require.Error(t, err)
	})
}
