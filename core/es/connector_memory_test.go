package es

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInMemoryConnector(t *testing.T) {
	TestJournalConnector(t, func(t *testing.T) JournalConnector {
		return NewInMemoryConnector()
	})
}

func TestInMemoryConnector_SnapshotAheadOfJournal(t *testing.T) {
	c := NewInMemoryConnector()
	_, err := c.SaveEvents(t.Context(), []EventInput{{EventType: "Created", AggregateID: "a"}})
	require.NoError(t, err)

	err = c.SaveSnapshot(t.Context(), SnapshotInput{AggregateID: "a", Sequence: 2, Payload: []byte(`{}`)})
	require.Error(t, err)
	require.Empty(t, c.Snapshots("a"))
}

func TestInMemoryConnector_Clock(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c := NewInMemoryConnector(WithClock(func() time.Time { return at }))

	saved, err := c.SaveEvents(t.Context(), []EventInput{{EventType: "Created", AggregateID: "a"}})
	require.NoError(t, err)
	require.Equal(t, at, saved[0].OccurredAt)
}

func TestInMemoryConnector_InstancesAreIsolated(t *testing.T) {
	c1, c2 := NewInMemoryConnector(), NewInMemoryConnector()
	_, err := c1.SaveEvents(t.Context(), []EventInput{{EventType: "Created", AggregateID: "a"}})
	require.NoError(t, err)

	_, err = c2.GetJournal(t.Context(), "a")
	require.ErrorIs(t, err, ErrJournalNotFound)
}
