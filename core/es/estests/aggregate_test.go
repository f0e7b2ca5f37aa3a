package estests

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/codewandler/eventum-go/core/es"
	"github.com/codewandler/eventum-go/core/es/estests/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func cfgWithDelta(d int) es.AggregateConfig {
	return es.AggregateConfig{Snapshot: es.SnapshotConfig{Delta: d}}
}

func buildCounter(t *testing.T, conn es.JournalConnector, id string, cfg es.AggregateConfig, opts ...es.AggregateOption) *es.Aggregate[domain.CounterState] {
	t.Helper()
	a, err := es.Build(t.Context(), id, conn, domain.NewCounter(id), cfg, opts...)
	require.NoError(t, err)
	return a
}

func TestAggregate_NoHistory(t *testing.T) {
	conn := es.NewInMemoryConnector()
	a := buildCounter(t, conn, uuid.NewString(), es.DefaultAggregateConfig())

	require.Equal(t, domain.CounterState{}, a.State())
	require.Equal(t, es.Sequence(0), a.LastSequence())
	require.Equal(t, es.Sequence(0), a.LastSnapshotSequence())
	require.NoError(t, a.Err())
}

func TestAggregate_ReplayEquivalence(t *testing.T) {
	conn := es.NewInMemoryConnector()
	id := uuid.NewString()

	live := buildCounter(t, conn, id, cfgWithDelta(3))
	for i := 1; i <= 7; i++ {
		_, err := live.Emit(t.Context(), domain.Inc(id, i))
		require.NoError(t, err)
	}
	state, err := live.Emit(t.Context(), domain.Reset(id))
	require.NoError(t, err)
	state, err = live.Emit(t.Context(), domain.Inc(id, 4))
	require.NoError(t, err)
	require.Equal(t, domain.CounterState{Value: 4, NumEvents: 9, NumResets: 1}, state)

	replayed := buildCounter(t, conn, id, cfgWithDelta(3))
	require.Equal(t, live.State(), replayed.State())
	require.Equal(t, live.LastSequence(), replayed.LastSequence())
	require.Equal(t, es.Sequence(9), replayed.LastSnapshotSequence())

	// full replay without snapshots gives the same state
	bare := es.NewInMemoryConnector()
	_, err = bare.SaveEvents(t.Context(), eventInputs(conn.Events(id)))
	require.NoError(t, err)
	fromEvents := buildCounter(t, bare, id, cfgWithDelta(100))
	require.Equal(t, live.State(), fromEvents.State())
}

func eventInputs(events []es.Event) []es.EventInput {
	out := make([]es.EventInput, 0, len(events))
	for _, e := range events {
		out = append(out, es.EventInput{EventType: e.EventType, AggregateID: e.AggregateID, Payload: e.Payload})
	}
	return out
}

func TestAggregate_SequenceMonotonicity(t *testing.T) {
	conn := es.NewInMemoryConnector()
	id := uuid.NewString()
	a := buildCounter(t, conn, id, cfgWithDelta(4))

	_, err := a.EmitAll(t.Context(), []es.EventInput{domain.Inc(id, 1), domain.Inc(id, 2), domain.Reset(id)})
	require.NoError(t, err)
	for range 5 {
		_, err = a.Emit(t.Context(), domain.Inc(id, 1))
		require.NoError(t, err)
	}

	events := conn.Events(id)
	require.Len(t, events, 8)
	for i, e := range events {
		require.Equal(t, es.Sequence(i+1), e.Sequence)
	}
	require.Equal(t, domain.EventReset, events[2].EventType)
	require.Equal(t, es.Sequence(8), a.LastSequence())
}

func TestAggregate_SnapshotCadence(t *testing.T) {
	for _, tc := range []struct {
		delta        int
		events       int
		wantSnapshot es.Sequence
		wantTrailing int
	}{
		{delta: 5, events: 10, wantSnapshot: 10, wantTrailing: 0},
		{delta: 4, events: 10, wantSnapshot: 8, wantTrailing: 2},
		{delta: 3, events: 10, wantSnapshot: 9, wantTrailing: 1},
		{delta: 1, events: 3, wantSnapshot: 3, wantTrailing: 0},
		{delta: 11, events: 10, wantSnapshot: 0, wantTrailing: 10},
	} {
		t.Run(fmt.Sprintf("delta=%d events=%d", tc.delta, tc.events), func(t *testing.T) {
			conn := es.NewInMemoryConnector()
			id := uuid.NewString()
			a := buildCounter(t, conn, id, cfgWithDelta(tc.delta))

			for range tc.events {
				_, err := a.Emit(t.Context(), domain.Inc(id, 1))
				require.NoError(t, err)
			}
			require.Equal(t, tc.wantSnapshot, a.LastSnapshotSequence())

			j, err := conn.GetJournal(t.Context(), id)
			require.NoError(t, err)
			if tc.wantSnapshot == 0 {
				require.Nil(t, j.Snapshot)
			} else {
				require.NotNil(t, j.Snapshot)
				require.Equal(t, tc.wantSnapshot, j.Snapshot.Sequence)

				var st domain.CounterState
				require.NoError(t, j.Snapshot.DecodePayload(&st))
				require.Equal(t, int(tc.wantSnapshot), st.Value)
			}
			require.Len(t, j.Events, tc.wantTrailing)

			b := buildCounter(t, conn, id, cfgWithDelta(tc.delta))
			require.Equal(t, a.State(), b.State())
			require.Equal(t, tc.wantSnapshot, b.LastSnapshotSequence())
		})
	}
}

func TestAggregate_PersistenceFailureLeavesStateUnchanged(t *testing.T) {
	conn := es.NewInMemoryConnector()
	id := uuid.NewString()
	a := buildCounter(t, conn, id, cfgWithDelta(10))

	_, err := a.Emit(t.Context(), domain.Inc(id, 3))
	require.NoError(t, err)

	boom := errors.New("disk full")
	conn.SetFault(func(op, _ string) error {
		if op == es.OpSaveEvents {
			return boom
		}
		return nil
	})

	_, err = a.EmitAll(t.Context(), []es.EventInput{domain.Inc(id, 1), domain.Inc(id, 1)})
	require.ErrorIs(t, err, es.ErrPersistence)
	require.ErrorIs(t, err, boom)
	var pe *es.PersistenceError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, es.OpSaveEvents, pe.Op)

	require.Equal(t, 3, a.State().Value)
	require.Equal(t, es.Sequence(1), a.LastSequence())
	require.Len(t, conn.Events(id), 1)
	require.NoError(t, a.Err())

	conn.SetFault(nil)
	state, err := a.Emit(t.Context(), domain.Inc(id, 1))
	require.NoError(t, err)
	require.Equal(t, 4, state.Value)
	require.Equal(t, es.Sequence(2), a.LastSequence())
}

func TestAggregate_SnapshotFailureDoesNotFailEmit(t *testing.T) {
	conn := es.NewInMemoryConnector(es.WithFault(func(op, _ string) error {
		if op == es.OpSaveSnapshot {
			return errors.New("bucket unavailable")
		}
		return nil
	}))
	id := uuid.NewString()

	var (
		mu     sync.Mutex
		failed []es.Sequence
	)
	a := buildCounter(t, conn, id, cfgWithDelta(2), es.WithSnapshotErrorHandler(func(aggID string, seq es.Sequence, err error) {
		mu.Lock()
		defer mu.Unlock()
		require.Equal(t, id, aggID)
		require.ErrorIs(t, err, es.ErrPersistence)
		failed = append(failed, seq)
	}))

	for range 4 {
		_, err := a.Emit(t.Context(), domain.Inc(id, 1))
		require.NoError(t, err)
	}

	require.Equal(t, 4, a.State().Value)
	require.Equal(t, []es.Sequence{2, 4}, failed)
	require.Empty(t, conn.Snapshots(id))
	require.Equal(t, es.Sequence(4), a.LastSnapshotSequence())

	// full replay still works without any snapshot
	b := buildCounter(t, conn, id, cfgWithDelta(2))
	require.Equal(t, a.State(), b.State())
}

func TestAggregate_AsyncSnapshots(t *testing.T) {
	conn := es.NewInMemoryConnector()
	id := uuid.NewString()
	a := buildCounter(t, conn, id, cfgWithDelta(2), es.WithAsyncSnapshots())

	for range 5 {
		_, err := a.Emit(t.Context(), domain.Inc(id, 2))
		require.NoError(t, err)
	}
	a.WaitSnapshots()

	snapshots := conn.Snapshots(id)
	require.Len(t, snapshots, 2)
	require.Equal(t, es.Sequence(2), snapshots[0].Sequence)
	require.Equal(t, es.Sequence(4), snapshots[1].Sequence)

	var st domain.CounterState
	require.NoError(t, snapshots[1].DecodePayload(&st))
	require.Equal(t, 8, st.Value)
}

func TestAggregate_RehydrationFailure(t *testing.T) {
	boom := errors.New("connection refused")
	conn := es.NewInMemoryConnector()
	id := uuid.NewString()
	_, err := conn.SaveEvents(t.Context(), []es.EventInput{domain.Inc(id, 1)})
	require.NoError(t, err)

	conn.SetFault(func(op, _ string) error {
		if op == es.OpGetJournal {
			return boom
		}
		return nil
	})

	a, err := es.NewAggregate(id, conn, domain.NewCounter(id), es.DefaultAggregateConfig())
	require.NoError(t, err)

	err = a.Rehydrate(t.Context())
	require.ErrorIs(t, err, es.ErrRehydration)
	require.ErrorIs(t, err, boom)
	var re *es.RehydrationError
	require.ErrorAs(t, err, &re)
	require.Equal(t, id, re.AggregateID)

	// not fatal: the caller may retry
	require.NoError(t, a.Err())
	conn.SetFault(nil)
	require.NoError(t, a.Rehydrate(t.Context()))
	require.Equal(t, 1, a.State().Value)
}

// emptyJournalConnector answers GetJournal without a journal and without an
// error.
type emptyJournalConnector struct {
	*es.InMemoryConnector
}

func (emptyJournalConnector) GetJournal(context.Context, string) (*es.Journal, error) {
	return nil, nil
}

func TestAggregate_RehydrationWithoutJournal(t *testing.T) {
	conn := emptyJournalConnector{InMemoryConnector: es.NewInMemoryConnector()}
	id := uuid.NewString()

	a, err := es.NewAggregate(id, conn, domain.NewCounter(id), es.DefaultAggregateConfig())
	require.NoError(t, err)

	err = a.Rehydrate(t.Context())
	require.ErrorIs(t, err, es.ErrRehydration)
	require.ErrorContains(t, err, "no journal")
	require.Equal(t, domain.CounterState{}, a.State())

	_, err = a.Emit(t.Context(), domain.Inc(id, 1))
	require.ErrorIs(t, err, es.ErrRehydration)
}

func TestAggregate_UnknownEventIsFatal(t *testing.T) {
	conn := es.NewInMemoryConnector()
	id := uuid.NewString()
	_, err := conn.SaveEvents(t.Context(), []es.EventInput{
		domain.Inc(id, 1),
		{EventType: "Bogus", AggregateID: id},
	})
	require.NoError(t, err)

	_, err = es.Build(t.Context(), id, conn, domain.NewCounter(id), es.DefaultAggregateConfig())
	require.ErrorIs(t, err, es.ErrRehydration)
	require.ErrorIs(t, err, es.ErrUnsupportedEvent)
	var ue *es.UnsupportedEventError
	require.ErrorAs(t, err, &ue)
	require.Equal(t, "Bogus", ue.EventType)
	require.Equal(t, es.Sequence(2), ue.Sequence)

	a, err := es.NewAggregate(id, conn, domain.NewCounter(id), es.DefaultAggregateConfig())
	require.NoError(t, err)
	require.Error(t, a.Rehydrate(t.Context()))
	require.ErrorIs(t, a.Err(), es.ErrAggregateUnusable)

	_, err = a.Emit(t.Context(), domain.Inc(id, 1))
	require.ErrorIs(t, err, es.ErrAggregateUnusable)
	require.Len(t, conn.Events(id), 2)
}

func TestAggregate_ConcurrencyConflict(t *testing.T) {
	conn := es.NewInMemoryConnector()
	id := uuid.NewString()

	first := buildCounter(t, conn, id, es.DefaultAggregateConfig())
	second := buildCounter(t, conn, id, es.DefaultAggregateConfig())

	_, err := first.Emit(t.Context(), domain.Inc(id, 1))
	require.NoError(t, err)

	_, err = second.Emit(t.Context(), domain.Inc(id, 10))
	require.ErrorIs(t, err, es.ErrConcurrencyConflict)
	require.ErrorIs(t, second.Err(), es.ErrAggregateUnusable)
	require.Equal(t, 0, second.State().Value)
	require.Equal(t, es.Sequence(0), second.LastSequence())

	_, err = second.Emit(t.Context(), domain.Inc(id, 1))
	require.ErrorIs(t, err, es.ErrAggregateUnusable)

	// the losing write was persisted; a fresh instance sees both
	fresh := buildCounter(t, conn, id, es.DefaultAggregateConfig())
	require.Equal(t, 11, fresh.State().Value)
	require.Equal(t, es.Sequence(2), fresh.LastSequence())
}

func TestAggregate_EmitValidation(t *testing.T) {
	conn := es.NewInMemoryConnector()
	id := uuid.NewString()
	a := buildCounter(t, conn, id, es.DefaultAggregateConfig())

	_, err := a.EmitAll(t.Context(), []es.EventInput{domain.Inc(id, 1), domain.Inc(uuid.NewString(), 1)})
	require.ErrorIs(t, err, es.ErrMixedAggregates)

	_, err = a.Emit(t.Context(), es.EventInput{AggregateID: id})
	require.Error(t, err)

	require.Empty(t, conn.Events(id))
	require.NoError(t, a.Err())

	state, err := a.EmitAll(t.Context(), nil)
	require.NoError(t, err)
	require.Equal(t, domain.CounterState{}, state)
}

func TestAggregate_EmitRehydratesFirst(t *testing.T) {
	conn := es.NewInMemoryConnector()
	id := uuid.NewString()
	_, err := conn.SaveEvents(t.Context(), []es.EventInput{domain.Inc(id, 5)})
	require.NoError(t, err)

	a, err := es.NewAggregate(id, conn, domain.NewCounter(id), es.DefaultAggregateConfig())
	require.NoError(t, err)

	state, err := a.Emit(t.Context(), domain.Inc(id, 1))
	require.NoError(t, err)
	require.Equal(t, 6, state.Value)
	require.Equal(t, es.Sequence(2), a.LastSequence())
}

func TestAggregate_InvalidConfiguration(t *testing.T) {
	conn := es.NewInMemoryConnector()
	id := uuid.NewString()

	_, err := es.NewAggregate(id, conn, domain.NewCounter(id), cfgWithDelta(0))
	require.ErrorIs(t, err, es.ErrConfiguration)
	var ce *es.ConfigurationError
	require.ErrorAs(t, err, &ce)

	_, err = es.NewAggregate("", conn, domain.NewCounter(id), es.DefaultAggregateConfig())
	require.ErrorIs(t, err, es.ErrConfiguration)

	_, err = es.NewAggregate(id, nil, domain.NewCounter(id), es.DefaultAggregateConfig())
	require.ErrorIs(t, err, es.ErrConfiguration)
}
