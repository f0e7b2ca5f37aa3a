package estests

import (
	"context"
	"sync"
	"testing"

	"github.com/codewandler/eventum-go/core/es"
	"github.com/codewandler/eventum-go/core/es/estests/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDispatcher(t *testing.T, conn es.JournalConnector, opts ...es.DispatcherOption) *es.Dispatcher[domain.CounterState] {
	t.Helper()
	d, err := es.NewDispatcher(conn, domain.NewCounter, cfgWithDelta(5), opts...)
	require.NoError(t, err)
	t.Cleanup(d.Close)
	return d
}

func TestDispatcher_SerializesPerAggregate(t *testing.T) {
	conn := es.NewInMemoryConnector()
	d := newDispatcher(t, conn)
	ids := []string{uuid.NewString(), uuid.NewString(), uuid.NewString()}

	var wg sync.WaitGroup
	for _, id := range ids {
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for range 5 {
					_, err := d.Emit(t.Context(), id, domain.Inc(id, 1))
					assert.NoError(t, err)
				}
			}()
		}
	}
	wg.Wait()

	for _, id := range ids {
		st, err := d.State(t.Context(), id)
		require.NoError(t, err)
		require.Equal(t, 50, st.Value)

		events := conn.Events(id)
		require.Len(t, events, 50)
		for i, e := range events {
			require.Equal(t, es.Sequence(i+1), e.Sequence)
		}
		require.Len(t, conn.Snapshots(id), 10)
	}
}

func TestDispatcher_CachesInstances(t *testing.T) {
	d := newDispatcher(t, es.NewInMemoryConnector())
	id := uuid.NewString()

	a1, err := d.Load(t.Context(), id)
	require.NoError(t, err)
	a2, err := d.Load(t.Context(), id)
	require.NoError(t, err)
	require.Same(t, a1, a2)
}

func TestDispatcher_RebuildsStaleInstance(t *testing.T) {
	conn := es.NewInMemoryConnector()
	d := newDispatcher(t, conn)
	id := uuid.NewString()

	_, err := d.Emit(t.Context(), id, domain.Inc(id, 1))
	require.NoError(t, err)

	// another writer appends behind the dispatcher's back
	other := buildCounter(t, conn, id, cfgWithDelta(5))
	_, err = other.Emit(t.Context(), domain.Inc(id, 10))
	require.NoError(t, err)

	_, err = d.Emit(t.Context(), id, domain.Inc(id, 100))
	require.ErrorIs(t, err, es.ErrConcurrencyConflict)

	st, err := d.Emit(t.Context(), id, domain.Inc(id, 1000))
	require.NoError(t, err)
	require.Equal(t, 1111, st.Value)
	require.Len(t, conn.Events(id), 4)
}

func TestDispatcher_WithoutCache(t *testing.T) {
	conn := es.NewInMemoryConnector()
	d := newDispatcher(t, conn, es.WithCacheSize(-1))
	id := uuid.NewString()

	for range 3 {
		_, err := d.Emit(t.Context(), id, domain.Inc(id, 2))
		require.NoError(t, err)
	}

	a1, err := d.Load(t.Context(), id)
	require.NoError(t, err)
	a2, err := d.Load(t.Context(), id)
	require.NoError(t, err)
	require.NotSame(t, a1, a2)
	require.Equal(t, 6, a2.State().Value)
}

func TestDispatcher_Do(t *testing.T) {
	conn := es.NewInMemoryConnector()
	d := newDispatcher(t, conn)
	id := uuid.NewString()

	err := d.Do(t.Context(), id, func(ctx context.Context, a *es.Aggregate[domain.CounterState]) error {
		if a.State().Value > 0 {
			return nil
		}
		_, err := a.EmitAll(ctx, []es.EventInput{domain.Inc(id, 1), domain.Inc(id, 1)})
		return err
	})
	require.NoError(t, err)

	st, err := d.State(t.Context(), id)
	require.NoError(t, err)
	require.Equal(t, 2, st.Value)
}
