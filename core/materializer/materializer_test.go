package materializer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/codewandler/eventum-go/core/es"
	"github.com/codewandler/eventum-go/core/metrics"
	"github.com/stretchr/testify/require"
)

// readModel records handled event types.
type readModel struct {
	mu      sync.Mutex
	handled []string
}

func (r *readModel) Handle(_ context.Context, e es.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handled = append(r.handled, e.EventType)
	return nil
}

func ev(aggID, eventType string, seq es.Sequence) es.Event {
	return es.Event{EventID: eventType, EventType: eventType, AggregateID: aggID, Sequence: seq}
}

func record(calls *[]string, name string, err error) Materializer {
	return Func(func(context.Context, es.Event) error {
		*calls = append(*calls, name)
		return err
	})
}

func TestMulti_StopsAtFirstError(t *testing.T) {
	boom := errors.New("boom")
	var calls []string
	m := Multi(
		record(&calls, "a", nil),
		record(&calls, "b", boom),
		record(&calls, "c", nil),
	)

	err := m.Handle(t.Context(), ev("x", "Created", 1))
	require.ErrorIs(t, err, boom)
	require.Equal(t, []string{"a", "b"}, calls)
}

func TestFilter(t *testing.T) {
	rm := &readModel{}
	m := Chain(rm, Filter("EntityCreated", "EntityDeleted"))

	for i, typ := range []string{"EntityCreated", "EntityUpdated", "EntityDeleted"} {
		require.NoError(t, m.Handle(t.Context(), ev("x", typ, es.Sequence(i+1))))
	}
	require.Equal(t, []string{"EntityCreated", "EntityDeleted"}, rm.handled)
}

func TestSkipSeen(t *testing.T) {
	rm := &readModel{}
	fail := true
	flaky := Func(func(ctx context.Context, e es.Event) error {
		if e.Sequence == 2 && fail {
			fail = false
			return errors.New("transient")
		}
		return rm.Handle(ctx, e)
	})
	m := Chain(flaky, WithLog(slog.Default()), SkipSeen())

	require.NoError(t, m.Handle(t.Context(), ev("a", "E1", 1)))
	require.NoError(t, m.Handle(t.Context(), ev("a", "E1", 1))) // redelivery
	require.Error(t, m.Handle(t.Context(), ev("a", "E2", 2)))
	require.NoError(t, m.Handle(t.Context(), ev("a", "E2", 2))) // retried after failure
	require.NoError(t, m.Handle(t.Context(), ev("b", "E1", 1))) // other aggregate

	require.Equal(t, []string{"E1", "E2", "E1"}, rm.handled)
}

type countingMetrics struct {
	ok, failed int
}

func (c *countingMetrics) HandleDuration(string) metrics.Timer { return metrics.NopTimer() }
func (c *countingMetrics) Handled(_ string, success bool) {
	if success {
		c.ok++
	} else {
		c.failed++
	}
}

func TestWithMetrics(t *testing.T) {
	cm := &countingMetrics{}
	m := Chain(Func(func(_ context.Context, e es.Event) error {
		if e.EventType == "Bad" {
			return errors.New("bad")
		}
		return nil
	}), WithMetrics(cm))

	require.NoError(t, m.Handle(t.Context(), ev("a", "Good", 1)))
	require.Error(t, m.Handle(t.Context(), ev("a", "Bad", 2)))
	require.Equal(t, 1, cm.ok)
	require.Equal(t, 1, cm.failed)
}
