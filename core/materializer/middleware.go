package materializer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/codewandler/eventum-go/core/es"
	"github.com/codewandler/eventum-go/core/metrics"
)

// Metrics instruments event handling per event type.
type Metrics interface {
	HandleDuration(eventType string) metrics.Timer
	Handled(eventType string, success bool)
}

// WithMetrics records handling latency and outcome of every event.
func WithMetrics(m Metrics) Middleware {
	return func(next Materializer) Materializer {
		return Func(func(ctx context.Context, e es.Event) error {
			timer := m.HandleDuration(e.EventType)
			err := next.Handle(ctx, e)
			timer.ObserveDuration()
			m.Handled(e.EventType, err == nil)
			return err
		})
	}
}

// WithLog logs every handled event at debug and every failure at error.
func WithLog(log *slog.Logger, attrs ...any) Middleware {
	log = log.With(attrs...)
	return func(next Materializer) Materializer {
		return Func(func(ctx context.Context, e es.Event) error {
			handleAt := time.Now()
			err := next.Handle(ctx, e)
			if err != nil {
				log.Error("failed", e.SlogAttr(), slog.Any("error", err), slog.Duration("duration", time.Since(handleAt)))
			} else {
				log.Debug("handled", e.SlogAttr(), slog.Duration("duration", time.Since(handleAt)))
			}
			return err
		})
	}
}

// SkipSeen drops events at or below the highest sequence already handled
// for their aggregate. It turns redeliveries of an at-least-once transport
// into no-ops for the lifetime of the process. Failed events are not
// recorded, so they are retried on redelivery.
func SkipSeen() Middleware {
	var (
		mu   sync.Mutex
		seen = map[string]es.Sequence{}
	)
	return func(next Materializer) Materializer {
		return Func(func(ctx context.Context, e es.Event) error {
			mu.Lock()
			last := seen[e.AggregateID]
			mu.Unlock()
			if e.Sequence <= last {
				return nil
			}

			if err := next.Handle(ctx, e); err != nil {
				return err
			}

			mu.Lock()
			if e.Sequence > seen[e.AggregateID] {
				seen[e.AggregateID] = e.Sequence
			}
			mu.Unlock()
			return nil
		})
	}
}
