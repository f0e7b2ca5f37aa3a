// Package materializer is the boundary for downstream projections. A
// materializer turns persisted events into read models; the aggregate
// runtime never calls one directly. Delivery is up to the transport, see
// the nats adapter.
package materializer

import (
	"context"

	"github.com/codewandler/eventum-go/core/es"
)

type (
	Materializer interface {
		Handle(ctx context.Context, e es.Event) error
	}
	Func       func(ctx context.Context, e es.Event) error
	Middleware func(next Materializer) Materializer
)

func (f Func) Handle(ctx context.Context, e es.Event) error { return f(ctx, e) }

// Chain wraps m with the middlewares; the first one runs outermost.
func Chain(m Materializer, mws ...Middleware) Materializer {
	for i := len(mws) - 1; i >= 0; i-- {
		m = mws[i](m)
	}
	return m
}

// Multi hands each event to all materializers in order and stops at the
// first error.
func Multi(ms ...Materializer) Materializer {
	return Func(func(ctx context.Context, e es.Event) error {
		for _, m := range ms {
			if err := m.Handle(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

// Filter only passes events of the given types.
func Filter(eventTypes ...string) Middleware {
	allowed := make(map[string]struct{}, len(eventTypes))
	for _, t := range eventTypes {
		allowed[t] = struct{}{}
	}
	return func(next Materializer) Materializer {
		return Func(func(ctx context.Context, e es.Event) error {
			if _, ok := allowed[e.EventType]; !ok {
				return nil
			}
			return next.Handle(ctx, e)
		})
	}
}
