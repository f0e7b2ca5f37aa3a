package es

import (
	"context"
	"log/slog"

	"github.com/codewandler/eventum-go/core/cache"
	"github.com/codewandler/eventum-go/core/perkey"
	"github.com/codewandler/eventum-go/core/sf"
)

const defaultDispatcherCacheSize = 1024

// BehaviorFactory creates the initial behavior of a new aggregate instance.
type BehaviorFactory[S any] func(id string) Behavior[S]

// Dispatcher hands out rehydrated aggregates by id. Commands against one id
// run one at a time, different ids run in parallel. Rehydrated instances are
// kept in an LRU; instances that became unusable are dropped and rebuilt
// from the journal on next use.
//
// A cache size below zero disables caching, so every call rehydrates.
type Dispatcher[S any] struct {
	conn        JournalConnector
	newBehavior BehaviorFactory[S]
	cfg         AggregateConfig
	opts        dispatcherOptions
	log         *slog.Logger

	cache cache.Cache[*Aggregate[S]]
	loads sf.Group[*Aggregate[S]]
	sched *perkey.Scheduler[string]
}

func NewDispatcher[S any](
	conn JournalConnector,
	newBehavior BehaviorFactory[S],
	cfg AggregateConfig,
	opts ...DispatcherOption,
) (*Dispatcher[S], error) {
	if conn == nil {
		return nil, &ConfigurationError{Reason: "journal connector is nil"}
	}
	if newBehavior == nil {
		return nil, &ConfigurationError{Reason: "behavior factory is nil"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	options := dispatcherOptions{
		aggregateOptions: defaultAggregateOptions(),
		cacheSize:        defaultDispatcherCacheSize,
	}
	for _, opt := range opts {
		opt.applyToDispatcher(&options)
	}

	d := &Dispatcher[S]{
		conn:        conn,
		newBehavior: newBehavior,
		cfg:         cfg,
		opts:        options,
		log:         options.log.With(slog.String("dispatcher", options.kind)),
		sched:       perkey.New[string](),
	}

	if options.cacheSize < 0 {
		d.cache = cache.NewNop[*Aggregate[S]]()
	} else {
		d.cache = cache.NewLRU(cache.LRUOpts[*Aggregate[S]]{
			Size: options.cacheSize,
			OnEvict: func(id string, _ *Aggregate[S]) {
				options.metrics.Evicted(options.kind)
				d.log.Debug("evicted", slog.String("id", id))
			},
		})
	}

	return d, nil
}

// Load returns the rehydrated aggregate for id. Concurrent loads of an id
// that is not cached share one rehydration.
func (d *Dispatcher[S]) Load(ctx context.Context, id string) (*Aggregate[S], error) {
	if a, ok := d.cache.Get(id); ok {
		if a.Err() == nil {
			d.opts.metrics.CacheHit(d.opts.kind)
			return a, nil
		}
		d.cache.Delete(id)
	}
	d.opts.metrics.CacheMiss(d.opts.kind)

	return d.loads.Do(id, func() (*Aggregate[S], error) {
		a, err := newAggregate(id, d.conn, d.newBehavior(id), d.cfg, d.opts.aggregateOptions)
		if err != nil {
			return nil, err
		}
		if err := a.Rehydrate(ctx); err != nil {
			return nil, err
		}
		d.cache.Put(id, a)
		return a, nil
	})
}

// Do runs fn with the aggregate for id. No other Do for the same id runs
// concurrently. If fn leaves the aggregate unusable, it is dropped.
func (d *Dispatcher[S]) Do(ctx context.Context, id string, fn func(context.Context, *Aggregate[S]) error) error {
	return d.sched.Do(ctx, id, func(ctx context.Context) error {
		a, err := d.Load(ctx, id)
		if err != nil {
			return err
		}
		err = fn(ctx, a)
		if aErr := a.Err(); aErr != nil {
			d.cache.Delete(id)
			d.log.Debug("dropped unusable aggregate", slog.String("id", id), slog.Any("error", aErr))
		}
		return err
	})
}

// Emit persists inputs against the aggregate id and returns the new state.
func (d *Dispatcher[S]) Emit(ctx context.Context, id string, inputs ...EventInput) (state S, err error) {
	err = d.Do(ctx, id, func(ctx context.Context, a *Aggregate[S]) (err error) {
		state, err = a.EmitAll(ctx, inputs)
		return
	})
	return
}

// State returns the current state of the aggregate id.
func (d *Dispatcher[S]) State(ctx context.Context, id string) (S, error) {
	a, err := d.Load(ctx, id)
	if err != nil {
		var zero S
		return zero, err
	}
	return a.State(), nil
}

// Close waits for running commands and rejects new ones.
func (d *Dispatcher[S]) Close() { d.sched.Close() }
