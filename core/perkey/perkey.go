// Package perkey runs work serially per key while different keys proceed in
// parallel. The dispatcher uses it so that commands against one aggregate
// never overlap.
package perkey

import (
	"context"
	"errors"
	"sync"
)

var ErrSchedulerClosed = errors.New("scheduler is closed")

// Scheduler serializes calls per key. Waiting callers of one key run in
// arrival order. Keys without pending work hold no resources.
type Scheduler[K comparable] struct {
	mu     sync.Mutex
	keys   map[K]*keyLock
	closed bool
	wg     sync.WaitGroup // in-flight Do calls
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

func New[K comparable]() *Scheduler[K] {
	return &Scheduler[K]{keys: make(map[K]*keyLock)}
}

// Do runs fn once every earlier call for key has returned. If ctx ends while
// waiting, fn is not run and the context error is returned.
func (s *Scheduler[K]) Do(ctx context.Context, key K, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l, err := s.acquire(key)
	if err != nil {
		return err
	}
	defer s.release(key, l)

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-l.sem }()

	return fn(ctx)
}

// Len returns the number of keys with pending or running work.
func (s *Scheduler[K]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}

// Close rejects new work and waits for in-flight calls to finish.
func (s *Scheduler[K]) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler[K]) acquire(key K) (*keyLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSchedulerClosed
	}
	l, ok := s.keys[key]
	if !ok {
		l = &keyLock{sem: make(chan struct{}, 1)}
		s.keys[key] = l
	}
	l.refs++
	s.wg.Add(1)
	return l, nil
}

func (s *Scheduler[K]) release(key K, l *keyLock) {
	s.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(s.keys, key)
	}
	s.mu.Unlock()
	s.wg.Done()
}
