package cache

import (
	"container/list"
	"sync"
	"time"
)

type LRUOpts[V any] struct {
	Size int
	// OnEvict is called for entries pushed out by capacity or expiry, not
	// for explicit deletes. It runs with the cache lock released.
	OnEvict func(key string, val V)
}

type entry[V any] struct {
	key       string
	val       V
	expiresAt time.Time
}

func (e *entry[V]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

type LRU[V any] struct {
	mu      sync.Mutex
	size    int
	ll      *list.List
	items   map[string]*list.Element
	onEvict func(string, V)
	now     func() time.Time
}

func NewLRU[V any](opts LRUOpts[V]) *LRU[V] {
	if opts.Size <= 0 {
		opts.Size = 128
	}
	return &LRU[V]{
		size:    opts.Size,
		ll:      list.New(),
		items:   make(map[string]*list.Element),
		onEvict: opts.OnEvict,
		now:     time.Now,
	}
}

func (l *LRU[V]) Get(key string) (val V, ok bool) {
	l.mu.Lock()
	ele, ok := l.items[key]
	if !ok {
		l.mu.Unlock()
		return val, false
	}
	e := ele.Value.(*entry[V])
	if e.expired(l.now()) {
		l.removeLocked(ele)
		l.mu.Unlock()
		l.evicted(e)
		return val, false
	}
	l.ll.MoveToFront(ele)
	l.mu.Unlock()
	return e.val, true
}

func (l *LRU[V]) Put(key string, val V, opts ...PutOption) {
	var po PutOptions
	for _, opt := range opts {
		opt(&po)
	}
	var expiresAt time.Time
	if po.TTL > 0 {
		expiresAt = l.now().Add(po.TTL)
	}

	l.mu.Lock()
	if ele, ok := l.items[key]; ok {
		e := ele.Value.(*entry[V])
		e.val = val
		e.expiresAt = expiresAt
		l.ll.MoveToFront(ele)
		l.mu.Unlock()
		return
	}

	l.items[key] = l.ll.PushFront(&entry[V]{key: key, val: val, expiresAt: expiresAt})
	var out *entry[V]
	if l.ll.Len() > l.size {
		if last := l.ll.Back(); last != nil {
			out = last.Value.(*entry[V])
			l.removeLocked(last)
		}
	}
	l.mu.Unlock()

	if out != nil {
		l.evicted(out)
	}
}

func (l *LRU[V]) Delete(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ele, ok := l.items[key]; ok {
		l.removeLocked(ele)
	}
}

func (l *LRU[V]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ll.Len()
}

func (l *LRU[V]) removeLocked(ele *list.Element) {
	l.ll.Remove(ele)
	delete(l.items, ele.Value.(*entry[V]).key)
}

func (l *LRU[V]) evicted(e *entry[V]) {
	if l.onEvict != nil {
		l.onEvict(e.key, e.val)
	}
}

var _ Cache[any] = (*LRU[any])(nil)
