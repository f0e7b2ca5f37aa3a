package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLRU_Basic(t *testing.T) {
	l := NewLRU(LRUOpts[int]{Size: 2})

	l.Put("a", 1)
	l.Put("b", 2)

	val, ok := l.Get("a")
	require.True(t, ok)
	require.Equal(t, 1, val)

	l.Put("c", 3) // evicts "b"

	_, ok = l.Get("b")
	require.False(t, ok)

	val, ok = l.Get("c")
	require.True(t, ok)
	require.Equal(t, 3, val)
	require.Equal(t, 2, l.Len())
}

func TestLRU_Update(t *testing.T) {
	l := NewLRU(LRUOpts[int]{Size: 2})

	l.Put("a", 1)
	l.Put("a", 2)

	val, ok := l.Get("a")
	require.True(t, ok)
	require.Equal(t, 2, val)
	require.Equal(t, 1, l.Len())
}

func TestLRU_OnEvict(t *testing.T) {
	var evicted []string
	l := NewLRU(LRUOpts[int]{
		Size:    2,
		OnEvict: func(key string, _ int) { evicted = append(evicted, key) },
	})

	l.Put("a", 1)
	l.Put("b", 2)
	l.Get("a")
	l.Put("c", 3)
	l.Delete("a")

	require.Equal(t, []string{"b"}, evicted)
}

func TestLRU_Delete(t *testing.T) {
	l := NewLRU(LRUOpts[int]{Size: 2})

	l.Put("a", 1)
	l.Put("b", 2)
	l.Delete("a")
	l.Delete("nonexistent")

	_, ok := l.Get("a")
	require.False(t, ok)

	val, ok := l.Get("b")
	require.True(t, ok)
	require.Equal(t, 2, val)
}

func TestLRU_TTL(t *testing.T) {
	now := time.Now()
	l := NewLRU(LRUOpts[int]{Size: 2})
	l.now = func() time.Time { return now }

	l.Put("a", 1, WithTTL(50*time.Millisecond))
	l.Put("b", 2)

	_, ok := l.Get("a")
	require.True(t, ok)

	now = now.Add(60 * time.Millisecond)

	_, ok = l.Get("a")
	require.False(t, ok)

	_, ok = l.Get("b")
	require.True(t, ok)
}

func TestLRU_Concurrent(t *testing.T) {
	l := NewLRU(LRUOpts[int]{Size: 100})

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 1000 {
				l.Put("key", i*j)
				l.Get("key")
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, l.Len())
}

func TestNop(t *testing.T) {
	n := NewNop[int]()
	n.Put("a", 1)
	_, ok := n.Get("a")
	require.False(t, ok)
	require.Zero(t, n.Len())
}
