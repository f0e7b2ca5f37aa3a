package cache

// Nop never stores anything.
type Nop[V any] struct{}

func (Nop[V]) Get(string) (v V, ok bool)   { return v, false }
func (Nop[V]) Put(string, V, ...PutOption) {}
func (Nop[V]) Delete(string)               {}
func (Nop[V]) Len() int                    { return 0 }

func NewNop[V any]() Nop[V] { return Nop[V]{} }

var _ Cache[any] = Nop[any]{}
