// Package sf is a typed wrapper around golang.org/x/sync/singleflight.
//
// Concurrent calls of [Group.Do] with the same key share one execution of
// fn. It keeps concurrent loads of the same aggregate from hitting the
// journal more than once:
//
//	var g sf.Group[*Handle]
//	h, err := g.Do(id, func() (*Handle, error) {
//	    return load(ctx, id)
//	})
package sf
