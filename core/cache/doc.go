// Package cache provides a small typed key-value cache with LRU eviction and
// optional per-entry TTL.
//
//	c := cache.NewLRU[*Handle](cache.LRUOpts{Size: 1000})
//	c.Put("user:123", h, cache.WithTTL(5*time.Minute))
//	if h, ok := c.Get("user:123"); ok {
//	    // use h
//	}
//
// Expired entries are dropped lazily when they are looked up or pushed out.
package cache
