// Package cache provides a generic, thread-safe LRU cache with always-on
// statistics and optional Prometheus metrics.
//
//	c, err := cache.NewLRU[*regexp.Regexp](100,
//	    cache.WithMetrics[*regexp.Regexp](registry, "jsonmatch"))
//	if re, ok := c.Get(pattern); ok { ... }
//	c.Set(pattern, compiled)
package cache
