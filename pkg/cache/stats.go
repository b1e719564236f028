package cache

import (
	"sync/atomic"
)

// Statistics counts cache operations.
type Statistics struct {
	hits      atomic.Int64
	misses    atomic.Int64
	sets      atomic.Int64
	evictions atomic.Int64
}

// Hits returns the number of successful lookups.
func (s *Statistics) Hits() int64 { return s.hits.Load() }

// Misses returns the number of failed lookups.
func (s *Statistics) Misses() int64 { return s.misses.Load() }

// Sets returns the number of stores.
func (s *Statistics) Sets() int64 { return s.sets.Load() }

// Evictions returns the number of entries dropped for capacity.
func (s *Statistics) Evictions() int64 { return s.evictions.Load() }

// HitRatio returns hits / (hits + misses), or 0 before any lookup.
func (s *Statistics) HitRatio() float64 {
	hits, misses := s.Hits(), s.Misses()
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}
