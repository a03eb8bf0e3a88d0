// internal/service/sampler.go
package service

import (
	"sync"
	"time"
)

// sampler rate limits periodic log lines per key.
type sampler struct {
	mu        sync.Mutex
	intervals map[string]time.Duration
	last      map[string]time.Time
}

func newSampler(intervals map[string]time.Duration) *sampler {
	return &sampler{intervals: intervals, last: make(map[string]time.Time)}
}

// due reports whether key may be logged at now, and if so restarts its
// interval. Keys without a positive interval are never due.
func (s *sampler) due(key string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	interval := s.intervals[key]
	if interval <= 0 {
		return false
	}
	if last, ok := s.last[key]; ok && now.Sub(last) < interval {
		return false
	}
	s.last[key] = now
	return true
}
